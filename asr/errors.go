package asr

import (
	"errors"
	"fmt"
)

// Kind classifies session failures so the caller can decide whether a
// retry makes sense. Connection and Timeout failures are transient;
// Auth and Protocol failures will repeat until something changes.
type Kind int

const (
	KindConnection Kind = iota
	KindProtocol
	KindAuth
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindProtocol:
		return "protocol"
	case KindAuth:
		return "auth"
	case KindTimeout:
		return "timeout"
	}
	return "unknown"
}

type Error struct {
	Kind      Kind
	SessionID string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("asr session %s: %s error: %v", e.SessionID, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether err is a transient failure worth a reconnect.
func Retryable(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == KindConnection || se.Kind == KindTimeout
	}
	return false
}

// IsAuth reports whether err is a credential rejection.
func IsAuth(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == KindAuth
	}
	return false
}
