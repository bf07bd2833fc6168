//go:build !linux

// Package screenlock watches the desktop session for screen lock and
// unlock, so dictation can be paused while the screen is locked.
package screenlock

// Monitor is inert off Linux: lock detection rides on the session
// D-Bus, which only exists there.
type Monitor struct{}

func Watch(onChange func(locked bool)) (*Monitor, error) {
	return &Monitor{}, nil
}

func (m *Monitor) Close() {}
