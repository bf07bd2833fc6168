//go:build !linux

package hotkey

import (
	"fmt"
	"strings"

	"golang.design/x/hotkey"
)

var keyNames = map[string]hotkey.Key{
	"esc":   hotkey.KeyEscape,
	"f1":    hotkey.KeyF1,
	"f2":    hotkey.KeyF2,
	"f3":    hotkey.KeyF3,
	"f4":    hotkey.KeyF4,
	"f5":    hotkey.KeyF5,
	"f6":    hotkey.KeyF6,
	"f7":    hotkey.KeyF7,
	"f8":    hotkey.KeyF8,
	"f9":    hotkey.KeyF9,
	"f10":   hotkey.KeyF10,
	"f11":   hotkey.KeyF11,
	"f12":   hotkey.KeyF12,
	"space": hotkey.KeySpace,
}

type xHotkey struct {
	hk      *hotkey.Hotkey
	keydown chan struct{}
	keyup   chan struct{}
}

func New(key string) (Hotkey, error) {
	k, ok := keyNames[strings.ToLower(key)]
	if !ok {
		return nil, fmt.Errorf("unsupported trigger key %q", key)
	}
	return &xHotkey{
		hk:      hotkey.New(nil, k),
		keydown: make(chan struct{}, 1),
		keyup:   make(chan struct{}, 1),
	}, nil
}

func (h *xHotkey) Register() error {
	if err := h.hk.Register(); err != nil {
		return err
	}
	go func() {
		for {
			<-h.hk.Keydown()
			select {
			case h.keydown <- struct{}{}:
			default:
			}
		}
	}()
	go func() {
		for {
			<-h.hk.Keyup()
			select {
			case h.keyup <- struct{}{}:
			default:
			}
		}
	}()
	return nil
}

func (h *xHotkey) Unregister() {
	h.hk.Unregister()
}

func (h *xHotkey) Keydown() <-chan struct{} {
	return h.keydown
}

func (h *xHotkey) Keyup() <-chan struct{} {
	return h.keyup
}

func Diagnose() (string, error) {
	return "global hotkey support available", nil
}
