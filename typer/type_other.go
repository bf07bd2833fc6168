//go:build !linux && !darwin

package typer

import (
	"sync"
	"time"

	cb "github.com/atotto/clipboard"
	"github.com/micmonay/keybd_event"
)

var (
	kb     keybd_event.KeyBonding
	kbOnce sync.Once
	kbErr  error
)

func initBinding() error {
	kbOnce.Do(func() {
		kb, kbErr = keybd_event.NewKeyBonding()
	})
	return kbErr
}

// typeText goes through the clipboard and a synthesized Ctrl+V. The
// paste is one chord, not per-character synthesis, so the keystroke
// delay has nothing to pace on this path.
func typeText(text string, delay time.Duration) error {
	if err := initBinding(); err != nil {
		return err
	}
	if err := cb.WriteAll(text); err != nil {
		return err
	}
	kb.SetKeys(keybd_event.VK_V)
	kb.HasCTRL(true)
	return kb.Launching()
}

// Verify checks that the keyboard event binding is initialized.
func Verify() (string, error) {
	if err := initBinding(); err != nil {
		return "", err
	}
	return "keyboard event binding OK (Ctrl+V)", nil
}
