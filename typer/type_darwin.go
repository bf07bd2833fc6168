//go:build darwin

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

// typeText goes through the clipboard: per-character synthesis is not
// reliable across layouts here, and Cmd+V lands in any focused field.
func typeText(text string, delay time.Duration) error {
	if err := initBinding(); err != nil {
		return err
	}
	if err := cb.WriteAll(text); err != nil {
		return err
	}
	kb.SetKeys(keybd_event.VK_V)
	kb.HasSuper(true) // Cmd+V
	return kb.Launching()
}

// Verify checks that the keyboard event binding is initialized.
func Verify() (string, error) {
	if err := initBinding(); err != nil {
		return "", err
	}
	return "keyboard event binding OK (Cmd+V)", nil
}
