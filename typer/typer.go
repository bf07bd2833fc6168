// Package typer injects recognized text into the focused window as
// synthetic keystrokes.
package typer

import (
	"sync"
	"time"
)

// Injector is what the recording pipeline needs from text injection.
type Injector interface {
	Reset()
	Inject(text string) error
}

// Typer writes text segments in the order Inject is called. Segments
// after the first one in a dictation are separated by a single space so
// consecutive results read as one utterance.
type Typer struct {
	delay time.Duration

	mu       sync.Mutex
	injected bool
	typeText func(text string, delay time.Duration) error
}

// New builds a Typer backed by the platform keystroke writer. delay is
// inserted between individual keystrokes; zero means full speed.
func New(delay time.Duration) *Typer {
	return newTyper(delay, typeText)
}

func newTyper(delay time.Duration, fn func(string, time.Duration) error) *Typer {
	return &Typer{delay: delay, typeText: fn}
}

// Reset marks the start of a new dictation so the next segment is not
// prefixed with a separator.
func (t *Typer) Reset() {
	t.mu.Lock()
	t.injected = false
	t.mu.Unlock()
}

// Inject types one text segment. Calls are serialized; a failure leaves
// the separator state untouched so a retry does not double-space.
func (t *Typer) Inject(text string) error {
	if text == "" {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	out := text
	if t.injected {
		out = " " + text
	}
	if err := t.typeText(out, t.delay); err != nil {
		return err
	}
	t.injected = true
	return nil
}
