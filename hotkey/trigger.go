package hotkey

import (
	"sync"
	"time"
)

// Intent is a user request derived from trigger key activity.
type Intent int

const (
	IntentStart Intent = iota
	IntentStop
)

func (i Intent) String() string {
	if i == IntentStart {
		return "start"
	}
	return "stop"
}

// Presses closer together than this are treated as key bounce in toggle
// mode and ignored.
const tapDebounce = 100 * time.Millisecond

// Trigger turns raw key events into start/stop intents. In push-to-talk
// mode keydown starts and keyup stops; a release without a matching
// press is ignored. In toggle mode each press alternates between start
// and stop and releases carry no meaning. A suspended trigger ignores
// key activity until resumed.
type Trigger struct {
	intents chan Intent
	suspend chan bool
	stop    chan struct{}
	once    sync.Once
}

func NewTrigger(hk Hotkey, toggle bool) *Trigger {
	return newTrigger(hk, toggle, tapDebounce)
}

func newTrigger(hk Hotkey, toggle bool, debounce time.Duration) *Trigger {
	t := &Trigger{
		intents: make(chan Intent, 4),
		suspend: make(chan bool),
		stop:    make(chan struct{}),
	}
	go t.run(hk, toggle, debounce)
	return t
}

func (t *Trigger) Intents() <-chan Intent { return t.intents }

// Suspend makes the trigger ignore key events, stopping any dictation
// in progress first. Used while the screen is locked.
func (t *Trigger) Suspend() { t.setSuspended(true) }

// Resume re-enables key events after a Suspend.
func (t *Trigger) Resume() { t.setSuspended(false) }

func (t *Trigger) setSuspended(v bool) {
	select {
	case t.suspend <- v:
	case <-t.stop:
	}
}

func (t *Trigger) Close() {
	t.once.Do(func() { close(t.stop) })
}

func (t *Trigger) run(hk Hotkey, toggle bool, debounce time.Duration) {
	var active bool
	var suspended bool
	var lastPress time.Time

	for {
		select {
		case <-t.stop:
			return
		case susp := <-t.suspend:
			if susp && active {
				active = false
				t.emit(IntentStop)
			}
			suspended = susp
		case <-hk.Keydown():
			if suspended {
				continue
			}
			if toggle {
				now := time.Now()
				if now.Sub(lastPress) < debounce {
					continue
				}
				lastPress = now
				if active {
					active = false
					t.emit(IntentStop)
				} else {
					active = true
					t.emit(IntentStart)
				}
				continue
			}
			if !active {
				active = true
				t.emit(IntentStart)
			}
		case <-hk.Keyup():
			if suspended {
				continue
			}
			if !toggle && active {
				active = false
				t.emit(IntentStop)
			}
		}
	}
}

// emit blocks until the consumer takes the intent. Dropping one would
// desynchronize the start/stop alternation, leaving capture running
// after a lost stop.
func (t *Trigger) emit(i Intent) {
	select {
	case t.intents <- i:
	case <-t.stop:
	}
}
