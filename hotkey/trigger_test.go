package hotkey

import (
	"testing"
	"time"
)

func expectIntent(t *testing.T, tr *Trigger, want Intent) {
	t.Helper()
	select {
	case got := <-tr.Intents():
		if got != want {
			t.Fatalf("intent = %v, want %v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %v intent", want)
	}
}

func expectNoIntent(t *testing.T, tr *Trigger) {
	t.Helper()
	select {
	case got := <-tr.Intents():
		t.Fatalf("unexpected intent %v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPushToTalk(t *testing.T) {
	hk := NewFake()
	tr := newTrigger(hk, false, 0)
	defer tr.Close()

	hk.SimKeydown()
	expectIntent(t, tr, IntentStart)
	hk.SimKeyup()
	expectIntent(t, tr, IntentStop)

	hk.SimKeydown()
	expectIntent(t, tr, IntentStart)
	hk.SimKeyup()
	expectIntent(t, tr, IntentStop)
}

func TestPushToTalkStrayKeyup(t *testing.T) {
	hk := NewFake()
	tr := newTrigger(hk, false, 0)
	defer tr.Close()

	hk.SimKeyup()
	expectNoIntent(t, tr)

	hk.SimKeydown()
	expectIntent(t, tr, IntentStart)
}

func TestToggleAlternates(t *testing.T) {
	hk := NewFake()
	tr := newTrigger(hk, true, 0)
	defer tr.Close()

	hk.SimKeydown()
	expectIntent(t, tr, IntentStart)
	hk.SimKeyup()
	expectNoIntent(t, tr)

	hk.SimKeydown()
	expectIntent(t, tr, IntentStop)
	hk.SimKeyup()
	expectNoIntent(t, tr)
}

func TestBurstNotDropped(t *testing.T) {
	hk := NewFake()
	tr := newTrigger(hk, true, 0)
	defer tr.Close()

	// More presses than the intent buffer holds, with a lagging
	// consumer. Every press must still come through; a lost stop
	// would leave capture running.
	const presses = 10
	go func() {
		for i := 0; i < presses; i++ {
			hk.SimKeydown()
		}
	}()

	time.Sleep(20 * time.Millisecond)

	for i := 0; i < presses; i++ {
		want := IntentStart
		if i%2 == 1 {
			want = IntentStop
		}
		expectIntent(t, tr, want)
	}
	expectNoIntent(t, tr)
}

func TestSuspendStopsActiveDictation(t *testing.T) {
	hk := NewFake()
	tr := newTrigger(hk, false, 0)
	defer tr.Close()

	hk.SimKeydown()
	expectIntent(t, tr, IntentStart)

	tr.Suspend()
	expectIntent(t, tr, IntentStop)

	// Key activity is inert while suspended.
	hk.SimKeydown()
	expectNoIntent(t, tr)
	hk.SimKeyup()
	expectNoIntent(t, tr)

	tr.Resume()
	hk.SimKeydown()
	expectIntent(t, tr, IntentStart)
}

func TestSuspendIdle(t *testing.T) {
	hk := NewFake()
	tr := newTrigger(hk, true, 0)
	defer tr.Close()

	// Suspending with nothing active emits no stop.
	tr.Suspend()
	expectNoIntent(t, tr)
	hk.SimKeydown()
	expectNoIntent(t, tr)

	tr.Resume()
	hk.SimKeydown()
	expectIntent(t, tr, IntentStart)
}

func TestToggleDebounce(t *testing.T) {
	hk := NewFake()
	tr := newTrigger(hk, true, time.Hour)
	defer tr.Close()

	hk.SimKeydown()
	expectIntent(t, tr, IntentStart)

	// A second press inside the debounce window is swallowed.
	hk.SimKeydown()
	expectNoIntent(t, tr)
}
