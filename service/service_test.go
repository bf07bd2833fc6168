package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"windvox/asr"
	"windvox/audio"
	"windvox/hotkey"
)

type fakeRecorder struct {
	startErr error

	chunks   chan audio.Chunk
	errs     chan error
	stopOnce sync.Once
	total    atomic.Uint64
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{
		chunks: make(chan audio.Chunk, 16),
		errs:   make(chan error, 1),
	}
}

func (f *fakeRecorder) Start() error { return f.startErr }

func (f *fakeRecorder) Stop() {
	f.stopOnce.Do(func() { close(f.chunks) })
}

func (f *fakeRecorder) Chunks() <-chan audio.Chunk { return f.chunks }
func (f *fakeRecorder) Errors() <-chan error       { return f.errs }
func (f *fakeRecorder) Level() float64             { return 0 }
func (f *fakeRecorder) Overruns() uint64           { return 0 }
func (f *fakeRecorder) TotalBytes() uint64         { return f.total.Load() }

func (f *fakeRecorder) feed(data []byte) {
	f.chunks <- audio.Chunk{Data: data, Time: time.Now()}
	f.total.Add(uint64(len(data)))
}

func (f *fakeRecorder) fail(err error) { f.errs <- err }

// fakeSession either fails before touching the audio (failFast, a
// connect-stage failure) or consumes chunks until close and then emits
// its scripted finals.
type fakeSession struct {
	id       string
	failFast bool
	err      error
	finals   []string

	events chan asr.Event
	mu     sync.Mutex
	stats  asr.Stats
}

func newFakeSession(id string) *fakeSession {
	return &fakeSession{id: id, events: make(chan asr.Event, 16)}
}

func (f *fakeSession) Run(ctx context.Context, chunks <-chan audio.Chunk) error {
	defer close(f.events)
	if f.failFast {
		return f.err
	}
	for c := range chunks {
		f.mu.Lock()
		f.stats.SentChunks++
		f.stats.SentBytes += len(c.Data)
		f.mu.Unlock()
	}
	for i, text := range f.finals {
		f.events <- asr.Event{Text: text, IsFinal: true, Seq: uint64(i + 1)}
	}
	return f.err
}

func (f *fakeSession) Events() <-chan asr.Event { return f.events }

func (f *fakeSession) Stats() asr.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fakeSession) SessionID() string { return f.id }

type fakeInjector struct {
	mu    sync.Mutex
	err   error
	texts []string
}

func (f *fakeInjector) Reset() {}

func (f *fakeInjector) Inject(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeInjector) injected() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type recordingSink struct {
	mu       sync.Mutex
	statuses []Status
	notices  []string
}

func (r *recordingSink) StatusChanged(s Status) {
	r.mu.Lock()
	r.statuses = append(r.statuses, s)
	r.mu.Unlock()
}

func (r *recordingSink) Partial(string)     {}
func (r *recordingSink) Final(string)       {}
func (r *recordingSink) AudioLevel(float64) {}

func (r *recordingSink) Notice(text string) {
	r.mu.Lock()
	r.notices = append(r.notices, text)
	r.mu.Unlock()
}

func (r *recordingSink) sawStatus(s Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.statuses {
		if st == s {
			return true
		}
	}
	return false
}

type harness struct {
	svc      *Service
	intents  chan hotkey.Intent
	injector *fakeInjector
	sink     *recordingSink

	recorders    []*fakeRecorder
	recorderIdx  atomic.Int32
	sessions     []*fakeSession
	sessionCalls atomic.Int32
}

func newHarness(t *testing.T, recorders []*fakeRecorder, sessions []*fakeSession) *harness {
	t.Helper()
	h := &harness{
		intents:   make(chan hotkey.Intent, 8),
		injector:  &fakeInjector{},
		sink:      &recordingSink{},
		recorders: recorders,
		sessions:  sessions,
	}
	h.svc = New(Options{
		MaxRetries:  3,
		BackoffBase: time.Millisecond,
		BackoffCap:  4 * time.Millisecond,
		NewRecorder: func() (Recorder, error) {
			i := int(h.recorderIdx.Add(1)) - 1
			if i >= len(h.recorders) {
				return nil, errors.New("no recorder scripted")
			}
			return h.recorders[i], nil
		},
		NewSession: func() Session {
			i := int(h.sessionCalls.Add(1)) - 1
			if i >= len(h.sessions) {
				panic(fmt.Sprintf("unscripted session %d", i))
			}
			return h.sessions[i]
		},
		Injector: h.injector,
		Sink:     h.sink,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.svc.Run(ctx, h.intents)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("service loop did not exit")
		}
	})
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDictationHappyPath(t *testing.T) {
	rec := newFakeRecorder()
	sess := newFakeSession("s1")
	sess.finals = []string{"hello", "world"}
	h := newHarness(t, []*fakeRecorder{rec}, []*fakeSession{sess})

	h.intents <- hotkey.IntentStart
	waitFor(t, "recording", func() bool { return h.svc.Status() == StatusRecording })

	rec.feed([]byte("aaaa"))
	h.intents <- hotkey.IntentStop
	waitFor(t, "idle", func() bool { return h.svc.Status() == StatusIdle })

	if !h.sink.sawStatus(StatusProcessing) {
		t.Error("never reached processing")
	}
	got := h.injector.injected()
	if len(got) != 2 || got[0] != "hello" || got[1] != "world" {
		t.Errorf("injected = %q, want [hello world]", got)
	}
	if h.svc.Sessions() != 1 {
		t.Errorf("Sessions = %d, want 1", h.svc.Sessions())
	}
}

func TestStartWhileBusyIgnored(t *testing.T) {
	rec := newFakeRecorder()
	sess := newFakeSession("s1")
	h := newHarness(t, []*fakeRecorder{rec}, []*fakeSession{sess})

	h.intents <- hotkey.IntentStart
	waitFor(t, "recording", func() bool { return h.svc.Status() == StatusRecording })

	h.intents <- hotkey.IntentStart
	h.intents <- hotkey.IntentStop
	waitFor(t, "idle", func() bool { return h.svc.Status() == StatusIdle })

	if n := h.recorderIdx.Load(); n != 1 {
		t.Errorf("recorder opened %d times, want 1", n)
	}
	if n := h.sessionCalls.Load(); n != 1 {
		t.Errorf("sessions created %d times, want 1", n)
	}
}

func TestStopWithoutActiveIgnored(t *testing.T) {
	h := newHarness(t, nil, nil)

	h.intents <- hotkey.IntentStop
	time.Sleep(50 * time.Millisecond)
	if h.svc.Status() != StatusIdle {
		t.Errorf("status = %v, want idle", h.svc.Status())
	}
}

func TestSessionErrorThenTriggerClears(t *testing.T) {
	rec1, rec2 := newFakeRecorder(), newFakeRecorder()
	bad := newFakeSession("s1")
	bad.failFast = true
	bad.err = &asr.Error{Kind: asr.KindProtocol, SessionID: "s1", Err: errors.New("bad frame")}
	good := newFakeSession("s2")
	h := newHarness(t, []*fakeRecorder{rec1, rec2}, []*fakeSession{bad, good})

	h.intents <- hotkey.IntentStart
	waitFor(t, "error state", func() bool { return h.svc.Status() == StatusError })

	// First press only clears the error.
	h.intents <- hotkey.IntentStart
	waitFor(t, "idle after clear", func() bool { return h.svc.Status() == StatusIdle })
	if n := h.recorderIdx.Load(); n != 1 {
		t.Fatalf("recorder opened %d times after clear, want 1", n)
	}

	// Second press starts a fresh dictation.
	h.intents <- hotkey.IntentStart
	waitFor(t, "recording again", func() bool { return h.svc.Status() == StatusRecording })
	h.intents <- hotkey.IntentStop
	waitFor(t, "idle again", func() bool { return h.svc.Status() == StatusIdle })
}

func TestConnectRetryThenSuccess(t *testing.T) {
	rec := newFakeRecorder()
	fail1 := newFakeSession("s1")
	fail1.failFast = true
	fail1.err = &asr.Error{Kind: asr.KindConnection, SessionID: "s1", Err: errors.New("refused")}
	fail2 := newFakeSession("s2")
	fail2.failFast = true
	fail2.err = &asr.Error{Kind: asr.KindTimeout, SessionID: "s2", Err: errors.New("timeout")}
	good := newFakeSession("s3")
	good.finals = []string{"finally"}
	h := newHarness(t, []*fakeRecorder{rec}, []*fakeSession{fail1, fail2, good})

	h.intents <- hotkey.IntentStart
	waitFor(t, "third attempt", func() bool { return h.sessionCalls.Load() == 3 })

	rec.feed([]byte("aaaa"))
	h.intents <- hotkey.IntentStop
	waitFor(t, "idle", func() bool { return h.svc.Status() == StatusIdle })

	got := h.injector.injected()
	if len(got) != 1 || got[0] != "finally" {
		t.Errorf("injected = %q, want [finally]", got)
	}
}

func TestAuthErrorNotRetried(t *testing.T) {
	rec := newFakeRecorder()
	bad := newFakeSession("s1")
	bad.failFast = true
	bad.err = &asr.Error{Kind: asr.KindAuth, SessionID: "s1", Err: errors.New("401")}
	h := newHarness(t, []*fakeRecorder{rec}, []*fakeSession{bad})

	h.intents <- hotkey.IntentStart
	waitFor(t, "error state", func() bool { return h.svc.Status() == StatusError })

	if n := h.sessionCalls.Load(); n != 1 {
		t.Errorf("sessions created %d times, want 1 (no retry on auth)", n)
	}
}

func TestMidStreamFailureNotRetried(t *testing.T) {
	rec := newFakeRecorder()
	sess := newFakeSession("s1")
	sess.err = &asr.Error{Kind: asr.KindConnection, SessionID: "s1", Err: errors.New("dropped")}
	h := newHarness(t, []*fakeRecorder{rec}, []*fakeSession{sess})

	h.intents <- hotkey.IntentStart
	waitFor(t, "recording", func() bool { return h.svc.Status() == StatusRecording })
	rec.feed([]byte("aaaa"))
	h.intents <- hotkey.IntentStop

	// Audio was consumed, so the retryable kind must not reconnect.
	waitFor(t, "error state", func() bool { return h.svc.Status() == StatusError })
	if n := h.sessionCalls.Load(); n != 1 {
		t.Errorf("sessions created %d times, want 1", n)
	}
}

func TestCaptureOpenFailure(t *testing.T) {
	rec := newFakeRecorder()
	rec.startErr = errors.New("device busy")
	h := newHarness(t, []*fakeRecorder{rec}, nil)

	h.intents <- hotkey.IntentStart
	waitFor(t, "error state", func() bool { return h.svc.Status() == StatusError })

	if n := h.sessionCalls.Load(); n != 0 {
		t.Errorf("session created despite capture failure")
	}
}

func TestCaptureFailureMidRecording(t *testing.T) {
	rec := newFakeRecorder()
	sess := newFakeSession("s1")
	h := newHarness(t, []*fakeRecorder{rec}, []*fakeSession{sess})

	h.intents <- hotkey.IntentStart
	waitFor(t, "recording", func() bool { return h.svc.Status() == StatusRecording })

	rec.fail(errors.New("mic unplugged"))
	waitFor(t, "error state", func() bool { return h.svc.Status() == StatusError })
}

func TestInjectionFailureDoesNotFailSession(t *testing.T) {
	rec := newFakeRecorder()
	sess := newFakeSession("s1")
	sess.finals = []string{"dropped on the floor"}
	h := newHarness(t, []*fakeRecorder{rec}, []*fakeSession{sess})
	h.injector.err = errors.New("uinput gone")

	h.intents <- hotkey.IntentStart
	waitFor(t, "recording", func() bool { return h.svc.Status() == StatusRecording })
	h.intents <- hotkey.IntentStop
	waitFor(t, "idle", func() bool { return h.svc.Status() == StatusIdle })

	h.sink.mu.Lock()
	var sawInjectNotice bool
	for _, n := range h.sink.notices {
		if n != "" && n != "no speech detected" {
			sawInjectNotice = true
		}
	}
	h.sink.mu.Unlock()
	if !sawInjectNotice {
		t.Error("expected an injection failure notice")
	}
}
