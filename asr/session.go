package asr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"windvox/audio"
	"windvox/protocol"
)

// State is the session lifecycle. Closed and Errored are terminal.
type State int32

const (
	StateConnecting State = iota
	StateStreaming
	StateDraining
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	}
	return "unknown"
}

// Event is one recognition update. Final events carry newly committed
// text that is safe to inject; non-final events are transient previews
// of the still-unstable hypothesis. Seq is strictly increasing within a
// session.
type Event struct {
	Text       string
	IsFinal    bool
	Seq        uint64
	Confidence float64
}

// Stats summarizes one session for the metrics log. SentChunks counts
// chunks consumed from the input queue, whether or not the write
// completed; consumed audio cannot be replayed by a retry.
type Stats struct {
	ConnectDur time.Duration
	DrainDur   time.Duration
	TotalDur   time.Duration
	SentChunks int
	SentBytes  int
	RecvEvents int
	RecvFinal  int
}

// Config carries the per-session knobs. Zero timeouts fall back to
// conservative defaults.
type Config struct {
	SampleRate     int
	Channels       int
	ConnectTimeout time.Duration
	DrainTimeout   time.Duration
}

const (
	defaultConnectTimeout = 5 * time.Second
	defaultDrainTimeout   = 3 * time.Second
)

// Session runs one utterance against the recognition service: dial,
// handshake, stream audio chunks in capture order, then drain trailing
// results after the input channel closes. Events are delivered on
// Events() in arrival order; final events are never dropped.
type Session struct {
	ID string

	dial DialFunc
	cfg  Config

	events chan Event
	quit   chan struct{} // closed when Run unwinds, before events closes
	state  atomic.Int32

	mu        sync.Mutex
	tr        Transport
	closing   bool
	failure   error
	committed string
	emitted   int // utterances already delivered as final
	seq       uint64
	stats     Stats
}

func NewSession(dial DialFunc, cfg Config) *Session {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	return &Session{
		ID:     uuid.NewString(),
		dial:   dial,
		cfg:    cfg,
		events: make(chan Event, 64),
		quit:   make(chan struct{}),
	}
}

func (s *Session) Events() <-chan Event { return s.events }

// SessionID returns the request id used for server-side correlation.
func (s *Session) SessionID() string { return s.ID }

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// fail records the first failure and closes the transport so both the
// sender and the receiver unwind. Later failures are ignored.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.failure == nil && !s.closing {
		s.failure = err
		s.closing = true
		if s.tr != nil {
			s.tr.Close()
		}
	}
	s.mu.Unlock()
}

func (s *Session) failureErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// Run blocks until the session reaches a terminal state. chunks must be
// closed by the caller to signal end of audio; Run then sends the end
// marker and drains until the server's last package or DrainTimeout.
func (s *Session) Run(ctx context.Context, chunks <-chan audio.Chunk) error {
	started := time.Now()
	var recvDone chan struct{}
	defer func() {
		close(s.quit)
		if recvDone != nil {
			<-recvDone
		}
		s.mu.Lock()
		s.stats.TotalDur = time.Since(started)
		s.mu.Unlock()
		close(s.events)
	}()

	s.setState(StateConnecting)
	if err := s.connect(ctx); err != nil {
		s.setState(StateErrored)
		return err
	}
	defer func() {
		s.mu.Lock()
		s.closing = true
		tr := s.tr
		s.mu.Unlock()
		tr.Close()
	}()
	s.setState(StateStreaming)

	recvDone = make(chan struct{})
	lastPkg := make(chan struct{})
	go s.receive(recvDone, lastPkg)

	if err := s.stream(ctx, chunks, recvDone); err != nil {
		s.fail(err)
		s.setState(StateErrored)
		return s.failureErr()
	}
	if err := s.failureErr(); err != nil {
		s.setState(StateErrored)
		return err
	}

	s.setState(StateDraining)
	drainStart := time.Now()
	var drainTimedOut bool
	select {
	case <-lastPkg:
	case <-recvDone:
	case <-time.After(s.cfg.DrainTimeout):
		drainTimedOut = true
	case <-ctx.Done():
	}
	s.mu.Lock()
	s.closing = true
	s.tr.Close()
	s.stats.DrainDur = time.Since(drainStart)
	s.mu.Unlock()
	select {
	case <-recvDone:
	case <-time.After(2 * time.Second):
	}

	if err := s.failureErr(); err != nil {
		s.setState(StateErrored)
		return err
	}
	if drainTimedOut {
		s.setState(StateErrored)
		return &Error{Kind: KindTimeout, SessionID: s.ID,
			Err: fmt.Errorf("no final result within %s of end of audio", s.cfg.DrainTimeout)}
	}
	if err := ctx.Err(); err != nil {
		s.setState(StateErrored)
		return &Error{Kind: KindConnection, SessionID: s.ID, Err: err}
	}
	s.setState(StateClosed)
	return nil
}

// connect dials and performs the init handshake within ConnectTimeout.
func (s *Session) connect(ctx context.Context) error {
	connectStart := time.Now()
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	tr, err := s.dial(dialCtx, s.ID)
	if err != nil {
		var se *Error
		if errors.As(err, &se) {
			return err
		}
		kind := KindConnection
		if dialCtx.Err() != nil {
			kind = KindTimeout
		}
		return &Error{Kind: kind, SessionID: s.ID, Err: err}
	}
	s.mu.Lock()
	s.tr = tr
	s.mu.Unlock()

	init, err := protocol.EncodeInit(protocol.NewInitPayload(s.ID, s.cfg.SampleRate, s.cfg.Channels))
	if err != nil {
		tr.Close()
		return &Error{Kind: KindProtocol, SessionID: s.ID, Err: err}
	}
	if err := tr.Send(init); err != nil {
		tr.Close()
		return &Error{Kind: KindConnection, SessionID: s.ID, Err: fmt.Errorf("sending init: %w", err)}
	}

	raw, err := recvTimeout(tr, s.cfg.ConnectTimeout)
	if err != nil {
		tr.Close()
		kind := KindConnection
		if err == errRecvTimeout {
			kind = KindTimeout
		}
		return &Error{Kind: kind, SessionID: s.ID, Err: fmt.Errorf("waiting for init ack: %w", err)}
	}
	frame, err := protocol.Parse(raw)
	if err != nil {
		tr.Close()
		return &Error{Kind: KindProtocol, SessionID: s.ID, Err: err}
	}
	if frame.Type == protocol.TypeServerErrorResponse {
		tr.Close()
		return s.errorFrame(frame)
	}

	s.mu.Lock()
	s.stats.ConnectDur = time.Since(connectStart)
	s.mu.Unlock()
	return nil
}

// stream forwards chunks in order until the input closes, then sends the
// end-of-audio marker. It aborts early if the receiver has already died.
func (s *Session) stream(ctx context.Context, chunks <-chan audio.Chunk, recvDone <-chan struct{}) error {
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				if err := s.send(protocol.EncodeAudio(nil, true)); err != nil {
					return &Error{Kind: KindConnection, SessionID: s.ID,
						Err: fmt.Errorf("sending end marker: %w", err)}
				}
				return nil
			}
			// Count before writing: a chunk taken off the queue is
			// gone even when the write fails, and a retry on a fresh
			// connection cannot replay it.
			s.mu.Lock()
			s.stats.SentChunks++
			s.stats.SentBytes += len(chunk.Data)
			s.mu.Unlock()
			if err := s.send(protocol.EncodeAudio(chunk.Data, false)); err != nil {
				return &Error{Kind: KindConnection, SessionID: s.ID,
					Err: fmt.Errorf("sending audio: %w", err)}
			}
		case <-recvDone:
			if err := s.failureErr(); err != nil {
				return err
			}
			return &Error{Kind: KindConnection, SessionID: s.ID,
				Err: fmt.Errorf("server closed mid-stream")}
		case <-ctx.Done():
			return &Error{Kind: KindConnection, SessionID: s.ID, Err: ctx.Err()}
		}
	}
}

func (s *Session) send(frame []byte) error {
	s.mu.Lock()
	tr := s.tr
	s.mu.Unlock()
	return tr.Send(frame)
}

// receive parses server frames until the last package, a failure, or
// transport close.
func (s *Session) receive(done chan<- struct{}, lastPkg chan<- struct{}) {
	defer close(done)
	s.mu.Lock()
	tr := s.tr
	s.mu.Unlock()

	for {
		raw, err := tr.Recv()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if !closing {
				s.fail(&Error{Kind: KindConnection, SessionID: s.ID,
					Err: fmt.Errorf("receiving: %w", err)})
			}
			return
		}
		frame, err := protocol.Parse(raw)
		if err != nil {
			s.fail(&Error{Kind: KindProtocol, SessionID: s.ID, Err: err})
			return
		}
		switch frame.Type {
		case protocol.TypeServerACK:
			// keepalive, nothing to surface
		case protocol.TypeServerErrorResponse:
			s.fail(s.errorFrame(frame))
			return
		case protocol.TypeFullServerResponse:
			res, err := frame.DecodeResult()
			if err != nil {
				s.fail(&Error{Kind: KindProtocol, SessionID: s.ID, Err: err})
				return
			}
			s.deliver(res, frame.IsLast)
			if frame.IsLast {
				close(lastPkg)
				return
			}
		default:
			s.fail(&Error{Kind: KindProtocol, SessionID: s.ID,
				Err: fmt.Errorf("unexpected message type 0b%04b", frame.Type)})
			return
		}
	}
}

// The 45xxxxxx code class covers rejected credentials (45000004 is the
// invalid-token case).
func authCode(code uint32) bool {
	return code/1000000 == 45
}

func (s *Session) errorFrame(f protocol.Frame) error {
	kind := KindProtocol
	if authCode(f.Code) {
		kind = KindAuth
	}
	return &Error{Kind: kind, SessionID: s.ID,
		Err: fmt.Errorf("server error %d: %s", f.Code, strings.TrimSpace(string(f.Payload)))}
}

// deliver turns one result payload into events. Utterances the server
// marks definite are committed exactly once, in order; everything still
// unstable goes out as a non-final preview. On the last package any
// remaining utterances become final since no revision can follow.
func (s *Session) deliver(res protocol.ResultPayload, last bool) {
	s.mu.Lock()
	var out []Event
	stage := func(text string, final bool) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		s.seq++
		s.stats.RecvEvents++
		if final {
			s.stats.RecvFinal++
			if s.committed == "" {
				s.committed = text
			} else {
				s.committed += " " + text
			}
		}
		out = append(out, Event{Text: text, IsFinal: final, Seq: s.seq, Confidence: res.Result.Confidence})
	}

	if utt := res.Result.Utterances; len(utt) > 0 {
		for s.emitted < len(utt) && (utt[s.emitted].Definite || last) {
			stage(utt[s.emitted].Text, true)
			s.emitted++
		}
		var pending []string
		for _, u := range utt[s.emitted:] {
			if u.Text != "" {
				pending = append(pending, u.Text)
			}
		}
		if len(pending) > 0 {
			stage(strings.Join(pending, " "), false)
		}
	} else if text := strings.TrimSpace(res.Result.Text); text != "" {
		if last {
			// The closing transcript repeats committed text; only
			// the uncommitted tail may be injected.
			stage(strings.TrimPrefix(text, s.committed), true)
		} else {
			stage(text, false)
		}
	}
	s.mu.Unlock()

	for _, ev := range out {
		if ev.IsFinal {
			// Final text must never be lost while the session lives.
			select {
			case s.events <- ev:
			case <-s.quit:
			}
			continue
		}
		// Previews are superseded by the next response anyway; drop
		// them when the consumer is behind.
		select {
		case s.events <- ev:
		default:
		}
	}
}

var errRecvTimeout = fmt.Errorf("receive timed out")

func recvTimeout(tr Transport, d time.Duration) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := tr.Recv()
		ch <- result{data, err}
	}()
	select {
	case r := <-ch:
		return r.data, r.err
	case <-time.After(d):
		return nil, errRecvTimeout
	}
}
