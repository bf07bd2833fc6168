// Package service coordinates the dictation pipeline: trigger intents
// start and stop audio capture, captured chunks stream through a
// recognition session, and committed text is handed to the injector.
package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"windvox/asr"
	"windvox/audio"
	"windvox/hotkey"
	"windvox/log"
	"windvox/typer"
)

// Status is the externally visible service state.
type Status int32

const (
	StatusIdle Status = iota
	StatusRecording
	StatusProcessing
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRecording:
		return "recording"
	case StatusProcessing:
		return "processing"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// Sink receives UI-facing updates. Calls arrive from multiple
// goroutines and must not block.
type Sink interface {
	StatusChanged(s Status)
	Partial(text string)
	Final(text string)
	AudioLevel(level float64)
	Notice(text string)
}

type NopSink struct{}

func (NopSink) StatusChanged(Status) {}
func (NopSink) Partial(string)       {}
func (NopSink) Final(string)         {}
func (NopSink) AudioLevel(float64)   {}
func (NopSink) Notice(string)        {}

// Recorder is the capture surface the service drives.
type Recorder interface {
	Start() error
	Stop()
	Chunks() <-chan audio.Chunk
	Errors() <-chan error
	Level() float64
	Overruns() uint64
	TotalBytes() uint64
}

// Session is one streaming recognition attempt.
type Session interface {
	Run(ctx context.Context, chunks <-chan audio.Chunk) error
	Events() <-chan asr.Event
	Stats() asr.Stats
	SessionID() string
}

var _ Recorder = (*audio.Recorder)(nil)

// Options wires the service's collaborators and tunables.
type Options struct {
	Toggle         bool
	MaxRetries     int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	BytesPerSecond int // PCM rate for audio-duration accounting

	NewRecorder func() (Recorder, error)
	NewSession  func() Session
	Injector    typer.Injector
	Sink        Sink
}

type Service struct {
	opts Options

	status   atomic.Int32
	sessions atomic.Int32
	results  chan dictResult
}

func New(opts Options) *Service {
	if opts.Sink == nil {
		opts.Sink = NopSink{}
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 500 * time.Millisecond
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = 8 * time.Second
	}
	return &Service{
		opts:    opts,
		results: make(chan dictResult, 1),
	}
}

func (s *Service) Status() Status { return Status(s.status.Load()) }

// Sessions reports how many dictations have completed.
func (s *Service) Sessions() int { return int(s.sessions.Load()) }

func (s *Service) setStatus(st Status) {
	s.status.Store(int32(st))
	s.opts.Sink.StatusChanged(st)
}

// Run owns the intent loop until ctx is cancelled or intents closes.
// One dictation at a time: start intents while busy are ignored, stop
// intents without an active dictation are ignored, and a start intent
// in the error state only clears it.
func (s *Service) Run(ctx context.Context, intents <-chan hotkey.Intent) error {
	var active *dictation
	for {
		select {
		case <-ctx.Done():
			if active != nil {
				active.stop()
				res := <-s.results
				s.finish(res)
			}
			return ctx.Err()
		case intent, ok := <-intents:
			if !ok {
				if active != nil {
					active.stop()
					res := <-s.results
					s.finish(res)
				}
				return nil
			}
			switch intent {
			case hotkey.IntentStart:
				if s.Status() == StatusError {
					s.setStatus(StatusIdle)
					continue
				}
				if active != nil || s.Status() != StatusIdle {
					continue
				}
				active = s.begin(ctx)
			case hotkey.IntentStop:
				if active == nil {
					continue
				}
				s.setStatus(StatusProcessing)
				active.stop()
			}
		case res := <-s.results:
			active = nil
			s.finish(res)
		}
	}
}

type dictation struct {
	svc    *Service
	rec    Recorder
	cancel context.CancelFunc

	stopOnce      sync.Once
	monitorStop   chan struct{}
	captureFailed atomic.Bool

	// written by the event forwarder, read after the result arrives
	transcript []string
	lastID     string
}

type dictResult struct {
	d       *dictation
	err     error
	stats   asr.Stats
	retries int
}

func (s *Service) begin(ctx context.Context) *dictation {
	rec, err := s.opts.NewRecorder()
	if err == nil {
		err = rec.Start()
	}
	if err != nil {
		log.Errorf("cannot start capture: %v", err)
		s.opts.Sink.Notice("microphone unavailable: " + err.Error())
		s.setStatus(StatusError)
		return nil
	}

	dctx, cancel := context.WithCancel(ctx)
	d := &dictation{
		svc:         s,
		rec:         rec,
		cancel:      cancel,
		monitorStop: make(chan struct{}),
	}
	s.opts.Injector.Reset()
	s.setStatus(StatusRecording)
	go d.monitor(dctx)
	go d.runSessions(dctx)
	return d
}

// stop ends capture. The recorder flushes its tail chunk and closes the
// chunk channel, which moves the session into draining.
func (d *dictation) stop() {
	d.stopOnce.Do(func() {
		d.rec.Stop()
		close(d.monitorStop)
	})
}

// monitor feeds the level meter and the silence watchdog, and turns a
// mid-capture device failure into a stop.
func (d *dictation) monitor(ctx context.Context) {
	mon := newSilenceMonitor(d.svc.opts.Toggle)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.monitorStop:
			return
		case <-ctx.Done():
			return
		case err := <-d.rec.Errors():
			log.Errorf("capture device failed: %v", err)
			d.svc.opts.Sink.Notice("microphone failed: " + err.Error())
			d.captureFailed.Store(true)
			d.svc.setStatus(StatusProcessing)
			d.stop()
			return
		case <-ticker.C:
			level := d.rec.Level()
			d.svc.opts.Sink.AudioLevel(level)
			switch mon.Tick(level >= speechLevelMin) {
			case SilenceWarn, SilenceRepeat:
				d.svc.opts.Sink.Notice("no speech detected")
			case SilenceWarnClear:
				d.svc.opts.Sink.Notice("")
			case SilenceAutoStop:
				log.Info("auto-stopping after sustained silence")
				d.svc.opts.Sink.Notice("auto-stopped: no speech")
				d.svc.setStatus(StatusProcessing)
				d.stop()
				return
			}
		}
	}
}

// runSessions streams the dictation through a recognition session,
// reconnecting with exponential backoff when the failure is transient
// and no audio has been consumed yet. Once any audio was streamed a
// reconnect cannot replay it, so the failure is surfaced instead.
func (d *dictation) runSessions(ctx context.Context) {
	defer d.cancel()

	chunks := d.rec.Chunks()
	backoff := d.svc.opts.BackoffBase
	var agg asr.Stats
	var err error
	retries := 0

	for attempt := 0; ; attempt++ {
		sess := d.svc.opts.NewSession()
		d.lastID = sess.SessionID()

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.forward(sess.Events())
		}()
		err = sess.Run(ctx, chunks)
		wg.Wait()

		st := sess.Stats()
		agg.ConnectDur = st.ConnectDur
		agg.DrainDur = st.DrainDur
		agg.TotalDur += st.TotalDur
		agg.SentChunks += st.SentChunks
		agg.SentBytes += st.SentBytes
		agg.RecvEvents += st.RecvEvents
		agg.RecvFinal += st.RecvFinal

		if err == nil {
			break
		}
		if !asr.Retryable(err) || st.SentChunks > 0 || attempt >= d.svc.opts.MaxRetries {
			break
		}
		retries++
		log.Warnf("connect attempt %d failed, retrying in %s: %v", attempt+1, backoff, err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
		backoff *= 2
		if backoff > d.svc.opts.BackoffCap {
			backoff = d.svc.opts.BackoffCap
		}
	}

	d.svc.results <- dictResult{d: d, err: err, stats: agg, retries: retries}
}

// forward relays session events: committed text goes to the injector
// and the sink, previews only to the sink. An injection failure is
// logged and shown but does not end the dictation.
func (d *dictation) forward(events <-chan asr.Event) {
	for ev := range events {
		if !ev.IsFinal {
			d.svc.opts.Sink.Partial(ev.Text)
			continue
		}
		d.transcript = append(d.transcript, ev.Text)
		d.svc.opts.Sink.Final(ev.Text)
		if err := d.svc.opts.Injector.Inject(ev.Text); err != nil {
			log.Errorf("text injection failed: %v", err)
			d.svc.opts.Sink.Notice("injection failed: " + err.Error())
		}
	}
}

func (s *Service) finish(res dictResult) {
	d := res.d
	d.stop() // release the device if the session ended on its own
	s.sessions.Add(1)

	if text := strings.Join(d.transcript, " "); text != "" {
		log.TranscriptionText(text)
	}
	if ov := d.rec.Overruns(); ov > 0 {
		log.Warnf("capture overrun, dropped %d chunks", ov)
	}

	var audioS float64
	if s.opts.BytesPerSecond > 0 {
		audioS = float64(d.rec.TotalBytes()) / float64(s.opts.BytesPerSecond)
	}
	log.SessionMetrics(log.SessionMetricsData{
		SessionID:  d.lastID,
		ConnectMs:  float64(res.stats.ConnectDur.Milliseconds()),
		DrainMs:    float64(res.stats.DrainDur.Milliseconds()),
		TotalMs:    float64(res.stats.TotalDur.Milliseconds()),
		AudioS:     audioS,
		SentChunks: res.stats.SentChunks,
		SentKB:     float64(res.stats.SentBytes) / 1024,
		RecvEvents: res.stats.RecvEvents,
		RecvFinal:  res.stats.RecvFinal,
		Retries:    res.retries,
	})

	if res.err != nil || d.captureFailed.Load() {
		if res.err != nil {
			log.Errorf("session ended with error: %v", res.err)
			s.opts.Sink.Notice("recognition failed: " + res.err.Error())
		}
		s.setStatus(StatusError)
		return
	}
	s.setStatus(StatusIdle)
}
