package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// queueDepth bounds the chunk queue between the capture callback and the
// network sender. At 200ms chunks this is ~13s of audio headroom.
const queueDepth = 64

// Recorder slices the capture callback stream into fixed-size chunks and
// pushes them into a bounded queue. Backpressure policy is drop-oldest: the
// capture callback must never block, so when the consumer stalls the oldest
// queued chunk is discarded and an overrun is counted. Stop flushes the
// remaining partial buffer as a final short chunk and closes the queue.
type Recorder struct {
	dev        CaptureDevice
	chunkBytes int

	out  chan Chunk
	errs chan error

	mu         sync.Mutex
	buf        []byte
	seq        uint64
	totalBytes uint64
	stopped    bool

	overruns  atomic.Uint64
	levelBits atomic.Uint64 // float64 bits of last RMS level
}

func NewRecorder(dev CaptureDevice, chunkBytes int) *Recorder {
	return &Recorder{
		dev:        dev,
		chunkBytes: chunkBytes,
		out:        make(chan Chunk, queueDepth),
		errs:       make(chan error, 1),
	}
}

// Start opens the device and begins producing chunks. Open failures are
// returned synchronously.
func (r *Recorder) Start() error {
	r.dev.SetErrorCallback(func(err error) {
		select {
		case r.errs <- err:
		default:
		}
	})
	r.dev.SetCallback(r.onData)
	if err := r.dev.Start(); err != nil {
		r.dev.ClearCallback()
		return fmt.Errorf("opening capture device %s: %w", r.dev.DeviceName(), err)
	}
	return nil
}

// Stop halts capture, releases the device, flushes the trailing partial
// buffer as a final (possibly short) chunk, and closes the chunk queue.
// The Recorder is single-use; safe to call more than once.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	r.dev.Stop()
	r.dev.ClearCallback()
	r.dev.Close()

	r.mu.Lock()
	tail := r.buf
	r.buf = nil
	if len(tail) > 0 {
		r.totalBytes += uint64(len(tail))
		r.push(Chunk{Seq: r.seq, Data: tail, Time: time.Now()})
		r.seq++
	}
	r.mu.Unlock()
	close(r.out)
}

// Chunks is the bounded queue of captured chunks. Closed by Stop after the
// final flush.
func (r *Recorder) Chunks() <-chan Chunk { return r.out }

// Errors reports capture failures detected after Start.
func (r *Recorder) Errors() <-chan error { return r.errs }

func (r *Recorder) Overruns() uint64 { return r.overruns.Load() }

// TotalBytes is the continuous byte count of the sample stream captured so
// far, including flushed tail bytes.
func (r *Recorder) TotalBytes() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalBytes
}

// Level is the RMS level [0,1] of the most recent callback buffer.
func (r *Recorder) Level() float64 {
	return math.Float64frombits(r.levelBits.Load())
}

func (r *Recorder) onData(data []byte, _ uint32) {
	if len(data) > 1 {
		r.levelBits.Store(math.Float64bits(rmsLevel(data)))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.totalBytes += uint64(len(data))
	r.buf = append(r.buf, data...)
	for len(r.buf) >= r.chunkBytes {
		chunk := make([]byte, r.chunkBytes)
		copy(chunk, r.buf[:r.chunkBytes])
		r.buf = r.buf[r.chunkBytes:]
		r.push(Chunk{Seq: r.seq, Data: chunk, Time: time.Now()})
		r.seq++
	}
}

// push enqueues without ever blocking the audio callback.
func (r *Recorder) push(c Chunk) {
	for {
		select {
		case r.out <- c:
			return
		default:
		}
		select {
		case <-r.out: // drop oldest
			r.overruns.Add(1)
		default:
		}
	}
}

func rmsLevel(data []byte) float64 {
	var sumSquares float64
	n := len(data) / 2
	for i := 0; i+1 < len(data); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(data[i:]))
		normalized := float64(sample) / 32768.0
		sumSquares += normalized * normalized
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sumSquares / float64(n))
}
