package audio

import (
	"sync"
	"sync/atomic"
)

// FakeContext and FakeCapture let tests drive the capture path without a
// real device: tests push PCM with Feed and simulate device failures with
// Fail.
type FakeContext struct {
	Capture *FakeCapture
}

func NewFakeContext() *FakeContext {
	return &FakeContext{Capture: NewFakeCapture()}
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake", Name: "fake"}}, nil
}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	return f.Capture, nil
}

func (f *FakeContext) Close() {}

type FakeCapture struct {
	StartErr error // returned by Start when set

	mu      sync.Mutex
	cb      DataCallback
	ecb     ErrorCallback
	started atomic.Bool
}

func NewFakeCapture() *FakeCapture {
	return &FakeCapture{}
}

func (f *FakeCapture) Start() error {
	if f.StartErr != nil {
		return f.StartErr
	}
	f.started.Store(true)
	return nil
}

func (f *FakeCapture) Stop()  { f.started.Store(false) }
func (f *FakeCapture) Close() {}

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) SetErrorCallback(cb ErrorCallback) {
	f.mu.Lock()
	f.ecb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return "fake" }

func (f *FakeCapture) Running() bool { return f.started.Load() }

// Feed delivers PCM to the registered callback as if the device produced it.
func (f *FakeCapture) Feed(data []byte) {
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	if cb != nil && f.started.Load() {
		cb(data, uint32(len(data)/2))
	}
}

// Fail reports a mid-capture device failure.
func (f *FakeCapture) Fail(err error) {
	f.mu.Lock()
	ecb := f.ecb
	f.mu.Unlock()
	if ecb != nil {
		ecb(err)
	}
}
