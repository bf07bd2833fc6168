package audio

import "time"

// DataCallback receives raw PCM16LE frames from the capture backend.
type DataCallback func(data []byte, frameCount uint32)

// ErrorCallback receives capture failures detected after Start (device
// unplugged, stream killed). Not every backend can detect these.
type ErrorCallback func(err error)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	SetErrorCallback(cb ErrorCallback)
	ClearCallback()
	DeviceName() string
}

// Chunk is one fixed-duration slice of captured audio. Seq is strictly
// increasing with no gaps within a recording; the last chunk of a recording
// may be shorter than the nominal size.
type Chunk struct {
	Seq  uint64
	Data []byte
	Time time.Time
}
