package playback

import "context"

type DeviceState int

const (
	DeviceClosed DeviceState = iota
	DeviceSuspended
	DeviceRunning
)

func (s DeviceState) String() string {
	switch s {
	case DeviceClosed:
		return "CLOSED"
	case DeviceSuspended:
		return "SUSPENDED"
	case DeviceRunning:
		return "RUNNING"
	default:
		return "UNKNOWN"
	}
}

// Device is the audio output the queue plays through. Open is called
// lazily before the first chunk; a suspended device must be resumed
// before playback is attempted. PlayChunk blocks until the chunk has
// been rendered or ctx ends.
type Device interface {
	Open() error
	State() DeviceState
	Resume() error
	PlayChunk(ctx context.Context, pcm []byte) error
	Close() error
}
