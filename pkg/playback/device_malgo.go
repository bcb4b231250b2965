//go:build cgo

package playback

import (
	"context"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
)

// MalgoDevice renders PCM16 through the platform audio backend. The
// backend context is allocated on Open; the device starts suspended and
// is started by Resume, mirroring the output-device lifecycle the queue
// expects.
type MalgoDevice struct {
	sampleRate uint32
	channels   uint32

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	pending []byte
	state   DeviceState
}

func NewMalgoDevice(sampleRate, channels int) *MalgoDevice {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if channels <= 0 {
		channels = 1
	}
	return &MalgoDevice{
		sampleRate: uint32(sampleRate),
		channels:   uint32(channels),
		state:      DeviceClosed,
	}
}

func (d *MalgoDevice) State() DeviceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *MalgoDevice) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != DeviceClosed {
		return nil
	}
	allocated, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return err
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = d.channels
	cfg.SampleRate = d.sampleRate
	cfg.Alsa.NoMMap = 1

	bytesPerFrame := 2 * int(d.channels)
	callbacks := malgo.DeviceCallbacks{
		Data: func(out, in []byte, frameCount uint32) {
			need := int(frameCount) * bytesPerFrame
			d.mu.Lock()
			n := copy(out, d.pending)
			d.pending = d.pending[n:]
			d.mu.Unlock()
			for i := n; i < need; i++ {
				out[i] = 0
			}
		},
	}
	device, err := malgo.InitDevice(allocated.Context, cfg, callbacks)
	if err != nil {
		_ = allocated.Uninit()
		allocated.Free()
		return err
	}
	d.ctx = allocated
	d.device = device
	d.state = DeviceSuspended
	return nil
}

func (d *MalgoDevice) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != DeviceSuspended {
		return nil
	}
	if err := d.device.Start(); err != nil {
		return err
	}
	d.state = DeviceRunning
	return nil
}

// PlayChunk feeds one chunk to the render callback and waits until it
// has been consumed.
func (d *MalgoDevice) PlayChunk(ctx context.Context, pcm []byte) error {
	d.mu.Lock()
	d.pending = append(d.pending, pcm...)
	d.mu.Unlock()

	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			d.mu.Lock()
			d.pending = nil
			d.mu.Unlock()
			return ctx.Err()
		case <-tick.C:
			d.mu.Lock()
			left := len(d.pending)
			d.mu.Unlock()
			if left == 0 {
				return nil
			}
		}
	}
}

func (d *MalgoDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == DeviceClosed {
		return nil
	}
	if d.device != nil {
		d.device.Uninit()
		d.device = nil
	}
	if d.ctx != nil {
		_ = d.ctx.Uninit()
		d.ctx.Free()
		d.ctx = nil
	}
	d.pending = nil
	d.state = DeviceClosed
	return nil
}
