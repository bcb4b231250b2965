package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeDevice struct {
	mu              sync.Mutex
	state           DeviceState
	played          [][]byte
	openErr         error
	resumeErr       error
	opens           int
	resumes         int
	startsSuspended bool
}

func (d *fakeDevice) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	if d.openErr != nil {
		return d.openErr
	}
	if d.startsSuspended {
		d.state = DeviceSuspended
	} else {
		d.state = DeviceRunning
	}
	return nil
}

func (d *fakeDevice) State() DeviceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *fakeDevice) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resumes++
	if d.resumeErr != nil {
		return d.resumeErr
	}
	d.state = DeviceRunning
	return nil
}

func (d *fakeDevice) PlayChunk(ctx context.Context, pcm []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.played = append(d.played, append([]byte(nil), pcm...))
	return nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = DeviceClosed
	return nil
}

func (d *fakeDevice) playedChunks() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.played))
	copy(out, d.played)
	return out
}

func waitDrained(t *testing.T, q *Queue) {
	t.Helper()
	select {
	case <-q.Drained():
	case <-time.After(2 * time.Second):
		t.Fatal("queue never drained")
	}
}

func TestQueuePlaysChunksInOrder(t *testing.T) {
	dev := &fakeDevice{}
	q := NewQueue(dev, QueueConfig{}, nil)
	defer q.Close()

	q.Enqueue([]byte{1, 1})
	q.Enqueue([]byte{2, 2})
	q.Enqueue([]byte{3, 3})
	waitDrained(t, q)

	played := dev.playedChunks()
	if len(played) != 3 {
		t.Fatalf("expected 3 chunks played, got %d", len(played))
	}
	for i, chunk := range played {
		if chunk[0] != byte(i+1) {
			t.Fatalf("chunk %d out of order: %v", i, chunk)
		}
	}
	if q.State() != QueueEmpty {
		t.Fatalf("queue should be empty after drain, got %v", q.State())
	}
}

func TestQueueSkipsInvalidChunk(t *testing.T) {
	dev := &fakeDevice{}
	q := NewQueue(dev, QueueConfig{}, nil)
	defer q.Close()

	q.Enqueue([]byte{1, 1})
	q.Enqueue(nil)
	q.Enqueue([]byte("RIFF0000WAVE"))
	q.Enqueue([]byte{3, 3})
	waitDrained(t, q)

	played := dev.playedChunks()
	if len(played) != 2 {
		t.Fatalf("invalid chunks must be skipped, got %d plays", len(played))
	}
	if played[0][0] != 1 || played[1][0] != 3 {
		t.Fatalf("wrong chunks played: %v", played)
	}
}

func TestQueueLazyDeviceOpen(t *testing.T) {
	dev := &fakeDevice{}
	q := NewQueue(dev, QueueConfig{}, nil)
	defer q.Close()

	if dev.opens != 0 {
		t.Fatal("device must not open before the first chunk")
	}
	q.Enqueue([]byte{1, 1})
	waitDrained(t, q)
	if dev.opens != 1 {
		t.Fatalf("expected one open, got %d", dev.opens)
	}

	q.Enqueue([]byte{2, 2})
	waitDrained(t, q)
	if dev.opens != 1 {
		t.Fatalf("device must open once per session, got %d opens", dev.opens)
	}
}

func TestQueueResumesSuspendedDevice(t *testing.T) {
	dev := &fakeDevice{startsSuspended: true}
	q := NewQueue(dev, QueueConfig{}, nil)
	defer q.Close()

	q.Enqueue([]byte{1, 1})
	waitDrained(t, q)

	if dev.resumes != 1 {
		t.Fatalf("suspended device must be resumed, got %d resumes", dev.resumes)
	}
	if len(dev.playedChunks()) != 1 {
		t.Fatal("chunk not played after resume")
	}
}

func TestQueueResumeFailureIsNotFatal(t *testing.T) {
	dev := &fakeDevice{startsSuspended: true, resumeErr: errors.New("blocked by platform")}
	q := NewQueue(dev, QueueConfig{}, nil)
	defer q.Close()

	q.Enqueue([]byte{1, 1})
	waitDrained(t, q)

	if len(dev.playedChunks()) != 1 {
		t.Fatal("playback must still be attempted after a failed resume")
	}
}

func TestQueueOpenFailureDropsChunks(t *testing.T) {
	dev := &fakeDevice{openErr: errors.New("no output device")}
	q := NewQueue(dev, QueueConfig{}, nil)
	defer q.Close()

	q.Enqueue([]byte{1, 1})
	waitDrained(t, q)

	if len(dev.playedChunks()) != 0 {
		t.Fatal("nothing should play without a device")
	}
	if q.State() != QueueEmpty {
		t.Fatalf("queue must settle empty, got %v", q.State())
	}
}

func TestQueueNewCycleAfterDrain(t *testing.T) {
	dev := &fakeDevice{}
	q := NewQueue(dev, QueueConfig{}, nil)
	defer q.Close()

	q.Enqueue([]byte{1, 1})
	waitDrained(t, q)
	q.Enqueue([]byte{2, 2})
	waitDrained(t, q)

	if len(dev.playedChunks()) != 2 {
		t.Fatalf("expected 2 chunks across cycles, got %d", len(dev.playedChunks()))
	}
}
