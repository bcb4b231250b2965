package playback

import (
	"context"
	"log/slog"
	"sync"

	"github.com/satriadp/lisan/pkg/logging"
)

type QueueState int

const (
	QueueEmpty QueueState = iota
	QueuePlaying
)

func (s QueueState) String() string {
	if s == QueuePlaying {
		return "PLAYING"
	}
	return "EMPTY"
}

type QueueConfig struct {
	SampleRate int
	Channels   int
}

// Queue plays received audio chunks strictly in order. The output device
// is created lazily before the first chunk and resumed if it reports
// suspended; resume failure is logged and playback is attempted anyway.
// Invalid chunks are dropped without halting the queue, and every drain
// back to empty is signaled on Drained so the session layer can treat
// the turn as fully delivered.
type Queue struct {
	device Device
	cfg    QueueConfig
	logger *slog.Logger

	mu      sync.Mutex
	state   QueueState
	chunks  []Chunk
	opened  bool
	closed  bool
	drained chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewQueue(device Device, cfg QueueConfig, logger *slog.Logger) *Queue {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		device:  device,
		cfg:     cfg,
		logger:  logging.NewComponentLogger(logger, "playback"),
		drained: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (q *Queue) State() QueueState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chunks)
}

// Drained signals each time the queue returns to empty after playing.
func (q *Queue) Drained() <-chan struct{} { return q.drained }

// Enqueue accepts one received audio chunk. Empty or undecodable chunks
// are dropped; the queue keeps going.
func (q *Queue) Enqueue(data []byte) {
	if len(data) == 0 {
		q.logger.Warn("empty_chunk_dropped")
		return
	}
	chunk, err := DecodeChunk(data, q.cfg.SampleRate, q.cfg.Channels)
	if err != nil {
		q.logger.Warn("undecodable_chunk_dropped", slog.String("error", err.Error()))
		return
	}
	if len(chunk.PCM) == 0 {
		q.logger.Warn("empty_chunk_dropped")
		return
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.chunks = append(q.chunks, chunk)
	if q.state == QueueEmpty {
		q.state = QueuePlaying
		q.wg.Add(1)
		go q.play()
	}
	q.mu.Unlock()
}

// play drains the queue sequentially, then flips back to empty. Runs on
// its own goroutine; a new one is spawned per empty-to-playing cycle.
func (q *Queue) play() {
	defer q.wg.Done()
	if !q.ensureDevice() {
		q.mu.Lock()
		n := len(q.chunks)
		q.chunks = nil
		q.state = QueueEmpty
		q.mu.Unlock()
		if n > 0 {
			q.logger.Warn("chunks_dropped_no_device", slog.Int("count", n))
		}
		q.notifyDrained()
		return
	}
	for {
		q.mu.Lock()
		if len(q.chunks) == 0 || q.closed {
			// the flip back to empty shares the lock with the emptiness
			// check, so a concurrent enqueue either sees PLAYING and
			// appends in time or sees EMPTY and spawns a new cycle
			q.chunks = nil
			q.state = QueueEmpty
			q.mu.Unlock()
			q.notifyDrained()
			return
		}
		chunk := q.chunks[0]
		q.chunks = q.chunks[1:]
		q.mu.Unlock()

		if q.device.State() == DeviceSuspended {
			if err := q.device.Resume(); err != nil {
				// most platforms auto-resume on user gesture, keep going
				q.logger.Warn("device_resume_failed", slog.String("error", err.Error()))
			}
		}
		if err := q.device.PlayChunk(q.ctx, chunk.PCM); err != nil {
			q.logger.Warn("chunk_playback_failed", slog.String("error", err.Error()))
		}
	}
}

// ensureDevice lazily opens the output device before the first chunk of
// a session.
func (q *Queue) ensureDevice() bool {
	q.mu.Lock()
	opened := q.opened
	q.mu.Unlock()
	if opened {
		return true
	}
	if err := q.device.Open(); err != nil {
		q.logger.Error("device_open_failed", slog.String("error", err.Error()))
		return false
	}
	q.mu.Lock()
	q.opened = true
	q.mu.Unlock()
	return true
}

func (q *Queue) notifyDrained() {
	select {
	case q.drained <- struct{}{}:
	default:
	}
}

// Close stops playback and releases the device.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.chunks = nil
	q.mu.Unlock()
	q.cancel()
	q.wg.Wait()
	if q.opened {
		if err := q.device.Close(); err != nil {
			q.logger.Warn("device_close_failed", slog.String("error", err.Error()))
		}
	}
}
