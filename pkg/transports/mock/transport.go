package mock

import (
	"sync"
	"sync/atomic"
)

// Sender is an in-memory connection half for local testing and
// integration. It records everything a session sends, without any
// network dependency.
type Sender struct {
	mu       sync.Mutex
	texts    [][]byte
	binaries [][]byte
	notify   chan struct{}
	closed   atomic.Bool
}

func NewSender() *Sender {
	return &Sender{notify: make(chan struct{}, 64)}
}

func (s *Sender) SendText(data []byte) error {
	if s.closed.Load() {
		return nil
	}
	s.mu.Lock()
	s.texts = append(s.texts, append([]byte(nil), data...))
	s.mu.Unlock()
	s.wake()
	return nil
}

func (s *Sender) SendBinary(data []byte) error {
	if s.closed.Load() {
		return nil
	}
	s.mu.Lock()
	s.binaries = append(s.binaries, append([]byte(nil), data...))
	s.mu.Unlock()
	s.wake()
	return nil
}

// Texts returns a copy of every JSON message sent so far.
func (s *Sender) Texts() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.texts))
	copy(out, s.texts)
	return out
}

// Binaries returns a copy of every audio chunk sent so far.
func (s *Sender) Binaries() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.binaries))
	copy(out, s.binaries)
	return out
}

// Notify signals once per send, for tests that wait on outbound traffic.
func (s *Sender) Notify() <-chan struct{} { return s.notify }

func (s *Sender) Close() {
	s.closed.Store(true)
}

func (s *Sender) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
