package session

import (
	"sync"
	"time"
)

type State int

const (
	StateIdle State = iota
	StateListening
	StateGenerating
	StateSynthesizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateListening:
		return "LISTENING"
	case StateGenerating:
		return "GENERATING"
	case StateSynthesizing:
		return "SYNTHESIZING"
	default:
		return "UNKNOWN"
	}
}

type StateChange struct {
	From   State
	To     State
	At     time.Time
	Reason string
}

type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid session transition from " + e.From.String() + " to " + e.To.String()
}

// tracker validates session state transitions. A turn always walks
// IDLE, LISTENING, GENERATING, SYNTHESIZING and back to IDLE; the only
// shortcuts are abandoning a turn early.
type tracker struct {
	mu        sync.RWMutex
	current   State
	listeners []func(StateChange)
}

var validTransitions = map[State][]State{
	StateIdle:         {StateListening},
	StateListening:    {StateGenerating, StateIdle},
	StateGenerating:   {StateSynthesizing, StateIdle},
	StateSynthesizing: {StateIdle},
}

func newTracker() *tracker {
	return &tracker{current: StateIdle}
}

func (t *tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

func (t *tracker) AddListener(fn func(StateChange)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

func (t *tracker) Transition(to State, reason string) error {
	t.mu.Lock()
	if !transitionValid(t.current, to) {
		err := &InvalidTransitionError{From: t.current, To: to}
		t.mu.Unlock()
		return err
	}
	t.apply(to, reason)
	return nil
}

// ForceIdle resets the machine regardless of the current state. Used by
// the watchdog when a turn never completed.
func (t *tracker) ForceIdle(reason string) {
	t.mu.Lock()
	if t.current == StateIdle {
		t.mu.Unlock()
		return
	}
	t.apply(StateIdle, reason)
}

// apply commits the transition and notifies listeners with the lock
// released. Callers hold t.mu; apply unlocks it.
func (t *tracker) apply(to State, reason string) {
	ev := StateChange{From: t.current, To: to, At: time.Now(), Reason: reason}
	t.current = to
	listeners := make([]func(StateChange), len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

func transitionValid(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
