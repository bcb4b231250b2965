package session

import (
	"errors"
	"testing"
)

func TestTrackerFullTurnWalk(t *testing.T) {
	tr := newTracker()
	steps := []State{StateListening, StateGenerating, StateSynthesizing, StateIdle}
	for _, next := range steps {
		if err := tr.Transition(next, "test"); err != nil {
			t.Fatalf("transition to %v rejected: %v", next, err)
		}
	}
	if tr.State() != StateIdle {
		t.Fatalf("expected idle after full walk, got %v", tr.State())
	}
}

func TestTrackerRejectsInvalidTransition(t *testing.T) {
	tr := newTracker()
	err := tr.Transition(StateSynthesizing, "test")
	if err == nil {
		t.Fatal("idle to synthesizing must be rejected")
	}
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %T", err)
	}
	if tr.State() != StateIdle {
		t.Fatalf("rejected transition must not change state, got %v", tr.State())
	}
}

func TestTrackerAbandonedTurn(t *testing.T) {
	tr := newTracker()
	if err := tr.Transition(StateListening, "test"); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := tr.Transition(StateIdle, "false start"); err != nil {
		t.Fatalf("listening must be abandonable: %v", err)
	}
}

func TestTrackerForceIdle(t *testing.T) {
	tr := newTracker()
	tr.Transition(StateListening, "test")
	tr.Transition(StateGenerating, "test")
	tr.ForceIdle("watchdog")
	if tr.State() != StateIdle {
		t.Fatalf("force idle failed, state %v", tr.State())
	}
}

func TestTrackerNotifiesListeners(t *testing.T) {
	tr := newTracker()
	var changes []StateChange
	tr.AddListener(func(ev StateChange) { changes = append(changes, ev) })

	tr.Transition(StateListening, "voice confirmed")

	if len(changes) != 1 {
		t.Fatalf("expected one change event, got %d", len(changes))
	}
	if changes[0].From != StateIdle || changes[0].To != StateListening {
		t.Fatalf("unexpected change: %+v", changes[0])
	}
	if changes[0].Reason != "voice confirmed" {
		t.Fatalf("reason not carried: %q", changes[0].Reason)
	}
}
