package metrics

import "time"

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

// Event names emitted by the pipeline.
const (
	EventUtteranceStart = "utterance_start"
	EventUtteranceEnd   = "utterance_end"
	EventFirstIncrement = "first_increment"
	EventGenerationDone = "generation_done"
	EventSynthesisDone  = "synthesis_done"
	EventTurnComplete   = "turn_complete"
	EventFrameDrop      = "frame_drop"
	EventGateDrop       = "gate_drop"
	EventWatchdogFired  = "watchdog_fired"
	EventBreakerDenied  = "breaker_denied"
)

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// MultiObserver fans one event out to several observers.
type MultiObserver struct {
	obs []Observer
}

func NewMultiObserver(obs ...Observer) *MultiObserver {
	return &MultiObserver{obs: obs}
}

func (m *MultiObserver) RecordEvent(ev MetricsEvent) {
	for _, o := range m.obs {
		if o != nil {
			o.RecordEvent(ev)
		}
	}
}
