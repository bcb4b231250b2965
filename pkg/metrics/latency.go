package metrics

import (
	"log/slog"
	"sync"
	"time"
)

// LatencyObserver correlates per-utterance events and logs the two latency
// numbers that are tracked separately: time-to-first-increment (perceived
// responsiveness) and time-to-completion.
type LatencyObserver struct {
	mu     sync.Mutex
	traces map[string]*utteranceTrace
	log    *slog.Logger
}

type utteranceTrace struct {
	utteranceEnd   time.Time
	firstIncrement time.Time
	generationDone time.Time
	synthesisDone  time.Time
	sessionID      string
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		traces: make(map[string]*utteranceTrace),
		log:    log,
	}
}

func (o *LatencyObserver) RecordEvent(ev MetricsEvent) {
	utteranceID := ""
	sessionID := ""
	if ev.Tags != nil {
		utteranceID = ev.Tags["utterance_id"]
		sessionID = ev.Tags["session_id"]
	}
	if utteranceID == "" {
		return
	}
	// utterance IDs restart at 1 per session, so the trace key must
	// include the session or concurrent sessions merge into one trace
	key := sessionID + "/" + utteranceID
	o.mu.Lock()
	t := o.traces[key]
	if t == nil {
		t = &utteranceTrace{sessionID: sessionID}
		o.traces[key] = t
	}
	switch ev.Name {
	case EventUtteranceEnd:
		if t.utteranceEnd.IsZero() {
			t.utteranceEnd = ev.Time
		}
	case EventFirstIncrement:
		if t.firstIncrement.IsZero() {
			t.firstIncrement = ev.Time
		}
	case EventGenerationDone:
		t.generationDone = ev.Time
	case EventSynthesisDone:
		t.synthesisDone = ev.Time
	case EventTurnComplete:
		o.logTurnLocked(utteranceID, t, ev.Time)
		delete(o.traces, key)
	}
	o.mu.Unlock()
}

func (o *LatencyObserver) logTurnLocked(utteranceID string, t *utteranceTrace, done time.Time) {
	o.log.Info("utterance_latency",
		"utterance_id", utteranceID,
		"session_id", t.sessionID,
		"first_increment_ms", durationMs(t.utteranceEnd, t.firstIncrement),
		"generation_ms", durationMs(t.utteranceEnd, t.generationDone),
		"synthesis_ms", durationMs(t.generationDone, t.synthesisDone),
		"turn_ms", durationMs(t.utteranceEnd, done),
	)
}

func durationMs(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() {
		return -1
	}
	return b.Sub(a).Milliseconds()
}
