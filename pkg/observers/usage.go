package observers

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/satriadp/lisan/pkg/metrics"
)

// UsageSummary aggregates one session's pipeline usage so providers can
// be billed and capacity planned from the artifacts directory.
type UsageSummary struct {
	SessionID      string  `json:"session_id"`
	Turns          int     `json:"turns"`
	Utterances     int     `json:"utterances"`
	GenerationMs   float64 `json:"generation_ms_total"`
	SynthesisMs    float64 `json:"synthesis_ms_total"`
	FramesDropped  int     `json:"frames_dropped"`
	WatchdogResets int     `json:"watchdog_resets"`
	BreakerDenials int     `json:"breaker_denials"`
	RecordedAtUTC  string  `json:"recorded_at_utc"`
}

// UsageObserver accumulates per-session usage and writes one JSON
// summary per session at Close.
type UsageObserver struct {
	dir   string
	mu    sync.Mutex
	stats map[string]*UsageSummary
}

func NewUsageObserver(dir string) *UsageObserver {
	return &UsageObserver{dir: dir, stats: make(map[string]*UsageSummary)}
}

func (o *UsageObserver) RecordEvent(ev metrics.MetricsEvent) {
	if strings.TrimSpace(o.dir) == "" {
		return
	}
	sessionID := ""
	if ev.Tags != nil {
		sessionID = ev.Tags["session_id"]
	}
	if sessionID == "" {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	stat := o.stats[sessionID]
	if stat == nil {
		stat = &UsageSummary{SessionID: sessionID}
		o.stats[sessionID] = stat
	}
	switch ev.Name {
	case metrics.EventUtteranceEnd:
		stat.Utterances++
	case metrics.EventTurnComplete:
		stat.Turns++
	case metrics.EventGenerationDone:
		stat.GenerationMs += ev.Value
	case metrics.EventSynthesisDone:
		stat.SynthesisMs += ev.Value
	case metrics.EventFrameDrop, metrics.EventGateDrop:
		stat.FramesDropped++
	case metrics.EventWatchdogFired:
		stat.WatchdogResets++
	case metrics.EventBreakerDenied:
		stat.BreakerDenials++
	}
}

func (o *UsageObserver) Close() error {
	if strings.TrimSpace(o.dir) == "" {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return err
	}
	var errOut error
	for id, stat := range o.stats {
		stat.RecordedAtUTC = time.Now().UTC().Format(time.RFC3339)
		b, err := json.MarshalIndent(stat, "", "  ")
		if err != nil {
			errOut = errors.Join(errOut, err)
			continue
		}
		path := filepath.Join(o.dir, sanitizeID(id)+".usage.json")
		if err := os.WriteFile(path, b, 0o644); err != nil {
			errOut = errors.Join(errOut, err)
		}
	}
	return errOut
}

var _ metrics.Observer = (*UsageObserver)(nil)
