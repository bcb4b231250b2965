package observers

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/satriadp/lisan/pkg/metrics"
)

func TestTimelineObserverWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	obs := NewTimelineObserver(dir)

	ev := metrics.MetricsEvent{
		Name: metrics.EventTurnComplete,
		Time: time.Now(),
		Tags: map[string]string{
			"session_id":   "sess-1",
			"utterance_id": "3",
		},
	}
	obs.RecordEvent(ev)
	_ = obs.Close()

	path := filepath.Join(dir, "sess-1.jsonl")
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if !strings.Contains(string(b), "turn_complete") {
		t.Fatalf("expected turn_complete event in file")
	}
}

func TestTimelineObserverIgnoresEventsWithoutSession(t *testing.T) {
	dir := t.TempDir()
	obs := NewTimelineObserver(dir)

	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventFrameDrop, Time: time.Now()})
	_ = obs.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no files, got %d", len(entries))
	}
}

func TestUsageObserverSummarizesSession(t *testing.T) {
	dir := t.TempDir()
	obs := NewUsageObserver(dir)

	tags := map[string]string{"session_id": "sess-2", "utterance_id": "1"}
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventUtteranceEnd, Time: time.Now(), Tags: tags})
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventGenerationDone, Time: time.Now(), Value: 120, Tags: tags})
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventSynthesisDone, Time: time.Now(), Value: 80, Tags: tags})
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventTurnComplete, Time: time.Now(), Value: 210, Tags: tags})
	if err := obs.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "sess-2.usage.json"))
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	var sum UsageSummary
	if err := json.Unmarshal(b, &sum); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if sum.Turns != 1 || sum.Utterances != 1 {
		t.Fatalf("unexpected counts: %+v", sum)
	}
	if sum.GenerationMs != 120 || sum.SynthesisMs != 80 {
		t.Fatalf("unexpected totals: %+v", sum)
	}
}
