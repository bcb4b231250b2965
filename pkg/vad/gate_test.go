package vad

import (
	"testing"
	"time"
)

func windowWithEnergy(level float64, size int) []int16 {
	w := make([]int16, size)
	v := int16(level * 32768)
	for i := range w {
		w[i] = v
	}
	return w
}

func feedTrace(g *Gate, trace []float64) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, e := range trace {
		g.ProcessWindow(windowWithEnergy(e, 320), base.Add(time.Duration(i)*20*time.Millisecond))
	}
}

func drainEvents(g *Gate) []Event {
	var out []Event
	for {
		select {
		case ev := <-g.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestGateSingleUtterance(t *testing.T) {
	g := NewGate("s1", Config{
		Threshold:         0.5,
		MinVoiceWindows:   2,
		MinSilenceWindows: 3,
	}, nil)

	feedTrace(g, []float64{0, 0, 0.9, 0.9, 0.9, 0.9, 0, 0, 0, 0})

	events := drainEvents(g)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Kind != EventUtteranceStart {
		t.Fatalf("expected utterance start first, got %v", events[0].Kind)
	}
	if events[1].Kind != EventUtteranceEnd {
		t.Fatalf("expected utterance end second, got %v", events[1].Kind)
	}
	u := events[1].Utterance
	if u == nil {
		t.Fatal("end event missing utterance")
	}
	if u.ID != events[0].UtteranceID {
		t.Fatalf("utterance id mismatch: start %d end %d", events[0].UtteranceID, u.ID)
	}
	if u.Windows() != 4 {
		t.Fatalf("expected 4 voiced windows, got %d", u.Windows())
	}
	if got := u.EndTime.Sub(u.StartTime); got != 80*time.Millisecond {
		t.Fatalf("expected 80ms span, got %v", got)
	}
	if g.State() != StateIdle {
		t.Fatalf("gate should return to idle, got %v", g.State())
	}
}

func TestGateIgnoresShortBurst(t *testing.T) {
	g := NewGate("s1", Config{
		Threshold:         0.5,
		MinVoiceWindows:   3,
		MinSilenceWindows: 3,
	}, nil)

	feedTrace(g, []float64{0, 0.9, 0.9, 0, 0, 0, 0})

	if events := drainEvents(g); len(events) != 0 {
		t.Fatalf("short burst should not start an utterance, got %d events", len(events))
	}
	if g.State() != StateIdle {
		t.Fatalf("expected idle after false start, got %v", g.State())
	}
}

func TestGateAbsorbsShortDip(t *testing.T) {
	g := NewGate("s1", Config{
		Threshold:         0.5,
		MinVoiceWindows:   2,
		MinSilenceWindows: 4,
	}, nil)

	// two-window dip, shorter than the silence hysteresis
	feedTrace(g, []float64{0.9, 0.9, 0.9, 0, 0, 0.9, 0.9, 0, 0, 0, 0})

	events := drainEvents(g)
	if len(events) != 2 {
		t.Fatalf("expected one utterance across the dip, got %d events", len(events))
	}
	u := events[1].Utterance
	if u.Windows() != 7 {
		t.Fatalf("dip windows should belong to the utterance: expected 7, got %d", u.Windows())
	}
}

func TestGateSealDropsTrailingSilence(t *testing.T) {
	g := NewGate("s1", Config{
		Threshold:         0.5,
		MinVoiceWindows:   1,
		MinSilenceWindows: 2,
	}, nil)

	feedTrace(g, []float64{0.9, 0.9, 0, 0})

	events := drainEvents(g)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if got := events[1].Utterance.Windows(); got != 2 {
		t.Fatalf("trailing silence must not be part of the utterance: expected 2 windows, got %d", got)
	}
}

func TestGateConsecutiveUtterances(t *testing.T) {
	g := NewGate("s1", Config{
		Threshold:         0.5,
		MinVoiceWindows:   1,
		MinSilenceWindows: 2,
	}, nil)

	feedTrace(g, []float64{0.9, 0, 0, 0.9, 0.9, 0, 0})

	events := drainEvents(g)
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	first := events[1].Utterance
	second := events[3].Utterance
	if first.ID == second.ID {
		t.Fatal("consecutive utterances must get distinct ids")
	}
	if second.ID <= first.ID {
		t.Fatalf("utterance ids must be monotonic: %d then %d", first.ID, second.ID)
	}
}

func TestGateResetDropsInFlight(t *testing.T) {
	g := NewGate("s1", Config{
		Threshold:         0.5,
		MinVoiceWindows:   1,
		MinSilenceWindows: 2,
	}, nil)

	feedTrace(g, []float64{0.9, 0.9})
	g.Reset()
	feedTrace(g, []float64{0, 0, 0})

	events := drainEvents(g)
	if len(events) != 1 {
		t.Fatalf("expected only the start event, got %d", len(events))
	}
	if events[0].Kind != EventUtteranceStart {
		t.Fatalf("expected start event, got %v", events[0].Kind)
	}
}

func TestGateUtterancePCM(t *testing.T) {
	g := NewGate("s1", Config{
		SampleRate:        16000,
		Threshold:         0.5,
		MinVoiceWindows:   1,
		MinSilenceWindows: 1,
	}, nil)

	feedTrace(g, []float64{0.9, 0})

	events := drainEvents(g)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	u := events[1].Utterance
	if u.SampleRate() != 16000 {
		t.Fatalf("expected 16000 sample rate, got %d", u.SampleRate())
	}
	pcm := u.PCM16()
	if len(pcm) != 320*2 {
		t.Fatalf("expected 640 bytes, got %d", len(pcm))
	}
	want := windowWithEnergy(0.9, 1)[0]
	got := int16(pcm[0]) | int16(pcm[1])<<8
	if got != want {
		t.Fatalf("pcm sample mismatch: want %d got %d", want, got)
	}
}

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Fatalf("empty window rms should be 0, got %f", got)
	}
	w := windowWithEnergy(0.5, 160)
	got := RMS(w)
	if got < 0.49 || got > 0.51 {
		t.Fatalf("expected rms near 0.5, got %f", got)
	}
}
