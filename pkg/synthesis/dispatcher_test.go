package synthesis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/satriadp/lisan/pkg/resilience"
)

type countingSynthesizer struct {
	calls int
	audio []byte
	err   error
	texts []string
}

func (s *countingSynthesizer) Name() string { return "counting" }

func (s *countingSynthesizer) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	s.calls++
	s.texts = append(s.texts, req.Text)
	if s.err != nil {
		return nil, s.err
	}
	return s.audio, nil
}

func newTestDispatcher(t *testing.T, synth Synthesizer, voices VoiceMap) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(synth, DispatcherConfig{
		Voices:  voices,
		Timeout: time.Second,
		Retry:   resilience.RetryPolicy{MaxRetries: 1, Backoff: time.Millisecond},
	}, nil)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return d
}

func TestDispatchCallsEngineOncePerUtterance(t *testing.T) {
	synth := &countingSynthesizer{audio: []byte{1, 2, 3}}
	d := newTestDispatcher(t, synth, VoiceMap{Default: "aria"})

	res := d.Dispatch(context.Background(), "s1", 1, "en", "Hi there !")

	if synth.calls != 1 {
		t.Fatalf("expected exactly one engine call, got %d", synth.calls)
	}
	if synth.texts[0] != "Hi there !" {
		t.Fatalf("engine must receive the whole response, got %q", synth.texts[0])
	}
	if res.Degraded {
		t.Fatal("successful synthesis must not be degraded")
	}
	if len(res.Audio) != 3 {
		t.Fatalf("audio not returned: %v", res.Audio)
	}
}

func TestDispatchVoiceResolution(t *testing.T) {
	synth := &countingSynthesizer{audio: []byte{1}}
	d := newTestDispatcher(t, synth, VoiceMap{
		Default: "aria",
		ByLang:  map[string]string{"id": "dewi", "en": "aria"},
	})

	if res := d.Dispatch(context.Background(), "s1", 1, "id", "halo"); res.Voice != "dewi" {
		t.Fatalf("expected mapped voice dewi, got %s", res.Voice)
	}
	if res := d.Dispatch(context.Background(), "s1", 2, "id-ID", "halo lagi"); res.Voice != "dewi" {
		t.Fatalf("region tag should fall back to base language, got %s", res.Voice)
	}
	if res := d.Dispatch(context.Background(), "s1", 3, "fr", "bonjour"); res.Voice != "aria" {
		t.Fatalf("unmapped language should use the default voice, got %s", res.Voice)
	}
}

func TestDispatchFailureDegradesToTextOnly(t *testing.T) {
	synth := &countingSynthesizer{err: errors.New("engine down")}
	d := newTestDispatcher(t, synth, VoiceMap{Default: "aria"})

	res := d.Dispatch(context.Background(), "s1", 1, "en", "hello")

	if !res.Degraded {
		t.Fatal("engine failure must degrade, not error")
	}
	if res.Audio != nil {
		t.Fatalf("degraded result must carry no audio, got %d bytes", len(res.Audio))
	}
	if synth.calls != 2 {
		t.Fatalf("expected original call plus one retry, got %d", synth.calls)
	}
}

func TestDispatchEmotionFromFullText(t *testing.T) {
	synth := &countingSynthesizer{audio: []byte{1}}
	d := newTestDispatcher(t, synth, VoiceMap{Default: "aria"})

	res := d.Dispatch(context.Background(), "s1", 1, "en", "that is amazing, truly wonderful news")
	if res.Emotion.Label == "neutral" {
		t.Fatal("emotional text should not classify neutral")
	}
}

func TestDispatchCacheHitSkipsEngine(t *testing.T) {
	synth := &countingSynthesizer{audio: []byte{9, 9}}
	d := newTestDispatcher(t, synth, VoiceMap{Default: "aria"})

	first := d.Dispatch(context.Background(), "s1", 1, "en", "Okay.")
	second := d.Dispatch(context.Background(), "s1", 2, "en", "Okay.")

	if synth.calls != 1 {
		t.Fatalf("repeat text should hit the cache, engine called %d times", synth.calls)
	}
	if !second.Cached || first.Cached {
		t.Fatalf("cache flags wrong: first %v second %v", first.Cached, second.Cached)
	}
	if len(second.Audio) != len(first.Audio) {
		t.Fatal("cached audio mismatch")
	}
}

func TestDispatchBreakerOpensOnRateLimit(t *testing.T) {
	synth := &countingSynthesizer{err: resilience.RateLimitError{Provider: "tts"}}
	d, err := NewDispatcher(synth, DispatcherConfig{
		Voices:  VoiceMap{Default: "aria"},
		Timeout: time.Second,
		Retry:   resilience.RetryPolicy{MaxRetries: 1, Backoff: time.Millisecond},
		Breaker: resilience.NewCircuitBreaker(1, time.Minute),
	}, nil)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	d.Dispatch(context.Background(), "s1", 1, "en", "first try")
	callsAfterFirst := synth.calls

	res := d.Dispatch(context.Background(), "s1", 2, "en", "second try")
	if synth.calls != callsAfterFirst {
		t.Fatalf("open breaker must block the engine call, got %d extra calls", synth.calls-callsAfterFirst)
	}
	if !res.Degraded {
		t.Fatal("breaker-denied dispatch must degrade")
	}
}

func TestDispatchNilSynthesizerDegrades(t *testing.T) {
	d := newTestDispatcher(t, nil, VoiceMap{Default: "aria"})
	res := d.Dispatch(context.Background(), "s1", 1, "en", "hello")
	if !res.Degraded || res.Audio != nil {
		t.Fatalf("nil engine must degrade text-only, got %+v", res)
	}
}

func TestCacheEvictsLRU(t *testing.T) {
	c, err := NewCache(2)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	c.Put("aria", "neutral", "one", []byte{1})
	c.Put("aria", "neutral", "two", []byte{2})
	c.Put("aria", "neutral", "three", []byte{3})
	if c.Len() != 2 {
		t.Fatalf("expected size cap of 2, got %d", c.Len())
	}
	if _, ok := c.Get("aria", "neutral", "one"); ok {
		t.Fatal("oldest entry should be evicted")
	}
	if _, ok := c.Get("aria", "neutral", "three"); !ok {
		t.Fatal("newest entry should be present")
	}
}
