package synthesis

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/satriadp/lisan/pkg/emotion"
	"github.com/satriadp/lisan/pkg/errorsx"
	"github.com/satriadp/lisan/pkg/logging"
	"github.com/satriadp/lisan/pkg/metrics"
	"github.com/satriadp/lisan/pkg/redact"
	"github.com/satriadp/lisan/pkg/resilience"
)

// VoiceMap resolves a language code to a voice identifier, falling back
// to Default for unmapped languages.
type VoiceMap struct {
	Default string
	ByLang  map[string]string
}

func (v VoiceMap) Resolve(language string) string {
	language = strings.ToLower(strings.TrimSpace(language))
	if voice, ok := v.ByLang[language]; ok {
		return voice
	}
	if i := strings.IndexByte(language, '-'); i > 0 {
		if voice, ok := v.ByLang[language[:i]]; ok {
			return voice
		}
	}
	return v.Default
}

type DispatcherConfig struct {
	Voices    VoiceMap
	Timeout   time.Duration
	CacheSize int
	Retry     resilience.RetryPolicy
	Breaker   *resilience.CircuitBreaker
}

// Result is the outcome of one dispatch. Degraded means the turn goes out
// text-only; the session still completes normally.
type Result struct {
	Audio    []byte
	Voice    string
	Emotion  emotion.Classification
	Cached   bool
	Degraded bool
}

// Dispatcher issues exactly one synthesis call per utterance, after the
// full response text is known. It resolves the voice from the language,
// classifies emotion from the complete text, and absorbs every synthesis
// failure into a text-only degradation.
type Dispatcher struct {
	synth   Synthesizer
	voices  VoiceMap
	timeout time.Duration
	cache   *Cache
	retry   resilience.RetryPolicy
	breaker *resilience.CircuitBreaker
	obs     metrics.Observer
	logger  *slog.Logger
}

func NewDispatcher(synth Synthesizer, cfg DispatcherConfig, logger *slog.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = resilience.NewRetryPolicy(2, 200*time.Millisecond)
	}
	if cfg.Breaker == nil {
		cfg.Breaker = resilience.NewCircuitBreaker(3, 30*time.Second)
	}
	cache, err := NewCache(cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{
		synth:   synth,
		voices:  cfg.Voices,
		timeout: cfg.Timeout,
		cache:   cache,
		retry:   cfg.Retry,
		breaker: cfg.Breaker,
		obs:     metrics.NoopObserver{},
		logger:  logging.NewComponentLogger(logger, "synthesis"),
	}, nil
}

func (d *Dispatcher) SetObserver(obs metrics.Observer) {
	if obs != nil {
		d.obs = obs
	}
}

// Dispatch synthesizes one complete response. A nil synthesizer, an open
// breaker, or a failed engine call all degrade to a text-only result;
// Dispatch never returns an error for the per-utterance path.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID string, utteranceID uint64, language, text string) Result {
	start := time.Now()
	cls := emotion.Classify(text)
	voice := d.voices.Resolve(language)
	res := Result{Voice: voice, Emotion: cls}

	if d.synth == nil || strings.TrimSpace(text) == "" {
		res.Degraded = d.synth == nil
		return res
	}

	if audio, ok := d.cache.Get(voice, cls.Label, text); ok {
		res.Audio = audio
		res.Cached = true
		d.record(metrics.EventSynthesisDone, sessionID, utteranceID, time.Since(start))
		return res
	}

	if !d.breaker.Allow() {
		d.logger.Warn("synthesis_breaker_open",
			slog.String("session_id", sessionID),
			slog.Uint64("utterance_id", utteranceID))
		d.record(metrics.EventBreakerDenied, sessionID, utteranceID, 0)
		res.Degraded = true
		return res
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var audio []byte
	err := d.retry.DoContext(callCtx, func() error {
		var callErr error
		audio, callErr = d.synth.Synthesize(callCtx, Request{Text: text, Voice: voice, Emotion: cls})
		return callErr
	})
	if err != nil {
		d.breaker.OnError(err)
		d.logger.Error("synthesis_failed",
			slog.String("session_id", sessionID),
			slog.Uint64("utterance_id", utteranceID),
			slog.String("reason_code", string(classify(err))),
			slog.String("text", redact.Clip(text, 80)),
			slog.String("error", err.Error()))
		res.Degraded = true
		return res
	}
	d.breaker.OnSuccess()

	if len(audio) == 0 {
		// engine declined quietly, ship text-only
		res.Degraded = true
		return res
	}

	d.cache.Put(voice, cls.Label, text, audio)
	res.Audio = audio
	d.record(metrics.EventSynthesisDone, sessionID, utteranceID, time.Since(start))
	return res
}

func classify(err error) errorsx.ReasonCode {
	switch {
	case errors.Is(err, ErrUnavailable):
		return errorsx.ReasonSynthesisUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return errorsx.ReasonSynthesisTimeout
	case resilience.IsRateLimit(err):
		return errorsx.ReasonSynthesisRateLimit
	default:
		return errorsx.ReasonSynthesisCall
	}
}

func (d *Dispatcher) record(name, sessionID string, utteranceID uint64, dur time.Duration) {
	d.obs.RecordEvent(metrics.MetricsEvent{
		Name:  name,
		Time:  time.Now(),
		Value: float64(dur.Milliseconds()),
		Tags: map[string]string{
			"session_id":   sessionID,
			"utterance_id": strconv.FormatUint(utteranceID, 10),
			"component":    "synthesis",
		},
	})
}
