package generation

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/satriadp/lisan/pkg/errorsx"
	"github.com/satriadp/lisan/pkg/logging"
	"github.com/satriadp/lisan/pkg/metrics"
)

// Increment is one emitted fragment of assistant text. Increments for an
// utterance are strictly ordered by SequenceIndex; concatenating every
// Text in order yields the full response once IsFinal is observed.
type Increment struct {
	Text          string
	IsFinal       bool
	SequenceIndex int
	EmittedAtMs   int64
	Err           bool
}

// Result summarizes one finished generation stream.
type Result struct {
	Transcript       string
	FullText         string
	FirstIncrementAt time.Time
	CompletedAt      time.Time
	TotalIncrements  int
	Failed           bool
}

type StreamerConfig struct {
	Timeout   time.Duration
	ErrorText string
}

func (c StreamerConfig) withDefaults() StreamerConfig {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.ErrorText == "" {
		c.ErrorText = "Sorry, I could not come up with a response just now."
	}
	return c
}

// Streamer drives one generation call per utterance and flushes every
// increment the moment the model produces it. Nothing is accumulated
// before the first flush; batching here would add directly to perceived
// response latency. A failed or timed-out call still terminates the
// stream with a single final error increment, so no consumer is ever
// left waiting for an increment that will not arrive.
type Streamer struct {
	gen    Generator
	pool   *Pool
	cfg    StreamerConfig
	obs    metrics.Observer
	logger *slog.Logger
}

func NewStreamer(gen Generator, pool *Pool, cfg StreamerConfig, logger *slog.Logger) *Streamer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{
		gen:    gen,
		pool:   pool,
		cfg:    cfg.withDefaults(),
		obs:    metrics.NoopObserver{},
		logger: logging.NewComponentLogger(logger, "generation"),
	}
}

func (s *Streamer) SetObserver(obs metrics.Observer) {
	if obs != nil {
		s.obs = obs
	}
}

// Run streams one utterance. Each increment is handed to emit exactly
// once, in order, on the calling goroutine. Run always emits a final
// increment, error or not, before returning.
func (s *Streamer) Run(ctx context.Context, req Request, emit func(Increment)) Result {
	start := time.Now()
	if req.UtteranceEnd.IsZero() {
		req.UtteranceEnd = start
	}

	if s.pool != nil {
		if err := s.pool.Acquire(ctx); err != nil {
			return s.failPartial(req, emit, err, Result{}, 0)
		}
		defer s.pool.Release()
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	tokens, err := s.gen.Stream(callCtx, req)
	if err != nil {
		return s.failPartial(req, emit, err, Result{}, 0)
	}

	var (
		res  Result
		full strings.Builder
		seq  int
	)
	for {
		select {
		case <-callCtx.Done():
			res.Transcript = strings.TrimSpace(res.Transcript)
			return s.failPartial(req, emit, callCtx.Err(), res, seq)
		case tok, ok := <-tokens:
			if !ok {
				return s.finish(req, emit, res, full.String(), seq)
			}
			if tok.Transcript != "" {
				res.Transcript = tok.Transcript
			}
			if tok.Text != "" {
				inc := Increment{
					Text:          tok.Text,
					SequenceIndex: seq,
					EmittedAtMs:   time.Since(req.UtteranceEnd).Milliseconds(),
				}
				seq++
				full.WriteString(tok.Text)
				if res.FirstIncrementAt.IsZero() {
					res.FirstIncrementAt = time.Now()
					s.record(metrics.EventFirstIncrement, req, res.FirstIncrementAt.Sub(req.UtteranceEnd))
				}
				emit(inc)
			}
			if tok.Final {
				return s.finish(req, emit, res, full.String(), seq)
			}
		}
	}
}

func (s *Streamer) finish(req Request, emit func(Increment), res Result, full string, seq int) Result {
	emit(Increment{
		IsFinal:       true,
		SequenceIndex: seq,
		EmittedAtMs:   time.Since(req.UtteranceEnd).Milliseconds(),
	})
	res.FullText = full
	res.CompletedAt = time.Now()
	res.TotalIncrements = seq + 1
	s.record(metrics.EventGenerationDone, req, res.CompletedAt.Sub(req.UtteranceEnd))
	return res
}

// failPartial terminates an errored stream. Any increments already
// emitted stay emitted; the terminal increment carries the error text so
// the user still hears back.
func (s *Streamer) failPartial(req Request, emit func(Increment), err error, res Result, seq int) Result {
	reason := classify(err)
	s.logger.Error("generation_failed",
		slog.String("session_id", req.SessionID),
		slog.Uint64("utterance_id", req.UtteranceID),
		slog.String("reason_code", string(reason)),
		slog.String("error", err.Error()))
	emit(Increment{
		Text:          s.cfg.ErrorText,
		IsFinal:       true,
		SequenceIndex: seq,
		EmittedAtMs:   time.Since(req.UtteranceEnd).Milliseconds(),
		Err:           true,
	})
	res.FullText = s.cfg.ErrorText
	res.CompletedAt = time.Now()
	res.TotalIncrements = seq + 1
	res.Failed = true
	s.record(metrics.EventGenerationDone, req, res.CompletedAt.Sub(req.UtteranceEnd))
	return res
}

func classify(err error) errorsx.ReasonCode {
	switch {
	case errors.Is(err, ErrModelUnavailable):
		return errorsx.ReasonGenerationUnavailable
	case errors.Is(err, ErrPoolBusy):
		return errorsx.ReasonGenerationBusy
	case errors.Is(err, context.DeadlineExceeded):
		return errorsx.ReasonGenerationTimeout
	default:
		return errorsx.ReasonGenerationCall
	}
}

func (s *Streamer) record(name string, req Request, d time.Duration) {
	s.obs.RecordEvent(metrics.MetricsEvent{
		Name:  name,
		Time:  time.Now(),
		Value: float64(d.Milliseconds()),
		Tags: map[string]string{
			"session_id":   req.SessionID,
			"utterance_id": strconv.FormatUint(req.UtteranceID, 10),
			"component":    "generation",
		},
	})
}
