package mock

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/satriadp/lisan/pkg/generation"
)

type GeneratorConfig struct {
	Transcript   string
	ResponseText string
	TokenDelay   time.Duration
}

// Generator is an in-memory generation backend for local runs and tests.
// It echoes a scripted response one word at a time.
type Generator struct {
	cfg   GeneratorConfig
	calls atomic.Int64
}

func NewGenerator(cfg GeneratorConfig) *Generator {
	if cfg.Transcript == "" {
		cfg.Transcript = "mock utterance"
	}
	if cfg.ResponseText == "" {
		cfg.ResponseText = "This is a mock response."
	}
	return &Generator{cfg: cfg}
}

func (g *Generator) Name() string { return "mock" }

func (g *Generator) Calls() int64 { return g.calls.Load() }

func (g *Generator) Stream(ctx context.Context, req generation.Request) (<-chan generation.Token, error) {
	g.calls.Add(1)
	out := make(chan generation.Token, 8)
	go func() {
		defer close(out)
		select {
		case out <- generation.Token{Transcript: g.cfg.Transcript}:
		case <-ctx.Done():
			return
		}
		words := strings.Fields(g.cfg.ResponseText)
		for i, w := range words {
			if g.cfg.TokenDelay > 0 {
				select {
				case <-time.After(g.cfg.TokenDelay):
				case <-ctx.Done():
					return
				}
			}
			text := w
			if i > 0 {
				text = " " + w
			}
			select {
			case out <- generation.Token{Text: text}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
