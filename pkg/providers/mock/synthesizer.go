package mock

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/satriadp/lisan/pkg/synthesis"
)

// Synthesizer renders a short sine tone per request, so local runs have
// audible output without any external engine.
type Synthesizer struct {
	sampleRate int
	calls      atomic.Int64
}

func NewSynthesizer(sampleRate int) *Synthesizer {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &Synthesizer{sampleRate: sampleRate}
}

func (s *Synthesizer) Name() string { return "mock" }

func (s *Synthesizer) Calls() int64 { return s.calls.Load() }

func (s *Synthesizer) Synthesize(ctx context.Context, req synthesis.Request) ([]byte, error) {
	s.calls.Add(1)
	// roughly 60ms of tone per word, pitch scaled by intensity
	words := 1 + len(req.Text)/6
	samples := s.sampleRate * 60 * words / 1000
	freq := 440.0 * req.Emotion.Intensity
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*freq*float64(i)/float64(s.sampleRate)))
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out, nil
}
