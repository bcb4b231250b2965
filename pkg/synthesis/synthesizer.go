package synthesis

import (
	"context"
	"errors"

	"github.com/satriadp/lisan/pkg/emotion"
)

// Request is one whole-utterance synthesis call. Text is always the
// complete response; the pipeline never synthesizes per word.
type Request struct {
	Text    string
	Voice   string
	Emotion emotion.Classification
}

// Synthesizer is the opaque text-to-speech engine. Returns encoded audio
// bytes; an empty result without error means the engine declined quietly.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) ([]byte, error)
	Name() string
}

// ErrUnavailable reports that the synthesis engine is not ready.
var ErrUnavailable = errors.New("synthesis engine unavailable")
