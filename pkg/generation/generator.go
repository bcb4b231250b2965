package generation

import (
	"context"
	"errors"
	"time"
)

// Token is one fragment produced by the backing speech model. The first
// token of a stream may carry the ASR transcript of the user audio;
// a token with Final set marks the end of the stream.
type Token struct {
	Text       string
	Final      bool
	Transcript string
}

// Request carries one sealed utterance plus the rendered conversation
// context into a generation call.
type Request struct {
	SessionID    string
	UtteranceID  uint64
	Audio        []byte
	SampleRate   int
	Context      string
	Language     string
	UtteranceEnd time.Time
}

// Generator is the opaque speech-understanding and response model. One
// Stream call per utterance; the returned channel is closed by the
// implementation after the final token.
type Generator interface {
	Stream(ctx context.Context, req Request) (<-chan Token, error)
	Name() string
}

// Transcriber converts one sealed utterance of PCM16 audio into text.
// Generators that split speech understanding from response generation
// compose one of these in front of the language model.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error)
	Name() string
}

var (
	// ErrModelUnavailable reports that the backing model is not ready
	// to take calls.
	ErrModelUnavailable = errors.New("generation model unavailable")
	// ErrPoolBusy reports that the bounded model pool rejected the call.
	ErrPoolBusy = errors.New("generation pool busy")
)
