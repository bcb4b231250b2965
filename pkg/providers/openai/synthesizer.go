package openai

import (
	"context"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/satriadp/lisan/pkg/synthesis"
)

type SynthesizerConfig struct {
	APIKey string
	Model  string
}

// Synthesizer renders speech through the OpenAI TTS endpoint. Emotion
// intensity maps onto playback speed since the API has no direct
// emotion control.
type Synthesizer struct {
	cfg    SynthesizerConfig
	client *openai.Client
}

func NewSynthesizer(cfg SynthesizerConfig) *Synthesizer {
	if cfg.Model == "" {
		cfg.Model = string(openai.TTSModel1)
	}
	return &Synthesizer{
		cfg:    cfg,
		client: openai.NewClient(cfg.APIKey),
	}
}

func (s *Synthesizer) Name() string { return "openai" }

func (s *Synthesizer) Synthesize(ctx context.Context, req synthesis.Request) ([]byte, error) {
	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.cfg.Model),
		Input:          req.Text,
		Voice:          openai.SpeechVoice(req.Voice),
		Speed:          speedFor(req.Emotion.Intensity),
		ResponseFormat: openai.SpeechResponseFormatWav,
	})
	if err != nil {
		return nil, mapError(err)
	}
	defer resp.Close()
	return io.ReadAll(resp)
}

// speedFor compresses the 0.5..2.0 intensity range into the narrower
// band that still sounds natural.
func speedFor(intensity float64) float64 {
	if intensity == 0 {
		return 1.0
	}
	speed := 0.9 + intensity*0.2
	if speed < 0.8 {
		speed = 0.8
	}
	if speed > 1.3 {
		speed = 1.3
	}
	return speed
}
