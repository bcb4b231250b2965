package openai

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	wav "github.com/youpy/go-wav"

	"github.com/satriadp/lisan/pkg/generation"
	"github.com/satriadp/lisan/pkg/resilience"
)

type GeneratorConfig struct {
	APIKey       string
	ChatModel    string
	WhisperModel string
	SystemPrompt string
	// Transcriber overrides Whisper for speech understanding when set.
	Transcriber generation.Transcriber
}

// Generator drives transcribe-and-generate against the OpenAI API:
// Whisper (or an injected transcriber) for the utterance audio, then a
// streamed chat completion for the response.
type Generator struct {
	cfg    GeneratorConfig
	client *openai.Client
}

func NewGenerator(cfg GeneratorConfig) *Generator {
	if cfg.ChatModel == "" {
		cfg.ChatModel = openai.GPT4oMini
	}
	if cfg.WhisperModel == "" {
		cfg.WhisperModel = openai.Whisper1
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = "You are a helpful voice assistant. Answer briefly; your reply is spoken aloud."
	}
	return &Generator{
		cfg:    cfg,
		client: openai.NewClient(cfg.APIKey),
	}
}

func (g *Generator) Name() string { return "openai" }

func (g *Generator) Stream(ctx context.Context, req generation.Request) (<-chan generation.Token, error) {
	transcript, err := g.transcribe(ctx, req)
	if err != nil {
		return nil, mapError(err)
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: g.systemPrompt(req)},
		{Role: openai.ChatMessageRoleUser, Content: transcript},
	}
	stream, err := g.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    g.cfg.ChatModel,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, mapError(err)
	}

	out := make(chan generation.Token, 64)
	go func() {
		defer close(out)
		defer stream.Close()
		select {
		case out <- generation.Token{Transcript: transcript}:
		case <-ctx.Done():
			return
		}
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				select {
				case out <- generation.Token{Final: true}:
				case <-ctx.Done():
				}
				return
			}
			if err != nil {
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			if text := resp.Choices[0].Delta.Content; text != "" {
				select {
				case out <- generation.Token{Text: text}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (g *Generator) transcribe(ctx context.Context, req generation.Request) (string, error) {
	if g.cfg.Transcriber != nil {
		return g.cfg.Transcriber.Transcribe(ctx, req.Audio, req.SampleRate)
	}
	resp, err := g.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    g.cfg.WhisperModel,
		FilePath: "utterance.wav",
		Reader:   bytes.NewReader(wrapWAV(req.Audio, req.SampleRate)),
		Language: req.Language,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

func (g *Generator) systemPrompt(req generation.Request) string {
	if req.Context == "" {
		return g.cfg.SystemPrompt
	}
	return g.cfg.SystemPrompt + "\n\nConversation so far:\n" + req.Context
}

// wrapWAV puts a RIFF header around raw PCM16 so the transcription
// endpoint can detect the format.
func wrapWAV(pcm []byte, sampleRate int) []byte {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	var buf bytes.Buffer
	w := wav.NewWriter(&buf, uint32(len(pcm)/2), 1, uint32(sampleRate), 16)
	_, _ = w.Write(pcm)
	return buf.Bytes()
}

func mapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests:
			return resilience.RateLimitError{Provider: "openai", Message: apiErr.Message}
		case http.StatusServiceUnavailable, http.StatusBadGateway:
			return generation.ErrModelUnavailable
		}
	}
	return err
}
