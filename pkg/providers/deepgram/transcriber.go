package deepgram

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/satriadp/lisan/pkg/errorsx"
	"github.com/satriadp/lisan/pkg/logging"
)

type Config struct {
	APIKey   string
	Model    string
	Language string
	// SettleWait bounds how long to wait after the audio is written
	// for the last final transcript to arrive.
	SettleWait time.Duration
}

// Transcriber sends one sealed utterance of PCM16 audio over the
// Deepgram live websocket and collects the final transcript. Each call
// opens a fresh connection; the utterance is already bounded, so there
// is nothing to keep alive between turns.
type Transcriber struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config) *Transcriber {
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.SettleWait <= 0 {
		cfg.SettleWait = 3 * time.Second
	}
	baseLogger := slog.Default()
	return &Transcriber{
		cfg:    cfg,
		logger: logging.NewComponentLogger(baseLogger, "deepgram_transcriber"),
	}
}

func (t *Transcriber) Name() string { return "deepgram" }

func (t *Transcriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	clientOptions := &interfaces.ClientOptions{}
	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:       t.cfg.Model,
		Language:    t.cfg.Language,
		Encoding:    "linear16",
		SampleRate:  sampleRate,
		SmartFormat: true,
	}

	cb := &collector{
		logger: t.logger,
		done:   make(chan struct{}),
	}

	dgClient, err := client.NewWSUsingCallback(ctx, t.cfg.APIKey, clientOptions, transcriptOptions, cb)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonGenerationUnavailable)
	}
	if connected := dgClient.Connect(); !connected {
		return "", errorsx.New("deepgram connect failed", errorsx.ReasonGenerationUnavailable)
	}
	defer dgClient.Stop()

	pipeReader, pipeWriter := io.Pipe()
	go func() {
		if err := dgClient.Stream(pipeReader); err != nil && ctx.Err() == nil {
			t.logger.Error("deepgram_stream_error", slog.String("error", err.Error()))
		}
	}()

	if _, err := pipeWriter.Write(pcm); err != nil {
		_ = pipeWriter.Close()
		return "", errorsx.Wrap(err, errorsx.ReasonGenerationCall)
	}
	// Closing the writer ends the stream so the server finalizes the
	// pending transcript.
	_ = pipeWriter.Close()

	select {
	case <-cb.done:
	case <-time.After(t.cfg.SettleWait):
		t.logger.Warn("deepgram_settle_timeout",
			slog.Duration("settle_wait", t.cfg.SettleWait))
	case <-ctx.Done():
		return "", ctx.Err()
	}

	return cb.transcript(), nil
}

// collector implements the live websocket callback and accumulates
// final transcript segments.
type collector struct {
	logger *slog.Logger

	mu    sync.Mutex
	parts []string

	doneOnce sync.Once
	done     chan struct{}
}

func (c *collector) transcript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.TrimSpace(strings.Join(c.parts, " "))
}

func (c *collector) finish() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *collector) Open(or *msginterfaces.OpenResponse) error {
	c.logger.Debug("deepgram_connection_opened")
	return nil
}

func (c *collector) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	transcript := mr.Channel.Alternatives[0].Transcript
	if transcript == "" {
		return nil
	}
	if mr.IsFinal || mr.SpeechFinal {
		c.mu.Lock()
		c.parts = append(c.parts, transcript)
		c.mu.Unlock()
		c.logger.Debug("transcript_received",
			slog.String("transcript", transcript),
			slog.Bool("speech_final", mr.SpeechFinal))
	}
	if mr.SpeechFinal {
		c.finish()
	}
	return nil
}

func (c *collector) Metadata(md *msginterfaces.MetadataResponse) error {
	c.logger.Debug("deepgram_metadata_received",
		slog.String("request_id", md.RequestID))
	return nil
}

func (c *collector) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	return nil
}

func (c *collector) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	c.finish()
	return nil
}

func (c *collector) Close(cr *msginterfaces.CloseResponse) error {
	c.finish()
	return nil
}

func (c *collector) Error(er *msginterfaces.ErrorResponse) error {
	c.logger.Error("deepgram_error",
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	c.finish()
	return nil
}

func (c *collector) UnhandledEvent(byData []byte) error {
	c.logger.Debug("deepgram_unhandled_event",
		slog.String("data", string(byData)))
	return nil
}
