package lisan

import (
	"fmt"
	"strings"
	"time"

	"github.com/satriadp/lisan/pkg/configutil"
	"github.com/satriadp/lisan/pkg/generation"
	deepgramprov "github.com/satriadp/lisan/pkg/providers/deepgram"
	mockprov "github.com/satriadp/lisan/pkg/providers/mock"
	openaiprov "github.com/satriadp/lisan/pkg/providers/openai"
	"github.com/satriadp/lisan/pkg/synthesis"
)

type GeneratorFactory func(cfg Config) (generation.Generator, error)
type TranscriberFactory func(cfg Config) (generation.Transcriber, error)
type SynthesizerFactory func(cfg Config) (synthesis.Synthesizer, error)

type ProviderRegistry struct {
	generators   map[string]GeneratorFactory
	transcribers map[string]TranscriberFactory
	synthesizers map[string]SynthesizerFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		generators:   make(map[string]GeneratorFactory),
		transcribers: make(map[string]TranscriberFactory),
		synthesizers: make(map[string]SynthesizerFactory),
	}
}

func (r *ProviderRegistry) RegisterGenerator(name string, factory GeneratorFactory) {
	r.generators[normalizeName(name)] = factory
}

func (r *ProviderRegistry) RegisterTranscriber(name string, factory TranscriberFactory) {
	r.transcribers[normalizeName(name)] = factory
}

func (r *ProviderRegistry) RegisterSynthesizer(name string, factory SynthesizerFactory) {
	r.synthesizers[normalizeName(name)] = factory
}

func (r *ProviderRegistry) BuildGenerator(provider string, cfg Config) (generation.Generator, error) {
	fn := r.generators[normalizeName(provider)]
	if fn == nil {
		return nil, fmt.Errorf("generator provider not registered: %s", provider)
	}
	return fn(cfg)
}

func (r *ProviderRegistry) BuildTranscriber(provider string, cfg Config) (generation.Transcriber, error) {
	fn := r.transcribers[normalizeName(provider)]
	if fn == nil {
		return nil, fmt.Errorf("transcriber provider not registered: %s", provider)
	}
	return fn(cfg)
}

func (r *ProviderRegistry) BuildSynthesizer(provider string, cfg Config) (synthesis.Synthesizer, error) {
	fn := r.synthesizers[normalizeName(provider)]
	if fn == nil {
		return nil, fmt.Errorf("synthesizer provider not registered: %s", provider)
	}
	return fn(cfg)
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// DefaultProviderRegistry registers the built-in vendors.
func DefaultProviderRegistry() *ProviderRegistry {
	r := NewProviderRegistry()

	r.RegisterGenerator("mock", func(cfg Config) (generation.Generator, error) {
		var settings struct {
			Transcript   string `mapstructure:"transcript"`
			ResponseText string `mapstructure:"response_text"`
			TokenDelayMS int    `mapstructure:"token_delay_ms"`
		}
		if err := configutil.DecodeSettings(cfg.Vendors.Generator.Settings, &settings); err != nil {
			return nil, err
		}
		return mockprov.NewGenerator(mockprov.GeneratorConfig{
			Transcript:   settings.Transcript,
			ResponseText: settings.ResponseText,
			TokenDelay:   time.Duration(settings.TokenDelayMS) * time.Millisecond,
		}), nil
	})

	r.RegisterGenerator("openai", func(cfg Config) (generation.Generator, error) {
		if err := configutil.ValidateSettings(cfg.Vendors.Generator.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"chat_model", "whisper_model", "system_prompt"},
		}); err != nil {
			return nil, fmt.Errorf("vendors.generator.settings: %w", err)
		}
		var settings struct {
			APIKey       string `mapstructure:"api_key"`
			ChatModel    string `mapstructure:"chat_model"`
			WhisperModel string `mapstructure:"whisper_model"`
			SystemPrompt string `mapstructure:"system_prompt"`
		}
		if err := configutil.DecodeSettings(cfg.Vendors.Generator.Settings, &settings); err != nil {
			return nil, err
		}
		gcfg := openaiprov.GeneratorConfig{
			APIKey:       settings.APIKey,
			ChatModel:    settings.ChatModel,
			WhisperModel: settings.WhisperModel,
			SystemPrompt: settings.SystemPrompt,
		}
		if provider := cfg.Vendors.Transcriber.Provider; strings.TrimSpace(provider) != "" {
			transcriber, err := r.BuildTranscriber(provider, cfg)
			if err != nil {
				return nil, err
			}
			gcfg.Transcriber = transcriber
		}
		return openaiprov.NewGenerator(gcfg), nil
	})

	r.RegisterTranscriber("deepgram", func(cfg Config) (generation.Transcriber, error) {
		if err := configutil.ValidateSettings(cfg.Vendors.Transcriber.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "language", "settle_wait_ms"},
		}); err != nil {
			return nil, fmt.Errorf("vendors.transcriber.settings: %w", err)
		}
		var settings struct {
			APIKey       string `mapstructure:"api_key"`
			Model        string `mapstructure:"model"`
			Language     string `mapstructure:"language"`
			SettleWaitMS int    `mapstructure:"settle_wait_ms"`
		}
		if err := configutil.DecodeSettings(cfg.Vendors.Transcriber.Settings, &settings); err != nil {
			return nil, err
		}
		language := settings.Language
		if language == "" {
			language = cfg.Session.Language
		}
		return deepgramprov.New(deepgramprov.Config{
			APIKey:     settings.APIKey,
			Model:      settings.Model,
			Language:   language,
			SettleWait: time.Duration(settings.SettleWaitMS) * time.Millisecond,
		}), nil
	})

	r.RegisterSynthesizer("mock", func(cfg Config) (synthesis.Synthesizer, error) {
		return mockprov.NewSynthesizer(cfg.Session.SampleRate), nil
	})

	r.RegisterSynthesizer("openai", func(cfg Config) (synthesis.Synthesizer, error) {
		if err := configutil.ValidateSettings(cfg.Vendors.Synthesizer.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model"},
		}); err != nil {
			return nil, fmt.Errorf("vendors.synthesizer.settings: %w", err)
		}
		var settings struct {
			APIKey string `mapstructure:"api_key"`
			Model  string `mapstructure:"model"`
		}
		if err := configutil.DecodeSettings(cfg.Vendors.Synthesizer.Settings, &settings); err != nil {
			return nil, err
		}
		return openaiprov.NewSynthesizer(openaiprov.SynthesizerConfig{
			APIKey: settings.APIKey,
			Model:  settings.Model,
		}), nil
	})

	return r
}
