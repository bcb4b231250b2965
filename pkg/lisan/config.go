package lisan

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`

	Session       SessionConfig       `mapstructure:"session"`
	Gate          GateConfig          `mapstructure:"gate"`
	Generation    GenerationConfig    `mapstructure:"generation"`
	Synthesis     SynthesisConfig     `mapstructure:"synthesis"`
	Vendors       VendorsConfig       `mapstructure:"vendors"`
	Transports    TransportsConfig    `mapstructure:"transports"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
}

type SessionConfig struct {
	Language               string `mapstructure:"language"`
	SampleRate             int    `mapstructure:"sample_rate"`
	Channels               int    `mapstructure:"channels"`
	ContextWindow          int    `mapstructure:"context_window"`
	WatchdogTimeoutMS      int    `mapstructure:"watchdog_timeout_ms"`
	FirstIncrementTargetMS int    `mapstructure:"first_increment_target_ms"`
}

type GateConfig struct {
	WindowSamples     int     `mapstructure:"window_samples"`
	Threshold         float64 `mapstructure:"threshold"`
	MinVoiceWindows   int     `mapstructure:"min_voice_windows"`
	MinSilenceWindows int     `mapstructure:"min_silence_windows"`
}

type GenerationConfig struct {
	PoolLimit     int    `mapstructure:"pool_limit"`
	AcquireWaitMS int    `mapstructure:"acquire_wait_ms"`
	TimeoutMS     int    `mapstructure:"timeout_ms"`
	ErrorText     string `mapstructure:"error_text"`
}

type SynthesisConfig struct {
	TimeoutMS         int               `mapstructure:"timeout_ms"`
	CacheSize         int               `mapstructure:"cache_size"`
	Retries           int               `mapstructure:"retries"`
	RetryBackoffMS    int               `mapstructure:"retry_backoff_ms"`
	BreakerThreshold  int               `mapstructure:"breaker_threshold"`
	BreakerCooldownMS int               `mapstructure:"breaker_cooldown_ms"`
	DefaultVoice      string            `mapstructure:"default_voice"`
	VoicesByLanguage  map[string]string `mapstructure:"voices_by_language"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	Generator   VendorConfig `mapstructure:"generator"`
	Transcriber VendorConfig `mapstructure:"transcriber"`
	Synthesizer VendorConfig `mapstructure:"synthesizer"`
}

type TransportsConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type ObservabilityConfig struct {
	ArtifactsDir  string `mapstructure:"artifacts_dir"`
	RetentionDays int    `mapstructure:"retention_days"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("session.language", "en")
	v.SetDefault("session.sample_rate", 16000)
	v.SetDefault("session.channels", 1)
	v.SetDefault("session.context_window", 5)
	v.SetDefault("session.watchdog_timeout_ms", 30000)
	v.SetDefault("session.first_increment_target_ms", 300)
	v.SetDefault("gate.window_samples", 320)
	v.SetDefault("gate.threshold", 0.02)
	v.SetDefault("gate.min_voice_windows", 3)
	v.SetDefault("gate.min_silence_windows", 30)
	v.SetDefault("generation.pool_limit", 8)
	v.SetDefault("generation.acquire_wait_ms", 2000)
	v.SetDefault("generation.timeout_ms", 15000)
	v.SetDefault("synthesis.timeout_ms", 10000)
	v.SetDefault("synthesis.cache_size", 128)
	v.SetDefault("synthesis.retries", 2)
	v.SetDefault("synthesis.retry_backoff_ms", 200)
	v.SetDefault("synthesis.breaker_threshold", 3)
	v.SetDefault("synthesis.breaker_cooldown_ms", 15000)
	v.SetDefault("synthesis.default_voice", "alloy")
	v.SetDefault("transports.provider", "ws")
	v.SetDefault("observability.artifacts_dir", "")
	v.SetDefault("observability.retention_days", 0)
	v.SetDefault("privacy.redact_pii", true)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the bindings the engine cannot run without. The
// synthesizer vendor may be empty; turns then go out text-only.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Transports.Provider) == "" {
		return fmt.Errorf("transports.provider is required")
	}
	if strings.TrimSpace(c.Vendors.Generator.Provider) == "" {
		return fmt.Errorf("vendors.generator.provider is required")
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Vendors.Generator.Settings = expandSettings(cfg.Vendors.Generator.Settings)
	cfg.Vendors.Transcriber.Settings = expandSettings(cfg.Vendors.Transcriber.Settings)
	cfg.Vendors.Synthesizer.Settings = expandSettings(cfg.Vendors.Synthesizer.Settings)
	cfg.Transports.Settings = expandSettings(cfg.Transports.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String && v.Type().Elem().Kind() == reflect.String {
			for _, key := range v.MapKeys() {
				val := v.MapIndex(key)
				expanded := os.ExpandEnv(val.String())
				v.SetMapIndex(key, reflect.ValueOf(expanded))
			}
		}
	}
}
