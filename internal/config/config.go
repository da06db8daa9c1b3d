// Package config loads and validates the voicebot core's runtime
// configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every environment-resolved setting the core needs, grouped
// by concern: credentials, PBX, STT, media, persistence, and timeouts.
type Config struct {
	// Observability
	MetricsAddr    string
	OTLPEndpoint   string
	OTelServiceName string

	// Credentials (§6 Environment variables)
	OpenAIAPIKey  string
	RUTWebhookURL string

	// PBX (consumed ARI interface, §6)
	ARIApp      string
	TenantID    string
	ARIURL      string
	ARIUsername string
	ARIPassword string

	// Media plane
	ExternalMediaHost string
	ExternalPortMin   int
	ExternalPortMax   int
	SoundsRoot        string
	RecordingsRoot    string

	// Persistence
	RedisAddr string

	// Timeouts (§5, all configurable, defaults per spec)
	AudioReadyContractTimeout time.Duration
	AudioReadyEventTimeout    time.Duration
	VoiceStartTimeout         time.Duration
	PostPlaybackGuard         time.Duration
	MinSilenceMs              time.Duration
	MaxUtterance              time.Duration
	MaxRecordingPerTurn       time.Duration
	TranscriptWait            time.Duration
	WebhookBackgroundTimeout  time.Duration
	StreamStableThreshold     time.Duration
	WebhookDebounceMs         time.Duration

	// Turn-taking caps (§4.6)
	MaxTurns           int
	MaxSilentTurns     int
	MinAudioInputMs    time.Duration
	EarlyStableDeltaCount int // Open Question #2: N consecutive empty deltas

	LogLevel string
}

// Load resolves Config from the environment, applying sane defaults and
// failing only on the values that are genuinely required.
func Load() (*Config, error) {
	cfg := &Config{
		MetricsAddr:     envOr("METRICS_ADDR", "127.0.0.1:9090"),
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTelServiceName: envOr("OTEL_SERVICE_NAME", "voicebot"),

		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		RUTWebhookURL: os.Getenv("RUT_WEBHOOK_URL"),

		ARIApp:      envOr("ARI_APP", "crm_app"),
		TenantID:    os.Getenv("TENANT_ID"),
		ARIURL:      envOr("ARI_URL", "http://127.0.0.1:8088"),
		ARIUsername: os.Getenv("ARI_USERNAME"),
		ARIPassword: os.Getenv("ARI_PASSWORD"),

		ExternalMediaHost: envOr("EXTERNAL_MEDIA_HOST", "127.0.0.1"),
		ExternalPortMin:   envOrInt("EXTERNAL_MEDIA_PORT_MIN", 40000),
		ExternalPortMax:   envOrInt("EXTERNAL_MEDIA_PORT_MAX", 40100),
		SoundsRoot:        envOr("SOUNDS_ROOT", "/var/lib/voicebot/sounds"),
		RecordingsRoot:    envOr("RECORDINGS_ROOT", "/var/lib/voicebot/recordings"),

		RedisAddr: envOr("REDIS_ADDR", "127.0.0.1:6379"),

		AudioReadyContractTimeout: envOrMs("TIMEOUT_AUDIO_READY_CONTRACT_MS", 2000),
		AudioReadyEventTimeout:    envOrMs("TIMEOUT_AUDIO_READY_EVENT_MS", 5000),
		VoiceStartTimeout:         envOrMs("TIMEOUT_VOICE_START_MS", 4000),
		PostPlaybackGuard:         envOrMs("TIMEOUT_POST_PLAYBACK_GUARD_MS", 400),
		MinSilenceMs:              envOrMs("MIN_SILENCE_MS", 800),
		MaxUtterance:              envOrMs("TIMEOUT_MAX_UTTERANCE_MS", 5000),
		MaxRecordingPerTurn:       envOrMs("TIMEOUT_MAX_RECORDING_MS", 15000),
		TranscriptWait:            envOrMs("TIMEOUT_TRANSCRIPT_WAIT_MS", 3000),
		WebhookBackgroundTimeout:  envOrMs("TIMEOUT_WEBHOOK_BACKGROUND_MS", 10000),
		StreamStableThreshold:     envOrMs("STREAM_STABLE_THRESHOLD_MS", 300),
		WebhookDebounceMs:         envOrMs("WEBHOOK_DEBOUNCE_MS", 900),

		MaxTurns:              envOrInt("MAX_TURNS", 15),
		MaxSilentTurns:        envOrInt("MAX_SILENT_TURNS", 3),
		MinAudioInputMs:       envOrMs("MIN_AUDIO_INPUT_MS", 180),
		EarlyStableDeltaCount: envOrInt("EARLY_STABLE_DELTA_COUNT", 2),

		LogLevel: envOr("LOG_LEVEL", "info"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants Load cannot express through defaults alone.
func (c *Config) Validate() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("config: OPENAI_API_KEY is required")
	}
	if c.ExternalPortMin <= 0 || c.ExternalPortMax <= c.ExternalPortMin {
		return fmt.Errorf("config: invalid external media port range [%d,%d]", c.ExternalPortMin, c.ExternalPortMax)
	}
	if c.EarlyStableDeltaCount < 1 {
		return fmt.Errorf("config: EARLY_STABLE_DELTA_COUNT must be >= 1")
	}
	return nil
}

// RequireWebhookURL additionally enforces the production requirement that
// RUT_WEBHOOK_URL is set; callers gate this on their own environment flag.
func (c *Config) RequireWebhookURL() error {
	if c.RUTWebhookURL == "" {
		return fmt.Errorf("config: RUT_WEBHOOK_URL is required in production")
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrMs(key string, defMs int) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Millisecond
		}
	}
	return time.Duration(defMs) * time.Millisecond
}
