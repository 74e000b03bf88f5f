// Package config loads the call agent's configuration from the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the call agent service.
type Config struct {
	// Server configuration
	Port          string `envconfig:"PORT" default:"8080"`
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL" default:""`
	StreamWSPath  string `envconfig:"STREAM_WS_PATH" default:"/streams/inbound"`
	OutboundWSURL string `envconfig:"OUTBOUND_WS_URL" default:""`

	// Deepgram STT configuration
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" required:"true"`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`
	STTMaxConcurrent int    `envconfig:"STT_MAX_CONCURRENT" default:"2"`

	// TTS provider configuration (streaming WebSocket, ElevenLabs-shaped contract)
	TTSAPIKey          string `envconfig:"TTS_API_KEY" required:"true"`
	TTSVoiceID         string `envconfig:"TTS_VOICE_ID" default:"21m00Tcm4TlvDq8ikWAM"`
	TTSFallbackVoiceID string `envconfig:"TTS_FALLBACK_VOICE_ID" default:"EXAVITQu4vr4xnSDxMaL"`
	TTSModelID         string `envconfig:"TTS_MODEL_ID" default:"eleven_turbo_v2"`

	// LLM configuration (OpenAI-compatible streaming chat completion)
	LLMAPIKey  string `envconfig:"LLM_API_KEY" default:""`
	LLMModel   string `envconfig:"LLM_MODEL" default:"gpt-4o-mini"`
	LLMBaseURL string `envconfig:"LLM_BASE_URL" default:""`

	// Carrier (telephony provider) credentials
	CarrierAccountSID   string `envconfig:"CARRIER_ACCOUNT_SID" default:""`
	CarrierAPIKeySID    string `envconfig:"CARRIER_API_KEY_SID" default:""`
	CarrierAPIKeySecret string `envconfig:"CARRIER_API_KEY_SECRET" default:""`
	CarrierAuthToken    string `envconfig:"CARRIER_AUTH_TOKEN" default:""`
	CarrierFromNumber   string `envconfig:"CARRIER_FROM_NUMBER" default:""`
	CarrierAppSID       string `envconfig:"CARRIER_APP_SID" default:""`

	// Voice access token signing (stands in for the carrier's opaque JWT, §6)
	VoiceTokenSigningKey string        `envconfig:"VOICE_TOKEN_SIGNING_KEY" default:"dev-signing-key"`
	VoiceTokenTTL        time.Duration `envconfig:"VOICE_TOKEN_TTL" default:"1h"`

	// Calendar service account credentials (JSON key file path)
	CalendarCredentialsFile string `envconfig:"CALENDAR_CREDENTIALS_FILE" default:""`
	CalendarID              string `envconfig:"CALENDAR_ID" default:"primary"`

	// Phonebook
	PhonebookPath string `envconfig:"PHONEBOOK_PATH" default:"./phonebook.json"`

	// Persistence (append-only audit logs)
	AuditDBPath string `envconfig:"AUDIT_DB_PATH" default:"./callagent-audit.db"`

	// Language preference for TTS/translation
	PreferredLanguage string `envconfig:"PREFERRED_LANGUAGE" default:"en"`

	// Session lifecycle
	SessionIdleTimeout time.Duration `envconfig:"SESSION_IDLE_TIMEOUT" default:"10m"`
	SessionEndingGrace time.Duration `envconfig:"SESSION_ENDING_GRACE" default:"10s"`
	SessionSweepPeriod time.Duration `envconfig:"SESSION_SWEEP_PERIOD" default:"2m"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"`
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"3"`
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"2000"`

	// Outbound audio jitter buffer (bytes of mu-law 8kHz audio, ~2s at default size)
	AudioBufferSize int `envconfig:"AUDIO_BUFFER_SIZE" default:"16000"`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from environment variables, first attempting to load a
// .env file if one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return load()
}

// LoadFromEnv loads configuration directly from the environment, without attempting
// to read a .env file. Useful for containerized deployments.
func LoadFromEnv() (*Config, error) {
	return load()
}

func load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.DeepgramAPIKey == "" {
		return nil, fmt.Errorf("DEEPGRAM_API_KEY is required")
	}
	if cfg.TTSAPIKey == "" {
		return nil, fmt.Errorf("TTS_API_KEY is required")
	}

	return &cfg, nil
}

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
