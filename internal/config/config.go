package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Recognizer backends
const (
	RecognizerDeepgram = "deepgram"
	RecognizerWhisper  = "whisper"
)

// Enhancer backends
const (
	EnhancerGRPC = "grpc"
	EnhancerNone = "none"
)

// Config holds all configuration for the transcription service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Storage root for downloaded media, intermediate audio and transcripts.
	// Every component writes below this directory and nowhere else.
	StorageRoot string `envconfig:"STORAGE_ROOT" default:"."`

	// External tools
	YtdlpPath  string `envconfig:"YTDLP_PATH" default:"yt-dlp"`
	FFmpegPath string `envconfig:"FFMPEG_PATH" default:"ffmpeg"`

	// Segmentation configuration
	MaxSegmentMs       int     `envconfig:"MAX_SEGMENT_MS" default:"120000"`    // Tracks at or below this length are not split
	SilenceThresholdDB float64 `envconfig:"SILENCE_THRESHOLD_DB" default:"-50"` // dBFS below which audio counts as silence
	MinSilenceMs       int     `envconfig:"MIN_SILENCE_MS" default:"80"`        // Shortest silence run that splits a track

	// Per-call deadlines (seconds)
	FetchTimeout     int `envconfig:"FETCH_TIMEOUT" default:"600"`
	RecognizeTimeout int `envconfig:"RECOGNIZE_TIMEOUT" default:"120"`
	EnhanceTimeout   int `envconfig:"ENHANCE_TIMEOUT" default:"60"`

	// Number of media items processed concurrently. 1 keeps the strictly sequential behaviour.
	Workers int `envconfig:"WORKERS" default:"1"`

	// Speech recognizer configuration
	Recognizer       string `envconfig:"RECOGNIZER" default:"deepgram"` // deepgram, whisper
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`
	WhisperAPIURL    string `envconfig:"WHISPER_API_URL" default:""` // e.g. https://api.openai.com/v1/audio/transcriptions
	WhisperAPIKey    string `envconfig:"WHISPER_API_KEY" default:""`
	WhisperModel     string `envconfig:"WHISPER_MODEL" default:"whisper-1"`

	// Punctuation/casing model configuration
	Enhancer           string `envconfig:"ENHANCER" default:"grpc"` // grpc, none
	EnhancerURL        string `envconfig:"ENHANCER_URL" default:"localhost:50052"`
	EnhancerTLSEnabled bool   `envconfig:"ENHANCER_TLS_ENABLED" default:"false"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum attempts for fetch and enhance calls
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"500"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Maximum enhancer dial attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Dial backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks backend-specific required fields and value ranges
func (c *Config) Validate() error {
	c.Recognizer = strings.ToLower(strings.TrimSpace(c.Recognizer))
	c.Enhancer = strings.ToLower(strings.TrimSpace(c.Enhancer))

	switch c.Recognizer {
	case RecognizerDeepgram:
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required")
		}
	case RecognizerWhisper:
		if c.WhisperAPIURL == "" {
			return fmt.Errorf("WHISPER_API_URL is required")
		}
	default:
		return fmt.Errorf("unknown RECOGNIZER %q", c.Recognizer)
	}

	switch c.Enhancer {
	case EnhancerGRPC:
		if c.EnhancerURL == "" {
			return fmt.Errorf("ENHANCER_URL is required")
		}
	case EnhancerNone:
	default:
		return fmt.Errorf("unknown ENHANCER %q", c.Enhancer)
	}

	if c.StorageRoot == "" {
		return fmt.Errorf("STORAGE_ROOT is required")
	}
	if c.MaxSegmentMs <= 0 {
		return fmt.Errorf("MAX_SEGMENT_MS must be > 0, got %d", c.MaxSegmentMs)
	}
	if c.MinSilenceMs <= 0 {
		return fmt.Errorf("MIN_SILENCE_MS must be > 0, got %d", c.MinSilenceMs)
	}
	if c.SilenceThresholdDB >= 0 {
		return fmt.Errorf("SILENCE_THRESHOLD_DB must be negative dBFS, got %v", c.SilenceThresholdDB)
	}
	if c.Workers < 1 {
		c.Workers = 1
	}

	return nil
}

// FetchDeadline returns the per-call deadline for the media fetch tool
func (c *Config) FetchDeadline() time.Duration {
	return time.Duration(c.FetchTimeout) * time.Second
}

// RecognizeDeadline returns the per-segment deadline for the recognizer
func (c *Config) RecognizeDeadline() time.Duration {
	return time.Duration(c.RecognizeTimeout) * time.Second
}

// EnhanceDeadline returns the per-item deadline for the punctuation model
func (c *Config) EnhanceDeadline() time.Duration {
	return time.Duration(c.EnhanceTimeout) * time.Second
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
