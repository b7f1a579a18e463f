package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Re-arm policies decide when a session accepts the next utterance after a speak directive.
const (
	RearmOnSpeechEnded = "speech_ended"
	RearmOnSpeak       = "speak"
)

// Config contains all runtime settings for the voice agent service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	SessionRetention         time.Duration
	MetricsNamespace         string
	LogLevel                 string
	LogFormat                string

	AllowAnyOrigin bool

	WelcomeDelay          time.Duration
	HistoryWindow         int
	HistoryRetention      int
	MinAudioBytes         int
	RearmPolicy           string
	PlaybackAckTimeout    time.Duration
	TranscriptionTimeout  time.Duration
	GenerationTimeout     time.Duration
	SynthesisTimeout      time.Duration
	GenerationMaxTokens   int
	GenerationTemperature float64

	DefaultLLMProvider string
	DefaultLLMModel    string
	FallbackModel      string
	DefaultASRProvider string

	OpenAIAPIKey      string
	GroqAPIKey        string
	MistralAPIKey     string
	AnthropicAPIKey   string
	GeminiAPIKey      string
	OpenRouterAPIKey  string
	OpenRouterReferer string
	DeepgramAPIKey    string
	SarvamAPIKey      string
	ElevenLabsAPIKey  string

	AgentsFile        string
	RedactTranscripts bool
	DatabaseURL       string
	RedisURL          string
	CallHistoryTTL    time.Duration
}

// LoadDotEnv loads variables from the given files (".env" when none) without
// overriding variables already present. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:           envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:   envOrDefault("APP_METRICS_NAMESPACE", "voxline"),
		LogLevel:           strings.ToLower(envOrDefault("APP_LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(envOrDefault("APP_LOG_FORMAT", "json")),
		RearmPolicy:        strings.ToLower(envOrDefault("APP_REARM_POLICY", RearmOnSpeechEnded)),
		DefaultLLMProvider: strings.ToLower(envOrDefault("APP_DEFAULT_LLM_PROVIDER", "openai")),
		DefaultLLMModel:    envOrDefault("APP_DEFAULT_LLM_MODEL", "gpt-3.5-turbo"),
		FallbackModel:      envOrDefault("APP_FALLBACK_MODEL", "openai/gpt-3.5-turbo"),
		DefaultASRProvider: strings.ToLower(envOrDefault("APP_DEFAULT_ASR_PROVIDER", "deepgram")),
		OpenAIAPIKey:       stringsTrimSpace("OPENAI_API_KEY"),
		GroqAPIKey:         stringsTrimSpace("GROQ_API_KEY"),
		MistralAPIKey:      stringsTrimSpace("MISTRAL_API_KEY"),
		AnthropicAPIKey:    stringsTrimSpace("ANTHROPIC_API_KEY"),
		GeminiAPIKey:       stringsTrimSpace("GEMINI_API_KEY"),
		OpenRouterAPIKey:   stringsTrimSpace("OPENROUTER_API_KEY"),
		OpenRouterReferer:  envOrDefault("OPENROUTER_REFERER", "http://localhost:8080"),
		DeepgramAPIKey:     stringsTrimSpace("DEEPGRAM_API_KEY"),
		SarvamAPIKey:       stringsTrimSpace("SARVAM_API_KEY"),
		ElevenLabsAPIKey:   stringsTrimSpace("ELEVENLABS_API_KEY"),
		AgentsFile:         stringsTrimSpace("APP_AGENTS_FILE"),
		DatabaseURL:        stringsTrimSpace("DATABASE_URL"),
		RedisURL:           stringsTrimSpace("REDIS_URL"),

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 5 * time.Minute,
		SessionRetention:         10 * time.Minute,
		WelcomeDelay:             500 * time.Millisecond,
		HistoryWindow:            6,
		HistoryRetention:         64,
		MinAudioBytes:            1000,
		PlaybackAckTimeout:       30 * time.Second,
		TranscriptionTimeout:     10 * time.Second,
		GenerationTimeout:        15 * time.Second,
		SynthesisTimeout:         12 * time.Second,
		GenerationMaxTokens:      80,
		GenerationTemperature:    0.7,
		RedactTranscripts:        true,
		CallHistoryTTL:           30 * 24 * time.Hour,
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"APP_SESSION_INACTIVITY_TIMEOUT", &cfg.SessionInactivityTimeout},
		{"APP_SESSION_RETENTION", &cfg.SessionRetention},
		{"APP_WELCOME_DELAY", &cfg.WelcomeDelay},
		{"APP_PLAYBACK_ACK_TIMEOUT", &cfg.PlaybackAckTimeout},
		{"APP_TRANSCRIPTION_TIMEOUT", &cfg.TranscriptionTimeout},
		{"APP_GENERATION_TIMEOUT", &cfg.GenerationTimeout},
		{"APP_SYNTHESIS_TIMEOUT", &cfg.SynthesisTimeout},
		{"APP_CALL_HISTORY_TTL", &cfg.CallHistoryTTL},
	}
	for _, d := range durations {
		*d.dst, err = durationFromEnv(d.key, *d.dst)
		if err != nil {
			return Config{}, err
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"APP_HISTORY_WINDOW", &cfg.HistoryWindow},
		{"APP_HISTORY_RETENTION", &cfg.HistoryRetention},
		{"APP_MIN_AUDIO_BYTES", &cfg.MinAudioBytes},
		{"APP_GENERATION_MAX_TOKENS", &cfg.GenerationMaxTokens},
	}
	for _, n := range ints {
		*n.dst, err = intFromEnv(n.key, *n.dst)
		if err != nil {
			return Config{}, err
		}
	}

	cfg.GenerationTemperature, err = floatFromEnv("APP_GENERATION_TEMPERATURE", cfg.GenerationTemperature)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.RedactTranscripts, err = boolFromEnv("APP_REDACT_TRANSCRIPTS", cfg.RedactTranscripts)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.HistoryWindow < 1 {
		return Config{}, fmt.Errorf("APP_HISTORY_WINDOW must be positive")
	}
	if cfg.HistoryRetention < cfg.HistoryWindow {
		return Config{}, fmt.Errorf("APP_HISTORY_RETENTION must be >= APP_HISTORY_WINDOW")
	}
	if cfg.MinAudioBytes < 0 {
		return Config{}, fmt.Errorf("APP_MIN_AUDIO_BYTES must be >= 0")
	}
	if cfg.GenerationMaxTokens <= 0 {
		return Config{}, fmt.Errorf("APP_GENERATION_MAX_TOKENS must be positive")
	}
	if cfg.GenerationTemperature < 0 || cfg.GenerationTemperature > 2 {
		return Config{}, fmt.Errorf("APP_GENERATION_TEMPERATURE must be within [0,2]")
	}
	if cfg.TranscriptionTimeout <= 0 || cfg.GenerationTimeout <= 0 || cfg.SynthesisTimeout <= 0 {
		return Config{}, fmt.Errorf("provider timeouts must be positive")
	}
	switch cfg.RearmPolicy {
	case RearmOnSpeechEnded, RearmOnSpeak:
	default:
		return Config{}, fmt.Errorf("APP_REARM_POLICY must be %q or %q", RearmOnSpeechEnded, RearmOnSpeak)
	}
	switch cfg.LogFormat {
	case "json", "console":
	default:
		return Config{}, fmt.Errorf("APP_LOG_FORMAT must be json or console")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
