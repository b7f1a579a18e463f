// Package agent holds voice agent configurations and the directory that serves them
// to live sessions.
package agent

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound = errors.New("agent not found")
	ErrInvalid  = errors.New("invalid agent")
	ErrExists   = errors.New("agent already exists")
)

const (
	DefaultWelcomeMessage = "Hello! How can I help you today?"
	DefaultVoice          = "alloy"
	DefaultLanguage       = "en"
	DefaultModel          = "gpt-3.5-turbo"
	StatusActive          = "active"
)

// Providers selects the external capability used for each stage of a call.
type Providers struct {
	Telephony string `json:"telephony" yaml:"telephony"`
	LLM       string `json:"llm" yaml:"llm"`
	TTS       string `json:"tts" yaml:"tts"`
	ASR       string `json:"asr" yaml:"asr"`
}

// Settings are the operational knobs of an agent.
type Settings struct {
	MaxCallDurationSec int     `json:"max_call_duration" yaml:"max_call_duration"`
	SilenceTimeoutSec  int     `json:"silence_timeout" yaml:"silence_timeout"`
	Interruptible      bool    `json:"interruptible" yaml:"interruptible"`
	SpeechSpeed        float64 `json:"speech_speed" yaml:"speech_speed"`
	LatencyMode        string  `json:"latency_mode" yaml:"latency_mode"`
}

// MaxCallDuration returns the hard per-call limit, or zero when unlimited.
func (s Settings) MaxCallDuration() time.Duration {
	if s.MaxCallDurationSec <= 0 {
		return 0
	}
	return time.Duration(s.MaxCallDurationSec) * time.Second
}

// Config is an agent snapshot. It is passed by value and never mutated once a
// session has resolved it.
type Config struct {
	ID             string    `json:"id" yaml:"id"`
	Name           string    `json:"name" yaml:"name"`
	Type           string    `json:"type" yaml:"type"`
	Description    string    `json:"description" yaml:"description"`
	Prompt         string    `json:"prompt" yaml:"prompt"`
	WelcomeMessage string    `json:"welcome_message" yaml:"welcome_message"`
	Voice          string    `json:"voice" yaml:"voice"`
	Language       string    `json:"language" yaml:"language"`
	Model          string    `json:"model" yaml:"model"`
	Providers      Providers `json:"providers" yaml:"providers"`
	Settings       Settings  `json:"settings" yaml:"settings"`
	Status         string    `json:"status" yaml:"status"`
	CreatedAt      time.Time `json:"created_at" yaml:"-"`
	UpdatedAt      time.Time `json:"updated_at" yaml:"-"`
}

// Directory resolves agent ids to configuration snapshots. Implementations must be
// safe for concurrent use.
type Directory interface {
	Lookup(ctx context.Context, id string) (Config, error)
}

// Store is a Directory with a serialized write side.
type Store interface {
	Directory
	List(ctx context.Context) ([]Config, error)
	Create(ctx context.Context, cfg Config) (Config, error)
	Update(ctx context.Context, cfg Config) (Config, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// Defaults returns a Config carrying every default value. Decoders fill it in place
// so absent fields keep their defaults.
func Defaults() Config {
	return Config{
		Type:           "inbound",
		WelcomeMessage: DefaultWelcomeMessage,
		Voice:          DefaultVoice,
		Language:       DefaultLanguage,
		Model:          DefaultModel,
		Providers: Providers{
			Telephony: "twilio",
			LLM:       "openai",
			TTS:       "openai",
			ASR:       "deepgram",
		},
		Settings: Settings{
			MaxCallDurationSec: 300,
			SilenceTimeoutSec:  30,
			Interruptible:      true,
			SpeechSpeed:        1.0,
			LatencyMode:        "balanced",
		},
		Status: StatusActive,
	}
}

// Fallback is the persona used when a session names an unknown agent.
func Fallback(id string) Config {
	cfg := Defaults()
	cfg.ID = id
	cfg.Name = "Test Agent"
	cfg.Description = "A helpful AI assistant."
	cfg.Prompt = "You are a helpful AI assistant."
	return cfg
}

// Normalize trims fields and fills empty ones with defaults.
func Normalize(cfg Config) Config {
	d := Defaults()
	cfg.ID = strings.TrimSpace(cfg.ID)
	cfg.Name = strings.TrimSpace(cfg.Name)
	fill := func(dst *string, def string) {
		*dst = strings.TrimSpace(*dst)
		if *dst == "" {
			*dst = def
		}
	}
	fill(&cfg.Type, d.Type)
	fill(&cfg.WelcomeMessage, d.WelcomeMessage)
	fill(&cfg.Voice, d.Voice)
	fill(&cfg.Language, d.Language)
	fill(&cfg.Model, d.Model)
	fill(&cfg.Status, d.Status)
	fill(&cfg.Providers.Telephony, d.Providers.Telephony)
	fill(&cfg.Providers.LLM, d.Providers.LLM)
	fill(&cfg.Providers.TTS, d.Providers.TTS)
	fill(&cfg.Providers.ASR, d.Providers.ASR)
	fill(&cfg.Settings.LatencyMode, d.Settings.LatencyMode)
	cfg.Providers.LLM = strings.ToLower(cfg.Providers.LLM)
	cfg.Providers.TTS = strings.ToLower(cfg.Providers.TTS)
	cfg.Providers.ASR = strings.ToLower(cfg.Providers.ASR)
	if cfg.Settings.SpeechSpeed <= 0 {
		cfg.Settings.SpeechSpeed = d.Settings.SpeechSpeed
	}
	if cfg.Settings.MaxCallDurationSec < 0 {
		cfg.Settings.MaxCallDurationSec = 0
	}
	if cfg.Settings.SilenceTimeoutSec < 0 {
		cfg.Settings.SilenceTimeoutSec = 0
	}
	return cfg
}

// Validate reports whether cfg can be stored.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return errors.Join(ErrInvalid, errors.New("name is required"))
	}
	if strings.ContainsAny(cfg.ID, " /?#") {
		return errors.Join(ErrInvalid, errors.New("id must not contain spaces or URL delimiters"))
	}
	return nil
}

// Resolve looks up id and substitutes the fallback persona on any failure. The
// returned Config is always usable; a non-nil error says why the fallback was chosen.
func Resolve(ctx context.Context, dir Directory, id string) (Config, error) {
	if dir == nil {
		return Fallback(id), ErrNotFound
	}
	cfg, err := dir.Lookup(ctx, id)
	if err != nil {
		return Fallback(id), err
	}
	return cfg, nil
}
