package app

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ent0n29/voxline/internal/config"
	"github.com/ent0n29/voxline/internal/llm"
	"github.com/ent0n29/voxline/internal/voice"
)

const openRouterTitle = "voxline"

// providerSet holds every backend enabled by the credentials present in cfg.
type providerSet struct {
	llm          []llm.Provider
	transcribers []voice.Transcriber
	synthesizers []voice.Synthesizer
}

func present(key string) bool { return strings.TrimSpace(key) != "" }

// resolveProviders registers a backend for each configured credential. A Gemini
// client that fails to initialize is logged and skipped; the router then resolves
// gemini routes to the mock.
func resolveProviders(ctx context.Context, cfg config.Config, logger zerolog.Logger) providerSet {
	var set providerSet

	if present(cfg.OpenAIAPIKey) {
		set.llm = append(set.llm, llm.NewOpenAI(cfg.OpenAIAPIKey))
	}
	if present(cfg.GroqAPIKey) {
		set.llm = append(set.llm, llm.NewGroq(cfg.GroqAPIKey))
	}
	if present(cfg.MistralAPIKey) {
		set.llm = append(set.llm, llm.NewMistral(cfg.MistralAPIKey))
	}
	if present(cfg.AnthropicAPIKey) {
		set.llm = append(set.llm, llm.NewAnthropic(cfg.AnthropicAPIKey))
	}
	if present(cfg.GeminiAPIKey) {
		gemini, err := llm.NewGemini(ctx, cfg.GeminiAPIKey)
		if err != nil {
			logger.Warn().Err(err).Msg("gemini client init failed, provider disabled")
		} else {
			set.llm = append(set.llm, gemini)
		}
	}
	if present(cfg.OpenRouterAPIKey) {
		set.llm = append(set.llm, llm.NewOpenRouter(cfg.OpenRouterAPIKey, cfg.OpenRouterReferer, openRouterTitle))
	}

	if present(cfg.DeepgramAPIKey) {
		set.transcribers = append(set.transcribers, voice.NewDeepgramTranscriber(voice.DeepgramConfig{APIKey: cfg.DeepgramAPIKey}))
	}
	if present(cfg.OpenAIAPIKey) {
		set.transcribers = append(set.transcribers, voice.NewWhisperTranscriber(voice.WhisperConfig{APIKey: cfg.OpenAIAPIKey}))
		set.synthesizers = append(set.synthesizers, voice.NewOpenAISynthesizer(voice.HTTPSynthConfig{APIKey: cfg.OpenAIAPIKey}))
	}
	if present(cfg.SarvamAPIKey) {
		set.synthesizers = append(set.synthesizers, voice.NewSarvamSynthesizer(voice.HTTPSynthConfig{APIKey: cfg.SarvamAPIKey}))
	}
	if present(cfg.ElevenLabsAPIKey) {
		set.synthesizers = append(set.synthesizers, voice.NewElevenLabsSynthesizer(voice.HTTPSynthConfig{APIKey: cfg.ElevenLabsAPIKey}))
	}

	return set
}

func providerNames[T interface{ Name() string }](in []T) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		out = append(out, p.Name())
	}
	return out
}
