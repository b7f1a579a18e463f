package httpapi

import (
	"net/http"
	"slices"
	"strings"
)

type statusCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type providerStatusResponse struct {
	DefaultLLM    string        `json:"default_llm"`
	DefaultModel  string        `json:"default_model"`
	DefaultASR    string        `json:"default_asr"`
	FallbackModel string        `json:"fallback_model"`
	Aggregator    bool          `json:"aggregator"`
	LLMProviders  []string      `json:"llm_providers"`
	ASRProviders  []string      `json:"asr_providers"`
	TTSProviders  []string      `json:"tts_providers"`
	Checks        []statusCheck `json:"checks"`
}

type credential struct {
	id    string
	label string
	env   string
	value string
}

func (s *Server) credentials() []credential {
	return []credential{
		{"openai", "OpenAI (chat, whisper, speech)", "OPENAI_API_KEY", s.cfg.OpenAIAPIKey},
		{"groq", "Groq", "GROQ_API_KEY", s.cfg.GroqAPIKey},
		{"mistral", "Mistral", "MISTRAL_API_KEY", s.cfg.MistralAPIKey},
		{"anthropic", "Anthropic", "ANTHROPIC_API_KEY", s.cfg.AnthropicAPIKey},
		{"gemini", "Gemini", "GEMINI_API_KEY", s.cfg.GeminiAPIKey},
		{"openrouter", "OpenRouter (rate-limit fallback)", "OPENROUTER_API_KEY", s.cfg.OpenRouterAPIKey},
		{"deepgram", "Deepgram", "DEEPGRAM_API_KEY", s.cfg.DeepgramAPIKey},
		{"sarvam", "Sarvam", "SARVAM_API_KEY", s.cfg.SarvamAPIKey},
		{"elevenlabs", "ElevenLabs", "ELEVENLABS_API_KEY", s.cfg.ElevenLabsAPIKey},
	}
}

// handleProviderStatus reports which provider credentials are present and the
// routes sessions will actually use.
func (s *Server) handleProviderStatus(w http.ResponseWriter, _ *http.Request) {
	inv := s.inventory
	var tts []string
	if s.synthesis != nil {
		tts = s.synthesis.Providers()
	}

	resp := providerStatusResponse{
		DefaultLLM:    effectiveProvider(inv.LLMProviders, s.cfg.DefaultLLMProvider),
		DefaultModel:  s.cfg.DefaultLLMModel,
		DefaultASR:    effectiveProvider(inv.ASRProviders, s.cfg.DefaultASRProvider, "deepgram", "whisper"),
		FallbackModel: s.cfg.FallbackModel,
		Aggregator:    inv.Aggregator,
		LLMProviders:  nonNil(inv.LLMProviders),
		ASRProviders:  nonNil(inv.ASRProviders),
		TTSProviders:  nonNil(tts),
	}

	checks := make([]statusCheck, 0, 16)
	for _, c := range s.credentials() {
		if strings.TrimSpace(c.value) == "" {
			checks = append(checks, statusCheck{
				ID:     c.id + "_key",
				Status: "warn",
				Label:  c.label,
				Detail: c.env + " is not set",
				Fix:    "Set " + c.env + " to enable " + c.id + ".",
			})
			continue
		}
		checks = append(checks, statusCheck{ID: c.id + "_key", Status: "ok", Label: c.label, Detail: "present"})
	}

	if resp.DefaultLLM != strings.ToLower(strings.TrimSpace(s.cfg.DefaultLLMProvider)) {
		checks = append(checks, statusCheck{
			ID:     "default_llm",
			Status: "error",
			Label:  "Default generation route",
			Detail: s.cfg.DefaultLLMProvider + " is not configured; calls use " + resp.DefaultLLM,
			Fix:    "Configure credentials for APP_DEFAULT_LLM_PROVIDER.",
		})
	} else {
		checks = append(checks, statusCheck{ID: "default_llm", Status: "ok", Label: "Default generation route", Detail: resp.DefaultLLM})
	}
	if resp.DefaultASR == "mock" {
		checks = append(checks, statusCheck{
			ID:     "default_asr",
			Status: "warn",
			Label:  "Transcription",
			Detail: "no transcription provider configured; audio turns use the mock",
			Fix:    "Set DEEPGRAM_API_KEY or OPENAI_API_KEY.",
		})
	}

	switch inv.CallStoreMode {
	case "postgres", "redis":
		checks = append(checks, statusCheck{ID: "call_store", Status: "ok", Label: "Call history", Detail: inv.CallStoreMode})
	default:
		checks = append(checks, statusCheck{
			ID:     "call_store",
			Status: "warn",
			Label:  "Call history",
			Detail: "in-memory only",
			Fix:    "Set DATABASE_URL or REDIS_URL to keep call records across restarts.",
		})
	}
	resp.Checks = checks

	respondJSON(w, http.StatusOK, resp)
}

// effectiveProvider returns the first candidate present in registered, or mock.
func effectiveProvider(registered []string, candidates ...string) string {
	for _, c := range candidates {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" && slices.Contains(registered, c) {
			return c
		}
	}
	return "mock"
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	out := slices.Clone(in)
	slices.Sort(out)
	return out
}
