package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ent0n29/voxline/internal/agent"
	"github.com/ent0n29/voxline/internal/voice"
)

type voiceSummary struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Provider string            `json:"provider"`
	Labels   map[string]string `json:"labels,omitempty"`
}

type listVoicesResponse struct {
	DefaultVoiceID string         `json:"default_voice_id"`
	Voices         []voiceSummary `json:"voices"`
}

// voiceCatalog lists the voices each synthesis provider accepts by name.
var voiceCatalog = map[string][]voiceSummary{
	voice.TTSOpenAI: {
		{VoiceID: "alloy", Name: "Alloy", Labels: map[string]string{"tone": "neutral"}},
		{VoiceID: "echo", Name: "Echo", Labels: map[string]string{"tone": "warm"}},
		{VoiceID: "fable", Name: "Fable", Labels: map[string]string{"accent": "british"}},
		{VoiceID: "onyx", Name: "Onyx", Labels: map[string]string{"tone": "deep"}},
		{VoiceID: "nova", Name: "Nova", Labels: map[string]string{"tone": "bright"}},
		{VoiceID: "shimmer", Name: "Shimmer", Labels: map[string]string{"tone": "soft"}},
	},
	voice.TTSSarvam: {
		{VoiceID: "meera", Name: "Meera", Labels: map[string]string{"languages": "indic"}},
		{VoiceID: "pavithra", Name: "Pavithra", Labels: map[string]string{"languages": "indic"}},
		{VoiceID: "maitreyi", Name: "Maitreyi", Labels: map[string]string{"languages": "indic"}},
		{VoiceID: "arvind", Name: "Arvind", Labels: map[string]string{"languages": "indic"}},
	},
	voice.TTSElevenLabs: {
		{VoiceID: "21m00Tcm4TlvDq8ikWAM", Name: "Rachel"},
		{VoiceID: "EXAVITQu4vr4xnSDxMaL", Name: "Sarah"},
		{VoiceID: "pFZP5JQG7iQjIQuC4Bku", Name: "Lily"},
	},
	voice.TTSMock: {
		{VoiceID: "alloy", Name: "Silence"},
	},
}

func (s *Server) handleListVoices(w http.ResponseWriter, r *http.Request) {
	provider := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("provider")))
	if provider == "" {
		provider = voice.TTSOpenAI
	}
	entries, ok := voiceCatalog[provider]
	if !ok {
		respondError(w, http.StatusNotFound, "unknown_provider", "no voice catalog for "+provider)
		return
	}
	voices := make([]voiceSummary, 0, len(entries))
	for _, v := range entries {
		v.Provider = provider
		voices = append(voices, v)
	}
	respondJSON(w, http.StatusOK, listVoicesResponse{DefaultVoiceID: entries[0].VoiceID, Voices: voices})
}

type previewRequest struct {
	AgentID  string  `json:"agent_id"`
	Text     string  `json:"text"`
	Voice    string  `json:"voice"`
	Language string  `json:"language"`
	Provider string  `json:"provider"`
	Speed    float64 `json:"speed"`
}

// withAgent fills fields the request left empty from the agent's configuration.
func (p previewRequest) withAgent(cfg agent.Config) previewRequest {
	if strings.TrimSpace(p.Voice) == "" {
		p.Voice = cfg.Voice
	}
	if strings.TrimSpace(p.Language) == "" {
		p.Language = cfg.Language
	}
	if strings.TrimSpace(p.Provider) == "" {
		p.Provider = cfg.Providers.TTS
	}
	if p.Speed <= 0 {
		p.Speed = cfg.Settings.SpeechSpeed
	}
	return p
}

// handlePreviewVoice synthesizes a short sample and returns the raw audio. With
// agent_id, empty fields default to that agent's voice settings.
func (s *Server) handlePreviewVoice(w http.ResponseWriter, r *http.Request) {
	if s.synthesis == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "synthesis not configured")
		return
	}
	var req previewRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if id := strings.TrimSpace(req.AgentID); id != "" && s.agents != nil {
		cfg, err := s.agents.Lookup(r.Context(), id)
		if errors.Is(err, agent.ErrNotFound) {
			respondError(w, http.StatusNotFound, "agent_not_found", err.Error())
			return
		}
		if err != nil {
			respondError(w, http.StatusInternalServerError, "agent_lookup_failed", err.Error())
			return
		}
		req = req.withAgent(cfg)
	}

	out, err := s.synthesis.Preview(r.Context(), req.Provider, voice.SynthesisRequest{
		Text:     req.Text,
		Voice:    req.Voice,
		Language: req.Language,
		Speed:    req.Speed,
	})
	if err != nil {
		if errors.Is(err, voice.ErrUnknownSynthesizer) {
			respondError(w, http.StatusBadRequest, "unknown_provider", err.Error())
			return
		}
		respondError(w, http.StatusBadGateway, "synthesis_failed", err.Error())
		return
	}

	w.Header().Set("Content-Type", out.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(out.Data)))
	w.Header().Set("X-Voice-Provider", out.Provider)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.Data)
}
