package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/voxline/internal/agent"
	"github.com/ent0n29/voxline/internal/audio"
	"github.com/ent0n29/voxline/internal/conversation"
	"github.com/ent0n29/voxline/internal/llm"
	"github.com/ent0n29/voxline/internal/protocol"
	"github.com/ent0n29/voxline/internal/voice"
)

const (
	chatHistoryLimit = 8
	maxChatSessions  = 1024
	testLLMMessage   = "Hello, how are you?"
)

// Generator is the text generation side of the router.
type Generator interface {
	Providers() []string
	Resolve(provider, model string) llm.Route
	Generate(ctx context.Context, route llm.Route, req llm.GenerationRequest) (string, error)
}

// Transcriber runs one audio buffer through a resolved speech-to-text provider.
type Transcriber interface {
	Resolve(provider string) voice.Transcriber
	Transcribe(ctx context.Context, tr voice.Transcriber, audio []byte, language string) (string, error)
}

// chatHistories keeps one bounded window per agent/session pair. The oldest pair is
// dropped once maxChatSessions is reached.
type chatHistories struct {
	mu    sync.Mutex
	byKey map[string]*conversation.Window
	order []string
}

func newChatHistories() *chatHistories {
	return &chatHistories{byKey: make(map[string]*conversation.Window)}
}

func (h *chatHistories) window(key string) *conversation.Window {
	h.mu.Lock()
	defer h.mu.Unlock()
	if w, ok := h.byKey[key]; ok {
		return w
	}
	if len(h.order) >= maxChatSessions {
		delete(h.byKey, h.order[0])
		h.order = h.order[1:]
	}
	w := conversation.NewWindow(chatHistoryLimit)
	h.byKey[key] = w
	h.order = append(h.order, key)
	return w
}

type chatRequest struct {
	AgentID   string `json:"agent_id"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	Language  string `json:"language"`
	Model     string `json:"model"`
	Provider  string `json:"provider"`
}

type chatResponse struct {
	Success    bool   `json:"success"`
	Response   string `json:"response"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Language   string `json:"language"`
	SessionID  string `json:"session_id"`
	HistoryLen int    `json:"history_len"`
}

// chatPersona is used for text chat when no stored agent matches.
func chatPersona(id string) agent.Config {
	cfg := agent.Fallback(id)
	cfg.Name = "Test Assistant"
	cfg.Description = ""
	cfg.Prompt = "You are a helpful AI assistant. Keep responses under 50 words and be conversational."
	return cfg
}

// handleChat runs one text turn through the generation router, keeping the last
// chatHistoryLimit messages per agent and session.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.generator == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "generation not configured")
		return
	}
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = "default"
	}

	persona, err := s.lookupPersona(r.Context(), strings.TrimSpace(req.AgentID))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "agent_lookup_failed", err.Error())
		return
	}
	if v := strings.TrimSpace(req.Language); v != "" {
		persona.Language = v
	}
	if v := strings.TrimSpace(req.Model); v != "" {
		persona.Model = v
	}
	if v := strings.TrimSpace(req.Provider); v != "" {
		persona.Providers.LLM = v
	}

	history := s.chats.window(persona.ID + "-" + sessionID)
	route := s.generator.Resolve(persona.Providers.LLM, persona.Model)
	reply, err := s.generator.Generate(r.Context(), route, llm.GenerationRequest{
		System:    agent.SystemPrompt(persona),
		History:   history.Recent(chatHistoryLimit),
		Utterance: message,
		Language:  persona.Language,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("provider", route.Name()).Str("session_id", sessionID).Msg("chat generation failed")
		respondError(w, http.StatusBadGateway, "generation_failed", err.Error())
		return
	}
	history.Append(conversation.RoleUser, message)
	history.Append(conversation.RoleAssistant, reply)

	respondJSON(w, http.StatusOK, chatResponse{
		Success:    true,
		Response:   reply,
		Provider:   route.Name(),
		Model:      route.Model,
		Language:   persona.Language,
		SessionID:  sessionID,
		HistoryLen: history.Len(),
	})
}

func (s *Server) lookupPersona(ctx context.Context, id string) (agent.Config, error) {
	if id == "" || s.agents == nil {
		return chatPersona(id), nil
	}
	cfg, err := s.agents.Lookup(ctx, id)
	if errors.Is(err, agent.ErrNotFound) {
		return chatPersona(id), nil
	}
	if err != nil {
		return agent.Config{}, err
	}
	return cfg, nil
}

type testLLMRequest struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Message  string `json:"message"`
	Language string `json:"language"`
}

type testLLMResponse struct {
	Success     bool      `json:"success"`
	Provider    string    `json:"provider"`
	Requested   string    `json:"requested_provider"`
	Substituted bool      `json:"substituted"`
	Model       string    `json:"model"`
	Message     string    `json:"message"`
	Response    string    `json:"response"`
	Timestamp   time.Time `json:"timestamp"`
}

// handleTestLLM sends one message to a provider with the test persona.
func (s *Server) handleTestLLM(w http.ResponseWriter, r *http.Request) {
	if s.generator == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "generation not configured")
		return
	}
	var req testLLMRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Provider) == "" {
		req.Provider = llm.ProviderOpenAI
	}
	if strings.TrimSpace(req.Message) == "" {
		req.Message = testLLMMessage
	}
	persona := agent.Fallback("test")
	if v := strings.TrimSpace(req.Language); v != "" {
		persona.Language = v
	}

	route := s.generator.Resolve(req.Provider, req.Model)
	reply, err := s.generator.Generate(r.Context(), route, llm.GenerationRequest{
		System:    agent.SystemPrompt(persona),
		Utterance: req.Message,
		Language:  persona.Language,
	})
	if err != nil {
		respondError(w, http.StatusBadGateway, "generation_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, testLLMResponse{
		Success:     true,
		Provider:    route.Name(),
		Requested:   route.Requested,
		Substituted: route.Substituted(),
		Model:       route.Model,
		Message:     req.Message,
		Response:    reply,
		Timestamp:   time.Now().UTC(),
	})
}

type testASRRequest struct {
	Provider string              `json:"provider"`
	Language string              `json:"language"`
	Audio    protocol.AudioBytes `json:"audio"`
}

type testASRResponse struct {
	Success    bool      `json:"success"`
	Provider   string    `json:"provider"`
	Language   string    `json:"language"`
	Transcript string    `json:"transcript"`
	NoSpeech   bool      `json:"no_speech,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// handleTestASR transcribes the supplied audio, or one second of silence, with the
// resolved provider.
func (s *Server) handleTestASR(w http.ResponseWriter, r *http.Request) {
	if s.transcriber == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "transcription not configured")
		return
	}
	var req testASRRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Provider) == "" {
		req.Provider = voice.ASRDeepgram
	}
	if strings.TrimSpace(req.Language) == "" {
		req.Language = agent.DefaultLanguage
	}
	data := []byte(req.Audio)
	if len(data) == 0 {
		data = audio.SilentWAV(time.Second)
	}

	tr := s.transcriber.Resolve(req.Provider)
	text, err := s.transcriber.Transcribe(r.Context(), tr, data, req.Language)
	resp := testASRResponse{
		Success:    true,
		Provider:   tr.Name(),
		Language:   req.Language,
		Transcript: text,
		Timestamp:  time.Now().UTC(),
	}
	switch {
	case errors.Is(err, voice.ErrNoSpeech):
		resp.NoSpeech = true
	case err != nil:
		respondError(w, http.StatusBadGateway, "transcription_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

type languageOption struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type agentProvidersResponse struct {
	Registered []string                  `json:"registered"`
	Models     map[string][]string       `json:"models"`
	Voices     map[string][]voiceSummary `json:"voices"`
	Languages  []languageOption          `json:"languages"`
}

// modelCatalog lists the models offered per generation provider when building an
// agent. "meta" routes through the aggregator.
var modelCatalog = map[string][]string{
	llm.ProviderOpenAI:    {"gpt-4o", "gpt-4o-mini", "gpt-4-turbo", "gpt-3.5-turbo"},
	llm.ProviderAnthropic: {"claude-3-opus-20240229", "claude-3-sonnet-20240229", "claude-3-haiku-20240307"},
	llm.ProviderGemini:    {"gemini-1.5-pro", "gemini-1.5-flash"},
	llm.ProviderMistral:   {"mistral-large-latest", "mistral-medium-latest", "mistral-small-latest"},
	llm.ProviderGroq:      {"llama-3.3-70b-versatile", "llama-3.1-8b-instant", "mixtral-8x7b-32768"},
	"meta":                {"meta-llama/llama-3.1-70b-instruct", "meta-llama/llama-3.1-8b-instruct"},
}

var languageCatalog = []languageOption{
	{"en", "English"},
	{"en-IN", "English (India)"},
	{"es", "Spanish"},
	{"fr", "French"},
	{"de", "German"},
	{"it", "Italian"},
	{"pt", "Portuguese"},
	{"hi", "Hindi"},
	{"ja", "Japanese"},
	{"ko", "Korean"},
	{"zh", "Chinese"},
}

// handleAgentProviders returns the choices offered when configuring an agent.
func (s *Server) handleAgentProviders(w http.ResponseWriter, _ *http.Request) {
	resp := agentProvidersResponse{
		Registered: []string{},
		Models:     modelCatalog,
		Voices:     make(map[string][]voiceSummary, len(voiceCatalog)),
		Languages:  languageCatalog,
	}
	if s.generator != nil {
		resp.Registered = nonNil(s.generator.Providers())
	}
	for provider, entries := range voiceCatalog {
		voices := make([]voiceSummary, 0, len(entries))
		for _, v := range entries {
			v.Provider = provider
			voices = append(voices, v)
		}
		resp.Voices[provider] = voices
	}
	respondJSON(w, http.StatusOK, resp)
}
