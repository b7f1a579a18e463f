package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ent0n29/voxline/internal/agent"
	"github.com/ent0n29/voxline/internal/callhistory"
	"github.com/ent0n29/voxline/internal/config"
	"github.com/ent0n29/voxline/internal/observability"
	"github.com/ent0n29/voxline/internal/protocol"
	"github.com/ent0n29/voxline/internal/session"
	"github.com/ent0n29/voxline/internal/voice"
)

const (
	wsReadLimit    = 8 << 20
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsQueueSize    = 64
)

type Orchestrator interface {
	OpenSession(ctx context.Context, agentID string) *session.Session
	RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error
}

type Previewer interface {
	Providers() []string
	Preview(ctx context.Context, provider string, req voice.SynthesisRequest) (voice.SynthesizedAudio, error)
}

// Inventory describes what the process was wired with, for status endpoints.
type Inventory struct {
	LLMProviders   []string
	ASRProviders   []string
	AgentStoreMode string
	CallStoreMode  string
	Aggregator     bool
}

type Deps struct {
	Sessions     *session.Manager
	Orchestrator Orchestrator
	Agents       agent.Store
	Calls        callhistory.Store
	Synthesis    Previewer
	Generator    Generator
	Transcriber  Transcriber
	Inventory    Inventory
	Metrics      *observability.Metrics
	Logger       zerolog.Logger
}

type Server struct {
	cfg          config.Config
	sessions     *session.Manager
	orchestrator Orchestrator
	agents       agent.Store
	calls        callhistory.Store
	synthesis    Previewer
	generator    Generator
	transcriber  Transcriber
	chats        *chatHistories
	inventory    Inventory
	metrics      *observability.Metrics
	logger       zerolog.Logger
	upgrader     websocket.Upgrader
}

func New(cfg config.Config, deps Deps) *Server {
	return &Server{
		cfg:          cfg,
		sessions:     deps.Sessions,
		orchestrator: deps.Orchestrator,
		agents:       deps.Agents,
		calls:        deps.Calls,
		synthesis:    deps.Synthesis,
		generator:    deps.Generator,
		transcriber:  deps.Transcriber,
		chats:        newChatHistories(),
		inventory:    deps.Inventory,
		metrics:      deps.Metrics,
		logger:       deps.Logger.With().Str("component", "httpapi").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Get("/webrtc", s.handleCallWS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/providers/status", s.handleProviderStatus)

		r.Route("/agents", func(r chi.Router) {
			r.Get("/", s.handleListAgents)
			r.Post("/", s.handleCreateAgent)
			r.Get("/{id}", s.handleGetAgent)
			r.Put("/{id}", s.handleUpdateAgent)
			r.Delete("/{id}", s.handleDeleteAgent)
		})
		r.Get("/agent/providers", s.handleAgentProviders)
		r.Post("/conversation/chat", s.handleChat)
		r.Post("/test/llm", s.handleTestLLM)
		r.Post("/test/asr", s.handleTestASR)

		r.Get("/calls", s.handleListCalls)
		r.Get("/calls/{id}", s.handleGetCall)
		r.Get("/sessions/{id}", s.handleGetSession)

		r.Get("/voices", s.handleListVoices)
		r.Post("/voice/preview", s.handlePreviewVoice)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":           "ready",
		"agent_store_mode": s.inventory.AgentStoreMode,
		"call_store_mode":  s.inventory.CallStoreMode,
		"active_sessions":  s.activeSessions(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

// handleCallWS upgrades to the duplex call channel for ?agentId=. An unknown agent
// still gets a call with the fallback persona.
func (s *Server) handleCallWS(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "orchestrator not configured")
		return
	}
	agentID := strings.TrimSpace(r.URL.Query().Get("agentId"))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sess := s.orchestrator.OpenSession(r.Context(), agentID)
	s.refreshActiveSessions()
	s.metrics.IncSessionEvent("ws_connected")
	logger := s.logger.With().Str("session_id", sess.ID).Str("agent_id", sess.AgentID).Logger()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, wsQueueSize)
	outbound := make(chan any, wsQueueSize)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		if err := s.orchestrator.RunConnection(ctx, sess, inbound, outbound); err != nil {
			logger.Warn().Err(err).Msg("call ended with error")
		}
	}()

	// The session can end on its own (janitor expiry); unblock the reader then.
	go func() {
		select {
		case <-runDone:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
				time.Now().Add(time.Second))
			cancel()
			_ = conn.Close()
		case <-ctx.Done():
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					s.metrics.IncWSMessage("outbound", "write_error")
					cancel()
					return
				}
				if t, ok := protocol.TypeOf(msg); ok {
					s.metrics.IncWSMessage("outbound", string(t))
				}
			}
		}
	}()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.metrics.IncWSMessage("inbound", "invalid")
			errEvent := protocol.ErrorEvent{
				Type:   protocol.TypeError,
				Code:   "invalid_client_message",
				Detail: err.Error(),
			}
			select {
			case outbound <- errEvent:
			default:
				// Writes stay single-threaded; drop if the queue is saturated.
			}
			continue
		}
		if t, ok := protocol.TypeOf(parsed); ok {
			s.metrics.IncWSMessage("inbound", string(t))
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	<-runDone
	<-writerDone
	s.refreshActiveSessions()
	s.metrics.IncSessionEvent("ws_disconnected")
}

func (s *Server) activeSessions() int {
	if s.sessions == nil {
		return 0
	}
	return s.sessions.ActiveCount()
}

func (s *Server) refreshActiveSessions() {
	if s.metrics == nil {
		return
	}
	s.metrics.ActiveSessions.Set(float64(s.activeSessions()))
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(started)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
