package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/voxline/internal/agent"
	"github.com/ent0n29/voxline/internal/callhistory"
	"github.com/ent0n29/voxline/internal/config"
	"github.com/ent0n29/voxline/internal/conversation"
	"github.com/ent0n29/voxline/internal/policy"
	"github.com/ent0n29/voxline/internal/protocol"
	"github.com/ent0n29/voxline/internal/session"
)

const (
	agentLookupTimeout = 2 * time.Second
	callRecordTimeout  = 2 * time.Second
)

// ErrShuttingDown is returned by RunConnection once Shutdown has started.
var ErrShuttingDown = errors.New("orchestrator shutting down")

type OrchestratorConfig struct {
	WelcomeDelay       time.Duration
	HistoryWindow      int
	HistoryRetention   int
	RearmPolicy        string
	PlaybackAckTimeout time.Duration
	RedactTranscripts  bool
}

// Orchestrator owns the lifecycle of every live call: it resolves the agent,
// runs the welcome sequence, feeds inbound messages to the turn controller and
// records the call when the channel closes.
type Orchestrator struct {
	cfg           OrchestratorConfig
	sessions      *session.Manager
	agents        agent.Directory
	transcription *Transcription
	generator     Generator
	calls         callhistory.Store
	observer      Observer
	logger        zerolog.Logger

	connMu   sync.Mutex
	conns    map[string]context.CancelFunc
	draining bool
	// inflight counts running connections and pending call record saves.
	inflight sync.WaitGroup
}

func NewOrchestrator(
	cfg OrchestratorConfig,
	sessions *session.Manager,
	agents agent.Directory,
	transcription *Transcription,
	generator Generator,
	calls callhistory.Store,
	observer Observer,
	logger zerolog.Logger,
) *Orchestrator {
	if cfg.HistoryWindow < 1 {
		cfg.HistoryWindow = 6
	}
	if cfg.HistoryRetention < cfg.HistoryWindow {
		cfg.HistoryRetention = cfg.HistoryWindow
	}
	if cfg.PlaybackAckTimeout <= 0 {
		cfg.PlaybackAckTimeout = 30 * time.Second
	}
	if cfg.RearmPolicy != config.RearmOnSpeak {
		cfg.RearmPolicy = config.RearmOnSpeechEnded
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Orchestrator{
		cfg:           cfg,
		sessions:      sessions,
		agents:        agents,
		transcription: transcription,
		generator:     generator,
		calls:         calls,
		observer:      observer,
		logger:        logger.With().Str("component", "orchestrator").Logger(),
		conns:         make(map[string]context.CancelFunc),
	}
}

// OpenSession resolves agentID and registers a session holding the agent snapshot.
// An unknown agent never fails the call: the fallback persona is used instead.
func (o *Orchestrator) OpenSession(ctx context.Context, agentID string) *session.Session {
	lookupCtx, cancel := context.WithTimeout(ctx, agentLookupTimeout)
	defer cancel()

	cfg, err := agent.Resolve(lookupCtx, o.agents, strings.TrimSpace(agentID))
	fallback := err != nil
	if fallback {
		lvl := zerolog.WarnLevel
		if !errors.Is(err, agent.ErrNotFound) {
			lvl = zerolog.ErrorLevel
		}
		o.logger.WithLevel(lvl).Err(err).Str("agent_id", agentID).Msg("agent lookup failed, using fallback persona")
		o.observer.IncSessionEvent("agent_fallback")
	}

	s := o.sessions.Create(cfg, fallback)
	o.observer.IncSessionEvent("opened")
	return s
}

// RunConnection drives one call over a duplex channel until ctx is cancelled, the
// inbound channel is closed or the session is terminated. outbound is never closed.
func (o *Orchestrator) RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !o.track(s.ID, cancel) {
		_, _ = o.sessions.End(s.ID, session.EndClosed)
		return ErrShuttingDown
	}
	defer o.inflight.Done()
	defer o.untrack(s.ID)

	c := o.newCall(ctx, s, outbound)
	defer o.finish(c, cancel)

	c.logger.Info().
		Str("llm", c.route.Name()).
		Str("model", c.route.Model).
		Str("asr", c.asr.Name()).
		Bool("fallback_agent", s.FallbackAgent).
		Msg("call started")
	if c.route.Substituted() {
		c.logger.Warn().
			Str("requested", c.route.Requested).
			Str("resolved", c.route.Name()).
			Msg("generation provider unavailable, using default route")
	}

	go c.welcome()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			_ = o.sessions.Touch(s.ID)
			c.dispatch(msg)
		}
	}
}

// Terminate closes the live connection of sessionID, if any.
func (o *Orchestrator) Terminate(sessionID string) bool {
	o.connMu.Lock()
	cancel, ok := o.conns[sessionID]
	o.connMu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Shutdown refuses new connections, terminates the live ones and waits until
// their call records are saved or ctx is done.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.connMu.Lock()
	o.draining = true
	live := len(o.conns)
	for _, cancel := range o.conns {
		cancel()
	}
	o.connMu.Unlock()
	if live > 0 {
		o.logger.Info().Int("calls", live).Msg("terminating live calls")
	}

	done := make(chan struct{})
	go func() {
		o.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain calls: %w", ctx.Err())
	}
}

func (o *Orchestrator) track(id string, cancel context.CancelFunc) bool {
	o.connMu.Lock()
	defer o.connMu.Unlock()
	if o.draining {
		return false
	}
	o.conns[id] = cancel
	o.inflight.Add(1)
	return true
}

func (o *Orchestrator) untrack(id string) {
	o.connMu.Lock()
	delete(o.conns, id)
	o.connMu.Unlock()
}

func (o *Orchestrator) newCall(ctx context.Context, s *session.Session, outbound chan<- any) *call {
	cfg := s.Agent
	c := &call{
		o:        o,
		ctx:      ctx,
		id:       s.ID,
		agent:    cfg,
		route:    o.generator.Resolve(cfg.Providers.LLM, cfg.Model),
		asr:      o.transcription.Resolve(cfg.Providers.ASR),
		system:   agent.SystemPrompt(cfg),
		history:  conversation.NewWindow(o.cfg.HistoryRetention),
		outbound: outbound,
		logger: o.logger.With().
			Str("session_id", s.ID).
			Str("agent_id", cfg.ID).
			Logger(),
	}
	// The welcome sequence owns the turn-lock until its speak directive.
	c.state = turnProcessing
	return c
}

// finish stops delivery, ends the session and records the call in the background.
func (o *Orchestrator) finish(c *call, cancel context.CancelFunc) {
	cancel()
	lines := c.close()

	ended, err := o.sessions.End(c.id, session.EndClosed)
	if err != nil {
		c.logger.Warn().Err(err).Msg("end session")
		return
	}
	o.observer.IncSessionEvent("closed")
	c.logger.Info().
		Str("end_reason", ended.EndReason).
		Int("turns", ended.TurnCount).
		Int("dropped", ended.DroppedCount).
		Dur("duration", ended.Duration()).
		Msg("call ended")

	if o.calls == nil {
		return
	}
	record := callhistory.Record{
		ID:          ended.ID,
		SessionID:   ended.ID,
		AgentID:     ended.AgentID,
		AgentName:   ended.AgentName,
		Transcript:  lines,
		DurationSec: ended.Duration().Seconds(),
		StartedAt:   ended.StartedAt,
		Status:      callhistory.StatusCompleted,
		EndReason:   ended.EndReason,
	}
	if ended.EndedAt != nil {
		record.EndedAt = *ended.EndedAt
	}
	if o.cfg.RedactTranscripts {
		record.PIIRedacted = redactTranscript(record.Transcript) > 0
	}
	o.saveCallBestEffort(record)
}

// saveCallBestEffort runs from finish, while the connection still counts as
// inflight, so Shutdown also waits for the save.
func (o *Orchestrator) saveCallBestEffort(record callhistory.Record) {
	o.inflight.Add(1)
	go func(r callhistory.Record) {
		defer o.inflight.Done()
		saveCtx, cancel := context.WithTimeout(context.Background(), callRecordTimeout)
		defer cancel()
		if err := o.calls.Save(saveCtx, r); err != nil {
			o.observer.IncSessionEvent("call_record_failed")
			o.logger.Warn().Err(err).Str("session_id", r.SessionID).Msg("save call record")
		}
	}(record)
}

func redactTranscript(lines []callhistory.Line) int {
	texts := make([]string, len(lines))
	for i, l := range lines {
		texts[i] = l.Text
	}
	n := policy.RedactLines(texts)
	for i := range lines {
		lines[i].Text = texts[i]
	}
	return n
}

func (c *call) dispatch(msg any) {
	switch m := msg.(type) {
	case protocol.Audio:
		c.admit(turnInput{audio: []byte(m.Data), fromAudio: true})
	case protocol.Text:
		c.admit(turnInput{text: m.Text})
	case protocol.SpeechEnded:
		c.openGate(0, "speech_ended")
	default:
		c.logger.Debug().Msgf("ignoring inbound %T", msg)
	}
}
