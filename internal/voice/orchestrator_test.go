package voice

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/voxline/internal/agent"
	"github.com/ent0n29/voxline/internal/callhistory"
	"github.com/ent0n29/voxline/internal/config"
	"github.com/ent0n29/voxline/internal/llm"
	"github.com/ent0n29/voxline/internal/protocol"
	"github.com/ent0n29/voxline/internal/session"
)

const waitTimeout = 2 * time.Second

type completeFunc func(ctx context.Context, req llm.Request) (string, error)

type chatStub struct {
	name string
	fn   completeFunc

	mu   sync.Mutex
	reqs []llm.Request
}

func (p *chatStub) Name() string         { return p.name }
func (p *chatStub) DefaultModel() string { return p.name + "-default" }

func (p *chatStub) Complete(ctx context.Context, req llm.Request) (string, error) {
	p.mu.Lock()
	p.reqs = append(p.reqs, req)
	p.mu.Unlock()
	if p.fn == nil {
		return "Happy to help.", nil
	}
	return p.fn(ctx, req)
}

func (p *chatStub) requests() []llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.Request(nil), p.reqs...)
}

type transcriberStub struct {
	name string
	fn   func(ctx context.Context, audio []byte, language string) (string, error)

	mu    sync.Mutex
	calls int
}

func (s *transcriberStub) Name() string { return s.name }

func (s *transcriberStub) Transcribe(ctx context.Context, audio []byte, language string) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.fn == nil {
		return "transcribed words", nil
	}
	return s.fn(ctx, audio, language)
}

func (s *transcriberStub) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type harnessOptions struct {
	policy     string
	window     int
	ackTimeout time.Duration
	agentID    string
	primary    completeFunc
	aggregator completeFunc
	asr        func(ctx context.Context, audio []byte, language string) (string, error)
	// unbuffered makes every outbound send wait for the reader, like a slow socket.
	unbuffered bool
	store      callhistory.Store
}

type harness struct {
	t          *testing.T
	o          *Orchestrator
	sessions   *session.Manager
	agents     *agent.MemoryDirectory
	calls      *callhistory.InMemoryStore
	primary    *chatStub
	aggregator *chatStub
	asr        *transcriberStub
	session    *session.Session
	inbound    chan any
	outbound   chan any
	cancel     context.CancelFunc
	done       chan error
	stopOnce   sync.Once
}

func supportBot() agent.Config {
	cfg := agent.Defaults()
	cfg.ID = "support-bot"
	cfg.Name = "Support Bot"
	cfg.Description = "Helps customers with account issues."
	cfg.Prompt = "Be friendly and brief."
	cfg.WelcomeMessage = "Welcome to support! How can I help?"
	cfg.Voice = "nova"
	cfg.Language = "en"
	cfg.Providers.LLM = llm.ProviderOpenAI
	cfg.Providers.ASR = ASRDeepgram
	cfg.Providers.TTS = TTSOpenAI
	return cfg
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	if opts.policy == "" {
		opts.policy = config.RearmOnSpeechEnded
	}
	if opts.window == 0 {
		opts.window = 6
	}
	if opts.ackTimeout == 0 {
		opts.ackTimeout = 10 * time.Second
	}
	if opts.agentID == "" {
		opts.agentID = "support-bot"
	}

	dir := agent.NewMemoryDirectory()
	_, err := dir.Create(context.Background(), supportBot())
	require.NoError(t, err)

	h := &harness{
		t:        t,
		agents:   dir,
		primary:  &chatStub{name: llm.ProviderOpenAI, fn: opts.primary},
		asr:      &transcriberStub{name: ASRDeepgram, fn: opts.asr},
		calls:    callhistory.NewInMemoryStore(),
		sessions: session.NewManager(time.Minute, time.Minute),
		inbound:  make(chan any, 16),
		outbound: make(chan any, 64),
		done:     make(chan error, 1),
	}
	if opts.unbuffered {
		h.outbound = make(chan any)
	}
	var calls callhistory.Store = h.calls
	if opts.store != nil {
		calls = opts.store
	}
	providers := []llm.Provider{h.primary}
	if opts.aggregator != nil {
		h.aggregator = &chatStub{name: llm.ProviderOpenRouter, fn: opts.aggregator}
		providers = append(providers, h.aggregator)
	}
	router := llm.NewRouter(llm.RouterConfig{
		DefaultProvider: llm.ProviderOpenAI,
		DefaultModel:    "gpt-3.5-turbo",
		FallbackModel:   "openai/gpt-3.5-turbo",
		Timeout:         time.Second,
	}, providers, nil, zerolog.Nop())
	transcription := NewTranscription(TranscriptionConfig{
		DefaultProvider: ASRDeepgram,
		MinAudioBytes:   1000,
		Timeout:         time.Second,
	}, []Transcriber{h.asr}, nil, zerolog.Nop())

	h.o = NewOrchestrator(OrchestratorConfig{
		WelcomeDelay:       10 * time.Millisecond,
		HistoryWindow:      opts.window,
		HistoryRetention:   64,
		RearmPolicy:        opts.policy,
		PlaybackAckTimeout: opts.ackTimeout,
		RedactTranscripts:  true,
	}, h.sessions, dir, transcription, router, calls, nil, zerolog.Nop())

	h.session = h.o.OpenSession(context.Background(), opts.agentID)
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		h.done <- h.o.RunConnection(ctx, h.session, h.inbound, h.outbound)
	}()
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.stopOnce.Do(func() {
		h.cancel()
		select {
		case <-h.done:
		case <-time.After(waitTimeout):
			h.t.Errorf("RunConnection did not return after cancel")
		}
	})
}

func (h *harness) send(msg any) {
	h.inbound <- msg
}

func (h *harness) next() any {
	h.t.Helper()
	select {
	case msg := <-h.outbound:
		return msg
	case <-time.After(waitTimeout):
		h.t.Fatalf("timed out waiting for outbound message")
		return nil
	}
}

func (h *harness) quiet(d time.Duration) {
	h.t.Helper()
	select {
	case msg := <-h.outbound:
		h.t.Fatalf("unexpected outbound message %#v", msg)
	case <-time.After(d):
	}
}

func (h *harness) expectTranscript(speaker string) protocol.Transcript {
	h.t.Helper()
	msg := h.next()
	tr, ok := msg.(protocol.Transcript)
	require.Truef(h.t, ok, "got %#v, want transcript", msg)
	require.Equal(h.t, speaker, tr.Speaker)
	return tr
}

func (h *harness) expectSpeak() protocol.Speak {
	h.t.Helper()
	msg := h.next()
	sp, ok := msg.(protocol.Speak)
	require.Truef(h.t, ok, "got %#v, want speak", msg)
	return sp
}

func (h *harness) expectReady() {
	h.t.Helper()
	msg := h.next()
	_, ok := msg.(protocol.Ready)
	require.Truef(h.t, ok, "got %#v, want ready", msg)
}

// completeWelcome consumes the welcome sequence and re-arms capture.
func (h *harness) completeWelcome() {
	h.t.Helper()
	h.expectTranscript(protocol.SpeakerAI)
	h.expectSpeak()
	h.acknowledge()
}

// acknowledge plays back the last speak directive under the active policy.
func (h *harness) acknowledge() {
	h.t.Helper()
	if h.o.cfg.RearmPolicy == config.RearmOnSpeechEnded {
		h.send(protocol.SpeechEnded{Type: protocol.TypeSpeechEnded})
	}
	h.expectReady()
}

func (h *harness) sayText(text string) {
	h.send(protocol.Text{Type: protocol.TypeText, Text: text})
}

func (h *harness) sayAudio(n int) {
	h.send(protocol.Audio{Type: protocol.TypeAudio, Data: make(protocol.AudioBytes, n)})
}

func TestWelcomeSequence(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	tr := h.expectTranscript(protocol.SpeakerAI)
	assert.Equal(t, "Welcome to support! How can I help?", tr.Text)

	sp := h.expectSpeak()
	assert.Equal(t, "Welcome to support! How can I help?", sp.Text)
	assert.Equal(t, "nova", sp.Voice)
	assert.Equal(t, "en", sp.Language)
	assert.Equal(t, TTSOpenAI, sp.Provider)
	assert.Equal(t, 1.0, sp.Speed)

	h.quiet(50 * time.Millisecond)
	h.send(protocol.SpeechEnded{Type: protocol.TypeSpeechEnded})
	h.expectReady()
}

func TestImmediatePlaybackAckRearmsWithoutTimeout(t *testing.T) {
	for i := 0; i < 20; i++ {
		h := newHarness(t, harnessOptions{unbuffered: true, ackTimeout: time.Minute})

		h.expectTranscript(protocol.SpeakerAI)
		h.expectSpeak()
		h.send(protocol.SpeechEnded{Type: protocol.TypeSpeechEnded})
		h.expectReady()

		h.sayText("what are your hours?")
		h.expectTranscript(protocol.SpeakerUser)
		h.expectTranscript(protocol.SpeakerAI)
		h.expectSpeak()
		h.send(protocol.SpeechEnded{Type: protocol.TypeSpeechEnded})
		h.expectReady()

		h.sayText("thanks")
		h.expectTranscript(protocol.SpeakerUser)
		h.stop()
	}
}

func TestSpeakCarriesAgentSpeechSpeed(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	slow := supportBot()
	slow.ID = "slow-bot"
	slow.Settings.SpeechSpeed = 0.75
	_, err := h.agents.Create(context.Background(), slow)
	require.NoError(t, err)

	s := h.o.OpenSession(context.Background(), "slow-bot")
	require.False(t, s.FallbackAgent)

	outbound := make(chan any, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.o.RunConnection(ctx, s, make(chan any), outbound) }()

	var sp protocol.Speak
	require.Eventually(t, func() bool {
		select {
		case msg := <-outbound:
			var ok bool
			sp, ok = msg.(protocol.Speak)
			return ok
		default:
			return false
		}
	}, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, 0.75, sp.Speed)
}

func TestTextTurnOrderingAndPrompt(t *testing.T) {
	started := make(chan int, 1)
	var h *harness
	h = newHarness(t, harnessOptions{
		primary: func(_ context.Context, req llm.Request) (string, error) {
			started <- len(h.outbound)
			return "Sure, **let me** check your account.", nil
		},
	})
	h.completeWelcome()

	h.sayText("I need help with my account")
	select {
	case pending := <-started:
		assert.Equal(t, 1, pending, "user transcript must be queued before generation starts")
	case <-time.After(waitTimeout):
		t.Fatalf("generation never started")
	}

	user := h.expectTranscript(protocol.SpeakerUser)
	assert.Equal(t, "I need help with my account", user.Text)
	ai := h.expectTranscript(protocol.SpeakerAI)
	assert.Equal(t, "Sure, **let me** check your account.", ai.Text)
	sp := h.expectSpeak()
	assert.Equal(t, "Sure, let me check your account.", sp.Text)
	assert.Equal(t, "nova", sp.Voice)
	assert.Equal(t, "en", sp.Language)
	assert.Equal(t, TTSOpenAI, sp.Provider)

	reqs := h.primary.requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].System, "Support Bot")
	assert.Contains(t, reqs[0].System, "Helps customers with account issues.")
	assert.Contains(t, reqs[0].System, "under 20 words")
	require.Len(t, reqs[0].Messages, 1)
	assert.Equal(t, "I need help with my account", reqs[0].Messages[0].Content)

	h.quiet(50 * time.Millisecond)
	h.acknowledge()
}

func TestShortAudioUsesNoSpeechSentinel(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.completeWelcome()

	h.sayAudio(500)
	user := h.expectTranscript(protocol.SpeakerUser)
	assert.Equal(t, NoSpeechSentinel, user.Text)
	h.expectTranscript(protocol.SpeakerAI)
	h.expectSpeak()

	assert.Equal(t, 0, h.asr.callCount(), "buffers under the minimum never reach the provider")
	reqs := h.primary.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, NoSpeechSentinel, reqs[0].Messages[len(reqs[0].Messages)-1].Content)
}

func TestAudioTurnTranscribes(t *testing.T) {
	h := newHarness(t, harnessOptions{
		asr: func(_ context.Context, audio []byte, language string) (string, error) {
			if len(audio) != 2048 || language != "en" {
				return "", errors.New("unexpected input")
			}
			return "  what are your hours  ", nil
		},
	})
	h.completeWelcome()

	h.sayAudio(2048)
	user := h.expectTranscript(protocol.SpeakerUser)
	assert.Equal(t, "what are your hours", user.Text)
	h.expectTranscript(protocol.SpeakerAI)
	h.expectSpeak()
	assert.Equal(t, 1, h.asr.callCount())
}

func TestTranscriptionFailureIsTaggedAndSkipsGeneration(t *testing.T) {
	h := newHarness(t, harnessOptions{
		asr: func(context.Context, []byte, string) (string, error) {
			return "", errors.New("connection refused")
		},
	})
	h.completeWelcome()

	h.sayAudio(2048)
	user := h.expectTranscript(protocol.SpeakerUser)
	assert.Equal(t, "[Transcription error: deepgram unavailable]", user.Text)
	ai := h.expectTranscript(protocol.SpeakerAI)
	assert.True(t, strings.HasPrefix(ai.Text, "[AI error]"), ai.Text)
	sp := h.expectSpeak()
	assert.Contains(t, sp.Text, "technical difficulty")
	assert.Empty(t, h.primary.requests())

	// The session stays usable and the failed turn is not in the history.
	h.acknowledge()
	h.sayText("hello again")
	h.expectTranscript(protocol.SpeakerUser)
	h.expectTranscript(protocol.SpeakerAI)
	h.expectSpeak()
	reqs := h.primary.requests()
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0].Messages, 1)
	assert.Equal(t, "hello again", reqs[0].Messages[0].Content)
}

func TestRateLimitRetriesThroughAggregatorOnce(t *testing.T) {
	rateLimited := &llm.StatusError{Provider: llm.ProviderOpenAI, StatusCode: 429, Body: "slow down"}

	t.Run("aggregator succeeds", func(t *testing.T) {
		h := newHarness(t, harnessOptions{
			primary:    func(context.Context, llm.Request) (string, error) { return "", rateLimited },
			aggregator: func(context.Context, llm.Request) (string, error) { return "Routed reply.", nil },
		})
		h.completeWelcome()

		h.sayText("I need help with my account")
		h.expectTranscript(protocol.SpeakerUser)
		ai := h.expectTranscript(protocol.SpeakerAI)
		assert.Equal(t, "Routed reply.", ai.Text)
		h.expectSpeak()
		assert.Len(t, h.primary.requests(), 1)
		aggReqs := h.aggregator.requests()
		require.Len(t, aggReqs, 1)
		assert.Equal(t, "openai/gpt-3.5-turbo", aggReqs[0].Model)
	})

	t.Run("aggregator fails", func(t *testing.T) {
		h := newHarness(t, harnessOptions{
			primary: func(context.Context, llm.Request) (string, error) { return "", rateLimited },
			aggregator: func(context.Context, llm.Request) (string, error) {
				return "", &llm.StatusError{Provider: llm.ProviderOpenRouter, StatusCode: 502}
			},
		})
		h.completeWelcome()

		h.sayText("I need help with my account")
		h.expectTranscript(protocol.SpeakerUser)
		ai := h.expectTranscript(protocol.SpeakerAI)
		assert.True(t, strings.HasPrefix(ai.Text, "[AI error]"), ai.Text)
		assert.Contains(t, ai.Text, "rate limited")
		h.expectSpeak()
		assert.Len(t, h.primary.requests(), 1)
		assert.Len(t, h.aggregator.requests(), 1)
	})
}

func TestGenerationFailureKeepsSessionUsable(t *testing.T) {
	var mu sync.Mutex
	failures := 1
	h := newHarness(t, harnessOptions{
		primary: func(context.Context, llm.Request) (string, error) {
			mu.Lock()
			defer mu.Unlock()
			if failures > 0 {
				failures--
				return "", &llm.StatusError{Provider: llm.ProviderOpenAI, StatusCode: 500}
			}
			return "Back online.", nil
		},
	})
	h.completeWelcome()

	h.sayText("first")
	h.expectTranscript(protocol.SpeakerUser)
	ai := h.expectTranscript(protocol.SpeakerAI)
	assert.Equal(t, "[AI error] "+technicalDifficulty+" (openai returned status 500)", ai.Text)
	h.expectSpeak()
	h.acknowledge()

	h.sayText("second")
	h.expectTranscript(protocol.SpeakerUser)
	ai = h.expectTranscript(protocol.SpeakerAI)
	assert.Equal(t, "Back online.", ai.Text)
	h.expectSpeak()

	// The failed reply never entered the history: user, user.
	reqs := h.primary.requests()
	require.Len(t, reqs, 2)
	require.Len(t, reqs[1].Messages, 1)
	assert.Equal(t, "second", reqs[1].Messages[0].Content)
}

func TestSecondUtteranceDuringTurnIsDropped(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, harnessOptions{
		asr: func(context.Context, []byte, string) (string, error) {
			<-release
			return "first utterance", nil
		},
	})
	h.completeWelcome()

	h.sayAudio(2048)
	require.Eventually(t, func() bool { return h.asr.callCount() == 1 }, waitTimeout, 5*time.Millisecond)
	h.sayAudio(2048)
	require.Eventually(t, func() bool {
		s, _ := h.sessions.Get(h.session.ID)
		return s.DroppedCount == 1
	}, waitTimeout, 5*time.Millisecond)
	close(release)

	user := h.expectTranscript(protocol.SpeakerUser)
	assert.Equal(t, "first utterance", user.Text)
	h.expectTranscript(protocol.SpeakerAI)
	h.expectSpeak()
	h.quiet(50 * time.Millisecond)
	assert.Equal(t, 1, h.asr.callCount())
	assert.Len(t, h.primary.requests(), 1)
}

func TestUtteranceBeforePlaybackAckIsDropped(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.completeWelcome()

	h.sayText("one")
	h.expectTranscript(protocol.SpeakerUser)
	h.expectTranscript(protocol.SpeakerAI)
	h.expectSpeak()

	h.sayText("echo of my own reply")
	h.quiet(50 * time.Millisecond)
	s, err := h.sessions.Get(h.session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, s.DroppedCount)

	h.acknowledge()
	h.sayText("two")
	user := h.expectTranscript(protocol.SpeakerUser)
	assert.Equal(t, "two", user.Text)
	h.expectTranscript(protocol.SpeakerAI)
	h.expectSpeak()
	assert.Len(t, h.primary.requests(), 2)
}

func TestSpeakPolicyRearmsImmediately(t *testing.T) {
	h := newHarness(t, harnessOptions{policy: config.RearmOnSpeak})

	h.expectTranscript(protocol.SpeakerAI)
	h.expectSpeak()
	h.expectReady()

	h.sayText("one")
	h.expectTranscript(protocol.SpeakerUser)
	h.expectTranscript(protocol.SpeakerAI)
	h.expectSpeak()
	h.expectReady()

	h.sayText("two")
	user := h.expectTranscript(protocol.SpeakerUser)
	assert.Equal(t, "two", user.Text)

	// speech_ended is bookkeeping only under this policy.
	h.expectTranscript(protocol.SpeakerAI)
	h.expectSpeak()
	h.expectReady()
	h.send(protocol.SpeechEnded{Type: protocol.TypeSpeechEnded})
	h.quiet(50 * time.Millisecond)
}

func TestPlaybackAckTimeoutRearms(t *testing.T) {
	h := newHarness(t, harnessOptions{ackTimeout: 30 * time.Millisecond})

	h.expectTranscript(protocol.SpeakerAI)
	h.expectSpeak()
	h.expectReady()

	h.sayText("still there?")
	h.expectTranscript(protocol.SpeakerUser)
	h.expectTranscript(protocol.SpeakerAI)
	h.expectSpeak()
	h.expectReady()
}

func TestHistoryWindowBoundsGenerationRequests(t *testing.T) {
	h := newHarness(t, harnessOptions{window: 3})
	h.completeWelcome()

	for i := 0; i < 6; i++ {
		h.sayText("message")
		h.expectTranscript(protocol.SpeakerUser)
		h.expectTranscript(protocol.SpeakerAI)
		h.expectSpeak()
		h.acknowledge()
	}

	reqs := h.primary.requests()
	require.Len(t, reqs, 6)
	for i, req := range reqs {
		assert.LessOrEqualf(t, len(req.Messages), 3, "request %d", i)
	}
	last := reqs[len(reqs)-1].Messages
	require.Len(t, last, 3)
	assert.Equal(t, llm.RoleUser, last[0].Role)
	assert.Equal(t, llm.RoleAssistant, last[1].Role)
	assert.Equal(t, llm.RoleUser, last[2].Role)
}

func TestPanickingProviderReleasesTurnLock(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	h := newHarness(t, harnessOptions{
		primary: func(context.Context, llm.Request) (string, error) {
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			if n == 1 {
				panic("boom")
			}
			return "Recovered.", nil
		},
	})
	h.completeWelcome()

	h.sayText("first")
	h.expectTranscript(protocol.SpeakerUser)
	ai := h.expectTranscript(protocol.SpeakerAI)
	assert.True(t, strings.HasPrefix(ai.Text, "[AI error]"), ai.Text)
	h.expectSpeak()
	h.acknowledge()

	h.sayText("second")
	h.expectTranscript(protocol.SpeakerUser)
	ai = h.expectTranscript(protocol.SpeakerAI)
	assert.Equal(t, "Recovered.", ai.Text)
}

func TestCloseDiscardsInFlightTurnAndRecordsCall(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	h := newHarness(t, harnessOptions{
		primary: func(context.Context, llm.Request) (string, error) {
			entered <- struct{}{}
			<-release
			return "Too late.", nil
		},
	})
	h.completeWelcome()

	h.sayText("my email is jane@example.com")
	h.expectTranscript(protocol.SpeakerUser)
	select {
	case <-entered:
	case <-time.After(waitTimeout):
		t.Fatalf("generation never started")
	}

	h.stop()
	close(release)
	h.quiet(100 * time.Millisecond)

	var record callhistory.Record
	require.Eventually(t, func() bool {
		r, err := h.calls.Get(context.Background(), h.session.ID)
		record = r
		return err == nil
	}, waitTimeout, 10*time.Millisecond)

	assert.Equal(t, "support-bot", record.AgentID)
	assert.Equal(t, "Support Bot", record.AgentName)
	assert.Equal(t, callhistory.StatusCompleted, record.Status)
	assert.Equal(t, session.EndClosed, record.EndReason)
	assert.True(t, record.PIIRedacted)
	require.Len(t, record.Transcript, 2)
	assert.Equal(t, protocol.SpeakerAI, record.Transcript[0].Speaker)
	assert.Equal(t, "my email is [REDACTED_EMAIL]", record.Transcript[1].Text)

	s, err := h.sessions.Get(h.session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusEnded, s.Status)
}

func TestUnknownAgentUsesFallbackPersona(t *testing.T) {
	h := newHarness(t, harnessOptions{agentID: "does-not-exist"})

	assert.True(t, h.session.FallbackAgent)
	assert.Equal(t, "Test Agent", h.session.AgentName)

	tr := h.expectTranscript(protocol.SpeakerAI)
	assert.Equal(t, agent.DefaultWelcomeMessage, tr.Text)
	sp := h.expectSpeak()
	assert.Equal(t, agent.DefaultVoice, sp.Voice)
}

func TestTerminateClosesConnection(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.completeWelcome()

	require.True(t, h.o.Terminate(h.session.ID))
	select {
	case err := <-h.done:
		assert.NoError(t, err)
		h.done <- err
	case <-time.After(waitTimeout):
		t.Fatalf("RunConnection did not return after Terminate")
	}
	assert.False(t, h.o.Terminate(h.session.ID))
}

func TestLiveCallKeepsAgentSnapshot(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.completeWelcome()

	updated := supportBot()
	updated.Name = "Renamed Bot"
	updated.Voice = "onyx"
	_, err := h.agents.Update(context.Background(), updated)
	require.NoError(t, err)

	h.sayText("hello again")
	h.expectTranscript(protocol.SpeakerUser)
	h.expectTranscript(protocol.SpeakerAI)
	sp := h.expectSpeak()
	assert.Equal(t, "nova", sp.Voice)

	reqs := h.primary.requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].System, "Support Bot")
	assert.NotContains(t, reqs[0].System, "Renamed Bot")

	next := h.o.OpenSession(context.Background(), "support-bot")
	assert.Equal(t, "onyx", next.Agent.Voice)
	assert.Equal(t, "Renamed Bot", next.AgentName)
}

// heldStore holds every Save until release is closed.
type heldStore struct {
	*callhistory.InMemoryStore
	release chan struct{}
}

func (s *heldStore) Save(ctx context.Context, r callhistory.Record) error {
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.InMemoryStore.Save(ctx, r)
}

func TestShutdownWaitsForCallRecords(t *testing.T) {
	store := &heldStore{InMemoryStore: callhistory.NewInMemoryStore(), release: make(chan struct{})}
	h := newHarness(t, harnessOptions{store: store})
	h.completeWelcome()

	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := h.o.Shutdown(short)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case err := <-h.done:
		assert.NoError(t, err)
		h.done <- err
	case <-time.After(waitTimeout):
		t.Fatalf("RunConnection did not return after Shutdown")
	}
	_, err = store.Get(context.Background(), h.session.ID)
	require.ErrorIs(t, err, callhistory.ErrNotFound)

	drained := make(chan error, 1)
	go func() { drained <- h.o.Shutdown(context.Background()) }()
	close(store.release)
	select {
	case err := <-drained:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatalf("Shutdown did not return after the record was saved")
	}
	_, err = store.Get(context.Background(), h.session.ID)
	assert.NoError(t, err)

	late := h.o.OpenSession(context.Background(), "support-bot")
	err = h.o.RunConnection(context.Background(), late, make(chan any), make(chan any, 1))
	assert.ErrorIs(t, err, ErrShuttingDown)
	got, err := h.sessions.Get(late.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusEnded, got.Status)
}
