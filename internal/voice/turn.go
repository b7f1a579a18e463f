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
	"github.com/ent0n29/voxline/internal/llm"
	"github.com/ent0n29/voxline/internal/observability"
	"github.com/ent0n29/voxline/internal/protocol"
)

const (
	// NoSpeechSentinel stands in for the caller's words when a buffer held no speech.
	NoSpeechSentinel = "[No audio detected]"

	technicalDifficulty = "I'm having a technical difficulty right now. Please try again."
)

// Turn outcomes reported to the observer.
const (
	outcomeOK                 = "ok"
	outcomeNoSpeech           = "no_speech"
	outcomeTranscriptionError = "transcription_error"
	outcomeGenerationError    = "generation_error"
	outcomeAbandoned          = "abandoned"
)

// Reasons an utterance is dropped by the entry guard.
const (
	dropTurnInFlight     = "turn_in_flight"
	dropAwaitingPlayback = "awaiting_playback"
)

type turnState int

const (
	turnIdle turnState = iota
	turnProcessing
)

type turnInput struct {
	text      string
	audio     []byte
	fromAudio bool
}

// call is the per-connection state of the turn controller.
type call struct {
	o        *Orchestrator
	ctx      context.Context
	id       string
	agent    agent.Config
	route    llm.Route
	asr      Transcriber
	system   string
	history  *conversation.Window
	outbound chan<- any
	logger   zerolog.Logger

	// mu guards the turn-lock, the playback gate and the transcript log.
	mu          sync.Mutex
	state       turnState
	awaitingAck bool
	gateGen     uint64
	ackTimer    *time.Timer
	closed      bool
	lines       []callhistory.Line
}

// admit is the entry guard: a turn starts only when no turn is in flight and the
// last speak directive has been acknowledged. Anything else is dropped.
func (c *call) admit(in turnInput) {
	c.mu.Lock()
	reason := ""
	switch {
	case c.closed:
		c.mu.Unlock()
		return
	case c.state == turnProcessing:
		reason = dropTurnInFlight
	case c.awaitingAck:
		reason = dropAwaitingPlayback
	default:
		c.state = turnProcessing
	}
	c.mu.Unlock()

	if reason != "" {
		c.o.observer.IncDropped(reason)
		_ = c.o.sessions.RecordDrop(c.id)
		c.logger.Debug().Str("reason", reason).Msg("utterance dropped")
		return
	}
	go c.runTurn(in)
}

// runTurn executes one turn. The turn-lock is released on every exit path.
func (c *call) runTurn(in turnInput) {
	started := time.Now()
	outcome := outcomeOK
	spoke := false
	defer func() {
		c.release(spoke)
		c.o.observer.IncTurn(outcome)
		c.o.observer.ObserveStage(observability.StageTurnTotal, time.Since(started))
		_ = c.o.sessions.RecordTurn(c.id)
	}()
	defer func() {
		if r := recover(); r != nil {
			outcome = outcomeAbandoned
			c.logger.Error().Interface("panic", r).Msg("turn panicked")
		}
	}()

	text := strings.TrimSpace(in.text)
	if in.fromAudio {
		var err error
		text, err = c.o.transcription.Transcribe(context.WithoutCancel(c.ctx), c.asr, in.audio, c.agent.Language)
		switch {
		case err == nil:
		case errors.Is(err, ErrNoSpeech):
			text = NoSpeechSentinel
			outcome = outcomeNoSpeech
		default:
			outcome = outcomeTranscriptionError
			cause := transcriptionCause(err)
			// Tagged so provider outages are visible in transcripts. Not part of the
			// generation history.
			c.emitTranscript(protocol.SpeakerUser, "[Transcription error: "+cause+"]")
			reply := fallbackReply(cause)
			c.emitTranscript(protocol.SpeakerAI, reply)
			spoke = c.speak(reply)
			return
		}
	} else if text == "" {
		text = NoSpeechSentinel
		outcome = outcomeNoSpeech
	}

	c.history.Append(conversation.RoleUser, text)
	c.emitTranscript(protocol.SpeakerUser, text)

	recent := c.history.Recent(c.o.cfg.HistoryWindow)
	req := llm.GenerationRequest{
		System:    c.system,
		History:   recent[:len(recent)-1],
		Utterance: recent[len(recent)-1].Text,
		Language:  c.agent.Language,
	}

	reply, err := c.generate(req)
	if err != nil {
		outcome = outcomeGenerationError
		reply = fallbackReply(generationCause(err))
		c.logger.Warn().Err(err).Str("provider", c.route.Name()).Msg("generation failed, speaking fallback")
	} else {
		c.history.Append(conversation.RoleAssistant, reply)
	}

	c.emitTranscript(protocol.SpeakerAI, reply)
	spoke = c.speak(reply)
	if !spoke {
		outcome = outcomeAbandoned
	}
}

func (c *call) generate(req llm.GenerationRequest) (reply string, err error) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", c.route.Name(), r)
		}
		c.o.observer.ObserveStage(observability.StageGenerate, time.Since(started))
	}()
	return c.o.generator.Generate(context.WithoutCancel(c.ctx), c.route, req)
}

// welcome emits the greeting transcript, waits for the client to settle and then
// emits the greeting speak directive. It runs holding the turn-lock.
func (c *call) welcome() {
	spoke := false
	defer func() { c.release(spoke) }()

	text := strings.TrimSpace(c.agent.WelcomeMessage)
	if text == "" {
		text = agent.DefaultWelcomeMessage
	}
	if !c.emitTranscript(protocol.SpeakerAI, text) {
		return
	}
	if d := c.o.cfg.WelcomeDelay; d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-c.ctx.Done():
			return
		case <-timer.C:
		}
	}
	spoke = c.speak(text)
}

// speak emits the speak directive for text and reports whether it was delivered.
// Under the speech_ended policy the playback gate closes before the directive goes
// out, so an acknowledgment can never arrive ahead of the gate it opens.
func (c *call) speak(text string) bool {
	spoken := speakable(text)
	if spoken == "" {
		spoken = strings.TrimSpace(text)
	}

	gated := c.o.cfg.RearmPolicy == config.RearmOnSpeechEnded
	var gen uint64
	if gated {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return false
		}
		c.awaitingAck = true
		c.gateGen++
		gen = c.gateGen
		c.mu.Unlock()
	}

	sent := c.send(protocol.Speak{
		Type:     protocol.TypeSpeak,
		Text:     spoken,
		Voice:    c.agent.Voice,
		Language: c.agent.Language,
		Provider: c.agent.Providers.TTS,
		Speed:    c.agent.Settings.SpeechSpeed,
	})
	if !sent && gated {
		c.mu.Lock()
		if c.gateGen == gen {
			c.awaitingAck = false
		}
		c.mu.Unlock()
	}
	return sent
}

// release returns the turn-lock to idle. Under the speech_ended policy the gate
// armed by speak stays closed until speech_ended or the ack timeout; if the client
// already acknowledged, ready goes out now. Under the speak policy ready is
// emitted right away.
func (c *call) release(spoke bool) {
	c.mu.Lock()
	c.state = turnIdle
	ready := spoke && !c.closed
	if ready && c.o.cfg.RearmPolicy == config.RearmOnSpeechEnded && c.awaitingAck {
		ready = false
		gen := c.gateGen
		if c.ackTimer != nil {
			c.ackTimer.Stop()
		}
		c.ackTimer = time.AfterFunc(c.o.cfg.PlaybackAckTimeout, func() {
			c.openGate(gen, "ack_timeout")
		})
	}
	c.mu.Unlock()

	if ready {
		c.send(protocol.NewReady())
	}
}

// openGate re-arms capture and emits ready. gen 0 matches any closed gate; a
// timer only opens the gate it was armed for. While the turn that spoke still
// holds the turn-lock, release emits ready instead.
func (c *call) openGate(gen uint64, reason string) {
	c.mu.Lock()
	if c.closed || !c.awaitingAck || (gen != 0 && gen != c.gateGen) {
		c.mu.Unlock()
		return
	}
	c.awaitingAck = false
	if c.ackTimer != nil {
		c.ackTimer.Stop()
		c.ackTimer = nil
	}
	pending := c.state == turnProcessing
	c.mu.Unlock()

	if reason == "ack_timeout" {
		c.o.observer.IncSessionEvent("playback_ack_timeout")
		c.logger.Debug().Msg("playback acknowledgment timed out")
	}
	if pending {
		return
	}
	c.send(protocol.NewReady())
}

// emitTranscript sends a transcript event and logs the line for the call record.
func (c *call) emitTranscript(speaker, text string) bool {
	c.mu.Lock()
	if !c.closed {
		c.lines = append(c.lines, callhistory.Line{Speaker: speaker, Text: text, At: time.Now().UTC()})
	}
	c.mu.Unlock()
	return c.send(protocol.NewTranscript(speaker, text))
}

// send delivers msg unless the connection is closed. Results of abandoned turns
// are discarded here.
func (c *call) send(msg any) bool {
	if c.ctx.Err() != nil {
		return false
	}
	select {
	case c.outbound <- msg:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// close stops the playback timer and returns the transcript log. Later turn
// results are neither logged nor delivered.
func (c *call) close() []callhistory.Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.ackTimer != nil {
		c.ackTimer.Stop()
		c.ackTimer = nil
	}
	return append([]callhistory.Line(nil), c.lines...)
}

func fallbackReply(cause string) string {
	return fmt.Sprintf("[AI error] %s (%s)", technicalDifficulty, cause)
}

func generationCause(err error) string {
	var genErr *llm.GenerationError
	if errors.As(err, &genErr) {
		return genErr.Cause()
	}
	return err.Error()
}

func transcriptionCause(err error) string {
	var te *TranscriptionError
	if !errors.As(err, &te) {
		return err.Error()
	}
	if errors.Is(te.Err, context.DeadlineExceeded) {
		return te.Provider + " timed out"
	}
	return te.Provider + " unavailable"
}
