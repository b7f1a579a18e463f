package voice

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/voxline/internal/observability"
)

// Transcription provider names.
const (
	ASRDeepgram = "deepgram"
	ASRWhisper  = "whisper"
	ASRMock     = "mock"
)

// ErrNoSpeech means the buffer held nothing to transcribe. It is not a provider failure.
var ErrNoSpeech = errors.New("no speech detected")

// TranscriptionError reports that the transcription capability itself failed.
type TranscriptionError struct {
	Provider string
	Err      error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("%s transcription failed: %v", e.Provider, e.Err)
}

func (e *TranscriptionError) Unwrap() error {
	return e.Err
}

type TranscriptionConfig struct {
	DefaultProvider string
	MinAudioBytes   int
	Timeout         time.Duration
}

// Transcription fronts the registered transcribers. Provider selection happens once
// per session through Resolve; Transcribe classifies every outcome into text,
// ErrNoSpeech or a *TranscriptionError.
type Transcription struct {
	cfg       TranscriptionConfig
	providers map[string]Transcriber
	observer  Observer
	logger    zerolog.Logger
}

func NewTranscription(cfg TranscriptionConfig, providers []Transcriber, observer Observer, logger zerolog.Logger) *Transcription {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MinAudioBytes < 0 {
		cfg.MinAudioBytes = 0
	}
	cfg.DefaultProvider = strings.ToLower(strings.TrimSpace(cfg.DefaultProvider))
	if observer == nil {
		observer = nopObserver{}
	}

	t := &Transcription{
		cfg:       cfg,
		providers: make(map[string]Transcriber, len(providers)+1),
		observer:  observer,
		logger:    logger.With().Str("component", "transcription").Logger(),
	}
	for _, p := range providers {
		if p != nil {
			t.providers[p.Name()] = p
		}
	}
	if _, ok := t.providers[ASRMock]; !ok {
		t.providers[ASRMock] = NewMockTranscriber("")
	}
	return t
}

// Providers lists the registered transcriber names in sorted order.
func (t *Transcription) Providers() []string {
	out := make([]string, 0, len(t.providers))
	for name := range t.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Resolve picks the transcriber for a session: the requested one when registered,
// then the configured default, deepgram, whisper and finally the mock.
func (t *Transcription) Resolve(provider string) Transcriber {
	candidates := []string{
		strings.ToLower(strings.TrimSpace(provider)),
		t.cfg.DefaultProvider,
		ASRDeepgram,
		ASRWhisper,
	}
	for _, name := range candidates {
		if p, ok := t.providers[name]; ok && name != "" {
			return p
		}
	}
	return t.providers[ASRMock]
}

// Transcribe runs one buffer through tr under the configured timeout. Buffers under
// the minimum size never reach the provider.
func (t *Transcription) Transcribe(ctx context.Context, tr Transcriber, audio []byte, language string) (text string, err error) {
	if len(audio) == 0 || len(audio) < t.cfg.MinAudioBytes {
		return "", ErrNoSpeech
	}
	if tr == nil {
		tr = t.Resolve("")
	}

	started := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = t.fail(tr.Name(), fmt.Errorf("panic: %v", r))
			text = ""
		}
		t.observer.ObserveStage(observability.StageTranscribe, time.Since(started))
	}()

	text, err = tr.Transcribe(callCtx, audio, language)
	if err != nil {
		return "", t.fail(tr.Name(), err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}

func (t *Transcription) fail(provider string, err error) error {
	t.observer.IncProviderError(provider, observability.StageTranscribe)
	t.logger.Warn().Err(err).Str("provider", provider).Msg("transcription failed")
	return &TranscriptionError{Provider: provider, Err: err}
}

// primaryLanguage returns the primary subtag of a BCP 47 tag ("en-IN" -> "en").
func primaryLanguage(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		return tag[:i]
	}
	return tag
}
