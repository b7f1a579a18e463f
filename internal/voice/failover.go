package voice

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const defaultPreviewText = "Hello! This is how I will sound on your calls."

// ErrUnknownSynthesizer is returned for a provider name that was never registered.
var ErrUnknownSynthesizer = errors.New("unknown synthesis provider")

// NewFailoverSynthesizer tries primary on every request and uses fallback only
// for requests primary fails. No provider state carries over between requests.
func NewFailoverSynthesizer(primary, fallback Synthesizer) Synthesizer {
	return &failoverSynthesizer{primary: primary, fallback: fallback}
}

type failoverSynthesizer struct {
	primary  Synthesizer
	fallback Synthesizer
}

func (f *failoverSynthesizer) Name() string { return f.primary.Name() }

func (f *failoverSynthesizer) Synthesize(ctx context.Context, req SynthesisRequest) (SynthesizedAudio, error) {
	out, prErr := f.primary.Synthesize(ctx, req)
	if prErr == nil {
		return out, nil
	}
	out, fbErr := f.fallback.Synthesize(ctx, req)
	if fbErr != nil {
		return SynthesizedAudio{}, fmt.Errorf("tts primary failed: %v; tts fallback failed: %w", prErr, fbErr)
	}
	return out, nil
}

// Synthesis serves voice previews. Each registered provider is wrapped in a
// failover to the mock synthesizer.
type Synthesis struct {
	timeout   time.Duration
	providers map[string]Synthesizer
	observer  Observer
	logger    zerolog.Logger
}

func NewSynthesis(timeout time.Duration, providers []Synthesizer, observer Observer, logger zerolog.Logger) *Synthesis {
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	if observer == nil {
		observer = nopObserver{}
	}
	mock := NewMockSynthesizer()
	s := &Synthesis{
		timeout:   timeout,
		providers: map[string]Synthesizer{TTSMock: mock},
		observer:  observer,
		logger:    logger.With().Str("component", "synthesis").Logger(),
	}
	for _, p := range providers {
		if p == nil || p.Name() == TTSMock {
			continue
		}
		s.providers[p.Name()] = NewFailoverSynthesizer(&observedSynthesizer{Synthesizer: p, s: s}, mock)
	}
	return s
}

// Providers lists the registered synthesis provider names in sorted order.
func (s *Synthesis) Providers() []string {
	out := make([]string, 0, len(s.providers))
	for name := range s.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Preview synthesizes a short standalone utterance for voice auditioning. An empty
// provider uses the mock; an unknown provider is an error.
func (s *Synthesis) Preview(ctx context.Context, provider string, req SynthesisRequest) (SynthesizedAudio, error) {
	name := strings.ToLower(strings.TrimSpace(provider))
	if name == "" {
		name = TTSMock
	}
	p, ok := s.providers[name]
	if !ok {
		return SynthesizedAudio{}, fmt.Errorf("%w: %q", ErrUnknownSynthesizer, provider)
	}
	req.Text = speakable(req.Text)
	if req.Text == "" {
		req.Text = defaultPreviewText
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return p.Synthesize(ctx, req)
}

type observedSynthesizer struct {
	Synthesizer
	s *Synthesis
}

func (o *observedSynthesizer) Synthesize(ctx context.Context, req SynthesisRequest) (SynthesizedAudio, error) {
	out, err := o.Synthesizer.Synthesize(ctx, req)
	if err != nil {
		o.s.observer.IncProviderError(o.Name(), "synthesize")
		o.s.logger.Warn().Err(err).Str("provider", o.Name()).Msg("synthesis failed, falling back to mock")
	}
	return out, err
}
