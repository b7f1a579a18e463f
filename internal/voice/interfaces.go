package voice

import (
	"context"
	"time"

	"github.com/ent0n29/voxline/internal/llm"
)

// Transcriber is one batch speech-to-text backend. An empty result means the
// buffer held no usable speech.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, audio []byte, language string) (string, error)
}

// SynthesisRequest asks a synthesizer for one short standalone utterance.
type SynthesisRequest struct {
	Text     string
	Voice    string
	Language string
	Speed    float64
}

// SynthesizedAudio is a complete encoded audio clip.
type SynthesizedAudio struct {
	Data        []byte
	ContentType string
	Provider    string
}

// Synthesizer renders text to audio outside the realtime turn loop.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, req SynthesisRequest) (SynthesizedAudio, error)
}

// Generator resolves and runs generation routes. *llm.Router implements it.
type Generator interface {
	Resolve(provider, model string) llm.Route
	Generate(ctx context.Context, route llm.Route, req llm.GenerationRequest) (string, error)
}

// Observer receives turn-level events. *observability.Metrics implements it.
type Observer interface {
	ObserveStage(stage string, d time.Duration)
	IncSessionEvent(event string)
	IncProviderError(provider, stage string)
	IncTurn(outcome string)
	IncDropped(reason string)
}

type nopObserver struct{}

func (nopObserver) ObserveStage(string, time.Duration) {}
func (nopObserver) IncSessionEvent(string)             {}
func (nopObserver) IncProviderError(string, string)    {}
func (nopObserver) IncTurn(string)                     {}
func (nopObserver) IncDropped(string)                  {}
