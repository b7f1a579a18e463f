package voice

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ent0n29/voxline/internal/audio"
)

const mockTranscript = "simulated voice input"

// MockTranscriber is the offline transcriber used when no speech-to-text
// credentials are configured.
type MockTranscriber struct {
	text string
}

func NewMockTranscriber(text string) *MockTranscriber {
	if strings.TrimSpace(text) == "" {
		text = mockTranscript
	}
	return &MockTranscriber{text: text}
}

func (m *MockTranscriber) Name() string { return ASRMock }

func (m *MockTranscriber) Transcribe(ctx context.Context, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", nil
	}
	return m.text, nil
}

// MockSynthesizer renders silence sized to the text, roughly one second per
// fifteen characters.
type MockSynthesizer struct{}

func NewMockSynthesizer() *MockSynthesizer { return &MockSynthesizer{} }

func (m *MockSynthesizer) Name() string { return TTSMock }

func (m *MockSynthesizer) Synthesize(ctx context.Context, req SynthesisRequest) (SynthesizedAudio, error) {
	if err := ctx.Err(); err != nil {
		return SynthesizedAudio{}, err
	}
	d := time.Duration(utf8.RuneCountInString(req.Text)) * time.Second / 15
	if d < 250*time.Millisecond {
		d = 250 * time.Millisecond
	}
	if d > 10*time.Second {
		d = 10 * time.Second
	}
	return SynthesizedAudio{
		Data:        audio.SilentWAV(d),
		ContentType: audio.ContentTypeWAV,
		Provider:    TTSMock,
	}, nil
}
