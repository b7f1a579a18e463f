// Package llm wraps the text-generation providers behind one interface and owns the
// rate-limit fallback ladder.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/voxline/internal/reliability"
)

// Provider names. The set is closed; anything else resolves to the default route.
const (
	ProviderOpenAI     = "openai"
	ProviderGroq       = "groq"
	ProviderMistral    = "mistral"
	ProviderAnthropic  = "anthropic"
	ProviderGemini     = "gemini"
	ProviderOpenRouter = "openrouter"
	ProviderMock       = "mock"
)

var (
	ErrRateLimited = errors.New("provider rate limited")
	ErrEmptyReply  = errors.New("provider returned an empty reply")
)

// Role tags a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is the provider-neutral completion request. Messages end with the new
// user utterance.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	Language    string
}

// Provider is one text-generation backend.
type Provider interface {
	Name() string
	DefaultModel() string
	Complete(ctx context.Context, req Request) (string, error)
}

// StatusError is a non-2xx provider response.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s http status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Unwrap exposes ErrRateLimited for 429 responses.
func (e *StatusError) Unwrap() error {
	if reliability.ClassifyHTTPStatus(e.StatusCode) == reliability.ClassRateLimited {
		return ErrRateLimited
	}
	return nil
}

// GenerationError is the typed failure surfaced to the turn controller.
type GenerationError struct {
	Provider         string
	Model            string
	Err              error
	FallbackProvider string
	FallbackErr      error
}

func (e *GenerationError) Error() string {
	msg := fmt.Sprintf("generation via %s (%s) failed: %v", e.Provider, e.Model, e.Err)
	if e.FallbackProvider != "" {
		msg += fmt.Sprintf("; fallback via %s failed: %v", e.FallbackProvider, e.FallbackErr)
	}
	return msg
}

func (e *GenerationError) Unwrap() []error {
	if e.FallbackErr != nil {
		return []error{e.Err, e.FallbackErr}
	}
	return []error{e.Err}
}

// RateLimited reports whether the primary provider failed with a rate limit.
func (e *GenerationError) RateLimited() bool {
	return errors.Is(e.Err, ErrRateLimited)
}

// Cause is a short human-readable reason suitable for a spoken fallback.
func (e *GenerationError) Cause() string {
	switch {
	case errors.Is(e.Err, context.DeadlineExceeded):
		return e.Provider + " timed out"
	case e.FallbackProvider != "":
		return fmt.Sprintf("%s rate limited and %s failed", e.Provider, e.FallbackProvider)
	case e.RateLimited():
		return e.Provider + " rate limited"
	case errors.Is(e.Err, ErrEmptyReply):
		return e.Provider + " returned no text"
	}
	var se *StatusError
	if errors.As(e.Err, &se) {
		return fmt.Sprintf("%s returned status %d", e.Provider, se.StatusCode)
	}
	return e.Provider + " unavailable"
}

func cleanReply(provider, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%s: %w", provider, ErrEmptyReply)
	}
	return text, nil
}

// mergeConsecutive folds adjacent messages of the same role; strict-alternation
// APIs reject repeated user turns.
func mergeConsecutive(in []Message) []Message {
	out := make([]Message, 0, len(in))
	for _, m := range in {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Content += "\n" + m.Content
			continue
		}
		out = append(out, m)
	}
	return out
}
