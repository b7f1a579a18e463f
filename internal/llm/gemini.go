package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// geminiModels is the slice of *genai.Models the provider needs.
type geminiModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiProvider generates replies through the Gemini API SDK.
type GeminiProvider struct {
	models       geminiModels
	defaultModel string
}

func NewGemini(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  strings.TrimSpace(apiKey),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiProvider{models: client.Models, defaultModel: "gemini-1.5-flash"}, nil
}

func (p *GeminiProvider) Name() string         { return ProviderGemini }
func (p *GeminiProvider) DefaultModel() string { return p.defaultModel }

func (p *GeminiProvider) Complete(ctx context.Context, req Request) (string, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = p.defaultModel
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range mergeConsecutive(req.Messages) {
		var role genai.Role = genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if system := strings.TrimSpace(req.System); system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	resp, err := p.models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return "", geminiError(err)
	}
	if resp == nil {
		return "", fmt.Errorf("gemini: %w", ErrEmptyReply)
	}
	return cleanReply(ProviderGemini, resp.Text())
}

// geminiError maps SDK API errors onto StatusError so rate limits unwrap to
// ErrRateLimited.
func geminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &StatusError{Provider: ProviderGemini, StatusCode: apiErr.Code, Body: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &StatusError{Provider: ProviderGemini, StatusCode: apiErrPtr.Code, Body: apiErrPtr.Message}
	}
	if strings.Contains(err.Error(), "RESOURCE_EXHAUSTED") {
		return &StatusError{Provider: ProviderGemini, StatusCode: http.StatusTooManyRequests, Body: err.Error()}
	}
	return fmt.Errorf("gemini request: %w", err)
}
