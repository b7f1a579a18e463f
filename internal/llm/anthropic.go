package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const anthropicVersion = "2023-06-01"

// AnthropicProvider calls the Messages API. The system prompt travels outside the
// message list.
type AnthropicProvider struct {
	url          string
	apiKey       string
	defaultModel string
	client       *http.Client
}

func NewAnthropic(apiKey string, opts ...ChatOption) *AnthropicProvider {
	base := newChatProvider(ProviderAnthropic, "https://api.anthropic.com/v1/messages", apiKey, "claude-3-haiku-20240307", nil, opts...)
	return &AnthropicProvider{
		url:          base.url,
		apiKey:       base.apiKey,
		defaultModel: base.defaultModel,
		client:       base.client,
	}
}

func (p *AnthropicProvider) Name() string         { return ProviderAnthropic }
func (p *AnthropicProvider) DefaultModel() string { return p.defaultModel }

type anthropicRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (string, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 80
	}

	messages := mergeConsecutive(req.Messages)
	// The API requires the first message to come from the user.
	for len(messages) > 0 && messages[0].Role != RoleUser {
		messages = messages[1:]
	}

	payload, err := json.Marshal(anthropicRequest{
		Model:       model,
		System:      strings.TrimSpace(req.System),
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	res, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("anthropic request: %w", err)
	}
	defer res.Body.Close()

	if err := statusError(ProviderAnthropic, res); err != nil {
		return "", err
	}

	var out anthropicResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("anthropic decode response: %w", err)
	}
	var b strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" || block.Type == "" {
			b.WriteString(block.Text)
		}
	}
	return cleanReply(ProviderAnthropic, b.String())
}

