package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/voxline/internal/reliability"
)

// ChatProvider speaks the OpenAI chat-completions dialect shared by OpenAI, Groq,
// Mistral and OpenRouter.
type ChatProvider struct {
	name         string
	url          string
	apiKey       string
	defaultModel string
	headers      map[string]string
	client       *http.Client
}

// ChatOption customizes a ChatProvider.
type ChatOption func(*ChatProvider)

// WithBaseURL overrides the completions endpoint.
func WithBaseURL(url string) ChatOption {
	return func(p *ChatProvider) {
		if url = strings.TrimSpace(url); url != "" {
			p.url = url
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) ChatOption {
	return func(p *ChatProvider) {
		if c != nil {
			p.client = c
		}
	}
}

func newChatProvider(name, url, apiKey, defaultModel string, headers map[string]string, opts ...ChatOption) *ChatProvider {
	p := &ChatProvider{
		name:         name,
		url:          url,
		apiKey:       strings.TrimSpace(apiKey),
		defaultModel: defaultModel,
		headers:      headers,
		client:       &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func NewOpenAI(apiKey string, opts ...ChatOption) *ChatProvider {
	return newChatProvider(ProviderOpenAI, "https://api.openai.com/v1/chat/completions", apiKey, "gpt-3.5-turbo", nil, opts...)
}

func NewGroq(apiKey string, opts ...ChatOption) *ChatProvider {
	return newChatProvider(ProviderGroq, "https://api.groq.com/openai/v1/chat/completions", apiKey, "llama-3.1-8b-instant", nil, opts...)
}

func NewMistral(apiKey string, opts ...ChatOption) *ChatProvider {
	return newChatProvider(ProviderMistral, "https://api.mistral.ai/v1/chat/completions", apiKey, "mistral-small-latest", nil, opts...)
}

// NewOpenRouter builds the aggregator provider. referer and title identify the app
// to OpenRouter.
func NewOpenRouter(apiKey, referer, title string, opts ...ChatOption) *ChatProvider {
	headers := map[string]string{
		"HTTP-Referer": referer,
		"X-Title":      title,
	}
	return newChatProvider(ProviderOpenRouter, "https://openrouter.ai/api/v1/chat/completions", apiKey, "openai/gpt-3.5-turbo", headers, opts...)
}

func (p *ChatProvider) Name() string         { return p.name }
func (p *ChatProvider) DefaultModel() string { return p.defaultModel }

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (p *ChatProvider) Complete(ctx context.Context, req Request) (string, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = p.defaultModel
	}

	messages := make([]Message, 0, len(req.Messages)+1)
	if system := strings.TrimSpace(req.System); system != "" {
		messages = append(messages, Message{Role: "system", Content: system})
	}
	messages = append(messages, req.Messages...)

	payload, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
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
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	for k, v := range p.headers {
		if strings.TrimSpace(v) != "" {
			httpReq.Header.Set(k, v)
		}
	}

	res, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%s request: %w", p.name, err)
	}
	defer res.Body.Close()

	if err := statusError(p.name, res); err != nil {
		return "", err
	}

	var out chatResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("%s decode response: %w", p.name, err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%s: %w", p.name, ErrEmptyReply)
	}
	return cleanReply(p.name, out.Choices[0].Message.Content)
}

// statusError turns a non-2xx response into a *StatusError, nil otherwise.
func statusError(provider string, res *http.Response) error {
	if reliability.ClassifyHTTPStatus(res.StatusCode) == reliability.ClassOK {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
	return &StatusError{
		Provider:   provider,
		StatusCode: res.StatusCode,
		Body:       strings.TrimSpace(string(body)),
		RetryAfter: reliability.RetryAfter(res.Header.Get("Retry-After"), time.Now()),
	}
}
