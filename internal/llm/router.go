package llm

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/voxline/internal/conversation"
)

// Observer receives generation events. *observability.Metrics satisfies it.
type Observer interface {
	IncProviderError(provider, stage string)
	IncFallback(result string)
}

type RouterConfig struct {
	DefaultProvider string
	DefaultModel    string
	FallbackModel   string
	MaxTokens       int
	Temperature     float64
	Timeout         time.Duration
}

// Route is a provider/model pair fixed when a session starts.
type Route struct {
	Provider  Provider
	Model     string
	Requested string
}

// Name is the resolved provider name.
func (r Route) Name() string {
	if r.Provider == nil {
		return ""
	}
	return r.Provider.Name()
}

// Substituted reports whether the requested provider was replaced.
func (r Route) Substituted() bool {
	return r.Requested != r.Name()
}

// GenerationRequest is one turn's input: system prompt, prior history and the new
// user utterance.
type GenerationRequest struct {
	System    string
	History   []conversation.Utterance
	Utterance string
	Language  string
}

// aliases route provider names outside the closed set to a member of it.
var aliases = map[string]struct {
	provider string
	model    string
}{
	"meta":   {ProviderOpenRouter, "meta-llama/llama-3.1-70b-instruct"},
	"claude": {ProviderAnthropic, ""},
	"google": {ProviderGemini, ""},
}

// Router dispatches generation to the configured providers and applies the
// rate-limit fallback ladder.
type Router struct {
	cfg        RouterConfig
	providers  map[string]Provider
	aggregator Provider
	observer   Observer
	logger     zerolog.Logger
}

// NewRouter registers providers by name. The OpenRouter provider, when present,
// becomes the aggregator for the fallback ladder. A mock provider is always
// registered as the last-resort route.
func NewRouter(cfg RouterConfig, providers []Provider, observer Observer, logger zerolog.Logger) *Router {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 80
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	cfg.DefaultProvider = strings.ToLower(strings.TrimSpace(cfg.DefaultProvider))
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = ProviderOpenAI
	}
	if strings.TrimSpace(cfg.FallbackModel) == "" {
		cfg.FallbackModel = "openai/gpt-3.5-turbo"
	}

	r := &Router{
		cfg:       cfg,
		providers: make(map[string]Provider, len(providers)+1),
		observer:  observer,
		logger:    logger.With().Str("component", "llm_router").Logger(),
	}
	for _, p := range providers {
		if p == nil {
			continue
		}
		r.providers[p.Name()] = p
	}
	if _, ok := r.providers[ProviderMock]; !ok {
		r.providers[ProviderMock] = NewMock()
	}
	r.aggregator = r.providers[ProviderOpenRouter]
	return r
}

// Providers lists the registered provider names.
func (r *Router) Providers() []string {
	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// HasAggregator reports whether the fallback ladder is armed.
func (r *Router) HasAggregator() bool {
	return r.aggregator != nil
}

// Resolve fixes the route for a session. Unknown or unconfigured providers resolve
// to the default provider and model, then to the mock provider.
func (r *Router) Resolve(provider, model string) Route {
	requested := strings.ToLower(strings.TrimSpace(provider))
	model = strings.TrimSpace(model)
	name := requested
	if alias, ok := aliases[name]; ok {
		name = alias.provider
		if alias.model != "" && !strings.Contains(model, "/") {
			model = alias.model
		}
	}

	if p, ok := r.providers[name]; ok {
		// The global default model belongs to the default provider; other providers
		// get their own default.
		if model == "" || (model == r.cfg.DefaultModel && name != r.cfg.DefaultProvider) {
			model = p.DefaultModel()
		}
		return Route{Provider: p, Model: model, Requested: requested}
	}

	if p, ok := r.providers[r.cfg.DefaultProvider]; ok {
		m := r.cfg.DefaultModel
		if m == "" {
			m = p.DefaultModel()
		}
		return Route{Provider: p, Model: m, Requested: requested}
	}

	mock := r.providers[ProviderMock]
	return Route{Provider: mock, Model: mock.DefaultModel(), Requested: requested}
}

// Generate runs one completion on route. A rate-limited provider is retried exactly
// once through the aggregator; every other failure returns a *GenerationError.
func (r *Router) Generate(ctx context.Context, route Route, req GenerationRequest) (string, error) {
	if route.Provider == nil {
		route = r.Resolve("", "")
	}
	creq := r.buildRequest(route.Model, req)

	text, err := r.call(ctx, route.Provider, creq)
	if err == nil {
		return text, nil
	}
	r.observe(route.Name(), err)

	genErr := &GenerationError{Provider: route.Name(), Model: route.Model, Err: err}
	if !errors.Is(err, ErrRateLimited) || r.aggregator == nil || route.Name() == r.aggregator.Name() {
		return "", genErr
	}
	if ctx.Err() != nil {
		return "", genErr
	}

	r.logger.Warn().
		Str("provider", route.Name()).
		Str("fallback", r.aggregator.Name()).
		Str("fallback_model", r.cfg.FallbackModel).
		Msg("provider rate limited, retrying through aggregator")

	creq.Model = r.cfg.FallbackModel
	text, fbErr := r.call(ctx, r.aggregator, creq)
	if fbErr == nil {
		r.fallbackResult("ok")
		return text, nil
	}
	r.fallbackResult("failed")
	r.observe(r.aggregator.Name(), fbErr)
	genErr.FallbackProvider = r.aggregator.Name()
	genErr.FallbackErr = fbErr
	return "", genErr
}

func (r *Router) call(ctx context.Context, p Provider, req Request) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	return p.Complete(callCtx, req)
}

func (r *Router) buildRequest(model string, req GenerationRequest) Request {
	messages := make([]Message, 0, len(req.History)+1)
	for _, u := range req.History {
		role := RoleUser
		if u.Role == conversation.RoleAssistant {
			role = RoleAssistant
		}
		messages = append(messages, Message{Role: role, Content: u.Text})
	}
	messages = append(messages, Message{Role: RoleUser, Content: req.Utterance})
	return Request{
		Model:       model,
		System:      req.System,
		Messages:    messages,
		MaxTokens:   r.cfg.MaxTokens,
		Temperature: r.cfg.Temperature,
		Language:    req.Language,
	}
}

func (r *Router) observe(provider string, err error) {
	r.logger.Warn().Err(err).Str("provider", provider).Msg("generation failed")
	if r.observer != nil {
		r.observer.IncProviderError(provider, "generate")
	}
}

func (r *Router) fallbackResult(result string) {
	if r.observer != nil {
		r.observer.IncFallback(result)
	}
}
