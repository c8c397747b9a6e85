package llm

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nousworks/nous/internal/audit"
	"github.com/nousworks/nous/internal/observability"
	"github.com/nousworks/nous/pkg/models"
)

// ProviderCooldown is how long a failed provider is demoted in the fallback
// order.
const ProviderCooldown = 60 * time.Second

// modelTable maps provider and complexity to a model identifier.
var modelTable = map[ProviderID]map[Complexity]string{
	ProviderOpenAI: {
		ComplexitySimple:   "gpt-4o-mini",
		ComplexityStandard: "gpt-4o",
		ComplexityComplex:  "gpt-4o",
	},
	ProviderAnthropic: {
		ComplexitySimple:   "claude-3-5-haiku",
		ComplexityStandard: "claude-sonnet-4",
		ComplexityComplex:  "claude-sonnet-4",
	},
	ProviderGoogle: {
		ComplexitySimple:   "gemini-2.0-flash",
		ComplexityStandard: "gemini-1.5-pro",
		ComplexityComplex:  "gemini-1.5-pro",
	},
	ProviderOpenRouter: {
		ComplexitySimple:   "google/gemini-2.0-flash",
		ComplexityStandard: "anthropic/claude-sonnet-4",
		ComplexityComplex:  "anthropic/claude-sonnet-4",
	},
}

// Router routes completion requests across providers with fallback and
// cooldown. Safe for concurrent use; the only shared mutable state is the
// per-provider cooldown map, guarded by mu.
type Router struct {
	providers       []Provider
	defaultProvider ProviderID
	logger          *slog.Logger
	auditLog        *audit.Logger
	metrics         *observability.Metrics

	mu            sync.Mutex
	cooldownUntil map[ProviderID]time.Time

	// now is replaceable in tests.
	now func() time.Time
}

// RouterOption customizes a Router.
type RouterOption func(*Router)

// WithAudit attaches an audit logger for fallback and failure events.
func WithAudit(a *audit.Logger) RouterOption {
	return func(r *Router) { r.auditLog = a }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *observability.Metrics) RouterOption {
	return func(r *Router) { r.metrics = m }
}

// WithClock replaces the time source. Tests use this to control cooldowns.
func WithClock(now func() time.Time) RouterOption {
	return func(r *Router) { r.now = now }
}

// NewRouter creates a router over the given providers. The first provider is
// the default; fallback order is the registration order.
func NewRouter(providers []Provider, logger *slog.Logger, opts ...RouterOption) *Router {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Router{
		providers:     providers,
		logger:        logger,
		cooldownUntil: make(map[ProviderID]time.Time),
		now:           time.Now,
	}
	if len(providers) > 0 {
		r.defaultProvider = providers[0].Name()
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AvailableProviders returns the providers whose adapters report configured
// credentials, in registration order.
func (r *Router) AvailableProviders() []ProviderID {
	var out []ProviderID
	for _, p := range r.providers {
		if p.Available() {
			out = append(out, p.Name())
		}
	}
	return out
}

// SelectModel returns the model for a provider and complexity tier.
func (r *Router) SelectModel(provider ProviderID, complexity Complexity) string {
	if complexity == "" {
		complexity = ComplexityStandard
	}
	if tiers, ok := modelTable[provider]; ok {
		if model, ok := tiers[complexity]; ok {
			return model
		}
		return tiers[ComplexityStandard]
	}
	return ""
}

// CooldownRemaining reports how long the provider stays demoted, zero if it
// is not in cooldown.
func (r *Router) CooldownRemaining(provider ProviderID) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	until, ok := r.cooldownUntil[provider]
	if !ok {
		return 0
	}
	remaining := until.Sub(r.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Complete routes the request through the fallback order until a provider
// succeeds.
func (r *Router) Complete(ctx context.Context, req *Request) (*Response, error) {
	req = req.withDefaults()

	order := r.fallbackOrder(req.Provider)
	if len(order) == 0 {
		return nil, &AllProvidersExhaustedError{}
	}

	preferred := req.Provider
	if preferred == "" {
		preferred = r.defaultProvider
	}

	var lastErr error
	for _, p := range order {
		attempt := *req
		if p.Name() == preferred && req.Model != "" {
			attempt.Model = req.Model
		} else {
			attempt.Model = r.SelectModel(p.Name(), req.Complexity)
		}

		start := r.now()
		resp, err := p.Complete(ctx, &attempt)
		if err != nil {
			lastErr = err
			r.markCooldown(p.Name())
			r.logger.Warn("provider failed",
				"provider", p.Name(), "model", attempt.Model, "error", err)
			if r.metrics != nil {
				r.metrics.LLMRequestCounter.WithLabelValues(string(p.Name()), attempt.Model, "error").Inc()
			}
			if r.auditLog != nil {
				r.auditLog.Log("llm_provider_failed", map[string]any{
					"provider": string(p.Name()),
					"model":    attempt.Model,
					"error":    err.Error(),
				})
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}

		r.clearCooldown(p.Name())
		if p.Name() != preferred {
			r.logger.Info("fallback provider used",
				"preferred", preferred, "used", p.Name())
			if r.metrics != nil {
				r.metrics.ProviderFallbacks.WithLabelValues(string(preferred), string(p.Name())).Inc()
			}
			if r.auditLog != nil {
				r.auditLog.Log("llm_fallback_used", map[string]any{
					"preferred": string(preferred),
					"used":      string(p.Name()),
				})
			}
		}
		r.recordSuccess(p.Name(), resp, r.now().Sub(start))
		return resp, nil
	}

	return nil, &AllProvidersExhaustedError{LastErr: lastErr}
}

// Stream routes a streaming request with the same fallback order.
func (r *Router) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	req = req.withDefaults()

	order := r.fallbackOrder(req.Provider)
	if len(order) == 0 {
		return nil, &AllProvidersExhaustedError{}
	}

	preferred := req.Provider
	if preferred == "" {
		preferred = r.defaultProvider
	}

	var lastErr error
	for _, p := range order {
		attempt := *req
		if p.Name() == preferred && req.Model != "" {
			attempt.Model = req.Model
		} else {
			attempt.Model = r.SelectModel(p.Name(), req.Complexity)
		}

		stream, err := p.Stream(ctx, &attempt)
		if err != nil {
			lastErr = err
			r.markCooldown(p.Name())
			r.logger.Warn("provider stream failed",
				"provider", p.Name(), "model", attempt.Model, "error", err)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		r.clearCooldown(p.Name())
		return stream, nil
	}

	return nil, &AllProvidersExhaustedError{LastErr: lastErr}
}

// Quick is a convenience single-turn completion returning plain text.
func (r *Router) Quick(ctx context.Context, prompt, system string, complexity Complexity) (string, error) {
	if complexity == "" {
		complexity = ComplexitySimple
	}
	resp, err := r.Complete(ctx, &Request{
		Messages:     []models.ChatMessage{{Role: models.RoleUser, Content: prompt}},
		SystemPrompt: system,
		Complexity:   complexity,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// fallbackOrder builds the provider attempt order: preferred first, then the
// rest in registration order, unavailable dropped, cooled-down providers
// stably moved to the end so they are still tried last.
func (r *Router) fallbackOrder(preferred ProviderID) []Provider {
	if preferred == "" {
		preferred = r.defaultProvider
	}

	ordered := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		if p.Name() == preferred {
			ordered = append(ordered, p)
		}
	}
	for _, p := range r.providers {
		if p.Name() != preferred {
			ordered = append(ordered, p)
		}
	}

	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	var hot, cooled []Provider
	for _, p := range ordered {
		if !p.Available() {
			continue
		}
		if until, ok := r.cooldownUntil[p.Name()]; ok && now.Before(until) {
			cooled = append(cooled, p)
		} else {
			hot = append(hot, p)
		}
	}
	return append(hot, cooled...)
}

func (r *Router) markCooldown(provider ProviderID) {
	r.mu.Lock()
	r.cooldownUntil[provider] = r.now().Add(ProviderCooldown)
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.ProviderCooldowns.WithLabelValues(string(provider)).Inc()
	}
}

func (r *Router) clearCooldown(provider ProviderID) {
	r.mu.Lock()
	delete(r.cooldownUntil, provider)
	r.mu.Unlock()
}

func (r *Router) recordSuccess(provider ProviderID, resp *Response, elapsed time.Duration) {
	cost := EstimateCost(resp.Model, resp.PromptTokens, resp.CompletionTokens)
	r.logger.Info("llm request completed",
		"provider", provider,
		"model", resp.Model,
		"prompt_tokens", resp.PromptTokens,
		"completion_tokens", resp.CompletionTokens,
		"cost_usd", cost,
		"duration", elapsed)

	if r.metrics == nil {
		return
	}
	r.metrics.LLMRequestCounter.WithLabelValues(string(provider), resp.Model, "success").Inc()
	r.metrics.LLMRequestDuration.WithLabelValues(string(provider), resp.Model).Observe(elapsed.Seconds())
	r.metrics.LLMTokensUsed.WithLabelValues(string(provider), resp.Model, "prompt").Add(float64(resp.PromptTokens))
	r.metrics.LLMTokensUsed.WithLabelValues(string(provider), resp.Model, "completion").Add(float64(resp.CompletionTokens))
	r.metrics.LLMCostUSD.WithLabelValues(string(provider), resp.Model).Add(cost)
}
