package llm

import (
	"context"
	"fmt"
	"time"

	"devflow/pkg/config"
	"devflow/pkg/logx"
)

// Model tiers. Fast models handle planning, checklist generation, validation
// and summarization; reasoning models handle code generation.
const (
	TierFast      = "fast"
	TierReasoning = "reasoning"
)

// TierForStep maps a workflow step name to the model tier serving it.
// Unknown steps get the fast tier.
func TierForStep(step string) string {
	if step == "execute" {
		return TierReasoning
	}
	return TierFast
}

// Recorder receives routing outcomes for metrics. Implementations must be
// safe for concurrent use.
type Recorder interface {
	RecordRequest(provider, model, step, outcome string, usage Usage, latency time.Duration)
	RecordFailover(from, to, step string)
}

// NopRecorder discards all observations.
type NopRecorder struct{}

func (NopRecorder) RecordRequest(_, _, _, _ string, _ Usage, _ time.Duration) {}

func (NopRecorder) RecordFailover(_, _, _ string) {}

// RouteResult carries the completion response together with the provider and
// model that actually served it, which may be the fallback pair.
type RouteResult struct {
	Response CompletionResponse
	Provider string
	Model    string
	FellBack bool
}

// Router selects a provider and model for each workflow step and performs at
// most one failover attempt to the configured fallback provider when the
// primary call fails.
type Router struct {
	providers map[string]Provider
	cfg       *config.ProvidersConfig
	recorder  Recorder
	logger    *logx.Logger
}

// NewRouter builds a router over the given providers. Providers are keyed by
// their Name(). recorder may be nil.
func NewRouter(providers []Provider, cfg *config.ProvidersConfig, recorder Recorder) (*Router, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("router requires at least one provider")
	}
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	if _, ok := byName[cfg.Primary]; !ok {
		return nil, fmt.Errorf("primary provider %q not registered", cfg.Primary)
	}
	if cfg.AllowFallback {
		if _, ok := byName[cfg.Fallback]; !ok {
			return nil, fmt.Errorf("fallback provider %q not registered", cfg.Fallback)
		}
	}
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &Router{
		providers: byName,
		cfg:       cfg,
		recorder:  recorder,
		logger:    logx.NewLogger("router"),
	}, nil
}

// Route performs one completion for the given workflow step. modelType
// overrides the step's tier when non-empty; otherwise the static step→tier
// mapping applies. The request's Model field is filled in from the selected
// provider's tier configuration; callers set everything else. On primary
// failure with fallback enabled, the fallback provider is tried exactly once
// and its result returned as-is.
func (r *Router) Route(ctx context.Context, step, modelType string, req CompletionRequest) (RouteResult, error) {
	tier := modelType
	if tier == "" {
		tier = TierForStep(step)
	}

	primary, model, err := r.resolve(r.cfg.Primary, tier)
	if err != nil {
		return RouteResult{}, err
	}

	resp := r.call(ctx, primary, model, step, req)
	if !resp.Failed() {
		return RouteResult{Response: resp, Provider: primary.Name(), Model: model}, nil
	}
	r.logger.Warn("primary provider %s failed on step %s: %s", primary.Name(), step, resp.ErrorDetail)

	if !r.cfg.AllowFallback {
		return RouteResult{Response: resp, Provider: primary.Name(), Model: model}, nil
	}

	fallback, fbModel, err := r.resolve(r.cfg.Fallback, tier)
	if err != nil {
		return RouteResult{}, err
	}
	r.recorder.RecordFailover(primary.Name(), fallback.Name(), step)
	r.logger.Info("failing over to %s (%s) for step %s", fallback.Name(), fbModel, step)

	resp = r.call(ctx, fallback, fbModel, step, req)
	return RouteResult{
		Response: resp,
		Provider: fallback.Name(),
		Model:    fbModel,
		FellBack: true,
	}, nil
}

// HealthCheck probes every registered provider and returns the reachable set.
func (r *Router) HealthCheck(ctx context.Context) map[string]bool {
	out := make(map[string]bool, len(r.providers))
	for name, p := range r.providers {
		out[name] = p.HealthCheck(ctx)
	}
	return out
}

func (r *Router) resolve(providerName, tier string) (Provider, string, error) {
	p, ok := r.providers[providerName]
	if !ok {
		return nil, "", fmt.Errorf("provider %q not registered", providerName)
	}
	model, err := r.cfg.ModelFor(providerName, tier)
	if err != nil {
		return nil, "", err
	}
	return p, model, nil
}

func (r *Router) call(ctx context.Context, p Provider, model, step string, req CompletionRequest) CompletionResponse {
	req.Model = model
	start := time.Now()
	resp := p.Complete(ctx, req)
	outcome := "success"
	if resp.Failed() {
		outcome = "error"
	}
	r.recorder.RecordRequest(p.Name(), model, step, outcome, resp.Usage, time.Since(start))
	return resp
}
