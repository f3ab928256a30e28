// Package routing classifies prompts and drives them through the ordered
// provider fallback chain.
package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/intellihub-router/internal/cache"
	"github.com/tributary-ai/intellihub-router/internal/normalize"
	"github.com/tributary-ai/intellihub-router/internal/providers"
	"github.com/tributary-ai/intellihub-router/internal/providers/openrouter"
	"github.com/tributary-ai/intellihub-router/internal/types"
)

// ResearchMaxTemperature caps the temperature sent to the research provider.
const ResearchMaxTemperature = 0.5

// RateLimitGuidance is returned in place of an error when every aggregator
// attempt was rate limited.
const RateLimitGuidance = "The service hit external rate limits on all available providers.\n\n" +
	"What you can do now:\n" +
	"• Add credits to OpenRouter (unlocks higher daily quota).\n" +
	"• Add additional API keys (OPENROUTER_API_KEYS) for rotation.\n" +
	"• Retry in a few minutes (limits reset periodically).\n" +
	"• Upgrade to paid / non-free models and include them in MODEL_PREFERENCES.\n" +
	"• Implement per-user throttling to reduce burst traffic."

var rateLimitedRaw = json.RawMessage(`{"error":"rate_limited"}`)

// Options wires the router's collaborators. Nil providers are treated as not
// configured.
type Options struct {
	Registry  *Registry
	Executor  Executor
	Cache     cache.Store
	APIKeys   []string
	Research  providers.Provider
	Local     providers.Provider
	Gemini    providers.Provider
	Anthropic providers.Provider

	// DisableSecondaryFallback stops the chain after the default model retry.
	DisableSecondaryFallback bool
}

// Router is the top-level dispatcher. It holds no per-request state.
type Router struct {
	registry    *Registry
	executor    Executor
	coordinator *Coordinator
	cache       cache.Store
	keys        []string
	research    providers.Provider
	local       providers.Provider
	gemini      providers.Provider
	anthropic   providers.Provider
	noFallback  bool
	logger      *logrus.Logger
}

// NewRouter creates a router.
func NewRouter(opts Options, logger *logrus.Logger) *Router {
	registry := opts.Registry
	if registry == nil {
		registry = NewRegistry(ModelsConfig{})
	}
	store := opts.Cache
	if store == nil {
		store = cache.NewMemoryStore(cache.DefaultTTL)
	}

	return &Router{
		registry:    registry,
		executor:    opts.Executor,
		coordinator: NewCoordinator(opts.Executor, logger),
		cache:       store,
		keys:        append([]string(nil), opts.APIKeys...),
		research:    opts.Research,
		local:       opts.Local,
		gemini:      opts.Gemini,
		anthropic:   opts.Anthropic,
		noFallback:  opts.DisableSecondaryFallback,
		logger:      logger,
	}
}

// strategy is one stage of the chain. A failing terminal stage ends the chain
// with its error; other failures fall through to the next enabled stage.
type strategy struct {
	name     string
	enabled  func() bool
	try      func(ctx context.Context) (*types.NormalizedResponse, error)
	terminal bool
}

// dispatch carries the per-request inputs shared by the strategies.
type dispatch struct {
	req        types.PromptRequest
	task       types.TaskCategory
	candidates []string
	decision   *Decision
}

// Generate classifies req and returns the first response produced by the
// chain: cache, research provider, aggregator models, default model, then the
// local and direct vendor fallbacks. Every response is cached before it is
// returned, including the rate limit guidance.
func (r *Router) Generate(ctx context.Context, req types.PromptRequest) (*types.NormalizedResponse, error) {
	task := Classify(req.Prompt, req.HasImage())
	key := cache.Key(req.Prompt, req.ImageURL, task)
	candidates := r.registry.CandidatesFor(task)

	d := &dispatch{
		req:        req,
		task:       task,
		candidates: candidates,
		decision:   newDecision(task, key, candidates),
	}
	defer func() {
		r.logger.WithFields(d.decision.fields()).Info("Request routed")
	}()

	if hit := r.lookup(ctx, key); hit != nil {
		d.decision.Cached = true
		return hit, nil
	}

	resp, err := r.run(ctx, d, r.strategies(d))
	if err != nil {
		return nil, err
	}

	if err := r.cache.Set(ctx, key, resp); err != nil {
		r.logger.WithError(err).Warn("Failed to cache response")
	}
	return resp, nil
}

func (r *Router) run(ctx context.Context, d *dispatch, chain []strategy) (*types.NormalizedResponse, error) {
	for _, s := range chain {
		if !s.enabled() {
			continue
		}

		start := time.Now()
		resp, err := s.try(ctx)
		model := ""
		if resp != nil {
			model = resp.Model
		}
		d.decision.record(s.name, model, err, time.Since(start))

		if err == nil {
			return resp, nil
		}

		r.logger.WithFields(logrus.Fields{
			"stage": s.name,
			"task":  d.task,
		}).WithError(err).Warn("Routing stage failed")

		if s.terminal {
			return nil, err
		}
	}
	return nil, r.exhausted(d.decision)
}

func (r *Router) strategies(d *dispatch) []strategy {
	return []strategy{
		{
			name:    StageResearch,
			enabled: func() bool { return d.task == types.TaskResearch && configured(r.research) },
			try: func(ctx context.Context) (*types.NormalizedResponse, error) {
				req := d.req.WithTemperature(math.Min(d.req.Temperature, ResearchMaxTemperature))
				return r.research.Generate(ctx, req, d.task)
			},
		},
		{
			name:     StageGeminiDirect,
			enabled:  func() bool { return len(r.keys) == 0 && configured(r.gemini) },
			terminal: true,
			try: func(ctx context.Context) (*types.NormalizedResponse, error) {
				resp, err := r.gemini.Generate(ctx, d.req, d.task)
				if err != nil {
					return nil, fmt.Errorf("no aggregator credentials and gemini direct failed: %w", err)
				}
				return resp, nil
			},
		},
		{
			name:    StageAggregator,
			enabled: always,
			try: func(ctx context.Context) (*types.NormalizedResponse, error) {
				return r.tryAggregator(ctx, d)
			},
		},
		{
			name:     StageDefaultModel,
			enabled:  always,
			terminal: r.noFallback,
			try: func(ctx context.Context) (*types.NormalizedResponse, error) {
				return r.tryDefaultModel(ctx, d)
			},
		},
		{
			name:    StageLocal,
			enabled: func() bool { return configured(r.local) },
			try: func(ctx context.Context) (*types.NormalizedResponse, error) {
				return r.local.Generate(ctx, d.req, d.task)
			},
		},
		{
			name:    StageGemini,
			enabled: func() bool { return configured(r.gemini) },
			try: func(ctx context.Context) (*types.NormalizedResponse, error) {
				return r.gemini.Generate(ctx, d.req, d.task)
			},
		},
		{
			name:    StageAnthropic,
			enabled: func() bool { return configured(r.anthropic) },
			try: func(ctx context.Context) (*types.NormalizedResponse, error) {
				return r.anthropic.Generate(ctx, d.req, d.task)
			},
		},
	}
}

// tryAggregator runs the model candidates through the coordinator. Pure rate
// limit exhaustion is answered with the guidance text.
func (r *Router) tryAggregator(ctx context.Context, d *dispatch) (*types.NormalizedResponse, error) {
	payload := openrouter.ChatPayload{
		Model:       d.candidates[0],
		Messages:    openrouter.BuildMessages(d.req.Prompt, d.req.ImageURL),
		Temperature: d.req.Temperature,
	}

	completion, model, err := r.coordinator.Dispatch(ctx, d.candidates, payload, r.keys)
	if err != nil {
		if providers.IsRateLimitExhausted(err) {
			r.logger.WithField("task", d.task).Warn("All aggregator attempts rate limited, returning guidance")
			return &types.NormalizedResponse{
				Model:         d.candidates[0],
				TaskType:      d.task,
				AssistantText: RateLimitGuidance,
				Raw:           append(json.RawMessage(nil), rateLimitedRaw...),
			}, nil
		}
		return nil, err
	}

	if completion.Model != "" {
		model = completion.Model
	}
	return &types.NormalizedResponse{
		Model:         model,
		TaskType:      d.task,
		AssistantText: normalize.ChatCompletionText(completion.Body),
		Raw:           completion.Body,
	}, nil
}

// tryDefaultModel makes one last aggregator pass with the global default model.
func (r *Router) tryDefaultModel(ctx context.Context, d *dispatch) (*types.NormalizedResponse, error) {
	defaultModel := r.registry.DefaultModel()
	payload := openrouter.ChatPayload{
		Model:       defaultModel,
		Messages:    openrouter.BuildMessages(d.req.Prompt, d.req.ImageURL),
		Temperature: d.req.Temperature,
	}

	completion, err := r.executor.Execute(ctx, payload, r.keys, types.RetryConfig{
		MaxRetriesPerKey: 1,
		BaseDelay:        DefaultModelBackoff,
	})
	if err != nil {
		return nil, err
	}

	return &types.NormalizedResponse{
		Model:         defaultModel,
		TaskType:      d.task,
		AssistantText: normalize.ChatCompletionText(completion.Body),
		Raw:           completion.Body,
	}, nil
}

// exhausted builds the error returned when no stage succeeded. Once a direct
// vendor was tried the error names every failed fallback; otherwise the default
// model error is returned as is.
func (r *Router) exhausted(decision *Decision) error {
	defaultOutcome, _ := decision.outcome(StageDefaultModel)

	var (
		fallbacks    []StageOutcome
		directFailed bool
	)
	for _, stage := range []string{StageLocal, StageGemini, StageAnthropic} {
		outcome, ok := decision.outcome(stage)
		if !ok || !outcome.Failed() {
			continue
		}
		fallbacks = append(fallbacks, outcome)
		if stage != StageLocal {
			directFailed = true
		}
	}

	if !directFailed {
		return defaultOutcome.Err
	}

	aggregator, _ := decision.outcome(StageAggregator)
	return &ChainError{Aggregator: aggregator.Err, Fallbacks: fallbacks}
}

func (r *Router) lookup(ctx context.Context, key string) *types.NormalizedResponse {
	hit, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		r.logger.WithError(err).Warn("Cache lookup failed, treating as miss")
		return nil
	}
	if !ok {
		return nil
	}
	hit.Cached = true
	return hit
}

// Describe reports how req would be routed without dispatching it.
func (r *Router) Describe(req types.PromptRequest) types.ClassifyResponse {
	task := Classify(req.Prompt, req.HasImage())
	return types.ClassifyResponse{
		TaskType:   task,
		Candidates: r.registry.CandidatesFor(task),
		CacheKey:   cache.Key(req.Prompt, req.ImageURL, task),
	}
}

// ClearCache drops every cached response.
func (r *Router) ClearCache(ctx context.Context) error {
	return r.cache.Clear(ctx)
}

// Providers lists the chain's upstreams in dispatch order.
func (r *Router) Providers() []types.ProviderStatus {
	statuses := []types.ProviderStatus{{
		Name:       "openrouter",
		Kind:       types.KindAggregator,
		Configured: len(r.keys) > 0,
		Detail:     fmt.Sprintf("%d keys", len(r.keys)),
	}}
	for _, p := range []providers.Provider{r.research, r.local, r.gemini, r.anthropic} {
		if p != nil {
			statuses = append(statuses, providers.Status(p))
		}
	}
	return statuses
}

func configured(p providers.Provider) bool {
	return p != nil && p.Configured()
}

func always() bool { return true }
