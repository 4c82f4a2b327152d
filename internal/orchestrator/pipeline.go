package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ralex-ai/ralex/internal/budget"
	"github.com/ralex-ai/ralex/internal/classifier"
	"github.com/ralex-ai/ralex/internal/complexity"
	"github.com/ralex-ai/ralex/internal/costing"
	"github.com/ralex-ai/ralex/internal/ledger"
	"github.com/ralex-ai/ralex/internal/pricing"
	"github.com/ralex-ai/ralex/internal/router"
)

// Request is one inbound task for the pipeline.
type Request struct {
	Prompt  string
	Caller  string
	Tier    string // optional explicit tier ("silver".."diamond")
	Context RequestContext
}

// RequestContext is the optional context map recognized at the boundary.
type RequestContext struct {
	FileCount       int
	Interface       string
	ContextTokens   int
	DailyBudgetUSD  float64
	HourlyBudgetUSD float64
}

// Outcome is the pipeline's verdict: either a routed, budgeted plan or a
// rejection with the budget decision explaining why.
type Outcome struct {
	RequestID      string                      `json:"request_id"`
	Allowed        bool                        `json:"allowed"`
	Prompt         string                      `json:"prompt"`
	Classification classifier.Classification   `json:"classification"`
	Analysis       complexity.Analysis         `json:"analysis"`
	Estimate       costing.Estimate            `json:"estimate"`
	Budget         budget.Decision             `json:"budget"`
	Routing        *classifier.RoutingDecision `json:"routing,omitempty"`
}

// Invoker executes the routed model call. It lives outside this module;
// the pipeline only sequences it.
type Invoker interface {
	Invoke(ctx context.Context, model, prompt string) (InvokeResult, error)
}

// InvokeResult is what an executed call reports back for accounting.
type InvokeResult struct {
	Output     string
	TokensUsed int
	CostUSD    float64
	Duration   time.Duration
}

// Pipeline sequences classification, analysis, estimation, budget
// enforcement and routing for each request, and closes the learning loop
// when results come back.
type Pipeline struct {
	logger     *zap.Logger
	analyzer   *complexity.Analyzer
	classifier *classifier.Classifier
	estimator  *costing.Estimator
	enforcer   *budget.Enforcer
	router     *router.Router
	usage      *ledger.UsageStore
	invoker    Invoker
}

// New wires the pipeline. usage and invoker may be nil; a nil invoker
// limits the pipeline to planning (Handle) without execution (Execute).
func New(
	analyzer *complexity.Analyzer,
	cls *classifier.Classifier,
	estimator *costing.Estimator,
	enforcer *budget.Enforcer,
	rt *router.Router,
	usage *ledger.UsageStore,
	invoker Invoker,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		logger:     logger,
		analyzer:   analyzer,
		classifier: cls,
		estimator:  estimator,
		enforcer:   enforcer,
		router:     rt,
		usage:      usage,
		invoker:    invoker,
	}
}

// Handle runs the planning half of the pipeline. It never returns an
// error for in-budget requests; budget rejections and rate limiting come
// back as a disallowed Outcome.
func (p *Pipeline) Handle(ctx context.Context, req Request) Outcome {
	out := Outcome{RequestID: uuid.New().String()}

	if !p.enforcer.AllowRequest(req.Caller) {
		out.Budget = budget.Decision{
			Allowed: false,
			Reason:  "rate limited",
		}
		p.logger.Warn("Request rate limited", zap.String("caller", req.Caller))
		return out
	}

	prompt := p.router.MaybeCompress(ctx, req.Prompt)
	out.Prompt = prompt

	out.Classification = p.classifier.Classify(ctx, prompt, classifier.Context{
		FileCount: req.Context.FileCount,
		Interface: req.Context.Interface,
	})
	out.Analysis = p.analyzer.Analyze(prompt)

	routeReq := p.routeRequest(req, prompt, out.Classification)

	// Gate on the default mid-tier rate before routing; the final check
	// below re-runs against the routed model's real estimate.
	gate := p.enforcer.EstimateCost(prompt, "")
	out.Budget = p.enforcer.Check(gate)
	if !out.Budget.Allowed {
		out.Estimate = p.estimator.Estimate(
			out.Classification.TaskType.String(), out.Analysis.Overall, p.costingContext(req), nil)
		return out
	}

	decision := p.router.Route(routeReq, p.enforcer.Remaining())
	out.Routing = &classifier.RoutingDecision{
		SelectedModel:  decision.Model,
		Tier:           decision.Tier,
		EstimatedCost:  decision.EstimatedCost,
		Reasoning:      decision.Reasoning,
		FallbackModels: decision.FallbackModels,
	}
	out.Classification.Routing = out.Routing

	out.Estimate = p.estimator.Estimate(
		out.Classification.TaskType.String(), out.Analysis.Overall, p.costingContext(req), out.Routing)

	// Re-check with the detailed estimate so an expensive selection cannot
	// slip under the mid-tier gate.
	out.Budget = p.enforcer.Check(out.Estimate.TotalCost)
	out.Allowed = out.Budget.Allowed
	return out
}

// Execute plans the request, invokes the routed model and records the
// actuals. Invocation errors walk the decision's fallback models before
// giving up.
func (p *Pipeline) Execute(ctx context.Context, req Request) (Outcome, InvokeResult, error) {
	out := p.Handle(ctx, req)
	if !out.Allowed {
		return out, InvokeResult{}, fmt.Errorf("request rejected: %s", out.Budget.Reason)
	}
	if p.invoker == nil {
		return out, InvokeResult{}, fmt.Errorf("no invoker configured")
	}

	models := append([]string{out.Routing.SelectedModel}, out.Routing.FallbackModels...)
	var lastErr error
	for _, model := range models {
		res, err := p.invoker.Invoke(ctx, model, out.Prompt)
		if err == nil {
			p.Complete(ctx, out, model, res, nil)
			return out, res, nil
		}
		lastErr = err
		p.logger.Warn("Model invocation failed, trying fallback",
			zap.String("model", model),
			zap.Error(err))
	}

	p.Complete(ctx, out, out.Routing.SelectedModel, InvokeResult{}, lastErr)
	return out, InvokeResult{}, fmt.Errorf("all models failed: %w", lastErr)
}

// Complete closes the learning loop after an execution attempt: spend,
// execution history, cost-accuracy history and the optional SQL mirror.
// Accounting failures are logged, never returned; the result already
// happened.
func (p *Pipeline) Complete(ctx context.Context, out Outcome, model string, res InvokeResult, invokeErr error) {
	cost := res.CostUSD
	if cost == 0 && invokeErr == nil && out.Routing != nil {
		cost = out.Routing.EstimatedCost
	}

	if cost > 0 {
		if err := p.enforcer.Record(model, cost); err != nil {
			p.logger.Error("Failed to record spend", zap.Error(err))
		}
	}

	var patterns []string
	if invokeErr != nil {
		patterns = []string{invokeErr.Error()}
	}
	p.analyzer.RecordExecution(
		out.Prompt,
		out.Analysis.Overall,
		res.Duration.Seconds(),
		res.TokensUsed,
		invokeErr == nil,
		patterns,
	)
	p.estimator.RecordActualCost(
		out.Classification.TaskType.String(),
		out.Analysis.Overall,
		out.Estimate.TotalCost,
		cost,
	)

	if p.usage != nil && cost > 0 {
		rec := ledger.SpendRecord{
			ID:        out.RequestID,
			Timestamp: time.Now(),
			Model:     model,
			CostUSD:   cost,
		}
		if err := p.usage.Record(ctx, rec, pricing.DetectProvider(model)); err != nil {
			p.logger.Warn("Usage mirror write failed", zap.Error(err))
		}
	}
}

func (p *Pipeline) routeRequest(req Request, prompt string, cls classifier.Classification) router.Request {
	rr := router.Request{
		Prompt:    prompt,
		FileCount: req.Context.FileCount,
	}
	if req.Tier != "" {
		if tier, ok := pricing.ParseTier(req.Tier); ok {
			rr.Tier = tier
			rr.TierExplicit = true
			return rr
		}
		p.logger.Warn("Ignoring unknown tier request", zap.String("tier", req.Tier))
	}
	if tier, ok := pricing.ParseTier(cls.RecommendedTier); ok {
		rr.Tier = tier
		rr.TierExplicit = true
	}
	return rr
}

func (p *Pipeline) costingContext(req Request) costing.Context {
	return costing.Context{
		FileCount:       req.Context.FileCount,
		ContextTokens:   req.Context.ContextTokens,
		DailyBudgetUSD:  req.Context.DailyBudgetUSD,
		HourlyBudgetUSD: req.Context.HourlyBudgetUSD,
	}
}
