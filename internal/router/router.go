package router

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/ralex-ai/ralex/internal/config"
	"github.com/ralex-ai/ralex/internal/metrics"
	"github.com/ralex-ai/ralex/internal/pricing"
)

// Request carries what routing needs to know about one task. Tier is the
// requested target when TierExplicit is set; otherwise the router derives
// the target from the prompt and file count.
type Request struct {
	Prompt       string
	Tier         pricing.Tier
	TierExplicit bool
	FileCount    int
}

// Decision is the routed model choice. Route always produces one; the
// chain bottoms out at the configured fallback model rather than an error.
type Decision struct {
	Model          string   `json:"model"`
	Tier           string   `json:"tier"`
	EstimatedCost  float64  `json:"estimated_cost"`
	Reasoning      string   `json:"reasoning"`
	FallbackModels []string `json:"fallback_models,omitempty"`
}

// Compressor shortens oversized prompts before routing. Implementations
// call an external summarizer; failures are tolerated.
type Compressor interface {
	Compress(ctx context.Context, prompt string) (string, error)
}

// Router maps a request and the remaining budget to a concrete model,
// de-escalating through cheaper tiers as the budget shrinks. It never
// escalates past the target tier on its own; EscalateTier is for callers
// that want to retry upward.
type Router struct {
	logger     *zap.Logger
	cfg        config.RouterConfig
	catalog    *pricing.Catalog
	compressor Compressor
}

// New builds a router. compressor may be nil to disable prompt compression.
func New(cfg config.RouterConfig, catalog *pricing.Catalog, compressor Compressor, logger *zap.Logger) *Router {
	return &Router{
		logger:     logger,
		cfg:        cfg,
		catalog:    catalog,
		compressor: compressor,
	}
}

// Prompt patterns that pull the target tier up when the caller did not pin
// one.
var (
	diamondPattern  = regexp.MustCompile(`(?i)\b(architecture|architect|security audit|distributed system|system design)\b`)
	platinumPattern = regexp.MustCompile(`(?i)\b(refactor|redesign|migrate|optimize performance|debug.{0,20}complex)\b`)
	goldPattern     = regexp.MustCompile(`(?i)\b(implement|analyze|integrate|review|test suite)\b`)
)

// TargetTier resolves the tier the router aims for before budget pressure.
func (r *Router) TargetTier(req Request) pricing.Tier {
	if req.TierExplicit {
		return req.Tier
	}
	switch {
	case diamondPattern.MatchString(req.Prompt):
		return pricing.TierDiamond
	case platinumPattern.MatchString(req.Prompt) || req.FileCount > 10:
		return pricing.TierPlatinum
	case goldPattern.MatchString(req.Prompt) || req.FileCount > 3:
		return pricing.TierGold
	default:
		return pricing.TierSilver
	}
}

// Route picks a model for the request given the remaining budget in USD.
// Fallback order: target tier, strictly lower tiers, globally cheapest
// affordable model, any zero-cost model, then the configured emergency
// fallback. It never returns an error.
func (r *Router) Route(req Request, budgetRemaining float64) Decision {
	target := r.TargetTier(req)

	for tier := target; ; tier-- {
		// The target tier is tried in declared order so its primary model
		// wins when affordable; lower tiers go cheapest-first since price
		// is what forced the walk down.
		models := r.catalog.ModelsByCost(tier)
		if tier == target {
			models = r.catalog.Models(tier)
		}
		for _, m := range models {
			cost := r.nominalCost(m)
			if cost > budgetRemaining {
				continue
			}
			reasoning := fmt.Sprintf("selected %s from tier %s", m.Name, tier)
			fallback := "none"
			if tier != target {
				reasoning = fmt.Sprintf("tier %s unaffordable, de-escalated to %s (%s)", target, tier, m.Name)
				fallback = "de-escalated"
			}
			metrics.RoutingDecisions.WithLabelValues(tier.String(), fallback).Inc()
			return Decision{
				Model:          m.Name,
				Tier:           tier.String(),
				EstimatedCost:  cost,
				Reasoning:      reasoning,
				FallbackModels: r.fallbacksBelow(tier, m.Name),
			}
		}
		if tier == pricing.TierSilver {
			break
		}
	}

	if m, ok := r.catalog.CheapestModel(); ok {
		if cost := r.nominalCost(m); cost <= budgetRemaining {
			tier, _ := r.catalog.TierOf(m.Name)
			metrics.RoutingDecisions.WithLabelValues(tier.String(), "cheapest").Inc()
			return Decision{
				Model:         m.Name,
				Tier:          tier.String(),
				EstimatedCost: cost,
				Reasoning:     fmt.Sprintf("emergency fallback to globally cheapest model %s", m.Name),
			}
		}
	}

	if m, ok := r.catalog.ZeroCostModel(); ok {
		tier, _ := r.catalog.TierOf(m.Name)
		metrics.RoutingDecisions.WithLabelValues(tier.String(), "zero_cost").Inc()
		return Decision{
			Model:     m.Name,
			Tier:      tier.String(),
			Reasoning: fmt.Sprintf("budget exhausted, using zero-cost model %s", m.Name),
		}
	}

	r.logger.Warn("No affordable or free model, using last resort",
		zap.Float64("budget_remaining", budgetRemaining),
		zap.String("model", r.cfg.FallbackModel))
	metrics.RoutingDecisions.WithLabelValues("silver", "last_resort").Inc()
	return Decision{
		Model:     r.cfg.FallbackModel,
		Tier:      pricing.TierSilver.String(),
		Reasoning: fmt.Sprintf("last resort: emergency fallback to %s, budget exhausted", r.cfg.FallbackModel),
	}
}

// EscalateTier returns the next tier up, for caller-driven retry policies.
// The router itself never escalates.
func (r *Router) EscalateTier(tier pricing.Tier) (pricing.Tier, bool) {
	return pricing.NextTier(tier)
}

// MaybeCompress shrinks prompts whose len/4 token estimate exceeds the
// configured threshold. Compression failure returns the original prompt.
func (r *Router) MaybeCompress(ctx context.Context, prompt string) string {
	if r.compressor == nil || r.cfg.CompressionThresholdTokens <= 0 {
		return prompt
	}
	if len(prompt)/4 <= r.cfg.CompressionThresholdTokens {
		return prompt
	}
	compressed, err := r.compressor.Compress(ctx, prompt)
	if err != nil || strings.TrimSpace(compressed) == "" {
		metrics.PromptsCompressed.WithLabelValues("failed").Inc()
		r.logger.Warn("Prompt compression failed, routing the original",
			zap.Int("estimated_tokens", len(prompt)/4),
			zap.Error(err))
		return prompt
	}
	metrics.PromptsCompressed.WithLabelValues("ok").Inc()
	return compressed
}

// nominalCost prices a typical request against one model.
func (r *Router) nominalCost(m pricing.Model) float64 {
	return float64(r.cfg.NominalRequestTokens) / 1000.0 * m.CombinedPer1K()
}

// fallbacksBelow lists up to three cheaper candidates under the selection,
// for the caller's own retry logic.
func (r *Router) fallbacksBelow(tier pricing.Tier, selected string) []string {
	var out []string
	for t := tier; ; t-- {
		for _, m := range r.catalog.ModelsByCost(t) {
			if m.Name == selected {
				continue
			}
			out = append(out, m.Name)
			if len(out) == 3 {
				return out
			}
		}
		if t == pricing.TierSilver {
			break
		}
	}
	return out
}
