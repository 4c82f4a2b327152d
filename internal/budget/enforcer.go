package budget

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ralex-ai/ralex/internal/config"
	"github.com/ralex-ai/ralex/internal/ledger"
	"github.com/ralex-ai/ralex/internal/metrics"
	"github.com/ralex-ai/ralex/internal/pricing"
)

// Scope names which window a decision was made against.
const (
	ScopeDaily  = "daily"
	ScopeWeekly = "weekly"
)

// Decision is the outcome of a budget check.
type Decision struct {
	Allowed      bool    `json:"allowed"`
	Reason       string  `json:"reason"`
	Scope        string  `json:"scope,omitempty"`
	CurrentSpend float64 `json:"current_spend"`
	Limit        float64 `json:"limit"`
	Remaining    float64 `json:"remaining"`
	Suggestion   string  `json:"suggestion,omitempty"`
}

// Alternative is a cheaper model proposal for a query.
type Alternative struct {
	Model         string  `json:"model"`
	Tier          string  `json:"tier"`
	EstimatedCost float64 `json:"estimated_cost"`
	Savings       float64 `json:"savings"`
}

// Enforcer applies hard daily and weekly spending limits. Totals are
// recomputed from the spend ledger on every check; there is no cached
// counter that can drift from the file.
type Enforcer struct {
	logger  *zap.Logger
	cfg     config.BudgetConfig
	catalog *pricing.Catalog
	spend   *ledger.SpendLog

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	now func() time.Time
}

// NewEnforcer wires the enforcer to its spend ledger and catalog.
func NewEnforcer(cfg config.BudgetConfig, catalog *pricing.Catalog, spend *ledger.SpendLog, logger *zap.Logger) *Enforcer {
	return &Enforcer{
		logger:   logger,
		cfg:      cfg,
		catalog:  catalog,
		spend:    spend,
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
	}
}

// EstimateCost predicts the USD cost of sending query to model, padded by
// the configured safety margin. Unknown models price at the catalog
// default.
func (e *Enforcer) EstimateCost(query, model string) float64 {
	words := len(strings.Fields(query))
	tokens := float64(words) * e.cfg.TokensPerWord * 2
	if floor := float64(e.cfg.MinTokens); tokens < floor {
		tokens = floor
	}
	return tokens / 1000.0 * e.catalog.PricePer1K(model) * e.cfg.SafetyMargin
}

// Check decides whether spending estimatedCost now would keep both windows
// under their limits. The daily window starts at local midnight, the weekly
// window seven days back.
func (e *Enforcer) Check(estimatedCost float64) Decision {
	now := e.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	daily := e.spend.TotalSince(midnight)
	if d, rejected := e.checkWindow(ScopeDaily, daily, e.cfg.DailyLimitUSD, estimatedCost); rejected {
		return d
	}

	weekly := e.spend.TotalSince(now.Add(-7 * 24 * time.Hour))
	if d, rejected := e.checkWindow(ScopeWeekly, weekly, e.cfg.WeeklyLimitUSD, estimatedCost); rejected {
		return d
	}

	metrics.BudgetDecisions.WithLabelValues("allowed", ScopeDaily).Inc()
	return Decision{
		Allowed:      true,
		Reason:       "within budget",
		Scope:        ScopeDaily,
		CurrentSpend: daily,
		Limit:        e.cfg.DailyLimitUSD,
		Remaining:    e.cfg.DailyLimitUSD - daily,
	}
}

func (e *Enforcer) checkWindow(scope string, spent, limit, estimated float64) (Decision, bool) {
	if limit <= 0 || spent+estimated <= limit {
		return Decision{}, false
	}
	metrics.BudgetDecisions.WithLabelValues("rejected", scope).Inc()
	label := "Daily"
	if scope == ScopeWeekly {
		label = "Weekly"
	}
	d := Decision{
		Allowed:      false,
		Reason:       fmt.Sprintf("%s budget exceeded: $%.4f spent + $%.4f estimated > $%.2f limit", label, spent, estimated, limit),
		Scope:        scope,
		CurrentSpend: spent,
		Limit:        limit,
		Remaining:    max(limit-spent, 0),
		Suggestion:   "try a cheaper model or wait for the window to reset",
	}
	e.logger.Warn("Budget check rejected request",
		zap.String("scope", scope),
		zap.Float64("spent", spent),
		zap.Float64("estimated", estimated),
		zap.Float64("limit", limit))
	return d, true
}

// Record charges a completed operation against the budget.
func (e *Enforcer) Record(model string, costUSD float64) error {
	if _, err := e.spend.Append(model, costUSD); err != nil {
		return fmt.Errorf("record spend: %w", err)
	}
	return nil
}

// Remaining reports the unspent daily budget, floored at zero.
func (e *Enforcer) Remaining() float64 {
	now := e.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return max(e.cfg.DailyLimitUSD-e.spend.TotalSince(midnight), 0)
}

// OptimizationSuggestions proposes cheaper models for the query, cheapest
// first. A query with complex-task vocabulary only considers gold and
// above; everything else may drop to silver.
func (e *Enforcer) OptimizationSuggestions(query, currentModel string) []Alternative {
	current := e.EstimateCost(query, currentModel)

	floor := pricing.TierSilver
	if hasComplexVocabulary(query) {
		floor = pricing.TierGold
	}

	var out []Alternative
	for _, tier := range pricing.TierOrder {
		if tier < floor {
			continue
		}
		for _, m := range e.catalog.ModelsByCost(tier) {
			if m.Name == currentModel {
				continue
			}
			cost := e.EstimateCost(query, m.Name)
			if cost >= current {
				continue
			}
			out = append(out, Alternative{
				Model:         m.Name,
				Tier:          tier.String(),
				EstimatedCost: cost,
				Savings:       current - cost,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EstimatedCost < out[j].EstimatedCost })
	return out
}

var complexVocabulary = []string{
	"architecture", "refactor", "analyze", "design", "optimize",
	"implement", "debug", "migrate", "integrate",
}

func hasComplexVocabulary(query string) bool {
	lower := strings.ToLower(query)
	for _, w := range complexVocabulary {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// SetRateLimit installs a token bucket for one caller. requests <= 0
// removes any existing limiter.
func (e *Enforcer) SetRateLimit(caller string, requests int, interval time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if requests <= 0 || interval <= 0 {
		delete(e.limiters, caller)
		return
	}
	e.limiters[caller] = rate.NewLimiter(rate.Every(interval/time.Duration(requests)), requests)
}

// AllowRequest consumes one token from the caller's bucket. Callers without
// a limiter are always allowed; the configured default applies to new
// callers when one is set.
func (e *Enforcer) AllowRequest(caller string) bool {
	e.mu.Lock()
	lim, ok := e.limiters[caller]
	if !ok && e.cfg.RateLimit.Requests > 0 && e.cfg.RateLimit.Interval > 0 {
		lim = rate.NewLimiter(
			rate.Every(e.cfg.RateLimit.Interval/time.Duration(e.cfg.RateLimit.Requests)),
			e.cfg.RateLimit.Requests)
		e.limiters[caller] = lim
		ok = true
	}
	e.mu.Unlock()
	if !ok {
		return true
	}
	return lim.Allow()
}
