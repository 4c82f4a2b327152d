package costing

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ralex-ai/ralex/internal/classifier"
	"github.com/ralex-ai/ralex/internal/config"
	"github.com/ralex-ai/ralex/internal/ledger"
	"github.com/ralex-ai/ralex/internal/metrics"
	"github.com/ralex-ai/ralex/internal/pricing"
)

// The seven fixed breakdown categories, in report order.
const (
	CategoryModelInference = "model_inference"
	CategoryExecutionTime  = "execution_time"
	CategoryContextTokens  = "context_tokens"
	CategoryOutputTokens   = "output_tokens"
	CategoryStorage        = "storage_operations"
	CategoryNetwork        = "network_calls"
	CategoryRetry          = "retry_overhead"
)

// Breakdown is one category's share of the estimate.
type Breakdown struct {
	Category              string  `json:"category"`
	Cost                  float64 `json:"cost"`
	Confidence            float64 `json:"confidence"`
	OptimizationPotential float64 `json:"optimization_potential"`
	Description           string  `json:"description"`
}

// BudgetImpact reports the estimate relative to the caller's budgets.
type BudgetImpact struct {
	DailyBudgetPercentage  float64 `json:"daily_budget_percentage"`
	HourlyBudgetPercentage float64 `json:"hourly_budget_percentage"`
	BudgetEfficiency       float64 `json:"budget_efficiency"`
	CostPerOperation       float64 `json:"cost_per_operation"`
}

// Estimate is the estimator's full output. TotalCost equals the breakdown
// sum before the historical-accuracy adjustment is applied.
type Estimate struct {
	TotalCost       float64      `json:"total_cost"`
	Breakdown       []Breakdown  `json:"cost_breakdown"`
	ConfidenceLevel float64      `json:"confidence_level"`
	VarianceMin     float64      `json:"variance_min"`
	VarianceMax     float64      `json:"variance_max"`
	Suggestions     []string     `json:"optimization_suggestions,omitempty"`
	Impact          BudgetImpact `json:"budget_impact"`
}

// Context carries the request facts the estimator consumes.
type Context struct {
	FileCount       int
	ContextTokens   int
	DailyBudgetUSD  float64
	HourlyBudgetUSD float64
}

// Fixed per-task-type parameters.
var (
	baseTimeSeconds  = map[string]float64{"simple": 5, "complex": 30, "mobile": 15, "batch": 60, "analysis": 20}
	baseOutputTokens = map[string]float64{"simple": 100, "complex": 500, "mobile": 200, "batch": 800, "analysis": 400}
	opsPerFile       = map[string]float64{"simple": 2, "complex": 5, "mobile": 3, "batch": 10, "analysis": 4}
	networkCalls     = map[string]float64{"simple": 1, "complex": 3, "mobile": 2, "batch": 5, "analysis": 2}
	baseVariance     = map[string]float64{"simple": 0.2, "mobile": 0.25, "analysis": 0.3, "complex": 0.4, "batch": 0.5}

	// Flat per-type inference fallback bases, nudged by online learning.
	defaultFlatBases = map[string]float64{"simple": 0.0005, "complex": 0.002, "mobile": 0.001, "batch": 0.0015, "analysis": 0.001}

	optimizationPotential = map[string]float64{
		CategoryModelInference: 0.40,
		CategoryExecutionTime:  0.30,
		CategoryContextTokens:  0.50,
		CategoryOutputTokens:   0.35,
		CategoryStorage:        0.20,
		CategoryNetwork:        0.15,
		CategoryRetry:          0.60,
	}

	cannedSuggestions = map[string]string{
		CategoryModelInference: "route to a cheaper model tier for this task type",
		CategoryExecutionTime:  "reduce scope or split the task into smaller runs",
		CategoryContextTokens:  "trim context to the files actually touched",
		CategoryOutputTokens:   "request a terser output format",
		CategoryStorage:        "batch file operations to cut per-file overhead",
		CategoryNetwork:        "coalesce external calls",
		CategoryRetry:          "lower complexity per request to cut retry probability",
	}
)

const (
	executionRatePerSecond = 0.0001
	storageRatePerOp       = 0.00001
	networkRatePerCall     = 0.0001
)

// Estimator produces the seven-category cost breakdown with a historical
// accuracy correction.
type Estimator struct {
	logger  *zap.Logger
	cfg     config.CostingConfig
	catalog *pricing.Catalog
	store   *ledger.CostLog

	mu        sync.RWMutex
	history   []ledger.CostRecord
	flatBases map[string]float64

	now func() time.Time
}

// NewEstimator builds an estimator. store may be nil (in-memory history
// only); load failures degrade to empty history.
func NewEstimator(cfg config.CostingConfig, catalog *pricing.Catalog, store *ledger.CostLog, logger *zap.Logger) *Estimator {
	bases := make(map[string]float64, len(defaultFlatBases))
	for k, v := range defaultFlatBases {
		bases[k] = v
	}
	e := &Estimator{
		logger:    logger,
		cfg:       cfg,
		catalog:   catalog,
		store:     store,
		flatBases: bases,
		now:       time.Now,
	}
	if store != nil {
		e.history = store.Load()
	}
	return e
}

// Estimate computes the breakdown for one request. routing may be nil, in
// which case model inference falls back to the flat per-type base.
func (e *Estimator) Estimate(taskType string, complexity float64, reqCtx Context, routing *classifier.RoutingDecision) Estimate {
	complexity = clamp01(complexity)
	contextTokens := reqCtx.ContextTokens
	if contextTokens <= 0 {
		contextTokens = e.cfg.DefaultContextTokens
	}

	inference := e.inferenceBreakdown(taskType, complexity, contextTokens, routing)

	inputRate, outputRate := e.tokenRates(routing)
	breakdown := []Breakdown{
		inference,
		{
			Category:    CategoryExecutionTime,
			Cost:        lookupF(baseTimeSeconds, taskType, 10) * (1 + 2*complexity) * executionRatePerSecond,
			Confidence:  0.7,
			Description: "compute time at the per-second execution rate",
		},
		{
			Category:    CategoryContextTokens,
			Cost:        float64(contextTokens) / 1000.0 * inputRate,
			Confidence:  0.8,
			Description: fmt.Sprintf("%d context tokens at input rate", contextTokens),
		},
		{
			Category:    CategoryOutputTokens,
			Cost:        lookupF(baseOutputTokens, taskType, 200) * (1 + complexity) / 1000.0 * outputRate,
			Confidence:  0.7,
			Description: "expected output tokens at output rate",
		},
		{
			Category:    CategoryStorage,
			Cost:        float64(max(reqCtx.FileCount, 1)) * lookupF(opsPerFile, taskType, 3) * storageRatePerOp,
			Confidence:  0.9,
			Description: "file operations",
		},
		{
			Category:    CategoryNetwork,
			Cost:        lookupF(networkCalls, taskType, 2) * networkRatePerCall,
			Confidence:  0.9,
			Description: "external service calls",
		},
		{
			Category:    CategoryRetry,
			Cost:        inference.Cost * (complexity * e.cfg.RetryProbabilitySlope) * e.cfg.RetryCostFactor,
			Confidence:  0.5,
			Description: "expected retry cost, probability linear in complexity",
		},
	}
	for i := range breakdown {
		breakdown[i].OptimizationPotential = optimizationPotential[breakdown[i].Category]
	}

	total := 0.0
	for _, b := range breakdown {
		total += b.Cost
	}

	adjusted, confidence := e.applyHistory(taskType, complexity, total, breakdown)

	variance := lookupF(baseVariance, taskType, 0.3) + 0.2*complexity
	est := Estimate{
		TotalCost:       adjusted,
		Breakdown:       breakdown,
		ConfidenceLevel: confidence,
		VarianceMin:     max(adjusted*(1-variance), 0),
		VarianceMax:     adjusted * (1 + variance),
		Suggestions:     suggestions(taskType, complexity, breakdown),
		Impact:          impact(adjusted, reqCtx),
	}
	metrics.EstimatedCostUSD.Observe(adjusted)
	return est
}

func (e *Estimator) inferenceBreakdown(taskType string, complexity float64, contextTokens int, routing *classifier.RoutingDecision) Breakdown {
	if routing != nil && routing.SelectedModel != "" {
		if _, ok := e.catalog.Lookup(routing.SelectedModel); ok {
			inputTokens := 200 + int(500*complexity) + contextTokens
			outputTokens := 100 + int(300*complexity)
			return Breakdown{
				Category:    CategoryModelInference,
				Cost:        e.catalog.CostForSplit(routing.SelectedModel, inputTokens, outputTokens),
				Confidence:  0.8,
				Description: fmt.Sprintf("%s at catalog rates (%d in / %d out tokens)", routing.SelectedModel, inputTokens, outputTokens),
			}
		}
	}

	e.mu.RLock()
	base, ok := e.flatBases[taskType]
	e.mu.RUnlock()
	if !ok {
		base = 0.001
	}
	return Breakdown{
		Category:    CategoryModelInference,
		Cost:        base * (1 + complexity),
		Confidence:  0.5,
		Description: "flat per-type estimate, no priced model selected",
	}
}

func (e *Estimator) tokenRates(routing *classifier.RoutingDecision) (inputPer1K, outputPer1K float64) {
	if routing != nil {
		if m, ok := e.catalog.Lookup(routing.SelectedModel); ok {
			return m.InputPer1K, m.OutputPer1K
		}
	}
	combined := e.catalog.DefaultPer1K()
	return combined, combined
}

// applyHistory multiplies the total by the median actual/estimated ratio of
// comparable past records. The median was chosen to resist outliers.
func (e *Estimator) applyHistory(taskType string, complexity, total float64, breakdown []Breakdown) (adjusted, confidence float64) {
	e.mu.RLock()
	var ratios, accuracies []float64
	for _, rec := range e.history {
		if rec.TaskType != taskType || rec.EstimatedCost <= 0 {
			continue
		}
		if diff := rec.Complexity - complexity; diff > 0.2 || diff < -0.2 {
			continue
		}
		ratios = append(ratios, rec.ActualCost/rec.EstimatedCost)
		acc := 1 - absFloat(rec.ActualCost-rec.EstimatedCost)/rec.EstimatedCost
		if acc < 0 {
			acc = 0
		}
		accuracies = append(accuracies, acc)
	}
	e.mu.RUnlock()

	if len(ratios) == 0 {
		// No comparable history: confidence is the cost-weighted breakdown
		// confidence.
		var num, den float64
		for _, b := range breakdown {
			num += b.Confidence * b.Cost
			den += b.Cost
		}
		if den == 0 {
			return total, 0.5
		}
		return total, num / den
	}

	sort.Float64s(ratios)
	m := ratios[len(ratios)/2]
	if len(ratios)%2 == 0 {
		m = (ratios[len(ratios)/2-1] + ratios[len(ratios)/2]) / 2
	}

	var sum float64
	for _, a := range accuracies {
		sum += a
	}
	return total * m, sum / float64(len(accuracies))
}

func suggestions(taskType string, complexity float64, breakdown []Breakdown) []string {
	sorted := make([]Breakdown, len(breakdown))
	copy(sorted, breakdown)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Cost > sorted[j].Cost })

	var out []string
	for _, b := range sorted {
		if len(out) >= 3 {
			break
		}
		if b.OptimizationPotential > 0.3 {
			out = append(out, cannedSuggestions[b.Category])
		}
	}

	if taskType == "batch" && complexity > 0.6 {
		out = append(out, "parallelize batch items to amortize setup cost")
	}
	if taskType == "complex" && complexity > 0.7 {
		out = append(out, "split the task into independent subtasks")
	}

	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

func impact(total float64, reqCtx Context) BudgetImpact {
	bi := BudgetImpact{
		CostPerOperation: total / float64(max(reqCtx.FileCount, 1)),
	}
	if reqCtx.DailyBudgetUSD > 0 {
		bi.DailyBudgetPercentage = total / reqCtx.DailyBudgetUSD * 100
		bi.BudgetEfficiency = clamp01(1 - total/reqCtx.DailyBudgetUSD)
	}
	if reqCtx.HourlyBudgetUSD > 0 {
		bi.HourlyBudgetPercentage = total / reqCtx.HourlyBudgetUSD * 100
	}
	return bi
}

// RecordActualCost appends an observation and nudges the task type's flat
// base by 2% toward the error when prediction accuracy fell below 70%.
// Bases are clamped to [0.25x, 4x] of their defaults so long runs cannot
// drift the estimator into the weeds.
func (e *Estimator) RecordActualCost(taskType string, complexity, estimated, actual float64) {
	rec := ledger.CostRecord{
		TaskType:      taskType,
		Complexity:    clamp01(complexity),
		EstimatedCost: estimated,
		ActualCost:    actual,
		Timestamp:     e.now(),
	}

	e.mu.Lock()
	e.history = append(e.history, rec)
	limit := e.cfg.HistoryCap
	if limit <= 0 {
		limit = 2000
	}
	if len(e.history) > limit {
		e.history = e.history[len(e.history)-limit:]
	}

	if estimated > 0 {
		accuracy := 1 - absFloat(actual-estimated)/estimated
		if accuracy < 0.7 {
			factor := 1.02
			if actual < estimated {
				factor = 0.98
			}
			if base, ok := e.flatBases[taskType]; ok {
				next := base * factor
				if def := defaultFlatBases[taskType]; def > 0 {
					if next < def*0.25 {
						next = def * 0.25
					}
					if next > def*4 {
						next = def * 4
					}
				}
				e.flatBases[taskType] = next
			}
		}
	}
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.Append(rec); err != nil {
			e.logger.Warn("Failed to persist cost record", zap.Error(err))
		}
	}
}

// FlatBase exposes the current learned base for a task type.
func (e *Estimator) FlatBase(taskType string) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.flatBases[taskType]
}

func lookupF(m map[string]float64, key string, fallback float64) float64 {
	if v, ok := m[key]; ok {
		return v
	}
	return fallback
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
