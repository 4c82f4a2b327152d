package complexity

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ralex-ai/ralex/internal/config"
	"github.com/ralex-ai/ralex/internal/ledger"
	"github.com/ralex-ai/ralex/internal/metrics"
)

// Baselines for the execution prediction.
const (
	baseTime     = 5 * time.Second
	baseTokens   = 200
	baseCostUSD  = 0.001
	baseTimeoutS = 300
)

// Analyzer scores prompts along six factors and blends in similarity-weighted
// history. Analyze is side-effect free; RecordExecution appends history and
// nudges the learning weights.
type Analyzer struct {
	logger *zap.Logger
	cfg    config.ComplexityConfig
	store  *ledger.ExecutionLog

	mu             sync.RWMutex
	weights        map[Factor]float64
	initialWeights map[Factor]float64
	history        []ledger.ExecutionRecord

	now func() time.Time
}

// NewAnalyzer builds an analyzer. The history store may be nil (purely
// in-memory history); if present, loading it is best-effort and read or
// parse failures leave the analyzer with empty history.
func NewAnalyzer(cfg config.ComplexityConfig, store *ledger.ExecutionLog, logger *zap.Logger) *Analyzer {
	weights := make(map[Factor]float64, len(Factors))
	initial := make(map[Factor]float64, len(Factors))
	for _, f := range Factors {
		w, ok := cfg.FactorWeights[f.String()]
		if !ok {
			w = config.DefaultFactorWeights()[f.String()]
		}
		weights[f] = w
		initial[f] = w
	}

	a := &Analyzer{
		logger:         logger,
		cfg:            cfg,
		store:          store,
		weights:        weights,
		initialWeights: initial,
		now:            time.Now,
	}
	if store != nil {
		a.history = store.Load()
		if len(a.history) > 0 {
			logger.Info("Loaded execution history", zap.Int("records", len(a.history)))
		}
	}
	return a
}

// Analyze scores the prompt. It cannot fail for well-formed string input.
func (a *Analyzer) Analyze(prompt string) Analysis {
	p := tokenize(prompt)

	scores := make([]Score, 0, len(Factors))
	byFactor := make(map[Factor]float64, len(Factors))
	for _, f := range Factors {
		s := scoreFactor(f, p)
		scores = append(scores, s)
		byFactor[f] = s.Value
	}

	fresh := a.combine(scores)
	overall := a.blendHistory(p, fresh)
	metrics.ComplexityScore.Observe(overall)

	analysis := Analysis{
		Overall:      overall,
		Level:        LevelFor(overall),
		FactorScores: scores,
		Prediction:   predict(overall, byFactor, a.predictionConfidence(scores)),
		Resources:    deriveResources(overall),
		Risks:        assessRisks(byFactor),
		Insights:     a.insights(p, scores),
	}
	return analysis
}

// combine is the confidence-weighted average over the six factor scores.
func (a *Analyzer) combine(scores []Score) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var num, den float64
	for _, s := range scores {
		w := a.weights[s.Factor]
		num += s.Value * w * s.Confidence
		den += w * s.Confidence
	}
	if den == 0 {
		return 0
	}
	return clamp01(num / den)
}

// blendHistory mixes the fresh score with a similarity-weighted average of
// past actual complexities. With no sufficiently similar history the blend
// is a no-op, so identical prompts analyze identically on an empty store.
func (a *Analyzer) blendHistory(p promptText, fresh float64) float64 {
	a.mu.RLock()
	history := a.history
	a.mu.RUnlock()

	if len(history) == 0 {
		return fresh
	}

	now := a.now()
	halfLife := a.cfg.RecencyHalfLife.Hours()
	if halfLife <= 0 {
		halfLife = (30 * 24 * time.Hour).Hours()
	}

	var weighted, totalWeight float64
	matched := 0
	for _, rec := range history {
		sim := jaccard(p.set, tokenize(rec.Prompt).set)
		if sim <= a.cfg.SimilarityThreshold {
			continue
		}
		ageHours := now.Sub(rec.Timestamp).Hours()
		if ageHours < 0 {
			ageHours = 0
		}
		decay := math.Exp(-math.Ln2 * ageHours / halfLife)
		w := sim * decay
		weighted += rec.ActualComplexity * w
		totalWeight += w
		matched++
	}
	if matched == 0 || totalWeight == 0 {
		return fresh
	}

	historical := weighted / totalWeight
	blend := a.cfg.HistoryBlend
	return clamp01(fresh*(1-blend) + historical*blend)
}

func (a *Analyzer) predictionConfidence(scores []Score) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var num, den float64
	for _, s := range scores {
		w := a.weights[s.Factor]
		num += w * s.Confidence
		den += w
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// predict scales fixed baselines by complexity-dependent multipliers.
// Workflow-heavy and reasoning-heavy prompts disproportionately inflate a
// specific resource, hence the procedural/cognitive bumps.
func predict(overall float64, byFactor map[Factor]float64, confidence float64) Prediction {
	timeMult := 1 + 3*overall   // [1..4]
	tokenMult := 1 + 2*overall  // [1..3]
	costMult := 1 + 1.5*overall // [1..2.5]

	if byFactor[FactorProcedural] > 0.5 {
		timeMult *= 1.5
	}
	if byFactor[FactorCognitive] > 0.5 {
		tokenMult *= 1.3
	}

	return Prediction{
		EstimatedTime:   time.Duration(float64(baseTime) * timeMult),
		EstimatedTokens: int(float64(baseTokens) * tokenMult),
		EstimatedCost:   baseCostUSD * costMult,
		Confidence:      confidence,
	}
}

// deriveResources maps the score into discrete operational policy bands.
func deriveResources(overall float64) Resources {
	r := Resources{
		Timeout:             time.Duration(float64(baseTimeoutS)*(1+overall)) * time.Second,
		RetryLimit:          1,
		ContextPreservation: overall > 0.4,
	}
	if overall > 0.5 {
		r.RetryLimit = 3
	}
	switch {
	case overall > 0.7:
		r.ModelTier = "premium"
		r.ExecutionMode = "interactive"
		r.SafetyLevel = "high"
	case overall > 0.4:
		r.ModelTier = "standard"
		r.ExecutionMode = "yolo"
		r.SafetyLevel = "medium"
	default:
		r.ModelTier = "budget"
		r.ExecutionMode = "yolo"
		r.SafetyLevel = "medium"
	}
	return r
}

// assessRisks starts from fixed baselines and bumps categories whose driving
// factor crosses its threshold.
func assessRisks(byFactor map[Factor]float64) map[string]float64 {
	risks := map[string]float64{
		"execution_failure":   0.10,
		"resource_overrun":    0.10,
		"quality_degradation": 0.15,
		"timeout":             0.05,
	}
	if byFactor[FactorProcedural] > 0.6 {
		risks["execution_failure"] += 0.2
	}
	if byFactor[FactorCognitive] > 0.7 {
		risks["quality_degradation"] += 0.15
	}
	if byFactor[FactorTemporal] > 0.5 {
		risks["timeout"] += 0.2
	}
	if byFactor[FactorSyntactic] > 0.7 {
		risks["resource_overrun"] += 0.1
	}
	for k, v := range risks {
		risks[k] = clamp01(v)
	}
	return risks
}

func (a *Analyzer) insights(p promptText, scores []Score) []string {
	var out []string
	for _, s := range scores {
		if s.Value >= 0.8 {
			out = append(out, fmt.Sprintf("dominant factor: %s (%.2f)", s.Factor, s.Value))
		}
	}

	a.mu.RLock()
	matched := 0
	for _, rec := range a.history {
		if jaccard(p.set, tokenize(rec.Prompt).set) > a.cfg.SimilarityThreshold {
			matched++
		}
	}
	a.mu.RUnlock()
	if matched > 0 {
		out = append(out, fmt.Sprintf("%d similar past execution(s) informed this estimate", matched))
	}
	return out
}

// RecordExecution appends an execution outcome to history (evicting beyond
// the cap) and nudges the factor weights: down 1% on failures, up 1% on
// clean successes. Weights are clamped to [0.5x, 2x] of their initial values
// and renormalized so the weight mass stays constant under drift.
func (a *Analyzer) RecordExecution(prompt string, actualComplexity, executionTime float64, tokensUsed int, success bool, errorPatterns []string) {
	rec := ledger.ExecutionRecord{
		Prompt:           prompt,
		ActualComplexity: clamp01(actualComplexity),
		ExecutionTime:    executionTime,
		TokensUsed:       tokensUsed,
		Success:          success,
		ErrorPatterns:    errorPatterns,
		Timestamp:        a.now(),
	}

	a.mu.Lock()
	a.history = append(a.history, rec)
	limit := a.cfg.HistoryCap
	if limit <= 0 {
		limit = 1000
	}
	if len(a.history) > limit {
		a.history = a.history[len(a.history)-limit:]
	}

	factor := 1.0
	if !success {
		factor = 0.99
	} else if len(errorPatterns) == 0 {
		factor = 1.01
	}
	if factor != 1.0 {
		a.nudgeWeightsLocked(factor)
	}
	a.mu.Unlock()

	if a.store != nil {
		if err := a.store.Append(rec); err != nil {
			a.logger.Warn("Failed to persist execution record", zap.Error(err))
		}
	}
}

// nudgeWeightsLocked multiplies all weights by factor, clamps each to
// [0.5x, 2x] its initial value and rescales so the sum matches the initial
// sum. Caller holds a.mu.
func (a *Analyzer) nudgeWeightsLocked(factor float64) {
	var initialSum, sum float64
	for f, init := range a.initialWeights {
		w := a.weights[f] * factor
		if w < init*0.5 {
			w = init * 0.5
		}
		if w > init*2 {
			w = init * 2
		}
		a.weights[f] = w
		sum += w
		initialSum += init
	}
	if sum == 0 || initialSum == 0 {
		return
	}
	scale := initialSum / sum
	for f := range a.weights {
		a.weights[f] *= scale
	}
}

// Weights returns a copy of the current learning weights.
func (a *Analyzer) Weights() map[Factor]float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[Factor]float64, len(a.weights))
	for f, w := range a.weights {
		out[f] = w
	}
	return out
}

// jaccard computes word-set similarity between two token sets.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
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
