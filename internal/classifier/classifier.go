package classifier

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ralex-ai/ralex/internal/config"
	"github.com/ralex-ai/ralex/internal/metrics"
)

// Selector is an optional external model-selection service. Errors never
// propagate out of Classify; they fold into the reasoning string and the
// locally computed estimate stands.
type Selector interface {
	Select(ctx context.Context, c Classification) (*RoutingDecision, error)
}

var defaultKeywords = map[TaskType][]string{
	TaskSimple:   {"create", "write", "make", "add", "new", "hello", "print", "generate", "simple"},
	TaskComplex:  {"refactor", "optimize", "optimization", "architecture", "redesign", "integrate", "migrate", "performance", "debug", "microservices", "advanced"},
	TaskMobile:   {"mobile", "android", "ios", "app", "touch", "responsive"},
	TaskBatch:    {"batch", "bulk", "multiple", "every", "mass"},
	TaskAnalysis: {"explain", "analyze", "review", "understand", "describe", "compare", "audit", "why"},
}

var (
	analysisPattern = regexp.MustCompile(`\b(explain|analy[sz]e|review|describe|summari[sz]e)\b`)
	simplePattern   = regexp.MustCompile(`\b(create|write|make|generate)\b`)
	complexPattern  = regexp.MustCompile(`\b(refactor|optimi[sz]e|redesign|rearchitect)\b`)

	// Heavy categories feeding the additive complexity bucket, +2 each.
	heavyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(refactor|redesign|rearchitect|architecture)\b`),
		regexp.MustCompile(`\b(optimi[sz]\w*|performance)\b`),
		regexp.MustCompile(`\b(integrat\w*|migrat\w*|deploy\w*)\b`),
	}

	connectives = map[string]bool{
		"and": true, "then": true, "also": true, "plus": true,
		"additionally": true, "after": true, "while": true,
	}

	wordPattern = regexp.MustCompile(`[a-z0-9_.\-]+`)
)

// Classifier derives task type, complexity bucket, cost estimate and
// execution strategy from a prompt and lightweight context.
type Classifier struct {
	logger   *zap.Logger
	cfg      config.ClassifierConfig
	keywords map[TaskType][]string
	selector Selector
}

// New builds a classifier. selector may be nil.
func New(cfg config.ClassifierConfig, selector Selector, logger *zap.Logger) *Classifier {
	keywords := make(map[TaskType][]string, len(defaultKeywords))
	for t, list := range defaultKeywords {
		if override, ok := cfg.KeywordOverrides[t.String()]; ok && len(override) > 0 {
			keywords[t] = override
		} else {
			keywords[t] = list
		}
	}
	return &Classifier{logger: logger, cfg: cfg, keywords: keywords, selector: selector}
}

// Classify scores the prompt against the five task types and derives the
// full classification. It never returns an error: external selection
// failures degrade to the local estimate.
func (c *Classifier) Classify(ctx context.Context, prompt string, reqCtx Context) Classification {
	lower := strings.ToLower(prompt)
	words := wordPattern.FindAllString(lower, -1)
	wordSet := make(map[string]bool, len(words))
	for _, w := range words {
		wordSet[strings.Trim(w, ".-")] = true
	}

	scores := c.typeScores(lower, wordSet, reqCtx)
	taskType, confidence := argmax(scores)
	bucket := c.bucket(lower, words, reqCtx)
	strategy, hints := strategyFor(taskType, bucket)

	cls := Classification{
		TaskType:        taskType,
		Complexity:      bucket,
		Confidence:      confidence,
		Reasoning:       reasonFor(taskType, scores[taskType], bucket),
		EstimatedCost:   c.estimateCost(taskType, bucket, reqCtx.FileCount),
		RecommendedTier: recommendTier(taskType, bucket),
		Strategy:        strategy,
		Hints:           hints,
	}

	if c.selector != nil {
		decision, err := c.selector.Select(ctx, cls)
		if err != nil {
			cls.Reasoning += fmt.Sprintf("; model selection unavailable (%v), using local estimate", err)
			c.logger.Warn("External model selection failed", zap.Error(err))
		} else if decision != nil {
			cls.Routing = decision
		}
	}

	metrics.RequestsClassified.WithLabelValues(taskType.String(), bucket.String()).Inc()
	return cls
}

// typeScores computes the raw per-type scores: keyword hits plus context and
// regex bumps.
func (c *Classifier) typeScores(lower string, wordSet map[string]bool, reqCtx Context) map[TaskType]float64 {
	scores := make(map[TaskType]float64, len(TaskTypes))
	for _, t := range TaskTypes {
		n := 0.0
		for _, kw := range c.keywords[t] {
			if wordSet[kw] || (strings.Contains(kw, " ") && strings.Contains(lower, kw)) {
				n++
			}
		}
		scores[t] = n
	}

	if reqCtx.FileCount > 5 {
		scores[TaskBatch] += 2
		scores[TaskComplex] += 1
	}
	if strings.EqualFold(reqCtx.Interface, "mobile") {
		scores[TaskMobile] += 3
	}

	if analysisPattern.MatchString(lower) {
		scores[TaskAnalysis] += 2
	}
	if simplePattern.MatchString(lower) {
		scores[TaskSimple] += 1
	}
	if complexPattern.MatchString(lower) {
		scores[TaskComplex] += 2
	}
	return scores
}

// argmax normalizes by the max score (or 1.0 when all are zero) and picks
// the winner in TaskTypes order.
func argmax(scores map[TaskType]float64) (TaskType, float64) {
	max := 0.0
	for _, s := range scores {
		if s > max {
			max = s
		}
	}
	norm := max
	if norm == 0 {
		norm = 1.0
	}

	best := TaskSimple
	bestScore := -1.0
	for _, t := range TaskTypes {
		if scores[t] > bestScore {
			best = t
			bestScore = scores[t]
		}
	}
	return best, bestScore / norm
}

// bucket is the additive integer complexity signal, independent of the
// six-factor analyzer.
func (c *Classifier) bucket(lower string, words []string, reqCtx Context) Bucket {
	score := 0

	switch n := len(words); {
	case n > 50:
		score += 2
	case n > 20:
		score += 1
	}

	switch fc := reqCtx.FileCount; {
	case fc > 10:
		score += 3
	case fc > 5:
		score += 2
	case fc > 1:
		score += 1
	}

	for _, re := range heavyPatterns {
		if re.MatchString(lower) {
			score += 2
		}
	}

	for _, w := range words {
		if connectives[w] {
			score++
		}
	}

	switch {
	case score >= 6:
		return BucketHigh
	case score >= 3:
		return BucketMedium
	default:
		return BucketLow
	}
}

// estimateCost bounds the worst case regardless of estimate accuracy: the
// configured ceiling applies after all multipliers.
func (c *Classifier) estimateCost(t TaskType, b Bucket, fileCount int) float64 {
	base, ok := c.cfg.BaseCosts[t.String()]
	if !ok {
		base = config.DefaultBaseCosts()[t.String()]
	}

	mult := 1.0
	switch b {
	case BucketMedium:
		mult = 2.5
	case BucketHigh:
		mult = 5
	}

	fileMult := 1.0
	if fileCount > 1 {
		fileMult = 1 + 0.2*float64(fileCount-1)
		if fileMult > 3 {
			fileMult = 3
		}
	}

	cost := base * mult * fileMult
	if c.cfg.MaxTaskCostUSD > 0 && cost > c.cfg.MaxTaskCostUSD {
		cost = c.cfg.MaxTaskCostUSD
	}
	return cost
}

// strategyFor is a pure function of (task type, bucket).
func strategyFor(t TaskType, b Bucket) (string, StrategyHints) {
	switch {
	case t == TaskComplex || b == BucketHigh:
		return "agentos_optimized", StrategyHints{Route: "agentos", ModelSize: "large", Timeout: 300 * time.Second, Retries: 3}
	case t == TaskMobile:
		return "mobile_preserved", StrategyHints{Route: "mobile", ModelSize: "medium", Timeout: 120 * time.Second, Retries: 2}
	case t == TaskBatch:
		return "batch_processed", StrategyHints{Route: "batch", ModelSize: "medium", Timeout: 600 * time.Second, Retries: 2}
	case t == TaskAnalysis:
		return "analysis_mode", StrategyHints{Route: "analysis", ModelSize: "medium", Timeout: 180 * time.Second, Retries: 2}
	case t == TaskSimple && b == BucketLow:
		return "direct_opencode", StrategyHints{Route: "opencode_direct", ModelSize: "small", Timeout: 60 * time.Second, Retries: 1}
	default:
		return "standard_litellm", StrategyHints{Route: "litellm", ModelSize: "medium", Timeout: 120 * time.Second, Retries: 2}
	}
}

func recommendTier(t TaskType, b Bucket) string {
	if t == TaskComplex && b == BucketHigh {
		return "diamond"
	}
	switch b {
	case BucketHigh:
		return "platinum"
	case BucketMedium:
		return "gold"
	default:
		return "silver"
	}
}

func reasonFor(t TaskType, rawScore float64, b Bucket) string {
	return fmt.Sprintf("task type %s (raw score %.0f), keyword complexity %s", t, rawScore, b)
}
