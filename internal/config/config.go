package config

import (
	"fmt"
	"time"
)

// Config is the top-level Ralex configuration. It is loaded once by Load and
// handed to component constructors as plain sub-structs; no component reads
// files or environment variables on its own.
type Config struct {
	Complexity ComplexityConfig `json:"complexity" yaml:"complexity" mapstructure:"complexity"`
	Classifier ClassifierConfig `json:"classifier" yaml:"classifier" mapstructure:"classifier"`
	Costing    CostingConfig    `json:"costing" yaml:"costing" mapstructure:"costing"`
	Budget     BudgetConfig     `json:"budget" yaml:"budget" mapstructure:"budget"`
	Router     RouterConfig     `json:"router" yaml:"router" mapstructure:"router"`
	Pricing    PricingConfig    `json:"pricing" yaml:"pricing" mapstructure:"pricing"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging" mapstructure:"logging"`
}

// ComplexityConfig tunes the six-factor analyzer.
type ComplexityConfig struct {
	// FactorWeights maps factor name (lexical, syntactic, semantic,
	// procedural, cognitive, temporal) to its combination weight.
	FactorWeights map[string]float64 `json:"factor_weights" yaml:"factor_weights" mapstructure:"factor_weights"`

	// HistoryCap bounds the execution-history store; oldest entries are
	// evicted beyond it.
	HistoryCap int `json:"history_cap" yaml:"history_cap" mapstructure:"history_cap"`

	// SimilarityThreshold is the minimum word-set Jaccard similarity for a
	// past execution to participate in the historical blend.
	SimilarityThreshold float64 `json:"similarity_threshold" yaml:"similarity_threshold" mapstructure:"similarity_threshold"`

	// RecencyHalfLife controls exponential decay of historical matches.
	RecencyHalfLife time.Duration `json:"recency_half_life" yaml:"recency_half_life" mapstructure:"recency_half_life"`

	// HistoryBlend is the weight given to the historical adjustment when
	// similar past executions exist (the fresh score gets 1-HistoryBlend).
	HistoryBlend float64 `json:"history_blend" yaml:"history_blend" mapstructure:"history_blend"`
}

// ClassifierConfig tunes the task classifier.
type ClassifierConfig struct {
	// BaseCosts maps task type to its base cost estimate in USD.
	BaseCosts map[string]float64 `json:"base_costs" yaml:"base_costs" mapstructure:"base_costs"`

	// MaxTaskCostUSD hard-caps the per-task estimate regardless of
	// multipliers. Historically a flat $1.00 safety ceiling.
	MaxTaskCostUSD float64 `json:"max_task_cost_usd" yaml:"max_task_cost_usd" mapstructure:"max_task_cost_usd"`

	// KeywordOverrides optionally replaces the built-in keyword lists per
	// task type.
	KeywordOverrides map[string][]string `json:"keyword_overrides" yaml:"keyword_overrides" mapstructure:"keyword_overrides"`
}

// CostingConfig tunes the seven-category cost estimator.
type CostingConfig struct {
	// DefaultContextTokens is assumed when the request context does not
	// carry a token count.
	DefaultContextTokens int `json:"default_context_tokens" yaml:"default_context_tokens" mapstructure:"default_context_tokens"`

	// HistoryCap bounds the cost-history store.
	HistoryCap int `json:"history_cap" yaml:"history_cap" mapstructure:"history_cap"`

	// RetryCostFactor is the assumed cost of one retry relative to the
	// original attempt.
	RetryCostFactor float64 `json:"retry_cost_factor" yaml:"retry_cost_factor" mapstructure:"retry_cost_factor"`

	// RetryProbabilitySlope scales retry probability linearly with
	// complexity (probability = slope * complexity).
	RetryProbabilitySlope float64 `json:"retry_probability_slope" yaml:"retry_probability_slope" mapstructure:"retry_probability_slope"`
}

// BudgetConfig holds the hard spending limits and estimator knobs.
type BudgetConfig struct {
	DailyLimitUSD  float64 `json:"daily_limit_usd" yaml:"daily_limit_usd" mapstructure:"daily_limit_usd"`
	WeeklyLimitUSD float64 `json:"weekly_limit_usd" yaml:"weekly_limit_usd" mapstructure:"weekly_limit_usd"`

	// SafetyMargin multiplies every cost estimate before the limit check.
	SafetyMargin float64 `json:"safety_margin" yaml:"safety_margin" mapstructure:"safety_margin"`

	// TokensPerWord is the query token estimation factor.
	TokensPerWord float64 `json:"tokens_per_word" yaml:"tokens_per_word" mapstructure:"tokens_per_word"`

	// MinTokens floors the token estimate for very short queries.
	MinTokens int `json:"min_tokens" yaml:"min_tokens" mapstructure:"min_tokens"`

	// SpendLogPath is the append-only JSONL spend ledger.
	SpendLogPath string `json:"spend_log_path" yaml:"spend_log_path" mapstructure:"spend_log_path"`

	// RateLimit optionally bounds request rate per caller (0 disables).
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit" mapstructure:"rate_limit"`
}

// RateLimitConfig configures a per-caller token bucket.
type RateLimitConfig struct {
	Requests int           `json:"requests" yaml:"requests" mapstructure:"requests"`
	Interval time.Duration `json:"interval" yaml:"interval" mapstructure:"interval"`
}

// RouterConfig tunes model selection.
type RouterConfig struct {
	// NominalRequestTokens sizes the affordability probe for a candidate
	// model.
	NominalRequestTokens int `json:"nominal_request_tokens" yaml:"nominal_request_tokens" mapstructure:"nominal_request_tokens"`

	// CompressionThresholdTokens triggers prompt compression above this
	// estimated token count.
	CompressionThresholdTokens int `json:"compression_threshold_tokens" yaml:"compression_threshold_tokens" mapstructure:"compression_threshold_tokens"`

	// FallbackModel is the classifier model used as the last resort when
	// nothing is affordable.
	FallbackModel string `json:"fallback_model" yaml:"fallback_model" mapstructure:"fallback_model"`
}

// PricingConfig locates the model catalog.
type PricingConfig struct {
	CatalogPath string `json:"catalog_path" yaml:"catalog_path" mapstructure:"catalog_path"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" mapstructure:"level"`
	Format string `json:"format" yaml:"format" mapstructure:"format"`
}

// DefaultFactorWeights are the hand-tuned combination weights for the six
// complexity factors.
func DefaultFactorWeights() map[string]float64 {
	return map[string]float64{
		"lexical":    0.15,
		"syntactic":  0.25,
		"semantic":   0.20,
		"procedural": 0.20,
		"cognitive":  0.15,
		"temporal":   0.05,
	}
}

// DefaultBaseCosts are the per-task-type base cost estimates in USD.
func DefaultBaseCosts() map[string]float64 {
	return map[string]float64{
		"simple":   0.001,
		"complex":  0.02,
		"mobile":   0.005,
		"batch":    0.01,
		"analysis": 0.008,
	}
}

// DefaultConfig returns the baked-in defaults. Load starts from these and
// merges the config file and environment on top.
func DefaultConfig() *Config {
	return &Config{
		Complexity: ComplexityConfig{
			FactorWeights:       DefaultFactorWeights(),
			HistoryCap:          1000,
			SimilarityThreshold: 0.6,
			RecencyHalfLife:     30 * 24 * time.Hour,
			HistoryBlend:        0.3,
		},
		Classifier: ClassifierConfig{
			BaseCosts:      DefaultBaseCosts(),
			MaxTaskCostUSD: 1.00,
		},
		Costing: CostingConfig{
			DefaultContextTokens:  300,
			HistoryCap:            2000,
			RetryCostFactor:       1.5,
			RetryProbabilitySlope: 0.3,
		},
		Budget: BudgetConfig{
			DailyLimitUSD:  5.00,
			WeeklyLimitUSD: 25.00,
			SafetyMargin:   1.2,
			TokensPerWord:  1.3,
			MinTokens:      100,
			SpendLogPath:   "ralex_spend.jsonl",
		},
		Router: RouterConfig{
			NominalRequestTokens:       2000,
			CompressionThresholdTokens: 5000,
			FallbackModel:              "gpt-3.5-turbo",
		},
		Pricing: PricingConfig{
			CatalogPath: "config/models.yaml",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks invariants the pipeline relies on.
func (c *Config) Validate() error {
	if len(c.Complexity.FactorWeights) == 0 {
		return fmt.Errorf("complexity.factor_weights must not be empty")
	}
	for name, w := range c.Complexity.FactorWeights {
		if w < 0 {
			return fmt.Errorf("complexity.factor_weights[%s] must be >= 0", name)
		}
	}
	if c.Complexity.HistoryBlend < 0 || c.Complexity.HistoryBlend > 1 {
		return fmt.Errorf("complexity.history_blend must be within [0,1]")
	}
	if c.Complexity.SimilarityThreshold < 0 || c.Complexity.SimilarityThreshold > 1 {
		return fmt.Errorf("complexity.similarity_threshold must be within [0,1]")
	}
	for name, cost := range c.Classifier.BaseCosts {
		if cost < 0 {
			return fmt.Errorf("classifier.base_costs[%s] must be >= 0", name)
		}
	}
	if c.Classifier.MaxTaskCostUSD <= 0 {
		return fmt.Errorf("classifier.max_task_cost_usd must be > 0")
	}
	if c.Budget.DailyLimitUSD < 0 || c.Budget.WeeklyLimitUSD < 0 {
		return fmt.Errorf("budget limits must be >= 0")
	}
	if c.Budget.SafetyMargin < 1 {
		return fmt.Errorf("budget.safety_margin must be >= 1")
	}
	if c.Budget.TokensPerWord <= 0 {
		return fmt.Errorf("budget.tokens_per_word must be > 0")
	}
	if c.Costing.RetryCostFactor < 0 || c.Costing.RetryProbabilitySlope < 0 {
		return fmt.Errorf("costing retry knobs must be >= 0")
	}
	if c.Router.NominalRequestTokens <= 0 {
		return fmt.Errorf("router.nominal_request_tokens must be > 0")
	}
	if c.Router.FallbackModel == "" {
		return fmt.Errorf("router.fallback_model must not be empty")
	}
	return nil
}
