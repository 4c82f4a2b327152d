package classifier

import "time"

// TaskType is the discrete request category driving execution strategy.
type TaskType int

const (
	TaskSimple TaskType = iota
	TaskComplex
	TaskMobile
	TaskBatch
	TaskAnalysis
)

// TaskTypes lists all types in tie-break order (earlier wins on equal score).
var TaskTypes = []TaskType{TaskSimple, TaskComplex, TaskMobile, TaskBatch, TaskAnalysis}

func (t TaskType) String() string {
	switch t {
	case TaskSimple:
		return "simple"
	case TaskComplex:
		return "complex"
	case TaskMobile:
		return "mobile"
	case TaskBatch:
		return "batch"
	case TaskAnalysis:
		return "analysis"
	default:
		return "unknown"
	}
}

// Bucket is the additive keyword complexity signal. It is deliberately
// independent of the six-factor analyzer score; the two are separate signals
// and are not reconciled.
type Bucket int

const (
	BucketLow Bucket = iota
	BucketMedium
	BucketHigh
)

func (b Bucket) String() string {
	switch b {
	case BucketLow:
		return "low"
	case BucketMedium:
		return "medium"
	case BucketHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Context is the lightweight request context the classifier consumes.
type Context struct {
	FileCount int
	Interface string // "mobile", "cli", ...
}

// StrategyHints are the static routing hints attached to each execution
// strategy.
type StrategyHints struct {
	Route     string        `json:"route"`
	ModelSize string        `json:"model_size"`
	Timeout   time.Duration `json:"timeout"`
	Retries   int           `json:"retries"`
}

// Classification is the classifier's full verdict for one request. Consumed
// immediately by the router and executor; not persisted.
type Classification struct {
	TaskType        TaskType         `json:"task_type"`
	Complexity      Bucket           `json:"complexity"`
	Confidence      float64          `json:"confidence"`
	Reasoning       string           `json:"reasoning"`
	EstimatedCost   float64          `json:"estimated_cost"`
	RecommendedTier string           `json:"recommended_model_tier"`
	Strategy        string           `json:"execution_strategy"`
	Hints           StrategyHints    `json:"hints"`
	Routing         *RoutingDecision `json:"routing_decision,omitempty"`
}

// RoutingDecision is the outbound record handed to the model-invocation
// layer, either produced by an external selection service or filled in by
// the router.
type RoutingDecision struct {
	SelectedModel  string   `json:"selected_model"`
	Tier           string   `json:"tier"`
	EstimatedCost  float64  `json:"estimated_cost"`
	Reasoning      string   `json:"reasoning"`
	FallbackModels []string `json:"fallback_models,omitempty"`
}
