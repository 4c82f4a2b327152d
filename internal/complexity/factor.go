package complexity

import "time"

// Factor is one of the six lexical/semantic dimensions a prompt is scored
// along.
type Factor int

const (
	FactorLexical Factor = iota
	FactorSyntactic
	FactorSemantic
	FactorProcedural
	FactorCognitive
	FactorTemporal
)

// Factors lists all six factors in scoring order.
var Factors = []Factor{
	FactorLexical,
	FactorSyntactic,
	FactorSemantic,
	FactorProcedural,
	FactorCognitive,
	FactorTemporal,
}

func (f Factor) String() string {
	switch f {
	case FactorLexical:
		return "lexical"
	case FactorSyntactic:
		return "syntactic"
	case FactorSemantic:
		return "semantic"
	case FactorProcedural:
		return "procedural"
	case FactorCognitive:
		return "cognitive"
	case FactorTemporal:
		return "temporal"
	default:
		return "unknown"
	}
}

// Level is the discrete complexity bucket derived from the overall score.
type Level int

const (
	LevelLow Level = iota
	LevelMedium
	LevelHigh
)

func (l Level) String() string {
	switch l {
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	default:
		return "unknown"
	}
}

// LevelFor is the step function mapping overall score to a Level.
func LevelFor(score float64) Level {
	switch {
	case score >= 0.7:
		return LevelHigh
	case score >= 0.4:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Score is one factor's contribution. Produced fresh per analysis call and
// never mutated afterward.
type Score struct {
	Factor     Factor   `json:"factor"`
	Value      float64  `json:"score"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
	Evidence   []string `json:"evidence,omitempty"`
}

// Prediction estimates the resources an execution will consume.
type Prediction struct {
	EstimatedTime   time.Duration `json:"estimated_time"`
	EstimatedTokens int           `json:"estimated_tokens"`
	EstimatedCost   float64       `json:"estimated_cost"`
	Confidence      float64       `json:"confidence"`
}

// Resources is the discrete operational policy derived from the score.
type Resources struct {
	ModelTier           string        `json:"model_tier"`
	ExecutionMode       string        `json:"execution_mode"`
	SafetyLevel         string        `json:"safety_level"`
	Timeout             time.Duration `json:"timeout"`
	RetryLimit          int           `json:"retry_limit"`
	ContextPreservation bool          `json:"context_preservation"`
}

// Analysis is the full result of one analyze call. Read-only after creation.
type Analysis struct {
	Overall      float64            `json:"overall_complexity"`
	Level        Level              `json:"complexity_level"`
	FactorScores []Score            `json:"factor_scores"`
	Prediction   Prediction         `json:"execution_prediction"`
	Resources    Resources          `json:"resource_requirements"`
	Risks        map[string]float64 `json:"risk_assessment"`
	Insights     []string           `json:"learning_insights,omitempty"`
}
