package complexity

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ralex-ai/ralex/internal/config"
	"github.com/ralex-ai/ralex/internal/ledger"
)

func newTestAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	return NewAnalyzer(config.DefaultConfig().Complexity, nil, zap.NewNop())
}

func TestOverallAlwaysInRange(t *testing.T) {
	a := newTestAnalyzer(t)
	prompts := []string{
		"",
		"hi",
		"create a simple hello.py file",
		"refactor the entire codebase architecture using advanced design patterns and comprehensive optimization",
		strings.Repeat("refactor optimize analyze entire comprehensive workflow pipeline urgent deadline ", 50),
	}
	for _, p := range prompts {
		res := a.Analyze(p)
		if res.Overall < 0 || res.Overall > 1 {
			t.Errorf("overall out of range for %q: %f", p, res.Overall)
		}
		for _, s := range res.FactorScores {
			if s.Value < 0 || s.Value > 1 {
				t.Errorf("factor %s out of range for %q: %f", s.Factor, p, s.Value)
			}
		}
	}
}

func TestLevelIsMonotonicStep(t *testing.T) {
	cases := []struct {
		score float64
		want  Level
	}{
		{0.0, LevelLow}, {0.39, LevelLow},
		{0.4, LevelMedium}, {0.69, LevelMedium},
		{0.7, LevelHigh}, {1.0, LevelHigh},
	}
	for _, c := range cases {
		if got := LevelFor(c.score); got != c.want {
			t.Errorf("LevelFor(%f) = %s, want %s", c.score, got, c.want)
		}
	}
}

func TestSaturationIdempotentClamp(t *testing.T) {
	a := newTestAnalyzer(t)
	once := a.Analyze("urgent refactor now")
	hundred := a.Analyze("urgent refactor now " + strings.Repeat("urgent refactor now ", 100))

	// Repeating trigger words past saturation must not raise factor scores
	// beyond the category increments (word-count bands may differ, so compare
	// keyword-driven factors only).
	for _, f := range []Factor{FactorSyntactic, FactorTemporal, FactorCognitive, FactorProcedural} {
		var v1, v2 float64
		for _, s := range once.FactorScores {
			if s.Factor == f {
				v1 = s.Value
			}
		}
		for _, s := range hundred.FactorScores {
			if s.Factor == f {
				v2 = s.Value
			}
		}
		if v1 != v2 {
			t.Errorf("factor %s not saturation-stable: %f vs %f", f, v1, v2)
		}
	}
}

func TestEmptyHistoryDeterminism(t *testing.T) {
	a := newTestAnalyzer(t)
	prompt := "implement a distributed cache with eviction"
	first := a.Analyze(prompt)
	second := a.Analyze(prompt)
	if first.Overall != second.Overall {
		t.Fatalf("identical prompts diverged without history: %f vs %f", first.Overall, second.Overall)
	}
}

func TestComplexRefactorScenario(t *testing.T) {
	a := newTestAnalyzer(t)
	res := a.Analyze("refactor the entire codebase architecture using advanced design patterns and comprehensive optimization")
	if res.Overall < 0.6 {
		t.Fatalf("expected overall >= 0.6, got %f", res.Overall)
	}
	if res.Level != LevelHigh && res.Level != LevelMedium {
		t.Fatalf("expected high or medium, got %s", res.Level)
	}
}

func TestSimpleCreateScenario(t *testing.T) {
	a := newTestAnalyzer(t)
	res := a.Analyze("create a simple hello.py file")
	if res.Level != LevelLow {
		t.Fatalf("expected low, got %s (overall %f)", res.Level, res.Overall)
	}
}

func TestPredictionBumps(t *testing.T) {
	base := predict(0.5, map[Factor]float64{}, 0.7)
	procedural := predict(0.5, map[Factor]float64{FactorProcedural: 0.6}, 0.7)
	cognitive := predict(0.5, map[Factor]float64{FactorCognitive: 0.6}, 0.7)

	if procedural.EstimatedTime <= base.EstimatedTime {
		t.Fatalf("procedural bump missing: %v vs %v", procedural.EstimatedTime, base.EstimatedTime)
	}
	if cognitive.EstimatedTokens <= base.EstimatedTokens {
		t.Fatalf("cognitive bump missing: %d vs %d", cognitive.EstimatedTokens, base.EstimatedTokens)
	}
}

func TestResourceBands(t *testing.T) {
	high := deriveResources(0.8)
	if high.ModelTier != "premium" || high.ExecutionMode != "interactive" || high.SafetyLevel != "high" {
		t.Fatalf("unexpected high-band resources: %+v", high)
	}
	if high.RetryLimit != 3 {
		t.Fatalf("retry limit for 0.8 should be 3, got %d", high.RetryLimit)
	}

	mid := deriveResources(0.5)
	if mid.ModelTier != "standard" || mid.ExecutionMode != "yolo" {
		t.Fatalf("unexpected mid-band resources: %+v", mid)
	}

	low := deriveResources(0.2)
	if low.ModelTier != "budget" || low.RetryLimit != 1 {
		t.Fatalf("unexpected low-band resources: %+v", low)
	}

	wantTimeout := time.Duration(300*1.5) * time.Second
	if mid.Timeout != wantTimeout {
		t.Fatalf("timeout = %v, want %v", mid.Timeout, wantTimeout)
	}
}

func TestRiskBumps(t *testing.T) {
	risks := assessRisks(map[Factor]float64{FactorProcedural: 0.7, FactorTemporal: 0.6})
	if risks["execution_failure"] < 0.29 || risks["execution_failure"] > 0.31 {
		t.Fatalf("execution_failure = %f, want 0.3", risks["execution_failure"])
	}
	if risks["timeout"] < 0.24 || risks["timeout"] > 0.26 {
		t.Fatalf("timeout = %f, want 0.25", risks["timeout"])
	}
	for k, v := range risks {
		if v < 0 || v > 1 {
			t.Errorf("risk %s out of range: %f", k, v)
		}
	}
}

func TestHistoryBlendPullsTowardActuals(t *testing.T) {
	cfg := config.DefaultConfig().Complexity
	a := NewAnalyzer(cfg, nil, zap.NewNop())

	prompt := "refactor the entire codebase architecture using advanced design patterns and comprehensive optimization"
	fresh := a.Analyze(prompt).Overall

	// Record identical past prompts that turned out to be maximally complex.
	for i := 0; i < 3; i++ {
		a.RecordExecution(prompt, 1.0, 10, 500, true, []string{"retry"})
	}
	blended := a.Analyze(prompt).Overall
	if blended <= fresh {
		t.Fatalf("history of harder actuals should raise the estimate: %f vs %f", blended, fresh)
	}
}

func TestWeightNudgeClampAndRenormalize(t *testing.T) {
	a := newTestAnalyzer(t)
	var initialSum float64
	for _, w := range a.Weights() {
		initialSum += w
	}

	// Hammer failures far past the clamp horizon.
	for i := 0; i < 500; i++ {
		a.RecordExecution("prompt", 0.5, 1, 100, false, nil)
	}

	weights := a.Weights()
	var sum float64
	for f, w := range weights {
		init := config.DefaultFactorWeights()[f.String()]
		if w < init*0.5-1e-9 || w > init*2+1e-9 {
			t.Errorf("weight %s drifted past clamp: %f (initial %f)", f, w, init)
		}
		sum += w
	}
	if sum < initialSum-1e-6 || sum > initialSum+1e-6 {
		t.Fatalf("weight sum drifted: %f, want %f", sum, initialSum)
	}
}

func TestHistoryPersistenceRoundTrip(t *testing.T) {
	cfg := config.DefaultConfig().Complexity
	path := filepath.Join(t.TempDir(), "history.jsonl")
	store := ledger.NewExecutionLog(path, cfg.HistoryCap, zap.NewNop())

	a := NewAnalyzer(cfg, store, zap.NewNop())
	a.RecordExecution("deploy the service", 0.4, 12, 800, true, nil)

	reloaded := NewAnalyzer(cfg, ledger.NewExecutionLog(path, cfg.HistoryCap, zap.NewNop()), zap.NewNop())
	reloaded.mu.RLock()
	n := len(reloaded.history)
	reloaded.mu.RUnlock()
	if n != 1 {
		t.Fatalf("expected 1 persisted record, got %d", n)
	}
}
