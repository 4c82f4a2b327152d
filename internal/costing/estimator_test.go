package costing

import (
	"math"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/ralex-ai/ralex/internal/classifier"
	"github.com/ralex-ai/ralex/internal/config"
	"github.com/ralex-ai/ralex/internal/ledger"
	"github.com/ralex-ai/ralex/internal/pricing"
)

func newTestEstimator(t *testing.T, store *ledger.CostLog) *Estimator {
	t.Helper()
	catalog := pricing.NewCatalog("", zap.NewNop())
	return NewEstimator(config.DefaultConfig().Costing, catalog, store, zap.NewNop())
}

func TestBreakdownSumsToTotal(t *testing.T) {
	e := newTestEstimator(t, nil)

	cases := []struct {
		taskType   string
		complexity float64
		files      int
	}{
		{"simple", 0.1, 1},
		{"complex", 0.8, 6},
		{"batch", 0.5, 20},
		{"analysis", 0.3, 2},
		{"mobile", 0.6, 3},
	}
	for _, tc := range cases {
		est := e.Estimate(tc.taskType, tc.complexity, Context{FileCount: tc.files}, nil)
		var sum float64
		for _, b := range est.Breakdown {
			sum += b.Cost
		}
		if math.Abs(sum-est.TotalCost) > 1e-9 {
			t.Fatalf("%s: total %v != breakdown sum %v", tc.taskType, est.TotalCost, sum)
		}
	}
}

func TestBreakdownCategories(t *testing.T) {
	e := newTestEstimator(t, nil)
	est := e.Estimate("complex", 0.5, Context{FileCount: 3}, nil)

	want := []string{
		CategoryModelInference, CategoryExecutionTime, CategoryContextTokens,
		CategoryOutputTokens, CategoryStorage, CategoryNetwork, CategoryRetry,
	}
	if len(est.Breakdown) != len(want) {
		t.Fatalf("expected %d categories, got %d", len(want), len(est.Breakdown))
	}
	for i, b := range est.Breakdown {
		if b.Category != want[i] {
			t.Fatalf("category %d: got %s, want %s", i, b.Category, want[i])
		}
		if b.Cost < 0 {
			t.Fatalf("category %s has negative cost %v", b.Category, b.Cost)
		}
	}
}

func TestRoutingDecisionUsesCatalogRates(t *testing.T) {
	e := newTestEstimator(t, nil)
	ctx := Context{FileCount: 1, ContextTokens: 500}

	cheap := e.Estimate("complex", 0.6, ctx, &classifier.RoutingDecision{SelectedModel: "deepseek-chat"})
	pricey := e.Estimate("complex", 0.6, ctx, &classifier.RoutingDecision{SelectedModel: "gpt-4"})

	if pricey.Breakdown[0].Cost <= cheap.Breakdown[0].Cost {
		t.Fatalf("gpt-4 inference %v should exceed deepseek-chat %v",
			pricey.Breakdown[0].Cost, cheap.Breakdown[0].Cost)
	}
	if pricey.Breakdown[0].Confidence != 0.8 {
		t.Fatalf("priced model should carry 0.8 confidence, got %v", pricey.Breakdown[0].Confidence)
	}
}

func TestUnknownModelFallsBackToFlatBase(t *testing.T) {
	e := newTestEstimator(t, nil)
	est := e.Estimate("simple", 0.2, Context{FileCount: 1}, &classifier.RoutingDecision{SelectedModel: "no-such-model"})

	want := defaultFlatBases["simple"] * 1.2
	if math.Abs(est.Breakdown[0].Cost-want) > 1e-12 {
		t.Fatalf("flat fallback cost %v, want %v", est.Breakdown[0].Cost, want)
	}
	if est.Breakdown[0].Confidence != 0.5 {
		t.Fatalf("fallback confidence %v, want 0.5", est.Breakdown[0].Confidence)
	}
}

func TestVarianceBandsGrowWithComplexity(t *testing.T) {
	e := newTestEstimator(t, nil)

	low := e.Estimate("simple", 0.1, Context{FileCount: 1}, nil)
	high := e.Estimate("batch", 0.9, Context{FileCount: 1}, nil)

	if low.VarianceMin > low.TotalCost || low.VarianceMax < low.TotalCost {
		t.Fatalf("total %v outside variance band [%v, %v]", low.TotalCost, low.VarianceMin, low.VarianceMax)
	}
	lowSpread := (low.VarianceMax - low.VarianceMin) / low.TotalCost
	highSpread := (high.VarianceMax - high.VarianceMin) / high.TotalCost
	if highSpread <= lowSpread {
		t.Fatalf("batch@0.9 relative spread %v should exceed simple@0.1 spread %v", highSpread, lowSpread)
	}
}

func TestHistoricalRatioAdjustsTotal(t *testing.T) {
	e := newTestEstimator(t, nil)

	baseline := e.Estimate("complex", 0.5, Context{FileCount: 1}, nil)

	// Actuals consistently double the estimates for comparable tasks.
	for i := 0; i < 5; i++ {
		e.RecordActualCost("complex", 0.5, 0.01, 0.02)
	}
	adjusted := e.Estimate("complex", 0.5, Context{FileCount: 1}, nil)

	if math.Abs(adjusted.TotalCost-2*baseline.TotalCost) > 1e-9 {
		t.Fatalf("adjusted total %v, want twice baseline %v", adjusted.TotalCost, baseline.TotalCost)
	}
	// Accuracy of each record is 1 - |0.02-0.01|/0.01 = 0, floored.
	if adjusted.ConfidenceLevel != 0 {
		t.Fatalf("confidence %v, want 0 for wildly off history", adjusted.ConfidenceLevel)
	}
}

func TestHistoryIgnoresDistantComplexity(t *testing.T) {
	e := newTestEstimator(t, nil)

	baseline := e.Estimate("complex", 0.9, Context{FileCount: 1}, nil)
	for i := 0; i < 5; i++ {
		e.RecordActualCost("complex", 0.1, 0.01, 0.05)
	}
	after := e.Estimate("complex", 0.9, Context{FileCount: 1}, nil)

	if math.Abs(after.TotalCost-baseline.TotalCost) > 1e-9 {
		t.Fatalf("records at complexity 0.1 moved an estimate at 0.9: %v vs %v", after.TotalCost, baseline.TotalCost)
	}
}

func TestFlatBaseNudgeAndClamp(t *testing.T) {
	e := newTestEstimator(t, nil)
	initial := e.FlatBase("simple")

	// One bad overshoot nudges up by 2%.
	e.RecordActualCost("simple", 0.2, 0.001, 0.01)
	if got, want := e.FlatBase("simple"), initial*1.02; math.Abs(got-want) > 1e-12 {
		t.Fatalf("base after one nudge %v, want %v", got, want)
	}

	// Hundreds of undershoots bottom out at a quarter of the default.
	for i := 0; i < 500; i++ {
		e.RecordActualCost("simple", 0.2, 0.01, 0.001)
	}
	if got, want := e.FlatBase("simple"), initial*0.25; math.Abs(got-want) > 1e-9 {
		t.Fatalf("base should clamp at %v, got %v", want, got)
	}

	for i := 0; i < 1000; i++ {
		e.RecordActualCost("simple", 0.2, 0.001, 0.01)
	}
	if got, want := e.FlatBase("simple"), initial*4; math.Abs(got-want) > 1e-9 {
		t.Fatalf("base should clamp at %v, got %v", want, got)
	}
}

func TestAccurateEstimateLeavesBaseAlone(t *testing.T) {
	e := newTestEstimator(t, nil)
	initial := e.FlatBase("mobile")

	e.RecordActualCost("mobile", 0.4, 0.01, 0.011)
	if got := e.FlatBase("mobile"); got != initial {
		t.Fatalf("accurate record moved base from %v to %v", initial, got)
	}
}

func TestSuggestionsCappedAndFiltered(t *testing.T) {
	e := newTestEstimator(t, nil)

	est := e.Estimate("batch", 0.9, Context{FileCount: 50}, nil)
	if len(est.Suggestions) == 0 || len(est.Suggestions) > 5 {
		t.Fatalf("suggestion count %d out of range", len(est.Suggestions))
	}
	for _, s := range est.Suggestions {
		if s == cannedSuggestions[CategoryNetwork] || s == cannedSuggestions[CategoryStorage] {
			t.Fatalf("low-potential category suggested: %q", s)
		}
	}

	found := false
	for _, s := range est.Suggestions {
		if s == "parallelize batch items to amortize setup cost" {
			found = true
		}
	}
	if !found {
		t.Fatal("high-complexity batch should suggest parallelizing")
	}
}

func TestBudgetImpact(t *testing.T) {
	e := newTestEstimator(t, nil)
	est := e.Estimate("simple", 0.1, Context{FileCount: 4, DailyBudgetUSD: 5, HourlyBudgetUSD: 1}, nil)

	wantDaily := est.TotalCost / 5 * 100
	if math.Abs(est.Impact.DailyBudgetPercentage-wantDaily) > 1e-9 {
		t.Fatalf("daily pct %v, want %v", est.Impact.DailyBudgetPercentage, wantDaily)
	}
	if est.Impact.HourlyBudgetPercentage <= est.Impact.DailyBudgetPercentage {
		t.Fatal("hourly percentage should exceed daily for a smaller budget")
	}
	wantPerOp := est.TotalCost / 4
	if math.Abs(est.Impact.CostPerOperation-wantPerOp) > 1e-9 {
		t.Fatalf("per-operation cost %v, want %v", est.Impact.CostPerOperation, wantPerOp)
	}
}

func TestHistoryPersistsAcrossEstimators(t *testing.T) {
	path := filepath.Join(t.TempDir(), "costs.jsonl")
	store := ledger.NewCostLog(path, 100, zap.NewNop())

	first := newTestEstimator(t, store)
	baseline := first.Estimate("analysis", 0.3, Context{FileCount: 1}, nil)
	for i := 0; i < 3; i++ {
		first.RecordActualCost("analysis", 0.3, 0.01, 0.02)
	}

	second := newTestEstimator(t, ledger.NewCostLog(path, 100, zap.NewNop()))
	reloaded := second.Estimate("analysis", 0.3, Context{FileCount: 1}, nil)

	if math.Abs(reloaded.TotalCost-2*baseline.TotalCost) > 1e-9 {
		t.Fatalf("reloaded estimator total %v, want %v", reloaded.TotalCost, 2*baseline.TotalCost)
	}
}
