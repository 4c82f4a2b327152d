package budget

import (
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ralex-ai/ralex/internal/config"
	"github.com/ralex-ai/ralex/internal/ledger"
	"github.com/ralex-ai/ralex/internal/pricing"
)

func newTestEnforcer(t *testing.T, cfg config.BudgetConfig) *Enforcer {
	t.Helper()
	cfg.SpendLogPath = filepath.Join(t.TempDir(), "spend.jsonl")
	catalog := pricing.NewCatalog("", zap.NewNop())
	spend := ledger.NewSpendLog(cfg.SpendLogPath, zap.NewNop())
	return NewEnforcer(cfg, catalog, spend, zap.NewNop())
}

func TestEstimateCostFloorsTokens(t *testing.T) {
	e := newTestEnforcer(t, config.DefaultConfig().Budget)

	// Two words is well under the 100-token floor.
	short := e.EstimateCost("fix bug", "gpt-3.5-turbo")
	per1k := (0.0005 + 0.0015) / 2
	want := 100.0 / 1000.0 * per1k * 1.2
	if math.Abs(short-want) > 1e-12 {
		t.Fatalf("short query cost %v, want %v", short, want)
	}

	long := e.EstimateCost(strings.Repeat("word ", 200), "gpt-3.5-turbo")
	if long <= short {
		t.Fatal("200-word query should cost more than the floored estimate")
	}
}

func TestEstimateCostUnknownModelUsesDefault(t *testing.T) {
	e := newTestEnforcer(t, config.DefaultConfig().Budget)

	got := e.EstimateCost("fix bug", "mystery-model")
	want := 100.0 / 1000.0 * 0.002 * 1.2
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("unknown model cost %v, want default-rate %v", got, want)
	}
}

func TestCheckAllowsWithinBudget(t *testing.T) {
	e := newTestEnforcer(t, config.DefaultConfig().Budget)

	d := e.Check(0.01)
	if !d.Allowed {
		t.Fatalf("fresh ledger should allow: %+v", d)
	}
	if d.Remaining != e.cfg.DailyLimitUSD {
		t.Fatalf("remaining %v, want full daily limit %v", d.Remaining, e.cfg.DailyLimitUSD)
	}
}

func TestCheckRejectsDailyOverrun(t *testing.T) {
	cfg := config.DefaultConfig().Budget
	cfg.DailyLimitUSD = 0.01
	e := newTestEnforcer(t, cfg)

	if err := e.Record("gpt-4", 0.008); err != nil {
		t.Fatalf("record: %v", err)
	}

	est := e.EstimateCost("refactor this complex architecture with multiple microservices", "gpt-4")
	d := e.Check(est)
	if d.Allowed {
		t.Fatalf("expected rejection, got %+v", d)
	}
	if !strings.Contains(d.Reason, "Daily budget") {
		t.Fatalf("reason should mention the daily budget: %q", d.Reason)
	}
	if d.Scope != ScopeDaily {
		t.Fatalf("scope %q, want daily", d.Scope)
	}
	if d.Suggestion == "" {
		t.Fatal("rejection should carry a suggestion")
	}
}

func TestCheckRejectsWeeklyOverrun(t *testing.T) {
	cfg := config.DefaultConfig().Budget
	cfg.DailyLimitUSD = 100 // daily never binds
	cfg.WeeklyLimitUSD = 0.05
	e := newTestEnforcer(t, cfg)

	// Spend recorded three days ago counts toward the week, not today.
	e.spend = ledgerWithBackdatedSpend(t, e.cfg.SpendLogPath, 0.04, 3*24*time.Hour)

	d := e.Check(0.02)
	if d.Allowed {
		t.Fatalf("expected weekly rejection, got %+v", d)
	}
	if d.Scope != ScopeWeekly || !strings.Contains(d.Reason, "Weekly budget") {
		t.Fatalf("unexpected rejection: %+v", d)
	}
}

func ledgerWithBackdatedSpend(t *testing.T, path string, cost float64, age time.Duration) *ledger.SpendLog {
	t.Helper()
	l := ledger.NewSpendLog(path, zap.NewNop())
	l.SetNow(func() time.Time { return time.Now().Add(-age) })
	if _, err := l.Append("gpt-4", cost); err != nil {
		t.Fatalf("append: %v", err)
	}
	l.SetNow(time.Now)
	return l
}

func TestCheckEpsilonUnderLimit(t *testing.T) {
	cfg := config.DefaultConfig().Budget
	cfg.DailyLimitUSD = 1.0
	e := newTestEnforcer(t, cfg)

	if err := e.Record("gpt-4", 0.5); err != nil {
		t.Fatalf("record: %v", err)
	}
	// Exactly reaching the limit is still allowed; any overrun is not.
	if d := e.Check(0.5); !d.Allowed {
		t.Fatalf("spend+estimate == limit should pass: %+v", d)
	}
	if d := e.Check(0.5001); d.Allowed {
		t.Fatal("spend+estimate above limit should fail")
	}
}

func TestTotalsRecomputedEachCheck(t *testing.T) {
	cfg := config.DefaultConfig().Budget
	cfg.DailyLimitUSD = 0.02
	e := newTestEnforcer(t, cfg)

	if d := e.Check(0.015); !d.Allowed {
		t.Fatalf("first check should pass: %+v", d)
	}
	if err := e.Record("gpt-4", 0.015); err != nil {
		t.Fatalf("record: %v", err)
	}
	// The same estimate now trips the limit without any restart or cache
	// invalidation.
	if d := e.Check(0.015); d.Allowed {
		t.Fatal("check after recording spend should fail")
	}
}

func TestOptimizationSuggestionsCheapestFirst(t *testing.T) {
	e := newTestEnforcer(t, config.DefaultConfig().Budget)

	alts := e.OptimizationSuggestions("fix a typo in the readme", "gpt-4")
	if len(alts) == 0 {
		t.Fatal("expected cheaper alternatives to gpt-4")
	}
	for i := 1; i < len(alts); i++ {
		if alts[i].EstimatedCost < alts[i-1].EstimatedCost {
			t.Fatalf("alternatives out of order at %d: %+v", i, alts)
		}
	}
	if alts[0].Model != "deepseek-chat" {
		t.Fatalf("cheapest alternative %q, want deepseek-chat", alts[0].Model)
	}
	for _, a := range alts {
		if a.Savings <= 0 {
			t.Fatalf("alternative %q has no savings", a.Model)
		}
	}
}

func TestOptimizationSuggestionsComplexFloor(t *testing.T) {
	e := newTestEnforcer(t, config.DefaultConfig().Budget)

	alts := e.OptimizationSuggestions("refactor the service architecture", "gpt-4")
	for _, a := range alts {
		if a.Tier == "silver" {
			t.Fatalf("complex query should not drop to silver: %+v", a)
		}
	}
}

func TestRateLimiterPerCaller(t *testing.T) {
	e := newTestEnforcer(t, config.DefaultConfig().Budget)

	e.SetRateLimit("cli", 2, time.Minute)
	if !e.AllowRequest("cli") || !e.AllowRequest("cli") {
		t.Fatal("burst of two should be allowed")
	}
	if e.AllowRequest("cli") {
		t.Fatal("third request inside the interval should be limited")
	}
	// Other callers are unaffected.
	if !e.AllowRequest("api") {
		t.Fatal("unlimited caller should pass")
	}

	e.SetRateLimit("cli", 0, 0)
	if !e.AllowRequest("cli") {
		t.Fatal("removing the limiter should re-allow the caller")
	}
}

func TestRemainingFloorsAtZero(t *testing.T) {
	cfg := config.DefaultConfig().Budget
	cfg.DailyLimitUSD = 0.01
	e := newTestEnforcer(t, cfg)

	if err := e.Record("gpt-4", 0.05); err != nil {
		t.Fatalf("record: %v", err)
	}
	if r := e.Remaining(); r != 0 {
		t.Fatalf("remaining %v, want 0 after overspend", r)
	}
}
