package router

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/ralex-ai/ralex/internal/config"
	"github.com/ralex-ai/ralex/internal/pricing"
)

func newTestRouter(t *testing.T, compressor Compressor) *Router {
	t.Helper()
	catalog := pricing.NewCatalog("", zap.NewNop())
	return New(config.DefaultConfig().Router, catalog, compressor, zap.NewNop())
}

func TestRouteSelectsTargetTier(t *testing.T) {
	r := newTestRouter(t, nil)

	d := r.Route(Request{Prompt: "anything", Tier: pricing.TierDiamond, TierExplicit: true}, 100)
	if d.Tier != "diamond" {
		t.Fatalf("tier %q, want diamond: %+v", d.Tier, d)
	}
	if !strings.Contains(d.Reasoning, "selected") {
		t.Fatalf("in-tier selection reasoning: %q", d.Reasoning)
	}
	if len(d.FallbackModels) == 0 {
		t.Fatal("expected fallback candidates below the selection")
	}
}

func TestRoutePrefersTierPrimaryWhenAffordable(t *testing.T) {
	r := newTestRouter(t, nil)

	// gpt-4-turbo is platinum's primary; qwen-max is merely its cheapest.
	d := r.Route(Request{Tier: pricing.TierPlatinum, TierExplicit: true}, 100)
	if d.Model != "gpt-4-turbo" {
		t.Fatalf("model %q, want the platinum primary gpt-4-turbo", d.Model)
	}

	// With the primary priced out, the cheaper tier-mate still serves the
	// target tier before any de-escalation.
	d = r.Route(Request{Tier: pricing.TierPlatinum, TierExplicit: true}, 0.01)
	if d.Model != "qwen-max" {
		t.Fatalf("model %q, want qwen-max under budget pressure", d.Model)
	}
	if d.Tier != "platinum" {
		t.Fatalf("tier %q, should stay in the target tier", d.Tier)
	}
}

func TestRouteDeEscalatesUnderBudgetPressure(t *testing.T) {
	r := newTestRouter(t, nil)

	// Only silver models fit a 2000-token request in this budget.
	d := r.Route(Request{Tier: pricing.TierDiamond, TierExplicit: true}, 0.001)
	if d.Tier != "silver" {
		t.Fatalf("tier %q, want silver: %+v", d.Tier, d)
	}
	if !strings.Contains(d.Reasoning, "de-escalated") {
		t.Fatalf("reasoning should note de-escalation: %q", d.Reasoning)
	}
	if d.EstimatedCost > 0.001 {
		t.Fatalf("selected model costs %v, over budget", d.EstimatedCost)
	}
}

func TestRouteNeverExceedsBudget(t *testing.T) {
	r := newTestRouter(t, nil)

	for _, budget := range []float64{0.0005, 0.005, 0.05, 1} {
		d := r.Route(Request{Tier: pricing.TierDiamond, TierExplicit: true}, budget)
		if d.Model == "" {
			t.Fatalf("budget %v: empty model", budget)
		}
		if d.EstimatedCost > budget {
			t.Fatalf("budget %v: selection %s costs %v", budget, d.Model, d.EstimatedCost)
		}
	}
}

func TestRouteLastResort(t *testing.T) {
	r := newTestRouter(t, nil)

	// No model in the built-in catalog is free, so zero budget exhausts the
	// entire chain.
	d := r.Route(Request{Tier: pricing.TierDiamond, TierExplicit: true}, 0)
	if d.Model != r.cfg.FallbackModel {
		t.Fatalf("model %q, want configured fallback %q", d.Model, r.cfg.FallbackModel)
	}
	if d.Tier != "silver" {
		t.Fatalf("last resort tier %q, want silver", d.Tier)
	}
	if !strings.Contains(d.Reasoning, "last resort") && !strings.Contains(d.Reasoning, "emergency fallback") {
		t.Fatalf("reasoning %q should flag the last resort", d.Reasoning)
	}
}

func TestRouteZeroCostModel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.yaml")
	body := []byte(`pricing:
  tiers:
    silver:
      - name: local-llama
        provider: ollama
        input_per_1k: 0
        output_per_1k: 0
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	catalog := pricing.NewCatalog(path, zap.NewNop())
	r := New(config.DefaultConfig().Router, catalog, nil, zap.NewNop())

	d := r.Route(Request{Tier: pricing.TierDiamond, TierExplicit: true}, 0)
	if d.Model != "local-llama" {
		t.Fatalf("model %q, want the free local-llama", d.Model)
	}
	if d.EstimatedCost != 0 {
		t.Fatalf("zero-cost model estimated at %v", d.EstimatedCost)
	}
}

func TestTargetTierHeuristics(t *testing.T) {
	r := newTestRouter(t, nil)

	cases := []struct {
		name string
		req  Request
		want pricing.Tier
	}{
		{"explicit wins", Request{Prompt: "design the architecture", Tier: pricing.TierSilver, TierExplicit: true}, pricing.TierSilver},
		{"architecture prompt", Request{Prompt: "review the system design for the payment flow"}, pricing.TierDiamond},
		{"refactor prompt", Request{Prompt: "refactor the session package"}, pricing.TierPlatinum},
		{"many files", Request{Prompt: "update imports", FileCount: 15}, pricing.TierPlatinum},
		{"implement prompt", Request{Prompt: "implement pagination"}, pricing.TierGold},
		{"some files", Request{Prompt: "update imports", FileCount: 5}, pricing.TierGold},
		{"plain prompt", Request{Prompt: "fix a typo"}, pricing.TierSilver},
	}
	for _, tc := range cases {
		if got := r.TargetTier(tc.req); got != tc.want {
			t.Fatalf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestEscalateTier(t *testing.T) {
	r := newTestRouter(t, nil)

	next, ok := r.EscalateTier(pricing.TierSilver)
	if !ok || next != pricing.TierGold {
		t.Fatalf("silver should escalate to gold, got %v %v", next, ok)
	}
	if _, ok := r.EscalateTier(pricing.TierDiamond); ok {
		t.Fatal("diamond has nothing above it")
	}
}

type recordingCompressor struct {
	called bool
	out    string
	err    error
}

func (c *recordingCompressor) Compress(_ context.Context, _ string) (string, error) {
	c.called = true
	return c.out, c.err
}

func TestMaybeCompress(t *testing.T) {
	big := strings.Repeat("analyze this module carefully ", 1000) // ~7500 tokens

	comp := &recordingCompressor{out: "short summary"}
	r := newTestRouter(t, comp)

	if got := r.MaybeCompress(context.Background(), "small prompt"); got != "small prompt" {
		t.Fatalf("small prompt altered: %q", got)
	}
	if comp.called {
		t.Fatal("compressor invoked below the threshold")
	}

	if got := r.MaybeCompress(context.Background(), big); got != "short summary" {
		t.Fatalf("oversized prompt not compressed: %d chars", len(got))
	}
}

func TestMaybeCompressFailureKeepsOriginal(t *testing.T) {
	big := strings.Repeat("analyze this module carefully ", 1000)

	r := newTestRouter(t, &recordingCompressor{err: errors.New("summarizer down")})
	if got := r.MaybeCompress(context.Background(), big); got != big {
		t.Fatal("failed compression should return the original prompt")
	}

	r = newTestRouter(t, nil)
	if got := r.MaybeCompress(context.Background(), big); got != big {
		t.Fatal("nil compressor should pass prompts through")
	}
}
