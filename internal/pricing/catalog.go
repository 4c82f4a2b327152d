package pricing

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ralex-ai/ralex/internal/metrics"
)

// Tier is an ordered cost/quality class of models. Ordering is total and
// used for monotonic fallback: the router only de-escalates past budget,
// never silently escalates.
type Tier int

const (
	TierSilver Tier = iota // cheap
	TierGold               // standard
	TierPlatinum           // premium
	TierDiamond            // flagship
)

// TierOrder lists tiers from cheapest to most expensive.
var TierOrder = []Tier{TierSilver, TierGold, TierPlatinum, TierDiamond}

func (t Tier) String() string {
	switch t {
	case TierSilver:
		return "silver"
	case TierGold:
		return "gold"
	case TierPlatinum:
		return "platinum"
	case TierDiamond:
		return "diamond"
	default:
		return "unknown"
	}
}

// ParseTier maps a tier name to its Tier value.
func ParseTier(s string) (Tier, bool) {
	switch s {
	case "silver", "cheap":
		return TierSilver, true
	case "gold", "standard":
		return TierGold, true
	case "platinum", "premium":
		return TierPlatinum, true
	case "diamond", "flagship":
		return TierDiamond, true
	default:
		return TierSilver, false
	}
}

// NextTier returns the next tier up, or ok=false at the top. Pure lookup
// used by caller-driven escalation policies.
func NextTier(t Tier) (Tier, bool) {
	if t >= TierDiamond || t < TierSilver {
		return t, false
	}
	return t + 1, true
}

// Model is one concrete model binding within a tier.
type Model struct {
	Name        string  `yaml:"name"`
	Provider    string  `yaml:"provider"`
	InputPer1K  float64 `yaml:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k"`
}

// CombinedPer1K approximates a single per-1K rate as the input/output
// average, matching the estimator's symmetric-response assumption.
func (m Model) CombinedPer1K() float64 {
	return (m.InputPer1K + m.OutputPer1K) / 2.0
}

// catalogFile is the YAML shape of config/models.yaml.
type catalogFile struct {
	Pricing struct {
		Defaults struct {
			CombinedPer1K float64 `yaml:"combined_per_1k"`
		} `yaml:"defaults"`
		Tiers map[string][]Model `yaml:"tiers"`
	} `yaml:"pricing"`
}

// Catalog holds the tier→models pricing tables. It is safe for concurrent
// readers with occasional reloads.
type Catalog struct {
	logger *zap.Logger
	path   string

	mu           sync.RWMutex
	tiers        map[Tier][]Model
	byName       map[string]Model
	defaultPer1K float64
}

// defaultCombinedPer1K is the gpt-3.5-ish fallback rate used when neither
// the catalog file nor the built-ins know a model.
const defaultCombinedPer1K = 0.002

// NewCatalog builds a catalog from the YAML file at path. A missing or
// unreadable file degrades to the built-in tables with a warning; pricing
// must never block classification.
func NewCatalog(path string, logger *zap.Logger) *Catalog {
	c := &Catalog{
		logger:       logger,
		path:         path,
		defaultPer1K: defaultCombinedPer1K,
	}
	c.install(builtinTiers())
	if path != "" {
		if err := c.Reload(); err != nil {
			logger.Warn("Model catalog unavailable, using built-in pricing",
				zap.String("path", path),
				zap.Error(err))
		}
	}
	return c
}

// Reload re-reads the catalog file. On any failure the previously installed
// tables stay in effect.
func (c *Catalog) Reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		metrics.CatalogReloads.WithLabelValues("error").Inc()
		return fmt.Errorf("read catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		metrics.CatalogReloads.WithLabelValues("error").Inc()
		return fmt.Errorf("parse catalog: %w", err)
	}

	tiers := make(map[Tier][]Model, len(f.Pricing.Tiers))
	for name, models := range f.Pricing.Tiers {
		tier, ok := ParseTier(name)
		if !ok {
			c.logger.Warn("Skipping unknown tier in catalog", zap.String("tier", name))
			continue
		}
		for i := range models {
			if models[i].Provider == "" {
				models[i].Provider = DetectProvider(models[i].Name)
			}
		}
		tiers[tier] = models
	}
	if len(tiers) == 0 {
		metrics.CatalogReloads.WithLabelValues("error").Inc()
		return fmt.Errorf("catalog %s defines no usable tiers", c.path)
	}

	c.install(tiers)
	if f.Pricing.Defaults.CombinedPer1K > 0 {
		c.mu.Lock()
		c.defaultPer1K = f.Pricing.Defaults.CombinedPer1K
		c.mu.Unlock()
	}
	metrics.CatalogReloads.WithLabelValues("ok").Inc()
	c.logger.Info("Loaded model catalog", zap.String("path", c.path))
	return nil
}

func (c *Catalog) install(tiers map[Tier][]Model) {
	byName := make(map[string]Model)
	for _, models := range tiers {
		for _, m := range models {
			byName[m.Name] = m
		}
	}
	c.mu.Lock()
	c.tiers = tiers
	c.byName = byName
	c.mu.Unlock()
}

// Models returns the models bound to a tier, primary first.
func (c *Catalog) Models(tier Tier) []Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Model, len(c.tiers[tier]))
	copy(out, c.tiers[tier])
	return out
}

// Lookup returns pricing for a model by name.
func (c *Catalog) Lookup(name string) (Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.byName[name]
	return m, ok
}

// DefaultPer1K returns the combined fallback rate per 1K tokens.
func (c *Catalog) DefaultPer1K() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaultPer1K
}

// PricePer1K returns the combined per-1K rate for a model, falling back to
// the default mid-tier rate for unknown models.
func (c *Catalog) PricePer1K(model string) float64 {
	if m, ok := c.Lookup(model); ok {
		return m.CombinedPer1K()
	}
	if model == "" {
		metrics.PricingFallbacks.WithLabelValues("missing_model").Inc()
	} else {
		metrics.PricingFallbacks.WithLabelValues("unknown_model").Inc()
	}
	return c.DefaultPer1K()
}

// CostForSplit computes USD cost for an input/output token split.
func (c *Catalog) CostForSplit(model string, inputTokens, outputTokens int) float64 {
	if inputTokens < 0 {
		inputTokens = 0
	}
	if outputTokens < 0 {
		outputTokens = 0
	}
	if m, ok := c.Lookup(model); ok {
		return (float64(inputTokens)/1000.0)*m.InputPer1K +
			(float64(outputTokens)/1000.0)*m.OutputPer1K
	}
	if model == "" {
		metrics.PricingFallbacks.WithLabelValues("missing_model").Inc()
	} else {
		metrics.PricingFallbacks.WithLabelValues("unknown_model").Inc()
	}
	return (float64(inputTokens+outputTokens) / 1000.0) * c.DefaultPer1K()
}

// CostForTokens computes USD cost for a combined token count.
func (c *Catalog) CostForTokens(model string, tokens int) float64 {
	if tokens < 0 {
		tokens = 0
	}
	return (float64(tokens) / 1000.0) * c.PricePer1K(model)
}

// CheapestModel returns the globally cheapest model across all tiers.
func (c *Catalog) CheapestModel() (Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var best Model
	found := false
	for _, models := range c.tiers {
		for _, m := range models {
			if !found || m.CombinedPer1K() < best.CombinedPer1K() {
				best = m
				found = true
			}
		}
	}
	return best, found
}

// ZeroCostModel returns a literal zero-cost model if one is configured.
func (c *Catalog) ZeroCostModel() (Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, tier := range TierOrder {
		for _, m := range c.tiers[tier] {
			if m.CombinedPer1K() == 0 {
				return m, true
			}
		}
	}
	return Model{}, false
}

// TierOf reports which tier a model belongs to.
func (c *Catalog) TierOf(model string) (Tier, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, tier := range TierOrder {
		for _, m := range c.tiers[tier] {
			if m.Name == model {
				return tier, true
			}
		}
	}
	return TierSilver, false
}

// ModelsByCost returns a tier's models sorted cheapest first.
func (c *Catalog) ModelsByCost(tier Tier) []Model {
	models := c.Models(tier)
	sort.Slice(models, func(i, j int) bool {
		return models[i].CombinedPer1K() < models[j].CombinedPer1K()
	})
	return models
}

// builtinTiers mirrors the shipped config/models.yaml so the pipeline works
// with no catalog file at all.
func builtinTiers() map[Tier][]Model {
	return map[Tier][]Model{
		TierSilver: {
			{Name: "gpt-3.5-turbo", Provider: "openai", InputPer1K: 0.0005, OutputPer1K: 0.0015},
			{Name: "claude-3-haiku", Provider: "anthropic", InputPer1K: 0.00025, OutputPer1K: 0.00125},
			{Name: "deepseek-chat", Provider: "deepseek", InputPer1K: 0.0001, OutputPer1K: 0.0002},
			{Name: "qwen-turbo", Provider: "qwen", InputPer1K: 0.0003, OutputPer1K: 0.0006},
		},
		TierGold: {
			{Name: "claude-3-sonnet", Provider: "anthropic", InputPer1K: 0.003, OutputPer1K: 0.015},
			{Name: "deepseek-v3", Provider: "deepseek", InputPer1K: 0.001, OutputPer1K: 0.002},
			{Name: "qwen-plus", Provider: "qwen", InputPer1K: 0.0008, OutputPer1K: 0.002},
		},
		TierPlatinum: {
			{Name: "gpt-4-turbo", Provider: "openai", InputPer1K: 0.01, OutputPer1K: 0.03},
			{Name: "qwen-max", Provider: "qwen", InputPer1K: 0.002, OutputPer1K: 0.006},
		},
		TierDiamond: {
			{Name: "claude-3-opus", Provider: "anthropic", InputPer1K: 0.015, OutputPer1K: 0.075},
			{Name: "gpt-4", Provider: "openai", InputPer1K: 0.03, OutputPer1K: 0.06},
		},
	}
}
