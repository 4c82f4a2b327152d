package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Classification metrics
	RequestsClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ralex_requests_classified_total",
			Help: "Total number of prompts classified",
		},
		[]string{"task_type", "complexity"},
	)

	ComplexityScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ralex_complexity_score",
			Help:    "Six-factor overall complexity score per request",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	// Budget metrics
	BudgetDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ralex_budget_decisions_total",
			Help: "Budget accept/reject decisions",
		},
		[]string{"outcome", "scope"},
	)

	SpendRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ralex_spend_recorded_usd_total",
			Help: "Cumulative spend recorded to the ledger in USD",
		},
	)

	LedgerLinesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ralex_ledger_lines_skipped_total",
			Help: "Malformed ledger lines skipped during scans",
		},
		[]string{"log"},
	)

	// Cost estimation metrics
	EstimatedCostUSD = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ralex_estimated_cost_usd",
			Help:    "Estimated cost in USD per request",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1, 10},
		},
	)

	// Pricing metrics
	PricingFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ralex_pricing_fallbacks_total",
			Help: "Pricing lookups that fell back to default rates",
		},
		[]string{"reason"},
	)

	CatalogReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ralex_catalog_reloads_total",
			Help: "Model catalog reload attempts",
		},
		[]string{"status"},
	)

	// Routing metrics
	RoutingDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ralex_routing_decisions_total",
			Help: "Model routing decisions by selected tier and fallback reason",
		},
		[]string{"tier", "fallback"},
	)

	PromptsCompressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ralex_prompts_compressed_total",
			Help: "Oversized prompts sent through the compressor",
		},
		[]string{"status"},
	)
)
