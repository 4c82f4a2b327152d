package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ralex-ai/ralex/internal/budget"
	"github.com/ralex-ai/ralex/internal/classifier"
	"github.com/ralex-ai/ralex/internal/complexity"
	"github.com/ralex-ai/ralex/internal/config"
	"github.com/ralex-ai/ralex/internal/costing"
	"github.com/ralex-ai/ralex/internal/ledger"
	"github.com/ralex-ai/ralex/internal/orchestrator"
	"github.com/ralex-ai/ralex/internal/pricing"
	"github.com/ralex-ai/ralex/internal/router"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	catalog := pricing.NewCatalog(cfg.Pricing.CatalogPath, logger)
	if err := catalog.Watch(ctx); err != nil {
		logger.Warn("Catalog hot reload unavailable", zap.Error(err))
	}

	spend := ledger.NewSpendLog(cfg.Budget.SpendLogPath, logger)
	execLog := ledger.NewExecutionLog("ralex_executions.jsonl", cfg.Complexity.HistoryCap, logger)
	costLog := ledger.NewCostLog("ralex_costs.jsonl", cfg.Costing.HistoryCap, logger)

	pipeline := orchestrator.New(
		complexity.NewAnalyzer(cfg.Complexity, execLog, logger),
		classifier.New(cfg.Classifier, nil, logger),
		costing.NewEstimator(cfg.Costing, catalog, costLog, logger),
		budget.NewEnforcer(cfg.Budget, catalog, spend, logger),
		router.New(cfg.Router, catalog, nil, logger),
		nil, // SQL usage mirror is opt-in; wire a DB here when configured
		nil, // model invocation lives outside this service
		logger,
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/route", routeHandler(pipeline, logger))

	port := getEnvOrDefaultInt("RALEX_PORT", 8080)
	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("Routing service listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
}

type routeRequest struct {
	Prompt  string `json:"prompt"`
	Caller  string `json:"caller,omitempty"`
	Tier    string `json:"tier,omitempty"`
	Context struct {
		FileCount       int     `json:"file_count,omitempty"`
		Interface       string  `json:"interface,omitempty"`
		ContextTokens   int     `json:"context_tokens,omitempty"`
		DailyBudgetUSD  float64 `json:"daily_budget,omitempty"`
		HourlyBudgetUSD float64 `json:"hourly_budget,omitempty"`
	} `json:"context"`
}

func routeHandler(pipeline *orchestrator.Pipeline, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req routeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Prompt == "" {
			http.Error(w, "prompt is required", http.StatusBadRequest)
			return
		}

		out := pipeline.Handle(r.Context(), orchestrator.Request{
			Prompt: req.Prompt,
			Caller: req.Caller,
			Tier:   req.Tier,
			Context: orchestrator.RequestContext{
				FileCount:       req.Context.FileCount,
				Interface:       req.Context.Interface,
				ContextTokens:   req.Context.ContextTokens,
				DailyBudgetUSD:  req.Context.DailyBudgetUSD,
				HourlyBudgetUSD: req.Context.HourlyBudgetUSD,
			},
		})

		status := http.StatusOK
		if !out.Allowed {
			status = http.StatusPaymentRequired
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(out); err != nil {
			logger.Warn("Failed to encode response", zap.Error(err))
		}
	}
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func getEnvOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
