package ledger

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ralex-ai/ralex/internal/metrics"
)

// ExecutionRecord captures one completed execution for the historical
// complexity blend.
type ExecutionRecord struct {
	Prompt           string    `json:"prompt"`
	ActualComplexity float64   `json:"actual_complexity"`
	ExecutionTime    float64   `json:"execution_time_seconds"`
	TokensUsed       int       `json:"tokens_used"`
	Success          bool      `json:"success"`
	ErrorPatterns    []string  `json:"error_patterns,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// CostRecord captures one actual-vs-estimated cost observation for the
// estimator's historical accuracy adjustment.
type CostRecord struct {
	TaskType      string    `json:"task_type"`
	Complexity    float64   `json:"complexity"`
	EstimatedCost float64   `json:"estimated_cost"`
	ActualCost    float64   `json:"actual_cost"`
	Timestamp     time.Time `json:"timestamp"`
}

// ExecutionLog is a capped JSONL store of ExecutionRecords. Appends beyond
// the cap evict the oldest entries to bound analysis cost.
type ExecutionLog struct {
	path   string
	cap    int
	logger *zap.Logger
	mu     sync.Mutex
}

// NewExecutionLog opens the execution history at path with the given cap.
func NewExecutionLog(path string, cap int, logger *zap.Logger) *ExecutionLog {
	if cap <= 0 {
		cap = 1000
	}
	return &ExecutionLog{path: path, cap: cap, logger: logger}
}

// Load returns all parseable records, oldest first. Any read or parse
// failure degrades to an empty (or partial) history with a warning.
func (l *ExecutionLog) Load() []ExecutionRecord {
	var out []ExecutionRecord
	skipped, err := scanLines(l.path, func(line []byte) error {
		var rec ExecutionRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	if skipped > 0 {
		metrics.LedgerLinesSkipped.WithLabelValues("execution").Add(float64(skipped))
	}
	if err != nil {
		l.logger.Warn("Execution history unreadable, starting empty", zap.Error(err))
		return nil
	}
	if len(out) > l.cap {
		out = out[len(out)-l.cap:]
	}
	return out
}

// Append persists one record, evicting the oldest beyond the cap.
func (l *ExecutionLog) Append(rec ExecutionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	records := l.Load()
	if len(records) < l.cap {
		return appendLine(l.path, rec)
	}
	records = append(records[len(records)-l.cap+1:], rec)
	boxed := make([]interface{}, len(records))
	for i := range records {
		boxed[i] = records[i]
	}
	return rewrite(l.path, boxed)
}

// CostLog is a capped JSONL store of CostRecords.
type CostLog struct {
	path   string
	cap    int
	logger *zap.Logger
	mu     sync.Mutex
}

// NewCostLog opens the cost history at path with the given cap.
func NewCostLog(path string, cap int, logger *zap.Logger) *CostLog {
	if cap <= 0 {
		cap = 2000
	}
	return &CostLog{path: path, cap: cap, logger: logger}
}

// Load returns all parseable records, oldest first.
func (l *CostLog) Load() []CostRecord {
	var out []CostRecord
	skipped, err := scanLines(l.path, func(line []byte) error {
		var rec CostRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	if skipped > 0 {
		metrics.LedgerLinesSkipped.WithLabelValues("cost").Add(float64(skipped))
	}
	if err != nil {
		l.logger.Warn("Cost history unreadable, starting empty", zap.Error(err))
		return nil
	}
	if len(out) > l.cap {
		out = out[len(out)-l.cap:]
	}
	return out
}

// Append persists one record, evicting the oldest beyond the cap.
func (l *CostLog) Append(rec CostRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	records := l.Load()
	if len(records) < l.cap {
		return appendLine(l.path, rec)
	}
	records = append(records[len(records)-l.cap+1:], rec)
	boxed := make([]interface{}, len(records))
	for i := range records {
		boxed[i] = records[i]
	}
	return rewrite(l.path, boxed)
}
