package ledger

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ralex-ai/ralex/internal/metrics"
)

// SpendRecord is one executed paid operation in the append-only spend log.
type SpendRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Model     string    `json:"model"`
	CostUSD   float64   `json:"cost_usd"`
}

// SpendLog is the append-only JSONL spend ledger. Totals are always
// recomputed from the file; the log never caches a running counter, so a
// crash or concurrent reader can not observe drifted spend.
//
// Writes are serialized by a mutex. Multi-process writers need external
// coordination; within one process the log is single-writer safe.
type SpendLog struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
	now    func() time.Time
}

// NewSpendLog opens (or lazily creates) the spend ledger at path.
func NewSpendLog(path string, logger *zap.Logger) *SpendLog {
	return &SpendLog{path: path, logger: logger, now: time.Now}
}

// SetNow overrides the record clock. Test hook.
func (l *SpendLog) SetNow(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}

// Append records one executed operation.
func (l *SpendLog) Append(model string, costUSD float64) (SpendRecord, error) {
	rec := SpendRecord{
		ID:        uuid.New().String(),
		Timestamp: l.now(),
		Model:     model,
		CostUSD:   costUSD,
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := appendLine(l.path, rec); err != nil {
		return SpendRecord{}, err
	}
	metrics.SpendRecorded.Add(costUSD)
	return rec, nil
}

// TotalSince sums spend recorded at or after cutoff. Malformed lines are
// skipped and counted, never fatal; an unreadable log yields zero spend
// (fail-open on reads; the limit check itself stays fail-closed).
func (l *SpendLog) TotalSince(cutoff time.Time) float64 {
	var total float64
	skipped, err := scanLines(l.path, func(line []byte) error {
		var rec SpendRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return err
		}
		if !rec.Timestamp.Before(cutoff) {
			total += rec.CostUSD
		}
		return nil
	})
	if skipped > 0 {
		metrics.LedgerLinesSkipped.WithLabelValues("spend").Add(float64(skipped))
		l.logger.Warn("Skipped malformed spend log lines", zap.Int("count", skipped))
	}
	if err != nil {
		l.logger.Warn("Spend log unreadable, treating spend as zero", zap.Error(err))
		return 0
	}
	return total
}

// Records returns all parseable records at or after cutoff, oldest first.
func (l *SpendLog) Records(cutoff time.Time) []SpendRecord {
	var out []SpendRecord
	skipped, err := scanLines(l.path, func(line []byte) error {
		var rec SpendRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return err
		}
		if !rec.Timestamp.Before(cutoff) {
			out = append(out, rec)
		}
		return nil
	})
	if skipped > 0 {
		metrics.LedgerLinesSkipped.WithLabelValues("spend").Add(float64(skipped))
	}
	if err != nil {
		l.logger.Warn("Spend log unreadable", zap.Error(err))
		return nil
	}
	return out
}
