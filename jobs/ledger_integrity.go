package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LedgerIntegrityJob verifies that every product's stored stock equals
// the sum of its movement ledger. A divergence means a write bypassed
// the ledger and needs manual investigation.
type LedgerIntegrityJob struct {
	Pool   *pgxpool.Pool
	Logger *slog.Logger
	clock  func() time.Time
}

// NewLedgerIntegrityJob initialises the ledger integrity handler.
func NewLedgerIntegrityJob(pool *pgxpool.Pool, logger *slog.Logger) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{
		Pool:   pool,
		Logger: logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

type ledgerDivergence struct {
	ProductID int64
	Code      string
	Stock     int64
	LedgerSum int64
}

// Handle executes the ledger integrity check.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("ledger integrity: handler not configured")
	}
	var payload LedgerIntegrityPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Limit <= 0 {
		payload.Limit = 100
	}

	start := j.now()
	logger := j.logger()
	logger.Info("starting ledger integrity check")

	divergences, err := j.scan(ctx, payload.Limit)
	if err != nil {
		logger.Error("check failed", slog.Any("error", err))
		return err
	}

	for _, d := range divergences {
		logger.Error("ledger divergence",
			slog.Int64("product_id", d.ProductID),
			slog.String("code", d.Code),
			slog.Int64("stock", d.Stock),
			slog.Int64("ledger_sum", d.LedgerSum),
			slog.Int64("difference", d.Stock-d.LedgerSum),
		)
	}

	logger.Info("completed ledger integrity check",
		slog.Int("divergences", len(divergences)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *LedgerIntegrityJob) scan(ctx context.Context, limit int) ([]ledgerDivergence, error) {
	rows, err := j.Pool.Query(ctx, `SELECT p.id, p.code, p.stock, COALESCE(SUM(m.quantity), 0) AS ledger_sum
FROM products p
LEFT JOIN inventory_movements m ON m.product_id = p.id
GROUP BY p.id, p.code, p.stock
HAVING p.stock <> COALESCE(SUM(m.quantity), 0)
ORDER BY p.id
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	divergences := []ledgerDivergence{}
	for rows.Next() {
		var d ledgerDivergence
		if err := rows.Scan(&d.ProductID, &d.Code, &d.Stock, &d.LedgerSum); err != nil {
			return nil, err
		}
		divergences = append(divergences, d)
	}
	return divergences, rows.Err()
}

func (j *LedgerIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskLedgerIntegrity))
}

func (j *LedgerIntegrityJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
