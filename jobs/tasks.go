// Package jobs holds the background work Suprimo runs off the request
// path: the stock alert scan and the ledger integrity check.
package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskStockAlertScan walks the catalogue flagging stock levels that
	// need attention.
	TaskStockAlertScan = "inventory:stock_alerts"
	// TaskLedgerIntegrity verifies every product's stock against the sum
	// of its movement ledger.
	TaskLedgerIntegrity = "inventory:ledger_integrity"
	// TaskIdempotencyCleanup ages out processed idempotency keys.
	TaskIdempotencyCleanup = "shared:idempotency_cleanup"
)

// StockAlertScanPayload tunes the stock alert scan.
type StockAlertScanPayload struct {
	// WarmCache rebuilds the alert cache after scanning.
	WarmCache bool `json:"warm_cache"`
}

// NewStockAlertScanTask constructs an Asynq task.
func NewStockAlertScanTask(payload StockAlertScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockAlertScan, data), nil
}

// LedgerIntegrityPayload tunes the ledger integrity check.
type LedgerIntegrityPayload struct {
	// Limit caps how many divergent products are reported per run.
	Limit int `json:"limit"`
}

// NewLedgerIntegrityTask constructs an Asynq task.
func NewLedgerIntegrityTask(payload LedgerIntegrityPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, data), nil
}

// IdempotencyCleanupPayload tunes the idempotency key cleanup.
type IdempotencyCleanupPayload struct {
	// RetentionHours overrides the configured retention when positive.
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask constructs an Asynq task.
func NewIdempotencyCleanupTask(payload IdempotencyCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
