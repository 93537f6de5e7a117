package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/suprimo-erp/suprimo-erp/internal/inventory"
)

// StockAlertScanJob walks the catalogue and logs every product whose
// stock level needs attention. Running the scan through the inventory
// service also warms the alert cache for the HTTP surface.
type StockAlertScanJob struct {
	Service *inventory.Service
	Logger  *slog.Logger
	clock   func() time.Time
}

// NewStockAlertScanJob initialises the stock alert scan handler.
func NewStockAlertScanJob(service *inventory.Service, logger *slog.Logger) *StockAlertScanJob {
	return &StockAlertScanJob{
		Service: service,
		Logger:  logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the stock alert scan.
func (j *StockAlertScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("stock alert scan: handler not configured")
	}
	var payload StockAlertScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	start := j.now()
	logger := j.logger()
	logger.Info("starting stock alert scan")

	alerts, err := j.Service.StockAlerts(ctx)
	if err != nil {
		logger.Error("scan failed", slog.Any("error", err))
		return err
	}

	for _, a := range alerts {
		logger.Warn("stock alert",
			slog.String("kind", a.Kind),
			slog.Int64("product_id", a.Product.ID),
			slog.String("product", a.Product.Name),
			slog.Int64("stock", a.Product.Stock),
			slog.Int64("min_stock", a.Product.MinStock),
		)
	}

	logger.Info("completed stock alert scan",
		slog.Int("alerts", len(alerts)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *StockAlertScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskStockAlertScan))
	}
	return slog.Default().With(slog.String("job", TaskStockAlertScan))
}

func (j *StockAlertScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
