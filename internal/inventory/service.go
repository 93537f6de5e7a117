package inventory

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/suprimo-erp/suprimo-erp/internal/observability"
	"github.com/suprimo-erp/suprimo-erp/internal/platform/db"
	"github.com/suprimo-erp/suprimo-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context) error) error
	GetProduct(ctx context.Context, id int64) (Product, error)
	GetProductForUpdate(ctx context.Context, id int64) (Product, error)
	UpdateStock(ctx context.Context, productID, stock int64) error
	InsertMovement(ctx context.Context, m Movement) (Movement, error)
	ListMovements(ctx context.Context, f MovementFilter) ([]Movement, error)
	OutOfStockProducts(ctx context.Context) ([]Product, error)
	LowStockProducts(ctx context.Context) ([]Product, error)
	OverstockProducts(ctx context.Context) ([]Product, error)
	Stats(ctx context.Context) (Stats, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates stock movements and ledger queries.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	cache   *Cache
	metrics *observability.Metrics
}

// NewService builds Service. Audit, cache and metrics are optional.
func NewService(repo RepositoryPort, audit AuditPort, cache *Cache, metrics *observability.Metrics) *Service {
	return &Service{repo: repo, audit: audit, cache: cache, metrics: metrics}
}

// brl prints monetary values the way the rest of the system shows them.
var brl = message.NewPrinter(language.BrazilianPortuguese)

func validateInput(in MovementInput) error {
	if in.ProductID <= 0 {
		return ErrProductNotFound
	}
	switch in.Type {
	case MovementEntrada, MovementSaida, MovementAjuste, MovementTransferencia:
	default:
		return ErrInvalidType
	}
	if strings.TrimSpace(in.Reason) == "" {
		return ErrReasonRequired
	}
	return nil
}

// ApplyMovement applies a stock change and appends the matching ledger
// row in one transaction. When the context already carries a transaction
// (a delivery crediting its lines) the movement joins it; otherwise the
// operation opens its own and retries transient conflicts.
func (s *Service) ApplyMovement(ctx context.Context, in MovementInput) (Movement, error) {
	if err := validateInput(in); err != nil {
		return Movement{}, err
	}
	var mv Movement
	run := func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context) error {
			var err error
			mv, err = s.applyLocked(ctx, in)
			return err
		})
	}
	var err error
	if db.InTx(ctx) {
		err = run(ctx)
	} else {
		err = shared.Retry(ctx, shared.DefaultRetry, run)
	}
	if err != nil {
		return Movement{}, err
	}
	s.afterMovement(ctx, in.UserID, []Movement{mv})
	return mv, nil
}

// PerformStockCount applies a physical count as ajuste movements in a
// single transaction. Lines whose counted quantity matches the current
// stock produce no ledger row.
func (s *Service) PerformStockCount(ctx context.Context, lines []CountInput, userID int64) ([]CountResult, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyCount
	}
	for _, line := range lines {
		if line.CountedQuantity < 0 {
			return nil, ErrNegativeTarget
		}
	}
	// One batch id ties every adjustment of this count together in the
	// ledger.
	batchID := uuid.NewString()
	var (
		results  []CountResult
		adjusted []Movement
	)
	run := func(ctx context.Context) error {
		results = results[:0]
		adjusted = adjusted[:0]
		return s.repo.WithTx(ctx, func(ctx context.Context) error {
			for _, line := range lines {
				p, err := s.repo.GetProductForUpdate(ctx, line.ProductID)
				if err != nil {
					return err
				}
				result := CountResult{
					ProductID:     p.ID,
					PreviousStock: p.Stock,
					CountedStock:  line.CountedQuantity,
					Difference:    line.CountedQuantity - p.Stock,
				}
				if result.Difference != 0 {
					mv, err := s.applyLocked(ctx, MovementInput{
						ProductID:     p.ID,
						Type:          MovementAjuste,
						Quantity:      line.CountedQuantity,
						Reason:        "Inventário físico",
						ReferenceID:   batchID,
						ReferenceType: "stock_count",
						UserID:        userID,
					})
					if err != nil {
						return err
					}
					result.Adjusted = true
					adjusted = append(adjusted, mv)
				}
				results = append(results, result)
			}
			return nil
		})
	}
	var err error
	if db.InTx(ctx) {
		err = run(ctx)
	} else {
		err = shared.Retry(ctx, shared.DefaultRetry, run)
	}
	if err != nil {
		return nil, err
	}
	s.afterMovement(ctx, userID, adjusted)
	return results, nil
}

// applyLocked performs the locked read-compute-write cycle. Callers must
// already be inside a transaction.
func (s *Service) applyLocked(ctx context.Context, in MovementInput) (Movement, error) {
	p, err := s.repo.GetProductForUpdate(ctx, in.ProductID)
	if err != nil {
		return Movement{}, err
	}
	if p.Status != ProductStatusActive {
		return Movement{}, fmt.Errorf("%w (%s)", ErrProductInactive, p.Code)
	}
	d, err := delta(in, p.Stock)
	if err != nil {
		return Movement{}, err
	}
	newStock := p.Stock + d
	if newStock < 0 {
		return Movement{}, fmt.Errorf("%w: product %s has %d, requested %d", ErrInsufficientStock, p.Code, p.Stock, in.Quantity)
	}
	mv := Movement{
		ProductID:     p.ID,
		Type:          in.Type,
		Quantity:      d,
		PreviousStock: p.Stock,
		NewStock:      newStock,
		Reason:        in.Reason,
		ReferenceID:   in.ReferenceID,
		ReferenceType: in.ReferenceType,
		UserID:        in.UserID,
	}
	if d == 0 {
		// Counted stock matches: nothing to write.
		return mv, nil
	}
	if err := s.repo.UpdateStock(ctx, p.ID, newStock); err != nil {
		return Movement{}, err
	}
	return s.repo.InsertMovement(ctx, mv)
}

func (s *Service) afterMovement(ctx context.Context, userID int64, movements []Movement) {
	for _, mv := range movements {
		s.metrics.RecordMovement(string(mv.Type))
		if s.audit != nil {
			_ = s.audit.Record(ctx, shared.AuditLog{
				ActorID:  userID,
				Action:   fmt.Sprintf("inventory:%s", mv.Type),
				Entity:   "inventory_movement",
				EntityID: fmt.Sprintf("%d", mv.ID),
				Meta: map[string]any{
					"product_id":     mv.ProductID,
					"quantity":       mv.Quantity,
					"previous_stock": mv.PreviousStock,
					"new_stock":      mv.NewStock,
					"reason":         mv.Reason,
				},
			})
		}
	}
	if len(movements) > 0 {
		_ = s.cache.Bump(ctx)
	}
}

// GetMovements lists ledger rows matching the filter, newest first.
func (s *Service) GetMovements(ctx context.Context, f MovementFilter) ([]Movement, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
	return s.repo.ListMovements(ctx, f)
}

// ProductMovements lists the ledger of a single product.
func (s *Service) ProductMovements(ctx context.Context, productID int64, f MovementFilter) ([]Movement, error) {
	if productID <= 0 {
		return nil, ErrProductNotFound
	}
	if _, err := s.repo.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	f.ProductID = productID
	return s.GetMovements(ctx, f)
}

// StockAlerts returns the products needing attention ordered by severity:
// out of stock, then low, then overstocked. Served from cache.
func (s *Service) StockAlerts(ctx context.Context) ([]Alert, error) {
	var alerts []Alert
	err := s.cache.FetchJSON(ctx, "inventory:alerts", &alerts, func(ctx context.Context) (any, error) {
		return s.buildAlerts(ctx)
	})
	return alerts, err
}

func (s *Service) buildAlerts(ctx context.Context) ([]Alert, error) {
	out, err := s.repo.OutOfStockProducts(ctx)
	if err != nil {
		return nil, err
	}
	low, err := s.repo.LowStockProducts(ctx)
	if err != nil {
		return nil, err
	}
	over, err := s.repo.OverstockProducts(ctx)
	if err != nil {
		return nil, err
	}
	alerts := make([]Alert, 0, len(out)+len(low)+len(over))
	for _, p := range out {
		alerts = append(alerts, Alert{Kind: AlertOutOfStock, Product: p})
	}
	for _, p := range low {
		if p.Stock == 0 {
			continue // already reported as out of stock
		}
		alerts = append(alerts, Alert{Kind: AlertLowStock, Product: p})
	}
	for _, p := range over {
		alerts = append(alerts, Alert{Kind: AlertOverstock, Product: p})
	}
	return alerts, nil
}

// GetStats aggregates inventory counters and total value. Served from cache.
func (s *Service) GetStats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := s.cache.FetchJSON(ctx, "inventory:stats", &stats, func(ctx context.Context) (any, error) {
		st, err := s.repo.Stats(ctx)
		if err != nil {
			return Stats{}, err
		}
		st.TotalValueFormatted = brl.Sprintf("R$ %.2f", st.TotalValue)
		return st, nil
	})
	return stats, err
}
