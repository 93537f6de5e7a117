package quotes

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/suprimo-erp/suprimo-erp/internal/observability"
	"github.com/suprimo-erp/suprimo-erp/internal/orders"
	"github.com/suprimo-erp/suprimo-erp/internal/platform/db"
	"github.com/suprimo-erp/suprimo-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context) error) error
	LastNumber(ctx context.Context, prefix string) (string, error)
	InsertQuote(ctx context.Context, q Quote) (Quote, error)
	InsertItems(ctx context.Context, quoteID int64, items []QuoteItem) ([]QuoteItem, error)
	GetQuote(ctx context.Context, id int64) (Quote, error)
	GetQuoteForUpdate(ctx context.Context, id int64) (Quote, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
	ListQuotes(ctx context.Context, f Filter) ([]Quote, error)
	ExpiringQuotes(ctx context.Context, until time.Time) ([]Quote, error)
	ConvertedOrderID(ctx context.Context, quoteID int64) (int64, bool, error)
	GetSupplier(ctx context.Context, id int64) (orders.Supplier, error)
	MissingProducts(ctx context.Context, ids []int64) ([]int64, error)
}

// OrderCreator turns an approved quote into an order. Implemented by the
// orders service; the creation joins the conversion transaction.
type OrderCreator interface {
	Create(ctx context.Context, in orders.CreateInput) (orders.Order, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates the quote workflow.
type Service struct {
	repo    RepositoryPort
	orders  OrderCreator
	audit   AuditPort
	metrics *observability.Metrics
}

// NewService builds Service. Audit and metrics are optional.
func NewService(repo RepositoryPort, orderCreator OrderCreator, audit AuditPort, metrics *observability.Metrics) *Service {
	return &Service{repo: repo, orders: orderCreator, audit: audit, metrics: metrics}
}

// Create validates the input, allocates the next COT number and inserts
// the quote as pendente.
func (s *Service) Create(ctx context.Context, in CreateInput) (Quote, error) {
	if err := s.validateCreate(ctx, in); err != nil {
		return Quote{}, err
	}

	items := make([]QuoteItem, 0, len(in.Items))
	var total float64
	for _, item := range in.Items {
		lineTotal := float64(item.Quantity) * item.UnitPrice
		items = append(items, QuoteItem{
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			TotalPrice: lineTotal,
		})
		total += lineTotal
	}

	var created Quote
	run := func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context) error {
			year := time.Now().UTC().Year()
			last, err := s.repo.LastNumber(ctx, fmt.Sprintf("%s%d", NumberPrefix, year))
			if err != nil {
				return err
			}
			number := shared.FormatNumber(NumberPrefix, year, shared.NextSequence(last, NumberPrefix, year))
			created, err = s.repo.InsertQuote(ctx, Quote{
				Number:       number,
				SupplierID:   in.SupplierID,
				Status:       StatusPendente,
				TotalValue:   total,
				DeliveryDate: in.DeliveryDate,
				ValidUntil:   in.ValidUntil,
				Notes:        in.Notes,
			})
			if err != nil {
				return err
			}
			created.Items, err = s.repo.InsertItems(ctx, created.ID, items)
			return err
		})
	}
	if err := s.runRetryable(ctx, run); err != nil {
		return Quote{}, err
	}

	s.recordAudit(ctx, in.UserID, "quotes:create", created.ID, map[string]any{
		"number":      created.Number,
		"supplier_id": created.SupplierID,
		"total_value": created.TotalValue,
	})
	return created, nil
}

func (s *Service) validateCreate(ctx context.Context, in CreateInput) error {
	if len(in.Items) == 0 {
		return ErrEmptyItems
	}
	productIDs := make([]int64, 0, len(in.Items))
	for _, item := range in.Items {
		if item.Quantity <= 0 {
			return ErrInvalidQuantity
		}
		if item.UnitPrice < 0 {
			return ErrInvalidPrice
		}
		productIDs = append(productIDs, item.ProductID)
	}
	supplier, err := s.repo.GetSupplier(ctx, in.SupplierID)
	if err != nil {
		return err
	}
	if supplier.Status != orders.SupplierStatusActive {
		return fmt.Errorf("%w (%s)", ErrSupplierInactive, supplier.Name)
	}
	missing, err := s.repo.MissingProducts(ctx, productIDs)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: products %v", shared.ErrNotFound, missing)
	}
	return nil
}

// UpdateStatus moves a quote along the workflow. Approved, rejected and
// cancelled quotes are settled and reject further changes.
func (s *Service) UpdateStatus(ctx context.Context, quoteID int64, status Status, userID int64) (Quote, error) {
	if !status.Valid() {
		return Quote{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	var updated Quote
	run := func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context) error {
			q, err := s.repo.GetQuoteForUpdate(ctx, quoteID)
			if err != nil {
				return err
			}
			if q.Status.Terminal() {
				return fmt.Errorf("%w (%s is %s)", ErrQuoteLocked, q.Number, q.Status)
			}
			if !CanTransition(q.Status, status) {
				return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, q.Status, status)
			}
			if err := s.repo.UpdateStatus(ctx, q.ID, status); err != nil {
				return err
			}
			q.Status = status
			updated = q
			return nil
		})
	}
	if err := s.runRetryable(ctx, run); err != nil {
		return Quote{}, err
	}

	s.recordAudit(ctx, userID, "quotes:status", updated.ID, map[string]any{
		"number": updated.Number,
		"status": string(updated.Status),
	})
	return updated, nil
}

// ConvertToOrder turns an approved quote into a pendente order, copying
// the quoted lines as-is. The quote lock, the conversion check and the
// order insert share one transaction, so converting the same quote twice
// cannot produce two orders.
func (s *Service) ConvertToOrder(ctx context.Context, quoteID, userID int64) (orders.Order, error) {
	var created orders.Order
	run := func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context) error {
			q, err := s.repo.GetQuoteForUpdate(ctx, quoteID)
			if err != nil {
				return err
			}
			if q.Status != StatusAprovada {
				return fmt.Errorf("%w (%s is %s)", ErrNotApproved, q.Number, q.Status)
			}
			if orderID, converted, err := s.repo.ConvertedOrderID(ctx, q.ID); err != nil {
				return err
			} else if converted {
				return fmt.Errorf("%w (%s -> order %d)", ErrAlreadyConverted, q.Number, orderID)
			}
			in := orders.CreateInput{
				SupplierID:   q.SupplierID,
				QuoteID:      &q.ID,
				DeliveryDate: q.DeliveryDate,
				Notes:        fmt.Sprintf("Gerado da cotação %s", q.Number),
				UserID:       userID,
			}
			for _, item := range q.Items {
				in.Items = append(in.Items, orders.ItemInput{
					ProductID: item.ProductID,
					Quantity:  item.Quantity,
					UnitPrice: item.UnitPrice,
				})
			}
			created, err = s.orders.Create(ctx, in)
			return err
		})
	}
	if err := s.runRetryable(ctx, run); err != nil {
		return orders.Order{}, err
	}

	s.metrics.RecordQuoteConverted()
	s.recordAudit(ctx, userID, "quotes:convert", quoteID, map[string]any{
		"order_id":     created.ID,
		"order_number": created.Number,
	})
	return created, nil
}

// Get fetches one quote with its items.
func (s *Service) Get(ctx context.Context, quoteID int64) (Quote, error) {
	return s.repo.GetQuote(ctx, quoteID)
}

// List returns quotes matching the filter, newest first.
func (s *Service) List(ctx context.Context, f Filter) ([]Quote, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, f.Status)
	}
	if f.Limit <= 0 {
		f.Limit = 100
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
	return s.repo.ListQuotes(ctx, f)
}

// Expiring returns open quotes whose validity ends within the window.
func (s *Service) Expiring(ctx context.Context, days int) ([]Quote, error) {
	if days <= 0 {
		days = 7
	}
	return s.repo.ExpiringQuotes(ctx, time.Now().UTC().AddDate(0, 0, days))
}

func (s *Service) runRetryable(ctx context.Context, run func(context.Context) error) error {
	if db.InTx(ctx) {
		return run(ctx)
	}
	return shared.Retry(ctx, shared.DefaultRetry, run)
}

func (s *Service) recordAudit(ctx context.Context, userID int64, action string, quoteID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  userID,
		Action:   action,
		Entity:   "quote",
		EntityID: strconv.FormatInt(quoteID, 10),
		Meta:     meta,
	})
}
