package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/suprimo-erp/suprimo-erp/internal/inventory"
	"github.com/suprimo-erp/suprimo-erp/internal/observability"
	"github.com/suprimo-erp/suprimo-erp/internal/platform/db"
	"github.com/suprimo-erp/suprimo-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context) error) error
	LastNumber(ctx context.Context, prefix string) (string, error)
	InsertOrder(ctx context.Context, o Order) (Order, error)
	InsertItems(ctx context.Context, orderID int64, items []OrderItem) ([]OrderItem, error)
	GetOrder(ctx context.Context, id int64) (Order, error)
	GetOrderForUpdate(ctx context.Context, id int64) (Order, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
	UpdateItemReceived(ctx context.Context, itemID, received int64) error
	DeleteOrder(ctx context.Context, id int64) error
	ListOrders(ctx context.Context, f Filter) ([]Order, error)
	OverdueOrders(ctx context.Context, asOf time.Time) ([]Order, error)
	Stats(ctx context.Context) (Stats, error)
	GetSupplier(ctx context.Context, id int64) (Supplier, error)
	QuoteStatus(ctx context.Context, id int64) (string, error)
	MissingProducts(ctx context.Context, ids []int64) ([]int64, error)
}

// StockMutator credits stock when a delivery completes. Implemented by
// the inventory service; movements issued inside an order transaction
// join it.
type StockMutator interface {
	ApplyMovement(ctx context.Context, in inventory.MovementInput) (inventory.Movement, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards the delivery fan-out against double processing.
// Implemented by shared.IdempotencyStore.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service coordinates the order lifecycle.
type Service struct {
	repo        RepositoryPort
	stock       StockMutator
	audit       AuditPort
	idempotency IdempotencyPort
	metrics     *observability.Metrics
}

// NewService builds Service. Audit, idempotency and metrics are optional.
func NewService(repo RepositoryPort, stock StockMutator, audit AuditPort, idem IdempotencyPort, metrics *observability.Metrics) *Service {
	return &Service{repo: repo, stock: stock, audit: audit, idempotency: idem, metrics: metrics}
}

// Create validates the input, allocates the next PED number and inserts
// the order as pendente. A number race surfaces as a concurrency error
// and is retried with a fresh scan.
func (s *Service) Create(ctx context.Context, in CreateInput) (Order, error) {
	if err := s.validateCreate(ctx, in); err != nil {
		return Order{}, err
	}

	items := make([]OrderItem, 0, len(in.Items))
	var total float64
	for _, item := range in.Items {
		lineTotal := float64(item.Quantity) * item.UnitPrice
		items = append(items, OrderItem{
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			TotalPrice: lineTotal,
		})
		total += lineTotal
	}

	var created Order
	run := func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context) error {
			year := time.Now().UTC().Year()
			last, err := s.repo.LastNumber(ctx, fmt.Sprintf("%s%d", NumberPrefix, year))
			if err != nil {
				return err
			}
			number := shared.FormatNumber(NumberPrefix, year, shared.NextSequence(last, NumberPrefix, year))
			created, err = s.repo.InsertOrder(ctx, Order{
				Number:       number,
				SupplierID:   in.SupplierID,
				QuoteID:      in.QuoteID,
				Status:       StatusPendente,
				TotalValue:   total,
				DeliveryDate: in.DeliveryDate,
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
		return Order{}, err
	}

	s.metrics.RecordOrderCreated()
	s.recordAudit(ctx, in.UserID, "orders:create", created.ID, map[string]any{
		"number":      created.Number,
		"supplier_id": created.SupplierID,
		"total_value": created.TotalValue,
		"items":       len(created.Items),
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
	if supplier.Status != SupplierStatusActive {
		return fmt.Errorf("%w (%s)", ErrSupplierInactive, supplier.Name)
	}
	if in.QuoteID != nil {
		status, err := s.repo.QuoteStatus(ctx, *in.QuoteID)
		if err != nil {
			return err
		}
		if status != QuoteStatusApproved {
			return fmt.Errorf("%w (quote %d is %s)", ErrQuoteNotApproved, *in.QuoteID, status)
		}
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

// UpdateStatus moves an order along the lifecycle. Setting entregue runs
// the delivery: every line is marked fully received and credited to
// stock inside the same transaction as the status write.
func (s *Service) UpdateStatus(ctx context.Context, orderID int64, status Status, userID int64) (Order, error) {
	if !status.Valid() {
		return Order{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	var (
		updated   Order
		delivered bool
	)
	run := func(ctx context.Context) error {
		delivered = false
		deliveryKey := ""
		err := s.repo.WithTx(ctx, func(ctx context.Context) error {
			o, err := s.repo.GetOrderForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			if o.Status.Terminal() {
				return fmt.Errorf("%w (%s is %s)", ErrOrderLocked, o.Number, o.Status)
			}
			if !CanTransition(o.Status, status) {
				return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, status)
			}
			if status == StatusEntregue {
				deliveryKey, err = s.completeDelivery(ctx, &o, userID)
				if err != nil {
					return err
				}
				delivered = true
			} else {
				if err := s.repo.UpdateStatus(ctx, o.ID, status); err != nil {
					return err
				}
				o.Status = status
			}
			updated = o
			return nil
		})
		s.releaseDeliveryKey(ctx, deliveryKey, err)
		return err
	}
	if err := s.runRetryable(ctx, run); err != nil {
		return Order{}, err
	}

	if delivered {
		s.metrics.RecordDelivery()
	}
	s.recordAudit(ctx, userID, "orders:status", updated.ID, map[string]any{
		"number": updated.Number,
		"status": string(updated.Status),
	})
	return updated, nil
}

// UpdateItemReceived records a partial receipt. Received quantities are
// monotonic and bounded by the ordered quantity; when the last line
// reaches its ordered quantity the delivery completes automatically,
// producing exactly the movements an explicit entregue would.
func (s *Service) UpdateItemReceived(ctx context.Context, orderID, productID, received, userID int64) (Order, error) {
	if received < 0 {
		return Order{}, ErrReceivedDecrease
	}

	var (
		updated   Order
		delivered bool
	)
	run := func(ctx context.Context) error {
		delivered = false
		deliveryKey := ""
		err := s.repo.WithTx(ctx, func(ctx context.Context) error {
			o, err := s.repo.GetOrderForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			if o.Status.Terminal() {
				return fmt.Errorf("%w (%s is %s)", ErrOrderLocked, o.Number, o.Status)
			}
			idx := -1
			for i, item := range o.Items {
				if item.ProductID == productID {
					idx = i
					break
				}
			}
			if idx < 0 {
				return fmt.Errorf("%w: product %d on order %s", ErrItemNotFound, productID, o.Number)
			}
			item := o.Items[idx]
			if received < item.ReceivedQuantity {
				return fmt.Errorf("%w: %d < %d", ErrReceivedDecrease, received, item.ReceivedQuantity)
			}
			if received > item.Quantity {
				return fmt.Errorf("%w: %d > %d", ErrQtyExceedsOrdered, received, item.Quantity)
			}
			if received != item.ReceivedQuantity {
				if err := s.repo.UpdateItemReceived(ctx, item.ID, received); err != nil {
					return err
				}
				o.Items[idx].ReceivedQuantity = received
			}
			if o.FullyReceived() {
				deliveryKey, err = s.completeDelivery(ctx, &o, userID)
				if err != nil {
					return err
				}
				delivered = true
			}
			updated = o
			return nil
		})
		s.releaseDeliveryKey(ctx, deliveryKey, err)
		return err
	}
	if err := s.runRetryable(ctx, run); err != nil {
		return Order{}, err
	}

	if delivered {
		s.metrics.RecordDelivery()
	}
	s.recordAudit(ctx, userID, "orders:receive", updated.ID, map[string]any{
		"number":     updated.Number,
		"product_id": productID,
		"received":   received,
	})
	return updated, nil
}

// completeDelivery is the single delivery entry point: both the explicit
// entregue transition and the receipt-driven completion land here. The
// caller holds the order row lock; an order already delivered is a
// stock no-op. Returns the idempotency key it inserted so the caller
// can release it when the surrounding transaction fails.
func (s *Service) completeDelivery(ctx context.Context, o *Order, userID int64) (string, error) {
	if o.Status == StatusEntregue {
		return "", nil
	}

	inserted := ""
	if s.idempotency != nil {
		key := fmt.Sprintf("DELIVERY:%s", o.Number)
		if err := s.idempotency.CheckAndInsert(ctx, key, "orders"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return "", fmt.Errorf("%w (%s)", ErrAlreadyDelivered, o.Number)
			}
			return "", err
		}
		inserted = key
	}

	reason := fmt.Sprintf("Recebimento do pedido %s", o.Number)
	for i, item := range o.Items {
		if item.ReceivedQuantity != item.Quantity {
			if err := s.repo.UpdateItemReceived(ctx, item.ID, item.Quantity); err != nil {
				return inserted, err
			}
			o.Items[i].ReceivedQuantity = item.Quantity
		}
		_, err := s.stock.ApplyMovement(ctx, inventory.MovementInput{
			ProductID:     item.ProductID,
			Type:          inventory.MovementEntrada,
			Quantity:      item.Quantity,
			Reason:        reason,
			ReferenceID:   strconv.FormatInt(o.ID, 10),
			ReferenceType: "order",
			UserID:        userID,
		})
		if err != nil {
			return inserted, err
		}
	}
	if err := s.repo.UpdateStatus(ctx, o.ID, StatusEntregue); err != nil {
		return inserted, err
	}
	o.Status = StatusEntregue
	return inserted, nil
}

// releaseDeliveryKey removes the delivery idempotency key after a failed
// attempt. The key lives outside the order transaction, so a failure
// anywhere between the insert and the commit, the commit itself
// included, must release it or every retry would see a phantom
// delivery.
func (s *Service) releaseDeliveryKey(ctx context.Context, key string, err error) {
	if err == nil || key == "" {
		return
	}
	_ = s.idempotency.Delete(ctx, key)
}

// Delete removes an order that has not left pendente.
func (s *Service) Delete(ctx context.Context, orderID, userID int64) error {
	var number string
	err := s.runRetryable(ctx, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context) error {
			o, err := s.repo.GetOrderForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			if o.Status != StatusPendente {
				return fmt.Errorf("%w (%s is %s)", ErrNotPending, o.Number, o.Status)
			}
			number = o.Number
			return s.repo.DeleteOrder(ctx, o.ID)
		})
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, userID, "orders:delete", orderID, map[string]any{"number": number})
	return nil
}

// Get fetches one order with its items.
func (s *Service) Get(ctx context.Context, orderID int64) (Order, error) {
	return s.repo.GetOrder(ctx, orderID)
}

// List returns orders matching the filter, newest first.
func (s *Service) List(ctx context.Context, f Filter) ([]Order, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, f.Status)
	}
	if f.Limit <= 0 {
		f.Limit = 100
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
	return s.repo.ListOrders(ctx, f)
}

// Overdue returns non-terminal orders whose delivery date has passed.
func (s *Service) Overdue(ctx context.Context) ([]Order, error) {
	return s.repo.OverdueOrders(ctx, time.Now().UTC())
}

// GetStats aggregates the order book.
func (s *Service) GetStats(ctx context.Context) (Stats, error) {
	return s.repo.Stats(ctx)
}

func (s *Service) runRetryable(ctx context.Context, run func(context.Context) error) error {
	if db.InTx(ctx) {
		return run(ctx)
	}
	return shared.Retry(ctx, shared.DefaultRetry, run)
}

func (s *Service) recordAudit(ctx context.Context, userID int64, action string, orderID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  userID,
		Action:   action,
		Entity:   "order",
		EntityID: strconv.FormatInt(orderID, 10),
		Meta:     meta,
	})
}
