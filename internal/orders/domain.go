// Package orders owns the purchase order lifecycle from creation through
// delivery, including the stock credits a delivery triggers.
package orders

import (
	"fmt"
	"time"

	"github.com/suprimo-erp/suprimo-erp/internal/shared"
)

// Status enumerates the canonical order lifecycle.
type Status string

const (
	StatusPendente   Status = "pendente"
	StatusConfirmado Status = "confirmado"
	StatusEmProducao Status = "em_producao"
	StatusEnviado    Status = "enviado"
	StatusEntregue   Status = "entregue"
	StatusCancelado  Status = "cancelado"
)

// NumberPrefix heads every order number (PED20250001).
const NumberPrefix = "PED"

// statusRank orders the delivery chain. Cancelado sits outside the chain:
// it is reachable from any non-terminal status.
var statusRank = map[Status]int{
	StatusPendente:   1,
	StatusConfirmado: 2,
	StatusEmProducao: 3,
	StatusEnviado:    4,
	StatusEntregue:   5,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	if s == StatusCancelado {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// Terminal reports whether the order no longer accepts changes.
func (s Status) Terminal() bool {
	return s == StatusEntregue || s == StatusCancelado
}

// CanTransition reports whether an order may move from one status to
// another. Forward skips along the chain are allowed (an order can go
// straight from pendente to enviado); moving backwards is not.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusCancelado {
		return true
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

// Order is a purchase order with its line items.
type Order struct {
	ID           int64       `json:"id"`
	Number       string      `json:"number"`
	SupplierID   int64       `json:"supplier_id"`
	QuoteID      *int64      `json:"quote_id,omitempty"`
	Status       Status      `json:"status"`
	TotalValue   float64     `json:"total_value"`
	DeliveryDate time.Time   `json:"delivery_date"`
	Notes        string      `json:"notes,omitempty"`
	Items        []OrderItem `json:"items"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// OrderItem is one product line of an order. ReceivedQuantity tracks the
// partial receipt progress and never decreases.
type OrderItem struct {
	ID               int64   `json:"id"`
	OrderID          int64   `json:"order_id"`
	ProductID        int64   `json:"product_id"`
	Quantity         int64   `json:"quantity"`
	UnitPrice        float64 `json:"unit_price"`
	TotalPrice       float64 `json:"total_price"`
	ReceivedQuantity int64   `json:"received_quantity"`
}

// FullyReceived reports whether every line has been received in full.
func (o Order) FullyReceived() bool {
	if len(o.Items) == 0 {
		return false
	}
	for _, item := range o.Items {
		if item.ReceivedQuantity < item.Quantity {
			return false
		}
	}
	return true
}

// Supplier is the subset of the supplier record orders care about.
type Supplier struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// SupplierStatusActive marks suppliers that accept new orders.
const SupplierStatusActive = "ativo"

// QuoteStatusApproved is the only quote status an order may reference.
const QuoteStatusApproved = "aprovada"

// ItemInput is one requested order line.
type ItemInput struct {
	ProductID int64
	Quantity  int64
	UnitPrice float64
}

// CreateInput describes a new order.
type CreateInput struct {
	SupplierID   int64
	QuoteID      *int64
	DeliveryDate time.Time
	Notes        string
	UserID       int64
	Items        []ItemInput
}

// Filter narrows order listings.
type Filter struct {
	Status     Status
	SupplierID int64
	Limit      int
}

// Stats aggregates the current order book.
type Stats struct {
	Total        int64            `json:"total"`
	ByStatus     map[string]int64 `json:"by_status"`
	TotalValue   float64          `json:"total_value"`
	AverageValue float64          `json:"average_value"`
}

// Domain errors wrapping the shared kinds.
var (
	ErrNotFound          = fmt.Errorf("orders: order: %w", shared.ErrNotFound)
	ErrItemNotFound      = fmt.Errorf("orders: item: %w", shared.ErrNotFound)
	ErrSupplierNotFound  = fmt.Errorf("orders: supplier: %w", shared.ErrNotFound)
	ErrSupplierInactive  = fmt.Errorf("orders: supplier is not active: %w", shared.ErrValidation)
	ErrEmptyItems        = fmt.Errorf("orders: at least one item is required: %w", shared.ErrValidation)
	ErrInvalidQuantity   = fmt.Errorf("orders: item quantity must be positive: %w", shared.ErrValidation)
	ErrInvalidPrice      = fmt.Errorf("orders: item price cannot be negative: %w", shared.ErrValidation)
	ErrInvalidStatus     = fmt.Errorf("orders: unknown status: %w", shared.ErrValidation)
	ErrInvalidTransition = fmt.Errorf("orders: status transition not allowed: %w", shared.ErrConflict)
	ErrOrderLocked       = fmt.Errorf("orders: order is in a terminal status: %w", shared.ErrConflict)
	ErrReceivedDecrease  = fmt.Errorf("orders: received quantity cannot decrease: %w", shared.ErrValidation)
	ErrQtyExceedsOrdered = fmt.Errorf("orders: received quantity exceeds ordered: %w", shared.ErrConflict)
	ErrNotPending        = fmt.Errorf("orders: only pending orders can be deleted: %w", shared.ErrConflict)
	ErrAlreadyDelivered  = fmt.Errorf("orders: delivery already processed: %w", shared.ErrConflict)
	ErrQuoteNotFound     = fmt.Errorf("orders: quote: %w", shared.ErrNotFound)
	ErrQuoteNotApproved  = fmt.Errorf("orders: referenced quote is not approved: %w", shared.ErrConflict)
)
