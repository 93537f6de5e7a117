// Package quotes owns supplier quotes and their conversion into orders.
package quotes

import (
	"fmt"
	"time"

	"github.com/suprimo-erp/suprimo-erp/internal/shared"
)

// Status enumerates the quote workflow.
type Status string

const (
	StatusPendente  Status = "pendente"
	StatusEnviada   Status = "enviada"
	StatusRecebida  Status = "recebida"
	StatusAprovada  Status = "aprovada"
	StatusRejeitada Status = "rejeitada"
	StatusCancelada Status = "cancelada"
)

// NumberPrefix heads every quote number (COT20250001).
const NumberPrefix = "COT"

var statusRank = map[Status]int{
	StatusPendente:  1,
	StatusEnviada:   2,
	StatusRecebida:  3,
	StatusAprovada:  4,
	StatusRejeitada: 4,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	if s == StatusCancelada {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// Terminal reports whether the quote no longer accepts changes.
// Approved quotes stay convertible but their status is settled.
func (s Status) Terminal() bool {
	return s == StatusAprovada || s == StatusRejeitada || s == StatusCancelada
}

// CanTransition reports whether a quote may move between statuses.
// Like orders, forward skips along the workflow are allowed.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusCancelada {
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

// Quote is a supplier quote with its line items.
type Quote struct {
	ID           int64       `json:"id"`
	Number       string      `json:"number"`
	SupplierID   int64       `json:"supplier_id"`
	Status       Status      `json:"status"`
	TotalValue   float64     `json:"total_value"`
	DeliveryDate time.Time   `json:"delivery_date"`
	ValidUntil   *time.Time  `json:"valid_until,omitempty"`
	Notes        string      `json:"notes,omitempty"`
	Items        []QuoteItem `json:"items"`
	CreatedAt    time.Time   `json:"created_at"`
}

// QuoteItem is one product line of a quote.
type QuoteItem struct {
	ID         int64   `json:"id"`
	QuoteID    int64   `json:"quote_id"`
	ProductID  int64   `json:"product_id"`
	Quantity   int64   `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	TotalPrice float64 `json:"total_price"`
}

// ItemInput is one requested quote line.
type ItemInput struct {
	ProductID int64
	Quantity  int64
	UnitPrice float64
}

// CreateInput describes a new quote.
type CreateInput struct {
	SupplierID   int64
	DeliveryDate time.Time
	ValidUntil   *time.Time
	Notes        string
	UserID       int64
	Items        []ItemInput
}

// Filter narrows quote listings.
type Filter struct {
	Status     Status
	SupplierID int64
	Limit      int
}

// Domain errors wrapping the shared kinds.
var (
	ErrNotFound          = fmt.Errorf("quotes: quote: %w", shared.ErrNotFound)
	ErrSupplierNotFound  = fmt.Errorf("quotes: supplier: %w", shared.ErrNotFound)
	ErrSupplierInactive  = fmt.Errorf("quotes: supplier is not active: %w", shared.ErrValidation)
	ErrEmptyItems        = fmt.Errorf("quotes: at least one item is required: %w", shared.ErrValidation)
	ErrInvalidQuantity   = fmt.Errorf("quotes: item quantity must be positive: %w", shared.ErrValidation)
	ErrInvalidPrice      = fmt.Errorf("quotes: item price cannot be negative: %w", shared.ErrValidation)
	ErrInvalidStatus     = fmt.Errorf("quotes: unknown status: %w", shared.ErrValidation)
	ErrInvalidTransition = fmt.Errorf("quotes: status transition not allowed: %w", shared.ErrConflict)
	ErrQuoteLocked       = fmt.Errorf("quotes: quote is in a terminal status: %w", shared.ErrConflict)
	ErrNotApproved       = fmt.Errorf("quotes: only approved quotes can be converted: %w", shared.ErrConflict)
	ErrAlreadyConverted  = fmt.Errorf("quotes: quote already converted: %w", shared.ErrConflict)
)
