// Package inventory owns the stock ledger: every change to a product's
// stock is applied and recorded here.
package inventory

import (
	"fmt"
	"time"

	"github.com/suprimo-erp/suprimo-erp/internal/shared"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	// MovementEntrada is an inbound movement, stock increases by the quantity.
	MovementEntrada MovementType = "entrada"
	// MovementSaida is an outbound movement, stock decreases by the quantity.
	MovementSaida MovementType = "saida"
	// MovementAjuste sets the stock to a counted absolute quantity.
	MovementAjuste MovementType = "ajuste"
	// MovementTransferencia is an outbound transfer to another site.
	MovementTransferencia MovementType = "transferencia"
)

// ProductStatusActive marks products that accept movements.
const ProductStatusActive = "ativo"

// Product is the stock-bearing master record. Stock is only ever written
// through ApplyMovement.
type Product struct {
	ID       int64   `json:"id"`
	Code     string  `json:"code"`
	Name     string  `json:"name"`
	Stock    int64   `json:"stock"`
	MinStock int64   `json:"min_stock"`
	MaxStock *int64  `json:"max_stock,omitempty"`
	Price    float64 `json:"price"`
	Cost     float64 `json:"cost"`
	Status   string  `json:"status"`
}

// Movement is one append-only ledger row. Quantity is the signed delta
// applied to the product's stock, so NewStock = PreviousStock + Quantity
// holds for every row.
type Movement struct {
	ID            int64        `json:"id"`
	ProductID     int64        `json:"product_id"`
	Type          MovementType `json:"type"`
	Quantity      int64        `json:"quantity"`
	PreviousStock int64        `json:"previous_stock"`
	NewStock      int64        `json:"new_stock"`
	Reason        string       `json:"reason"`
	ReferenceID   string       `json:"reference_id,omitempty"`
	ReferenceType string       `json:"reference_type,omitempty"`
	UserID        int64        `json:"user_id,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// MovementInput describes a requested stock change. For ajuste the
// Quantity is the counted target stock, not a delta.
type MovementInput struct {
	ProductID     int64
	Type          MovementType
	Quantity      int64
	Reason        string
	ReferenceID   string
	ReferenceType string
	UserID        int64
}

// CountInput is one line of a physical stock count.
type CountInput struct {
	ProductID       int64
	CountedQuantity int64
}

// CountResult reports the outcome of one counted line.
type CountResult struct {
	ProductID     int64 `json:"product_id"`
	PreviousStock int64 `json:"previous_stock"`
	CountedStock  int64 `json:"counted_stock"`
	Difference    int64 `json:"difference"`
	Adjusted      bool  `json:"adjusted"`
}

// MovementFilter narrows ledger queries.
type MovementFilter struct {
	ProductID int64
	From      time.Time
	To        time.Time
	Limit     int
}

// Alert kinds ordered by severity.
const (
	AlertOutOfStock = "sem_estoque"
	AlertLowStock   = "estoque_baixo"
	AlertOverstock  = "excesso_estoque"
)

// Alert flags a product whose stock level needs attention.
type Alert struct {
	Kind    string  `json:"kind"`
	Product Product `json:"product"`
}

// Stats aggregates the current state of the inventory.
type Stats struct {
	TotalProducts       int64   `json:"total_products"`
	ActiveProducts      int64   `json:"active_products"`
	OutOfStock          int64   `json:"out_of_stock"`
	LowStock            int64   `json:"low_stock"`
	Overstock           int64   `json:"overstock"`
	TotalUnits          int64   `json:"total_units"`
	TotalValue          float64 `json:"total_value"`
	TotalValueFormatted string  `json:"total_value_formatted"`
}

// Domain errors. Each wraps a shared kind so the HTTP layer and retry
// helper can classify them without knowing this package.
var (
	ErrProductNotFound   = fmt.Errorf("inventory: product: %w", shared.ErrNotFound)
	ErrProductInactive   = fmt.Errorf("inventory: product is not active: %w", shared.ErrValidation)
	ErrInvalidType       = fmt.Errorf("inventory: unknown movement type: %w", shared.ErrValidation)
	ErrInvalidQuantity   = fmt.Errorf("inventory: quantity must be positive: %w", shared.ErrValidation)
	ErrNegativeTarget    = fmt.Errorf("inventory: counted stock cannot be negative: %w", shared.ErrValidation)
	ErrReasonRequired    = fmt.Errorf("inventory: reason is required: %w", shared.ErrValidation)
	ErrInsufficientStock = fmt.Errorf("inventory: insufficient stock: %w", shared.ErrConflict)
	ErrEmptyCount        = fmt.Errorf("inventory: stock count requires at least one line: %w", shared.ErrValidation)
)

// delta translates the requested movement into the signed quantity to
// apply against the current stock.
func delta(in MovementInput, current int64) (int64, error) {
	switch in.Type {
	case MovementEntrada:
		if in.Quantity <= 0 {
			return 0, ErrInvalidQuantity
		}
		return in.Quantity, nil
	case MovementSaida, MovementTransferencia:
		if in.Quantity <= 0 {
			return 0, ErrInvalidQuantity
		}
		return -in.Quantity, nil
	case MovementAjuste:
		if in.Quantity < 0 {
			return 0, ErrNegativeTarget
		}
		return in.Quantity - current, nil
	default:
		return 0, ErrInvalidType
	}
}
