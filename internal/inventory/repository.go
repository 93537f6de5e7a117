package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/suprimo-erp/suprimo-erp/internal/platform/db"
)

// Repository persists products and the movement ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction,
// joining an ambient one when the context carries it.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, fn)
}

const productColumns = `id, code, name, stock, min_stock, max_stock, price, cost, status`

// scanProduct classifies scan errors so a row conflict raised by a FOR
// UPDATE read surfaces as a retryable concurrency failure.
func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Stock, &p.MinStock, &p.MaxStock, &p.Price, &p.Cost, &p.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, db.Classify(err)
	}
	return p, nil
}

// GetProduct fetches a product by id.
func (r *Repository) GetProduct(ctx context.Context, id int64) (Product, error) {
	q := db.From(ctx, r.pool)
	return scanProduct(q.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id))
}

// GetProductForUpdate fetches and row-locks a product. Must run inside a
// transaction.
func (r *Repository) GetProductForUpdate(ctx context.Context, id int64) (Product, error) {
	q := db.From(ctx, r.pool)
	return scanProduct(q.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1 FOR UPDATE`, id))
}

// UpdateStock writes the new stock level.
func (r *Repository) UpdateStock(ctx context.Context, productID, stock int64) error {
	q := db.From(ctx, r.pool)
	tag, err := q.Exec(ctx, `UPDATE products SET stock=$2, updated_at=NOW() WHERE id=$1`, productID, stock)
	if err != nil {
		return db.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

// InsertMovement appends a ledger row and returns it with id and timestamp.
func (r *Repository) InsertMovement(ctx context.Context, m Movement) (Movement, error) {
	q := db.From(ctx, r.pool)
	err := q.QueryRow(ctx, `INSERT INTO inventory_movements
(product_id, type, quantity, previous_stock, new_stock, reason, reference_id, reference_type, user_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW())
RETURNING id, created_at`,
		m.ProductID, string(m.Type), m.Quantity, m.PreviousStock, m.NewStock, m.Reason,
		nullString(m.ReferenceID), nullString(m.ReferenceType), nullInt(m.UserID)).
		Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return Movement{}, db.Classify(err)
	}
	return m, nil
}

// ListMovements returns ledger rows matching the filter, newest first.
func (r *Repository) ListMovements(ctx context.Context, f MovementFilter) ([]Movement, error) {
	q := db.From(ctx, r.pool)
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.Query(ctx, `SELECT id, product_id, type, quantity, previous_stock, new_stock, reason,
COALESCE(reference_id, ''), COALESCE(reference_type, ''), COALESCE(user_id, 0), created_at
FROM inventory_movements
WHERE ($1::bigint = 0 OR product_id = $1)
AND created_at >= COALESCE($2, '-infinity'::timestamptz)
AND created_at <= COALESCE($3, 'infinity'::timestamptz)
ORDER BY created_at DESC, id DESC
LIMIT $4`, f.ProductID, nullTimeArg(f.From), nullTimeArg(f.To), limit)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Type, &m.Quantity, &m.PreviousStock, &m.NewStock,
			&m.Reason, &m.ReferenceID, &m.ReferenceType, &m.UserID, &m.CreatedAt); err != nil {
			return nil, db.Classify(err)
		}
		movements = append(movements, m)
	}
	return movements, db.Classify(rows.Err())
}

// OutOfStockProducts lists active products with zero stock.
func (r *Repository) OutOfStockProducts(ctx context.Context) ([]Product, error) {
	return r.queryProducts(ctx, `SELECT `+productColumns+` FROM products WHERE status=$1 AND stock = 0 ORDER BY name`, ProductStatusActive)
}

// LowStockProducts lists active products at or below their minimum.
func (r *Repository) LowStockProducts(ctx context.Context) ([]Product, error) {
	return r.queryProducts(ctx, `SELECT `+productColumns+` FROM products WHERE status=$1 AND stock <= min_stock ORDER BY stock, name`, ProductStatusActive)
}

// OverstockProducts lists active products above their maximum, when set.
func (r *Repository) OverstockProducts(ctx context.Context) ([]Product, error) {
	return r.queryProducts(ctx, `SELECT `+productColumns+` FROM products WHERE status=$1 AND max_stock IS NOT NULL AND stock > max_stock ORDER BY name`, ProductStatusActive)
}

func (r *Repository) queryProducts(ctx context.Context, sql string, args ...any) ([]Product, error) {
	q := db.From(ctx, r.pool)
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	products := []Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.Stock, &p.MinStock, &p.MaxStock, &p.Price, &p.Cost, &p.Status); err != nil {
			return nil, db.Classify(err)
		}
		products = append(products, p)
	}
	return products, db.Classify(rows.Err())
}

// Stats aggregates inventory counters in a single round trip.
func (r *Repository) Stats(ctx context.Context) (Stats, error) {
	q := db.From(ctx, r.pool)
	var st Stats
	err := q.QueryRow(ctx, `SELECT
COUNT(*),
COUNT(*) FILTER (WHERE status = $1),
COUNT(*) FILTER (WHERE status = $1 AND stock = 0),
COUNT(*) FILTER (WHERE status = $1 AND stock > 0 AND stock <= min_stock),
COUNT(*) FILTER (WHERE status = $1 AND max_stock IS NOT NULL AND stock > max_stock),
COALESCE(SUM(stock) FILTER (WHERE status = $1), 0),
COALESCE(SUM(stock * cost) FILTER (WHERE status = $1), 0)
FROM products`, ProductStatusActive).
		Scan(&st.TotalProducts, &st.ActiveProducts, &st.OutOfStock, &st.LowStock, &st.Overstock, &st.TotalUnits, &st.TotalValue)
	if err != nil {
		return Stats{}, db.Classify(err)
	}
	return st, nil
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullTimeArg(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
