package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/suprimo-erp/suprimo-erp/internal/platform/db"
	"github.com/suprimo-erp/suprimo-erp/internal/shared"
)

// Repository persists orders and their items in PostgreSQL.
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
		return errors.New("orders repository not initialised")
	}
	return db.WithTx(ctx, r.pool, fn)
}

const orderColumns = `id, number, supplier_id, quote_id, status, total_value, delivery_date, COALESCE(notes, ''), created_at, updated_at`

// LastNumber returns the highest order number starting with prefix, or
// empty when none exists yet.
func (r *Repository) LastNumber(ctx context.Context, prefix string) (string, error) {
	q := db.From(ctx, r.pool)
	var number string
	err := q.QueryRow(ctx, `SELECT number FROM orders WHERE number LIKE $1 ORDER BY length(number) DESC, number DESC LIMIT 1`, prefix+"%").Scan(&number)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", db.Classify(err)
	}
	return number, nil
}

// InsertOrder writes the order header. A duplicate number means another
// transaction won the sequence race, surfaced as a retryable concurrency
// error.
func (r *Repository) InsertOrder(ctx context.Context, o Order) (Order, error) {
	q := db.From(ctx, r.pool)
	err := q.QueryRow(ctx, `INSERT INTO orders (number, supplier_id, quote_id, status, total_value, delivery_date, notes, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW(),NOW())
RETURNING id, created_at, updated_at`,
		o.Number, o.SupplierID, o.QuoteID, string(o.Status), o.TotalValue, o.DeliveryDate, nullString(o.Notes)).
		Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, "orders_number_key") {
			return Order{}, fmt.Errorf("%w: order number %s taken", shared.ErrConcurrency, o.Number)
		}
		return Order{}, db.Classify(err)
	}
	return o, nil
}

// InsertItems writes the order lines and returns them with ids.
func (r *Repository) InsertItems(ctx context.Context, orderID int64, items []OrderItem) ([]OrderItem, error) {
	q := db.From(ctx, r.pool)
	inserted := make([]OrderItem, 0, len(items))
	for _, item := range items {
		item.OrderID = orderID
		err := q.QueryRow(ctx, `INSERT INTO order_items (order_id, product_id, quantity, unit_price, total_price, received_quantity)
VALUES ($1,$2,$3,$4,$5,0)
RETURNING id`,
			orderID, item.ProductID, item.Quantity, item.UnitPrice, item.TotalPrice).Scan(&item.ID)
		if err != nil {
			return nil, db.Classify(err)
		}
		inserted = append(inserted, item)
	}
	return inserted, nil
}

// GetOrder fetches an order with its items.
func (r *Repository) GetOrder(ctx context.Context, id int64) (Order, error) {
	return r.getOrder(ctx, id, false)
}

// GetOrderForUpdate fetches and row-locks an order with its items. Must
// run inside a transaction.
func (r *Repository) GetOrderForUpdate(ctx context.Context, id int64) (Order, error) {
	return r.getOrder(ctx, id, true)
}

func (r *Repository) getOrder(ctx context.Context, id int64, forUpdate bool) (Order, error) {
	q := db.From(ctx, r.pool)
	sql := `SELECT ` + orderColumns + ` FROM orders WHERE id=$1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	o, err := scanOrder(q.QueryRow(ctx, sql, id))
	if err != nil {
		return Order{}, err
	}
	o.Items, err = r.orderItems(ctx, o.ID)
	return o, err
}

// scanOrder classifies scan errors so a row conflict raised by a FOR
// UPDATE read surfaces as a retryable concurrency failure.
func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.Number, &o.SupplierID, &o.QuoteID, &o.Status, &o.TotalValue, &o.DeliveryDate, &o.Notes, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, db.Classify(err)
	}
	return o, nil
}

func (r *Repository) orderItems(ctx context.Context, orderID int64) ([]OrderItem, error) {
	q := db.From(ctx, r.pool)
	rows, err := q.Query(ctx, `SELECT id, order_id, product_id, quantity, unit_price, total_price, received_quantity
FROM order_items WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	items := []OrderItem{}
	for rows.Next() {
		var item OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.UnitPrice, &item.TotalPrice, &item.ReceivedQuantity); err != nil {
			return nil, db.Classify(err)
		}
		items = append(items, item)
	}
	return items, db.Classify(rows.Err())
}

// UpdateStatus writes the new status.
func (r *Repository) UpdateStatus(ctx context.Context, id int64, status Status) error {
	q := db.From(ctx, r.pool)
	tag, err := q.Exec(ctx, `UPDATE orders SET status=$2, updated_at=NOW() WHERE id=$1`, id, string(status))
	if err != nil {
		return db.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateItemReceived writes the received quantity of one line.
func (r *Repository) UpdateItemReceived(ctx context.Context, itemID, received int64) error {
	q := db.From(ctx, r.pool)
	tag, err := q.Exec(ctx, `UPDATE order_items SET received_quantity=$2 WHERE id=$1`, itemID, received)
	if err != nil {
		return db.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

// DeleteOrder removes the order and its items.
func (r *Repository) DeleteOrder(ctx context.Context, id int64) error {
	q := db.From(ctx, r.pool)
	if _, err := q.Exec(ctx, `DELETE FROM order_items WHERE order_id=$1`, id); err != nil {
		return db.Classify(err)
	}
	tag, err := q.Exec(ctx, `DELETE FROM orders WHERE id=$1`, id)
	if err != nil {
		return db.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListOrders returns orders matching the filter, newest first, items
// included.
func (r *Repository) ListOrders(ctx context.Context, f Filter) ([]Order, error) {
	q := db.From(ctx, r.pool)
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.Query(ctx, `SELECT `+orderColumns+` FROM orders
WHERE ($1 = '' OR status = $1)
AND ($2::bigint = 0 OR supplier_id = $2)
ORDER BY created_at DESC, id DESC
LIMIT $3`, string(f.Status), f.SupplierID, limit)
	if err != nil {
		return nil, db.Classify(err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, err
	}
	return r.attachItems(ctx, orders)
}

// OverdueOrders returns non-terminal orders whose delivery date passed.
func (r *Repository) OverdueOrders(ctx context.Context, asOf time.Time) ([]Order, error) {
	q := db.From(ctx, r.pool)
	rows, err := q.Query(ctx, `SELECT `+orderColumns+` FROM orders
WHERE delivery_date < $1 AND status NOT IN ($2, $3)
ORDER BY delivery_date ASC`, asOf, string(StatusEntregue), string(StatusCancelado))
	if err != nil {
		return nil, db.Classify(err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, err
	}
	return r.attachItems(ctx, orders)
}

func collectOrders(rows pgx.Rows) ([]Order, error) {
	defer rows.Close()
	orders := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, db.Classify(rows.Err())
}

func (r *Repository) attachItems(ctx context.Context, orders []Order) ([]Order, error) {
	for i := range orders {
		items, err := r.orderItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

// Stats aggregates the order book in two round trips.
func (r *Repository) Stats(ctx context.Context) (Stats, error) {
	q := db.From(ctx, r.pool)
	st := Stats{ByStatus: map[string]int64{}}
	rows, err := q.Query(ctx, `SELECT status, COUNT(*) FROM orders GROUP BY status`)
	if err != nil {
		return Stats{}, db.Classify(err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, db.Classify(err)
		}
		st.ByStatus[status] = count
		st.Total += count
	}
	if err := rows.Err(); err != nil {
		return Stats{}, db.Classify(err)
	}
	if err := q.QueryRow(ctx, `SELECT COALESCE(SUM(total_value), 0), COALESCE(AVG(total_value), 0) FROM orders`).
		Scan(&st.TotalValue, &st.AverageValue); err != nil {
		return Stats{}, db.Classify(err)
	}
	return st, nil
}

// GetSupplier fetches the supplier record.
func (r *Repository) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	q := db.From(ctx, r.pool)
	var s Supplier
	err := q.QueryRow(ctx, `SELECT id, name, status FROM suppliers WHERE id=$1`, id).Scan(&s.ID, &s.Name, &s.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Supplier{}, ErrSupplierNotFound
		}
		return Supplier{}, db.Classify(err)
	}
	return s, nil
}

// QuoteStatus returns the status of a quote an order wants to reference.
func (r *Repository) QuoteStatus(ctx context.Context, id int64) (string, error) {
	q := db.From(ctx, r.pool)
	var status string
	err := q.QueryRow(ctx, `SELECT status FROM quotes WHERE id=$1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrQuoteNotFound
	}
	if err != nil {
		return "", db.Classify(err)
	}
	return status, nil
}

// MissingProducts returns the ids with no product row.
func (r *Repository) MissingProducts(ctx context.Context, ids []int64) ([]int64, error) {
	q := db.From(ctx, r.pool)
	rows, err := q.Query(ctx, `SELECT wanted.id
FROM unnest($1::bigint[]) AS wanted(id)
LEFT JOIN products p ON p.id = wanted.id
WHERE p.id IS NULL`, ids)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	missing := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, db.Classify(err)
		}
		missing = append(missing, id)
	}
	return missing, db.Classify(rows.Err())
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
