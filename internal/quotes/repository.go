package quotes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/suprimo-erp/suprimo-erp/internal/orders"
	"github.com/suprimo-erp/suprimo-erp/internal/platform/db"
	"github.com/suprimo-erp/suprimo-erp/internal/shared"
)

// Repository persists quotes and their items in PostgreSQL.
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
		return errors.New("quotes repository not initialised")
	}
	return db.WithTx(ctx, r.pool, fn)
}

const quoteColumns = `id, number, supplier_id, status, total_value, delivery_date, valid_until, COALESCE(notes, ''), created_at`

// LastNumber returns the highest quote number starting with prefix, or
// empty when none exists yet.
func (r *Repository) LastNumber(ctx context.Context, prefix string) (string, error) {
	q := db.From(ctx, r.pool)
	var number string
	err := q.QueryRow(ctx, `SELECT number FROM quotes WHERE number LIKE $1 ORDER BY length(number) DESC, number DESC LIMIT 1`, prefix+"%").Scan(&number)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", db.Classify(err)
	}
	return number, nil
}

// InsertQuote writes the quote header. A duplicate number is surfaced as
// a retryable concurrency error.
func (r *Repository) InsertQuote(ctx context.Context, quote Quote) (Quote, error) {
	q := db.From(ctx, r.pool)
	err := q.QueryRow(ctx, `INSERT INTO quotes (number, supplier_id, status, total_value, delivery_date, valid_until, notes, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())
RETURNING id, created_at`,
		quote.Number, quote.SupplierID, string(quote.Status), quote.TotalValue, quote.DeliveryDate, quote.ValidUntil, nullString(quote.Notes)).
		Scan(&quote.ID, &quote.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, "quotes_number_key") {
			return Quote{}, fmt.Errorf("%w: quote number %s taken", shared.ErrConcurrency, quote.Number)
		}
		return Quote{}, db.Classify(err)
	}
	return quote, nil
}

// InsertItems writes the quote lines and returns them with ids.
func (r *Repository) InsertItems(ctx context.Context, quoteID int64, items []QuoteItem) ([]QuoteItem, error) {
	q := db.From(ctx, r.pool)
	inserted := make([]QuoteItem, 0, len(items))
	for _, item := range items {
		item.QuoteID = quoteID
		err := q.QueryRow(ctx, `INSERT INTO quote_items (quote_id, product_id, quantity, unit_price, total_price)
VALUES ($1,$2,$3,$4,$5)
RETURNING id`,
			quoteID, item.ProductID, item.Quantity, item.UnitPrice, item.TotalPrice).Scan(&item.ID)
		if err != nil {
			return nil, db.Classify(err)
		}
		inserted = append(inserted, item)
	}
	return inserted, nil
}

// GetQuote fetches a quote with its items.
func (r *Repository) GetQuote(ctx context.Context, id int64) (Quote, error) {
	return r.getQuote(ctx, id, false)
}

// GetQuoteForUpdate fetches and row-locks a quote with its items. Must
// run inside a transaction.
func (r *Repository) GetQuoteForUpdate(ctx context.Context, id int64) (Quote, error) {
	return r.getQuote(ctx, id, true)
}

func (r *Repository) getQuote(ctx context.Context, id int64, forUpdate bool) (Quote, error) {
	q := db.From(ctx, r.pool)
	sql := `SELECT ` + quoteColumns + ` FROM quotes WHERE id=$1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	quote, err := scanQuote(q.QueryRow(ctx, sql, id))
	if err != nil {
		return Quote{}, err
	}
	quote.Items, err = r.quoteItems(ctx, quote.ID)
	return quote, err
}

// scanQuote classifies scan errors so a row conflict raised by a FOR
// UPDATE read surfaces as a retryable concurrency failure.
func scanQuote(row pgx.Row) (Quote, error) {
	var quote Quote
	err := row.Scan(&quote.ID, &quote.Number, &quote.SupplierID, &quote.Status, &quote.TotalValue, &quote.DeliveryDate, &quote.ValidUntil, &quote.Notes, &quote.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quote{}, ErrNotFound
		}
		return Quote{}, db.Classify(err)
	}
	return quote, nil
}

func (r *Repository) quoteItems(ctx context.Context, quoteID int64) ([]QuoteItem, error) {
	q := db.From(ctx, r.pool)
	rows, err := q.Query(ctx, `SELECT id, quote_id, product_id, quantity, unit_price, total_price
FROM quote_items WHERE quote_id=$1 ORDER BY id`, quoteID)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	items := []QuoteItem{}
	for rows.Next() {
		var item QuoteItem
		if err := rows.Scan(&item.ID, &item.QuoteID, &item.ProductID, &item.Quantity, &item.UnitPrice, &item.TotalPrice); err != nil {
			return nil, db.Classify(err)
		}
		items = append(items, item)
	}
	return items, db.Classify(rows.Err())
}

// UpdateStatus writes the new status.
func (r *Repository) UpdateStatus(ctx context.Context, id int64, status Status) error {
	q := db.From(ctx, r.pool)
	tag, err := q.Exec(ctx, `UPDATE quotes SET status=$2 WHERE id=$1`, id, string(status))
	if err != nil {
		return db.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListQuotes returns quotes matching the filter, newest first, items
// included.
func (r *Repository) ListQuotes(ctx context.Context, f Filter) ([]Quote, error) {
	q := db.From(ctx, r.pool)
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.Query(ctx, `SELECT `+quoteColumns+` FROM quotes
WHERE ($1 = '' OR status = $1)
AND ($2::bigint = 0 OR supplier_id = $2)
ORDER BY created_at DESC, id DESC
LIMIT $3`, string(f.Status), f.SupplierID, limit)
	if err != nil {
		return nil, db.Classify(err)
	}
	quotes, err := collectQuotes(rows)
	if err != nil {
		return nil, err
	}
	return r.attachItems(ctx, quotes)
}

// ExpiringQuotes returns open quotes whose valid_until falls before the
// cutoff.
func (r *Repository) ExpiringQuotes(ctx context.Context, until time.Time) ([]Quote, error) {
	q := db.From(ctx, r.pool)
	rows, err := q.Query(ctx, `SELECT `+quoteColumns+` FROM quotes
WHERE valid_until IS NOT NULL AND valid_until <= $1 AND status NOT IN ($2, $3, $4)
ORDER BY valid_until ASC`, until, string(StatusAprovada), string(StatusRejeitada), string(StatusCancelada))
	if err != nil {
		return nil, db.Classify(err)
	}
	quotes, err := collectQuotes(rows)
	if err != nil {
		return nil, err
	}
	return r.attachItems(ctx, quotes)
}

func collectQuotes(rows pgx.Rows) ([]Quote, error) {
	defer rows.Close()
	quotes := []Quote{}
	for rows.Next() {
		quote, err := scanQuote(rows)
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, quote)
	}
	return quotes, db.Classify(rows.Err())
}

func (r *Repository) attachItems(ctx context.Context, quotes []Quote) ([]Quote, error) {
	for i := range quotes {
		items, err := r.quoteItems(ctx, quotes[i].ID)
		if err != nil {
			return nil, err
		}
		quotes[i].Items = items
	}
	return quotes, nil
}

// ConvertedOrderID reports the order already created from this quote.
func (r *Repository) ConvertedOrderID(ctx context.Context, quoteID int64) (int64, bool, error) {
	q := db.From(ctx, r.pool)
	var orderID int64
	err := q.QueryRow(ctx, `SELECT id FROM orders WHERE quote_id=$1 LIMIT 1`, quoteID).Scan(&orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, db.Classify(err)
	}
	return orderID, true, nil
}

// GetSupplier fetches the supplier record.
func (r *Repository) GetSupplier(ctx context.Context, id int64) (orders.Supplier, error) {
	q := db.From(ctx, r.pool)
	var s orders.Supplier
	err := q.QueryRow(ctx, `SELECT id, name, status FROM suppliers WHERE id=$1`, id).Scan(&s.ID, &s.Name, &s.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return orders.Supplier{}, ErrSupplierNotFound
		}
		return orders.Supplier{}, db.Classify(err)
	}
	return s, nil
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
