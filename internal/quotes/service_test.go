package quotes

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/suprimo-erp/suprimo-erp/internal/orders"
	"github.com/suprimo-erp/suprimo-erp/internal/shared"
)

type memRepo struct {
	quotes    map[int64]*Quote
	converted map[int64]int64
	nextID    int64

	insertErrs []error
}

func newMemRepo() *memRepo {
	return &memRepo{
		quotes:    map[int64]*Quote{},
		converted: map[int64]int64{},
	}
}

func (m *memRepo) WithTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func (m *memRepo) LastNumber(_ context.Context, prefix string) (string, error) {
	last := ""
	for _, q := range m.quotes {
		if len(q.Number) < len(prefix) || q.Number[:len(prefix)] != prefix {
			continue
		}
		// Longer numbers carry wider suffixes and always sort higher.
		if len(q.Number) > len(last) || (len(q.Number) == len(last) && q.Number > last) {
			last = q.Number
		}
	}
	return last, nil
}

func (m *memRepo) InsertQuote(_ context.Context, q Quote) (Quote, error) {
	if len(m.insertErrs) > 0 {
		err := m.insertErrs[0]
		m.insertErrs = m.insertErrs[1:]
		return Quote{}, err
	}
	m.nextID++
	q.ID = m.nextID
	q.CreatedAt = time.Now().UTC()
	stored := q
	m.quotes[q.ID] = &stored
	return q, nil
}

func (m *memRepo) InsertItems(_ context.Context, quoteID int64, items []QuoteItem) ([]QuoteItem, error) {
	out := make([]QuoteItem, 0, len(items))
	for i, item := range items {
		item.ID = int64(i + 1)
		item.QuoteID = quoteID
		out = append(out, item)
	}
	m.quotes[quoteID].Items = out
	return out, nil
}

func (m *memRepo) GetQuote(_ context.Context, id int64) (Quote, error) {
	q, ok := m.quotes[id]
	if !ok {
		return Quote{}, ErrNotFound
	}
	return *q, nil
}

func (m *memRepo) GetQuoteForUpdate(ctx context.Context, id int64) (Quote, error) {
	return m.GetQuote(ctx, id)
}

func (m *memRepo) UpdateStatus(_ context.Context, id int64, status Status) error {
	q, ok := m.quotes[id]
	if !ok {
		return ErrNotFound
	}
	q.Status = status
	return nil
}

func (m *memRepo) ListQuotes(_ context.Context, f Filter) ([]Quote, error) {
	out := []Quote{}
	for _, q := range m.quotes {
		if f.Status != "" && q.Status != f.Status {
			continue
		}
		out = append(out, *q)
	}
	return out, nil
}

func (m *memRepo) ExpiringQuotes(_ context.Context, until time.Time) ([]Quote, error) {
	out := []Quote{}
	for _, q := range m.quotes {
		if q.Status.Terminal() || q.ValidUntil == nil {
			continue
		}
		if !q.ValidUntil.After(until) {
			out = append(out, *q)
		}
	}
	return out, nil
}

func (m *memRepo) ConvertedOrderID(_ context.Context, quoteID int64) (int64, bool, error) {
	orderID, ok := m.converted[quoteID]
	return orderID, ok, nil
}

func (m *memRepo) GetSupplier(_ context.Context, id int64) (orders.Supplier, error) {
	switch id {
	case 1:
		return orders.Supplier{ID: 1, Name: "Fornecedor Ativo", Status: orders.SupplierStatusActive}, nil
	case 2:
		return orders.Supplier{ID: 2, Name: "Fornecedor Inativo", Status: "inativo"}, nil
	}
	return orders.Supplier{}, ErrSupplierNotFound
}

func (m *memRepo) MissingProducts(_ context.Context, ids []int64) ([]int64, error) {
	missing := []int64{}
	for _, id := range ids {
		if id != 10 && id != 11 {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

type fakeOrders struct {
	repo    *memRepo
	created []orders.CreateInput
	nextID  int64
	failErr error
}

func (f *fakeOrders) Create(_ context.Context, in orders.CreateInput) (orders.Order, error) {
	if f.failErr != nil {
		return orders.Order{}, f.failErr
	}
	f.created = append(f.created, in)
	f.nextID++
	o := orders.Order{
		ID:         f.nextID,
		Number:     fmt.Sprintf("%s%d%04d", orders.NumberPrefix, time.Now().UTC().Year(), f.nextID),
		SupplierID: in.SupplierID,
		QuoteID:    in.QuoteID,
		Status:     orders.StatusPendente,
		Notes:      in.Notes,
	}
	if in.QuoteID != nil && f.repo != nil {
		f.repo.converted[*in.QuoteID] = o.ID
	}
	return o, nil
}

func newTestService(t *testing.T) (*Service, *memRepo, *fakeOrders) {
	t.Helper()
	repo := newMemRepo()
	creator := &fakeOrders{repo: repo}
	return NewService(repo, creator, nil, nil), repo, creator
}

func validCreate() CreateInput {
	return CreateInput{
		SupplierID:   1,
		DeliveryDate: time.Now().UTC().AddDate(0, 0, 30),
		Items: []ItemInput{
			{ProductID: 10, Quantity: 4, UnitPrice: 25},
			{ProductID: 11, Quantity: 2, UnitPrice: 50},
		},
	}
}

func TestCreateQuoteNumberingAndTotal(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	year := time.Now().UTC().Year()

	first, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)
	require.Equal(t, fmt.Sprintf("COT%d0001", year), first.Number)
	require.Equal(t, StatusPendente, first.Status)
	require.InDelta(t, 200.0, first.TotalValue, 0.001)
	require.Len(t, first.Items, 2)

	second, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)
	require.Equal(t, fmt.Sprintf("COT%d0002", year), second.Number)
}

func TestCreateQuoteValidations(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	in := validCreate()
	in.Items = nil
	_, err := svc.Create(ctx, in)
	require.ErrorIs(t, err, ErrEmptyItems)

	in = validCreate()
	in.Items[0].Quantity = 0
	_, err = svc.Create(ctx, in)
	require.ErrorIs(t, err, ErrInvalidQuantity)

	in = validCreate()
	in.Items[0].UnitPrice = -1
	_, err = svc.Create(ctx, in)
	require.ErrorIs(t, err, ErrInvalidPrice)

	in = validCreate()
	in.SupplierID = 2
	_, err = svc.Create(ctx, in)
	require.ErrorIs(t, err, ErrSupplierInactive)

	in = validCreate()
	in.SupplierID = 99
	_, err = svc.Create(ctx, in)
	require.ErrorIs(t, err, ErrSupplierNotFound)

	in = validCreate()
	in.Items[0].ProductID = 999
	_, err = svc.Create(ctx, in)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCreateQuoteNumberingPastFourDigits(t *testing.T) {
	svc, repo, _ := newTestService(t)
	year := time.Now().UTC().Year()
	repo.quotes[900] = &Quote{ID: 900, Number: fmt.Sprintf("COT%d9999", year), Status: StatusPendente}
	repo.quotes[901] = &Quote{ID: 901, Number: fmt.Sprintf("COT%d10000", year), Status: StatusPendente}

	quote, err := svc.Create(context.Background(), validCreate())
	require.NoError(t, err)
	require.Equal(t, fmt.Sprintf("COT%d10001", year), quote.Number)
}

func TestCreateQuoteRetriesNumberRace(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	repo.insertErrs = []error{fmt.Errorf("number taken: %w", shared.ErrConcurrency)}
	quote, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)
	require.NotZero(t, quote.ID)
}

func advance(t *testing.T, svc *Service, id int64, chain ...Status) Quote {
	t.Helper()
	var q Quote
	var err error
	for _, status := range chain {
		q, err = svc.UpdateStatus(context.Background(), id, status, 0)
		require.NoError(t, err)
	}
	return q
}

func TestQuoteWorkflowForwardOnly(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	q, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)

	q = advance(t, svc, q.ID, StatusEnviada, StatusRecebida, StatusAprovada)
	require.Equal(t, StatusAprovada, q.Status)

	// Settled quotes reject further status changes.
	_, err = svc.UpdateStatus(ctx, q.ID, StatusRejeitada, 0)
	require.ErrorIs(t, err, ErrQuoteLocked)
}

func TestQuoteBackwardTransitionRejected(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	q, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)
	advance(t, svc, q.ID, StatusEnviada, StatusRecebida)

	_, err = svc.UpdateStatus(ctx, q.ID, StatusEnviada, 0)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = svc.UpdateStatus(ctx, q.ID, Status("qualquer"), 0)
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestQuoteCancelFromAnyOpenStatus(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	for _, chain := range [][]Status{
		nil,
		{StatusEnviada},
		{StatusEnviada, StatusRecebida},
	} {
		q, err := svc.Create(ctx, validCreate())
		require.NoError(t, err)
		if len(chain) > 0 {
			advance(t, svc, q.ID, chain...)
		}
		cancelled, err := svc.UpdateStatus(ctx, q.ID, StatusCancelada, 0)
		require.NoError(t, err)
		require.Equal(t, StatusCancelada, cancelled.Status)
	}
}

func TestConvertRequiresApproval(t *testing.T) {
	svc, _, creator := newTestService(t)
	ctx := context.Background()

	q, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)

	_, err = svc.ConvertToOrder(ctx, q.ID, 0)
	require.ErrorIs(t, err, ErrNotApproved)
	require.Empty(t, creator.created)
}

func TestConvertCopiesItemsAsQuoted(t *testing.T) {
	svc, _, creator := newTestService(t)
	ctx := context.Background()

	q, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)
	advance(t, svc, q.ID, StatusEnviada, StatusRecebida, StatusAprovada)

	order, err := svc.ConvertToOrder(ctx, q.ID, 7)
	require.NoError(t, err)
	require.Equal(t, orders.StatusPendente, order.Status)
	require.NotNil(t, order.QuoteID)
	require.Equal(t, q.ID, *order.QuoteID)
	require.Contains(t, order.Notes, q.Number)

	require.Len(t, creator.created, 1)
	in := creator.created[0]
	require.Equal(t, q.SupplierID, in.SupplierID)
	require.Len(t, in.Items, 2)
	require.Equal(t, int64(10), in.Items[0].ProductID)
	require.Equal(t, int64(4), in.Items[0].Quantity)
	require.InDelta(t, 25.0, in.Items[0].UnitPrice, 0.001)
	require.Equal(t, int64(11), in.Items[1].ProductID)
}

func TestConvertTwiceRejected(t *testing.T) {
	svc, _, creator := newTestService(t)
	ctx := context.Background()

	q, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)
	advance(t, svc, q.ID, StatusEnviada, StatusRecebida, StatusAprovada)

	_, err = svc.ConvertToOrder(ctx, q.ID, 0)
	require.NoError(t, err)

	_, err = svc.ConvertToOrder(ctx, q.ID, 0)
	require.ErrorIs(t, err, ErrAlreadyConverted)
	require.Len(t, creator.created, 1)
}

func TestConvertFailedOrderLeavesQuoteConvertible(t *testing.T) {
	svc, repo, creator := newTestService(t)
	ctx := context.Background()

	q, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)
	advance(t, svc, q.ID, StatusEnviada, StatusRecebida, StatusAprovada)

	creator.failErr = fmt.Errorf("orders: %w", shared.ErrValidation)
	_, err = svc.ConvertToOrder(ctx, q.ID, 0)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, repo.converted)

	creator.failErr = nil
	_, err = svc.ConvertToOrder(ctx, q.ID, 0)
	require.NoError(t, err)
}

func TestExpiringWindow(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	soon := time.Now().UTC().AddDate(0, 0, 3)
	far := time.Now().UTC().AddDate(0, 0, 60)

	in := validCreate()
	in.ValidUntil = &soon
	expiring, err := svc.Create(ctx, in)
	require.NoError(t, err)

	in = validCreate()
	in.ValidUntil = &far
	_, err = svc.Create(ctx, in)
	require.NoError(t, err)

	in = validCreate()
	in.ValidUntil = &soon
	cancelled, err := svc.Create(ctx, in)
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, cancelled.ID, StatusCancelada, 0)
	require.NoError(t, err)

	got, err := svc.Expiring(ctx, 7)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, expiring.ID, got[0].ID)
	require.NotEmpty(t, repo.quotes)
}
