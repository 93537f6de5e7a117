package orders

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/suprimo-erp/suprimo-erp/internal/inventory"
	"github.com/suprimo-erp/suprimo-erp/internal/shared"
)

type memRepo struct {
	orders          map[int64]*Order
	suppliers       map[int64]Supplier
	products        map[int64]bool
	quoteStatuses   map[int64]string
	nextOrderID     int64
	nextItemID      int64
	insertOrderErrs []error
	forUpdateErrs   []error
	commitErrs      []error
}

func newMemRepo() *memRepo {
	return &memRepo{
		orders:        map[int64]*Order{},
		suppliers:     map[int64]Supplier{1: {ID: 1, Name: "Fornecedor A", Status: SupplierStatusActive}},
		products:      map[int64]bool{10: true, 11: true},
		quoteStatuses: map[int64]string{},
	}
}

type memSnapshot struct {
	orders      map[int64]*Order
	nextOrderID int64
	nextItemID  int64
}

func (r *memRepo) snapshot() memSnapshot {
	orders := make(map[int64]*Order, len(r.orders))
	for id, o := range r.orders {
		copied := *o
		copied.Items = append([]OrderItem(nil), o.Items...)
		orders[id] = &copied
	}
	return memSnapshot{orders: orders, nextOrderID: r.nextOrderID, nextItemID: r.nextItemID}
}

// WithTx rolls state back on failure the way the real transaction does,
// including a failure injected at commit time via commitErrs.
func (r *memRepo) WithTx(ctx context.Context, fn func(context.Context) error) error {
	before := r.snapshot()
	err := fn(ctx)
	if err == nil && len(r.commitErrs) > 0 {
		err = r.commitErrs[0]
		r.commitErrs = r.commitErrs[1:]
	}
	if err != nil {
		r.orders = before.orders
		r.nextOrderID = before.nextOrderID
		r.nextItemID = before.nextItemID
	}
	return err
}

func (r *memRepo) LastNumber(ctx context.Context, prefix string) (string, error) {
	last := ""
	for _, o := range r.orders {
		if !strings.HasPrefix(o.Number, prefix) {
			continue
		}
		// Longer numbers carry wider suffixes and always sort higher.
		if len(o.Number) > len(last) || (len(o.Number) == len(last) && o.Number > last) {
			last = o.Number
		}
	}
	return last, nil
}

func (r *memRepo) InsertOrder(ctx context.Context, o Order) (Order, error) {
	if len(r.insertOrderErrs) > 0 {
		err := r.insertOrderErrs[0]
		r.insertOrderErrs = r.insertOrderErrs[1:]
		if err != nil {
			return Order{}, err
		}
	}
	r.nextOrderID++
	o.ID = r.nextOrderID
	o.CreatedAt = time.Now().UTC()
	o.UpdatedAt = o.CreatedAt
	stored := o
	r.orders[o.ID] = &stored
	return o, nil
}

func (r *memRepo) InsertItems(ctx context.Context, orderID int64, items []OrderItem) ([]OrderItem, error) {
	o := r.orders[orderID]
	inserted := make([]OrderItem, 0, len(items))
	for _, item := range items {
		r.nextItemID++
		item.ID = r.nextItemID
		item.OrderID = orderID
		o.Items = append(o.Items, item)
		inserted = append(inserted, item)
	}
	return inserted, nil
}

func (r *memRepo) GetOrder(ctx context.Context, id int64) (Order, error) {
	o, ok := r.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	copied := *o
	copied.Items = append([]OrderItem(nil), o.Items...)
	return copied, nil
}

func (r *memRepo) GetOrderForUpdate(ctx context.Context, id int64) (Order, error) {
	if len(r.forUpdateErrs) > 0 {
		err := r.forUpdateErrs[0]
		r.forUpdateErrs = r.forUpdateErrs[1:]
		if err != nil {
			return Order{}, err
		}
	}
	return r.GetOrder(ctx, id)
}

func (r *memRepo) UpdateStatus(ctx context.Context, id int64, status Status) error {
	o, ok := r.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = status
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memRepo) UpdateItemReceived(ctx context.Context, itemID, received int64) error {
	for _, o := range r.orders {
		for i := range o.Items {
			if o.Items[i].ID == itemID {
				o.Items[i].ReceivedQuantity = received
				return nil
			}
		}
	}
	return ErrItemNotFound
}

func (r *memRepo) DeleteOrder(ctx context.Context, id int64) error {
	if _, ok := r.orders[id]; !ok {
		return ErrNotFound
	}
	delete(r.orders, id)
	return nil
}

func (r *memRepo) ListOrders(ctx context.Context, f Filter) ([]Order, error) {
	result := []Order{}
	for _, o := range r.orders {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.SupplierID != 0 && o.SupplierID != f.SupplierID {
			continue
		}
		result = append(result, *o)
	}
	return result, nil
}

func (r *memRepo) OverdueOrders(ctx context.Context, asOf time.Time) ([]Order, error) {
	result := []Order{}
	for _, o := range r.orders {
		if o.DeliveryDate.Before(asOf) && !o.Status.Terminal() {
			result = append(result, *o)
		}
	}
	return result, nil
}

func (r *memRepo) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ByStatus: map[string]int64{}}
	for _, o := range r.orders {
		st.Total++
		st.ByStatus[string(o.Status)]++
		st.TotalValue += o.TotalValue
	}
	if st.Total > 0 {
		st.AverageValue = st.TotalValue / float64(st.Total)
	}
	return st, nil
}

func (r *memRepo) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	s, ok := r.suppliers[id]
	if !ok {
		return Supplier{}, ErrSupplierNotFound
	}
	return s, nil
}

func (r *memRepo) QuoteStatus(ctx context.Context, id int64) (string, error) {
	status, ok := r.quoteStatuses[id]
	if !ok {
		return "", ErrQuoteNotFound
	}
	return status, nil
}

func (r *memRepo) MissingProducts(ctx context.Context, ids []int64) ([]int64, error) {
	missing := []int64{}
	for _, id := range ids {
		if !r.products[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

type fakeIdempotency struct {
	keys    map[string]bool
	deleted []string
}

func newFakeIdempotency() *fakeIdempotency {
	return &fakeIdempotency{keys: map[string]bool{}}
}

func (f *fakeIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if f.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	f.keys[key] = true
	return nil
}

func (f *fakeIdempotency) Delete(ctx context.Context, key string) error {
	delete(f.keys, key)
	f.deleted = append(f.deleted, key)
	return nil
}

type fakeStock struct {
	movements []inventory.MovementInput
	failNext  error
}

func (s *fakeStock) ApplyMovement(ctx context.Context, in inventory.MovementInput) (inventory.Movement, error) {
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return inventory.Movement{}, err
	}
	s.movements = append(s.movements, in)
	return inventory.Movement{ProductID: in.ProductID, Type: in.Type, Quantity: in.Quantity}, nil
}

func newTestService() (*Service, *memRepo, *fakeStock) {
	repo := newMemRepo()
	stock := &fakeStock{}
	return NewService(repo, stock, nil, nil, nil), repo, stock
}

func createInput() CreateInput {
	return CreateInput{
		SupplierID:   1,
		DeliveryDate: time.Now().AddDate(0, 0, 14),
		Items: []ItemInput{
			{ProductID: 10, Quantity: 5, UnitPrice: 20},
			{ProductID: 11, Quantity: 2, UnitPrice: 50},
		},
	}
}

func TestCreateOrderNumberingAndTotal(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	year := time.Now().UTC().Year()

	first, err := svc.Create(ctx, createInput())
	require.NoError(t, err)
	require.Equal(t, fmt.Sprintf("PED%d0001", year), first.Number)
	require.Equal(t, StatusPendente, first.Status)
	require.InDelta(t, 200.0, first.TotalValue, 0.001)
	require.Len(t, first.Items, 2)

	second, err := svc.Create(ctx, createInput())
	require.NoError(t, err)
	require.Equal(t, fmt.Sprintf("PED%d0002", year), second.Number)
}

func TestCreateValidations(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{SupplierID: 1})
	require.ErrorIs(t, err, ErrEmptyItems)

	in := createInput()
	in.Items[0].Quantity = 0
	_, err = svc.Create(ctx, in)
	require.ErrorIs(t, err, ErrInvalidQuantity)

	in = createInput()
	in.Items[0].UnitPrice = -1
	_, err = svc.Create(ctx, in)
	require.ErrorIs(t, err, ErrInvalidPrice)

	in = createInput()
	in.SupplierID = 99
	_, err = svc.Create(ctx, in)
	require.ErrorIs(t, err, ErrSupplierNotFound)

	repo.suppliers[2] = Supplier{ID: 2, Name: "Inativo", Status: "inativo"}
	in = createInput()
	in.SupplierID = 2
	_, err = svc.Create(ctx, in)
	require.ErrorIs(t, err, ErrSupplierInactive)

	in = createInput()
	in.Items[0].ProductID = 999
	_, err = svc.Create(ctx, in)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCreateRetriesNumberRace(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.insertOrderErrs = []error{fmt.Errorf("%w: order number taken", shared.ErrConcurrency)}

	order, err := svc.Create(context.Background(), createInput())
	require.NoError(t, err)
	require.NotEmpty(t, order.Number)
}

func TestExplicitDeliveryCreditsEveryLine(t *testing.T) {
	svc, repo, stock := newTestService()
	ctx := context.Background()

	order, err := svc.Create(ctx, createInput())
	require.NoError(t, err)

	delivered, err := svc.UpdateStatus(ctx, order.ID, StatusEntregue, 7)
	require.NoError(t, err)
	require.Equal(t, StatusEntregue, delivered.Status)
	for _, item := range delivered.Items {
		require.Equal(t, item.Quantity, item.ReceivedQuantity)
	}

	require.Len(t, stock.movements, 2)
	for i, mv := range stock.movements {
		require.Equal(t, inventory.MovementEntrada, mv.Type)
		require.Equal(t, order.Items[i].ProductID, mv.ProductID)
		require.Equal(t, order.Items[i].Quantity, mv.Quantity)
		require.Equal(t, fmt.Sprintf("Recebimento do pedido %s", order.Number), mv.Reason)
		require.Equal(t, "order", mv.ReferenceType)
	}

	stored, _ := repo.GetOrder(ctx, order.ID)
	require.Equal(t, StatusEntregue, stored.Status)
}

func TestReceiptDrivenDeliveryMatchesExplicit(t *testing.T) {
	explicitSvc, _, explicitStock := newTestService()
	receiptSvc, _, receiptStock := newTestService()
	ctx := context.Background()

	explicitOrder, err := explicitSvc.Create(ctx, createInput())
	require.NoError(t, err)
	_, err = explicitSvc.UpdateStatus(ctx, explicitOrder.ID, StatusEntregue, 0)
	require.NoError(t, err)

	receiptOrder, err := receiptSvc.Create(ctx, createInput())
	require.NoError(t, err)
	// Partial receipt first, then complete both lines.
	_, err = receiptSvc.UpdateItemReceived(ctx, receiptOrder.ID, 10, 3, 0)
	require.NoError(t, err)
	_, err = receiptSvc.UpdateItemReceived(ctx, receiptOrder.ID, 10, 5, 0)
	require.NoError(t, err)
	final, err := receiptSvc.UpdateItemReceived(ctx, receiptOrder.ID, 11, 2, 0)
	require.NoError(t, err)
	require.Equal(t, StatusEntregue, final.Status)

	// Both triggers funnel through the same delivery and produce the
	// same movement set.
	require.Equal(t, len(explicitStock.movements), len(receiptStock.movements))
	for i := range explicitStock.movements {
		require.Equal(t, explicitStock.movements[i].ProductID, receiptStock.movements[i].ProductID)
		require.Equal(t, explicitStock.movements[i].Quantity, receiptStock.movements[i].Quantity)
		require.Equal(t, explicitStock.movements[i].Type, receiptStock.movements[i].Type)
	}
}

func TestDeliveredOrderRejectsFurtherChanges(t *testing.T) {
	svc, _, stock := newTestService()
	ctx := context.Background()

	order, err := svc.Create(ctx, createInput())
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, order.ID, StatusEntregue, 0)
	require.NoError(t, err)
	credited := len(stock.movements)

	_, err = svc.UpdateStatus(ctx, order.ID, StatusEntregue, 0)
	require.ErrorIs(t, err, ErrOrderLocked)

	_, err = svc.UpdateItemReceived(ctx, order.ID, 10, 5, 0)
	require.ErrorIs(t, err, ErrOrderLocked)

	require.Len(t, stock.movements, credited, "no additional stock credits after delivery")
}

func TestReceivedQuantityBounds(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	order, err := svc.Create(ctx, createInput())
	require.NoError(t, err)

	_, err = svc.UpdateItemReceived(ctx, order.ID, 10, 6, 0)
	require.ErrorIs(t, err, ErrQtyExceedsOrdered)
	require.ErrorIs(t, err, shared.ErrConflict)

	_, err = svc.UpdateItemReceived(ctx, order.ID, 10, 3, 0)
	require.NoError(t, err)
	_, err = svc.UpdateItemReceived(ctx, order.ID, 10, 2, 0)
	require.ErrorIs(t, err, ErrReceivedDecrease)

	_, err = svc.UpdateItemReceived(ctx, order.ID, 99, 1, 0)
	require.ErrorIs(t, err, ErrItemNotFound)
}

func TestInvalidTransitionsRejected(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	order, err := svc.Create(ctx, createInput())
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, order.ID, "despachado", 0)
	require.ErrorIs(t, err, ErrInvalidStatus)

	_, err = svc.UpdateStatus(ctx, order.ID, StatusEnviado, 0)
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, order.ID, StatusConfirmado, 0)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancelledOrderDoesNotMoveStock(t *testing.T) {
	svc, _, stock := newTestService()
	ctx := context.Background()

	order, err := svc.Create(ctx, createInput())
	require.NoError(t, err)
	cancelled, err := svc.UpdateStatus(ctx, order.ID, StatusCancelado, 0)
	require.NoError(t, err)
	require.Equal(t, StatusCancelado, cancelled.Status)
	require.Empty(t, stock.movements)
}

func TestDeleteOnlyPending(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	order, err := svc.Create(ctx, createInput())
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, order.ID, StatusConfirmado, 0)
	require.NoError(t, err)

	err = svc.Delete(ctx, order.ID, 0)
	require.ErrorIs(t, err, ErrNotPending)

	pending, err := svc.Create(ctx, createInput())
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, pending.ID, 0))
	_, ok := repo.orders[pending.ID]
	require.False(t, ok)
}

func TestFailedStockCreditAbortsDelivery(t *testing.T) {
	svc, repo, stock := newTestService()
	ctx := context.Background()

	order, err := svc.Create(ctx, createInput())
	require.NoError(t, err)
	stock.failNext = fmt.Errorf("%w: product gone", shared.ErrNotFound)

	_, err = svc.UpdateStatus(ctx, order.ID, StatusEntregue, 0)
	require.Error(t, err)

	stored, _ := repo.GetOrder(ctx, order.ID)
	require.NotEqual(t, StatusEntregue, stored.Status)
}

func TestCreateValidatesReferencedQuote(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	quoteID := int64(30)
	in := createInput()
	in.QuoteID = &quoteID
	_, err := svc.Create(ctx, in)
	require.ErrorIs(t, err, ErrQuoteNotFound)

	repo.quoteStatuses[30] = "pendente"
	_, err = svc.Create(ctx, in)
	require.ErrorIs(t, err, ErrQuoteNotApproved)
	require.ErrorIs(t, err, shared.ErrConflict)

	repo.quoteStatuses[30] = QuoteStatusApproved
	order, err := svc.Create(ctx, in)
	require.NoError(t, err)
	require.NotNil(t, order.QuoteID)
	require.EqualValues(t, 30, *order.QuoteID)
}

func TestCreateNumberingPastFourDigits(t *testing.T) {
	svc, repo, _ := newTestService()
	year := time.Now().UTC().Year()
	repo.orders[900] = &Order{ID: 900, Number: fmt.Sprintf("PED%d9999", year), Status: StatusPendente}
	repo.orders[901] = &Order{ID: 901, Number: fmt.Sprintf("PED%d10000", year), Status: StatusPendente}

	order, err := svc.Create(context.Background(), createInput())
	require.NoError(t, err)
	require.Equal(t, fmt.Sprintf("PED%d10001", year), order.Number)
}

func TestUpdateStatusRetriesLockConflicts(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	order, err := svc.Create(ctx, createInput())
	require.NoError(t, err)

	repo.forUpdateErrs = []error{fmt.Errorf("%w: could not serialize access", shared.ErrConcurrency)}
	updated, err := svc.UpdateStatus(ctx, order.ID, StatusConfirmado, 0)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmado, updated.Status)
}

func TestDeliveryRetriesAfterCommitFailure(t *testing.T) {
	repo := newMemRepo()
	stock := &fakeStock{}
	idem := newFakeIdempotency()
	svc := NewService(repo, stock, nil, idem, nil)
	ctx := context.Background()

	order, err := svc.Create(ctx, createInput())
	require.NoError(t, err)

	// The first attempt inserts the idempotency key, then the commit
	// fails. The key must be released so the automatic retry can run
	// the delivery instead of reporting it already processed.
	repo.commitErrs = []error{fmt.Errorf("%w: could not serialize access", shared.ErrConcurrency)}
	delivered, err := svc.UpdateStatus(ctx, order.ID, StatusEntregue, 0)
	require.NoError(t, err)
	require.Equal(t, StatusEntregue, delivered.Status)

	key := fmt.Sprintf("DELIVERY:%s", order.Number)
	require.Equal(t, []string{key}, idem.deleted)
	require.True(t, idem.keys[key])

	stored, _ := repo.GetOrder(ctx, order.ID)
	require.Equal(t, StatusEntregue, stored.Status)
}
