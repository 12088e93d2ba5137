package order

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/shop-orders/internal/domain/access"
	"github.com/xenking/shop-orders/internal/domain/product"
)

// --- In-memory unit of work ---

// memStore serializes transactions with a mutex and rolls back by restoring
// a snapshot, which is enough to observe all-or-nothing behaviour.
type memStore struct {
	mu       sync.Mutex
	products map[int64]product.Product
	orders   map[int64]Order
	nextID   int64
	lockLog  []int64
	listed   int
}

func newMemStore(products ...product.Product) *memStore {
	s := &memStore{
		products: make(map[int64]product.Product, len(products)),
		orders:   make(map[int64]Order),
	}
	for _, p := range products {
		s.products[p.ID] = p
	}
	return s
}

func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	products := maps.Clone(s.products)
	orders := make(map[int64]Order, len(s.orders))
	for id, o := range s.orders {
		o.Items = slices.Clone(o.Items)
		orders[id] = o
	}
	nextID := s.nextID

	if err := fn(ctx, &memTx{s: s}); err != nil {
		s.products, s.orders, s.nextID = products, orders, nextID
		return err
	}
	return nil
}

func (s *memStore) Get(_ context.Context, id int64) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, &NotFoundError{Resource: "order", ID: id}
	}
	o.Items = slices.Clone(o.Items)
	return &o, nil
}

func (s *memStore) List(_ context.Context, f ListFilter) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listed++

	var out []Order
	for _, o := range s.orders {
		if f.Scope.Kind == access.ScopeOwner && (o.UserID == nil || *o.UserID != f.Scope.OwnerID) {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		out = append(out, o)
	}
	slices.SortFunc(out, func(a, b Order) int { return int(a.ID - b.ID) })
	return out, nil
}

func (s *memStore) product(id int64) product.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id]
}

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

type memTx struct {
	s *memStore
}

func (t *memTx) LockAndGet(_ context.Context, id int64) (*product.Product, error) {
	t.s.lockLog = append(t.s.lockLog, id)
	p, ok := t.s.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (t *memTx) Save(_ context.Context, p *product.Product) error {
	t.s.products[p.ID] = *p
	return nil
}

func (t *memTx) CodeExists(_ context.Context, code string) (bool, error) {
	for _, o := range t.s.orders {
		if o.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertOrder(_ context.Context, o *Order) error {
	t.s.nextID++
	o.ID = t.s.nextID
	stored := *o
	stored.Items = nil
	t.s.orders[o.ID] = stored
	return nil
}

func (t *memTx) InsertItem(_ context.Context, item *Item) error {
	o := t.s.orders[item.OrderID]
	item.ID = int64(len(o.Items) + 1)
	o.Items = append(o.Items, *item)
	t.s.orders[item.OrderID] = o
	return nil
}

func (t *memTx) SetTotal(_ context.Context, orderID int64, total decimal.Decimal) error {
	o := t.s.orders[orderID]
	o.Total = total
	t.s.orders[orderID] = o
	return nil
}

func (t *memTx) LockOrder(_ context.Context, id int64) (*Order, error) {
	o, ok := t.s.orders[id]
	if !ok {
		return nil, &NotFoundError{Resource: "order", ID: id}
	}
	o.Items = slices.Clone(o.Items)
	return &o, nil
}

func (t *memTx) UpdateStatus(_ context.Context, o *Order) error {
	stored := t.s.orders[o.ID]
	stored.Status = o.Status
	stored.PaymentStatus = o.PaymentStatus
	t.s.orders[o.ID] = stored
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []GuestOrder
}

func (n *recordingNotifier) GuestOrderPlaced(_ context.Context, evt GuestOrder) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
}

type memIdempotency struct {
	mu   sync.Mutex
	keys map[string]Reservation
	err  error
}

func newMemIdempotency() *memIdempotency {
	return &memIdempotency{keys: map[string]Reservation{}}
}

func (m *memIdempotency) Reserve(_ context.Context, key, fp string) (Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return Reservation{}, m.err
	}
	if r, ok := m.keys[key]; ok {
		return r, nil
	}
	m.keys[key] = Reservation{Fingerprint: fp}
	return Reservation{Claimed: true, Fingerprint: fp}, nil
}

func (m *memIdempotency) Complete(_ context.Context, key, fp string, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = Reservation{Fingerprint: fp, OrderID: orderID}
	return nil
}

func (m *memIdempotency) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

func (m *memIdempotency) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}

// --- Helpers ---

var (
	guest    = access.Anonymous()
	customer = access.Identity{UserID: 7, Authenticated: true, Role: access.RoleCustomer, Name: "Rahim"}
	other    = access.Identity{UserID: 8, Authenticated: true, Role: access.RoleCustomer}
	admin    = access.Identity{UserID: 1, Authenticated: true, Role: access.RoleAdmin}
	seller   = access.Identity{UserID: 2, Authenticated: true, Role: access.RoleSeller}
)

func newTestProduct(id int64, name, price string, stock int) product.Product {
	return product.Product{ID: id, Name: name, Price: decimal.RequireFromString(price), Stock: stock}
}

func newTestService(t *testing.T, store *memStore, opts ...Option) *Service {
	t.Helper()
	svc, err := NewService(store, store, opts...)
	require.NoError(t, err)
	return svc
}

func validRequest(items ...ItemRequest) CreateRequest {
	return CreateRequest{
		ContactNumber:   "01700000000",
		DeliveryAddress: "House 1, Road 2",
		DeliveryCity:    "Dhaka",
		PaymentMethod:   PaymentCOD,
		Items:           items,
	}
}

func ptr[T any](v T) *T { return &v }

// --- Create ---

func TestCreateUsesServerPrice(t *testing.T) {
	store := newMemStore(newTestProduct(1, "Panjabi", "10.00", 5))
	svc := newTestService(t, store)

	res, err := svc.Create(context.Background(), guest, validRequest(ItemRequest{ProductID: 1, Quantity: 3}))
	require.NoError(t, err)

	o := res.Order
	assert.True(t, o.Total.Equal(decimal.RequireFromString("30.00")), "total %s", o.Total)
	require.Len(t, o.Items, 1)
	assert.True(t, o.Items[0].Price.Equal(decimal.RequireFromString("10.00")))
	assert.Equal(t, "Panjabi", o.Items[0].ProductName)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, PaymentPending, o.PaymentStatus)
	assert.Regexp(t, `^ORD-[0-9A-F]{6}$`, o.Code)
	assert.True(t, o.Guest())

	p := store.product(1)
	assert.Equal(t, 2, p.Stock)
	assert.Equal(t, 3, p.Sold)

	stored, err := store.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.True(t, stored.Total.Equal(o.ComputeTotal()))
}

func TestCreateTotalIsSumOfSubtotals(t *testing.T) {
	store := newMemStore(
		newTestProduct(1, "Saree", "19.99", 10),
		newTestProduct(2, "Scarf", "5.50", 10),
		newTestProduct(3, "Cap", "0.35", 10),
	)
	svc := newTestService(t, store)

	res, err := svc.Create(context.Background(), customer, validRequest(
		ItemRequest{ProductID: 1, Quantity: 3},
		ItemRequest{ProductID: 2, Quantity: 2, Size: " M ", Color: "red"},
		ItemRequest{ProductID: 3, Quantity: 7},
	))
	require.NoError(t, err)

	// 59.97 + 11.00 + 2.45
	assert.Equal(t, "73.42", res.Order.Total.StringFixed(2))
	assert.True(t, res.Order.Total.Equal(res.Order.ComputeTotal()))
	assert.Equal(t, "M", res.Order.Items[1].Size)
	for _, it := range res.Order.Items {
		assert.Equal(t, res.Order.ID, it.OrderID)
	}
}

func TestCreateOutOfStockRollsBack(t *testing.T) {
	store := newMemStore(
		newTestProduct(1, "Panjabi", "10.00", 5),
		newTestProduct(2, "Lungi", "4.00", 2),
	)
	svc := newTestService(t, store)

	_, err := svc.Create(context.Background(), guest, validRequest(
		ItemRequest{ProductID: 1, Quantity: 1},
		ItemRequest{ProductID: 2, Quantity: 5},
	))
	require.Error(t, err)

	var oos *OutOfStockError
	require.ErrorAs(t, err, &oos)
	assert.Equal(t, int64(2), oos.ProductID)
	assert.Equal(t, 2, oos.Available)
	assert.Equal(t, 5, oos.Requested)
	assert.Equal(t, "Insufficient stock for Lungi. Available: 2, requested: 5.", oos.Error())

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "items")

	assert.Equal(t, 5, store.product(1).Stock)
	assert.Equal(t, 0, store.product(1).Sold)
	assert.Equal(t, 2, store.product(2).Stock)
	assert.Zero(t, store.orderCount())
}

func TestCreateRepeatedProductCountsCumulatively(t *testing.T) {
	store := newMemStore(newTestProduct(1, "Panjabi", "10.00", 5))
	svc := newTestService(t, store)

	_, err := svc.Create(context.Background(), guest, validRequest(
		ItemRequest{ProductID: 1, Quantity: 3, Size: "M"},
		ItemRequest{ProductID: 1, Quantity: 3, Size: "L"},
	))
	var oos *OutOfStockError
	require.ErrorAs(t, err, &oos)
	assert.Equal(t, 2, oos.Available)
	assert.Equal(t, 5, store.product(1).Stock)
}

func TestCreateLocksProductsInAscendingOrder(t *testing.T) {
	store := newMemStore(
		newTestProduct(1, "A", "1.00", 10),
		newTestProduct(3, "C", "1.00", 10),
		newTestProduct(9, "I", "1.00", 10),
	)
	svc := newTestService(t, store)

	res, err := svc.Create(context.Background(), guest, validRequest(
		ItemRequest{ProductID: 9, Quantity: 1},
		ItemRequest{ProductID: 1, Quantity: 1},
		ItemRequest{ProductID: 3, Quantity: 1},
		ItemRequest{ProductID: 9, Quantity: 2},
	))
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 3, 9}, store.lockLog)
	// Items keep request order.
	var got []int64
	for _, it := range res.Order.Items {
		got = append(got, *it.ProductID)
	}
	assert.Equal(t, []int64{9, 1, 3, 9}, got)
	assert.Equal(t, 7, store.product(9).Stock)
	assert.Equal(t, 3, store.product(9).Sold)
}

func TestCreateUnknownProduct(t *testing.T) {
	store := newMemStore(newTestProduct(1, "Panjabi", "10.00", 5))
	svc := newTestService(t, store)

	_, err := svc.Create(context.Background(), guest, validRequest(
		ItemRequest{ProductID: 1, Quantity: 1},
		ItemRequest{ProductID: 42, Quantity: 1},
	))
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "product", nf.Resource)
	assert.Equal(t, int64(42), nf.ID)
	assert.Equal(t, 5, store.product(1).Stock)
	assert.Zero(t, store.orderCount())
}

func TestCreateValidation(t *testing.T) {
	item := ItemRequest{ProductID: 1, Quantity: 1}

	tests := []struct {
		name   string
		modify func(r *CreateRequest)
		field  string
		msg    string
	}{
		{"missing contact", func(r *CreateRequest) { r.ContactNumber = "  " }, "contact_number", "Contact number is required."},
		{"missing address", func(r *CreateRequest) { r.DeliveryAddress = "" }, "delivery_address", "Delivery address is required."},
		{"missing city", func(r *CreateRequest) { r.DeliveryCity = "" }, "delivery_city", "Delivery city is required."},
		{"no items", func(r *CreateRequest) { r.Items = nil }, "items", "At least one item is required."},
		{"empty items", func(r *CreateRequest) { r.Items = []ItemRequest{} }, "items", "At least one item is required."},
		{"bad payment method", func(r *CreateRequest) { r.PaymentMethod = "paypal" }, "payment_method", "Invalid payment method."},
		{"zero quantity", func(r *CreateRequest) { r.Items[0].Quantity = 0 }, "items[0].quantity", "Quantity must be greater than 0."},
		{"negative quantity", func(r *CreateRequest) { r.Items[0].Quantity = -2 }, "items[0].quantity", "Quantity must be greater than 0."},
		{"missing product", func(r *CreateRequest) { r.Items[0].ProductID = 0 }, "items[0].product", "Product is required."},
		{"bad email", func(r *CreateRequest) { r.CustomerEmail = "nope" }, "customer_email", "Enter a valid email address."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore(newTestProduct(1, "Panjabi", "10.00", 5))
			svc := newTestService(t, store)

			req := validRequest(item)
			tt.modify(&req)
			_, err := svc.Create(context.Background(), guest, req)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.msg, verr.Fields[tt.field], "fields: %v", verr.Fields)
			assert.Empty(t, store.lockLog)
			assert.Zero(t, store.orderCount())
			assert.Equal(t, 5, store.product(1).Stock)
		})
	}
}

func TestCreateOwnership(t *testing.T) {
	store := newMemStore(newTestProduct(1, "Panjabi", "10.00", 5))
	notifier := &recordingNotifier{}
	svc := newTestService(t, store, WithNotifier(notifier))
	ctx := context.Background()

	res, err := svc.Create(ctx, customer, validRequest(ItemRequest{ProductID: 1, Quantity: 1}))
	require.NoError(t, err)
	require.NotNil(t, res.Order.UserID)
	assert.Equal(t, customer.UserID, *res.Order.UserID)
	assert.Equal(t, "Rahim", res.Order.CustomerName)
	assert.Empty(t, notifier.events)

	req := validRequest(ItemRequest{ProductID: 1, Quantity: 2})
	req.CustomerName = "Karim"
	req.ClientIP = "10.0.0.1"
	res, err = svc.Create(ctx, guest, req)
	require.NoError(t, err)
	assert.Nil(t, res.Order.UserID)
	assert.Equal(t, "Karim", res.Order.CustomerName)

	require.Len(t, notifier.events, 1)
	evt := notifier.events[0]
	assert.Equal(t, res.Order.ID, evt.OrderID)
	assert.Equal(t, res.Order.Code, evt.Code)
	assert.Equal(t, "10.0.0.1", evt.ClientIP)
	assert.Equal(t, "20.00", evt.Total.StringFixed(2))
}

func TestCreateIdempotencyKey(t *testing.T) {
	store := newMemStore(newTestProduct(1, "Panjabi", "10.00", 5))
	idem := newMemIdempotency()
	svc := newTestService(t, store, WithIdempotency(idem))
	ctx := context.Background()

	req := validRequest(ItemRequest{ProductID: 1, Quantity: 2})
	req.IdempotencyKey = "k-1"

	first, err := svc.Create(ctx, customer, req)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := svc.Create(ctx, customer, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, 3, store.product(1).Stock)
	assert.Equal(t, 1, store.orderCount())

	// Keys are scoped per owner.
	third, err := svc.Create(ctx, other, req)
	require.NoError(t, err)
	assert.False(t, third.Replayed)
	assert.NotEqual(t, first.Order.ID, third.Order.ID)
	assert.Equal(t, 1, store.product(1).Stock)
}

func TestCreateIdempotencyKeyIgnoredForGuests(t *testing.T) {
	store := newMemStore(newTestProduct(1, "Panjabi", "10.00", 5))
	idem := newMemIdempotency()
	svc := newTestService(t, store, WithIdempotency(idem))
	ctx := context.Background()

	alice := validRequest(ItemRequest{ProductID: 1, Quantity: 1})
	alice.CustomerName = "Alice"
	alice.ContactNumber = "01711111111"
	alice.DeliveryAddress = "Alice home"
	alice.IdempotencyKey = "1"

	bob := validRequest(ItemRequest{ProductID: 1, Quantity: 3})
	bob.CustomerName = "Bob"
	bob.ContactNumber = "01722222222"
	bob.IdempotencyKey = "1"

	first, err := svc.Create(ctx, guest, alice)
	require.NoError(t, err)
	second, err := svc.Create(ctx, guest, bob)
	require.NoError(t, err)

	assert.False(t, second.Replayed)
	assert.NotEqual(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, "Bob", second.Order.CustomerName)
	assert.Equal(t, "01722222222", second.Order.ContactNumber)
	require.Len(t, second.Order.Items, 1)
	assert.Equal(t, 3, second.Order.Items[0].Quantity)
	assert.Equal(t, 1, store.product(1).Stock)
	assert.Equal(t, 2, store.orderCount())
	assert.Zero(t, idem.size())
}

func TestCreateIdempotencyKeyDifferentBody(t *testing.T) {
	store := newMemStore(newTestProduct(1, "Panjabi", "10.00", 5))
	svc := newTestService(t, store, WithIdempotency(newMemIdempotency()))
	ctx := context.Background()

	req := validRequest(ItemRequest{ProductID: 1, Quantity: 1})
	req.IdempotencyKey = "k-1"
	_, err := svc.Create(ctx, customer, req)
	require.NoError(t, err)

	req.Items[0].Quantity = 2
	_, err = svc.Create(ctx, customer, req)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "idempotency_key")
	assert.Equal(t, 4, store.product(1).Stock)
	assert.Equal(t, 1, store.orderCount())
}

func TestCreateIdempotencyKeyWhitespaceIsSameBody(t *testing.T) {
	store := newMemStore(newTestProduct(1, "Panjabi", "10.00", 5))
	svc := newTestService(t, store, WithIdempotency(newMemIdempotency()))
	ctx := context.Background()

	req := validRequest(ItemRequest{ProductID: 1, Quantity: 1})
	req.IdempotencyKey = "k-1"
	_, err := svc.Create(ctx, customer, req)
	require.NoError(t, err)

	req.DeliveryCity = "  Dhaka "
	res, err := svc.Create(ctx, customer, req)
	require.NoError(t, err)
	assert.True(t, res.Replayed)
}

func TestCreateIdempotencyKeyInFlight(t *testing.T) {
	store := newMemStore(newTestProduct(1, "Panjabi", "10.00", 5))
	idem := newMemIdempotency()
	svc := newTestService(t, store, WithIdempotency(idem))

	req := validRequest(ItemRequest{ProductID: 1, Quantity: 1})
	req.IdempotencyKey = "k-1"
	req.trim()
	idem.keys[idempotencyScope(customer)+"k-1"] = Reservation{Fingerprint: req.fingerprint()}

	_, err := svc.Create(context.Background(), customer, req)
	var terr *TransientError
	require.ErrorAs(t, err, &terr)
	assert.Zero(t, store.orderCount())
	assert.Equal(t, 5, store.product(1).Stock)
}

func TestCreateIdempotencyKeyReleasedOnFailure(t *testing.T) {
	store := newMemStore(newTestProduct(1, "Panjabi", "10.00", 1))
	idem := newMemIdempotency()
	svc := newTestService(t, store, WithIdempotency(idem))
	ctx := context.Background()

	req := validRequest(ItemRequest{ProductID: 1, Quantity: 2})
	req.IdempotencyKey = "k-1"
	_, err := svc.Create(ctx, customer, req)
	var oos *OutOfStockError
	require.ErrorAs(t, err, &oos)
	assert.Zero(t, idem.size())

	req.Items[0].Quantity = 1
	res, err := svc.Create(ctx, customer, req)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
}

func TestCreateIdempotencyKeyStoreDown(t *testing.T) {
	store := newMemStore(newTestProduct(1, "Panjabi", "10.00", 5))
	idem := newMemIdempotency()
	idem.err = errors.New("redis: connection refused")
	svc := newTestService(t, store, WithIdempotency(idem))

	req := validRequest(ItemRequest{ProductID: 1, Quantity: 1})
	req.IdempotencyKey = "k-1"
	res, err := svc.Create(context.Background(), customer, req)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, 1, store.orderCount())
}

func TestCreateIdempotencyKeyConcurrent(t *testing.T) {
	store := newMemStore(newTestProduct(1, "Panjabi", "10.00", 50))
	svc := newTestService(t, store, WithIdempotency(newMemIdempotency()))

	var g errgroup.Group
	for range 8 {
		g.Go(func() error {
			req := validRequest(ItemRequest{ProductID: 1, Quantity: 1})
			req.IdempotencyKey = "k-1"
			_, err := svc.Create(context.Background(), customer, req)
			var terr *TransientError
			if errors.As(err, &terr) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 1, store.orderCount())
	assert.Equal(t, 49, store.product(1).Stock)
}

func TestCreateOrderCodeCollision(t *testing.T) {
	store := newMemStore(newTestProduct(1, "Panjabi", "10.00", 50))
	svc := newTestService(t, store)
	ctx := context.Background()

	codes := []string{"ORD-AAAAAA", "ORD-AAAAAA", "ORD-BBBBBB"}
	svc.newCode = func() string {
		c := codes[0]
		codes = codes[1:]
		return c
	}

	first, err := svc.Create(ctx, guest, validRequest(ItemRequest{ProductID: 1, Quantity: 1}))
	require.NoError(t, err)
	assert.Equal(t, "ORD-AAAAAA", first.Order.Code)

	second, err := svc.Create(ctx, guest, validRequest(ItemRequest{ProductID: 1, Quantity: 1}))
	require.NoError(t, err)
	assert.Equal(t, "ORD-BBBBBB", second.Order.Code)

	svc.newCode = func() string { return "ORD-AAAAAA" }
	_, err = svc.Create(ctx, guest, validRequest(ItemRequest{ProductID: 1, Quantity: 1}))
	var terr *TransientError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 48, store.product(1).Stock)
}

func TestCreateConcurrentNeverOversells(t *testing.T) {
	const (
		stock   = 10
		workers = 25
	)
	store := newMemStore(newTestProduct(1, "Panjabi", "10.00", stock))
	svc := newTestService(t, store)

	var (
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	var g errgroup.Group
	for i := range workers {
		g.Go(func() error {
			id := access.Identity{UserID: int64(100 + i), Authenticated: true, Role: access.RoleCustomer}
			_, err := svc.Create(context.Background(), id, validRequest(ItemRequest{ProductID: 1, Quantity: 1}))
			mu.Lock()
			defer mu.Unlock()
			var oos *OutOfStockError
			switch {
			case err == nil:
				succeeded++
			case errors.As(err, &oos):
				rejected++
			default:
				return fmt.Errorf("worker %d: %w", i, err)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, stock, succeeded)
	assert.Equal(t, workers-stock, rejected)
	p := store.product(1)
	assert.Equal(t, 0, p.Stock)
	assert.Equal(t, stock, p.Sold)
}

// --- Update ---

func placeOrder(t *testing.T, svc *Service, id access.Identity, items ...ItemRequest) *Order {
	t.Helper()
	res, err := svc.Create(context.Background(), id, validRequest(items...))
	require.NoError(t, err)
	return res.Order
}

func TestUpdateCancelRestoresStockOnce(t *testing.T) {
	store := newMemStore(newTestProduct(1, "Q", "3.00", 5))
	svc := newTestService(t, store)
	ctx := context.Background()

	o := placeOrder(t, svc, customer, ItemRequest{ProductID: 1, Quantity: 4})
	require.Equal(t, 1, store.product(1).Stock)

	updated, err := svc.Update(ctx, admin, o.ID, Patch{Status: ptr(StatusCancelled)})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, updated.Status)
	assert.Equal(t, 5, store.product(1).Stock)
	assert.Equal(t, 4, store.product(1).Sold)

	_, err = svc.Update(ctx, admin, o.ID, Patch{Status: ptr(StatusCancelled)})
	var serr *InvalidStateError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 5, store.product(1).Stock)

	_, err = svc.Update(ctx, admin, o.ID, Patch{PaymentStatus: ptr(PaymentPaid)})
	require.ErrorAs(t, err, &serr)

	stored, err := store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, stored.Status)
	assert.Equal(t, PaymentPending, stored.PaymentStatus)
}

func TestUpdateCancelSkipsDeletedProducts(t *testing.T) {
	store := newMemStore(
		newTestProduct(1, "A", "1.00", 5),
		newTestProduct(2, "B", "1.00", 5),
	)
	svc := newTestService(t, store)
	ctx := context.Background()

	o := placeOrder(t, svc, customer,
		ItemRequest{ProductID: 2, Quantity: 2},
		ItemRequest{ProductID: 1, Quantity: 1},
	)

	// Product 2 is removed from the catalog: its item loses the reference.
	store.mu.Lock()
	delete(store.products, 2)
	stored := store.orders[o.ID]
	stored.Items[0].ProductID = nil
	store.orders[o.ID] = stored
	store.lockLog = nil
	store.mu.Unlock()

	_, err := svc.Update(ctx, seller, o.ID, Patch{Status: ptr(StatusCancelled)})
	require.NoError(t, err)
	assert.Equal(t, 5, store.product(1).Stock)
	assert.Equal(t, []int64{1}, store.lockLog)
}

func TestUpdateRestoresInAscendingProductOrder(t *testing.T) {
	store := newMemStore(
		newTestProduct(4, "D", "1.00", 5),
		newTestProduct(2, "B", "1.00", 5),
	)
	svc := newTestService(t, store)

	o := placeOrder(t, svc, guest,
		ItemRequest{ProductID: 4, Quantity: 1},
		ItemRequest{ProductID: 2, Quantity: 2},
		ItemRequest{ProductID: 4, Quantity: 3},
	)
	store.lockLog = nil

	_, err := svc.Update(context.Background(), admin, o.ID, Patch{Status: ptr(StatusCancelled)})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 4}, store.lockLog)
	assert.Equal(t, 5, store.product(4).Stock)
	assert.Equal(t, 5, store.product(2).Stock)
}

func TestUpdatePermission(t *testing.T) {
	store := newMemStore(newTestProduct(1, "P", "1.00", 5))
	svc := newTestService(t, store)
	ctx := context.Background()
	o := placeOrder(t, svc, customer, ItemRequest{ProductID: 1, Quantity: 1})

	for _, id := range []access.Identity{customer, other, guest} {
		_, err := svc.Update(ctx, id, o.ID, Patch{Status: ptr(StatusCancelled)})
		var perr *PermissionError
		require.ErrorAs(t, err, &perr)
	}
	stored, err := store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
	assert.Equal(t, 4, store.product(1).Stock)

	staff := access.Identity{UserID: 3, Authenticated: true, Role: access.RoleCustomer, Staff: true}
	updated, err := svc.Update(ctx, staff, o.ID, Patch{Status: ptr(StatusConfirmed), PaymentStatus: ptr(PaymentPaid)})
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, updated.Status)
	assert.Equal(t, PaymentPaid, updated.PaymentStatus)
}

func TestUpdateValidation(t *testing.T) {
	store := newMemStore(newTestProduct(1, "P", "1.00", 5))
	svc := newTestService(t, store)
	ctx := context.Background()
	o := placeOrder(t, svc, customer, ItemRequest{ProductID: 1, Quantity: 1})

	_, err := svc.Update(ctx, admin, o.ID, Patch{Status: ptr(StatusShipped), Unknown: []string{"total_amount"}})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "only status fields may be updated by admin", verr.Message)
	assert.Contains(t, verr.Fields, "total_amount")

	_, err = svc.Update(ctx, admin, o.ID, Patch{Status: ptr(Status("lost"))})
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "status")

	_, err = svc.Update(ctx, admin, o.ID, Patch{PaymentStatus: ptr(PaymentStatus("refunded"))})
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "payment_status")

	stored, err := store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)

	same, err := svc.Update(ctx, admin, o.ID, Patch{})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, same.Status)
}

func TestUpdateMissingOrder(t *testing.T) {
	svc := newTestService(t, newMemStore())

	_, err := svc.Update(context.Background(), admin, 404, Patch{Status: ptr(StatusShipped)})
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "order", nf.Resource)
}

// --- Reads ---

func TestGetVisibility(t *testing.T) {
	store := newMemStore(newTestProduct(1, "P", "1.00", 10))
	svc := newTestService(t, store)
	ctx := context.Background()

	own := placeOrder(t, svc, customer, ItemRequest{ProductID: 1, Quantity: 1})
	guestOrder := placeOrder(t, svc, guest, ItemRequest{ProductID: 1, Quantity: 1})

	tests := []struct {
		name    string
		id      access.Identity
		orderID int64
		visible bool
	}{
		{"owner", customer, own.ID, true},
		{"other customer", other, own.ID, false},
		{"customer on guest order", customer, guestOrder.ID, false},
		{"anonymous", guest, guestOrder.ID, false},
		{"admin", admin, guestOrder.ID, true},
		{"seller", seller, own.ID, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := svc.Get(ctx, tt.id, tt.orderID)
			if tt.visible {
				require.NoError(t, err)
				assert.Equal(t, tt.orderID, o.ID)
				return
			}
			var nf *NotFoundError
			require.ErrorAs(t, err, &nf)
		})
	}
}

func TestListScope(t *testing.T) {
	store := newMemStore(newTestProduct(1, "P", "1.00", 10))
	svc := newTestService(t, store)
	ctx := context.Background()

	placeOrder(t, svc, customer, ItemRequest{ProductID: 1, Quantity: 1})
	placeOrder(t, svc, other, ItemRequest{ProductID: 1, Quantity: 1})
	placeOrder(t, svc, guest, ItemRequest{ProductID: 1, Quantity: 1})

	all, err := svc.List(ctx, admin, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	mine, err := svc.List(ctx, customer, ListFilter{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, customer.UserID, *mine[0].UserID)

	// The staff flag opens single orders but not the full listing.
	staff := customer
	staff.Staff = true
	staffList, err := svc.List(ctx, staff, ListFilter{})
	require.NoError(t, err)
	require.Len(t, staffList, 1)
	assert.Equal(t, customer.UserID, *staffList[0].UserID)
	foreign, err := svc.Get(ctx, staff, all[0].ID)
	require.NoError(t, err)
	assert.Equal(t, all[0].ID, foreign.ID)

	listed := store.listed
	none, err := svc.List(ctx, guest, ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.Equal(t, listed, store.listed, "repository must not be queried for anonymous callers")

	_, err = svc.List(ctx, admin, ListFilter{OrderBy: "password"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "ordering")
}
