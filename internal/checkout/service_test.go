package checkout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wichananm65/storefront-backend/internal/address"
	"github.com/wichananm65/storefront-backend/internal/apperr"
	"github.com/wichananm65/storefront-backend/internal/cart"
	"github.com/wichananm65/storefront-backend/internal/notification"
	"github.com/wichananm65/storefront-backend/internal/order"
	"github.com/wichananm65/storefront-backend/internal/product"
	"github.com/wichananm65/storefront-backend/internal/ratelimit"
)

type recorder struct {
	mu     sync.Mutex
	events []notification.Event
}

func (r *recorder) Notify(_ context.Context, e notification.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) count(typ notification.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc      *Service
	catalog  *product.Service
	carts    *cart.Service
	orders   *order.Service
	sessions *InMemorySessionStore
	notes    *recorder
	clock    *clock
}

func newFixture(t *testing.T, pricer Pricer) *fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()

	catalog := product.NewService(product.NewInMemoryRepository(
		[]product.Product{
			{ID: 1, Name: "Cat Bed", Price: decimal.NewFromInt(100), Status: product.StatusActive},
			{ID: 2, Name: "Collar", Price: decimal.NewFromInt(50), Status: product.StatusActive},
			{ID: 3, Name: "Retired Toy", Price: decimal.NewFromInt(20), Status: product.StatusInactive},
			{ID: 4, Name: "Sticker", Price: decimal.NewFromInt(5), Status: product.StatusActive},
		},
		[]product.Variant{
			{ID: 10, ProductID: 1, SKU: "BED-M", Name: "M", Stock: 5, IsActive: true},
			{ID: 20, ProductID: 2, SKU: "COL-1", Name: "Red", Price: decimal.NewFromInt(60), Stock: 1, IsActive: true},
			{ID: 30, ProductID: 3, SKU: "TOY-1", Name: "One", Stock: 9, IsActive: true},
		},
	))
	addrs := address.NewService(address.NewInMemoryRepository(map[int][]address.Address{
		7: {{AddressID: 1, UserID: 7, AddressDesc: "1 Main St", Phone: "0800000000", AddressName: "Home"}},
		8: {{AddressID: 2, UserID: 8, AddressDesc: "2 Side St", Phone: "0800000001", AddressName: "Home"}},
	}))
	carts := cart.NewService(cart.NewInMemoryRepository(nil), catalog)
	notes := &recorder{}
	orders := order.NewService(order.NewInMemoryRepository(), catalog, notes, logger)
	sessions := NewInMemorySessionStore()
	clk := &clock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}

	svc := NewService(Deps{
		Catalog:   catalog,
		Carts:     carts,
		Addresses: addrs,
		Orders:    orders,
		Sessions:  sessions,
		Notifier:  notes,
		Pricer:    pricer,
	}, logger, WithClock(clk.Now))

	return &fixture{svc: svc, catalog: catalog, carts: carts, orders: orders, sessions: sessions, notes: notes, clock: clk}
}

func (f *fixture) stock(t *testing.T, variantID int) int {
	t.Helper()
	v, err := f.catalog.GetVariant(context.Background(), variantID)
	require.NoError(t, err)
	return v.Stock
}

func (f *fixture) addToCart(t *testing.T, userID, productID, variantID, qty int) {
	t.Helper()
	_, err := f.carts.AddItem(context.Background(), userID, productID, variantID, qty)
	require.NoError(t, err)
}

func TestCreateOrder_HappyPathCOD(t *testing.T) {
	f := newFixture(t, Pricer{})
	ctx := context.Background()
	f.addToCart(t, 7, 1, 10, 2)

	o, err := f.svc.CreateOrder(ctx, CreateOrderRequest{UserID: 7, AddressID: 1, PaymentMethod: "COD"})
	require.NoError(t, err)
	assert.Equal(t, "200", o.Subtotal.String())
	assert.Equal(t, "200", o.Total.String())
	assert.Equal(t, order.StatusPending, o.Status)
	assert.Equal(t, order.PaymentPending, o.PaymentStatus)
	require.Len(t, o.Items, 1)
	assert.Equal(t, "Cat Bed - M", o.Items[0].Name)
	assert.Equal(t, "100", o.Items[0].UnitPrice.String())

	assert.Equal(t, 3, f.stock(t, 10))
	c, _ := f.carts.GetCart(ctx, 7)
	assert.Empty(t, c.Items)
	assert.Equal(t, 1, f.notes.count(notification.OrderCreated))

	processing, err := f.orders.UpdateStatus(ctx, o.ID, order.StatusProcessing, "")
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPaid, processing.PaymentStatus)
}

func TestCreateOrder_OnlineMethodAwaitsPayment(t *testing.T) {
	f := newFixture(t, Pricer{})
	f.addToCart(t, 7, 2, 20, 1)

	o, err := f.svc.CreateOrder(context.Background(), CreateOrderRequest{UserID: 7, AddressID: 1, PaymentMethod: "payu"})
	require.NoError(t, err)
	assert.Equal(t, order.MethodPayU, o.PaymentMethod)
	assert.Equal(t, order.PaymentAwaitingPayment, o.PaymentStatus)
	assert.Equal(t, "60", o.Total.String())
}

func TestCreateOrder_NoOversell(t *testing.T) {
	f := newFixture(t, Pricer{})
	addrs := address.NewInMemoryRepository(nil)
	f.svc.Addresses = address.NewService(addrs)

	type buyer struct{ userID, addressID int }
	buyers := make([]buyer, 10)
	for i := range buyers {
		userID := 100 + i
		a, err := addrs.Add(context.Background(), address.Address{UserID: userID, AddressDesc: "x", AddressName: "Home"})
		require.NoError(t, err)
		f.addToCart(t, userID, 2, 20, 1)
		buyers[i] = buyer{userID: userID, addressID: a.AddressID}
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for _, b := range buyers {
		wg.Add(1)
		go func(b buyer) {
			defer wg.Done()
			_, err := f.svc.CreateOrder(context.Background(), CreateOrderRequest{UserID: b.userID, AddressID: b.addressID, PaymentMethod: "COD"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case apperr.Is(err, apperr.KindConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(b)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, len(buyers)-1, conflicts)
	assert.Equal(t, 0, f.stock(t, 20))
}

func TestCreateOrder_MultiLineReservationIsAllOrNothing(t *testing.T) {
	f := newFixture(t, Pricer{})
	ctx := context.Background()
	f.addToCart(t, 7, 1, 10, 2)
	f.addToCart(t, 7, 2, 20, 1)

	// another shopper takes the last collar between snapshot and reservation
	f.svc.Catalog = &racingCatalog{Service: f.catalog, steal: product.Reservation{VariantID: 20, Quantity: 1}}

	_, err := f.svc.CreateOrder(ctx, CreateOrderRequest{UserID: 7, AddressID: 1, PaymentMethod: "COD"})
	e, ok := apperr.As(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, apperr.CodeInsufficientStock, e.Code)
	assert.Equal(t, 5, f.stock(t, 10))

	c, _ := f.carts.GetCart(ctx, 7)
	assert.Len(t, c.Items, 2)
}

type racingCatalog struct {
	*product.Service
	steal product.Reservation
	once  sync.Once
}

func (r *racingCatalog) ReserveStock(ctx context.Context, lines []product.Reservation) error {
	r.once.Do(func() {
		_ = r.Service.ReserveStock(ctx, []product.Reservation{r.steal})
	})
	return r.Service.ReserveStock(ctx, lines)
}

type failingOrders struct{}

func (failingOrders) Create(context.Context, order.Order) (order.Order, error) {
	return order.Order{}, apperr.Internal("failed to create order", errors.New("connection reset"))
}

func TestCreateOrder_ReleasesStockWhenInsertFails(t *testing.T) {
	f := newFixture(t, Pricer{})
	f.svc.Orders = failingOrders{}
	f.addToCart(t, 7, 1, 10, 2)
	f.addToCart(t, 7, 2, 20, 1)

	_, err := f.svc.CreateOrder(context.Background(), CreateOrderRequest{UserID: 7, AddressID: 1, PaymentMethod: "COD"})
	assert.True(t, apperr.Is(err, apperr.KindInternal))
	assert.Equal(t, 5, f.stock(t, 10))
	assert.Equal(t, 1, f.stock(t, 20))
	assert.Zero(t, f.notes.count(notification.OrderCreated))
}

// slowOrders stretches the insert so concurrent placements overlap.
type slowOrders struct {
	Orders
	delay time.Duration
}

func (s slowOrders) Create(ctx context.Context, o order.Order) (order.Order, error) {
	time.Sleep(s.delay)
	return s.Orders.Create(ctx, o)
}

func (f *fixture) orderCount(t *testing.T, userID int) int {
	t.Helper()
	page, err := f.orders.ListForUser(context.Background(), userID, order.Filter{})
	require.NoError(t, err)
	return page.Total
}

func TestCreateOrder_SessionPlacedOnce(t *testing.T) {
	for _, tc := range []struct {
		name     string
		instance func(f *fixture) *Service
	}{
		{"same instance", func(f *fixture) *Service { return f.svc }},
		{"separate instances", func(f *fixture) *Service {
			d := f.svc.Deps
			d.Guard = ratelimit.NewMemoryGuard(nil)
			logger, _ := test.NewNullLogger()
			return NewService(d, logger, WithClock(f.clock.Now))
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, Pricer{})
			f.svc.Orders = slowOrders{Orders: f.orders, delay: 20 * time.Millisecond}
			sess, err := f.svc.CreateBuyNow(context.Background(), 7, Line{ProductID: 1, VariantID: 10, Quantity: 1})
			require.NoError(t, err)

			var wg sync.WaitGroup
			var mu sync.Mutex
			placed := 0
			for i := 0; i < 5; i++ {
				svc := tc.instance(f)
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := svc.CreateOrder(context.Background(), CreateOrderRequest{UserID: 7, AddressID: 1, PaymentMethod: "COD", SessionID: sess.ID})
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						placed++
					case apperr.Is(err, apperr.KindNotFound), apperr.Is(err, apperr.KindConflict):
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, 1, placed)
			assert.Equal(t, 1, f.orderCount(t, 7))
			assert.Equal(t, 4, f.stock(t, 10))
			done, _ := f.sessions.Get(context.Background(), sess.ID)
			assert.Equal(t, SessionCompleted, done.Status)
		})
	}
}

func TestCreateOrder_CartPlacedOnce(t *testing.T) {
	f := newFixture(t, Pricer{})
	f.svc.Orders = slowOrders{Orders: f.orders, delay: 20 * time.Millisecond}
	f.addToCart(t, 7, 1, 10, 2)

	var wg sync.WaitGroup
	var mu sync.Mutex
	placed := 0
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateOrder(context.Background(), CreateOrderRequest{UserID: 7, AddressID: 1, PaymentMethod: "COD"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				placed++
			case apperr.Is(err, apperr.KindConflict), apperr.Is(err, apperr.KindValidation):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, placed)
	assert.Equal(t, 1, f.orderCount(t, 7))
	assert.Equal(t, 3, f.stock(t, 10))
}

func TestCreateOrder_FailedPlacementReopensSession(t *testing.T) {
	f := newFixture(t, Pricer{})
	ctx := context.Background()
	sess, err := f.svc.CreateBuyNow(ctx, 7, Line{ProductID: 1, VariantID: 10, Quantity: 2})
	require.NoError(t, err)

	f.svc.Orders = failingOrders{}
	_, err = f.svc.CreateOrder(ctx, CreateOrderRequest{UserID: 7, AddressID: 1, PaymentMethod: "COD", SessionID: sess.ID})
	assert.True(t, apperr.Is(err, apperr.KindInternal))
	assert.Equal(t, 5, f.stock(t, 10))

	got, err := f.sessions.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionActive, got.Status)

	f.svc.Orders = f.orders
	_, err = f.svc.CreateOrder(ctx, CreateOrderRequest{UserID: 7, AddressID: 1, PaymentMethod: "COD", SessionID: sess.ID})
	require.NoError(t, err)
	assert.Equal(t, 3, f.stock(t, 10))
}

func TestInMemorySessionStore_Reopen(t *testing.T) {
	store := NewInMemorySessionStore()
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Create(ctx, Session{ID: "a", UserID: 7, Status: SessionActive, ExpiresAt: now.Add(time.Hour)}))

	ok, err := store.Reopen(ctx, "a", now)
	require.NoError(t, err)
	assert.False(t, ok, "only completed sessions reopen")

	ok, _ = store.MarkCompleted(ctx, "a", now)
	require.True(t, ok)
	require.NoError(t, store.Create(ctx, Session{ID: "b", UserID: 7, Status: SessionActive, ExpiresAt: now.Add(time.Hour)}))

	ok, err = store.Reopen(ctx, "a", now)
	require.NoError(t, err)
	assert.False(t, ok, "the user already has another active session")
}

func TestCreateOrder_Validation(t *testing.T) {
	f := newFixture(t, Pricer{})
	ctx := context.Background()

	_, err := f.svc.CreateOrder(ctx, CreateOrderRequest{UserID: 7, AddressID: 1, PaymentMethod: "COD"})
	assert.True(t, apperr.Is(err, apperr.KindValidation), "empty cart: %v", err)

	f.addToCart(t, 7, 4, 0, 1)
	_, err = f.svc.CreateOrder(ctx, CreateOrderRequest{UserID: 7, AddressID: 1, PaymentMethod: "cheque"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.svc.CreateOrder(ctx, CreateOrderRequest{UserID: 7, AddressID: 2, PaymentMethod: "COD"})
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "someone else's address: %v", err)

	_, err = f.svc.CreateOrder(ctx, CreateOrderRequest{UserID: 7, AddressID: 1, PaymentMethod: "COD", Mode: "layaway"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestSnapshot_RejectsUnavailableAndShortStock(t *testing.T) {
	f := newFixture(t, Pricer{})
	ctx := context.Background()

	_, err := f.svc.snapshot(ctx, []Line{{ProductID: 3, VariantID: 30, Quantity: 1}})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.svc.snapshot(ctx, []Line{{ProductID: 1, VariantID: 10, Quantity: 6}})
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeInsufficientStock, e.Code)

	_, err = f.svc.snapshot(ctx, []Line{{ProductID: 1, VariantID: 20, Quantity: 1}})
	assert.True(t, apperr.Is(err, apperr.KindValidation), "variant of another product")

	_, err = f.svc.snapshot(ctx, []Line{{ProductID: 1, Quantity: 1}})
	assert.True(t, apperr.Is(err, apperr.KindValidation), "variant required")

	_, err = f.svc.snapshot(ctx, []Line{{ProductID: 99, Quantity: 1}})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestBuyNow_ExpiresAfterTTL(t *testing.T) {
	f := newFixture(t, Pricer{})
	ctx := context.Background()

	sess, err := f.svc.CreateBuyNow(ctx, 7, Line{ProductID: 1, VariantID: 10, Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now().Add(30*time.Minute), sess.ExpiresAt)

	got, err := f.svc.ActiveSession(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)

	f.clock.Advance(31 * time.Minute)
	_, err = f.svc.ActiveSession(ctx, 7)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = f.svc.CreateOrder(ctx, CreateOrderRequest{UserID: 7, AddressID: 1, PaymentMethod: "COD", Mode: ModeBuyNow, SessionID: sess.ID})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	assert.Equal(t, 5, f.stock(t, 10))
}

func TestBuyNow_NewSessionExpiresPrevious(t *testing.T) {
	f := newFixture(t, Pricer{})
	ctx := context.Background()

	first, err := f.svc.CreateBuyNow(ctx, 7, Line{ProductID: 1, VariantID: 10, Quantity: 1})
	require.NoError(t, err)
	second, err := f.svc.CreateBuyNow(ctx, 7, Line{ProductID: 4, Quantity: 3})
	require.NoError(t, err)

	old, err := f.sessions.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionExpired, old.Status)

	active, err := f.svc.ActiveSession(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)
}

func TestBuyNow_CheckoutCompletesSessionAndKeepsCart(t *testing.T) {
	f := newFixture(t, Pricer{})
	ctx := context.Background()
	f.addToCart(t, 7, 4, 0, 2)

	sess, err := f.svc.CreateBuyNow(ctx, 7, Line{ProductID: 1, VariantID: 10, Quantity: 2})
	require.NoError(t, err)

	o, err := f.svc.CreateOrder(ctx, CreateOrderRequest{UserID: 7, AddressID: 1, PaymentMethod: "COD", Mode: ModeBuyNow})
	require.NoError(t, err)
	assert.Equal(t, "200", o.Total.String())
	assert.Equal(t, 3, f.stock(t, 10))

	done, _ := f.sessions.Get(ctx, sess.ID)
	assert.Equal(t, SessionCompleted, done.Status)
	c, _ := f.carts.GetCart(ctx, 7)
	assert.Len(t, c.Items, 1)

	// a completed session cannot be ordered twice
	_, err = f.svc.CreateOrder(ctx, CreateOrderRequest{UserID: 7, AddressID: 1, PaymentMethod: "COD", SessionID: sess.ID})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestSummary_AppliesPricing(t *testing.T) {
	f := newFixture(t, Pricer{TaxRate: decimal.RequireFromString("0.07"), FlatShipping: decimal.NewFromInt(40)})
	ctx := context.Background()
	f.addToCart(t, 7, 1, 10, 2)
	f.addToCart(t, 7, 4, 0, 3)

	sum, err := f.svc.Summary(ctx, 7, "", "")
	require.NoError(t, err)
	assert.Equal(t, ModeCart, sum.Mode)
	assert.Equal(t, 5, sum.ItemCount)
	assert.Equal(t, "215", sum.Subtotal.String())
	assert.Equal(t, "15.05", sum.Tax.String())
	assert.Equal(t, "40", sum.Shipping.String())
	assert.Equal(t, "270.05", sum.Total.String())

	// summary never touches stock
	assert.Equal(t, 5, f.stock(t, 10))
}

func TestReap(t *testing.T) {
	f := newFixture(t, Pricer{})
	ctx := context.Background()
	_, err := f.svc.CreateBuyNow(ctx, 7, Line{ProductID: 4, Quantity: 1})
	require.NoError(t, err)

	n, err := f.svc.Reap(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(time.Hour)
	n, err = f.svc.Reap(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
