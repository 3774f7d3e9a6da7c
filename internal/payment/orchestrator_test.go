package payment

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wichananm65/storefront-backend/internal/address"
	"github.com/wichananm65/storefront-backend/internal/apperr"
	"github.com/wichananm65/storefront-backend/internal/notification"
	"github.com/wichananm65/storefront-backend/internal/order"
	"github.com/wichananm65/storefront-backend/internal/payu"
	"github.com/wichananm65/storefront-backend/internal/product"
	"github.com/wichananm65/storefront-backend/internal/ratelimit"
	"github.com/wichananm65/storefront-backend/internal/retry"
	"github.com/wichananm65/storefront-backend/internal/user"
)

const (
	testKey  = "gtKFFx"
	testSalt = "eCwWELxi"
)

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

type nopStock struct{}

func (nopStock) ReleaseStock(context.Context, []product.Reservation) error { return nil }

type brokenSigner struct{ err error }

func (b brokenSigner) Sign(context.Context, payu.Fields) (string, error) { return "", b.err }

func (b brokenSigner) Verify(context.Context, payu.Response, string) (bool, error) {
	return false, b.err
}

type flakyOrders struct {
	Orders
	calls int32
}

func (f *flakyOrders) MarkPaid(context.Context, string, order.PaymentDetails) (bool, error) {
	atomic.AddInt32(&f.calls, 1)
	return false, errors.New("connection reset by peer")
}

type fixture struct {
	clock    *clock
	orders   *order.Service
	attempts *InMemoryAttemptStore
	rec      *recorder
	hook     *test.Hook
	orch     *Orchestrator
}

func newFixture(t *testing.T, mutate func(*Deps)) *fixture {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	c := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	rec := &recorder{}

	gateCfg := retry.DefaultGateConfig()
	gateCfg.MinInterval = 0
	gateCfg.Policy = retry.Policy{}
	gate := retry.NewGate(gateCfg, logger, retry.WithClock(c.Now))
	t.Cleanup(gate.Close)

	orders := order.NewService(order.NewInMemoryRepository(), nopStock{}, rec, logger)
	attempts := NewInMemoryAttemptStore()
	d := Deps{
		Orders: orders,
		Addresses: address.NewInMemoryRepository(map[int][]address.Address{
			7: {{AddressID: 1, AddressDesc: "12 Sukhumvit Rd", Phone: "0812345678", AddressName: "Home"}},
		}),
		Users: user.NewInMemoryRepository([]user.User{
			{ID: 7, FirstName: "Ann", Email: "ann@example.com"},
			{ID: 8, FirstName: "Bo", Email: "bo@example.com"},
		}),
		Attempts: attempts,
		Signer:   SaltSigner{Salt: testSalt},
		Gate:     gate,
		Limiter:  ratelimit.NewMemoryLimiter(1, time.Second, c.Now),
		Guard:    ratelimit.NewMemoryGuard(c.Now),
		Cache:    ratelimit.NewMemoryCache(c.Now),
		Notifier: rec,
		Gateway: Gateway{
			Key:         testKey,
			Environment: "1",
			SuccessURL:  "http://shop.test/api/v1/payment/success",
			FailureURL:  "http://shop.test/api/v1/payment/failure",
		},
		Record: retry.Policy{
			MaxRetries: 2,
			Sleep:      func(context.Context, time.Duration) error { return nil },
		},
		DedupTTL: 30 * time.Second,
		CacheTTL: 5 * time.Minute,
	}
	if mutate != nil {
		mutate(&d)
	}
	return &fixture{
		clock:    c,
		orders:   orders,
		attempts: attempts,
		rec:      rec,
		hook:     hook,
		orch:     NewOrchestrator(d, logger, WithClock(c.Now)),
	}
}

func (f *fixture) order(t *testing.T, userID, addressID int) order.Order {
	t.Helper()
	items := []order.Item{{ProductID: 1, VariantID: 10, Name: "Cat Bed - Large", Quantity: 2, UnitPrice: decimal.NewFromInt(100), LineTotal: decimal.NewFromInt(200)}}
	sub, total := order.Totals(items, decimal.Zero, decimal.Zero)
	o, err := f.orders.Create(context.Background(), order.Order{
		UserID: userID, AddressID: addressID, Items: items,
		Subtotal: sub, Total: total, PaymentMethod: order.MethodPayU,
	})
	require.NoError(t, err)
	return o
}

func (f *fixture) initiate(t *testing.T, o order.Order) *InitiateResponse {
	t.Helper()
	resp, err := f.orch.Initiate(context.Background(), InitiateRequest{UserID: o.UserID, OrderNumber: o.OrderNumber})
	require.NoError(t, err)
	return resp
}

// callback builds what the gateway would post back for resp.
func callback(resp *InitiateResponse, status, amount string) Callback {
	cb := Callback{
		TxnID:       resp.TxnID,
		Amount:      amount,
		ProductInfo: resp.ProductInfo,
		FirstName:   resp.FirstName,
		Email:       resp.Email,
		Status:      status,
		Key:         resp.Key,
		UDF1:        resp.UDF1,
		UDF2:        resp.UDF2,
		MihPayID:    "403993715521",
		Mode:        "CC",
		BankRefNum:  "BR-20260301-1",
		CardNum:     "512345XXXXXX2346",
	}
	cb.Hash = payu.ResponseHash(cb.response(""), testSalt)
	return cb
}

func (f *fixture) reload(t *testing.T, number string) order.Order {
	t.Helper()
	o, err := f.orders.GetByNumber(context.Background(), number)
	require.NoError(t, err)
	return o
}

func assertCode(t *testing.T, err error, status int, code string) {
	t.Helper()
	require.Error(t, err)
	e, ok := apperr.As(err)
	require.True(t, ok, "unclassified error: %v", err)
	assert.Equal(t, status, apperr.HTTPStatus(err))
	assert.Equal(t, code, e.Code)
}

func TestTxnID_RecoversOrderNumber(t *testing.T) {
	at := time.UnixMilli(1767225600123)
	txnid := NewTxnID("ORD-1767225600000-AB12", at)
	assert.Equal(t, "ORD-1767225600000-AB12_PAY_1767225600123", txnid)

	number, ok := OrderNumberFromTxnID(txnid)
	require.True(t, ok)
	assert.Equal(t, "ORD-1767225600000-AB12", number)

	for _, bad := range []string{"", "ORD-1", "_PAY_123"} {
		_, ok := OrderNumberFromTxnID(bad)
		assert.False(t, ok, bad)
	}
}

func TestMaskCard(t *testing.T) {
	cases := map[string]string{
		"4111111111111111":    "****1111",
		"512345XXXXXX2346":    "****2346",
		"4111 1111 1111 0042": "****0042",
		"12":                  "",
		"":                    "",
	}
	for in, want := range cases {
		assert.Equal(t, want, MaskCard(in), in)
	}
}

func TestInitiate_SignedPayload(t *testing.T) {
	f := newFixture(t, nil)
	o := f.order(t, 7, 1)

	resp := f.initiate(t, o)

	assert.Equal(t, testKey, resp.Key)
	assert.Equal(t, "200.00", resp.Amount)
	assert.Equal(t, "Ann", resp.FirstName)
	assert.Equal(t, "ann@example.com", resp.Email)
	assert.Equal(t, "0812345678", resp.Phone)
	assert.Equal(t, "http://shop.test/api/v1/payment/success", resp.SuccessURL)
	assert.Equal(t, "http://shop.test/api/v1/payment/failure", resp.FailureURL)
	assert.Equal(t, "1", resp.Environment)
	assert.True(t, strings.HasPrefix(resp.TxnID, o.OrderNumber+"_PAY_"))

	want := payu.Generate(payu.Fields{
		Key: testKey, TxnID: resp.TxnID, Amount: "200.00", ProductInfo: resp.ProductInfo,
		FirstName: "Ann", Email: "ann@example.com",
		UDF: [5]string{resp.UDF1, resp.UDF2, resp.UDF3, resp.UDF4, resp.UDF5},
	}, testSalt)
	assert.Equal(t, want, resp.Hash)

	a, err := f.attempts.Get(context.Background(), resp.TxnID, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, AttemptInitiated, a.Status)
	assert.Equal(t, o.OrderNumber, a.OrderNumber)
	assert.Equal(t, f.clock.Now().Add(time.Hour), a.ExpiresAt)
}

func TestInitiate_Rejections(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Limiter = ratelimit.NewMemoryLimiter(100, time.Second, time.Now)
	})
	ctx := context.Background()

	_, err := f.orch.Initiate(ctx, InitiateRequest{UserID: 7})
	assertCode(t, err, 400, apperr.CodeInvalidParameters)

	_, err = f.orch.Initiate(ctx, InitiateRequest{UserID: 7, OrderNumber: "ORD-404"})
	assertCode(t, err, 404, apperr.CodeNotFound)

	someoneElses := f.order(t, 8, 0)
	_, err = f.orch.Initiate(ctx, InitiateRequest{UserID: 7, OrderNumber: someoneElses.OrderNumber})
	assertCode(t, err, 404, apperr.CodeNotFound)

	paid := f.order(t, 7, 1)
	_, err = f.orders.MarkPaid(ctx, paid.OrderNumber, order.PaymentDetails{TxnID: "x"})
	require.NoError(t, err)
	_, err = f.orch.Initiate(ctx, InitiateRequest{UserID: 7, OrderNumber: paid.OrderNumber})
	assertCode(t, err, 409, apperr.CodeAlreadyPaid)

	cancelled := f.order(t, 7, 1)
	_, err = f.orders.Cancel(ctx, 7, cancelled.ID, "changed my mind")
	require.NoError(t, err)
	_, err = f.orch.Initiate(ctx, InitiateRequest{UserID: 7, OrderNumber: cancelled.OrderNumber})
	assertCode(t, err, 409, apperr.CodeConflict)

	noPhone := f.order(t, 8, 0)
	_, err = f.orch.Initiate(ctx, InitiateRequest{UserID: 8, OrderNumber: noPhone.OrderNumber})
	assertCode(t, err, 400, apperr.CodeInvalidParameters)

	resp, err := f.orch.Initiate(ctx, InitiateRequest{UserID: 8, OrderNumber: noPhone.OrderNumber, Phone: "0899999999"})
	require.NoError(t, err)
	assert.Equal(t, "0899999999", resp.Phone)
}

func TestInitiate_RateLimitedThenFreshTxnID(t *testing.T) {
	f := newFixture(t, nil)
	o := f.order(t, 7, 1)
	ctx := context.Background()

	first := f.initiate(t, o)

	_, err := f.orch.Initiate(ctx, InitiateRequest{UserID: 7, OrderNumber: o.OrderNumber})
	assertCode(t, err, 429, apperr.CodeRateLimitExceeded)
	e, _ := apperr.As(err)
	assert.Equal(t, 1, e.RetryAfter)

	// An identical request inside the cache window gets the same payload.
	f.clock.Advance(2 * time.Second)
	again := f.initiate(t, o)
	assert.Equal(t, first.TxnID, again.TxnID)

	// Once that attempt has failed, a retry mints a new txnid.
	_, err = f.orch.ReconcileFailure(ctx, callback(first, "failure", "200.00"))
	require.NoError(t, err)
	f.clock.Advance(2 * time.Second)
	retried := f.initiate(t, o)
	assert.NotEqual(t, first.TxnID, retried.TxnID)

	number, ok := OrderNumberFromTxnID(retried.TxnID)
	require.True(t, ok)
	assert.Equal(t, o.OrderNumber, number)
}

func TestInitiate_DuplicateInFlight(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Limiter = ratelimit.NewMemoryLimiter(100, time.Second, time.Now)
	})
	o := f.order(t, 7, 1)

	guard := ratelimit.NewMemoryGuard(f.clock.Now)
	f.orch.Guard = guard
	release, err := guard.Acquire(context.Background(), ratelimit.Key("payu", "dedup", o.OrderNumber), time.Minute)
	require.NoError(t, err)

	_, err = f.orch.Initiate(context.Background(), InitiateRequest{UserID: 7, OrderNumber: o.OrderNumber})
	assertCode(t, err, 409, apperr.CodeDuplicateTransaction)

	release()
	f.initiate(t, o)
}

func TestInitiate_GatewayFailures(t *testing.T) {
	t.Run("throttled by gateway", func(t *testing.T) {
		f := newFixture(t, func(d *Deps) {
			d.Signer = brokenSigner{err: apperr.RateLimited(apperr.CodeGatewayRateLimit, "too many requests", 60)}
		})
		o := f.order(t, 7, 1)
		_, err := f.orch.Initiate(context.Background(), InitiateRequest{UserID: 7, OrderNumber: o.OrderNumber})
		assertCode(t, err, 429, apperr.CodeGatewayRateLimit)
		e, _ := apperr.As(err)
		assert.Equal(t, 60, e.RetryAfter)
	})

	t.Run("breaker opens after repeated failures", func(t *testing.T) {
		f := newFixture(t, func(d *Deps) {
			d.Signer = brokenSigner{err: errors.New("upstream exploded")}
			d.Limiter = ratelimit.NewMemoryLimiter(100, time.Second, time.Now)
		})
		o := f.order(t, 7, 1)
		req := InitiateRequest{UserID: 7, OrderNumber: o.OrderNumber}

		for i := 0; i < 5; i++ {
			_, err := f.orch.Initiate(context.Background(), req)
			assertCode(t, err, 500, apperr.CodePaymentProcessing)
		}
		_, err := f.orch.Initiate(context.Background(), req)
		assertCode(t, err, 503, apperr.CodeServiceUnavailable)
		e, _ := apperr.As(err)
		assert.Equal(t, 60, e.RetryAfter)

		h := f.orch.Health()
		assert.Equal(t, "degraded", h.Status)
		assert.True(t, h.Gate.CircuitBreakerOpen)

		f.clock.Advance(61 * time.Second)
		assert.Equal(t, "healthy", f.orch.Health().Status)
	})
}

func TestReconcileSuccess_SettlesOnce(t *testing.T) {
	f := newFixture(t, nil)
	o := f.order(t, 7, 1)
	cb := callback(f.initiate(t, o), "success", "200.00")
	ctx := context.Background()

	out, err := f.orch.ReconcileSuccess(ctx, cb)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.False(t, out.AlreadyProcessed)
	assert.Equal(t, o.OrderNumber, out.OrderNumber)

	paid := f.reload(t, o.OrderNumber)
	assert.Equal(t, order.PaymentPaid, paid.PaymentStatus)
	require.NotNil(t, paid.PaymentDetails)
	assert.Equal(t, "403993715521", paid.PaymentDetails.MihPayID)
	assert.Equal(t, "****2346", paid.PaymentDetails.CardNum)
	assert.Equal(t, cb.TxnID, paid.PaymentDetails.TxnID)
	assert.Equal(t, "BR-20260301-1", paid.PaymentDetails.BankRefNum)
	require.NotNil(t, paid.PaymentDate)

	a, err := f.attempts.Get(ctx, cb.TxnID, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, AttemptSucceeded, a.Status)

	out, err = f.orch.ReconcileSuccess(ctx, cb)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.True(t, out.AlreadyProcessed)

	assert.Equal(t, paid.PaymentDate, f.reload(t, o.OrderNumber).PaymentDate)
	assert.Equal(t, 1, f.rec.count(notification.PaymentSuccess))
}

func TestReconcileSuccess_ConcurrentDeliveries(t *testing.T) {
	f := newFixture(t, nil)
	o := f.order(t, 7, 1)
	cb := callback(f.initiate(t, o), "success", "200.00")

	var settled, replays, inFlight int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := f.orch.ReconcileSuccess(context.Background(), cb)
			switch {
			case err != nil:
				if e, ok := apperr.As(err); ok && e.Code == apperr.CodeDuplicateTransaction {
					atomic.AddInt32(&inFlight, 1)
					return
				}
				t.Errorf("unexpected error: %v", err)
			case out.AlreadyProcessed:
				atomic.AddInt32(&replays, 1)
			default:
				atomic.AddInt32(&settled, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), settled)
	assert.Equal(t, int32(9), replays+inFlight)
	assert.Equal(t, 1, f.rec.count(notification.PaymentSuccess))
}

func TestReconcileSuccess_AmountTampered(t *testing.T) {
	f := newFixture(t, nil)
	o := f.order(t, 7, 1)
	cb := callback(f.initiate(t, o), "success", "1.00")

	_, err := f.orch.ReconcileSuccess(context.Background(), cb)
	assertCode(t, err, 400, apperr.CodeAmountMismatch)
	assert.Equal(t, "Payment verification failed", err.(*apperr.Error).Message)

	got := f.reload(t, o.OrderNumber)
	assert.Equal(t, order.PaymentFailed, got.PaymentStatus)
	assert.Contains(t, got.PaymentError, "Amount mismatch")
	assert.Nil(t, got.PaymentDetails)
	assert.Equal(t, 0, f.rec.count(notification.PaymentSuccess))
}

func TestReconcileSuccess_AmountWithinTolerance(t *testing.T) {
	f := newFixture(t, nil)
	o := f.order(t, 7, 1)
	cb := callback(f.initiate(t, o), "success", "200.01")

	out, err := f.orch.ReconcileSuccess(context.Background(), cb)
	require.NoError(t, err)
	assert.True(t, out.Success)
}

func TestReconcileSuccess_Rejections(t *testing.T) {
	f := newFixture(t, nil)
	o := f.order(t, 7, 1)
	resp := f.initiate(t, o)
	ctx := context.Background()

	forged := callback(resp, "success", "200.00")
	forged.Hash = strings.Repeat("0", 128)
	_, err := f.orch.ReconcileSuccess(ctx, forged)
	assertCode(t, err, 403, apperr.CodeInvalidSignature)
	assert.Equal(t, "Invalid payment signature", err.(*apperr.Error).Message)

	unsigned := callback(resp, "success", "200.00")
	unsigned.Hash = ""
	_, err = f.orch.ReconcileSuccess(ctx, unsigned)
	assertCode(t, err, 400, apperr.CodeInvalidParameters)

	orphan := callback(&InitiateResponse{TxnID: "ORD-404_PAY_1", Key: testKey}, "success", "200.00")
	_, err = f.orch.ReconcileSuccess(ctx, orphan)
	assertCode(t, err, 404, apperr.CodeNotFound)

	assert.Equal(t, order.PaymentAwaitingPayment, f.reload(t, o.OrderNumber).PaymentStatus)
}

func TestReconcileSuccess_GatewayReportsFailure(t *testing.T) {
	f := newFixture(t, nil)
	o := f.order(t, 7, 1)
	cb := callback(f.initiate(t, o), "failure", "200.00")

	out, err := f.orch.ReconcileSuccess(context.Background(), cb)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, "failure", out.Status)
	assert.Equal(t, order.PaymentAwaitingPayment, f.reload(t, o.OrderNumber).PaymentStatus)
}

func TestReconcileSuccess_UnrecordedPaymentIsLoud(t *testing.T) {
	var flaky *flakyOrders
	f := newFixture(t, func(d *Deps) {
		flaky = &flakyOrders{Orders: d.Orders}
		d.Orders = flaky
	})
	o := f.order(t, 7, 1)
	cb := callback(f.initiate(t, o), "success", "200.00")

	_, err := f.orch.ReconcileSuccess(context.Background(), cb)
	assertCode(t, err, 500, apperr.CodePaymentNotRecorded)
	assert.Equal(t, int32(3), atomic.LoadInt32(&flaky.calls))

	var loud bool
	for _, e := range f.hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && strings.Contains(e.Message, "manual reconciliation") {
			loud = true
			assert.Equal(t, cb.TxnID, e.Data["txnid"])
		}
	}
	assert.True(t, loud)
}

func TestReconcileFailure(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	t.Run("records gateway error", func(t *testing.T) {
		o := f.order(t, 7, 1)
		cb := callback(f.initiate(t, o), "failure", "200.00")
		cb.Error = "E308"
		cb.ErrorMessage = "Transaction declined by bank"
		cb.Hash = payu.ResponseHash(cb.response(""), testSalt)

		out, err := f.orch.ReconcileFailure(ctx, cb)
		require.NoError(t, err)
		assert.False(t, out.Success)

		got := f.reload(t, o.OrderNumber)
		assert.Equal(t, order.PaymentFailed, got.PaymentStatus)
		assert.Equal(t, "Transaction declined by bank", got.PaymentError)
		assert.Equal(t, 1, f.rec.count(notification.PaymentFailed))
		f.clock.Advance(2 * time.Second)
	})

	t.Run("unknown order is still acknowledged", func(t *testing.T) {
		out, err := f.orch.ReconcileFailure(ctx, Callback{TxnID: "ORD-404_PAY_1", Error: "E000"})
		require.NoError(t, err)
		assert.Equal(t, "ORD-404", out.OrderNumber)

		out, err = f.orch.ReconcileFailure(ctx, Callback{TxnID: "garbage"})
		require.NoError(t, err)
		assert.Empty(t, out.OrderNumber)
	})

	t.Run("bad signature is rejected", func(t *testing.T) {
		o := f.order(t, 7, 1)
		cb := callback(f.initiate(t, o), "failure", "200.00")
		cb.Hash = "abc"
		_, err := f.orch.ReconcileFailure(ctx, cb)
		assertCode(t, err, 403, apperr.CodeInvalidSignature)
		assert.Equal(t, order.PaymentAwaitingPayment, f.reload(t, o.OrderNumber).PaymentStatus)
		f.clock.Advance(2 * time.Second)
	})

	t.Run("never downgrades a paid order", func(t *testing.T) {
		o := f.order(t, 7, 1)
		resp := f.initiate(t, o)
		_, err := f.orch.ReconcileSuccess(ctx, callback(resp, "success", "200.00"))
		require.NoError(t, err)
		before := f.rec.count(notification.PaymentFailed)

		_, err = f.orch.ReconcileFailure(ctx, callback(resp, "failure", "200.00"))
		require.NoError(t, err)
		assert.Equal(t, order.PaymentPaid, f.reload(t, o.OrderNumber).PaymentStatus)
		assert.Equal(t, before, f.rec.count(notification.PaymentFailed))
	})
}

func TestStatusAndDetails(t *testing.T) {
	f := newFixture(t, nil)
	o := f.order(t, 7, 1)
	resp := f.initiate(t, o)
	ctx := context.Background()

	st, err := f.orch.Status(ctx, resp.TxnID)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentAwaitingPayment, st.PaymentStatus)
	assert.Equal(t, AttemptInitiated, st.AttemptStatus)

	_, err = f.orch.ReconcileSuccess(ctx, callback(resp, "success", "200.00"))
	require.NoError(t, err)

	d, err := f.orch.Details(ctx, 7, resp.TxnID)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPaid, d.PaymentStatus)
	require.NotNil(t, d.PaymentDetails)
	assert.Equal(t, "****2346", d.PaymentDetails.CardNum)

	_, err = f.orch.Details(ctx, 8, resp.TxnID)
	assertCode(t, err, 404, apperr.CodeNotFound)

	_, err = f.orch.Status(ctx, "nope")
	assertCode(t, err, 400, apperr.CodeInvalidParameters)
}

func TestReap_DropsExpiredAttempts(t *testing.T) {
	f := newFixture(t, nil)
	o := f.order(t, 7, 1)
	resp := f.initiate(t, o)

	f.clock.Advance(time.Hour)
	_, err := f.attempts.Get(context.Background(), resp.TxnID, f.clock.Now())
	assert.ErrorIs(t, err, ErrAttemptNotFound)

	n, err := f.orch.Reap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
