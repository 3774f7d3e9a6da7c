package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/wichananm65/storefront-backend/internal/address"
	"github.com/wichananm65/storefront-backend/internal/apperr"
	"github.com/wichananm65/storefront-backend/internal/cart"
	"github.com/wichananm65/storefront-backend/internal/notification"
	"github.com/wichananm65/storefront-backend/internal/order"
	"github.com/wichananm65/storefront-backend/internal/product"
	"github.com/wichananm65/storefront-backend/internal/ratelimit"
)

// DefaultGuardTTL bounds how long one order placement may hold the per-user
// checkout guard.
const DefaultGuardTTL = 30 * time.Second

type Catalog interface {
	GetProduct(ctx context.Context, id int) (product.Product, error)
	GetVariant(ctx context.Context, id int) (product.Variant, error)
	DecrementStockIfAvailable(ctx context.Context, variantID, qty int) (bool, error)
	ReserveStock(ctx context.Context, lines []product.Reservation) error
	ReleaseStock(ctx context.Context, lines []product.Reservation) error
}

type Carts interface {
	GetCart(ctx context.Context, userID int) (cart.Cart, error)
	ClearCart(ctx context.Context, userID int) error
}

type Addresses interface {
	Get(ctx context.Context, userID, addressID int) (address.Address, error)
}

type Orders interface {
	Create(ctx context.Context, o order.Order) (order.Order, error)
}

type Deps struct {
	Catalog   Catalog
	Carts     Carts
	Addresses Addresses
	Orders    Orders
	Sessions  SessionStore
	Notifier  notification.Notifier
	Pricer    Pricer
	TTL       time.Duration

	// Guard serialises order placement per user. Defaults to an in-process guard.
	Guard    ratelimit.Guard
	GuardTTL time.Duration
}

type Option func(*Service)

// WithClock replaces time.Now for session expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service assembles orders from a cart or a buy-now session.
type Service struct {
	Deps
	log logrus.FieldLogger
	now func() time.Time
}

func NewService(d Deps, log logrus.FieldLogger, opts ...Option) *Service {
	if d.TTL <= 0 {
		d.TTL = DefaultSessionTTL
	}
	if d.Guard == nil {
		d.Guard = ratelimit.NewMemoryGuard(nil)
	}
	if d.Notifier == nil {
		d.Notifier = notification.Nop{}
	}
	if d.GuardTTL <= 0 {
		d.GuardTTL = DefaultGuardTTL
	}
	s := &Service{Deps: d, log: log, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

type CreateOrderRequest struct {
	UserID        int
	AddressID     int
	PaymentMethod string
	Mode          Mode
	SessionID     string
	Notes         string
}

type Summary struct {
	Mode      Mode            `json:"mode"`
	SessionID string          `json:"sessionId,omitempty"`
	Items     []order.Item    `json:"items"`
	ItemCount int             `json:"itemCount"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Tax       decimal.Decimal `json:"tax"`
	Shipping  decimal.Decimal `json:"shipping"`
	Total     decimal.Decimal `json:"total"`
}

// CreateOrder validates and prices the source items, reserves stock for all
// of them in one step and only then persists the order. The source is
// claimed before any stock moves: a buy-now session is completed up front
// and reopened if a later step fails, and cart placement holds a per-user
// guard until the cart is cleared. A failed insert gives the stock back.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (order.Order, error) {
	method, ok := order.ParsePaymentMethod(req.PaymentMethod)
	if !ok {
		return order.Order{}, apperr.Validation("Invalid payment method")
	}
	if req.AddressID <= 0 {
		return order.Order{}, apperr.Validation("addressId is required")
	}
	if _, err := s.Addresses.Get(ctx, req.UserID, req.AddressID); err != nil {
		if err == address.ErrNotFound {
			return order.Order{}, apperr.NotFound("Address not found")
		}
		return order.Order{}, apperr.Internal("address lookup failed", err)
	}

	release, err := s.Guard.Acquire(ctx, ratelimit.Key("checkout", "create", req.UserID), s.GuardTTL)
	if err != nil {
		if _, ok := apperr.As(err); ok {
			return order.Order{}, err
		}
		return order.Order{}, apperr.Internal("checkout guard unavailable", err)
	}
	defer release()

	lines, session, err := s.resolve(ctx, req.UserID, req.Mode, req.SessionID)
	if err != nil {
		return order.Order{}, err
	}
	if session != nil {
		if err := s.claim(ctx, session.ID); err != nil {
			return order.Order{}, err
		}
	}

	created, err := s.place(ctx, req, method, lines)
	if err != nil {
		if session != nil {
			s.reopen(session.ID, req.UserID)
		}
		return order.Order{}, err
	}

	entry := s.log.WithFields(logrus.Fields{"order_number": created.OrderNumber, "user_id": created.UserID})
	if session == nil {
		if err := s.Carts.ClearCart(ctx, req.UserID); err != nil {
			entry.WithError(err).Warn("failed to clear cart")
		}
	}

	s.Notifier.Notify(ctx, notification.ForOrder(notification.OrderCreated, created.UserID, created.OrderNumber, string(created.Status)))
	entry.WithField("total", created.Total.String()).Info("order created")
	return created, nil
}

// place snapshots and prices the lines, reserves stock and inserts the order.
func (s *Service) place(ctx context.Context, req CreateOrderRequest, method order.PaymentMethod, lines []Line) (order.Order, error) {
	items, err := s.snapshot(ctx, lines)
	if err != nil {
		return order.Order{}, err
	}
	subtotal, tax, shipping, total := s.totals(items)

	o := order.Order{
		UserID:        req.UserID,
		AddressID:     req.AddressID,
		Items:         items,
		Subtotal:      subtotal,
		Tax:           tax,
		Shipping:      shipping,
		Total:         total,
		PaymentMethod: method,
		Notes:         req.Notes,
	}
	reserved := o.Reservations()
	if err := s.reserve(ctx, reserved); err != nil {
		return order.Order{}, err
	}

	created, err := s.Orders.Create(ctx, o)
	if err != nil {
		if relErr := s.Catalog.ReleaseStock(context.WithoutCancel(ctx), reserved); relErr != nil {
			s.log.WithError(relErr).WithField("user_id", req.UserID).Error("failed to release stock after order insert failed")
		}
		return order.Order{}, err
	}
	return created, nil
}

// claim completes the session so no other request can place it again.
func (s *Service) claim(ctx context.Context, sessionID string) error {
	ok, err := s.Sessions.MarkCompleted(ctx, sessionID, s.now().UTC())
	if err != nil {
		return apperr.Internal("failed to claim checkout session", err)
	}
	if !ok {
		return apperr.NotFound("Checkout session not found or expired")
	}
	return nil
}

func (s *Service) reopen(sessionID string, userID int) {
	entry := s.log.WithFields(logrus.Fields{"session_id": sessionID, "user_id": userID})
	ok, err := s.Sessions.Reopen(context.Background(), sessionID, s.now().UTC())
	switch {
	case err != nil:
		entry.WithError(err).Error("failed to reopen checkout session after order placement failed")
	case !ok:
		entry.Warn("checkout session was not reopened")
	}
}

// CreateBuyNow starts a buy-now session for a single item. Any other active
// session of the user is expired first.
func (s *Service) CreateBuyNow(ctx context.Context, userID int, line Line) (Session, error) {
	if line.ProductID <= 0 || line.Quantity <= 0 {
		return Session{}, apperr.Validation("productId and a positive quantity are required")
	}
	items, err := s.snapshot(ctx, []Line{line})
	if err != nil {
		return Session{}, err
	}
	subtotal, tax, shipping, total := s.totals(items)

	now := s.now().UTC()
	if err := s.Sessions.ExpireActiveForUser(ctx, userID, now); err != nil {
		return Session{}, apperr.Internal("failed to reset checkout session", err)
	}
	sess := Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Items:     items,
		Subtotal:  subtotal,
		Tax:       tax,
		Shipping:  shipping,
		Total:     total,
		Mode:      ModeBuyNow,
		Status:    SessionActive,
		ExpiresAt: now.Add(s.TTL),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Sessions.Create(ctx, sess); err != nil {
		if err == ErrActiveSession {
			return Session{}, apperr.Conflict(apperr.CodeConflict, "Another checkout is in progress, please retry")
		}
		return Session{}, apperr.Internal("failed to create checkout session", err)
	}
	return sess, nil
}

func (s *Service) ActiveSession(ctx context.Context, userID int) (Session, error) {
	sess, err := s.Sessions.Active(ctx, userID, s.now())
	if err == ErrSessionNotFound {
		return Session{}, apperr.NotFound("Checkout session not found or expired")
	}
	if err != nil {
		return Session{}, apperr.Internal("failed to load checkout session", err)
	}
	return sess, nil
}

// Summary prices the current cart or buy-now selection without reserving
// anything.
func (s *Service) Summary(ctx context.Context, userID int, mode Mode, sessionID string) (Summary, error) {
	lines, session, err := s.resolve(ctx, userID, mode, sessionID)
	if err != nil {
		return Summary{}, err
	}
	items, err := s.snapshot(ctx, lines)
	if err != nil {
		return Summary{}, err
	}
	subtotal, tax, shipping, total := s.totals(items)
	sum := Summary{
		Mode:     ModeCart,
		Items:    items,
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Total:    total,
	}
	if session != nil {
		sum.Mode, sum.SessionID = ModeBuyNow, session.ID
	}
	for _, it := range items {
		sum.ItemCount += it.Quantity
	}
	return sum, nil
}

// Reap deletes sessions whose expiry has passed.
func (s *Service) Reap(ctx context.Context) (int64, error) {
	return s.Sessions.DeleteExpired(ctx, s.now())
}

func (s *Service) resolve(ctx context.Context, userID int, mode Mode, sessionID string) ([]Line, *Session, error) {
	if mode == "" {
		mode = ModeCart
		if sessionID != "" {
			mode = ModeBuyNow
		}
	}

	switch mode {
	case ModeCart:
		c, err := s.Carts.GetCart(ctx, userID)
		if err != nil {
			return nil, nil, apperr.Internal("failed to load cart", err)
		}
		if len(c.Items) == 0 {
			return nil, nil, apperr.Validation("Cart is empty")
		}
		lines := make([]Line, 0, len(c.Items))
		for _, it := range c.Items {
			lines = append(lines, Line{ProductID: it.ProductID, VariantID: it.VariantID, Quantity: it.Quantity})
		}
		return lines, nil, nil

	case ModeBuyNow:
		now := s.now()
		var (
			sess Session
			err  error
		)
		if sessionID != "" {
			sess, err = s.Sessions.Get(ctx, sessionID)
			if err == nil && (sess.UserID != userID || !sess.Usable(now)) {
				err = ErrSessionNotFound
			}
		} else {
			sess, err = s.Sessions.Active(ctx, userID, now)
		}
		if err == ErrSessionNotFound {
			return nil, nil, apperr.NotFound("Checkout session not found or expired")
		}
		if err != nil {
			return nil, nil, apperr.Internal("failed to load checkout session", err)
		}
		return sess.lines(), &sess, nil
	}
	return nil, nil, apperr.Validation("mode must be cart or buyNow")
}

// snapshot checks every line against live catalog data and freezes its
// price. Nothing is mutated, so a failure here leaves stock untouched.
func (s *Service) snapshot(ctx context.Context, lines []Line) ([]order.Item, error) {
	items := make([]order.Item, 0, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, apperr.Validation("quantity must be at least 1")
		}
		p, err := s.Catalog.GetProduct(ctx, l.ProductID)
		if err == product.ErrNotFound {
			return nil, apperr.NotFound(fmt.Sprintf("Product %d not found", l.ProductID))
		}
		if err != nil {
			return nil, apperr.Internal("product lookup failed", err)
		}
		if !p.Active() {
			return nil, apperr.Validation(fmt.Sprintf("Product %s is unavailable", p.Name))
		}

		var v *product.Variant
		switch {
		case l.VariantID > 0:
			got, err := s.Catalog.GetVariant(ctx, l.VariantID)
			if err == product.ErrVariantNotFound {
				return nil, apperr.NotFound(fmt.Sprintf("Variant %d not found", l.VariantID))
			}
			if err != nil {
				return nil, apperr.Internal("variant lookup failed", err)
			}
			if got.ProductID != p.ID || !got.IsActive {
				return nil, apperr.Validation(fmt.Sprintf("Variant %s of %s is unavailable", got.Name, p.Name))
			}
			if got.Stock < l.Quantity {
				return nil, insufficientStock(p.Name)
			}
			v = &got
		case len(p.Variants) > 0:
			return nil, apperr.Validation(fmt.Sprintf("Product %s requires a variant", p.Name))
		}

		name := p.Name
		if v != nil && v.Name != "" {
			name = p.Name + " - " + v.Name
		}
		unit := product.UnitPrice(p, v)
		items = append(items, order.Item{
			ProductID: p.ID,
			VariantID: l.VariantID,
			Name:      name,
			Quantity:  l.Quantity,
			UnitPrice: unit,
			LineTotal: unit.Mul(decimal.NewFromInt(int64(l.Quantity))),
		})
	}
	return items, nil
}

func (s *Service) totals(items []order.Item) (subtotal, tax, shipping, total decimal.Decimal) {
	subtotal, _ = order.Totals(items, decimal.Zero, decimal.Zero)
	tax, shipping = s.Pricer.Price(subtotal)
	_, total = order.Totals(items, tax, shipping)
	return subtotal, tax, shipping, total
}

// reserve takes stock for every line or for none. A single line goes
// through the conditional decrement directly.
func (s *Service) reserve(ctx context.Context, lines []product.Reservation) error {
	switch len(lines) {
	case 0:
		return nil
	case 1:
		ok, err := s.Catalog.DecrementStockIfAvailable(ctx, lines[0].VariantID, lines[0].Quantity)
		if err != nil {
			return apperr.Internal("failed to reserve stock", err)
		}
		if !ok {
			return insufficientStock("the selected item")
		}
		return nil
	}
	err := s.Catalog.ReserveStock(ctx, lines)
	if errors.Is(err, product.ErrInsufficientStock) {
		return insufficientStock("one or more items")
	}
	if err != nil {
		return apperr.Internal("failed to reserve stock", err)
	}
	return nil
}

func insufficientStock(what string) error {
	return apperr.Conflict(apperr.CodeInsufficientStock, "Insufficient stock for "+what)
}
