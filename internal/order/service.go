package order

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/wichananm65/storefront-backend/internal/apperr"
	"github.com/wichananm65/storefront-backend/internal/notification"
	"github.com/wichananm65/storefront-backend/internal/product"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 50
)

// StockReleaser returns reserved stock to the catalog when an order is
// cancelled.
type StockReleaser interface {
	ReleaseStock(ctx context.Context, lines []product.Reservation) error
}

type Service struct {
	repo     Repository
	stock    StockReleaser
	notifier notification.Notifier
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewService(repo Repository, stock StockReleaser, notifier notification.Notifier, log logrus.FieldLogger) *Service {
	if notifier == nil {
		notifier = notification.Nop{}
	}
	return &Service{repo: repo, stock: stock, notifier: notifier, log: log, now: time.Now}
}

type Page struct {
	Orders []Order `json:"orders"`
	Total  int     `json:"total"`
	Page   int     `json:"page"`
	Limit  int     `json:"limit"`
}

type Tracking struct {
	OrderNumber   string         `json:"orderNumber"`
	Status        Status         `json:"status"`
	PaymentStatus PaymentStatus  `json:"paymentStatus"`
	History       []StatusChange `json:"statusHistory"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// Create persists a new pending order built from an item snapshot. Identity,
// order number, initial statuses and the first history entry are assigned
// here.
func (s *Service) Create(ctx context.Context, o Order) (Order, error) {
	if len(o.Items) == 0 {
		return Order{}, apperr.Validation("order must contain at least one item")
	}
	if o.Total.IsNegative() || o.Subtotal.IsNegative() {
		return Order{}, apperr.Validation("order totals must not be negative")
	}

	now := s.now().UTC()
	o.ID = uuid.NewString()
	o.Status = StatusPending
	o.PaymentStatus = o.PaymentMethod.InitialPaymentStatus()
	o.StatusHistory = []StatusChange{{Status: StatusPending, At: now, Note: "Order placed"}}
	o.CreatedAt, o.UpdatedAt = now, now

	var err error
	for attempt := 0; attempt < 3; attempt++ {
		o.OrderNumber = NewOrderNumber(now)
		if err = s.repo.Create(ctx, o); err != ErrDuplicateNumber {
			break
		}
	}
	if err != nil {
		return Order{}, apperr.Internal("failed to create order", err)
	}
	return o, nil
}

func (s *Service) Get(ctx context.Context, id string) (Order, error) {
	o, err := s.repo.Get(ctx, id)
	return o, s.classify(err)
}

// GetForUser hides orders owned by someone else behind a not-found error.
func (s *Service) GetForUser(ctx context.Context, userID int, id string) (Order, error) {
	o, err := s.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if o.UserID != userID {
		return Order{}, apperr.NotFound("Order not found")
	}
	return o, nil
}

func (s *Service) GetByNumber(ctx context.Context, number string) (Order, error) {
	o, err := s.repo.GetByNumber(ctx, number)
	return o, s.classify(err)
}

func (s *Service) ListForUser(ctx context.Context, userID int, f Filter) (Page, error) {
	if f.Status != "" && !ValidStatus(f.Status) {
		return Page{}, apperr.Validation("invalid status filter")
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	orders, total, err := s.repo.ListForUser(ctx, userID, f)
	if err != nil {
		return Page{}, apperr.Internal("failed to list orders", err)
	}
	return Page{Orders: orders, Total: total, Page: f.Page, Limit: f.Limit}, nil
}

// Cancel lets the owner cancel an order that has not shipped yet.
func (s *Service) Cancel(ctx context.Context, userID int, id, reason string) (Order, error) {
	o, err := s.GetForUser(ctx, userID, id)
	if err != nil {
		return Order{}, err
	}
	return s.cancel(ctx, o, reason)
}

func (s *Service) cancel(ctx context.Context, o Order, reason string) (Order, error) {
	if !CanTransition(o.Status, StatusCancelled) {
		return Order{}, apperr.Conflict(apperr.CodeConflict, fmt.Sprintf("Order cannot be cancelled once %s", o.Status))
	}
	if reason == "" {
		reason = "Cancelled by customer"
	}
	updated, err := s.transition(ctx, o, Transition{From: o.Status, To: StatusCancelled, Note: reason})
	if err != nil {
		return Order{}, err
	}

	// the compare-and-set above succeeds once per order, so stock is
	// returned at most once
	if lines := updated.Reservations(); len(lines) > 0 && s.stock != nil {
		if err := s.stock.ReleaseStock(ctx, lines); err != nil {
			s.log.WithError(err).WithField("order_number", updated.OrderNumber).Error("failed to release stock for cancelled order")
		}
	}
	s.notify(ctx, notification.OrderCancelled, updated)
	return updated, nil
}

// StartProcessing is the cash-on-delivery settlement step: moving a pending
// order to processing also marks a pending payment as paid.
func (s *Service) StartProcessing(ctx context.Context, id, note string) (Order, error) {
	o, err := s.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	return s.startProcessing(ctx, o, note)
}

func (s *Service) startProcessing(ctx context.Context, o Order, note string) (Order, error) {
	if o.Status != StatusPending {
		return Order{}, apperr.Validation(fmt.Sprintf("Invalid status transition from %s to %s", o.Status, StatusProcessing))
	}
	settle := o.PaymentStatus == PaymentPending
	updated, err := s.transition(ctx, o, Transition{From: StatusPending, To: StatusProcessing, SettleCOD: settle, Note: note})
	if err != nil {
		return Order{}, err
	}
	s.notify(ctx, notification.OrderStatusChanged, updated)
	if settle && updated.PaymentStatus == PaymentPaid {
		s.notify(ctx, notification.PaymentSuccess, updated)
	}
	return updated, nil
}

// UpdateStatus is the admin status setter. It routes cancellation and the
// pending to processing step through their named transitions.
func (s *Service) UpdateStatus(ctx context.Context, id string, to Status, note string) (Order, error) {
	if !ValidStatus(to) {
		return Order{}, apperr.Validation("invalid status")
	}
	o, err := s.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}

	switch {
	case to == StatusCancelled:
		if note == "" {
			note = "Cancelled by admin"
		}
		return s.cancel(ctx, o, note)
	case o.Status == StatusPending && to == StatusProcessing:
		return s.startProcessing(ctx, o, note)
	case !CanTransition(o.Status, to):
		return Order{}, apperr.Validation(fmt.Sprintf("Invalid status transition from %s to %s", o.Status, to))
	}

	updated, err := s.transition(ctx, o, Transition{From: o.Status, To: to, Note: note})
	if err != nil {
		return Order{}, err
	}
	s.notify(ctx, notification.OrderStatusChanged, updated)
	if to == StatusDelivered {
		s.notify(ctx, notification.DeliverySuccess, updated)
	}
	return updated, nil
}

// MarkPaid records a confirmed gateway payment. It reports false without
// error when the order was already settled.
func (s *Service) MarkPaid(ctx context.Context, number string, d PaymentDetails) (bool, error) {
	return s.repo.MarkPaid(ctx, number, d, s.now().UTC())
}

// MarkPaymentFailed never downgrades a paid order.
func (s *Service) MarkPaymentFailed(ctx context.Context, number, reason string) (bool, error) {
	return s.repo.MarkPaymentFailed(ctx, number, reason, s.now().UTC())
}

func (s *Service) Track(ctx context.Context, userID int, id string) (Tracking, error) {
	o, err := s.GetForUser(ctx, userID, id)
	if err != nil {
		return Tracking{}, err
	}
	return Tracking{
		OrderNumber:   o.OrderNumber,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		History:       o.StatusHistory,
		UpdatedAt:     o.UpdatedAt,
	}, nil
}

func (s *Service) transition(ctx context.Context, o Order, t Transition) (Order, error) {
	t.At = s.now().UTC()
	updated, err := s.repo.Transition(ctx, o.ID, t)
	switch err {
	case nil:
		return updated, nil
	case ErrStaleStatus:
		return Order{}, apperr.Conflict(apperr.CodeConflict, "Order was updated by another request, please retry")
	default:
		return Order{}, s.classify(err)
	}
}

func (s *Service) notify(ctx context.Context, typ notification.Type, o Order) {
	s.notifier.Notify(ctx, notification.ForOrder(typ, o.UserID, o.OrderNumber, string(o.Status)))
}

func (s *Service) classify(err error) error {
	switch err {
	case nil:
		return nil
	case ErrNotFound:
		return apperr.NotFound("Order not found")
	default:
		return apperr.Internal("order lookup failed", err)
	}
}
