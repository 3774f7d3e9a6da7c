package order

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrNotFound        = errors.New("order not found")
	ErrStaleStatus     = errors.New("order status changed concurrently")
	ErrDuplicateNumber = errors.New("order number already exists")
)

type Filter struct {
	Status Status
	Page   int
	Limit  int
}

func (f Filter) offset() int {
	return (f.Page - 1) * f.Limit
}

// Transition moves an order from one status to another. With SettleCOD set a
// pending payment becomes paid in the same write.
type Transition struct {
	From      Status
	To        Status
	SettleCOD bool
	At        time.Time
	Note      string
}

// Repository writes are compare-and-set: each one names the state it
// expects and reports when the stored row no longer matches.
type Repository interface {
	Create(ctx context.Context, o Order) error
	Get(ctx context.Context, id string) (Order, error)
	GetByNumber(ctx context.Context, number string) (Order, error)
	ListForUser(ctx context.Context, userID int, f Filter) ([]Order, int, error)
	// Transition returns ErrStaleStatus when the status is no longer t.From.
	Transition(ctx context.Context, id string, t Transition) (Order, error)
	// MarkPaid reports false when the order is missing or already settled.
	MarkPaid(ctx context.Context, number string, d PaymentDetails, at time.Time) (bool, error)
	// MarkPaymentFailed never touches a paid or refunded order.
	MarkPaymentFailed(ctx context.Context, number, reason string, at time.Time) (bool, error)
}

type InMemoryRepository struct {
	mu     sync.Mutex
	orders map[string]Order
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{orders: make(map[string]Order)}
}

// clone detaches slices so callers never alias stored state.
func clone(o Order) Order {
	o.Items = append([]Item(nil), o.Items...)
	o.StatusHistory = append([]StatusChange(nil), o.StatusHistory...)
	if o.PaymentDetails != nil {
		d := *o.PaymentDetails
		o.PaymentDetails = &d
	}
	return o
}

func (r *InMemoryRepository) Create(_ context.Context, o Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.orders {
		if existing.OrderNumber == o.OrderNumber {
			return ErrDuplicateNumber
		}
	}
	r.orders[o.ID] = clone(o)
	return nil
}

func (r *InMemoryRepository) Get(_ context.Context, id string) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return clone(o), nil
}

func (r *InMemoryRepository) byNumber(number string) (Order, bool) {
	for _, o := range r.orders {
		if o.OrderNumber == number {
			return o, true
		}
	}
	return Order{}, false
}

func (r *InMemoryRepository) GetByNumber(_ context.Context, number string) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.byNumber(number)
	if !ok {
		return Order{}, ErrNotFound
	}
	return clone(o), nil
}

func (r *InMemoryRepository) ListForUser(_ context.Context, userID int, f Filter) ([]Order, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := make([]Order, 0)
	for _, o := range r.orders {
		if o.UserID != userID || (f.Status != "" && o.Status != f.Status) {
			continue
		}
		matched = append(matched, o)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := len(matched)
	start := f.offset()
	if start >= total {
		return []Order{}, total, nil
	}
	end := start + f.Limit
	if end > total {
		end = total
	}
	out := make([]Order, 0, end-start)
	for _, o := range matched[start:end] {
		out = append(out, clone(o))
	}
	return out, total, nil
}

func (r *InMemoryRepository) Transition(_ context.Context, id string, t Transition) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	if o.Status != t.From {
		return Order{}, ErrStaleStatus
	}
	o = clone(o)
	o.Status = t.To
	if t.SettleCOD && o.PaymentStatus == PaymentPending {
		o.PaymentStatus = PaymentPaid
		at := t.At
		o.PaymentDate = &at
	}
	o.StatusHistory = append(o.StatusHistory, StatusChange{Status: t.To, At: t.At, Note: t.Note})
	o.UpdatedAt = t.At
	r.orders[id] = o
	return clone(o), nil
}

func (r *InMemoryRepository) MarkPaid(_ context.Context, number string, d PaymentDetails, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.byNumber(number)
	if !ok {
		return false, nil
	}
	switch o.PaymentStatus {
	case PaymentPending, PaymentAwaitingPayment, PaymentFailed:
	default:
		return false, nil
	}
	o = clone(o)
	o.PaymentStatus = PaymentPaid
	o.PaymentDetails = &d
	o.PaymentError = ""
	o.PaymentDate = &at
	o.UpdatedAt = at
	r.orders[o.ID] = o
	return true, nil
}

func (r *InMemoryRepository) MarkPaymentFailed(_ context.Context, number, reason string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.byNumber(number)
	if !ok || o.PaymentStatus == PaymentPaid || o.PaymentStatus == PaymentRefunded {
		return false, nil
	}
	o = clone(o)
	o.PaymentStatus = PaymentFailed
	o.PaymentError = reason
	o.UpdatedAt = at
	r.orders[o.ID] = o
	return true, nil
}
