package cart

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var (
	ErrItemNotFound = errors.New("cart item not found")
)

// Repository stores one cart per user keyed by (productID, variantID).
type Repository interface {
	Items(ctx context.Context, userID int) ([]Item, error)
	// Add adjusts the line quantity by item.Quantity, inserting it when
	// absent and removing it once the result drops to zero or below.
	Add(ctx context.Context, userID int, item Item) error
	SetQuantity(ctx context.Context, userID, productID, variantID, qty int) error
	Remove(ctx context.Context, userID, productID, variantID int) error
	Clear(ctx context.Context, userID int) error
}

type lineKey struct {
	productID int
	variantID int
}

type InMemoryRepository struct {
	mu    sync.Mutex
	carts map[int]map[lineKey]Item
}

func NewInMemoryRepository(seed map[int][]Item) *InMemoryRepository {
	repo := &InMemoryRepository{carts: make(map[int]map[lineKey]Item)}
	for userID, items := range seed {
		lines := make(map[lineKey]Item, len(items))
		for _, it := range items {
			lines[lineKey{it.ProductID, it.VariantID}] = it
		}
		repo.carts[userID] = lines
	}
	return repo
}

func (r *InMemoryRepository) Items(_ context.Context, userID int) ([]Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Item, 0, len(r.carts[userID]))
	for _, it := range r.carts[userID] {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].ProductID < out[j].ProductID
		}
		return out[i].AddedAt.Before(out[j].AddedAt)
	})
	return out, nil
}

func (r *InMemoryRepository) Add(_ context.Context, userID int, item Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	lines, ok := r.carts[userID]
	if !ok {
		lines = make(map[lineKey]Item)
		r.carts[userID] = lines
	}
	k := lineKey{item.ProductID, item.VariantID}
	if cur, ok := lines[k]; ok {
		cur.Quantity += item.Quantity
		if cur.Quantity <= 0 {
			delete(lines, k)
		} else {
			lines[k] = cur
		}
		return nil
	}
	if item.Quantity > 0 {
		lines[k] = item
	}
	return nil
}

func (r *InMemoryRepository) SetQuantity(_ context.Context, userID, productID, variantID, qty int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := lineKey{productID, variantID}
	cur, ok := r.carts[userID][k]
	if !ok {
		return ErrItemNotFound
	}
	if qty <= 0 {
		delete(r.carts[userID], k)
		return nil
	}
	cur.Quantity = qty
	r.carts[userID][k] = cur
	return nil
}

func (r *InMemoryRepository) Remove(_ context.Context, userID, productID, variantID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := lineKey{productID, variantID}
	if _, ok := r.carts[userID][k]; !ok {
		return ErrItemNotFound
	}
	delete(r.carts[userID], k)
	return nil
}

func (r *InMemoryRepository) Clear(_ context.Context, userID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.carts, userID)
	return nil
}
