package product

import (
	"context"
	"errors"
	"sort"
	"sync"

	pkgerrors "github.com/pkg/errors"
)

var (
	ErrNotFound          = errors.New("product not found")
	ErrVariantNotFound   = errors.New("variant not found")
	ErrInsufficientStock = errors.New("insufficient stock")
)

type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id int) (Product, error)
	GetVariant(ctx context.Context, id int) (Variant, error)
	// DecrementStockIfAvailable subtracts qty only when stock >= qty at the
	// moment of the write.
	DecrementStockIfAvailable(ctx context.Context, variantID, qty int) (bool, error)
	// ReserveStock decrements every line or none of them.
	ReserveStock(ctx context.Context, lines []Reservation) error
	ReleaseStock(ctx context.Context, lines []Reservation) error
}

type InMemoryRepository struct {
	mu       sync.RWMutex
	products map[int]Product
	variants map[int]Variant
}

func NewInMemoryRepository(products []Product, variants []Variant) *InMemoryRepository {
	repo := &InMemoryRepository{
		products: make(map[int]Product, len(products)),
		variants: make(map[int]Variant, len(variants)),
	}
	for _, p := range products {
		p.Variants = nil
		repo.products[p.ID] = p
	}
	for _, v := range variants {
		repo.variants[v.ID] = v
	}
	return repo
}

func (r *InMemoryRepository) List(_ context.Context) ([]Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Product, 0, len(r.products))
	for _, p := range r.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *InMemoryRepository) GetByID(_ context.Context, id int) (Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.products[id]
	if !ok {
		return Product{}, ErrNotFound
	}
	for _, v := range r.variants {
		if v.ProductID == id {
			p.Variants = append(p.Variants, v)
		}
	}
	sort.Slice(p.Variants, func(i, j int) bool { return p.Variants[i].ID < p.Variants[j].ID })
	return p, nil
}

func (r *InMemoryRepository) GetVariant(_ context.Context, id int) (Variant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.variants[id]
	if !ok {
		return Variant{}, ErrVariantNotFound
	}
	return v, nil
}

func (r *InMemoryRepository) DecrementStockIfAvailable(_ context.Context, variantID, qty int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.variants[variantID]
	if !ok || !v.IsActive || qty <= 0 || v.Stock < qty {
		return false, nil
	}
	v.Stock -= qty
	r.variants[variantID] = v
	return true, nil
}

func (r *InMemoryRepository) ReserveStock(_ context.Context, lines []Reservation) error {
	lines = merge(lines)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, l := range lines {
		v, ok := r.variants[l.VariantID]
		if !ok || !v.IsActive || v.Stock < l.Quantity {
			return pkgerrors.Wrapf(ErrInsufficientStock, "variant %d", l.VariantID)
		}
	}
	for _, l := range lines {
		v := r.variants[l.VariantID]
		v.Stock -= l.Quantity
		r.variants[l.VariantID] = v
	}
	return nil
}

func (r *InMemoryRepository) ReleaseStock(_ context.Context, lines []Reservation) error {
	lines = merge(lines)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, l := range lines {
		v, ok := r.variants[l.VariantID]
		if !ok {
			continue
		}
		v.Stock += l.Quantity
		r.variants[l.VariantID] = v
	}
	return nil
}
