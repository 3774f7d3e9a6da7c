package cart

import (
	"context"
	"errors"
	"time"

	"github.com/wichananm65/storefront-backend/internal/product"
)

var (
	ErrInvalidQuantity    = errors.New("quantity must be a non-zero integer")
	ErrVariantRequired    = errors.New("variantId is required for this product")
	ErrProductUnavailable = errors.New("product is not available")
)

// Catalog is the subset of the product service the cart reads prices from.
type Catalog interface {
	GetProduct(ctx context.Context, id int) (product.Product, error)
	GetVariant(ctx context.Context, id int) (product.Variant, error)
}

// Service orchestrates cart operations.
type Service struct {
	repo    Repository
	catalog Catalog
	now     func() time.Time
}

func NewService(repo Repository, catalog Catalog) *Service {
	return &Service{repo: repo, catalog: catalog, now: time.Now}
}

func (s *Service) GetCart(ctx context.Context, userID int) (Cart, error) {
	items, err := s.repo.Items(ctx, userID)
	if err != nil {
		return Cart{}, err
	}
	return newCart(userID, items), nil
}

// AddItem adds qty of a product (or one of its variants) to the cart. A
// negative qty decreases the line and drops it at zero.
func (s *Service) AddItem(ctx context.Context, userID, productID, variantID, qty int) (Cart, error) {
	if qty == 0 {
		return Cart{}, ErrInvalidQuantity
	}
	item := Item{ProductID: productID, VariantID: variantID, Quantity: qty, AddedAt: s.now().UTC()}
	if qty > 0 {
		p, v, err := s.resolve(ctx, productID, variantID)
		if err != nil {
			return Cart{}, err
		}
		item.Name = p.Name
		item.UnitPrice = product.UnitPrice(p, v)
	}
	if err := s.repo.Add(ctx, userID, item); err != nil {
		return Cart{}, err
	}
	return s.GetCart(ctx, userID)
}

func (s *Service) UpdateItem(ctx context.Context, userID, productID, variantID, qty int) (Cart, error) {
	if qty < 0 {
		return Cart{}, ErrInvalidQuantity
	}
	if err := s.repo.SetQuantity(ctx, userID, productID, variantID, qty); err != nil {
		return Cart{}, err
	}
	return s.GetCart(ctx, userID)
}

func (s *Service) RemoveItem(ctx context.Context, userID, productID, variantID int) (Cart, error) {
	if err := s.repo.Remove(ctx, userID, productID, variantID); err != nil {
		return Cart{}, err
	}
	return s.GetCart(ctx, userID)
}

func (s *Service) ClearCart(ctx context.Context, userID int) error {
	return s.repo.Clear(ctx, userID)
}

func (s *Service) resolve(ctx context.Context, productID, variantID int) (product.Product, *product.Variant, error) {
	p, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return product.Product{}, nil, err
	}
	if !p.Active() {
		return product.Product{}, nil, ErrProductUnavailable
	}
	if variantID == 0 {
		if len(p.Variants) > 0 {
			return product.Product{}, nil, ErrVariantRequired
		}
		return p, nil, nil
	}
	v, err := s.catalog.GetVariant(ctx, variantID)
	if err != nil {
		return product.Product{}, nil, err
	}
	if v.ProductID != p.ID || !v.IsActive {
		return product.Product{}, nil, ErrProductUnavailable
	}
	return p, &v, nil
}
