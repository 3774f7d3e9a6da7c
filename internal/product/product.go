package product

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Product maps to the `public.product` table. Variants are loaded only on
// detail reads.
type Product struct {
	ID          int             `json:"productId"`
	Name        string          `json:"productName"`
	Price       decimal.Decimal `json:"productPrice"`
	Status      string          `json:"status"`
	Category    *string         `json:"category,omitempty"`
	Description string          `json:"productDesc"`
	Pic         *string         `json:"productPic,omitempty"`
	Variants    []Variant       `json:"variants,omitempty"`
	CreatedAt   *time.Time      `json:"createdAt,omitempty"`
	UpdatedAt   *time.Time      `json:"updatedAt,omitempty"`
}

func (p Product) Active() bool {
	return p.Status == StatusActive
}

type Variant struct {
	ID        int             `json:"variantId"`
	ProductID int             `json:"productId"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	IsActive  bool            `json:"isActive"`
}

// Reservation is one stock line held for an order.
type Reservation struct {
	VariantID int
	Quantity  int
}

// UnitPrice is the variant price when one is set, else the product price.
func UnitPrice(p Product, v *Variant) decimal.Decimal {
	if v != nil && v.Price.IsPositive() {
		return v.Price
	}
	return p.Price
}

// merge folds duplicate variant lines together and drops empty ones.
func merge(lines []Reservation) []Reservation {
	idx := make(map[int]int, len(lines))
	out := make([]Reservation, 0, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 || l.VariantID <= 0 {
			continue
		}
		if i, ok := idx[l.VariantID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		idx[l.VariantID] = len(out)
		out = append(out, l)
	}
	return out
}
