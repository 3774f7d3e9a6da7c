package checkout

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/wichananm65/storefront-backend/internal/order"
)

type Mode string

const (
	ModeCart   Mode = "cart"
	ModeBuyNow Mode = "buyNow"
)

type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionExpired   SessionStatus = "expired"
)

const DefaultSessionTTL = 30 * time.Minute

// Line is a requested product and quantity before pricing.
type Line struct {
	ProductID int `json:"productId"`
	VariantID int `json:"variantId,omitempty"`
	Quantity  int `json:"quantity"`
}

// Session holds a buy-now selection between the product page and order
// placement. Prices are a preview; the order re-prices from the catalog.
type Session struct {
	ID        string          `json:"id"`
	UserID    int             `json:"userId"`
	Items     []order.Item    `json:"items"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Tax       decimal.Decimal `json:"tax"`
	Shipping  decimal.Decimal `json:"shipping"`
	Total     decimal.Decimal `json:"total"`
	Mode      Mode            `json:"mode"`
	Status    SessionStatus   `json:"status"`
	ExpiresAt time.Time       `json:"expiresAt"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Usable reports whether the session can still be checked out at now.
func (s Session) Usable(now time.Time) bool {
	return s.Status == SessionActive && now.Before(s.ExpiresAt)
}

func (s Session) lines() []Line {
	out := make([]Line, 0, len(s.Items))
	for _, it := range s.Items {
		out = append(out, Line{ProductID: it.ProductID, VariantID: it.VariantID, Quantity: it.Quantity})
	}
	return out
}

// Pricer computes tax and shipping for a subtotal. Both are zero unless
// configured.
type Pricer struct {
	TaxRate      decimal.Decimal
	FlatShipping decimal.Decimal
}

func (p Pricer) Price(subtotal decimal.Decimal) (tax, shipping decimal.Decimal) {
	tax = subtotal.Mul(p.TaxRate).Round(2)
	shipping = p.FlatShipping
	if subtotal.IsZero() {
		shipping = decimal.Zero
	}
	return tax, shipping
}
