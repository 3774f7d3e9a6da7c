package cart

import (
	"time"

	"github.com/shopspring/decimal"
)

// Item is one cart line. UnitPrice is captured when the item is first added;
// VariantID 0 means the product is sold without variants.
type Item struct {
	ProductID int             `json:"productId"`
	VariantID int             `json:"variantId,omitempty"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	AddedAt   time.Time       `json:"addedAt"`
}

func (i Item) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Cart struct {
	UserID   int             `json:"userId"`
	Items    []Item          `json:"items"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

func newCart(userID int, items []Item) Cart {
	if items == nil {
		items = []Item{}
	}
	sub := decimal.Zero
	for _, it := range items {
		sub = sub.Add(it.LineTotal())
	}
	return Cart{UserID: userID, Items: items, Subtotal: sub}
}
