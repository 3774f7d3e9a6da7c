package order

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wichananm65/storefront-backend/internal/product"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending         PaymentStatus = "pending"
	PaymentAwaitingPayment PaymentStatus = "awaiting_payment"
	PaymentPaid            PaymentStatus = "paid"
	PaymentFailed          PaymentStatus = "failed"
	PaymentRefunded        PaymentStatus = "refunded"
)

type PaymentMethod string

const (
	MethodCOD    PaymentMethod = "COD"
	MethodPayU   PaymentMethod = "PayU"
	MethodPayPal PaymentMethod = "PayPal"
	MethodStripe PaymentMethod = "Stripe"
)

var methods = []PaymentMethod{MethodCOD, MethodPayU, MethodPayPal, MethodStripe}

// ParsePaymentMethod accepts any casing of a supported method.
func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	for _, m := range methods {
		if strings.EqualFold(s, string(m)) {
			return m, true
		}
	}
	return "", false
}

// InitialPaymentStatus is pending for cash on delivery and awaiting_payment
// for every online gateway.
func (m PaymentMethod) InitialPaymentStatus() PaymentStatus {
	if m == MethodCOD {
		return PaymentPending
	}
	return PaymentAwaitingPayment
}

// Item is the price snapshot taken at checkout.
type Item struct {
	ProductID int             `json:"productId"`
	VariantID int             `json:"variantId,omitempty"`
	Name      string          `json:"name"`
	Quantity  int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	LineTotal decimal.Decimal `json:"lineTotal"`
}

type PaymentDetails struct {
	MihPayID   string          `json:"mihpayid"`
	Mode       string          `json:"mode"`
	BankRefNum string          `json:"bankRefNum"`
	CardNum    string          `json:"cardnum"`
	TxnID      string          `json:"txnid"`
	Amount     decimal.Decimal `json:"amount"`
}

type StatusChange struct {
	Status Status    `json:"status"`
	At     time.Time `json:"at"`
	Note   string    `json:"note,omitempty"`
}

type Order struct {
	ID             string          `json:"id"`
	OrderNumber    string          `json:"orderNumber"`
	UserID         int             `json:"userId"`
	AddressID      int             `json:"addressId"`
	Items          []Item          `json:"items"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Tax            decimal.Decimal `json:"tax"`
	Shipping       decimal.Decimal `json:"shipping"`
	Total          decimal.Decimal `json:"total"`
	Status         Status          `json:"status"`
	PaymentMethod  PaymentMethod   `json:"paymentMethod"`
	PaymentStatus  PaymentStatus   `json:"paymentStatus"`
	PaymentDetails *PaymentDetails `json:"paymentDetails,omitempty"`
	PaymentError   string          `json:"paymentError,omitempty"`
	PaymentDate    *time.Time      `json:"paymentDate,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	StatusHistory  []StatusChange  `json:"statusHistory"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Reservations lists the variant stock held by the order.
func (o Order) Reservations() []product.Reservation {
	out := make([]product.Reservation, 0, len(o.Items))
	for _, it := range o.Items {
		if it.VariantID > 0 {
			out = append(out, product.Reservation{VariantID: it.VariantID, Quantity: it.Quantity})
		}
	}
	return out
}

// next lists the forward transitions of each status.
var next = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered},
}

func CanTransition(from, to Status) bool {
	for _, s := range next[from] {
		if s == to {
			return true
		}
	}
	return false
}

func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// NewOrderNumber returns ORD-<unixMillis>-<4 uppercase alphanumerics>.
func NewOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:4])
	return "ORD-" + strconv.FormatInt(now.UnixMilli(), 10) + "-" + suffix
}

// Totals computes subtotal and total from the item snapshot.
func Totals(items []Item, tax, shipping decimal.Decimal) (subtotal, total decimal.Decimal) {
	subtotal = decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.LineTotal)
	}
	return subtotal, subtotal.Add(tax).Add(shipping)
}
