// Package payment drives PayU payment attempts for existing orders: it
// builds signed initiation payloads and reconciles the gateway's success and
// failure callbacks against the order ledger.
package payment

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	txnSeparator = "_PAY_"

	DefaultAttemptTTL = time.Hour
)

type AttemptStatus string

const (
	AttemptInitiated AttemptStatus = "initiated"
	AttemptSucceeded AttemptStatus = "succeeded"
	AttemptFailed    AttemptStatus = "failed"
)

// Attempt links one minted txnid to the order it pays for.
type Attempt struct {
	TxnID       string          `json:"txnid"`
	OrderNumber string          `json:"orderNumber"`
	UserID      int             `json:"userId"`
	Amount      decimal.Decimal `json:"amount"`
	Status      AttemptStatus   `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
	ExpiresAt   time.Time       `json:"expiresAt"`
}

func (a Attempt) Live(now time.Time) bool {
	return now.Before(a.ExpiresAt)
}

// NewTxnID mints "{orderNumber}_PAY_{unixMillis}".
func NewTxnID(orderNumber string, now time.Time) string {
	return fmt.Sprintf("%s%s%d", orderNumber, txnSeparator, now.UnixMilli())
}

// OrderNumberFromTxnID strips the attempt suffix from a txnid.
func OrderNumberFromTxnID(txnid string) (string, bool) {
	number, _, found := strings.Cut(txnid, txnSeparator)
	if !found || number == "" {
		return "", false
	}
	return number, true
}

// MaskCard keeps the last four digits of a card number.
func MaskCard(card string) string {
	digits := make([]rune, 0, len(card))
	for _, r := range card {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	if len(digits) < 4 {
		return ""
	}
	return "****" + string(digits[len(digits)-4:])
}
