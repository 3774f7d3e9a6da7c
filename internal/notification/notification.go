// Package notification delivers best-effort user notifications for order and
// payment events.
package notification

import (
	"context"
	"fmt"
	"time"
)

type Type string

const (
	OrderCreated       Type = "ORDER_CREATED"
	PaymentSuccess     Type = "PAYMENT_SUCCESS"
	PaymentFailed      Type = "PAYMENT_FAILED"
	OrderStatusChanged Type = "ORDER_STATUS_CHANGED"
	OrderCancelled     Type = "ORDER_CANCELLED"
	DeliverySuccess    Type = "DELIVERY_SUCCESS"
)

var titles = map[Type]string{
	OrderCreated:       "Order placed",
	PaymentSuccess:     "Payment received",
	PaymentFailed:      "Payment failed",
	OrderStatusChanged: "Order updated",
	OrderCancelled:     "Order cancelled",
	DeliverySuccess:    "Order delivered",
}

var messages = map[Type]string{
	OrderCreated:       "Your order %s has been placed.",
	PaymentSuccess:     "We received the payment for order %s.",
	PaymentFailed:      "The payment for order %s did not go through.",
	OrderStatusChanged: "Order %s is now %s.",
	OrderCancelled:     "Order %s was cancelled.",
	DeliverySuccess:    "Order %s has been delivered.",
}

type Event struct {
	Type    Type              `json:"type"`
	UserID  int               `json:"userId"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
	Data    map[string]string `json:"data,omitempty"`
	At      time.Time         `json:"at"`
}

// ForOrder builds an event about an order. status is only used by
// ORDER_STATUS_CHANGED.
func ForOrder(typ Type, userID int, orderNumber, status string) Event {
	msg := messages[typ]
	if typ == OrderStatusChanged {
		msg = fmt.Sprintf(msg, orderNumber, status)
	} else {
		msg = fmt.Sprintf(msg, orderNumber)
	}
	data := map[string]string{"orderNumber": orderNumber}
	if status != "" {
		data["status"] = status
	}
	return Event{
		Type:    typ,
		UserID:  userID,
		Title:   titles[typ],
		Message: msg,
		Data:    data,
		At:      time.Now().UTC(),
	}
}

// Sender delivers one event to one channel.
type Sender interface {
	Send(ctx context.Context, e Event) error
}

// Notifier is what the order and payment flows depend on. Notify must return
// without waiting for delivery.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

type Nop struct{}

func (Nop) Notify(context.Context, Event) {}
