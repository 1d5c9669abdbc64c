package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderPlaced       = "ORDER_PLACED"
	EventTypeOrderFulfilled    = "ORDER_FULFILLED"
	EventTypeFulfillmentFailed = "FULFILLMENT_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderItemData represents item data carried in events
type OrderItemData struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

// OrderPlacedEvent published when a synchronous checkout commits
type OrderPlacedEvent struct {
	BaseEvent
	OrderID        int64           `json:"order_id"`
	UserID         int64           `json:"user_id"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Total          decimal.Decimal `json:"total"`
	PromoCode      string          `json:"promo_code,omitempty"`
	Items          []OrderItemData `json:"items"`
}

// OrderFulfilledEvent published when an async payment session is
// reconciled into an order
type OrderFulfilledEvent struct {
	BaseEvent
	OrderID           int64           `json:"order_id"`
	UserID            int64           `json:"user_id"`
	CheckoutSessionID string          `json:"checkout_session_id"`
	Total             decimal.Decimal `json:"total"`
	PromoCode         string          `json:"promo_code,omitempty"`
	Items             []OrderItemData `json:"items"`
}

// FulfillmentFailedEvent published when a payment confirmation could not
// be reconciled after all retries. Consumers alert on these: money may
// have moved without a corresponding order.
type FulfillmentFailedEvent struct {
	BaseEvent
	CheckoutSessionID string `json:"checkout_session_id"`
	UserID            int64  `json:"user_id,omitempty"`
	Reason            string `json:"reason"`
}
