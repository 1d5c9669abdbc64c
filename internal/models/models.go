package models

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// User represents a registered customer in the ledger
type User struct {
	ID            int64     `db:"id" json:"id"`
	Email         string    `db:"email" json:"email"`
	FirstName     string    `db:"first_name" json:"first_name"`
	LastName      string    `db:"last_name" json:"last_name"`
	LoyaltyPoints int64     `db:"loyalty_points" json:"loyalty_points"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Product represents a product in the catalog
type Product struct {
	ID            int64           `db:"id" json:"id"`
	Name          string          `db:"name" json:"name"`
	Price         decimal.Decimal `db:"price" json:"price"`
	Category      string          `db:"category" json:"category"`
	IsNew         bool            `db:"is_new" json:"is_new"`
	IsBestSeller  bool            `db:"is_best_seller" json:"is_best_seller"`
	WishlistCount int             `db:"wishlist_count" json:"wishlist_count"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// Promotion represents a promotion code definition
type Promotion struct {
	ID             int64           `db:"id" json:"id"`
	Code           string          `db:"code" json:"code"`
	DiscountType   string          `db:"discount_type" json:"discount_type"`
	DiscountValue  decimal.Decimal `db:"discount_value" json:"discount_value"`
	Active         bool            `db:"active" json:"active"`
	ApplicableTier sql.NullString  `db:"applicable_tier" json:"applicable_tier,omitempty"`
	StartsAt       sql.NullTime    `db:"starts_at" json:"starts_at,omitempty"`
	EndsAt         sql.NullTime    `db:"ends_at" json:"ends_at,omitempty"`
	MaxUses        sql.NullInt64   `db:"max_uses" json:"max_uses,omitempty"`
	MaxUsesPerUser int             `db:"max_uses_per_user" json:"max_uses_per_user"`
	UsageCount     int64           `db:"usage_count" json:"usage_count"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// PersonalizedCodeUsage records that a user consumed a generated
// user-scoped code. One row per (user_id, code).
type PersonalizedCodeUsage struct {
	ID     int64     `db:"id" json:"id"`
	UserID int64     `db:"user_id" json:"user_id"`
	Code   string    `db:"code" json:"code"`
	UsedAt time.Time `db:"used_at" json:"used_at"`
}

// ShippingAddress is the address snapshot stored on an order
type ShippingAddress struct {
	Name       string `db:"ship_name" json:"name"`
	Line1      string `db:"ship_line1" json:"line1"`
	City       string `db:"ship_city" json:"city"`
	PostalCode string `db:"ship_postal_code" json:"postal_code"`
	Country    string `db:"ship_country" json:"country"`
}

// Order represents a completed customer order. Rows are immutable once
// created; CheckoutSessionID is the idempotency key for the async path.
type Order struct {
	ID                int64           `db:"id" json:"id"`
	UserID            int64           `db:"user_id" json:"user_id"`
	Subtotal          decimal.Decimal `db:"subtotal" json:"subtotal"`
	DiscountAmount    decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	Total             decimal.Decimal `db:"total" json:"total"`
	PromoCode         sql.NullString  `db:"promo_code" json:"promo_code,omitempty"`
	Status            string          `db:"status" json:"status"`
	CheckoutSessionID sql.NullString  `db:"checkout_session_id" json:"checkout_session_id,omitempty"`
	ShippingAddress   `json:"shipping_address"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// OrderItem is a purchase-time snapshot of a product, deliberately
// decoupled from the live product row so historical orders survive
// catalog price changes.
type OrderItem struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   int64           `db:"order_id" json:"order_id"`
	ProductID int64           `db:"product_id" json:"product_id"`
	Name      string          `db:"name" json:"name"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
	Quantity  int             `db:"quantity" json:"quantity"`
}

// Order statuses. Only COMPLETED is produced by the checkout and
// fulfillment paths; the rest reserve names for later transitions.
const (
	OrderStatusCompleted = "COMPLETED"
	OrderStatusShipped   = "SHIPPED"
	OrderStatusRefunded  = "REFUNDED"
	OrderStatusCancelled = "CANCELLED"
)

// Discount types
const (
	DiscountTypePercentage   = "PERCENTAGE"
	DiscountTypeFixedAmount  = "FIXED_AMOUNT"
	DiscountTypeFreeShipping = "FREE_SHIPPING"
)

// Loyalty tiers
const (
	TierBronze = "BRONZE"
	TierSilver = "SILVER"
	TierGold   = "GOLD"
)

// Tier thresholds in loyalty points. Shared by every code path that
// checks tiers; they must not drift between endpoints.
const (
	TierSilverThreshold = 100
	TierGoldThreshold   = 500
)

// TierForPoints returns the loyalty tier for a point balance
func TierForPoints(points int64) string {
	switch {
	case points >= TierGoldThreshold:
		return TierGold
	case points >= TierSilverThreshold:
		return TierSilver
	default:
		return TierBronze
	}
}

// MeetsTier reports whether a point balance satisfies the given tier
func MeetsTier(points int64, tier string) bool {
	switch tier {
	case TierGold:
		return points >= TierGoldThreshold
	case TierSilver:
		return points >= TierSilverThreshold
	default:
		return true
	}
}

// Feedback is a free-form product review held in the catalog store
type Feedback struct {
	ProductID int64     `json:"product_id"`
	UserID    int64     `json:"user_id"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}
