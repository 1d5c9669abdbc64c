package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storefront-service/internal/models"
	"storefront-service/internal/store"
	"storefront-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ValidationError is a client input error detected before any write
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// CheckoutLedger is the slice of the ledger store checkout writes to
type CheckoutLedger interface {
	PlaceOrder(ctx context.Context, order *models.Order, items []models.OrderItem, promo *store.PromotionApplication) error
}

// OrderEventPublisher publishes order lifecycle events
type OrderEventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
	PublishOrderFulfilled(ctx context.Context, event *models.OrderFulfilledEvent) error
	PublishFulfillmentFailed(ctx context.Context, event *models.FulfillmentFailedEvent) error
}

// CartItem is one client-submitted cart line
type CartItem struct {
	ProductID int64           `json:"product_id" binding:"required"`
	Name      string          `json:"name" binding:"required"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity" binding:"required,min=1"`
}

// AddressInput is the client-submitted shipping address
type AddressInput struct {
	Name       string `json:"name" binding:"required"`
	Line1      string `json:"line1" binding:"required"`
	City       string `json:"city" binding:"required"`
	PostalCode string `json:"postal_code" binding:"required"`
	Country    string `json:"country" binding:"required"`
}

// CheckoutRequest is the input to both checkout paths. UserID comes
// from the authenticated caller, never the payload.
type CheckoutRequest struct {
	UserID    int64        `json:"-"`
	Items     []CartItem   `json:"items" binding:"required,min=1"`
	Address   AddressInput `json:"address" binding:"required"`
	PromoCode string       `json:"promo_code"`
}

// CheckoutResponse is returned after a synchronous checkout commits
type CheckoutResponse struct {
	OrderID        int64           `json:"order_id"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Total          decimal.Decimal `json:"total"`
	PointsAwarded  int64           `json:"points_awarded"`
}

// SessionResponse is returned after a payment session is created
type SessionResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// CheckoutService orchestrates both checkout paths: the synchronous
// one that commits an order immediately, and the asynchronous one that
// defers order creation to the payment confirmation webhook.
type CheckoutService struct {
	ledger    CheckoutLedger
	evaluator *PromotionEvaluator
	payments  PaymentProvider
	publisher OrderEventPublisher
	logger    *zap.Logger

	successURL string
	cancelURL  string
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(
	ledger CheckoutLedger,
	evaluator *PromotionEvaluator,
	payments PaymentProvider,
	publisher OrderEventPublisher,
	successURL, cancelURL string,
) *CheckoutService {
	return &CheckoutService{
		ledger:     ledger,
		evaluator:  evaluator,
		payments:   payments,
		publisher:  publisher,
		logger:     util.GetLogger(),
		successURL: successURL,
		cancelURL:  cancelURL,
	}
}

// Checkout runs the synchronous path: validate, evaluate the promotion
// against current state, then commit order, items, loyalty points, and
// promotion usage in one transaction.
func (cs *CheckoutService) Checkout(ctx context.Context, req *CheckoutRequest) (*CheckoutResponse, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.Checkout")
	defer span.End()

	if err := validateCheckoutRequest(req); err != nil {
		util.CheckoutFailedTotal.WithLabelValues("invalid_input").Inc()
		return nil, err
	}

	subtotal := cartSubtotal(req.Items)

	evaluation, err := cs.evaluatePromo(ctx, req, subtotal)
	if err != nil {
		return nil, err
	}

	order, items := buildOrder(req, subtotal, evaluation, "")

	if err := cs.ledger.PlaceOrder(ctx, order, items, promotionApplication(evaluation, req.UserID)); err != nil {
		return nil, cs.mapPlaceOrderError(err)
	}

	points := order.Total.IntPart()
	util.OrdersPlacedTotal.Inc()
	util.LoyaltyPointsAwardedTotal.Add(float64(points))
	if evaluation != nil {
		util.PromotionsAppliedTotal.Inc()
	}
	cs.logger.Info("Order placed",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", order.UserID),
		zap.String("total", order.Total.String()))

	cs.publishOrderPlaced(ctx, order, items)

	return &CheckoutResponse{
		OrderID:        order.ID,
		Subtotal:       order.Subtotal,
		DiscountAmount: order.DiscountAmount,
		Total:          order.Total,
		PointsAwarded:  points,
	}, nil
}

// CreatePaymentSession runs the asynchronous path: validate, evaluate
// the promotion so the charged total is right, then open a provider
// session carrying everything fulfillment will need. No ledger writes
// happen here.
func (cs *CheckoutService) CreatePaymentSession(ctx context.Context, req *CheckoutRequest) (*SessionResponse, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.CreatePaymentSession")
	defer span.End()

	if err := validateCheckoutRequest(req); err != nil {
		util.CheckoutFailedTotal.WithLabelValues("invalid_input").Inc()
		return nil, err
	}

	subtotal := cartSubtotal(req.Items)

	evaluation, err := cs.evaluatePromo(ctx, req, subtotal)
	if err != nil {
		return nil, err
	}

	discount := decimal.Zero
	promoCode := ""
	if evaluation != nil {
		discount = evaluation.DiscountAmount
		promoCode = evaluation.Code
	}
	total := subtotal.Sub(discount)

	lineItems := make([]SessionLineItem, 0, len(req.Items))
	for _, item := range req.Items {
		lineItems = append(lineItems, SessionLineItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.Price,
			Quantity:  item.Quantity,
		})
	}

	session, err := cs.payments.CreateSession(ctx, &SessionRequest{
		LineItems: lineItems,
		Metadata: SessionMetadata{
			UserID:         req.UserID,
			PromoCode:      promoCode,
			Subtotal:       subtotal,
			DiscountAmount: discount,
			Total:          total,
			ShippingAddress: models.ShippingAddress{
				Name:       req.Address.Name,
				Line1:      req.Address.Line1,
				City:       req.Address.City,
				PostalCode: req.Address.PostalCode,
				Country:    req.Address.Country,
			},
		},
		SuccessURL: cs.successURL,
		CancelURL:  cs.cancelURL,
	})
	if err != nil {
		util.CheckoutFailedTotal.WithLabelValues("payment_provider").Inc()
		return nil, fmt.Errorf("failed to create payment session: %w", err)
	}

	util.PaymentSessionsCreatedTotal.Inc()
	cs.logger.Info("Payment session created",
		zap.String("session_id", session.ID),
		zap.Int64("user_id", req.UserID))

	return &SessionResponse{SessionID: session.ID, URL: session.URL}, nil
}

// evaluatePromo runs the evaluator when a code is present. Promotion
// state is never trusted from an earlier client-side check.
func (cs *CheckoutService) evaluatePromo(ctx context.Context, req *CheckoutRequest, subtotal decimal.Decimal) (*Evaluation, error) {
	if req.PromoCode == "" {
		return nil, nil
	}

	evaluation, err := cs.evaluator.Evaluate(ctx, req.PromoCode, req.UserID, subtotal)
	if err != nil {
		var promoErr *PromotionError
		if errors.As(err, &promoErr) {
			util.PromotionsRejectedTotal.WithLabelValues(promoErr.Reason).Inc()
		}
		return nil, err
	}
	return evaluation, nil
}

// mapPlaceOrderError converts commit-time promotion races into the same
// client-facing rejection shape the evaluator produces
func (cs *CheckoutService) mapPlaceOrderError(err error) error {
	switch {
	case errors.Is(err, store.ErrPromotionExhausted):
		util.PromotionsRejectedTotal.WithLabelValues(ReasonUsageLimitReached).Inc()
		return &PromotionError{Reason: ReasonUsageLimitReached}
	case errors.Is(err, store.ErrPersonalizedCodeUsed):
		util.PromotionsRejectedTotal.WithLabelValues(ReasonAlreadyUsed).Inc()
		return &PromotionError{Reason: ReasonAlreadyUsed}
	default:
		util.CheckoutFailedTotal.WithLabelValues("db_error").Inc()
		return fmt.Errorf("failed to place order: %w", err)
	}
}

func (cs *CheckoutService) publishOrderPlaced(ctx context.Context, order *models.Order, items []models.OrderItem) {
	event := &models.OrderPlacedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderPlaced,
			Timestamp: time.Now(),
		},
		OrderID:        order.ID,
		UserID:         order.UserID,
		Subtotal:       order.Subtotal,
		DiscountAmount: order.DiscountAmount,
		Total:          order.Total,
		PromoCode:      order.PromoCode.String,
		Items:          eventItems(items),
	}

	if err := cs.publisher.PublishOrderPlaced(ctx, event); err != nil {
		cs.logger.Error("Failed to publish OrderPlaced event", zap.Error(err))
	}
}

// validateCheckoutRequest rejects malformed carts and incomplete
// addresses before any storage access
func validateCheckoutRequest(req *CheckoutRequest) error {
	if req.UserID <= 0 {
		return &ValidationError{Msg: "missing user identity"}
	}
	if len(req.Items) == 0 {
		return &ValidationError{Msg: "cart is empty"}
	}
	for i, item := range req.Items {
		if item.ProductID <= 0 {
			return &ValidationError{Msg: fmt.Sprintf("cart line %d: missing product id", i)}
		}
		if item.Name == "" {
			return &ValidationError{Msg: fmt.Sprintf("cart line %d: missing name", i)}
		}
		if item.Price.LessThanOrEqual(decimal.Zero) {
			return &ValidationError{Msg: fmt.Sprintf("cart line %d: missing price", i)}
		}
		if item.Quantity < 1 {
			return &ValidationError{Msg: fmt.Sprintf("cart line %d: quantity must be at least 1", i)}
		}
	}

	addr := req.Address
	if addr.Name == "" || addr.Line1 == "" || addr.City == "" || addr.PostalCode == "" || addr.Country == "" {
		return &ValidationError{Msg: "shipping address is incomplete"}
	}
	return nil
}

// cartSubtotal sums price*quantity over the cart lines
func cartSubtotal(items []CartItem) decimal.Decimal {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return subtotal
}

// buildOrder assembles the order row and its item snapshots
func buildOrder(req *CheckoutRequest, subtotal decimal.Decimal, evaluation *Evaluation, sessionID string) (*models.Order, []models.OrderItem) {
	discount := decimal.Zero
	promoCode := sql.NullString{}
	if evaluation != nil {
		discount = evaluation.DiscountAmount
		promoCode = sql.NullString{String: evaluation.Code, Valid: true}
	}

	order := &models.Order{
		UserID:         req.UserID,
		Subtotal:       subtotal,
		DiscountAmount: discount,
		Total:          subtotal.Sub(discount),
		PromoCode:      promoCode,
		Status:         models.OrderStatusCompleted,
		ShippingAddress: models.ShippingAddress{
			Name:       req.Address.Name,
			Line1:      req.Address.Line1,
			City:       req.Address.City,
			PostalCode: req.Address.PostalCode,
			Country:    req.Address.Country,
		},
	}
	if sessionID != "" {
		order.CheckoutSessionID = sql.NullString{String: sessionID, Valid: true}
	}

	items := make([]models.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, models.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.Price,
			Quantity:  item.Quantity,
		})
	}
	return order, items
}

// promotionApplication translates an evaluation into the side effect
// that must commit with the order
func promotionApplication(evaluation *Evaluation, userID int64) *store.PromotionApplication {
	if evaluation == nil {
		return nil
	}
	if evaluation.Personalized {
		return &store.PromotionApplication{PersonalizedCode: evaluation.Code, UserID: userID}
	}
	return &store.PromotionApplication{PromotionID: evaluation.PromotionID, UserID: userID}
}

func eventItems(items []models.OrderItem) []models.OrderItemData {
	data := make([]models.OrderItemData, 0, len(items))
	for _, item := range items {
		data = append(data, models.OrderItemData{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}
	return data
}
