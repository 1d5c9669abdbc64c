package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"storefront-service/internal/models"
	"storefront-service/internal/store"
	"storefront-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FulfillmentLedger is the slice of the ledger the reconciler needs
type FulfillmentLedger interface {
	GetOrderBySessionID(ctx context.Context, sessionID string) (*models.Order, error)
	GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
	GetPromotionByCode(ctx context.Context, code string) (*models.Promotion, error)
	PlaceOrder(ctx context.Context, order *models.Order, items []models.OrderItem, promo *store.PromotionApplication) error
}

// Reconciler turns confirmed payment sessions into ledger orders. It is
// driven by the payment provider's webhook and must tolerate duplicate
// delivery, concurrent delivery, and transient write conflicts.
type Reconciler struct {
	ledger      FulfillmentLedger
	publisher   OrderEventPublisher
	logger      *zap.Logger
	maxAttempts int
	baseBackoff time.Duration
}

// NewReconciler creates a new fulfillment reconciler
func NewReconciler(ledger FulfillmentLedger, publisher OrderEventPublisher) *Reconciler {
	return &Reconciler{
		ledger:      ledger,
		publisher:   publisher,
		logger:      util.GetLogger(),
		maxAttempts: 3,
		baseBackoff: 100 * time.Millisecond,
	}
}

// FulfillSession creates the order for a paid checkout session. The
// session payload is the single source of truth: line items, amounts,
// shipping, and promotion code all come from it, never from client
// state. Redelivery of an already-fulfilled session is a no-op.
func (r *Reconciler) FulfillSession(ctx context.Context, session *CheckoutSession) error {
	ctx, span := util.StartSpan(ctx, "Reconciler.FulfillSession")
	defer span.End()

	start := time.Now()
	defer func() {
		util.FulfillmentLatency.Observe(time.Since(start).Seconds())
	}()

	if session.PaymentStatus != PaymentStatusPaid {
		r.logger.Info("Ignoring session with non-paid status",
			zap.String("session_id", session.ID),
			zap.String("payment_status", session.PaymentStatus))
		return nil
	}

	existing, err := r.ledger.GetOrderBySessionID(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("failed to check for existing order: %w", err)
	}
	if existing != nil {
		util.FulfillmentDuplicatesTotal.Inc()
		r.logger.Info("Session already fulfilled, skipping",
			zap.String("session_id", session.ID),
			zap.Int64("order_id", existing.ID))
		return nil
	}

	order, items, err := r.orderFromSession(ctx, session)
	if err != nil {
		util.FulfillmentFailedTotal.WithLabelValues("integrity").Inc()
		r.logger.Error("Payment session failed integrity checks",
			zap.String("session_id", session.ID),
			zap.Error(err))
		r.publishFulfillmentFailed(ctx, session, err)
		return err
	}

	promoApp, err := r.promotionFromSession(ctx, session)
	if err != nil {
		util.FulfillmentFailedTotal.WithLabelValues("integrity").Inc()
		r.logger.Error("Payment session promotion could not be resolved",
			zap.String("session_id", session.ID),
			zap.Error(err))
		r.publishFulfillmentFailed(ctx, session, err)
		return err
	}

	if err := r.placeWithRetry(ctx, session, order, items, promoApp); err != nil {
		return err
	}

	util.OrdersFulfilledTotal.Inc()
	util.LoyaltyPointsAwardedTotal.Add(float64(order.Total.IntPart()))
	r.logger.Info("Order fulfilled from payment session",
		zap.Int64("order_id", order.ID),
		zap.String("session_id", session.ID),
		zap.String("total", order.Total.String()))

	r.publishOrderFulfilled(ctx, order, items, session.ID)
	return nil
}

// placeWithRetry commits the fulfillment transaction, retrying transient
// write conflicts with exponential backoff. A unique violation on the
// session key means a concurrent redelivery committed first and is
// treated as success. Anything else propagates: financial events must
// not vanish.
func (r *Reconciler) placeWithRetry(ctx context.Context, session *CheckoutSession, order *models.Order, items []models.OrderItem, promoApp *store.PromotionApplication) error {
	backoff := r.baseBackoff

	var err error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		err = r.ledger.PlaceOrder(ctx, order, items, promoApp)
		if err == nil {
			return nil
		}

		if store.IsUniqueViolation(err) {
			util.FulfillmentDuplicatesTotal.Inc()
			r.logger.Info("Concurrent fulfillment won the race, treating as success",
				zap.String("session_id", session.ID))
			return nil
		}

		if !store.IsSerializationFailure(err) {
			util.FulfillmentFailedTotal.WithLabelValues("non_retryable").Inc()
			r.publishFulfillmentFailed(ctx, session, err)
			return fmt.Errorf("fulfillment failed for session %s: %w", session.ID, err)
		}

		util.FulfillmentRetriesTotal.Inc()
		r.logger.Warn("Transient conflict during fulfillment, retrying",
			zap.String("session_id", session.ID),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt < r.maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	util.FulfillmentFailedTotal.WithLabelValues("retries_exhausted").Inc()
	r.logger.Error("Fulfillment retries exhausted",
		zap.String("session_id", session.ID),
		zap.Error(err))
	r.publishFulfillmentFailed(ctx, session, err)
	return fmt.Errorf("fulfillment retries exhausted for session %s: %w", session.ID, err)
}

// orderFromSession rebuilds the order from the session's own recorded
// line items and amounts. Every line item must map back to a ledger
// product via its tag; a miss is a non-retryable integrity failure.
func (r *Reconciler) orderFromSession(ctx context.Context, session *CheckoutSession) (*models.Order, []models.OrderItem, error) {
	if len(session.LineItems) == 0 {
		return nil, nil, fmt.Errorf("session %s carries no line items", session.ID)
	}

	ids := make([]int64, 0, len(session.LineItems))
	for _, li := range session.LineItems {
		ids = append(ids, li.ProductID)
	}

	products, err := r.ledger.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve session products: %w", err)
	}
	known := make(map[int64]bool, len(products))
	for _, p := range products {
		known[p.ID] = true
	}

	items := make([]models.OrderItem, 0, len(session.LineItems))
	for _, li := range session.LineItems {
		if !known[li.ProductID] {
			return nil, nil, fmt.Errorf("session %s line item references unknown product %d", session.ID, li.ProductID)
		}
		items = append(items, models.OrderItem{
			ProductID: li.ProductID,
			Name:      li.Name,
			UnitPrice: li.UnitPrice,
			Quantity:  li.Quantity,
		})
	}

	meta := session.Metadata
	order := &models.Order{
		UserID:            meta.UserID,
		Subtotal:          meta.Subtotal,
		DiscountAmount:    meta.DiscountAmount,
		Total:             meta.Total,
		Status:            models.OrderStatusCompleted,
		CheckoutSessionID: sql.NullString{String: session.ID, Valid: true},
		ShippingAddress:   meta.ShippingAddress,
	}
	if meta.PromoCode != "" {
		order.PromoCode = sql.NullString{String: meta.PromoCode, Valid: true}
	}

	return order, items, nil
}

// promotionFromSession resolves the session's promotion code into the
// side effect that must commit with the order
func (r *Reconciler) promotionFromSession(ctx context.Context, session *CheckoutSession) (*store.PromotionApplication, error) {
	code := session.Metadata.PromoCode
	if code == "" {
		return nil, nil
	}

	if _, ok := parsePersonalizedCode(code); ok {
		return &store.PromotionApplication{
			PersonalizedCode: code,
			UserID:           session.Metadata.UserID,
		}, nil
	}

	promo, err := r.ledger.GetPromotionByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to look up promotion %q: %w", code, err)
	}
	if promo == nil {
		return nil, fmt.Errorf("session %s references unknown promotion %q", session.ID, code)
	}

	return &store.PromotionApplication{
		PromotionID: promo.ID,
		UserID:      session.Metadata.UserID,
	}, nil
}

func (r *Reconciler) publishOrderFulfilled(ctx context.Context, order *models.Order, items []models.OrderItem, sessionID string) {
	event := &models.OrderFulfilledEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderFulfilled,
			Timestamp: time.Now(),
		},
		OrderID:           order.ID,
		UserID:            order.UserID,
		CheckoutSessionID: sessionID,
		Total:             order.Total,
		PromoCode:         order.PromoCode.String,
		Items:             eventItems(items),
	}

	if err := r.publisher.PublishOrderFulfilled(ctx, event); err != nil {
		r.logger.Error("Failed to publish OrderFulfilled event", zap.Error(err))
	}
}

func (r *Reconciler) publishFulfillmentFailed(ctx context.Context, session *CheckoutSession, cause error) {
	event := &models.FulfillmentFailedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeFulfillmentFailed,
			Timestamp: time.Now(),
		},
		CheckoutSessionID: session.ID,
		UserID:            session.Metadata.UserID,
		Reason:            cause.Error(),
	}

	if err := r.publisher.PublishFulfillmentFailed(ctx, event); err != nil {
		r.logger.Error("Failed to publish FulfillmentFailed event", zap.Error(err))
	}
}
