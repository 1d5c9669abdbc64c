package service

import (
	"context"
	"testing"
	"time"

	"storefront-service/internal/models"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReconciler(ledger *fakeLedger) (*Reconciler, *fakePublisher) {
	publisher := &fakePublisher{}
	r := NewReconciler(ledger, publisher)
	r.baseBackoff = time.Millisecond
	return r, publisher
}

func paidSession() *CheckoutSession {
	return &CheckoutSession{
		ID:            "cs_live_42",
		PaymentStatus: PaymentStatusPaid,
		LineItems: []SessionLineItem{
			{ProductID: 1, Name: "Espresso Maker", UnitPrice: money("50.00"), Quantity: 2},
		},
		Metadata: SessionMetadata{
			UserID:         7,
			Subtotal:       money("100.00"),
			DiscountAmount: money("0"),
			Total:          money("100.00"),
			ShippingAddress: models.ShippingAddress{
				Name:       "Ada Lovelace",
				Line1:      "12 Analytical Way",
				City:       "London",
				PostalCode: "EC1A 1AA",
				Country:    "GB",
			},
		},
	}
}

func ledgerWithProduct() *fakeLedger {
	ledger := newFakeLedger()
	ledger.products[1] = &models.Product{ID: 1, Name: "Espresso Maker", Price: money("50.00")}
	return ledger
}

func TestFulfillSessionCreatesOrderFromSessionState(t *testing.T) {
	ledger := ledgerWithProduct()
	r, publisher := newTestReconciler(ledger)

	err := r.FulfillSession(context.Background(), paidSession())
	require.NoError(t, err)

	require.Len(t, ledger.placed, 1)
	placed := ledger.placed[0]
	assert.Equal(t, int64(7), placed.order.UserID)
	assert.True(t, placed.order.Total.Equal(money("100.00")))
	assert.Equal(t, "cs_live_42", placed.order.CheckoutSessionID.String)
	assert.Equal(t, "London", placed.order.City)
	require.Len(t, placed.items, 1)
	assert.Equal(t, int64(1), placed.items[0].ProductID)

	require.Len(t, publisher.fulfilled, 1)
	assert.Equal(t, "cs_live_42", publisher.fulfilled[0].CheckoutSessionID)
}

func TestFulfillSessionAppliesPromotionFromMetadata(t *testing.T) {
	ledger := ledgerWithProduct()
	ledger.promos["SAVE10"] = activePromo(3, "SAVE10", models.DiscountTypePercentage, "10")
	r, _ := newTestReconciler(ledger)

	session := paidSession()
	session.Metadata.PromoCode = "SAVE10"
	session.Metadata.DiscountAmount = money("10.00")
	session.Metadata.Total = money("90.00")

	err := r.FulfillSession(context.Background(), session)
	require.NoError(t, err)

	require.Len(t, ledger.placed, 1)
	require.NotNil(t, ledger.placed[0].promo)
	assert.Equal(t, int64(3), ledger.placed[0].promo.PromotionID)
	assert.Equal(t, int64(1), ledger.promos["SAVE10"].UsageCount)
	assert.True(t, ledger.placed[0].order.Total.Equal(money("90.00")))
}

func TestFulfillSessionIgnoresUnpaidStatus(t *testing.T) {
	ledger := ledgerWithProduct()
	r, _ := newTestReconciler(ledger)

	session := paidSession()
	session.PaymentStatus = "unpaid"

	err := r.FulfillSession(context.Background(), session)
	require.NoError(t, err)
	assert.Empty(t, ledger.placed)
}

func TestFulfillSessionRedeliveryIsNoOp(t *testing.T) {
	ledger := ledgerWithProduct()
	r, publisher := newTestReconciler(ledger)

	session := paidSession()
	require.NoError(t, r.FulfillSession(context.Background(), session))
	require.NoError(t, r.FulfillSession(context.Background(), session))

	assert.Len(t, ledger.placed, 1, "redelivery must not create a second order")
	assert.Len(t, publisher.fulfilled, 1)
}

func TestFulfillSessionRetriesTransientConflicts(t *testing.T) {
	ledger := ledgerWithProduct()
	ledger.placeErrs = []error{
		&pq.Error{Code: "40001"},
		&pq.Error{Code: "40001"},
	}
	r, _ := newTestReconciler(ledger)

	err := r.FulfillSession(context.Background(), paidSession())
	require.NoError(t, err)
	assert.Len(t, ledger.placed, 1, "third attempt must commit exactly one order")
}

func TestFulfillSessionExhaustedRetriesSurfaceAsError(t *testing.T) {
	ledger := ledgerWithProduct()
	ledger.placeErrs = []error{
		&pq.Error{Code: "40001"},
		&pq.Error{Code: "40P01"},
		&pq.Error{Code: "40001"},
	}
	r, publisher := newTestReconciler(ledger)

	err := r.FulfillSession(context.Background(), paidSession())
	require.Error(t, err)
	assert.Empty(t, ledger.placed)
	assert.Len(t, publisher.failed, 1, "unresolved financial events must be reported")
}

func TestFulfillSessionConcurrentCommitTreatedAsSuccess(t *testing.T) {
	ledger := ledgerWithProduct()
	ledger.placeErrs = []error{&pq.Error{Code: "23505"}}
	r, _ := newTestReconciler(ledger)

	err := r.FulfillSession(context.Background(), paidSession())
	require.NoError(t, err, "losing the idempotency race is not an error")
	assert.Empty(t, ledger.placed)
}

func TestFulfillSessionUnknownProductFailsClosed(t *testing.T) {
	ledger := newFakeLedger()
	r, publisher := newTestReconciler(ledger)

	err := r.FulfillSession(context.Background(), paidSession())
	require.Error(t, err)
	assert.Empty(t, ledger.placed, "no order may be created from an unmappable line item")
	assert.Len(t, publisher.failed, 1)
}

func TestFulfillSessionUnknownPromotionFailsClosed(t *testing.T) {
	ledger := ledgerWithProduct()
	r, publisher := newTestReconciler(ledger)

	session := paidSession()
	session.Metadata.PromoCode = "VANISHED"

	err := r.FulfillSession(context.Background(), session)
	require.Error(t, err)
	assert.Empty(t, ledger.placed)
	assert.Len(t, publisher.failed, 1)
}
