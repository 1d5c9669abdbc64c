package service

import (
	"context"
	"testing"

	"storefront-service/internal/models"
	"storefront-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	placed    []*models.OrderPlacedEvent
	fulfilled []*models.OrderFulfilledEvent
	failed    []*models.FulfillmentFailedEvent
}

func (f *fakePublisher) PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	f.placed = append(f.placed, event)
	return nil
}

func (f *fakePublisher) PublishOrderFulfilled(ctx context.Context, event *models.OrderFulfilledEvent) error {
	f.fulfilled = append(f.fulfilled, event)
	return nil
}

func (f *fakePublisher) PublishFulfillmentFailed(ctx context.Context, event *models.FulfillmentFailedEvent) error {
	f.failed = append(f.failed, event)
	return nil
}

type fakeProvider struct {
	lastRequest *SessionRequest
	session     Session
	err         error
}

func (f *fakeProvider) CreateSession(ctx context.Context, req *SessionRequest) (*Session, error) {
	f.lastRequest = req
	if f.err != nil {
		return nil, f.err
	}
	return &f.session, nil
}

func newTestCheckout(ledger *fakeLedger) (*CheckoutService, *fakeProvider, *fakePublisher) {
	provider := &fakeProvider{session: Session{ID: "cs_test_123", URL: "https://pay.example.com/cs_test_123"}}
	publisher := &fakePublisher{}
	evaluator := NewPromotionEvaluator(ledger, "WELCOME10")
	cs := NewCheckoutService(ledger, evaluator, provider, publisher,
		"http://localhost/success", "http://localhost/cancel")
	return cs, provider, publisher
}

func validRequest() *CheckoutRequest {
	return &CheckoutRequest{
		UserID: 7,
		Items: []CartItem{
			{ProductID: 1, Name: "Espresso Maker", Price: money("50.00"), Quantity: 2},
		},
		Address: AddressInput{
			Name:       "Ada Lovelace",
			Line1:      "12 Analytical Way",
			City:       "London",
			PostalCode: "EC1A 1AA",
			Country:    "GB",
		},
	}
}

func TestCheckoutWithPercentagePromo(t *testing.T) {
	ledger := newFakeLedger()
	ledger.promos["SAVE10"] = activePromo(1, "SAVE10", models.DiscountTypePercentage, "10")
	cs, _, publisher := newTestCheckout(ledger)

	req := validRequest()
	req.PromoCode = "SAVE10"

	resp, err := cs.Checkout(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, resp.Subtotal.Equal(money("100.00")))
	assert.True(t, resp.DiscountAmount.Equal(money("10.00")))
	assert.True(t, resp.Total.Equal(money("90.00")))
	assert.Equal(t, int64(90), resp.PointsAwarded)

	require.Len(t, ledger.placed, 1)
	placed := ledger.placed[0]
	assert.Equal(t, "SAVE10", placed.order.PromoCode.String)
	assert.Equal(t, models.OrderStatusCompleted, placed.order.Status)
	require.NotNil(t, placed.promo)
	assert.Equal(t, int64(1), placed.promo.PromotionID)
	require.Len(t, placed.items, 1)
	assert.Equal(t, int64(1), placed.items[0].ProductID)
	assert.Equal(t, 2, placed.items[0].Quantity)

	require.Len(t, publisher.placed, 1)
	assert.Equal(t, models.EventTypeOrderPlaced, publisher.placed[0].EventType)
}

func TestCheckoutFixedDiscountClampsToZeroTotal(t *testing.T) {
	ledger := newFakeLedger()
	ledger.promos["TAKE50"] = activePromo(1, "TAKE50", models.DiscountTypeFixedAmount, "50.00")
	cs, _, _ := newTestCheckout(ledger)

	req := validRequest()
	req.Items = []CartItem{{ProductID: 1, Name: "Mug", Price: money("40.00"), Quantity: 1}}
	req.PromoCode = "TAKE50"

	resp, err := cs.Checkout(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, resp.DiscountAmount.Equal(money("40.00")))
	assert.True(t, resp.Total.IsZero())
	assert.Equal(t, int64(0), resp.PointsAwarded)
}

func TestCheckoutRejectsEmptyCart(t *testing.T) {
	cs, _, _ := newTestCheckout(newFakeLedger())

	req := validRequest()
	req.Items = nil

	_, err := cs.Checkout(context.Background(), req)
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestCheckoutRejectsIncompleteAddress(t *testing.T) {
	ledger := newFakeLedger()
	cs, _, _ := newTestCheckout(ledger)

	req := validRequest()
	req.Address.City = ""

	_, err := cs.Checkout(context.Background(), req)
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Empty(t, ledger.placed, "no storage effects before validation passes")
}

func TestCheckoutRejectsMalformedCartLine(t *testing.T) {
	ledger := newFakeLedger()
	cs, _, _ := newTestCheckout(ledger)

	req := validRequest()
	req.Items = append(req.Items, CartItem{ProductID: 2, Name: "Freebie", Quantity: 1})

	_, err := cs.Checkout(context.Background(), req)
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Empty(t, ledger.placed)
}

func TestCheckoutAbortsOnPromoRejection(t *testing.T) {
	ledger := newFakeLedger()
	cs, _, _ := newTestCheckout(ledger)

	req := validRequest()
	req.PromoCode = "GONE"

	_, err := cs.Checkout(context.Background(), req)
	requireRejection(t, err, ReasonInvalidCode)
	assert.Empty(t, ledger.placed, "rejected promotion must abort the whole checkout")
}

func TestCheckoutCommitTimeUsageRaceSurfacesAsRejection(t *testing.T) {
	ledger := newFakeLedger()
	ledger.promos["SAVE10"] = activePromo(1, "SAVE10", models.DiscountTypePercentage, "10")
	ledger.placeErrs = []error{store.ErrPromotionExhausted}
	cs, _, _ := newTestCheckout(ledger)

	req := validRequest()
	req.PromoCode = "SAVE10"

	_, err := cs.Checkout(context.Background(), req)
	requireRejection(t, err, ReasonUsageLimitReached)
}

func TestCheckoutPersonalizedCodeSingleUse(t *testing.T) {
	ledger := newFakeLedger()
	cs, _, _ := newTestCheckout(ledger)

	req := validRequest()
	req.PromoCode = "WISH-7-AAAA"

	resp, err := cs.Checkout(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp.DiscountAmount.Equal(money("10.00")))

	_, err = cs.Checkout(context.Background(), req)
	requireRejection(t, err, ReasonAlreadyUsed)
	assert.Len(t, ledger.placed, 1, "second application must not create an order")
}

func TestCreatePaymentSessionRecordsEverythingFulfillmentNeeds(t *testing.T) {
	ledger := newFakeLedger()
	ledger.promos["SAVE10"] = activePromo(1, "SAVE10", models.DiscountTypePercentage, "10")
	cs, provider, _ := newTestCheckout(ledger)

	req := validRequest()
	req.PromoCode = "SAVE10"

	resp, err := cs.CreatePaymentSession(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "cs_test_123", resp.SessionID)

	require.NotNil(t, provider.lastRequest)
	meta := provider.lastRequest.Metadata
	assert.Equal(t, int64(7), meta.UserID)
	assert.Equal(t, "SAVE10", meta.PromoCode)
	assert.True(t, meta.Subtotal.Equal(money("100.00")))
	assert.True(t, meta.DiscountAmount.Equal(money("10.00")))
	assert.True(t, meta.Total.Equal(money("90.00")))
	assert.Equal(t, "London", meta.ShippingAddress.City)

	require.Len(t, provider.lastRequest.LineItems, 1)
	assert.Equal(t, int64(1), provider.lastRequest.LineItems[0].ProductID)

	assert.Empty(t, ledger.placed, "no order may exist before payment confirmation")
}

func TestCreatePaymentSessionRejectsInvalidPromo(t *testing.T) {
	ledger := newFakeLedger()
	cs, provider, _ := newTestCheckout(ledger)

	req := validRequest()
	req.PromoCode = "GONE"

	_, err := cs.CreatePaymentSession(context.Background(), req)
	requireRejection(t, err, ReasonInvalidCode)
	assert.Nil(t, provider.lastRequest, "no session may be opened with a bad promotion")
}
