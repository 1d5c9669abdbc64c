package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const webhookSecret = "whsec_test_secret"

func TestVerifyWebhookSignatureRoundTrip(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	now := time.Now()

	header := SignWebhookPayload(webhookSecret, payload, now)
	err := VerifyWebhookSignature(webhookSecret, payload, header, now)
	assert.NoError(t, err)
}

func TestVerifyWebhookSignatureRejectsTamperedPayload(t *testing.T) {
	now := time.Now()
	header := SignWebhookPayload(webhookSecret, []byte(`{"total":"90.00"}`), now)

	err := VerifyWebhookSignature(webhookSecret, []byte(`{"total":"0.01"}`), header, now)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyWebhookSignatureRejectsWrongSecret(t *testing.T) {
	payload := []byte(`{}`)
	now := time.Now()
	header := SignWebhookPayload("whsec_other", payload, now)

	err := VerifyWebhookSignature(webhookSecret, payload, header, now)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyWebhookSignatureRejectsStaleTimestamp(t *testing.T) {
	payload := []byte(`{}`)
	now := time.Now()

	header := SignWebhookPayload(webhookSecret, payload, now.Add(-6*time.Minute))
	err := VerifyWebhookSignature(webhookSecret, payload, header, now)
	assert.ErrorIs(t, err, ErrStaleSignature)

	header = SignWebhookPayload(webhookSecret, payload, now.Add(6*time.Minute))
	err = VerifyWebhookSignature(webhookSecret, payload, header, now)
	assert.ErrorIs(t, err, ErrStaleSignature)
}

func TestVerifyWebhookSignatureRejectsMalformedHeader(t *testing.T) {
	payload := []byte(`{}`)
	now := time.Now()

	for _, header := range []string{"", "v1=deadbeef", "t=123", "t=notanumber,v1=deadbeef"} {
		err := VerifyWebhookSignature(webhookSecret, payload, header, now)
		assert.ErrorIs(t, err, ErrInvalidSignature, "header %q", header)
	}
}

func TestParseWebhookDecodesSessionState(t *testing.T) {
	payload := []byte(`{
		"id": "evt_42",
		"type": "checkout.session.completed",
		"data": {
			"id": "cs_live_42",
			"payment_status": "paid",
			"line_items": [{"product_id": 1, "name": "Espresso Maker", "unit_price": "50.00", "quantity": 2}],
			"metadata": {"user_id": 7, "promo_code": "SAVE10", "subtotal": "100.00", "discount_amount": "10.00", "total": "90.00"}
		}
	}`)
	now := time.Now()
	header := SignWebhookPayload(webhookSecret, payload, now)

	event, err := ParseWebhook(webhookSecret, payload, header, now)
	require.NoError(t, err)

	assert.Equal(t, "evt_42", event.ID)
	assert.Equal(t, WebhookTypeSessionCompleted, event.Type)
	assert.Equal(t, "cs_live_42", event.Session.ID)
	assert.Equal(t, PaymentStatusPaid, event.Session.PaymentStatus)
	require.Len(t, event.Session.LineItems, 1)
	assert.Equal(t, int64(1), event.Session.LineItems[0].ProductID)
	assert.Equal(t, int64(7), event.Session.Metadata.UserID)
	assert.True(t, event.Session.Metadata.Total.Equal(money("90.00")))
}

func TestParseWebhookRefusesUnsignedPayload(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)

	_, err := ParseWebhook(webhookSecret, payload, "t=0,v1=bogus", time.Now())
	assert.Error(t, err)
}
