package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"storefront-service/internal/models"
	"storefront-service/internal/util"

	"github.com/shopspring/decimal"
)

// signatureTolerance bounds how stale a webhook timestamp may be before
// the event is rejected as a possible replay.
const signatureTolerance = 5 * time.Minute

var (
	ErrInvalidSignature = errors.New("webhook signature verification failed")
	ErrStaleSignature   = errors.New("webhook signature timestamp outside tolerance")
)

// SessionLineItem mirrors one cart line inside a payment session. The
// ProductID tag lets the fulfillment path map the line back to a ledger
// product without trusting client state.
type SessionLineItem struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

// SessionMetadata travels with the payment session. Once the session is
// created these fields are the only inputs fulfillment trusts; the
// original request context is gone by the time the webhook arrives.
type SessionMetadata struct {
	UserID          int64                  `json:"user_id"`
	PromoCode       string                 `json:"promo_code,omitempty"`
	Subtotal        decimal.Decimal        `json:"subtotal"`
	DiscountAmount  decimal.Decimal        `json:"discount_amount"`
	Total           decimal.Decimal        `json:"total"`
	ShippingAddress models.ShippingAddress `json:"shipping_address"`
}

// SessionRequest is sent to the payment provider to open a session
type SessionRequest struct {
	LineItems  []SessionLineItem `json:"line_items"`
	Metadata   SessionMetadata   `json:"metadata"`
	SuccessURL string            `json:"success_url"`
	CancelURL  string            `json:"cancel_url"`
}

// Session is the provider's handle for a pending payment
type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CheckoutSession is the session state delivered back on the webhook
type CheckoutSession struct {
	ID            string            `json:"id"`
	PaymentStatus string            `json:"payment_status"`
	LineItems     []SessionLineItem `json:"line_items"`
	Metadata      SessionMetadata   `json:"metadata"`
}

// WebhookEvent is the envelope of a payment provider callback
type WebhookEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Session CheckoutSession `json:"data"`
}

// Webhook event types and payment statuses from the provider
const (
	WebhookTypeSessionCompleted = "checkout.session.completed"
	PaymentStatusPaid           = "paid"
)

// PaymentProvider creates payment sessions with the external processor
type PaymentProvider interface {
	CreateSession(ctx context.Context, req *SessionRequest) (*Session, error)
}

// PaymentClient talks to the external payment provider over HTTP
type PaymentClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewPaymentClient creates a new payment provider client
func NewPaymentClient(baseURL, apiKey string) *PaymentClient {
	return &PaymentClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// CreateSession opens a checkout session with the payment provider
func (pc *PaymentClient) CreateSession(ctx context.Context, req *SessionRequest) (*Session, error) {
	ctx, span := util.StartSpan(ctx, "PaymentClient.CreateSession")
	defer span.End()

	start := time.Now()
	defer func() {
		util.PaymentSessionLatency.Observe(time.Since(start).Seconds())
	}()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		pc.baseURL+"/v1/checkout/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+pc.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := pc.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("payment provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("payment provider returned status %d", resp.StatusCode)
	}

	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("failed to decode session response: %w", err)
	}

	return &session, nil
}

// VerifyWebhookSignature checks the provider's signature header against
// the raw payload. The header carries "t=<unix>,v1=<hex>"; the signed
// message is "<t>.<payload>" under HMAC-SHA256 with the shared secret.
func VerifyWebhookSignature(secret string, payload []byte, header string, now time.Time) error {
	var timestamp, signature string
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			signature = value
		}
	}
	if timestamp == "" || signature == "" {
		return ErrInvalidSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	signedAt := time.Unix(ts, 0)
	if signedAt.Before(now.Add(-signatureTolerance)) || signedAt.After(now.Add(signatureTolerance)) {
		return ErrStaleSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

// SignWebhookPayload produces the signature header for a payload. Used
// by tests and local tooling to emulate the provider.
func SignWebhookPayload(secret string, payload []byte, at time.Time) string {
	timestamp := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return fmt.Sprintf("t=%s,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

// ParseWebhook verifies and decodes a payment provider callback
func ParseWebhook(secret string, payload []byte, sigHeader string, now time.Time) (*WebhookEvent, error) {
	if err := VerifyWebhookSignature(secret, payload, sigHeader, now); err != nil {
		return nil, err
	}

	var event WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("failed to decode webhook payload: %w", err)
	}
	return &event, nil
}
