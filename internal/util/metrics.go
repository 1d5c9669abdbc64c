package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersPlacedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_placed_total",
		Help: "Total number of orders placed via synchronous checkout",
	})

	OrdersFulfilledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_fulfilled_total",
		Help: "Total number of orders created from payment confirmations",
	})

	CheckoutFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_failed_total",
		Help: "Total number of failed checkouts",
	}, []string{"reason"})

	PaymentSessionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_sessions_created_total",
		Help: "Total number of payment sessions created",
	})

	PromotionsAppliedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "promotions_applied_total",
		Help: "Total number of promotion codes applied to orders",
	})

	PromotionsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promotions_rejected_total",
		Help: "Total number of promotion codes rejected",
	}, []string{"reason"})

	LoyaltyPointsAwardedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loyalty_points_awarded_total",
		Help: "Total loyalty points awarded to users",
	})

	FulfillmentDuplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfillment_duplicates_total",
		Help: "Total number of duplicate payment confirmations resolved as no-ops",
	})

	FulfillmentRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfillment_retries_total",
		Help: "Total number of fulfillment transaction retries",
	})

	FulfillmentFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_failed_total",
		Help: "Total number of payment confirmations that could not be fulfilled",
	}, []string{"reason"})

	WebhooksRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhooks_rejected_total",
		Help: "Total number of rejected payment webhooks",
	}, []string{"reason"})

	FulfillmentLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fulfillment_latency_seconds",
		Help:    "Latency of payment confirmation fulfillment",
		Buckets: prometheus.DefBuckets,
	})

	PaymentSessionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_session_latency_seconds",
		Help:    "Latency of payment session creation calls",
		Buckets: prometheus.DefBuckets,
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
