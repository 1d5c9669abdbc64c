package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"storefront-service/internal/catalog"
	"storefront-service/internal/models"
	"storefront-service/internal/service"
	"storefront-service/internal/store"
	"storefront-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const signatureHeader = "Payment-Signature"

// Handler contains HTTP handlers
type Handler struct {
	checkout      *service.CheckoutService
	reconciler    *service.Reconciler
	offers        *service.OfferService
	catalog       *catalog.Client
	ledger        *store.Store
	webhookSecret string
	logger        *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	checkout *service.CheckoutService,
	reconciler *service.Reconciler,
	offers *service.OfferService,
	catalogClient *catalog.Client,
	ledger *store.Store,
	webhookSecret string,
) *Handler {
	return &Handler{
		checkout:      checkout,
		reconciler:    reconciler,
		offers:        offers,
		catalog:       catalogClient,
		ledger:        ledger,
		webhookSecret: webhookSecret,
		logger:        util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhooks/payment", h.paymentWebhook)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/checkout", h.createOrder)
		v1.POST("/checkout/session", h.createPaymentSession)
		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.GET("/offers", h.getOffer)
		v1.GET("/wishlist", h.listWishlist)
		v1.POST("/wishlist", h.addWishlistItem)
		v1.DELETE("/wishlist/:productId", h.removeWishlistItem)
		v1.GET("/products/:id/feedback", h.listFeedback)
		v1.POST("/products/:id/feedback", h.addFeedback)
	}
}

func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// userID extracts the authenticated user identity set by the upstream
// gateway. Auth itself is not this service's concern.
func userID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.GetHeader("X-User-ID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (h *Handler) createOrder(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing user identity"})
		return
	}

	var req service.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	req.UserID = uid

	resp, err := h.checkout.Checkout(c.Request.Context(), &req)
	if err != nil {
		h.respondCheckoutError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) createPaymentSession(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing user identity"})
		return
	}

	var req service.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	req.UserID = uid

	resp, err := h.checkout.CreatePaymentSession(c.Request.Context(), &req)
	if err != nil {
		h.respondCheckoutError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// respondCheckoutError maps service errors onto the API surface.
// Promotion rejections get their own status so clients can tell the
// buyer their code is no longer valid rather than showing a generic
// failure.
func (h *Handler) respondCheckoutError(c *gin.Context, err error) {
	var validationErr *service.ValidationError
	if errors.As(err, &validationErr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Msg})
		return
	}

	var promoErr *service.PromotionError
	if errors.As(err, &promoErr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":  "Your promotion is no longer valid",
			"reason": promoErr.Reason,
		})
		return
	}

	h.logger.Error("Checkout failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process checkout"})
}

// paymentWebhook handles asynchronous payment confirmations. The raw
// body is needed for signature verification before any parsing.
func (h *Handler) paymentWebhook(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unable to read payload"})
		return
	}

	event, err := service.ParseWebhook(h.webhookSecret, payload, c.GetHeader(signatureHeader), time.Now())
	if err != nil {
		util.WebhooksRejectedTotal.WithLabelValues("signature").Inc()
		h.logger.Warn("Rejected payment webhook", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
		return
	}

	if event.Type != service.WebhookTypeSessionCompleted {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	if err := h.reconciler.FulfillSession(c.Request.Context(), &event.Session); err != nil {
		// Non-2xx tells the provider to redeliver; the idempotency
		// guard makes that safe.
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Fulfillment failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "processed"})
}

func (h *Handler) listOrders(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing user identity"})
		return
	}

	orders, err := h.ledger.GetOrdersByUserID(c.Request.Context(), uid)
	if err != nil {
		h.logger.Error("Failed to list orders", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list orders"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) getOrder(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing user identity"})
		return
	}

	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	order, err := h.ledger.GetOrderByID(c.Request.Context(), orderID)
	if err != nil || order.UserID != uid {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}

	items, err := h.ledger.GetOrderItemsByOrderID(c.Request.Context(), orderID)
	if err != nil {
		h.logger.Error("Failed to load order items", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load order"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order, "items": items})
}

func (h *Handler) getOffer(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing user identity"})
		return
	}

	offer, err := h.offers.GenerateOffer(c.Request.Context(), uid)
	if err != nil {
		h.logger.Error("Failed to generate offer", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate offer"})
		return
	}
	if offer == nil {
		c.JSON(http.StatusNoContent, nil)
		return
	}

	c.JSON(http.StatusOK, offer)
}

func (h *Handler) listWishlist(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing user identity"})
		return
	}

	ids, err := h.catalog.ListWishlist(c.Request.Context(), uid)
	if err != nil {
		h.logger.Error("Failed to list wishlist", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list wishlist"})
		return
	}

	products, err := h.ledger.GetProductsByIDs(c.Request.Context(), ids)
	if err != nil {
		h.logger.Error("Failed to resolve wishlist products", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list wishlist"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"products": products})
}

type wishlistRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
}

func (h *Handler) addWishlistItem(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing user identity"})
		return
	}

	var req wishlistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if _, err := h.ledger.GetProductByID(c.Request.Context(), req.ProductID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		return
	}

	added, err := h.catalog.AddWishlistItem(c.Request.Context(), uid, req.ProductID)
	if err != nil {
		h.logger.Error("Failed to add wishlist item", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update wishlist"})
		return
	}

	if added {
		// Ledger counter is a best-effort shadow of the catalog one
		if err := h.ledger.AdjustWishlistCount(c.Request.Context(), req.ProductID, 1); err != nil {
			h.logger.Warn("Failed to sync wishlist count to ledger", zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{"added": added})
}

func (h *Handler) removeWishlistItem(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing user identity"})
		return
	}

	productID, err := strconv.ParseInt(c.Param("productId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	removed, err := h.catalog.RemoveWishlistItem(c.Request.Context(), uid, productID)
	if err != nil {
		h.logger.Error("Failed to remove wishlist item", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update wishlist"})
		return
	}

	if removed {
		if err := h.ledger.AdjustWishlistCount(c.Request.Context(), productID, -1); err != nil {
			h.logger.Warn("Failed to sync wishlist count to ledger", zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

type feedbackRequest struct {
	Rating  int    `json:"rating" binding:"required,min=1,max=5"`
	Comment string `json:"comment"`
}

func (h *Handler) addFeedback(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing user identity"})
		return
	}

	productID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if _, err := h.ledger.GetProductByID(c.Request.Context(), productID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		return
	}

	fb := &models.Feedback{
		ProductID: productID,
		UserID:    uid,
		Rating:    req.Rating,
		Comment:   req.Comment,
		CreatedAt: time.Now(),
	}
	if err := h.catalog.AddFeedback(c.Request.Context(), fb); err != nil {
		h.logger.Error("Failed to store feedback", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store feedback"})
		return
	}

	c.JSON(http.StatusCreated, fb)
}

func (h *Handler) listFeedback(c *gin.Context) {
	productID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	feedback, err := h.catalog.ListFeedback(c.Request.Context(), productID)
	if err != nil {
		h.logger.Error("Failed to list feedback", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list feedback"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"feedback": feedback})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
