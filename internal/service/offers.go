package service

import (
	"context"
	"fmt"
	"strings"

	"storefront-service/internal/models"
	"storefront-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OfferLedger is the slice of the ledger offer generation reads from
type OfferLedger interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	MostOrderedCategory(ctx context.Context, userID int64) (string, error)
}

// WishlistSource reads the user's wishlist from the catalog store
type WishlistSource interface {
	FirstWishlistItem(ctx context.Context, userID int64) (int64, error)
}

// Offer is a generated, user-scoped promotion code
type Offer struct {
	Code            string `json:"code"`
	Description     string `json:"description"`
	DiscountPercent int64  `json:"discount_percent"`
}

// OfferService generates personalized WISH-/CAT- codes. These never
// touch the promotions table; single-use is enforced via the
// personalized usage ledger at checkout time.
type OfferService struct {
	ledger  OfferLedger
	catalog WishlistSource
	logger  *zap.Logger
}

// NewOfferService creates a new offer service
func NewOfferService(ledger OfferLedger, catalog WishlistSource) *OfferService {
	return &OfferService{
		ledger:  ledger,
		catalog: catalog,
		logger:  util.GetLogger(),
	}
}

// GenerateOffer produces an offer for the user: a wishlist-based code
// when the wishlist is non-empty, otherwise a category code from the
// user's most-ordered category. Returns nil when neither basis exists.
// Which wishlist item or category wins is a heuristic, not a contract.
func (os *OfferService) GenerateOffer(ctx context.Context, userID int64) (*Offer, error) {
	ctx, span := util.StartSpan(ctx, "OfferService.GenerateOffer")
	defer span.End()

	productID, err := os.catalog.FirstWishlistItem(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read wishlist: %w", err)
	}

	if productID != 0 {
		product, err := os.ledger.GetProductByID(ctx, productID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve wishlist product: %w", err)
		}

		offer := &Offer{
			Code:            personalizedCode("WISH", userID),
			Description:     fmt.Sprintf("10%% off your wishlisted %s", product.Name),
			DiscountPercent: personalizedDiscountPercent.IntPart(),
		}
		os.logger.Info("Generated wishlist offer",
			zap.Int64("user_id", userID),
			zap.Int64("product_id", productID))
		return offer, nil
	}

	category, err := os.ledger.MostOrderedCategory(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate order categories: %w", err)
	}
	if category == "" {
		return nil, nil
	}

	offer := &Offer{
		Code:            personalizedCode("CAT", userID),
		Description:     fmt.Sprintf("10%% off, inspired by your %s purchases", category),
		DiscountPercent: personalizedDiscountPercent.IntPart(),
	}
	os.logger.Info("Generated category offer",
		zap.Int64("user_id", userID),
		zap.String("category", category))
	return offer, nil
}

func personalizedCode(prefix string, userID int64) string {
	suffix := strings.ToUpper(uuid.New().String()[:8])
	return fmt.Sprintf("%s-%d-%s", prefix, userID, suffix)
}
