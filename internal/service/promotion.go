package service

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"storefront-service/internal/models"
	"storefront-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Promotion rejection reasons, in validation order. The first failing
// check wins so callers get deterministic error reporting.
const (
	ReasonInvalidCode       = "INVALID_CODE"
	ReasonNotActive         = "NOT_ACTIVE"
	ReasonNotStarted        = "NOT_STARTED"
	ReasonExpired           = "EXPIRED"
	ReasonUsageLimitReached = "USAGE_LIMIT_REACHED"
	ReasonTierNotMet        = "TIER_NOT_MET"
	ReasonAlreadyUsed       = "ALREADY_USED"
)

// personalizedDiscountPercent is the fixed discount carried by
// generated WISH-/CAT- codes.
var personalizedDiscountPercent = decimal.NewFromInt(10)

var personalizedCodePattern = regexp.MustCompile(`^(WISH|CAT)-(\d+)-([A-Z0-9]+)$`)

// PromotionError is a client-facing rejection of a promotion code
type PromotionError struct {
	Reason string
}

func (e *PromotionError) Error() string {
	return "promotion rejected: " + e.Reason
}

// Evaluation is the outcome of a successful promotion check
type Evaluation struct {
	Code           string
	DiscountAmount decimal.Decimal
	PromotionID    int64 // zero for personalized codes
	Personalized   bool
}

// PromotionLedger is the slice of the ledger the evaluator reads from
type PromotionLedger interface {
	GetPromotionByCode(ctx context.Context, code string) (*models.Promotion, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	CountOrdersByUser(ctx context.Context, userID int64) (int, error)
	HasPersonalizedCodeUsage(ctx context.Context, userID int64, code string) (bool, error)
}

// PromotionEvaluator validates promotion codes and computes discounts.
// Evaluation is read-only; the usage-count increment and the
// personalized-usage insert happen inside the order transaction.
type PromotionEvaluator struct {
	ledger      PromotionLedger
	welcomeCode string
	logger      *zap.Logger
	now         func() time.Time
}

// NewPromotionEvaluator creates a new promotion evaluator
func NewPromotionEvaluator(ledger PromotionLedger, welcomeCode string) *PromotionEvaluator {
	return &PromotionEvaluator{
		ledger:      ledger,
		welcomeCode: strings.ToUpper(strings.TrimSpace(welcomeCode)),
		logger:      util.GetLogger(),
		now:         time.Now,
	}
}

// Evaluate checks a promotion code for a user against the current
// ledger state and returns the discount it grants on the given
// subtotal. Rejections are returned as *PromotionError.
func (pe *PromotionEvaluator) Evaluate(ctx context.Context, code string, userID int64, subtotal decimal.Decimal) (*Evaluation, error) {
	ctx, span := util.StartSpan(ctx, "PromotionEvaluator.Evaluate")
	defer span.End()

	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return nil, &PromotionError{Reason: ReasonInvalidCode}
	}

	if codeUserID, ok := parsePersonalizedCode(normalized); ok {
		return pe.evaluatePersonalized(ctx, normalized, codeUserID, userID, subtotal)
	}

	promo, err := pe.ledger.GetPromotionByCode(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to look up promotion: %w", err)
	}
	if promo == nil {
		return nil, &PromotionError{Reason: ReasonInvalidCode}
	}

	if !promo.Active {
		return nil, &PromotionError{Reason: ReasonNotActive}
	}

	now := pe.now()
	if promo.StartsAt.Valid && now.Before(promo.StartsAt.Time) {
		return nil, &PromotionError{Reason: ReasonNotStarted}
	}
	if promo.EndsAt.Valid && now.After(promo.EndsAt.Time) {
		return nil, &PromotionError{Reason: ReasonExpired}
	}

	if promo.MaxUses.Valid && promo.UsageCount >= promo.MaxUses.Int64 {
		return nil, &PromotionError{Reason: ReasonUsageLimitReached}
	}

	if promo.ApplicableTier.Valid {
		user, err := pe.ledger.GetUserByID(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up user: %w", err)
		}
		if !models.MeetsTier(user.LoyaltyPoints, promo.ApplicableTier.String) {
			pe.logger.Debug("Promotion tier not met",
				zap.String("code", normalized),
				zap.String("user_tier", models.TierForPoints(user.LoyaltyPoints)),
				zap.String("required_tier", promo.ApplicableTier.String))
			return nil, &PromotionError{Reason: ReasonTierNotMet}
		}
	}

	if promo.MaxUsesPerUser == 1 && normalized == pe.welcomeCode {
		orderCount, err := pe.ledger.CountOrdersByUser(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to count user orders: %w", err)
		}
		if orderCount > 0 {
			return nil, &PromotionError{Reason: ReasonAlreadyUsed}
		}
	}

	return &Evaluation{
		Code:           normalized,
		DiscountAmount: computeDiscount(promo.DiscountType, promo.DiscountValue, subtotal),
		PromotionID:    promo.ID,
	}, nil
}

// evaluatePersonalized handles generated WISH-/CAT- codes. These bypass
// the promotions table entirely: single-use is enforced through the
// personalized usage ledger, written inside the order transaction.
func (pe *PromotionEvaluator) evaluatePersonalized(ctx context.Context, code string, codeUserID, userID int64, subtotal decimal.Decimal) (*Evaluation, error) {
	if codeUserID != userID {
		return nil, &PromotionError{Reason: ReasonInvalidCode}
	}

	used, err := pe.ledger.HasPersonalizedCodeUsage(ctx, userID, code)
	if err != nil {
		return nil, fmt.Errorf("failed to check personalized code usage: %w", err)
	}
	if used {
		return nil, &PromotionError{Reason: ReasonAlreadyUsed}
	}

	return &Evaluation{
		Code:           code,
		DiscountAmount: computeDiscount(models.DiscountTypePercentage, personalizedDiscountPercent, subtotal),
		Personalized:   true,
	}, nil
}

// parsePersonalizedCode extracts the user ID from a WISH-/CAT- code
func parsePersonalizedCode(code string) (int64, bool) {
	match := personalizedCodePattern.FindStringSubmatch(code)
	if match == nil {
		return 0, false
	}
	userID, err := strconv.ParseInt(match[2], 10, 64)
	if err != nil {
		return 0, false
	}
	return userID, true
}

// computeDiscount computes the monetary discount for a promotion,
// clamped so it never exceeds the subtotal
func computeDiscount(discountType string, value, subtotal decimal.Decimal) decimal.Decimal {
	var discount decimal.Decimal
	switch discountType {
	case models.DiscountTypePercentage:
		discount = subtotal.Mul(value).Div(decimal.NewFromInt(100)).Round(2)
	case models.DiscountTypeFixedAmount:
		discount = value
	case models.DiscountTypeFreeShipping:
		// Shipping waiver carries no monetary discount on the order
		discount = decimal.Zero
	default:
		discount = decimal.Zero
	}

	if discount.GreaterThan(subtotal) {
		return subtotal
	}
	if discount.IsNegative() {
		return decimal.Zero
	}
	return discount
}
