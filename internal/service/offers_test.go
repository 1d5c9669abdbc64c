package service

import (
	"context"
	"testing"

	"storefront-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWishlist struct {
	items map[int64]int64
}

func (f *fakeWishlist) FirstWishlistItem(ctx context.Context, userID int64) (int64, error) {
	return f.items[userID], nil
}

func TestGenerateOfferPrefersWishlist(t *testing.T) {
	ledger := newFakeLedger()
	ledger.products[3] = &models.Product{ID: 3, Name: "Pour-Over Kettle", Category: "kitchen"}
	ledger.categories[7] = "kitchen"
	svc := NewOfferService(ledger, &fakeWishlist{items: map[int64]int64{7: 3}})

	offer, err := svc.GenerateOffer(context.Background(), 7)
	require.NoError(t, err)
	require.NotNil(t, offer)

	assert.Contains(t, offer.Code, "WISH-7-")
	assert.Contains(t, offer.Description, "Pour-Over Kettle")
	assert.Equal(t, int64(10), offer.DiscountPercent)

	userID, ok := parsePersonalizedCode(offer.Code)
	assert.True(t, ok, "generated code must be redeemable at checkout")
	assert.Equal(t, int64(7), userID)
}

func TestGenerateOfferFallsBackToCategory(t *testing.T) {
	ledger := newFakeLedger()
	ledger.categories[7] = "books"
	svc := NewOfferService(ledger, &fakeWishlist{items: map[int64]int64{}})

	offer, err := svc.GenerateOffer(context.Background(), 7)
	require.NoError(t, err)
	require.NotNil(t, offer)

	assert.Contains(t, offer.Code, "CAT-7-")
	assert.Contains(t, offer.Description, "books")

	_, ok := parsePersonalizedCode(offer.Code)
	assert.True(t, ok)
}

func TestGenerateOfferNilWithoutSignals(t *testing.T) {
	svc := NewOfferService(newFakeLedger(), &fakeWishlist{items: map[int64]int64{}})

	offer, err := svc.GenerateOffer(context.Background(), 7)
	require.NoError(t, err)
	assert.Nil(t, offer)
}
