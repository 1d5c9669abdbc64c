package catalog

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"storefront-service/internal/models"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/wishlist_add.lua
var wishlistAddScript string

//go:embed scripts/wishlist_remove.lua
var wishlistRemoveScript string

// Client is the catalog/feedback document store. It holds denormalized
// product copies, per-user wishlists, and free-form feedback. Nothing in
// it is authoritative: the ledger owns identity and money, and this
// store is reconciled best-effort.
type Client struct {
	rdb          *redis.Client
	addScript    *redis.Script
	removeScript *redis.Script
}

// NewClient creates a new catalog store client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:          rdb,
		addScript:    redis.NewScript(wishlistAddScript),
		removeScript: redis.NewScript(wishlistRemoveScript),
	}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func wishlistKey(userID int64) string {
	return fmt.Sprintf("wishlist:%d", userID)
}

func productKey(productID int64) string {
	return fmt.Sprintf("product:%d", productID)
}

func feedbackKey(productID int64) string {
	return fmt.Sprintf("feedback:%d", productID)
}

// AddWishlistItem adds a ledger product id to a user's wishlist. The set
// membership and the product copy's wishlist counter move in one script.
// Returns false when the product was already wishlisted.
func (c *Client) AddWishlistItem(ctx context.Context, userID, productID int64) (bool, error) {
	keys := []string{wishlistKey(userID), productKey(productID)}
	result, err := c.addScript.Run(ctx, c.rdb, keys, productID).Result()
	if err != nil {
		return false, fmt.Errorf("wishlist add script failed: %w", err)
	}

	added, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}
	return added == 1, nil
}

// RemoveWishlistItem removes a product from a user's wishlist
func (c *Client) RemoveWishlistItem(ctx context.Context, userID, productID int64) (bool, error) {
	keys := []string{wishlistKey(userID), productKey(productID)}
	result, err := c.removeScript.Run(ctx, c.rdb, keys, productID).Result()
	if err != nil {
		return false, fmt.Errorf("wishlist remove script failed: %w", err)
	}

	removed, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}
	return removed == 1, nil
}

// ListWishlist returns the ledger product ids on a user's wishlist in
// insertion-independent order
func (c *Client) ListWishlist(ctx context.Context, userID int64) ([]int64, error) {
	members, err := c.rdb.SMembers(ctx, wishlistKey(userID)).Result()
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// FirstWishlistItem returns one product id from the user's wishlist, or
// 0 when the wishlist is empty
func (c *Client) FirstWishlistItem(ctx context.Context, userID int64) (int64, error) {
	member, err := c.rdb.SRandMember(ctx, wishlistKey(userID)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(member, 10, 64)
}

// UpsertProductCopy writes a denormalized product copy
func (c *Client) UpsertProductCopy(ctx context.Context, product *models.Product) error {
	pipe := c.rdb.Pipeline()
	key := productKey(product.ID)
	pipe.HSet(ctx, key, "name", product.Name)
	pipe.HSet(ctx, key, "price", product.Price.String())
	pipe.HSet(ctx, key, "category", product.Category)
	pipe.HSet(ctx, key, "is_best_seller", product.IsBestSeller)

	_, err := pipe.Exec(ctx)
	return err
}

// IncrementSales bumps the denormalized sales counter on a product copy
// and returns the new count
func (c *Client) IncrementSales(ctx context.Context, productID int64, quantity int) (int64, error) {
	return c.rdb.HIncrBy(ctx, productKey(productID), "sales_count", int64(quantity)).Result()
}

// AddFeedback appends a feedback entry for a product
func (c *Client) AddFeedback(ctx context.Context, fb *models.Feedback) error {
	data, err := json.Marshal(fb)
	if err != nil {
		return fmt.Errorf("failed to marshal feedback: %w", err)
	}
	return c.rdb.RPush(ctx, feedbackKey(fb.ProductID), data).Err()
}

// ListFeedback returns all feedback entries for a product, oldest first
func (c *Client) ListFeedback(ctx context.Context, productID int64) ([]models.Feedback, error) {
	entries, err := c.rdb.LRange(ctx, feedbackKey(productID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	feedback := make([]models.Feedback, 0, len(entries))
	for _, entry := range entries {
		var fb models.Feedback
		if err := json.Unmarshal([]byte(entry), &fb); err != nil {
			continue
		}
		feedback = append(feedback, fb)
	}
	return feedback, nil
}
