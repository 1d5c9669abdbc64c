package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Postgres error codes worth classifying: unique violations resolve
// idempotency races, serialization failures are retryable.
const (
	pqUniqueViolation      = "23505"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

// Sentinel errors surfaced from PlaceOrder when a promotion can no
// longer be applied at commit time.
var (
	ErrPromotionExhausted   = errors.New("promotion usage limit reached")
	ErrPersonalizedCodeUsed = errors.New("personalized code already used")
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new ledger store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// IsUniqueViolation reports whether err is a Postgres unique violation
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation
}

// IsSerializationFailure reports whether err is a transient write
// conflict (serialization failure or deadlock) worth retrying
func IsSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return string(pqErr.Code) == pqSerializationFailure || string(pqErr.Code) == pqDeadlockDetected
}

// GetUserByID retrieves a user by ID
func (s *Store) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, "SELECT * FROM users WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProductsByIDs retrieves multiple products by IDs
func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.Product
	err = s.db.SelectContext(ctx, &products, query, args...)
	return products, err
}

// AdjustWishlistCount moves a product's wishlist counter by delta,
// floored at zero. The catalog store's wishlist set is the trigger.
func (s *Store) AdjustWishlistCount(ctx context.Context, productID int64, delta int) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE products SET wishlist_count = GREATEST(wishlist_count + $1, 0) WHERE id = $2",
		delta, productID)
	return err
}

// MarkBestSeller flips the best-seller flag on a product
func (s *Store) MarkBestSeller(ctx context.Context, productID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE products SET is_best_seller = TRUE WHERE id = $1", productID)
	return err
}

// GetPromotionByCode retrieves a promotion by its normalized code
func (s *Store) GetPromotionByCode(ctx context.Context, code string) (*models.Promotion, error) {
	var promo models.Promotion
	err := s.db.GetContext(ctx, &promo,
		"SELECT * FROM promotions WHERE code = $1", strings.ToUpper(strings.TrimSpace(code)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &promo, nil
}

// HasPersonalizedCodeUsage reports whether a user already consumed a
// generated personalized code
func (s *Store) HasPersonalizedCodeUsage(ctx context.Context, userID int64, code string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM personalized_code_usages WHERE user_id = $1 AND code = $2)",
		userID, code)
	return exists, err
}

// MostOrderedCategory returns the category the user has bought the most
// items from, or empty when the user has no orders. Ties resolve to the
// first maximum in the sort order.
func (s *Store) MostOrderedCategory(ctx context.Context, userID int64) (string, error) {
	var category string
	err := s.db.GetContext(ctx, &category, `
		SELECT p.category
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		JOIN products p ON p.id = oi.product_id
		WHERE o.user_id = $1
		GROUP BY p.category
		ORDER BY SUM(oi.quantity) DESC, p.category
		LIMIT 1`, userID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return category, nil
}

// ProductSalesCount returns the total quantity sold for a product
func (s *Store) ProductSalesCount(ctx context.Context, productID int64) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count,
		"SELECT COALESCE(SUM(quantity), 0) FROM order_items WHERE product_id = $1", productID)
	return count, err
}
