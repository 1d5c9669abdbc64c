package store

import (
	"context"
	"database/sql"
	"fmt"

	"storefront-service/internal/models"
)

// PromotionApplication describes the promotion side effect that must
// commit together with an order. Exactly one of PromotionID or
// PersonalizedCode is set.
type PromotionApplication struct {
	PromotionID      int64
	PersonalizedCode string
	UserID           int64
}

// PlaceOrder persists an order with its items, awards floor(total)
// loyalty points to the user, and applies the promotion side effect, all
// inside one transaction. No partial state is ever visible: a failure at
// any step rolls back every write.
func (s *Store) PlaceOrder(ctx context.Context, order *models.Order, items []models.OrderItem, promo *PromotionApplication) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (user_id, subtotal, discount_amount, total, promo_code, status,
			checkout_session_id, ship_name, ship_line1, ship_city, ship_postal_code, ship_country)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at`

	err = tx.QueryRowxContext(ctx, query,
		order.UserID, order.Subtotal, order.DiscountAmount, order.Total,
		order.PromoCode, order.Status, order.CheckoutSessionID,
		order.Name, order.Line1, order.City, order.PostalCode, order.Country,
	).Scan(&order.ID, &order.CreatedAt)
	if err != nil {
		return err
	}

	for i := range items {
		items[i].OrderID = order.ID
		err = tx.QueryRowxContext(ctx, `
			INSERT INTO order_items (order_id, product_id, name, unit_price, quantity)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			items[i].OrderID, items[i].ProductID, items[i].Name,
			items[i].UnitPrice, items[i].Quantity,
		).Scan(&items[i].ID)
		if err != nil {
			return err
		}
	}

	points := order.Total.IntPart()
	if points > 0 {
		_, err = tx.ExecContext(ctx,
			"UPDATE users SET loyalty_points = loyalty_points + $1 WHERE id = $2",
			points, order.UserID)
		if err != nil {
			return err
		}
	}

	if promo != nil {
		if promo.PromotionID != 0 {
			res, err := tx.ExecContext(ctx, `
				UPDATE promotions SET usage_count = usage_count + 1
				WHERE id = $1 AND (max_uses IS NULL OR usage_count < max_uses)`,
				promo.PromotionID)
			if err != nil {
				return err
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if affected == 0 {
				return ErrPromotionExhausted
			}
		}
		if promo.PersonalizedCode != "" {
			_, err = tx.ExecContext(ctx,
				"INSERT INTO personalized_code_usages (user_id, code) VALUES ($1, $2)",
				promo.UserID, promo.PersonalizedCode)
			if IsUniqueViolation(err) {
				return ErrPersonalizedCodeUsed
			}
			if err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderBySessionID retrieves an order by its checkout session ID.
// Returns nil without error when no order exists for the session.
func (s *Store) GetOrderBySessionID(ctx context.Context, sessionID string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE checkout_session_id = $1", sessionID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrdersByUserID retrieves orders for a user, newest first
func (s *Store) GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return orders, err
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// CountOrdersByUser returns how many orders a user has placed
func (s *Store) CountOrdersByUser(ctx context.Context, userID int64) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM orders WHERE user_id = $1", userID)
	return count, err
}
