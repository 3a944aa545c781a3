package store

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/yvesmarin/beach_orders/internal/models"
)

// OrderStore is the single source of truth for orders and their lines. Every
// line write checks Order.Active against line state before committing and
// deactivates when nothing is left unsent; the correction is one-directional,
// a closed order never comes back. The pass is a safety net only, the
// fulfillment engine owns the authoritative recomputation and the broadcast
// that follows it.
type OrderStore struct {
	DB  *gorm.DB
	Log *slog.Logger
}

func New(db *gorm.DB, log *slog.Logger) *OrderStore {
	return &OrderStore{DB: db, Log: log}
}

func (s *OrderStore) CreateOrder(ctx context.Context, order *models.Order) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return err
		}
		return s.repairActive(tx, order.ID)
	})
}

func (s *OrderStore) GetOrder(ctx context.Context, id uint) (*models.Order, error) {
	var order models.Order
	if err := s.DB.WithContext(ctx).Preload("Lines").First(&order, id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *OrderStore) GetLine(ctx context.Context, orderID, productID uint) (*models.OrderLine, error) {
	var line models.OrderLine
	err := s.DB.WithContext(ctx).
		Where("order_id = ? AND product_id = ?", orderID, productID).
		First(&line).Error
	if err != nil {
		return nil, err
	}
	return &line, nil
}

func (s *OrderStore) SaveLine(ctx context.Context, line *models.OrderLine) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(line).Error; err != nil {
			return err
		}
		return s.repairActive(tx, line.OrderID)
	})
}

// MarkLinesSent sets ready=true, sent=true on every unsent line of the order
// owned by the given products, then deactivates the order in the same
// transaction once no unsent line remains. Deactivation only: an order closed
// earlier stays closed whatever the lines say. Returns the number of lines
// transitioned and the order's resulting active state.
func (s *OrderStore) MarkLinesSent(ctx context.Context, orderID uint, productIDs []uint) (int64, bool, error) {
	var updated int64
	var active bool
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.OrderLine{}).
			Where("order_id = ? AND product_id IN ? AND sent = ?", orderID, productIDs, false).
			Updates(map[string]interface{}{"ready": true, "sent": true})
		if res.Error != nil {
			return res.Error
		}
		updated = res.RowsAffected

		var remaining int64
		if err := tx.Model(&models.OrderLine{}).
			Where("order_id = ? AND sent = ?", orderID, false).
			Count(&remaining).Error; err != nil {
			return err
		}

		if remaining == 0 {
			active = false
			return tx.Model(&models.Order{}).
				Where("id = ?", orderID).
				Update("active", false).Error
		}

		var order models.Order
		if err := tx.Select("active").First(&order, orderID).Error; err != nil {
			return err
		}
		active = order.Active
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return updated, active, nil
}

func (s *OrderStore) SetOrderActive(ctx context.Context, orderID uint, active bool) error {
	res := s.DB.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", orderID).
		Update("active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *OrderStore) ActiveOrdersByBeach(ctx context.Context, beachID uint) ([]models.Order, error) {
	var orders []models.Order
	err := s.DB.WithContext(ctx).
		Preload("Lines").
		Where("beach_id = ? AND active = ?", beachID, true).
		Order("id ASC").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// ActiveOrdersByRestaurant returns active orders that still carry at least one
// unsent line owned by the restaurant. Lines are preloaded unfiltered; the
// visibility resolver applies the per-restaurant filter.
func (s *OrderStore) ActiveOrdersByRestaurant(ctx context.Context, restaurantID uint) ([]models.Order, error) {
	var orders []models.Order
	err := s.DB.WithContext(ctx).
		Preload("Lines").
		Where("orders.active = ?", true).
		Where("EXISTS (SELECT 1 FROM order_lines JOIN products ON products.id = order_lines.product_id"+
			" WHERE order_lines.order_id = orders.id AND order_lines.sent = ? AND products.restaurant_id = ?)",
			false, restaurantID).
		Order("id ASC").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// repairActive deactivates an order whose lines are all sent while the flag
// still says active. Drift here means a write path skipped the engine's
// recomputation; it is corrected and logged, never broadcast. The check is
// one-way only: force-closed orders keep unsent lines and must stay closed.
func (s *OrderStore) repairActive(tx *gorm.DB, orderID uint) error {
	var order models.Order
	if err := tx.First(&order, orderID).Error; err != nil {
		return err
	}
	if !order.Active {
		return nil
	}

	var unsent int64
	if err := tx.Model(&models.OrderLine{}).
		Where("order_id = ? AND sent = ?", orderID, false).
		Count(&unsent).Error; err != nil {
		return err
	}
	if unsent > 0 {
		return nil
	}

	if s.Log != nil {
		s.Log.Warn("active order has no unsent lines, closing",
			"order_id", orderID)
	}
	if err := tx.Model(&models.Order{}).Where("id = ?", orderID).Update("active", false).Error; err != nil {
		return fmt.Errorf("repair active: %w", err)
	}
	return nil
}
