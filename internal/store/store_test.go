package store

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yvesmarin/beach_orders/internal/models"
)

func initTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.User{}, &models.Beach{}, &models.Restaurant{}, &models.Product{},
		&models.BeachProduct{}, &models.Order{}, &models.OrderLine{},
	))
	return db
}

func seedOrder(t *testing.T, db *gorm.DB) *models.Order {
	t.Helper()
	require.NoError(t, db.Create(&models.Restaurant{ID: 1, Name: "R1"}).Error)
	require.NoError(t, db.Create(&models.Restaurant{ID: 2, Name: "R2"}).Error)
	require.NoError(t, db.Create(&models.Product{ID: 10, Name: "P1", RestaurantID: 1}).Error)
	require.NoError(t, db.Create(&models.Product{ID: 20, Name: "P2", RestaurantID: 2}).Error)

	order := &models.Order{
		BeachID: 1,
		UserID:  1,
		Active:  true,
		Lines: []models.OrderLine{
			{ProductID: 10, Quantity: 2},
			{ProductID: 20, Quantity: 1},
		},
	}
	require.NoError(t, db.Create(order).Error)
	return order
}

func TestMarkLinesSent_PartialKeepsOrderActive(t *testing.T) {
	t.Parallel()

	db := initTestDB(t)
	s := New(db, nil)
	order := seedOrder(t, db)
	ctx := context.Background()

	updated, active, err := s.MarkLinesSent(ctx, order.ID, []uint{10})
	require.NoError(t, err)
	require.EqualValues(t, 1, updated)
	require.True(t, active)

	line, err := s.GetLine(ctx, order.ID, 10)
	require.NoError(t, err)
	require.True(t, line.Ready)
	require.True(t, line.Sent)

	got, err := s.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.True(t, got.Active)
}

func TestMarkLinesSent_LastLineDeactivates(t *testing.T) {
	t.Parallel()

	db := initTestDB(t)
	s := New(db, nil)
	order := seedOrder(t, db)
	ctx := context.Background()

	_, _, err := s.MarkLinesSent(ctx, order.ID, []uint{10})
	require.NoError(t, err)

	updated, active, err := s.MarkLinesSent(ctx, order.ID, []uint{20})
	require.NoError(t, err)
	require.EqualValues(t, 1, updated)
	require.False(t, active)

	got, err := s.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.False(t, got.Active)
}

func TestMarkLinesSent_AlreadySentTouchesNothing(t *testing.T) {
	t.Parallel()

	db := initTestDB(t)
	s := New(db, nil)
	order := seedOrder(t, db)
	ctx := context.Background()

	_, _, err := s.MarkLinesSent(ctx, order.ID, []uint{10})
	require.NoError(t, err)

	updated, active, err := s.MarkLinesSent(ctx, order.ID, []uint{10})
	require.NoError(t, err)
	require.Zero(t, updated)
	require.True(t, active)
}

func TestSaveLine_RepairsDriftedActiveFlag(t *testing.T) {
	t.Parallel()

	db := initTestDB(t)
	s := New(db, nil)
	order := seedOrder(t, db)
	ctx := context.Background()

	// Simulate a buggy writer that sent every line without deactivating.
	require.NoError(t, db.Model(&models.OrderLine{}).
		Where("order_id = ?", order.ID).
		Updates(map[string]interface{}{"ready": true, "sent": true}).Error)

	line, err := s.GetLine(ctx, order.ID, 10)
	require.NoError(t, err)
	require.NoError(t, s.SaveLine(ctx, line))

	got, err := s.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.False(t, got.Active, "store must re-derive active from line state")
}

func TestCreate_PersistsInactiveFlag(t *testing.T) {
	t.Parallel()

	db := initTestDB(t)
	s := New(db, nil)

	order := &models.Order{BeachID: 1, UserID: 1, Active: false,
		Lines: []models.OrderLine{{ProductID: 10, Quantity: 1}}}
	require.NoError(t, db.Create(order).Error)

	got, err := s.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.False(t, got.Active, "zero-value active must survive the insert")
}

// Deactivation is one-way: writes against a closed order with unsent lines
// leave it closed.
func TestClosedOrderStaysClosed(t *testing.T) {
	t.Parallel()

	db := initTestDB(t)
	s := New(db, nil)
	order := seedOrder(t, db)
	ctx := context.Background()

	require.NoError(t, s.SetOrderActive(ctx, order.ID, false))

	line, err := s.GetLine(ctx, order.ID, 10)
	require.NoError(t, err)
	line.Ready = true
	require.NoError(t, s.SaveLine(ctx, line))

	got, err := s.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.False(t, got.Active, "line save must not reopen a closed order")

	_, active, err := s.MarkLinesSent(ctx, order.ID, []uint{10})
	require.NoError(t, err)
	require.False(t, active)

	got, err = s.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.False(t, got.Active, "partial send must not reopen a closed order")
}

func TestActiveOrdersByRestaurant(t *testing.T) {
	t.Parallel()

	db := initTestDB(t)
	s := New(db, nil)
	order := seedOrder(t, db)
	ctx := context.Background()

	orders, err := s.ActiveOrdersByRestaurant(ctx, 1)
	require.NoError(t, err)
	require.Len(t, orders, 1)

	// Once R1's only line is sent, the order drops out of R1's query while
	// staying visible for R2 and the beach.
	_, _, err = s.MarkLinesSent(ctx, order.ID, []uint{10})
	require.NoError(t, err)

	orders, err = s.ActiveOrdersByRestaurant(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, orders)

	orders, err = s.ActiveOrdersByRestaurant(ctx, 2)
	require.NoError(t, err)
	require.Len(t, orders, 1)

	orders, err = s.ActiveOrdersByBeach(ctx, 1)
	require.NoError(t, err)
	require.Len(t, orders, 1)
}

func TestSetOrderActive_UnknownOrder(t *testing.T) {
	t.Parallel()

	db := initTestDB(t)
	s := New(db, nil)

	err := s.SetOrderActive(context.Background(), 999, false)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
