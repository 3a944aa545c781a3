package visibility

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yvesmarin/beach_orders/internal/catalog"
	"github.com/yvesmarin/beach_orders/internal/identity"
	"github.com/yvesmarin/beach_orders/internal/models"
	"github.com/yvesmarin/beach_orders/internal/store"
)

func uintPtr(v uint) *uint { return &v }

func newResolver(t *testing.T) (*Resolver, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{}, &models.Beach{}, &models.Restaurant{}, &models.Product{},
		&models.BeachProduct{}, &models.Order{}, &models.OrderLine{},
	))

	require.NoError(t, db.Create(&models.Beach{ID: 1, Name: "Plage du Midi"}).Error)
	require.NoError(t, db.Create(&models.Restaurant{ID: 1, Name: "Chez R1"}).Error)
	require.NoError(t, db.Create(&models.Restaurant{ID: 2, Name: "Chez R2"}).Error)
	require.NoError(t, db.Create(&models.Product{ID: 10, Name: "Pizza", ImageURL: "pizza.png", RestaurantID: 1}).Error)
	require.NoError(t, db.Create(&models.Product{ID: 20, Name: "Salade", RestaurantID: 2}).Error)
	require.NoError(t, db.Create(&models.User{ID: 1, Firstname: "Anna", Lastname: "Beach", Email: "a@b"}).Error)

	return NewResolver(db, store.New(db, nil), catalog.New(db)), db
}

func seedOrder(t *testing.T, db *gorm.DB, active bool, lines []models.OrderLine) *models.Order {
	t.Helper()
	order := &models.Order{BeachID: 1, UserID: 1, Note: "table 4", Active: active, Lines: lines}
	require.NoError(t, db.Create(order).Error)
	return order
}

func TestForBeach_IncludesEveryRestaurantsLines(t *testing.T) {
	t.Parallel()

	r, db := newResolver(t)
	seedOrder(t, db, true, []models.OrderLine{
		{ProductID: 10, Quantity: 2},
		{ProductID: 20, Quantity: 1, Ready: true, Sent: true},
	})

	snaps, err := r.ForBeach(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, snaps, 1)

	snap := snaps[0]
	assert.Equal(t, "table 4", snap.Note)
	assert.Equal(t, "Anna", snap.User.Firstname)
	assert.Equal(t, "Plage du Midi", snap.Beach.Name)
	require.Len(t, snap.Lines, 2)

	assert.Equal(t, uint(10), snap.Lines[0].ProductID)
	assert.Equal(t, "Pizza", snap.Lines[0].ProductName)
	assert.Equal(t, "pizza.png", snap.Lines[0].ImageURL)
	assert.Equal(t, "Chez R1", snap.Lines[0].RestaurantName)
	assert.Equal(t, uint(2), snap.Lines[0].Quantity)

	// The beach keeps seeing sent lines.
	assert.True(t, snap.Lines[1].Sent)
}

func TestForBeach_SkipsInactiveOrders(t *testing.T) {
	t.Parallel()

	r, db := newResolver(t)
	seedOrder(t, db, false, []models.OrderLine{{ProductID: 10, Quantity: 1, Ready: true, Sent: true}})

	snaps, err := r.ForBeach(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestForRestaurant_FiltersForeignAndSentLines(t *testing.T) {
	t.Parallel()

	r, db := newResolver(t)
	seedOrder(t, db, true, []models.OrderLine{
		{ProductID: 10, Quantity: 2},
		{ProductID: 20, Quantity: 1},
	})

	snaps, err := r.ForRestaurant(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.Len(t, snaps[0].Lines, 1, "restaurant 1 never sees restaurant 2's line")
	assert.Equal(t, uint(10), snaps[0].Lines[0].ProductID)
	assert.Equal(t, uint(1), snaps[0].Lines[0].RestaurantID)
}

func TestForRestaurant_DropsOrderOnceOwnLinesSent(t *testing.T) {
	t.Parallel()

	r, db := newResolver(t)
	seedOrder(t, db, true, []models.OrderLine{
		{ProductID: 10, Quantity: 2, Ready: true, Sent: true},
		{ProductID: 20, Quantity: 1},
	})

	// Globally the order stays active, but R1 handed everything off already.
	snaps, err := r.ForRestaurant(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, snaps)

	snaps, err = r.ForRestaurant(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, snaps, 1)

	snaps, err = r.ForBeach(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
}

func TestUnknownIDsYieldEmptySnapshot(t *testing.T) {
	t.Parallel()

	r, _ := newResolver(t)
	ctx := context.Background()

	snaps, err := r.ForBeach(ctx, 999)
	require.NoError(t, err)
	assert.Empty(t, snaps)

	snaps, err = r.ForRestaurant(ctx, 999)
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestOrdersSortedByID(t *testing.T) {
	t.Parallel()

	r, db := newResolver(t)
	first := seedOrder(t, db, true, []models.OrderLine{{ProductID: 10, Quantity: 1}})
	second := seedOrder(t, db, true, []models.OrderLine{{ProductID: 10, Quantity: 3}})

	snaps, err := r.ForBeach(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, first.ID, snaps[0].ID)
	assert.Equal(t, second.ID, snaps[1].ID)
}

func TestAllowed(t *testing.T) {
	t.Parallel()

	r, _ := newResolver(t)

	beachStaff := identity.FromUser(&models.User{ID: 1, BeachEmployeeID: uintPtr(1)})
	restOwner := identity.FromUser(&models.User{ID: 2, RestaurantOwnerID: uintPtr(2)})
	admin := identity.FromUser(&models.User{ID: 3, IsAdmin: true})
	nobody := identity.FromUser(&models.User{ID: 4})

	tests := []struct {
		name  string
		actor *identity.Actor
		room  Room
		want  bool
	}{
		{"beach employee own beach", beachStaff, Room{BeachRoom, 1}, true},
		{"beach employee other beach", beachStaff, Room{BeachRoom, 2}, false},
		{"beach employee restaurant room", beachStaff, Room{RestaurantRoom, 1}, false},
		{"restaurant owner own room", restOwner, Room{RestaurantRoom, 2}, true},
		{"restaurant owner other room", restOwner, Room{RestaurantRoom, 1}, false},
		{"admin anywhere", admin, Room{RestaurantRoom, 5}, true},
		{"unaffiliated user", nobody, Room{BeachRoom, 1}, false},
		{"nil actor", nil, Room{BeachRoom, 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Allowed(tt.actor, tt.room))
		})
	}
}
