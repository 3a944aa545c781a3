package visibility

import (
	"context"
	"fmt"
	"sort"

	"gorm.io/gorm"

	"github.com/yvesmarin/beach_orders/internal/catalog"
	"github.com/yvesmarin/beach_orders/internal/identity"
	"github.com/yvesmarin/beach_orders/internal/models"
	"github.com/yvesmarin/beach_orders/internal/store"
)

type RoomKind string

const (
	BeachRoom      RoomKind = "beach"
	RestaurantRoom RoomKind = "restaurant"
)

// Room names one audience of snapshot updates.
type Room struct {
	Kind RoomKind
	ID   uint
}

func (r Room) String() string { return fmt.Sprintf("%s:%d", r.Kind, r.ID) }

type UserRef struct {
	ID        uint   `json:"id"`
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
}

type BeachRef struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

type LineSnapshot struct {
	ProductID      uint   `json:"product_id"`
	ProductName    string `json:"product_name"`
	ImageURL       string `json:"image_url"`
	RestaurantID   uint   `json:"restaurant_id"`
	RestaurantName string `json:"restaurant_name"`
	Quantity       uint   `json:"quantity"`
	Ready          bool   `json:"ready"`
	Sent           bool   `json:"sent"`
}

type OrderSnapshot struct {
	ID    uint           `json:"id"`
	Note  string         `json:"note"`
	User  UserRef        `json:"user"`
	Beach BeachRef       `json:"beach"`
	Lines []LineSnapshot `json:"lines"`
}

// Resolver computes the filtered view each room is allowed to see, and
// answers the capability question shared by HTTP authorization and socket
// subscription.
type Resolver struct {
	DB      *gorm.DB
	Store   *store.OrderStore
	Catalog *catalog.Catalog
}

func NewResolver(db *gorm.DB, st *store.OrderStore, cat *catalog.Catalog) *Resolver {
	return &Resolver{DB: db, Store: st, Catalog: cat}
}

// Allowed reports whether the actor may act on or subscribe to the room:
// admins always, otherwise owners and employees of the room's entity.
func (r *Resolver) Allowed(actor *identity.Actor, room Room) bool {
	if actor == nil {
		return false
	}
	if actor.IsAdmin {
		return true
	}
	switch room.Kind {
	case BeachRoom:
		return actor.CanAccessBeach(room.ID)
	case RestaurantRoom:
		return actor.CanAccessRestaurant(room.ID)
	}
	return false
}

func (r *Resolver) ForRoom(ctx context.Context, room Room) ([]OrderSnapshot, error) {
	switch room.Kind {
	case BeachRoom:
		return r.ForBeach(ctx, room.ID)
	case RestaurantRoom:
		return r.ForRestaurant(ctx, room.ID)
	}
	return nil, fmt.Errorf("unknown room kind %q", room.Kind)
}

// ForBeach returns every active order of the beach with all of its lines,
// whichever restaurant they belong to.
func (r *Resolver) ForBeach(ctx context.Context, beachID uint) ([]OrderSnapshot, error) {
	orders, err := r.Store.ActiveOrdersByBeach(ctx, beachID)
	if err != nil {
		return nil, err
	}
	return r.assemble(ctx, orders, nil)
}

// ForRestaurant returns active orders carrying at least one unsent line owned
// by the restaurant, filtered to exactly those lines. Orders emptied by the
// filter are dropped even though the beach may still see them.
func (r *Resolver) ForRestaurant(ctx context.Context, restaurantID uint) ([]OrderSnapshot, error) {
	orders, err := r.Store.ActiveOrdersByRestaurant(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	keep := func(line models.OrderLine, product models.Product) bool {
		return product.RestaurantID == restaurantID && !line.Sent
	}
	return r.assemble(ctx, orders, keep)
}

func (r *Resolver) assemble(ctx context.Context, orders []models.Order, keep func(models.OrderLine, models.Product) bool) ([]OrderSnapshot, error) {
	productIDs := map[uint]struct{}{}
	userIDs := map[uint]struct{}{}
	beachIDs := map[uint]struct{}{}
	for _, order := range orders {
		userIDs[order.UserID] = struct{}{}
		beachIDs[order.BeachID] = struct{}{}
		for _, line := range order.Lines {
			productIDs[line.ProductID] = struct{}{}
		}
	}

	products, err := r.Catalog.Products(ctx, keys(productIDs))
	if err != nil {
		return nil, err
	}

	restaurantIDs := map[uint]struct{}{}
	for _, p := range products {
		restaurantIDs[p.RestaurantID] = struct{}{}
	}

	users, err := r.users(ctx, keys(userIDs))
	if err != nil {
		return nil, err
	}
	beaches, err := r.beaches(ctx, keys(beachIDs))
	if err != nil {
		return nil, err
	}
	restaurants, err := r.restaurants(ctx, keys(restaurantIDs))
	if err != nil {
		return nil, err
	}

	snapshots := make([]OrderSnapshot, 0, len(orders))
	for _, order := range orders {
		snap := OrderSnapshot{
			ID:    order.ID,
			Note:  order.Note,
			User:  UserRef{ID: order.UserID},
			Beach: BeachRef{ID: order.BeachID},
		}
		if u, ok := users[order.UserID]; ok {
			snap.User.Firstname = u.Firstname
			snap.User.Lastname = u.Lastname
		}
		if b, ok := beaches[order.BeachID]; ok {
			snap.Beach.Name = b.Name
		}

		for _, line := range order.Lines {
			product, ok := products[line.ProductID]
			if !ok {
				continue
			}
			if keep != nil && !keep(line, product) {
				continue
			}
			ls := LineSnapshot{
				ProductID:    product.ID,
				ProductName:  product.Name,
				ImageURL:     product.ImageURL,
				RestaurantID: product.RestaurantID,
				Quantity:     line.Quantity,
				Ready:        line.Ready,
				Sent:         line.Sent,
			}
			if rest, ok := restaurants[product.RestaurantID]; ok {
				ls.RestaurantName = rest.Name
			}
			snap.Lines = append(snap.Lines, ls)
		}

		if keep != nil && len(snap.Lines) == 0 {
			continue
		}

		sort.Slice(snap.Lines, func(i, j int) bool { return snap.Lines[i].ProductID < snap.Lines[j].ProductID })
		snapshots = append(snapshots, snap)
	}

	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].ID < snapshots[j].ID })
	return snapshots, nil
}

func (r *Resolver) users(ctx context.Context, ids []uint) (map[uint]models.User, error) {
	out := map[uint]models.User{}
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.User
	if err := r.DB.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}

func (r *Resolver) beaches(ctx context.Context, ids []uint) (map[uint]models.Beach, error) {
	out := map[uint]models.Beach{}
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.Beach
	if err := r.DB.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}

func (r *Resolver) restaurants(ctx context.Context, ids []uint) (map[uint]models.Restaurant, error) {
	out := map[uint]models.Restaurant{}
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.Restaurant
	if err := r.DB.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}

func keys(set map[uint]struct{}) []uint {
	out := make([]uint, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}
