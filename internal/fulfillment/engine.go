package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"gorm.io/gorm"

	"github.com/yvesmarin/beach_orders/internal/catalog"
	"github.com/yvesmarin/beach_orders/internal/identity"
	"github.com/yvesmarin/beach_orders/internal/models"
	"github.com/yvesmarin/beach_orders/internal/store"
)

var (
	ErrValidation = errors.New("validation") // 400
	ErrNotFound   = errors.New("not found")  // 404
	ErrForbidden  = errors.New("forbidden")  // 403
	ErrConflict   = errors.New("conflict")   // 409, reserved for the transport layer
)

const eventsTopic = "order_events"

// Broadcaster fans committed state out to the affected rooms.
type Broadcaster interface {
	Notify(ctx context.Context, beachIDs, restaurantIDs map[uint]struct{})
}

// EventPublisher emits order lifecycle events, best effort.
type EventPublisher interface {
	PublishEvent(ctx context.Context, topic, key string, event interface{}) error
}

type LineInput struct {
	ProductID uint `json:"id"`
	Quantity  uint `json:"quantity"`
}

// Engine applies every order mutation. Writes to one order serialize on a
// striped lock so concurrent toggles and bulk sends from different
// restaurants cannot interleave into a wrong active flag.
type Engine struct {
	Store     *store.OrderStore
	Catalog   *catalog.Catalog
	Broadcast Broadcaster
	Producer  EventPublisher
	Log       *slog.Logger

	orderLocks [64]sync.Mutex
}

func (e *Engine) lockOrder(orderID uint) func() {
	lock := &e.orderLocks[orderID%uint(len(e.orderLocks))]
	lock.Lock()
	return lock.Unlock
}

// PlaceOrder creates an order with one line per input pair. Every product
// must carry a price listing at the beach.
func (e *Engine) PlaceOrder(ctx context.Context, beachID uint, actor *identity.Actor, note string, lines []LineInput) (*models.Order, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: products required", ErrValidation)
	}
	seen := make(map[uint]struct{}, len(lines))
	for _, line := range lines {
		if line.Quantity == 0 {
			return nil, fmt.Errorf("%w: quantity must be > 0", ErrValidation)
		}
		if _, dup := seen[line.ProductID]; dup {
			return nil, fmt.Errorf("%w: product %d listed twice", ErrValidation, line.ProductID)
		}
		seen[line.ProductID] = struct{}{}
	}

	if !actor.IsAdmin && !actor.CanAccessBeach(beachID) {
		return nil, fmt.Errorf("%w: no access to beach %d", ErrForbidden, beachID)
	}

	ok, err := e.Catalog.BeachExists(ctx, beachID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: beach %d", ErrNotFound, beachID)
	}

	restaurants := map[uint]struct{}{}
	orderLines := make([]models.OrderLine, 0, len(lines))
	for _, line := range lines {
		owner, err := e.Catalog.ProductOwner(ctx, line.ProductID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: product %d", ErrNotFound, line.ProductID)
		}
		if err != nil {
			return nil, err
		}
		sold, err := e.Catalog.BeachSellsProduct(ctx, beachID, line.ProductID)
		if err != nil {
			return nil, err
		}
		if !sold {
			return nil, fmt.Errorf("%w: product %d is not sold at beach %d", ErrNotFound, line.ProductID, beachID)
		}
		restaurants[owner] = struct{}{}
		orderLines = append(orderLines, models.OrderLine{ProductID: line.ProductID, Quantity: line.Quantity})
	}

	order := &models.Order{
		BeachID: beachID,
		UserID:  actor.UserID,
		Note:    note,
		Active:  true,
		Lines:   orderLines,
	}
	if err := e.Store.CreateOrder(ctx, order); err != nil {
		return nil, err
	}

	e.publish(ctx, order.ID, map[string]interface{}{
		"type":     "order_placed",
		"order_id": order.ID,
		"beach_id": beachID,
		"user_id":  actor.UserID,
	})
	e.notify(ctx, map[uint]struct{}{beachID: {}}, restaurants)

	return order, nil
}

// ToggleLineReady flips the ready flag of one line. Sent lines are terminal:
// the line is returned unchanged and no broadcast goes out.
func (e *Engine) ToggleLineReady(ctx context.Context, orderID, productID uint, actor *identity.Actor, actingRestaurantID uint) (*models.OrderLine, error) {
	unlock := e.lockOrder(orderID)
	defer unlock()

	line, err := e.Store.GetLine(ctx, orderID, productID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: order %d has no line for product %d", ErrNotFound, orderID, productID)
	}
	if err != nil {
		return nil, err
	}

	owner, err := e.Catalog.ProductOwner(ctx, productID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: product %d", ErrNotFound, productID)
	}
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin && owner != actingRestaurantID {
		return nil, fmt.Errorf("%w: product %d belongs to another restaurant", ErrForbidden, productID)
	}

	if line.Sent {
		return line, nil
	}

	line.Ready = !line.Ready
	if err := e.Store.SaveLine(ctx, line); err != nil {
		return nil, err
	}

	order, err := e.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	e.publish(ctx, orderID, map[string]interface{}{
		"type":       "line_ready_toggled",
		"order_id":   orderID,
		"product_id": productID,
		"ready":      line.Ready,
	})
	e.notify(ctx, map[uint]struct{}{order.BeachID: {}}, map[uint]struct{}{owner: {}})

	return line, nil
}

// MarkRestaurantLinesSent hands off the restaurant's whole remaining portion
// of the order in one transition, then recomputes the order's active flag.
func (e *Engine) MarkRestaurantLinesSent(ctx context.Context, orderID, restaurantID uint, actor *identity.Actor) (*models.Order, error) {
	if !actor.IsAdmin && !actor.CanAccessRestaurant(restaurantID) {
		return nil, fmt.Errorf("%w: no access to restaurant %d", ErrForbidden, restaurantID)
	}

	unlock := e.lockOrder(orderID)
	defer unlock()

	order, err := e.Store.GetOrder(ctx, orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: order %d", ErrNotFound, orderID)
	}
	if err != nil {
		return nil, err
	}

	owners, err := e.lineOwners(ctx, order)
	if err != nil {
		return nil, err
	}

	ownedProducts := []uint{}
	hasUnsent := false
	for _, line := range order.Lines {
		if owners[line.ProductID] != restaurantID {
			continue
		}
		ownedProducts = append(ownedProducts, line.ProductID)
		if !line.Sent {
			hasUnsent = true
		}
	}
	if !hasUnsent {
		return nil, fmt.Errorf("%w: order %d has no unsent lines for restaurant %d", ErrNotFound, orderID, restaurantID)
	}

	_, active, err := e.Store.MarkLinesSent(ctx, orderID, ownedProducts)
	if err != nil {
		return nil, err
	}

	e.publish(ctx, orderID, map[string]interface{}{
		"type":          "restaurant_lines_sent",
		"order_id":      orderID,
		"restaurant_id": restaurantID,
		"order_active":  active,
	})

	restaurants := map[uint]struct{}{restaurantID: {}}
	if !active {
		// Closure shows up in every contributing restaurant's snapshot.
		for _, owner := range owners {
			restaurants[owner] = struct{}{}
		}
	}
	e.notify(ctx, map[uint]struct{}{order.BeachID: {}}, restaurants)

	return e.Store.GetOrder(ctx, orderID)
}

// CloseOrder force-deactivates the order regardless of line state, e.g. when
// beach staff mark it abandoned. Closing an inactive order is a no-op.
func (e *Engine) CloseOrder(ctx context.Context, orderID uint, actor *identity.Actor, actingBeachID uint) (*models.Order, error) {
	unlock := e.lockOrder(orderID)
	defer unlock()

	order, err := e.Store.GetOrder(ctx, orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: order %d", ErrNotFound, orderID)
	}
	if err != nil {
		return nil, err
	}

	if !actor.IsAdmin {
		if order.BeachID != actingBeachID || !actor.CanAccessBeach(actingBeachID) {
			return nil, fmt.Errorf("%w: order %d belongs to another beach", ErrForbidden, orderID)
		}
	}

	if !order.Active {
		return order, nil
	}

	if err := e.Store.SetOrderActive(ctx, orderID, false); err != nil {
		return nil, err
	}
	order.Active = false

	owners, err := e.lineOwners(ctx, order)
	if err != nil {
		return nil, err
	}
	restaurants := map[uint]struct{}{}
	for _, owner := range owners {
		restaurants[owner] = struct{}{}
	}

	e.publish(ctx, orderID, map[string]interface{}{
		"type":     "order_closed",
		"order_id": orderID,
		"beach_id": order.BeachID,
	})
	e.notify(ctx, map[uint]struct{}{order.BeachID: {}}, restaurants)

	return order, nil
}

func (e *Engine) lineOwners(ctx context.Context, order *models.Order) (map[uint]uint, error) {
	ids := make([]uint, 0, len(order.Lines))
	for _, line := range order.Lines {
		ids = append(ids, line.ProductID)
	}
	products, err := e.Catalog.Products(ctx, ids)
	if err != nil {
		return nil, err
	}
	owners := make(map[uint]uint, len(products))
	for id, product := range products {
		owners[id] = product.RestaurantID
	}
	return owners, nil
}

// publish and notify run after the commit; their failures are logged and
// never undo the write.
func (e *Engine) publish(ctx context.Context, orderID uint, event map[string]interface{}) {
	if e.Producer == nil {
		return
	}
	if err := e.Producer.PublishEvent(ctx, eventsTopic, strconv.FormatUint(uint64(orderID), 10), event); err != nil && e.Log != nil {
		e.Log.Error("event publish failed", "order_id", orderID, "error", err)
	}
}

func (e *Engine) notify(ctx context.Context, beachIDs, restaurantIDs map[uint]struct{}) {
	if e.Broadcast == nil {
		return
	}
	e.Broadcast.Notify(ctx, beachIDs, restaurantIDs)
}
