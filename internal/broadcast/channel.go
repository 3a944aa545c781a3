package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/yvesmarin/beach_orders/internal/identity"
	"github.com/yvesmarin/beach_orders/internal/visibility"
)

var ErrNotAuthorized = errors.New("not authorized for room")
var ErrAlreadySubscribed = errors.New("session already subscribed")

// Conn is the write side of one live connection. *websocket.Conn satisfies it.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Session binds one connection to at most one room for its whole lifetime.
type Session struct {
	ID   string
	conn Conn

	mu   sync.Mutex
	room *visibility.Room
}

func NewSession(conn Conn) *Session {
	return &Session{ID: uuid.NewString(), conn: conn}
}

func (s *Session) Room() (visibility.Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == nil {
		return visibility.Room{}, false
	}
	return *s.room, true
}

func (s *Session) send(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *Session) Close() error {
	return s.conn.Close()
}

type snapshotEvent struct {
	Event  string                     `json:"event"`
	Orders []visibility.OrderSnapshot `json:"orders"`
}

// Channel is the room registry. One instance is constructed in main and
// handed to the fulfillment engine; nothing here mutates order state.
type Channel struct {
	Resolver *visibility.Resolver
	Log      *slog.Logger

	mu        sync.RWMutex
	rooms     map[string]map[*Session]struct{}
	roomLocks map[string]*roomLock
}

// roomLock serializes snapshot work per room. refs counts goroutines holding
// or waiting on it, so the registry entry can be dropped once the room is
// empty and idle.
type roomLock struct {
	mu   sync.Mutex
	refs int
}

func NewChannel(resolver *visibility.Resolver, log *slog.Logger) *Channel {
	return &Channel{
		Resolver:  resolver,
		Log:       log,
		rooms:     map[string]map[*Session]struct{}{},
		roomLocks: map[string]*roomLock{},
	}
}

// Subscribe authorizes the actor for the room, binds the session and delivers
// the initial snapshot. On authorization failure the connection is closed;
// no anonymous subscription exists.
func (ch *Channel) Subscribe(ctx context.Context, sess *Session, actor *identity.Actor, room visibility.Room) error {
	if !ch.Resolver.Allowed(actor, room) {
		_ = sess.Close()
		return ErrNotAuthorized
	}

	sess.mu.Lock()
	if sess.room != nil {
		sess.mu.Unlock()
		_ = sess.Close()
		return ErrAlreadySubscribed
	}
	r := room
	sess.room = &r
	sess.mu.Unlock()

	unlock := ch.lockRoom(room)
	defer unlock()

	ch.mu.Lock()
	set, ok := ch.rooms[room.String()]
	if !ok {
		set = map[*Session]struct{}{}
		ch.rooms[room.String()] = set
	}
	set[sess] = struct{}{}
	ch.mu.Unlock()

	orders, err := ch.Resolver.ForRoom(ctx, room)
	if err != nil {
		// The subscription stays; the room catches up on the next notify.
		ch.Log.Error("initial snapshot failed", "room", room.String(), "error", err)
		return nil
	}
	if err := sess.send(snapshotEvent{Event: "activeOrders", Orders: orders}); err != nil {
		ch.Log.Warn("initial snapshot write failed", "room", room.String(), "session", sess.ID, "error", err)
		ch.Unsubscribe(sess)
		_ = sess.Close()
	}
	return nil
}

// Unsubscribe removes the session immediately; no further snapshots reach it.
func (ch *Channel) Unsubscribe(sess *Session) {
	room, ok := sess.Room()
	if !ok {
		return
	}
	name := room.String()
	ch.mu.Lock()
	if set, ok := ch.rooms[name]; ok {
		delete(set, sess)
		if len(set) == 0 {
			delete(ch.rooms, name)
			if lock, ok := ch.roomLocks[name]; ok && lock.refs == 0 {
				delete(ch.roomLocks, name)
			}
		}
	}
	ch.mu.Unlock()
}

// Notify recomputes and pushes the full snapshot of every affected room that
// has at least one live subscriber. Snapshot failures leave the room stale
// until the next state change; the committed write is never rolled back.
func (ch *Channel) Notify(ctx context.Context, beachIDs, restaurantIDs map[uint]struct{}) {
	for id := range beachIDs {
		ch.notifyRoom(ctx, visibility.Room{Kind: visibility.BeachRoom, ID: id})
	}
	for id := range restaurantIDs {
		ch.notifyRoom(ctx, visibility.Room{Kind: visibility.RestaurantRoom, ID: id})
	}
}

func (ch *Channel) notifyRoom(ctx context.Context, room visibility.Room) {
	ch.mu.RLock()
	_, live := ch.rooms[room.String()]
	ch.mu.RUnlock()
	if !live {
		return
	}

	// The per-room lock orders snapshot delivery with commit order: a notify
	// for an older write cannot overtake one for a newer write.
	unlock := ch.lockRoom(room)
	defer unlock()

	orders, err := ch.Resolver.ForRoom(ctx, room)
	if err != nil {
		ch.Log.Error("snapshot recompute failed, room left stale", "room", room.String(), "error", err)
		return
	}

	ch.mu.RLock()
	sessions := make([]*Session, 0, len(ch.rooms[room.String()]))
	for sess := range ch.rooms[room.String()] {
		sessions = append(sessions, sess)
	}
	ch.mu.RUnlock()

	event := snapshotEvent{Event: "activeOrders", Orders: orders}
	for _, sess := range sessions {
		if err := sess.send(event); err != nil {
			ch.Log.Warn("snapshot write failed, dropping session", "room", room.String(), "session", sess.ID, "error", err)
			ch.Unsubscribe(sess)
			_ = sess.Close()
		}
	}
}

// Subscribers reports the live subscriber count of a room.
func (ch *Channel) Subscribers(room visibility.Room) int {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return len(ch.rooms[room.String()])
}

func (ch *Channel) lockRoom(room visibility.Room) func() {
	name := room.String()

	ch.mu.Lock()
	lock, ok := ch.roomLocks[name]
	if !ok {
		lock = &roomLock{}
		ch.roomLocks[name] = lock
	}
	lock.refs++
	ch.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		ch.mu.Lock()
		lock.refs--
		if lock.refs == 0 && len(ch.rooms[name]) == 0 {
			delete(ch.roomLocks, name)
		}
		ch.mu.Unlock()
	}
}
