package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/yvesmarin/beach_orders/internal/broadcast"
	"github.com/yvesmarin/beach_orders/internal/identity"
	"github.com/yvesmarin/beach_orders/internal/visibility"
)

const registerTimeout = 10 * time.Second

// registerMessage is the first frame a client sends after the upgrade.
// Exactly one of beachId/restaurantId must be set.
type registerMessage struct {
	AccessToken  string `json:"accessToken"`
	BeachID      *uint  `json:"beachId"`
	RestaurantID *uint  `json:"restaurantId"`
}

type WSHandler struct {
	Identity *identity.Resolver
	Channel  *broadcast.Channel
	Log      *slog.Logger

	Upgrader websocket.Upgrader
}

// Register handles GET /ws: upgrade, one register frame, then snapshots only.
// Any authorization problem drops the connection without a reply.
func (h *WSHandler) Register(c echo.Context) error {
	conn, err := h.Upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	var msg registerMessage
	_ = conn.SetReadDeadline(time.Now().Add(registerTimeout))
	if err := conn.ReadJSON(&msg); err != nil {
		_ = conn.Close()
		return nil
	}
	_ = conn.SetReadDeadline(time.Time{})

	ctx := c.Request().Context()
	actor, err := h.Identity.Resolve(ctx, msg.AccessToken)
	if err != nil {
		_ = conn.Close()
		return nil
	}

	var room visibility.Room
	switch {
	case msg.BeachID != nil && msg.RestaurantID == nil:
		room = visibility.Room{Kind: visibility.BeachRoom, ID: *msg.BeachID}
	case msg.RestaurantID != nil && msg.BeachID == nil:
		room = visibility.Room{Kind: visibility.RestaurantRoom, ID: *msg.RestaurantID}
	default:
		_ = conn.Close()
		return nil
	}

	sess := broadcast.NewSession(conn)
	if err := h.Channel.Subscribe(ctx, sess, actor, room); err != nil {
		h.Log.Debug("subscription refused", "room", room.String(), "user_id", actor.UserID, "error", err)
		return nil
	}
	h.Log.Info("subscribed", "room", room.String(), "session", sess.ID, "user_id", actor.UserID)

	// A session never rebinds; the read loop only watches for disconnect.
	go func() {
		defer func() {
			h.Channel.Unsubscribe(sess)
			_ = sess.Close()
			h.Log.Info("disconnected", "room", room.String(), "session", sess.ID)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	return nil
}

func NewWSHandler(id *identity.Resolver, ch *broadcast.Channel, log *slog.Logger) *WSHandler {
	return &WSHandler{
		Identity: id,
		Channel:  ch,
		Log:      log,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}
