package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/yvesmarin/beach_orders/internal/fulfillment"
	"github.com/yvesmarin/beach_orders/internal/identity"
)

type OrderHandler struct {
	Engine   *fulfillment.Engine
	Identity *identity.Resolver
	Log      *slog.Logger
}

func (h *OrderHandler) actor(c echo.Context) (*identity.Actor, error) {
	raw := c.Request().Header.Get(echo.HeaderAuthorization)
	raw = strings.TrimPrefix(raw, "Bearer ")
	if raw == "" {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "missing access token")
	}
	actor, err := h.Identity.Resolve(c.Request().Context(), raw)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid access token")
	}
	return actor, nil
}

func paramID(c echo.Context, name string) (uint, error) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return uint(id), nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, fulfillment.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, fulfillment.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, fulfillment.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, fulfillment.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// PlaceOrder handles POST /beach/:id.
func (h *OrderHandler) PlaceOrder(c echo.Context) error {
	actor, err := h.actor(c)
	if err != nil {
		return err
	}
	beachID, err := paramID(c, "id")
	if err != nil {
		return err
	}

	var req struct {
		Note     string                  `json:"note"`
		Products []fulfillment.LineInput `json:"products"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	order, err := h.Engine.PlaceOrder(c.Request().Context(), beachID, actor, req.Note, req.Products)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, order)
}

// ToggleLineReady handles POST /:orderId/product/:productId. The acting
// restaurant is the one the caller works for; admins may name any via
// ?restaurantId=.
func (h *OrderHandler) ToggleLineReady(c echo.Context) error {
	actor, err := h.actor(c)
	if err != nil {
		return err
	}
	orderID, err := paramID(c, "orderId")
	if err != nil {
		return err
	}
	productID, err := paramID(c, "productId")
	if err != nil {
		return err
	}

	restaurantID, ok := actor.RestaurantID()
	if actor.IsAdmin {
		if raw := c.QueryParam("restaurantId"); raw != "" {
			id, err := strconv.Atoi(raw)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid restaurantId")
			}
			restaurantID, ok = uint(id), true
		} else {
			ok = true
		}
	}
	if !ok {
		return echo.NewHTTPError(http.StatusForbidden, "caller is not attached to a restaurant")
	}

	line, err := h.Engine.ToggleLineReady(c.Request().Context(), orderID, productID, actor, restaurantID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, line)
}

// MarkRestaurantLinesSent handles POST /:orderId/restaurant/:restaurantId.
func (h *OrderHandler) MarkRestaurantLinesSent(c echo.Context) error {
	actor, err := h.actor(c)
	if err != nil {
		return err
	}
	orderID, err := paramID(c, "orderId")
	if err != nil {
		return err
	}
	restaurantID, err := paramID(c, "restaurantId")
	if err != nil {
		return err
	}

	order, err := h.Engine.MarkRestaurantLinesSent(c.Request().Context(), orderID, restaurantID, actor)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, order)
}

// CloseOrder handles POST /:orderId.
func (h *OrderHandler) CloseOrder(c echo.Context) error {
	actor, err := h.actor(c)
	if err != nil {
		return err
	}
	orderID, err := paramID(c, "orderId")
	if err != nil {
		return err
	}

	beachID, _ := actor.BeachID()
	order, err := h.Engine.CloseOrder(c.Request().Context(), orderID, actor, beachID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, order)
}
