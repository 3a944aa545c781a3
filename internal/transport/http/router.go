package httpserver

import (
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/yvesmarin/beach_orders/internal/handlers"
)

type Deps struct {
	DB           *gorm.DB
	OrderHandler *handlers.OrderHandler
	WSHandler    *handlers.WSHandler
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(200) })
	e.GET("/health/ready", func(c echo.Context) error { return c.NoContent(200) })

	v1 := e.Group("/api/v1")

	orders := v1.Group("/orders")

	orders.GET("/ws", d.WSHandler.Register)
	orders.POST("/beach/:id", d.OrderHandler.PlaceOrder)
	orders.POST("/:orderId/product/:productId", d.OrderHandler.ToggleLineReady)
	orders.POST("/:orderId/restaurant/:restaurantId", d.OrderHandler.MarkRestaurantLinesSent)
	orders.POST("/:orderId", d.OrderHandler.CloseOrder)
}
