package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/yvesmarin/beach_orders/internal/broadcast"
	"github.com/yvesmarin/beach_orders/internal/catalog"
	"github.com/yvesmarin/beach_orders/internal/config"
	"github.com/yvesmarin/beach_orders/internal/fulfillment"
	"github.com/yvesmarin/beach_orders/internal/handlers"
	"github.com/yvesmarin/beach_orders/internal/identity"
	"github.com/yvesmarin/beach_orders/internal/logging"
	"github.com/yvesmarin/beach_orders/internal/mykafka"
	"github.com/yvesmarin/beach_orders/internal/store"
	httpserver "github.com/yvesmarin/beach_orders/internal/transport/http"
	"github.com/yvesmarin/beach_orders/internal/visibility"
)

func main() {
	configuration, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := logging.New(configuration.LOG_LEVEL)

	db, err := config.InitDB()
	if err != nil {
		log.Fatalf("database init failed: %v", err)
	}

	var prod *mykafka.Producer
	if configuration.KAFKA_ADDRESS != "" {
		prod, err = mykafka.NewProducer([]string{configuration.KAFKA_ADDRESS})
		if err != nil {
			log.Fatal(err)
		}
	}

	jwtSecret := []byte(configuration.JWT_SECRET)

	orderStore := store.New(db, logger)
	cat := catalog.New(db)
	idResolver := &identity.Resolver{DB: db, JWTSecret: jwtSecret}
	resolver := visibility.NewResolver(db, orderStore, cat)

	// The broadcast channel is owned here and handed to the engine; there is
	// no ambient registry.
	channel := broadcast.NewChannel(resolver, logger)

	engine := &fulfillment.Engine{
		Store:     orderStore,
		Catalog:   cat,
		Broadcast: channel,
		Log:       logger,
	}
	if prod != nil {
		engine.Producer = prod
	}

	e := echo.New()
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover(), middleware.RequestID())

	deps := httpserver.Deps{
		DB:           db,
		OrderHandler: &handlers.OrderHandler{Engine: engine, Identity: idResolver, Log: logger},
		WSHandler:    handlers.NewWSHandler(idResolver, channel, logger),
	}

	httpserver.Register(e, &deps)

	srv := &http.Server{
		Addr:         ":" + configuration.PORT,
		Handler:      e,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit

	log.Println("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			log.Printf("db close error: %v", err)
		}
	} else {
		log.Printf("db() error: %v", err)
	}

	if err := prod.Close(); err != nil {
		log.Printf("kafka close error: %v", err)
	}

	log.Println("shutdown complete")
}
