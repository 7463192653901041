/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the entitlement engine server: configuration,
  store selection, dependency wiring, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load environment config (flag overrides for local runs)
  2. Open the store (SQLite path or postgres:// URL)
  3. Wire entitlement + payment services and the HTTP router
  4. Serve with graceful shutdown on SIGINT/SIGTERM

EXAMPLES:
  # Local run against SQLite
  ENTITLEMENT_WEBHOOK_SECRET=... ENTITLEMENT_AUTH_SECRET=... \
    ./server -db=":memory:"

  # Production against PostgreSQL
  ENTITLEMENT_DATABASE_URL=postgres://... ./server
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/warp/entitlement-engine/api"
	"github.com/warp/entitlement-engine/catalog"
	"github.com/warp/entitlement-engine/config"
	"github.com/warp/entitlement-engine/entitlement"
	"github.com/warp/entitlement-engine/ledger"
	"github.com/warp/entitlement-engine/payment"
	"github.com/warp/entitlement-engine/store/postgres"
	"github.com/warp/entitlement-engine/store/sqlite"
)

// engineStore is what both backends provide to the wiring below.
type engineStore interface {
	ledger.TxStore
	catalog.Reader
	api.PackageLister
}

func main() {
	port := flag.Int("port", 0, "HTTP port (overrides ENTITLEMENT_PORT)")
	dbURL := flag.String("db", "", "database URL or SQLite path (overrides ENTITLEMENT_DATABASE_URL)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("configuration error")
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbURL != "" {
		cfg.DatabaseURL = *dbURL
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.JSONFormatter{})

	ctx := context.Background()

	var (
		st      engineStore
		cleanup func()
	)
	if cfg.UsesPostgres() {
		pg, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Fatal("failed to open postgres store")
		}
		st, cleanup = pg, pg.Close
	} else {
		sq, err := sqlite.New(cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Fatal("failed to open sqlite store")
		}
		st, cleanup = sq, func() { sq.Close() }
	}
	defer cleanup()

	verifier := payment.NewVerifier(cfg.WebhookSecret, cfg.WebhookTolerance)
	handler := api.NewHandler(
		st,
		entitlement.NewService(st, st),
		payment.NewService(st, st, verifier),
		st,
	)
	router := api.NewRouter(handler, api.NewHMACTokenVerifier(cfg.AuthSecret), cfg.AllowedOrigins)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.Port).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Fatal("forced shutdown")
	}
	log.Info("server stopped")
}
