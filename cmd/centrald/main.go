package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"possync/internal/central"
	"possync/internal/central/postgres"
	"possync/internal/config"
	"possync/internal/db"
	"possync/internal/httpapi"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadCentral()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Central.DatabaseURL)
	if err != nil {
		log.Fatalf("database error: %v", err)
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool); err != nil {
		log.Fatalf("migration error: %v", err)
	}

	store := postgres.New(pool)
	svc := central.NewService(store, cfg.Central.MaintenanceSecret, logger)
	handler := httpapi.NewHandler(svc)
	router := httpapi.NewRouter(handler)

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Central.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Printf("central sync server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		if closeErr := server.Close(); closeErr != nil {
			log.Printf("force close failed: %v", closeErr)
		}
	}
}
