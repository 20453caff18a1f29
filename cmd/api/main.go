package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"quorum/api/internal/app"
	"quorum/api/internal/config"
	"quorum/api/internal/notify"
	"quorum/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	service := app.New(cfg, dataStore)

	var events *notify.RedisBus
	if strings.TrimSpace(cfg.RedisURL) != "" {
		events, err = notify.NewRedisBus(cfg.RedisURL, cfg.EventChannel)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer events.Close()
		log.Printf("Publishing events on %s", cfg.EventChannel)
	} else {
		log.Printf("REDIS_URL unset, real-time events disabled")
	}

	var httpServer *app.HTTPServer
	if events != nil {
		httpServer = app.NewHTTPServer(service, events, cfg.CORSOrigin)
	} else {
		httpServer = app.NewHTTPServer(service, nil, cfg.CORSOrigin)
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Quorum API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownWait)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
