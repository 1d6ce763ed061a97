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

	"redline/sync/internal/app"
	"redline/sync/internal/config"
	"redline/sync/internal/remote"
	"redline/sync/internal/render"
	"redline/sync/internal/signing"
	"redline/sync/internal/snapshot"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	var store snapshot.Store
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for local snapshots")
		redisStore, err := snapshot.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		store = redisStore
	} else {
		log.Printf("Using SQLite for local snapshots at %s", cfg.SnapshotDBPath)
		sqliteStore, err := snapshot.NewSQLiteStore(cfg.SnapshotDBPath)
		if err != nil {
			log.Fatalf("snapshot store failed: %v", err)
		}
		store = sqliteStore
	}

	providers := signing.DefaultProviders()
	if strings.TrimSpace(cfg.ProvidersPath) != "" {
		loaded, err := signing.LoadProviders(cfg.ProvidersPath)
		if err != nil {
			log.Fatalf("provider profiles failed: %v", err)
		}
		providers = loaded
	}

	backend := remote.New(cfg.BackendURL, cfg.BackendToken)

	var preview app.Preview
	if strings.TrimSpace(cfg.RenderURL) != "" {
		preview = render.New(cfg.RenderURL, cfg.RenderToken)
	}

	var gateway signing.Gateway
	if strings.TrimSpace(cfg.SigningURL) != "" {
		gateway = signing.NewClient(cfg.SigningURL, cfg.SigningToken)
	} else {
		gateway = signing.NewClient(cfg.BackendURL, cfg.BackendToken)
	}

	var archive *signing.Archive
	if strings.TrimSpace(cfg.ArchiveEndpoint) != "" {
		a, err := signing.NewArchive(ctx, cfg.ArchiveEndpoint, cfg.ArchiveAccessKey, cfg.ArchiveSecretKey, cfg.ArchiveBucket, cfg.ArchiveUseSSL)
		if err != nil {
			log.Fatalf("archive setup failed: %v", err)
		}
		archive = a
	}

	service := app.NewService(backend, preview, gateway, store, archive, app.ServiceConfig{
		Debounce:        time.Duration(cfg.DebounceMS) * time.Millisecond,
		DefaultProvider: cfg.DefaultProvider,
		Providers:       providers,
		Polling:         signing.Config{Timeout: cfg.PollTimeout},
	})

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Sync agent listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	if err := service.Close(shutdownCtx); err != nil {
		log.Printf("close error: %v", err)
	}
}
