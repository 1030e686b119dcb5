package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gudangsync/backend/internal/assetcache"
	"gudangsync/backend/internal/config"
	"gudangsync/backend/internal/connectivity"
	"gudangsync/backend/internal/httpapi"
	"gudangsync/backend/internal/ledger"
	"gudangsync/backend/internal/replay"
	"gudangsync/backend/internal/store"
	"gudangsync/backend/internal/store/memory"
	pgstore "gudangsync/backend/internal/store/postgres"
	sqlitestore "gudangsync/backend/internal/store/sqlite"
	"gudangsync/backend/internal/syncer"
	"gudangsync/backend/internal/syncqueue"
)

func main() {
	cfg := config.Load()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var durable store.Store
	closers := make([]func() error, 0, 2)

	switch {
	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		durable = pg
		closers = append(closers, pg.Close)
		log.Println("store: postgres")
	case cfg.SQLitePath != "":
		sq, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("open sqlite store at %s: %v", cfg.SQLitePath, err)
		}
		durable = sq
		closers = append(closers, sq.Close)
		log.Printf("store: sqlite (%s)", cfg.SQLitePath)
	default:
		durable = memory.NewSeeded()
		log.Println("store: in-memory (seeded dev data)")
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)

	cacheStore := assetcache.AssetCache(assetcache.NoopAssetCache{})
	var redisCache *assetcache.RedisAssetCache
	if cfg.RedisAddr != "" {
		rc := assetcache.NewRedisAssetCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := rc.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using noop asset cache", err)
		} else {
			cacheStore = rc
			redisCache = rc
			closers = append(closers, rc.Close)
			log.Println("asset cache: redis")
		}
	} else {
		log.Println("asset cache: noop")
	}

	queue := syncqueue.New(durable)
	svc := ledger.New(durable, cacheStore, logger, cfg.DefaultWarehouseID)

	pollInterval := time.Duration(cfg.SyncPollSeconds) * time.Second
	var probe connectivity.Probe
	if cfg.SyncProbeURL != "" {
		probe = connectivity.HTTPProbe(cfg.SyncProbeURL, pollInterval)
	} else {
		// No remote endpoint configured: run permanently offline, queue
		// everything, and let an operator trigger sync after setting one.
		probe = func(context.Context) bool { return false }
		log.Println("sync: no SYNC_REMOTE_URL, running offline")
	}
	monitor := connectivity.NewMonitor(probe, pollInterval, logger)

	replayClient := replay.NewClient(cfg.SyncRemoteURL, pollInterval*2)
	orchestrator := syncer.New(queue, monitor, replayClient.Send, logger, syncer.Options{
		BackoffMin: time.Duration(cfg.SyncBackoffMinSeconds) * time.Second,
		BackoffMax: time.Duration(cfg.SyncBackoffMaxSeconds) * time.Second,
	})

	runCtx, stopWorkers := context.WithCancel(context.Background())
	go monitor.Run(runCtx)
	go orchestrator.Run(runCtx)
	if redisCache != nil {
		go redisCache.SubscribeWake(runCtx, logger, orchestrator.Trigger)
	}

	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, accounts(cfg))
	api := httpapi.New(svc, orchestrator, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("gudangsync backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	stopWorkers()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func accounts(cfg config.Config) []httpapi.Credential {
	creds := make([]httpapi.Credential, 0, 2)
	if cfg.AdminPassword != "" {
		creds = append(creds, httpapi.Credential{Username: "admin", Password: cfg.AdminPassword, Role: "admin"})
	}
	if cfg.StaffPassword != "" {
		creds = append(creds, httpapi.Credential{Username: "staff", Password: cfg.StaffPassword, Role: "staff"})
	}
	return creds
}

func validateConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AdminPassword == "" && cfg.StaffPassword == "" {
		return fmt.Errorf("at least one of ADMIN_PASSWORD or STAFF_PASSWORD must be set")
	}
	return nil
}
