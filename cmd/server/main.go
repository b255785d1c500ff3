package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"tiendapos/backend/internal/alerts"
	"tiendapos/backend/internal/cache"
	"tiendapos/backend/internal/config"
	"tiendapos/backend/internal/connectivity"
	"tiendapos/backend/internal/httpapi"
	"tiendapos/backend/internal/inventory"
	"tiendapos/backend/internal/localstore"
	"tiendapos/backend/internal/pos"
	"tiendapos/backend/internal/service"
	"tiendapos/backend/internal/store"
	"tiendapos/backend/internal/store/memory"
	pgstore "tiendapos/backend/internal/store/postgres"
	"tiendapos/backend/internal/syncqueue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load configuration", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Error("invalid security configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	closers := make([]func() error, 0, 3)
	defer func() {
		for idx := len(closers) - 1; idx >= 0; idx-- {
			if err := closers[idx](); err != nil {
				logger.Warn("close error", "error", err)
			}
		}
	}()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var repo store.Repository
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(startCtx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres unavailable and DATABASE_URL is set, refusing to start with in-memory fallback: %w", err)
		}
		closers = append(closers, pg.Close)
		if err := pg.Migrate(startCtx); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
		repo = pg
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		logger.Info("repository: in-memory")
	}

	var cacheStore cache.Cache = cache.Noop{}
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, "tiendapos:")
		if err := redisCache.Ping(startCtx); err != nil {
			logger.Warn("redis unavailable, using noop cache", "error", err)
			_ = redisCache.Close()
		} else {
			cacheStore = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("cache: redis")
		}
	} else {
		logger.Info("cache: noop")
	}

	var local localstore.Store
	if cfg.LocalDataDir != "" {
		badgerCfg := localstore.DefaultBadgerConfig(cfg.LocalDataDir)
		badgerCfg.Logger = logger
		db, err := localstore.OpenBadger(badgerCfg)
		if err != nil {
			return fmt.Errorf("open local store: %w", err)
		}
		local = db
		logger.Info("local store: badger", "path", cfg.LocalDataDir)
	} else {
		local = localstore.NewMemory()
		logger.Info("local store: in-memory")
	}
	closers = append(closers, local.Close)

	remoteTimeout := time.Duration(cfg.RemoteTimeoutSeconds) * time.Second
	stock := inventory.NewCache(local, logger)
	monitor := connectivity.NewMonitor(true, logger)
	queue := syncqueue.New(local, repo, remoteTimeout, logger)
	session := pos.NewSession(pos.Config{
		StoreID:        cfg.StoreID,
		LocationID:     cfg.LocationID,
		CommissionRate: cfg.Settings.CardCommissionRate,
		RemoteTimeout:  remoteTimeout,
	}, pos.Deps{
		Remote:    repo,
		Local:     local,
		Inventory: stock,
		Queue:     queue,
		Monitor:   monitor,
		Logger:    logger,
	})
	if err := session.Start(startCtx); err != nil {
		return fmt.Errorf("start terminal session: %w", err)
	}

	auth := httpapi.NewAuthManager(startCtx, cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, repo, logger)
	alertEngine := alerts.NewEngine(cacheStore, time.Duration(cfg.CatalogCacheTTLSeconds)*time.Second, cfg.Settings.ExpiryAlertDays, logger)
	svc := service.New(repo, service.Options{
		DefaultStoreID: cfg.StoreID,
		Cache:          cacheStore,
		CacheTTL:       time.Duration(cfg.CatalogCacheTTLSeconds) * time.Second,
		Stock:          stock,
		Catalog:        session,
		Alerts:         alertEngine,
		PIN:            auth,
		Logger:         logger,
	})
	api := httpapi.New(svc, session, auth, cfg.AllowedOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      2*remoteTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		monitor.Run(groupCtx, repo, time.Duration(cfg.ProbeIntervalSeconds)*time.Second, remoteTimeout)
		return nil
	})
	group.Go(func() error {
		ttl := time.Duration(cfg.Settings.ReservationTTLSeconds) * time.Second
		stock.RunSweeper(groupCtx, ttl, ttl/2)
		return nil
	})
	group.Go(func() error {
		logger.Info("POS terminal listening", "addr", cfg.Address(), "location_id", cfg.LocationID)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown error", "error", err)
		}
		return nil
	})

	return group.Wait()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects PINs that are all the same digit,
// sequential (ascending or descending), or from a known-weak list.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "111111": true,
		"222222": true, "333333": true, "444444": true, "555555": true,
		"666666": true, "777777": true, "888888": true, "999999": true,
		"121212": true, "112233": true, "123123": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
