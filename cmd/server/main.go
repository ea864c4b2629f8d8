package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mostrador/backend/internal/app"
	"mostrador/backend/internal/config"
	"mostrador/backend/internal/httpapi"
	"mostrador/backend/internal/jobs"
	"mostrador/backend/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.AppEnv)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped with error", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rt, err := app.Build(bootCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	var refresher httpapi.RefreshTrigger
	if rt.RedisOpts != nil {
		client := jobs.NewClient(rt.RedisOpts)
		rt.AddCloser(client.Close)
		refresher = client
	}

	auth := httpapi.NewAuthManager(bootCtx, cfg.AuthSecret, cfg.AccessTokenTTL, cfg.ManagerPIN, rt.Repo)
	api := httpapi.New(rt.Service, auth, httpapi.Options{
		AllowedOrigin:           cfg.AllowedOrigin,
		Production:              !cfg.IsDevelopment(),
		RateLimitPerMinute:      cfg.RateLimitPerMinute,
		LoginRateLimitPerMinute: cfg.LoginRateLimitPerMinute,
		Metrics:                 rt.Metrics,
		Logger:                  logger,
		Refresher:               refresher,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("POS backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		// Keeps the pending list warm when no worker is running.
		if rt.RedisOpts != nil {
			return nil
		}
		ticker := time.NewTicker(cfg.WebOrderPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if _, _, err := rt.Service.RefreshPendingWebOrders(gctx); err != nil {
					logger.Warn("refresh pending web orders", zap.Error(err))
				}
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	for _, r := range cfg.ManagerPIN {
		if r < '0' || r > '9' {
			return fmt.Errorf("MANAGER_PIN must contain digits only")
		}
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects repeated, sequential and commonly used PINs.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "121212": true,
		"112233": true, "123123": true, "102030": true,
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
