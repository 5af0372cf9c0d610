// Package app assembles the keyserver's infrastructure and domain
// collaborators and runs the process in either "api" or "worker" mode.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/corsarvpn/keyserver/internal/clock"
	"github.com/corsarvpn/keyserver/internal/config"
	"github.com/corsarvpn/keyserver/internal/httpserver"
	"github.com/corsarvpn/keyserver/internal/platform"
	"github.com/corsarvpn/keyserver/internal/store"
	"github.com/corsarvpn/keyserver/internal/telemetry"
	"github.com/corsarvpn/keyserver/pkg/keyservice"
	"github.com/corsarvpn/keyserver/pkg/messaging"
	"github.com/corsarvpn/keyserver/pkg/messaging/telegram"
	"github.com/corsarvpn/keyserver/pkg/notify"
	"github.com/corsarvpn/keyserver/pkg/panel"
	"github.com/corsarvpn/keyserver/pkg/payment"
	"github.com/corsarvpn/keyserver/pkg/scheduler"
)

// Run reads config, connects to infrastructure, and starts the
// appropriate mode (api or worker).
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting keyserver", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	st := store.New(db)
	if err := st.EnsureEnumVariants(ctx); err != nil {
		return fmt.Errorf("ensuring notification type enum variants: %w", err)
	}

	clk, err := clock.New(cfg.CivilTimezone)
	if err != nil {
		return fmt.Errorf("loading civil timezone %q: %w", cfg.CivilTimezone, err)
	}

	metricsReg := telemetry.NewRegistry(telemetry.All()...)

	msgRegistry := messaging.NewRegistry()
	if cfg.TelegramBotToken != "" {
		msgRegistry.Register(telegram.New(cfg.TelegramBotToken, cfg.TelegramAdminChatID, logger))
		logger.Info("telegram messaging sink enabled")
	} else {
		logger.Info("telegram messaging sink disabled (TELEGRAM_BOT_TOKEN not set)")
	}
	msgProvider, err := msgRegistry.Get("telegram")
	if err != nil {
		return fmt.Errorf("resolving messaging provider: %w", err)
	}

	panels := panel.NewFactory(logger)
	notifyEngine := notify.New(st, clk, rdb, msgProvider, logger)
	keys := keyservice.New(st, clk, panels, notifyEngine, msgProvider, cfg.KeyNamePrefix, cfg.DisableKeyNotifications, logger)

	var provider payment.Provider
	if cfg.PaymentProviderToken != "" {
		provider = payment.NewYooMoneyProvider(cfg.PaymentProviderToken, cfg.PaymentProviderAccount)
	}
	payments := payment.New(st, clk, provider, keys, msgProvider, logger)

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, metricsReg, st, clk, keys, payments, notifyEngine)
	case "worker":
		return runWorker(ctx, logger, payments, keys, notifyEngine)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

func runAPI(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	db *pgxpool.Pool,
	rdb *redis.Client,
	metricsReg *prometheus.Registry,
	st *store.Store,
	clk *clock.Clock,
	keys *keyservice.Service,
	payments *payment.Pipeline,
	notifyEngine *notify.Engine,
) error {
	srv := httpserver.NewServer(cfg, logger, db, rdb, metricsReg, httpserver.Deps{
		Store:    st,
		Clock:    clk,
		Keys:     keys,
		Payments: payments,
		Notify:   notifyEngine,
	})

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runWorker(ctx context.Context, logger *slog.Logger, payments *payment.Pipeline, keys *keyservice.Service, notifyEngine *notify.Engine) error {
	logger.Info("worker started")
	sched := scheduler.New(payments, keys, notifyEngine, logger)
	return sched.Run(ctx)
}
