// README: Entry point; loads config, wires the tracking service and its optional side channels, serves HTTP.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"ridetrack/internal/config"
	httptransport "ridetrack/internal/http"
	"ridetrack/internal/infra"
	"ridetrack/internal/maps"
	"ridetrack/internal/modules/alerting"
	"ridetrack/internal/modules/tracking"
	"ridetrack/internal/notify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := infra.NewLogger(cfg.Service)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("tracking-api stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	var (
		store       tracking.Store
		locker      tracking.Locker
		redisClient *redis.Client
	)
	switch cfg.StoreBackend {
	case "memory":
		logger.Warn("using in-memory tracking store; state is lost on restart")
		store = tracking.NewMemoryStore()
		locker = tracking.NewMemoryLocker()
	default:
		client, err := infra.NewRedis(ctx, infra.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Timeout:  cfg.Tracking.StoreTimeout,
		})
		if err != nil {
			return err
		}
		defer client.Close()
		redisClient = client
		store = tracking.NewRedisStore(client)
		locker = tracking.NewRedisLocker(client, cfg.Tracking.LockTTL)
	}

	var (
		sinks   []tracking.AlertSink
		archive *alerting.Store
	)
	if cfg.DB.DSN != "" {
		pool, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		archive = alerting.NewStore(pool)
		if err := archive.EnsureSchema(ctx); err != nil {
			return err
		}
		sinks = append(sinks, archive)
		logger.Info("alert archive enabled")
	}
	if cfg.AMQP.URL != "" {
		amqpConn, err := infra.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
		if err != nil {
			return err
		}
		defer amqpConn.Close()
		sinks = append(sinks, alerting.NewPublisher(amqpConn, cfg.AMQP.Exchange))
		logger.Info("alert publishing enabled", "exchange", cfg.AMQP.Exchange)
	}

	hub := notify.NewHub(logger, cfg.HTTP.CORSOrigins)
	notifiers := notify.Fanout{hub}
	if cfg.Firebase.ProjectID != "" {
		fcm, err := infra.NewFirebaseMessaging(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
		if err != nil {
			return err
		}
		notifiers = append(notifiers, notify.NewFCM(fcm))
		logger.Info("fcm notifications enabled", "project", cfg.Firebase.ProjectID)
	}

	var planner *maps.RouteService
	if cfg.Maps.APIKey != "" {
		var cache *maps.RouteCache
		if redisClient != nil {
			cache = maps.NewRouteCache(redisClient, cfg.Maps.CacheTTL)
		}
		rs, err := maps.NewRouteService(cfg.Maps.APIKey, cfg.Maps.Timeout, cache, logger)
		if err != nil {
			return err
		}
		planner = rs
		logger.Info("route planning enabled")
	}

	svc := tracking.NewService(tracking.Deps{
		Store:    store,
		Locker:   locker,
		Notifier: notifiers,
		Sinks:    sinks,
		Logger:   logger,
		Config:   cfg.Tracking,
	})

	deps := httptransport.ServerDeps{
		Tracking:    svc,
		Hub:         hub,
		Logger:      logger,
		CORSOrigins: cfg.HTTP.CORSOrigins,
	}
	// Typed nil pointers must not reach the interface fields.
	if planner != nil {
		deps.Planner = planner
	}
	if archive != nil {
		deps.Archive = archive
	}

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: httptransport.NewServer(deps).Routes()}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
