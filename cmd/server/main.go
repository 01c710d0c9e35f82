package main // Entry point package

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/studio-booking/internal/config"
	"github.com/iliyamo/studio-booking/internal/database"
	"github.com/iliyamo/studio-booking/internal/handler"
	"github.com/iliyamo/studio-booking/internal/logger"
	"github.com/iliyamo/studio-booking/internal/metrics"
	"github.com/iliyamo/studio-booking/internal/middleware"
	"github.com/iliyamo/studio-booking/internal/queue"
	"github.com/iliyamo/studio-booking/internal/repository"
	"github.com/iliyamo/studio-booking/internal/router"
	"github.com/iliyamo/studio-booking/internal/service"
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DB())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Redis is optional: without it rate limiting and caching are off.
	rdb := config.NewRedisClient(config.LoadRedisConfig())
	if rdb == nil {
		log.Warn("redis unavailable, rate limiting and response cache disabled")
	} else {
		defer rdb.Close()
	}
	cacheCfg := config.LoadCacheConfig()
	purger := middleware.NewRedisPurger(cacheCfg, rdb)

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New("studio")
		m.RegisterDB(db, cfg.DBName)
	}

	classRepo := repository.NewClassRepo(db)
	balanceRepo := repository.NewBalanceRepo(db)
	reservationRepo := repository.NewReservationRepo(db)
	packageRepo := repository.NewPackageRepo(db)
	paymentRepo := repository.NewPaymentRepo(db)
	userRepo := repository.NewUserRepo(db)
	tokenRepo := repository.NewTokenRepo(db)

	opts := []service.BookingOption{
		service.WithCachePurger(purger),
		service.WithLocation(cfg.StudioTZ),
	}
	if m != nil {
		opts = append(opts, service.WithOutcomes(m))
	}
	qcfg := config.LoadQueueConfig()
	if qcfg.URL != "" {
		opts = append(opts, service.WithEvents(queue.NewPublisher(qcfg.URL, log)))
	} else {
		log.Info("RABBITMQ_URL not set, booking events disabled")
	}

	bookings := service.NewBookingService(classRepo, balanceRepo, reservationRepo, log, opts...)
	queries := service.NewQueryService(classRepo, reservationRepo, cfg.StudioTZ)
	classes := service.NewClassService(classRepo, purger, cfg.StudioTZ, log)
	packages := service.NewPackageService(packageRepo, paymentRepo, balanceRepo, log)

	e := router.New(router.Deps{
		JWTSecret: cfg.JWTSecret,
		DB:        db,
		Redis:     rdb,
		RateLimit: config.LoadRateLimitConfig(),
		Cache:     cacheCfg,
		Metrics:   m,
		Log:       log,
		Auth:      handler.NewAuthHandler(cfg, userRepo, tokenRepo, log),
		Classes:   handler.NewClassHandler(classes, queries, log),
		Packages:  handler.NewPackageHandler(packageRepo, packages, purger, log),
		Payments:  handler.NewPaymentHandler(paymentRepo, userRepo, log),
		Bookings:  handler.NewBookingHandler(bookings, queries, packages, log),
		Users:     handler.NewUserHandler(userRepo, tokenRepo, queries, cfg.StudioTZ, log),
	})

	if qcfg.ConsumerEnabled {
		consumer := queue.NewConsumer(qcfg.URL, qcfg.LogPath, log)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("booking consumer stopped", zap.Error(err))
			}
		}()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           e,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", srv.Addr), zap.String("tz", cfg.StudioTZ.String()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
