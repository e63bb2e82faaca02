package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/omarfaruk-dev/tutorcal/libs/config"
	"github.com/omarfaruk-dev/tutorcal/libs/db"
	"github.com/omarfaruk-dev/tutorcal/libs/kafkax"
	"github.com/omarfaruk-dev/tutorcal/libs/otelx"
	"github.com/omarfaruk-dev/tutorcal/libs/redisx"
	"github.com/omarfaruk-dev/tutorcal/libs/runtime"
	"github.com/omarfaruk-dev/tutorcal/services/availability-service/internal/availability"
	"github.com/omarfaruk-dev/tutorcal/services/availability-service/internal/cache"
	"github.com/omarfaruk-dev/tutorcal/services/availability-service/internal/outbox"
	"github.com/omarfaruk-dev/tutorcal/services/availability-service/internal/storage"
	"github.com/omarfaruk-dev/tutorcal/services/availability-service/internal/timezone"
)

const serviceName = "availability-service"

func main() {
	logger := runtime.NewLogger(serviceName)

	ctx, stop := runtime.SignalContext()
	defer stop()

	shutdownTracing, err := otelx.Setup(ctx, otelx.ConfigFromEnv(serviceName))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	databaseURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		logger.Error("config error", "err", err)
		os.Exit(1)
	}
	port, err := config.Port("PORT", "8084")
	if err != nil {
		logger.Error("config error", "err", err)
		os.Exit(1)
	}
	redisAddr := config.String("REDIS_ADDR", "")
	kafkaBrokers := config.String("KAFKA_BROKERS", "")

	pool, err := db.Open(ctx, databaseURL, int32(config.Int("DB_MAX_CONNS", 10)))
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	rdb, err := redisx.Open(ctx, redisAddr)
	if err != nil {
		logger.Error("redis connect failed", "err", err)
		os.Exit(1)
	}
	if rdb == nil {
		logger.Warn("running without redis cache")
	}

	availRepo := storage.NewAvailabilityRepository(pool)
	blackoutRepo := storage.NewBlackoutRepository(pool)
	bookingRepo := storage.NewBookingRepository(pool)
	instructorRepo := storage.NewInstructorRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	tz := timezone.NewService(config.String("DEFAULT_TIMEZONE", "UTC"), logger)

	svc := availability.NewService(
		availRepo, bookingRepo, blackoutRepo, instructorRepo, tz, outboxRepo, logger,
		availability.Config{
			AllowPastEdits:                 config.Bool("ALLOW_PAST_EDITS", false),
			SuppressPastEventNotifications: config.Bool("SUPPRESS_PAST_EVENT_NOTIFICATIONS", true),
		},
	)

	var store cache.Store
	if rdb != nil {
		store = cache.NewRedisStore(rdb)
	}
	warmer := cache.NewWarmer(store, svc, logger, config.Int("CACHE_WARM_MAX_ATTEMPTS", 3))
	svc.SetCache(warmer)

	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   kafkaBrokers,
		PollEvery: config.Duration("OUTBOX_POLL_EVERY", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go publisher.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "postgres", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "redis", Check: readyIf(rdb != nil, redisx.ReadyCheck(rdb))},
		runtime.ReadyCheck{Name: "kafka", Check: readyIf(kafkaBrokers != "", kafkax.ReadyCheck(kafkaBrokers))},
	)

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           otelhttp.NewHandler(mux, serviceName),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("listening", "port", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "err", err)
	}
}

// readyIf registers a check only when its dependency is configured; nil
// checks are skipped by the ready mux.
func readyIf(configured bool, check func(context.Context) error) func(context.Context) error {
	if !configured {
		return nil
	}
	return check
}
