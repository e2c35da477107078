package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-checkout/internal/analytics"
	"github.com/noah-isme/storefront-checkout/internal/config"
	"github.com/noah-isme/storefront-checkout/internal/intent"
	"github.com/noah-isme/storefront-checkout/internal/notify"
	"github.com/noah-isme/storefront-checkout/internal/obs"
	"github.com/noah-isme/storefront-checkout/internal/queue"
	"github.com/noah-isme/storefront-checkout/internal/resilience"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   "storefront-checkout-worker",
			Environment:   cfg.AppEnv,
			Exporter:      cfg.TracingExporter,
			Endpoint:      cfg.OTLPEndpoint,
			SamplingRatio: cfg.TracingSampling,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
		} else {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	pool := mustInitDatabase(ctx, cfg, logger)
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	var workers []queue.Worker
	if cfg.EmailEnabled {
		sender := notify.SMTPSender{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			Insecure: cfg.SMTPInsecure,
		}
		workers = append(workers, newWorker(cfg, redisClient, logger, notify.TaskOrderConfirmation, notify.EmailHandler{Sender: sender}.Handle))
	}
	if cfg.ConversionEnabled {
		sender := analytics.ConversionSender{
			Endpoint:    cfg.ConversionURL,
			AccessToken: cfg.ConversionToken,
			Client: resilience.HTTPClient{
				Client: resilience.NewTracedClient(10 * time.Second),
				Breaker: resilience.NewBreaker(5, 0.5, time.Minute).
					WithTarget("conversion").
					WithLogger(logger),
				BaseBackoff: 500 * time.Millisecond,
				MaxAttempts: 2,
				Jitter:      0.2,
				Timeout:     10 * time.Second,
			},
		}
		workers = append(workers, newWorker(cfg, redisClient, logger, analytics.TaskConversion, sender.Handle))
	}

	sweeper := intent.Sweeper{
		Store:    intent.PGStore{Pool: pool},
		After:    cfg.IntentAbandonAfter,
		Interval: cfg.IntentSweepEvery,
		Logger:   logger.With().Str("job", "intent_sweeper").Logger(),
	}

	metricsAddr := envOrDefault("WORKER_METRICS_ADDR", ":9091")
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	dlq := queue.Enqueuer{R: redisClient, Prefix: cfg.QueuePrefix}
	for _, w := range workers {
		reportDeadLetters(ctx, dlq, w.Kind, logger)
	}

	logger.Info().Int("queues", len(workers)).Msg("worker starting")
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()
	for _, w := range workers {
		wg.Add(1)
		go func(w queue.Worker) {
			defer wg.Done()
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Str("kind", w.Kind).Msg("queue worker stopped with error")
			}
		}(w)
	}
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	logger.Info().Msg("worker shutdown complete")
}

func newWorker(cfg *config.Config, client *redis.Client, logger zerolog.Logger, kind string, handler func(context.Context, queue.Task) error) queue.Worker {
	return queue.Worker{
		R:                 client,
		Prefix:            cfg.QueuePrefix,
		Kind:              kind,
		Concurrency:       cfg.QueueConcurrency,
		VisibilityTimeout: time.Minute,
		RetryBase:         5 * time.Second,
		RetryJitter:       0.2,
		Handler:           handler,
		Logger:            logger.With().Str("kind", kind).Logger(),
	}
}

// reportDeadLetters logs a sample of tasks left in a queue's dead-letter list.
func reportDeadLetters(ctx context.Context, enq queue.Enqueuer, kind string, logger zerolog.Logger) {
	letters, err := enq.DeadLetters(ctx, kind, 5)
	if err != nil {
		logger.Warn().Err(err).Str("kind", kind).Msg("read dead letters")
		return
	}
	if len(letters) == 0 {
		return
	}
	logger.Warn().Str("kind", kind).Int("sample", len(letters)).Str("newest", letters[0]).Msg("dead_letters_pending")
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	poolConfig.MaxConns = 4
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
