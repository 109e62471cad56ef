package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/seolo/mallsync/pkg/batch"
	"github.com/seolo/mallsync/pkg/client"
	"github.com/seolo/mallsync/pkg/jobstore"
	"github.com/seolo/mallsync/pkg/logging"
	"github.com/seolo/mallsync/pkg/shopapi"
)

func main() {
	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(getEnv("LOG_LEVEL", "info")),
		Pretty: getEnv("LOG_PRETTY", "false") == "true",
	})

	// Configuration from environment
	port := getEnv("PORT", "8080")
	baseURL := getEnv("SHOP_BASE_URL", "")
	accessToken := getEnv("SHOP_ACCESS_TOKEN", "")
	storeBackend := getEnv("JOB_STORE", "memory")

	if baseURL == "" {
		logger.Fatal().Msg("SHOP_BASE_URL is required")
	}
	if accessToken == "" {
		logger.Fatal().Msg("SHOP_ACCESS_TOKEN is required")
	}

	repo, cleanup := buildRepository(logger, storeBackend)
	defer cleanup()

	jobs := jobstore.NewStore(repo)

	sweeper := jobstore.NewSweeper(repo, jobstore.DefaultRetention, jobstore.DefaultSweepInterval)
	sweeper.Start()
	defer sweeper.Stop()

	defaultShopNo, err := strconv.Atoi(getEnv("SHOP_NO", "1"))
	if err != nil {
		logger.Fatal().Err(err).Msg("SHOP_NO must be numeric")
	}

	// Each batch run gets its own limiter and storefront from its request
	// config, so the admin API client is built per run.
	factory := func(limiter client.Limiter, shopNo int) (batch.Directory, error) {
		caller, err := client.New(client.DefaultConfig(limiter, client.StaticToken(accessToken)))
		if err != nil {
			return nil, err
		}
		cfg := shopapi.DefaultConfig(baseURL)
		cfg.ShopNo = defaultShopNo
		if shopNo > 0 {
			cfg.ShopNo = shopNo
		}
		return shopapi.New(caller, cfg)
	}

	runner, err := batch.NewRunner(factory, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create batch runner")
	}
	jobRunner, err := batch.NewJobRunner(runner, jobs, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create job runner")
	}

	srv := newServer(runner, jobRunner, jobs, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/batch", srv.handleBatch)
	mux.HandleFunc("POST /api/jobs", srv.handleStartJob)
	mux.HandleFunc("GET /api/jobs/{id}", srv.handleJobStatus)
	mux.HandleFunc("GET /health", srv.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	rps, _ := strconv.ParseFloat(getEnv("INBOUND_RPS", "10"), 64)
	burst, _ := strconv.Atoi(getEnv("INBOUND_BURST", "20"))
	limiter := newInboundLimiter(rps, burst, logger)
	limiter.Start()
	defer limiter.Stop()
	handler := limiter.wrap(mux)

	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("Starting mallsync server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info().Msg("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Shutdown failed")
	}
}

// buildRepository selects the job store backend. In-flight jobs need a
// shared external store when the poll endpoint may be served by a
// different process than the one that started the job; memory is for
// single-process development only.
func buildRepository(logger zerolog.Logger, backend string) (jobstore.Repository, func()) {
	switch backend {
	case "redis":
		redisURL := getEnv("REDIS_URL", "localhost:6379")
		redisClient := redis.NewClient(&redis.Options{Addr: redisURL})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Fatal().Err(err).Str("addr", redisURL).Msg("Failed to connect to Redis")
		}
		logger.Info().Str("addr", redisURL).Msg("Job store: Redis")
		return jobstore.NewRedisRepository(redisClient), func() { redisClient.Close() }

	case "postgres":
		databaseURL := getEnv("DATABASE_URL", "")
		if databaseURL == "" {
			logger.Fatal().Msg("DATABASE_URL is required for the postgres job store")
		}
		pool, err := pgxpool.New(context.Background(), databaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to Postgres")
		}
		repo := jobstore.NewPostgresRepository(pool)
		if err := repo.EnsureSchema(context.Background()); err != nil {
			logger.Fatal().Err(err).Msg("Failed to ensure job table")
		}
		logger.Info().Msg("Job store: Postgres")
		return repo, pool.Close

	case "memory":
		logger.Warn().Msg("Job store: in-memory (jobs are lost on restart)")
		return jobstore.NewMemoryRepository(), func() {}

	default:
		logger.Fatal().Str("backend", backend).Msg("Unknown JOB_STORE backend")
		return nil, nil
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
