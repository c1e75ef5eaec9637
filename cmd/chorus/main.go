package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/af-corp/chorus/internal/api"
	"github.com/af-corp/chorus/internal/auth"
	"github.com/af-corp/chorus/internal/blob"
	"github.com/af-corp/chorus/internal/chart"
	"github.com/af-corp/chorus/internal/chat"
	"github.com/af-corp/chorus/internal/chorus"
	"github.com/af-corp/chorus/internal/config"
	"github.com/af-corp/chorus/internal/filter"
	"github.com/af-corp/chorus/internal/filter/injection"
	"github.com/af-corp/chorus/internal/filter/policy"
	"github.com/af-corp/chorus/internal/filter/secrets"
	"github.com/af-corp/chorus/internal/intent"
	"github.com/af-corp/chorus/internal/provider"
	"github.com/af-corp/chorus/internal/ratelimit"
	"github.com/af-corp/chorus/internal/retrieval"
	"github.com/af-corp/chorus/internal/store"
	"github.com/af-corp/chorus/internal/telemetry"
	"github.com/af-corp/chorus/internal/types"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	flag.Parse()

	// Secrets usually live in .env during development; a missing file is fine.
	_ = godotenv.Load()

	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	loader := config.NewLoader(*configDir, bootLogger)
	if err := loader.Load(); err != nil {
		bootLogger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := loader.Config()

	logger := newLogger(cfg.Telemetry)
	slog.SetDefault(logger)

	if err := loader.Watch(); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}

	// PostgreSQL with pgvector types registered on every connection
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		logger.Error("invalid database configuration", "error", err)
		os.Exit(1)
	}
	if cfg.Database.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		poolCfg.MinConns = int32(min(cfg.Database.MaxIdleConns, cfg.Database.MaxOpenConns))
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	}
	poolCfg.AfterConnect = retrieval.RegisterTypes

	dbPool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(context.Background()); err != nil {
		logger.Warn("database not reachable (server will start but requests will fail)", "error", err)
	} else {
		logger.Info("database connected")
	}

	// Redis backs the key, model and embedding caches plus rate limits. Without it they fail open.
	var rdb *redis.Client
	if len(cfg.Redis.Addresses) > 0 && cfg.Redis.Addresses[0] != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addresses[0],
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis not reachable (caches and rate limits disabled)", "error", err)
			rdb = nil
		} else {
			logger.Info("redis connected")
		}
	}

	metrics := telemetry.NewMetrics()

	// Providers
	health := provider.NewHealthTracker(cfg.Routing.CircuitBreaker.FailureThreshold, cfg.Routing.CircuitBreaker.RecoveryProbeInterval)
	registry := provider.BuildFromConfig(loader.Providers(), provider.RegistryOptions{
		Health:         health,
		Models:         loader.Models,
		DefaultTimeout: cfg.Routing.DefaultTimeout,
		Metrics:        metrics,
		Logger:         logger,
	})
	logger.Info("providers configured", "providers", registry.Configured())

	// Retrieval
	index := retrieval.NewIndex(
		retrieval.NewCachedEmbedder(newEmbedder(loader, cfg), rdb, loader.Models().Embedding.Model, cfg.Retrieval.EmbeddingCacheTTL),
		retrieval.NewPGVectorStore(dbPool),
	)
	ingestor := retrieval.NewIngestor(index,
		retrieval.NewSentenceChunker(cfg.Retrieval.ChunkSentences, cfg.Retrieval.ChunkOverlap),
		registry, logger)

	// Persistence
	catalog := store.New(dbPool)
	chorusModels := store.NewCachedChorusModels(catalog, rdb)
	blobs, err := blob.NewDisk(cfg.Storage.UploadDir, cfg.Storage.GeneratedDir)
	if err != nil {
		logger.Error("failed to prepare storage directories", "error", err)
		os.Exit(1)
	}

	// Chat pipeline
	classifier := intent.New(registry, func() (types.ModelRef, float64, error) {
		route := loader.Models().Classifier
		ref, err := route.Ref()
		return ref, route.TemperatureOr(0), err
	}, logger)
	charter := chart.NewGenerator(registry, loader.Models, func() int {
		return loader.Config().Chat.ChartContextLimit
	}, logger)
	orchestrator := chorus.NewOrchestrator(registry, func() chorus.Settings {
		c := loader.Config().Chorus
		return chorus.Settings{
			ResponderTemperature: c.ResponderTemperature,
			EvaluatorTemperature: c.EvaluatorTemperature,
			MaxParallel:          c.MaxParallel,
		}
	}, metrics, logger)
	chatService := chat.NewService(chat.Options{
		Classifier: classifier,
		Retriever:  index,
		Runner:     orchestrator,
		Charter:    charter,
		Images:     registry,
		History:    catalog,
		Files:      catalog,
		Blobs:      blobs,
		Settings:   func() config.ChatConfig { return loader.Config().Chat },
		Metrics:    metrics,
		Logger:     logger,
	})

	// Request filters
	secretScanner := secrets.NewScanner(func() config.SecretsFilterConfig { return loader.Config().Filter.Secrets })
	policyEval := policy.NewEvaluator(func() config.PolicyFilterConfig { return loader.Config().Filter.Policy })
	if policyEval.Enabled() {
		if err := policyEval.Load(); err != nil {
			logger.Error("failed to load policies", "error", err)
			os.Exit(1)
		}
	}
	filters := filter.NewChain(
		secretScanner,
		injection.NewScanner(func() config.InjectionFilterConfig { return loader.Config().Filter.Injection }),
		policyEval,
	)

	loader.OnReload(func() {
		registry.Load(loader.Providers())
		logger.Info("provider registry reloaded", "providers", registry.Configured())
		if policyEval.Enabled() {
			if err := policyEval.Load(); err != nil {
				logger.Error("policy reload failed, keeping previous policies", "error", err)
			}
		}
	})

	handler := api.NewHandler(api.Options{
		Catalog:   catalog,
		Models:    chorusModels,
		Chat:      chatService,
		Ingester:  ingestor,
		Index:     index,
		Blobs:     blobs,
		Quota:     ratelimit.NewQuotaTracker(rdb),
		Filters:   filters,
		Redactor:  secretScanner,
		Providers: registry,
		Config:    loader.Config,
		Metrics:   metrics,
		Logger:    logger,
		Version:   version,
	})

	var protect []func(http.Handler) http.Handler
	if cfg.Auth.Enabled {
		protect = append(protect, auth.Middleware(auth.NewCachedKeyStore(dbPool, rdb)))
	} else {
		logger.Warn("authentication disabled, all callers share the anonymous rate limit bucket")
	}
	protect = append(protect, ratelimit.Middleware(ratelimit.NewLimiter(rdb), func() config.RateLimitConfig {
		return loader.Config().RateLimit
	}, metrics))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler.Router(protect...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	var metricsSrv *http.Server
	if cfg.Telemetry.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Telemetry.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("metrics listening", "addr", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("chorus starting", "addr", addr, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if metricsSrv != nil {
		metricsSrv.Shutdown(ctx)
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	if rdb != nil {
		rdb.Close()
	}
	logger.Info("chorus stopped")
}

func newLogger(cfg config.TelemetryConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// newEmbedder builds the embedding client from the provider named by the embedding route.
func newEmbedder(loader *config.Loader, cfg *config.Config) *retrieval.OpenAIEmbedder {
	route := loader.Models().Embedding
	pc := loader.Providers().Providers[route.Provider]
	return retrieval.NewOpenAIEmbedder(retrieval.EmbedderConfig{
		BaseURL:    pc.BaseURL,
		APIKey:     pc.APIKey,
		Model:      route.Model,
		Dimensions: cfg.Retrieval.Dimensions,
		Timeout:    pc.Timeout,
		MaxRetries: 3,
	})
}
