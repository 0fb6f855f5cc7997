// serve.go implements the serve command: configuration loading, component
// wiring, the health/metrics HTTP endpoint, and graceful shutdown.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tranvh/contextgate/internal/bayes"
	"github.com/tranvh/contextgate/internal/config"
	"github.com/tranvh/contextgate/internal/contextengine"
	"github.com/tranvh/contextgate/internal/observability"
	"github.com/tranvh/contextgate/internal/providers"
	"github.com/tranvh/contextgate/internal/safety"
	"github.com/tranvh/contextgate/internal/service"
	"github.com/tranvh/contextgate/internal/sharecache"
	"github.com/tranvh/contextgate/internal/storage"
	"github.com/tranvh/contextgate/internal/tools"
	"github.com/tranvh/contextgate/internal/vectorizer"
	"github.com/tranvh/contextgate/internal/vectorstore"
)

// runServe implements the serve command logic.
func runServe(ctx context.Context, configPath string, debug bool) error {
	var cfg *config.Config
	var err error
	if configPath == "" {
		cfg = config.Default()
	} else {
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics()

	logger.Info(ctx, "starting contextgate",
		"version", version,
		"provider", cfg.LLM.DefaultProvider,
		"vector_backend", cfg.Memory.VectorBackend,
	)

	provider, err := buildProvider(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize provider: %w", err)
	}

	vectors, err := buildVectorStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open vector store: %w", err)
	}
	defer vectors.Close()

	vec := vectorizer.New(buildEmbedder(ctx, cfg, logger), vectors, logger, vectorizer.Config{Metrics: metrics})

	engine := contextengine.New(vec,
		bayes.Config{
			TopK:         cfg.Memory.MaxSelected,
			MinRelevance: cfg.Memory.MinRelevance,
		},
		contextengine.Config{
			MaxContextTokens:       cfg.Memory.TokenBudget,
			MaxRecentMessages:      cfg.Memory.RecentCount,
			SummarizationThreshold: cfg.Memory.SummaryThreshold,
		},
		logger, metrics)

	shares := sharecache.New(sharecache.Config{
		MaxEntries:    cfg.Cache.MaxEntries,
		DefaultTTL:    cfg.Cache.DefaultTTL,
		SweepInterval: cfg.Cache.SweepInterval,
	}, logger, metrics)
	defer shares.Close()

	var classifier *safety.Classifier
	if cfg.Safety.AIEnabled {
		classifier = safety.NewClassifier(provider, "")
	}
	guard := safety.New(safety.Config{
		MaxMessageLength: cfg.Safety.MaxMessageLength,
		Locale:           cfg.Safety.Locale,
		AIEnabled:        cfg.Safety.AIEnabled,
	}, classifier, logger, metrics)

	store, err := storage.NewSQLite(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open conversation store: %w", err)
	}
	defer store.Close()

	svc := service.New(provider, engine, tools.NewRegistry(), guard, shares, store,
		service.Config{
			Locale:               cfg.Safety.Locale,
			MaxSharePayloadBytes: cfg.Cache.MaxPayloadBytes,
			ShareTTL:             cfg.Cache.DefaultTTL,
		}, logger, metrics)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	httpServer := buildHTTPServer(cfg, svc)
	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "metrics endpoint listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info(context.Background(), "shutdown signal received, initiating graceful shutdown")
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "http shutdown incomplete", "error", err)
	}
	return nil
}

// buildProvider creates the LLM provider from config, falling back to
// process environment when the config carries no key.
func buildProvider(cfg *config.Config) (providers.Provider, error) {
	factory := providers.NewFactory()

	kind := providers.Kind(cfg.LLM.DefaultProvider)
	if pc, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; ok && pc.APIKey != "" {
		return factory.Create(kind, providers.Config{
			APIKey:      pc.APIKey,
			Model:       pc.DefaultModel,
			MaxTokens:   pc.MaxTokens,
			Temperature: pc.Temperature,
		})
	}
	return factory.CreateFromEnvironment()
}

// buildVectorStore opens the configured vector backend.
func buildVectorStore(cfg *config.Config) (vectorstore.Store, error) {
	if cfg.Memory.VectorBackend == "pgvector" {
		return vectorstore.NewPGVector(vectorstore.PGVectorConfig{DSN: cfg.Memory.PostgresURL})
	}
	return vectorstore.NewMemory(), nil
}

// buildEmbedder picks the OpenAI embedder when a key is available,
// otherwise the deterministic fallback.
func buildEmbedder(ctx context.Context, cfg *config.Config, logger *observability.Logger) vectorizer.Embedder {
	key := os.Getenv("OPENAI_API_KEY")
	if pc, ok := cfg.LLM.Providers["openai"]; ok && pc.APIKey != "" {
		key = pc.APIKey
	}
	if key != "" {
		embedder, err := vectorizer.NewOpenAIEmbedder(vectorizer.OpenAIEmbedderConfig{
			APIKey: key,
			Model:  cfg.Memory.EmbeddingModel,
		})
		if err == nil {
			return embedder
		}
		logger.Warn(ctx, "embedder unavailable, using fallback vectors", "error", err)
	}
	return vectorizer.NewFallbackEmbedder(0)
}

// buildHTTPServer exposes Prometheus metrics and cache health.
func buildHTTPServer(cfg *config.Config, svc *service.Service) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		health := svc.ShareHealth()
		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"cache": health,
			"stats": svc.ShareStats(),
		})
	})

	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
