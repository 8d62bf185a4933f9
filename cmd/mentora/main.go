package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/antoniostano/mentora/internal/brain"
	"github.com/antoniostano/mentora/internal/config"
	"github.com/antoniostano/mentora/internal/embed"
	"github.com/antoniostano/mentora/internal/httpapi"
	"github.com/antoniostano/mentora/internal/hybrid"
	"github.com/antoniostano/mentora/internal/memory"
	"github.com/antoniostano/mentora/internal/observability"
	"github.com/antoniostano/mentora/internal/perf"
	"github.com/antoniostano/mentora/internal/pipeline"
	"github.com/antoniostano/mentora/internal/retrieval"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := memory.NewStore(ctx, cfg.DatabaseURL, cfg.EmbeddingDim)
	if err != nil {
		log.Fatalf("memory store init failed: %v", err)
	}
	defer store.Close()

	if cfg.SeedDefaults {
		if err := memory.Seed(ctx, store); err != nil {
			log.Printf("seeding default memories failed: %v", err)
		}
	}

	embedder := buildEmbedder(cfg)
	cached, err := embed.NewCached(embedder, int64(cfg.EmbedCacheEntries))
	if err != nil {
		log.Fatalf("embedding cache init failed: %v", err)
	}

	chromemIndex, err := retrieval.NewChromemIndex(retrieval.ChromemConfig{
		Embedder:  cached,
		ChunkSize: cfg.ChunkSize,
		Overlap:   cfg.ChunkOverlap,
	})
	if err != nil {
		log.Fatalf("vector index init failed: %v", err)
	}
	index := retrieval.NewRetrying(chromemIndex, cfg.RetrievalAttempts)

	orchestrator := hybrid.NewOrchestrator(index, store, hybrid.Config{
		PersonalBoost: cfg.PersonalBoost,
		Keywords:      hybrid.DefaultKeywordConfig(),
	}, func(origin retrieval.Origin) {
		metrics.RetrievalDegraded.WithLabelValues(string(origin)).Inc()
	})

	client, err := brain.NewClient(brain.Config{
		Mode:         cfg.BrainMode,
		OpenAIKey:    cfg.OpenAIAPIKey,
		OpenAIBase:   cfg.OpenAIBaseURL,
		Model:        cfg.ChatModel,
		HTTPURL:      cfg.BrainHTTPURL,
		GatewayURL:   cfg.BrainGatewayURL,
		GatewayToken: cfg.BrainGatewayToken,
	})
	if err != nil {
		log.Fatalf("brain client init failed: %v", err)
	}

	aggOpts := []perf.Option{
		perf.WithWindowSize(cfg.PerfWindowSize),
		perf.WithMinSuccessRate(cfg.PerfMinSuccessRate),
		perf.WithWeights(perf.Weights{
			Latency:         cfg.PerfLatencyWeight,
			Confidence:      cfg.PerfConfidenceWeight,
			Personalization: cfg.PerfPersonalizedWeight,
		}),
	}
	if strings.TrimSpace(cfg.PerfJournalPath) != "" {
		journal, err := perf.OpenJournal(ctx, cfg.PerfJournalPath)
		if err != nil {
			log.Fatalf("perf journal init failed: %v", err)
		}
		defer journal.Close()
		aggOpts = append(aggOpts, perf.WithJournal(journal))
	}
	agg := perf.NewAggregator(aggOpts...)

	router := pipeline.NewRouter(store, agg, metrics, pipeline.DefaultRouterConfig())
	for _, p := range []pipeline.Pipeline{
		pipeline.NewDirect(client),
		pipeline.NewStaged(client),
		pipeline.NewKernel(client),
	} {
		if err := router.Register(p); err != nil {
			log.Fatalf("pipeline registration failed: %v", err)
		}
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	if cfg.RetentionWindow > 0 {
		go retentionLoop(runCtx, store, agg, cfg.RetentionWindow)
	}

	api := httpapi.New(cfg, orchestrator, router, store, index, agg, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}

func buildEmbedder(cfg config.Config) embed.Embedder {
	mode := strings.ToLower(strings.TrimSpace(cfg.EmbedderMode))
	if mode == "" {
		mode = "auto"
	}

	tryOpenAI := func() embed.Embedder {
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return nil
		}
		e, err := embed.NewOpenAI(embed.OpenAIConfig{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			Model:      cfg.EmbeddingModel,
			Dimensions: cfg.EmbeddingDim,
		})
		if err != nil {
			log.Printf("openai embedder unavailable: %v", err)
			return nil
		}
		log.Printf("embedder: openai")
		return e
	}

	switch mode {
	case "openai":
		if e := tryOpenAI(); e != nil {
			return e
		}
		log.Fatalf("EMBEDDER_MODE=openai but OPENAI_API_KEY is not set")
	case "mock":
		log.Printf("embedder: mock")
		return embed.NewMock(cfg.EmbeddingDim)
	case "auto":
		if e := tryOpenAI(); e != nil {
			return e
		}
		log.Printf("embedder: mock (no openai key)")
		return embed.NewMock(cfg.EmbeddingDim)
	default:
		log.Fatalf("invalid EMBEDDER_MODE: %q (expected auto|openai|mock)", cfg.EmbedderMode)
	}
	return nil
}

// retentionLoop prunes old episodic records and stale performance history
// on a fixed cadence.
func retentionLoop(ctx context.Context, store memory.Store, agg *perf.Aggregator, window time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-window)
			if n, err := store.PruneEpisodic(ctx, cutoff); err != nil {
				log.Printf("episodic prune failed: %v", err)
			} else if n > 0 {
				log.Printf("pruned %d episodic records older than %s", n, window)
			}
			if n := agg.Prune(cutoff); n > 0 {
				log.Printf("pruned %d performance records older than %s", n, window)
			}
		}
	}
}
