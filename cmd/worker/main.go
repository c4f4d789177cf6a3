// Command worker runs the analysis and query pipelines without the HTTP API.
// It shares the database with the API process; claiming is safe across any
// number of worker instances.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/astradocs/astra/internal/config"
	"github.com/astradocs/astra/internal/llm"
	"github.com/astradocs/astra/internal/llm/gemini"
	"github.com/astradocs/astra/internal/observability"
	"github.com/astradocs/astra/internal/secrets"
	"github.com/astradocs/astra/internal/store"
	"github.com/astradocs/astra/internal/vector"
	"github.com/astradocs/astra/internal/vector/qdrant"
	"github.com/astradocs/astra/internal/worker"
)

func main() {
	configPath := "configs/astra.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := observability.NewLogger(cfg.Log.Level, cfg.Log.Format)
	for _, warning := range cfg.Validate() {
		logger.Warn(warning)
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("opening store: %v", err)
	}
	defer st.Close()

	index, err := qdrant.New(cfg.Vector.Host, cfg.Vector.Port, cfg.Vector.Collection)
	if err != nil {
		log.Fatalf("connecting vector index: %v", err)
	}
	defer index.Close()

	fallback, err := vector.NewFallbackStore(cfg.Vector.FallbackCache)
	if err != nil {
		log.Fatalf("creating fallback store: %v", err)
	}

	apiKey := cfg.LLM.APIKey
	if apiKey == "" {
		if mgr, err := secrets.NewManager(&secrets.Config{Provider: cfg.Secrets.Provider, FilePath: cfg.Secrets.File}); err == nil {
			apiKey = mgr.GetOrDefault(context.Background(), secrets.KeyLLMAPIKey, "")
		}
	}

	var provider llm.Provider = gemini.New(apiKey, cfg.LLM.BaseURL)
	provider = llm.WithRetry(provider, llm.DefaultRetryConfig())
	provider = llm.WithRateLimit(provider, llm.DefaultRateLimitConfig())

	registry := observability.NewMetricsRegistry()
	workerCfg := worker.Config{
		PollInterval:     cfg.Worker.PollInterval,
		ErrorInterval:    cfg.Worker.ErrorInterval,
		StaleAfter:       cfg.Worker.StaleAfter,
		DescriptionModel: cfg.LLM.DescriptionModel,
		MetadataModel:    cfg.LLM.MetadataModel,
		AnswerModel:      cfg.LLM.AnswerModel,
	}

	ctx, stop := context.WithCancel(context.Background())
	analysis := worker.NewAnalysisWorker(st, provider, index, fallback, workerCfg,
		observability.NewPipelineMetrics(registry, "analysis"), logger)
	query := worker.NewQueryWorker(st, provider, index, workerCfg,
		observability.NewPipelineMetrics(registry, "query"), logger)
	go analysis.Run(ctx)
	go query.Run(ctx)

	logger.Info("workers started", "db", cfg.Database.Path)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	stop()
	logger.Info("workers stopped")
}
