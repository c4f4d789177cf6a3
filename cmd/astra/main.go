package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/astradocs/astra/internal/blob"
	"github.com/astradocs/astra/internal/config"
	"github.com/astradocs/astra/internal/llm"
	"github.com/astradocs/astra/internal/llm/gemini"
	"github.com/astradocs/astra/internal/observability"
	"github.com/astradocs/astra/internal/secrets"
	"github.com/astradocs/astra/internal/server"
	"github.com/astradocs/astra/internal/store"
	"github.com/astradocs/astra/internal/vector"
	"github.com/astradocs/astra/internal/vector/qdrant"
	"github.com/astradocs/astra/internal/worker"
)

const version = "0.1.0"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "astra",
		Short: "Document ingestion and retrieval query engine",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/astra.yaml", "Config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and both processing pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	}

	importCmd := &cobra.Command{
		Use:   "import [dir]",
		Short: "Enqueue every file in a directory for analysis",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) == 1 {
				dir = args[0]
			}
			return runImport(configPath, dir)
		},
	}

	rootCmd.AddCommand(serveCmd, importCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log := observability.NewLogger(cfg.Log.Level, cfg.Log.Format)
	for _, warning := range cfg.Validate() {
		log.Warn(warning)
	}

	ctx := context.Background()
	tracing, err := observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:  "astra",
		Environment:  cfg.Tracing.Environment,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	blobs, err := blob.NewStore(cfg.Blob.Dir)
	if err != nil {
		return fmt.Errorf("opening blob store: %w", err)
	}
	index, err := qdrant.New(cfg.Vector.Host, cfg.Vector.Port, cfg.Vector.Collection)
	if err != nil {
		return fmt.Errorf("connecting vector index: %w", err)
	}
	fallback, err := vector.NewFallbackStore(cfg.Vector.FallbackCache)
	if err != nil {
		return fmt.Errorf("creating fallback store: %w", err)
	}

	apiKey, err := resolveAPIKey(ctx, cfg)
	if err != nil {
		return err
	}
	var provider llm.Provider = gemini.New(apiKey, cfg.LLM.BaseURL)
	provider = llm.WithRetry(provider, llm.DefaultRetryConfig())
	provider = llm.WithRateLimit(provider, llm.DefaultRateLimitConfig())

	if cfg.Server.AutoImport {
		if summary, err := server.ImportDir(ctx, cfg.Server.ImportDir, st, blobs, log); err != nil {
			log.Error("startup import failed", "error", err)
		} else if summary.Error != "" {
			log.Warn("startup import completed with warnings", "error", summary.Error)
		}
	}

	registry := observability.NewMetricsRegistry()
	workerCfg := worker.Config{
		PollInterval:     cfg.Worker.PollInterval,
		ErrorInterval:    cfg.Worker.ErrorInterval,
		StaleAfter:       cfg.Worker.StaleAfter,
		DescriptionModel: cfg.LLM.DescriptionModel,
		MetadataModel:    cfg.LLM.MetadataModel,
		AnswerModel:      cfg.LLM.AnswerModel,
	}

	pipelineCtx, stopPipelines := context.WithCancel(ctx)
	analysis := worker.NewAnalysisWorker(st, provider, index, fallback, workerCfg,
		observability.NewPipelineMetrics(registry, "analysis"), log)
	query := worker.NewQueryWorker(st, provider, index, workerCfg,
		observability.NewPipelineMetrics(registry, "query"), log)
	go analysis.Run(pipelineCtx)
	go query.Run(pipelineCtx)

	api := server.NewAPI(st, blobs, index, cfg.Server.MaxUploadBytes, log)
	mux := http.NewServeMux()
	mux.Handle("/", api.Handler())
	mux.Handle("GET /metrics", registry.Handler())
	httpServer := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
	}

	graceful := server.NewGracefulServer(&server.HealthConfig{Version: version}, nil)
	graceful.Health.RegisterCheck("database", server.DatabaseHealthChecker(st.Ping))
	graceful.Health.RegisterCheck("vector-index", server.VectorIndexHealthChecker(func(ctx context.Context) error {
		return index.EnsureCollection(ctx, llm.EmbedDim)
	}))
	graceful.Health.RegisterCheck("text-service", server.LLMHealthChecker(provider.Name(), nil))
	graceful.Health.RegisterCheck("blob-dir", server.BlobDirHealthChecker(blobs.Dir()))

	graceful.AddHook(server.HTTPServerShutdownHook("api-server", httpServer.Shutdown))
	graceful.AddHook(server.PipelineShutdownHook(stopPipelines))
	graceful.AddHook(server.VectorIndexShutdownHook(index.Close))
	graceful.AddHook(server.TracingShutdownHook(tracing.Shutdown))
	graceful.AddHook(server.DatabaseShutdownHook(st.Close))

	if err := graceful.Start(cfg.Server.HealthAddr); err != nil {
		return err
	}

	go func() {
		log.Info("api listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("api server failed", "error", err)
			graceful.Shutdown.Shutdown()
		}
	}()

	graceful.Wait()
	log.Info("shutdown complete")
	return nil
}

// resolveAPIKey prefers the configured key, then the secrets backend. An
// empty key is valid; the text service runs in demo mode.
func resolveAPIKey(ctx context.Context, cfg *config.Config) (string, error) {
	if cfg.LLM.APIKey != "" {
		return cfg.LLM.APIKey, nil
	}
	mgr, err := secrets.NewManager(&secrets.Config{
		Provider: cfg.Secrets.Provider,
		FilePath: cfg.Secrets.File,
		Vault: &secrets.VaultConfig{
			Address:    cfg.Secrets.VaultAddr,
			Token:      cfg.Secrets.VaultToken,
			MountPath:  cfg.Secrets.VaultMount,
			SecretPath: cfg.Secrets.VaultPath,
		},
	})
	if err != nil {
		return "", fmt.Errorf("initializing secrets: %w", err)
	}
	return mgr.GetOrDefault(ctx, secrets.KeyLLMAPIKey, ""), nil
}

func runImport(configPath, dir string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log := observability.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if dir == "" {
		dir = cfg.Server.ImportDir
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()
	blobs, err := blob.NewStore(cfg.Blob.Dir)
	if err != nil {
		return fmt.Errorf("opening blob store: %w", err)
	}

	summary, err := server.ImportDir(context.Background(), dir, st, blobs, log)
	if err != nil {
		return err
	}
	out, _ := json.MarshalIndent(summary, "", "  ")
	fmt.Println(string(out))
	return nil
}
