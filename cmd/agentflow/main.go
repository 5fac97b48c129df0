// agentflow server - executes agent workflow graphs with group chat
// orchestration, human-in-the-loop pauses, and durable execution state.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/intellidoc/agentflow/pkg/api"
	"github.com/intellidoc/agentflow/pkg/cleanup"
	"github.com/intellidoc/agentflow/pkg/config"
	"github.com/intellidoc/agentflow/pkg/credentials"
	"github.com/intellidoc/agentflow/pkg/database"
	"github.com/intellidoc/agentflow/pkg/delegate"
	"github.com/intellidoc/agentflow/pkg/docaware"
	"github.com/intellidoc/agentflow/pkg/gcm"
	"github.com/intellidoc/agentflow/pkg/humaninput"
	"github.com/intellidoc/agentflow/pkg/llm"
	"github.com/intellidoc/agentflow/pkg/queue"
	"github.com/intellidoc/agentflow/pkg/reflection"
	"github.com/intellidoc/agentflow/pkg/scheduler"
	"github.com/intellidoc/agentflow/pkg/services"
	"github.com/intellidoc/agentflow/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: could not load %s: %v", envPath, err)
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	gin.SetMode(getEnv("GIN_MODE", "release"))

	slog.Info("Starting agentflow", "version", version.Version, "config_dir", *configDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(*configDir)
	if err != nil {
		log.Fatalf("Failed to initialize configuration: %v", err)
	}

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load database config: %v", err)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	cipherKey := os.Getenv("CREDENTIAL_ENCRYPTION_KEY")
	if cipherKey == "" {
		log.Fatalf("CREDENTIAL_ENCRYPTION_KEY is required (generate one with a 32-byte base64 url-encoded value)")
	}
	cipher, err := credentials.NewCipher(cipherKey)
	if err != nil {
		log.Fatalf("Failed to initialize credential cipher: %v", err)
	}

	// Services.
	executionService := services.NewExecutionService(dbClient.Client)
	workflowService := services.NewWorkflowService(dbClient.Client)
	interactionService := services.NewInteractionService(dbClient.Client)
	credentialService := services.NewCredentialService(dbClient.Client, cipher)

	// Engine.
	providers := llm.NewFactory(credentialService)
	searcher := buildSearcher(cfg)
	delegateExecutor := delegate.NewExecutor(providers, searcher)
	orchestrator := gcm.New(providers, delegateExecutor)
	sched := scheduler.New(executionService, providers, orchestrator, searcher)
	reflectionHandler := reflection.NewHandler(executionService, providers)
	controller := humaninput.NewController(executionService, interactionService, workflowService, sched, reflectionHandler)
	if searcher != nil {
		controller.SetDocAware(providers, searcher)
	}

	// Worker pool.
	podID := getEnv("POD_ID", uuid.New().String()[:8])
	runner := queue.NewSchedulerRunner(executionService, workflowService, sched)
	pool := queue.NewWorkerPool(podID, dbClient.Client, cfg.Queue, runner)
	if err := pool.Start(ctx); err != nil {
		log.Fatalf("Failed to start worker pool: %v", err)
	}
	defer pool.Stop()

	// Cleanup loop (retention + stale human input).
	cleanupService := cleanup.NewService(executionService, cfg.Retention, cfg.Defaults.HumanInputTTL)
	cleanupService.Start(ctx)
	defer cleanupService.Stop()

	server := api.NewServer(dbClient, workflowService, executionService, controller, pool)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", httpPort)
		errCh <- server.Run(":" + httpPort)
	}()

	select {
	case err := <-errCh:
		log.Fatalf("HTTP server failed: %v", err)
	case <-ctx.Done():
		slog.Info("Shutdown signal received, stopping")
	}
}

// buildSearcher wires document retrieval when configured; nil disables
// DocAware features for the whole engine.
func buildSearcher(cfg *config.Config) docaware.Searcher {
	if cfg.DocAware == nil || cfg.DocAware.Qdrant.Host == "" {
		slog.Info("Document retrieval disabled (no docaware configuration)")
		return nil
	}

	keyEnv := cfg.DocAware.EmbeddingAPIKeyEnv
	if keyEnv == "" {
		keyEnv = "OPENAI_API_KEY"
	}
	apiKey := os.Getenv(keyEnv)
	if apiKey == "" {
		slog.Warn("Document retrieval disabled: embedding API key not set", "env", keyEnv)
		return nil
	}

	embedder := docaware.NewOpenAIEmbedder(apiKey, cfg.DocAware.EmbeddingModel)
	searcher, err := docaware.NewQdrantSearcher(cfg.DocAware.Qdrant, embedder)
	if err != nil {
		slog.Error("Failed to connect to qdrant, document retrieval disabled", "error", err)
		return nil
	}
	slog.Info("Document retrieval enabled", "qdrant_host", cfg.DocAware.Qdrant.Host)
	return searcher
}
