// Atlas orchestrator server - turns user utterances into verified MCP tool
// runs and serves the HTTP/WebSocket API.
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
	"time"

	"github.com/joho/godotenv"

	"github.com/atlas-agents/atlas/pkg/api"
	"github.com/atlas-agents/atlas/pkg/config"
	"github.com/atlas-agents/atlas/pkg/events"
	"github.com/atlas-agents/atlas/pkg/i18n"
	"github.com/atlas-agents/atlas/pkg/llm"
	"github.com/atlas-agents/atlas/pkg/mcp"
	"github.com/atlas-agents/atlas/pkg/pipeline"
	"github.com/atlas-agents/atlas/pkg/prompt"
	"github.com/atlas-agents/atlas/pkg/selfanalysis"
	"github.com/atlas-agents/atlas/pkg/session"
	"github.com/atlas-agents/atlas/pkg/stage"
	"github.com/atlas-agents/atlas/pkg/vision"
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

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: Could not load %s file: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")

	ctx := context.Background()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("Failed to initialize configuration: %v", err)
	}

	prompts, err := prompt.NewStore(*configDir)
	if err != nil {
		log.Fatalf("Failed to load prompts: %v", err)
	}

	schemas, err := stage.NewSchemaSet()
	if err != nil {
		log.Fatalf("Failed to compile stage schemas: %v", err)
	}

	gateway := llm.NewGateway(cfg.APIEndpoint, cfg.APITimeout, llm.DefaultRetryPolicy)
	modelReg := llm.NewRegistry(cfg.StageModels, nil)
	runner := stage.NewRunner(prompts, gateway, modelReg, schemas)

	// MCP: dial configured servers; partial connectivity is fine and failed
	// servers are retried lazily on first use.
	pool := mcp.NewServerPool(cfg.MCPServerRegistry)
	pool.Connect(ctx)
	defer func() {
		if err := pool.Close(); err != nil {
			slog.Warn("Error closing MCP sessions", "error", err)
		}
	}()

	// Screenshot store; the capture service and vision gateway are external
	// collaborators wired by deployment. Without them the verifier runs
	// data-path only.
	captureStore, err := vision.NewStore(cfg.Capture.Directory, cfg.Capture.MaxStored)
	if err != nil {
		log.Fatalf("Failed to prepare capture directory: %v", err)
	}
	slog.Info("Capture store ready",
		"dir", captureStore.Dir(), "max_stored", cfg.Capture.MaxStored)

	locale := i18n.FromEnv()
	verifier := pipeline.NewVerifier(nil, nil, pool, locale)
	analyzer := selfanalysis.NewAnalyzer(cfg, runner, pool, locale)

	sessions := session.NewStore()
	connManager := events.NewConnectionManager(10 * time.Second)
	publisher := events.NewPublisher(connManager)

	orchestrator := pipeline.NewOrchestrator(pipeline.Deps{
		Config:   cfg,
		Locale:   locale,
		Gateway:  gateway,
		ModelReg: modelReg,
		Runner:   runner,
		Prompts:  prompts,
		Invoker:  pool,
		Verifier: verifier,
		Analyzer: analyzer,
		Publish:  publisher,
	})

	server := api.NewServer(cfg, orchestrator, sessions, connManager)
	server.SetMCPReporter(pool)

	// Graceful shutdown on SIGINT/SIGTERM.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		slog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Server shutdown error", "error", err)
		}
	}()

	slog.Info("Atlas listening", "port", httpPort, "language", locale.Language())
	if err := server.Start(":" + httpPort); err != nil {
		log.Printf("HTTP server stopped: %v", err)
	}
}
