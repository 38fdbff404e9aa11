package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/sagekb/sage/internal/api"
	"github.com/sagekb/sage/internal/assistant"
	"github.com/sagekb/sage/internal/chunker"
	"github.com/sagekb/sage/internal/config"
	"github.com/sagekb/sage/internal/ingest"
	"github.com/sagekb/sage/internal/llm"
	"github.com/sagekb/sage/internal/rag"
	"github.com/sagekb/sage/internal/retrieval"
	"github.com/sagekb/sage/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sage server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "sage version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Auth.Token == "" {
		return fmt.Errorf("SAGE_API_TOKEN is required to start the server")
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check inference backend readiness.
	client := llm.New(cfg.Ollama.BaseURL)
	if !client.IsRunning(ctx) {
		return fmt.Errorf("inference backend not reachable at %s", cfg.Ollama.BaseURL)
	}

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	// Build the retrieval layer.
	embedder, err := retrieval.NewEmbedder(
		llm.NewModelEmbedder(client, cfg.Ollama.EmbedModel),
		retrieval.EmbedderConfig{
			Dimension:     cfg.Embedding.Dimension,
			BatchSize:     cfg.Embedding.BatchSize,
			MaxTokens:     cfg.Embedding.MaxTokens,
			CharsPerToken: cfg.Embedding.CharsPerToken,
		},
	)
	if err != nil {
		return fmt.Errorf("building embedder: %w", err)
	}
	index := retrieval.NewSQLiteIndex(store.DB())

	// Build the query pipeline.
	generator := llm.NewModelChatter(client, cfg.Ollama.ChatModel)
	var evaluator *rag.Evaluator
	if cfg.Retrieval.Evaluate {
		evaluator = rag.NewEvaluator(llm.NewModelChatter(client, cfg.Ollama.EvalModel))
	}
	answerer := rag.NewAnswerer(embedder, index, generator, evaluator)
	asst := assistant.New(store, answerer)

	// Build the ingestion pipeline.
	chunking := chunker.Config{
		ChunkSize:    cfg.Chunking.ChunkSize,
		Overlap:      cfg.Chunking.Overlap,
		MinChunkSize: cfg.Chunking.MinChunkSize,
	}
	pipeline := ingest.New(chunking, embedder, index, store, cfg.Ingest.Workers)

	searchDefaults := rag.SearchOptions{
		MaxResults:    cfg.Retrieval.MaxResults,
		MinSimilarity: float32(cfg.Retrieval.MinSimilarity),
	}

	// Build HTTP server.
	handler := api.NewHandler(api.Deps{
		Assistant: asst,
		Pipeline:  pipeline,
		Token:     cfg.Auth.Token,
		Search:    searchDefaults,
	})
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Assistant: asst,
		Pipeline:  pipeline,
		Search:    searchDefaults,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start HTTP server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("sage listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
