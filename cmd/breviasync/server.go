package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/brevia-ai/brevia-sync/internal/api"
	"github.com/brevia-ai/brevia-sync/internal/brevia"
	"github.com/brevia-ai/brevia-sync/internal/catalog"
	"github.com/brevia-ai/brevia-sync/internal/config"
	"github.com/brevia-ai/brevia-sync/internal/events"
	"github.com/brevia-ai/brevia-sync/internal/importer"
	"github.com/brevia-ai/brevia-sync/internal/index"
	"github.com/brevia-ai/brevia-sync/internal/jobs"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server, job worker and MCP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "breviasync version %s\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := catalog.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening catalog: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing catalog: %v\n", err)
		}
	}()

	client, err := brevia.New(cfg.API)
	if err != nil {
		return err
	}

	handler := index.NewHandler(client, store, index.LocalStreams{})
	eventHandler := events.NewHandler(handler, store)

	appHandler := api.NewAppHandler(api.AppDeps{
		Store:  store,
		Events: eventHandler,
		Token:  cfg.Server.Token,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: appHandler,
	}

	// Start the async upload worker.
	worker := jobs.NewWorker(store, handler, cfg.Worker.PollInterval)
	go worker.Run(ctx)

	// Start the MCP server on its own port.
	imp := importer.New(client, store, handler)
	mcpSrv := api.NewMCPServer(api.MCPDeps{Store: store, Reindexer: imp})
	mcpHTTP := server.NewStreamableHTTPServer(mcpSrv)
	mcpAddr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.MCPPort)
	go func() {
		slog.Info("MCP server listening", "addr", mcpAddr)
		if err := mcpHTTP.Start(mcpAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("MCP server error", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "breviasync listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mcpHTTP.Shutdown(shutdownCtx); err != nil {
		slog.Warn("MCP server shutdown", "error", err)
	}
	return srv.Shutdown(shutdownCtx)
}
