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

	"github.com/kalambet/rdlistings/internal/analysis"
	"github.com/kalambet/rdlistings/internal/api"
)

var serveMCP bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve analyses over HTTP, or over MCP stdio with --mcp",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveMCP, "mcp", false, "also serve MCP tools on stdin/stdout")
}

func runServer(parent context.Context) error {
	fmt.Fprintf(stderr, "rdlistings version %s\n", version)

	client := newAPIClient(cfg.Server.Port, "")
	if client.healthy(parent) {
		printWarning("rdlistings is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}

	settings, err := analysisSettings(cfg)
	if err != nil {
		return err
	}
	store, err := openReadStore()
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(stderr, "warning: closing storage: %v\n", err)
		}
	}()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	analyzer := analysis.NewAnalyzer(store, settings).WithLogger(slog.Default().With("component", "analysis"))
	metrics := api.NewMetrics()
	if cfg.Server.Token == "" {
		slog.Warn("RDL_SERVER_TOKEN not set; POST /analyses is unauthenticated")
	}

	handler := api.NewAppHandler(api.AppDeps{
		Store:     store,
		Analyzer:  analyzer,
		Metrics:   metrics,
		Logger:    slog.Default(),
		Defaults:  defaultParams(cfg),
		OutputDir: cfg.Output.Dir,
		Format:    cfg.Output.Format,
		Token:     cfg.Server.Token,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if serveMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Store:    store,
			Analyzer: analyzer,
			Metrics:  metrics,
			Defaults: defaultParams(cfg),
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(stderr, "rdlistings listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
