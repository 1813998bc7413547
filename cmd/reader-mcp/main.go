// Command reader-mcp runs an MCP server exposing Readwise Reader tools
// behind an OAuth 2.1 authorization flow that binds a user-supplied
// Reader API token to each grant.
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

	"github.com/alexjbarnes/reader-mcp/internal/auth"
	"github.com/alexjbarnes/reader-mcp/internal/config"
	"github.com/alexjbarnes/reader-mcp/internal/logging"
	"github.com/alexjbarnes/reader-mcp/internal/mcpserver"
	"github.com/alexjbarnes/reader-mcp/internal/readwise"
	"github.com/alexjbarnes/reader-mcp/internal/server"
	"github.com/alexjbarnes/reader-mcp/internal/state"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)

	cookieSecret, err := cfg.DecodeCookieSecret()
	if err != nil {
		return err
	}

	// Optional bbolt persistence so grants and tokens survive restarts.
	var st *state.State

	if cfg.StatePath != "" {
		st, err = state.Open(cfg.StatePath)
		if err != nil {
			return fmt.Errorf("opening state database: %w", err)
		}
		defer st.Close()

		logger.Info("state persistence enabled", slog.String("path", cfg.StatePath))
	} else {
		logger.Warn("no STATE_PATH configured, grants are lost on restart")
	}

	store := auth.NewStore(st, logger)
	defer store.Stop()

	upstream := readwise.NewClient(cfg.ReadwiseAPIURL, nil)

	// MCP server setup.
	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "reader-mcp", Version: Version},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, upstream)

	mcpHandler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	mux := server.NewMux(server.MuxConfig{
		Store:        store,
		Upstream:     upstream,
		MCPHandler:   mcpHandler,
		Logger:       logger,
		ServerURL:    cfg.ServerURL,
		CookieSecret: cookieSecret,
	})

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting server",
			slog.String("listen", cfg.ListenAddr),
			slog.String("server_url", cfg.ServerURL),
			slog.String("upstream", cfg.ReadwiseAPIURL),
		)

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
