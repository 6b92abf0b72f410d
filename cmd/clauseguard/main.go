// Entry point for the clauseguard review service: chi router over the
// session API, shared authority index, optional MCP stdio transport.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/clauseguard/clauseguard/dbopen"
	"github.com/clauseguard/clauseguard/observability"
	"github.com/clauseguard/clauseguard/review"
)

func main() {
	cfgPath := flag.String("config", "", "path to YAML config (defaults apply when empty)")
	mcpStdio := flag.Bool("mcp", false, "serve MCP over stdio instead of HTTP")
	flag.Parse()

	logger := newLogger(env("LOG_LEVEL", "info"))
	slog.SetDefault(logger)

	cfg := review.DefaultConfig()
	if *cfgPath != "" {
		var err error
		cfg, err = review.LoadConfig(*cfgPath)
		if err != nil {
			slog.Error("config", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Observability DB kept separate from the authority and shard databases
	// to avoid write contention.
	var obsDB *sql.DB
	if cfg.ObservabilityDB != "" {
		var err error
		obsDB, err = dbopen.Open(cfg.ObservabilityDB, dbopen.WithMkdirAll())
		if err != nil {
			slog.Error("observability db", "error", err)
			os.Exit(1)
		}
		defer obsDB.Close()
		if err := observability.Init(obsDB); err != nil {
			slog.Error("observability schema", "error", err)
			os.Exit(1)
		}
		if err := observability.Cleanup(ctx, obsDB, cfg.Retention); err != nil {
			slog.Warn("retention cleanup", "error", err)
		}
	}

	svc, err := review.NewService(cfg, logger)
	if err != nil {
		slog.Error("review service", "error", err)
		os.Exit(1)
	}
	if obsDB != nil {
		svc.SetEventLogger(observability.NewEventLogger(obsDB))
	}

	if *mcpStdio {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "clauseguard",
			Version: "1.0.0",
		}, nil)
		svc.RegisterMCP(mcpSrv)
		slog.Info("MCP stdio serving")
		if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			slog.Error("MCP stdio", "error", err)
		}
		shutdown(svc)
		return
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           svc.Router(obsDB),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "error", err)
	}
	shutdown(svc)
	slog.Info("server stopped")
}

func shutdown(svc *review.Service) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svc.Shutdown(ctx); err != nil {
		slog.Error("service shutdown", "error", err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
