// Offline CLI that fetches statute texts, chunks them into passages, and
// upserts them into the shared authority index. Runs against the same
// config file as the review service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"

	"github.com/clauseguard/clauseguard/authindex"
	"github.com/clauseguard/clauseguard/dbopen"
	"github.com/clauseguard/clauseguard/embedding"
	"github.com/clauseguard/clauseguard/ingest"
	"github.com/clauseguard/clauseguard/observability"
	"github.com/clauseguard/clauseguard/review"
)

func main() {
	cfgPath := flag.String("config", "", "path to the review service YAML config")
	sourcesPath := flag.String("sources", "", "YAML file with statute sources (defaults to the built-in set)")
	allowPrivate := flag.Bool("allow-private", false, "allow fetching from private or loopback hosts")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
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

	sources := ingest.DefaultSources()
	if *sourcesPath != "" {
		var err error
		sources, err = loadSources(*sourcesPath)
		if err != nil {
			slog.Error("sources", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	emb := embedding.New(cfg.Embedding)
	store, err := authindex.New(authindex.Config{
		DBPath: cfg.AuthorityDB,
		Logger: logger.With("component", "authindex"),
	}, emb)
	if err != nil {
		slog.Error("authority index", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	ing := ingest.New(store, emb, ingest.Config{
		AllowPrivateHosts: *allowPrivate,
		Logger:            logger,
	})

	added, err := ing.IngestSources(ctx, sources)
	if err != nil {
		slog.Error("ingest aborted", "added", added, "error", err)
		os.Exit(1)
	}

	total, err := store.Count(ctx)
	if err != nil {
		slog.Error("count passages", "error", err)
		os.Exit(1)
	}
	slog.Info("ingest complete", "sources", len(sources), "added", added, "total_passages", total)

	logIngestEvent(ctx, cfg, len(sources), added)
}

// logIngestEvent records the run in the observability DB when one is
// configured. Best effort, a missing DB never fails the ingest.
func logIngestEvent(ctx context.Context, cfg *review.Config, sources, added int) {
	if cfg.ObservabilityDB == "" {
		return
	}
	db, err := dbopen.Open(cfg.ObservabilityDB, dbopen.WithMkdirAll())
	if err != nil {
		slog.Warn("observability db", "error", err)
		return
	}
	defer db.Close()
	if err := observability.Init(db); err != nil {
		slog.Warn("observability schema", "error", err)
		return
	}
	observability.NewEventLogger(db).Log(ctx, observability.Event{
		Type:    observability.EventStatutesIngested,
		Details: fmt.Sprintf(`{"sources":%d,"added":%d}`, sources, added),
		Success: true,
	})
}

func loadSources(path string) ([]ingest.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Sources []ingest.Source `yaml:"sources"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(doc.Sources) == 0 {
		return nil, fmt.Errorf("%s: no sources listed", path)
	}
	return doc.Sources, nil
}
