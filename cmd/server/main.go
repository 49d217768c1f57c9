package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/ewyt/proximity-pipeline/internal/api"
	"github.com/ewyt/proximity-pipeline/internal/config"
	"github.com/ewyt/proximity-pipeline/internal/pkg/logger"
	"github.com/ewyt/proximity-pipeline/internal/repository/postgres"
	"github.com/ewyt/proximity-pipeline/internal/storage"
)

// server exposes the persisted Trigger and Contact tables over a small
// read-only HTTP API.
func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to config file")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	if *verbose {
		logger.SetLevel(logger.DEBUG)
	}

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("load config", "error", err, "path", *configPath)
		os.Exit(1)
	}

	store, err := storage.NewStore(cfg.Storage.LocalPath)
	if err != nil {
		logger.Error("opening output store", "error", err)
		os.Exit(1)
	}

	srv := api.NewServer(cfg.Server, store)

	if cfg.Database.Enabled {
		db, err := sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			logger.Error("opening database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			logger.Error("database unreachable", "error", err)
			os.Exit(1)
		}
		srv.Handlers().SetRepos(postgres.NewTriggerRepo(db), postgres.NewContactRepo(db))
		logger.Info("serving from database")
	} else {
		logger.Info("serving from CSV store", "path", cfg.Storage.LocalPath)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		errCh <- srv.ListenAndServe(addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown", "error", err)
		os.Exit(1)
	}
}
