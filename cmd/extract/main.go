package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/ewyt/proximity-pipeline/internal/config"
	"github.com/ewyt/proximity-pipeline/internal/extract"
	"github.com/ewyt/proximity-pipeline/internal/pkg/logger"
	"github.com/ewyt/proximity-pipeline/internal/repository/postgres"
	"github.com/ewyt/proximity-pipeline/internal/storage"
	"github.com/ewyt/proximity-pipeline/internal/tagbook"
)

// extract reads every raw logger dump under the data directory, resolves tag
// IDs against the animal register and rewrites the Trigger table.
func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to config file")
		dataDir    = flag.String("data-dir", "", "raw logger data directory (overrides config)")
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
	if *dataDir != "" {
		cfg.Pipeline.LoggerDataDir = *dataDir
	}
	if cfg.Pipeline.LoggerDataDir == "" {
		logger.Error("no logger data directory configured")
		os.Exit(1)
	}

	if err := run(context.Background(), cfg); err != nil {
		logger.Error("extraction failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	start := time.Now()

	book, err := tagbook.Load(cfg.Pipeline.TagFile, cfg.Pipeline.ForeignTagFile)
	if err != nil {
		return fmt.Errorf("loading tag register: %w", err)
	}
	logger.Info("tag register loaded", "tags", book.Size())

	triggers, report, err := extract.NewExtractor(book).ExtractDir(cfg.Pipeline.LoggerDataDir)
	if err != nil {
		return err
	}
	logger.Info("extraction complete",
		"files", report.FilesRead,
		"records", report.RecordsSeen,
		"detections", report.Detections,
		"foreign_tags", report.ForeignTags,
		"unknown_tags", report.UnknownTags,
		"duplicates_cut", report.DuplicatesCut,
		"triggers", report.Triggers,
	)

	store, err := storage.NewStore(cfg.Storage.LocalPath)
	if err != nil {
		return fmt.Errorf("opening output store: %w", err)
	}
	if err := store.WriteTriggers(triggers); err != nil {
		return fmt.Errorf("writing trigger table: %w", err)
	}
	logger.Info("trigger table written", "path", store.TriggersPath())

	if cfg.Database.Enabled {
		db, err := sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()
		if err := postgres.NewTriggerRepo(db).ReplaceAll(ctx, triggers); err != nil {
			return fmt.Errorf("replacing triggers table: %w", err)
		}
		logger.Info("trigger table replaced in database", "rows", len(triggers))
	}

	if cfg.Storage.S3Bucket != "" {
		mirror, err := storage.NewS3Mirror(ctx, cfg.Storage.S3Bucket, cfg.Storage.S3Prefix,
			cfg.Storage.AWSRegion, cfg.Storage.GetAWSProfile())
		if err != nil {
			return fmt.Errorf("configuring S3 mirror: %w", err)
		}
		if err := mirror.UploadFile(ctx, store.TriggersPath()); err != nil {
			return fmt.Errorf("mirroring trigger table: %w", err)
		}
	}

	logger.Info("done", "duration", time.Since(start).String())
	return nil
}
