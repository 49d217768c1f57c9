package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ewyt/proximity-pipeline/internal/config"
	"github.com/ewyt/proximity-pipeline/internal/contacts"
	"github.com/ewyt/proximity-pipeline/internal/domain"
	"github.com/ewyt/proximity-pipeline/internal/grid"
	"github.com/ewyt/proximity-pipeline/internal/pkg/distlock"
	"github.com/ewyt/proximity-pipeline/internal/pkg/logger"
	"github.com/ewyt/proximity-pipeline/internal/repository/postgres"
	"github.com/ewyt/proximity-pipeline/internal/storage"
)

// contacts reads the Trigger table and the logger movement sheet and rewrites
// the Contact table. The run is a full recomputation and is guarded by a
// distributed lock so two hosts sharing a database cannot interleave writes.
func main() {
	var (
		configPath  = flag.String("config", "config.yaml", "path to config file")
		maxContact  = flag.Float64("max-contact-time", 0, "merge threshold in minutes (overrides config)")
		strictMoves = flag.Bool("strict-moves", false, "reject duplicate reshuffle dates instead of warning")
		workers     = flag.Int("workers", 0, "per-location parallelism (overrides config)")
		verbose     = flag.Bool("v", false, "debug logging")
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
	if *maxContact > 0 {
		cfg.Pipeline.MaxContactMinutes = *maxContact
	}
	if *strictMoves {
		cfg.Pipeline.StrictMoves = true
	}
	if *workers > 0 {
		cfg.Pipeline.Workers = *workers
	}

	if err := run(context.Background(), cfg); err != nil {
		if errors.Is(err, distlock.ErrHeld) {
			logger.Error("another contacts run holds the lock, try again later")
		} else {
			logger.Error("contact inference failed", "error", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	store, err := storage.NewStore(cfg.Storage.LocalPath)
	if err != nil {
		return fmt.Errorf("opening output store: %w", err)
	}

	var db *sql.DB
	if cfg.Database.Enabled {
		db, err = sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	lock := distlock.NewLock(redisClient, db, "contacts", 30*time.Minute)
	return distlock.Run(ctx, lock, func(ctx context.Context) error {
		return buildAndStore(ctx, cfg, store, db)
	})
}

func buildAndStore(ctx context.Context, cfg *config.Config, store *storage.Store, db *sql.DB) error {
	start := time.Now()

	triggers, err := loadTriggers(ctx, cfg, store, db)
	if err != nil {
		return err
	}
	logger.Info("trigger table loaded", "rows", len(triggers))

	resolver, err := loadResolver(ctx, cfg, db)
	if err != nil {
		return err
	}

	builder, err := contacts.NewBuilder(cfg.Pipeline.MaxContactTime(), contacts.Options{
		Resolver: resolver,
		Workers:  cfg.Pipeline.Workers,
	})
	if err != nil {
		return err
	}

	events, report, err := builder.Build(triggers)
	if err != nil {
		return err
	}
	logger.Info("contact inference complete",
		"triggers_seen", report.TriggersSeen,
		"triggers_dropped", report.TriggersDropped,
		"triggers_skipped", report.TriggersSkipped,
		"events", report.Events,
		"max_contact_minutes", cfg.Pipeline.MaxContactMinutes,
	)

	if err := store.WriteContacts(events); err != nil {
		return fmt.Errorf("writing contact table: %w", err)
	}
	logger.Info("contact table written", "path", store.ContactsPath())

	if db != nil {
		if err := postgres.NewContactRepo(db).ReplaceAll(ctx, events); err != nil {
			return fmt.Errorf("replacing contact table: %w", err)
		}
		logger.Info("contact table replaced in database", "rows", len(events))
	}

	if cfg.Storage.S3Bucket != "" {
		mirror, err := storage.NewS3Mirror(ctx, cfg.Storage.S3Bucket, cfg.Storage.S3Prefix,
			cfg.Storage.AWSRegion, cfg.Storage.GetAWSProfile())
		if err != nil {
			return fmt.Errorf("configuring S3 mirror: %w", err)
		}
		if err := mirror.UploadFile(ctx, store.ContactsPath()); err != nil {
			return fmt.Errorf("mirroring contact table: %w", err)
		}
	}

	logger.Info("done", "duration", time.Since(start).String())
	return nil
}

// loadTriggers prefers the database when one is configured, so the run picks
// up whatever the last extract wrote there.
func loadTriggers(ctx context.Context, cfg *config.Config, store *storage.Store, db *sql.DB) ([]domain.Trigger, error) {
	if db != nil {
		return postgres.NewTriggerRepo(db).List(ctx, postgres.TriggerFilter{})
	}
	return store.ReadTriggers()
}

// loadResolver builds the logger-to-grid-cell resolver from the movement
// sheet. With no sheet configured contacts group by raw logger ID.
func loadResolver(ctx context.Context, cfg *config.Config, db *sql.DB) (*grid.Resolver, error) {
	var (
		moves []domain.LoggerMove
		err   error
	)
	switch {
	case db != nil:
		moves, err = postgres.NewMovementRepo(db).ListAll(ctx)
		if err == nil && len(moves) == 0 && cfg.Pipeline.MovementFile != "" {
			moves, err = loadAndPersistMovements(ctx, cfg, db)
		}
	case cfg.Pipeline.MovementFile != "":
		moves, err = storage.ReadMovements(cfg.Pipeline.MovementFile)
	default:
		logger.Warn("no movement sheet configured, grouping contacts by logger ID")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading movement history: %w", err)
	}
	if len(moves) == 0 {
		logger.Warn("movement history is empty, grouping contacts by logger ID")
		return nil, nil
	}

	return grid.NewResolver(moves, grid.Options{Strict: cfg.Pipeline.StrictMoves})
}

func loadAndPersistMovements(ctx context.Context, cfg *config.Config, db *sql.DB) ([]domain.LoggerMove, error) {
	moves, err := storage.ReadMovements(cfg.Pipeline.MovementFile)
	if err != nil {
		return nil, err
	}
	if err := postgres.NewMovementRepo(db).ReplaceAll(ctx, moves); err != nil {
		return nil, fmt.Errorf("persisting movement history: %w", err)
	}
	logger.Info("movement history persisted", "rows", len(moves))
	return moves, nil
}
