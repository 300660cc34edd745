package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/RMahshie/sigcal/internal/config"
	"github.com/RMahshie/sigcal/internal/repository"
	"github.com/RMahshie/sigcal/internal/repository/postgres"
	"github.com/RMahshie/sigcal/internal/repository/sqlite"
	"github.com/RMahshie/sigcal/internal/storage"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// setupLogging configures the global logger. The returned func closes the
// log file, if any.
func setupLogging(cfg config.LogConfig) func() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	console := zerolog.ConsoleWriter{Out: os.Stderr}
	if cfg.File == "" {
		log.Logger = log.Output(console)
		return func() {}
	}

	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(console, file)).With().Timestamp().Logger()
	return func() { _ = file.Close() }
}

// openRepository returns nil when no database is configured
func openRepository(ctx context.Context, cfg config.DatabaseConfig) (repository.ResultRepository, func(), error) {
	var (
		repo    repository.ResultRepository
		closeFn func()
	)
	switch cfg.Driver {
	case "postgres":
		db, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		repo = postgres.NewPostgresResultRepository(db)
		closeFn = func() { _ = db.Close() }
	case "sqlite3":
		store := sqlite.New(cfg.DSN)
		repo = store
		closeFn = func() { _ = store.Close() }
	default:
		return nil, func() {}, nil
	}

	if err := repo.Migrate(ctx); err != nil {
		closeFn()
		return nil, nil, err
	}
	log.Info().Str("driver", cfg.Driver).Msg("Results database ready")
	return repo, closeFn, nil
}

// openArchiver returns nil when no bucket is configured
func openArchiver(ctx context.Context, cfg config.ArchiveConfig) (storage.Archiver, error) {
	if cfg.Bucket == "" {
		return nil, nil
	}
	archiver, err := storage.NewS3Archiver(ctx, storage.S3Config{
		Bucket:    cfg.Bucket,
		Endpoint:  cfg.Endpoint,
		Region:    cfg.Region,
		Prefix:    cfg.Prefix,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Endpoint != "" {
		if err := storage.EnsureBucket(ctx, archiver); err != nil {
			log.Warn().Err(err).Msg("Could not ensure archive bucket exists")
		}
	}
	return archiver, nil
}
