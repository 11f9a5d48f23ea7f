// Package main manages the room archive schema under migrations/.
//
// Usage:
//
//	migrate [-config path] [-source url] [-yes] [up [N] | down [N] | version | force V]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"

	"github.com/cory-johannsen/citybuilder/internal/config"
	"github.com/cory-johannsen/citybuilder/internal/observability"
	"github.com/cory-johannsen/citybuilder/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	source := flag.String("source", "file://migrations", "migration source URL")
	confirm := flag.Bool("yes", false, "confirm a full rollback of the room archive")
	flag.Parse()

	cmd, err := parseCommand(flag.Args())
	if err != nil {
		log.Fatalf("parsing command: %v", err)
	}
	if cmd.destructive() && !*confirm {
		log.Fatal(errConfirmDown)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	m, err := migrate.New(*source, cfg.Database.DSN())
	if err != nil {
		logger.Fatal("creating migrator", zap.String("source", *source), zap.Error(err))
	}
	defer m.Close()

	changed, err := cmd.apply(m)
	if err != nil {
		logger.Fatal("migration failed", zap.String("command", string(cmd.action)), zap.Error(err))
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		logger.Fatal("reading schema version", zap.Error(err))
	}

	fields := []zap.Field{
		zap.String("command", string(cmd.action)),
		zap.Bool("changed", changed),
		zap.Uint("version", version),
		zap.Bool("dirty", dirty),
	}
	fields = append(fields, archiveFields(cfg.Database, logger)...)
	fields = append(fields, zap.Duration("elapsed", time.Since(start)))
	logger.Info("room archive schema", fields...)
}

// archiveFields reports whether the archive tables are usable and how many
// rooms they hold. Failures are logged, not fatal: after a full rollback the
// tables are expected to be gone.
func archiveFields(cfg config.DatabaseConfig, logger *zap.Logger) []zap.Field {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		logger.Warn("connecting to archive database", zap.Error(err))
		return nil
	}
	defer pool.Close()

	if err := pool.VerifySchema(ctx, 5*time.Second); err != nil {
		return []zap.Field{zap.String("archive", fmt.Sprintf("unavailable: %v", err))}
	}
	n, err := pool.ArchivedRooms(ctx)
	if err != nil {
		logger.Warn("counting archived rooms", zap.Error(err))
		return []zap.Field{zap.String("archive", "ready")}
	}
	return []zap.Field{zap.String("archive", "ready"), zap.Int64("archived_rooms", n)}
}
