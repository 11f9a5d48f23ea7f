// Package postgres archives deleted rooms to PostgreSQL using pgx v5.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/citybuilder/internal/config"
)

// ApplicationName tags archive connections in pg_stat_activity.
const ApplicationName = "citybuilder-archive"

// ArchiveTables are the tables the archive writes to, in dependency order.
var ArchiveTables = []string{"room_archive", "building_archive"}

// ErrSchemaMissing is returned when the archive tables have not been migrated.
var ErrSchemaMissing = errors.New("archive schema missing")

// Pool is the connection pool the room archive writes through.
type Pool struct {
	pool *pgxpool.Pool
}

// NewPool connects to the archive database.
//
// Precondition: cfg must contain valid database connection parameters.
// Postcondition: Returns a pinged Pool or a non-nil error. The schema is not
// checked; call VerifySchema before archiving.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.ConnConfig.RuntimeParams["application_name"] = ApplicationName

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &Pool{pool: pool}, nil
}

// MissingTables returns the archive tables that do not exist yet.
func (p *Pool) MissingTables(ctx context.Context) ([]string, error) {
	var missing []string
	for _, table := range ArchiveTables {
		var exists bool
		if err := p.pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, table).Scan(&exists); err != nil {
			return nil, fmt.Errorf("checking table %s: %w", table, err)
		}
		if !exists {
			missing = append(missing, table)
		}
	}
	return missing, nil
}

// VerifySchema checks that every archive table exists within timeout.
//
// Postcondition: Returns nil when the archive can be written, an error wrapping
// ErrSchemaMissing naming the absent tables, or the query error.
func (p *Pool) VerifySchema(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	missing, err := p.MissingTables(ctx)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s (run cmd/migrate up)", ErrSchemaMissing, strings.Join(missing, ", "))
	}
	return nil
}

// ArchivedRooms returns how many room snapshots have been archived.
func (p *Pool) ArchivedRooms(ctx context.Context) (int64, error) {
	var n int64
	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM room_archive`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting archived rooms: %w", err)
	}
	return n, nil
}

// Close releases all pool resources.
//
// Postcondition: The pool is no longer usable after calling Close.
func (p *Pool) Close() {
	p.pool.Close()
}

// DB returns the underlying pgxpool.Pool for use by repositories.
func (p *Pool) DB() *pgxpool.Pool {
	return p.pool
}
