package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/cory-johannsen/citybuilder/internal/game/protocol"
	"github.com/cory-johannsen/citybuilder/internal/game/room"
)

// ErrArchiveNotFound is returned when no archive exists for a room id.
var ErrArchiveNotFound = errors.New("room archive not found")

// ArchiveRepository writes final room snapshots to room_archive and building_archive.
type ArchiveRepository struct {
	db *pgxpool.Pool
}

// NewArchiveRepository creates an ArchiveRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewArchiveRepository(db *pgxpool.Pool) *ArchiveRepository {
	return &ArchiveRepository{db: db}
}

var buildingColumns = []string{
	"archive_id", "building_id", "building_type", "x", "y", "player_id", "player_pseudo", "placed_at",
}

// Save inserts rec and its buildings in one transaction.
//
// Precondition: rec.ID must be non-empty.
// Postcondition: Returns the archive row id, or an error with nothing written.
func (r *ArchiveRepository) Save(ctx context.Context, rec room.Record) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning archive transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var archiveID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO room_archive
		   (room_id, city_size, room_name, max_players, final_players, game_time, created_at, deleted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		rec.ID, rec.CitySize, rec.Name, rec.MaxPlayers, rec.CurrentPlayers, rec.GameTime, rec.CreatedAt, rec.DeletedAt,
	).Scan(&archiveID)
	if err != nil {
		return 0, fmt.Errorf("inserting room archive %s: %w", rec.ID, err)
	}

	if len(rec.Buildings) > 0 {
		rows := make([][]any, 0, len(rec.Buildings))
		for _, b := range rec.Buildings {
			rows = append(rows, []any{
				archiveID, b.ID, b.Type, b.X, b.Y, b.PlayerID, b.PlayerPseudo, time.UnixMilli(b.Timestamp).UTC(),
			})
		}
		n, err := tx.CopyFrom(ctx, pgx.Identifier{"building_archive"}, buildingColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return 0, fmt.Errorf("copying buildings for %s: %w", rec.ID, err)
		}
		if int(n) != len(rows) {
			return 0, fmt.Errorf("copying buildings for %s: wrote %d of %d", rec.ID, n, len(rows))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing room archive %s: %w", rec.ID, err)
	}
	return archiveID, nil
}

// Latest returns the most recent archive of roomID with its buildings in placement order.
//
// Postcondition: Returns ErrArchiveNotFound if the room was never archived.
func (r *ArchiveRepository) Latest(ctx context.Context, roomID string) (room.Record, error) {
	var (
		rec       room.Record
		archiveID int64
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, room_id, city_size, room_name, max_players, final_players, game_time, created_at, deleted_at
		 FROM room_archive WHERE room_id = $1
		 ORDER BY id DESC LIMIT 1`,
		roomID,
	).Scan(&archiveID, &rec.ID, &rec.CitySize, &rec.Name, &rec.MaxPlayers, &rec.CurrentPlayers,
		&rec.GameTime, &rec.CreatedAt, &rec.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return room.Record{}, ErrArchiveNotFound
	}
	if err != nil {
		return room.Record{}, fmt.Errorf("querying room archive %s: %w", roomID, err)
	}

	rows, err := r.db.Query(ctx,
		`SELECT building_id, building_type, x, y, player_id, player_pseudo, placed_at
		 FROM building_archive WHERE archive_id = $1
		 ORDER BY placed_at, building_id`,
		archiveID,
	)
	if err != nil {
		return room.Record{}, fmt.Errorf("querying building archive %s: %w", roomID, err)
	}
	defer rows.Close()

	rec.Buildings = []protocol.Building{}
	for rows.Next() {
		var (
			b        protocol.Building
			placedAt time.Time
		)
		if err := rows.Scan(&b.ID, &b.Type, &b.X, &b.Y, &b.PlayerID, &b.PlayerPseudo, &placedAt); err != nil {
			return room.Record{}, fmt.Errorf("scanning building archive row: %w", err)
		}
		b.Timestamp = placedAt.UnixMilli()
		rec.Buildings = append(rec.Buildings, b)
	}
	if err := rows.Err(); err != nil {
		return room.Record{}, fmt.Errorf("iterating building archive: %w", err)
	}
	return rec, nil
}

// RecordSaver persists one room record.
type RecordSaver interface {
	Save(ctx context.Context, rec room.Record) (int64, error)
}

// DefaultArchiveQueue is the archive backlog length used when none is configured.
const DefaultArchiveQueue = 64

// Archiver writes room records in the background so the game loop never
// waits on the database. Records arriving while the queue is full are dropped.
type Archiver struct {
	store   RecordSaver
	queue   chan room.Record
	timeout time.Duration
	logger  *zap.Logger
}

// NewArchiver creates an Archiver writing through store.
//
// Precondition: store and logger must be non-nil.
// Postcondition: Returns an Archiver that queues records until Run is started.
func NewArchiver(store RecordSaver, size int, logger *zap.Logger) *Archiver {
	if size <= 0 {
		size = DefaultArchiveQueue
	}
	return &Archiver{
		store:   store,
		queue:   make(chan room.Record, size),
		timeout: 5 * time.Second,
		logger:  logger,
	}
}

// Archive queues rec without blocking.
func (a *Archiver) Archive(rec room.Record) {
	select {
	case a.queue <- rec:
	default:
		a.logger.Warn("archive queue full, dropping room record",
			zap.String("room_id", rec.ID),
			zap.Int("buildings", len(rec.Buildings)),
		)
	}
}

// Run writes queued records until ctx is cancelled, then flushes what is left.
//
// Postcondition: Returns ctx.Err() after the queue has been drained.
func (a *Archiver) Run(ctx context.Context) error {
	for {
		select {
		case rec := <-a.queue:
			a.write(ctx, rec)
		case <-ctx.Done():
			a.flush()
			return ctx.Err()
		}
	}
}

func (a *Archiver) flush() {
	for {
		select {
		case rec := <-a.queue:
			a.write(context.Background(), rec)
		default:
			return
		}
	}
}

func (a *Archiver) write(ctx context.Context, rec room.Record) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()

	id, err := a.store.Save(ctx, rec)
	if err != nil {
		a.logger.Error("archiving room", zap.String("room_id", rec.ID), zap.Error(err))
		return
	}
	a.logger.Debug("room archived",
		zap.String("room_id", rec.ID),
		zap.Int64("archive_id", id),
		zap.Int("buildings", len(rec.Buildings)),
		zap.Duration("duration", time.Since(start)),
	)
}
