package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/citybuilder/internal/game/protocol"
	"github.com/cory-johannsen/citybuilder/internal/game/room"
	"github.com/cory-johannsen/citybuilder/internal/storage/postgres"
	"github.com/cory-johannsen/citybuilder/internal/testutil"
)

func TestArchiveRepository_SaveAndLatest(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	pc := testutil.NewPostgresContainer(t)
	pc.ApplyMigrations(t)
	repo := postgres.NewArchiveRepository(pc.RawPool)
	ctx := context.Background()

	created := time.Now().Add(-time.Minute).UTC().Truncate(time.Millisecond)
	rm := room.New("room_1", 12, "Harbor", 2, created)
	p := &room.Player{ID: "p1", Pseudo: "Alice", ConnectedAt: created}
	require.NoError(t, rm.Seat(p))
	_, err := rm.PlaceBuilding("p1", "house",
		protocol.Number{Value: 1, Valid: true}, protocol.Number{Value: 2, Valid: true}, "Player", created)
	require.NoError(t, err)
	_, err = rm.PlaceBuilding("p1", "shop",
		protocol.Number{Value: 3, Valid: true}, protocol.Number{Value: 4, Valid: true}, "Player", created.Add(time.Second))
	require.NoError(t, err)
	rm.Unseat("p1")

	rec := rm.Record(time.Now().UTC().Truncate(time.Millisecond))
	id, err := repo.Save(ctx, rec)
	require.NoError(t, err)
	assert.Positive(t, id)

	got, err := repo.Latest(ctx, "room_1")
	require.NoError(t, err)
	assert.Equal(t, "Harbor", got.Name)
	assert.Equal(t, 12, got.CitySize)
	assert.Equal(t, 0, got.CurrentPlayers)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
	require.Len(t, got.Buildings, 2)
	assert.Equal(t, rec.Buildings, got.Buildings)
}

func TestArchiveRepository_LatestNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	pc := testutil.NewPostgresContainer(t)
	pc.ApplyMigrations(t)
	repo := postgres.NewArchiveRepository(pc.RawPool)

	_, err := repo.Latest(context.Background(), "room_404")
	assert.ErrorIs(t, err, postgres.ErrArchiveNotFound)
}

func TestArchiver_PersistsThroughRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	pc := testutil.NewPostgresContainer(t)
	pc.ApplyMigrations(t)
	repo := postgres.NewArchiveRepository(pc.RawPool)
	a := postgres.NewArchiver(repo, 8, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Run(ctx)
	}()

	now := time.Now().UTC()
	a.Archive(room.New("room_7", 16, "", 2, now).Record(now))

	require.Eventually(t, func() bool {
		_, err := repo.Latest(context.Background(), "room_7")
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)
	cancel()
	<-done
}

func TestPool_VerifySchema(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	pc := testutil.NewPostgresContainer(t)
	ctx := context.Background()

	missing, err := pc.Pool.MissingTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, postgres.ArchiveTables, missing)
	err = pc.Pool.VerifySchema(ctx, 5*time.Second)
	require.ErrorIs(t, err, postgres.ErrSchemaMissing)
	assert.ErrorContains(t, err, "building_archive")

	pc.ApplyMigrations(t)
	require.NoError(t, pc.Pool.VerifySchema(ctx, 5*time.Second))

	n, err := pc.Pool.ArchivedRooms(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = postgres.NewArchiveRepository(pc.RawPool).Save(ctx, room.New("room_1", 12, "", 2, time.Now()).Record(time.Now()))
	require.NoError(t, err)
	n, err = pc.Pool.ArchivedRooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
