package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/citybuilder/internal/game/room"
)

type fakeSaver struct {
	mu      sync.Mutex
	saved   []room.Record
	fail    bool
	release chan struct{}
}

func (f *fakeSaver) Save(ctx context.Context, rec room.Record) (int64, error) {
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return 0, errors.New("database unavailable")
	}
	f.saved = append(f.saved, rec)
	return int64(len(f.saved)), nil
}

func (f *fakeSaver) Saved() []room.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]room.Record(nil), f.saved...)
}

func record(id string) room.Record {
	now := time.Now()
	return room.Record{
		Summary:   room.Summary{ID: id, CitySize: 12, MaxPlayers: 2, CreatedAt: now.Add(-time.Minute)},
		DeletedAt: now,
	}
}

func TestArchiver_WritesQueuedRecords(t *testing.T) {
	store := &fakeSaver{}
	a := NewArchiver(store, 4, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	a.Archive(record("room_1"))
	a.Archive(record("room_2"))

	require.Eventually(t, func() bool {
		return len(store.Saved()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, "room_1", store.Saved()[0].ID)
	assert.Equal(t, "room_2", store.Saved()[1].ID)
}

func TestArchiver_FlushesOnShutdown(t *testing.T) {
	store := &fakeSaver{}
	a := NewArchiver(store, 4, zaptest.NewLogger(t))
	a.Archive(record("room_1"))
	a.Archive(record("room_2"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = a.Run(ctx)

	assert.Len(t, store.Saved(), 2)
}

func TestArchiver_DropsWhenFull(t *testing.T) {
	store := &fakeSaver{}
	a := NewArchiver(store, 1, zaptest.NewLogger(t))
	a.Archive(record("room_1"))
	a.Archive(record("room_2"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = a.Run(ctx)

	saved := store.Saved()
	require.Len(t, saved, 1)
	assert.Equal(t, "room_1", saved[0].ID)
}

func TestArchiver_SaveFailureDoesNotStop(t *testing.T) {
	store := &fakeSaver{fail: true}
	a := NewArchiver(store, 4, zaptest.NewLogger(t))
	a.Archive(record("room_1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, a.Run(ctx), context.Canceled)
	assert.Empty(t, store.Saved())
}

func TestNewArchiver_DefaultQueue(t *testing.T) {
	a := NewArchiver(&fakeSaver{}, 0, zaptest.NewLogger(t))
	assert.Equal(t, DefaultArchiveQueue, cap(a.queue))
}

// Property: with a queue of size n and a blocked writer, exactly the first n
// records are kept, in arrival order.
func TestPropertyArchiverKeepsPrefix(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		size := rapid.IntRange(1, 8).Draw(t, "size")
		count := rapid.IntRange(0, 16).Draw(t, "count")

		store := &fakeSaver{}
		a := NewArchiver(store, size, zap.NewNop())
		for i := 0; i < count; i++ {
			a.Archive(record(string(rune('a' + i))))
		}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_ = a.Run(ctx)

		saved := store.Saved()
		want := min(size, count)
		if len(saved) != want {
			t.Fatalf("saved %d records, want %d", len(saved), want)
		}
		for i, rec := range saved {
			if rec.ID != string(rune('a'+i)) {
				t.Fatalf("record %d = %q, want %q", i, rec.ID, string(rune('a'+i)))
			}
		}
	})
}
