package room

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/citybuilder/internal/game/protocol"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func num(v float64) protocol.Number { return protocol.Number{Value: v, Valid: true} }

func newRoom(t *testing.T) *Room {
	t.Helper()
	return New("room_1", 16, "", 2, epoch)
}

func seat(t *testing.T, r *Room, id, pseudo string) *Player {
	t.Helper()
	p := &Player{ID: id, Pseudo: pseudo, ConnectedAt: epoch, LastActivity: epoch}
	require.NoError(t, r.Seat(p))
	return p
}

func TestParseCitySize(t *testing.T) {
	for _, size := range []int{12, 16, 24} {
		got, err := ParseCitySize(num(float64(size)), DefaultLimits)
		require.NoError(t, err)
		assert.Equal(t, size, got)
	}
	for _, n := range []protocol.Number{num(11), num(25), num(16.5), {}} {
		_, err := ParseCitySize(n, DefaultLimits)
		code, ok := CodeOf(err)
		require.True(t, ok)
		assert.Equal(t, protocol.CodeInvalidCitySize, code)
	}
}

func TestSeat_Capacity(t *testing.T) {
	r := newRoom(t)
	seat(t, r, "a", "Ada")
	seat(t, r, "b", "Bob")
	assert.True(t, r.IsFull())

	err := r.Seat(&Player{ID: "c"})
	code, _ := CodeOf(err)
	assert.Equal(t, protocol.CodeRoomFull, code)
	assert.Equal(t, 2, r.PlayerCount())
}

func TestSeat_Duplicate(t *testing.T) {
	r := newRoom(t)
	seat(t, r, "a", "Ada")
	err := r.Seat(&Player{ID: "a"})
	code, _ := CodeOf(err)
	assert.Equal(t, protocol.CodeAlreadyInRoom, code)
}

func TestUnseat_ChangesVacancy(t *testing.T) {
	r := newRoom(t)
	seat(t, r, "a", "Ada")
	before := r.Vacancy()

	p, ok := r.Unseat("a")
	require.True(t, ok)
	assert.False(t, p.Connected)
	assert.True(t, r.IsEmpty())
	assert.NotEqual(t, before, r.Vacancy())

	_, ok = r.Unseat("a")
	assert.False(t, ok)
}

func TestPlayers_SeatOrder(t *testing.T) {
	r := New("room_1", 16, "", 3, epoch)
	seat(t, r, "a", "Ada")
	seat(t, r, "b", "Bob")
	seat(t, r, "c", "Cy")
	r.Unseat("b")

	ids := []string{}
	for _, p := range r.Players() {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"a", "c"}, ids)
}

func TestPlaceBuilding(t *testing.T) {
	r := newRoom(t)
	seat(t, r, "a", "Ada")

	b, err := r.PlaceBuilding("a", "house", num(5), num(5), "Player", epoch)
	require.NoError(t, err)
	assert.Equal(t, "building_1", b.ID)
	assert.Equal(t, "Ada", b.PlayerPseudo)
	assert.Equal(t, Position{5, 5}, b.Pos)

	b2, err := r.PlaceBuilding("a", "road", num(6), num(5), "Player", epoch)
	require.NoError(t, err)
	assert.Equal(t, "building_2", b2.ID)
}

func TestPlaceBuilding_PositionOccupied(t *testing.T) {
	r := newRoom(t)
	seat(t, r, "a", "Ada")
	_, err := r.PlaceBuilding("a", "house", num(5), num(5), "Player", epoch)
	require.NoError(t, err)

	_, err = r.PlaceBuilding("a", "road", num(5), num(5), "Player", epoch)
	require.Error(t, err)
	code, _ := CodeOf(err)
	assert.Equal(t, protocol.CodePositionOccupied, code)
	assert.Contains(t, err.Error(), "(5, 5)")
	assert.Equal(t, 1, r.BuildingCount())
}

func TestPlaceBuilding_InvalidData(t *testing.T) {
	r := newRoom(t)
	cases := []struct {
		typ  string
		x, y protocol.Number
	}{
		{"", num(1), num(1)},
		{"house", protocol.Number{}, num(1)},
		{"house", num(1), num(1.5)},
	}
	for _, c := range cases {
		_, err := r.PlaceBuilding("a", c.typ, c.x, c.y, "Player", epoch)
		code, _ := CodeOf(err)
		assert.Equal(t, protocol.CodeInvalidBuildData, code)
	}
	assert.Equal(t, 0, r.BuildingCount())
}

func TestPlaceBuilding_OutOfBounds(t *testing.T) {
	r := newRoom(t)
	for _, pos := range [][2]float64{{-1, 0}, {0, -1}, {16, 0}, {0, 16}, {3e9, 0}, {-3e9, 0}, {0, 1e300}} {
		_, err := r.PlaceBuilding("a", "house", num(pos[0]), num(pos[1]), "Player", epoch)
		code, _ := CodeOf(err)
		assert.Equal(t, protocol.CodeOutOfBounds, code, "pos %v", pos)
	}
	assert.Equal(t, 0, r.BuildingCount())
}

// Property: any whole coordinate outside [0, citySize) is OUT_OF_BOUNDS, never
// INVALID_BUILD_DATA, however large its magnitude.
func TestPropertyWholeCoordinatesOutsideAreOutOfBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := New("room_1", 16, "", 2, epoch)
		far := rapid.OneOf(
			rapid.Int64Range(-1<<53, -1),
			rapid.Int64Range(16, 1<<53),
		).Draw(t, "far")
		inside := rapid.IntRange(0, 15).Draw(t, "inside")
		x, y := num(float64(far)), num(float64(inside))
		if rapid.Bool().Draw(t, "swap") {
			x, y = y, x
		}
		_, err := r.PlaceBuilding("a", "house", x, y, "Player", epoch)
		if code, _ := CodeOf(err); code != protocol.CodeOutOfBounds {
			t.Fatalf("(%v, %v) gave %v, want OUT_OF_BOUNDS", x.Value, y.Value, err)
		}
	})
}

func TestPlaceBuilding_UnseatedUsesDefaultPseudo(t *testing.T) {
	r := newRoom(t)
	b, err := r.PlaceBuilding("ghost", "house", num(0), num(0), "Player", epoch)
	require.NoError(t, err)
	assert.Equal(t, "Player", b.PlayerPseudo)
}

func TestPlaceBuilding_PseudoSnapshot(t *testing.T) {
	r := newRoom(t)
	seat(t, r, "a", "Ada")
	b, err := r.PlaceBuilding("a", "house", num(0), num(0), "Player", epoch)
	require.NoError(t, err)

	assert.True(t, r.Rename("a", "Countess"))
	assert.Equal(t, "Ada", b.PlayerPseudo)
	assert.False(t, r.Rename("a", "Countess"))
}

func TestSnapshot(t *testing.T) {
	r := newRoom(t)
	seat(t, r, "a", "Ada")
	_, err := r.PlaceBuilding("a", "house", num(1), num(2), "Player", epoch)
	require.NoError(t, err)
	r.Tick()
	r.Tick()

	snap := r.Snapshot()
	assert.Equal(t, 16, snap.CitySize)
	assert.Equal(t, int64(2), snap.GameTime)
	require.Len(t, snap.Buildings, 1)
	assert.Equal(t, 1, snap.Buildings[0].X)
	assert.Equal(t, 2, snap.Buildings[0].Y)
	require.Len(t, snap.Players, 1)
	assert.Equal(t, protocol.PlayerInfo{ID: "a", Pseudo: "Ada", ConnectedAt: epoch.UnixMilli()}, snap.Players[0])

	// snapshot is read-only
	assert.Equal(t, snap, r.Snapshot())
}

func TestSummaryWire(t *testing.T) {
	named := New("room_2", 12, "Harbor", 2, epoch).Summary().Wire()
	require.NotNil(t, named.RoomName)
	assert.Equal(t, "Harbor", *named.RoomName)

	unnamed := newRoom(t).Summary()
	assert.Nil(t, unnamed.Wire().RoomName)
	assert.True(t, unnamed.HasCapacity())
}

func TestPropertyCapacityNeverExceeded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 5).Draw(t, "capacity")
		r := New("room_1", 12, "", capacity, epoch)
		ops := rapid.SliceOfN(rapid.IntRange(0, 9), 1, 60).Draw(t, "ops")
		for i, op := range ops {
			id := fmt.Sprintf("p%d", op)
			if i%3 == 2 {
				r.Unseat(id)
			} else {
				_ = r.Seat(&Player{ID: id})
			}
			if r.PlayerCount() > capacity {
				t.Fatalf("occupancy %d exceeds capacity %d", r.PlayerCount(), capacity)
			}
			if len(r.Players()) != r.PlayerCount() {
				t.Fatalf("seat order out of sync with player map")
			}
		}
	})
}

func TestPropertyPositionsUnique(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		size := rapid.IntRange(12, 24).Draw(t, "size")
		r := New("room_1", size, "", 2, epoch)
		n := rapid.IntRange(1, 100).Draw(t, "placements")
		for i := 0; i < n; i++ {
			x := rapid.IntRange(-2, size+1).Draw(t, "x")
			y := rapid.IntRange(-2, size+1).Draw(t, "y")
			before := r.BuildingCount()
			_, err := r.PlaceBuilding("a", "house", num(float64(x)), num(float64(y)), "Player", epoch)
			if code, _ := CodeOf(err); code == protocol.CodePositionOccupied && r.BuildingCount() != before {
				t.Fatalf("rejected placement changed building count")
			}
		}
		seen := make(map[Position]bool)
		for _, b := range r.Buildings() {
			if seen[b.Pos] {
				t.Fatalf("duplicate building at %v", b.Pos)
			}
			seen[b.Pos] = true
			if b.Pos.X < 0 || b.Pos.X >= size || b.Pos.Y < 0 || b.Pos.Y >= size {
				t.Fatalf("building out of bounds at %v", b.Pos)
			}
		}
	})
}

func TestPropertyBuildingIDsNeverReused(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := New("room_1", 24, "", 2, epoch)
		ids := make(map[string]bool)
		n := rapid.IntRange(1, 50).Draw(t, "n")
		for i := 0; i < n; i++ {
			x := rapid.IntRange(0, 23).Draw(t, "x")
			y := rapid.IntRange(0, 23).Draw(t, "y")
			b, err := r.PlaceBuilding("a", "house", num(float64(x)), num(float64(y)), "Player", epoch)
			if err != nil {
				continue
			}
			if ids[b.ID] {
				t.Fatalf("building id %s reused", b.ID)
			}
			ids[b.ID] = true
		}
	})
}

func TestRecord(t *testing.T) {
	r := New("room_9", 20, "Port", 2, epoch)
	_, err := r.PlaceBuilding("a", "house", num(3), num(4), "Player", epoch)
	require.NoError(t, err)
	r.Tick()

	deleted := epoch.Add(time.Hour)
	rec := r.Record(deleted)
	assert.Equal(t, "room_9", rec.ID)
	assert.Equal(t, "Port", rec.Name)
	assert.Equal(t, int64(1), rec.GameTime)
	assert.Equal(t, deleted, rec.DeletedAt)
	require.Len(t, rec.Buildings, 1)
	assert.Equal(t, "house", rec.Buildings[0].Type)
}
