package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/citybuilder/internal/game/room"
	"github.com/cory-johannsen/citybuilder/internal/gameserver"
)

type fakeSource struct {
	rooms []room.Summary
	stats gameserver.Stats
	err   error
}

func (f *fakeSource) Rooms(ctx context.Context) ([]room.Summary, error) {
	return f.rooms, f.err
}

func (f *fakeSource) Stats(ctx context.Context) (gameserver.Stats, error) {
	return f.stats, f.err
}

func sampleRooms() []room.Summary {
	created := time.UnixMilli(1_700_000_000_000)
	return []room.Summary{
		{ID: "room_1", CitySize: 12, Name: "Harbor", CurrentPlayers: 1, MaxPlayers: 2, CreatedAt: created},
		{ID: "room_2", CitySize: 16, CurrentPlayers: 2, MaxPlayers: 2, CreatedAt: created},
		{ID: "room_3", CitySize: 24, CurrentPlayers: 0, MaxPlayers: 2, CreatedAt: created},
	}
}

func newTestHandler(t *testing.T, src Source) http.Handler {
	t.Helper()
	return NewHandler(src, room.DefaultLimits, zaptest.NewLogger(t)).Routes()
}

func TestListRooms_OnlyOpenRooms(t *testing.T) {
	h := newTestHandler(t, &fakeSource{rooms: sampleRooms()})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var got []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "room_1", got[0]["id"])
	assert.Equal(t, "Harbor", got[0]["roomName"])
	assert.Equal(t, float64(1_700_000_000_000), got[0]["createdAt"])
	assert.Equal(t, "room_3", got[1]["id"])
	assert.Nil(t, got[1]["roomName"])
}

func TestListRooms_EmptyIsArray(t *testing.T) {
	h := newTestHandler(t, &fakeSource{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestListRooms_SourceStopped(t *testing.T) {
	h := newTestHandler(t, &fakeSource{err: gameserver.ErrStopped})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestValidateRoom(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{name: "valid", body: `{"citySize":16}`, status: http.StatusOK},
		{name: "lower bound", body: `{"citySize":12}`, status: http.StatusOK},
		{name: "upper bound", body: `{"citySize":24}`, status: http.StatusOK},
		{name: "too small", body: `{"citySize":11}`, status: http.StatusBadRequest},
		{name: "too large", body: `{"citySize":25}`, status: http.StatusBadRequest},
		{name: "fractional", body: `{"citySize":12.5}`, status: http.StatusBadRequest},
		{name: "string", body: `{"citySize":"16"}`, status: http.StatusBadRequest},
		{name: "missing", body: `{}`, status: http.StatusBadRequest},
		{name: "malformed", body: `{citySize`, status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &fakeSource{})
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rooms", bytes.NewBufferString(tt.body)))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestValidateRoom_DoesNotCreate(t *testing.T) {
	src := &fakeSource{}
	h := newTestHandler(t, src)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rooms", bytes.NewBufferString(`{"citySize":16}`)))

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, true, got["valid"])
	assert.Equal(t, float64(16), got["citySize"])
	assert.Empty(t, src.rooms)
}

func TestPreflight(t *testing.T) {
	h := newTestHandler(t, &fakeSource{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/rooms", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
}

func TestNotFound(t *testing.T) {
	h := newTestHandler(t, &fakeSource{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, &fakeSource{stats: gameserver.Stats{Rooms: 3, Clients: 5}})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "healthy", got["status"])
	assert.Equal(t, float64(3), got["rooms"])
	assert.Equal(t, float64(5), got["clients"])
}

// Property: Open keeps exactly the rooms with a free seat, in input order.
func TestPropertyOpenFiltersFull(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 10).Draw(t, "n")
		rooms := make([]room.Summary, n)
		want := []string{}
		for i := range rooms {
			players := rapid.IntRange(0, 2).Draw(t, "players")
			rooms[i] = room.Summary{ID: string(rune('a' + i)), CitySize: 12, CurrentPlayers: players, MaxPlayers: 2}
			if players < 2 {
				want = append(want, rooms[i].ID)
			}
		}
		got := Open(rooms)
		if len(got) != len(want) {
			t.Fatalf("got %d open rooms, want %d", len(got), len(want))
		}
		for i := range got {
			if got[i].ID != want[i] {
				t.Fatalf("entry %d = %s, want %s", i, got[i].ID, want[i])
			}
		}
	})
}

func dialBufconn(t *testing.T, src Source) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv, _ := NewGRPCServer(NewService(src, zaptest.NewLogger(t)))
	go func() { _ = srv.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		srv.Stop()
	})
	return conn
}

func TestGRPC_ListRooms(t *testing.T) {
	conn := dialBufconn(t, &fakeSource{rooms: sampleRooms(), stats: gameserver.Stats{Rooms: 3, Clients: 4}})
	client := NewDirectoryClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.ListRooms(ctx, &emptypb.Empty{})
	require.NoError(t, err)

	got := resp.AsMap()
	rooms := got["rooms"].([]any)
	require.Len(t, rooms, 3)
	first := rooms[0].(map[string]any)
	assert.Equal(t, "room_1", first["id"])
	assert.Equal(t, "Harbor", first["roomName"])
	assert.Equal(t, float64(12), first["citySize"])
	assert.Nil(t, rooms[1].(map[string]any)["roomName"])
	assert.Equal(t, float64(4), got["clients"])
}

func TestGRPC_ListRoomsUnavailable(t *testing.T) {
	conn := dialBufconn(t, &fakeSource{err: errors.New("stopped")})
	client := NewDirectoryClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := client.ListRooms(ctx, &emptypb.Empty{})
	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestGRPC_Health(t *testing.T) {
	conn := dialBufconn(t, &fakeSource{})
	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}
