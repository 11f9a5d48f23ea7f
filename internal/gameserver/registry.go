package gameserver

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/citybuilder/internal/events"
	"github.com/cory-johannsen/citybuilder/internal/game/protocol"
	"github.com/cory-johannsen/citybuilder/internal/game/room"
	"github.com/cory-johannsen/citybuilder/internal/game/session"
)

// Archiver receives the final state of every deleted room. Archive must not block.
type Archiver interface {
	Archive(rec room.Record)
}

type nopArchiver struct{}

func (nopArchiver) Archive(room.Record) {}

// Registry owns the mapping of room id to Room and every membership change.
// It is not safe for concurrent use; the Server loop serializes all calls.
type Registry struct {
	limits        room.Limits
	grace         time.Duration
	defaultPseudo string

	rooms      map[string]*room.Room
	order      []string
	nextRoomID int

	clients  *session.Manager
	router   *Router
	events   events.Publisher
	archiver Archiver
	// after runs fn on the server loop once d has elapsed.
	after  func(d time.Duration, fn func())
	now    func() time.Time
	logger *zap.Logger
}

// RoomCount returns the number of live rooms.
func (g *Registry) RoomCount() int { return len(g.rooms) }

// Room returns the room with the given id.
func (g *Registry) Room(id string) (*room.Room, bool) {
	r, ok := g.rooms[id]
	return r, ok
}

// Summaries returns the directory entry of every room in creation order.
func (g *Registry) Summaries() []room.Summary {
	out := make([]room.Summary, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.rooms[id].Summary())
	}
	return out
}

// Directory returns the AVAILABLE_ROOMS event listing every room.
func (g *Registry) Directory() protocol.AvailableRooms {
	summaries := g.Summaries()
	wire := make([]protocol.RoomSummary, 0, len(summaries))
	for _, s := range summaries {
		wire = append(wire, s.Wire())
	}
	return protocol.NewAvailableRooms(wire)
}

func (g *Registry) refreshLobby() {
	g.router.Lobby(g.Directory())
}

func (g *Registry) seat(c *session.Client, r *room.Room, now time.Time) error {
	p := &room.Player{
		ID:           c.ID,
		Pseudo:       c.Pseudo,
		ConnectedAt:  now,
		LastActivity: now,
		Handle:       c.Outbox,
	}
	if err := r.Seat(p); err != nil {
		return err
	}
	if err := g.clients.Bind(c.ID, r.ID()); err != nil {
		r.Unseat(c.ID)
		return fmt.Errorf("binding client to room %s: %w", r.ID(), err)
	}
	return nil
}

// CreateRoom opens a room and seats c as its first player.
//
// Precondition: c is a registered client.
// Postcondition: On success c is bound to the new room and has received
// ROOM_CREATED then FULL_SYNC; the lobby has received AVAILABLE_ROOMS.
// On failure nothing is created and an *room.Error is returned.
func (g *Registry) CreateRoom(c *session.Client, citySize protocol.Number, name string) (*room.Room, error) {
	if !c.InLobby() {
		return nil, room.Errorf(protocol.CodeAlreadyInRoom, "already in room %s", c.RoomID)
	}
	size, err := room.ParseCitySize(citySize, g.limits)
	if err != nil {
		return nil, err
	}

	now := g.now()
	g.nextRoomID++
	r := room.New(fmt.Sprintf("room_%d", g.nextRoomID), size, name, g.limits.MaxPlayers, now)
	if err := g.seat(c, r, now); err != nil {
		return nil, err
	}
	g.rooms[r.ID()] = r
	g.order = append(g.order, r.ID())

	g.router.Send(c, protocol.NewRoomCreated(r.ID(), size, c.ID))
	g.router.Send(c, r.Snapshot().Event())
	g.refreshLobby()

	g.events.Publish(events.Event{
		Kind:         events.RoomCreated,
		RoomID:       r.ID(),
		CitySize:     size,
		RoomName:     name,
		PlayerID:     c.ID,
		PlayerPseudo: c.Pseudo,
		TotalPlayers: r.PlayerCount(),
		At:           now,
	})
	g.logger.Info("room created",
		zap.String("room_id", r.ID()),
		zap.Int("city_size", size),
		zap.String("client_id", c.ID),
	)
	return r, nil
}

// JoinRoom seats c in an existing room.
//
// Precondition: c is a registered client.
// Postcondition: On success c is bound to the room and has received ROOM_JOINED
// then FULL_SYNC; existing members received PLAYER_JOINED; the whole room
// received PLAYERS_LIST_UPDATE; the lobby received AVAILABLE_ROOMS.
func (g *Registry) JoinRoom(c *session.Client, roomID string) (*room.Room, error) {
	if !c.InLobby() {
		return nil, room.Errorf(protocol.CodeAlreadyInRoom, "already in room %s", c.RoomID)
	}
	r, ok := g.rooms[roomID]
	if !ok {
		return nil, room.Errorf(protocol.CodeRoomNotFound, "room %q not found", roomID)
	}
	now := g.now()
	if err := g.seat(c, r, now); err != nil {
		return nil, err
	}

	g.router.Send(c, protocol.NewRoomJoined(r.ID(), r.CitySize(), c.ID))
	g.router.Send(c, r.Snapshot().Event())
	g.router.RoomExclusive(r, c.ID, protocol.PlayerJoined{
		Type:         protocol.TypePlayerJoined,
		PlayerID:     c.ID,
		PlayerPseudo: c.Pseudo,
		TotalPlayers: r.PlayerCount(),
		MaxPlayers:   r.MaxPlayers(),
	})
	g.router.RoomInclusive(r, protocol.NewPlayersListUpdate(r.PlayerInfos()))
	g.refreshLobby()

	g.events.Publish(events.Event{
		Kind:         events.RoomJoined,
		RoomID:       r.ID(),
		PlayerID:     c.ID,
		PlayerPseudo: c.Pseudo,
		TotalPlayers: r.PlayerCount(),
		At:           now,
	})
	g.logger.Info("room joined",
		zap.String("room_id", r.ID()),
		zap.String("client_id", c.ID),
		zap.Int("players", r.PlayerCount()),
	)
	return r, nil
}

// LeaveRoom removes playerID's seat from roomID. Unknown rooms or players are ignored.
//
// Postcondition: Remaining members received PLAYER_LEFT and PLAYERS_LIST_UPDATE;
// the lobby received AVAILABLE_ROOMS; an emptied room has a deletion check
// scheduled after the grace period.
func (g *Registry) LeaveRoom(roomID, playerID string) {
	r, ok := g.rooms[roomID]
	if !ok {
		return
	}
	p, ok := r.Unseat(playerID)
	if !ok {
		return
	}

	g.router.RoomExclusive(r, playerID, protocol.PlayerLeft{
		Type:         protocol.TypePlayerLeft,
		PlayerID:     playerID,
		PlayerPseudo: p.Pseudo,
		TotalPlayers: r.PlayerCount(),
	})
	g.router.RoomInclusive(r, protocol.NewPlayersListUpdate(r.PlayerInfos()))

	if r.IsEmpty() {
		g.scheduleDeletion(r)
	}
	g.refreshLobby()

	g.events.Publish(events.Event{
		Kind:         events.RoomLeft,
		RoomID:       roomID,
		PlayerID:     playerID,
		PlayerPseudo: p.Pseudo,
		TotalPlayers: r.PlayerCount(),
		At:           g.now(),
	})
	g.logger.Info("room left",
		zap.String("room_id", roomID),
		zap.String("client_id", playerID),
		zap.Int("players", r.PlayerCount()),
	)
}

func (g *Registry) scheduleDeletion(r *room.Room) {
	id, vacancy := r.ID(), r.Vacancy()
	g.logger.Debug("room empty, deletion scheduled",
		zap.String("room_id", id),
		zap.Duration("grace", g.grace),
	)
	g.after(g.grace, func() { g.expire(id, vacancy) })
}

// expire deletes the room only if it is still empty and no seat changed since
// the check was scheduled.
func (g *Registry) expire(roomID string, vacancy uint64) {
	r, ok := g.rooms[roomID]
	if !ok || !r.IsEmpty() || r.Vacancy() != vacancy {
		return
	}
	delete(g.rooms, roomID)
	for i, id := range g.order {
		if id == roomID {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}

	now := g.now()
	g.archiver.Archive(r.Record(now))
	g.events.Publish(events.Event{
		Kind:     events.RoomDeleted,
		RoomID:   roomID,
		CitySize: r.CitySize(),
		RoomName: r.Name(),
		At:       now,
	})
	g.logger.Info("room deleted",
		zap.String("room_id", roomID),
		zap.Int("buildings", r.BuildingCount()),
		zap.Duration("age", now.Sub(r.CreatedAt())),
	)
}

// PlaceBuilding places a building in c's room.
//
// Postcondition: Returns the building, or an *room.Error with NOT_IN_ROOM,
// ROOM_NOT_FOUND, INVALID_BUILD_DATA, OUT_OF_BOUNDS or POSITION_OCCUPIED.
func (g *Registry) PlaceBuilding(c *session.Client, cmd protocol.Build) (*room.Room, *room.Building, error) {
	if c.InLobby() {
		return nil, nil, room.Errorf(protocol.CodeNotInRoom, "not in a room")
	}
	r, ok := g.rooms[c.RoomID]
	if !ok {
		return nil, nil, room.Errorf(protocol.CodeRoomNotFound, "room %q not found", c.RoomID)
	}
	b, err := r.PlaceBuilding(c.ID, cmd.BuildingType, cmd.X, cmd.Y, g.defaultPseudo, g.now())
	if err != nil {
		return r, nil, err
	}
	return r, b, nil
}

// Sync returns the snapshot of c's room. It never mutates state.
func (g *Registry) Sync(c *session.Client) (room.Snapshot, error) {
	if c.InLobby() {
		return room.Snapshot{}, room.Errorf(protocol.CodeNotInRoom, "not in a room")
	}
	r, ok := g.rooms[c.RoomID]
	if !ok {
		return room.Snapshot{}, room.Errorf(protocol.CodeRoomNotFound, "room %q not found", c.RoomID)
	}
	return r.Snapshot(), nil
}

// TickClocks advances the logical clock of every room.
func (g *Registry) TickClocks() {
	for _, r := range g.rooms {
		r.Tick()
	}
}
