// Package room holds the authoritative state of a single multiplayer room:
// its seated players, placed buildings and logical clock.
//
// A Room is not safe for concurrent use. All access is serialized by the
// owning game server loop.
package room

import (
	"errors"
	"fmt"
	"time"

	"github.com/cory-johannsen/citybuilder/internal/game/protocol"
)

// Error is a rejected operation carrying the wire error code.
type Error struct {
	Code    protocol.Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errorf builds an *Error with a formatted message.
func Errorf(code protocol.Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the wire code carried by err, if any.
func CodeOf(err error) (protocol.Code, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re.Code, true
	}
	return "", false
}

// Limits are the configurable bounds applied to every room.
type Limits struct {
	MaxPlayers  int
	MinCitySize int
	MaxCitySize int
}

// DefaultLimits are the stock room bounds.
var DefaultLimits = Limits{MaxPlayers: 2, MinCitySize: 12, MaxCitySize: 24}

// ParseCitySize validates a requested grid edge length.
//
// Postcondition: Returns the size when n is an integral number in
// [lim.MinCitySize, lim.MaxCitySize], otherwise an INVALID_CITY_SIZE error.
func ParseCitySize(n protocol.Number, lim Limits) (int, error) {
	size, ok := n.Int()
	if !ok || size < lim.MinCitySize || size > lim.MaxCitySize {
		return 0, Errorf(protocol.CodeInvalidCitySize,
			"city size must be a whole number between %d and %d", lim.MinCitySize, lim.MaxCitySize)
	}
	return size, nil
}

// Sender is the non-owning outbound handle of a seated player.
// Closing the underlying connection is the transport's job, never the room's.
type Sender interface {
	Push(data []byte) error
	IsClosed() bool
}

// Player is one occupied seat in a room.
type Player struct {
	ID           string
	Pseudo       string
	Connected    bool
	ConnectedAt  time.Time
	LastActivity time.Time
	Handle       Sender
}

// Info returns the public view of the player.
func (p *Player) Info() protocol.PlayerInfo {
	return protocol.PlayerInfo{ID: p.ID, Pseudo: p.Pseudo, ConnectedAt: p.ConnectedAt.UnixMilli()}
}

// Position is a grid cell.
type Position struct{ X, Y int }

// Building is a placed structure. Buildings are never removed.
type Building struct {
	ID           string
	Seq          int
	Type         string
	Pos          Position
	PlayerID     string
	PlayerPseudo string
	PlacedAt     time.Time
}

// Wire returns the wire view of the building.
func (b *Building) Wire() protocol.Building {
	return protocol.Building{
		ID:           b.ID,
		Type:         b.Type,
		X:            b.Pos.X,
		Y:            b.Pos.Y,
		PlayerID:     b.PlayerID,
		PlayerPseudo: b.PlayerPseudo,
		Timestamp:    b.PlacedAt.UnixMilli(),
	}
}

// Summary is the directory view of a room.
type Summary struct {
	ID             string
	CitySize       int
	Name           string
	CurrentPlayers int
	MaxPlayers     int
	CreatedAt      time.Time
}

// Wire returns the directory entry pushed in AVAILABLE_ROOMS.
func (s Summary) Wire() protocol.RoomSummary {
	out := protocol.RoomSummary{
		ID:             s.ID,
		CitySize:       s.CitySize,
		CurrentPlayers: s.CurrentPlayers,
		MaxPlayers:     s.MaxPlayers,
	}
	if s.Name != "" {
		name := s.Name
		out.RoomName = &name
	}
	return out
}

// HasCapacity reports whether another player can be seated.
func (s Summary) HasCapacity() bool { return s.CurrentPlayers < s.MaxPlayers }

// Snapshot is the full state sent in FULL_SYNC.
type Snapshot struct {
	CitySize  int
	Buildings []protocol.Building
	Players   []protocol.PlayerInfo
	GameTime  int64
}

// Event returns the FULL_SYNC event for the snapshot.
func (s Snapshot) Event() protocol.FullSync {
	return protocol.NewFullSync(s.CitySize, s.Buildings, s.Players, s.GameTime)
}

// Room is the authoritative state of one room.
//
// Invariant: len(players) <= maxPlayers.
// Invariant: no two buildings share a Position.
type Room struct {
	id         string
	citySize   int
	name       string
	maxPlayers int
	createdAt  time.Time

	players   map[string]*Player
	seatOrder []string

	buildings      map[string]*Building
	buildingOrder  []string
	occupied       map[Position]string
	nextBuildingID int

	gameTime int64
	// vacancy changes on every seat change so a stale deletion check can be detected.
	vacancy uint64
}

// New creates an empty room.
//
// Precondition: id must be non-empty; citySize and maxPlayers must be > 0.
// Postcondition: Returns a Room with no players and no buildings.
func New(id string, citySize int, name string, maxPlayers int, now time.Time) *Room {
	return &Room{
		id:             id,
		citySize:       citySize,
		name:           name,
		maxPlayers:     maxPlayers,
		createdAt:      now,
		players:        make(map[string]*Player),
		buildings:      make(map[string]*Building),
		occupied:       make(map[Position]string),
		nextBuildingID: 1,
	}
}

// ID returns the room identifier.
func (r *Room) ID() string { return r.id }

// CitySize returns the grid edge length.
func (r *Room) CitySize() int { return r.citySize }

// Name returns the optional display label.
func (r *Room) Name() string { return r.name }

// MaxPlayers returns the seat capacity.
func (r *Room) MaxPlayers() int { return r.maxPlayers }

// CreatedAt returns the creation time.
func (r *Room) CreatedAt() time.Time { return r.createdAt }

// GameTime returns the logical clock value.
func (r *Room) GameTime() int64 { return r.gameTime }

// PlayerCount returns the number of occupied seats.
func (r *Room) PlayerCount() int { return len(r.players) }

// BuildingCount returns the number of placed buildings.
func (r *Room) BuildingCount() int { return len(r.buildings) }

// IsEmpty reports whether no seat is occupied.
func (r *Room) IsEmpty() bool { return len(r.players) == 0 }

// IsFull reports whether every seat is occupied.
func (r *Room) IsFull() bool { return len(r.players) >= r.maxPlayers }

// Vacancy returns the seat-change generation. It differs after any Seat or Unseat.
func (r *Room) Vacancy() uint64 { return r.vacancy }

// Seat adds p to the room.
//
// Precondition: p must be non-nil with a non-empty ID.
// Postcondition: p is seated, or ROOM_FULL is returned and the room is unchanged.
func (r *Room) Seat(p *Player) error {
	if r.IsFull() {
		return Errorf(protocol.CodeRoomFull, "room %s is full (%d/%d)", r.id, len(r.players), r.maxPlayers)
	}
	if _, exists := r.players[p.ID]; exists {
		return Errorf(protocol.CodeAlreadyInRoom, "player %s is already in room %s", p.ID, r.id)
	}
	p.Connected = true
	r.players[p.ID] = p
	r.seatOrder = append(r.seatOrder, p.ID)
	r.vacancy++
	return nil
}

// Unseat removes the player with the given id.
//
// Postcondition: Returns the removed player and true, or nil and false if absent.
func (r *Room) Unseat(playerID string) (*Player, bool) {
	p, ok := r.players[playerID]
	if !ok {
		return nil, false
	}
	delete(r.players, playerID)
	for i, id := range r.seatOrder {
		if id == playerID {
			r.seatOrder = append(r.seatOrder[:i], r.seatOrder[i+1:]...)
			break
		}
	}
	p.Connected = false
	r.vacancy++
	return p, true
}

// Player returns the seated player with the given id.
func (r *Room) Player(playerID string) (*Player, bool) {
	p, ok := r.players[playerID]
	return p, ok
}

// Players returns the seated players in seat order.
func (r *Room) Players() []*Player {
	out := make([]*Player, 0, len(r.seatOrder))
	for _, id := range r.seatOrder {
		out = append(out, r.players[id])
	}
	return out
}

// PlayerInfos returns the public roster in seat order.
func (r *Room) PlayerInfos() []protocol.PlayerInfo {
	out := make([]protocol.PlayerInfo, 0, len(r.seatOrder))
	for _, p := range r.Players() {
		out = append(out, p.Info())
	}
	return out
}

// Touch records activity for a seated player. Unknown ids are ignored.
func (r *Room) Touch(playerID string, now time.Time) {
	if p, ok := r.players[playerID]; ok {
		p.LastActivity = now
	}
}

// Rename updates a seated player's display name.
//
// Postcondition: Returns true if the player is seated and the name changed.
func (r *Room) Rename(playerID, pseudo string) bool {
	p, ok := r.players[playerID]
	if !ok || p.Pseudo == pseudo {
		return false
	}
	p.Pseudo = pseudo
	return true
}

func (r *Room) inside(v float64) bool {
	return v >= 0 && v < float64(r.citySize)
}

// PlaceBuilding validates and stores a new building owned by playerID.
//
// Precondition: the caller has already checked that playerID is bound to this room.
// Postcondition: On success the building is stored under a fresh id and returned.
// On failure the room is unchanged and an *Error with INVALID_BUILD_DATA,
// OUT_OF_BOUNDS or POSITION_OCCUPIED is returned.
func (r *Room) PlaceBuilding(playerID, buildingType string, x, y protocol.Number, defaultPseudo string, now time.Time) (*Building, error) {
	if buildingType == "" || !x.Whole() || !y.Whole() {
		return nil, Errorf(protocol.CodeInvalidBuildData, "building type and whole-number x, y are required")
	}
	// compare as float64 so magnitudes beyond int range still report OUT_OF_BOUNDS
	if !r.inside(x.Value) || !r.inside(y.Value) {
		return nil, Errorf(protocol.CodeOutOfBounds, "position (%.0f, %.0f) is outside the %dx%d city",
			x.Value, y.Value, r.citySize, r.citySize)
	}
	px, py := int(x.Value), int(y.Value)
	pos := Position{X: px, Y: py}
	if _, taken := r.occupied[pos]; taken {
		return nil, Errorf(protocol.CodePositionOccupied, "Position (%d, %d) is already occupied", px, py)
	}

	pseudo := defaultPseudo
	if p, ok := r.players[playerID]; ok {
		pseudo = p.Pseudo
	}

	seq := r.nextBuildingID
	r.nextBuildingID++
	b := &Building{
		ID:           fmt.Sprintf("building_%d", seq),
		Seq:          seq,
		Type:         buildingType,
		Pos:          pos,
		PlayerID:     playerID,
		PlayerPseudo: pseudo,
		PlacedAt:     now,
	}
	r.buildings[b.ID] = b
	r.buildingOrder = append(r.buildingOrder, b.ID)
	r.occupied[pos] = b.ID
	return b, nil
}

// BuildingAt returns the building occupying pos.
func (r *Room) BuildingAt(pos Position) (*Building, bool) {
	id, ok := r.occupied[pos]
	if !ok {
		return nil, false
	}
	return r.buildings[id], true
}

// Buildings returns every building in placement order.
func (r *Room) Buildings() []*Building {
	out := make([]*Building, 0, len(r.buildingOrder))
	for _, id := range r.buildingOrder {
		out = append(out, r.buildings[id])
	}
	return out
}

// Tick advances the logical clock by one.
func (r *Room) Tick() { r.gameTime++ }

// Snapshot returns a copy of the state sent in FULL_SYNC. It never mutates the room.
func (r *Room) Snapshot() Snapshot {
	buildings := make([]protocol.Building, 0, len(r.buildingOrder))
	for _, b := range r.Buildings() {
		buildings = append(buildings, b.Wire())
	}
	return Snapshot{
		CitySize:  r.citySize,
		Buildings: buildings,
		Players:   r.PlayerInfos(),
		GameTime:  r.gameTime,
	}
}

// Summary returns the directory entry for the room.
func (r *Room) Summary() Summary {
	return Summary{
		ID:             r.id,
		CitySize:       r.citySize,
		Name:           r.name,
		CurrentPlayers: len(r.players),
		MaxPlayers:     r.maxPlayers,
		CreatedAt:      r.createdAt,
	}
}

// Record is the final state of a deleted room, kept for auditing.
type Record struct {
	Summary
	Buildings []protocol.Building
	GameTime  int64
	DeletedAt time.Time
}

// Record captures the room's final state.
func (r *Room) Record(deletedAt time.Time) Record {
	snap := r.Snapshot()
	return Record{
		Summary:   r.Summary(),
		Buildings: snap.Buildings,
		GameTime:  r.gameTime,
		DeletedAt: deletedAt,
	}
}
