package protocol

import "encoding/json"

// Outbound event type discriminators.
const (
	TypeAvailableRooms      = "AVAILABLE_ROOMS"
	TypeRoomCreated         = "ROOM_CREATED"
	TypeRoomJoined          = "ROOM_JOINED"
	TypePlayerJoined        = "PLAYER_JOINED"
	TypePlayerLeft          = "PLAYER_LEFT"
	TypePlayerPseudoUpdated = "PLAYER_PSEUDO_UPDATED"
	TypePlayersListUpdate   = "PLAYERS_LIST_UPDATE"
	TypeBuildConfirmed      = "BUILD_CONFIRMED"
	TypeBuildBroadcast      = "BUILD_BROADCAST"
	TypeFullSync            = "FULL_SYNC"
	TypeError               = "ERROR"
	TypePong                = "PONG"
)

// RoomSummary is one entry of the room directory.
// RoomName is nil when the room was created without a name.
type RoomSummary struct {
	ID             string  `json:"id"`
	CitySize       int     `json:"citySize"`
	RoomName       *string `json:"roomName"`
	CurrentPlayers int     `json:"currentPlayers"`
	MaxPlayers     int     `json:"maxPlayers"`
}

// PlayerInfo is the public view of a player.
type PlayerInfo struct {
	ID          string `json:"id"`
	Pseudo      string `json:"pseudo"`
	ConnectedAt int64  `json:"connectedAt"`
}

// Building is the wire view of a placed building. Timestamp is Unix milliseconds.
type Building struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	X            int    `json:"x"`
	Y            int    `json:"y"`
	PlayerID     string `json:"playerId"`
	PlayerPseudo string `json:"playerPseudo"`
	Timestamp    int64  `json:"timestamp"`
}

// AvailableRooms pushes the room directory.
type AvailableRooms struct {
	Type  string        `json:"type"`
	Rooms []RoomSummary `json:"rooms"`
}

// RoomEntered confirms CREATE_ROOM (ROOM_CREATED) or JOIN_ROOM (ROOM_JOINED).
type RoomEntered struct {
	Type     string `json:"type"`
	RoomID   string `json:"roomId"`
	CitySize int    `json:"citySize"`
	PlayerID string `json:"playerId"`
}

// PlayerJoined notifies existing members of a new seat.
type PlayerJoined struct {
	Type         string `json:"type"`
	PlayerID     string `json:"playerId"`
	PlayerPseudo string `json:"playerPseudo"`
	TotalPlayers int    `json:"totalPlayers"`
	MaxPlayers   int    `json:"maxPlayers"`
}

// PlayerLeft notifies remaining members of a departure.
type PlayerLeft struct {
	Type         string `json:"type"`
	PlayerID     string `json:"playerId"`
	PlayerPseudo string `json:"playerPseudo"`
	TotalPlayers int    `json:"totalPlayers"`
}

// PlayerPseudoUpdated announces a display name change.
type PlayerPseudoUpdated struct {
	Type         string `json:"type"`
	PlayerID     string `json:"playerId"`
	PlayerPseudo string `json:"playerPseudo"`
}

// PlayersListUpdate carries a full roster.
type PlayersListUpdate struct {
	Type    string       `json:"type"`
	Players []PlayerInfo `json:"players"`
}

// BuildConfirmed acknowledges a placement to its author.
type BuildConfirmed struct {
	Type       string   `json:"type"`
	BuildingID string   `json:"buildingId"`
	Building   Building `json:"building"`
}

// BuildBroadcast relays a placement to the other members.
type BuildBroadcast struct {
	Type     string   `json:"type"`
	Building Building `json:"building"`
}

// FullSync is a complete room snapshot.
type FullSync struct {
	Type      string       `json:"type"`
	CitySize  int          `json:"citySize"`
	Buildings []Building   `json:"buildings"`
	Players   []PlayerInfo `json:"players"`
	GameTime  int64        `json:"gameTime"`
}

// ErrorEvent reports a rejected command to its sender.
type ErrorEvent struct {
	Type    string `json:"type"`
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// Pong answers PING.
type Pong struct {
	Type string `json:"type"`
}

// NewAvailableRooms builds an AVAILABLE_ROOMS event. A nil slice is sent as [].
func NewAvailableRooms(rooms []RoomSummary) AvailableRooms {
	if rooms == nil {
		rooms = []RoomSummary{}
	}
	return AvailableRooms{Type: TypeAvailableRooms, Rooms: rooms}
}

// NewRoomCreated builds a ROOM_CREATED event.
func NewRoomCreated(roomID string, citySize int, playerID string) RoomEntered {
	return RoomEntered{Type: TypeRoomCreated, RoomID: roomID, CitySize: citySize, PlayerID: playerID}
}

// NewRoomJoined builds a ROOM_JOINED event.
func NewRoomJoined(roomID string, citySize int, playerID string) RoomEntered {
	return RoomEntered{Type: TypeRoomJoined, RoomID: roomID, CitySize: citySize, PlayerID: playerID}
}

// NewPlayersListUpdate builds a PLAYERS_LIST_UPDATE event. A nil slice is sent as [].
func NewPlayersListUpdate(players []PlayerInfo) PlayersListUpdate {
	if players == nil {
		players = []PlayerInfo{}
	}
	return PlayersListUpdate{Type: TypePlayersListUpdate, Players: players}
}

// NewFullSync builds a FULL_SYNC event with non-nil slices.
func NewFullSync(citySize int, buildings []Building, players []PlayerInfo, gameTime int64) FullSync {
	if buildings == nil {
		buildings = []Building{}
	}
	if players == nil {
		players = []PlayerInfo{}
	}
	return FullSync{Type: TypeFullSync, CitySize: citySize, Buildings: buildings, Players: players, GameTime: gameTime}
}

// NewError builds an ERROR event.
func NewError(code Code, message string) ErrorEvent {
	return ErrorEvent{Type: TypeError, Code: code, Message: message}
}

// NewPong builds a PONG event.
func NewPong() Pong { return Pong{Type: TypePong} }

// Marshal encodes an outbound event.
//
// Postcondition: Returns the JSON encoding of evt or a non-nil error.
func Marshal(evt any) ([]byte, error) {
	return json.Marshal(evt)
}
