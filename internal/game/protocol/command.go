// Package protocol defines the JSON wire format exchanged with realtime clients:
// inbound commands, outbound events, and error codes.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strings"
)

// Inbound command type discriminators.
const (
	TypeCreateRoom   = "CREATE_ROOM"
	TypeJoinRoom     = "JOIN_ROOM"
	TypeBuild        = "BUILD"
	TypeSyncRequest  = "SYNC_REQUEST"
	TypePlayerPseudo = "PLAYER_PSEUDO"
	TypePing         = "PING"
)

// ErrInvalidMessage is returned by Decode when the frame is not a JSON object.
var ErrInvalidMessage = errors.New("invalid message")

// Command is a decoded inbound envelope. The set of implementations is closed:
// CreateRoom, JoinRoom, Build, SyncRequest, PlayerPseudo, Ping and Unknown.
type Command interface {
	// Type returns the wire discriminator.
	Type() string
	// Pseudo returns the trimmed playerPseudo carried by the envelope, or "".
	Pseudo() string
	sealed()
}

// Envelope holds the fields every command may carry.
type Envelope struct {
	PlayerPseudo string
}

// Pseudo returns the trimmed display name carried by the envelope.
func (e Envelope) Pseudo() string { return e.PlayerPseudo }

func (Envelope) sealed() {}

// Number is a JSON numeric field that may be absent or of the wrong JSON type.
type Number struct {
	Value float64
	Valid bool
}

// Whole reports whether the value is present and integral, whatever its magnitude.
func (n Number) Whole() bool {
	return n.Valid && n.Value == math.Trunc(n.Value)
}

// Int returns the value as an int when it is present, integral and within int32.
func (n Number) Int() (int, bool) {
	if !n.Whole() {
		return 0, false
	}
	if n.Value > math.MaxInt32 || n.Value < math.MinInt32 {
		return 0, false
	}
	return int(n.Value), true
}

// UnmarshalJSON accepts any JSON value. Non-numbers leave n invalid rather than failing.
func (n *Number) UnmarshalJSON(data []byte) error {
	*n = numberField(data)
	return nil
}

// CreateRoom asks the server to open a new room and seat the sender.
type CreateRoom struct {
	Envelope
	CitySize Number
	RoomName string
}

// JoinRoom asks the server to seat the sender in an existing room.
type JoinRoom struct {
	Envelope
	RoomID string
}

// Build places a building in the sender's room.
type Build struct {
	Envelope
	BuildingType string
	X, Y         Number
}

// SyncRequest asks for a full snapshot of the sender's room.
type SyncRequest struct{ Envelope }

// PlayerPseudo carries only a display name change.
type PlayerPseudo struct{ Envelope }

// Ping asks for a PONG.
type Ping struct{ Envelope }

// Unknown is any well-formed envelope whose type is not recognised.
type Unknown struct {
	Envelope
	Name string
}

func (CreateRoom) Type() string   { return TypeCreateRoom }
func (JoinRoom) Type() string     { return TypeJoinRoom }
func (Build) Type() string        { return TypeBuild }
func (SyncRequest) Type() string  { return TypeSyncRequest }
func (PlayerPseudo) Type() string { return TypePlayerPseudo }
func (Ping) Type() string         { return TypePing }
func (u Unknown) Type() string    { return u.Name }

type rawEnvelope struct {
	Type         json.RawMessage `json:"type"`
	PlayerPseudo json.RawMessage `json:"playerPseudo"`
	CitySize     json.RawMessage `json:"citySize"`
	RoomName     json.RawMessage `json:"roomName"`
	RoomID       json.RawMessage `json:"roomId"`
	BuildingType json.RawMessage `json:"buildingType"`
	X            json.RawMessage `json:"x"`
	Y            json.RawMessage `json:"y"`
}

// Decode parses one inbound frame.
//
// Precondition: data is the payload of a single text frame.
// Postcondition: Returns a non-nil Command, or ErrInvalidMessage when data is
// not a JSON object. Fields of the wrong JSON type are treated as absent.
func Decode(data []byte) (Command, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrInvalidMessage
	}
	var raw rawEnvelope
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, ErrInvalidMessage
	}

	env := Envelope{PlayerPseudo: strings.TrimSpace(stringField(raw.PlayerPseudo))}
	name := stringField(raw.Type)

	switch name {
	case TypeCreateRoom:
		return CreateRoom{
			Envelope: env,
			CitySize: numberField(raw.CitySize),
			RoomName: strings.TrimSpace(stringField(raw.RoomName)),
		}, nil
	case TypeJoinRoom:
		return JoinRoom{Envelope: env, RoomID: stringField(raw.RoomID)}, nil
	case TypeBuild:
		return Build{
			Envelope:     env,
			BuildingType: stringField(raw.BuildingType),
			X:            numberField(raw.X),
			Y:            numberField(raw.Y),
		}, nil
	case TypeSyncRequest:
		return SyncRequest{Envelope: env}, nil
	case TypePlayerPseudo:
		return PlayerPseudo{Envelope: env}, nil
	case TypePing:
		return Ping{Envelope: env}, nil
	default:
		return Unknown{Envelope: env, Name: name}, nil
	}
}

func stringField(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func numberField(raw json.RawMessage) Number {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Number{}
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return Number{}
	}
	return Number{Value: f, Valid: true}
}
