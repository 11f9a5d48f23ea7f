// Package events publishes room lifecycle notifications to external observers.
package events

import (
	"time"

	"github.com/cory-johannsen/citybuilder/internal/game/protocol"
)

// Kind names a lifecycle transition.
type Kind string

const (
	RoomCreated    Kind = "room.created"
	RoomJoined     Kind = "room.joined"
	RoomLeft       Kind = "room.left"
	RoomDeleted    Kind = "room.deleted"
	BuildingPlaced Kind = "building.placed"
)

// Event is one lifecycle notification.
type Event struct {
	Kind         Kind               `json:"event"`
	RoomID       string             `json:"roomId"`
	CitySize     int                `json:"citySize,omitempty"`
	RoomName     string             `json:"roomName,omitempty"`
	PlayerID     string             `json:"playerId,omitempty"`
	PlayerPseudo string             `json:"playerPseudo,omitempty"`
	TotalPlayers int                `json:"totalPlayers"`
	Building     *protocol.Building `json:"building,omitempty"`
	At           time.Time          `json:"at"`
}

// Publisher accepts lifecycle events. Publish must not block the caller.
type Publisher interface {
	Publish(evt Event)
}

// Nop discards every event.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(Event) {}

// Recorder keeps every published event in memory. It is intended for tests
// and for in-process observers.
type Recorder struct {
	ch chan Event
}

// NewRecorder creates a Recorder buffering up to size events; extra events are dropped.
func NewRecorder(size int) *Recorder {
	return &Recorder{ch: make(chan Event, size)}
}

// Publish records evt, dropping it when the buffer is full.
func (r *Recorder) Publish(evt Event) {
	select {
	case r.ch <- evt:
	default:
	}
}

// Events returns the channel of recorded events.
func (r *Recorder) Events() <-chan Event { return r.ch }
