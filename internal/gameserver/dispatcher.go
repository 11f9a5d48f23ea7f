package gameserver

import (
	"go.uber.org/zap"

	"github.com/cory-johannsen/citybuilder/internal/events"
	"github.com/cory-johannsen/citybuilder/internal/game/protocol"
	"github.com/cory-johannsen/citybuilder/internal/game/room"
	"github.com/cory-johannsen/citybuilder/internal/game/session"
)

// Dispatcher routes decoded commands to the Registry and Router.
// It is not safe for concurrent use; the Server loop serializes all calls.
type Dispatcher struct {
	registry *Registry
	clients  *session.Manager
	router   *Router
	events   events.Publisher
	logger   *zap.Logger
}

// touch stamps c, and its seat if it has one, with the current time.
func (d *Dispatcher) touch(c *session.Client) {
	now := d.registry.now()
	c.LastActivity = now
	if r, ok := d.registry.Room(c.RoomID); ok {
		r.Touch(c.ID, now)
	}
}

// Dispatch applies the shared bookkeeping to cmd and invokes its handler.
//
// Precondition: c is a registered client; cmd is non-nil.
// Postcondition: Every failure is reported to c as an ERROR event; the
// connection is never closed.
func (d *Dispatcher) Dispatch(c *session.Client, cmd protocol.Command) {
	d.touch(c)
	d.applyPseudo(c, cmd.Pseudo())

	var err error
	switch cmd := cmd.(type) {
	case protocol.CreateRoom:
		_, err = d.registry.CreateRoom(c, cmd.CitySize, cmd.RoomName)
	case protocol.JoinRoom:
		_, err = d.registry.JoinRoom(c, cmd.RoomID)
	case protocol.Build:
		err = d.handleBuild(c, cmd)
	case protocol.SyncRequest:
		err = d.handleSync(c)
	case protocol.PlayerPseudo:
		// handled by applyPseudo
	case protocol.Ping:
		d.router.Send(c, protocol.NewPong())
	case protocol.Unknown:
		err = room.Errorf(protocol.CodeUnknownMessageType, "unknown message type %q", cmd.Name)
	default:
		err = room.Errorf(protocol.CodeUnknownMessageType, "unknown message type %q", cmd.Type())
	}

	if err != nil {
		if code, ok := room.CodeOf(err); ok {
			d.logger.Debug("command rejected",
				zap.String("client_id", c.ID),
				zap.String("type", cmd.Type()),
				zap.String("code", string(code)),
			)
		}
		d.router.SendError(c, err)
	}
}

// applyPseudo updates the display name when the envelope carries a new one.
// Seated clients notify their room. A lobby rename is announced to every other
// connection, but the lobby roster only goes to the lobby so seated clients
// keep their room roster.
func (d *Dispatcher) applyPseudo(c *session.Client, pseudo string) {
	if pseudo == "" || pseudo == c.Pseudo {
		return
	}
	c.Pseudo = pseudo
	updated := protocol.PlayerPseudoUpdated{
		Type:         protocol.TypePlayerPseudoUpdated,
		PlayerID:     c.ID,
		PlayerPseudo: pseudo,
	}

	if r, ok := d.registry.Room(c.RoomID); ok {
		r.Rename(c.ID, pseudo)
		d.router.RoomExclusive(r, c.ID, updated)
		d.router.RoomInclusive(r, protocol.NewPlayersListUpdate(r.PlayerInfos()))
		return
	}

	d.router.AllExcept(c.ID, updated)
	d.router.Lobby(protocol.NewPlayersListUpdate(d.lobbyRoster()))
}

func (d *Dispatcher) lobbyRoster() []protocol.PlayerInfo {
	lobby := d.clients.Lobby()
	out := make([]protocol.PlayerInfo, 0, len(lobby))
	for _, c := range lobby {
		out = append(out, protocol.PlayerInfo{ID: c.ID, Pseudo: c.Pseudo, ConnectedAt: c.ConnectedAt.UnixMilli()})
	}
	return out
}

func (d *Dispatcher) handleBuild(c *session.Client, cmd protocol.Build) error {
	r, b, err := d.registry.PlaceBuilding(c, cmd)
	if err != nil {
		return err
	}
	wire := b.Wire()
	d.router.Send(c, protocol.BuildConfirmed{
		Type:       protocol.TypeBuildConfirmed,
		BuildingID: b.ID,
		Building:   wire,
	})
	d.router.RoomExclusive(r, c.ID, protocol.BuildBroadcast{
		Type:     protocol.TypeBuildBroadcast,
		Building: wire,
	})
	d.events.Publish(events.Event{
		Kind:         events.BuildingPlaced,
		RoomID:       r.ID(),
		PlayerID:     c.ID,
		PlayerPseudo: b.PlayerPseudo,
		TotalPlayers: r.PlayerCount(),
		Building:     &wire,
		At:           b.PlacedAt,
	})
	d.logger.Debug("building placed",
		zap.String("room_id", r.ID()),
		zap.String("building_id", b.ID),
		zap.String("building_type", b.Type),
		zap.Int("x", b.Pos.X),
		zap.Int("y", b.Pos.Y),
	)
	return nil
}

func (d *Dispatcher) handleSync(c *session.Client) error {
	snap, err := d.registry.Sync(c)
	if err != nil {
		return err
	}
	d.router.Send(c, snap.Event())
	return nil
}
