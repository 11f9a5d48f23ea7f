package gameserver

import (
	"errors"

	"go.uber.org/zap"

	"github.com/cory-johannsen/citybuilder/internal/game/protocol"
	"github.com/cory-johannsen/citybuilder/internal/game/room"
	"github.com/cory-johannsen/citybuilder/internal/game/session"
)

// Router computes recipient sets for outbound events and fans them out.
// Every event is encoded once per fan-out. Closed or full outboxes are
// skipped; nothing is queued or retried.
type Router struct {
	clients *session.Manager
	logger  *zap.Logger
}

// NewRouter creates a Router over the given client set.
//
// Precondition: clients and logger must be non-nil.
func NewRouter(clients *session.Manager, logger *zap.Logger) *Router {
	return &Router{clients: clients, logger: logger}
}

func (r *Router) encode(evt any) []byte {
	data, err := protocol.Marshal(evt)
	if err != nil {
		r.logger.Error("marshaling outbound event", zap.Error(err))
		return nil
	}
	return data
}

func (r *Router) push(to room.Sender, id string, data []byte) {
	if to == nil || to.IsClosed() {
		return
	}
	if err := to.Push(data); err != nil {
		r.logger.Warn("push to outbox failed",
			zap.String("client_id", id),
			zap.Error(err),
		)
	}
}

// Send delivers evt to a single client.
func (r *Router) Send(c *session.Client, evt any) {
	if data := r.encode(evt); data != nil {
		r.push(c.Outbox, c.ID, data)
	}
}

// SendError reports err to c as an ERROR event. Errors without a wire code
// are logged and not sent.
func (r *Router) SendError(c *session.Client, err error) {
	var re *room.Error
	if !errors.As(err, &re) {
		r.logger.Error("unexpected command failure", zap.String("client_id", c.ID), zap.Error(err))
		return
	}
	r.Send(c, protocol.NewError(re.Code, re.Message))
}

// RoomExclusive delivers evt to every player seated in rm except exceptID.
func (r *Router) RoomExclusive(rm *room.Room, exceptID string, evt any) {
	data := r.encode(evt)
	if data == nil {
		return
	}
	for _, p := range rm.Players() {
		if p.ID == exceptID {
			continue
		}
		r.push(p.Handle, p.ID, data)
	}
}

// RoomInclusive delivers evt to every player seated in rm.
func (r *Router) RoomInclusive(rm *room.Room, evt any) {
	r.RoomExclusive(rm, "", evt)
}

// Lobby delivers evt to every client not seated in a room.
func (r *Router) Lobby(evt any) {
	data := r.encode(evt)
	if data == nil {
		return
	}
	for _, c := range r.clients.Lobby() {
		r.push(c.Outbox, c.ID, data)
	}
}

// AllExcept delivers evt to every client except exceptID.
func (r *Router) AllExcept(exceptID string, evt any) {
	data := r.encode(evt)
	if data == nil {
		return
	}
	for _, c := range r.clients.All() {
		if c.ID == exceptID {
			continue
		}
		r.push(c.Outbox, c.ID, data)
	}
}
