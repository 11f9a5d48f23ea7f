// Package gameserver owns all live room state. Every mutation runs on the
// single goroutine started by Server.Run, one task at a time.
package gameserver

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/citybuilder/internal/config"
	"github.com/cory-johannsen/citybuilder/internal/events"
	"github.com/cory-johannsen/citybuilder/internal/game/protocol"
	"github.com/cory-johannsen/citybuilder/internal/game/room"
	"github.com/cory-johannsen/citybuilder/internal/game/session"
	"github.com/cory-johannsen/citybuilder/internal/observability"
)

// ErrStopped is returned by Server calls made after the loop has exited.
var ErrStopped = errors.New("game server stopped")

const (
	tickSweep = "inactivity-sweep"
	tickClock = "room-clock"
)

// Stats is a point-in-time count of live state.
type Stats struct {
	Rooms   int
	Clients int
}

// Server is the room/session manager.
type Server struct {
	cfg    config.RoomsConfig
	logger *zap.Logger

	clients    *session.Manager
	router     *Router
	registry   *Registry
	dispatcher *Dispatcher
	ticks      *TickManager

	tasks   chan func()
	stopped chan struct{}
	now     func() time.Time
}

// NewServer creates a Server. Call Run to start processing.
//
// Precondition: cfg must be valid; logger must be non-nil. publisher and
// archiver may be nil.
// Postcondition: Returns a Server with no rooms and no clients.
func NewServer(cfg config.RoomsConfig, logger *zap.Logger, publisher events.Publisher, archiver Archiver) *Server {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if archiver == nil {
		archiver = nopArchiver{}
	}
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		clients: session.NewManager(),
		ticks:   NewTickManager(),
		tasks:   make(chan func(), 256),
		stopped: make(chan struct{}),
		now:     time.Now,
	}
	s.router = NewRouter(s.clients, logger)
	s.registry = &Registry{
		limits: room.Limits{
			MaxPlayers:  cfg.MaxPlayers,
			MinCitySize: cfg.MinCitySize,
			MaxCitySize: cfg.MaxCitySize,
		},
		grace:         cfg.GracePeriod,
		defaultPseudo: cfg.DefaultPseudo,
		rooms:         make(map[string]*room.Room),
		clients:       s.clients,
		router:        s.router,
		events:        publisher,
		archiver:      archiver,
		after:         s.after,
		now:           func() time.Time { return s.now() },
		logger:        logger,
	}
	s.dispatcher = &Dispatcher{
		registry: s.registry,
		clients:  s.clients,
		router:   s.router,
		events:   publisher,
		logger:   logger,
	}
	return s
}

// Run processes tasks until ctx is cancelled. On exit every client outbox is
// closed so connection writers can shut down.
//
// Postcondition: Returns ctx.Err() after the loop has stopped.
func (s *Server) Run(ctx context.Context) error {
	s.ticks.Register(tickSweep, s.cfg.SweepInterval, func() { s.post(s.sweep) })
	if s.cfg.ClockTick > 0 {
		s.ticks.Register(tickClock, s.cfg.ClockTick, func() { s.post(s.registry.TickClocks) })
	}
	s.ticks.Start(ctx)

	s.logger.Info("game server loop started",
		zap.Int("max_players", s.cfg.MaxPlayers),
		zap.Duration("grace_period", s.cfg.GracePeriod),
	)
	defer func() {
		close(s.stopped)
		for _, c := range s.clients.All() {
			_ = c.Outbox.Close()
		}
		s.logger.Info("game server loop stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case task := <-s.tasks:
			task()
		}
	}
}

// do runs fn on the loop and waits for it to finish.
func (s *Server) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	task := func() {
		defer close(done)
		fn()
	}
	select {
	case s.tasks <- task:
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-s.stopped:
		return ErrStopped
	}
}

// post queues fn on the loop without waiting for it to run.
func (s *Server) post(fn func()) {
	select {
	case s.tasks <- fn:
	case <-s.stopped:
	}
}

// after posts fn to the loop once d has elapsed. There is no cancellation;
// fn must re-validate state when it runs.
func (s *Server) after(d time.Duration, fn func()) {
	time.AfterFunc(d, func() { s.post(fn) })
}

// sweep closes lobby connections that sent neither a command nor a pong
// within the inactivity timeout.
// The transport observes the closed outbox and reports the disconnect.
func (s *Server) sweep() {
	cutoff := s.now().Add(-s.cfg.InactivityTimeout)
	for _, c := range s.clients.IdleLobby(cutoff) {
		if c.Outbox.IsClosed() {
			continue
		}
		s.logger.Info("evicting idle lobby client",
			zap.String("client_id", c.ID),
			zap.Time("last_activity", c.LastActivity),
		)
		_ = c.Outbox.Close()
	}
}

// Connect registers a new connection and pushes the room directory to it.
//
// Precondition: id must be unique and non-empty; out must be open.
// Postcondition: The client is in the lobby and has been sent AVAILABLE_ROOMS.
func (s *Server) Connect(ctx context.Context, id string, out *session.Outbox) error {
	var err error
	doErr := s.do(ctx, func() {
		var c *session.Client
		c, err = s.clients.Add(id, s.cfg.DefaultPseudo, out, s.now())
		if err != nil {
			return
		}
		s.router.Send(c, s.registry.Directory())
		s.logger.Info("client connected",
			zap.String("client_id", id),
			zap.Int("clients", s.clients.Count()),
		)
	})
	if doErr != nil {
		return doErr
	}
	return err
}

// Handle dispatches one decoded command from client id. Unknown ids are ignored.
func (s *Server) Handle(ctx context.Context, id string, cmd protocol.Command) error {
	return s.do(ctx, func() {
		c, ok := s.clients.Get(id)
		if !ok {
			return
		}
		s.dispatcher.Dispatch(c, cmd)
	})
}

// Disconnect removes client id and releases its seat, if any.
func (s *Server) Disconnect(ctx context.Context, id string) error {
	return s.do(ctx, func() {
		c, ok := s.clients.Get(id)
		if !ok {
			return
		}
		roomID := c.RoomID
		if _, err := s.clients.Remove(id); err != nil {
			return
		}
		if roomID != "" {
			s.registry.LeaveRoom(roomID, id)
		}
		s.logger.Info("client disconnected",
			append(observability.ConnFields(id, roomID), zap.Int("clients", s.clients.Count()))...,
		)
	})
}

// Touch marks client id as active. The transport calls it on keepalive pongs
// so a lobby watcher with a live socket is not swept. The update is queued,
// not awaited. Unknown ids are ignored.
func (s *Server) Touch(id string) {
	s.post(func() {
		if c, ok := s.clients.Get(id); ok {
			s.dispatcher.touch(c)
		}
	})
}

// Rooms returns the directory entry of every live room in creation order.
func (s *Server) Rooms(ctx context.Context) ([]room.Summary, error) {
	var out []room.Summary
	err := s.do(ctx, func() { out = s.registry.Summaries() })
	return out, err
}

// Stats returns the current room and client counts.
func (s *Server) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.do(ctx, func() {
		st = Stats{Rooms: s.registry.RoomCount(), Clients: s.clients.Count()}
	})
	return st, err
}
