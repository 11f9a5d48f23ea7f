// Package gateway accepts realtime WebSocket connections and bridges them to
// the game server: inbound frames are decoded once here, outbound frames are
// drained from each connection's outbox.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/citybuilder/internal/config"
	"github.com/cory-johannsen/citybuilder/internal/game/protocol"
	"github.com/cory-johannsen/citybuilder/internal/game/session"
)

// CloseReasonCapacity is sent with close code 1008 when the connection ceiling is reached.
const CloseReasonCapacity = "Server at capacity"

// Backend is the room/session manager connections are forwarded to.
type Backend interface {
	Connect(ctx context.Context, id string, out *session.Outbox) error
	Handle(ctx context.Context, id string, cmd protocol.Command) error
	Disconnect(ctx context.Context, id string) error
	// Touch records keepalive activity for id without waiting for it to apply.
	Touch(id string)
}

// Acceptor serves WebSocket upgrades and runs one reader and one writer
// goroutine per connection.
type Acceptor struct {
	cfg      config.ServerConfig
	backend  Backend
	logger   *zap.Logger
	upgrader websocket.Upgrader
	newID    func() string

	live atomic.Int64

	server   *http.Server
	listener net.Listener
	wg       sync.WaitGroup
	quit     chan struct{}
	mu       sync.Mutex
	running  bool
	conns    map[*websocket.Conn]struct{}
}

// NewAcceptor creates a WebSocket acceptor.
//
// Precondition: cfg must be valid; backend and logger must be non-nil.
// Postcondition: Returns an Acceptor ready to be started with ListenAndServe
// or mounted through Handler.
func NewAcceptor(cfg config.ServerConfig, backend Backend, logger *zap.Logger) *Acceptor {
	return &Acceptor{
		cfg:     cfg,
		backend: backend,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		newID: uuid.NewString,
		quit:  make(chan struct{}),
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// Handler returns the HTTP handler performing the WebSocket upgrade.
func (a *Acceptor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", a.serveWS)
	return mux
}

// ListenAndServe listens on the configured address until Stop is called.
//
// Precondition: The acceptor must not already be running.
// Postcondition: The listener is closed when this method returns.
func (a *Acceptor) ListenAndServe() error {
	start := time.Now()

	listener, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.cfg.Addr(), err)
	}

	a.mu.Lock()
	a.listener = listener
	a.server = &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: a.cfg.WriteTimeout,
	}
	a.running = true
	srv := a.server
	a.mu.Unlock()

	a.logger.Info("websocket acceptor listening",
		zap.String("addr", listener.Addr().String()),
		zap.Int("max_connections", a.cfg.MaxConnections),
		zap.Duration("startup", time.Since(start)),
	)

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving websocket: %w", err)
	}
	return nil
}

func (a *Acceptor) serveWS(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusUpgradeRequired)
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	if n := a.live.Add(1); n > int64(a.cfg.MaxConnections) {
		a.live.Add(-1)
		a.logger.Warn("connection rejected, server at capacity",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Int("max_connections", a.cfg.MaxConnections),
		)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, CloseReasonCapacity),
			time.Now().Add(a.cfg.WriteTimeout))
		_ = conn.Close()
		return
	}

	if !a.track(conn) {
		a.live.Add(-1)
		_ = conn.Close()
		return
	}
	a.wg.Add(1)
	go a.handleConn(conn, r.RemoteAddr)
}

// track registers conn for shutdown. Returns false once Stop has begun.
func (a *Acceptor) track(conn *websocket.Conn) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	select {
	case <-a.quit:
		return false
	default:
	}
	a.conns[conn] = struct{}{}
	return true
}

func (a *Acceptor) untrack(conn *websocket.Conn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.conns, conn)
}

// handleConn runs one connection from registration to disconnect.
func (a *Acceptor) handleConn(conn *websocket.Conn, remoteAddr string) {
	defer a.wg.Done()
	defer a.live.Add(-1)
	defer a.untrack(conn)
	start := time.Now()

	id := a.newID()
	out := session.NewOutbox(id, a.cfg.SendBuffer)
	logger := a.logger.With(zap.String("client_id", id), zap.String("remote_addr", remoteAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.backend.Connect(ctx, id, out); err != nil {
		logger.Error("registering connection", zap.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "unavailable"),
			time.Now().Add(a.cfg.WriteTimeout))
		_ = conn.Close()
		return
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		a.writePump(conn, out, logger)
	}()

	a.readPump(ctx, conn, id, out, logger)

	if err := a.backend.Disconnect(context.Background(), id); err != nil {
		logger.Debug("disconnect not delivered", zap.Error(err))
	}
	_ = out.Close()
	_ = conn.Close()
	<-writerDone

	logger.Debug("connection closed", zap.Duration("duration", time.Since(start)))
}

// readPump decodes inbound frames until the connection fails or the backend stops.
func (a *Acceptor) readPump(ctx context.Context, conn *websocket.Conn, id string, out *session.Outbox, logger *zap.Logger) {
	extend := func() {
		if err := conn.SetReadDeadline(time.Now().Add(a.cfg.ReadTimeout)); err != nil {
			logger.Debug("setting read deadline", zap.Error(err))
		}
	}
	conn.SetReadLimit(a.cfg.MaxMessageBytes)
	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		a.backend.Touch(id)
		return nil
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		extend()

		if messageType != websocket.TextMessage {
			a.reject(out, logger)
			continue
		}
		cmd, err := protocol.Decode(data)
		if err != nil {
			a.reject(out, logger)
			continue
		}
		if err := a.backend.Handle(ctx, id, cmd); err != nil {
			logger.Warn("backend unavailable", zap.Error(err))
			return
		}
	}
}

// reject reports an undecodable frame to the sender only.
func (a *Acceptor) reject(out *session.Outbox, logger *zap.Logger) {
	data, err := protocol.Marshal(protocol.NewError(protocol.CodeInvalidMessage, "message is not a valid JSON envelope"))
	if err != nil {
		logger.Error("marshaling error event", zap.Error(err))
		return
	}
	if err := out.Push(data); err != nil {
		logger.Warn("push to outbox failed", zap.Error(err))
	}
}

// writePump drains the outbox to the socket and keeps the connection alive
// with pings. A closed outbox ends the connection with a normal close frame.
func (a *Acceptor) writePump(conn *websocket.Conn, out *session.Outbox, logger *zap.Logger) {
	ticker := time.NewTicker(a.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case frame, ok := <-out.Frames():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(a.cfg.WriteTimeout)); err != nil {
				logger.Debug("setting write deadline", zap.Error(err))
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(a.cfg.WriteTimeout)); err != nil {
				logger.Debug("websocket ping failed", zap.Error(err))
				return
			}
		}
	}
}

// Stop closes the listener and every open connection, then waits for all
// connection goroutines to exit.
//
// Postcondition: All connections are closed and goroutines have exited.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	select {
	case <-a.quit:
		a.mu.Unlock()
		return
	default:
	}
	close(a.quit)
	a.running = false
	srv := a.server
	conns := make([]*websocket.Conn, 0, len(a.conns))
	for c := range a.conns {
		conns = append(conns, c)
	}
	a.mu.Unlock()

	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.WriteTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			a.logger.Warn("http shutdown", zap.Error(err))
		}
	}
	for _, c := range conns {
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = c.Close()
	}
	a.wg.Wait()

	a.logger.Info("websocket acceptor stopped")
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (a *Acceptor) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the acceptor is currently accepting connections.
func (a *Acceptor) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Live returns the number of open connections.
func (a *Acceptor) Live() int {
	return int(a.live.Load())
}
