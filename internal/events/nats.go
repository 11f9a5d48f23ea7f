package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/cory-johannsen/citybuilder/internal/config"
)

// NATSPublisher publishes events as JSON on core NATS subjects of the form
// <prefix>.rooms.<roomId>.<kind>.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
}

// Connect dials the configured NATS server.
//
// Precondition: cfg.URL and cfg.SubjectPrefix must be non-empty; logger must be non-nil.
// Postcondition: Returns a connected publisher or a non-nil error.
func Connect(cfg config.EventsConfig, logger *zap.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(
		cfg.URL,
		nats.Name("citybuilder-rooms"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", cfg.URL, err)
	}
	return &NATSPublisher{conn: conn, prefix: cfg.SubjectPrefix, logger: logger}, nil
}

// Subject returns the subject evt is published on.
func (p *NATSPublisher) Subject(evt Event) string {
	return Subject(p.prefix, evt)
}

// Subject returns <prefix>.rooms.<roomId>.<kind>.
func Subject(prefix string, evt Event) string {
	return fmt.Sprintf("%s.rooms.%s.%s", prefix, evt.RoomID, evt.Kind)
}

// Publish encodes evt and hands it to the NATS client's outbound buffer.
// Failures are logged and otherwise ignored.
func (p *NATSPublisher) Publish(evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		p.logger.Error("encoding lifecycle event", zap.String("event", string(evt.Kind)), zap.Error(err))
		return
	}
	if err := p.conn.Publish(p.Subject(evt), data); err != nil {
		p.logger.Warn("publishing lifecycle event",
			zap.String("event", string(evt.Kind)),
			zap.String("room_id", evt.RoomID),
			zap.Error(err),
		)
	}
}

// Close flushes pending events and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("draining nats connection", zap.Error(err))
		p.conn.Close()
	}
}
