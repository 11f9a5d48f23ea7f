// Package session tracks realtime connections (clients) and the buffered
// outbound queue each one is written through.
package session

import (
	"fmt"
	"sync"
)

// DefaultOutboxSize is used when NewOutbox is given a non-positive size.
const DefaultOutboxSize = 256

// Outbox routes push calls to a buffered channel drained by the connection's
// writer goroutine. Pushes never block.
type Outbox struct {
	id     string
	frames chan []byte
	mu     sync.Mutex
	closed bool
}

// NewOutbox creates an Outbox for the given connection id.
//
// Precondition: id must be non-empty.
// Postcondition: Returns an Outbox with an open frames channel.
func NewOutbox(id string, bufferSize int) *Outbox {
	if bufferSize <= 0 {
		bufferSize = DefaultOutboxSize
	}
	return &Outbox{
		id:     id,
		frames: make(chan []byte, bufferSize),
	}
}

// ID returns the owning connection id.
func (o *Outbox) ID() string {
	return o.id
}

// Push enqueues one encoded frame.
//
// Precondition: data must be a non-nil byte slice.
// Postcondition: Data is enqueued, or an error is returned if the outbox is closed or full.
func (o *Outbox) Push(data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return fmt.Errorf("outbox %s is closed", o.id)
	}
	select {
	case o.frames <- data:
		return nil
	default:
		return fmt.Errorf("outbox %s buffer full", o.id)
	}
}

// Frames returns the read-only frames channel.
// The writer goroutine reads from this channel until it is closed.
func (o *Outbox) Frames() <-chan []byte {
	return o.frames
}

// Close marks the outbox as closed and closes the frames channel. The writer
// drains what is buffered, then closes the connection.
//
// Postcondition: The frames channel is closed. Further Push calls return an error.
func (o *Outbox) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.closed {
		o.closed = true
		close(o.frames)
	}
	return nil
}

// IsClosed reports whether the outbox has been closed.
func (o *Outbox) IsClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
