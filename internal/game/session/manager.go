package session

import (
	"fmt"
	"sync"
	"time"
)

// Client is the per-connection record created when a connection is accepted.
type Client struct {
	// ID is the opaque player identity, stable for the lifetime of the connection.
	ID string
	// Pseudo is the current display name.
	Pseudo string
	// RoomID is the room the client is seated in, or "" while in the lobby.
	RoomID string
	// ConnectedAt is when the connection was accepted.
	ConnectedAt time.Time
	// LastActivity is updated on every inbound command.
	LastActivity time.Time
	// Outbox is the outbound queue for the connection.
	Outbox *Outbox
}

// InLobby reports whether the client is not seated in any room.
func (c *Client) InLobby() bool { return c.RoomID == "" }

// Manager tracks all live clients and their room binding.
// All methods are safe for concurrent use.
type Manager struct {
	mu      sync.RWMutex
	clients map[string]*Client  // id → client
	order   []string            // accept order
	rooms   map[string][]string // roomID → bound client ids
}

// NewManager creates an empty client Manager.
func NewManager() *Manager {
	return &Manager{
		clients: make(map[string]*Client),
		rooms:   make(map[string][]string),
	}
}

// Add registers a new lobby client.
//
// Precondition: id and pseudo must be non-empty; outbox must be non-nil.
// Postcondition: Returns the created Client, or an error if the id is already registered.
func (m *Manager) Add(id, pseudo string, outbox *Outbox, now time.Time) (*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.clients[id]; exists {
		return nil, fmt.Errorf("client %q already connected", id)
	}
	c := &Client{
		ID:           id,
		Pseudo:       pseudo,
		ConnectedAt:  now,
		LastActivity: now,
		Outbox:       outbox,
	}
	m.clients[id] = c
	m.order = append(m.order, id)
	return c, nil
}

// Remove drops a client and its room binding. The outbox is closed.
//
// Precondition: id must be non-empty.
// Postcondition: Returns the removed client, or an error if not found.
func (m *Manager) Remove(id string) (*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, exists := m.clients[id]
	if !exists {
		return nil, fmt.Errorf("client %q not found", id)
	}
	if c.RoomID != "" {
		m.unbindLocked(c)
	}
	for i, cid := range m.order {
		if cid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	_ = c.Outbox.Close()
	delete(m.clients, id)
	return c, nil
}

// Bind seats a lobby client in roomID.
//
// Precondition: id and roomID must be non-empty.
// Postcondition: The client is bound to roomID, or an error is returned if it
// is unknown or already bound.
func (m *Manager) Bind(id, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, exists := m.clients[id]
	if !exists {
		return fmt.Errorf("client %q not found", id)
	}
	if c.RoomID != "" {
		return fmt.Errorf("client %q already bound to %q", id, c.RoomID)
	}
	c.RoomID = roomID
	m.rooms[roomID] = append(m.rooms[roomID], id)
	return nil
}

func (m *Manager) unbindLocked(c *Client) {
	ids := m.rooms[c.RoomID]
	for i, cid := range ids {
		if cid == c.ID {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(m.rooms, c.RoomID)
	} else {
		m.rooms[c.RoomID] = ids
	}
	c.RoomID = ""
}

// Get returns the client with the given id.
func (m *Manager) Get(id string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[id]
	return c, ok
}

// InRoom returns the clients bound to roomID in bind order.
func (m *Manager) InRoom(roomID string) []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.rooms[roomID]
	out := make([]*Client, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.clients[id])
	}
	return out
}

// Lobby returns every client not bound to a room, in accept order.
func (m *Manager) Lobby() []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Client, 0, len(m.order))
	for _, id := range m.order {
		if c := m.clients[id]; c.RoomID == "" {
			out = append(out, c)
		}
	}
	return out
}

// All returns every client in accept order.
func (m *Manager) All() []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Client, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.clients[id])
	}
	return out
}

// IdleLobby returns lobby clients whose last activity is before cutoff.
func (m *Manager) IdleLobby(cutoff time.Time) []*Client {
	var out []*Client
	for _, c := range m.Lobby() {
		if c.LastActivity.Before(cutoff) {
			out = append(out, c)
		}
	}
	return out
}

// Count returns the number of live clients.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}
