package testutil

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// WSClient is a small WebSocket test client speaking the JSON envelope protocol.
type WSClient struct {
	conn *websocket.Conn
	t    *testing.T
}

// WSURL converts an httptest server URL ("http://...") into a WebSocket URL.
func WSURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

// DialWS connects to the given ws:// URL and returns a test client.
//
// Precondition: url must point at a listening WebSocket endpoint.
// Postcondition: Returns a connected WSClient or fails the test.
func DialWS(t *testing.T, url string) *WSClient {
	t.Helper()
	start := time.Now()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("connecting to %s: %v [%s]", url, err, time.Since(start))
	}
	t.Cleanup(func() {
		conn.Close()
	})
	return &WSClient{conn: conn, t: t}
}

// Send encodes msg as JSON and writes it as a text frame.
func (c *WSClient) Send(msg map[string]any) {
	c.t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		c.t.Fatalf("encoding %v: %v", msg, err)
	}
	c.SendRaw(websocket.TextMessage, data)
}

// SendRaw writes a frame of the given type.
func (c *WSClient) SendRaw(messageType int, data []byte) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		c.t.Fatalf("sending %q: %v", data, err)
	}
}

// Next reads one frame and decodes it as a JSON object.
//
// Postcondition: Returns the decoded frame, or fails the test on timeout or close.
func (c *WSClient) Next(timeout time.Duration) map[string]any {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("reading frame: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		c.t.Fatalf("decoding frame %q: %v", data, err)
	}
	return msg
}

// Expect reads frames until one of type typ arrives, skipping others.
//
// Postcondition: Returns the matching frame, or fails the test on timeout.
func (c *WSClient) Expect(typ string, timeout time.Duration) map[string]any {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.t.Fatalf("timed out waiting for %s", typ)
		}
		msg := c.Next(remaining)
		if msg["type"] == typ {
			return msg
		}
	}
}

// ExpectClose reads until the server closes the connection and returns the close frame.
//
// Postcondition: Returns the *websocket.CloseError, or fails the test if none arrives in time.
func (c *WSClient) ExpectClose(timeout time.Duration) *websocket.CloseError {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		_, _, err := c.conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return ce
		}
		c.t.Fatalf("expected close frame, got %v", err)
		return nil
	}
}

// Close sends a normal close frame and closes the connection.
func (c *WSClient) Close() {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = c.conn.Close()
}
