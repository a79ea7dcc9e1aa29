package hub

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// sendBuffer is the per-client outbound queue depth. A client that falls
// this far behind is disconnected instead of blocking broadcasts.
const sendBuffer = 256

// Event is the typed unit of room traffic: a named event plus a JSON
// payload, matching the socket protocol's {"event":..., "data":...}
// envelope.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

func (e Event) marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Client is one connection's view of the hub: an identity plus a buffered
// outbound queue drained by the connection's write pump.
type Client struct {
	id     uuid.UUID
	userID string

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

// NewClient creates a hub client for the given identity.
func NewClient(userID string) *Client {
	return &Client{
		id:     uuid.New(),
		userID: userID,
		send:   make(chan []byte, sendBuffer),
	}
}

// ID returns the unique connection ID.
func (c *Client) ID() uuid.UUID { return c.id }

// UserID returns the identity bound to this connection.
func (c *Client) UserID() string { return c.userID }

// Send delivers an event directly to this client only.
func (c *Client) Send(ev Event) {
	payload, err := ev.marshal()
	if err != nil {
		slog.Error("Failed to marshal direct event", "event", ev.Name, "error", err)
		return
	}
	c.enqueue(payload)
}

// enqueue queues a marshaled payload without blocking. A full buffer
// means the reader is gone or stuck; the client is closed so the hub
// never stalls on it.
func (c *Client) enqueue(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- payload:
	default:
		slog.Warn("Dropping slow hub client", "conn_id", c.id, "user_id", c.userID)
		c.closed = true
		close(c.send)
	}
}

// Out returns the outbound queue. The channel is closed when the client
// is closed; the write pump should exit then.
func (c *Client) Out() <-chan []byte {
	return c.send
}

// Close closes the outbound queue. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
