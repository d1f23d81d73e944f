package gateway

import (
	"log"
	"sync"
	"time"

	"chat-delivery/internal/domain"
)

// Conn is the transport surface the gateway needs from a websocket
// connection. The fiber websocket connection satisfies it; tests use an
// in-memory implementation.
type Conn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Close() error
}

// Client is one authenticated socket session. It caches the conversation
// list computed at connect time so incremental room joins and leaves mutate
// it without recomputation.
type Client struct {
	socketID    string
	userID      string
	conn        Conn
	connectedAt time.Time

	writeMux sync.Mutex // serialize concurrent writes to the transport

	mu              sync.Mutex
	conversationIDs []string
}

func newClient(socketID, userID string, conn Conn) *Client {
	return &Client{
		socketID:    socketID,
		userID:      userID,
		conn:        conn,
		connectedAt: time.Now(),
	}
}

func (c *Client) ID() string     { return c.socketID }
func (c *Client) UserID() string { return c.userID }

// Send writes one outbound frame, recovering from writes racing a closing
// transport.
func (c *Client) Send(event string, payload interface{}) error {
	c.writeMux.Lock()
	defer c.writeMux.Unlock()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic writing %s to socket %s: %v", event, c.socketID, r)
		}
	}()

	return c.conn.WriteJSON(domain.OutboundFrame{Event: event, Data: payload})
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// ConversationIDs returns a copy of the cached conversation list.
func (c *Client) ConversationIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.conversationIDs))
	copy(out, c.conversationIDs)
	return out
}

func (c *Client) setConversations(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversationIDs = ids
}

func (c *Client) addConversation(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.conversationIDs {
		if existing == id {
			return
		}
	}
	c.conversationIDs = append(c.conversationIDs, id)
}

func (c *Client) removeConversation(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.conversationIDs {
		if existing == id {
			c.conversationIDs = append(c.conversationIDs[:i], c.conversationIDs[i+1:]...)
			return
		}
	}
}
