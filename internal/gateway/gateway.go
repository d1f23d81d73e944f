// Package gateway runs the per-connection protocol state machine:
// Connecting -> Authenticating -> Authenticated -> Disconnected. Every
// inbound event is authorized against current conversation membership; every
// disconnect reconciles registry and presence state.
package gateway

import (
	"context"
	"log"
	"sync"
	"time"

	"chat-delivery/internal/chat"
	"chat-delivery/internal/domain"
	"chat-delivery/internal/metrics"
	"chat-delivery/internal/presence"
	"chat-delivery/internal/registry"
	"chat-delivery/internal/rooms"
	"chat-delivery/internal/store"

	"github.com/google/uuid"
)

type Gateway struct {
	jwtSecret     string
	registry      *registry.Registry
	presence      *presence.Engine
	router        *rooms.Router
	chat          *chat.Service
	conversations store.ConversationStore
	webhooks      chat.WebhookEmitter

	mu           sync.RWMutex
	clients      map[string]*Client // socketID -> local session
	shuttingDown bool
}

func NewGateway(
	jwtSecret string,
	reg *registry.Registry,
	pres *presence.Engine,
	router *rooms.Router,
	chatService *chat.Service,
	conversations store.ConversationStore,
	webhooks chat.WebhookEmitter,
) *Gateway {
	return &Gateway{
		jwtSecret:     jwtSecret,
		registry:      reg,
		presence:      pres,
		router:        router,
		chat:          chatService,
		conversations: conversations,
		webhooks:      webhooks,
		clients:       make(map[string]*Client),
	}
}

// HandleConnection owns one transport connection from authentication until
// disconnect. It blocks until the connection closes.
func (g *Gateway) HandleConnection(ctx context.Context, conn Conn, token string) {
	userID, err := g.authenticate(token)
	if err != nil {
		// Fail closed: the socket is never registered.
		_ = conn.WriteJSON(domain.OutboundFrame{
			Event: domain.EventError,
			Data:  domain.NewErrorPayload(domain.CodeUnauthorized, "Invalid authentication token", ""),
		})
		_ = conn.Close()
		return
	}

	client := newClient(uuid.New().String(), userID, conn)
	g.connect(ctx, client)
	defer g.disconnect(ctx, client)

	for {
		var frame domain.InboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		g.dispatch(ctx, client, frame)
	}
}

func (g *Gateway) connect(ctx context.Context, client *Client) {
	g.registry.Register(ctx, client.ID(), client.UserID())

	conversationIDs, err := g.conversations.FindAllConversationIDsForUser(ctx, client.UserID())
	if err != nil {
		// Degraded: the socket stays connected with only its personal room.
		log.Printf("gateway: failed to load conversations for user %s: %v", client.UserID(), err)
		conversationIDs = nil
	}
	client.setConversations(conversationIDs)
	for _, conversationID := range conversationIDs {
		g.router.Join(rooms.ConversationRoom(conversationID), client)
	}
	g.router.Join(rooms.UserRoom(client.UserID()), client)

	g.mu.Lock()
	g.clients[client.ID()] = client
	g.mu.Unlock()
	metrics.ActiveConnections.Inc()

	// Zero-to-one transition flips presence; further devices only register.
	count, err := g.registry.ConnectionCount(ctx, client.UserID())
	if err == nil && count <= 1 {
		g.presence.SetOnline(ctx, client.UserID())
		g.webhooks.Emit(domain.WebhookUserOnline, map[string]interface{}{
			"userId": client.UserID(),
		})
	} else {
		g.presence.TouchActivity(ctx, client.UserID())
	}

	_ = client.Send(domain.EventConnected, map[string]interface{}{
		"userId":    client.UserID(),
		"socketId":  client.ID(),
		"rooms":     len(conversationIDs) + 1,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})

	for _, conversationID := range conversationIDs {
		g.router.Broadcast(ctx, rooms.ConversationRoom(conversationID), domain.EventUserOnline, map[string]interface{}{
			"userId":         client.UserID(),
			"conversationId": conversationID,
			"timestamp":      time.Now().UTC().Format(time.RFC3339),
		})
	}

	log.Printf("WS connected user=%s socket=%s", client.UserID(), client.ID())
}

func (g *Gateway) disconnect(ctx context.Context, client *Client) {
	g.mu.Lock()
	delete(g.clients, client.ID())
	shuttingDown := g.shuttingDown
	g.mu.Unlock()
	metrics.ActiveConnections.Dec()

	g.router.LeaveAll(client)
	g.registry.Remove(ctx, client.ID(), client.UserID())

	if shuttingDown {
		return
	}

	// Reconcile on every disconnect, not just the last: another device may
	// still hold a connection.
	stillOnline, err := g.registry.IsOnline(ctx, client.UserID())
	if err != nil {
		log.Printf("gateway: failed to check online state for user %s: %v", client.UserID(), err)
		return
	}
	if !stillOnline {
		g.broadcastUserOffline(ctx, client)
	}

	log.Printf("WS disconnected user=%s socket=%s", client.UserID(), client.ID())
}

// broadcastUserOffline flips presence, clears the user's activity indicators
// and tells every subscribed room. Clearing plus the explicit stop
// broadcasts prevent a disconnected user's typing flag from lingering for
// its TTL when the disconnect was observed cleanly.
func (g *Gateway) broadcastUserOffline(ctx context.Context, client *Client) {
	userID := client.UserID()
	lastSeen := g.presence.SetOffline(ctx, userID)
	conversationIDs := client.ConversationIDs()

	activeTyping := g.indicatorsHeld(ctx, userID, conversationIDs, domain.IndicatorTyping)
	activeRecording := g.indicatorsHeld(ctx, userID, conversationIDs, domain.IndicatorRecording)
	g.presence.ClearIndicators(ctx, userID, conversationIDs)

	for _, conversationID := range conversationIDs {
		g.router.Broadcast(ctx, rooms.ConversationRoom(conversationID), domain.EventUserOffline, map[string]interface{}{
			"userId":         userID,
			"conversationId": conversationID,
			"lastSeen":       lastSeen.Format(time.RFC3339),
			"timestamp":      time.Now().UTC().Format(time.RFC3339),
		})
		if activeTyping[conversationID] {
			g.router.BroadcastExcept(ctx, rooms.ConversationRoom(conversationID), domain.EventUserTyping,
				indicatorPayload(conversationID, userID, false), userID)
		}
		if activeRecording[conversationID] {
			g.router.BroadcastExcept(ctx, rooms.ConversationRoom(conversationID), domain.EventUserRecording,
				indicatorPayload(conversationID, userID, false), userID)
		}
	}

	g.webhooks.Emit(domain.WebhookUserOffline, map[string]interface{}{
		"userId":   userID,
		"lastSeen": lastSeen.Format(time.RFC3339),
	})
}

func (g *Gateway) indicatorsHeld(ctx context.Context, userID string, conversationIDs []string, kind domain.IndicatorKind) map[string]bool {
	held := make(map[string]bool, len(conversationIDs))
	for _, conversationID := range conversationIDs {
		users, err := g.presence.ActiveIndicators(ctx, conversationID, kind)
		if err != nil {
			continue
		}
		for _, active := range users {
			if active == userID {
				held[conversationID] = true
				break
			}
		}
	}
	return held
}

// Shutdown stops offline broadcasts for the disconnect storm that follows
// process termination.
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	g.shuttingDown = true
	g.mu.Unlock()
}

// localClients returns this process's sessions for a user.
func (g *Gateway) localClients(socketIDs []string) []*Client {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Client, 0, len(socketIDs))
	for _, socketID := range socketIDs {
		if client, ok := g.clients[socketID]; ok {
			out = append(out, client)
		}
	}
	return out
}

// EmitToConversation exposes the fan-out path to non-gateway services.
func (g *Gateway) EmitToConversation(ctx context.Context, conversationID, event string, payload interface{}) {
	g.router.EmitToConversation(ctx, conversationID, event, payload)
}

// EmitToUser delivers to every socket in a user's personal room.
func (g *Gateway) EmitToUser(ctx context.Context, userID, event string, payload interface{}) {
	g.router.EmitToUser(ctx, userID, event, payload)
}

// NotifyNewConversation subscribes every connected participant to the new
// conversation's room and hands them the conversation payload.
func (g *Gateway) NotifyNewConversation(ctx context.Context, conversationID string, participantIDs []string) {
	conversation, err := g.conversations.FindByID(ctx, conversationID)
	if err != nil || conversation == nil {
		return
	}

	socketsByUser, err := g.registry.SocketsForMany(ctx, participantIDs)
	if err != nil {
		log.Printf("gateway: failed to resolve sockets for new conversation %s: %v", conversationID, err)
		return
	}
	for _, participantID := range participantIDs {
		for _, client := range g.localClients(socketsByUser[participantID]) {
			g.router.Join(rooms.ConversationRoom(conversationID), client)
			client.addConversation(conversationID)
			_ = client.Send(domain.EventConversationNew, conversation)
		}
	}

	g.webhooks.Emit(domain.WebhookConversationCreated, map[string]interface{}{
		"conversationId": conversationID,
		"participantIds": participantIDs,
	})
}

// NotifyParticipantAdded joins the user's live sockets to the conversation
// room and announces the membership change to the room.
func (g *Gateway) NotifyParticipantAdded(ctx context.Context, conversationID, userID string) {
	conversation, err := g.conversations.FindByID(ctx, conversationID)
	if err != nil || conversation == nil {
		return
	}

	socketIDs, err := g.registry.SocketsFor(ctx, userID)
	if err != nil {
		log.Printf("gateway: failed to resolve sockets for user %s: %v", userID, err)
		socketIDs = nil
	}
	for _, client := range g.localClients(socketIDs) {
		g.router.Join(rooms.ConversationRoom(conversationID), client)
		client.addConversation(conversationID)
		_ = client.Send(domain.EventConversationJoined, conversation)
	}

	g.router.Broadcast(ctx, rooms.ConversationRoom(conversationID), domain.EventParticipantAdded, map[string]interface{}{
		"conversationId": conversationID,
		"userId":         userID,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
	g.webhooks.Emit(domain.WebhookParticipantAdded, map[string]interface{}{
		"conversationId": conversationID,
		"userId":         userID,
	})
}

// NotifyParticipantRemoved unsubscribes the user's live sockets and
// announces the removal.
func (g *Gateway) NotifyParticipantRemoved(ctx context.Context, conversationID, userID string) {
	socketIDs, err := g.registry.SocketsFor(ctx, userID)
	if err != nil {
		log.Printf("gateway: failed to resolve sockets for user %s: %v", userID, err)
		socketIDs = nil
	}
	for _, client := range g.localClients(socketIDs) {
		g.router.Leave(rooms.ConversationRoom(conversationID), client)
		client.removeConversation(conversationID)
		_ = client.Send(domain.EventConversationRemoved, map[string]interface{}{
			"conversationId": conversationID,
		})
	}

	g.router.Broadcast(ctx, rooms.ConversationRoom(conversationID), domain.EventParticipantRemoved, map[string]interface{}{
		"conversationId": conversationID,
		"userId":         userID,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
	g.webhooks.Emit(domain.WebhookParticipantRemoved, map[string]interface{}{
		"conversationId": conversationID,
		"userId":         userID,
	})
}

func indicatorPayload(conversationID, userID string, active bool) map[string]interface{} {
	return map[string]interface{}{
		"conversationId": conversationID,
		"userId":         userID,
		"isActive":       active,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}
}
