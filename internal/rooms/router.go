// Package rooms fans events out to every live socket subscribed to a room,
// on this process directly and on other processes through the event bus.
package rooms

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"chat-delivery/internal/metrics"
	"chat-delivery/internal/store"

	"github.com/google/uuid"
)

// Subscriber is a locally-held socket handle the router can write to.
type Subscriber interface {
	ID() string
	UserID() string
	Send(event string, payload interface{}) error
}

// Envelope is one room broadcast crossing process boundaries. Origin is the
// publishing process; consumers drop their own envelopes since local
// delivery already happened at publish time. Delivery per hop is pubsub,
// at-most-once; registry and presence state self-heal via TTL.
type Envelope struct {
	Origin      string          `json:"origin"`
	Room        string          `json:"room"`
	Event       string          `json:"event"`
	Payload     json.RawMessage `json:"payload"`
	ExcludeUser string          `json:"excludeUser,omitempty"`
}

// Bus publishes envelopes to every other process.
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
}

type Router struct {
	conversations store.ConversationStore
	bus           Bus
	origin        string

	mu    sync.RWMutex
	rooms map[string]map[string]Subscriber // room -> socketID -> subscriber
}

// NewRouter builds a router. bus may be nil for single-process deployments.
func NewRouter(conversations store.ConversationStore, bus Bus) *Router {
	return &Router{
		conversations: conversations,
		bus:           bus,
		origin:        uuid.New().String(),
		rooms:         make(map[string]map[string]Subscriber),
	}
}

// Origin identifies this process on the bus.
func (r *Router) Origin() string { return r.origin }

func ConversationRoom(conversationID string) string {
	return "conversation:" + conversationID
}

func UserRoom(userID string) string {
	return "user:" + userID
}

// ComputeRooms resolves the rooms a user is authorized to join right now:
// one per conversation membership plus the personal room.
func (r *Router) ComputeRooms(ctx context.Context, userID string) ([]string, error) {
	conversationIDs, err := r.conversations.FindAllConversationIDsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(conversationIDs)+1)
	for _, id := range conversationIDs {
		out = append(out, ConversationRoom(id))
	}
	return append(out, UserRoom(userID)), nil
}

// Join subscribes a socket to a room. Joining twice is a no-op.
func (r *Router) Join(room string, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rooms[room] == nil {
		r.rooms[room] = make(map[string]Subscriber)
	}
	r.rooms[room][sub.ID()] = sub
}

// Leave unsubscribes a socket from a room; leaving a room the socket is not
// in is a no-op.
func (r *Router) Leave(room string, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if members := r.rooms[room]; members != nil {
		delete(members, sub.ID())
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
}

// LeaveAll removes a socket from every room it joined, on disconnect.
func (r *Router) LeaveAll(sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for room, members := range r.rooms {
		delete(members, sub.ID())
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
}

// Broadcast delivers an event to every subscriber of a room everywhere.
func (r *Router) Broadcast(ctx context.Context, room, event string, payload interface{}) {
	r.BroadcastExcept(ctx, room, event, payload, "")
}

// BroadcastExcept is Broadcast minus every socket of one user, for events
// that must never echo to their originator (typing/recording indicators).
func (r *Router) BroadcastExcept(ctx context.Context, room, event string, payload interface{}, excludeUserID string) {
	r.deliverLocal(room, event, payload, excludeUserID, "local")

	if r.bus == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("rooms: failed to marshal payload for %s: %v", event, err)
		return
	}
	env := Envelope{
		Origin:      r.origin,
		Room:        room,
		Event:       event,
		Payload:     raw,
		ExcludeUser: excludeUserID,
	}
	if err := r.bus.Publish(ctx, env); err != nil {
		// Remote sockets miss this event; clients recover via sync.
		log.Printf("rooms: failed to publish %s to bus: %v", event, err)
	}
}

// HandleEnvelope applies a bus envelope to local sockets. Envelopes this
// process published are dropped.
func (r *Router) HandleEnvelope(env Envelope) {
	if env.Origin == r.origin {
		return
	}
	r.deliverLocal(env.Room, env.Event, env.Payload, env.ExcludeUser, "remote")
}

func (r *Router) deliverLocal(room, event string, payload interface{}, excludeUserID, source string) {
	r.mu.RLock()
	subs := make([]Subscriber, 0, len(r.rooms[room]))
	for _, sub := range r.rooms[room] {
		if excludeUserID != "" && sub.UserID() == excludeUserID {
			continue
		}
		subs = append(subs, sub)
	}
	r.mu.RUnlock()

	if len(subs) == 0 {
		return
	}
	for _, sub := range subs {
		if err := sub.Send(event, payload); err != nil {
			log.Printf("rooms: failed to send %s to socket %s: %v", event, sub.ID(), err)
		}
	}
	metrics.Broadcasts.WithLabelValues(source).Inc()
}

// EmitToConversation and EmitToUser are the narrow fan-out surface domain
// services depend on, so WS and REST mutations converge on one path.
func (r *Router) EmitToConversation(ctx context.Context, conversationID, event string, payload interface{}) {
	r.Broadcast(ctx, ConversationRoom(conversationID), event, payload)
}

func (r *Router) EmitToUser(ctx context.Context, userID, event string, payload interface{}) {
	r.Broadcast(ctx, UserRoom(userID), event, payload)
}
