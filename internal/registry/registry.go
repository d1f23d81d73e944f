// Package registry tracks which sockets belong to which users in the shared
// store. It is the source of truth for "is this user connected anywhere";
// correctness across processes comes from the store's atomic operations, not
// from in-process locks.
package registry

import (
	"context"
	"log"
	"time"

	"chat-delivery/internal/kv"
)

const (
	onlineKey = "ws:online"
)

type Registry struct {
	store     kv.Store
	socketTTL time.Duration
}

// NewRegistry builds a registry over the shared store. socketTTL is the
// safety net on per-socket metadata: an entry abandoned by a crashed process
// self-heals once the TTL elapses.
func NewRegistry(store kv.Store, socketTTL time.Duration) *Registry {
	return &Registry{store: store, socketTTL: socketTTL}
}

// Register records one socket for a user as a single atomic batch. Store
// errors are logged and swallowed: a failed registration degrades presence
// accuracy but must never reject the transport connection.
func (r *Registry) Register(ctx context.Context, socketID, userID string) {
	err := r.store.Batch(ctx, func(w kv.Writer) {
		w.SAdd(connectionsKey(userID), socketID)
		w.HSet(socketKey(socketID), map[string]string{
			"userId":      userID,
			"connectedAt": time.Now().UTC().Format(time.RFC3339),
		})
		w.Expire(socketKey(socketID), r.socketTTL)
		w.SAdd(onlineKey, userID)
	})
	if err != nil {
		log.Printf("registry: failed to register socket %s for user %s: %v", socketID, userID, err)
	}
}

// Remove drops one socket, then re-checks the user's remaining connection
// count and only at zero removes the user from the online set. The re-check
// is what keeps multi-device presence correct: closing one device must not
// mark a user offline while another device is still connected.
func (r *Registry) Remove(ctx context.Context, socketID, userID string) {
	err := r.store.Batch(ctx, func(w kv.Writer) {
		w.SRem(connectionsKey(userID), socketID)
		w.Del(socketKey(socketID))
	})
	if err != nil {
		log.Printf("registry: failed to remove socket %s for user %s: %v", socketID, userID, err)
		return
	}

	remaining, err := r.store.SCard(ctx, connectionsKey(userID))
	if err != nil {
		log.Printf("registry: failed to count connections for user %s: %v", userID, err)
		return
	}
	if remaining == 0 {
		if err := r.store.SRem(ctx, onlineKey, userID); err != nil {
			log.Printf("registry: failed to mark user %s offline: %v", userID, err)
		}
	}
}

func (r *Registry) IsOnline(ctx context.Context, userID string) (bool, error) {
	return r.store.SIsMember(ctx, onlineKey, userID)
}

func (r *Registry) ConnectionCount(ctx context.Context, userID string) (int64, error) {
	return r.store.SCard(ctx, connectionsKey(userID))
}

func (r *Registry) SocketsFor(ctx context.Context, userID string) ([]string, error) {
	return r.store.SMembers(ctx, connectionsKey(userID))
}

func (r *Registry) SocketsForMany(ctx context.Context, userIDs []string) (map[string][]string, error) {
	keys := make([]string, len(userIDs))
	for i, userID := range userIDs {
		keys[i] = connectionsKey(userID)
	}
	results, err := r.store.SMembersMany(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(userIDs))
	for i, userID := range userIDs {
		out[userID] = results[i]
	}
	return out, nil
}

// OnlineAmong filters userIDs down to those currently in the online set.
func (r *Registry) OnlineAmong(ctx context.Context, userIDs []string) ([]string, error) {
	flags, err := r.store.SContainsMany(ctx, onlineKey, userIDs)
	if err != nil {
		return nil, err
	}
	var online []string
	for i, userID := range userIDs {
		if flags[i] {
			online = append(online, userID)
		}
	}
	return online, nil
}

func connectionsKey(userID string) string {
	return "ws:connections:" + userID
}

func socketKey(socketID string) string {
	return "ws:socket:" + socketID
}
