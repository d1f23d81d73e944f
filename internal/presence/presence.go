// Package presence derives online/away/offline status and tracks the
// short-lived typing/recording indicators. Presence is advisory: store
// failures degrade it and are never escalated to message delivery.
package presence

import (
	"context"
	"log"
	"strings"
	"time"

	"chat-delivery/internal/config"
	"chat-delivery/internal/domain"
	"chat-delivery/internal/kv"
)

const (
	onlineKey = "ws:online"

	// MaxBatchSize caps one StatusBatch call.
	MaxBatchSize = 100
)

type Engine struct {
	store kv.Store
	cfg   config.PresenceConfig
	now   func() time.Time
}

func NewEngine(store kv.Store, cfg config.PresenceConfig) *Engine {
	return &Engine{store: store, cfg: cfg, now: time.Now}
}

// WithClock replaces the engine's clock. Tests step time instead of sleeping.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// SetOnline is called on a user's zero-to-one connection transition. It
// clears any stale last-seen marker from the previous offline period.
func (e *Engine) SetOnline(ctx context.Context, userID string) {
	now := e.now().UTC().Format(time.RFC3339)
	err := e.store.Batch(ctx, func(w kv.Writer) {
		w.SAdd(onlineKey, userID)
		w.HSet(presenceKey(userID), map[string]string{
			"status":       string(domain.StatusOnline),
			"lastActivity": now,
			"connectedAt":  now,
		})
		w.Del(lastSeenKey(userID))
	})
	if err != nil {
		log.Printf("presence: failed to set user %s online: %v", userID, err)
	}
}

// SetOffline flips the user offline and persists the last-seen timestamp
// with its own TTL so storage stays bounded.
func (e *Engine) SetOffline(ctx context.Context, userID string) time.Time {
	now := e.now().UTC()
	err := e.store.Batch(ctx, func(w kv.Writer) {
		w.SRem(onlineKey, userID)
		w.Del(presenceKey(userID))
		w.Set(lastSeenKey(userID), now.Format(time.RFC3339), e.cfg.LastSeenTTL)
	})
	if err != nil {
		log.Printf("presence: failed to set user %s offline: %v", userID, err)
	}
	return now
}

// TouchActivity refreshes the last-activity timestamp. Activity, not
// connectivity, drives the online/away boundary.
func (e *Engine) TouchActivity(ctx context.Context, userID string) {
	err := e.store.HSet(ctx, presenceKey(userID), map[string]string{
		"status":       string(domain.StatusOnline),
		"lastActivity": e.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Printf("presence: failed to update activity for user %s: %v", userID, err)
	}
}

// Status reports derived presence for one user. Away is computed from the
// elapsed time since last activity; no away state is ever written.
func (e *Engine) Status(ctx context.Context, userID string) (domain.PresenceRecord, error) {
	online, err := e.store.SIsMember(ctx, onlineKey, userID)
	if err != nil {
		return domain.PresenceRecord{}, err
	}

	if online {
		hash, err := e.store.HGetAll(ctx, presenceKey(userID))
		if err != nil {
			return domain.PresenceRecord{}, err
		}
		return e.onlineRecord(userID, hash), nil
	}

	raw, found, err := e.store.Get(ctx, lastSeenKey(userID))
	if err != nil {
		return domain.PresenceRecord{}, err
	}
	return offlineRecord(userID, raw, found), nil
}

// StatusBatch resolves up to MaxBatchSize users in two grouped round trips:
// one to split the batch into online and offline, one to fetch the matching
// presence hashes and last-seen values.
func (e *Engine) StatusBatch(ctx context.Context, userIDs []string) ([]domain.PresenceRecord, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	if len(userIDs) > MaxBatchSize {
		userIDs = userIDs[:MaxBatchSize]
	}

	onlineFlags, err := e.store.SContainsMany(ctx, onlineKey, userIDs)
	if err != nil {
		return nil, err
	}

	var onlineIDs, offlineIDs []string
	for i, userID := range userIDs {
		if onlineFlags[i] {
			onlineIDs = append(onlineIDs, userID)
		} else {
			offlineIDs = append(offlineIDs, userID)
		}
	}

	records := make(map[string]domain.PresenceRecord, len(userIDs))

	if len(onlineIDs) > 0 {
		keys := make([]string, len(onlineIDs))
		for i, userID := range onlineIDs {
			keys[i] = presenceKey(userID)
		}
		hashes, err := e.store.HGetAllMany(ctx, keys)
		if err != nil {
			return nil, err
		}
		for i, userID := range onlineIDs {
			records[userID] = e.onlineRecord(userID, hashes[i])
		}
	}

	if len(offlineIDs) > 0 {
		keys := make([]string, len(offlineIDs))
		for i, userID := range offlineIDs {
			keys[i] = lastSeenKey(userID)
		}
		values, found, err := e.store.GetMany(ctx, keys)
		if err != nil {
			return nil, err
		}
		for i, userID := range offlineIDs {
			records[userID] = offlineRecord(userID, values[i], found[i])
		}
	}

	out := make([]domain.PresenceRecord, len(userIDs))
	for i, userID := range userIDs {
		out[i] = records[userID]
	}
	return out, nil
}

// StartIndicator sets a TTL typing/recording flag and counts it as activity.
// Indicators are best-effort; failures are swallowed.
func (e *Engine) StartIndicator(ctx context.Context, conversationID, userID string, kind domain.IndicatorKind) {
	ttl := e.cfg.TypingTTL
	if kind == domain.IndicatorRecording {
		ttl = e.cfg.RecordingTTL
	}
	if err := e.store.Set(ctx, indicatorKey(kind, conversationID, userID), "1", ttl); err != nil {
		log.Printf("presence: failed to set %s indicator for user %s: %v", kind, userID, err)
	}
	e.TouchActivity(ctx, userID)
}

// StopIndicator clears a flag early. TTL expiry makes this an optimization
// against flicker, not a correctness requirement.
func (e *Engine) StopIndicator(ctx context.Context, conversationID, userID string, kind domain.IndicatorKind) {
	if err := e.store.Del(ctx, indicatorKey(kind, conversationID, userID)); err != nil {
		log.Printf("presence: failed to clear %s indicator for user %s: %v", kind, userID, err)
	}
}

// ActiveIndicators enumerates users with a live indicator in a conversation.
// Keys are namespaced per conversation, so this scans a bounded prefix.
func (e *Engine) ActiveIndicators(ctx context.Context, conversationID string, kind domain.IndicatorKind) ([]string, error) {
	prefix := string(kind) + ":" + conversationID + ":"
	keys, err := e.store.ScanKeys(ctx, prefix+"*")
	if err != nil {
		return nil, err
	}
	users := make([]string, 0, len(keys))
	for _, key := range keys {
		if userID := strings.TrimPrefix(key, prefix); userID != "" {
			users = append(users, userID)
		}
	}
	return users, nil
}

// ClearIndicators drops every indicator a user holds across the given
// conversations, typically on disconnect.
func (e *Engine) ClearIndicators(ctx context.Context, userID string, conversationIDs []string) {
	if len(conversationIDs) == 0 {
		return
	}
	err := e.store.Batch(ctx, func(w kv.Writer) {
		for _, conversationID := range conversationIDs {
			w.Del(indicatorKey(domain.IndicatorTyping, conversationID, userID))
			w.Del(indicatorKey(domain.IndicatorRecording, conversationID, userID))
		}
	})
	if err != nil {
		log.Printf("presence: failed to clear indicators for user %s: %v", userID, err)
	}
}

// ConversationPresence aggregates participant statuses with the active
// indicator sets for one conversation.
func (e *Engine) ConversationPresence(ctx context.Context, conversationID string, participantIDs []string) (domain.ConversationPresence, error) {
	participants, err := e.StatusBatch(ctx, participantIDs)
	if err != nil {
		return domain.ConversationPresence{}, err
	}
	typing, err := e.ActiveIndicators(ctx, conversationID, domain.IndicatorTyping)
	if err != nil {
		return domain.ConversationPresence{}, err
	}
	recording, err := e.ActiveIndicators(ctx, conversationID, domain.IndicatorRecording)
	if err != nil {
		return domain.ConversationPresence{}, err
	}

	out := domain.ConversationPresence{
		ConversationID: conversationID,
		Participants:   participants,
		TypingUsers:    typing,
		RecordingUsers: recording,
	}
	for _, p := range participants {
		switch p.Status {
		case domain.StatusOnline:
			out.OnlineCount++
		case domain.StatusAway:
			out.AwayCount++
		}
	}
	return out, nil
}

func (e *Engine) onlineRecord(userID string, hash map[string]string) domain.PresenceRecord {
	record := domain.PresenceRecord{UserID: userID, Status: domain.StatusOnline}
	if raw, ok := hash["lastActivity"]; ok {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			record.LastActivity = &t
			if e.now().Sub(t) > e.cfg.AwayThreshold {
				record.Status = domain.StatusAway
			}
		}
	}
	return record
}

func offlineRecord(userID, raw string, found bool) domain.PresenceRecord {
	record := domain.PresenceRecord{UserID: userID, Status: domain.StatusOffline}
	if found {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			record.LastSeen = &t
		}
	}
	return record
}

func presenceKey(userID string) string {
	return "presence:" + userID
}

func lastSeenKey(userID string) string {
	return "lastseen:" + userID
}

func indicatorKey(kind domain.IndicatorKind, conversationID, userID string) string {
	return string(kind) + ":" + conversationID + ":" + userID
}
