package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"chat-delivery/internal/domain"
	"chat-delivery/internal/kv"
	"chat-delivery/internal/store"
)

type recordedEmit struct {
	target  string // conversation or user id
	event   string
	payload interface{}
}

type fakeBroadcaster struct {
	emits []recordedEmit
}

func (f *fakeBroadcaster) EmitToConversation(ctx context.Context, conversationID, event string, payload interface{}) {
	f.emits = append(f.emits, recordedEmit{target: conversationID, event: event, payload: payload})
}

func (f *fakeBroadcaster) EmitToUser(ctx context.Context, userID, event string, payload interface{}) {
	f.emits = append(f.emits, recordedEmit{target: userID, event: event, payload: payload})
}

func (f *fakeBroadcaster) events() []string {
	out := make([]string, len(f.emits))
	for i, e := range f.emits {
		out[i] = e.event
	}
	return out
}

type fakeActivity struct {
	touched []string
}

func (f *fakeActivity) TouchActivity(ctx context.Context, userID string) {
	f.touched = append(f.touched, userID)
}

type fakeWebhooks struct {
	emitted []string
}

func (f *fakeWebhooks) Emit(eventType string, data map[string]interface{}) {
	f.emitted = append(f.emitted, eventType)
}

type serviceFixture struct {
	service     *Service
	kvStore     *store.KVStore
	broadcaster *fakeBroadcaster
	activity    *fakeActivity
	webhooks    *fakeWebhooks
}

// newFixture seeds one group conversation (alice admin, bob member) in a
// memory-backed store and wires the service around it.
func newFixture(t *testing.T) *serviceFixture {
	t.Helper()
	kvStore := store.NewKVStore(kv.NewMemoryStore())
	conversation := &store.Conversation{
		ID:   "c1",
		Type: "group",
		Participants: []store.Participant{
			{UserID: "alice", Role: store.RoleAdmin, JoinedAt: time.Now()},
			{UserID: "bob", Role: store.RoleMember, JoinedAt: time.Now()},
		},
	}
	if err := kvStore.SaveConversation(context.Background(), conversation); err != nil {
		t.Fatalf("failed to seed conversation: %v", err)
	}

	broadcaster := &fakeBroadcaster{}
	activity := &fakeActivity{}
	webhooks := &fakeWebhooks{}
	return &serviceFixture{
		service:     NewService(kvStore, kvStore, broadcaster, activity, webhooks),
		kvStore:     kvStore,
		broadcaster: broadcaster,
		activity:    activity,
		webhooks:    webhooks,
	}
}

func TestSendMessageBroadcastsCanonicalPayload(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	message, err := f.service.SendMessage(ctx, "alice", "c1", "hello", nil, "")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if message.ID == "" || message.SenderID != "alice" || message.Content != "hello" {
		t.Fatalf("unexpected message: %+v", message)
	}

	if len(f.broadcaster.emits) != 1 {
		t.Fatalf("expected one broadcast, got %v", f.broadcaster.events())
	}
	emit := f.broadcaster.emits[0]
	if emit.target != "c1" || emit.event != domain.EventMessageNew {
		t.Fatalf("unexpected broadcast: %+v", emit)
	}
	if emit.payload.(*store.Message).ID != message.ID {
		t.Fatal("broadcast payload must be the stored message")
	}
	if len(f.webhooks.emitted) != 1 || f.webhooks.emitted[0] != domain.WebhookMessageCreated {
		t.Fatalf("expected message.created webhook, got %v", f.webhooks.emitted)
	}
	if len(f.activity.touched) != 1 || f.activity.touched[0] != "alice" {
		t.Fatalf("expected activity touch for alice, got %v", f.activity.touched)
	}
}

func TestSendMessageRejectsNonParticipant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.service.SendMessage(ctx, "mallory", "c1", "hi", nil, "")
	var gwErr *domain.GatewayError
	if !errors.As(err, &gwErr) || gwErr.Code != domain.CodeForbidden {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}
	if len(f.broadcaster.emits) != 0 {
		t.Fatal("rejected send must not broadcast")
	}
	if len(f.webhooks.emitted) != 0 {
		t.Fatal("rejected send must not emit a webhook")
	}
}

func TestSendMessageRequiresContentOrAttachment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.service.SendMessage(ctx, "alice", "c1", "", nil, "")
	var gwErr *domain.GatewayError
	if !errors.As(err, &gwErr) || gwErr.Code != domain.CodeValidation {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}

	attachments := []store.Attachment{{URL: "https://cdn.example/file.png"}}
	if _, err := f.service.SendMessage(ctx, "alice", "c1", "", attachments, ""); err != nil {
		t.Fatalf("attachment-only message must be accepted: %v", err)
	}
}

func TestEditMessageOnlyBySender(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	message, _ := f.service.SendMessage(ctx, "alice", "c1", "original", nil, "")

	_, err := f.service.EditMessage(ctx, "bob", message.ID, "hijacked")
	var gwErr *domain.GatewayError
	if !errors.As(err, &gwErr) || gwErr.Code != domain.CodeForbidden {
		t.Fatalf("expected FORBIDDEN for non-sender edit, got %v", err)
	}

	updated, err := f.service.EditMessage(ctx, "alice", message.ID, "fixed")
	if err != nil {
		t.Fatalf("EditMessage failed: %v", err)
	}
	if updated.Content != "fixed" || updated.EditedAt == nil {
		t.Fatalf("unexpected edited message: %+v", updated)
	}
	if events := f.broadcaster.events(); events[len(events)-1] != domain.EventMessageUpdated {
		t.Fatalf("expected message:updated broadcast, got %v", events)
	}
}

func TestEditUnknownMessageIsNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.service.EditMessage(ctx, "alice", "missing", "x")
	var gwErr *domain.GatewayError
	if !errors.As(err, &gwErr) || gwErr.Code != domain.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestDeleteMessageSoftDeletes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	message, _ := f.service.SendMessage(ctx, "alice", "c1", "going away", nil, "")
	if err := f.service.DeleteMessage(ctx, "alice", message.ID); err != nil {
		t.Fatalf("DeleteMessage failed: %v", err)
	}

	stored, err := f.kvStore.FindMessageByID(ctx, message.ID)
	if err != nil {
		t.Fatalf("deleted message must remain findable: %v", err)
	}
	if !stored.Deleted || stored.Content != "" {
		t.Fatalf("expected soft delete, got %+v", stored)
	}
	if events := f.broadcaster.events(); events[len(events)-1] != domain.EventMessageDeleted {
		t.Fatalf("expected message:deleted broadcast, got %v", events)
	}
}

func TestReactionAddRemoveCycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	message, _ := f.service.SendMessage(ctx, "alice", "c1", "react to me", nil, "")

	reactions, err := f.service.AddReaction(ctx, "bob", message.ID, "👍")
	if err != nil {
		t.Fatalf("AddReaction failed: %v", err)
	}
	if len(reactions) != 1 || len(reactions[0].UserIDs) != 1 {
		t.Fatalf("unexpected reactions: %+v", reactions)
	}

	// Adding the same reaction twice stays idempotent.
	reactions, _ = f.service.AddReaction(ctx, "bob", message.ID, "👍")
	if len(reactions[0].UserIDs) != 1 {
		t.Fatalf("duplicate reaction must not double-count: %+v", reactions)
	}

	reactions, err = f.service.RemoveReaction(ctx, "bob", message.ID, "👍")
	if err != nil {
		t.Fatalf("RemoveReaction failed: %v", err)
	}
	if len(reactions) != 0 {
		t.Fatalf("expected empty reactions, got %+v", reactions)
	}

	// Removing a reaction that does not exist is a no-op, not an error.
	if _, err := f.service.RemoveReaction(ctx, "bob", message.ID, "🎉"); err != nil {
		t.Fatalf("removing an absent reaction must succeed: %v", err)
	}
}

func TestMarkMessageReadRejectsOwnMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	message, _ := f.service.SendMessage(ctx, "alice", "c1", "read me", nil, "")

	_, err := f.service.MarkMessageRead(ctx, "alice", message.ID)
	var gwErr *domain.GatewayError
	if !errors.As(err, &gwErr) || gwErr.Code != domain.CodeForbidden {
		t.Fatalf("expected FORBIDDEN for own-message read, got %v", err)
	}

	readAt, err := f.service.MarkMessageRead(ctx, "bob", message.ID)
	if err != nil {
		t.Fatalf("MarkMessageRead failed: %v", err)
	}
	if readAt.IsZero() {
		t.Fatal("expected a read timestamp")
	}
	if events := f.broadcaster.events(); events[len(events)-1] != domain.EventMessageRead {
		t.Fatalf("expected message:read broadcast, got %v", events)
	}
}

func TestMarkConversationReadCountsOnlyUnreadFromOthers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	m1, _ := f.service.SendMessage(ctx, "alice", "c1", "one", nil, "")
	f.service.SendMessage(ctx, "alice", "c1", "two", nil, "")
	f.service.SendMessage(ctx, "bob", "c1", "mine", nil, "")
	f.service.MarkMessageRead(ctx, "bob", m1.ID)

	count, err := f.service.MarkConversationRead(ctx, "bob", "c1", "")
	if err != nil {
		t.Fatalf("MarkConversationRead failed: %v", err)
	}
	// m1 already read, "mine" is bob's own: only "two" counts.
	if count != 1 {
		t.Fatalf("expected 1 newly-read message, got %d", count)
	}

	last := f.broadcaster.emits[len(f.broadcaster.emits)-1]
	if last.event != domain.EventConversationRead {
		t.Fatalf("expected conversation:read broadcast, got %s", last.event)
	}
	payload := last.payload.(map[string]interface{})
	if _, ok := payload["readAt"].(string); !ok {
		t.Fatalf("conversation:read payload must carry readAt, got %+v", payload)
	}
	if payload["count"] != 1 {
		t.Fatalf("conversation:read payload must carry the count, got %+v", payload)
	}
}

func TestSyncMessagesReturnsWithoutBroadcast(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	m1, _ := f.service.SendMessage(ctx, "alice", "c1", "one", nil, "")
	f.service.SendMessage(ctx, "alice", "c1", "two", nil, "")
	broadcastsBefore := len(f.broadcaster.emits)

	messages, err := f.service.SyncMessages(ctx, "bob", "c1", m1.ID)
	if err != nil {
		t.Fatalf("SyncMessages failed: %v", err)
	}
	if len(messages) != 1 || messages[0].Content != "two" {
		t.Fatalf("expected only the message after the cursor, got %+v", messages)
	}
	if len(f.broadcaster.emits) != broadcastsBefore {
		t.Fatal("sync must not broadcast")
	}
}

func TestSyncMessagesRequiresMembership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.service.SyncMessages(ctx, "mallory", "c1", "")
	var gwErr *domain.GatewayError
	if !errors.As(err, &gwErr) || gwErr.Code != domain.CodeForbidden {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}
}
