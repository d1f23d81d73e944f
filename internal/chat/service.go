// Package chat is where message mutations converge. Both the websocket
// gateway and REST handlers call into this service, so a mutation produces
// the same authorization checks, the same canonical broadcast payload and
// the same webhook event regardless of which transport carried it.
package chat

import (
	"context"
	"errors"
	"time"

	"chat-delivery/internal/domain"
	"chat-delivery/internal/store"
)

const syncLimit = 50

// Broadcaster is the narrow fan-out surface this service depends on. The
// room router implements it; depending on the interface instead of the
// gateway breaks the gateway<->domain-service cycle into two one-way edges.
type Broadcaster interface {
	EmitToConversation(ctx context.Context, conversationID, event string, payload interface{})
	EmitToUser(ctx context.Context, userID, event string, payload interface{})
}

// ActivityTracker marks inbound events as user activity.
type ActivityTracker interface {
	TouchActivity(ctx context.Context, userID string)
}

// WebhookEmitter queues an outbound integration event.
type WebhookEmitter interface {
	Emit(eventType string, data map[string]interface{})
}

type Service struct {
	conversations store.ConversationStore
	messages      store.MessageStore
	broadcaster   Broadcaster
	activity      ActivityTracker
	webhooks      WebhookEmitter
	now           func() time.Time
}

func NewService(
	conversations store.ConversationStore,
	messages store.MessageStore,
	broadcaster Broadcaster,
	activity ActivityTracker,
	webhooks WebhookEmitter,
) *Service {
	return &Service{
		conversations: conversations,
		messages:      messages,
		broadcaster:   broadcaster,
		activity:      activity,
		webhooks:      webhooks,
		now:           time.Now,
	}
}

// SendMessage persists and fans out a new message. The broadcast payload is
// the canonical message representation from the store.
func (s *Service) SendMessage(ctx context.Context, userID, conversationID, content string, attachments []store.Attachment, replyTo string) (*store.Message, error) {
	if content == "" && len(attachments) == 0 {
		return nil, domain.Invalid("message content is required")
	}
	if err := s.requireParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	message, err := s.messages.Create(ctx, conversationID, userID, content, attachments, replyTo)
	if err != nil {
		return nil, mapStoreErr(err, "conversation not found")
	}

	s.broadcaster.EmitToConversation(ctx, conversationID, domain.EventMessageNew, message)
	s.webhooks.Emit(domain.WebhookMessageCreated, map[string]interface{}{
		"messageId":      message.ID,
		"conversationId": message.ConversationID,
		"senderId":       message.SenderID,
		"content":        message.Content,
	})
	s.activity.TouchActivity(ctx, userID)
	return message, nil
}

// EditMessage rewrites a message's content; only the sender may edit.
func (s *Service) EditMessage(ctx context.Context, userID, messageID, content string) (*store.Message, error) {
	if content == "" {
		return nil, domain.Invalid("message content is required")
	}
	message, err := s.messages.FindMessageByID(ctx, messageID)
	if err != nil {
		return nil, mapStoreErr(err, "message not found")
	}
	if message.SenderID != userID {
		return nil, domain.Forbidden("only the sender can edit a message")
	}

	updated, err := s.messages.Edit(ctx, messageID, content)
	if err != nil {
		return nil, mapStoreErr(err, "message not found")
	}

	s.broadcaster.EmitToConversation(ctx, updated.ConversationID, domain.EventMessageUpdated, updated)
	s.webhooks.Emit(domain.WebhookMessageUpdated, map[string]interface{}{
		"messageId":      updated.ID,
		"conversationId": updated.ConversationID,
		"senderId":       updated.SenderID,
		"content":        updated.Content,
	})
	s.activity.TouchActivity(ctx, userID)
	return updated, nil
}

// DeleteMessage soft-deletes a message; only the sender may delete.
func (s *Service) DeleteMessage(ctx context.Context, userID, messageID string) error {
	message, err := s.messages.FindMessageByID(ctx, messageID)
	if err != nil {
		return mapStoreErr(err, "message not found")
	}
	if message.SenderID != userID {
		return domain.Forbidden("only the sender can delete a message")
	}

	if _, err := s.messages.Delete(ctx, messageID); err != nil {
		return mapStoreErr(err, "message not found")
	}

	s.broadcaster.EmitToConversation(ctx, message.ConversationID, domain.EventMessageDeleted, map[string]interface{}{
		"messageId":      message.ID,
		"conversationId": message.ConversationID,
		"timestamp":      s.now().UTC().Format(time.RFC3339),
	})
	s.webhooks.Emit(domain.WebhookMessageDeleted, map[string]interface{}{
		"messageId":      message.ID,
		"conversationId": message.ConversationID,
	})
	s.activity.TouchActivity(ctx, userID)
	return nil
}

// AddReaction attaches an emoji reaction from a participant.
func (s *Service) AddReaction(ctx context.Context, userID, messageID, emoji string) ([]store.Reaction, error) {
	return s.react(ctx, userID, messageID, emoji, true)
}

// RemoveReaction removes the user's reaction; removing one that does not
// exist is a no-op.
func (s *Service) RemoveReaction(ctx context.Context, userID, messageID, emoji string) ([]store.Reaction, error) {
	return s.react(ctx, userID, messageID, emoji, false)
}

func (s *Service) react(ctx context.Context, userID, messageID, emoji string, add bool) ([]store.Reaction, error) {
	if emoji == "" {
		return nil, domain.Invalid("emoji is required")
	}
	message, err := s.messages.FindMessageByID(ctx, messageID)
	if err != nil {
		return nil, mapStoreErr(err, "message not found")
	}
	if err := s.requireParticipant(ctx, message.ConversationID, userID); err != nil {
		return nil, err
	}

	var updated *store.Message
	if add {
		updated, err = s.messages.AddReaction(ctx, messageID, userID, emoji)
	} else {
		updated, err = s.messages.RemoveReaction(ctx, messageID, userID, emoji)
	}
	if err != nil {
		return nil, mapStoreErr(err, "message not found")
	}

	totalCount := 0
	for _, reaction := range updated.Reactions {
		if reaction.Emoji == emoji {
			totalCount = len(reaction.UserIDs)
		}
	}

	event, webhook := domain.EventReactionAdded, domain.WebhookReactionAdded
	if !add {
		event, webhook = domain.EventReactionRemoved, domain.WebhookReactionRemoved
	}
	payload := map[string]interface{}{
		"messageId":      updated.ID,
		"conversationId": updated.ConversationID,
		"emoji":          emoji,
		"userId":         userID,
		"totalCount":     totalCount,
		"timestamp":      s.now().UTC().Format(time.RFC3339),
	}
	s.broadcaster.EmitToConversation(ctx, updated.ConversationID, event, payload)
	s.webhooks.Emit(webhook, map[string]interface{}{
		"messageId":      updated.ID,
		"conversationId": updated.ConversationID,
		"emoji":          emoji,
		"userId":         userID,
	})
	s.activity.TouchActivity(ctx, userID)
	return updated.Reactions, nil
}

// MarkMessageRead records a read receipt. Senders cannot mark their own
// messages read.
func (s *Service) MarkMessageRead(ctx context.Context, userID, messageID string) (time.Time, error) {
	message, err := s.messages.FindMessageByID(ctx, messageID)
	if err != nil {
		return time.Time{}, mapStoreErr(err, "message not found")
	}
	if err := s.requireParticipant(ctx, message.ConversationID, userID); err != nil {
		return time.Time{}, err
	}
	if message.SenderID == userID {
		return time.Time{}, domain.Forbidden("cannot mark own message as read")
	}

	readAt := s.now().UTC()
	if _, err := s.messages.MarkRead(ctx, messageID, userID, readAt); err != nil {
		return time.Time{}, mapStoreErr(err, "message not found")
	}

	s.broadcaster.EmitToConversation(ctx, message.ConversationID, domain.EventMessageRead, map[string]interface{}{
		"messageId":      message.ID,
		"conversationId": message.ConversationID,
		"userId":         userID,
		"readAt":         readAt.Format(time.RFC3339),
	})
	s.activity.TouchActivity(ctx, userID)
	return readAt, nil
}

// MarkConversationRead records read receipts for every unread message up to
// a cursor and reports how many were marked.
func (s *Service) MarkConversationRead(ctx context.Context, userID, conversationID, upToMessageID string) (int, error) {
	if err := s.requireParticipant(ctx, conversationID, userID); err != nil {
		return 0, err
	}

	count, err := s.messages.MarkConversationRead(ctx, conversationID, userID, upToMessageID, s.now().UTC())
	if err != nil {
		return 0, mapStoreErr(err, "conversation not found")
	}

	s.broadcaster.EmitToConversation(ctx, conversationID, domain.EventConversationRead, map[string]interface{}{
		"conversationId": conversationID,
		"userId":         userID,
		"upToMessageId":  upToMessageID,
		"count":          count,
		"readAt":         s.now().UTC().Format(time.RFC3339),
	})
	s.activity.TouchActivity(ctx, userID)
	return count, nil
}

// SyncMessages returns the messages after a cursor for reconnecting clients.
// No broadcast: the result goes only to the requester.
func (s *Service) SyncMessages(ctx context.Context, userID, conversationID, afterMessageID string) ([]store.Message, error) {
	if err := s.requireParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	messages, err := s.messages.ListAfter(ctx, conversationID, afterMessageID, syncLimit)
	if err != nil {
		return nil, mapStoreErr(err, "conversation not found")
	}
	s.activity.TouchActivity(ctx, userID)
	return messages, nil
}

// requireParticipant re-checks membership against the external store on
// every call: membership can change between events, so it is never cached.
func (s *Service) requireParticipant(ctx context.Context, conversationID, userID string) error {
	ok, err := s.conversations.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return mapStoreErr(err, "conversation not found")
	}
	if !ok {
		return domain.Forbidden("not a participant in this conversation")
	}
	return nil
}

func mapStoreErr(err error, notFoundMessage string) error {
	if errors.Is(err, store.ErrNotFound) {
		return domain.NotFound(notFoundMessage)
	}
	return err
}
