package store

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"chat-delivery/internal/kv"

	"github.com/google/uuid"
)

// KVStore implements both contracts on top of the shared ephemeral store.
// The API tier projects conversation membership into the same keyspace;
// message documents written here are the canonical copy for the delivery
// tier. A single writer per document is assumed, which holds because every
// mutation for a conversation room lands on the instance that accepted it.
type KVStore struct {
	store kv.Store
	now   func() time.Time
}

var (
	_ ConversationStore = (*KVStore)(nil)
	_ MessageStore      = (*KVStore)(nil)
)

func NewKVStore(store kv.Store) *KVStore {
	return &KVStore{store: store, now: time.Now}
}

func conversationKey(conversationID string) string {
	return "chat:conversation:" + conversationID
}

func userConversationsKey(userID string) string {
	return "chat:user:" + userID + ":conversations"
}

func messageKey(messageID string) string {
	return "chat:message:" + messageID
}

func conversationMessagesKey(conversationID string) string {
	return "chat:conversation:" + conversationID + ":messages"
}

func (s *KVStore) getConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	raw, ok, err := s.store.Get(ctx, conversationKey(conversationID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	var conversation Conversation
	if err := json.Unmarshal([]byte(raw), &conversation); err != nil {
		return nil, err
	}
	return &conversation, nil
}

func (s *KVStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	conversation, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return false, err
	}
	for _, p := range conversation.Participants {
		if p.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *KVStore) IsAdmin(ctx context.Context, conversationID, userID string) (bool, error) {
	conversation, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return false, err
	}
	for _, p := range conversation.Participants {
		if p.UserID == userID {
			return p.Role == RoleAdmin, nil
		}
	}
	return false, nil
}

func (s *KVStore) FindAllConversationIDsForUser(ctx context.Context, userID string) ([]string, error) {
	return s.store.SMembers(ctx, userConversationsKey(userID))
}

func (s *KVStore) FindByID(ctx context.Context, conversationID string) (*Conversation, error) {
	return s.getConversation(ctx, conversationID)
}

// SaveConversation writes the projection a new or updated conversation and
// its per-user membership sets. The API tier calls this through the admin
// surface when conversations change.
func (s *KVStore) SaveConversation(ctx context.Context, conversation *Conversation) error {
	doc, err := json.Marshal(conversation)
	if err != nil {
		return err
	}
	return s.store.Batch(ctx, func(w kv.Writer) {
		w.Set(conversationKey(conversation.ID), string(doc), 0)
		for _, p := range conversation.Participants {
			w.SAdd(userConversationsKey(p.UserID), conversation.ID)
		}
	})
}

// RemoveParticipant drops the membership projection for one user.
func (s *KVStore) RemoveParticipant(ctx context.Context, conversation *Conversation, userID string) error {
	doc, err := json.Marshal(conversation)
	if err != nil {
		return err
	}
	return s.store.Batch(ctx, func(w kv.Writer) {
		w.Set(conversationKey(conversation.ID), string(doc), 0)
		w.SRem(userConversationsKey(userID), conversation.ID)
	})
}

func (s *KVStore) Create(ctx context.Context, conversationID, senderID, content string, attachments []Attachment, replyTo string) (*Message, error) {
	now := s.now().UTC()
	message := &Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Attachments:    attachments,
		ReplyTo:        replyTo,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.saveMessage(ctx, message, true); err != nil {
		return nil, err
	}
	return message, nil
}

func (s *KVStore) FindMessageByID(ctx context.Context, messageID string) (*Message, error) {
	raw, ok, err := s.store.Get(ctx, messageKey(messageID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	var message Message
	if err := json.Unmarshal([]byte(raw), &message); err != nil {
		return nil, err
	}
	return &message, nil
}

func (s *KVStore) Edit(ctx context.Context, messageID, content string) (*Message, error) {
	return s.update(ctx, messageID, func(message *Message) {
		now := s.now().UTC()
		message.Content = content
		message.EditedAt = &now
	})
}

func (s *KVStore) Delete(ctx context.Context, messageID string) (*Message, error) {
	return s.update(ctx, messageID, func(message *Message) {
		message.Deleted = true
		message.Content = ""
		message.Attachments = nil
	})
}

func (s *KVStore) AddReaction(ctx context.Context, messageID, userID, emoji string) (*Message, error) {
	return s.update(ctx, messageID, func(message *Message) {
		for i := range message.Reactions {
			if message.Reactions[i].Emoji != emoji {
				continue
			}
			for _, id := range message.Reactions[i].UserIDs {
				if id == userID {
					return
				}
			}
			message.Reactions[i].UserIDs = append(message.Reactions[i].UserIDs, userID)
			return
		}
		message.Reactions = append(message.Reactions, Reaction{Emoji: emoji, UserIDs: []string{userID}})
	})
}

func (s *KVStore) RemoveReaction(ctx context.Context, messageID, userID, emoji string) (*Message, error) {
	return s.update(ctx, messageID, func(message *Message) {
		for i := range message.Reactions {
			if message.Reactions[i].Emoji != emoji {
				continue
			}
			users := message.Reactions[i].UserIDs[:0]
			for _, id := range message.Reactions[i].UserIDs {
				if id != userID {
					users = append(users, id)
				}
			}
			if len(users) == 0 {
				message.Reactions = append(message.Reactions[:i], message.Reactions[i+1:]...)
			} else {
				message.Reactions[i].UserIDs = users
			}
			return
		}
	})
}

func (s *KVStore) MarkRead(ctx context.Context, messageID, userID string, at time.Time) (*Message, error) {
	return s.update(ctx, messageID, func(message *Message) {
		for _, receipt := range message.ReadBy {
			if receipt.UserID == userID {
				return
			}
		}
		message.ReadBy = append(message.ReadBy, ReadReceipt{UserID: userID, ReadAt: at})
	})
}

func (s *KVStore) MarkConversationRead(ctx context.Context, conversationID, userID, upToMessageID string, at time.Time) (int, error) {
	messages, err := s.listConversation(ctx, conversationID)
	if err != nil {
		return 0, err
	}

	count := 0
	for i := range messages {
		message := &messages[i]
		atCursor := upToMessageID != "" && message.ID == upToMessageID
		if message.SenderID != userID && !message.Deleted && !alreadyRead(message, userID) {
			message.ReadBy = append(message.ReadBy, ReadReceipt{UserID: userID, ReadAt: at})
			message.UpdatedAt = at
			if err := s.saveMessage(ctx, message, false); err != nil {
				return count, err
			}
			count++
		}
		if atCursor {
			break
		}
	}
	return count, nil
}

func (s *KVStore) ListAfter(ctx context.Context, conversationID, afterMessageID string, limit int) ([]Message, error) {
	messages, err := s.listConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	start := 0
	if afterMessageID != "" {
		for i, message := range messages {
			if message.ID == afterMessageID {
				start = i + 1
				break
			}
		}
	}
	if start >= len(messages) {
		return []Message{}, nil
	}
	messages = messages[start:]
	if limit > 0 && len(messages) > limit {
		messages = messages[:limit]
	}
	return messages, nil
}

// listConversation loads every message in creation order using one grouped
// document read.
func (s *KVStore) listConversation(ctx context.Context, conversationID string) ([]Message, error) {
	ids, err := s.store.SMembers(ctx, conversationMessagesKey(conversationID))
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = messageKey(id)
	}
	docs, found, err := s.store.GetMany(ctx, keys)
	if err != nil {
		return nil, err
	}

	messages := make([]Message, 0, len(docs))
	for i, doc := range docs {
		if !found[i] {
			continue
		}
		var message Message
		if err := json.Unmarshal([]byte(doc), &message); err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	sort.Slice(messages, func(i, j int) bool {
		if messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].ID < messages[j].ID
		}
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	return messages, nil
}

func (s *KVStore) update(ctx context.Context, messageID string, mutate func(*Message)) (*Message, error) {
	message, err := s.FindMessageByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	mutate(message)
	message.UpdatedAt = s.now().UTC()
	if err := s.saveMessage(ctx, message, false); err != nil {
		return nil, err
	}
	return message, nil
}

func (s *KVStore) saveMessage(ctx context.Context, message *Message, index bool) error {
	doc, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return s.store.Batch(ctx, func(w kv.Writer) {
		w.Set(messageKey(message.ID), string(doc), 0)
		if index {
			w.SAdd(conversationMessagesKey(message.ConversationID), message.ID)
		}
	})
}

func alreadyRead(message *Message, userID string) bool {
	for _, receipt := range message.ReadBy {
		if receipt.UserID == userID {
			return true
		}
	}
	return false
}
