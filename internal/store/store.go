// Package store holds the read/write contracts for the external conversation
// and message storage. Persistence itself lives outside this core; the
// gateway consumes these interfaces for authorization reads and mutation
// effects and never caches their answers across events.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound marks a missing conversation or message.
var ErrNotFound = errors.New("not found")

const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

type Participant struct {
	UserID   string    `json:"userId"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

type Conversation struct {
	ID           string        `json:"id"`
	Type         string        `json:"type"` // direct or group
	Name         string        `json:"name,omitempty"`
	Participants []Participant `json:"participants"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

func (c *Conversation) ParticipantIDs() []string {
	ids := make([]string, len(c.Participants))
	for i, p := range c.Participants {
		ids[i] = p.UserID
	}
	return ids
}

type Attachment struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

type Reaction struct {
	Emoji   string   `json:"emoji"`
	UserIDs []string `json:"userIds"`
}

type ReadReceipt struct {
	UserID string    `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	Content        string        `json:"content"`
	Attachments    []Attachment  `json:"attachments,omitempty"`
	ReplyTo        string        `json:"replyTo,omitempty"`
	Reactions      []Reaction    `json:"reactions,omitempty"`
	ReadBy         []ReadReceipt `json:"readBy,omitempty"`
	Deleted        bool          `json:"deleted"`
	EditedAt       *time.Time    `json:"editedAt,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// ConversationStore is the membership/authorization read surface. The
// external store guarantees a group conversation never loses its last admin
// (the oldest remaining member is promoted on departure); authorization here
// assumes that invariant holds.
type ConversationStore interface {
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	IsAdmin(ctx context.Context, conversationID, userID string) (bool, error)
	FindAllConversationIDsForUser(ctx context.Context, userID string) ([]string, error)
	FindByID(ctx context.Context, conversationID string) (*Conversation, error)
}

// MessageStore is the message mutation surface. Every mutator returns the
// canonical message representation to embed in broadcasts so real-time and
// REST clients observe identical payloads.
type MessageStore interface {
	Create(ctx context.Context, conversationID, senderID, content string, attachments []Attachment, replyTo string) (*Message, error)
	FindMessageByID(ctx context.Context, messageID string) (*Message, error)
	Edit(ctx context.Context, messageID, content string) (*Message, error)
	Delete(ctx context.Context, messageID string) (*Message, error)
	AddReaction(ctx context.Context, messageID, userID, emoji string) (*Message, error)
	RemoveReaction(ctx context.Context, messageID, userID, emoji string) (*Message, error)
	MarkRead(ctx context.Context, messageID, userID string, at time.Time) (*Message, error)
	MarkConversationRead(ctx context.Context, conversationID, userID, upToMessageID string, at time.Time) (int, error)
	ListAfter(ctx context.Context, conversationID, afterMessageID string, limit int) ([]Message, error)
}
