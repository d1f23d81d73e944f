package domain

import "time"

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusOffline PresenceStatus = "offline"
)

// IndicatorKind is a short-lived per-conversation activity flag.
type IndicatorKind string

const (
	IndicatorTyping    IndicatorKind = "typing"
	IndicatorRecording IndicatorKind = "recording"
)

// PresenceRecord is the derived presence view for one user. Away is never
// stored; it is computed from LastActivity at read time.
type PresenceRecord struct {
	UserID       string         `json:"userId"`
	Status       PresenceStatus `json:"status"`
	LastActivity *time.Time     `json:"lastActivity"`
	LastSeen     *time.Time     `json:"lastSeen"`
}

// ConversationPresence aggregates participant presence with the active
// indicator sets for one conversation.
type ConversationPresence struct {
	ConversationID string           `json:"conversationId"`
	Participants   []PresenceRecord `json:"participants"`
	OnlineCount    int              `json:"onlineCount"`
	AwayCount      int              `json:"awayCount"`
	TypingUsers    []string         `json:"typingUsers"`
	RecordingUsers []string         `json:"recordingUsers"`
}
