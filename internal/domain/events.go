package domain

// Inbound gateway events.
const (
	EventMessageSend      = "message:send"
	EventMessageEdit      = "message:edit"
	EventMessageDelete    = "message:delete"
	EventReactionAdd      = "reaction:add"
	EventReactionRemove   = "reaction:remove"
	EventMessageRead      = "message:read"
	EventConversationRead = "conversation:read"
	EventTypingStart      = "typing:start"
	EventTypingStop       = "typing:stop"
	EventRecordingStart   = "recording:start"
	EventRecordingStop    = "recording:stop"
	EventRoomJoin         = "room:join"
	EventRoomLeave        = "room:leave"
	EventMessagesSync     = "messages:sync"
	EventPing             = "ping"
)

// Outbound gateway events.
const (
	EventConnected           = "connected"
	EventError               = "error"
	EventAck                 = "ack"
	EventPong                = "pong"
	EventMessageNew          = "message:new"
	EventMessageUpdated      = "message:updated"
	EventMessageDeleted      = "message:deleted"
	EventReactionAdded       = "reaction:added"
	EventReactionRemoved     = "reaction:removed"
	EventUserTyping          = "user:typing"
	EventUserRecording       = "user:recording"
	EventUserOnline          = "user:online"
	EventUserOffline         = "user:offline"
	EventConversationNew     = "conversation:new"
	EventConversationJoined  = "conversation:joined"
	EventConversationRemoved = "conversation:removed"
	EventParticipantAdded    = "participant:added"
	EventParticipantRemoved  = "participant:removed"
)

// Webhook event types delivered to the configured endpoint.
const (
	WebhookMessageCreated      = "message.created"
	WebhookMessageUpdated      = "message.updated"
	WebhookMessageDeleted      = "message.deleted"
	WebhookConversationCreated = "conversation.created"
	WebhookConversationDeleted = "conversation.deleted"
	WebhookParticipantAdded    = "participant.added"
	WebhookParticipantRemoved  = "participant.removed"
	WebhookReactionAdded       = "reaction.added"
	WebhookReactionRemoved     = "reaction.removed"
	WebhookUserOnline          = "user.online"
	WebhookUserOffline         = "user.offline"
)
