package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"chat-delivery/internal/domain"
	"chat-delivery/internal/metrics"
	"chat-delivery/internal/rooms"
	"chat-delivery/internal/store"
)

type sendMessagePayload struct {
	ConversationID string             `json:"conversationId"`
	Content        string             `json:"content"`
	Attachments    []store.Attachment `json:"attachments"`
	ReplyTo        string             `json:"replyTo"`
}

type editMessagePayload struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

type messagePayload struct {
	MessageID string `json:"messageId"`
}

type reactionPayload struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

type conversationReadPayload struct {
	ConversationID string `json:"conversationId"`
	UpToMessageID  string `json:"upToMessageId"`
}

type conversationPayload struct {
	ConversationID string `json:"conversationId"`
}

type syncPayload struct {
	ConversationID string `json:"conversationId"`
	LastMessageID  string `json:"lastMessageId"`
}

// dispatch routes one inbound frame to its handler, acks on success and
// returns protocol errors to the offending socket only.
func (g *Gateway) dispatch(ctx context.Context, client *Client, frame domain.InboundFrame) {
	if frame.Event == domain.EventPing {
		g.presence.TouchActivity(ctx, client.UserID())
		_ = client.Send(domain.EventPong, map[string]interface{}{
			"timestamp": time.Now().UnixMilli(),
		})
		return
	}

	result, err := g.handle(ctx, client, frame)
	if err != nil {
		g.sendError(client, frame.Event, err)
		return
	}
	_ = client.Send(domain.EventAck, domain.AckData{
		Event:   frame.Event,
		Success: true,
		Result:  result,
	})
}

func (g *Gateway) handle(ctx context.Context, client *Client, frame domain.InboundFrame) (map[string]interface{}, error) {
	userID := client.UserID()

	switch frame.Event {
	case domain.EventMessageSend:
		var payload sendMessagePayload
		if err := decode(frame.Data, &payload); err != nil {
			return nil, err
		}
		if payload.ConversationID == "" {
			return nil, domain.Invalid("conversationId is required")
		}
		message, err := g.chat.SendMessage(ctx, userID, payload.ConversationID, payload.Content, payload.Attachments, payload.ReplyTo)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"message": message}, nil

	case domain.EventMessageEdit:
		var payload editMessagePayload
		if err := decode(frame.Data, &payload); err != nil {
			return nil, err
		}
		if payload.MessageID == "" {
			return nil, domain.Invalid("messageId is required")
		}
		message, err := g.chat.EditMessage(ctx, userID, payload.MessageID, payload.Content)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"message": message}, nil

	case domain.EventMessageDelete:
		var payload messagePayload
		if err := decode(frame.Data, &payload); err != nil {
			return nil, err
		}
		if payload.MessageID == "" {
			return nil, domain.Invalid("messageId is required")
		}
		if err := g.chat.DeleteMessage(ctx, userID, payload.MessageID); err != nil {
			return nil, err
		}
		return nil, nil

	case domain.EventReactionAdd, domain.EventReactionRemove:
		var payload reactionPayload
		if err := decode(frame.Data, &payload); err != nil {
			return nil, err
		}
		if payload.MessageID == "" {
			return nil, domain.Invalid("messageId is required")
		}
		var reactions []store.Reaction
		var err error
		if frame.Event == domain.EventReactionAdd {
			reactions, err = g.chat.AddReaction(ctx, userID, payload.MessageID, payload.Emoji)
		} else {
			reactions, err = g.chat.RemoveReaction(ctx, userID, payload.MessageID, payload.Emoji)
		}
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"reactions": reactions}, nil

	case domain.EventMessageRead:
		var payload messagePayload
		if err := decode(frame.Data, &payload); err != nil {
			return nil, err
		}
		if payload.MessageID == "" {
			return nil, domain.Invalid("messageId is required")
		}
		readAt, err := g.chat.MarkMessageRead(ctx, userID, payload.MessageID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"readAt": readAt.Format(time.RFC3339)}, nil

	case domain.EventConversationRead:
		var payload conversationReadPayload
		if err := decode(frame.Data, &payload); err != nil {
			return nil, err
		}
		if payload.ConversationID == "" {
			return nil, domain.Invalid("conversationId is required")
		}
		count, err := g.chat.MarkConversationRead(ctx, userID, payload.ConversationID, payload.UpToMessageID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"count": count}, nil

	case domain.EventTypingStart:
		return g.handleIndicator(ctx, client, frame.Data, domain.IndicatorTyping, true)
	case domain.EventTypingStop:
		return g.handleIndicator(ctx, client, frame.Data, domain.IndicatorTyping, false)
	case domain.EventRecordingStart:
		return g.handleIndicator(ctx, client, frame.Data, domain.IndicatorRecording, true)
	case domain.EventRecordingStop:
		return g.handleIndicator(ctx, client, frame.Data, domain.IndicatorRecording, false)

	case domain.EventRoomJoin:
		var payload conversationPayload
		if err := decode(frame.Data, &payload); err != nil {
			return nil, err
		}
		if payload.ConversationID == "" {
			return nil, domain.Invalid("conversationId is required")
		}
		if err := g.requireParticipant(ctx, payload.ConversationID, userID); err != nil {
			return nil, err
		}
		g.router.Join(rooms.ConversationRoom(payload.ConversationID), client)
		client.addConversation(payload.ConversationID)
		g.presence.TouchActivity(ctx, userID)
		return map[string]interface{}{"room": payload.ConversationID}, nil

	case domain.EventRoomLeave:
		var payload conversationPayload
		if err := decode(frame.Data, &payload); err != nil {
			return nil, err
		}
		if payload.ConversationID == "" {
			return nil, domain.Invalid("conversationId is required")
		}
		g.router.Leave(rooms.ConversationRoom(payload.ConversationID), client)
		client.removeConversation(payload.ConversationID)
		g.presence.TouchActivity(ctx, userID)
		return nil, nil

	case domain.EventMessagesSync:
		var payload syncPayload
		if err := decode(frame.Data, &payload); err != nil {
			return nil, err
		}
		if payload.ConversationID == "" {
			return nil, domain.Invalid("conversationId is required")
		}
		messages, err := g.chat.SyncMessages(ctx, userID, payload.ConversationID, payload.LastMessageID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"messages": messages}, nil

	default:
		return nil, domain.Invalid("unknown event: " + frame.Event)
	}
}

// handleIndicator starts or stops a typing/recording flag and fans the
// change out to everyone in the conversation except the originator.
func (g *Gateway) handleIndicator(ctx context.Context, client *Client, data json.RawMessage, kind domain.IndicatorKind, active bool) (map[string]interface{}, error) {
	var payload conversationPayload
	if err := decode(data, &payload); err != nil {
		return nil, err
	}
	if payload.ConversationID == "" {
		return nil, domain.Invalid("conversationId is required")
	}
	userID := client.UserID()
	if err := g.requireParticipant(ctx, payload.ConversationID, userID); err != nil {
		return nil, err
	}

	if active {
		g.presence.StartIndicator(ctx, payload.ConversationID, userID, kind)
	} else {
		g.presence.StopIndicator(ctx, payload.ConversationID, userID, kind)
		g.presence.TouchActivity(ctx, userID)
	}

	event := domain.EventUserTyping
	if kind == domain.IndicatorRecording {
		event = domain.EventUserRecording
	}
	g.router.BroadcastExcept(ctx, rooms.ConversationRoom(payload.ConversationID), event,
		indicatorPayload(payload.ConversationID, userID, active), userID)
	return nil, nil
}

func (g *Gateway) requireParticipant(ctx context.Context, conversationID, userID string) error {
	ok, err := g.conversations.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.NotFound("conversation not found")
		}
		return err
	}
	if !ok {
		return domain.Forbidden("not a participant in this conversation")
	}
	return nil
}

// sendError delivers a structured error frame to the offending socket.
// Authorization and validation failures are expected client misuse and are
// not logged as server failures.
func (g *Gateway) sendError(client *Client, event string, err error) {
	var gwErr *domain.GatewayError
	if !errors.As(err, &gwErr) {
		log.Printf("gateway: %s handler failed for socket %s: %v", event, client.ID(), err)
		gwErr = &domain.GatewayError{Code: domain.CodeInternal, Message: "Unexpected error"}
	}
	metrics.GatewayErrors.WithLabelValues(gwErr.Code).Inc()
	_ = client.Send(domain.EventError, domain.NewErrorPayload(gwErr.Code, gwErr.Message, event))
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return domain.Invalid("payload is required")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return domain.Invalid("malformed payload")
	}
	return nil
}
