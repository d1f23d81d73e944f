package domain

import (
	"encoding/json"
	"time"
)

// InboundFrame is one client message: an event name plus its payload.
type InboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// OutboundFrame is one server message.
type OutboundFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// AckData is the response payload for a handled inbound event. The original
// transport carried per-request ack callbacks; on a plain websocket frame
// protocol the ack instead names the event it answers.
type AckData struct {
	Event   string                 `json:"event"`
	Success bool                   `json:"success"`
	Result  map[string]interface{} `json:"result,omitempty"`
}

// ErrorPayload is the structured error frame sent to the offending socket.
type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Event     string `json:"event,omitempty"`
}

func NewErrorPayload(code, message, event string) ErrorPayload {
	return ErrorPayload{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Event:     event,
	}
}
