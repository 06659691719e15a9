// Package websocket defines the wire envelope for the daemon's event
// stream channel.
package websocket

import (
	"encoding/json"
	"time"
)

// MessageType discriminates the envelope.
type MessageType string

const (
	MessageTypeRequest      MessageType = "request"
	MessageTypeResponse     MessageType = "response"
	MessageTypeNotification MessageType = "notification"
	MessageTypeError        MessageType = "error"
)

// Actions a client may send.
const (
	ActionAuth        = "auth"
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// Notification actions pushed by the server.
const (
	ActionEvent = "event"
)

// Error codes on the wire; they mirror the daemon's error kinds.
const (
	ErrorCodeBadRequest = "Validation"
	ErrorCodeAuth       = "Auth"
	ErrorCodeInternal   = "Internal"
)

// Message is the base envelope for all channel traffic.
type Message struct {
	ID        string          `json:"id,omitempty"`
	Type      MessageType     `json:"type"`
	Action    string          `json:"action"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// AuthPayload is the first frame on an unauthenticated connection.
type AuthPayload struct {
	Token string `json:"token"`
}

// SubscribePayload names the topics (event subjects, wildcards allowed)
// the client wants.
type SubscribePayload struct {
	Topics []string `json:"topics"`
}

/// EventPayload is the notification body: the service/verb envelope the
// event bus carried.
type EventPayload struct {
	Subject string          `json:"subject"`
	Event   json.RawMessage `json:"event"`
}

// ErrorPayload carries a structured error to the client.
type ErrorPayload struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// NewRequest builds a client request message.
func NewRequest(id, action string, payload json.RawMessage) *Message {
	return &Message{
		ID:        id,
		Type:      MessageTypeRequest,
		Action:    action,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotification builds a server push message.
func NewNotification(action string, payload json.RawMessage) *Message {
	return &Message{
		Type:      MessageTypeNotification,
		Action:    action,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// NewResponse builds a reply to a client request.
func NewResponse(id, action string, payload json.RawMessage) *Message {
	return &Message{
		ID:        id,
		Type:      MessageTypeResponse,
		Action:    action,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// NewError builds an error reply.
func NewError(id, action, code, message string) *Message {
	payload, _ := json.Marshal(ErrorPayload{Code: code, Message: message})
	return &Message{
		ID:        id,
		Type:      MessageTypeError,
		Action:    action,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}
