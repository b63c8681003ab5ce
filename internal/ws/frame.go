package ws

import (
	"encoding/json"
	"fmt"
)

// Wire event names exchanged with browser clients.
const (
	// Server → client.
	EventQR          = "qr"
	EventReady       = "ready"
	EventAuth        = "authenticated"
	EventAuthFailure = "auth_failure"
	EventDisconnect  = "disconnected"
	EventMessage     = "whatsapp-message"
	EventChatUpdated = "chat-updated"
	EventChatCreated = "chat-created"
	EventChats       = "chats"
	EventError       = "error"

	// Client → server.
	EventSendMessage = "send_message"
	EventMarkRead    = "mark_read"
	EventSubscribe   = "subscribe"
	EventUnsubscribe = "unsubscribe"
)

// Frame is the JSON envelope for every websocket message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// encodeFrame marshals an outgoing frame with the given payload.
func encodeFrame(event string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		data = raw
	}
	return json.Marshal(Frame{Event: event, Data: data})
}

// errorPayload is the body of an error frame.
type errorPayload struct {
	Message string `json:"message"`
}

// markReadPayload targets one conversation.
type markReadPayload struct {
	PhoneNumber string `json:"phoneNumber"`
}

// topicPayload names the conversation a subscribe/unsubscribe targets.
type topicPayload struct {
	PhoneNumber string `json:"phoneNumber"`
}
