package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published across the daemon. Subscribers filter by
// namespace prefix ("wa.", "chat.", "session.").
const (
	// Inbound message parsed from the WhatsApp connection.
	// Payload: *wa.ParsedMessage.
	KindInboundMessage = "wa.message"

	// Store mutations, consumed by the websocket hub. chat.message
	// carries a store.Message; chat.updated and chat.created carry a
	// store.Conversation snapshot.
	KindChatMessage = "chat.message"
	KindChatUpdated = "chat.updated"
	KindChatCreated = "chat.created"

	// Connection lifecycle, forwarded verbatim to viewers.
	KindSessionQR            = "session.qr"
	KindSessionAuthenticated = "session.authenticated"
	KindSessionAuthFailure   = "session.auth_failure"
	KindSessionReady         = "session.ready"
	KindSessionDisconnected  = "session.disconnected"
	KindSessionStatusChanged = "session.status_changed"
)
