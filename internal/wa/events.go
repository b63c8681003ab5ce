package wa

import (
	"context"
	"time"

	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"

	"wabridge/internal/bus"
	"wabridge/internal/status"
)

// downloadTimeout bounds fetching one attachment from WhatsApp servers.
const downloadTimeout = 60 * time.Second

// EventHandler translates whatsmeow events into bus events and drives the
// lifecycle state machine. It does not touch the store; the ingestion
// engine subscribes to the bus independently.
type EventHandler struct {
	adapter *Adapter
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger
}

// NewEventHandler creates a new event handler.
func NewEventHandler(adapter *Adapter, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		adapter: adapter,
		bus:     b,
		machine: machine,
		logger:  logger,
	}
}

// Handle is the main whatsmeow event handler function.
func (h *EventHandler) Handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		h.handleMessage(evt)
	case *events.Connected:
		h.handleConnected()
	case *events.Disconnected:
		h.logger.Warn("WhatsApp disconnected")
		_ = h.machine.Transition(status.Disconnected)
		h.publish(bus.KindSessionDisconnected, "connection closed")
	case *events.LoggedOut:
		h.logger.Warn("WhatsApp logged out", zap.String("reason", evt.Reason.String()))
		h.publish(bus.KindSessionAuthFailure, evt.Reason.String())
		_ = h.machine.Transition(status.Disconnected)
		h.publish(bus.KindSessionDisconnected, evt.Reason.String())
	}
}

func (h *EventHandler) handleConnected() {
	h.logger.Info("WhatsApp connected")
	if h.machine.Current() == status.Disconnected {
		// Stored credentials skipped the QR flow.
		_ = h.machine.Transition(status.Authenticated)
		h.publish(bus.KindSessionAuthenticated, "")
	}
	_ = h.machine.Transition(status.Ready)
	h.publish(bus.KindSessionReady, "")
}

func (h *EventHandler) handleMessage(evt *events.Message) {
	parsed := ParseLiveMessage(evt)

	if dl, mimeType, fileName := mediaPart(evt.Message); dl != nil {
		ctx, cancel := context.WithTimeout(context.Background(), downloadTimeout)
		data, err := h.adapter.DownloadMedia(ctx, dl)
		cancel()
		if err != nil {
			// The message is still relayed, just without its attachment.
			h.logger.Warn("media download failed",
				zap.String("msg_id", parsed.MsgID),
				zap.Error(err))
		} else {
			parsed.MediaType = mimeType
			parsed.FileName = fileName
			parsed.MediaData = data
		}
	}

	h.bus.Publish(bus.Event{
		Kind:      bus.KindInboundMessage,
		Timestamp: time.Now(),
		Payload:   parsed,
	})
}

func (h *EventHandler) publish(kind, payload string) {
	h.bus.Publish(bus.Event{
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}
