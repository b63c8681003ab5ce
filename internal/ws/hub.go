// Package ws fans bus events out to connected websocket viewers and accepts
// their commands.
package ws

import (
	"context"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"wabridge/internal/bus"
	"wabridge/internal/dispatch"
	"wabridge/internal/store"
)

// hubBuffer is the bus subscription buffer for the hub; it drains fast, so a
// modest buffer absorbs bursts.
const hubBuffer = 256

// Dispatcher is the outbound side the hub exposes to clients. Satisfied by
// *dispatch.Sender.
type Dispatcher interface {
	Send(ctx context.Context, req dispatch.SendRequest) (store.Message, error)
}

type retopicRequest struct {
	client    *Client
	topic     string
	subscribe bool
}

// Hub owns the set of connected clients. All client-set mutation happens on
// the Run goroutine, so no locks are needed around it.
type Hub struct {
	bus    *bus.Bus
	store  *store.Store
	sender Dispatcher
	logger *zap.Logger

	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	retopic    chan retopicRequest

	upgrader websocket.Upgrader
	unsub    func()
	done     chan struct{}
}

// NewHub creates a hub. allowedOrigins whitelists websocket handshake
// origins; an empty list allows none besides same-host requests.
func NewHub(b *bus.Bus, st *store.Store, sender Dispatcher, allowedOrigins []string, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		bus:        b,
		store:      st,
		sender:     sender,
		logger:     logger,
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		retopic:    make(chan retopicRequest),
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

// Run consumes bus events and client lifecycle requests until Stop.
func (h *Hub) Run() {
	chatCh, unsubChat := h.bus.Subscribe("chat.", hubBuffer)
	sessionCh, unsubSession := h.bus.Subscribe("session.", hubBuffer)
	h.unsub = func() {
		unsubChat()
		unsubSession()
	}

	go func() {
		defer close(h.done)
		for {
			select {
			case client := <-h.register:
				h.clients[client] = struct{}{}
				client.sendEvent(EventChats, h.store.Snapshot())
				h.logger.Info("viewer connected", zap.Int("viewers", len(h.clients)))

			case client := <-h.unregister:
				if _, ok := h.clients[client]; ok {
					delete(h.clients, client)
					close(client.send)
					h.logger.Info("viewer disconnected", zap.Int("viewers", len(h.clients)))
				}

			case req := <-h.retopic:
				if _, ok := h.clients[req.client]; !ok {
					continue
				}
				if req.subscribe {
					req.client.subs[req.topic] = struct{}{}
				} else {
					delete(req.client.subs, req.topic)
				}

			case evt, ok := <-chatCh:
				if !ok {
					h.closeAll()
					return
				}
				h.broadcastChat(evt)

			case evt, ok := <-sessionCh:
				if !ok {
					h.closeAll()
					return
				}
				h.broadcastSession(evt)
			}
		}
	}()
}

// Stop unsubscribes from the bus and disconnects all viewers.
func (h *Hub) Stop() {
	if h.unsub != nil {
		h.unsub()
	}
	<-h.done
}

func (h *Hub) closeAll() {
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

// broadcastChat maps a store mutation onto its wire event and delivers it to
// every client whose topic filter matches the conversation.
func (h *Hub) broadcastChat(evt bus.Event) {
	var (
		wireEvent string
		topic     string
	)
	switch evt.Kind {
	case bus.KindChatMessage:
		msg, ok := evt.Payload.(store.Message)
		if !ok {
			return
		}
		wireEvent, topic = EventMessage, msg.PhoneKey()
	case bus.KindChatUpdated:
		conv, ok := evt.Payload.(store.Conversation)
		if !ok {
			return
		}
		wireEvent, topic = EventChatUpdated, conv.PhoneKey
	case bus.KindChatCreated:
		conv, ok := evt.Payload.(store.Conversation)
		if !ok {
			return
		}
		wireEvent, topic = EventChatCreated, conv.PhoneKey
	default:
		return
	}

	frame, err := encodeFrame(wireEvent, evt.Payload)
	if err != nil {
		h.logger.Error("frame encode failed", zap.String("event", wireEvent), zap.Error(err))
		return
	}
	h.deliver(frame, topic)
}

// broadcastSession forwards connection lifecycle events to every viewer,
// regardless of topic filters.
func (h *Hub) broadcastSession(evt bus.Event) {
	var wireEvent string
	switch evt.Kind {
	case bus.KindSessionQR:
		wireEvent = EventQR
	case bus.KindSessionAuthenticated:
		wireEvent = EventAuth
	case bus.KindSessionAuthFailure:
		wireEvent = EventAuthFailure
	case bus.KindSessionReady:
		wireEvent = EventReady
	case bus.KindSessionDisconnected:
		wireEvent = EventDisconnect
	default:
		// Internal transitions (status_changed) stay off the wire.
		return
	}

	frame, err := encodeFrame(wireEvent, evt.Payload)
	if err != nil {
		h.logger.Error("frame encode failed", zap.String("event", wireEvent), zap.Error(err))
		return
	}
	h.deliver(frame, "")
}

func (h *Hub) deliver(frame []byte, topic string) {
	for client := range h.clients {
		if !client.wants(topic) {
			continue
		}
		if !client.enqueue(frame) {
			delete(h.clients, client)
			close(client.send)
			h.logger.Warn("dropping slow viewer")
		}
	}
}

// ServeHTTP upgrades the request and attaches the new client to the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := newClient(h, conn)
	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// originChecker allows same-host handshakes plus the configured origins.
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := set[origin]; ok {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	}
}
