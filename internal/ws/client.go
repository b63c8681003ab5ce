package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"wabridge/internal/dispatch"
	"wabridge/internal/wa"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // outbound media rides in by URL, frames stay small

	sendBuffer = 64
)

// Client is one connected websocket viewer.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// subs holds conversation topics this client filtered down to. Empty
	// means everything. Only touched from the hub goroutine.
	subs map[string]struct{}
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		subs: make(map[string]struct{}),
	}
}

// wants reports whether a frame tagged with the given conversation topic
// should reach this client. Lifecycle frames pass an empty topic and always
// go through.
func (c *Client) wants(topic string) bool {
	if topic == "" || len(c.subs) == 0 {
		return true
	}
	_, ok := c.subs[topic]
	return ok
}

// enqueue hands a pre-encoded frame to the write pump. A viewer that cannot
// keep up is disconnected rather than allowed to block the hub.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// sendEvent encodes and enqueues a frame for this client only.
func (c *Client) sendEvent(event string, payload any) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		c.hub.logger.Error("frame encode failed", zap.String("event", event), zap.Error(err))
		return
	}
	c.enqueue(frame)
}

// readPump consumes frames from the browser until the connection dies.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.sendEvent(EventError, errorPayload{Message: "malformed frame"})
			continue
		}
		c.handleFrame(frame)
	}
}

// handleFrame processes one client request. Failures are reported back to
// this client alone; other viewers never see them.
func (c *Client) handleFrame(frame Frame) {
	switch frame.Event {
	case EventSendMessage:
		var req dispatch.SendRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			c.sendEvent(EventError, errorPayload{Message: "malformed send_message payload"})
			return
		}
		if _, err := c.hub.sender.Send(context.Background(), req); err != nil {
			c.sendEvent(EventError, errorPayload{Message: err.Error()})
		}

	case EventMarkRead:
		var req markReadPayload
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			c.sendEvent(EventError, errorPayload{Message: "malformed mark_read payload"})
			return
		}
		key, err := wa.NormalizeKey(req.PhoneNumber)
		if err != nil {
			c.sendEvent(EventError, errorPayload{Message: err.Error()})
			return
		}
		c.hub.store.ClearUnread(context.Background(), key)

	case EventSubscribe, EventUnsubscribe:
		var req topicPayload
		if err := json.Unmarshal(frame.Data, &req); err != nil || req.PhoneNumber == "" {
			c.sendEvent(EventError, errorPayload{Message: "malformed subscription payload"})
			return
		}
		key, err := wa.NormalizeKey(req.PhoneNumber)
		if err != nil {
			c.sendEvent(EventError, errorPayload{Message: err.Error()})
			return
		}
		select {
		case c.hub.retopic <- retopicRequest{
			client:    c,
			topic:     key,
			subscribe: frame.Event == EventSubscribe,
		}:
		case <-c.hub.done:
		}

	default:
		c.sendEvent(EventError, errorPayload{Message: "unknown event: " + frame.Event})
	}
}

// writePump pushes queued frames and keepalive pings to the browser.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
