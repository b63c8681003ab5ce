// Package ingest moves parsed inbound messages from the bus into the
// conversation store and re-publishes the resulting store mutations.
package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"wabridge/internal/bus"
	"wabridge/internal/store"
	"wabridge/internal/wa"
)

// inboundBuffer is the subscription buffer for the inbound namespace. Sized
// for bursts of history on reconnect; overflow drops events (see bus.Publish).
const inboundBuffer = 256

// MediaSaver persists attachment bytes and returns a serving URL.
type MediaSaver interface {
	Save(data []byte, mimeType, fileName string) (string, error)
}

// Engine consumes inbound messages and applies them to the store. Exactly one
// chat.message and one chat.updated event come out per accepted message;
// duplicates produce neither.
type Engine struct {
	bus    *bus.Bus
	store  *store.Store
	media  MediaSaver
	logger *zap.Logger

	unsub func()
	done  chan struct{}
}

// New creates an ingestion engine. media may be nil when attachments should
// be dropped.
func New(b *bus.Bus, st *store.Store, media MediaSaver, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		bus:    b,
		store:  st,
		media:  media,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start subscribes to the inbound namespace and processes events until Stop.
func (e *Engine) Start() {
	ch, unsub := e.bus.Subscribe("wa.", inboundBuffer)
	e.unsub = unsub

	go func() {
		defer close(e.done)
		for evt := range ch {
			parsed, ok := evt.Payload.(*wa.ParsedMessage)
			if !ok {
				continue
			}
			e.Ingest(context.Background(), parsed)
		}
	}()
}

// Stop unsubscribes and waits for the worker to drain.
func (e *Engine) Stop() {
	if e.unsub != nil {
		e.unsub()
	}
	<-e.done
}

// Ingest applies one parsed message to the store and broadcasts the result.
// A failed media save keeps the message (without attachment); a duplicate
// message ID makes the whole call a no-op.
func (e *Engine) Ingest(ctx context.Context, parsed *wa.ParsedMessage) {
	msg := parsed.ToMessage()

	if parsed.HasMedia() && len(parsed.MediaData) > 0 && e.media != nil {
		url, err := e.media.Save(parsed.MediaData, parsed.MediaType, parsed.FileName)
		if err != nil {
			e.logger.Warn("media save failed, relaying message without attachment",
				zap.String("msg_id", msg.ID),
				zap.Error(err))
		} else {
			msg.Media = &store.Media{
				URL:      url,
				Type:     parsed.MediaType,
				FileName: parsed.FileName,
				FileSize: int64(len(parsed.MediaData)),
			}
		}
	}

	conv, appended := e.store.Append(ctx, msg)
	if !appended {
		e.logger.Debug("duplicate message ignored", zap.String("msg_id", msg.ID))
		return
	}

	now := time.Now()
	e.bus.Publish(bus.Event{Kind: bus.KindChatMessage, Timestamp: now, Payload: msg})
	e.bus.Publish(bus.Event{Kind: bus.KindChatUpdated, Timestamp: now, Payload: conv})
}
