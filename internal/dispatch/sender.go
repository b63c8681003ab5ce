// Package dispatch sends outbound messages through the WhatsApp connection
// and records the accepted result in the conversation store.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"wabridge/internal/bus"
	"wabridge/internal/store"
	"wabridge/internal/wa"
)

var (
	// ErrNotRegistered is returned when the target phone number has no
	// WhatsApp account.
	ErrNotRegistered = errors.New("phone number is not registered on WhatsApp")

	// ErrInvalidNumber is returned when the target cannot be normalized
	// into a phone key.
	ErrInvalidNumber = errors.New("invalid phone number")
)

// Client is the messaging surface the dispatcher needs. Satisfied by
// *wa.Adapter.
type Client interface {
	SendText(ctx context.Context, jid, text string) (string, time.Time, error)
	SendMedia(ctx context.Context, jid string, data []byte, mimeType, fileName, caption string) (string, time.Time, error)
	IsRegisteredUser(phone string) (bool, error)
	ContactName(ctx context.Context, jid string) string
	OwnJID() string
}

// MediaFetcher retrieves attachment bytes from a URL before sending.
type MediaFetcher func(ctx context.Context, url string) ([]byte, error)

// SendRequest is an outbound message. MediaURL empty means plain text; with
// media set, Message becomes the caption.
type SendRequest struct {
	PhoneNumber string `json:"phoneNumber" validate:"required"`
	Message     string `json:"message"`
	MediaURL    string `json:"mediaUrl,omitempty"`
	FileName    string `json:"fileName,omitempty"`
	FileSize    int64  `json:"fileSize,omitempty"`
	MediaType   string `json:"mediaType,omitempty"`
}

// Sender dispatches outbound messages: resolve the target, send over the
// wire, append the accepted message to the store, broadcast the mutation.
// Failed sends leave the store untouched.
type Sender struct {
	client Client
	store  *store.Store
	bus    *bus.Bus
	fetch  MediaFetcher
	logger *zap.Logger
}

// New creates a sender. fetch may be nil to disable media-by-URL sending.
func New(client Client, st *store.Store, b *bus.Bus, fetch MediaFetcher, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		client: client,
		store:  st,
		bus:    b,
		fetch:  fetch,
		logger: logger,
	}
}

// Send delivers the request to WhatsApp and records the sent message. The
// returned message carries the server-assigned ID and timestamp.
func (s *Sender) Send(ctx context.Context, req SendRequest) (store.Message, error) {
	jid, err := wa.NormalizeKey(req.PhoneNumber)
	if err != nil {
		return store.Message{}, fmt.Errorf("%w: %v", ErrInvalidNumber, err)
	}

	var (
		id    string
		ts    time.Time
		media *store.Media
	)
	if req.MediaURL != "" {
		if s.fetch == nil {
			return store.Message{}, errors.New("media sending is not configured")
		}
		data, err := s.fetch(ctx, req.MediaURL)
		if err != nil {
			return store.Message{}, fmt.Errorf("fetch outbound media: %w", err)
		}
		id, ts, err = s.client.SendMedia(ctx, jid, data, req.MediaType, req.FileName, req.Message)
		if err != nil {
			return store.Message{}, err
		}
		media = &store.Media{
			URL:      req.MediaURL,
			Type:     req.MediaType,
			FileName: req.FileName,
			FileSize: req.FileSize,
		}
	} else {
		id, ts, err = s.client.SendText(ctx, jid, req.Message)
		if err != nil {
			return store.Message{}, err
		}
	}

	msg := store.Message{
		ID:        id,
		From:      s.client.OwnJID(),
		To:        jid,
		Body:      req.Message,
		Timestamp: ts.UTC().Format(time.RFC3339),
		FromMe:    true,
		Media:     media,
	}

	conv, appended := s.store.Append(ctx, msg)
	if appended {
		now := time.Now()
		s.bus.Publish(bus.Event{Kind: bus.KindChatMessage, Timestamp: now, Payload: msg})
		s.bus.Publish(bus.Event{Kind: bus.KindChatUpdated, Timestamp: now, Payload: conv})
	}

	s.logger.Info("message dispatched",
		zap.String("to", jid),
		zap.String("msg_id", id),
		zap.Bool("media", media != nil))
	return msg, nil
}

// CreateChat verifies the number is on WhatsApp and opens an empty
// conversation for it, named after the contact when known. An existing
// conversation is returned unchanged.
func (s *Sender) CreateChat(ctx context.Context, phoneNumber string) (store.Conversation, error) {
	jid, err := wa.NormalizeKey(phoneNumber)
	if err != nil {
		return store.Conversation{}, fmt.Errorf("%w: %v", ErrInvalidNumber, err)
	}

	registered, err := s.client.IsRegisteredUser(jid)
	if err != nil {
		return store.Conversation{}, fmt.Errorf("verify registration: %w", err)
	}
	if !registered {
		return store.Conversation{}, ErrNotRegistered
	}

	name := s.client.ContactName(ctx, jid)
	conv, created := s.store.Create(ctx, jid, name)
	if created {
		s.bus.Publish(bus.Event{
			Kind:      bus.KindChatCreated,
			Timestamp: time.Now(),
			Payload:   conv,
		})
		s.logger.Info("chat created", zap.String("phone_key", jid))
	}
	return conv, nil
}
