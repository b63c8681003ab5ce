package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"wabridge/internal/bus"
	"wabridge/internal/store"
	"wabridge/internal/wa"
)

type fakeSaver struct {
	url   string
	err   error
	calls int
}

func (f *fakeSaver) Save(data []byte, mimeType, fileName string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

func parsedText(id, chat, body string) *wa.ParsedMessage {
	return &wa.ParsedMessage{
		ChatJID:   chat,
		MsgID:     id,
		SenderJID: chat,
		Body:      body,
		Timestamp: time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC),
	}
}

func collect(t *testing.T, ch <-chan bus.Event, n int) []bus.Event {
	t.Helper()
	out := make([]bus.Event, 0, n)
	for len(out) < n {
		select {
		case evt := <-ch:
			out = append(out, evt)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d of %d", len(out)+1, n)
		}
	}
	return out
}

func TestIngestBroadcastsMessageAndUpdate(t *testing.T) {
	b := bus.New()
	st := store.New(nil, nil)
	e := New(b, st, nil, nil)

	ch, unsub := b.Subscribe("chat.", 16)
	defer unsub()

	e.Ingest(context.Background(), parsedText("MSG1", "5511888888888@s.whatsapp.net", "hello"))

	events := collect(t, ch, 2)
	if events[0].Kind != bus.KindChatMessage {
		t.Errorf("first event kind = %q", events[0].Kind)
	}
	if events[1].Kind != bus.KindChatUpdated {
		t.Errorf("second event kind = %q", events[1].Kind)
	}

	msg, ok := events[0].Payload.(store.Message)
	if !ok || msg.Body != "hello" {
		t.Fatalf("chat.message payload = %#v", events[0].Payload)
	}
	conv, ok := events[1].Payload.(store.Conversation)
	if !ok || conv.UnreadCount != 1 || len(conv.Messages) != 1 {
		t.Fatalf("chat.updated payload = %#v", events[1].Payload)
	}
}

func TestIngestDuplicateIsSilent(t *testing.T) {
	b := bus.New()
	st := store.New(nil, nil)
	e := New(b, st, nil, nil)

	ch, unsub := b.Subscribe("chat.", 16)
	defer unsub()

	e.Ingest(context.Background(), parsedText("MSG1", "5511888888888@s.whatsapp.net", "hello"))
	e.Ingest(context.Background(), parsedText("MSG1", "5511888888888@s.whatsapp.net", "hello"))

	collect(t, ch, 2)
	select {
	case evt := <-ch:
		t.Fatalf("duplicate produced event %q", evt.Kind)
	case <-time.After(100 * time.Millisecond):
	}

	conv := st.Snapshot()["5511888888888@s.whatsapp.net"]
	if len(conv.Messages) != 1 || conv.UnreadCount != 1 {
		t.Errorf("store mutated by duplicate: %d messages, %d unread",
			len(conv.Messages), conv.UnreadCount)
	}
}

func TestIngestAttachesMedia(t *testing.T) {
	b := bus.New()
	st := store.New(nil, nil)
	saver := &fakeSaver{url: "http://localhost:3000/media/images/abc.jpg"}
	e := New(b, st, saver, nil)

	parsed := parsedText("MSG2", "5511888888888@s.whatsapp.net", "look")
	parsed.MediaType = "image/jpeg"
	parsed.MediaData = []byte{0xff, 0xd8, 0xff}

	e.Ingest(context.Background(), parsed)

	if saver.calls != 1 {
		t.Fatalf("saver calls = %d", saver.calls)
	}
	msg := st.Snapshot()["5511888888888@s.whatsapp.net"].Messages[0]
	if msg.Media == nil {
		t.Fatal("message has no media")
	}
	if msg.Media.URL != saver.url || msg.Media.Type != "image/jpeg" || msg.Media.FileSize != 3 {
		t.Errorf("media = %+v", msg.Media)
	}
}

func TestIngestKeepsMessageWhenSaveFails(t *testing.T) {
	b := bus.New()
	st := store.New(nil, nil)
	saver := &fakeSaver{err: errors.New("disk full")}
	e := New(b, st, saver, nil)

	parsed := parsedText("MSG3", "5511888888888@s.whatsapp.net", "caption")
	parsed.MediaType = "image/jpeg"
	parsed.MediaData = []byte{1, 2, 3}

	e.Ingest(context.Background(), parsed)

	msg := st.Snapshot()["5511888888888@s.whatsapp.net"].Messages[0]
	if msg.Media != nil {
		t.Error("media attached despite save failure")
	}
	if msg.Body != "caption" {
		t.Errorf("body = %q", msg.Body)
	}
}

func TestEngineConsumesBusEvents(t *testing.T) {
	b := bus.New()
	st := store.New(nil, nil)
	e := New(b, st, nil, nil)
	e.Start()
	defer e.Stop()

	b.Publish(bus.Event{
		Kind:      bus.KindInboundMessage,
		Timestamp: time.Now(),
		Payload:   parsedText("MSG4", "5511777777777@s.whatsapp.net", "via bus"),
	})

	deadline := time.After(2 * time.Second)
	for {
		if conv, ok := st.Snapshot()["5511777777777@s.whatsapp.net"]; ok && len(conv.Messages) == 1 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("message never reached the store")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
