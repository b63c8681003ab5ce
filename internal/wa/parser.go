package wa

import (
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"

	"wabridge/internal/store"
)

// ParsedMessage is a normalized live message ready for ingestion. MediaData
// is populated by the event handler before the message reaches the bus; the
// ingestion engine only moves bytes to the media store.
type ParsedMessage struct {
	ChatJID    string
	MsgID      string
	SenderJID  string
	SenderName string
	Body       string
	FromMe     bool
	IsGroup    bool
	Timestamp  time.Time

	MediaType string
	FileName  string
	MediaData []byte
}

// ParseLiveMessage normalizes a whatsmeow message event. Media bytes are not
// downloaded here; see EventHandler.
func ParseLiveMessage(evt *events.Message) *ParsedMessage {
	chat := evt.Info.Chat.ToNonAD()
	sender := evt.Info.Sender.ToNonAD()

	p := &ParsedMessage{
		ChatJID:    chat.String(),
		MsgID:      evt.Info.ID,
		SenderJID:  sender.String(),
		SenderName: evt.Info.PushName,
		Body:       extractTextBody(evt.Message),
		FromMe:     evt.Info.IsFromMe,
		IsGroup:    isGroupJID(chat),
		Timestamp:  evt.Info.Timestamp,
	}

	if dl, mimeType, fileName := mediaPart(evt.Message); dl != nil {
		p.MediaType = mimeType
		p.FileName = fileName
	}
	return p
}

// HasMedia reports whether the underlying message carries an attachment.
func (p *ParsedMessage) HasMedia() bool {
	return p.MediaType != ""
}

// ToMessage converts the parsed message to a store message. The routing
// side (From for inbound, To for outbound) always carries the chat JID so
// the store's owning-key rule lands on the conversation the event belongs
// to. In group chats the individual sender only survives as the display
// name.
func (p *ParsedMessage) ToMessage() store.Message {
	msg := store.Message{
		ID:        p.MsgID,
		Body:      p.Body,
		Timestamp: p.Timestamp.UTC().Format(time.RFC3339),
		FromMe:    p.FromMe,
	}
	if p.FromMe {
		msg.From = p.SenderJID
		msg.To = p.ChatJID
	} else {
		msg.From = p.ChatJID
	}
	if p.IsGroup && !p.FromMe {
		msg.Sender = p.SenderName
	}
	return msg
}

func extractTextBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	if img := msg.GetImageMessage(); img != nil {
		return img.GetCaption()
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetCaption()
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		return doc.GetCaption()
	}
	return ""
}

// mediaPart returns the downloadable section of a media message along with
// its MIME type and a file name (derived from the message for kinds that
// don't carry one).
func mediaPart(msg *waE2E.Message) (whatsmeow.DownloadableMessage, string, string) {
	if msg == nil {
		return nil, "", ""
	}
	switch {
	case msg.GetImageMessage() != nil:
		img := msg.GetImageMessage()
		return img, img.GetMimetype(), ""
	case msg.GetVideoMessage() != nil:
		vid := msg.GetVideoMessage()
		return vid, vid.GetMimetype(), ""
	case msg.GetAudioMessage() != nil:
		aud := msg.GetAudioMessage()
		return aud, aud.GetMimetype(), ""
	case msg.GetDocumentMessage() != nil:
		doc := msg.GetDocumentMessage()
		return doc, doc.GetMimetype(), doc.GetFileName()
	case msg.GetStickerMessage() != nil:
		st := msg.GetStickerMessage()
		return st, st.GetMimetype(), ""
	default:
		return nil, "", ""
	}
}
