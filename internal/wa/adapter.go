package wa

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"
)

// Adapter wraps the whatsmeow client and manages the WhatsApp connection.
// It is the only component that speaks the WhatsApp protocol; everything
// else sees parsed messages and bus events.
type Adapter struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	logger    *zap.Logger
}

// NewAdapter creates a WhatsApp adapter with credentials stored in the
// SQLite database at dbPath.
func NewAdapter(ctx context.Context, dbPath string, logger *zap.Logger) (*Adapter, error) {
	// Device name shown on the phone's linked devices list.
	wastore.SetOSInfo("wabridge", [3]uint32{0, 1, 0})

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	return &Adapter{
		client:    whatsmeow.NewClient(deviceStore, nil),
		container: container,
		logger:    logger,
	}, nil
}

// Client returns the underlying whatsmeow client.
func (a *Adapter) Client() *whatsmeow.Client {
	return a.client
}

// IsLoggedIn returns whether the adapter has valid credentials.
func (a *Adapter) IsLoggedIn() bool {
	return a.client.Store.ID != nil
}

// Connect initiates the WhatsApp connection.
func (a *Adapter) Connect() error {
	a.logger.Info("connecting to WhatsApp")
	return a.client.Connect()
}

// Disconnect terminates the WhatsApp connection.
func (a *Adapter) Disconnect() {
	a.logger.Info("disconnecting from WhatsApp")
	a.client.Disconnect()
}

// RegisterEventHandler adds a handler for whatsmeow events.
func (a *Adapter) RegisterEventHandler(handler whatsmeow.EventHandler) {
	a.client.AddEventHandler(handler)
}

// GetQRChannel returns the QR channel for pairing. Must be called before
// Connect.
func (a *Adapter) GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error) {
	if a.IsLoggedIn() {
		return nil, fmt.Errorf("already logged in")
	}
	ch, err := a.client.GetQRChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("get QR channel: %w", err)
	}
	return ch, nil
}

// SendText sends a text message to the given JID. Returns the server
// message ID and timestamp.
func (a *Adapter) SendText(ctx context.Context, jid string, text string) (string, time.Time, error) {
	to, err := types.ParseJID(jid)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("parse JID: %w", err)
	}
	resp, err := a.client.SendMessage(ctx, to, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("send message: %w", err)
	}
	return resp.ID, resp.Timestamp, nil
}

// SendMedia uploads the payload and sends it as the media kind matching its
// MIME type, with the caption riding along. Returns the server message ID
// and timestamp.
func (a *Adapter) SendMedia(ctx context.Context, jid string, data []byte, mimeType, fileName, caption string) (string, time.Time, error) {
	to, err := types.ParseJID(jid)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("parse JID: %w", err)
	}

	uploaded, err := a.client.Upload(ctx, data, uploadKindFor(mimeType))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("upload media: %w", err)
	}

	msg := buildMediaMessage(uploaded, data, mimeType, fileName, caption)
	resp, err := a.client.SendMessage(ctx, to, msg)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("send media: %w", err)
	}
	return resp.ID, resp.Timestamp, nil
}

// DownloadMedia fetches the binary content of a received media message.
func (a *Adapter) DownloadMedia(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error) {
	data, err := a.client.Download(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	return data, nil
}

// IsRegisteredUser checks whether the phone number has a WhatsApp account.
func (a *Adapter) IsRegisteredUser(phone string) (bool, error) {
	digits := digitsOf(phone)
	if digits == "" {
		return false, fmt.Errorf("no digits in %q", phone)
	}
	resp, err := a.client.IsOnWhatsApp(context.Background(), []string{"+" + digits})
	if err != nil {
		return false, fmt.Errorf("registration lookup: %w", err)
	}
	if len(resp) == 0 {
		return false, nil
	}
	return resp[0].IsIn, nil
}

// ContactName returns the contact's push name or full name, or empty string
// when the contact is unknown.
func (a *Adapter) ContactName(ctx context.Context, jid string) string {
	parsed, err := types.ParseJID(jid)
	if err != nil {
		return ""
	}
	info, err := a.client.Store.Contacts.GetContact(ctx, parsed)
	if err != nil || !info.Found {
		return ""
	}
	if info.PushName != "" {
		return info.PushName
	}
	return info.FullName
}

// OwnJID returns this device's user JID, or empty string before login.
func (a *Adapter) OwnJID() string {
	if a.client.Store.ID == nil {
		return ""
	}
	return a.client.Store.ID.ToNonAD().String()
}

func uploadKindFor(mimeType string) whatsmeow.MediaType {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return whatsmeow.MediaImage
	case strings.HasPrefix(mimeType, "video/"):
		return whatsmeow.MediaVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return whatsmeow.MediaAudio
	default:
		return whatsmeow.MediaDocument
	}
}

func buildMediaMessage(up whatsmeow.UploadResponse, data []byte, mimeType, fileName, caption string) *waE2E.Message {
	length := uint64(len(data))
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       proto.String(caption),
			Mimetype:      proto.String(mimeType),
			URL:           &up.URL,
			DirectPath:    &up.DirectPath,
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    &length,
		}}
	case strings.HasPrefix(mimeType, "video/"):
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       proto.String(caption),
			Mimetype:      proto.String(mimeType),
			URL:           &up.URL,
			DirectPath:    &up.DirectPath,
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    &length,
		}}
	case strings.HasPrefix(mimeType, "audio/"):
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype:      proto.String(mimeType),
			URL:           &up.URL,
			DirectPath:    &up.DirectPath,
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    &length,
		}}
	default:
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Caption:       proto.String(caption),
			FileName:      proto.String(fileName),
			Mimetype:      proto.String(mimeType),
			URL:           &up.URL,
			DirectPath:    &up.DirectPath,
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    &length,
		}}
	}
}
