package wa

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"wabridge/internal/bus"
	"wabridge/internal/status"
)

// qrImageSize is the pixel size of the rendered QR PNG sent to viewers.
const qrImageSize = 256

// Authenticator runs the QR pairing flow and publishes lifecycle events.
type Authenticator struct {
	adapter *Adapter
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger
}

// NewAuthenticator creates an authenticator for the adapter.
func NewAuthenticator(adapter *Adapter, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *Authenticator {
	return &Authenticator{
		adapter: adapter,
		bus:     b,
		machine: machine,
		logger:  logger,
	}
}

// Start connects to WhatsApp. With stored credentials it connects directly;
// otherwise it runs the QR flow, publishing each code to viewers as a PNG
// data URL until the scan succeeds or fails. Blocks until the flow settles.
func (a *Authenticator) Start(ctx context.Context) error {
	if a.adapter.IsLoggedIn() {
		return a.adapter.Connect()
	}
	return a.runQRFlow(ctx)
}

func (a *Authenticator) runQRFlow(ctx context.Context) error {
	qrChan, err := a.adapter.GetQRChannel(ctx)
	if err != nil {
		return err
	}

	// Connect must be called after GetQRChannel.
	if err := a.adapter.Connect(); err != nil {
		a.publish(bus.KindSessionAuthFailure, err.Error())
		return fmt.Errorf("connect for pairing: %w", err)
	}

	for item := range qrChan {
		switch item.Event {
		case "code":
			_ = a.machine.Transition(status.AwaitingScan)
			encoded, err := encodeQRDataURL(item.Code)
			if err != nil {
				a.logger.Error("QR encode failed", zap.Error(err))
				continue
			}
			a.publish(bus.KindSessionQR, encoded)
		case "success":
			a.logger.Info("QR scan accepted")
			_ = a.machine.Transition(status.Authenticated)
			a.publish(bus.KindSessionAuthenticated, "")
			return nil
		case "timeout":
			a.publish(bus.KindSessionAuthFailure, "QR code timeout")
			_ = a.machine.Transition(status.Disconnected)
			return fmt.Errorf("QR pairing timed out")
		default:
			if item.Error != nil {
				a.publish(bus.KindSessionAuthFailure, item.Error.Error())
				_ = a.machine.Transition(status.Disconnected)
				return fmt.Errorf("QR pairing: %w", item.Error)
			}
		}
	}
	return nil
}

func (a *Authenticator) publish(kind, payload string) {
	a.bus.Publish(bus.Event{
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

// encodeQRDataURL renders the pairing code as a PNG data URL the browser
// can drop into an <img> tag.
func encodeQRDataURL(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, qrImageSize)
	if err != nil {
		return "", fmt.Errorf("encode QR: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
