package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	fetchTimeout = 30 * time.Second
	// maxFetchSize caps a single remote download (WhatsApp rejects larger
	// attachments anyway).
	maxFetchSize = 64 << 20
)

var fetchClient = &http.Client{Timeout: fetchTimeout}

// Fetch downloads the bytes behind a media URL for outbound sending.
func Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build media request: %w", err)
	}

	resp, err := fetchClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch media: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch media: unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchSize+1))
	if err != nil {
		return nil, fmt.Errorf("read media body: %w", err)
	}
	if len(data) > maxFetchSize {
		return nil, fmt.Errorf("media exceeds %d bytes", maxFetchSize)
	}
	return data, nil
}
