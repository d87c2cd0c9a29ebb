package molt

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxImageBytes = 20 << 20

// HTTPFetcher downloads generated images.
type HTTPFetcher struct {
	Client *http.Client
}

// NewHTTPFetcher uses client, or a client with a one minute timeout when nil.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: time.Minute}
	}
	return &HTTPFetcher{Client: client}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("download image: larger than %d bytes", maxImageBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("download image: empty body")
	}
	return data, nil
}
