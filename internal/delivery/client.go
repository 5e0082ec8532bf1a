package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"atonsvc/internal/secom"
	"atonsvc/pkg/platform/sentinel"
)

// HTTPClient pushes signed payloads to subscriber endpoints over HTTP POST.
type HTTPClient struct {
	client *http.Client
}

// NewHTTPClient constructs the push client. A zero timeout disables the
// client-level deadline; callers bound deliveries through the context.
func NewHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{client: &http.Client{Timeout: timeout}}
}

// Deliver posts the envelope to the endpoint. Any non-2xx response is a
// delivery failure.
func (c *HTTPClient) Deliver(ctx context.Context, endpoint string, envelope secom.SignedEnvelope) error {
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver to %s: %w", endpoint, sentinel.ErrUnavailable)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("deliver to %s: status %d: %w", endpoint, resp.StatusCode, sentinel.ErrUnavailable)
	}
	return nil
}
