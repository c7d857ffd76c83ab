package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// WebhookBackend POSTs each event document to a URL.
type WebhookBackend struct {
	url    string
	client *http.Client
}

func NewWebhookBackend(url string, client *http.Client) *WebhookBackend {
	if client == nil {
		client = &http.Client{}
	}
	return &WebhookBackend{url: url, client: client}
}

func (w *WebhookBackend) Name() string {
	return "webhook " + w.url
}

func (w *WebhookBackend) Publish(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "omnistore-notify")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode >= 300 {
		return &httpError{statusCode: resp.StatusCode}
	}
	return nil
}

func (w *WebhookBackend) Close() error {
	w.client.CloseIdleConnections()
	return nil
}

type httpError struct {
	statusCode int
}

func (e *httpError) Error() string {
	return fmt.Sprintf("webhook returned status %d", e.statusCode)
}
