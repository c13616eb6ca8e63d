// Package notify delivers best-effort text notifications to a destination id
// over the notification channel API.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout = 15 * time.Second
	// sendTimeout bounds a single async send. Fire-and-forget sends use a
	// background context so request cancellation does not abort them.
	sendTimeout = 5 * time.Second
)

// Notifier sends a text message to a destination. Delivery is best-effort by
// contract; callers must not depend on it for correctness.
type Notifier interface {
	Send(ctx context.Context, destination, text string) error
}

// HTTPNotifier posts messages to the notification channel API.
type HTTPNotifier struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewHTTPNotifier returns a notifier for the given base URL.
func NewHTTPNotifier(baseURL string) *HTTPNotifier {
	return &HTTPNotifier{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

type sendRequest struct {
	Destination string `json:"destination"`
	Text        string `json:"text"`
}

// Send posts the message. Returns an error on transport failure or a non-2xx
// response.
func (n *HTTPNotifier) Send(ctx context.Context, destination, text string) error {
	raw, err := json.Marshal(sendRequest{Destination: destination, Text: text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.BaseURL+"/v1/messages", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("notify: request failed status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}

// Nop discards all messages. Used when no notification channel is configured.
type Nop struct{}

// Send discards the message.
func (Nop) Send(ctx context.Context, destination, text string) error { return nil }

// SendAsync runs Send in a goroutine with a short timeout so the caller is not
// blocked. Errors are logged, never propagated. notifier may be nil.
func SendAsync(notifier Notifier, destination, text string) {
	if notifier == nil || destination == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := notifier.Send(ctx, destination, text); err != nil {
			log.Printf("notify: async send failed: %v", err)
		}
	}()
}
