package board

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// HTTPNotifier posts device messages to the companion notification service.
// A notifier with an empty URL drops messages after logging them, so boards
// without the service still run.
type HTTPNotifier struct {
	url    string
	log    *slog.Logger
	client *http.Client
}

func NewHTTPNotifier(url string, log *slog.Logger) *HTTPNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &HTTPNotifier{
		url:    url,
		log:    log,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *HTTPNotifier) PushMessage(ctx context.Context, deviceID string, message string) error {
	if n.url == "" {
		n.log.Info("notification dropped, no endpoint configured", "message", message)
		return nil
	}

	body, err := json.Marshal(map[string]string{
		"device_id": deviceID,
		"message":   message,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Device-Id", deviceID)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notification request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4*1024))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("notification endpoint returned %d", resp.StatusCode)
	}
	return nil
}
