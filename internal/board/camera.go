package board

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// VisionCamera has no local sensor; login capture is simulated and photo
// explanation goes to the vision endpoint the tool server configures during
// the initialize handshake.
type VisionCamera struct {
	log    *slog.Logger
	client *http.Client

	mu         sync.Mutex
	capturing  bool
	explainURL string
	token      string
}

func NewVisionCamera(log *slog.Logger) *VisionCamera {
	if log == nil {
		log = slog.Default()
	}
	return &VisionCamera{
		log:    log,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *VisionCamera) StartLoginCapture() {
	c.mu.Lock()
	c.capturing = true
	c.mu.Unlock()
	c.log.Info("login capture started")
}

func (c *VisionCamera) StopLoginCapture() {
	c.mu.Lock()
	c.capturing = false
	c.mu.Unlock()
	c.log.Info("login capture stopped")
}

func (c *VisionCamera) Capture() error {
	c.log.Debug("frame captured")
	return nil
}

func (c *VisionCamera) SetExplainURL(url string, token string) {
	c.mu.Lock()
	c.explainURL = url
	c.token = token
	c.mu.Unlock()
	c.log.Info("vision endpoint configured", "url", url)
}

// Explain sends the question to the vision endpoint and returns the raw
// response body.
func (c *VisionCamera) Explain(question string) (string, error) {
	c.mu.Lock()
	url := c.explainURL
	token := c.token
	c.mu.Unlock()
	if url == "" {
		return "", fmt.Errorf("vision endpoint is not configured")
	}

	body, err := json.Marshal(map[string]string{"question": question})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("vision request failed: %w", err)
	}
	defer resp.Body.Close()
	answer, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("vision endpoint returned %d", resp.StatusCode)
	}
	return string(answer), nil
}
