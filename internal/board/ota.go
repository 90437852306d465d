package board

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"murmur/internal/domain"
)

// ErrNotActivated reports that the release server has not yet accepted this
// device.
var ErrNotActivated = errors.New("device is not activated yet")

// OTAClient talks to the release server: version checks, activation polling,
// and firmware downloads. One client serves both ports.VersionChecker and
// ports.Updater, so the firmware URL from the last check is on hand when the
// upgrade runs.
type OTAClient struct {
	baseURL  string
	version  string
	deviceID string
	clientID string
	stateDir string
	log      *slog.Logger
	client   *http.Client

	mu          sync.Mutex
	firmwareURL string
	challenge   string
}

type OTAConfig struct {
	BaseURL  string
	Version  string
	DeviceID string
	ClientID string
	StateDir string
}

func NewOTAClient(cfg OTAConfig, log *slog.Logger) *OTAClient {
	if log == nil {
		log = slog.Default()
	}
	return &OTAClient{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		version:  cfg.Version,
		deviceID: cfg.DeviceID,
		clientID: cfg.ClientID,
		stateDir: cfg.StateDir,
		log:      log,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

type checkRequest struct {
	Version  string `json:"version"`
	DeviceID string `json:"device_id"`
	ClientID string `json:"client_id"`
}

type checkResponse struct {
	Firmware struct {
		Version string `json:"version"`
		URL     string `json:"url"`
	} `json:"firmware"`
	Activation struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Challenge string `json:"challenge"`
	} `json:"activation"`
}

// Check reports the latest firmware and, for unactivated devices, the
// activation code the user must enter.
func (o *OTAClient) Check(ctx context.Context) (domain.VersionInfo, error) {
	body, err := json.Marshal(checkRequest{
		Version:  o.version,
		DeviceID: o.deviceID,
		ClientID: o.clientID,
	})
	if err != nil {
		return domain.VersionInfo{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/", bytes.NewReader(body))
	if err != nil {
		return domain.VersionInfo{}, err
	}
	o.setHeaders(req)

	resp, err := o.client.Do(req)
	if err != nil {
		return domain.VersionInfo{}, fmt.Errorf("version check request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.VersionInfo{}, fmt.Errorf("release server returned %d", resp.StatusCode)
	}

	var parsed checkResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&parsed); err != nil {
		return domain.VersionInfo{}, fmt.Errorf("failed to decode version response: %w", err)
	}

	o.mu.Lock()
	o.firmwareURL = parsed.Firmware.URL
	o.challenge = parsed.Activation.Challenge
	o.mu.Unlock()

	info := domain.VersionInfo{
		CurrentVersion: o.version,
		LatestVersion:  parsed.Firmware.Version,
		HasUpdate:      newerVersion(parsed.Firmware.Version, o.version),
		ActivationCode: parsed.Activation.Code,
		ActivationText: parsed.Activation.Message,
	}
	return info, nil
}

// Activate polls the activation endpoint once. 200 means accepted; 202 means
// the user has not entered the code yet.
func (o *OTAClient) Activate(ctx context.Context) error {
	o.mu.Lock()
	challenge := o.challenge
	o.mu.Unlock()

	body, err := json.Marshal(map[string]string{
		"device_id": o.deviceID,
		"challenge": challenge,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/activate", bytes.NewReader(body))
	if err != nil {
		return err
	}
	o.setHeaders(req)

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("activation request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4*1024))

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusAccepted:
		return ErrNotActivated
	default:
		return fmt.Errorf("activation endpoint returned %d", resp.StatusCode)
	}
}

// Upgrade downloads the firmware image advertised by the last Check into the
// state directory. The simulated board stops there; real hardware flashes
// the image before the controller reboots.
func (o *OTAClient) Upgrade(ctx context.Context, version string, progress func(percent int, speedBps int)) error {
	o.mu.Lock()
	url := o.firmwareURL
	o.mu.Unlock()
	if url == "" {
		return errors.New("no firmware url from the last version check")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	o.setHeaders(req)

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("firmware download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("firmware server returned %d", resp.StatusCode)
	}

	if err := os.MkdirAll(o.stateDir, 0o755); err != nil {
		return err
	}
	target := filepath.Join(o.stateDir, "firmware-"+version+".bin")
	out, err := os.Create(target)
	if err != nil {
		return err
	}
	defer out.Close()

	total := resp.ContentLength
	var written int64
	started := time.Now()
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				return err
			}
			written += int64(n)
			if progress != nil {
				// Chunked responses carry no length; the percent only
				// moves once the total is known.
				percent := 0
				if total > 0 {
					percent = int(written * 100 / total)
				}
				progress(percent, downloadSpeed(written, started))
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("firmware download interrupted: %w", readErr)
		}
	}
	if progress != nil {
		progress(100, downloadSpeed(written, started))
	}

	o.log.Info("firmware downloaded", "version", version, "bytes", written, "path", target)
	return nil
}

func downloadSpeed(written int64, started time.Time) int {
	elapsed := time.Since(started).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return int(float64(written) / elapsed)
}

func (o *OTAClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Device-Id", o.deviceID)
	req.Header.Set("Client-Id", o.clientID)
	req.Header.Set("User-Agent", "murmur/"+o.version)
}

// newerVersion compares dotted numeric versions.
func newerVersion(candidate string, current string) bool {
	if candidate == "" {
		return false
	}
	a := strings.Split(candidate, ".")
	b := strings.Split(current, ".")
	for i := 0; i < len(a) || i < len(b); i++ {
		av, bv := 0, 0
		if i < len(a) {
			av, _ = strconv.Atoi(a[i])
		}
		if i < len(b) {
			bv, _ = strconv.Atoi(b[i])
		}
		if av != bv {
			return av > bv
		}
	}
	return false
}
