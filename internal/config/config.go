package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config stores runtime configuration for the device daemon.
type Config struct {
	Server Server
	MQTT   MQTT
	Device Device
	Audio  Audio
	Timing Timing
}

// Server configures the websocket transport and the release endpoints.
type Server struct {
	WebsocketURL string
	AccessToken  string
	HelloTimeout time.Duration
	OTAURL       string
	NotifyURL    string
}

// MQTT configures the broker transport. A device with an empty BrokerURL
// talks websocket instead.
type MQTT struct {
	BrokerURL      string
	Username       string
	Password       string
	PublishTopic   string
	SubscribeTopic string
}

// Device identifies this unit and its local storage.
type Device struct {
	DeviceID  string
	ClientID  string
	StateDir  string
	Version   string
	AecOnline bool
}

// Audio selects the microphone capture source. With capture disabled the
// daemon runs the simulated pipeline.
type Audio struct {
	CaptureEnabled bool
	Command        string
	InputFormat    string
	InputDevice    string
	SampleRate     int
	Channels       int
}

// Timing overrides the controller's built-in schedule. Zero values keep the
// defaults.
type Timing struct {
	ReconnectGap     time.Duration
	InspectionDelay  time.Duration
	AutoLogoutAfter  time.Duration
	ClearScreenAfter time.Duration
}

// Load resolves configuration from environment variables and sensible defaults.
func Load() (Config, error) {
	stateDir := strings.TrimSpace(os.Getenv("MURMUR_STATE_DIR"))
	if stateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, errors.New("could not determine home directory")
		}
		stateDir = filepath.Join(home, ".local", "share", "murmur")
	}

	cfg := Config{
		Server: Server{
			WebsocketURL: envOrDefault("MURMUR_WEBSOCKET_URL", "wss://api.tenclass.net/xiaozhi/v1/"),
			AccessToken:  strings.TrimSpace(os.Getenv("MURMUR_ACCESS_TOKEN")),
			HelloTimeout: time.Duration(envOrDefaultInt("MURMUR_HELLO_TIMEOUT_MS", 10000)) * time.Millisecond,
			OTAURL:       envOrDefault("MURMUR_OTA_URL", "https://api.tenclass.net/xiaozhi/ota/"),
			NotifyURL:    strings.TrimSpace(os.Getenv("MURMUR_NOTIFY_URL")),
		},
		MQTT: MQTT{
			BrokerURL:      strings.TrimSpace(os.Getenv("MURMUR_MQTT_BROKER")),
			Username:       strings.TrimSpace(os.Getenv("MURMUR_MQTT_USERNAME")),
			Password:       os.Getenv("MURMUR_MQTT_PASSWORD"),
			PublishTopic:   envOrDefault("MURMUR_MQTT_PUBLISH_TOPIC", "device-server"),
			SubscribeTopic: envOrDefault("MURMUR_MQTT_SUBSCRIBE_TOPIC", "server-device"),
		},
		Device: Device{
			DeviceID:  envOrDefault("MURMUR_DEVICE_ID", "00:00:00:00:00:00"),
			ClientID:  strings.TrimSpace(os.Getenv("MURMUR_CLIENT_ID")),
			StateDir:  stateDir,
			Version:   envOrDefault("MURMUR_VERSION", "1.0.0"),
			AecOnline: envOrDefaultBool("MURMUR_AEC_ONLINE", false),
		},
		Audio: Audio{
			CaptureEnabled: envOrDefaultBool("MURMUR_AUDIO_CAPTURE", false),
			Command:        envOrDefault("MURMUR_FFMPEG_COMMAND", "ffmpeg"),
			InputFormat:    envOrDefault("MURMUR_AUDIO_INPUT_FORMAT", "pulse"),
			InputDevice:    envOrDefault("MURMUR_AUDIO_INPUT_DEVICE", "default"),
			SampleRate:     envOrDefaultInt("MURMUR_AUDIO_SAMPLE_RATE", 16000),
			Channels:       envOrDefaultInt("MURMUR_AUDIO_CHANNELS", 1),
		},
		Timing: Timing{
			ReconnectGap:     time.Duration(envOrDefaultInt("MURMUR_RECONNECT_GAP_MS", 5000)) * time.Millisecond,
			InspectionDelay:  time.Duration(envOrDefaultInt("MURMUR_INSPECTION_DELAY_S", 60)) * time.Second,
			AutoLogoutAfter:  time.Duration(envOrDefaultInt("MURMUR_AUTO_LOGOUT_H", 24)) * time.Hour,
			ClearScreenAfter: time.Duration(envOrDefaultInt("MURMUR_CLEAR_SCREEN_S", 10)) * time.Second,
		},
	}

	if cfg.Server.HelloTimeout <= 0 {
		cfg.Server.HelloTimeout = 10 * time.Second
	}
	if cfg.Timing.ReconnectGap < 0 {
		cfg.Timing.ReconnectGap = 5 * time.Second
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}

	return cfg, nil
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
