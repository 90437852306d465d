package ports

import (
	"context"

	"murmur/internal/domain"
)

// VoicePipeline is the audio front end: wake word detection, voice
// processing (encode for upstream), and playback decode. Implementations own
// codecs and DSP; the controller only flips capabilities and moves packets.
type VoicePipeline interface {
	Start() error
	Stop() error

	EnableWakeWordDetection(enabled bool)
	EnableVoiceProcessing(enabled bool)
	IsVoiceProcessingRunning() bool
	EnableDeviceAec(enabled bool)
	EnableAudioTesting(enabled bool)

	// WakeWordActiveWhileSpeaking reports whether wake word detection can
	// stay on during playback (device-side echo cancellation available).
	WakeWordActiveWhileSpeaking() bool

	// LastWakeWord returns the most recently detected wake word phrase.
	LastWakeWord() string
	// EncodeWakeWordData starts encoding the buffered wake word utterance;
	// frames become available through PopWakeWordPacket.
	EncodeWakeWordData()
	PopWakeWordPacket() (domain.AudioPacket, bool)

	// PopSendPacket drains one captured frame bound for the server.
	PopSendPacket() (domain.AudioPacket, bool)
	// PushDecodePacket queues one server frame for playback.
	PushDecodePacket(packet domain.AudioPacket)
	ResetDecoder()

	OutputSampleRate() int
	OutputVolume() int
	SetOutputVolume(volume int)

	PlaySound(name string)
}

// Display is the device screen. Implementations decide layout; callers only
// push status, emotion, and chat content.
type Display interface {
	SetStatus(status string)
	SetEmotion(emotion string)
	SetChatMessage(role string, content string)
	ShowNotification(message string)
	SetBrightness(percent int) error
	SetTheme(name string) error
	Theme() string
}

// LED mirrors the device state on the indicator light.
type LED interface {
	OnStateChanged(state domain.DeviceState)
}

// Camera covers both the login face-capture flow and on-demand photo
// explanation for remote tools. Either capability may be absent on a board.
type Camera interface {
	StartLoginCapture()
	StopLoginCapture()
	Capture() error
	Explain(question string) (string, error)
	SetExplainURL(url string, token string)
}

// Settings is the persistent key/value store, partitioned by namespace.
type Settings interface {
	GetString(namespace string, key string, fallback string) string
	SetString(namespace string, key string, value string) error
	GetInt(namespace string, key string, fallback int) int
	SetInt(namespace string, key string, value int) error
	EraseNamespace(namespace string) error
}

// Hardware exposes board identity and power control.
type Hardware interface {
	DeviceID() string
	ClientID() string
	Reboot()
}

// VersionChecker talks to the release server.
type VersionChecker interface {
	Check(ctx context.Context) (domain.VersionInfo, error)
	// Activate polls the activation endpoint once; returns nil when the
	// device has been accepted.
	Activate(ctx context.Context) error
}

// Updater downloads and applies a firmware image.
type Updater interface {
	Upgrade(ctx context.Context, version string, progress func(percent int, speedBps int)) error
}

// Notifier delivers out-of-band push messages to companion services.
type Notifier interface {
	PushMessage(ctx context.Context, deviceID string, message string) error
}
