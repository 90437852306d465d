package domain

// DeviceState models the device lifecycle. There is exactly one current
// state at any time; all transitions go through the controller's
// SetDeviceState on the scheduler goroutine.
type DeviceState int32

const (
	StateUnknown DeviceState = iota
	StateStarting
	StateWifiConfiguring
	StateIdle
	StateConnecting
	StateListening
	StateSpeaking
	StateUpgrading
	StateActivating
	StateAudioTesting
	StateFatalError
	StateLogin
)

var stateNames = map[DeviceState]string{
	StateUnknown:         "unknown",
	StateStarting:        "starting",
	StateWifiConfiguring: "configuring",
	StateIdle:            "idle",
	StateConnecting:      "connecting",
	StateListening:       "listening",
	StateSpeaking:        "speaking",
	StateUpgrading:       "upgrading",
	StateActivating:      "activating",
	StateAudioTesting:    "audio_testing",
	StateFatalError:      "fatal_error",
	StateLogin:           "login",
}

func (s DeviceState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "invalid_state"
}

// ListeningMode decides who ends a listening turn: the user, the device's
// silence detection, or nobody (continuous realtime exchange).
type ListeningMode int

const (
	ListeningManualStop ListeningMode = iota
	ListeningAutoStop
	ListeningRealtime
)

func (m ListeningMode) String() string {
	switch m {
	case ListeningRealtime:
		return "realtime"
	case ListeningAutoStop:
		return "auto"
	default:
		return "manual"
	}
}

// AecMode selects where acoustic echo cancellation runs. Changing it while
// an audio channel is open tears the channel down.
type AecMode int

const (
	AecOff AecMode = iota
	AecOnDeviceSide
	AecOnServerSide
)

// AbortReason tags an outbound abort-speaking command.
type AbortReason int

const (
	AbortReasonNone AbortReason = iota
	AbortReasonWakeWordDetected
)

// ErrorCode identifies non-fatal error categories surfaced to the display.
type ErrorCode string

const (
	ErrorCodeStartup   ErrorCode = "startup"
	ErrorCodeTransport ErrorCode = "transport"
	ErrorCodeProtocol  ErrorCode = "protocol"
	ErrorCodeTimeout   ErrorCode = "timeout"
	ErrorCodeUpgrade   ErrorCode = "upgrade"
	ErrorCodeToolCall  ErrorCode = "tool_call"
)

// AudioPacket is one encoded audio frame moving between the voice pipeline
// and the session layer. The payload encoding is owned by the pipeline.
type AudioPacket struct {
	Payload     []byte
	SampleRate  int
	FrameMillis int
	Timestamp   int64
}

// UserProfile is the recognized user loaded from the recognition server and
// persisted on the device.
type UserProfile struct {
	Name     string `json:"name"`
	Account  string `json:"account"`
	Password string `json:"password,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
	APIID    string `json:"api_id,omitempty"`
	UserID   int    `json:"user_id"`
}

// ScheduleItem is one entry of the user's daily agenda.
type ScheduleItem struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	Date       string `json:"schedule_date"`
	Status     int    `json:"status"`
	StatusText string `json:"status_text"`
}

// VersionInfo is the result of a firmware version check.
type VersionInfo struct {
	CurrentVersion string
	LatestVersion  string
	HasUpdate      bool
	ActivationCode string
	ActivationText string
}
