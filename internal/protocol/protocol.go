// Package protocol implements the device/server session layer: a transport
// interface, a shared session base with typed outbound senders, and two
// transports (websocket and MQTT broker).
package protocol

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"murmur/internal/domain"
)

// channelTimeout is how long the channel may go without inbound traffic
// before IsTimeout reports true.
const channelTimeout = 120 * time.Second

// Protocol is a device/server session over one transport. Implementations
// are safe for concurrent use; senders return an error when the channel is
// not open.
type Protocol interface {
	// Start brings up transport-level connectivity (broker connection,
	// endpoint validation). It does not open an audio channel.
	Start(ctx context.Context) error
	OpenAudioChannel(ctx context.Context) error
	CloseAudioChannel()
	IsAudioChannelOpened() bool

	SendAudio(packet domain.AudioPacket) error
	SendText(text string) error
	SendStartListening(mode domain.ListeningMode) error
	SendStopListening() error
	SendAbortSpeaking(reason domain.AbortReason) error
	SendWakeWordDetected(wakeWord string, userInfo string) error
	SendMcpMessage(payload json.RawMessage) error

	SessionID() string
	ServerSampleRate() int
	SetTimeoutCheckEnabled(enabled bool)
	IsTimeout() bool
}

// Handlers receives inbound traffic and lifecycle events. Callbacks run on
// transport goroutines; receivers must hand work to the event loop
// themselves. Nil callbacks are skipped.
type Handlers struct {
	OnIncomingJSON       func(env Envelope)
	OnIncomingAudio      func(packet domain.AudioPacket)
	OnAudioChannelOpened func()
	OnAudioChannelClosed func()
	OnNetworkError       func(message string)
}

// session is the transport-independent half of a Protocol: session identity,
// inbound-traffic timestamping, timeout accounting, and the typed senders.
// Concrete transports embed it and provide sendText.
type session struct {
	handlers Handlers
	log      *slog.Logger

	// sendText is set by the embedding transport to its SendText method.
	sendText func(text string) error

	mu               sync.Mutex
	sessionID        string
	serverSampleRate int
	lastIncoming     time.Time
	timeoutCheck     bool
}

func newSession(handlers Handlers, log *slog.Logger) session {
	if log == nil {
		log = slog.Default()
	}
	return session{handlers: handlers, log: log}
}

func (s *session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *session) setSessionID(id string) {
	s.mu.Lock()
	s.sessionID = id
	s.mu.Unlock()
}

func (s *session) ServerSampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverSampleRate
}

func (s *session) setServerSampleRate(rate int) {
	s.mu.Lock()
	s.serverSampleRate = rate
	s.mu.Unlock()
}

func (s *session) SetTimeoutCheckEnabled(enabled bool) {
	s.mu.Lock()
	s.timeoutCheck = enabled
	s.mu.Unlock()
}

// touchIncoming records inbound traffic of any kind.
func (s *session) touchIncoming() {
	s.mu.Lock()
	s.lastIncoming = time.Now()
	s.mu.Unlock()
}

// IsTimeout reports whether the channel has been silent past the limit.
// Always false while timeout checking is disabled or before any traffic.
func (s *session) IsTimeout() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.timeoutCheck || s.lastIncoming.IsZero() {
		return false
	}
	return time.Since(s.lastIncoming) > channelTimeout
}

func (s *session) reportError(message string) {
	if s.handlers.OnNetworkError != nil {
		s.handlers.OnNetworkError(message)
	}
}

func (s *session) SendStartListening(mode domain.ListeningMode) error {
	return s.sendText(startListeningMessage(s.SessionID(), mode))
}

func (s *session) SendStopListening() error {
	return s.sendText(stopListeningMessage(s.SessionID()))
}

func (s *session) SendAbortSpeaking(reason domain.AbortReason) error {
	return s.sendText(abortSpeakingMessage(s.SessionID(), reason))
}

func (s *session) SendWakeWordDetected(wakeWord string, userInfo string) error {
	return s.sendText(wakeWordDetectedMessage(s.SessionID(), wakeWord, userInfo))
}

func (s *session) SendMcpMessage(payload json.RawMessage) error {
	return s.sendText(mcpMessage(s.SessionID(), payload))
}
