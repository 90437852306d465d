package board

import (
	"log/slog"

	"github.com/google/uuid"

	"murmur/internal/domain"
)

// StaticHardware carries the board identity. The client id is generated once
// per process when the configuration does not pin one.
type StaticHardware struct {
	deviceID string
	clientID string
	log      *slog.Logger
}

func NewStaticHardware(deviceID string, clientID string, log *slog.Logger) *StaticHardware {
	if log == nil {
		log = slog.Default()
	}
	if clientID == "" {
		clientID = uuid.NewString()
	}
	return &StaticHardware{deviceID: deviceID, clientID: clientID, log: log}
}

func (h *StaticHardware) DeviceID() string { return h.deviceID }
func (h *StaticHardware) ClientID() string { return h.clientID }

// Reboot on the simulated board only logs. Real hardware resets here.
func (h *StaticHardware) Reboot() {
	h.log.Warn("reboot requested")
}

// LogLED mirrors state changes into the log instead of an indicator light.
type LogLED struct {
	log *slog.Logger
}

func NewLogLED(log *slog.Logger) *LogLED {
	if log == nil {
		log = slog.Default()
	}
	return &LogLED{log: log}
}

func (l *LogLED) OnStateChanged(state domain.DeviceState) {
	l.log.Debug("led", "state", state.String())
}
