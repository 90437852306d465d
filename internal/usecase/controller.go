// Package usecase holds the device controller: the state machine, the
// event-loop handlers, inbound message dispatch, and session governance.
package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"murmur/internal/domain"
	"murmur/internal/mcp"
	"murmur/internal/ports"
	"murmur/internal/protocol"
	"murmur/internal/redact"
	"murmur/internal/scheduler"
	"murmur/internal/timers"
)

var ErrNoProtocol = errors.New("protocol is not attached")

// Config controls controller timing. Zero values fall back to the device
// defaults.
type Config struct {
	Version string

	ReconnectGap        time.Duration
	VersionCheckBase    time.Duration
	VersionCheckRetries int
	ActivationPoll      time.Duration
	ActivationRetries   int
	InspectionDelay     time.Duration
	AutoLogoutAfter     time.Duration
	DailyCheckEvery     time.Duration
	ClearScreenAfter    time.Duration
	PollInterval        time.Duration
}

func (c Config) withDefaults() Config {
	if c.Version == "" {
		c.Version = "0.0.0"
	}
	if c.ReconnectGap <= 0 {
		c.ReconnectGap = 5 * time.Second
	}
	if c.VersionCheckBase <= 0 {
		c.VersionCheckBase = 10 * time.Second
	}
	if c.VersionCheckRetries <= 0 {
		c.VersionCheckRetries = 10
	}
	if c.ActivationPoll <= 0 {
		c.ActivationPoll = 3 * time.Second
	}
	if c.ActivationRetries <= 0 {
		c.ActivationRetries = 60
	}
	if c.InspectionDelay <= 0 {
		c.InspectionDelay = 60 * time.Second
	}
	if c.AutoLogoutAfter <= 0 {
		c.AutoLogoutAfter = 24 * time.Hour
	}
	if c.DailyCheckEvery <= 0 {
		c.DailyCheckEvery = time.Hour
	}
	if c.ClearScreenAfter <= 0 {
		c.ClearScreenAfter = 10 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	return c
}

// Deps are the controller's collaborators. Protocol attaches separately
// because its handlers come from the controller itself.
type Deps struct {
	Voice    ports.VoicePipeline
	Display  ports.Display
	LED      ports.LED
	Camera   ports.Camera
	Hardware ports.Hardware
	Settings ports.Settings
	Versions ports.VersionChecker
	Updater  ports.Updater
	Notifier ports.Notifier
	Logger   *slog.Logger
}

// Controller orchestrates the device. All state transitions and channel
// work happen on the scheduler goroutine; public methods are safe to call
// from anywhere and hand their work to the loop.
type Controller struct {
	cfg Config
	log *slog.Logger

	loop   *scheduler.Loop
	timers *timers.Registry
	users  *UserManager
	tools  *mcp.Server
	filter *redact.Filter

	proto    protocol.Protocol
	voice    ports.VoicePipeline
	display  ports.Display
	led      ports.LED
	camera   ports.Camera
	hw       ports.Hardware
	store    ports.Settings
	versions ports.VersionChecker
	updater  ports.Updater
	notifier ports.Notifier

	state      atomic.Int32
	stateTicks atomic.Int32
	aecMode    atomic.Int32
	activated  atomic.Bool

	// Loop-owned fields, only touched on the scheduler goroutine.
	listeningMode     domain.ListeningMode
	aborted           bool
	ttsActive         bool
	pendingInspection bool
	loginSpeechDone   bool

	errMu   sync.Mutex
	lastErr string

	entryActions map[domain.DeviceState]func(*Controller)

	obsMu     sync.Mutex
	observers []stateObserver
}

// stateObserver is notified after every state transition.
type stateObserver func(from, to domain.DeviceState)

func NewController(deps Deps, cfg Config) *Controller {
	cfg = cfg.withDefaults()
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	c := &Controller{
		cfg:      cfg,
		log:      log,
		voice:    deps.Voice,
		display:  deps.Display,
		led:      deps.LED,
		camera:   deps.Camera,
		hw:       deps.Hardware,
		store:    deps.Settings,
		versions: deps.Versions,
		updater:  deps.Updater,
		notifier: deps.Notifier,

		listeningMode: domain.ListeningAutoStop,
		entryActions:  entryActions(),
	}
	c.loop = scheduler.New(scheduler.Handlers{
		OnError:     c.onError,
		OnSendAudio: c.onSendAudio,
		OnWakeWord:  c.onWakeWord,
		OnVADChange: c.onVADChange,
	}, log)
	c.timers = timers.NewRegistry(log)
	c.users = NewUserManager(deps.Settings, log)
	c.filter = redact.NewFilter()
	c.tools = mcp.NewServer("murmur", cfg.Version, c.sendMcpReply, log)
	c.tools.OnVisionConfig(func(url, token string) {
		if c.camera != nil {
			c.camera.SetExplainURL(url, token)
		}
	})
	return c
}

// AttachProtocol wires the transport. Must happen before Startup.
func (c *Controller) AttachProtocol(p protocol.Protocol) {
	c.proto = p
}

// Handlers returns the protocol callbacks this controller serves.
func (c *Controller) Handlers() protocol.Handlers {
	return protocol.Handlers{
		OnIncomingJSON:       c.HandleIncoming,
		OnIncomingAudio:      c.handleIncomingAudio,
		OnAudioChannelOpened: c.handleChannelOpened,
		OnAudioChannelClosed: c.handleChannelClosed,
		OnNetworkError:       c.RaiseError,
	}
}

// Tools exposes the tool server so boards can register their own tools.
func (c *Controller) Tools() *mcp.Server {
	return c.tools
}

// Users exposes the user manager.
func (c *Controller) Users() *UserManager {
	return c.users
}

// Schedule queues a closure on the event loop.
func (c *Controller) Schedule(task func()) {
	c.loop.Schedule(task)
}

// Startup brings the device from cold boot to Idle: voice pipeline, stored
// login, tool registry, transport, and the version check with backoff. It
// runs before the event loop consumer starts.
func (c *Controller) Startup(ctx context.Context) error {
	c.SetDeviceState(domain.StateStarting)
	c.display.SetStatus("starting")

	if err := c.voice.Start(); err != nil {
		return fmt.Errorf("failed to start voice pipeline: %w", err)
	}

	c.users.Load()
	c.activated.Store(c.store.GetInt(deviceNamespace, "activated", 0) == 1)
	c.registerCommonTools()

	if c.proto == nil {
		return ErrNoProtocol
	}
	if err := c.proto.Start(ctx); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}

	c.checkVersionWithBackoff(ctx)

	if c.users.IsLoggedIn() {
		c.startSessionTimers()
	}

	c.SetDeviceState(domain.StateIdle)
	c.display.ShowNotification("version " + c.cfg.Version)
	return nil
}

// Run consumes the event loop until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	go c.tickLoop(ctx)
	return c.loop.Run(ctx)
}

func (c *Controller) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.stateTicks.Add(1)
			if c.proto != nil && c.proto.IsTimeout() {
				c.loop.Schedule(func() {
					c.log.Warn("audio channel timed out, closing")
					c.proto.CloseAudioChannel()
				})
			}
		}
	}
}

// State reads the current device state. Safe from any goroutine.
func (c *Controller) State() domain.DeviceState {
	return domain.DeviceState(c.state.Load())
}

// StateTicks counts whole seconds spent since the last state change.
func (c *Controller) StateTicks() int {
	return int(c.stateTicks.Load())
}

// Observe registers a state-change observer. Observers run on the scheduler
// goroutine and must not block.
func (c *Controller) Observe(fn func(from, to domain.DeviceState)) {
	c.obsMu.Lock()
	c.observers = append(c.observers, fn)
	c.obsMu.Unlock()
}

// SetDeviceState is the sole state mutator. It must run on the scheduler
// goroutine (or before the loop starts). Same-state calls are no-ops; the
// entry action for the new state runs exactly once per transition.
func (c *Controller) SetDeviceState(next domain.DeviceState) {
	current := c.State()
	if current == next {
		return
	}

	c.stateTicks.Store(0)
	c.state.Store(int32(next))
	c.log.Info("device state changed", "from", current.String(), "to", next.String())

	if c.proto != nil {
		// The passive standby channel must not be torn down for
		// inactivity while the device idles.
		c.proto.SetTimeoutCheckEnabled(next != domain.StateIdle)
	}

	c.obsMu.Lock()
	observers := append([]stateObserver(nil), c.observers...)
	c.obsMu.Unlock()
	for _, fn := range observers {
		fn(current, next)
	}
	if c.led != nil {
		c.led.OnStateChanged(next)
	}

	if action := c.entryActions[next]; action != nil {
		action(c)
	}
}

// RaiseError records a non-fatal error and wakes the loop. The error
// handler runs before any other pending work.
func (c *Controller) RaiseError(message string) {
	c.errMu.Lock()
	c.lastErr = message
	c.errMu.Unlock()
	c.loop.Raise(scheduler.FlagError)
}

// RaiseSendAudio wakes the loop to drain captured frames. Audio capture
// goroutines call this after queueing a packet.
func (c *Controller) RaiseSendAudio() {
	c.loop.Raise(scheduler.FlagSendAudio)
}

// RaiseWakeWord reports a locally detected wake word.
func (c *Controller) RaiseWakeWord() {
	c.loop.Raise(scheduler.FlagWakeWord)
}

// RaiseVADChange reports a voice activity transition.
func (c *Controller) RaiseVADChange() {
	c.loop.Raise(scheduler.FlagVADChange)
}

func (c *Controller) takeLastError() string {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	message := c.lastErr
	c.lastErr = ""
	return message
}

func (c *Controller) onError() {
	message := c.takeLastError()
	if message == "" {
		message = "unknown error"
	}
	c.SetDeviceState(domain.StateIdle)
	c.Alert("error", message, "sad", "exclamation")
}

// Alert surfaces a message on the display with an optional notification
// sound.
func (c *Controller) Alert(status string, message string, emotion string, sound string) {
	c.log.Warn("alert", "status", status, "message", message)
	c.display.SetStatus(status)
	c.display.SetEmotion(emotion)
	c.display.SetChatMessage("system", message)
	if sound != "" {
		c.voice.PlaySound(sound)
	}
}

// DismissAlert restores the standby screen when idle.
func (c *Controller) DismissAlert() {
	if c.State() == domain.StateIdle {
		c.display.SetStatus("standby")
		c.display.SetEmotion("neutral")
		c.display.SetChatMessage("system", "")
	}
}

func (c *Controller) sendMcpReply(payload json.RawMessage) {
	reply := append(json.RawMessage(nil), payload...)
	c.loop.Schedule(func() {
		if c.proto == nil {
			return
		}
		if err := c.proto.SendMcpMessage(reply); err != nil {
			c.log.Warn("failed to send tool reply", "error", err)
		}
	})
}

// sleepWhile waits up to d, polling keep. Returns false when keep turned
// false before the deadline.
func (c *Controller) sleepWhile(d time.Duration, keep func() bool) bool {
	deadline := time.Now().Add(d)
	for {
		if !keep() {
			return false
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return keep()
		}
		step := c.cfg.PollInterval
		if remaining < step {
			step = remaining
		}
		time.Sleep(step)
	}
}
