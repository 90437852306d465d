package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"murmur/internal/domain"
	"murmur/internal/protocol"
)

type fakeVoice struct {
	mu sync.Mutex

	started      bool
	wakeEnabled  bool
	voiceEnabled bool
	deviceAec    bool
	audioTesting bool
	aecCapable   bool

	wakeWord    string
	wakePackets []domain.AudioPacket
	sendPackets []domain.AudioPacket
	decoded     []domain.AudioPacket
	resets      int
	encodes     int

	volume     int
	outputRate int
	sounds     []string

	startErr error
}

func newFakeVoice() *fakeVoice {
	return &fakeVoice{volume: 70, outputRate: 24000}
}

func (v *fakeVoice) Start() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.startErr != nil {
		return v.startErr
	}
	v.started = true
	return nil
}

func (v *fakeVoice) Stop() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.started = false
	return nil
}

func (v *fakeVoice) EnableWakeWordDetection(enabled bool) {
	v.mu.Lock()
	v.wakeEnabled = enabled
	v.mu.Unlock()
}

func (v *fakeVoice) EnableVoiceProcessing(enabled bool) {
	v.mu.Lock()
	v.voiceEnabled = enabled
	v.mu.Unlock()
}

func (v *fakeVoice) IsVoiceProcessingRunning() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.voiceEnabled
}

func (v *fakeVoice) EnableDeviceAec(enabled bool) {
	v.mu.Lock()
	v.deviceAec = enabled
	v.mu.Unlock()
}

func (v *fakeVoice) EnableAudioTesting(enabled bool) {
	v.mu.Lock()
	v.audioTesting = enabled
	v.mu.Unlock()
}

func (v *fakeVoice) WakeWordActiveWhileSpeaking() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.aecCapable
}

func (v *fakeVoice) LastWakeWord() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.wakeWord
}

func (v *fakeVoice) EncodeWakeWordData() {
	v.mu.Lock()
	v.encodes++
	v.mu.Unlock()
}

func (v *fakeVoice) PopWakeWordPacket() (domain.AudioPacket, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.wakePackets) == 0 {
		return domain.AudioPacket{}, false
	}
	packet := v.wakePackets[0]
	v.wakePackets = v.wakePackets[1:]
	return packet, true
}

func (v *fakeVoice) PopSendPacket() (domain.AudioPacket, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.sendPackets) == 0 {
		return domain.AudioPacket{}, false
	}
	packet := v.sendPackets[0]
	v.sendPackets = v.sendPackets[1:]
	return packet, true
}

func (v *fakeVoice) PushDecodePacket(packet domain.AudioPacket) {
	v.mu.Lock()
	v.decoded = append(v.decoded, packet)
	v.mu.Unlock()
}

func (v *fakeVoice) ResetDecoder() {
	v.mu.Lock()
	v.resets++
	v.mu.Unlock()
}

func (v *fakeVoice) OutputSampleRate() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.outputRate
}

func (v *fakeVoice) OutputVolume() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.volume
}

func (v *fakeVoice) SetOutputVolume(volume int) {
	v.mu.Lock()
	v.volume = volume
	v.mu.Unlock()
}

func (v *fakeVoice) PlaySound(name string) {
	v.mu.Lock()
	v.sounds = append(v.sounds, name)
	v.mu.Unlock()
}

func (v *fakeVoice) snapshot() fakeVoice {
	v.mu.Lock()
	defer v.mu.Unlock()
	return fakeVoice{
		started:      v.started,
		wakeEnabled:  v.wakeEnabled,
		voiceEnabled: v.voiceEnabled,
		deviceAec:    v.deviceAec,
		audioTesting: v.audioTesting,
		resets:       v.resets,
		encodes:      v.encodes,
		volume:       v.volume,
		sounds:       append([]string(nil), v.sounds...),
	}
}

type chatLine struct {
	role    string
	content string
}

type fakeDisplay struct {
	mu sync.Mutex

	status        string
	emotion       string
	messages      []chatLine
	notifications []string
	brightness    int
	theme         string
}

func newFakeDisplay() *fakeDisplay {
	return &fakeDisplay{theme: "light", brightness: 80}
}

func (d *fakeDisplay) SetStatus(status string) {
	d.mu.Lock()
	d.status = status
	d.mu.Unlock()
}

func (d *fakeDisplay) SetEmotion(emotion string) {
	d.mu.Lock()
	d.emotion = emotion
	d.mu.Unlock()
}

func (d *fakeDisplay) SetChatMessage(role string, content string) {
	d.mu.Lock()
	d.messages = append(d.messages, chatLine{role: role, content: content})
	d.mu.Unlock()
}

func (d *fakeDisplay) ShowNotification(message string) {
	d.mu.Lock()
	d.notifications = append(d.notifications, message)
	d.mu.Unlock()
}

func (d *fakeDisplay) SetBrightness(percent int) error {
	d.mu.Lock()
	d.brightness = percent
	d.mu.Unlock()
	return nil
}

func (d *fakeDisplay) SetTheme(name string) error {
	d.mu.Lock()
	d.theme = name
	d.mu.Unlock()
	return nil
}

func (d *fakeDisplay) Theme() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.theme
}

func (d *fakeDisplay) lastStatus() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *fakeDisplay) lastMessage() chatLine {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.messages) == 0 {
		return chatLine{}
	}
	return d.messages[len(d.messages)-1]
}

func (d *fakeDisplay) messageShown(content string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, line := range d.messages {
		if line.content == content {
			return true
		}
	}
	return false
}

type fakeLED struct {
	mu     sync.Mutex
	states []domain.DeviceState
}

func (l *fakeLED) OnStateChanged(state domain.DeviceState) {
	l.mu.Lock()
	l.states = append(l.states, state)
	l.mu.Unlock()
}

type fakeCamera struct {
	mu          sync.Mutex
	loginStarts int
	loginStops  int
	captures    int
	explainURL  string
	answer      string
}

func (c *fakeCamera) StartLoginCapture() {
	c.mu.Lock()
	c.loginStarts++
	c.mu.Unlock()
}

func (c *fakeCamera) StopLoginCapture() {
	c.mu.Lock()
	c.loginStops++
	c.mu.Unlock()
}

func (c *fakeCamera) Capture() error {
	c.mu.Lock()
	c.captures++
	c.mu.Unlock()
	return nil
}

func (c *fakeCamera) Explain(question string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answer, nil
}

func (c *fakeCamera) SetExplainURL(url string, token string) {
	c.mu.Lock()
	c.explainURL = url
	c.mu.Unlock()
}

// memSettings is an in-memory ports.Settings.
type memSettings struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemSettings() *memSettings {
	return &memSettings{values: make(map[string]string)}
}

func (s *memSettings) key(namespace, key string) string {
	return namespace + "\x00" + key
}

func (s *memSettings) GetString(namespace string, key string, fallback string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value, ok := s.values[s.key(namespace, key)]; ok {
		return value
	}
	return fallback
}

func (s *memSettings) SetString(namespace string, key string, value string) error {
	s.mu.Lock()
	s.values[s.key(namespace, key)] = value
	s.mu.Unlock()
	return nil
}

func (s *memSettings) GetInt(namespace string, key string, fallback int) int {
	raw := s.GetString(namespace, key, "")
	if raw == "" {
		return fallback
	}
	var value int
	if _, err := fmt.Sscanf(raw, "%d", &value); err != nil {
		return fallback
	}
	return value
}

func (s *memSettings) SetInt(namespace string, key string, value int) error {
	return s.SetString(namespace, key, fmt.Sprintf("%d", value))
}

func (s *memSettings) EraseNamespace(namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := namespace + "\x00"
	for k := range s.values {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(s.values, k)
		}
	}
	return nil
}

type fakeHardware struct {
	mu       sync.Mutex
	deviceID string
	clientID string
	reboots  int
}

func (h *fakeHardware) DeviceID() string { return h.deviceID }
func (h *fakeHardware) ClientID() string { return h.clientID }

func (h *fakeHardware) Reboot() {
	h.mu.Lock()
	h.reboots++
	h.mu.Unlock()
}

func (h *fakeHardware) rebootCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reboots
}

type fakeVersions struct {
	mu          sync.Mutex
	checkErrs   []error
	info        domain.VersionInfo
	checks      int
	activateErr error
	activations int
}

func (v *fakeVersions) Check(ctx context.Context) (domain.VersionInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.checks++
	if len(v.checkErrs) > 0 {
		err := v.checkErrs[0]
		v.checkErrs = v.checkErrs[1:]
		if err != nil {
			return domain.VersionInfo{}, err
		}
	}
	return v.info, nil
}

func (v *fakeVersions) Activate(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.activations++
	return v.activateErr
}

func (v *fakeVersions) checkCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.checks
}

type fakeUpdater struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (u *fakeUpdater) Upgrade(ctx context.Context, version string, progress func(int, int)) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	if progress != nil {
		progress(50, 128*1024)
	}
	return u.err
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
	pushed   chan struct{}
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{pushed: make(chan struct{}, 8)}
}

func (n *fakeNotifier) PushMessage(ctx context.Context, deviceID string, message string) error {
	n.mu.Lock()
	n.messages = append(n.messages, message)
	n.mu.Unlock()
	n.pushed <- struct{}{}
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

// fakeProtocol records everything the controller sends and lets tests drive
// lifecycle events through the controller's own handlers.
type fakeProtocol struct {
	mu       sync.Mutex
	handlers protocol.Handlers

	started bool
	opened  bool
	openErr error
	opens   int
	closes  int

	sessionID  string
	sampleRate int
	timeout    bool
	checkOn    bool

	audio     []domain.AudioPacket
	texts     []string
	starts    []domain.ListeningMode
	stops     int
	aborts    []domain.AbortReason
	wakeSends []string
	mcpSends  []json.RawMessage
}

func (p *fakeProtocol) Start(ctx context.Context) error {
	p.mu.Lock()
	p.started = true
	p.mu.Unlock()
	return nil
}

func (p *fakeProtocol) OpenAudioChannel(ctx context.Context) error {
	p.mu.Lock()
	p.opens++
	if p.openErr != nil {
		err := p.openErr
		p.mu.Unlock()
		if h := p.handlers.OnNetworkError; h != nil {
			h("failed to connect to server")
		}
		return err
	}
	p.opened = true
	h := p.handlers.OnAudioChannelOpened
	p.mu.Unlock()
	if h != nil {
		h()
	}
	return nil
}

func (p *fakeProtocol) CloseAudioChannel() {
	p.mu.Lock()
	wasOpened := p.opened
	p.opened = false
	p.closes++
	h := p.handlers.OnAudioChannelClosed
	p.mu.Unlock()
	if wasOpened && h != nil {
		h()
	}
}

func (p *fakeProtocol) IsAudioChannelOpened() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opened
}

func (p *fakeProtocol) SendAudio(packet domain.AudioPacket) error {
	p.mu.Lock()
	p.audio = append(p.audio, packet)
	p.mu.Unlock()
	return nil
}

func (p *fakeProtocol) SendText(text string) error {
	p.mu.Lock()
	p.texts = append(p.texts, text)
	p.mu.Unlock()
	return nil
}

func (p *fakeProtocol) SendStartListening(mode domain.ListeningMode) error {
	p.mu.Lock()
	p.starts = append(p.starts, mode)
	p.mu.Unlock()
	return nil
}

func (p *fakeProtocol) SendStopListening() error {
	p.mu.Lock()
	p.stops++
	p.mu.Unlock()
	return nil
}

func (p *fakeProtocol) SendAbortSpeaking(reason domain.AbortReason) error {
	p.mu.Lock()
	p.aborts = append(p.aborts, reason)
	p.mu.Unlock()
	return nil
}

func (p *fakeProtocol) SendWakeWordDetected(wakeWord string, userInfo string) error {
	p.mu.Lock()
	p.wakeSends = append(p.wakeSends, wakeWord+"|"+userInfo)
	p.mu.Unlock()
	return nil
}

func (p *fakeProtocol) SendMcpMessage(payload json.RawMessage) error {
	p.mu.Lock()
	p.mcpSends = append(p.mcpSends, append(json.RawMessage(nil), payload...))
	p.mu.Unlock()
	return nil
}

func (p *fakeProtocol) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID
}

func (p *fakeProtocol) ServerSampleRate() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sampleRate
}

func (p *fakeProtocol) SetTimeoutCheckEnabled(enabled bool) {
	p.mu.Lock()
	p.checkOn = enabled
	p.mu.Unlock()
}

func (p *fakeProtocol) IsTimeout() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timeout
}

func (p *fakeProtocol) snapshot() fakeProtocol {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fakeProtocol{
		started:   p.started,
		opened:    p.opened,
		opens:     p.opens,
		closes:    p.closes,
		checkOn:   p.checkOn,
		audio:     append([]domain.AudioPacket(nil), p.audio...),
		texts:     append([]string(nil), p.texts...),
		starts:    append([]domain.ListeningMode(nil), p.starts...),
		stops:     p.stops,
		aborts:    append([]domain.AbortReason(nil), p.aborts...),
		wakeSends: append([]string(nil), p.wakeSends...),
		mcpSends:  append([]json.RawMessage(nil), p.mcpSends...),
	}
}

// harness wires a controller with fakes and a running loop.
type harness struct {
	t *testing.T

	c        *Controller
	voice    *fakeVoice
	display  *fakeDisplay
	led      *fakeLED
	camera   *fakeCamera
	settings *memSettings
	hw       *fakeHardware
	versions *fakeVersions
	updater  *fakeUpdater
	notifier *fakeNotifier
	proto    *fakeProtocol

	cancel context.CancelFunc
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		voice:    newFakeVoice(),
		display:  newFakeDisplay(),
		led:      &fakeLED{},
		camera:   &fakeCamera{answer: `{"answer":"a desk"}`},
		settings: newMemSettings(),
		hw:       &fakeHardware{deviceID: "aa:bb:cc:dd:ee:ff", clientID: "client-1"},
		versions: &fakeVersions{},
		updater:  &fakeUpdater{},
		notifier: newFakeNotifier(),
		proto:    &fakeProtocol{sampleRate: 24000},
	}
	h.c = NewController(Deps{
		Voice:    h.voice,
		Display:  h.display,
		LED:      h.led,
		Camera:   h.camera,
		Hardware: h.hw,
		Settings: h.settings,
		Versions: h.versions,
		Updater:  h.updater,
		Notifier: h.notifier,
	}, Config{
		Version:           "1.2.3",
		ReconnectGap:      20 * time.Millisecond,
		VersionCheckBase:  5 * time.Millisecond,
		ActivationPoll:    2 * time.Millisecond,
		ActivationRetries: 5,
		InspectionDelay:   30 * time.Millisecond,
		ClearScreenAfter:  20 * time.Millisecond,
		PollInterval:      time.Millisecond,
	})
	h.proto.handlers = h.c.Handlers()
	h.c.AttachProtocol(h.proto)
	return h
}

// start runs Startup and the loop consumer.
func (h *harness) start() {
	h.t.Helper()
	if err := h.c.Startup(context.Background()); err != nil {
		h.t.Fatalf("startup failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go h.c.Run(ctx)
	h.t.Cleanup(cancel)
}

// sync waits until everything queued before it has drained.
func (h *harness) sync() {
	h.t.Helper()
	done := make(chan struct{})
	h.c.Schedule(func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		h.t.Fatalf("event loop did not drain")
	}
}

// waitState polls until the controller reaches the wanted state.
func (h *harness) waitState(want domain.DeviceState) {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.c.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	h.t.Fatalf("state never reached %v, still %v", want, h.c.State())
}

// login stores a user directly, without the recognition greeting flow.
func (h *harness) login(name string) {
	h.t.Helper()
	done := make(chan struct{})
	h.c.Schedule(func() {
		if err := h.c.users.Save(domain.UserProfile{Name: name, Account: "acct-1", UserID: 7}, nil); err != nil {
			h.t.Errorf("failed to save user: %v", err)
		}
		close(done)
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		h.t.Fatalf("login never applied")
	}
}
