package usecase

import (
	"sync"
	"testing"
	"time"

	"murmur/internal/domain"
	"murmur/internal/scheduler"
)

func TestStartupReachesIdle(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start()

	if h.c.State() != domain.StateIdle {
		t.Fatalf("expected idle after startup, got %v", h.c.State())
	}
	proto := h.proto.snapshot()
	if !proto.started {
		t.Fatalf("transport was never started")
	}
	if proto.checkOn {
		t.Fatalf("timeout check must be disabled while idle")
	}
	voice := h.voice.snapshot()
	if !voice.started || !voice.wakeEnabled {
		t.Fatalf("voice pipeline not armed: %+v", &voice)
	}
	if h.versions.checkCount() != 1 {
		t.Fatalf("expected one version check, got %d", h.versions.checkCount())
	}
}

func TestSetDeviceStateSameStateIsNoOp(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start()

	h.led.mu.Lock()
	before := len(h.led.states)
	h.led.mu.Unlock()

	h.c.Schedule(func() { h.c.SetDeviceState(domain.StateIdle) })
	h.sync()

	h.led.mu.Lock()
	after := len(h.led.states)
	h.led.mu.Unlock()
	if after != before {
		t.Fatalf("same-state transition ran side effects")
	}
}

func TestToggleChatFromIdleOpensChannelAndListens(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start()

	var mu sync.Mutex
	var transitions []domain.DeviceState
	h.c.Observe(func(from, to domain.DeviceState) {
		mu.Lock()
		transitions = append(transitions, to)
		mu.Unlock()
	})

	h.c.ToggleChatState()
	h.waitState(domain.StateListening)
	h.sync()

	proto := h.proto.snapshot()
	if proto.opens != 1 {
		t.Fatalf("expected one channel open, got %d", proto.opens)
	}
	if len(proto.starts) != 1 || proto.starts[0] != domain.ListeningAutoStop {
		t.Fatalf("unexpected start listening: %v", proto.starts)
	}
	if !proto.checkOn {
		t.Fatalf("timeout check must be enabled outside idle")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 2 || transitions[0] != domain.StateConnecting || transitions[1] != domain.StateListening {
		t.Fatalf("unexpected transitions: %v", transitions)
	}

	voice := h.voice.snapshot()
	if !voice.voiceEnabled || voice.wakeEnabled {
		t.Fatalf("listening must enable voice processing and drop wake word: %+v", &voice)
	}
	if h.display.lastStatus() != "listening" {
		t.Fatalf("unexpected status: %q", h.display.lastStatus())
	}
}

func TestToggleChatFromListeningHangsUp(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start()
	h.c.ToggleChatState()
	h.waitState(domain.StateListening)

	h.c.ToggleChatState()
	h.waitState(domain.StateIdle)
	h.sync()

	proto := h.proto.snapshot()
	if proto.stops != 1 {
		t.Fatalf("expected a stop listening command, got %d", proto.stops)
	}
	if proto.closes != 0 || !proto.opened {
		t.Fatalf("hang-up must keep the channel open for server pushes: closes=%d opened=%v",
			proto.closes, proto.opened)
	}
	if proto.checkOn {
		t.Fatalf("timeout check must drop back off in idle")
	}
}

func TestToggleChatFromIdleReplacesStandbyChannel(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start()
	h.login("ada")
	h.c.ToggleChatState()
	h.waitState(domain.StateListening)

	// Hang up; the channel stays open as the standby connection.
	h.c.ToggleChatState()
	h.waitState(domain.StateIdle)

	h.c.ToggleChatState()
	h.waitState(domain.StateListening)
	h.sync()

	proto := h.proto.snapshot()
	if proto.closes != 1 || proto.opens != 2 {
		t.Fatalf("conversation must redial instead of reusing standby: opens=%d closes=%d",
			proto.opens, proto.closes)
	}
	if !proto.opened {
		t.Fatalf("fresh conversation channel not open")
	}
	if h.c.State() != domain.StateListening {
		t.Fatalf("stale standby close must not force idle, got %v", h.c.State())
	}
}

func TestSpeakingFlowFollowsServerTTS(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start()
	h.c.ToggleChatState()
	h.waitState(domain.StateListening)

	h.c.HandleIncoming(envelope(`{"type":"tts","state":"start"}`))
	h.c.HandleIncoming(envelope(`{"type":"tts","state":"sentence_start","text":"hello there"}`))
	h.waitState(domain.StateSpeaking)

	if !h.display.messageShown("hello there") {
		t.Fatalf("sentence text not shown")
	}
	voice := h.voice.snapshot()
	if voice.resets != 1 {
		t.Fatalf("expected decoder reset on speaking entry, got %d", voice.resets)
	}

	h.c.HandleIncoming(envelope(`{"type":"tts","state":"stop"}`))
	h.waitState(domain.StateListening)
}

func TestSpeakingStopInManualModeReturnsToIdle(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start()
	h.c.StartListening()
	h.waitState(domain.StateListening)

	proto := h.proto.snapshot()
	if len(proto.starts) != 1 || proto.starts[0] != domain.ListeningManualStop {
		t.Fatalf("unexpected listening mode: %v", proto.starts)
	}

	h.c.HandleIncoming(envelope(`{"type":"tts","state":"start"}`))
	h.c.HandleIncoming(envelope(`{"type":"tts","state":"sentence_start"}`))
	h.waitState(domain.StateSpeaking)
	h.c.HandleIncoming(envelope(`{"type":"tts","state":"stop"}`))
	h.waitState(domain.StateIdle)
}

func TestToggleChatWhileSpeakingAborts(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start()
	h.c.ToggleChatState()
	h.waitState(domain.StateListening)
	h.c.HandleIncoming(envelope(`{"type":"tts","state":"start"}`))
	h.c.HandleIncoming(envelope(`{"type":"tts","state":"sentence_start"}`))
	h.waitState(domain.StateSpeaking)

	h.c.ToggleChatState()
	h.sync()

	proto := h.proto.snapshot()
	if len(proto.aborts) != 1 || proto.aborts[0] != domain.AbortReasonNone {
		t.Fatalf("unexpected aborts: %v", proto.aborts)
	}
	if h.c.State() != domain.StateSpeaking {
		t.Fatalf("abort must leave the state change to the server")
	}
}

func TestStopListeningSendsStopAndIdles(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start()
	h.c.StartListening()
	h.waitState(domain.StateListening)

	h.c.StopListening()
	h.waitState(domain.StateIdle)

	proto := h.proto.snapshot()
	if proto.stops != 1 {
		t.Fatalf("expected one stop listening, got %d", proto.stops)
	}
}

func TestWakeWordUnauthenticatedGoesToLogin(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start()

	h.voice.mu.Lock()
	h.voice.wakeWord = "hey murmur"
	h.voice.mu.Unlock()

	h.c.loop.Raise(scheduler.FlagWakeWord)
	h.waitState(domain.StateLogin)
	h.sync()

	if h.display.lastStatus() != "DD_EE_FF" {
		t.Fatalf("expected device code on screen, got %q", h.display.lastStatus())
	}
	h.camera.mu.Lock()
	starts := h.camera.loginStarts
	h.camera.mu.Unlock()
	if starts != 1 {
		t.Fatalf("expected login capture to start, got %d", starts)
	}
	proto := h.proto.snapshot()
	if len(proto.wakeSends) != 0 {
		t.Fatalf("unauthenticated wake word must not reach the server")
	}
}

func TestWakeWordLoggedInStartsConversation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start()
	h.login("ada")

	h.voice.mu.Lock()
	h.voice.wakeWord = "hey murmur"
	h.voice.wakePackets = []domain.AudioPacket{{Payload: []byte{1}}, {Payload: []byte{2}}}
	h.voice.mu.Unlock()

	h.c.loop.Raise(scheduler.FlagWakeWord)
	h.waitState(domain.StateListening)
	h.sync()

	proto := h.proto.snapshot()
	if proto.opens != 1 {
		t.Fatalf("expected wake word to open the channel, got %d opens", proto.opens)
	}
	if len(proto.audio) != 2 {
		t.Fatalf("expected buffered wake word frames to flush, got %d", len(proto.audio))
	}
	if len(proto.wakeSends) != 1 {
		t.Fatalf("expected one wake word send, got %v", proto.wakeSends)
	}
	voice := h.voice.snapshot()
	if voice.encodes != 1 {
		t.Fatalf("wake word data was not encoded")
	}
}

func TestWakeWordWhileSpeakingAbortsWithReason(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start()
	h.c.ToggleChatState()
	h.waitState(domain.StateListening)
	h.c.HandleIncoming(envelope(`{"type":"tts","state":"start"}`))
	h.c.HandleIncoming(envelope(`{"type":"tts","state":"sentence_start"}`))
	h.waitState(domain.StateSpeaking)

	h.c.loop.Raise(scheduler.FlagWakeWord)
	h.sync()

	proto := h.proto.snapshot()
	if len(proto.aborts) != 1 || proto.aborts[0] != domain.AbortReasonWakeWordDetected {
		t.Fatalf("unexpected aborts: %v", proto.aborts)
	}
}

func TestSendAudioFlagDrainsPipeline(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start()
	h.c.ToggleChatState()
	h.waitState(domain.StateListening)

	h.voice.mu.Lock()
	h.voice.sendPackets = []domain.AudioPacket{{Payload: []byte{1}}, {Payload: []byte{2}}, {Payload: []byte{3}}}
	h.voice.mu.Unlock()

	h.c.loop.Raise(scheduler.FlagSendAudio)
	h.sync()

	proto := h.proto.snapshot()
	if len(proto.audio) != 3 {
		t.Fatalf("expected all frames sent, got %d", len(proto.audio))
	}
}

func TestRaiseErrorForcesIdleAndAlert(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start()
	h.c.ToggleChatState()
	h.waitState(domain.StateListening)

	h.c.RaiseError("connection dropped")
	h.waitState(domain.StateIdle)
	h.sync()

	if !h.display.messageShown("connection dropped") {
		t.Fatalf("error message not surfaced")
	}
	voice := h.voice.snapshot()
	if len(voice.sounds) == 0 || voice.sounds[len(voice.sounds)-1] != "exclamation" {
		t.Fatalf("alert sound not played: %v", voice.sounds)
	}
}

func TestPassiveReconnectWhileLoggedInIdle(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start()
	h.login("ada")

	// Open a session, then lose the transport; idle entry should rearm
	// the standby channel after the reconnect gap.
	h.c.ToggleChatState()
	h.waitState(domain.StateListening)
	h.proto.mu.Lock()
	h.proto.opened = false
	h.proto.mu.Unlock()
	h.c.Handlers().OnAudioChannelClosed()
	h.waitState(domain.StateIdle)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.proto.snapshot().opens >= 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("standby channel never reopened: %d opens", h.proto.snapshot().opens)
}

func TestSetAecModeClosesOpenChannel(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start()
	h.c.ToggleChatState()
	h.waitState(domain.StateListening)

	h.c.SetAecMode(domain.AecOnDeviceSide)
	h.waitState(domain.StateIdle)
	h.sync()

	voice := h.voice.snapshot()
	if !voice.deviceAec {
		t.Fatalf("device aec not enabled")
	}
	proto := h.proto.snapshot()
	if proto.closes == 0 {
		t.Fatalf("aec change must close the open channel")
	}
	if h.c.AecMode() != domain.AecOnDeviceSide {
		t.Fatalf("unexpected aec mode: %v", h.c.AecMode())
	}
}

func TestRealtimeModeAfterAecEnabled(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start()
	h.c.SetAecMode(domain.AecOnServerSide)
	h.sync()

	h.c.ToggleChatState()
	h.waitState(domain.StateListening)

	proto := h.proto.snapshot()
	if len(proto.starts) != 1 || proto.starts[0] != domain.ListeningRealtime {
		t.Fatalf("expected realtime mode with aec on, got %v", proto.starts)
	}
}
