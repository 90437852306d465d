package usecase

import (
	"context"
	"strings"

	"murmur/internal/domain"
)

// entryActions is the per-state entry table. Each action runs exactly once
// when SetDeviceState enters the state.
func entryActions() map[domain.DeviceState]func(*Controller) {
	return map[domain.DeviceState]func(*Controller){
		domain.StateIdle:       (*Controller).enterIdle,
		domain.StateConnecting: (*Controller).enterConnecting,
		domain.StateListening:  (*Controller).enterListening,
		domain.StateSpeaking:   (*Controller).enterSpeaking,
		domain.StateLogin:      (*Controller).enterLogin,
	}
}

func (c *Controller) enterIdle() {
	if c.camera != nil {
		c.camera.StopLoginCapture()
	}
	c.display.SetStatus("standby")
	c.display.SetEmotion("neutral")
	c.display.SetChatMessage("system", "")
	c.voice.EnableVoiceProcessing(false)
	c.voice.EnableWakeWordDetection(true)

	if c.users.IsLoggedIn() && c.proto != nil && !c.proto.IsAudioChannelOpened() {
		c.loop.Schedule(c.passiveReconnect)
	}
}

// passiveReconnect reopens the standby channel after a grace period so the
// server can finish clearing the previous connection. The wait aborts when
// the device leaves Idle; the preconditions are re-checked at expiry.
func (c *Controller) passiveReconnect() {
	if !c.sleepWhile(c.cfg.ReconnectGap, func() bool { return c.State() == domain.StateIdle }) {
		return
	}
	if c.State() != domain.StateIdle || !c.users.IsLoggedIn() || c.proto.IsAudioChannelOpened() {
		return
	}
	if err := c.proto.OpenAudioChannel(context.Background()); err != nil {
		c.log.Warn("standby channel open failed", "error", err)
	}
}

func (c *Controller) enterConnecting() {
	if c.camera != nil {
		c.camera.StopLoginCapture()
	}
	c.display.SetStatus("connecting")
	c.display.SetEmotion("neutral")
	c.display.SetChatMessage("system", "")
}

func (c *Controller) enterListening() {
	if c.camera != nil {
		c.camera.StopLoginCapture()
	}
	c.display.SetStatus("listening")
	c.display.SetEmotion("neutral")

	if c.pendingInspection && c.loginSpeechDone {
		c.sendInspection()
	}

	if !c.voice.IsVoiceProcessingRunning() {
		if err := c.proto.SendStartListening(c.listeningMode); err != nil {
			c.log.Warn("failed to send start listening", "error", err)
		}
		c.voice.EnableVoiceProcessing(true)
		c.voice.EnableWakeWordDetection(false)
	}
}

func (c *Controller) enterSpeaking() {
	c.display.SetStatus("speaking")

	if c.listeningMode != domain.ListeningRealtime {
		c.voice.EnableVoiceProcessing(false)
		c.voice.EnableWakeWordDetection(c.voice.WakeWordActiveWhileSpeaking())
	}
	c.voice.ResetDecoder()
}

func (c *Controller) enterLogin() {
	c.display.SetStatus(deviceCode(c.hw.DeviceID()))
	c.display.SetEmotion("neutral")
	c.display.SetChatMessage("system", "capturing face data for login")
	c.voice.EnableVoiceProcessing(false)
	c.voice.EnableWakeWordDetection(true)
	if c.camera != nil {
		c.camera.StartLoginCapture()
	}
}

// deviceCode derives the short on-screen code from the hardware id:
// "aa:bb:cc:dd:ee:ff" becomes "DD_EE_FF".
func deviceCode(deviceID string) string {
	groups := strings.Split(deviceID, ":")
	if len(groups) < 3 {
		return "DEVICE"
	}
	tail := groups[len(groups)-3:]
	return strings.ToUpper(strings.Join(tail, "_"))
}
