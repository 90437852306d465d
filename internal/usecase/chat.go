package usecase

import (
	"context"

	"murmur/internal/domain"
)

// ToggleChatState is the single-button conversation control: start a chat
// from Idle, interrupt from Speaking, hang up from Listening.
func (c *Controller) ToggleChatState() {
	switch c.State() {
	case domain.StateActivating:
		c.loop.Schedule(func() { c.SetDeviceState(domain.StateIdle) })
		return
	case domain.StateWifiConfiguring, domain.StateAudioTesting:
		return
	}
	if c.proto == nil {
		c.log.Error("cannot toggle chat, protocol is not attached")
		return
	}

	switch c.State() {
	case domain.StateIdle:
		c.loop.Schedule(func() {
			if !c.openChannelFromLoop() {
				return
			}
			mode := domain.ListeningAutoStop
			if c.realtimeEnabled() {
				mode = domain.ListeningRealtime
			}
			c.setListeningMode(mode)
		})
	case domain.StateSpeaking:
		c.loop.Schedule(func() { c.abortSpeaking(domain.AbortReasonNone) })
	case domain.StateListening:
		c.loop.Schedule(func() {
			// Hang up without closing: the channel stays open so
			// server pushes still arrive while idle.
			if err := c.proto.SendStopListening(); err != nil {
				c.log.Warn("failed to send stop listening", "error", err)
			}
			c.SetDeviceState(domain.StateIdle)
		})
	}
}

// StartListening begins a manual (push-to-talk) turn.
func (c *Controller) StartListening() {
	switch c.State() {
	case domain.StateActivating:
		c.loop.Schedule(func() { c.SetDeviceState(domain.StateIdle) })
		return
	case domain.StateWifiConfiguring, domain.StateAudioTesting:
		return
	}
	if c.proto == nil {
		c.log.Error("cannot start listening, protocol is not attached")
		return
	}

	switch c.State() {
	case domain.StateIdle:
		c.loop.Schedule(func() {
			if !c.openChannelFromLoop() {
				return
			}
			c.setListeningMode(domain.ListeningManualStop)
		})
	case domain.StateSpeaking:
		c.loop.Schedule(func() {
			c.abortSpeaking(domain.AbortReasonNone)
			c.setListeningMode(domain.ListeningManualStop)
		})
	}
}

// StopListening ends a manual turn.
func (c *Controller) StopListening() {
	state := c.State()
	if state == domain.StateAudioTesting {
		c.loop.Schedule(func() { c.voice.EnableAudioTesting(false) })
		return
	}
	if state != domain.StateListening {
		return
	}
	c.loop.Schedule(func() {
		if c.State() != domain.StateListening {
			return
		}
		if err := c.proto.SendStopListening(); err != nil {
			c.log.Warn("failed to send stop listening", "error", err)
		}
		c.SetDeviceState(domain.StateIdle)
	})
}

// AbortSpeaking interrupts playback. The resulting state change is driven
// by the server's tts stop message.
func (c *Controller) AbortSpeaking(reason domain.AbortReason) {
	c.loop.Schedule(func() { c.abortSpeaking(reason) })
}

func (c *Controller) abortSpeaking(reason domain.AbortReason) {
	c.log.Info("abort speaking", "reason", int(reason))
	c.aborted = true
	if err := c.proto.SendAbortSpeaking(reason); err != nil {
		c.log.Warn("failed to send abort", "error", err)
	}
}

// SetAecMode switches echo cancellation placement. An open channel closes
// so the next session renegotiates with the right audio path.
func (c *Controller) SetAecMode(mode domain.AecMode) {
	c.aecMode.Store(int32(mode))
	c.loop.Schedule(func() {
		c.voice.EnableDeviceAec(mode == domain.AecOnDeviceSide)
		switch mode {
		case domain.AecOff:
			c.display.ShowNotification("echo cancellation off")
		case domain.AecOnDeviceSide:
			c.display.ShowNotification("device echo cancellation on")
		case domain.AecOnServerSide:
			c.display.ShowNotification("server echo cancellation on")
		}
		if c.proto != nil && c.proto.IsAudioChannelOpened() {
			c.proto.CloseAudioChannel()
		}
	})
}

// AecMode reads the current echo cancellation placement.
func (c *Controller) AecMode() domain.AecMode {
	return domain.AecMode(c.aecMode.Load())
}

func (c *Controller) realtimeEnabled() bool {
	return c.AecMode() != domain.AecOff
}

// setListeningMode runs on the loop and enters Listening with the new mode.
func (c *Controller) setListeningMode(mode domain.ListeningMode) {
	c.listeningMode = mode
	c.SetDeviceState(domain.StateListening)
}

// openChannelFromLoop dials a fresh audio channel for a conversation,
// passing through Connecting. An open standby channel closes first; the
// conversation never reuses it. Returns false when the open failed; the
// transport has already reported the error.
func (c *Controller) openChannelFromLoop() bool {
	if c.proto.IsAudioChannelOpened() {
		c.log.Info("closing standby channel to enter conversation")
		c.proto.CloseAudioChannel()
	}
	c.SetDeviceState(domain.StateConnecting)
	if err := c.proto.OpenAudioChannel(context.Background()); err != nil {
		c.log.Warn("failed to open audio channel", "error", err)
		return false
	}
	return true
}

// onWakeWord handles a detected wake word. An unauthenticated device goes
// to face login instead of opening a conversation.
func (c *Controller) onWakeWord() {
	if c.proto == nil {
		return
	}
	word := c.voice.LastWakeWord()
	if word == "" {
		word = "hello"
	}

	switch c.State() {
	case domain.StateIdle:
		if !c.users.IsLoggedIn() {
			if c.proto.IsAudioChannelOpened() {
				c.proto.CloseAudioChannel()
			}
			c.SetDeviceState(domain.StateLogin)
			return
		}

		c.voice.EncodeWakeWordData()
		if !c.openChannelFromLoop() {
			c.voice.EnableWakeWordDetection(true)
			return
		}
		for {
			packet, ok := c.voice.PopWakeWordPacket()
			if !ok {
				break
			}
			if err := c.proto.SendAudio(packet); err != nil {
				c.log.Warn("failed to send wake word audio", "error", err)
				break
			}
		}
		if err := c.proto.SendWakeWordDetected(word, c.users.UserInfo()); err != nil {
			c.log.Warn("failed to send wake word", "error", err)
			return
		}
		mode := domain.ListeningAutoStop
		if c.realtimeEnabled() {
			mode = domain.ListeningRealtime
		}
		c.setListeningMode(mode)
	case domain.StateSpeaking:
		c.abortSpeaking(domain.AbortReasonWakeWordDetected)
	case domain.StateActivating:
		c.SetDeviceState(domain.StateIdle)
	}
}

// onSendAudio drains captured frames to the server.
func (c *Controller) onSendAudio() {
	if c.proto == nil || !c.proto.IsAudioChannelOpened() {
		return
	}
	for {
		packet, ok := c.voice.PopSendPacket()
		if !ok {
			return
		}
		if err := c.proto.SendAudio(packet); err != nil {
			c.log.Warn("failed to send audio frame", "error", err)
			return
		}
	}
}

// onVADChange refreshes the indicator while listening.
func (c *Controller) onVADChange() {
	if c.State() == domain.StateListening && c.led != nil {
		c.led.OnStateChanged(domain.StateListening)
	}
}
