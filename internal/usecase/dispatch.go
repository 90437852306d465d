package usecase

import (
	"murmur/internal/domain"
	"murmur/internal/protocol"
)

// HandleIncoming demuxes an inbound control message on its type tag. It
// runs on a transport goroutine; state work moves to the loop.
func (c *Controller) HandleIncoming(env protocol.Envelope) {
	switch env.Type {
	case "tts":
		c.handleTTS(env)
	case "stt":
		c.handleSTT(env)
	case "llm":
		c.loop.Schedule(func() {
			if env.Emotion != "" {
				c.display.SetEmotion(env.Emotion)
			}
		})
	case "mcp":
		c.tools.ParseMessage(env.Payload)
	case "system":
		c.handleSystem(env)
	case "alert":
		c.loop.Schedule(func() {
			c.Alert(env.Status, env.Message, env.Emotion, "vibration")
		})
	case "custom":
		c.log.Debug("custom message", "payload", string(env.Payload))
	default:
		c.log.Warn("dropping unknown message type", "type", env.Type)
	}
}

func (c *Controller) handleTTS(env protocol.Envelope) {
	switch env.State {
	case "start":
		c.loop.Schedule(func() {
			c.aborted = false
			c.ttsActive = true
		})
	case "stop":
		c.loop.Schedule(func() {
			c.ttsActive = false
			if c.pendingInspection {
				c.loginSpeechDone = true
			}
			if c.State() != domain.StateSpeaking {
				return
			}
			if c.listeningMode == domain.ListeningManualStop {
				c.SetDeviceState(domain.StateIdle)
			} else {
				c.SetDeviceState(domain.StateListening)
			}
		})
	case "sentence_start":
		text := env.Text
		c.loop.Schedule(func() {
			// Playback only starts inside an announced tts session;
			// stray sentences after a stop are ignored.
			if c.ttsActive {
				state := c.State()
				if state == domain.StateIdle || state == domain.StateListening {
					c.SetDeviceState(domain.StateSpeaking)
				}
			}
			if text != "" {
				c.display.SetChatMessage("assistant", text)
			}
		})
	default:
		c.log.Warn("dropping tts message with unknown state", "state", env.State)
	}
}

func (c *Controller) handleSTT(env protocol.Envelope) {
	text := env.Text
	if text == "" {
		return
	}
	shown, redacted := c.filter.Apply(text)
	if redacted {
		c.log.Info("redacted sensitive transcript")
	}
	c.loop.Schedule(func() {
		c.display.SetChatMessage("user", shown)
	})
}

func (c *Controller) handleSystem(env protocol.Envelope) {
	switch env.Command {
	case "reboot":
		c.loop.Schedule(func() { c.hw.Reboot() })
	default:
		c.log.Warn("dropping unknown system command", "command", env.Command)
	}
}

func (c *Controller) handleIncomingAudio(packet domain.AudioPacket) {
	if c.State() == domain.StateSpeaking {
		c.voice.PushDecodePacket(packet)
	}
}

func (c *Controller) handleChannelOpened() {
	c.loop.Schedule(func() {
		server := c.proto.ServerSampleRate()
		if server > 0 && server != c.voice.OutputSampleRate() {
			c.log.Warn("server sample rate differs from output",
				"server", server, "output", c.voice.OutputSampleRate())
		}
	})
}

func (c *Controller) handleChannelClosed() {
	c.loop.Schedule(func() {
		if c.proto.IsAudioChannelOpened() {
			// A stale close event from a standby channel that a fresh
			// conversation channel has already replaced.
			return
		}
		c.ttsActive = false
		c.display.SetChatMessage("system", "")
		if c.State() != domain.StateIdle {
			c.SetDeviceState(domain.StateIdle)
		} else if c.users.IsLoggedIn() {
			// Already idle, so the entry action will not rerun; rearm
			// the standby channel here.
			c.loop.Schedule(c.passiveReconnect)
		}
	})
}
