package usecase

import (
	"context"
	"time"

	"murmur/internal/domain"
	"murmur/internal/scheduler"
)

const (
	timerInspection  = "inspection"
	timerAutoLogout  = "auto_logout"
	timerDailyCheck  = "daily_check"
	timerClearScreen = "clear_screen"
)

// OnUserRecognized is called by the login capture flow once the recognition
// server accepted a face. It persists the user, arms the governance timers,
// and kicks off the greeting conversation.
func (c *Controller) OnUserRecognized(profile domain.UserProfile, schedules []domain.ScheduleItem) {
	c.loop.Schedule(func() {
		if err := c.users.Save(profile, schedules); err != nil {
			c.log.Error("failed to persist user", "error", err)
		}
		c.display.SetEmotion("happy")
		c.display.SetChatMessage("system", "welcome, "+profile.Name)

		c.pendingInspection = true
		c.loginSpeechDone = false
		c.startSessionTimers()
		c.checkActivationAfterLogin()

		if c.State() == domain.StateLogin {
			c.SetDeviceState(domain.StateIdle)
		}
		// Greet through the normal wake word path.
		c.loop.Raise(scheduler.FlagWakeWord)
	})
}

// OnLoginCaptureExhausted is called when face capture used up its attempts
// without a match.
func (c *Controller) OnLoginCaptureExhausted() {
	c.loop.Schedule(func() {
		if c.State() != domain.StateLogin {
			return
		}
		code := deviceCode(c.hw.DeviceID())
		c.display.SetChatMessage("system", "face not recognized, register with device code "+code)
		c.SetDeviceState(domain.StateIdle)
	})
}

func (c *Controller) startSessionTimers() {
	c.timers.Start(timerAutoLogout, c.cfg.AutoLogoutAfter, func() {
		c.loop.Schedule(func() {
			c.performLogout("logged out after 24 hours")
		})
	})
	c.timers.StartPeriodic(timerDailyCheck, c.cfg.DailyCheckEvery, func() {
		c.loop.Schedule(c.checkDailyExpiration)
	})
	c.timers.Start(timerInspection, c.cfg.InspectionDelay, func() {
		c.loop.Schedule(func() {
			if c.pendingInspection {
				c.sendInspection()
			}
		})
	})
}

// checkDailyExpiration reloads the stored login; crossing midnight
// invalidates it and tears the session down.
func (c *Controller) checkDailyExpiration() {
	c.users.Load()
	if !c.users.IsLoggedIn() {
		c.performLogout("login expired, please log in again")
	}
}

// performLogout is the shared teardown for explicit logout, the 24h limit,
// and daily expiry.
func (c *Controller) performLogout(message string) {
	c.log.Info("logging out", "message", message)
	c.timers.StopAll()
	c.pendingInspection = false
	c.loginSpeechDone = false
	c.users.Clear()

	if c.proto != nil {
		switch c.State() {
		case domain.StateSpeaking:
			c.abortSpeaking(domain.AbortReasonNone)
		case domain.StateListening:
			if err := c.proto.SendStopListening(); err != nil {
				c.log.Warn("failed to send stop listening", "error", err)
			}
		}
		if c.proto.IsAudioChannelOpened() {
			c.proto.CloseAudioChannel()
		}
	}

	c.SetDeviceState(domain.StateIdle)
	c.display.SetChatMessage("system", message)

	c.timers.Start(timerClearScreen, c.cfg.ClearScreenAfter, func() {
		c.loop.Schedule(func() {
			if c.State() == domain.StateIdle {
				c.display.SetChatMessage("system", "")
				c.display.SetStatus("standby")
			}
		})
	})
}

// sendInspection pushes the one-shot post-login inspection notification.
func (c *Controller) sendInspection() {
	c.pendingInspection = false
	c.loginSpeechDone = false
	c.timers.Stop(timerInspection)
	if c.notifier == nil {
		return
	}
	deviceID := c.hw.DeviceID()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.notifier.PushMessage(ctx, deviceID, "inspection"); err != nil {
			c.log.Warn("failed to push inspection request", "error", err)
		}
	}()
}
