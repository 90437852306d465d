package usecase

import (
	"context"
	"fmt"

	"murmur/internal/domain"
)

// checkVersionWithBackoff polls the release server during startup. Failures
// retry with doubling delay up to the attempt limit; the wait aborts when
// the device is forced to Idle. Exhaustion is non-fatal, the device simply
// comes up on its current firmware.
func (c *Controller) checkVersionWithBackoff(ctx context.Context) {
	if c.versions == nil {
		return
	}
	delay := c.cfg.VersionCheckBase
	for attempt := 1; attempt <= c.cfg.VersionCheckRetries; attempt++ {
		info, err := c.versions.Check(ctx)
		if err == nil {
			c.handleVersionInfo(ctx, info)
			return
		}
		c.log.Warn("version check failed", "attempt", attempt, "error", err)
		if attempt == c.cfg.VersionCheckRetries {
			break
		}
		c.display.ShowNotification(fmt.Sprintf("version check failed, retrying in %s", delay))
		keep := func() bool {
			return ctx.Err() == nil && c.State() != domain.StateIdle
		}
		if !c.sleepWhile(delay, keep) {
			return
		}
		delay *= 2
	}
	c.log.Warn("version check abandoned after repeated failures")
}

func (c *Controller) handleVersionInfo(ctx context.Context, info domain.VersionInfo) {
	if info.HasUpdate {
		c.upgrade(ctx, info)
		return
	}
	if info.ActivationCode != "" && !c.activated.Load() {
		c.runActivation(ctx, info)
	}
}

// upgrade runs the firmware update. The voice pipeline stops for the
// duration; a failed upgrade restarts it and the device resumes on the old
// firmware.
func (c *Controller) upgrade(ctx context.Context, info domain.VersionInfo) {
	if c.updater == nil {
		c.log.Warn("new version available but no updater is configured",
			"version", info.LatestVersion)
		return
	}

	c.SetDeviceState(domain.StateUpgrading)
	c.display.SetStatus("upgrading")
	c.display.SetEmotion("loading")
	c.display.SetChatMessage("system", "new version "+info.LatestVersion)
	c.voice.EnableWakeWordDetection(false)
	if err := c.voice.Stop(); err != nil {
		c.log.Warn("failed to stop voice pipeline before upgrade", "error", err)
	}

	err := c.updater.Upgrade(ctx, info.LatestVersion, func(percent int, speedBps int) {
		c.display.SetChatMessage("system",
			fmt.Sprintf("upgrading %d%% (%d KB/s)", percent, speedBps/1024))
	})
	if err != nil {
		c.log.Error("upgrade failed", "error", err)
		if err := c.voice.Start(); err != nil {
			c.log.Error("failed to restart voice pipeline after upgrade", "error", err)
		}
		c.Alert("error", "upgrade failed", "sad", "exclamation")
		c.SetDeviceState(domain.StateIdle)
		return
	}

	c.log.Info("upgrade complete, rebooting")
	c.hw.Reboot()
}

// runActivation shows the activation code and polls the server until the
// device is accepted, the attempts run out, or the user bails to Idle.
func (c *Controller) runActivation(ctx context.Context, info domain.VersionInfo) {
	c.SetDeviceState(domain.StateActivating)
	c.display.SetStatus("activating")
	message := info.ActivationText
	if message == "" {
		message = "activation code: " + info.ActivationCode
	}
	c.display.SetChatMessage("system", message)

	for attempt := 1; attempt <= c.cfg.ActivationRetries; attempt++ {
		if ctx.Err() != nil || c.State() != domain.StateActivating {
			return
		}
		if err := c.versions.Activate(ctx); err == nil {
			c.markActivated()
			c.display.SetChatMessage("system", "device activated")
			c.SetDeviceState(domain.StateIdle)
			return
		}
		keep := func() bool {
			return ctx.Err() == nil && c.State() == domain.StateActivating
		}
		if !c.sleepWhile(c.cfg.ActivationPoll, keep) {
			return
		}
	}
	c.log.Warn("activation abandoned after repeated attempts")
}

// checkActivationAfterLogin re-runs activation in the background when a
// user logs in on a device that never activated.
func (c *Controller) checkActivationAfterLogin() {
	if c.activated.Load() || c.versions == nil {
		return
	}
	go func() {
		ctx := context.Background()
		if err := c.versions.Activate(ctx); err != nil {
			c.log.Warn("post-login activation failed", "error", err)
			return
		}
		c.loop.Schedule(c.markActivated)
	}()
}

func (c *Controller) markActivated() {
	c.activated.Store(true)
	if err := c.store.SetInt(deviceNamespace, "activated", 1); err != nil {
		c.log.Warn("failed to persist activation", "error", err)
	}
}

// Activated reports whether this device completed activation.
func (c *Controller) Activated() bool {
	return c.activated.Load()
}
