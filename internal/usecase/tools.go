package usecase

import (
	"encoding/json"
	"errors"

	"murmur/internal/mcp"
)

// registerCommonTools prepends the built-in device tools so they list ahead
// of anything a board added.
func (c *Controller) registerCommonTools() {
	tools := []*mcp.Tool{
		{
			Name:        "self.get_device_status",
			Description: "Report the current device status: state, speaker volume, screen, and logged-in user.",
			Callback: func(mcp.PropertyList) (mcp.ReturnValue, error) {
				return c.deviceStatusJSON(), nil
			},
		},
		{
			Name:        "self.audio_speaker.set_volume",
			Description: "Set the speaker volume, from 0 (muted) to 100.",
			Properties:  mcp.PropertyList{mcp.IntegerRange("volume", 0, 100)},
			Callback: func(args mcp.PropertyList) (mcp.ReturnValue, error) {
				volume, _ := args.Get("volume")
				c.voice.SetOutputVolume(volume.Int())
				return true, nil
			},
		},
		{
			Name:        "self.screen.set_brightness",
			Description: "Set the screen brightness, from 0 to 100.",
			Properties:  mcp.PropertyList{mcp.IntegerRange("brightness", 0, 100)},
			Callback: func(args mcp.PropertyList) (mcp.ReturnValue, error) {
				brightness, _ := args.Get("brightness")
				if err := c.display.SetBrightness(brightness.Int()); err != nil {
					return nil, err
				}
				return true, nil
			},
		},
		{
			Name:        "self.screen.set_theme",
			Description: "Switch the screen theme, for example light or dark.",
			Properties:  mcp.PropertyList{mcp.String("theme")},
			Callback: func(args mcp.PropertyList) (mcp.ReturnValue, error) {
				theme, _ := args.Get("theme")
				if err := c.display.SetTheme(theme.String()); err != nil {
					return nil, err
				}
				return true, nil
			},
		},
		{
			Name:        "self.camera.take_photo",
			Description: "Take a photo and answer a question about it.",
			Properties:  mcp.PropertyList{mcp.String("question").WithDefault("describe the scene")},
			Callback: func(args mcp.PropertyList) (mcp.ReturnValue, error) {
				if c.camera == nil {
					return nil, errors.New("camera is not available")
				}
				if err := c.camera.Capture(); err != nil {
					return nil, err
				}
				question, _ := args.Get("question")
				return c.camera.Explain(question.String())
			},
		},
		{
			Name:        "self.user.account_logout",
			Description: "Log the current user out of the device.",
			Callback: func(mcp.PropertyList) (mcp.ReturnValue, error) {
				if !c.users.IsLoggedIn() {
					return `{"success": false, "message": "no user is logged in"}`, nil
				}
				c.loop.Schedule(func() { c.performLogout("logged out") })
				return `{"success": true, "message": "logging out"}`, nil
			},
		},
		{
			Name:        "self.user.get_schedules",
			Description: "List the logged-in user's schedule for today.",
			Callback: func(mcp.PropertyList) (mcp.ReturnValue, error) {
				if !c.users.IsLoggedIn() {
					return nil, errors.New("no user is logged in")
				}
				data, err := json.Marshal(c.users.TodaySchedules())
				if err != nil {
					return nil, err
				}
				return string(data), nil
			},
		},
	}
	c.tools.PrependTools(tools...)
}

func (c *Controller) deviceStatusJSON() string {
	status := map[string]any{
		"device_state": c.State().String(),
		"audio_speaker": map[string]any{
			"volume": c.voice.OutputVolume(),
		},
		"screen": map[string]any{
			"theme": c.display.Theme(),
		},
		"user": map[string]any{
			"logged_in": c.users.IsLoggedIn(),
			"name":      c.users.Name(),
		},
	}
	data, err := json.Marshal(status)
	if err != nil {
		return "{}"
	}
	return string(data)
}
