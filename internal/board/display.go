// Package board holds the simulated board: console display, null voice
// pipeline, static hardware identity, and HTTP clients for the release and
// notification endpoints. Real hardware swaps these behind the same ports.
package board

import (
	"log/slog"
	"sync"
)

// ConsoleDisplay renders device output as log lines.
type ConsoleDisplay struct {
	log *slog.Logger

	mu    sync.Mutex
	theme string
}

func NewConsoleDisplay(log *slog.Logger) *ConsoleDisplay {
	if log == nil {
		log = slog.Default()
	}
	return &ConsoleDisplay{log: log, theme: "light"}
}

func (d *ConsoleDisplay) SetStatus(status string) {
	d.log.Info("display status", "status", status)
}

func (d *ConsoleDisplay) SetEmotion(emotion string) {
	d.log.Info("display emotion", "emotion", emotion)
}

func (d *ConsoleDisplay) SetChatMessage(role string, content string) {
	if content == "" {
		d.log.Debug("display cleared")
		return
	}
	d.log.Info("display chat", "role", role, "content", content)
}

func (d *ConsoleDisplay) ShowNotification(message string) {
	d.log.Info("display notification", "message", message)
}

func (d *ConsoleDisplay) SetBrightness(percent int) error {
	d.log.Info("display brightness", "percent", percent)
	return nil
}

func (d *ConsoleDisplay) SetTheme(name string) error {
	d.mu.Lock()
	d.theme = name
	d.mu.Unlock()
	d.log.Info("display theme", "theme", name)
	return nil
}

func (d *ConsoleDisplay) Theme() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.theme
}
