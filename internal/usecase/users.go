package usecase

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"murmur/internal/domain"
	"murmur/internal/ports"
)

const (
	userNamespace     = "user"
	scheduleNamespace = "schedules"
	deviceNamespace   = "device"
)

// UserManager keeps the recognized user and their daily agenda, persisted
// through the settings store. A stored login is only valid on the calendar
// day it was created.
type UserManager struct {
	store ports.Settings
	log   *slog.Logger
	now   func() time.Time

	mu        sync.RWMutex
	loggedIn  bool
	profile   domain.UserProfile
	schedules []domain.ScheduleItem
}

func NewUserManager(store ports.Settings, log *slog.Logger) *UserManager {
	if log == nil {
		log = slog.Default()
	}
	return &UserManager{store: store, log: log, now: time.Now}
}

// dayStamp encodes a calendar day as year*1000 + day-of-year.
func dayStamp(t time.Time) int {
	return t.Year()*1000 + t.YearDay()
}

// Load restores the persisted login. A login from another day is cleared
// instead of restored.
func (m *UserManager) Load() {
	name := m.store.GetString(userNamespace, "name", "")
	if name == "" {
		m.mu.Lock()
		m.loggedIn = false
		m.profile = domain.UserProfile{}
		m.schedules = nil
		m.mu.Unlock()
		return
	}

	if m.store.GetInt(userNamespace, "login_date", 0) != dayStamp(m.now()) {
		m.log.Info("stored login is from another day, clearing")
		m.Clear()
		return
	}

	profile := domain.UserProfile{
		Name:     name,
		Account:  m.store.GetString(userNamespace, "account", ""),
		Password: m.store.GetString(userNamespace, "password", ""),
		APIKey:   m.store.GetString(userNamespace, "api_key", ""),
		APIID:    m.store.GetString(userNamespace, "api_id", ""),
		UserID:   m.store.GetInt(userNamespace, "user_id", 0),
	}
	schedules := m.loadSchedules()

	m.mu.Lock()
	m.profile = profile
	m.schedules = schedules
	m.loggedIn = true
	m.mu.Unlock()
	m.log.Info("restored login", "name", name, "schedules", len(schedules))
}

// Save persists a fresh login with today's day stamp.
func (m *UserManager) Save(profile domain.UserProfile, schedules []domain.ScheduleItem) error {
	if err := m.store.SetString(userNamespace, "name", profile.Name); err != nil {
		return err
	}
	if err := m.store.SetString(userNamespace, "account", profile.Account); err != nil {
		return err
	}
	if err := m.store.SetString(userNamespace, "password", profile.Password); err != nil {
		return err
	}
	if err := m.store.SetString(userNamespace, "api_key", profile.APIKey); err != nil {
		return err
	}
	if err := m.store.SetString(userNamespace, "api_id", profile.APIID); err != nil {
		return err
	}
	if err := m.store.SetInt(userNamespace, "user_id", profile.UserID); err != nil {
		return err
	}
	if err := m.store.SetInt(userNamespace, "login_date", dayStamp(m.now())); err != nil {
		return err
	}
	if err := m.saveSchedules(schedules); err != nil {
		return err
	}

	m.mu.Lock()
	m.profile = profile
	m.schedules = append([]domain.ScheduleItem(nil), schedules...)
	m.loggedIn = true
	m.mu.Unlock()
	return nil
}

// Clear wipes the login and agenda from memory and storage.
func (m *UserManager) Clear() {
	if err := m.store.EraseNamespace(userNamespace); err != nil {
		m.log.Warn("failed to erase user namespace", "error", err)
	}
	if err := m.store.EraseNamespace(scheduleNamespace); err != nil {
		m.log.Warn("failed to erase schedule namespace", "error", err)
	}
	m.mu.Lock()
	m.loggedIn = false
	m.profile = domain.UserProfile{}
	m.schedules = nil
	m.mu.Unlock()
}

func (m *UserManager) IsLoggedIn() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loggedIn
}

func (m *UserManager) Name() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.profile.Name
}

func (m *UserManager) Profile() domain.UserProfile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.profile
}

func (m *UserManager) TodaySchedules() []domain.ScheduleItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.ScheduleItem(nil), m.schedules...)
}

// UserInfo builds the natural-language context sent alongside a wake word.
// It ends with the hide marker so any transcript echoing it back gets
// redacted before display.
func (m *UserManager) UserInfo() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.loggedIn {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "My name is %s.", m.profile.Name)
	if len(m.schedules) > 0 {
		b.WriteString(" Today's schedule:")
		for i, item := range m.schedules {
			if i > 0 {
				b.WriteString(";")
			}
			fmt.Fprintf(&b, " %s", item.Content)
		}
		b.WriteString(".")
	}
	b.WriteString(" hide")
	return b.String()
}

func (m *UserManager) saveSchedules(schedules []domain.ScheduleItem) error {
	if err := m.store.EraseNamespace(scheduleNamespace); err != nil {
		return err
	}
	if err := m.store.SetInt(scheduleNamespace, "count", len(schedules)); err != nil {
		return err
	}
	for i, item := range schedules {
		prefix := fmt.Sprintf("%d_", i)
		if err := m.store.SetString(scheduleNamespace, prefix+"id", item.ID); err != nil {
			return err
		}
		if err := m.store.SetString(scheduleNamespace, prefix+"content", item.Content); err != nil {
			return err
		}
		if err := m.store.SetString(scheduleNamespace, prefix+"date", item.Date); err != nil {
			return err
		}
		if err := m.store.SetInt(scheduleNamespace, prefix+"status", item.Status); err != nil {
			return err
		}
	}
	return nil
}

func (m *UserManager) loadSchedules() []domain.ScheduleItem {
	count := m.store.GetInt(scheduleNamespace, "count", 0)
	if count <= 0 {
		return nil
	}
	schedules := make([]domain.ScheduleItem, 0, count)
	for i := 0; i < count; i++ {
		prefix := fmt.Sprintf("%d_", i)
		schedules = append(schedules, domain.ScheduleItem{
			ID:      m.store.GetString(scheduleNamespace, prefix+"id", ""),
			Content: m.store.GetString(scheduleNamespace, prefix+"content", ""),
			Date:    m.store.GetString(scheduleNamespace, prefix+"date", ""),
			Status:  m.store.GetInt(scheduleNamespace, prefix+"status", 0),
		})
	}
	return schedules
}
