// file: services/settings_service.go
package services

import (
	"strconv"
)

const (
	settingLabTimeoutMinutes = "lab_timeout_minutes"
	settingOSTimeoutMinutes  = "os_timeout_minutes"

	defaultTimeoutMinutes = 60
)

// SettingsStore 是系统配置表的读写口，*database.Store 满足该接口。
type SettingsStore interface {
	GetSetting(key, defaultValue string) string
	SetSetting(key, value string) error
}

// SettingsService 提供实验/OS 容器超时时长的读写。
// 值存在 system_settings 表里，未配置或非法时回落到 60 分钟。
type SettingsService struct {
	store SettingsStore
}

func NewSettingsService(store SettingsStore) *SettingsService {
	return &SettingsService{store: store}
}

func (s *SettingsService) timeoutMinutes(key string) int {
	raw := s.store.GetSetting(key, strconv.Itoa(defaultTimeoutMinutes))
	minutes, err := strconv.Atoi(raw)
	if err != nil || minutes <= 0 {
		return defaultTimeoutMinutes
	}
	return minutes
}

func (s *SettingsService) LabTimeoutMinutes() int {
	return s.timeoutMinutes(settingLabTimeoutMinutes)
}

func (s *SettingsService) OSTimeoutMinutes() int {
	return s.timeoutMinutes(settingOSTimeoutMinutes)
}

func (s *SettingsService) SetLabTimeoutMinutes(minutes int) error {
	if minutes <= 0 {
		return &ValidationError{Msg: "timeout must be a positive number of minutes"}
	}
	return s.store.SetSetting(settingLabTimeoutMinutes, strconv.Itoa(minutes))
}

func (s *SettingsService) SetOSTimeoutMinutes(minutes int) error {
	if minutes <= 0 {
		return &ValidationError{Msg: "timeout must be a positive number of minutes"}
	}
	return s.store.SetSetting(settingOSTimeoutMinutes, strconv.Itoa(minutes))
}
