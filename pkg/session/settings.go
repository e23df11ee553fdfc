package session

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/amino/pkg/types"
)

// SaveSetting stores value under key
func (m *Manager) SaveSetting(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode setting %s: %w", key, err)
	}
	return m.settings.Set(key, types.Setting{
		Value:     data,
		Timestamp: m.now(),
		Version:   DataVersion,
	})
}

// GetSetting decodes the value of key into out. It returns false and leaves
// out untouched when the setting is missing, null or unreadable, so out can
// carry the default.
func (m *Manager) GetSetting(key string, out any) bool {
	var s types.Setting
	found, err := m.settings.Get(key, &s)
	if err != nil {
		m.logger.Warn().Err(err).Str("key", key).Msg("Unreadable setting")
		return false
	}
	if !found || len(s.Value) == 0 || string(s.Value) == "null" {
		return false
	}
	if err := json.Unmarshal(s.Value, out); err != nil {
		m.logger.Warn().Err(err).Str("key", key).Msg("Setting has unexpected shape")
		return false
	}
	return true
}

// AllSettings returns every stored setting
func (m *Manager) AllSettings() (types.Settings, error) {
	keys, err := m.settings.Keys()
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	out := make(types.Settings, len(keys))
	for _, k := range keys {
		var s types.Setting
		found, err := m.settings.Get(k, &s)
		if err != nil {
			m.logger.Warn().Err(err).Str("key", k).Msg("Skipping unreadable setting")
			continue
		}
		if found {
			out[k] = s
		}
	}
	return out, nil
}

func (m *Manager) replaceSettings(settings types.Settings) error {
	if err := m.settings.Clear(); err != nil {
		return fmt.Errorf("failed to clear settings: %w", err)
	}
	for k, s := range settings {
		if err := m.settings.Set(k, s); err != nil {
			return fmt.Errorf("failed to restore setting %s: %w", k, err)
		}
	}
	return nil
}
