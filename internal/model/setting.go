package model

import (
	"encoding/json"
	"strconv"
)

// Well-known setting keys.
const (
	SettingDarkMode       = "darkMode"
	SettingSoundEnabled   = "soundEnabled"
	SettingSessionTimeout = "sessionTimeout"
)

// Settings is the flat key/value settings map. Values stay raw JSON so keys
// unknown to this build survive a round trip.
type Settings map[string]json.RawMessage

// DefaultSettings returns the settings a fresh cache starts with.
func DefaultSettings() Settings {
	return Settings{
		SettingDarkMode:       json.RawMessage(`false`),
		SettingSoundEnabled:   json.RawMessage(`true`),
		SettingSessionTimeout: json.RawMessage(`15`),
	}
}

// Bool decodes key as a boolean, falling back when absent or malformed.
func (s Settings) Bool(key string, fallback bool) bool {
	raw, ok := s[key]
	if !ok {
		return fallback
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return fallback
	}
	return v
}

// Int decodes key as an integer. String-encoded numbers are accepted since
// the relational backend stores scalars as text.
func (s Settings) Int(key string, fallback int) int {
	raw, ok := s[key]
	if !ok {
		return fallback
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return int(n)
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if v, err := strconv.Atoi(str); err == nil {
			return v
		}
	}
	return fallback
}

// SetSettingRequest is the payload for writing a single setting.
type SetSettingRequest struct {
	Value json.RawMessage `json:"value" binding:"required"`
}
