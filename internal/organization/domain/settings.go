package domain

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"time"
)

// SettingsVersion is the current schema version of Settings.
const SettingsVersion = 1

// Settings is the typed, versioned per-organization configuration stored as JSON.
type Settings struct {
	Version int `json:"v"`
	// Timezone is an IANA zone used to render reports and evaluate access windows.
	Timezone string `json:"timezone,omitempty"`
	// RequireMFA forces MFA for every user of the org regardless of role.
	RequireMFA bool `json:"require_mfa"`
	// SessionIdleMinutes, when set, caps how long a session may sit unused.
	SessionIdleMinutes int `json:"session_idle_minutes,omitempty"`
	// AllowedIPRanges restricts where the org's users may log in from (CIDR).
	AllowedIPRanges []string `json:"allowed_ip_ranges,omitempty"`
}

// DefaultSettings returns the settings a new org starts with.
func DefaultSettings() Settings {
	return Settings{Version: SettingsVersion, Timezone: "UTC"}
}

// Validate checks zone and CIDR syntax.
func (s Settings) Validate() error {
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("settings: unknown timezone %q", s.Timezone)
		}
	}
	if s.SessionIdleMinutes < 0 {
		return fmt.Errorf("settings: session_idle_minutes must not be negative")
	}
	for _, r := range s.AllowedIPRanges {
		if _, err := netip.ParsePrefix(r); err != nil {
			return fmt.Errorf("settings: invalid CIDR %q", r)
		}
	}
	return nil
}

// AllowsIP reports whether ip falls in AllowedIPRanges. An empty list allows everything.
func (s Settings) AllowsIP(ip string) bool {
	if len(s.AllowedIPRanges) == 0 {
		return true
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, r := range s.AllowedIPRanges {
		if p, err := netip.ParsePrefix(r); err == nil && p.Contains(addr) {
			return true
		}
	}
	return false
}

// DecodeSettings parses stored settings. Rows written before versioning (no "v")
// are read as version 1; newer versions are rejected.
func DecodeSettings(raw []byte) (Settings, error) {
	if len(raw) == 0 {
		return DefaultSettings(), nil
	}
	var s Settings
	if err := json.Unmarshal(raw, &s); err != nil {
		return Settings{}, fmt.Errorf("settings: %w", err)
	}
	switch {
	case s.Version == 0:
		s.Version = SettingsVersion
	case s.Version > SettingsVersion:
		return Settings{}, fmt.Errorf("settings: unsupported version %d", s.Version)
	}
	return s, nil
}

// Encode serializes settings at the current version.
func (s Settings) Encode() ([]byte, error) {
	s.Version = SettingsVersion
	return json.Marshal(s)
}
