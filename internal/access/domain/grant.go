package domain

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"
)

// Level is how much a technician may do inside a customer tenant.
type Level string

const (
	LevelReadOnly   Level = "read_only"
	LevelFullAccess Level = "full_access"
	LevelEmergency  Level = "emergency"
)

// Valid reports whether l is a defined level.
func (l Level) Valid() bool {
	switch l {
	case LevelReadOnly, LevelFullAccess, LevelEmergency:
		return true
	}
	return false
}

// Status is the lifecycle state of a grant.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
	StatusExpired Status = "expired"
)

// Grant is a TechnicianAccess record. At most one active grant exists per
// (technician, customer) pair.
type Grant struct {
	ID              string       `json:"id"`
	TechnicianID    string       `json:"technicianId"`
	CustomerOrgID   string       `json:"customerOrgId"`
	Level           Level        `json:"level"`
	GrantedBy       string       `json:"grantedBy,omitempty"`
	GrantedAt       time.Time    `json:"grantedAt"`
	ExpiresAt       *time.Time   `json:"expiresAt,omitempty"`
	Status          Status       `json:"status"`
	AllowedServices []string     `json:"allowedServices"`
	Restrictions    Restrictions `json:"restrictions"`
	Notes           string       `json:"notes,omitempty"`
	TransferredFrom string       `json:"transferredFrom,omitempty"`
	RevokedAt       *time.Time   `json:"revokedAt,omitempty"`
	RevokedBy       string       `json:"revokedBy,omitempty"`
	RevokeReason    string       `json:"revokeReason,omitempty"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// ActiveAt reports whether g is active and not past its expiry at now.
func (g *Grant) ActiveAt(now time.Time) bool {
	if g == nil || g.Status != StatusActive {
		return false
	}
	return g.ExpiresAt == nil || g.ExpiresAt.After(now)
}

// RestrictionsVersion is the current encoding of Restrictions.
const RestrictionsVersion = 1

// Restrictions narrows where and when a grant may be used. The zero value restricts nothing.
type Restrictions struct {
	Version    int      `json:"v"`
	AllowedIPs []string `json:"allowedIps,omitempty"`
	Window     *Window  `json:"window,omitempty"`
}

// Window is a recurring time-of-day window. EndHour may be less than StartHour for
// windows that cross midnight. Weekdays uses English day names; empty means every day.
type Window struct {
	Timezone  string   `json:"timezone,omitempty"`
	StartHour int      `json:"startHour"`
	EndHour   int      `json:"endHour"`
	Weekdays  []string `json:"weekdays,omitempty"`
}

var weekdays = map[string]bool{
	"Sunday": true, "Monday": true, "Tuesday": true, "Wednesday": true,
	"Thursday": true, "Friday": true, "Saturday": true,
}

// Validate returns the list of problems with r, or nil.
func (r Restrictions) Validate() []string {
	var reasons []string
	for _, ip := range r.AllowedIPs {
		if net.ParseIP(ip) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(ip); err != nil {
			reasons = append(reasons, fmt.Sprintf("allowedIps: %q is not an IP address or CIDR range", ip))
		}
	}
	if w := r.Window; w != nil {
		if w.StartHour < 0 || w.StartHour > 23 {
			reasons = append(reasons, "window.startHour must be between 0 and 23")
		}
		if w.EndHour < 1 || w.EndHour > 24 {
			reasons = append(reasons, "window.endHour must be between 1 and 24")
		}
		if w.StartHour == w.EndHour {
			reasons = append(reasons, "window must not be empty")
		}
		if w.Timezone != "" {
			if _, err := time.LoadLocation(w.Timezone); err != nil {
				reasons = append(reasons, fmt.Sprintf("window.timezone: unknown zone %q", w.Timezone))
			}
		}
		for _, d := range w.Weekdays {
			if !weekdays[d] {
				reasons = append(reasons, fmt.Sprintf("window.weekdays: %q is not a day name", d))
			}
		}
	}
	return reasons
}

// DecodeRestrictions parses the stored JSON form. Empty input is the zero value.
func DecodeRestrictions(raw []byte) (Restrictions, error) {
	var r Restrictions
	if len(raw) == 0 || strings.TrimSpace(string(raw)) == "{}" {
		return r, nil
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return Restrictions{}, fmt.Errorf("restrictions: %w", err)
	}
	if r.Version > RestrictionsVersion {
		return Restrictions{}, fmt.Errorf("restrictions: unsupported version %d", r.Version)
	}
	return r, nil
}

// Encode returns the stored JSON form, stamped with the current version.
func (r Restrictions) Encode() ([]byte, error) {
	r.Version = RestrictionsVersion
	return json.Marshal(r)
}

// Patch holds the mutable fields of a grant; nil fields are left unchanged.
type Patch struct {
	Level           *Level        `json:"level,omitempty"`
	ExpiresAt       *time.Time    `json:"expiresAt,omitempty"`
	ClearExpiry     bool          `json:"clearExpiry,omitempty"`
	AllowedServices *[]string     `json:"allowedServices,omitempty"`
	Restrictions    *Restrictions `json:"restrictions,omitempty"`
	Notes           *string       `json:"notes,omitempty"`
}

// Empty reports whether p changes nothing.
func (p Patch) Empty() bool {
	return p.Level == nil && p.ExpiresAt == nil && !p.ClearExpiry && p.AllowedServices == nil &&
		p.Restrictions == nil && p.Notes == nil
}

// Apply writes p onto g and returns the names of the fields it changed.
func (p Patch) Apply(g *Grant) []string {
	var changed []string
	if p.Level != nil && *p.Level != g.Level {
		g.Level = *p.Level
		changed = append(changed, "level")
	}
	if p.ClearExpiry && g.ExpiresAt != nil {
		g.ExpiresAt = nil
		changed = append(changed, "expiresAt")
	} else if p.ExpiresAt != nil {
		t := p.ExpiresAt.UTC()
		g.ExpiresAt = &t
		changed = append(changed, "expiresAt")
	}
	if p.AllowedServices != nil {
		g.AllowedServices = append([]string{}, (*p.AllowedServices)...)
		changed = append(changed, "allowedServices")
	}
	if p.Restrictions != nil {
		g.Restrictions = *p.Restrictions
		changed = append(changed, "restrictions")
	}
	if p.Notes != nil && *p.Notes != g.Notes {
		g.Notes = *p.Notes
		changed = append(changed, "notes")
	}
	return changed
}
