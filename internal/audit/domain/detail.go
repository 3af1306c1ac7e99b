package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// DetailVersion is the schema version written with every detail record.
const DetailVersion = 1

// Detail is the typed structured payload of an entry. Each event family has its own record.
type Detail interface {
	DetailKind() string
}

type LoginDetail struct {
	Email     string `json:"email,omitempty"`
	Success   bool   `json:"success"`
	Reason    string `json:"reason,omitempty"`
	MFAMethod string `json:"mfaMethod,omitempty"`
}

type SessionDetail struct {
	Reason       string `json:"reason"`
	TargetUserID string `json:"targetUserId,omitempty"`
	Count        int    `json:"count,omitempty"`
}

type EntityDetail struct {
	Name    string            `json:"name,omitempty"`
	Changes map[string]string `json:"changes,omitempty"`
}

type AccessDetail struct {
	TechnicianID  string     `json:"technicianId"`
	CustomerOrgID string     `json:"customerOrgId"`
	Level         string     `json:"level,omitempty"`
	PreviousLevel string     `json:"previousLevel,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	Changed       []string   `json:"changed,omitempty"`
}

type HandoffSkip struct {
	CustomerOrgID string `json:"customerOrgId"`
	Reason        string `json:"reason"`
}

type HandoffDetail struct {
	FromTechnicianID       string        `json:"fromTechnicianId"`
	ToTechnicianID         string        `json:"toTechnicianId"`
	Reason                 string        `json:"reason"`
	MaintainOriginalAccess bool          `json:"maintainOriginalAccess"`
	Transferred            []string      `json:"transferred"`
	Skipped                []HandoffSkip `json:"skipped"`
}

type MFADetail struct {
	Method               string `json:"method,omitempty"`
	Success              bool   `json:"success"`
	RemainingBackupCodes int    `json:"remainingBackupCodes,omitempty"`
}

type PasswordDetail struct {
	Reason string `json:"reason,omitempty"`
	// LockedUntil is set on account_locked.
	LockedUntil *time.Time `json:"lockedUntil,omitempty"`
}

type DataAccessDetail struct {
	CustomerOrgID string `json:"customerOrgId"`
	Action        string `json:"action"`
	Service       string `json:"service,omitempty"`
	Level         string `json:"level,omitempty"`
	Allowed       bool   `json:"allowed"`
	Reason        string `json:"reason,omitempty"`
}

type SecurityDetail struct {
	Event      string            `json:"event"`
	Message    string            `json:"message,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// RawDetail holds a record whose kind this build does not know.
type RawDetail struct {
	Kind string          `json:"-"`
	Data json.RawMessage `json:"-"`
}

func (LoginDetail) DetailKind() string      { return "login" }
func (SessionDetail) DetailKind() string    { return "session" }
func (EntityDetail) DetailKind() string     { return "entity" }
func (AccessDetail) DetailKind() string     { return "access" }
func (HandoffDetail) DetailKind() string    { return "handoff" }
func (MFADetail) DetailKind() string        { return "mfa" }
func (PasswordDetail) DetailKind() string   { return "password" }
func (DataAccessDetail) DetailKind() string { return "data_access" }
func (SecurityDetail) DetailKind() string   { return "security" }
func (d RawDetail) DetailKind() string      { return d.Kind }

// MarshalJSON emits the stored payload unchanged.
func (d RawDetail) MarshalJSON() ([]byte, error) {
	if len(d.Data) == 0 {
		return []byte("null"), nil
	}
	return d.Data, nil
}

type envelope struct {
	Version int             `json:"v"`
	Kind    string          `json:"kind"`
	Data    json.RawMessage `json:"data"`
}

// EncodeDetail serializes d with its kind and schema version. A nil detail encodes to nil.
func EncodeDetail(d Detail) ([]byte, error) {
	if d == nil {
		return nil, nil
	}
	if raw, ok := d.(RawDetail); ok {
		return json.Marshal(envelope{Version: DetailVersion, Kind: raw.Kind, Data: raw.Data})
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Version: DetailVersion, Kind: d.DetailKind(), Data: data})
}

// DecodeDetail parses a stored detail back into its typed record.
func DecodeDetail(b []byte) (Detail, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("audit detail: %w", err)
	}
	if env.Version > DetailVersion {
		return nil, fmt.Errorf("audit detail: unsupported version %d", env.Version)
	}
	switch env.Kind {
	case "login":
		return decode[LoginDetail](env.Data)
	case "session":
		return decode[SessionDetail](env.Data)
	case "entity":
		return decode[EntityDetail](env.Data)
	case "access":
		return decode[AccessDetail](env.Data)
	case "handoff":
		return decode[HandoffDetail](env.Data)
	case "mfa":
		return decode[MFADetail](env.Data)
	case "password":
		return decode[PasswordDetail](env.Data)
	case "data_access":
		return decode[DataAccessDetail](env.Data)
	case "security":
		return decode[SecurityDetail](env.Data)
	}
	return RawDetail{Kind: env.Kind, Data: env.Data}, nil
}

func decode[T Detail](data json.RawMessage) (Detail, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("audit detail: %w", err)
	}
	return v, nil
}
