package domain

import "time"

// TechnicianRef is a technician column of the access matrix.
type TechnicianRef struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// CustomerRef is a customer row of the access matrix.
type CustomerRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Cell is one (technician, customer) pair of the matrix.
type Cell struct {
	TechnicianID  string     `json:"technicianId"`
	CustomerOrgID string     `json:"customerOrgId"`
	HasAccess     bool       `json:"hasAccess"`
	GrantID       string     `json:"grantId,omitempty"`
	Level         Level      `json:"level,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	GrantedAt     *time.Time `json:"grantedAt,omitempty"`
}

// Matrix is the cross product of eligible technicians and active customers.
// Matrix[i][j] is Technicians[i] against Customers[j].
type Matrix struct {
	Matrix      [][]Cell        `json:"matrix"`
	Technicians []TechnicianRef `json:"technicians"`
	Customers   []CustomerRef   `json:"customers"`
}

// GrantRequest creates a grant.
type GrantRequest struct {
	TechnicianID    string       `json:"technicianId"`
	CustomerOrgID   string       `json:"customerOrgId"`
	Level           Level        `json:"level"`
	ExpiresAt       *time.Time   `json:"expiresAt,omitempty"`
	AllowedServices []string     `json:"allowedServices,omitempty"`
	Restrictions    Restrictions `json:"restrictions"`
	Notes           string       `json:"notes,omitempty"`
}

// HandoffRequest moves a technician's active grants to another technician. An empty
// CustomerOrgIDs means all of the source technician's active grants.
type HandoffRequest struct {
	FromTechnicianID       string   `json:"fromTechnicianId"`
	ToTechnicianID         string   `json:"toTechnicianId"`
	CustomerOrgIDs         []string `json:"customerOrgIds,omitempty"`
	Reason                 string   `json:"reason"`
	MaintainOriginalAccess bool     `json:"maintainOriginalAccess"`
}

// Handoff result statuses.
const (
	HandoffTransferred = "transferred"
	HandoffSkipped     = "skipped"
)

// HandoffResult is the outcome for one customer.
type HandoffResult struct {
	CustomerOrgID string `json:"customerOrgId"`
	Status        string `json:"status"`
	Reason        string `json:"reason,omitempty"`
	SourceGrantID string `json:"sourceGrantId,omitempty"`
	NewGrantID    string `json:"newGrantId,omitempty"`
}

// HandoffSummary counts the results.
type HandoffSummary struct {
	Total       int `json:"total"`
	Transferred int `json:"transferred"`
	Skipped     int `json:"skipped"`
}

// HandoffOutcome is the response of a handoff.
type HandoffOutcome struct {
	Results []HandoffResult `json:"results"`
	Summary HandoffSummary  `json:"summary"`
}

// CheckRequest asks whether a technician may perform action against a customer.
type CheckRequest struct {
	TechnicianID  string    `json:"technicianId"`
	CustomerOrgID string    `json:"customerOrgId"`
	Action        string    `json:"action"`
	Service       string    `json:"service,omitempty"`
	IP            string    `json:"ip,omitempty"`
	At            time.Time `json:"at,omitempty"`
}

// Decision is the outcome of a check.
type Decision struct {
	Allowed  bool     `json:"allowed"`
	Reasons  []string `json:"reasons,omitempty"`
	HighRisk bool     `json:"highRisk"`
	GrantID  string   `json:"grantId,omitempty"`
	Level    Level    `json:"level,omitempty"`
}
