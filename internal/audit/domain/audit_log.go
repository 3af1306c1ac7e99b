package domain

import "time"

// RiskLevel grades how consequential an audited event is.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Valid reports whether r is a known level.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// Entry is one append-only audit record. Empty UserID marks a system-originated event.
type Entry struct {
	ID                 string
	UserID             string
	SessionID          string
	OrgID              string
	Action             string
	ResourceType       string
	ResourceID         string
	Detail             Detail
	IP                 string
	UserAgent          string
	Risk               RiskLevel
	ComplianceRelevant bool
	CreatedAt          time.Time
}

// Filter selects entries for Query. Zero fields do not filter.
type Filter struct {
	UserID             string
	OrgID              string
	Action             string
	ResourceType       string
	Risk               RiskLevel
	ComplianceRelevant *bool
	IP                 string
	From               *time.Time
	To                 *time.Time
	Limit              int
	Offset             int
}

// Scope narrows aggregate queries to an organization and time range.
type Scope struct {
	OrgID string
	From  *time.Time
	To    *time.Time
}

// Count is one bucket of a histogram.
type Count struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// Stats are aggregate counts over a scope.
type Stats struct {
	Total              int64               `json:"total"`
	ComplianceRelevant int64               `json:"complianceRelevant"`
	Last24h            int64               `json:"last24h"`
	ByRisk             map[RiskLevel]int64 `json:"byRisk"`
	TopActions         []Count             `json:"topActions"`
	TopResources       []Count             `json:"topResources"`
}
