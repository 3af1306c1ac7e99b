package handler

import (
	"time"

	"msp-identity-core/internal/audit/domain"
)

type entryResponse struct {
	ID                 string           `json:"id"`
	UserID             string           `json:"userId,omitempty"`
	SessionID          string           `json:"sessionId,omitempty"`
	OrgID              string           `json:"orgId,omitempty"`
	Action             string           `json:"action"`
	ResourceType       string           `json:"resourceType"`
	ResourceID         string           `json:"resourceId,omitempty"`
	DetailKind         string           `json:"detailKind,omitempty"`
	Detail             domain.Detail    `json:"detail,omitempty"`
	IP                 string           `json:"ip,omitempty"`
	UserAgent          string           `json:"userAgent,omitempty"`
	Risk               domain.RiskLevel `json:"risk"`
	ComplianceRelevant bool             `json:"complianceRelevant"`
	CreatedAt          time.Time        `json:"createdAt"`
}

func toResponse(e *domain.Entry) entryResponse {
	out := entryResponse{
		ID:                 e.ID,
		UserID:             e.UserID,
		SessionID:          e.SessionID,
		OrgID:              e.OrgID,
		Action:             e.Action,
		ResourceType:       e.ResourceType,
		ResourceID:         e.ResourceID,
		Detail:             e.Detail,
		IP:                 e.IP,
		UserAgent:          e.UserAgent,
		Risk:               e.Risk,
		ComplianceRelevant: e.ComplianceRelevant,
		CreatedAt:          e.CreatedAt,
	}
	if e.Detail != nil {
		out.DetailKind = e.Detail.DetailKind()
	}
	return out
}

func toResponses(entries []*domain.Entry) []entryResponse {
	out := make([]entryResponse, len(entries))
	for i, e := range entries {
		out[i] = toResponse(e)
	}
	return out
}
