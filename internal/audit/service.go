package audit

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"msp-identity-core/internal/apperr"
	"msp-identity-core/internal/audit/domain"
	auditrepo "msp-identity-core/internal/audit/repository"
	"msp-identity-core/internal/platform/reqctx"
)

const (
	defaultPageSize  = 50
	maxPageSize      = 500
	reportSectionCap = 100
)

// Emitter mirrors persisted entries to an external sink (OTel logs). Best-effort.
type Emitter interface {
	Emit(ctx context.Context, e *domain.Entry)
}

// Record is the input to Append. UserID may be empty only when System is set.
type Record struct {
	System             bool
	UserID             string
	SessionID          string
	OrgID              string
	Action             string
	ResourceType       string
	ResourceID         string
	Detail             domain.Detail
	IP                 string
	UserAgent          string
	Risk               domain.RiskLevel
	ComplianceRelevant *bool
}

// Service is the single write path for audit entries plus the query, stats and report API.
type Service struct {
	writer  auditrepo.Writer
	reader  auditrepo.Reader
	cleaner interface {
		DeleteNonCompliantBefore(ctx context.Context, cutoff time.Time) (int64, error)
	}
	emitter Emitter
	now     func() time.Time

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewService returns a Service backed by repo. emitter may be nil.
func NewService(repo auditrepo.Repository, emitter Emitter) *Service {
	s := NewWriterService(repo, emitter)
	s.reader = repo
	s.cleaner = repo
	return s
}

// NewWriterService returns a Service that can only append. Query, Stats, ComplianceReport and
// CleanupOldLogs fail on it.
func NewWriterService(w auditrepo.Writer, emitter Emitter) *Service {
	return &Service{
		writer:  w,
		emitter: emitter,
		now:     time.Now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

var errReadOnly = errors.New("audit: service has no reader")

func (s *Service) newID(at time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), s.entropy).String()
}

// Append validates r, stamps server time and persists it. Request origin and actor
// default from the context when r leaves them empty. Returns the new entry id.
func (s *Service) Append(ctx context.Context, r Record) (string, error) {
	if p, ok := reqctx.GetPrincipal(ctx); ok && !r.System {
		if r.UserID == "" {
			r.UserID = p.UserID
		}
		if r.SessionID == "" {
			r.SessionID = p.SessionID
		}
		if r.OrgID == "" {
			r.OrgID = p.OrgID
		}
	}
	client := reqctx.GetClient(ctx)
	if r.IP == "" {
		r.IP = client.IP
	}
	if r.UserAgent == "" {
		r.UserAgent = client.UserAgent
	}

	var reasons []string
	if r.Action == "" {
		reasons = append(reasons, "action is required")
	}
	if r.ResourceType == "" {
		reasons = append(reasons, "resource type is required")
	}
	if !r.Risk.Valid() {
		reasons = append(reasons, "risk level is invalid")
	}
	if r.UserID == "" && !r.System {
		reasons = append(reasons, "actor is required for non-system events")
	}
	if len(reasons) > 0 {
		return "", apperr.Invalid(reasons...)
	}

	compliance := true
	if r.ComplianceRelevant != nil {
		compliance = *r.ComplianceRelevant
	}
	now := s.now().UTC()
	e := &domain.Entry{
		ID:                 s.newID(now),
		UserID:             r.UserID,
		SessionID:          r.SessionID,
		OrgID:              r.OrgID,
		Action:             r.Action,
		ResourceType:       r.ResourceType,
		ResourceID:         r.ResourceID,
		Detail:             r.Detail,
		IP:                 r.IP,
		UserAgent:          r.UserAgent,
		Risk:               r.Risk,
		ComplianceRelevant: compliance,
		CreatedAt:          now,
	}
	if err := s.writer.Create(ctx, e); err != nil {
		return "", apperr.Transient("audit store", err)
	}
	if s.emitter != nil {
		s.emitter.Emit(ctx, e)
	}
	return e.ID, nil
}

// record appends the canonical triple for ev. Failures are logged, not returned:
// the state change being audited has already happened.
func (s *Service) record(ctx context.Context, ev Event, r Record) {
	t, ok := Canonical(ev)
	if !ok {
		log.Printf("audit: unmapped event %q", ev)
		return
	}
	r.Action, r.ResourceType = t.Action, t.ResourceType
	if r.Risk == "" {
		r.Risk = t.Risk
	}
	if _, err := s.Append(ctx, r); err != nil {
		log.Printf("audit: failed to log event %s/%s: %v", t.Action, t.ResourceType, err)
	}
}

// Page is one window of a query plus the total match count.
type Page struct {
	Entries []*domain.Entry `json:"entries"`
	Total   int64           `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// Query returns entries matching f, newest first.
func (s *Service) Query(ctx context.Context, f domain.Filter) (*Page, error) {
	if s.reader == nil {
		return nil, errReadOnly
	}
	if f.Limit <= 0 {
		f.Limit = defaultPageSize
	}
	if f.Limit > maxPageSize {
		f.Limit = maxPageSize
	}
	if f.Offset < 0 {
		return nil, apperr.Invalid("offset must not be negative")
	}
	if f.Risk != "" && !f.Risk.Valid() {
		return nil, apperr.Invalid("risk level is invalid")
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, apperr.Invalid("time range end is before start")
	}
	entries, total, err := s.reader.Query(ctx, f)
	if err != nil {
		return nil, apperr.Transient("audit store", err)
	}
	return &Page{Entries: entries, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

// Stats aggregates counts over scope; Last24h counts the 24 hours before now.
func (s *Service) Stats(ctx context.Context, scope domain.Scope) (*domain.Stats, error) {
	if s.reader == nil {
		return nil, errReadOnly
	}
	st, err := s.reader.Stats(ctx, scope, s.now().UTC().Add(-24*time.Hour))
	if err != nil {
		return nil, apperr.Transient("audit store", err)
	}
	return st, nil
}

// ReportSummary holds the headline counters of a compliance report.
type ReportSummary struct {
	TotalEvents      int64 `json:"totalEvents"`
	ComplianceEvents int64 `json:"complianceEvents"`
	HighRiskEvents   int64 `json:"highRiskEvents"`
	CriticalEvents   int64 `json:"criticalEvents"`
	FailedLogins     int64 `json:"failedLogins"`
	AccessChanges    int64 `json:"accessChanges"`
}

// ComplianceReport is a renderable audit deliverable.
type ComplianceReport struct {
	OrgID            string          `json:"orgId,omitempty"`
	From             *time.Time      `json:"from,omitempty"`
	To               *time.Time      `json:"to,omitempty"`
	GeneratedAt      time.Time       `json:"generatedAt"`
	Summary          ReportSummary   `json:"summary"`
	UserManagement   []*domain.Entry `json:"userManagement"`
	AccessManagement []*domain.Entry `json:"accessManagement"`
	DataAccess       []*domain.Entry `json:"dataAccess"`
	SecurityEvents   []*domain.Entry `json:"securityEvents"`
}

// ComplianceReport builds summary counters and the newest entries of each category.
func (s *Service) ComplianceReport(ctx context.Context, scope domain.Scope) (*ComplianceReport, error) {
	if s.reader == nil {
		return nil, errReadOnly
	}
	st, err := s.Stats(ctx, scope)
	if err != nil {
		return nil, err
	}
	rep := &ComplianceReport{
		OrgID:       scope.OrgID,
		From:        scope.From,
		To:          scope.To,
		GeneratedAt: s.now().UTC(),
		Summary: ReportSummary{
			TotalEvents:      st.Total,
			ComplianceEvents: st.ComplianceRelevant,
			HighRiskEvents:   st.ByRisk[domain.RiskHigh],
			CriticalEvents:   st.ByRisk[domain.RiskCritical],
		},
	}
	if rep.Summary.FailedLogins, err = s.reader.CountActions(ctx, scope, []string{"login_failed"}); err != nil {
		return nil, apperr.Transient("audit store", err)
	}
	if rep.Summary.AccessChanges, err = s.reader.CountActions(ctx, scope, accessManagementActions); err != nil {
		return nil, apperr.Transient("audit store", err)
	}

	sections := []struct {
		dst     *[]*domain.Entry
		actions []string
	}{
		{&rep.UserManagement, userManagementActions},
		{&rep.AccessManagement, accessManagementActions},
		{&rep.DataAccess, dataAccessActions},
		{&rep.SecurityEvents, securityActions},
	}
	for _, sec := range sections {
		entries, err := s.reader.ListActions(ctx, scope, sec.actions, reportSectionCap)
		if err != nil {
			return nil, apperr.Transient("audit store", err)
		}
		if entries == nil {
			entries = []*domain.Entry{}
		}
		*sec.dst = entries
	}
	return rep, nil
}

// CleanupOldLogs deletes non-compliance-relevant entries older than retentionDays.
// Compliance-relevant entries are never removed here.
func (s *Service) CleanupOldLogs(ctx context.Context, retentionDays int) (int64, error) {
	if s.cleaner == nil {
		return 0, errReadOnly
	}
	if retentionDays < 1 {
		return 0, apperr.Invalid(fmt.Sprintf("retention must be at least 1 day, got %d", retentionDays))
	}
	cutoff := s.now().UTC().AddDate(0, 0, -retentionDays)
	n, err := s.cleaner.DeleteNonCompliantBefore(ctx, cutoff)
	if err != nil {
		return 0, apperr.Transient("audit store", err)
	}
	return n, nil
}
