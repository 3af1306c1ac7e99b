// Package access governs which technicians may act against which customer tenants,
// and at what level.
package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"msp-identity-core/internal/access/domain"
	"msp-identity-core/internal/access/repository"
	"msp-identity-core/internal/apperr"
	"msp-identity-core/internal/audit"
	auditdomain "msp-identity-core/internal/audit/domain"
	orgdomain "msp-identity-core/internal/organization/domain"
	orgrepo "msp-identity-core/internal/organization/repository"
	"msp-identity-core/internal/policy/engine"
	userdomain "msp-identity-core/internal/user/domain"
	userrepo "msp-identity-core/internal/user/repository"
)

var (
	ErrAlreadyActive = apperr.New(apperr.KindConflict, "technician already has active access to this customer")
	ErrNotActive     = apperr.New(apperr.KindConflict, "access grant is not active")
)

// Handoff skip reasons.
const (
	SkipDestinationHasAccess = "destination technician already has active access"
	SkipNoSourceAccess       = "source technician has no active access"
	SkipSourceExpired        = "source grant expired"
)

const noGrantReason = "no active grant"

// Service implements grant, update, revoke, handoff, matrix and policy checks.
type Service struct {
	repo    repository.Repository
	users   userrepo.Repository
	orgs    orgrepo.Repository
	policy  engine.Evaluator
	auditor *audit.Service
	now     func() time.Time
}

// NewService returns an access service.
func NewService(repo repository.Repository, users userrepo.Repository, orgs orgrepo.Repository, policy engine.Evaluator, auditor *audit.Service) *Service {
	return &Service{repo: repo, users: users, orgs: orgs, policy: policy, auditor: auditor, now: time.Now}
}

// ValidateRole reports whether role may be held in an organization of orgKind.
func (s *Service) ValidateRole(role, orgKind string) bool {
	return userdomain.ValidateRole(userdomain.Role(role), orgKind)
}

// ListValidRoles returns the roles available to an organization of orgKind.
func (s *Service) ListValidRoles(orgKind string) []userdomain.RoleInfo {
	return userdomain.ListValidRoles(orgKind)
}

// Grant gives technicianID access to customerOrgID. The technician must be an active
// provider user with an eligible role and the customer must be an active customer org.
func (s *Service) Grant(ctx context.Context, actorID string, req domain.GrantRequest) (*domain.Grant, error) {
	now := s.now().UTC()
	var reasons []string
	if req.TechnicianID == "" {
		reasons = append(reasons, "technicianId is required")
	}
	if req.CustomerOrgID == "" {
		reasons = append(reasons, "customerOrgId is required")
	}
	if !req.Level.Valid() {
		reasons = append(reasons, "level must be read_only, full_access or emergency")
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		reasons = append(reasons, "expiresAt must be in the future")
	}
	reasons = append(reasons, req.Restrictions.Validate()...)
	if len(reasons) > 0 {
		return nil, apperr.Invalid(reasons...)
	}

	if err := s.checkTechnician(ctx, req.TechnicianID); err != nil {
		return nil, err
	}
	if err := s.checkCustomer(ctx, req.CustomerOrgID); err != nil {
		return nil, err
	}
	existing, err := s.repo.GetActive(ctx, req.TechnicianID, req.CustomerOrgID)
	if err != nil {
		return nil, apperr.Transient("access store", err)
	}
	if existing != nil {
		return nil, ErrAlreadyActive
	}

	g := &domain.Grant{
		ID:              uuid.New().String(),
		TechnicianID:    req.TechnicianID,
		CustomerOrgID:   req.CustomerOrgID,
		Level:           req.Level,
		GrantedBy:       actorID,
		GrantedAt:       now,
		ExpiresAt:       utcPtr(req.ExpiresAt),
		Status:          domain.StatusActive,
		AllowedServices: req.AllowedServices,
		Restrictions:    req.Restrictions,
		Notes:           req.Notes,
		UpdatedAt:       now,
	}
	if err := s.repo.Create(ctx, g); err != nil {
		if errors.Is(err, repository.ErrActiveExists) {
			return nil, ErrAlreadyActive
		}
		return nil, apperr.Transient("access store", err)
	}
	s.auditor.AccessGranted(ctx, actorID, g.ID, auditdomain.AccessDetail{
		TechnicianID: g.TechnicianID, CustomerOrgID: g.CustomerOrgID, Level: string(g.Level), ExpiresAt: g.ExpiresAt,
	})
	return g, nil
}

// Update patches the mutable fields of an active grant. At least one field is required.
func (s *Service) Update(ctx context.Context, actorID, id string, p domain.Patch) (*domain.Grant, error) {
	if p.Empty() {
		return nil, apperr.Invalid("at least one field must be provided")
	}
	var reasons []string
	if p.Level != nil && !p.Level.Valid() {
		reasons = append(reasons, "level must be read_only, full_access or emergency")
	}
	if p.ExpiresAt != nil && !p.ExpiresAt.After(s.now()) {
		reasons = append(reasons, "expiresAt must be in the future")
	}
	if p.Restrictions != nil {
		reasons = append(reasons, p.Restrictions.Validate()...)
	}
	if len(reasons) > 0 {
		return nil, apperr.Invalid(reasons...)
	}

	g, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if g.Status != domain.StatusActive {
		return nil, ErrNotActive
	}
	previous := g.Level
	changed := p.Apply(g)
	if len(changed) == 0 {
		return g, nil
	}
	g.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, g); err != nil {
		if errors.Is(err, repository.ErrNotActive) {
			return nil, ErrNotActive
		}
		return nil, apperr.Transient("access store", err)
	}
	d := auditdomain.AccessDetail{
		TechnicianID: g.TechnicianID, CustomerOrgID: g.CustomerOrgID, Level: string(g.Level),
		ExpiresAt: g.ExpiresAt, Changed: changed,
	}
	if previous != g.Level {
		d.PreviousLevel = string(previous)
	}
	s.auditor.AccessUpdated(ctx, actorID, g.ID, d)
	return g, nil
}

// Revoke ends an active grant. Revoking an inactive grant fails with ErrNotActive.
func (s *Service) Revoke(ctx context.Context, actorID, id, reason string) (*domain.Grant, error) {
	g, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if g.Status != domain.StatusActive {
		return nil, ErrNotActive
	}
	now := s.now().UTC()
	if err := s.repo.Revoke(ctx, id, actorID, reason, now); err != nil {
		if errors.Is(err, repository.ErrNotActive) {
			return nil, ErrNotActive
		}
		return nil, apperr.Transient("access store", err)
	}
	g.Status = domain.StatusRevoked
	g.RevokedAt = &now
	g.RevokedBy = actorID
	g.RevokeReason = reason
	s.auditor.AccessRevoked(ctx, actorID, g.ID, auditdomain.AccessDetail{
		TechnicianID: g.TechnicianID, CustomerOrgID: g.CustomerOrgID, Level: string(g.Level), Reason: reason,
	})
	return g, nil
}

// Get returns a grant by id.
func (s *Service) Get(ctx context.Context, id string) (*domain.Grant, error) {
	g, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Transient("access store", err)
	}
	if g == nil {
		return nil, apperr.NotFound("access grant")
	}
	return g, nil
}

// ListForTechnician returns a technician's grants, newest first.
func (s *Service) ListForTechnician(ctx context.Context, technicianID string, activeOnly bool) ([]*domain.Grant, error) {
	list, err := s.repo.ListByTechnician(ctx, technicianID, activeOnly)
	if err != nil {
		return nil, apperr.Transient("access store", err)
	}
	return list, nil
}

// ListForCustomer returns the grants against a customer, newest first.
func (s *Service) ListForCustomer(ctx context.Context, customerOrgID string, activeOnly bool) ([]*domain.Grant, error) {
	list, err := s.repo.ListByCustomer(ctx, customerOrgID, activeOnly)
	if err != nil {
		return nil, apperr.Transient("access store", err)
	}
	return list, nil
}

// BuildAccessMatrix projects every eligible technician against every active customer.
func (s *Service) BuildAccessMatrix(ctx context.Context) (*domain.Matrix, error) {
	techs, err := s.users.ListTechnicians(ctx)
	if err != nil {
		return nil, apperr.Transient("user store", err)
	}
	customers, err := s.orgs.ListActiveCustomers(ctx)
	if err != nil {
		return nil, apperr.Transient("organization store", err)
	}
	grants, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, apperr.Transient("access store", err)
	}

	now := s.now()
	byPair := make(map[[2]string]*domain.Grant, len(grants))
	for _, g := range grants {
		if g.ActiveAt(now) {
			byPair[[2]string{g.TechnicianID, g.CustomerOrgID}] = g
		}
	}

	m := &domain.Matrix{
		Matrix:      make([][]domain.Cell, len(techs)),
		Technicians: make([]domain.TechnicianRef, len(techs)),
		Customers:   make([]domain.CustomerRef, len(customers)),
	}
	for j, c := range customers {
		m.Customers[j] = domain.CustomerRef{ID: c.ID, Name: c.Name}
	}
	for i, t := range techs {
		m.Technicians[i] = domain.TechnicianRef{ID: t.ID, Email: t.Email, Name: t.Name, Role: string(t.Role)}
		row := make([]domain.Cell, len(customers))
		for j, c := range customers {
			cell := domain.Cell{TechnicianID: t.ID, CustomerOrgID: c.ID}
			if g, ok := byPair[[2]string{t.ID, c.ID}]; ok {
				grantedAt := g.GrantedAt
				cell.HasAccess = true
				cell.GrantID = g.ID
				cell.Level = g.Level
				cell.ExpiresAt = g.ExpiresAt
				cell.GrantedAt = &grantedAt
			}
			row[j] = cell
		}
		m.Matrix[i] = row
	}
	return m, nil
}

// Handoff transfers the source technician's active grants to the destination in one
// transaction. A customer the destination already covers is skipped, not failed. Any
// error rolls back every transfer.
func (s *Service) Handoff(ctx context.Context, actorID string, req domain.HandoffRequest) (*domain.HandoffOutcome, error) {
	var reasons []string
	if req.FromTechnicianID == "" || req.ToTechnicianID == "" {
		reasons = append(reasons, "fromTechnicianId and toTechnicianId are required")
	} else if req.FromTechnicianID == req.ToTechnicianID {
		reasons = append(reasons, "source and destination technician must differ")
	}
	if strings.TrimSpace(req.Reason) == "" {
		reasons = append(reasons, "reason is required")
	}
	if len(reasons) > 0 {
		return nil, apperr.Invalid(reasons...)
	}
	from, err := s.users.GetByID(ctx, req.FromTechnicianID)
	if err != nil {
		return nil, apperr.Transient("user store", err)
	}
	if from == nil {
		return nil, apperr.NotFound("source technician")
	}
	if err := s.checkTechnician(ctx, req.ToTechnicianID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	var results []domain.HandoffResult
	err = s.repo.InTx(ctx, func(tx repository.Repository) error {
		results = results[:0]
		grants, err := tx.LockActiveByTechnician(ctx, req.FromTechnicianID)
		if err != nil {
			return err
		}
		for _, src := range selectGrants(grants, req.CustomerOrgIDs, now, &results) {
			dst, err := tx.GetActive(ctx, req.ToTechnicianID, src.CustomerOrgID)
			if err != nil {
				return err
			}
			if dst != nil {
				results = append(results, domain.HandoffResult{
					CustomerOrgID: src.CustomerOrgID, Status: domain.HandoffSkipped,
					Reason: SkipDestinationHasAccess, SourceGrantID: src.ID,
				})
				continue
			}
			next := &domain.Grant{
				ID:              uuid.New().String(),
				TechnicianID:    req.ToTechnicianID,
				CustomerOrgID:   src.CustomerOrgID,
				Level:           src.Level,
				GrantedBy:       actorID,
				GrantedAt:       now,
				ExpiresAt:       src.ExpiresAt,
				Status:          domain.StatusActive,
				AllowedServices: src.AllowedServices,
				Restrictions:    src.Restrictions,
				Notes:           handoffNote(from.Email, req.Reason, src.Notes),
				TransferredFrom: src.ID,
				UpdatedAt:       now,
			}
			if err := tx.Create(ctx, next); err != nil {
				return fmt.Errorf("transfer %s: %w", src.CustomerOrgID, err)
			}
			if !req.MaintainOriginalAccess {
				if err := tx.Revoke(ctx, src.ID, actorID, "handoff: "+req.Reason, now); err != nil {
					return fmt.Errorf("revoke %s: %w", src.ID, err)
				}
			}
			results = append(results, domain.HandoffResult{
				CustomerOrgID: src.CustomerOrgID, Status: domain.HandoffTransferred,
				SourceGrantID: src.ID, NewGrantID: next.ID,
			})
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransactionFailure, "handoff failed", err)
	}

	out := &domain.HandoffOutcome{Results: results}
	detail := auditdomain.HandoffDetail{
		FromTechnicianID:       req.FromTechnicianID,
		ToTechnicianID:         req.ToTechnicianID,
		Reason:                 req.Reason,
		MaintainOriginalAccess: req.MaintainOriginalAccess,
		Transferred:            []string{},
		Skipped:                []auditdomain.HandoffSkip{},
	}
	for _, r := range results {
		out.Summary.Total++
		if r.Status == domain.HandoffTransferred {
			out.Summary.Transferred++
			detail.Transferred = append(detail.Transferred, r.CustomerOrgID)
		} else {
			out.Summary.Skipped++
			detail.Skipped = append(detail.Skipped, auditdomain.HandoffSkip{CustomerOrgID: r.CustomerOrgID, Reason: r.Reason})
		}
	}
	if out.Results == nil {
		out.Results = []domain.HandoffResult{}
	}
	s.auditor.AccessHandoff(ctx, actorID, detail)
	return out, nil
}

// selectGrants narrows grants to the requested customers, recording a skip for every
// requested customer the source does not cover. Grants past their expiry are skipped,
// not moved.
func selectGrants(grants []*domain.Grant, customers []string, now time.Time, results *[]domain.HandoffResult) []*domain.Grant {
	live := make([]*domain.Grant, 0, len(grants))
	expired := make(map[string]*domain.Grant)
	for _, g := range grants {
		if g.ActiveAt(now) {
			live = append(live, g)
		} else {
			expired[g.CustomerOrgID] = g
		}
	}
	if len(customers) == 0 {
		for _, g := range grants {
			if !g.ActiveAt(now) {
				*results = append(*results, expiredSkip(g))
			}
		}
		return live
	}
	byCustomer := make(map[string]*domain.Grant, len(live))
	for _, g := range live {
		byCustomer[g.CustomerOrgID] = g
	}
	out := make([]*domain.Grant, 0, len(customers))
	seen := make(map[string]bool, len(customers))
	for _, c := range customers {
		if seen[c] {
			continue
		}
		seen[c] = true
		if g, ok := byCustomer[c]; ok {
			out = append(out, g)
			continue
		}
		if g, ok := expired[c]; ok {
			*results = append(*results, expiredSkip(g))
			continue
		}
		*results = append(*results, domain.HandoffResult{CustomerOrgID: c, Status: domain.HandoffSkipped, Reason: SkipNoSourceAccess})
	}
	return out
}

func expiredSkip(g *domain.Grant) domain.HandoffResult {
	return domain.HandoffResult{
		CustomerOrgID: g.CustomerOrgID, Status: domain.HandoffSkipped,
		Reason: SkipSourceExpired, SourceGrantID: g.ID,
	}
}

func handoffNote(fromEmail, reason, previous string) string {
	note := fmt.Sprintf("Transferred from %s: %s", fromEmail, reason)
	if previous != "" {
		note += "\n" + previous
	}
	return note
}

// Check evaluates whether a technician may perform an action against a customer now.
// Evaluation failures are returned as errors; they never yield an allow.
func (s *Service) Check(ctx context.Context, req domain.CheckRequest) (*domain.Decision, error) {
	if req.TechnicianID == "" || req.CustomerOrgID == "" || req.Action == "" {
		return nil, apperr.Invalid("technicianId, customerOrgId and action are required")
	}
	at := req.At
	if at.IsZero() {
		at = s.now()
	}
	g, err := s.repo.GetActive(ctx, req.TechnicianID, req.CustomerOrgID)
	if err != nil {
		return nil, apperr.Transient("access store", err)
	}
	detail := auditdomain.DataAccessDetail{CustomerOrgID: req.CustomerOrgID, Action: req.Action, Service: req.Service}
	if g == nil {
		detail.Reason = noGrantReason
		s.auditor.AccessDenied(ctx, req.TechnicianID, detail)
		return &domain.Decision{Allowed: false, Reasons: []string{noGrantReason}}, nil
	}

	in := engine.AccessInput{
		Level:           string(g.Level),
		Status:          string(g.Status),
		ExpiresAt:       g.ExpiresAt,
		AllowedServices: g.AllowedServices,
		AllowedIPs:      g.Restrictions.AllowedIPs,
		Action:          req.Action,
		Service:         req.Service,
		IP:              req.IP,
		At:              at,
	}
	if w := g.Restrictions.Window; w != nil {
		in.Window = &engine.Window{Timezone: w.Timezone, StartHour: w.StartHour, EndHour: w.EndHour, Weekdays: w.Weekdays}
	}
	res, err := s.policy.EvaluateAccess(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("access: evaluate policy: %w", err)
	}

	d := &domain.Decision{Allowed: res.Allowed, Reasons: res.Reasons, HighRisk: res.HighRisk, GrantID: g.ID, Level: g.Level}
	detail.Level = string(g.Level)
	detail.Allowed = res.Allowed
	if res.Allowed {
		s.auditor.DataAccessed(ctx, req.TechnicianID, detail)
	} else {
		detail.Reason = strings.Join(res.Reasons, "; ")
		s.auditor.AccessDenied(ctx, req.TechnicianID, detail)
	}
	return d, nil
}

// ExpireStale transitions grants past their expiry to expired and returns how many moved.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	expired, err := s.repo.ExpireStale(ctx, s.now().UTC())
	if err != nil {
		return 0, apperr.Transient("access store", err)
	}
	for _, g := range expired {
		s.auditor.AccessRevoked(ctx, "", g.ID, auditdomain.AccessDetail{
			TechnicianID: g.TechnicianID, CustomerOrgID: g.CustomerOrgID, Level: string(g.Level),
			ExpiresAt: g.ExpiresAt, Reason: "expired",
		})
	}
	return len(expired), nil
}

func (s *Service) checkTechnician(ctx context.Context, id string) error {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return apperr.Transient("user store", err)
	}
	if u == nil || !u.IsActive() {
		return apperr.NotFound("technician")
	}
	if !u.Role.CanHoldCustomerAccess() {
		return apperr.Invalid(fmt.Sprintf("role %s cannot hold customer access", u.Role))
	}
	org, err := s.orgs.GetOrganizationByID(ctx, u.OrgID)
	if err != nil {
		return apperr.Transient("organization store", err)
	}
	if org == nil || org.Kind != orgdomain.OrgKindProvider {
		return apperr.Invalid("technician must belong to the provider organization")
	}
	return nil
}

func (s *Service) checkCustomer(ctx context.Context, id string) error {
	org, err := s.orgs.GetOrganizationByID(ctx, id)
	if err != nil {
		return apperr.Transient("organization store", err)
	}
	if org == nil || !org.IsActive() || org.Kind != orgdomain.OrgKindCustomer {
		return apperr.NotFound("customer organization")
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
