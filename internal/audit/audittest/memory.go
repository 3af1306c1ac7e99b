// Package audittest provides an in-memory audit store for tests.
package audittest

import (
	"context"
	"sort"
	"sync"
	"time"

	"msp-identity-core/internal/audit/domain"
	auditrepo "msp-identity-core/internal/audit/repository"
)

var _ auditrepo.Repository = (*Repo)(nil)

// Repo is an in-memory audit store implementing repository.Repository.
type Repo struct {
	mu      sync.Mutex
	entries []*domain.Entry
	// CreateErr, when set, fails every Create.
	CreateErr error
}

// Entries returns a snapshot of stored entries in insertion order.
func (m *Repo) Entries() []*domain.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Entry(nil), m.entries...)
}

// Actions returns the action of every stored entry in insertion order.
func (m *Repo) Actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Action
	}
	return out
}

// Last returns the newest stored entry with action, or nil.
func (m *Repo) Last(action string) *domain.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].Action == action {
			return m.entries[i]
		}
	}
	return nil
}

func (m *Repo) Create(_ context.Context, e *domain.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return m.CreateErr
	}
	cp := *e
	m.entries = append(m.entries, &cp)
	return nil
}

func inScope(e *domain.Entry, s domain.Scope) bool {
	if s.OrgID != "" && e.OrgID != s.OrgID {
		return false
	}
	if s.From != nil && e.CreatedAt.Before(*s.From) {
		return false
	}
	if s.To != nil && e.CreatedAt.After(*s.To) {
		return false
	}
	return true
}

func (m *Repo) sorted() []*domain.Entry {
	out := append([]*domain.Entry(nil), m.entries...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (m *Repo) Query(_ context.Context, f domain.Filter) ([]*domain.Entry, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var match []*domain.Entry
	for _, e := range m.sorted() {
		if !inScope(e, domain.Scope{OrgID: f.OrgID, From: f.From, To: f.To}) {
			continue
		}
		if (f.UserID != "" && e.UserID != f.UserID) || (f.Action != "" && e.Action != f.Action) ||
			(f.Risk != "" && e.Risk != f.Risk) || (f.IP != "" && e.IP != f.IP) ||
			(f.ComplianceRelevant != nil && e.ComplianceRelevant != *f.ComplianceRelevant) {
			continue
		}
		match = append(match, e)
	}
	total := int64(len(match))
	if f.Offset >= len(match) {
		return nil, total, nil
	}
	match = match[f.Offset:]
	if len(match) > f.Limit {
		match = match[:f.Limit]
	}
	return match, total, nil
}

func (m *Repo) Stats(_ context.Context, s domain.Scope, since time.Time) (*domain.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &domain.Stats{ByRisk: map[domain.RiskLevel]int64{}}
	actions := map[string]int64{}
	for _, e := range m.entries {
		if !inScope(e, s) {
			continue
		}
		st.Total++
		if e.ComplianceRelevant {
			st.ComplianceRelevant++
		}
		if !e.CreatedAt.Before(since) {
			st.Last24h++
		}
		st.ByRisk[e.Risk]++
		actions[e.Action]++
	}
	for k, v := range actions {
		st.TopActions = append(st.TopActions, domain.Count{Key: k, Count: v})
	}
	return st, nil
}

func (m *Repo) CountActions(ctx context.Context, s domain.Scope, actions []string) (int64, error) {
	list, err := m.ListActions(ctx, s, actions, 1<<30)
	return int64(len(list)), err
}

func (m *Repo) ListActions(_ context.Context, s domain.Scope, actions []string, limit int) ([]*domain.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := map[string]bool{}
	for _, a := range actions {
		set[a] = true
	}
	var out []*domain.Entry
	for _, e := range m.sorted() {
		if inScope(e, s) && set[e.Action] && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Repo) DeleteNonCompliantBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []*domain.Entry
	var n int64
	for _, e := range m.entries {
		if !e.ComplianceRelevant && e.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return n, nil
}
