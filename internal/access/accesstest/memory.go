// Package accesstest provides an in-memory grant store for tests.
package accesstest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"msp-identity-core/internal/access/domain"
	"msp-identity-core/internal/access/repository"
)

var _ repository.Repository = (*Repo)(nil)

// Repo is an in-memory grant store. InTx runs transactions one at a time and restores
// the previous contents when fn fails.
type Repo struct {
	txMu   sync.Mutex
	mu     sync.Mutex
	grants map[string]*domain.Grant
	// FailCreateFor, when set, fails Create for grants against that customer.
	FailCreateFor string
}

// NewRepo returns an empty store.
func NewRepo() *Repo {
	return &Repo{grants: map[string]*domain.Grant{}}
}

// Put stores g as is, bypassing the active-pair check.
func (m *Repo) Put(g *domain.Grant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *g
	m.grants[g.ID] = &cp
}

// All returns every stored grant ordered by id.
func (m *Repo) All() []*domain.Grant {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Grant, 0, len(m.grants))
	for _, g := range m.grants {
		cp := *g
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Repo) Create(_ context.Context, g *domain.Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCreateFor != "" && g.CustomerOrgID == m.FailCreateFor {
		return errors.New("injected create failure")
	}
	for _, x := range m.grants {
		if x.Status == domain.StatusActive && x.TechnicianID == g.TechnicianID && x.CustomerOrgID == g.CustomerOrgID {
			return repository.ErrActiveExists
		}
	}
	cp := *g
	cp.Status = domain.StatusActive
	m.grants[g.ID] = &cp
	return nil
}

func (m *Repo) GetByID(_ context.Context, id string) (*domain.Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.grants[id]; ok {
		cp := *g
		return &cp, nil
	}
	return nil, nil
}

func (m *Repo) GetActive(_ context.Context, technicianID, customerOrgID string) (*domain.Grant, error) {
	list := m.filter(func(g *domain.Grant) bool {
		return g.Status == domain.StatusActive && g.TechnicianID == technicianID && g.CustomerOrgID == customerOrgID
	})
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (m *Repo) ListActive(_ context.Context) ([]*domain.Grant, error) {
	return m.filter(func(g *domain.Grant) bool { return g.Status == domain.StatusActive }), nil
}

func (m *Repo) ListByTechnician(_ context.Context, technicianID string, activeOnly bool) ([]*domain.Grant, error) {
	return m.filter(func(g *domain.Grant) bool {
		return g.TechnicianID == technicianID && (!activeOnly || g.Status == domain.StatusActive)
	}), nil
}

func (m *Repo) ListByCustomer(_ context.Context, customerOrgID string, activeOnly bool) ([]*domain.Grant, error) {
	return m.filter(func(g *domain.Grant) bool {
		return g.CustomerOrgID == customerOrgID && (!activeOnly || g.Status == domain.StatusActive)
	}), nil
}

func (m *Repo) LockActiveByTechnician(ctx context.Context, technicianID string) ([]*domain.Grant, error) {
	list, _ := m.ListByTechnician(ctx, technicianID, true)
	sort.Slice(list, func(i, j int) bool { return list[i].CustomerOrgID < list[j].CustomerOrgID })
	return list, nil
}

func (m *Repo) Update(_ context.Context, g *domain.Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.grants[g.ID]
	if !ok || cur.Status != domain.StatusActive {
		return repository.ErrNotActive
	}
	cp := *g
	m.grants[g.ID] = &cp
	return nil
}

func (m *Repo) Revoke(_ context.Context, id, revokedBy, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.grants[id]
	if !ok || g.Status != domain.StatusActive {
		return repository.ErrNotActive
	}
	g.Status = domain.StatusRevoked
	g.RevokedAt = &at
	g.RevokedBy = revokedBy
	g.RevokeReason = reason
	return nil
}

func (m *Repo) ExpireStale(_ context.Context, now time.Time) ([]*domain.Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Grant
	for _, g := range m.grants {
		if g.Status == domain.StatusActive && g.ExpiresAt != nil && !g.ExpiresAt.After(now) {
			g.Status = domain.StatusExpired
			cp := *g
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Repo) InTx(_ context.Context, fn func(repository.Repository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snapshot := make(map[string]*domain.Grant, len(m.grants))
	for id, g := range m.grants {
		cp := *g
		snapshot[id] = &cp
	}
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.grants = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *Repo) filter(keep func(*domain.Grant) bool) []*domain.Grant {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Grant
	for _, g := range m.grants {
		if keep(g) {
			cp := *g
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].GrantedAt.Equal(out[j].GrantedAt) {
			return out[i].GrantedAt.After(out[j].GrantedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
