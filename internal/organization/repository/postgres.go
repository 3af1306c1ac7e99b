package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"msp-identity-core/internal/db"
	"msp-identity-core/internal/organization/domain"
)

const orgColumns = `id, name, kind, sso_enabled, status, settings, created_at, updated_at`

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns an organization repository that uses the given db for persistence.
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

// GetOrganizationByID returns the organization for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetOrganizationByID(ctx context.Context, id string) (*domain.Org, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id = $1`, id)
	o, err := scanOrg(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return o, nil
}

// ListActiveCustomers returns active customer organizations ordered by name.
func (r *PostgresRepository) ListActiveCustomers(ctx context.Context) ([]*domain.Org, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orgColumns+` FROM organizations WHERE kind = 'customer' AND status = 'active' ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Org
	for rows.Next() {
		o, err := scanOrg(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// CreateOrganization persists the organization. The organization must have ID set.
func (r *PostgresRepository) CreateOrganization(ctx context.Context, o *domain.Org) error {
	settings, err := o.Settings.Encode()
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO organizations (id, name, kind, sso_enabled, status, settings, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		o.ID, o.Name, string(o.Kind), o.SSOEnabled, string(o.Status), settings, o.CreatedAt)
	return err
}

// UpdateOrganization updates name, status and settings.
func (r *PostgresRepository) UpdateOrganization(ctx context.Context, o *domain.Org) error {
	settings, err := o.Settings.Encode()
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`UPDATE organizations SET name = $2, status = $3, sso_enabled = $4, settings = $5, updated_at = now() WHERE id = $1`,
		o.ID, o.Name, string(o.Status), o.SSOEnabled, settings)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrg(s rowScanner) (*domain.Org, error) {
	var (
		o        domain.Org
		kind     string
		status   string
		settings []byte
	)
	if err := s.Scan(&o.ID, &o.Name, &kind, &o.SSOEnabled, &status, &settings, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Kind = domain.OrgKind(kind)
	o.Status = domain.OrgStatus(status)
	st, err := domain.DecodeSettings(settings)
	if err != nil {
		return nil, fmt.Errorf("organization %s: %w", o.ID, err)
	}
	o.Settings = st
	return &o, nil
}
