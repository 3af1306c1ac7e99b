package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"msp-identity-core/internal/access/domain"
	"msp-identity-core/internal/db"
)

const grantColumns = `id, technician_id, customer_org_id, access_level, granted_by, granted_at, expires_at, status,
	allowed_services, restrictions, notes, transferred_from, revoked_at, revoked_by, revoke_reason, updated_at`

type PostgresRepository struct {
	db   db.DBTX
	conn *sql.DB
}

// NewPostgresRepository returns a grant repository backed by conn.
func NewPostgresRepository(conn *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: conn, conn: conn}
}

// InTx runs fn inside one transaction. Nested calls are rejected.
func (r *PostgresRepository) InTx(ctx context.Context, fn func(Repository) error) error {
	if r.conn == nil {
		return errors.New("access: nested transaction")
	}
	return db.InTx(ctx, r.conn, func(tx *sql.Tx) error {
		return fn(&PostgresRepository{db: tx})
	})
}

// Create inserts g. A second active grant for the same pair fails with ErrActiveExists.
func (r *PostgresRepository) Create(ctx context.Context, g *domain.Grant) error {
	services, err := json.Marshal(nonNil(g.AllowedServices))
	if err != nil {
		return err
	}
	restrictions, err := g.Restrictions.Encode()
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO technician_customer_access (id, technician_id, customer_org_id, access_level, granted_by, granted_at,
		     expires_at, status, allowed_services, restrictions, notes, transferred_from, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 'active', $8, $9, $10, $11, $6)`,
		g.ID, g.TechnicianID, g.CustomerOrgID, string(g.Level), db.NullString(g.GrantedBy), g.GrantedAt,
		g.ExpiresAt, services, restrictions, g.Notes, db.NullString(g.TransferredFrom))
	if db.IsUniqueViolation(err) {
		return ErrActiveExists
	}
	return err
}

// GetByID returns the grant for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Grant, error) {
	return r.getOne(ctx, `SELECT `+grantColumns+` FROM technician_customer_access WHERE id = $1`, id)
}

// GetActive returns the active grant for the pair, or nil.
func (r *PostgresRepository) GetActive(ctx context.Context, technicianID, customerOrgID string) (*domain.Grant, error) {
	return r.getOne(ctx,
		`SELECT `+grantColumns+` FROM technician_customer_access
		 WHERE technician_id = $1 AND customer_org_id = $2 AND status = 'active'`, technicianID, customerOrgID)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, args ...any) (*domain.Grant, error) {
	g, err := scanGrant(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return g, nil
}

// ListActive returns every active grant.
func (r *PostgresRepository) ListActive(ctx context.Context) ([]*domain.Grant, error) {
	return r.list(ctx, `SELECT `+grantColumns+` FROM technician_customer_access WHERE status = 'active' ORDER BY granted_at, id`)
}

// ListByTechnician returns the technician's grants, newest first.
func (r *PostgresRepository) ListByTechnician(ctx context.Context, technicianID string, activeOnly bool) ([]*domain.Grant, error) {
	return r.list(ctx,
		`SELECT `+grantColumns+` FROM technician_customer_access
		 WHERE technician_id = $1 AND ($2 = false OR status = 'active')
		 ORDER BY granted_at DESC, id`, technicianID, activeOnly)
}

// ListByCustomer returns the grants against a customer, newest first.
func (r *PostgresRepository) ListByCustomer(ctx context.Context, customerOrgID string, activeOnly bool) ([]*domain.Grant, error) {
	return r.list(ctx,
		`SELECT `+grantColumns+` FROM technician_customer_access
		 WHERE customer_org_id = $1 AND ($2 = false OR status = 'active')
		 ORDER BY granted_at DESC, id`, customerOrgID, activeOnly)
}

// LockActiveByTechnician selects the technician's active grants FOR UPDATE.
func (r *PostgresRepository) LockActiveByTechnician(ctx context.Context, technicianID string) ([]*domain.Grant, error) {
	return r.list(ctx,
		`SELECT `+grantColumns+` FROM technician_customer_access
		 WHERE technician_id = $1 AND status = 'active'
		 ORDER BY customer_org_id
		 FOR UPDATE`, technicianID)
}

// Update writes level, expiry, services, restrictions and notes of an active grant.
func (r *PostgresRepository) Update(ctx context.Context, g *domain.Grant) error {
	services, err := json.Marshal(nonNil(g.AllowedServices))
	if err != nil {
		return err
	}
	restrictions, err := g.Restrictions.Encode()
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE technician_customer_access
		 SET access_level = $2, expires_at = $3, allowed_services = $4, restrictions = $5, notes = $6, updated_at = $7
		 WHERE id = $1 AND status = 'active'`,
		g.ID, string(g.Level), g.ExpiresAt, services, restrictions, g.Notes, g.UpdatedAt)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// Revoke transitions an active grant to revoked.
func (r *PostgresRepository) Revoke(ctx context.Context, id, revokedBy, reason string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE technician_customer_access
		 SET status = 'revoked', revoked_at = $2, revoked_by = $3, revoke_reason = $4, updated_at = $2
		 WHERE id = $1 AND status = 'active'`,
		id, at, db.NullString(revokedBy), reason)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// ExpireStale marks active grants past expires_at as expired and returns them.
func (r *PostgresRepository) ExpireStale(ctx context.Context, now time.Time) ([]*domain.Grant, error) {
	return r.list(ctx,
		`UPDATE technician_customer_access SET status = 'expired', updated_at = $1
		 WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at <= $1
		 RETURNING `+grantColumns, now)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Grant, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotActive
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGrant(s rowScanner) (*domain.Grant, error) {
	var (
		g                        domain.Grant
		level, status            string
		grantedBy, transferred   sql.NullString
		revokedBy, revokeReason  sql.NullString
		expiresAt, revokedAt     sql.NullTime
		servicesRaw, restrictRaw []byte
	)
	err := s.Scan(&g.ID, &g.TechnicianID, &g.CustomerOrgID, &level, &grantedBy, &g.GrantedAt, &expiresAt, &status,
		&servicesRaw, &restrictRaw, &g.Notes, &transferred, &revokedAt, &revokedBy, &revokeReason, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	g.Level = domain.Level(level)
	g.Status = domain.Status(status)
	g.GrantedBy = grantedBy.String
	g.TransferredFrom = transferred.String
	g.RevokedBy = revokedBy.String
	g.RevokeReason = revokeReason.String
	g.ExpiresAt = timePtr(expiresAt)
	g.RevokedAt = timePtr(revokedAt)
	if len(servicesRaw) > 0 {
		if err := json.Unmarshal(servicesRaw, &g.AllowedServices); err != nil {
			return nil, fmt.Errorf("allowed_services: %w", err)
		}
	}
	if g.Restrictions, err = domain.DecodeRestrictions(restrictRaw); err != nil {
		return nil, err
	}
	return &g, nil
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
