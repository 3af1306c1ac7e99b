package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"msp-identity-core/internal/db"
	"msp-identity-core/internal/identity/domain"
	orgdomain "msp-identity-core/internal/organization/domain"
	userdomain "msp-identity-core/internal/user/domain"
)

const accountQuery = `SELECT u.id, u.org_id, u.email, u.name, u.role, u.status, u.password_hash, u.password_changed_at,
	u.failed_login_attempts, u.locked_until, u.mfa_status, u.last_login_at, u.created_at, u.updated_at,
	o.id, o.name, o.kind, o.sso_enabled, o.status, o.settings, o.created_at, o.updated_at
	FROM users u JOIN organizations o ON o.id = u.org_id`

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns an account repository that uses the given db for persistence.
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

// GetAccountByEmail returns the account for email (case-insensitive), or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return r.getOne(ctx, accountQuery+` WHERE lower(u.email) = $1`, userdomain.NormalizeEmail(email))
}

// GetAccountByUserID returns the account for userID, or nil if not found.
func (r *PostgresRepository) GetAccountByUserID(ctx context.Context, userID string) (*domain.Account, error) {
	return r.getOne(ctx, accountQuery+` WHERE u.id = $1`, userID)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*domain.Account, error) {
	var (
		u           userdomain.User
		o           orgdomain.Org
		role        string
		status      string
		mfaStatus   string
		lockedUntil sql.NullTime
		lastLogin   sql.NullTime
		kind        string
		orgStatus   string
		settings    []byte
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.OrgID, &u.Email, &u.Name, &role, &status, &u.PasswordHash, &u.PasswordChangedAt,
		&u.FailedLoginAttempts, &lockedUntil, &mfaStatus, &lastLogin, &u.CreatedAt, &u.UpdatedAt,
		&o.ID, &o.Name, &kind, &o.SSOEnabled, &orgStatus, &settings, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.Role = userdomain.Role(role)
	u.Status = userdomain.UserStatus(status)
	u.MFAStatus = userdomain.MFAStatus(mfaStatus)
	u.LockedUntil = nullTime(lockedUntil)
	u.LastLoginAt = nullTime(lastLogin)
	o.Kind = orgdomain.OrgKind(kind)
	o.Status = orgdomain.OrgStatus(orgStatus)
	if o.Settings, err = orgdomain.DecodeSettings(settings); err != nil {
		return nil, fmt.Errorf("organization %s: %w", o.ID, err)
	}
	return &domain.Account{User: &u, Org: &o}, nil
}

func nullTime(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}
