package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"msp-identity-core/internal/db"
	"msp-identity-core/internal/user/domain"
)

const userColumns = `id, org_id, email, name, role, status, password_hash, password_changed_at,
	failed_login_attempts, locked_until, mfa_status, last_login_at, created_at, updated_at`

// ErrEmailTaken is returned by Create when the email is already registered.
var ErrEmailTaken = errors.New("email already registered")

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns a user repository that uses the given db for persistence.
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByEmail returns the user with the given email (case-insensitive), or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = $1`, domain.NormalizeEmail(email))
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*domain.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

// ListTechnicians returns active provider users eligible for customer grants, ordered by email.
func (r *PostgresRepository) ListTechnicians(ctx context.Context) ([]*domain.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT u.id, u.org_id, u.email, u.name, u.role, u.status, u.password_hash, u.password_changed_at,
		        u.failed_login_attempts, u.locked_until, u.mfa_status, u.last_login_at, u.created_at, u.updated_at
		 FROM users u JOIN organizations o ON o.id = u.org_id
		 WHERE o.kind = 'provider' AND u.status = 'active'
		   AND u.role IN ('provider_admin', 'senior_technician', 'technician')
		 ORDER BY u.email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Create persists the user. The user must have ID and PasswordHash set.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, org_id, email, name, role, status, password_hash, password_changed_at, mfa_status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		u.ID, u.OrgID, domain.NormalizeEmail(u.Email), u.Name, string(u.Role), string(u.Status),
		u.PasswordHash, u.PasswordChangedAt, string(u.MFAStatus), u.CreatedAt)
	if db.IsUniqueViolation(err) {
		return ErrEmailTaken
	}
	return err
}

// Update writes name, role and status.
func (r *PostgresRepository) Update(ctx context.Context, u *domain.User) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET name = $2, role = $3, status = $4, updated_at = now() WHERE id = $1`,
		u.ID, u.Name, string(u.Role), string(u.Status))
	return err
}

// RecordLogin stamps last_login_at.
func (r *PostgresRepository) RecordLogin(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET last_login_at = $2 WHERE id = $1`, id, at)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(s rowScanner) (*domain.User, error) {
	var (
		u           domain.User
		role        string
		status      string
		mfaStatus   string
		lockedUntil sql.NullTime
		lastLogin   sql.NullTime
	)
	err := s.Scan(&u.ID, &u.OrgID, &u.Email, &u.Name, &role, &status, &u.PasswordHash, &u.PasswordChangedAt,
		&u.FailedLoginAttempts, &lockedUntil, &mfaStatus, &lastLogin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.Role = domain.Role(role)
	u.Status = domain.UserStatus(status)
	u.MFAStatus = domain.MFAStatus(mfaStatus)
	u.LockedUntil = nullTimeToPtr(lockedUntil)
	u.LastLoginAt = nullTimeToPtr(lastLogin)
	return &u, nil
}

func nullTimeToPtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}
