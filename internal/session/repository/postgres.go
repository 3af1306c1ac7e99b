package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"msp-identity-core/internal/db"
	"msp-identity-core/internal/session/domain"
)

const sessionColumns = `id, user_id, access_token_hash, refresh_token_hash, access_expires_at, expires_at, status,
	ip_address, user_agent, device_name, location, mfa_verified, last_activity_at, created_at, revoked_at, revoke_reason`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(conn *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

// Create persists the session. The session must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	return insertSession(ctx, r.db, s)
}

func insertSession(ctx context.Context, q db.DBTX, s *domain.Session) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO user_sessions (id, user_id, access_token_hash, refresh_token_hash, access_expires_at, expires_at,
		     status, ip_address, user_agent, device_name, location, mfa_verified, last_activity_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 'active', $7, $8, $9, $10, $11, $12, $12)`,
		s.ID, s.UserID, s.AccessTokenHash, s.RefreshTokenHash, s.AccessExpiresAt, s.ExpiresAt,
		s.Device.IP, s.Device.UserAgent, s.Device.DeviceName, s.Device.Location, s.MFAVerified, s.CreatedAt)
	return err
}

// GetByID returns the session for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	return r.getOne(ctx, `SELECT `+sessionColumns+` FROM user_sessions WHERE id = $1`, id)
}

// GetByAccessHash returns the session that issued the access token with hash, or nil.
func (r *PostgresRepository) GetByAccessHash(ctx context.Context, hash string) (*domain.Session, error) {
	return r.getOne(ctx, `SELECT `+sessionColumns+` FROM user_sessions WHERE access_token_hash = $1`, hash)
}

// GetByRefreshHash returns the session that issued the refresh token with hash, or nil.
func (r *PostgresRepository) GetByRefreshHash(ctx context.Context, hash string) (*domain.Session, error) {
	return r.getOne(ctx, `SELECT `+sessionColumns+` FROM user_sessions WHERE refresh_token_hash = $1`, hash)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*domain.Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// ListActiveByUser returns the user's active, unexpired sessions, most recently used first.
func (r *PostgresRepository) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM user_sessions
		 WHERE user_id = $1 AND status = 'active' AND expires_at > $2
		 ORDER BY last_activity_at DESC, id`, userID, now)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// Revoke marks the session revoked if it is active.
func (r *PostgresRepository) Revoke(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	return revokeOne(ctx, r.db, id, reason, at)
}

func revokeOne(ctx context.Context, q db.DBTX, id, reason string, at time.Time) (bool, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE user_sessions SET status = 'revoked', revoked_at = $3, revoke_reason = $2
		 WHERE id = $1 AND status = 'active'`, id, reason, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RevokeAllByUser revokes all active sessions of the user and returns them.
func (r *PostgresRepository) RevokeAllByUser(ctx context.Context, userID, reason string, at time.Time) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE user_sessions SET status = 'revoked', revoked_at = $3, revoke_reason = $2
		 WHERE user_id = $1 AND status = 'active'
		 RETURNING `+sessionColumns, userID, reason, at)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// Rotate revokes the old session and inserts its successor atomically. The conditional
// update takes the row lock first, so a concurrent rotation of the same session waits
// and then sees it revoked.
func (r *PostgresRepository) Rotate(ctx context.Context, oldID string, next *domain.Session, at time.Time) error {
	return db.InTx(ctx, r.db, func(tx *sql.Tx) error {
		ok, err := revokeOne(ctx, tx, oldID, domain.ReasonTokenRefresh, at)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotActive
		}
		return insertSession(ctx, tx, next)
	})
}

// ExpireStale marks active sessions past expires_at as expired. Safe to run concurrently.
func (r *PostgresRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE user_sessions SET status = 'expired' WHERE status = 'active' AND expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// LoadSubject joins the user and organization rows for token claims.
func (r *PostgresRepository) LoadSubject(ctx context.Context, userID string) (*domain.Subject, error) {
	var s domain.Subject
	err := r.db.QueryRowContext(ctx,
		`SELECT u.id, u.email, u.role, o.id, o.name, o.kind,
		        COALESCE((o.settings->>'require_mfa')::boolean, false)
		 FROM users u JOIN organizations o ON o.id = u.org_id
		 WHERE u.id = $1 AND u.status = 'active' AND o.status = 'active'`, userID,
	).Scan(&s.UserID, &s.Email, &s.Role, &s.OrgID, &s.OrgName, &s.OrgType, &s.OrgRequiresMFA)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		s         domain.Session
		status    string
		revokedAt sql.NullTime
		reason    sql.NullString
	)
	err := row.Scan(&s.ID, &s.UserID, &s.AccessTokenHash, &s.RefreshTokenHash, &s.AccessExpiresAt, &s.ExpiresAt, &status,
		&s.Device.IP, &s.Device.UserAgent, &s.Device.DeviceName, &s.Device.Location, &s.MFAVerified,
		&s.LastActivityAt, &s.CreatedAt, &revokedAt, &reason)
	if err != nil {
		return nil, err
	}
	s.Status = domain.Status(status)
	if revokedAt.Valid {
		t := revokedAt.Time
		s.RevokedAt = &t
	}
	s.RevokeReason = reason.String
	return &s, nil
}

func collect(rows *sql.Rows) ([]*domain.Session, error) {
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
