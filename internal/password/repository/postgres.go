package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"msp-identity-core/internal/db"
	"msp-identity-core/internal/password/domain"
)

// PostgresRepository implements Repository. It needs a *sql.DB because several writes
// run in their own transaction.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a password repository over conn.
func NewPostgresRepository(conn *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

func (r *PostgresRepository) RetiredHashes(ctx context.Context, userID string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT password_hash FROM password_history WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		userID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) SetPassword(ctx context.Context, userID, hash string, keep int, at time.Time) error {
	return db.InTx(ctx, r.db, func(tx *sql.Tx) error {
		return setPassword(ctx, tx, userID, hash, keep, at)
	})
}

func setPassword(ctx context.Context, tx db.DBTX, userID, hash string, keep int, at time.Time) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO password_history (user_id, password_hash, created_at)
		 SELECT id, password_hash, $2 FROM users WHERE id = $1`, userID, at); err != nil {
		return fmt.Errorf("retire hash: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE users SET password_hash = $2, password_changed_at = $3, failed_login_attempts = 0,
		        locked_until = NULL, updated_at = $3
		 WHERE id = $1`, userID, hash, at)
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM password_history WHERE user_id = $1 AND id NOT IN (
		   SELECT id FROM password_history WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2)`,
		userID, max(keep, 0)); err != nil {
		return fmt.Errorf("trim history: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SaveResetToken(ctx context.Context, t *domain.ResetToken) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	return r.db.QueryRowContext(ctx,
		`INSERT INTO password_reset_tokens (id, user_id, token_hash, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id) DO UPDATE
		   SET token_hash = EXCLUDED.token_hash, expires_at = EXCLUDED.expires_at,
		       used_at = NULL, created_at = EXCLUDED.created_at
		 RETURNING id`,
		t.ID, t.UserID, t.TokenHash, t.ExpiresAt, t.CreatedAt).Scan(&t.ID)
}

func (r *PostgresRepository) GetResetToken(ctx context.Context, tokenHash string) (*domain.ResetToken, error) {
	var t domain.ResetToken
	var used sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, token_hash, expires_at, used_at, created_at
		 FROM password_reset_tokens WHERE token_hash = $1`, tokenHash).
		Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &used, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if used.Valid {
		t.UsedAt = &used.Time
	}
	return &t, nil
}

func (r *PostgresRepository) RedeemResetToken(ctx context.Context, tokenID, userID, hash string, keep int, at time.Time) error {
	return db.InTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE password_reset_tokens SET used_at = $2 WHERE id = $1 AND used_at IS NULL`, tokenID, at)
		if err != nil {
			return fmt.Errorf("mark token used: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrTokenConsumed
		}
		return setPassword(ctx, tx, userID, hash, keep, at)
	})
}

func (r *PostgresRepository) DeleteExpiredResetTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM password_reset_tokens WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) RecordFailedLogin(ctx context.Context, userID string, p domain.LockoutPolicy, at time.Time) (domain.Outcome, error) {
	var out domain.Outcome
	err := db.InTx(ctx, r.db, func(tx *sql.Tx) error {
		var prev domain.LockState
		var locked sql.NullTime
		err := tx.QueryRowContext(ctx,
			`SELECT failed_login_attempts, locked_until FROM users WHERE id = $1 FOR UPDATE`, userID).
			Scan(&prev.Attempts, &locked)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}
		if locked.Valid {
			prev.LockedUntil = &locked.Time
		}
		var next domain.LockState
		next, out = p.NextLockout(prev, at)
		_, err = tx.ExecContext(ctx,
			`UPDATE users SET failed_login_attempts = $2, locked_until = $3, updated_at = $4 WHERE id = $1`,
			userID, next.Attempts, next.LockedUntil, at)
		return err
	})
	return out, err
}

func (r *PostgresRepository) ResetFailedAttempts(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET failed_login_attempts = 0, locked_until = NULL, updated_at = now()
		 WHERE id = $1 AND (failed_login_attempts <> 0 OR locked_until IS NOT NULL)`, userID)
	return err
}
