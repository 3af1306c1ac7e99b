package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"msp-identity-core/internal/db"
	"msp-identity-core/internal/mfa/domain"
	userdomain "msp-identity-core/internal/user/domain"
)

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns an MFA repository over the users table.
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

// GetState returns the MFA columns for userID, or nil if not found.
func (r *PostgresRepository) GetState(ctx context.Context, userID string) (*domain.State, error) {
	var (
		s         domain.State
		status    string
		secretEnc sql.NullString
		codes     []byte
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, mfa_status, mfa_secret_enc, mfa_backup_codes FROM users WHERE id = $1`, userID,
	).Scan(&s.UserID, &s.Email, &status, &secretEnc, &codes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s.Status = userdomain.MFAStatus(status)
	s.SecretEnc = secretEnc.String
	if len(codes) > 0 {
		if err := json.Unmarshal(codes, &s.BackupCodeHashes); err != nil {
			return nil, fmt.Errorf("decode backup codes: %w", err)
		}
	}
	return &s, nil
}

// SaveEnrollment writes a pending enrollment unless MFA is already enabled.
func (r *PostgresRepository) SaveEnrollment(ctx context.Context, userID, secretEnc string, codeHashes []string, at time.Time) error {
	codes, err := encodeCodes(codeHashes)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET mfa_status = 'pending', mfa_secret_enc = $2, mfa_backup_codes = $3::jsonb, updated_at = $4
		 WHERE id = $1 AND mfa_status <> 'enabled'`,
		userID, secretEnc, codes, at)
	return expectOne(res, err)
}

// Enable moves pending to enabled.
func (r *PostgresRepository) Enable(ctx context.Context, userID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET mfa_status = 'enabled', updated_at = $2 WHERE id = $1 AND mfa_status = 'pending'`,
		userID, at)
	return expectOne(res, err)
}

// Disable clears secret and codes.
func (r *PostgresRepository) Disable(ctx context.Context, userID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET mfa_status = 'disabled', mfa_secret_enc = NULL, mfa_backup_codes = '[]'::jsonb, updated_at = $2
		 WHERE id = $1 AND mfa_status IN ('pending', 'enabled')`,
		userID, at)
	return expectOne(res, err)
}

// ReplaceBackupCodes swaps the set for an enabled user.
func (r *PostgresRepository) ReplaceBackupCodes(ctx context.Context, userID string, codeHashes []string, at time.Time) error {
	codes, err := encodeCodes(codeHashes)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET mfa_backup_codes = $2::jsonb, updated_at = $3 WHERE id = $1 AND mfa_status = 'enabled'`,
		userID, codes, at)
	return expectOne(res, err)
}

// ConsumeBackupCode removes hash with a conditional update, so two concurrent
// redemptions of the same code cannot both succeed.
func (r *PostgresRepository) ConsumeBackupCode(ctx context.Context, userID, hash string) (int, bool, error) {
	var remaining int
	err := r.db.QueryRowContext(ctx,
		`UPDATE users SET mfa_backup_codes = mfa_backup_codes - $2::text, updated_at = now()
		 WHERE id = $1 AND mfa_status = 'enabled' AND jsonb_exists(mfa_backup_codes, $2)
		 RETURNING jsonb_array_length(mfa_backup_codes)`,
		userID, hash).Scan(&remaining)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return remaining, true, nil
}

func encodeCodes(hashes []string) ([]byte, error) {
	if hashes == nil {
		hashes = []string{}
	}
	b, err := json.Marshal(hashes)
	if err != nil {
		return nil, fmt.Errorf("encode backup codes: %w", err)
	}
	return b, nil
}

func expectOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStateConflict
	}
	return nil
}
