package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
)

// ErrCommit wraps a failed COMMIT; the transaction's writes did not persist.
var ErrCommit = errors.New("db: commit failed")

// InTx runs fn inside a transaction. fn's error rolls back and is returned unchanged;
// a nil return commits. A commit failure is returned wrapped in ErrCommit.
func InTx(ctx context.Context, conn *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Printf("db: rollback failed: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrCommit, err)
	}
	return nil
}

// NullString returns a valid NullString for non-empty s.
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
