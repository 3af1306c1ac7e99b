package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"msp-identity-core/internal/password/domain"
)

func newMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewPostgresRepository(conn), mock
}

func TestSetPassword_RetiresAndTrims(t *testing.T) {
	repo, mock := newMock(t)
	at := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO password_history").WithArgs("u1", at).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE users SET password_hash").WithArgs("u1", "$2a$new", at).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM password_history").WithArgs("u1", 4).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.SetPassword(context.Background(), "u1", "$2a$new", 4, at); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSetPassword_UnknownUserRollsBack(t *testing.T) {
	repo, mock := newMock(t)
	at := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO password_history").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE users SET password_hash").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.SetPassword(context.Background(), "missing", "$2a$new", 4, at)
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRedeemResetToken_ConsumedRollsBack(t *testing.T) {
	repo, mock := newMock(t)
	at := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE password_reset_tokens SET used_at").WithArgs("t1", at).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.RedeemResetToken(context.Background(), "t1", "u1", "$2a$new", 4, at)
	if !errors.Is(err, ErrTokenConsumed) {
		t.Fatalf("err = %v, want ErrTokenConsumed", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRedeemResetToken_PasswordFailureRollsBackTokenUse(t *testing.T) {
	repo, mock := newMock(t)
	at := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE password_reset_tokens SET used_at").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO password_history").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE users SET password_hash").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	if err := repo.RedeemResetToken(context.Background(), "t1", "u1", "$2a$new", 4, at); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGetResetToken(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now()
	cols := []string{"id", "user_id", "token_hash", "expires_at", "used_at", "created_at"}

	mock.ExpectQuery("FROM password_reset_tokens WHERE token_hash").WithArgs("h1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("t1", "u1", "h1", now.Add(time.Hour), nil, now))
	tok, err := repo.GetResetToken(context.Background(), "h1")
	if err != nil || tok == nil || tok.UserID != "u1" || tok.UsedAt != nil {
		t.Fatalf("GetResetToken = %+v, %v", tok, err)
	}

	mock.ExpectQuery("FROM password_reset_tokens WHERE token_hash").WithArgs("nope").WillReturnError(sql.ErrNoRows)
	tok, err = repo.GetResetToken(context.Background(), "nope")
	if err != nil || tok != nil {
		t.Errorf("missing token = %+v, %v; want nil, nil", tok, err)
	}
}

func TestSaveResetToken_Upserts(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now()
	mock.ExpectQuery("INSERT INTO password_reset_tokens .* ON CONFLICT \\(user_id\\) DO UPDATE").
		WithArgs(sqlmock.AnyArg(), "u1", "h1", now.Add(time.Hour), now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("existing-id"))

	tok := &domain.ResetToken{UserID: "u1", TokenHash: "h1", ExpiresAt: now.Add(time.Hour), CreatedAt: now}
	if err := repo.SaveResetToken(context.Background(), tok); err != nil {
		t.Fatalf("SaveResetToken: %v", err)
	}
	if tok.ID != "existing-id" {
		t.Errorf("id = %q, want the surviving row's id", tok.ID)
	}
}

func TestRecordFailedLogin_LocksAtThreshold(t *testing.T) {
	repo, mock := newMock(t)
	at := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	p := domain.LockoutPolicy{Threshold: 5, Duration: 30 * time.Minute}
	until := at.Add(30 * time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT failed_login_attempts, locked_until FROM users WHERE id = \\$1 FOR UPDATE").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"failed_login_attempts", "locked_until"}).AddRow(4, nil))
	mock.ExpectExec("UPDATE users SET failed_login_attempts").
		WithArgs("u1", 5, until, at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	out, err := repo.RecordFailedLogin(context.Background(), "u1", p, at)
	if err != nil {
		t.Fatalf("RecordFailedLogin: %v", err)
	}
	if !out.Locked || !out.JustLocked || out.AttemptsRemaining != 0 {
		t.Errorf("outcome = %+v", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRecordFailedLogin_UnknownUser(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.RecordFailedLogin(context.Background(), "ghost", domain.LockoutPolicy{Threshold: 5}, time.Now())
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("err = %v, want ErrUserNotFound", err)
	}
}

func TestRetiredHashes(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery("SELECT password_hash FROM password_history").WithArgs("u1", 4).
		WillReturnRows(sqlmock.NewRows([]string{"password_hash"}).AddRow("h4").AddRow("h3"))
	got, err := repo.RetiredHashes(context.Background(), "u1", 4)
	if err != nil || len(got) != 2 || got[0] != "h4" {
		t.Errorf("RetiredHashes = %v, %v", got, err)
	}
	if got, err := repo.RetiredHashes(context.Background(), "u1", 0); err != nil || got != nil {
		t.Errorf("zero window = %v, %v", got, err)
	}
}
