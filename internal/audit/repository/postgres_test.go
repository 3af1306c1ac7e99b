package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"msp-identity-core/internal/audit/domain"
)

var entryCols = []string{"id", "user_id", "session_id", "org_id", "action", "resource_type", "resource_id", "details",
	"ip_address", "user_agent", "risk_level", "compliance_relevant", "created_at"}

func TestCreate_EncodesDetailAndNulls(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer conn.Close()

	now := time.Now()
	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs("01J", nil, nil, "o1", "login_failed", "session", "", sqlmock.AnyArg(),
			"10.0.0.1", "curl", "medium", true, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	e := &domain.Entry{
		ID: "01J", OrgID: "o1", Action: "login_failed", ResourceType: "session",
		Detail: domain.LoginDetail{Email: "x@y.example", Reason: "bad_password"},
		IP:     "10.0.0.1", UserAgent: "curl", Risk: domain.RiskMedium, ComplianceRelevant: true, CreatedAt: now,
	}
	if err := NewPostgresRepository(conn).Create(context.Background(), e); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestQuery_FiltersAndTotal(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer conn.Close()

	now := time.Now()
	mock.ExpectQuery(`SELECT count\(\*\) FROM audit_logs WHERE org_id = \$1 AND user_id = \$2 AND risk_level = \$3`).
		WithArgs("o1", "u1", "high").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))
	mock.ExpectQuery(`ORDER BY created_at DESC, id DESC LIMIT \$4 OFFSET \$5`).
		WithArgs("o1", "u1", "high", 2, 10).
		WillReturnRows(sqlmock.NewRows(entryCols).
			AddRow("b", "u1", nil, "o1", "access_revoked", "technician_access", "g1",
				[]byte(`{"v":1,"kind":"access","data":{"technicianId":"t1","customerOrgId":"c1"}}`),
				"", "", "high", true, now).
			AddRow("a", "u1", "s1", "o1", "mfa_disabled", "user", "u1", nil, "", "", "high", true, now))

	entries, total, err := NewPostgresRepository(conn).Query(context.Background(), domain.Filter{
		OrgID: "o1", UserID: "u1", Risk: domain.RiskHigh, Limit: 2, Offset: 10,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if total != 42 || len(entries) != 2 {
		t.Fatalf("total=%d len=%d", total, len(entries))
	}
	if d, ok := entries[0].Detail.(domain.AccessDetail); !ok || d.TechnicianID != "t1" {
		t.Errorf("detail = %#v", entries[0].Detail)
	}
	if entries[0].SessionID != "" || entries[1].SessionID != "s1" {
		t.Errorf("session ids = %q, %q", entries[0].SessionID, entries[1].SessionID)
	}
}

func TestCountActions_UsesInList(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer conn.Close()

	mock.ExpectQuery(`SELECT count\(\*\) FROM audit_logs WHERE action IN \(\$1, \$2\)`).
		WithArgs("login_failed", "account_locked").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	n, err := NewPostgresRepository(conn).CountActions(context.Background(), domain.Scope{}, []string{"login_failed", "account_locked"})
	if err != nil || n != 7 {
		t.Errorf("CountActions = %d, %v", n, err)
	}
}

func TestDeleteNonCompliantBefore_OnlyNonCompliant(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer conn.Close()

	cutoff := time.Now().AddDate(0, 0, -30)
	mock.ExpectExec(`DELETE FROM audit_logs WHERE compliance_relevant = false AND created_at < \$1`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 5))

	n, err := NewPostgresRepository(conn).DeleteNonCompliantBefore(context.Background(), cutoff)
	if err != nil || n != 5 {
		t.Errorf("DeleteNonCompliantBefore = %d, %v", n, err)
	}
}
