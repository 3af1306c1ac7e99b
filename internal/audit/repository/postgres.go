package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"msp-identity-core/internal/audit/domain"
	"msp-identity-core/internal/db"
)

const (
	entryColumns = `id, user_id, session_id, org_id, action, resource_type, resource_id, details,
	ip_address, user_agent, risk_level, compliance_relevant, created_at`
	topN = 10
)

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns an audit log repository that uses the given db for persistence.
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

// Create inserts e. The entry must have ID and CreatedAt set.
func (r *PostgresRepository) Create(ctx context.Context, e *domain.Entry) error {
	details, err := domain.EncodeDetail(e.Detail)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (`+entryColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, db.NullString(e.UserID), db.NullString(e.SessionID), db.NullString(e.OrgID),
		e.Action, e.ResourceType, e.ResourceID, details, e.IP, e.UserAgent,
		string(e.Risk), e.ComplianceRelevant, e.CreatedAt)
	return err
}

// where accumulates numbered predicates.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(format string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(format, len(w.args)))
}

func (w *where) in(column string, values []string) {
	ph := make([]string, len(values))
	for i, v := range values {
		w.args = append(w.args, v)
		ph[i] = fmt.Sprintf("$%d", len(w.args))
	}
	w.clauses = append(w.clauses, column+" IN ("+strings.Join(ph, ", ")+")")
}

func (w *where) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func scopeWhere(s domain.Scope) *where {
	w := &where{}
	if s.OrgID != "" {
		w.add("org_id = $%d", s.OrgID)
	}
	if s.From != nil {
		w.add("created_at >= $%d", *s.From)
	}
	if s.To != nil {
		w.add("created_at <= $%d", *s.To)
	}
	return w
}

func filterWhere(f domain.Filter) *where {
	w := scopeWhere(domain.Scope{OrgID: f.OrgID, From: f.From, To: f.To})
	if f.UserID != "" {
		w.add("user_id = $%d", f.UserID)
	}
	if f.Action != "" {
		w.add("action = $%d", f.Action)
	}
	if f.ResourceType != "" {
		w.add("resource_type = $%d", f.ResourceType)
	}
	if f.Risk != "" {
		w.add("risk_level = $%d", string(f.Risk))
	}
	if f.ComplianceRelevant != nil {
		w.add("compliance_relevant = $%d", *f.ComplianceRelevant)
	}
	if f.IP != "" {
		w.add("ip_address = $%d", f.IP)
	}
	return w
}

// Query returns a page of entries matching f and the total independent of the page window.
func (r *PostgresRepository) Query(ctx context.Context, f domain.Filter) ([]*domain.Entry, int64, error) {
	w := filterWhere(f)

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM audit_logs`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args := append(append([]any{}, w.args...), f.Limit, f.Offset)
	q := fmt.Sprintf(`SELECT `+entryColumns+` FROM audit_logs%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		w.sql(), len(w.args)+1, len(w.args)+2)
	entries, err := r.list(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// Stats computes totals, the risk histogram and top action/resource histograms.
func (r *PostgresRepository) Stats(ctx context.Context, scope domain.Scope, since time.Time) (*domain.Stats, error) {
	w := scopeWhere(scope)
	st := &domain.Stats{ByRisk: map[domain.RiskLevel]int64{}}

	q := fmt.Sprintf(`SELECT count(*),
		count(*) FILTER (WHERE compliance_relevant),
		count(*) FILTER (WHERE created_at >= $%d)
		FROM audit_logs%s`, len(w.args)+1, w.sql())
	args := append(append([]any{}, w.args...), since)
	if err := r.db.QueryRowContext(ctx, q, args...).Scan(&st.Total, &st.ComplianceRelevant, &st.Last24h); err != nil {
		return nil, err
	}

	risk, err := r.histogram(ctx, "risk_level", w, 0)
	if err != nil {
		return nil, err
	}
	for _, c := range risk {
		st.ByRisk[domain.RiskLevel(c.Key)] = c.Count
	}
	if st.TopActions, err = r.histogram(ctx, "action", w, topN); err != nil {
		return nil, err
	}
	if st.TopResources, err = r.histogram(ctx, "resource_type", w, topN); err != nil {
		return nil, err
	}
	return st, nil
}

func (r *PostgresRepository) histogram(ctx context.Context, column string, w *where, limit int) ([]domain.Count, error) {
	q := `SELECT ` + column + `, count(*) FROM audit_logs` + w.sql() + ` GROUP BY ` + column + ` ORDER BY count(*) DESC, ` + column
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := r.db.QueryContext(ctx, q, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Count
	for rows.Next() {
		var c domain.Count
		if err := rows.Scan(&c.Key, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountActions counts entries in scope whose action is one of actions.
func (r *PostgresRepository) CountActions(ctx context.Context, scope domain.Scope, actions []string) (int64, error) {
	w := scopeWhere(scope)
	w.in("action", actions)
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM audit_logs`+w.sql(), w.args...).Scan(&n)
	return n, err
}

// ListActions returns the newest entries in scope whose action is one of actions.
func (r *PostgresRepository) ListActions(ctx context.Context, scope domain.Scope, actions []string, limit int) ([]*domain.Entry, error) {
	w := scopeWhere(scope)
	w.in("action", actions)
	args := append(append([]any{}, w.args...), limit)
	q := fmt.Sprintf(`SELECT `+entryColumns+` FROM audit_logs%s ORDER BY created_at DESC, id DESC LIMIT $%d`, w.sql(), len(w.args)+1)
	return r.list(ctx, q, args...)
}

// DeleteNonCompliantBefore is the only statement that removes audit rows.
func (r *PostgresRepository) DeleteNonCompliantBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM audit_logs WHERE compliance_relevant = false AND created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Entry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntry(rows *sql.Rows) (*domain.Entry, error) {
	var (
		e                     domain.Entry
		userID, sessID, orgID sql.NullString
		details               []byte
		risk                  string
	)
	err := rows.Scan(&e.ID, &userID, &sessID, &orgID, &e.Action, &e.ResourceType, &e.ResourceID, &details,
		&e.IP, &e.UserAgent, &risk, &e.ComplianceRelevant, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.UserID, e.SessionID, e.OrgID = userID.String, sessID.String, orgID.String
	e.Risk = domain.RiskLevel(risk)
	if e.Detail, err = domain.DecodeDetail(details); err != nil {
		return nil, fmt.Errorf("audit entry %s: %w", e.ID, err)
	}
	return &e, nil
}
