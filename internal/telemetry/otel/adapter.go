package otel

import (
	"context"
	"log"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"msp-identity-core/internal/audit"
	"msp-identity-core/internal/audit/domain"
)

const auditScope = "msp-identity-core/audit"

// recordEmitter is the part of otellog.Logger the emitter uses.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// AuditEmitter mirrors audit entries to an OTel log pipeline.
type AuditEmitter struct {
	logger recordEmitter
	now    func() time.Time
}

// NewAuditEmitter returns an emitter logging through provider. A nil provider
// yields an emitter that drops everything.
func NewAuditEmitter(provider *sdklog.LoggerProvider) audit.Emitter {
	if provider == nil {
		return noopEmitter{}
	}
	return NewAuditEmitterWithLogger(provider.Logger(auditScope))
}

// NewAuditEmitterWithLogger returns an emitter over l.
func NewAuditEmitterWithLogger(l recordEmitter) *AuditEmitter {
	return &AuditEmitter{logger: l, now: func() time.Time { return time.Now().UTC() }}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *domain.Entry) {}

// severityOf maps an entry's risk to a log severity.
func severityOf(r domain.RiskLevel) (otellog.Severity, string) {
	switch r {
	case domain.RiskCritical:
		return otellog.SeverityError, "ERROR"
	case domain.RiskHigh:
		return otellog.SeverityWarn, "WARN"
	default:
		return otellog.SeverityInfo, "INFO"
	}
}

// Emit converts e into one log record. The body is the encoded detail when the
// entry carries one, otherwise the action.
func (a *AuditEmitter) Emit(ctx context.Context, e *domain.Entry) {
	if e == nil {
		return
	}
	var rec otellog.Record
	ts := e.CreatedAt
	if ts.IsZero() {
		ts = a.now()
	}
	rec.SetTimestamp(ts)
	rec.SetObservedTimestamp(a.now())
	sev, text := severityOf(e.Risk)
	rec.SetSeverity(sev)
	rec.SetSeverityText(text)
	rec.SetEventName("audit." + e.Action)

	body := otellog.StringValue(e.Action)
	if e.Detail != nil {
		raw, err := domain.EncodeDetail(e.Detail)
		if err != nil {
			log.Printf("telemetry: encode audit detail %s: %v", e.ID, err)
		} else if len(raw) > 0 {
			body = otellog.StringValue(string(raw))
		}
	}
	rec.SetBody(body)

	rec.AddAttributes(
		otellog.String("audit.action", e.Action),
		otellog.String("audit.risk", string(e.Risk)),
		otellog.Bool("audit.compliance_relevant", e.ComplianceRelevant),
	)
	for _, kv := range []struct{ key, val string }{
		{"audit.id", e.ID},
		{"audit.resource_type", e.ResourceType},
		{"audit.resource_id", e.ResourceID},
		{"user_id", e.UserID},
		{"org_id", e.OrgID},
		{"session_id", e.SessionID},
		{"client.address", e.IP},
		{"user_agent.original", e.UserAgent},
	} {
		if kv.val != "" {
			rec.AddAttributes(otellog.String(kv.key, kv.val))
		}
	}
	a.logger.Emit(ctx, rec)
}
