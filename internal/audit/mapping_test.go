package audit

import (
	"testing"

	"msp-identity-core/internal/audit/domain"
)

func TestCanonical_Contract(t *testing.T) {
	tests := []struct {
		event    Event
		action   string
		resource string
		risk     domain.RiskLevel
	}{
		{EventLoginSuccess, "login_success", ResourceSession, domain.RiskLow},
		{EventLoginFailed, "login_failed", ResourceSession, domain.RiskMedium},
		{EventAccessGranted, "access_granted", ResourceTechnicianAccess, domain.RiskMedium},
		{EventAccessRevoked, "access_revoked", ResourceTechnicianAccess, domain.RiskHigh},
		{EventAccessHandoff, "access_handoff", ResourceTechnicianAccess, domain.RiskHigh},
		{EventMFADisabled, "mfa_disabled", ResourceUser, domain.RiskHigh},
		{EventAccountLocked, "account_locked", ResourceUser, domain.RiskHigh},
		{EventEmergencyDataAccess, "data_access_emergency", ResourceCustomerData, domain.RiskHigh},
	}
	for _, tt := range tests {
		t.Run(string(tt.event), func(t *testing.T) {
			got, ok := Canonical(tt.event)
			if !ok {
				t.Fatal("event not mapped")
			}
			if got.Action != tt.action || got.ResourceType != tt.resource || got.Risk != tt.risk {
				t.Errorf("Canonical = %+v, want (%s, %s, %s)", got, tt.action, tt.resource, tt.risk)
			}
		})
	}
}

func TestCanonical_AllMappedValid(t *testing.T) {
	for e, tr := range canonical {
		if tr.Action == "" || tr.ResourceType == "" || !tr.Risk.Valid() {
			t.Errorf("%s maps to incomplete triple %+v", e, tr)
		}
	}
	if _, ok := Canonical("nonsense"); ok {
		t.Error("unmapped event should report false")
	}
}
