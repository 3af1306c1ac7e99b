package domain

import (
	"strings"
	"testing"
	"time"
)

func TestDetail_EncodeDecode(t *testing.T) {
	exp := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	in := AccessDetail{TechnicianID: "t1", CustomerOrgID: "c1", Level: "full_access", ExpiresAt: &exp}

	raw, err := EncodeDetail(in)
	if err != nil {
		t.Fatalf("EncodeDetail: %v", err)
	}
	if !strings.Contains(string(raw), `"v":1`) || !strings.Contains(string(raw), `"kind":"access"`) {
		t.Errorf("encoded = %s", raw)
	}

	out, err := DecodeDetail(raw)
	if err != nil {
		t.Fatalf("DecodeDetail: %v", err)
	}
	got, ok := out.(AccessDetail)
	if !ok {
		t.Fatalf("decoded type = %T, want AccessDetail", out)
	}
	if got.TechnicianID != "t1" || got.Level != "full_access" || got.ExpiresAt == nil || !got.ExpiresAt.Equal(exp) {
		t.Errorf("decoded = %+v", got)
	}
}

func TestDecodeDetail_Edges(t *testing.T) {
	if d, err := DecodeDetail(nil); d != nil || err != nil {
		t.Errorf("DecodeDetail(nil) = %v, %v", d, err)
	}
	if _, err := DecodeDetail([]byte(`{"v":7,"kind":"login","data":{}}`)); err == nil {
		t.Error("future version should fail")
	}
	d, err := DecodeDetail([]byte(`{"v":1,"kind":"legacy_thing","data":{"a":1}}`))
	if err != nil {
		t.Fatalf("unknown kind: %v", err)
	}
	if raw, ok := d.(RawDetail); !ok || raw.DetailKind() != "legacy_thing" {
		t.Errorf("unknown kind decoded as %T", d)
	}
	if _, err := DecodeDetail([]byte(`{"v":1,"kind":"login","data":"oops"}`)); err == nil {
		t.Error("mistyped payload should fail")
	}
}

func TestRiskLevel_Valid(t *testing.T) {
	for _, r := range []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical} {
		if !r.Valid() {
			t.Errorf("%s should be valid", r)
		}
	}
	if RiskLevel("severe").Valid() {
		t.Error("unknown level should be invalid")
	}
}
