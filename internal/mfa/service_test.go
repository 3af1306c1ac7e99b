package mfa

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"

	"msp-identity-core/internal/apperr"
	"msp-identity-core/internal/audit"
	"msp-identity-core/internal/audit/audittest"
	"msp-identity-core/internal/mfa/domain"
	"msp-identity-core/internal/mfa/repository"
	"msp-identity-core/internal/policy/engine"
	"msp-identity-core/internal/security"
	userdomain "msp-identity-core/internal/user/domain"
)

// memRepo is an in-memory repository.Repository.
type memRepo struct {
	mu     sync.Mutex
	states map[string]*domain.State
}

var _ repository.Repository = (*memRepo)(nil)

func newMemRepo(userIDs ...string) *memRepo {
	r := &memRepo{states: make(map[string]*domain.State)}
	for _, id := range userIDs {
		r.states[id] = &domain.State{UserID: id, Email: id + "@example.com", Status: userdomain.MFAUnenrolled}
	}
	return r
}

func (r *memRepo) GetState(_ context.Context, userID string) (*domain.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[userID]
	if !ok {
		return nil, nil
	}
	cp := *s
	cp.BackupCodeHashes = append([]string(nil), s.BackupCodeHashes...)
	return &cp, nil
}

func (r *memRepo) SaveEnrollment(_ context.Context, userID, secretEnc string, codes []string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[userID]
	if !ok || s.Status == userdomain.MFAEnabled {
		return repository.ErrStateConflict
	}
	s.Status = userdomain.MFAPending
	s.SecretEnc = secretEnc
	s.BackupCodeHashes = append([]string(nil), codes...)
	return nil
}

func (r *memRepo) Enable(_ context.Context, userID string, _ time.Time) error {
	return r.transition(userID, userdomain.MFAEnabled, userdomain.MFAPending)
}

func (r *memRepo) Disable(_ context.Context, userID string, _ time.Time) error {
	if err := r.transition(userID, userdomain.MFADisabled, userdomain.MFAPending, userdomain.MFAEnabled); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[userID].SecretEnc = ""
	r.states[userID].BackupCodeHashes = nil
	return nil
}

func (r *memRepo) transition(userID string, to userdomain.MFAStatus, from ...userdomain.MFAStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[userID]
	if !ok {
		return repository.ErrStateConflict
	}
	for _, f := range from {
		if s.Status == f {
			s.Status = to
			return nil
		}
	}
	return repository.ErrStateConflict
}

func (r *memRepo) ReplaceBackupCodes(_ context.Context, userID string, codes []string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[userID]
	if !ok || s.Status != userdomain.MFAEnabled {
		return repository.ErrStateConflict
	}
	s.BackupCodeHashes = append([]string(nil), codes...)
	return nil
}

func (r *memRepo) ConsumeBackupCode(_ context.Context, userID, hash string) (int, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[userID]
	if !ok || s.Status != userdomain.MFAEnabled {
		return 0, false, nil
	}
	for i, h := range s.BackupCodeHashes {
		if h == hash {
			s.BackupCodeHashes = append(s.BackupCodeHashes[:i], s.BackupCodeHashes[i+1:]...)
			return len(s.BackupCodeHashes), true, nil
		}
	}
	return 0, false, nil
}

type fixture struct {
	svc   *Service
	repo  *memRepo
	audit *audittest.Repo
	mr    *miniredis.Miniredis
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	policy, err := engine.NewOPAEvaluator()
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	f := &fixture{
		repo:  newMemRepo("u1", "u2"),
		audit: &audittest.Repo{},
		mr:    mr,
		clock: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(f.repo, security.NewTestSecretBox("test-mfa-key-0123456789abcdef0123"),
		NewRedisReplayGuard(client), policy, audit.NewService(f.audit, nil),
		DefaultConfig("MSP Portal", []string{"provider_admin", "technician"}))
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) code(t *testing.T, secret string) string {
	t.Helper()
	c, err := totp.GenerateCode(secret, f.clock)
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	return c
}

// enroll runs setup to completion and moves the clock past the setup code's replay window.
func (f *fixture) enroll(t *testing.T, userID string) *domain.Enrollment {
	t.Helper()
	ctx := context.Background()
	en, err := f.svc.BeginSetup(ctx, userID)
	if err != nil {
		t.Fatalf("BeginSetup: %v", err)
	}
	if err := f.svc.CompleteSetup(ctx, userID, f.code(t, en.Secret)); err != nil {
		t.Fatalf("CompleteSetup: %v", err)
	}
	f.clock = f.clock.Add(90 * time.Second)
	return en
}

func TestSetup_EnablesAfterValidCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	en, err := f.svc.BeginSetup(ctx, "u1")
	if err != nil {
		t.Fatalf("BeginSetup: %v", err)
	}
	if len(en.BackupCodes) != 10 || en.Secret == "" {
		t.Fatalf("enrollment = %+v", en)
	}
	if !strings.HasPrefix(en.URI, "otpauth://totp/") || !strings.Contains(en.URI, "issuer=MSP") {
		t.Errorf("URI = %q", en.URI)
	}
	st, _ := f.repo.GetState(ctx, "u1")
	if st.Status != userdomain.MFAPending || st.SecretEnc == en.Secret || st.SecretEnc == "" {
		t.Errorf("stored state = %+v; secret must be sealed", st)
	}
	for _, h := range st.BackupCodeHashes {
		for _, c := range en.BackupCodes {
			if h == c {
				t.Fatal("backup code stored in plaintext")
			}
		}
	}

	if err := f.svc.CompleteSetup(ctx, "u1", "000000"); !errors.Is(err, apperr.ErrInvalidCode) {
		t.Fatalf("wrong code: err = %v, want ErrInvalidCode", err)
	}
	if err := f.svc.CompleteSetup(ctx, "u1", f.code(t, en.Secret)); err != nil {
		t.Fatalf("CompleteSetup: %v", err)
	}
	if status, _ := f.svc.Status(ctx, "u1"); status != userdomain.MFAEnabled {
		t.Errorf("status = %q, want enabled", status)
	}
	if f.audit.Last("mfa_enabled") == nil {
		t.Error("mfa_enabled not audited")
	}
	if _, err := f.svc.BeginSetup(ctx, "u1"); !errors.Is(err, ErrAlreadyEnabled) {
		t.Errorf("BeginSetup while enabled: err = %v", err)
	}
}

func TestCompleteSetup_ToleratesOneStepOfSkew(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	en, _ := f.svc.BeginSetup(ctx, "u1")

	previous := f.code(t, en.Secret)
	f.clock = f.clock.Add(30 * time.Second)
	if err := f.svc.CompleteSetup(ctx, "u1", previous); err != nil {
		t.Fatalf("code from previous step rejected: %v", err)
	}
}

func TestCompleteSetup_WithoutPendingEnrollment(t *testing.T) {
	f := newFixture(t)
	if err := f.svc.CompleteSetup(context.Background(), "u1", "123456"); !errors.Is(err, ErrNoPendingSetup) {
		t.Fatalf("err = %v, want ErrNoPendingSetup", err)
	}
}

func TestVerify_TOTPReplayRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	en := f.enroll(t, "u1")

	code := f.code(t, en.Secret)
	v, err := f.svc.Verify(ctx, "u1", code)
	if err != nil || !v.Valid || v.Method != domain.MethodTOTP {
		t.Fatalf("first Verify = %+v, %v", v, err)
	}
	if _, err := f.svc.Verify(ctx, "u1", code); !errors.Is(err, apperr.ErrInvalidCode) {
		t.Fatalf("replayed code: err = %v, want ErrInvalidCode", err)
	}
	if f.audit.Last("mfa_verify_failed") == nil {
		t.Error("replay not audited as a failure")
	}
}

func TestVerify_ReplayHeldForWholeSkewWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	en := f.enroll(t, "u1")

	// The next step's code is accepted early through the skew.
	early, err := totp.GenerateCode(en.Secret, f.clock.Add(30*time.Second))
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	if v, err := f.svc.Verify(ctx, "u1", early); err != nil || !v.Valid {
		t.Fatalf("early code = %+v, %v", v, err)
	}

	// 61s later that step is the previous one and its code still validates.
	f.clock = f.clock.Add(61 * time.Second)
	f.mr.FastForward(61 * time.Second)
	if _, err := f.svc.Verify(ctx, "u1", early); !errors.Is(err, apperr.ErrInvalidCode) {
		t.Fatalf("replay at the skew edge: err = %v, want ErrInvalidCode", err)
	}

	if v, err := f.svc.Verify(ctx, "u1", f.code(t, en.Secret)); err != nil || !v.Valid {
		t.Fatalf("current step code = %+v, %v", v, err)
	}
}

func TestTOTPReplayTTL_CoversValidityWindow(t *testing.T) {
	f := newFixture(t)
	if got := f.svc.totpReplayTTL(); got < 90*time.Second {
		t.Errorf("replay ttl = %v, want at least 90s", got)
	}
	f.svc.cfg.TOTPReplayTTL = 5 * time.Minute
	if got := f.svc.totpReplayTTL(); got != 5*time.Minute {
		t.Errorf("replay ttl = %v, want the configured 5m", got)
	}
}

func TestMatchStep(t *testing.T) {
	secret := "JBSWY3DPEHPK3PXP"
	at := time.Date(2026, 5, 1, 12, 0, 10, 0, time.UTC)
	current := at.Unix() / totpPeriod
	for _, offset := range []int64{-1, 0, 1} {
		code, err := totp.GenerateCode(secret, time.Unix((current+offset)*totpPeriod, 0))
		if err != nil {
			t.Fatal(err)
		}
		step, ok, err := matchStep(code, secret, at)
		if err != nil || !ok || step != current+offset {
			t.Errorf("offset %d: step = %d, %v, %v; want %d", offset, step, ok, err, current+offset)
		}
	}
	far, _ := totp.GenerateCode(secret, at.Add(2*time.Minute))
	if _, ok, _ := matchStep(far, secret, at); ok {
		t.Error("code four steps ahead matched")
	}
}

func TestVerify_ConcurrentSameCodeSucceedsOnce(t *testing.T) {
	f := newFixture(t)
	en := f.enroll(t, "u1")
	code := f.code(t, en.Secret)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v, err := f.svc.Verify(context.Background(), "u1", code); err == nil && v.Valid {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("%d verifications succeeded, want exactly 1", wins)
	}
}

func TestVerify_BackupCodeConsumed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	en := f.enroll(t, "u1")

	code := strings.ToLower(en.BackupCodes[3])
	v, err := f.svc.Verify(ctx, "u1", code)
	if err != nil {
		t.Fatalf("Verify backup: %v", err)
	}
	if v.Method != domain.MethodBackupCode || v.RemainingBackupCodes != 9 {
		t.Errorf("verification = %+v", v)
	}
	if _, err := f.svc.Verify(ctx, "u1", en.BackupCodes[3]); !errors.Is(err, apperr.ErrInvalidCode) {
		t.Fatalf("reused backup code: err = %v", err)
	}

	// Consumed even after the replay window lapses.
	f.mr.FastForward(10 * time.Minute)
	if _, err := f.svc.Verify(ctx, "u1", en.BackupCodes[3]); !errors.Is(err, apperr.ErrInvalidCode) {
		t.Fatalf("consumed backup code after replay ttl: err = %v", err)
	}
	if e := f.audit.Last("mfa_verified"); e == nil {
		t.Error("successful verification not audited")
	}
}

func TestVerify_NotEnabled(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Verify(context.Background(), "u1", "123456"); !errors.Is(err, ErrNotEnabled) {
		t.Fatalf("err = %v, want ErrNotEnabled", err)
	}
	if _, err := f.svc.Verify(context.Background(), "ghost", "123456"); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("unknown user: err = %v", err)
	}
}

func TestVerify_ReplayCacheDownIsTransient(t *testing.T) {
	f := newFixture(t)
	en := f.enroll(t, "u1")
	f.mr.Close()

	_, err := f.svc.Verify(context.Background(), "u1", f.code(t, en.Secret))
	if apperr.KindOf(err) != apperr.KindTransient {
		t.Fatalf("err = %v, want transient", err)
	}
}

func TestDisable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	en := f.enroll(t, "u1")

	if err := f.svc.Disable(ctx, "u1"); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	st, _ := f.repo.GetState(ctx, "u1")
	if st.Status != userdomain.MFADisabled || st.SecretEnc != "" || len(st.BackupCodeHashes) != 0 {
		t.Errorf("state after disable = %+v", st)
	}
	if _, err := f.svc.Verify(ctx, "u1", en.BackupCodes[0]); !errors.Is(err, ErrNotEnabled) {
		t.Errorf("Verify after disable: err = %v", err)
	}
	if err := f.svc.Disable(ctx, "u1"); !errors.Is(err, ErrNotEnabled) {
		t.Errorf("second Disable: err = %v", err)
	}
	if _, err := f.svc.BeginSetup(ctx, "u1"); err != nil {
		t.Errorf("re-enrollment after disable: %v", err)
	}
}

func TestRegenerateBackupCodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.RegenerateBackupCodes(ctx, "u1"); !errors.Is(err, ErrNotEnabled) {
		t.Fatalf("regenerate before enable: err = %v", err)
	}
	en := f.enroll(t, "u1")
	codes, err := f.svc.RegenerateBackupCodes(ctx, "u1")
	if err != nil {
		t.Fatalf("RegenerateBackupCodes: %v", err)
	}
	if len(codes) != 10 {
		t.Fatalf("len = %d", len(codes))
	}
	if _, err := f.svc.Verify(ctx, "u1", en.BackupCodes[0]); !errors.Is(err, apperr.ErrInvalidCode) {
		t.Errorf("old code still valid: err = %v", err)
	}
	if v, err := f.svc.Verify(ctx, "u1", codes[0]); err != nil || v.RemainingBackupCodes != 9 {
		t.Errorf("new code: %+v, %v", v, err)
	}
	if f.audit.Last("backup_codes_regenerated") == nil {
		t.Error("regeneration not audited")
	}
}

func TestRequired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := []struct {
		role   userdomain.Role
		orgMFA bool
		want   bool
	}{
		{userdomain.RoleTechnician, false, true},
		{userdomain.RoleProviderAdmin, false, true},
		{userdomain.RoleAnalyst, false, false},
		{userdomain.RoleCustomerUser, true, true},
	}
	for _, tc := range cases {
		got, err := f.svc.Required(ctx, tc.role, tc.orgMFA)
		if err != nil {
			t.Fatalf("Required(%s): %v", tc.role, err)
		}
		if got != tc.want {
			t.Errorf("Required(%s, %v) = %v, want %v", tc.role, tc.orgMFA, got, tc.want)
		}
	}
}
