package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRestrictions_Validate(t *testing.T) {
	cases := []struct {
		name    string
		r       Restrictions
		reasons int
	}{
		{"zero", Restrictions{}, 0},
		{"ip and cidr", Restrictions{AllowedIPs: []string{"10.0.0.1", "192.168.0.0/16", "2001:db8::/32"}}, 0},
		{"bad ip", Restrictions{AllowedIPs: []string{"10.0.0.300"}}, 1},
		{"business hours", Restrictions{Window: &Window{Timezone: "Europe/Berlin", StartHour: 8, EndHour: 18, Weekdays: []string{"Monday", "Friday"}}}, 0},
		{"overnight", Restrictions{Window: &Window{StartHour: 22, EndHour: 6}}, 0},
		{"empty window", Restrictions{Window: &Window{StartHour: 9, EndHour: 9}}, 1},
		{"out of range", Restrictions{Window: &Window{StartHour: -1, EndHour: 25}}, 2},
		{"bad zone and day", Restrictions{Window: &Window{Timezone: "Mars/Olympus", StartHour: 1, EndHour: 2, Weekdays: []string{"Funday"}}}, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Len(t, tc.r.Validate(), tc.reasons)
		})
	}
}

func TestRestrictions_EncodeDecode(t *testing.T) {
	in := Restrictions{AllowedIPs: []string{"10.0.0.0/8"}, Window: &Window{StartHour: 8, EndHour: 17}}
	raw, err := in.Encode()
	require.NoError(t, err)
	require.Contains(t, string(raw), `"v":1`)

	out, err := DecodeRestrictions(raw)
	require.NoError(t, err)
	require.Equal(t, RestrictionsVersion, out.Version)
	require.Equal(t, in.AllowedIPs, out.AllowedIPs)
	require.Equal(t, 17, out.Window.EndHour)

	empty, err := DecodeRestrictions([]byte(`{}`))
	require.NoError(t, err)
	require.Nil(t, empty.Window)

	_, err = DecodeRestrictions([]byte(`{"v":9}`))
	require.Error(t, err)
}

func TestPatch_Apply(t *testing.T) {
	exp := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	g := &Grant{Level: LevelReadOnly, ExpiresAt: &exp, Notes: "onboarding"}

	require.True(t, Patch{}.Empty())

	full := LevelFullAccess
	same := "onboarding"
	changed := Patch{Level: &full, ClearExpiry: true, Notes: &same}.Apply(g)
	require.Equal(t, []string{"level", "expiresAt"}, changed)
	require.Equal(t, LevelFullAccess, g.Level)
	require.Nil(t, g.ExpiresAt)

	services := []string{"backup"}
	changed = Patch{AllowedServices: &services}.Apply(g)
	require.Equal(t, []string{"allowedServices"}, changed)
	services[0] = "mutated"
	require.Equal(t, []string{"backup"}, g.AllowedServices)
}

func TestGrant_ActiveAt(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	require.True(t, (&Grant{Status: StatusActive}).ActiveAt(now))
	require.False(t, (&Grant{Status: StatusActive, ExpiresAt: &past}).ActiveAt(now))
	require.False(t, (&Grant{Status: StatusRevoked}).ActiveAt(now))
	require.False(t, (*Grant)(nil).ActiveAt(now))
	require.True(t, LevelEmergency.Valid())
	require.False(t, Level("root").Valid())
}
