package domain

import "time"

// LockoutPolicy locks an account for Duration once Threshold consecutive failures accrue.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// LockState is a user's failed-login counter and lock.
type LockState struct {
	Attempts    int
	LockedUntil *time.Time
}

// Outcome is the result of recording one failed login.
type Outcome struct {
	Locked            bool       `json:"locked"`
	AttemptsRemaining int        `json:"attemptsRemaining"`
	LockedUntil       *time.Time `json:"lockedUntil,omitempty"`
	// JustLocked is true only for the failure that crossed the threshold.
	JustLocked bool `json:"-"`
}

// NextLockout applies one failure to prev at now. A lock that has lapsed starts a fresh
// count. A lock still in force is kept as is.
func (p LockoutPolicy) NextLockout(prev LockState, now time.Time) (LockState, Outcome) {
	next := LockState{Attempts: prev.Attempts + 1, LockedUntil: prev.LockedUntil}
	if prev.LockedUntil != nil && !prev.LockedUntil.After(now) {
		next = LockState{Attempts: 1}
	}
	var out Outcome
	switch {
	case next.LockedUntil != nil:
		out.Locked = true
	case next.Attempts >= p.Threshold:
		until := now.Add(p.Duration)
		next.LockedUntil = &until
		out.Locked = true
		out.JustLocked = true
	}
	out.LockedUntil = next.LockedUntil
	out.AttemptsRemaining = max(0, p.Threshold-next.Attempts)
	return next, out
}
