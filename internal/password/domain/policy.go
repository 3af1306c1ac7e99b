package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// MaxBytes is the longest password bcrypt will hash.
const MaxBytes = 72

// Policy is the configured password policy.
type Policy struct {
	MinLength     int
	RequireUpper  bool
	RequireLower  bool
	RequireDigit  bool
	RequireSymbol bool
	// MaxAge is how long a password stays valid; zero disables expiry.
	MaxAge time.Duration
	// HistorySize is the reuse window: the current password plus HistorySize-1 retired ones.
	HistorySize int
}

// Strength is the label derived from a score.
type Strength string

const (
	StrengthWeak   Strength = "weak"
	StrengthFair   Strength = "fair"
	StrengthGood   Strength = "good"
	StrengthStrong Strength = "strong"
)

// Result is the outcome of validating a candidate password.
type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Score    int      `json:"score"`
	Strength Strength `json:"strength"`
}

var commonSubstrings = []string{
	"password", "passw0rd", "123456", "12345678", "qwerty", "letmein", "welcome", "admin",
	"iloveyou", "monkey", "dragon", "abc123", "111111", "football", "changeme",
}

// Validate checks pw against p and scores it.
func (p Policy) Validate(pw string) Result {
	var errs []string
	n := len([]rune(pw))
	if n < p.MinLength {
		errs = append(errs, fmt.Sprintf("password must be at least %d characters", p.MinLength))
	}
	if len(pw) > MaxBytes {
		errs = append(errs, fmt.Sprintf("password must be at most %d bytes", MaxBytes))
	}
	c := classify(pw)
	if p.RequireUpper && !c.upper {
		errs = append(errs, "password must contain an uppercase letter")
	}
	if p.RequireLower && !c.lower {
		errs = append(errs, "password must contain a lowercase letter")
	}
	if p.RequireDigit && !c.digit {
		errs = append(errs, "password must contain a digit")
	}
	if p.RequireSymbol && !c.symbol {
		errs = append(errs, "password must contain a symbol")
	}
	if containsCommon(pw) {
		errs = append(errs, "password contains a common word or sequence")
	}
	score := Score(pw)
	return Result{Valid: len(errs) == 0, Errors: errs, Score: score, Strength: StrengthOf(score)}
}

// Expired reports whether a password changed at changedAt has outlived MaxAge at now.
func (p Policy) Expired(changedAt, now time.Time) bool {
	return p.MaxAge > 0 && now.Sub(changedAt) > p.MaxAge
}

type classes struct{ upper, lower, digit, symbol bool }

func (c classes) count() int {
	n := 0
	for _, b := range []bool{c.upper, c.lower, c.digit, c.symbol} {
		if b {
			n++
		}
	}
	return n
}

func classify(pw string) classes {
	var c classes
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			c.upper = true
		case unicode.IsLower(r):
			c.lower = true
		case unicode.IsDigit(r):
			c.digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r):
			c.symbol = true
		}
	}
	return c
}

func containsCommon(pw string) bool {
	lower := strings.ToLower(pw)
	for _, s := range commonSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// Score rates pw from 0 to 100: length (up to 40), character classes (10 each), and the
// unique-character ratio (up to 20), less 10 per run of three or more repeated characters
// and 30 for a common substring.
func Score(pw string) int {
	runes := []rune(pw)
	if len(runes) == 0 {
		return 0
	}
	score := min(len(runes)*3, 40)
	score += classify(pw).count() * 10

	unique := make(map[rune]struct{}, len(runes))
	for _, r := range runes {
		unique[r] = struct{}{}
	}
	score += len(unique) * 20 / len(runes)

	run := 1
	for i := 1; i < len(runes); i++ {
		if runes[i] == runes[i-1] {
			run++
			if run == 3 {
				score -= 10
			}
			continue
		}
		run = 1
	}
	if containsCommon(pw) {
		score -= 30
	}
	return max(0, min(score, 100))
}

// StrengthOf maps a score to its label.
func StrengthOf(score int) Strength {
	switch {
	case score >= 80:
		return StrengthStrong
	case score >= 60:
		return StrengthGood
	case score >= 40:
		return StrengthFair
	default:
		return StrengthWeak
	}
}
