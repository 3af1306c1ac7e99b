package mfa

import (
	"crypto/rand"
	"strings"

	"msp-identity-core/internal/security"
)

const (
	backupCodeLength = 10
	// 32 symbols, so a random byte mod 32 is unbiased. No 0/O or 1/I.
	backupAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// GenerateBackupCodes returns n codes formatted as XXXXX-XXXXX.
// Uses crypto/rand for randomness.
func GenerateBackupCodes(n int) ([]string, error) {
	codes := make([]string, 0, n)
	seen := make(map[string]bool, n)
	for len(codes) < n {
		b := make([]byte, backupCodeLength)
		if _, err := rand.Read(b); err != nil {
			return nil, err
		}
		s := make([]byte, backupCodeLength)
		for i := range b {
			s[i] = backupAlphabet[int(b[i])%len(backupAlphabet)]
		}
		code := string(s[:backupCodeLength/2]) + "-" + string(s[backupCodeLength/2:])
		if seen[code] {
			continue
		}
		seen[code] = true
		codes = append(codes, code)
	}
	return codes, nil
}

// CanonicalBackupCode uppercases and strips separators so "abcde fghjk" and "ABCDE-FGHJK" match.
func CanonicalBackupCode(code string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(code) {
		if r == '-' || r == ' ' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// HashBackupCode returns the stored form of a backup code.
func HashBackupCode(code string) string {
	return security.HashToken(CanonicalBackupCode(code))
}

// HashBackupCodes hashes a freshly generated set.
func HashBackupCodes(codes []string) []string {
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = HashBackupCode(c)
	}
	return out
}

// looksLikeTOTP reports whether code is six digits.
func looksLikeTOTP(code string) bool {
	if len(code) != 6 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
