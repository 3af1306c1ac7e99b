package domain

import userdomain "msp-identity-core/internal/user/domain"

// Method is the factor that satisfied a verification.
type Method string

const (
	MethodTOTP       Method = "totp"
	MethodBackupCode Method = "backup_code"
)

// State is a user's MFA columns. SecretEnc is sealed; BackupCodeHashes are SHA-256 hex.
type State struct {
	UserID           string
	Email            string
	Status           userdomain.MFAStatus
	SecretEnc        string
	BackupCodeHashes []string
}

// HasBackupHash reports whether hash is still in the unused set.
func (s *State) HasBackupHash(hash string) bool {
	for _, h := range s.BackupCodeHashes {
		if h == hash {
			return true
		}
	}
	return false
}

// Enrollment is returned once by BeginSetup. None of it can be retrieved again.
type Enrollment struct {
	Secret      string   `json:"secret"`
	URI         string   `json:"otpauthUri"`
	BackupCodes []string `json:"backupCodes"`
}

// Verification is the outcome of a successful Verify.
type Verification struct {
	Valid                bool   `json:"valid"`
	Method               Method `json:"method,omitempty"`
	RemainingBackupCodes int    `json:"remainingBackupCodes"`
}
