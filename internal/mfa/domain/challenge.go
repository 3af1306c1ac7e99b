package domain

import "time"

// TicketKind says which second step a login ticket unlocks.
type TicketKind string

const (
	// TicketChallenge is issued to enrolled users; redeem with a TOTP or backup code.
	TicketChallenge TicketKind = "challenge"
	// TicketEnrollment is issued to users whose role requires MFA but who are not enrolled.
	TicketEnrollment TicketKind = "enrollment"
)

// Ticket is a short-lived login continuation stored in Redis. It carries the device
// context of the password step so the eventual session records where it came from.
type Ticket struct {
	ID         string     `json:"-"`
	UserID     string     `json:"userId"`
	Kind       TicketKind `json:"kind"`
	IP         string     `json:"ip,omitempty"`
	UserAgent  string     `json:"userAgent,omitempty"`
	DeviceName string     `json:"deviceName,omitempty"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	CreatedAt  time.Time  `json:"createdAt"`
}
