package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed, mis-signed or carries the wrong iss/aud.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when a well-formed token is past its exp.
	ErrExpiredToken = errors.New("token expired")
)

// AccessClaims holds JWT claims for the access token. The user id is carried both as
// userId and as the registered sub claim; the two must agree.
type AccessClaims struct {
	jwt.RegisteredClaims
	UserID    string `json:"userId"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	OrgID     string `json:"orgId"`
	OrgName   string `json:"orgName"`
	OrgType   string `json:"orgType"`
	SessionID string `json:"sessionId"`
}

// RefreshClaims holds JWT claims for the refresh token: {userId, sessionId} plus sub.
type RefreshClaims struct {
	jwt.RegisteredClaims
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
}

// AccessSubject is what an access token asserts about its bearer.
type AccessSubject struct {
	UserID    string
	Email     string
	Role      string
	OrgID     string
	OrgName   string
	OrgType   string
	SessionID string
}

// TokenProvider issues and validates HS256 access and refresh tokens. Access and
// refresh tokens are signed with different secrets so neither verifies as the other.
type TokenProvider struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	audience      string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewTokenProvider returns a TokenProvider. The secrets must differ.
func NewTokenProvider(accessSecret, refreshSecret, issuer, audience string, accessTTL, refreshTTL time.Duration) *TokenProvider {
	return &TokenProvider{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		issuer:        issuer,
		audience:      audience,
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}
}

// AccessTTL is the configured access token lifetime.
func (p *TokenProvider) AccessTTL() time.Duration { return p.accessTTL }

// RefreshTTL is the configured refresh token lifetime.
func (p *TokenProvider) RefreshTTL() time.Duration { return p.refreshTTL }

func (p *TokenProvider) registered(subject string, ttl time.Duration) (jwt.RegisteredClaims, error) {
	jti, err := RandomToken(16)
	if err != nil {
		return jwt.RegisteredClaims{}, err
	}
	now := p.now().UTC()
	return jwt.RegisteredClaims{
		ID:        jti,
		Subject:   subject,
		Issuer:    p.issuer,
		Audience:  jwt.ClaimStrings{p.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}, nil
}

// IssueAccess signs a short-lived access token for s. Every token carries a fresh jti,
// so two tokens issued in the same second still hash differently.
func (p *TokenProvider) IssueAccess(s AccessSubject) (string, time.Time, error) {
	rc, err := p.registered(s.UserID, p.accessTTL)
	if err != nil {
		return "", time.Time{}, err
	}
	claims := AccessClaims{
		RegisteredClaims: rc,
		UserID:           s.UserID,
		Email:            s.Email,
		Role:             s.Role,
		OrgID:            s.OrgID,
		OrgName:          s.OrgName,
		OrgType:          s.OrgType,
		SessionID:        s.SessionID,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.accessSecret)
	return token, rc.ExpiresAt.Time, err
}

// IssueRefresh signs a long-lived refresh token bound to sessionID.
func (p *TokenProvider) IssueRefresh(userID, sessionID string) (string, time.Time, error) {
	rc, err := p.registered(userID, p.refreshTTL)
	if err != nil {
		return "", time.Time{}, err
	}
	claims := RefreshClaims{RegisteredClaims: rc, UserID: userID, SessionID: sessionID}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.refreshSecret)
	return token, rc.ExpiresAt.Time, err
}

// ParseAccess validates signature, exp, iss and aud of an access token.
func (p *TokenProvider) ParseAccess(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := p.parse(tokenString, claims, p.accessSecret); err != nil {
		return nil, err
	}
	if claims.UserID == "" || claims.UserID != claims.Subject || claims.SessionID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ParseRefresh validates signature, exp, iss and aud of a refresh token.
func (p *TokenProvider) ParseRefresh(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := p.parse(tokenString, claims, p.refreshSecret); err != nil {
		return nil, err
	}
	if claims.UserID == "" || claims.UserID != claims.Subject || claims.SessionID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (p *TokenProvider) parse(tokenString string, claims jwt.Claims, secret []byte) error {
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err == nil {
		return nil
	}
	if errors.Is(err, jwt.ErrTokenExpired) {
		return ErrExpiredToken
	}
	return ErrInvalidToken
}
