// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"

	passworddomain "msp-identity-core/internal/password/domain"
)

const minSecretLength = 32

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the JSON API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address the gRPC health endpoint listens on.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// Env is the application environment ("development", "production").
	Env string `mapstructure:"APP_ENV"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL is the Redis URL for the revocation list, fast path, replay cache and rate limits.
	RedisURL string `mapstructure:"REDIS_URL"`
	// StorageTimeout bounds every storage round trip.
	StorageTimeout time.Duration `mapstructure:"STORAGE_TIMEOUT"`

	// JWTAccessSecret and JWTRefreshSecret sign access and refresh tokens (HS256). They must differ.
	JWTAccessSecret  string        `mapstructure:"JWT_ACCESS_SECRET"`
	JWTRefreshSecret string        `mapstructure:"JWT_REFRESH_SECRET"`
	JWTIssuer        string        `mapstructure:"JWT_ISSUER"`
	JWTAudience      string        `mapstructure:"JWT_AUDIENCE"`
	JWTAccessTTL     time.Duration `mapstructure:"JWT_ACCESS_TTL"`
	JWTRefreshTTL    time.Duration `mapstructure:"JWT_REFRESH_TTL"`

	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	PasswordMinLength     int  `mapstructure:"PASSWORD_MIN_LENGTH"`
	PasswordRequireUpper  bool `mapstructure:"PASSWORD_REQUIRE_UPPER"`
	PasswordRequireLower  bool `mapstructure:"PASSWORD_REQUIRE_LOWER"`
	PasswordRequireDigit  bool `mapstructure:"PASSWORD_REQUIRE_DIGIT"`
	PasswordRequireSymbol bool `mapstructure:"PASSWORD_REQUIRE_SYMBOL"`
	PasswordMaxAgeDays    int  `mapstructure:"PASSWORD_MAX_AGE_DAYS"`
	PasswordHistorySize   int  `mapstructure:"PASSWORD_HISTORY_SIZE"`

	LockoutThreshold int           `mapstructure:"LOCKOUT_THRESHOLD"`
	LockoutDuration  time.Duration `mapstructure:"LOCKOUT_DURATION"`

	ResetTokenTTL  time.Duration `mapstructure:"RESET_TOKEN_TTL"`
	ResetRateLimit int           `mapstructure:"RESET_RATE_LIMIT"`
	// DevResetTokens keeps issued reset tokens in memory for GET /v1/dev/reset-token. Never in production.
	DevResetTokens bool `mapstructure:"DEV_RESET_TOKENS"`

	MFAIssuer        string        `mapstructure:"MFA_ISSUER"`
	MFAEncryptionKey string        `mapstructure:"MFA_ENCRYPTION_KEY"`
	MFARequiredRoles string        `mapstructure:"MFA_REQUIRED_ROLES"`
	MFAChallengeTTL  time.Duration `mapstructure:"MFA_CHALLENGE_TTL"`

	AuditRetentionDays int           `mapstructure:"AUDIT_RETENTION_DAYS"`
	CleanupInterval    time.Duration `mapstructure:"CLEANUP_INTERVAL"`

	AuthRatePerSecond float64 `mapstructure:"AUTH_RATE_PER_SECOND"`
	AuthRateBurst     int     `mapstructure:"AUTH_RATE_BURST"`
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	TrustProxy bool `mapstructure:"TRUST_PROXY"`

	// OTel (optional). Empty endpoint disables export.
	OTELEndpoint    string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTELInsecure    bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTELServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadStorage is Load for tools that only touch the database (migrate, seed): it
// requires DATABASE_URL and skips the token and MFA secrets.
func LoadStorage() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("config: DATABASE_URL must be set")
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	return cfg, nil
}

func read() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("STORAGE_TIMEOUT", "5s")
	v.SetDefault("JWT_ACCESS_SECRET", "")
	v.SetDefault("JWT_REFRESH_SECRET", "")
	v.SetDefault("JWT_ISSUER", "msp-identity")
	v.SetDefault("JWT_AUDIENCE", "msp-portal")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("PASSWORD_MIN_LENGTH", 12)
	v.SetDefault("PASSWORD_REQUIRE_UPPER", true)
	v.SetDefault("PASSWORD_REQUIRE_LOWER", true)
	v.SetDefault("PASSWORD_REQUIRE_DIGIT", true)
	v.SetDefault("PASSWORD_REQUIRE_SYMBOL", true)
	v.SetDefault("PASSWORD_MAX_AGE_DAYS", 90)
	v.SetDefault("PASSWORD_HISTORY_SIZE", 5)
	v.SetDefault("LOCKOUT_THRESHOLD", 5)
	v.SetDefault("LOCKOUT_DURATION", "30m")
	v.SetDefault("RESET_TOKEN_TTL", "1h")
	v.SetDefault("RESET_RATE_LIMIT", 3)
	v.SetDefault("DEV_RESET_TOKENS", false)
	v.SetDefault("MFA_ISSUER", "MSP Portal")
	v.SetDefault("MFA_ENCRYPTION_KEY", "")
	v.SetDefault("MFA_REQUIRED_ROLES", "provider_admin,technician")
	v.SetDefault("MFA_CHALLENGE_TTL", "5m")
	v.SetDefault("AUDIT_RETENTION_DAYS", 365)
	v.SetDefault("CLEANUP_INTERVAL", "10m")
	v.SetDefault("AUTH_RATE_PER_SECOND", 5)
	v.SetDefault("AUTH_RATE_BURST", 10)
	v.SetDefault("TRUST_PROXY", false)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "msp-identity-core")
}

func (c *Config) validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if len(c.JWTAccessSecret) < minSecretLength {
		return errors.New("config: JWT_ACCESS_SECRET must be at least 32 bytes")
	}
	if len(c.JWTRefreshSecret) < minSecretLength {
		return errors.New("config: JWT_REFRESH_SECRET must be at least 32 bytes")
	}
	if c.JWTAccessSecret == c.JWTRefreshSecret {
		return errors.New("config: JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}
	if c.JWTAccessTTL <= 0 || c.JWTRefreshTTL <= c.JWTAccessTTL {
		return errors.New("config: JWT_REFRESH_TTL must be longer than JWT_ACCESS_TTL")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if c.PasswordMinLength < 8 {
		return errors.New("config: PASSWORD_MIN_LENGTH must be at least 8")
	}
	if c.PasswordHistorySize < 1 {
		return errors.New("config: PASSWORD_HISTORY_SIZE must be at least 1")
	}
	if c.LockoutThreshold < 1 || c.LockoutDuration <= 0 {
		return errors.New("config: LOCKOUT_THRESHOLD and LOCKOUT_DURATION must be positive")
	}
	if c.ResetTokenTTL <= 0 || c.ResetRateLimit < 1 {
		return errors.New("config: RESET_TOKEN_TTL and RESET_RATE_LIMIT must be positive")
	}
	if c.DevResetTokens && c.IsProduction() {
		return errors.New("config: DEV_RESET_TOKENS must not be true when APP_ENV=production")
	}
	if len(c.MFAEncryptionKey) < minSecretLength {
		return errors.New("config: MFA_ENCRYPTION_KEY must be at least 32 bytes")
	}
	if c.AuditRetentionDays < 1 {
		return errors.New("config: AUDIT_RETENTION_DAYS must be at least 1")
	}
	if c.CleanupInterval <= 0 {
		return errors.New("config: CLEANUP_INTERVAL must be positive")
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// PasswordPolicy returns the password policy described by the PASSWORD_* keys.
func (c *Config) PasswordPolicy() passworddomain.Policy {
	return passworddomain.Policy{
		MinLength:     c.PasswordMinLength,
		RequireUpper:  c.PasswordRequireUpper,
		RequireLower:  c.PasswordRequireLower,
		RequireDigit:  c.PasswordRequireDigit,
		RequireSymbol: c.PasswordRequireSymbol,
		MaxAge:        time.Duration(c.PasswordMaxAgeDays) * 24 * time.Hour,
		HistorySize:   c.PasswordHistorySize,
	}
}

// LockoutPolicy returns the failed-login lockout policy.
func (c *Config) LockoutPolicy() passworddomain.LockoutPolicy {
	return passworddomain.LockoutPolicy{Threshold: c.LockoutThreshold, Duration: c.LockoutDuration}
}

// MFARequiredRoleList returns the roles for which MFA is mandatory.
func (c *Config) MFARequiredRoleList() []string {
	return splitList(c.MFARequiredRoles)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
