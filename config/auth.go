package config

import (
	"strings"
	"time"
)

// AuthConfig groups admin authentication configuration. Tokens are HS256 JWTs
// signed with SecretKey; the bootstrap account is provisioned on first start
// when the admin users table is empty.
type AuthConfig struct {
	// SecretKey signs access tokens. Required in production; an empty key
	// disables the admin endpoints.
	SecretKey string `env:"JWT_SECRET_KEY"`

	// TokenExpireMinutes is the access token lifetime in minutes.
	TokenExpireMinutes int `env:"JWT_ACCESS_TOKEN_EXPIRE_MINUTES" envDefault:"60"`

	// AdminUsername / AdminPassword seed the first operator account.
	AdminUsername string `env:"ADMIN_USERNAME" envDefault:""`
	AdminPassword string `env:"ADMIN_PASSWORD" envDefault:""`
}

// Sanitize applies guardrails to authentication configuration values.
func (a *AuthConfig) Sanitize() {
	a.SecretKey = strings.TrimSpace(a.SecretKey)
	a.AdminUsername = strings.TrimSpace(a.AdminUsername)
	if a.TokenExpireMinutes <= 0 {
		a.TokenExpireMinutes = 60
	}
}

// TokenLifetime returns the configured token lifetime as a duration.
func (a *AuthConfig) TokenLifetime() time.Duration {
	return time.Duration(a.TokenExpireMinutes) * time.Minute
}

// Enabled reports whether admin authentication can issue tokens.
func (a *AuthConfig) Enabled() bool {
	return a.SecretKey != ""
}
