package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/ibb-transit/crowdcast/internal/core"
	"github.com/ibb-transit/crowdcast/internal/data"
	"github.com/ibb-transit/crowdcast/internal/domain/model"
	apperrors "github.com/ibb-transit/crowdcast/internal/errors"
)

// DefaultTokenLifetime is how long an issued access token stays valid when no
// expiry is configured.
const DefaultTokenLifetime = 60 * time.Minute

// AuthConfig carries the signing material and token policy.
type AuthConfig struct {
	SecretKey     string
	TokenLifetime time.Duration
}

// AuthServiceOptions holds the dependencies for creating an AuthService.
type AuthServiceOptions struct {
	Users  core.AdminUserRepository
	Config AuthConfig
	Opts   AuthRuntimeOptions
}

// AuthRuntimeOptions carries the ambient pieces of the auth service.
type AuthRuntimeOptions struct {
	TimeProvider data.TimeProvider
	Logger       *slog.Logger
}

// AuthService authenticates operator accounts and issues HS256 access tokens
// for the admin endpoints.
type AuthService struct {
	users        core.AdminUserRepository
	secret       []byte
	lifetime     time.Duration
	timeProvider data.TimeProvider
	logger       *slog.Logger
}

// NewAuthService creates an AuthService with defaults filled in.
func NewAuthService(opts AuthServiceOptions) *AuthService {
	rt := opts.Opts
	if rt.TimeProvider == nil {
		rt.TimeProvider = &data.RealTimeProvider{}
	}
	if rt.Logger == nil {
		rt.Logger = slog.Default()
	}
	lifetime := opts.Config.TokenLifetime
	if lifetime <= 0 {
		lifetime = DefaultTokenLifetime
	}
	return &AuthService{
		users:        opts.Users,
		secret:       []byte(opts.Config.SecretKey),
		lifetime:     lifetime,
		timeProvider: rt.TimeProvider,
		logger:       rt.Logger,
	}
}

// Token is an issued access token with its absolute expiry.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Login verifies a username/password pair and returns a signed token.
// Unknown users and wrong passwords produce the same validation error.
func (s *AuthService) Login(ctx context.Context, username, password string) (*Token, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("lookup user %s: %w", username, err)
	}
	if user == nil {
		return nil, apperrors.Validation("invalid username or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(password)); err != nil {
		return nil, apperrors.Validation("invalid username or password")
	}

	if err := s.users.TouchLastLogin(ctx, user.ID); err != nil {
		s.logger.WarnContext(ctx, "failed to record last login", "user_id", user.ID, "error", err)
	}

	token, err := s.issue(user)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "operator logged in", "username", user.Username)
	return token, nil
}

func (s *AuthService) issue(user *model.AdminUser) (*Token, error) {
	now := s.timeProvider.Now()
	expires := now.Add(s.lifetime)
	claims := jwt.RegisteredClaims{
		Subject:   user.Username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &Token{AccessToken: signed, TokenType: "bearer", ExpiresAt: expires}, nil
}

// Verify parses and validates a bearer token and returns its subject.
func (s *AuthService) Verify(tokenString string) (string, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.timeProvider.Now))
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeUnauthorized, "invalid token")
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", apperrors.Unauthorized("invalid token claims")
	}
	return claims.Subject, nil
}

// EnsureBootstrapUser provisions the first operator account from configured
// credentials when the users table is empty. A no-op otherwise.
func (s *AuthService) EnsureBootstrapUser(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return nil
	}
	count, err := s.users.Count(ctx)
	if err != nil {
		return fmt.Errorf("count admin users: %w", err)
	}
	if count > 0 {
		return nil
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash bootstrap password: %w", err)
	}
	if _, err := s.users.Create(ctx, username, string(hashed)); err != nil {
		return fmt.Errorf("create bootstrap user: %w", err)
	}
	s.logger.InfoContext(ctx, "provisioned bootstrap admin user", "username", username)
	return nil
}
