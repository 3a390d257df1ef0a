package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ibb-transit/crowdcast/internal/data"
	"github.com/ibb-transit/crowdcast/internal/domain/model"
	apperrors "github.com/ibb-transit/crowdcast/internal/errors"
)

// fakeAdminUserRepo is an in-memory operator account store.
type fakeAdminUserRepo struct {
	users      map[string]*model.AdminUser
	nextID     int64
	lastLogins []int64
}

func newFakeAdminUserRepo() *fakeAdminUserRepo {
	return &fakeAdminUserRepo{users: map[string]*model.AdminUser{}}
}

func (f *fakeAdminUserRepo) Create(_ context.Context, username, hashedPassword string) (*model.AdminUser, error) {
	f.nextID++
	user := &model.AdminUser{ID: f.nextID, Username: username, HashedPassword: hashedPassword}
	f.users[username] = user
	return user, nil
}

func (f *fakeAdminUserRepo) GetByUsername(_ context.Context, username string) (*model.AdminUser, error) {
	return f.users[username], nil
}

func (f *fakeAdminUserRepo) Count(_ context.Context) (int, error) {
	return len(f.users), nil
}

func (f *fakeAdminUserRepo) TouchLastLogin(_ context.Context, id int64) error {
	f.lastLogins = append(f.lastLogins, id)
	return nil
}

func authFixture(t *testing.T) (*AuthService, *fakeAdminUserRepo) {
	t.Helper()
	users := newFakeAdminUserRepo()
	svc := NewAuthService(AuthServiceOptions{
		Users:  users,
		Config: AuthConfig{SecretKey: "test-secret", TokenLifetime: 30 * time.Minute},
		Opts: AuthRuntimeOptions{
			TimeProvider: data.NewFixedTimeProvider(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)),
		},
	})
	return svc, users
}

func seedUser(t *testing.T, users *fakeAdminUserRepo, username, password string) {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	_, err = users.Create(context.Background(), username, string(hashed))
	require.NoError(t, err)
}

func TestLoginIssuesVerifiableToken(t *testing.T) {
	svc, users := authFixture(t)
	seedUser(t, users, "operator", "hunter2")

	token, err := svc.Login(context.Background(), "operator", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "bearer", token.TokenType)
	assert.Equal(t, time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC), token.ExpiresAt)

	subject, err := svc.Verify(token.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "operator", subject)

	require.Len(t, users.lastLogins, 1)
}

func TestLoginWrongPassword(t *testing.T) {
	svc, users := authFixture(t)
	seedUser(t, users, "operator", "hunter2")

	_, err := svc.Login(context.Background(), "operator", "wrong")
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestLoginUnknownUserSameError(t *testing.T) {
	svc, _ := authFixture(t)

	_, err := svc.Login(context.Background(), "ghost", "whatever")
	require.Error(t, err)
	// Unknown user and wrong password are indistinguishable to the caller.
	assert.True(t, apperrors.IsValidation(err))
	assert.Equal(t, "invalid username or password", err.Error())
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	svc, users := authFixture(t)
	seedUser(t, users, "operator", "hunter2")

	other := NewAuthService(AuthServiceOptions{
		Users:  users,
		Config: AuthConfig{SecretKey: "different-secret"},
	})
	token, err := other.Login(context.Background(), "operator", "hunter2")
	require.NoError(t, err)

	_, err = svc.Verify(token.AccessToken)
	require.Error(t, err)
	assert.True(t, apperrors.IsUnauthorized(err))
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	users := newFakeAdminUserRepo()
	seedUser(t, users, "operator", "hunter2")

	issuedAt := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	issuer := NewAuthService(AuthServiceOptions{
		Users:  users,
		Config: AuthConfig{SecretKey: "test-secret", TokenLifetime: time.Minute},
		Opts:   AuthRuntimeOptions{TimeProvider: data.NewFixedTimeProvider(issuedAt)},
	})
	token, err := issuer.Login(context.Background(), "operator", "hunter2")
	require.NoError(t, err)

	later := NewAuthService(AuthServiceOptions{
		Users:  users,
		Config: AuthConfig{SecretKey: "test-secret"},
		Opts:   AuthRuntimeOptions{TimeProvider: data.NewFixedTimeProvider(issuedAt.Add(time.Hour))},
	})
	_, err = later.Verify(token.AccessToken)
	require.Error(t, err)
	assert.True(t, apperrors.IsUnauthorized(err))
}

func TestEnsureBootstrapUser(t *testing.T) {
	svc, users := authFixture(t)

	require.NoError(t, svc.EnsureBootstrapUser(context.Background(), "admin", "changeme"))
	require.Len(t, users.users, 1)

	// Login works with the provisioned credentials.
	_, err := svc.Login(context.Background(), "admin", "changeme")
	require.NoError(t, err)

	// A second call is a no-op.
	require.NoError(t, svc.EnsureBootstrapUser(context.Background(), "admin2", "other"))
	assert.Len(t, users.users, 1)
}

func TestEnsureBootstrapUserSkipsEmptyCredentials(t *testing.T) {
	svc, users := authFixture(t)

	require.NoError(t, svc.EnsureBootstrapUser(context.Background(), "", ""))
	assert.Empty(t, users.users)
}
