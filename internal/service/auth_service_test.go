package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"careflow/internal/config"
	"careflow/internal/domain"
	"careflow/pkg/auth"
)

func newAuthFixture() (*AuthService, *mockUserRepo) {
	users := &mockUserRepo{users: make(map[uuid.UUID]*domain.User)}
	jwtManager := auth.NewJWTManager(config.JWTConfig{
		Secret:          "unit-test-secret-at-least-32-chars!!",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
		Issuer:          "careflow-test",
	})
	return NewAuthService(users, jwtManager, zap.NewNop()), users
}

func TestRegister(t *testing.T) {
	t.Run("admin role is not self-service", func(t *testing.T) {
		svc, _ := newAuthFixture()
		_, err := svc.Register(context.Background(), &RegisterUserCommand{
			Email:    "root@careflow.health",
			Password: "correct1horse2battery",
			Role:     domain.RoleAdmin,
		})
		assert.ErrorIs(t, err, domain.ErrInvalidRole)
	})

	t.Run("invalid email", func(t *testing.T) {
		svc, _ := newAuthFixture()
		_, err := svc.Register(context.Background(), &RegisterUserCommand{
			Email:    "not-an-address",
			Password: "correct1horse2battery",
			Role:     domain.RolePatient,
		})
		var vErr *ValidationError
		assert.ErrorAs(t, err, &vErr)
	})

	t.Run("weak passwords", func(t *testing.T) {
		svc, _ := newAuthFixture()
		for _, pw := range []string{"short1", "onlyletterslong", "0123456789012"} {
			_, err := svc.Register(context.Background(), &RegisterUserCommand{
				Email:    "p@careflow.health",
				Password: pw,
				Role:     domain.RolePatient,
			})
			assert.ErrorIsf(t, err, ErrWeakPassword, "password %q", pw)
		}
	})

	t.Run("success normalizes email and hashes the password", func(t *testing.T) {
		svc, _ := newAuthFixture()
		u, err := svc.Register(context.Background(), &RegisterUserCommand{
			Email:     "  Pat.Doe@Careflow.Health ",
			Password:  "correct1horse2battery",
			FirstName: " Pat ",
			LastName:  "Doe",
			Role:      domain.RolePatient,
		})
		require.NoError(t, err)

		assert.Equal(t, "pat.doe@careflow.health", u.Email)
		assert.Equal(t, "Pat", u.FirstName)
		assert.True(t, u.IsActive)
		assert.NotEqual(t, "correct1horse2battery", u.PasswordHash)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("correct1horse2battery")))
	})
}

func TestLogin(t *testing.T) {
	svc, users := newAuthFixture()
	u, err := svc.Register(context.Background(), &RegisterUserCommand{
		Email:    "doc@careflow.health",
		Password: "correct1horse2battery",
		Role:     domain.RoleDoctor,
	})
	require.NoError(t, err)

	t.Run("unknown email", func(t *testing.T) {
		_, err := svc.Login(context.Background(), "nobody@careflow.health", "whatever123", "")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := svc.Login(context.Background(), "doc@careflow.health", "wrongpassword1", "")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("success issues a usable token pair", func(t *testing.T) {
		pair, err := svc.Login(context.Background(), " Doc@Careflow.Health ", "correct1horse2battery", "10.0.0.1")
		require.NoError(t, err)
		assert.NotEmpty(t, pair.AccessToken)
		assert.NotEmpty(t, pair.RefreshToken)
		assert.Equal(t, "Bearer", pair.TokenType)

		refreshed, err := svc.RefreshToken(context.Background(), pair.RefreshToken)
		require.NoError(t, err)
		assert.NotEmpty(t, refreshed.AccessToken)
	})

	t.Run("access token does not pass as refresh token", func(t *testing.T) {
		pair, err := svc.Login(context.Background(), "doc@careflow.health", "correct1horse2battery", "")
		require.NoError(t, err)

		_, err = svc.RefreshToken(context.Background(), pair.AccessToken)
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("garbage refresh token", func(t *testing.T) {
		_, err := svc.RefreshToken(context.Background(), "not.a.token")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("deactivated account", func(t *testing.T) {
		users.users[u.ID].IsActive = false
		defer func() { users.users[u.ID].IsActive = true }()

		_, err := svc.Login(context.Background(), "doc@careflow.health", "correct1horse2battery", "")
		assert.ErrorIs(t, err, ErrAccountInactive)
	})
}
