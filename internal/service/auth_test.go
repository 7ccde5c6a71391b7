package service

import (
	"context"
	"testing"
	"time"

	"github.com/Rrens/chat-sessions/internal/domain"
	"github.com/Rrens/chat-sessions/internal/security"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestJWTManager() *security.JWTManager {
	return security.NewJWTManager("test-secret-key-with-32-chars!!", 15*time.Minute, 7*24*time.Hour)
}

func TestAuthService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		userRepo := new(MockUserRepository)
		userRepo.On("EmailExists", ctx, "new@example.com").Return(false, nil)
		userRepo.On("Create", ctx, mock.AnythingOfType("*domain.User")).Return(nil)

		svc := NewAuthService(userRepo, newTestJWTManager())
		user, err := svc.Register(ctx, domain.UserCreate{Email: "new@example.com", Password: "password123"})
		require.NoError(t, err)
		require.NotNil(t, user)

		assert.Equal(t, "new@example.com", user.Email)
		assert.NotEqual(t, "password123", user.PasswordHash)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("password123")))
		userRepo.AssertExpectations(t)
	})

	t.Run("duplicate email", func(t *testing.T) {
		userRepo := new(MockUserRepository)
		userRepo.On("EmailExists", ctx, "taken@example.com").Return(true, nil)

		svc := NewAuthService(userRepo, newTestJWTManager())
		_, err := svc.Register(ctx, domain.UserCreate{Email: "taken@example.com", Password: "password123"})
		assert.EqualError(t, err, "email already registered")
	})
}

func TestAuthService_Login(t *testing.T) {
	ctx := context.Background()
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)
	require.NoError(t, err)

	user := &domain.User{
		ID:           uuid.New(),
		Email:        "user@example.com",
		PasswordHash: string(hash),
	}

	t.Run("success", func(t *testing.T) {
		userRepo := new(MockUserRepository)
		userRepo.On("GetByEmail", ctx, "user@example.com").Return(user, nil)

		manager := newTestJWTManager()
		svc := NewAuthService(userRepo, manager)

		tokens, err := svc.Login(ctx, domain.UserLogin{Email: "user@example.com", Password: "password123"})
		require.NoError(t, err)
		require.NotNil(t, tokens)

		claims, err := manager.ValidateAccessToken(tokens.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, user.ID, claims.UserID)
		assert.Equal(t, user.Email, claims.Email)
	})

	t.Run("wrong password", func(t *testing.T) {
		userRepo := new(MockUserRepository)
		userRepo.On("GetByEmail", ctx, "user@example.com").Return(user, nil)

		svc := NewAuthService(userRepo, newTestJWTManager())
		_, err := svc.Login(ctx, domain.UserLogin{Email: "user@example.com", Password: "nope"})
		assert.EqualError(t, err, "invalid credentials")
	})

	t.Run("unknown email", func(t *testing.T) {
		userRepo := new(MockUserRepository)
		userRepo.On("GetByEmail", ctx, "ghost@example.com").Return(nil, nil)

		svc := NewAuthService(userRepo, newTestJWTManager())
		_, err := svc.Login(ctx, domain.UserLogin{Email: "ghost@example.com", Password: "password123"})
		assert.EqualError(t, err, "invalid credentials")
	})
}

func TestAuthService_Refresh(t *testing.T) {
	ctx := context.Background()
	manager := newTestJWTManager()

	user := &domain.User{ID: uuid.New(), Email: "user@example.com"}

	refreshToken, err := manager.GenerateRefreshToken(user.ID)
	require.NoError(t, err)

	t.Run("success", func(t *testing.T) {
		userRepo := new(MockUserRepository)
		userRepo.On("GetByID", ctx, user.ID).Return(user, nil)

		svc := NewAuthService(userRepo, manager)
		tokens, err := svc.Refresh(ctx, refreshToken)
		require.NoError(t, err)

		claims, err := manager.ValidateAccessToken(tokens.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, user.ID, claims.UserID)
	})

	t.Run("invalid token", func(t *testing.T) {
		svc := NewAuthService(new(MockUserRepository), manager)
		_, err := svc.Refresh(ctx, "garbage")
		assert.EqualError(t, err, "invalid refresh token")
	})
}
