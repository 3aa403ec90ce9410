package service

import (
	"context"
	"elevenplus_backend/internal/config"
	"elevenplus_backend/internal/model"
	"elevenplus_backend/internal/repository"
	"elevenplus_backend/internal/util"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService_RegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)
	svc := NewAuthService(repository.NewUserRepository(env.DB), config.JWTConfig{Secret: "test-secret", ExpireTime: time.Hour})
	ctx := context.Background()

	user, err := svc.Register(ctx, RegisterRequest{Name: "Ada", Email: " Ada@Example.com ", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", user.Email)
	assert.Equal(t, model.Student, user.Role)
	assert.NotEqual(t, "password123", user.Password)

	_, err = svc.Register(ctx, RegisterRequest{Name: "Ada", Email: "ada@example.com", Password: "password123"})
	assert.ErrorIs(t, err, util.ErrEmailRegistered)

	token, logged, err := svc.Login(ctx, "ada@example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, user.ID, logged.ID)

	claims, err := util.ParseJWT(token, "test-secret")
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)

	_, _, err = svc.Login(ctx, "ada@example.com", "wrong-password")
	assert.ErrorIs(t, err, util.ErrInvalidCredentials)
	_, _, err = svc.Login(ctx, "nobody@example.com", "password123")
	assert.ErrorIs(t, err, util.ErrInvalidCredentials)
}
