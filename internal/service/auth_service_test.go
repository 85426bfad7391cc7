package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/config"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret: "test-secret",
		JWTExpiry: time.Hour,
		Proctor: config.ProctorConfig{
			ViolationThreshold: 3,
			FocusPollInterval:  time.Second,
			DedupFocusLoss:     true,
			RequireFullscreen:  true,
			PostSubmitRedirect: "/student/dashboard",
			SessionRetention:   time.Minute,
		},
	}
}

func TestAuthService_StudentTokenRoundTrip(t *testing.T) {
	_, rdb := newTestRedis(t)
	svc := NewAuthService(testConfig(), rdb)
	ctx := context.Background()

	token, err := svc.IssueStudentToken(ctx, 42, 7)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, TokenTypeStudent, claims.TokenType)
	assert.Equal(t, 42, claims.UserID)
	assert.Equal(t, 7, claims.ClassID)

	require.NoError(t, svc.ValidateStudentSession(ctx, 42, claims.ID))
	assert.ErrorIs(t, svc.ValidateStudentSession(ctx, 42, "other-device"), ErrSessionInvalidated)

	_, err = svc.IssueStudentToken(ctx, 42, 7)
	assert.ErrorIs(t, err, ErrSessionAlreadyActive)

	require.NoError(t, svc.ResetStudentSession(ctx, 42))
	assert.ErrorIs(t, svc.ValidateStudentSession(ctx, 42, claims.ID), ErrNoActiveSession)
}

func TestAuthService_RejectsForeignSignature(t *testing.T) {
	_, rdb := newTestRedis(t)
	svc := NewAuthService(testConfig(), rdb)

	otherCfg := testConfig()
	otherCfg.JWTSecret = "someone-else"
	forged, err := NewAuthService(otherCfg, rdb).IssueAdminToken(1, 1, []string{"*"})
	require.NoError(t, err)

	_, err = svc.ValidateToken(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestClaims_HasPermission(t *testing.T) {
	c := &Claims{Permissions: []string{"monitor:read"}}
	assert.True(t, c.HasPermission("monitor:read"))
	assert.False(t, c.HasPermission("exam:write"))
	assert.True(t, (&Claims{Permissions: []string{"*"}}).HasPermission("exam:write"))
}
