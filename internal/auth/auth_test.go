package auth

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuscare/counselling-booking/internal/booking"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", hash)

	assert.True(t, CheckPassword(hash, "s3cret"))
	assert.False(t, CheckPassword(hash, "wrong"))
	assert.False(t, CheckPassword("not-a-hash", "s3cret"))
}

func TestTokenRoundTrip(t *testing.T) {
	user := &booking.User{ID: 7, Email: "asha@example.com", Role: booking.RoleStudent}

	token, err := MakeToken(user, "secret-a")
	require.NoError(t, err)

	claims, err := ParseToken(token, "secret-a")
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.UserID)
	assert.Equal(t, "asha@example.com", claims.Email)
	assert.Equal(t, booking.RoleStudent, claims.Role)
}

func TestTokenWrongSecret(t *testing.T) {
	user := &booking.User{ID: 7, Email: "asha@example.com", Role: booking.RoleStudent}

	token, err := MakeToken(user, "secret-a")
	require.NoError(t, err)

	_, err = ParseToken(token, "secret-b")
	assert.Error(t, err)
}

func TestTokenGarbage(t *testing.T) {
	_, err := ParseToken("not.a.token", "secret-a")
	assert.Error(t, err)
}

func newAuthService(t *testing.T) (*Service, *booking.MemRepository) {
	t.Helper()
	repo := booking.NewMemRepository()
	logger := zerolog.Nop()
	return NewService(repo, "test-secret", &logger), repo
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _ := newAuthService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "Asha", "asha@example.com", "s3cret", booking.RoleStudent)
	require.NoError(t, err)
	assert.NotZero(t, user.ID)
	assert.Equal(t, booking.RoleStudent, user.Role)
	assert.NotEqual(t, "s3cret", user.PasswordHash)

	token, err := svc.Login(ctx, "asha@example.com", "s3cret", booking.RoleStudent)
	require.NoError(t, err)

	claims, err := ParseToken(token, "test-secret")
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _ := newAuthService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "Asha", "asha@example.com", "s3cret", booking.RoleStudent)
	require.NoError(t, err)

	_, err = svc.Register(ctx, "Another", "asha@example.com", "other", booking.RoleStudent)
	assert.ErrorIs(t, err, booking.ErrUserExists)
}

func TestLoginBadCredentials(t *testing.T) {
	svc, _ := newAuthService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "Asha", "asha@example.com", "s3cret", booking.RoleStudent)
	require.NoError(t, err)

	t.Run("wrong password", func(t *testing.T) {
		_, err := svc.Login(ctx, "asha@example.com", "wrong", booking.RoleStudent)
		assert.ErrorIs(t, err, ErrBadCredentials)
	})

	t.Run("wrong role", func(t *testing.T) {
		_, err := svc.Login(ctx, "asha@example.com", "s3cret", booking.RoleCounsellor)
		assert.ErrorIs(t, err, ErrBadCredentials)
	})

	t.Run("unknown email", func(t *testing.T) {
		_, err := svc.Login(ctx, "nobody@example.com", "s3cret", booking.RoleStudent)
		assert.ErrorIs(t, err, ErrBadCredentials)
	})
}
