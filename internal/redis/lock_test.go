package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLocker(t *testing.T) (Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisSlotLocker(client, 2*time.Second), mr
}

func TestWithSlotLockRunsSection(t *testing.T) {
	locker, mr := testLocker(t)

	ran := false
	err := locker.WithSlotLock(context.Background(), 42, func(ctx context.Context) error {
		ran = true
		assert.True(t, mr.Exists("lock:slot:42"), "lock key held during the section")
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists("lock:slot:42"), "lock released after the section")
}

func TestWithSlotLockContended(t *testing.T) {
	locker, mr := testLocker(t)

	// Another instance holds the slot.
	require.NoError(t, mr.Set("lock:slot:42", "someone-else"))

	err := locker.WithSlotLock(context.Background(), 42, func(ctx context.Context) error {
		t.Fatal("section must not run while the lock is held elsewhere")
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	// A different slot is unaffected.
	err = locker.WithSlotLock(context.Background(), 7, func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestWithSlotLockKeepsForeignToken(t *testing.T) {
	locker, mr := testLocker(t)

	err := locker.WithSlotLock(context.Background(), 42, func(ctx context.Context) error {
		// The lock expires mid-section and another instance grabs it.
		mr.FastForward(3 * time.Second)
		require.NoError(t, mr.Set("lock:slot:42", "someone-else"))
		return nil
	})
	require.NoError(t, err)

	// Release must not delete a token it does not own.
	got, err := mr.Get("lock:slot:42")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestWithSlotLockPropagatesSectionError(t *testing.T) {
	locker, mr := testLocker(t)

	sentinel := errors.New("boom")
	err := locker.WithSlotLock(context.Background(), 42, func(ctx context.Context) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.False(t, mr.Exists("lock:slot:42"), "lock released even when the section fails")
}

func TestWithSlotLockReacquireAfterRelease(t *testing.T) {
	locker, _ := testLocker(t)

	for i := 0; i < 3; i++ {
		err := locker.WithSlotLock(context.Background(), 42, func(ctx context.Context) error { return nil })
		require.NoError(t, err)
	}
}
