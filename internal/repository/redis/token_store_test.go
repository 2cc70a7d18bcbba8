package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a live server only, e.g.
// SKILLLINK_TEST_REDIS_ADDR=127.0.0.1:6379 go test ./internal/repository/redis/
func newTestStore(t *testing.T) *TokenStore {
	t.Helper()
	addr := os.Getenv("SKILLLINK_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SKILLLINK_TEST_REDIS_ADDR not set")
	}
	s := NewTokenStore(Config{Addr: addr})
	t.Cleanup(func() { _ = s.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Ping(ctx))
	return s
}

func TestTokenStore_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sid := uuid.NewString()

	token, err := s.Load(ctx, sid)
	require.NoError(t, err)
	assert.Empty(t, token, "unknown visitors have no token")

	require.NoError(t, s.Save(ctx, sid, "tok-1", time.Minute))
	token, err = s.Load(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)

	require.NoError(t, s.Delete(ctx, sid))
	token, err = s.Load(ctx, sid)
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestTokenStore_Expires(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sid := uuid.NewString()

	require.NoError(t, s.Save(ctx, sid, "tok-2", 50*time.Millisecond))
	assert.Eventually(t, func() bool {
		token, err := s.Load(ctx, sid)
		return err == nil && token == ""
	}, 2*time.Second, 20*time.Millisecond)
}
