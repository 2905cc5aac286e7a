package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupPresence(t *testing.T) (*PresenceCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewPresenceCache(client, 30*time.Second), mr
}

func TestPresence_HeartbeatAndExpiry(t *testing.T) {
	c, mr := setupPresence(t)
	ctx := context.Background()

	require.NoError(t, c.Heartbeat(ctx, "p1", "u1"))
	require.NoError(t, c.Heartbeat(ctx, "p1", "u2"))

	online, err := c.OnlineMembers(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"u1": true, "u2": true}, online)

	mr.FastForward(20 * time.Second)
	require.NoError(t, c.Heartbeat(ctx, "p1", "u2"))
	mr.FastForward(15 * time.Second)

	online, err = c.OnlineMembers(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"u2": true}, online)

	members, err := mr.Members("playlist:p1:online_users")
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, members, "stale users are pruned from the set")
}

func TestPresence_RemoveAndClear(t *testing.T) {
	c, mr := setupPresence(t)
	ctx := context.Background()

	require.NoError(t, c.Heartbeat(ctx, "p1", "u1"))
	require.NoError(t, c.Heartbeat(ctx, "p1", "u2"))
	require.NoError(t, c.Remove(ctx, "p1", "u1"))

	online, err := c.OnlineMembers(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"u2": true}, online)

	require.NoError(t, c.Clear(ctx, "p1"))
	assert.False(t, mr.Exists("playlist:p1:online_users"))
	assert.False(t, mr.Exists("playlist:p1:presence:u2"))

	online, err = c.OnlineMembers(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, online)
}

func TestPresence_NilClient(t *testing.T) {
	c := NewPresenceCache(nil, 0)
	assert.Error(t, c.Heartbeat(context.Background(), "p1", "u1"))
	_, err := c.OnlineMembers(context.Background(), "p1")
	assert.Error(t, err)
}
