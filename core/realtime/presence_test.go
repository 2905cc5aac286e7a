package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"cotrack/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

type flagStore struct {
	online map[string]bool
	calls  int
	err    error
}

func (s *flagStore) SetPresence(ctx context.Context, playlistID, userID string, online bool) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	s.online[playlistID+"/"+userID] = online
	return nil
}

func TestMemberPresence_WithCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := &flagStore{online: map[string]bool{}}
	presenceCache := cache.NewPresenceCache(client, time.Minute)
	p := NewMemberPresence(store, presenceCache)
	ctx := context.Background()

	p.Enter(ctx, "p1", "bob")
	assert.True(t, store.online["p1/bob"])
	assert.True(t, mr.Exists("playlist:p1:presence:bob"))

	p.Heartbeat(ctx, "p1", "bob")
	assert.Equal(t, 1, store.calls, "heartbeat only refreshes redis")

	p.Leave(ctx, "p1", "bob")
	assert.False(t, store.online["p1/bob"])
	assert.False(t, mr.Exists("playlist:p1:presence:bob"))
}

func TestMemberPresence_WithoutCache(t *testing.T) {
	store := &flagStore{online: map[string]bool{}}
	p := NewMemberPresence(store, nil)
	ctx := context.Background()

	p.Heartbeat(ctx, "p1", "bob")
	assert.True(t, store.online["p1/bob"])

	store.err = errors.New("db down")
	assert.NotPanics(t, func() { p.Leave(ctx, "p1", "bob") })
}

func TestMemberPresence_ClosedClearsRoom(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	p := NewMemberPresence(&flagStore{online: map[string]bool{}}, cache.NewPresenceCache(client, time.Minute))
	ctx := context.Background()
	p.Enter(ctx, "p1", "bob")
	p.Enter(ctx, "p1", "carol")
	p.Enter(ctx, "p2", "bob")

	p.Closed(ctx, "p1")
	assert.False(t, mr.Exists("playlist:p1:presence:bob"))
	assert.False(t, mr.Exists("playlist:p1:presence:carol"))
	assert.False(t, mr.Exists("playlist:p1:online_users"))
	assert.True(t, mr.Exists("playlist:p2:presence:bob"), "other rooms are untouched")

	assert.NotPanics(t, func() { NewMemberPresence(nil, nil).Closed(ctx, "p1") })
}
