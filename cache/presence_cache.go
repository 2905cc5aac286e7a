package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	presenceKey    = "playlist:%s:presence:%s"  // String: 心跳 key (playlistID:userID)
	presenceSetKey = "playlist:%s:online_users" // Set: 在线用户集合
	presenceSetTTL = 24 * time.Hour

	// DefaultPresenceTTL 心跳过期时间，客户端 ping 间隔应小于它
	DefaultPresenceTTL = 60 * time.Second
)

// PresenceCache 歌单成员在线状态（心跳）缓存
type PresenceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPresenceCache 创建在线状态缓存
func NewPresenceCache(client *redis.Client, ttl time.Duration) *PresenceCache {
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	return &PresenceCache{client: client, ttl: ttl}
}

// Heartbeat 刷新用户在歌单房间的心跳
func (c *PresenceCache) Heartbeat(ctx context.Context, playlistID, userID string) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	pipe := c.client.Pipeline()
	pipe.Set(ctx, fmt.Sprintf(presenceKey, playlistID, userID), time.Now().UnixMilli(), c.ttl)
	pipe.SAdd(ctx, fmt.Sprintf(presenceSetKey, playlistID), userID)
	pipe.Expire(ctx, fmt.Sprintf(presenceSetKey, playlistID), presenceSetTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Remove 用户离开房间或断开连接
func (c *PresenceCache) Remove(ctx context.Context, playlistID, userID string) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	pipe := c.client.Pipeline()
	pipe.Del(ctx, fmt.Sprintf(presenceKey, playlistID, userID))
	pipe.SRem(ctx, fmt.Sprintf(presenceSetKey, playlistID), userID)
	_, err := pipe.Exec(ctx)
	return err
}

// OnlineMembers 心跳未过期的用户，顺带清理集合中已过期的成员
func (c *PresenceCache) OnlineMembers(ctx context.Context, playlistID string) (map[string]bool, error) {
	if c.client == nil {
		return nil, fmt.Errorf("Redis client not initialized")
	}

	setKey := fmt.Sprintf(presenceSetKey, playlistID)
	userIDs, err := c.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, err
	}
	if len(userIDs) == 0 {
		return map[string]bool{}, nil
	}

	pipe := c.client.Pipeline()
	checks := make([]*redis.IntCmd, len(userIDs))
	for i, userID := range userIDs {
		checks[i] = pipe.Exists(ctx, fmt.Sprintf(presenceKey, playlistID, userID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	online := make(map[string]bool, len(userIDs))
	var stale []interface{}
	for i, userID := range userIDs {
		if checks[i].Val() > 0 {
			online[userID] = true
		} else {
			stale = append(stale, userID)
		}
	}
	if len(stale) > 0 {
		_ = c.client.SRem(ctx, setKey, stale...).Err()
	}
	return online, nil
}

// Clear 歌单删除时清理
func (c *PresenceCache) Clear(ctx context.Context, playlistID string) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	setKey := fmt.Sprintf(presenceSetKey, playlistID)
	userIDs, err := c.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(userIDs)+1)
	for _, userID := range userIDs {
		keys = append(keys, fmt.Sprintf(presenceKey, playlistID, userID))
	}
	keys = append(keys, setKey)
	return c.client.Del(ctx, keys...).Err()
}
