package realtime

import (
	"context"

	"cotrack/cache"
	"cotrack/logger"
)

// PresenceStore 持久化成员在线标记
type PresenceStore interface {
	SetPresence(ctx context.Context, playlistID, userID string, online bool) error
}

// MemberPresence 同时更新数据库在线标记与 Redis 心跳
// cache 为 nil 时只更新数据库
type MemberPresence struct {
	store PresenceStore
	cache *cache.PresenceCache
}

// NewMemberPresence 创建在线状态钩子
func NewMemberPresence(store PresenceStore, presenceCache *cache.PresenceCache) *MemberPresence {
	return &MemberPresence{store: store, cache: presenceCache}
}

func (p *MemberPresence) Enter(ctx context.Context, playlistID, userID string) {
	p.setOnline(ctx, playlistID, userID, true)
	p.heartbeat(ctx, playlistID, userID)
}

func (p *MemberPresence) Leave(ctx context.Context, playlistID, userID string) {
	p.setOnline(ctx, playlistID, userID, false)
	if p.cache == nil {
		return
	}
	if err := p.cache.Remove(ctx, playlistID, userID); err != nil {
		logger.Warn("failed to remove presence",
			logger.PlaylistID(playlistID),
			logger.UserID(userID),
			logger.ErrorField(err))
	}
}

// Heartbeat 没有 Redis 时刷新数据库中的 LastSeenAt
func (p *MemberPresence) Heartbeat(ctx context.Context, playlistID, userID string) {
	if p.cache == nil {
		p.setOnline(ctx, playlistID, userID, true)
		return
	}
	p.heartbeat(ctx, playlistID, userID)
}

func (p *MemberPresence) heartbeat(ctx context.Context, playlistID, userID string) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Heartbeat(ctx, playlistID, userID); err != nil {
		logger.Warn("failed to update presence",
			logger.PlaylistID(playlistID),
			logger.UserID(userID),
			logger.ErrorField(err))
	}
}

func (p *MemberPresence) setOnline(ctx context.Context, playlistID, userID string, online bool) {
	if p.store == nil {
		return
	}
	if err := p.store.SetPresence(ctx, playlistID, userID, online); err != nil {
		logger.Warn("failed to set presence",
			logger.PlaylistID(playlistID),
			logger.UserID(userID),
			logger.Bool("online", online),
			logger.ErrorField(err))
	}
}

// Closed 歌单删除后清空 Redis 中的房间在线集合，数据库中的成员已随歌单删除
func (p *MemberPresence) Closed(ctx context.Context, playlistID string) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Clear(ctx, playlistID); err != nil {
		logger.Warn("failed to clear presence",
			logger.PlaylistID(playlistID),
			logger.ErrorField(err))
	}
}
