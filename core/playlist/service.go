package playlist

import (
	"context"
	"errors"
	"time"

	"cotrack/core/access"
	"cotrack/logger"
	"cotrack/model"
	"cotrack/repository"
)

// Broadcaster 事件投递，必须是非阻塞的
// 投递失败只记录日志，不影响已提交的写操作
type Broadcaster interface {
	Publish(evt model.Event)
}

// BroadcasterFunc 函数适配器
type BroadcasterFunc func(evt model.Event)

func (f BroadcasterFunc) Publish(evt model.Event) { f(evt) }

// PresenceCache 在线状态缓存，用于覆盖数据库中的 Online 字段
type PresenceCache interface {
	OnlineMembers(ctx context.Context, playlistID string) (map[string]bool, error)
}

// service 三个管理器共享的依赖
type service struct {
	store       repository.PlaylistStore
	broadcaster Broadcaster
	now         func() time.Time
}

func newService(store repository.PlaylistStore, broadcaster Broadcaster) service {
	return service{store: store, broadcaster: broadcaster, now: time.Now}
}

// publish 提交成功后发出事件
func (s *service) publish(playlistID string, typ model.EventType, actorID string, payload interface{}, at time.Time) {
	if s.broadcaster == nil {
		return
	}
	evt, err := model.NewEvent(playlistID, typ, actorID, payload, at)
	if err != nil {
		logger.Warn("构造事件失败",
			logger.PlaylistID(playlistID),
			logger.String("type", string(typ)),
			logger.ErrorField(err))
		return
	}
	s.broadcaster.Publish(evt)
}

// authorizeTx 在已加锁的事务中鉴权，避免先查后写的竞态
func authorizeTx(ctx context.Context, tx repository.PlaylistTx, principal string, action access.Action) error {
	p := tx.Playlist()
	subject := access.Subject{OwnerID: p.OwnerID, Principal: principal}
	if principal != "" && !p.IsOwner(principal) {
		isMember, err := tx.IsMember(ctx, principal)
		if err != nil {
			return err
		}
		subject.IsMember = isMember
	}
	return access.Authorize(subject, action).Err(action)
}

// authorizeRead 读操作鉴权，返回歌单
func (s *service) authorizeRead(ctx context.Context, playlistID, principal string, action access.Action) (*model.Playlist, error) {
	p, err := s.store.GetPlaylist(ctx, playlistID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	subject := access.Subject{OwnerID: p.OwnerID, Principal: principal}
	if principal != "" && !p.IsOwner(principal) {
		_, err := s.store.GetMembership(ctx, playlistID, principal)
		switch {
		case err == nil:
			subject.IsMember = true
		case !errors.Is(err, repository.ErrNotFound):
			return nil, translateStoreError(err)
		}
	}
	if err := access.Authorize(subject, action).Err(action); err != nil {
		return nil, err
	}
	return p, nil
}
