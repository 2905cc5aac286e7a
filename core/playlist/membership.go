package playlist

import (
	"context"
	"errors"
	"fmt"

	"cotrack/core/access"
	"cotrack/core/invite"
	"cotrack/logger"
	"cotrack/model"
	"cotrack/repository"
)

// MembershipManager 邀请码加入、主动退出、所有者移除成员
// 成员管理的失败都是确定性的，不做重试
type MembershipManager struct {
	service
	presence PresenceCache
}

// NewMembershipManager 创建成员管理器，presence 可为 nil
func NewMembershipManager(store repository.PlaylistStore, broadcaster Broadcaster, presence PresenceCache) *MembershipManager {
	return &MembershipManager{
		service:  newService(store, broadcaster),
		presence: presence,
	}
}

// Join 使用邀请码加入歌单
func (m *MembershipManager) Join(ctx context.Context, principal, code string) (*model.Playlist, *model.Membership, error) {
	if !invite.Validate(code) {
		return nil, nil, ErrInvalidCode
	}
	code = invite.Normalize(code)

	p, err := m.store.GetPlaylistByInviteCode(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, ErrInvalidCode
	}
	if err != nil {
		return nil, nil, fmt.Errorf("查询邀请码失败: %w", err)
	}

	var (
		playlist model.Playlist
		member   model.Membership
	)
	err = m.store.WithPlaylistLock(ctx, p.ID, func(tx repository.PlaylistTx) error {
		locked := tx.Playlist()
		if locked.IsOwner(principal) {
			return ErrSelfJoin
		}
		isMember, err := tx.IsMember(ctx, principal)
		if err != nil {
			return err
		}
		if isMember {
			return ErrAlreadyMember
		}

		now := m.now()
		member = model.Membership{
			PlaylistID: locked.ID,
			UserID:     principal,
			JoinedAt:   now,
			Online:     true,
			LastSeenAt: now,
		}
		if err := tx.AddMember(ctx, &member); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return ErrAlreadyMember
			}
			return err
		}
		playlist = *locked
		return nil
	})
	if err != nil {
		// 加锁前歌单被删除
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrInvalidCode
		}
		return nil, nil, translateStoreError(err)
	}

	logger.Info("成员加入歌单",
		logger.PlaylistID(playlist.ID),
		logger.UserID(principal))

	m.publish(playlist.ID, model.EventMemberJoined, principal, model.MemberJoinedPayload{Member: member}, member.JoinedAt)
	return &playlist, &member, nil
}

// Leave 成员主动退出，所有者不能退出
func (m *MembershipManager) Leave(ctx context.Context, playlistID, principal string) error {
	err := m.store.WithPlaylistLock(ctx, playlistID, func(tx repository.PlaylistTx) error {
		if tx.Playlist().IsOwner(principal) {
			return access.Authorize(access.Subject{OwnerID: tx.Playlist().OwnerID, Principal: principal}, access.ActionLeave).
				Err(access.ActionLeave)
		}
		removed, err := tx.RemoveMember(ctx, principal)
		if err != nil {
			return err
		}
		if !removed {
			return ErrNotMember
		}
		return nil
	})
	if err != nil {
		return translateStoreError(err)
	}

	logger.Info("成员退出歌单",
		logger.PlaylistID(playlistID),
		logger.UserID(principal))

	m.publish(playlistID, model.EventMemberLeft, principal, model.MemberLeftPayload{UserID: principal}, m.now())
	return nil
}

// RemoveMember 所有者移除成员
func (m *MembershipManager) RemoveMember(ctx context.Context, playlistID, acting, target string) error {
	err := m.store.WithPlaylistLock(ctx, playlistID, func(tx repository.PlaylistTx) error {
		if err := authorizeTx(ctx, tx, acting, access.ActionManageMembership); err != nil {
			return err
		}
		if tx.Playlist().IsOwner(target) {
			return &access.DeniedError{Action: access.ActionManageMembership, Reason: "owner cannot be removed"}
		}
		removed, err := tx.RemoveMember(ctx, target)
		if err != nil {
			return err
		}
		if !removed {
			return ErrNotMember
		}
		return nil
	})
	if err != nil {
		return translateStoreError(err)
	}

	logger.Info("成员被移除",
		logger.PlaylistID(playlistID),
		logger.UserID(target),
		logger.String("removedBy", acting))

	m.publish(playlistID, model.EventMemberLeft, acting,
		model.MemberLeftPayload{UserID: target, RemovedBy: acting}, m.now())
	return nil
}

// ListMembers 成员列表，在线状态优先取缓存
func (m *MembershipManager) ListMembers(ctx context.Context, playlistID, principal string) ([]*model.Membership, error) {
	if _, err := m.authorizeRead(ctx, playlistID, principal, access.ActionView); err != nil {
		return nil, err
	}
	members, err := m.store.ListMembers(ctx, playlistID)
	if err != nil {
		return nil, fmt.Errorf("查询成员失败: %w", translateStoreError(err))
	}

	if m.presence != nil {
		online, err := m.presence.OnlineMembers(ctx, playlistID)
		if err != nil {
			logger.Warn("读取在线状态缓存失败，使用数据库状态",
				logger.PlaylistID(playlistID),
				logger.ErrorField(err))
			return members, nil
		}
		for _, member := range members {
			member.Online = online[member.UserID]
		}
	}
	return members, nil
}

// SetPresence 连接加入/离开房间时更新成员在线状态，非成员忽略
func (m *MembershipManager) SetPresence(ctx context.Context, playlistID, userID string, online bool) error {
	if err := m.store.SetPresence(ctx, playlistID, userID, online, m.now()); err != nil {
		return fmt.Errorf("更新在线状态失败: %w", translateStoreError(err))
	}
	return nil
}

// Authorize 供实时通道在 join-room 时鉴权
func (m *MembershipManager) Authorize(ctx context.Context, playlistID, principal string, action access.Action) error {
	_, err := m.authorizeRead(ctx, playlistID, principal, action)
	return err
}
