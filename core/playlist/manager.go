package playlist

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cotrack/core/access"
	"cotrack/core/invite"
	"cotrack/logger"
	"cotrack/model"
	"cotrack/repository"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
)

// PlaylistManager 歌单生命周期：创建、详情、重命名、删除、列表
type PlaylistManager struct {
	service
	issuer         *invite.Issuer
	titleMaxLength int
}

// NewPlaylistManager 创建歌单管理器
func NewPlaylistManager(store repository.PlaylistStore, broadcaster Broadcaster, issuer *invite.Issuer, titleMaxLength int) *PlaylistManager {
	if issuer == nil {
		issuer = invite.NewIssuer(invite.DefaultMaxAttempts)
	}
	if titleMaxLength <= 0 {
		titleMaxLength = model.PlaylistTitleMaxLength
	}
	return &PlaylistManager{
		service:        newService(store, broadcaster),
		issuer:         issuer,
		titleMaxLength: titleMaxLength,
	}
}

// normalizeTitle 去首尾空白后校验长度
func (m *PlaylistManager) normalizeTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	err := validation.Validate(title,
		validation.Required.Error("title is required"),
		validation.RuneLength(1, m.titleMaxLength).Error(fmt.Sprintf("title must be at most %d characters", m.titleMaxLength)),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return title, nil
}

// Create 创建歌单，邀请码冲突时自动换码
func (m *PlaylistManager) Create(ctx context.Context, ownerID, title string) (*model.Playlist, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}
	title, err := m.normalizeTitle(title)
	if err != nil {
		return nil, err
	}

	now := m.now()
	playlist := &model.Playlist{
		ID:        uuid.NewString(),
		Title:     title,
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = m.issuer.IssueUnique(ctx, func(code string) error {
		playlist.InviteCode = code
		err := m.store.CreatePlaylist(ctx, playlist)
		if errors.Is(err, repository.ErrDuplicate) {
			return errors.Join(invite.ErrCodeTaken, err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("创建歌单失败: %w", err)
	}

	logger.Info("歌单创建成功",
		logger.PlaylistID(playlist.ID),
		logger.UserID(ownerID),
		logger.String("title", title))
	return playlist, nil
}

// Get 歌单详情（含统计）
func (m *PlaylistManager) Get(ctx context.Context, playlistID, principal string) (*model.PlaylistInfo, error) {
	p, err := m.authorizeRead(ctx, playlistID, principal, access.ActionView)
	if err != nil {
		return nil, err
	}
	summary, err := m.store.Summary(ctx, playlistID)
	if err != nil {
		return nil, fmt.Errorf("统计歌曲失败: %w", translateStoreError(err))
	}
	return &model.PlaylistInfo{
		Playlist:        *p,
		PlaylistSummary: summary,
		IsOwner:         p.IsOwner(principal),
	}, nil
}

// Rename 修改标题，仅所有者
func (m *PlaylistManager) Rename(ctx context.Context, playlistID, principal, title string) (*model.Playlist, error) {
	title, err := m.normalizeTitle(title)
	if err != nil {
		return nil, err
	}

	var updated model.Playlist
	err = m.store.WithPlaylistLock(ctx, playlistID, func(tx repository.PlaylistTx) error {
		if err := authorizeTx(ctx, tx, principal, access.ActionRename); err != nil {
			return err
		}
		if err := tx.UpdateTitle(ctx, title, m.now()); err != nil {
			return err
		}
		updated = *tx.Playlist()
		return nil
	})
	if err != nil {
		return nil, translateStoreError(err)
	}

	logger.Info("歌单已重命名",
		logger.PlaylistID(playlistID),
		logger.String("title", title))

	m.publish(playlistID, model.EventTitleChanged, principal, model.TitleChangedPayload{Title: title}, updated.UpdatedAt)
	return &updated, nil
}

// Delete 删除歌单，级联删除歌曲与成员
func (m *PlaylistManager) Delete(ctx context.Context, playlistID, principal string) error {
	err := m.store.WithPlaylistLock(ctx, playlistID, func(tx repository.PlaylistTx) error {
		if err := authorizeTx(ctx, tx, principal, access.ActionDeletePlaylist); err != nil {
			return err
		}
		return tx.DeletePlaylist(ctx)
	})
	if err != nil {
		return translateStoreError(err)
	}

	logger.Info("歌单已删除",
		logger.PlaylistID(playlistID),
		logger.UserID(principal))

	m.publish(playlistID, model.EventPlaylistDeleted, principal, nil, m.now())
	return nil
}

// ListOwned 用户拥有的歌单
func (m *PlaylistManager) ListOwned(ctx context.Context, userID string) ([]*model.Playlist, error) {
	playlists, err := m.store.ListOwnedPlaylists(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("查询歌单失败: %w", translateStoreError(err))
	}
	return playlists, nil
}

// ListJoined 用户参与的歌单
func (m *PlaylistManager) ListJoined(ctx context.Context, userID string) ([]*model.JoinedPlaylist, error) {
	playlists, err := m.store.ListJoinedPlaylists(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("查询歌单失败: %w", translateStoreError(err))
	}
	return playlists, nil
}

// RecentActivity 用户拥有的歌单中最近添加的歌曲
func (m *PlaylistManager) RecentActivity(ctx context.Context, userID string, limit int) ([]*model.TrackActivity, error) {
	switch {
	case limit <= 0:
		limit = model.ActivityDefaultLimit
	case limit > model.ActivityMaxLimit:
		limit = model.ActivityMaxLimit
	}
	activities, err := m.store.RecentTrackActivity(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("查询最近动态失败: %w", translateStoreError(err))
	}
	return activities, nil
}
