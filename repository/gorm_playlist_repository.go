package repository

import (
	"context"
	"errors"
	"time"

	"cotrack/model"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MySQL 错误码
const (
	mysqlErrDuplicateEntry = 1062
	mysqlErrLockWaitTimout = 1205
	mysqlErrDeadlock       = 1213
)

// gormPlaylistRepository GORM (MySQL) 实现
type gormPlaylistRepository struct {
	db *gorm.DB
}

// NewGormPlaylistRepository 创建 GORM 歌单仓库
func NewGormPlaylistRepository(db *gorm.DB) PlaylistStore {
	return &gormPlaylistRepository{db: db}
}

// translateGormError 把驱动错误映射为仓库错误
func translateGormError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errors.Join(ErrDuplicate, err)
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlErrDuplicateEntry:
			return errors.Join(ErrDuplicate, err)
		case mysqlErrDeadlock, mysqlErrLockWaitTimout:
			return errors.Join(ErrConflict, err)
		}
	}
	return err
}

// ========== 歌单 CRUD ==========

// CreatePlaylist 创建歌单
func (r *gormPlaylistRepository) CreatePlaylist(ctx context.Context, playlist *model.Playlist) error {
	return translateGormError(r.db.WithContext(ctx).Omit(clause.Associations).Create(playlist).Error)
}

// GetPlaylist 根据ID获取歌单
func (r *gormPlaylistRepository) GetPlaylist(ctx context.Context, id string) (*model.Playlist, error) {
	var playlist model.Playlist
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&playlist).Error
	if err != nil {
		return nil, translateGormError(err)
	}
	return &playlist, nil
}

// GetPlaylistByInviteCode 根据邀请码获取歌单（邀请码已规范化为大写）
func (r *gormPlaylistRepository) GetPlaylistByInviteCode(ctx context.Context, code string) (*model.Playlist, error) {
	var playlist model.Playlist
	err := r.db.WithContext(ctx).Where("invite_code = ?", code).First(&playlist).Error
	if err != nil {
		return nil, translateGormError(err)
	}
	return &playlist, nil
}

// ListOwnedPlaylists 用户拥有的歌单，按更新时间倒序
func (r *gormPlaylistRepository) ListOwnedPlaylists(ctx context.Context, ownerID string) ([]*model.Playlist, error) {
	var playlists []*model.Playlist
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("updated_at DESC").
		Find(&playlists).Error
	return playlists, translateGormError(err)
}

// ListJoinedPlaylists 用户以成员身份参与的歌单，按更新时间倒序
func (r *gormPlaylistRepository) ListJoinedPlaylists(ctx context.Context, userID string) ([]*model.JoinedPlaylist, error) {
	type row struct {
		model.Playlist
		JoinedAt time.Time
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Table("playlists").
		Select("playlists.*, playlist_members.joined_at AS joined_at").
		Joins("JOIN playlist_members ON playlist_members.playlist_id = playlists.id").
		Where("playlist_members.user_id = ? AND playlists.owner_id <> ?", userID, userID).
		Order("playlists.updated_at DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, translateGormError(err)
	}

	result := make([]*model.JoinedPlaylist, 0, len(rows))
	for _, r := range rows {
		result = append(result, &model.JoinedPlaylist{Playlist: r.Playlist, JoinedAt: r.JoinedAt})
	}
	return result, nil
}

// ========== 成员查询 ==========

// GetMembership 获取成员记录
func (r *gormPlaylistRepository) GetMembership(ctx context.Context, playlistID, userID string) (*model.Membership, error) {
	var member model.Membership
	err := r.db.WithContext(ctx).
		Where("playlist_id = ? AND user_id = ?", playlistID, userID).
		First(&member).Error
	if err != nil {
		return nil, translateGormError(err)
	}
	return &member, nil
}

// ListMembers 成员列表，按加入时间正序
func (r *gormPlaylistRepository) ListMembers(ctx context.Context, playlistID string) ([]*model.Membership, error) {
	var members []*model.Membership
	err := r.db.WithContext(ctx).
		Where("playlist_id = ?", playlistID).
		Order("joined_at ASC").
		Find(&members).Error
	return members, translateGormError(err)
}

// SetPresence 更新成员在线状态，非成员不报错
func (r *gormPlaylistRepository) SetPresence(ctx context.Context, playlistID, userID string, online bool, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&model.Membership{}).
		Where("playlist_id = ? AND user_id = ?", playlistID, userID).
		Updates(map[string]interface{}{
			"is_online":    online,
			"last_seen_at": at,
		}).Error
	return translateGormError(err)
}

// ========== 歌曲查询 ==========

// ListTracks 按 position 正序列出歌曲
func (r *gormPlaylistRepository) ListTracks(ctx context.Context, playlistID string) ([]*model.TrackEntry, error) {
	var tracks []*model.TrackEntry
	err := r.db.WithContext(ctx).
		Where("playlist_id = ?", playlistID).
		Order("position ASC").
		Find(&tracks).Error
	return tracks, translateGormError(err)
}

// Summary 歌曲数量与总时长
func (r *gormPlaylistRepository) Summary(ctx context.Context, playlistID string) (model.PlaylistSummary, error) {
	var summary model.PlaylistSummary
	err := r.db.WithContext(ctx).Model(&model.TrackEntry{}).
		Select("COUNT(*) AS track_count, COALESCE(SUM(duration_ms), 0) AS total_duration_ms").
		Where("playlist_id = ?", playlistID).
		Scan(&summary).Error
	return summary, translateGormError(err)
}

// RecentTrackActivity 用户拥有的歌单中最近添加的歌曲
func (r *gormPlaylistRepository) RecentTrackActivity(ctx context.Context, ownerID string, limit int) ([]*model.TrackActivity, error) {
	type row struct {
		model.TrackEntry
		PlaylistTitle string
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Table("playlist_tracks").
		Select("playlist_tracks.*, playlists.title AS playlist_title").
		Joins("JOIN playlists ON playlists.id = playlist_tracks.playlist_id").
		Where("playlists.owner_id = ?", ownerID).
		Order("playlist_tracks.added_at DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, translateGormError(err)
	}

	result := make([]*model.TrackActivity, 0, len(rows))
	for _, r := range rows {
		result = append(result, &model.TrackActivity{
			EntryID:       r.ID,
			PlaylistID:    r.PlaylistID,
			PlaylistTitle: r.PlaylistTitle,
			Title:         r.Title,
			Artists:       r.Artists.Names(),
			AddedBy:       r.AddedBy,
			AddedAt:       r.AddedAt,
		})
	}
	return result, nil
}

// ========== 事务 ==========

// WithPlaylistLock SELECT ... FOR UPDATE 锁住歌单行后执行 fn
func (r *gormPlaylistRepository) WithPlaylistLock(ctx context.Context, playlistID string, fn func(tx PlaylistTx) error) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var playlist model.Playlist
		if err := lockPlaylist(tx, playlistID, &playlist).Error; err != nil {
			return err
		}
		return fn(&gormPlaylistTx{tx: tx, playlist: &playlist})
	})
	return translateGormError(err)
}

func lockPlaylist(tx *gorm.DB, playlistID string, dest *model.Playlist) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", playlistID).
		First(dest)
}

// compactAfter MySQL 逐行检查唯一约束，必须按 position 升序更新
func compactAfter(tx *gorm.DB, playlistID string, removed int) *gorm.DB {
	return tx.Exec(
		"UPDATE playlist_tracks SET position = position - 1 WHERE playlist_id = ? AND position > ? ORDER BY position ASC",
		playlistID, removed,
	)
}

// gormPlaylistTx 事务内操作
type gormPlaylistTx struct {
	tx       *gorm.DB
	playlist *model.Playlist
}

func (t *gormPlaylistTx) Playlist() *model.Playlist {
	return t.playlist
}

func (t *gormPlaylistTx) IsMember(ctx context.Context, userID string) (bool, error) {
	var count int64
	err := t.tx.WithContext(ctx).Model(&model.Membership{}).
		Where("playlist_id = ? AND user_id = ?", t.playlist.ID, userID).
		Count(&count).Error
	return count > 0, translateGormError(err)
}

func (t *gormPlaylistTx) MaxPosition(ctx context.Context) (int, error) {
	var maxPos int
	err := t.tx.WithContext(ctx).Model(&model.TrackEntry{}).
		Select("COALESCE(MAX(position), 0)").
		Where("playlist_id = ?", t.playlist.ID).
		Scan(&maxPos).Error
	return maxPos, translateGormError(err)
}

func (t *gormPlaylistTx) InsertTrack(ctx context.Context, entry *model.TrackEntry) error {
	return translateGormError(t.tx.WithContext(ctx).Create(entry).Error)
}

func (t *gormPlaylistTx) GetTrack(ctx context.Context, entryID string) (*model.TrackEntry, error) {
	var entry model.TrackEntry
	err := t.tx.WithContext(ctx).
		Where("id = ? AND playlist_id = ?", entryID, t.playlist.ID).
		First(&entry).Error
	if err != nil {
		return nil, translateGormError(err)
	}
	return &entry, nil
}

func (t *gormPlaylistTx) DeleteTrack(ctx context.Context, entryID string) error {
	res := t.tx.WithContext(ctx).
		Where("id = ? AND playlist_id = ?", entryID, t.playlist.ID).
		Delete(&model.TrackEntry{})
	if res.Error != nil {
		return translateGormError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CompactAfter 被删位置之后的歌曲逐行前移
func (t *gormPlaylistTx) CompactAfter(ctx context.Context, removed int) error {
	return translateGormError(compactAfter(t.tx.WithContext(ctx), t.playlist.ID, removed).Error)
}

func (t *gormPlaylistTx) UpdateTitle(ctx context.Context, title string, at time.Time) error {
	err := t.tx.WithContext(ctx).Model(&model.Playlist{}).
		Where("id = ?", t.playlist.ID).
		Updates(map[string]interface{}{"title": title, "updated_at": at}).Error
	if err != nil {
		return translateGormError(err)
	}
	t.playlist.Title = title
	t.playlist.UpdatedAt = at
	return nil
}

func (t *gormPlaylistTx) Touch(ctx context.Context, at time.Time) error {
	err := t.tx.WithContext(ctx).Model(&model.Playlist{}).
		Where("id = ?", t.playlist.ID).
		Update("updated_at", at).Error
	if err != nil {
		return translateGormError(err)
	}
	t.playlist.UpdatedAt = at
	return nil
}

func (t *gormPlaylistTx) AddMember(ctx context.Context, member *model.Membership) error {
	return translateGormError(t.tx.WithContext(ctx).Create(member).Error)
}

func (t *gormPlaylistTx) RemoveMember(ctx context.Context, userID string) (bool, error) {
	res := t.tx.WithContext(ctx).
		Where("playlist_id = ? AND user_id = ?", t.playlist.ID, userID).
		Delete(&model.Membership{})
	if res.Error != nil {
		return false, translateGormError(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// DeletePlaylist 显式删除子表后再删歌单，不依赖外键级联是否开启
func (t *gormPlaylistTx) DeletePlaylist(ctx context.Context) error {
	db := t.tx.WithContext(ctx)
	if err := db.Where("playlist_id = ?", t.playlist.ID).Delete(&model.TrackEntry{}).Error; err != nil {
		return translateGormError(err)
	}
	if err := db.Where("playlist_id = ?", t.playlist.ID).Delete(&model.Membership{}).Error; err != nil {
		return translateGormError(err)
	}
	return translateGormError(db.Where("id = ?", t.playlist.ID).Delete(&model.Playlist{}).Error)
}
