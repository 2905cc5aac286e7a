package repository

import (
	"context"
	"errors"
	"time"

	"cotrack/model"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate 违反唯一约束（邀请码、成员主键、歌单内位置）
	ErrDuplicate = errors.New("duplicate record")
	// ErrConflict 事务串行化失败（死锁、锁等待超时、serialization failure），可重试
	ErrConflict = errors.New("transaction conflict")
)

// PlaylistStore 歌单数据访问接口
// 歌曲与成员的所有写操作都必须经过 WithPlaylistLock
type PlaylistStore interface {
	// 歌单 CRUD
	CreatePlaylist(ctx context.Context, playlist *model.Playlist) error
	GetPlaylist(ctx context.Context, id string) (*model.Playlist, error)
	GetPlaylistByInviteCode(ctx context.Context, code string) (*model.Playlist, error)
	ListOwnedPlaylists(ctx context.Context, ownerID string) ([]*model.Playlist, error)
	ListJoinedPlaylists(ctx context.Context, userID string) ([]*model.JoinedPlaylist, error)

	// 成员查询
	GetMembership(ctx context.Context, playlistID, userID string) (*model.Membership, error)
	ListMembers(ctx context.Context, playlistID string) ([]*model.Membership, error)
	SetPresence(ctx context.Context, playlistID, userID string, online bool, at time.Time) error

	// 歌曲查询
	ListTracks(ctx context.Context, playlistID string) ([]*model.TrackEntry, error)
	Summary(ctx context.Context, playlistID string) (model.PlaylistSummary, error)
	RecentTrackActivity(ctx context.Context, ownerID string, limit int) ([]*model.TrackActivity, error)

	// WithPlaylistLock 在锁住歌单行的单个事务中执行 fn
	// fn 返回错误时整个事务回滚；歌单不存在返回 ErrNotFound
	WithPlaylistLock(ctx context.Context, playlistID string, fn func(tx PlaylistTx) error) error
}

// PlaylistTx 单个歌单范围内的事务视图
type PlaylistTx interface {
	// Playlist 返回已加锁的歌单行
	Playlist() *model.Playlist

	IsMember(ctx context.Context, userID string) (bool, error)

	MaxPosition(ctx context.Context) (int, error)
	InsertTrack(ctx context.Context, entry *model.TrackEntry) error
	GetTrack(ctx context.Context, entryID string) (*model.TrackEntry, error)
	DeleteTrack(ctx context.Context, entryID string) error
	// CompactAfter 把 position 大于 removed 的歌曲整体前移一位
	CompactAfter(ctx context.Context, removed int) error

	UpdateTitle(ctx context.Context, title string, at time.Time) error
	Touch(ctx context.Context, at time.Time) error

	AddMember(ctx context.Context, member *model.Membership) error
	// RemoveMember 返回是否真的删除了记录
	RemoveMember(ctx context.Context, userID string) (bool, error)

	// DeletePlaylist 级联删除歌曲与成员
	DeletePlaylist(ctx context.Context) error
}
