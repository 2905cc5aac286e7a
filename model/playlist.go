package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Artist 歌手（名称与目录ID成对出现）
type Artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ArtistList 有序歌手列表，GORM/pgx 中以 JSON 列存储
type ArtistList []Artist

// Scan 实现 sql.Scanner 接口
// 内容损坏时直接返回错误，不做静默降级
func (a *ArtistList) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("unsupported artist list type %T", value)
	}
	if len(bytes) == 0 || string(bytes) == "null" {
		*a = nil
		return nil
	}
	var list []Artist
	if err := json.Unmarshal(bytes, &list); err != nil {
		return fmt.Errorf("malformed artist list: %w", err)
	}
	*a = list
	return nil
}

// Value 实现 driver.Valuer 接口
func (a ArtistList) Value() (driver.Value, error) {
	if a == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Artist(a))
}

// Names 按顺序返回歌手名
func (a ArtistList) Names() []string {
	names := make([]string, 0, len(a))
	for _, artist := range a {
		names = append(names, artist.Name)
	}
	return names
}

// Playlist 协作歌单
type Playlist struct {
	ID         string    `json:"id" gorm:"primaryKey;size:36"`
	Title      string    `json:"title" gorm:"size:100;not null"`
	OwnerID    string    `json:"ownerId" gorm:"size:64;index;not null"`
	InviteCode string    `json:"inviteCode" gorm:"size:8;uniqueIndex;not null"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt" gorm:"index"`

	Tracks      []TrackEntry `json:"-" gorm:"foreignKey:PlaylistID;constraint:OnDelete:CASCADE"`
	Memberships []Membership `json:"-" gorm:"foreignKey:PlaylistID;constraint:OnDelete:CASCADE"`
}

// TableName 指定表名
func (Playlist) TableName() string {
	return "playlists"
}

// IsOwner 判断是否为歌单所有者
func (p *Playlist) IsOwner(userID string) bool {
	return p != nil && userID != "" && p.OwnerID == userID
}

// Membership 非所有者成员关系
// 所有者永远不会有成员记录
type Membership struct {
	PlaylistID string    `json:"playlistId" gorm:"primaryKey;size:36"`
	UserID     string    `json:"userId" gorm:"primaryKey;size:64;index"`
	JoinedAt   time.Time `json:"joinedAt"`
	Online     bool      `json:"isOnline" gorm:"column:is_online;default:false"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// TableName 指定表名
func (Membership) TableName() string {
	return "playlist_members"
}

// TrackEntry 歌单中的一首歌（目录元数据已冗余存储）
// 同一歌单内 position 从 1 开始连续且唯一
type TrackEntry struct {
	ID             string     `json:"id" gorm:"primaryKey;size:36"`
	PlaylistID     string     `json:"playlistId" gorm:"size:36;not null;uniqueIndex:uq_playlist_position,priority:1"`
	CatalogTrackID string     `json:"catalogTrackId" gorm:"size:64;not null"`
	Title          string     `json:"title" gorm:"size:300;not null"`
	Artists        ArtistList `json:"artists" gorm:"type:json"`
	AlbumName      string     `json:"albumName" gorm:"size:300"`
	AlbumID        string     `json:"albumId" gorm:"size:64"`
	CoverURL       string     `json:"coverUrl,omitempty" gorm:"size:767"`
	DurationMs     int        `json:"durationMs"`
	PreviewURL     string     `json:"previewUrl,omitempty" gorm:"size:767"`
	Position       int        `json:"position" gorm:"not null;uniqueIndex:uq_playlist_position,priority:2"`
	AddedBy        string     `json:"addedBy" gorm:"size:64;not null"`
	AddedAt        time.Time  `json:"addedAt" gorm:"index"`
}

// TableName 指定表名
func (TrackEntry) TableName() string {
	return "playlist_tracks"
}

// TrackData 调用方预先解析好的目录歌曲信息
// 追加歌曲时不再访问目录服务
type TrackData struct {
	CatalogTrackID string     `json:"catalogTrackId"`
	Title          string     `json:"title"`
	Artists        ArtistList `json:"artists"`
	AlbumName      string     `json:"albumName"`
	AlbumID        string     `json:"albumId"`
	CoverURL       string     `json:"coverUrl,omitempty"`
	DurationMs     int        `json:"durationMs"`
	PreviewURL     string     `json:"previewUrl,omitempty"`
}

// Entry 根据目录信息构造一条未落库的歌曲记录
func (d TrackData) Entry(playlistID, addedBy string, position int, addedAt time.Time) TrackEntry {
	return TrackEntry{
		PlaylistID:     playlistID,
		CatalogTrackID: d.CatalogTrackID,
		Title:          d.Title,
		Artists:        d.Artists,
		AlbumName:      d.AlbumName,
		AlbumID:        d.AlbumID,
		CoverURL:       d.CoverURL,
		DurationMs:     d.DurationMs,
		PreviewURL:     d.PreviewURL,
		Position:       position,
		AddedBy:        addedBy,
		AddedAt:        addedAt,
	}
}

// ========== 非持久化结构（API 响应用） ==========

// PlaylistSummary 歌单统计
type PlaylistSummary struct {
	TrackCount      int   `json:"totalTracks"`
	TotalDurationMs int64 `json:"totalDuration"`
}

// PlaylistInfo 歌单详情
type PlaylistInfo struct {
	Playlist
	PlaylistSummary
	IsOwner bool `json:"isOwner"`
}

// JoinedPlaylist 用户参与的歌单
type JoinedPlaylist struct {
	Playlist
	JoinedAt time.Time `json:"joinedAt"`
}

// TrackActivity 最近添加歌曲动态
type TrackActivity struct {
	EntryID       string    `json:"id"`
	PlaylistID    string    `json:"playlistId"`
	PlaylistTitle string    `json:"playlistTitle"`
	Title         string    `json:"title"`
	Artists       []string  `json:"artists"`
	AddedBy       string    `json:"addedBy"`
	AddedAt       time.Time `json:"addedAt"`
}

// ========== 常量定义 ==========

const (
	// 标题长度上限（字符数）
	PlaylistTitleMaxLength = 100

	// 最近动态默认/最大条数
	ActivityDefaultLimit = 10
	ActivityMaxLimit     = 50
)
