package model

import (
	"encoding/json"
	"time"
)

// EventType 歌单变更事件类型
type EventType string

const (
	EventTrackAdded      EventType = "track-added"
	EventTrackRemoved    EventType = "track-removed"
	EventTitleChanged    EventType = "title-changed"
	EventMemberJoined    EventType = "member-joined"
	EventMemberLeft      EventType = "member-left"
	EventPlaylistDeleted EventType = "playlist-deleted"
)

// Event 推送给歌单房间的变更通知
type Event struct {
	PlaylistID string          `json:"playlistId"`
	Type       EventType       `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ActorID    string          `json:"actorId"`
	Timestamp  int64           `json:"timestamp"` // 毫秒
}

// NewEvent 构造事件，payload 为 nil 时不序列化
func NewEvent(playlistID string, typ EventType, actorID string, payload interface{}, at time.Time) (Event, error) {
	evt := Event{
		PlaylistID: playlistID,
		Type:       typ,
		ActorID:    actorID,
		Timestamp:  at.UnixMilli(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Event{}, err
		}
		evt.Payload = data
	}
	return evt, nil
}

// TrackAddedPayload track-added 事件数据
type TrackAddedPayload struct {
	Track TrackEntry `json:"track"`
}

// TrackRemovedPayload track-removed 事件数据
type TrackRemovedPayload struct {
	EntryID  string `json:"entryId"`
	Position int    `json:"position"`
}

// TitleChangedPayload title-changed 事件数据
type TitleChangedPayload struct {
	Title string `json:"title"`
}

// MemberJoinedPayload member-joined 事件数据
type MemberJoinedPayload struct {
	Member Membership `json:"member"`
}

// MemberLeftPayload member-left 事件数据
// RemovedBy 非空表示被所有者移除
type MemberLeftPayload struct {
	UserID    string `json:"userId"`
	RemovedBy string `json:"removedBy,omitempty"`
}
