package realtime

import (
	"encoding/json"
	"time"
)

// MessageType 控制消息类型
// 歌单事件直接以 model.Event 原样下发，type 字段为事件类型
type MessageType string

const (
	MsgTypeJoinRoom  MessageType = "join-room"  // 订阅歌单房间
	MsgTypeLeaveRoom MessageType = "leave-room" // 取消订阅
	MsgTypePing      MessageType = "ping"       // 心跳
	MsgTypePong      MessageType = "pong"       // 心跳响应
	MsgTypeJoined    MessageType = "joined"     // 订阅成功
	MsgTypeLeft      MessageType = "left"       // 已取消订阅或被移出
	MsgTypeError     MessageType = "error"      // 错误消息
)

// WSMessage WebSocket 控制消息
type WSMessage struct {
	Type       MessageType `json:"type"`
	PlaylistID string      `json:"playlistId,omitempty"`
	Error      string      `json:"error,omitempty"`
	Timestamp  int64       `json:"timestamp"`
}

func encodeMessage(typ MessageType, playlistID, errMsg string) []byte {
	data, _ := json.Marshal(&WSMessage{
		Type:       typ,
		PlaylistID: playlistID,
		Error:      errMsg,
		Timestamp:  time.Now().UnixMilli(),
	})
	return data
}
