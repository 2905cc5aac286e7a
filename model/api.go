package model

// CreatePlaylistRequest 创建歌单请求
type CreatePlaylistRequest struct {
	Title string `json:"title"`
}

// RenamePlaylistRequest 修改标题请求
type RenamePlaylistRequest struct {
	Title string `json:"title"`
}

// JoinPlaylistRequest 通过邀请码加入
type JoinPlaylistRequest struct {
	InviteCode string `json:"inviteCode"`
}

// JoinPlaylistResponse 加入成功
type JoinPlaylistResponse struct {
	Playlist   *Playlist   `json:"playlist"`
	Membership *Membership `json:"membership"`
}

// ErrorResponse 错误响应，code 见 playlist.ErrorCode
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
