package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cotrack/core/playlist"
	"cotrack/model"
)

// Client cotrack HTTP API 客户端
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient 创建新的API客户端，token 为身份服务签发的 JWT
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: time.Second * 10,
		},
	}
}

// SetTimeout 设置请求超时时间
func (c *Client) SetTimeout(timeout time.Duration) {
	c.httpClient.Timeout = timeout
}

// SetHTTPClient 替换底层 http.Client
func (c *Client) SetHTTPClient(httpClient *http.Client) {
	c.httpClient = httpClient
}

// APIError 服务端返回的错误
// errors.Is 可以直接和 playlist 包中的业务错误比较
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API返回错误 %d (%s): %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return playlist.ErrorForCode(e.Code)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("序列化请求失败: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode, Code: playlist.CodeInternal}
		var payload model.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil {
			apiErr.Code = payload.Code
			apiErr.Message = payload.Error
		} else {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}

func playlistPath(playlistID string, parts ...string) string {
	segments := append([]string{"/api/playlists", url.PathEscape(playlistID)}, parts...)
	return strings.Join(segments, "/")
}

// CreatePlaylist 创建歌单
func (c *Client) CreatePlaylist(ctx context.Context, title string) (*model.Playlist, error) {
	var p model.Playlist
	if err := c.do(ctx, http.MethodPost, "/api/playlists", model.CreatePlaylistRequest{Title: title}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPlaylist 歌单详情
func (c *Client) GetPlaylist(ctx context.Context, playlistID string) (*model.PlaylistInfo, error) {
	var info model.PlaylistInfo
	if err := c.do(ctx, http.MethodGet, playlistPath(playlistID), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// RenamePlaylist 修改标题
func (c *Client) RenamePlaylist(ctx context.Context, playlistID, title string) (*model.Playlist, error) {
	var p model.Playlist
	if err := c.do(ctx, http.MethodPatch, playlistPath(playlistID), model.RenamePlaylistRequest{Title: title}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DeletePlaylist 删除歌单
func (c *Client) DeletePlaylist(ctx context.Context, playlistID string) error {
	return c.do(ctx, http.MethodDelete, playlistPath(playlistID), nil, nil)
}

// ListOwned 我创建的歌单
func (c *Client) ListOwned(ctx context.Context) ([]*model.Playlist, error) {
	var list []*model.Playlist
	if err := c.do(ctx, http.MethodGet, "/api/playlists?scope=owned", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// ListJoined 我加入的歌单
func (c *Client) ListJoined(ctx context.Context) ([]*model.JoinedPlaylist, error) {
	var list []*model.JoinedPlaylist
	if err := c.do(ctx, http.MethodGet, "/api/playlists?scope=joined", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// ListTracks 按位置排序的歌曲
func (c *Client) ListTracks(ctx context.Context, playlistID string) ([]*model.TrackEntry, error) {
	var tracks []*model.TrackEntry
	if err := c.do(ctx, http.MethodGet, playlistPath(playlistID, "tracks"), nil, &tracks); err != nil {
		return nil, err
	}
	return tracks, nil
}

// AppendTrack 追加歌曲
func (c *Client) AppendTrack(ctx context.Context, playlistID string, data model.TrackData) (*model.TrackEntry, error) {
	var entry model.TrackEntry
	if err := c.do(ctx, http.MethodPost, playlistPath(playlistID, "tracks"), data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// RemoveTrack 删除歌曲
func (c *Client) RemoveTrack(ctx context.Context, playlistID, entryID string) error {
	return c.do(ctx, http.MethodDelete, playlistPath(playlistID, "tracks", url.PathEscape(entryID)), nil, nil)
}

// Join 通过邀请码加入
func (c *Client) Join(ctx context.Context, inviteCode string) (*model.JoinPlaylistResponse, error) {
	var resp model.JoinPlaylistResponse
	if err := c.do(ctx, http.MethodPost, "/api/playlists/join", model.JoinPlaylistRequest{InviteCode: inviteCode}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Leave 退出歌单
func (c *Client) Leave(ctx context.Context, playlistID string) error {
	return c.do(ctx, http.MethodPost, playlistPath(playlistID, "leave"), nil, nil)
}

// ListMembers 成员列表
func (c *Client) ListMembers(ctx context.Context, playlistID string) ([]*model.Membership, error) {
	var members []*model.Membership
	if err := c.do(ctx, http.MethodGet, playlistPath(playlistID, "members"), nil, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// RemoveMember 所有者移除成员
func (c *Client) RemoveMember(ctx context.Context, playlistID, userID string) error {
	return c.do(ctx, http.MethodDelete, playlistPath(playlistID, "members", url.PathEscape(userID)), nil, nil)
}

// RecentActivity 我创建的歌单中最近添加的歌曲
func (c *Client) RecentActivity(ctx context.Context, limit int) ([]*model.TrackActivity, error) {
	path := "/api/activities"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var list []*model.TrackActivity
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}
