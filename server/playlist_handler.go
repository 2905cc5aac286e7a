package server

import (
	"context"
	"net/http"
	"strconv"

	"cotrack/core/playlist"
	"cotrack/model"

	"github.com/gorilla/mux"
)

// PlaylistHandler 歌单、歌曲与成员相关接口
type PlaylistHandler struct {
	playlists *playlist.PlaylistManager
	members   *playlist.MembershipManager
	ledger    *playlist.Ledger
}

// NewPlaylistHandler 创建处理器
func NewPlaylistHandler(playlists *playlist.PlaylistManager, members *playlist.MembershipManager, ledger *playlist.Ledger) *PlaylistHandler {
	return &PlaylistHandler{playlists: playlists, members: members, ledger: ledger}
}

// principal 由 authMiddleware 保证存在
func principal(r *http.Request) string {
	userID, _ := PrincipalFromContext(r.Context())
	return userID
}

// writeContext 写操作不随客户端断开而中断，已提交的修改必须广播
func writeContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

// CreatePlaylistHandler POST /api/playlists
func (h *PlaylistHandler) CreatePlaylistHandler(w http.ResponseWriter, r *http.Request) {
	var req model.CreatePlaylistRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	p, err := h.playlists.Create(writeContext(r), principal(r), req.Title)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// ListPlaylistsHandler GET /api/playlists?scope=owned|joined
func (h *PlaylistHandler) ListPlaylistsHandler(w http.ResponseWriter, r *http.Request) {
	switch scope := r.URL.Query().Get("scope"); scope {
	case "", "owned":
		list, err := h.playlists.ListOwned(r.Context(), principal(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if list == nil {
			list = []*model.Playlist{}
		}
		writeJSON(w, http.StatusOK, list)
	case "joined":
		list, err := h.playlists.ListJoined(r.Context(), principal(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if list == nil {
			list = []*model.JoinedPlaylist{}
		}
		writeJSON(w, http.StatusOK, list)
	default:
		writeBadRequest(w, "scope must be owned or joined")
	}
}

// GetPlaylistHandler GET /api/playlists/{id}
func (h *PlaylistHandler) GetPlaylistHandler(w http.ResponseWriter, r *http.Request) {
	info, err := h.playlists.Get(r.Context(), mux.Vars(r)["id"], principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// RenamePlaylistHandler PATCH /api/playlists/{id}
func (h *PlaylistHandler) RenamePlaylistHandler(w http.ResponseWriter, r *http.Request) {
	var req model.RenamePlaylistRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	p, err := h.playlists.Rename(writeContext(r), mux.Vars(r)["id"], principal(r), req.Title)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// DeletePlaylistHandler DELETE /api/playlists/{id}
func (h *PlaylistHandler) DeletePlaylistHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.playlists.Delete(writeContext(r), mux.Vars(r)["id"], principal(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListTracksHandler GET /api/playlists/{id}/tracks
func (h *PlaylistHandler) ListTracksHandler(w http.ResponseWriter, r *http.Request) {
	tracks, err := h.ledger.List(r.Context(), mux.Vars(r)["id"], principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if tracks == nil {
		tracks = []*model.TrackEntry{}
	}
	writeJSON(w, http.StatusOK, tracks)
}

// AppendTrackHandler POST /api/playlists/{id}/tracks
func (h *PlaylistHandler) AppendTrackHandler(w http.ResponseWriter, r *http.Request) {
	var data model.TrackData
	if err := decodeJSON(w, r, &data); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	entry, err := h.ledger.Append(writeContext(r), mux.Vars(r)["id"], principal(r), data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// RemoveTrackHandler DELETE /api/playlists/{id}/tracks/{entryId}
func (h *PlaylistHandler) RemoveTrackHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.ledger.Remove(writeContext(r), vars["id"], principal(r), vars["entryId"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// JoinPlaylistHandler POST /api/playlists/join
func (h *PlaylistHandler) JoinPlaylistHandler(w http.ResponseWriter, r *http.Request) {
	var req model.JoinPlaylistRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	p, membership, err := h.members.Join(writeContext(r), principal(r), req.InviteCode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.JoinPlaylistResponse{Playlist: p, Membership: membership})
}

// LeavePlaylistHandler POST /api/playlists/{id}/leave
func (h *PlaylistHandler) LeavePlaylistHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.members.Leave(writeContext(r), mux.Vars(r)["id"], principal(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListMembersHandler GET /api/playlists/{id}/members
func (h *PlaylistHandler) ListMembersHandler(w http.ResponseWriter, r *http.Request) {
	members, err := h.members.ListMembers(r.Context(), mux.Vars(r)["id"], principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if members == nil {
		members = []*model.Membership{}
	}
	writeJSON(w, http.StatusOK, members)
}

// RemoveMemberHandler DELETE /api/playlists/{id}/members/{userId}
func (h *PlaylistHandler) RemoveMemberHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.members.RemoveMember(writeContext(r), vars["id"], principal(r), vars["userId"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecentActivityHandler GET /api/activities?limit=
func (h *PlaylistHandler) RecentActivityHandler(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeBadRequest(w, "limit must be a number")
			return
		}
		limit = n
	}
	activities, err := h.playlists.RecentActivity(r.Context(), principal(r), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if activities == nil {
		activities = []*model.TrackActivity{}
	}
	writeJSON(w, http.StatusOK, activities)
}
