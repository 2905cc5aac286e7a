package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"cotrack/model"
)

// MemoryPlaylistRepository 进程内实现，用于单机开发与测试
// 每个歌单一把互斥锁，事务在副本上修改，fn 成功后整体写回
type MemoryPlaylistRepository struct {
	mu        sync.RWMutex
	playlists map[string]*model.Playlist
	tracks    map[string][]*model.TrackEntry
	members   map[string]map[string]*model.Membership

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	conflictsMu sync.Mutex
	conflicts   int
}

// NewMemoryPlaylistRepository 创建内存仓库
func NewMemoryPlaylistRepository() *MemoryPlaylistRepository {
	return &MemoryPlaylistRepository{
		playlists: make(map[string]*model.Playlist),
		tracks:    make(map[string][]*model.TrackEntry),
		members:   make(map[string]map[string]*model.Membership),
		locks:     make(map[string]*sync.Mutex),
	}
}

// InjectConflicts 让接下来 n 次事务提交返回 ErrConflict
func (r *MemoryPlaylistRepository) InjectConflicts(n int) {
	r.conflictsMu.Lock()
	r.conflicts = n
	r.conflictsMu.Unlock()
}

func (r *MemoryPlaylistRepository) takeConflict() bool {
	r.conflictsMu.Lock()
	defer r.conflictsMu.Unlock()
	if r.conflicts > 0 {
		r.conflicts--
		return true
	}
	return false
}

func (r *MemoryPlaylistRepository) playlistLock(id string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	lock, ok := r.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[id] = lock
	}
	return lock
}

func copyPlaylist(p *model.Playlist) *model.Playlist {
	cp := *p
	cp.Tracks = nil
	cp.Memberships = nil
	return &cp
}

func copyTrack(t *model.TrackEntry) *model.TrackEntry {
	cp := *t
	cp.Artists = append(model.ArtistList(nil), t.Artists...)
	return &cp
}

func copyMember(m *model.Membership) *model.Membership {
	cp := *m
	return &cp
}

// ========== 歌单 CRUD ==========

func (r *MemoryPlaylistRepository) CreatePlaylist(ctx context.Context, playlist *model.Playlist) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.playlists[playlist.ID]; ok {
		return ErrDuplicate
	}
	for _, p := range r.playlists {
		if p.InviteCode == playlist.InviteCode {
			return ErrDuplicate
		}
	}
	r.playlists[playlist.ID] = copyPlaylist(playlist)
	return nil
}

func (r *MemoryPlaylistRepository) GetPlaylist(ctx context.Context, id string) (*model.Playlist, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.playlists[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyPlaylist(p), nil
}

func (r *MemoryPlaylistRepository) GetPlaylistByInviteCode(ctx context.Context, code string) (*model.Playlist, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.playlists {
		if p.InviteCode == code {
			return copyPlaylist(p), nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryPlaylistRepository) ListOwnedPlaylists(ctx context.Context, ownerID string) ([]*model.Playlist, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*model.Playlist
	for _, p := range r.playlists {
		if p.OwnerID == ownerID {
			result = append(result, copyPlaylist(p))
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result, nil
}

func (r *MemoryPlaylistRepository) ListJoinedPlaylists(ctx context.Context, userID string) ([]*model.JoinedPlaylist, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*model.JoinedPlaylist
	for id, members := range r.members {
		m, ok := members[userID]
		if !ok {
			continue
		}
		p := r.playlists[id]
		if p == nil || p.OwnerID == userID {
			continue
		}
		result = append(result, &model.JoinedPlaylist{Playlist: *copyPlaylist(p), JoinedAt: m.JoinedAt})
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result, nil
}

// ========== 成员查询 ==========

func (r *MemoryPlaylistRepository) GetMembership(ctx context.Context, playlistID, userID string) (*model.Membership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[playlistID][userID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyMember(m), nil
}

func (r *MemoryPlaylistRepository) ListMembers(ctx context.Context, playlistID string) ([]*model.Membership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*model.Membership, 0, len(r.members[playlistID]))
	for _, m := range r.members[playlistID] {
		result = append(result, copyMember(m))
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].JoinedAt.Equal(result[j].JoinedAt) {
			return result[i].UserID < result[j].UserID
		}
		return result[i].JoinedAt.Before(result[j].JoinedAt)
	})
	return result, nil
}

func (r *MemoryPlaylistRepository) SetPresence(ctx context.Context, playlistID, userID string, online bool, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.members[playlistID][userID]; ok {
		m.Online = online
		m.LastSeenAt = at
	}
	return nil
}

// ========== 歌曲查询 ==========

func (r *MemoryPlaylistRepository) ListTracks(ctx context.Context, playlistID string) ([]*model.TrackEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*model.TrackEntry, 0, len(r.tracks[playlistID]))
	for _, t := range r.tracks[playlistID] {
		result = append(result, copyTrack(t))
	}
	return result, nil
}

func (r *MemoryPlaylistRepository) Summary(ctx context.Context, playlistID string) (model.PlaylistSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var summary model.PlaylistSummary
	for _, t := range r.tracks[playlistID] {
		summary.TrackCount++
		summary.TotalDurationMs += int64(t.DurationMs)
	}
	return summary, nil
}

func (r *MemoryPlaylistRepository) RecentTrackActivity(ctx context.Context, ownerID string, limit int) ([]*model.TrackActivity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*model.TrackActivity
	for id, p := range r.playlists {
		if p.OwnerID != ownerID {
			continue
		}
		for _, t := range r.tracks[id] {
			result = append(result, &model.TrackActivity{
				EntryID:       t.ID,
				PlaylistID:    id,
				PlaylistTitle: p.Title,
				Title:         t.Title,
				Artists:       t.Artists.Names(),
				AddedBy:       t.AddedBy,
				AddedAt:       t.AddedAt,
			})
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].AddedAt.After(result[j].AddedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ========== 事务 ==========

// WithPlaylistLock 持有歌单锁期间在副本上执行 fn，成功后写回
func (r *MemoryPlaylistRepository) WithPlaylistLock(ctx context.Context, playlistID string, fn func(tx PlaylistTx) error) error {
	lock := r.playlistLock(playlistID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.RLock()
	p, ok := r.playlists[playlistID]
	if !ok {
		r.mu.RUnlock()
		return ErrNotFound
	}
	tx := &memoryPlaylistTx{
		playlist: copyPlaylist(p),
		members:  make(map[string]*model.Membership, len(r.members[playlistID])),
	}
	for _, t := range r.tracks[playlistID] {
		tx.tracks = append(tx.tracks, copyTrack(t))
	}
	for id, m := range r.members[playlistID] {
		tx.members[id] = copyMember(m)
	}
	r.mu.RUnlock()

	if err := fn(tx); err != nil {
		return err
	}
	if r.takeConflict() {
		return ErrConflict
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if tx.deleted {
		delete(r.playlists, playlistID)
		delete(r.tracks, playlistID)
		delete(r.members, playlistID)
		return nil
	}
	r.playlists[playlistID] = tx.playlist
	r.tracks[playlistID] = tx.tracks
	r.members[playlistID] = tx.members
	return nil
}

type memoryPlaylistTx struct {
	playlist *model.Playlist
	tracks   []*model.TrackEntry // 按 position 升序
	members  map[string]*model.Membership
	deleted  bool
}

func (t *memoryPlaylistTx) Playlist() *model.Playlist {
	return t.playlist
}

func (t *memoryPlaylistTx) IsMember(ctx context.Context, userID string) (bool, error) {
	_, ok := t.members[userID]
	return ok, nil
}

func (t *memoryPlaylistTx) MaxPosition(ctx context.Context) (int, error) {
	if len(t.tracks) == 0 {
		return 0, nil
	}
	return t.tracks[len(t.tracks)-1].Position, nil
}

func (t *memoryPlaylistTx) InsertTrack(ctx context.Context, entry *model.TrackEntry) error {
	for _, existing := range t.tracks {
		if existing.ID == entry.ID || existing.Position == entry.Position {
			return ErrDuplicate
		}
	}
	t.tracks = append(t.tracks, copyTrack(entry))
	sort.SliceStable(t.tracks, func(i, j int) bool {
		return t.tracks[i].Position < t.tracks[j].Position
	})
	return nil
}

func (t *memoryPlaylistTx) GetTrack(ctx context.Context, entryID string) (*model.TrackEntry, error) {
	for _, entry := range t.tracks {
		if entry.ID == entryID {
			return copyTrack(entry), nil
		}
	}
	return nil, ErrNotFound
}

func (t *memoryPlaylistTx) DeleteTrack(ctx context.Context, entryID string) error {
	for i, entry := range t.tracks {
		if entry.ID == entryID {
			t.tracks = append(t.tracks[:i], t.tracks[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (t *memoryPlaylistTx) CompactAfter(ctx context.Context, removed int) error {
	for _, entry := range t.tracks {
		if entry.Position > removed {
			entry.Position--
		}
	}
	return nil
}

func (t *memoryPlaylistTx) UpdateTitle(ctx context.Context, title string, at time.Time) error {
	t.playlist.Title = title
	t.playlist.UpdatedAt = at
	return nil
}

func (t *memoryPlaylistTx) Touch(ctx context.Context, at time.Time) error {
	t.playlist.UpdatedAt = at
	return nil
}

func (t *memoryPlaylistTx) AddMember(ctx context.Context, member *model.Membership) error {
	if _, ok := t.members[member.UserID]; ok {
		return ErrDuplicate
	}
	t.members[member.UserID] = copyMember(member)
	return nil
}

func (t *memoryPlaylistTx) RemoveMember(ctx context.Context, userID string) (bool, error) {
	if _, ok := t.members[userID]; !ok {
		return false, nil
	}
	delete(t.members, userID)
	return true, nil
}

func (t *memoryPlaylistTx) DeletePlaylist(ctx context.Context) error {
	t.deleted = true
	t.tracks = nil
	t.members = nil
	return nil
}
