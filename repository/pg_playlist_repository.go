package repository

import (
	"context"
	"errors"
	"time"

	"cotrack/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL SQLSTATE
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// PgQuerier pgx 连接池与事务的公共查询接口
type PgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgDB *pgxpool.Pool 与 pgxmock 都满足该接口
type PgDB interface {
	PgQuerier
	Begin(ctx context.Context) (pgx.Tx, error)
}

type pgPlaylistRepository struct {
	db PgDB
}

// NewPgPlaylistRepository 创建 PostgreSQL 歌单仓库
func NewPgPlaylistRepository(db PgDB) PlaylistStore {
	return &pgPlaylistRepository{db: db}
}

func translatePgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return errors.Join(ErrDuplicate, err)
		case pgSerializationFailure, pgDeadlockDetected:
			return errors.Join(ErrConflict, err)
		}
	}
	return err
}

const (
	playlistColumns = `id, title, owner_id, invite_code, created_at, updated_at`
	memberColumns   = `playlist_id, user_id, joined_at, is_online, last_seen_at`
	trackColumns    = `id, playlist_id, catalog_track_id, title, artists, album_name, album_id,
		cover_url, duration_ms, preview_url, position, added_by, added_at`
)

func scanPlaylist(row pgx.Row) (*model.Playlist, error) {
	var p model.Playlist
	if err := row.Scan(&p.ID, &p.Title, &p.OwnerID, &p.InviteCode, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanMember(row pgx.Row) (*model.Membership, error) {
	var m model.Membership
	if err := row.Scan(&m.PlaylistID, &m.UserID, &m.JoinedAt, &m.Online, &m.LastSeenAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func scanTrack(row pgx.Row) (*model.TrackEntry, error) {
	var (
		t       model.TrackEntry
		artists []byte
	)
	err := row.Scan(&t.ID, &t.PlaylistID, &t.CatalogTrackID, &t.Title, &artists, &t.AlbumName, &t.AlbumID,
		&t.CoverURL, &t.DurationMs, &t.PreviewURL, &t.Position, &t.AddedBy, &t.AddedAt)
	if err != nil {
		return nil, err
	}
	if err := t.Artists.Scan(artists); err != nil {
		return nil, err
	}
	return &t, nil
}

// ========== 歌单 CRUD ==========

func (r *pgPlaylistRepository) CreatePlaylist(ctx context.Context, playlist *model.Playlist) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO playlists (`+playlistColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, playlist.ID, playlist.Title, playlist.OwnerID, playlist.InviteCode, playlist.CreatedAt, playlist.UpdatedAt)
	return translatePgError(err)
}

func (r *pgPlaylistRepository) GetPlaylist(ctx context.Context, id string) (*model.Playlist, error) {
	p, err := scanPlaylist(r.db.QueryRow(ctx, `
		SELECT `+playlistColumns+` FROM playlists WHERE id = $1
	`, id))
	return p, translatePgError(err)
}

func (r *pgPlaylistRepository) GetPlaylistByInviteCode(ctx context.Context, code string) (*model.Playlist, error) {
	p, err := scanPlaylist(r.db.QueryRow(ctx, `
		SELECT `+playlistColumns+` FROM playlists WHERE invite_code = $1
	`, code))
	return p, translatePgError(err)
}

func (r *pgPlaylistRepository) ListOwnedPlaylists(ctx context.Context, ownerID string) ([]*model.Playlist, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+playlistColumns+` FROM playlists
		WHERE owner_id = $1
		ORDER BY updated_at DESC
	`, ownerID)
	if err != nil {
		return nil, translatePgError(err)
	}
	defer rows.Close()

	var result []*model.Playlist
	for rows.Next() {
		p, err := scanPlaylist(rows)
		if err != nil {
			return nil, translatePgError(err)
		}
		result = append(result, p)
	}
	return result, translatePgError(rows.Err())
}

func (r *pgPlaylistRepository) ListJoinedPlaylists(ctx context.Context, userID string) ([]*model.JoinedPlaylist, error) {
	rows, err := r.db.Query(ctx, `
		SELECT p.id, p.title, p.owner_id, p.invite_code, p.created_at, p.updated_at, m.joined_at
		FROM playlists p
		JOIN playlist_members m ON m.playlist_id = p.id
		WHERE m.user_id = $1 AND p.owner_id <> $1
		ORDER BY p.updated_at DESC
	`, userID)
	if err != nil {
		return nil, translatePgError(err)
	}
	defer rows.Close()

	var result []*model.JoinedPlaylist
	for rows.Next() {
		var j model.JoinedPlaylist
		if err := rows.Scan(&j.ID, &j.Title, &j.OwnerID, &j.InviteCode, &j.CreatedAt, &j.UpdatedAt, &j.JoinedAt); err != nil {
			return nil, translatePgError(err)
		}
		result = append(result, &j)
	}
	return result, translatePgError(rows.Err())
}

// ========== 成员查询 ==========

func (r *pgPlaylistRepository) GetMembership(ctx context.Context, playlistID, userID string) (*model.Membership, error) {
	m, err := scanMember(r.db.QueryRow(ctx, `
		SELECT `+memberColumns+` FROM playlist_members
		WHERE playlist_id = $1 AND user_id = $2
	`, playlistID, userID))
	return m, translatePgError(err)
}

func (r *pgPlaylistRepository) ListMembers(ctx context.Context, playlistID string) ([]*model.Membership, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+memberColumns+` FROM playlist_members
		WHERE playlist_id = $1
		ORDER BY joined_at ASC
	`, playlistID)
	if err != nil {
		return nil, translatePgError(err)
	}
	defer rows.Close()

	var result []*model.Membership
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, translatePgError(err)
		}
		result = append(result, m)
	}
	return result, translatePgError(rows.Err())
}

func (r *pgPlaylistRepository) SetPresence(ctx context.Context, playlistID, userID string, online bool, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE playlist_members SET is_online = $3, last_seen_at = $4
		WHERE playlist_id = $1 AND user_id = $2
	`, playlistID, userID, online, at)
	return translatePgError(err)
}

// ========== 歌曲查询 ==========

func (r *pgPlaylistRepository) ListTracks(ctx context.Context, playlistID string) ([]*model.TrackEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+trackColumns+` FROM playlist_tracks
		WHERE playlist_id = $1
		ORDER BY position ASC
	`, playlistID)
	if err != nil {
		return nil, translatePgError(err)
	}
	defer rows.Close()

	var result []*model.TrackEntry
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, translatePgError(err)
		}
		result = append(result, t)
	}
	return result, translatePgError(rows.Err())
}

func (r *pgPlaylistRepository) Summary(ctx context.Context, playlistID string) (model.PlaylistSummary, error) {
	var count, total int64
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(duration_ms), 0)
		FROM playlist_tracks WHERE playlist_id = $1
	`, playlistID).Scan(&count, &total)
	if err != nil {
		return model.PlaylistSummary{}, translatePgError(err)
	}
	return model.PlaylistSummary{TrackCount: int(count), TotalDurationMs: total}, nil
}

func (r *pgPlaylistRepository) RecentTrackActivity(ctx context.Context, ownerID string, limit int) ([]*model.TrackActivity, error) {
	rows, err := r.db.Query(ctx, `
		SELECT t.id, t.playlist_id, p.title, t.title, t.artists, t.added_by, t.added_at
		FROM playlist_tracks t
		JOIN playlists p ON p.id = t.playlist_id
		WHERE p.owner_id = $1
		ORDER BY t.added_at DESC
		LIMIT $2
	`, ownerID, limit)
	if err != nil {
		return nil, translatePgError(err)
	}
	defer rows.Close()

	var result []*model.TrackActivity
	for rows.Next() {
		var (
			a       model.TrackActivity
			raw     []byte
			artists model.ArtistList
		)
		if err := rows.Scan(&a.EntryID, &a.PlaylistID, &a.PlaylistTitle, &a.Title, &raw, &a.AddedBy, &a.AddedAt); err != nil {
			return nil, translatePgError(err)
		}
		if err := artists.Scan(raw); err != nil {
			return nil, err
		}
		a.Artists = artists.Names()
		result = append(result, &a)
	}
	return result, translatePgError(rows.Err())
}

// ========== 事务 ==========

// WithPlaylistLock 开启事务并 SELECT ... FOR UPDATE 锁住歌单行
func (r *pgPlaylistRepository) WithPlaylistLock(ctx context.Context, playlistID string, fn func(tx PlaylistTx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return translatePgError(err)
	}
	// 提交后再回滚只会返回 ErrTxClosed；fn panic 时也要释放行锁
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	playlist, err := scanPlaylist(tx.QueryRow(ctx, `
		SELECT `+playlistColumns+` FROM playlists WHERE id = $1 FOR UPDATE
	`, playlistID))
	if err != nil {
		return translatePgError(err)
	}

	if err := fn(&pgPlaylistTx{tx: tx, playlist: playlist}); err != nil {
		return translatePgError(err)
	}

	// 延迟约束在提交时检查，唯一冲突也会在这里暴露
	return translatePgError(tx.Commit(ctx))
}

type pgPlaylistTx struct {
	tx       PgQuerier
	playlist *model.Playlist
}

func (t *pgPlaylistTx) Playlist() *model.Playlist {
	return t.playlist
}

func (t *pgPlaylistTx) IsMember(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM playlist_members WHERE playlist_id = $1 AND user_id = $2)
	`, t.playlist.ID, userID).Scan(&exists)
	return exists, translatePgError(err)
}

func (t *pgPlaylistTx) MaxPosition(ctx context.Context) (int, error) {
	var maxPos int
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(position), 0) FROM playlist_tracks WHERE playlist_id = $1
	`, t.playlist.ID).Scan(&maxPos)
	return maxPos, translatePgError(err)
}

func (t *pgPlaylistTx) InsertTrack(ctx context.Context, entry *model.TrackEntry) error {
	artists, err := entry.Artists.Value()
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO playlist_tracks (`+trackColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, entry.ID, entry.PlaylistID, entry.CatalogTrackID, entry.Title, artists, entry.AlbumName, entry.AlbumID,
		entry.CoverURL, entry.DurationMs, entry.PreviewURL, entry.Position, entry.AddedBy, entry.AddedAt)
	return translatePgError(err)
}

func (t *pgPlaylistTx) GetTrack(ctx context.Context, entryID string) (*model.TrackEntry, error) {
	entry, err := scanTrack(t.tx.QueryRow(ctx, `
		SELECT `+trackColumns+` FROM playlist_tracks
		WHERE id = $1 AND playlist_id = $2
	`, entryID, t.playlist.ID))
	return entry, translatePgError(err)
}

func (t *pgPlaylistTx) DeleteTrack(ctx context.Context, entryID string) error {
	tag, err := t.tx.Exec(ctx, `
		DELETE FROM playlist_tracks WHERE id = $1 AND playlist_id = $2
	`, entryID, t.playlist.ID)
	if err != nil {
		return translatePgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CompactAfter 依赖 uq_playlist_position 为 DEFERRABLE INITIALLY DEFERRED
func (t *pgPlaylistTx) CompactAfter(ctx context.Context, removed int) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE playlist_tracks SET position = position - 1
		WHERE playlist_id = $1 AND position > $2
	`, t.playlist.ID, removed)
	return translatePgError(err)
}

func (t *pgPlaylistTx) UpdateTitle(ctx context.Context, title string, at time.Time) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE playlists SET title = $2, updated_at = $3 WHERE id = $1
	`, t.playlist.ID, title, at)
	if err != nil {
		return translatePgError(err)
	}
	t.playlist.Title = title
	t.playlist.UpdatedAt = at
	return nil
}

func (t *pgPlaylistTx) Touch(ctx context.Context, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE playlists SET updated_at = $2 WHERE id = $1`, t.playlist.ID, at)
	if err != nil {
		return translatePgError(err)
	}
	t.playlist.UpdatedAt = at
	return nil
}

func (t *pgPlaylistTx) AddMember(ctx context.Context, member *model.Membership) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO playlist_members (`+memberColumns+`)
		VALUES ($1, $2, $3, $4, $5)
	`, member.PlaylistID, member.UserID, member.JoinedAt, member.Online, member.LastSeenAt)
	return translatePgError(err)
}

func (t *pgPlaylistTx) RemoveMember(ctx context.Context, userID string) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		DELETE FROM playlist_members WHERE playlist_id = $1 AND user_id = $2
	`, t.playlist.ID, userID)
	if err != nil {
		return false, translatePgError(err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeletePlaylist 歌曲与成员由外键 ON DELETE CASCADE 删除
func (t *pgPlaylistTx) DeletePlaylist(ctx context.Context) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM playlists WHERE id = $1`, t.playlist.ID)
	return translatePgError(err)
}
