package playlist

import (
	"context"
	"sync"
	"testing"
	"time"

	"cotrack/model"
	"cotrack/repository"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) Publish(evt model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) types() []model.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]model.EventType, 0, len(r.events))
	for _, evt := range r.events {
		types = append(types, evt.Type)
	}
	return types
}

func (r *recorder) last() model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type fixture struct {
	store     *repository.MemoryPlaylistRepository
	events    *recorder
	ledger    *Ledger
	members   *MembershipManager
	playlists *PlaylistManager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryPlaylistRepository()
	events := &recorder{}
	ledger := NewLedger(store, events, 5)
	ledger.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return &fixture{
		store:     store,
		events:    events,
		ledger:    ledger,
		members:   NewMembershipManager(store, events, nil),
		playlists: NewPlaylistManager(store, events, nil, 0),
	}
}

// seed 直接写入固定邀请码的歌单
func (f *fixture) seed(t *testing.T, id, owner, title, code string) {
	t.Helper()
	now := time.Now().Add(-time.Minute)
	require.NoError(t, f.store.CreatePlaylist(context.Background(), &model.Playlist{
		ID: id, Title: title, OwnerID: owner, InviteCode: code, CreatedAt: now, UpdatedAt: now,
	}))
}

func (f *fixture) addMember(t *testing.T, playlistID, userID string) {
	t.Helper()
	require.NoError(t, f.store.WithPlaylistLock(context.Background(), playlistID, func(tx repository.PlaylistTx) error {
		return tx.AddMember(context.Background(), &model.Membership{PlaylistID: playlistID, UserID: userID, JoinedAt: time.Now()})
	}))
}

func track(title string) model.TrackData {
	return model.TrackData{
		CatalogTrackID: "cat-" + title,
		Title:          title,
		Artists:        model.ArtistList{{ID: "ar-" + title, Name: "Artist " + title}},
		AlbumName:      "Album",
		AlbumID:        "al-1",
		DurationMs:     180000,
	}
}

func titlesInOrder(t *testing.T, tracks []*model.TrackEntry) []string {
	t.Helper()
	titles := make([]string, 0, len(tracks))
	for i, entry := range tracks {
		require.Equal(t, i+1, entry.Position, "positions must be dense and start at 1")
		titles = append(titles, entry.Title)
	}
	return titles
}
