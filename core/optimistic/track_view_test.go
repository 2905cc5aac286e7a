package optimistic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"cotrack/core/access"
	"cotrack/core/playlist"
	"cotrack/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRemote 内存中的服务端，release 非 nil 时每个请求等待它关闭
type fakeRemote struct {
	mu      sync.Mutex
	tracks  []*model.TrackEntry
	seq     int
	fail    error
	release chan struct{}
}

func (r *fakeRemote) wait() {
	if r.release != nil {
		<-r.release
	}
}

func (r *fakeRemote) AppendTrack(ctx context.Context, playlistID string, data model.TrackData) (*model.TrackEntry, error) {
	r.wait()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return nil, r.fail
	}
	r.seq++
	entry := data.Entry(playlistID, "me", len(r.tracks)+1, time.Now())
	entry.ID = fmt.Sprintf("entry-%d", r.seq)
	r.tracks = append(r.tracks, &entry)
	copied := entry
	return &copied, nil
}

func (r *fakeRemote) RemoveTrack(ctx context.Context, playlistID, entryID string) error {
	r.wait()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	for i, t := range r.tracks {
		if t.ID == entryID {
			r.tracks = append(r.tracks[:i], r.tracks[i+1:]...)
			for _, later := range r.tracks[i:] {
				later.Position--
			}
			return nil
		}
	}
	return playlist.ErrNotFound
}

func (r *fakeRemote) ListTracks(ctx context.Context, playlistID string) ([]*model.TrackEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.TrackEntry, len(r.tracks))
	for i, t := range r.tracks {
		copied := *t
		out[i] = &copied
	}
	return out, nil
}

func data(title string) model.TrackData {
	return model.TrackData{CatalogTrackID: "cat-" + title, Title: title, DurationMs: 1000}
}

func layout(entries []model.TrackEntry) string {
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = fmt.Sprintf("%d:%s", e.Position, e.Title)
	}
	return strings.Join(parts, " ")
}

func seededView(t *testing.T, remote *fakeRemote, titles ...string) *TrackView {
	t.Helper()
	for _, title := range titles {
		_, err := remote.AppendTrack(context.Background(), "p1", data(title))
		require.NoError(t, err)
	}
	view := NewTrackView("p1", "me", remote, PolicyQueue)
	require.NoError(t, view.Reload(context.Background()))
	return view
}

func TestTrackView_AppendShowsProvisionalThenConfirms(t *testing.T) {
	remote := &fakeRemote{}
	view := seededView(t, remote, "A", "B")
	remote.release = make(chan struct{})

	done := make(chan *model.TrackEntry, 1)
	go func() {
		entry, err := view.Append(context.Background(), data("C"))
		assert.NoError(t, err)
		done <- entry
	}()

	require.Eventually(t, func() bool { return view.State() == StatePending }, time.Second, time.Millisecond)
	entries := view.Entries()
	assert.Equal(t, "1:A 2:B 3:C", layout(entries))
	assert.True(t, IsProvisional(entries[2]))
	assert.True(t, strings.HasPrefix(entries[2].ID, "temp-"))

	close(remote.release)
	confirmed := <-done
	require.NotNil(t, confirmed)

	entries = view.Entries()
	assert.Equal(t, "1:A 2:B 3:C", layout(entries))
	assert.Equal(t, confirmed.ID, entries[2].ID, "temporary id is reconciled with the real id")
	assert.Equal(t, StateConfirmed, view.State())
}

func TestTrackView_AppendFailureRollsBack(t *testing.T) {
	remote := &fakeRemote{}
	view := seededView(t, remote, "A")
	remote.fail = &access.DeniedError{Action: access.ActionAppendTrack, Reason: "members only"}

	_, err := view.Append(context.Background(), data("B"))
	require.Error(t, err)
	assert.Equal(t, "1:A", layout(view.Entries()))
	assert.Equal(t, StateRolledBack, view.State())
	assert.Equal(t, "You don't have permission to do that.", UserMessage(err))
}

func TestTrackView_RemoveCompactsAndRollsBack(t *testing.T) {
	remote := &fakeRemote{}
	view := seededView(t, remote, "A", "B", "C")
	entries := view.Entries()

	require.NoError(t, view.Remove(context.Background(), entries[1].ID))
	assert.Equal(t, "1:A 2:C", layout(view.Entries()))

	remote.fail = errors.Join(playlist.ErrConflict, errors.New("deadlock"))
	err := view.Remove(context.Background(), entries[0].ID)
	require.Error(t, err)
	assert.Equal(t, "1:A 2:C", layout(view.Entries()))
	assert.Equal(t, "The playlist was busy. Please try again.", UserMessage(err))

	err = view.Remove(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownEntry)
}

func TestTrackView_StudyScenario(t *testing.T) {
	remote := &fakeRemote{}
	view := seededView(t, remote, "A", "B", "C")

	require.NoError(t, view.Remove(context.Background(), view.Entries()[1].ID))
	_, err := view.Append(context.Background(), data("D"))
	require.NoError(t, err)

	assert.Equal(t, "1:A 2:C 3:D", layout(view.Entries()))
	require.NoError(t, view.Reload(context.Background()))
	assert.Equal(t, "1:A 2:C 3:D", layout(view.Entries()), "local view matches the server")
}

func TestTrackView_ApplyRemote(t *testing.T) {
	remote := &fakeRemote{}
	view := seededView(t, remote, "A", "B")
	entries := view.Entries()

	added := model.TrackData{Title: "X"}.Entry("p1", "bob", 3, time.Now())
	added.ID = "entry-x"
	evt, err := model.NewEvent("p1", model.EventTrackAdded, "bob", model.TrackAddedPayload{Track: added}, time.Now())
	require.NoError(t, err)
	require.NoError(t, view.ApplyRemote(evt))
	require.NoError(t, view.ApplyRemote(evt), "duplicate delivery is harmless")
	assert.Equal(t, "1:A 2:B 3:X", layout(view.Entries()))

	evt, err = model.NewEvent("p1", model.EventTrackRemoved, "owner", model.TrackRemovedPayload{EntryID: entries[0].ID, Position: 1}, time.Now())
	require.NoError(t, err)
	require.NoError(t, view.ApplyRemote(evt))
	assert.Equal(t, "1:B 2:X", layout(view.Entries()))

	// 自己的事件和其他歌单的事件被忽略
	own, _ := model.NewEvent("p1", model.EventTrackRemoved, "me", model.TrackRemovedPayload{EntryID: entries[1].ID, Position: 1}, time.Now())
	other, _ := model.NewEvent("p2", model.EventTrackRemoved, "bob", model.TrackRemovedPayload{EntryID: entries[1].ID, Position: 1}, time.Now())
	require.NoError(t, view.ApplyRemote(own))
	require.NoError(t, view.ApplyRemote(other))
	assert.Equal(t, "1:B 2:X", layout(view.Entries()))

	bad := model.Event{PlaylistID: "p1", Type: model.EventTrackAdded, ActorID: "bob", Payload: []byte(`"nope"`)}
	assert.Error(t, view.ApplyRemote(bad))

	deleted, _ := model.NewEvent("p1", model.EventPlaylistDeleted, "owner", nil, time.Now())
	require.NoError(t, view.ApplyRemote(deleted))
	assert.Empty(t, view.Entries())
}

func TestTrackView_RemoteAddWhilePendingKeepsProvisionalLast(t *testing.T) {
	remote := &fakeRemote{}
	view := seededView(t, remote, "A")
	remote.release = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := view.Append(context.Background(), data("mine"))
		done <- err
	}()
	require.Eventually(t, func() bool { return view.State() == StatePending }, time.Second, time.Millisecond)

	// 另一个成员的歌先提交，占了位置 2
	theirs := model.TrackData{Title: "theirs"}.Entry("p1", "bob", 2, time.Now())
	theirs.ID = "entry-bob"
	remote.mu.Lock()
	remote.tracks = append(remote.tracks, &theirs)
	remote.mu.Unlock()
	evt, err := model.NewEvent("p1", model.EventTrackAdded, "bob", model.TrackAddedPayload{Track: theirs}, time.Now())
	require.NoError(t, err)
	require.NoError(t, view.ApplyRemote(evt))
	assert.Equal(t, "1:A 2:theirs 3:mine", layout(view.Entries()))

	close(remote.release)
	require.NoError(t, <-done)
	assert.Equal(t, "1:A 2:theirs 3:mine", layout(view.Entries()))
	for _, e := range view.Entries() {
		assert.False(t, IsProvisional(e))
	}
}

func TestTrackView_RejectPolicy(t *testing.T) {
	remote := &fakeRemote{release: make(chan struct{})}
	view := NewTrackView("p1", "me", remote, PolicyReject)

	done := make(chan error, 1)
	go func() {
		_, err := view.Append(context.Background(), data("A"))
		done <- err
	}()
	require.Eventually(t, func() bool { return view.State() == StatePending }, time.Second, time.Millisecond)

	_, err := view.Append(context.Background(), data("B"))
	assert.ErrorIs(t, err, ErrMutationInFlight)
	assert.Equal(t, "Please wait for your previous change to finish.", UserMessage(err))

	close(remote.release)
	require.NoError(t, <-done)
	assert.Equal(t, "1:A", layout(view.Entries()))
}

func TestUserMessage(t *testing.T) {
	assert.Empty(t, UserMessage(nil))
	assert.Equal(t, "That invite code is not valid.", UserMessage(fmt.Errorf("join: %w", playlist.ErrInvalidCode)))
	assert.Equal(t, "That playlist or track no longer exists.", UserMessage(playlist.ErrNotFound))
	assert.Equal(t, "Something went wrong. Your change was not saved.", UserMessage(errors.New("io")))
}
