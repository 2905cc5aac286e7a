package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtistList_Scan(t *testing.T) {
	t.Run("json bytes keep order", func(t *testing.T) {
		var list ArtistList
		require.NoError(t, list.Scan([]byte(`[{"id":"a2","name":"B"},{"id":"a1","name":"A"}]`)))
		assert.Equal(t, ArtistList{{ID: "a2", Name: "B"}, {ID: "a1", Name: "A"}}, list)
		assert.Equal(t, []string{"B", "A"}, list.Names())
	})

	t.Run("nil and null", func(t *testing.T) {
		list := ArtistList{{ID: "x"}}
		require.NoError(t, list.Scan(nil))
		assert.Nil(t, list)
		require.NoError(t, list.Scan("null"))
		assert.Nil(t, list)
	})

	t.Run("malformed content is an error", func(t *testing.T) {
		var list ArtistList
		err := list.Scan(`["a1","a2"`)
		assert.Error(t, err)
	})

	t.Run("unsupported type", func(t *testing.T) {
		var list ArtistList
		assert.Error(t, list.Scan(42))
	})
}

func TestArtistList_Value(t *testing.T) {
	v, err := ArtistList(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("[]"), v)

	v, err = ArtistList{{ID: "1", Name: "One"}}.Value()
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"1","name":"One"}]`, string(v.([]byte)))
}

func TestTrackData_Entry(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	data := TrackData{CatalogTrackID: "sp:1", Title: "Song", DurationMs: 1000}

	entry := data.Entry("pl-1", "u1", 3, at)

	assert.Equal(t, "pl-1", entry.PlaylistID)
	assert.Equal(t, "sp:1", entry.CatalogTrackID)
	assert.Equal(t, 3, entry.Position)
	assert.Equal(t, "u1", entry.AddedBy)
	assert.Equal(t, at, entry.AddedAt)
	assert.Empty(t, entry.ID)
}

func TestNewEvent(t *testing.T) {
	at := time.UnixMilli(1700000000000)
	evt, err := NewEvent("pl-1", EventTitleChanged, "u1", TitleChangedPayload{Title: "Study"}, at)
	require.NoError(t, err)

	assert.Equal(t, int64(1700000000000), evt.Timestamp)

	data, err := json.Marshal(evt)
	require.NoError(t, err)
	assert.JSONEq(t, `{"playlistId":"pl-1","type":"title-changed","payload":{"title":"Study"},"actorId":"u1","timestamp":1700000000000}`, string(data))

	evt, err = NewEvent("pl-1", EventPlaylistDeleted, "u1", nil, at)
	require.NoError(t, err)
	assert.Nil(t, evt.Payload)
}
