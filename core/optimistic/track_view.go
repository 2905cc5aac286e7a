package optimistic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cotrack/model"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// TempIDPrefix 未确认歌曲的临时ID前缀
const TempIDPrefix = "temp-"

// ErrUnknownEntry 本地视图中没有这首歌
var ErrUnknownEntry = errors.New("track entry is not in the local view")

// Remote 服务端歌单接口，由 client.Client 实现
type Remote interface {
	AppendTrack(ctx context.Context, playlistID string, data model.TrackData) (*model.TrackEntry, error)
	RemoveTrack(ctx context.Context, playlistID, entryID string) error
	ListTracks(ctx context.Context, playlistID string) ([]*model.TrackEntry, error)
}

// TrackView 单个歌单的本地歌曲列表，追加/删除先本地生效再等待服务端确认
type TrackView struct {
	playlistID string
	userID     string
	remote     Remote
	coord      *Coordinator[[]model.TrackEntry]
	now        func() time.Time
}

// NewTrackView 创建本地视图，userID 为当前用户，用于跳过自己产生的事件
func NewTrackView(playlistID, userID string, remote Remote, policy Policy) *TrackView {
	return &TrackView{
		playlistID: playlistID,
		userID:     userID,
		remote:     remote,
		coord:      NewCoordinator[[]model.TrackEntry](nil, policy),
		now:        time.Now,
	}
}

// IsProvisional 是否为未确认的临时歌曲
func IsProvisional(entry model.TrackEntry) bool {
	return strings.HasPrefix(entry.ID, TempIDPrefix)
}

// Entries 当前本地视图（按位置排序）
func (v *TrackView) Entries() []model.TrackEntry {
	return append([]model.TrackEntry(nil), v.coord.Value()...)
}

// State 最近一次修改的状态
func (v *TrackView) State() State {
	return v.coord.State()
}

// OnChange 视图变化时回调，用于重新渲染
func (v *TrackView) OnChange(fn func(State, []model.TrackEntry)) {
	v.coord.OnChange(fn)
}

// Reload 重新拉取服务端列表（重连后调用），保留在途的临时歌曲
func (v *TrackView) Reload(ctx context.Context) error {
	entries, err := v.remote.ListTracks(ctx, v.playlistID)
	if err != nil {
		return err
	}
	fresh := lo.Map(entries, func(e *model.TrackEntry, _ int) model.TrackEntry { return *e })
	v.coord.Update(func(current []model.TrackEntry) []model.TrackEntry {
		temps := lo.Filter(current, func(e model.TrackEntry, _ int) bool { return IsProvisional(e) })
		return normalize(append(append([]model.TrackEntry(nil), fresh...), temps...))
	})
	return nil
}

// Append 立即在末尾显示临时歌曲，服务端确认后替换为真实记录，失败则回滚
func (v *TrackView) Append(ctx context.Context, data model.TrackData) (*model.TrackEntry, error) {
	tempID := TempIDPrefix + uuid.NewString()
	var confirmed *model.TrackEntry

	_, err := v.coord.Mutate(ctx, Mutation[[]model.TrackEntry]{
		Apply: func(current []model.TrackEntry) ([]model.TrackEntry, error) {
			entry := data.Entry(v.playlistID, v.userID, len(current)+1, v.now())
			entry.ID = tempID
			next := append(append([]model.TrackEntry(nil), current...), entry)
			return next, nil
		},
		Commit: func(ctx context.Context) (func([]model.TrackEntry) []model.TrackEntry, error) {
			entry, err := v.remote.AppendTrack(ctx, v.playlistID, data)
			if err != nil {
				return nil, err
			}
			confirmed = entry
			return func(current []model.TrackEntry) []model.TrackEntry {
				return upsert(withoutID(current, tempID), *entry)
			}, nil
		},
	})
	if err != nil {
		return nil, err
	}
	return confirmed, nil
}

// Remove 立即从本地移除并压缩位置，失败则回滚
func (v *TrackView) Remove(ctx context.Context, entryID string) error {
	_, err := v.coord.Mutate(ctx, Mutation[[]model.TrackEntry]{
		Apply: func(current []model.TrackEntry) ([]model.TrackEntry, error) {
			target, ok := lo.Find(current, func(e model.TrackEntry) bool { return e.ID == entryID })
			if !ok || IsProvisional(target) {
				return nil, fmt.Errorf("%w: %s", ErrUnknownEntry, entryID)
			}
			return removeAt(current, entryID, target.Position), nil
		},
		Commit: func(ctx context.Context) (func([]model.TrackEntry) []model.TrackEntry, error) {
			if err := v.remote.RemoveTrack(ctx, v.playlistID, entryID); err != nil {
				return nil, err
			}
			// 在途期间 Reload 可能把这首歌带回来
			return func(current []model.TrackEntry) []model.TrackEntry {
				target, ok := lo.Find(current, func(e model.TrackEntry) bool { return e.ID == entryID })
				if !ok {
					return current
				}
				return removeAt(current, entryID, target.Position)
			}, nil
		},
	})
	return err
}

// ApplyRemote 合并其他人产生的事件，自己产生的事件已在本地生效，直接跳过
func (v *TrackView) ApplyRemote(evt model.Event) error {
	if evt.PlaylistID != v.playlistID || evt.ActorID == v.userID {
		return nil
	}

	switch evt.Type {
	case model.EventTrackAdded:
		var payload model.TrackAddedPayload
		if err := json.Unmarshal(evt.Payload, &payload); err != nil {
			return fmt.Errorf("解析 track-added 事件失败: %w", err)
		}
		v.coord.Update(func(current []model.TrackEntry) []model.TrackEntry {
			return upsert(current, payload.Track)
		})

	case model.EventTrackRemoved:
		var payload model.TrackRemovedPayload
		if err := json.Unmarshal(evt.Payload, &payload); err != nil {
			return fmt.Errorf("解析 track-removed 事件失败: %w", err)
		}
		v.coord.Update(func(current []model.TrackEntry) []model.TrackEntry {
			if _, ok := lo.Find(current, func(e model.TrackEntry) bool { return e.ID == payload.EntryID }); !ok {
				return current
			}
			return removeAt(current, payload.EntryID, payload.Position)
		})

	case model.EventPlaylistDeleted:
		v.coord.Update(func([]model.TrackEntry) []model.TrackEntry { return nil })
	}
	return nil
}

// removeAt 删除一首歌并把其后的已确认歌曲位置减一
func removeAt(entries []model.TrackEntry, entryID string, position int) []model.TrackEntry {
	rest := withoutID(entries, entryID)
	for i := range rest {
		if !IsProvisional(rest[i]) && rest[i].Position > position {
			rest[i].Position--
		}
	}
	return normalize(rest)
}

// upsert 以服务端记录为准插入或替换
func upsert(entries []model.TrackEntry, entry model.TrackEntry) []model.TrackEntry {
	return normalize(append(withoutID(entries, entry.ID), entry))
}

func withoutID(entries []model.TrackEntry, entryID string) []model.TrackEntry {
	return lo.Filter(entries, func(e model.TrackEntry, _ int) bool { return e.ID != entryID })
}

// normalize 已确认歌曲按服务端位置排序，临时歌曲排在末尾并接续编号
func normalize(entries []model.TrackEntry) []model.TrackEntry {
	confirmed := lo.Filter(entries, func(e model.TrackEntry, _ int) bool { return !IsProvisional(e) })
	temps := lo.Filter(entries, func(e model.TrackEntry, _ int) bool { return IsProvisional(e) })
	sort.SliceStable(confirmed, func(i, j int) bool { return confirmed[i].Position < confirmed[j].Position })

	next := len(confirmed) + 1
	if n := len(confirmed); n > 0 && confirmed[n-1].Position >= next {
		next = confirmed[n-1].Position + 1
	}
	for i := range temps {
		temps[i].Position = next + i
	}
	return append(confirmed, temps...)
}
