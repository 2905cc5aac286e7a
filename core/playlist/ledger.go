package playlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cotrack/core/access"
	"cotrack/logger"
	"cotrack/model"
	"cotrack/repository"

	"github.com/cenkalti/backoff/v4"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
)

// DefaultLedgerMaxAttempts 冲突时的最大尝试次数（含第一次）
const DefaultLedgerMaxAttempts = 5

// Ledger 有序歌曲账本：追加、删除（带压缩）、列表
// 所有写操作在单个歌单锁事务中完成
type Ledger struct {
	service
	maxAttempts int
	newBackOff  func() backoff.BackOff
}

// NewLedger 创建账本
func NewLedger(store repository.PlaylistStore, broadcaster Broadcaster, maxAttempts int) *Ledger {
	if maxAttempts <= 0 {
		maxAttempts = DefaultLedgerMaxAttempts
	}
	return &Ledger{
		service:     newService(store, broadcaster),
		maxAttempts: maxAttempts,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 5 * time.Millisecond
			b.MaxInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 5 * time.Second
			return b
		},
	}
}

// ValidateTrackData 校验目录歌曲信息
func ValidateTrackData(data model.TrackData) error {
	err := validation.ValidateStruct(&data,
		validation.Field(&data.CatalogTrackID, validation.Required.Error("catalog track id is required")),
		validation.Field(&data.Title,
			validation.Required.Error("title is required"),
			validation.RuneLength(1, 300),
		),
		validation.Field(&data.DurationMs, validation.Min(0)),
		validation.Field(&data.Artists, validation.By(func(value interface{}) error {
			artists, _ := value.(model.ArtistList)
			for i, artist := range artists {
				if artist.Name == "" {
					return fmt.Errorf("artist #%d has no name", i+1)
				}
			}
			return nil
		})),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// retryable 只有串行化冲突与位置唯一冲突可以重试
func retryable(err error) bool {
	return errors.Is(err, repository.ErrConflict) || errors.Is(err, repository.ErrDuplicate)
}

// withRetry 冲突时重新执行整个事务（重新计算位置）
func (l *Ledger) withRetry(ctx context.Context, op func() error) error {
	attempt := 0
	policy := backoff.WithContext(backoff.WithMaxRetries(l.newBackOff(), uint64(l.maxAttempts-1)), ctx)
	err := backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		logger.Debug("账本事务冲突，准备重试",
			logger.Int("attempt", attempt),
			logger.ErrorField(err))
		return err
	}, policy)
	if err != nil && retryable(err) {
		return errors.Join(ErrConflict, err)
	}
	return translateStoreError(err)
}

// Append 追加歌曲到末尾，position = 当前最大值 + 1
func (l *Ledger) Append(ctx context.Context, playlistID, principal string, data model.TrackData) (*model.TrackEntry, error) {
	if err := ValidateTrackData(data); err != nil {
		return nil, err
	}

	var entry model.TrackEntry
	err := l.withRetry(ctx, func() error {
		return l.store.WithPlaylistLock(ctx, playlistID, func(tx repository.PlaylistTx) error {
			if err := authorizeTx(ctx, tx, principal, access.ActionAppendTrack); err != nil {
				return err
			}
			maxPos, err := tx.MaxPosition(ctx)
			if err != nil {
				return err
			}

			now := l.now()
			entry = data.Entry(playlistID, principal, maxPos+1, now)
			entry.ID = uuid.NewString()
			if err := tx.InsertTrack(ctx, &entry); err != nil {
				return err
			}
			return tx.Touch(ctx, now)
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Info("歌曲已追加",
		logger.PlaylistID(playlistID),
		logger.UserID(principal),
		logger.String("entryId", entry.ID),
		logger.Int("position", entry.Position))

	l.publish(playlistID, model.EventTrackAdded, principal, model.TrackAddedPayload{Track: entry}, entry.AddedAt)
	return &entry, nil
}

// Remove 删除歌曲并把后续歌曲整体前移一位
func (l *Ledger) Remove(ctx context.Context, playlistID, principal, entryID string) error {
	var (
		removed int
		at      time.Time
	)
	err := l.withRetry(ctx, func() error {
		return l.store.WithPlaylistLock(ctx, playlistID, func(tx repository.PlaylistTx) error {
			if err := authorizeTx(ctx, tx, principal, access.ActionRemoveTrack); err != nil {
				return err
			}
			entry, err := tx.GetTrack(ctx, entryID)
			if err != nil {
				return err
			}
			if err := tx.DeleteTrack(ctx, entryID); err != nil {
				return err
			}
			if err := tx.CompactAfter(ctx, entry.Position); err != nil {
				return err
			}

			removed = entry.Position
			at = l.now()
			return tx.Touch(ctx, at)
		})
	})
	if err != nil {
		return err
	}

	logger.Info("歌曲已删除",
		logger.PlaylistID(playlistID),
		logger.UserID(principal),
		logger.String("entryId", entryID),
		logger.Int("position", removed))

	l.publish(playlistID, model.EventTrackRemoved, principal,
		model.TrackRemovedPayload{EntryID: entryID, Position: removed}, at)
	return nil
}

// List 按 position 升序返回歌曲，不做缓存
func (l *Ledger) List(ctx context.Context, playlistID, principal string) ([]*model.TrackEntry, error) {
	if _, err := l.authorizeRead(ctx, playlistID, principal, access.ActionView); err != nil {
		return nil, err
	}
	tracks, err := l.store.ListTracks(ctx, playlistID)
	if err != nil {
		return nil, fmt.Errorf("查询歌曲失败: %w", translateStoreError(err))
	}
	return tracks, nil
}

// Summary 歌曲数量与总时长
func (l *Ledger) Summary(ctx context.Context, playlistID, principal string) (model.PlaylistSummary, error) {
	if _, err := l.authorizeRead(ctx, playlistID, principal, access.ActionView); err != nil {
		return model.PlaylistSummary{}, err
	}
	summary, err := l.store.Summary(ctx, playlistID)
	if err != nil {
		return model.PlaylistSummary{}, fmt.Errorf("统计歌曲失败: %w", translateStoreError(err))
	}
	return summary, nil
}

// Count 歌曲数量
func (l *Ledger) Count(ctx context.Context, playlistID, principal string) (int, error) {
	summary, err := l.Summary(ctx, playlistID, principal)
	return summary.TrackCount, err
}
