package db

import (
	"context"
	"fmt"
	"time"

	"cotrack/logger"
	"cotrack/repository"

	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresSchema 歌单表结构
// (playlist_id, position) 唯一约束延迟到提交时检查，删除压缩时中间状态允许重复
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS playlists (
		id          TEXT PRIMARY KEY,
		title       VARCHAR(100) NOT NULL,
		owner_id    TEXT NOT NULL,
		invite_code VARCHAR(8) NOT NULL UNIQUE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_playlists_owner ON playlists (owner_id, updated_at DESC)`,
	`CREATE TABLE IF NOT EXISTS playlist_members (
		playlist_id  TEXT NOT NULL REFERENCES playlists(id) ON DELETE CASCADE,
		user_id      TEXT NOT NULL,
		joined_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		is_online    BOOLEAN NOT NULL DEFAULT false,
		last_seen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (playlist_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_playlist_members_user ON playlist_members (user_id)`,
	`CREATE TABLE IF NOT EXISTS playlist_tracks (
		id               TEXT PRIMARY KEY,
		playlist_id      TEXT NOT NULL REFERENCES playlists(id) ON DELETE CASCADE,
		catalog_track_id TEXT NOT NULL,
		title            TEXT NOT NULL,
		artists          JSONB NOT NULL DEFAULT '[]',
		album_name       TEXT NOT NULL DEFAULT '',
		album_id         TEXT NOT NULL DEFAULT '',
		cover_url        TEXT NOT NULL DEFAULT '',
		duration_ms      INT NOT NULL DEFAULT 0,
		preview_url      TEXT NOT NULL DEFAULT '',
		position         INT NOT NULL CHECK (position > 0),
		added_by         TEXT NOT NULL,
		added_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT uq_playlist_position UNIQUE (playlist_id, position) DEFERRABLE INITIALLY DEFERRED
	)`,
	`CREATE INDEX IF NOT EXISTS idx_playlist_tracks_added_at ON playlist_tracks (added_at DESC)`,
}

// ConnectPostgres 建立 pgx 连接池并验证连通性
func ConnectPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for the postgres driver")
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	poolCfg.MaxConns = 20
	poolCfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	logger.Info("Successfully connected to postgres",
		logger.String("host", poolCfg.ConnConfig.Host),
		logger.String("database", poolCfg.ConnConfig.Database))
	return pool, nil
}

// MigratePostgres 创建表结构（幂等）
func MigratePostgres(ctx context.Context, db repository.PgQuerier) error {
	for _, stmt := range postgresSchema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate postgres schema: %w", err)
		}
	}
	logger.Info("Postgres schema migrated")
	return nil
}
