package db

import (
	"context"
	"fmt"

	"cotrack/config"
	"cotrack/logger"
	"cotrack/repository"
)

// OpenStore 按 DB_DRIVER 创建歌单仓库，migrate 为 true 时同时建表
// 返回的 close 用于释放连接
func OpenStore(ctx context.Context, cfg *config.Config, migrate bool) (repository.PlaylistStore, func() error, error) {
	switch cfg.DBDriver {
	case config.DriverMySQL:
		gormDB, err := ConnectGormDB(cfg)
		if err != nil {
			return nil, nil, err
		}
		if migrate {
			if err := AutoMigrate(gormDB); err != nil {
				CloseGormDB(gormDB)
				return nil, nil, err
			}
		}
		return repository.NewGormPlaylistRepository(gormDB), func() error { return CloseGormDB(gormDB) }, nil

	case config.DriverPostgres:
		pool, err := ConnectPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if migrate {
			if err := MigratePostgres(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}
		return repository.NewPgPlaylistRepository(pool), func() error { pool.Close(); return nil }, nil

	case config.DriverMemory:
		logger.Warn("using in-memory store, data is lost on restart")
		return repository.NewMemoryPlaylistRepository(), func() error { return nil }, nil

	default:
		return nil, nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
}
