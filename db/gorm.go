package db

import (
	"fmt"
	"time"

	"cotrack/config"
	"cotrack/logger"
	"cotrack/model"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// MySQLDSN 由配置拼出 MySQL DSN
func MySQLDSN(cfg *config.Config) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)
}

// ConnectGormDB 建立 GORM 数据库连接
func ConnectGormDB(cfg *config.Config) (*gorm.DB, error) {
	logLevel := gormlogger.Warn
	if cfg.LogLevel == string(logger.DebugLevel) {
		logLevel = gormlogger.Info
	}

	gormDB, err := gorm.Open(mysql.Open(MySQLDSN(cfg)), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(logLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database with GORM: %w", err)
	}

	// 获取底层的 sql.DB 并配置连接池
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	logger.Info("Successfully connected to the database with GORM",
		logger.String("host", cfg.DBHost),
		logger.String("database", cfg.DBName))
	return gormDB, nil
}

// CloseGormDB 关闭 GORM 数据库连接
func CloseGormDB(gormDB *gorm.DB) error {
	if gormDB == nil {
		return nil
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AutoMigrate 迁移歌单相关表
// 外键带 ON DELETE CASCADE，(playlist_id, position) 与 invite_code 有唯一索引
func AutoMigrate(gormDB *gorm.DB) error {
	if gormDB == nil {
		return fmt.Errorf("GORM database not initialized")
	}
	if err := gormDB.AutoMigrate(&model.Playlist{}, &model.Membership{}, &model.TrackEntry{}); err != nil {
		return fmt.Errorf("failed to auto migrate models: %w", err)
	}
	logger.Info("Models migrated successfully with GORM")
	return nil
}
