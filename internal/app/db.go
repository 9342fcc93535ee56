package app

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"gorm.io/gorm"

	cfgpkg "github.com/taoyao-code/avl-server/internal/config"
	"github.com/taoyao-code/avl-server/internal/migrate"
	"github.com/taoyao-code/avl-server/internal/storage/gormrepo"
	pgstorage "github.com/taoyao-code/avl-server/internal/storage/pg"
)

// ConnectDBAndMigrate 建立数据库连接并按需执行内嵌迁移
func ConnectDBAndMigrate(ctx context.Context, cfg cfgpkg.DatabaseConfig, log *zap.Logger) (*pgxpool.Pool, error) {
	dbpool, err := pgstorage.NewPool(ctx, cfg, log)
	if err != nil {
		log.Error("db connect error", zap.Error(err))
		return nil, err
	}
	if cfg.AutoMigrate {
		n, err := (migrate.Runner{FS: pgstorage.Migrations(), Logger: log}).Up(ctx, dbpool)
		if err != nil {
			log.Error("db migrate error", zap.Error(err))
			dbpool.Close()
			return nil, err
		}
		log.Info("db migrations applied", zap.Int("applied", n))
	}
	return dbpool, nil
}

// OpenDeviceRepo 打开设备登记簿（GORM），AutoMigrate 开启时同步 devices 表
func OpenDeviceRepo(ctx context.Context, cfg cfgpkg.DatabaseConfig, log *zap.Logger) (*gormrepo.Repository, *gorm.DB, error) {
	db, err := gormrepo.Open(cfg, log)
	if err != nil {
		log.Error("gorm open error", zap.Error(err))
		return nil, nil, err
	}
	repo := gormrepo.New(db)
	if cfg.AutoMigrate {
		if err := repo.AutoMigrate(ctx); err != nil {
			log.Error("gorm automigrate error", zap.Error(err))
			closeGorm(db)
			return nil, nil, err
		}
	}
	return repo, db, nil
}

func closeGorm(db *gorm.DB) {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
