package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// MigrationSource 返回内置的迁移文件源
func MigrationSource() (source.Driver, error) {
	d, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	return d, nil
}

// MigrationManager 管理 rag_document 等表的 schema 版本
type MigrationManager struct {
	migrate *migrate.Migrate
	source  source.Driver
	logger  *logrus.Logger
}

// NewMigrationManager 使用内置迁移文件创建管理器
func NewMigrationManager(db *sql.DB, logger *logrus.Logger) (*MigrationManager, error) {
	if logger == nil {
		logger = logrus.New()
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	src, err := MigrationSource()
	if err != nil {
		return nil, err
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	return &MigrationManager{
		migrate: m,
		source:  src,
		logger:  logger,
	}, nil
}

// Up 执行全部待执行迁移
func (mm *MigrationManager) Up() error {
	mm.logger.Info("Applying database migrations")

	err := mm.migrate.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		mm.logger.Info("Schema already up to date")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	mm.logger.Info("Database migrations applied")
	return nil
}

// Steps 前进或回退 n 个版本，n 为负数时回退
func (mm *MigrationManager) Steps(n int) error {
	mm.logger.WithField("steps", n).Info("Migrating by steps")

	if err := mm.migrate.Steps(n); err != nil {
		return fmt.Errorf("failed to migrate %d steps: %w", n, err)
	}
	return nil
}

// Down 回滚最后一次迁移
func (mm *MigrationManager) Down() error {
	return mm.Steps(-1)
}

// Version 当前版本，未执行过迁移时返回 0
func (mm *MigrationManager) Version() (uint, bool, error) {
	version, dirty, err := mm.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}

// Pending 是否存在比当前版本更新的迁移文件
func (mm *MigrationManager) Pending() (bool, error) {
	version, dirty, err := mm.Version()
	if err != nil {
		return false, err
	}
	if dirty {
		return false, fmt.Errorf("database is in dirty state at version %d", version)
	}
	return hasNewer(mm.source, version)
}

// Force 强制设置版本，用于修复 dirty 状态
func (mm *MigrationManager) Force(version int) error {
	mm.logger.Warnf("Forcing migration version to %d", version)

	if err := mm.migrate.Force(version); err != nil {
		return fmt.Errorf("failed to force version %d: %w", version, err)
	}
	return nil
}

// Close 关闭迁移源和数据库驱动
func (mm *MigrationManager) Close() error {
	sourceErr, dbErr := mm.migrate.Close()
	if sourceErr != nil || dbErr != nil {
		return fmt.Errorf("failed to close migrator: source=%v, db=%v", sourceErr, dbErr)
	}
	return nil
}

func hasNewer(src source.Driver, version uint) (bool, error) {
	if version == 0 {
		_, err := src.First()
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return err == nil, err
	}

	_, err := src.Next(version)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
