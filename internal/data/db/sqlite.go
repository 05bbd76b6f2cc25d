package db

import (
	"fmt"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/yungbote/adpilot-backend/internal/platform/logger"
)

// OpenSQLite opens a sqlite database. A single connection serializes writers,
// which stands in for row locks (sqlite ignores FOR UPDATE SKIP LOCKED).
func OpenSQLite(path string, opts *gorm.Config) (*gorm.DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = "file:adpilot?mode=memory&cache=shared"
	}
	if opts == nil {
		opts = &gorm.Config{}
	}
	if opts.NowFunc == nil {
		opts.NowFunc = UTCNow
	}
	db, err := gorm.Open(sqlite.Open(path), opts)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

func newSQLiteService(logg *logger.Logger, cfg Config) (*Service, error) {
	serviceLog := logg.With("service", "SQLiteService")
	db, err := OpenSQLite(cfg.SQLitePath, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog(),
	})
	if err != nil {
		return nil, err
	}
	serviceLog.Warn("Using sqlite database; not for multi-process deployments", "path", cfg.SQLitePath)
	return &Service{db: db, log: serviceLog, driver: DriverSQLite}, nil
}
