// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file contains database bootstrapping helpers for
// SQLite (pure Go driver), PostgreSQL and MySQL plus schema migrations.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/slotbook/internal/config"
	"github.com/tbourn/slotbook/internal/domain"
)

// Open connects to the configured backend, applies pool settings and installs
// the OpenTelemetry tracing plugin when tracing is enabled.
func Open(cfg config.DBConfig, traced bool) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Driver {
	case config.DriverSQLite:
		db, err = OpenSQLite(cfg.DSN)
	case config.DriverPostgres:
		db, err = gorm.Open(postgres.Open(cfg.DSN), gormConfig(cfg))
	case config.DriverMySQL:
		db, err = gorm.Open(mysql.Open(cfg.DSN), gormConfig(cfg))
	default:
		return nil, fmt.Errorf("unknown database driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Driver != config.DriverSQLite {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
			sqlDB.SetConnMaxIdleTime(5 * time.Minute)
			sqlDB.SetConnMaxLifetime(30 * time.Minute)
		}
	}

	if traced {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			return nil, fmt.Errorf("install gorm tracing: %w", err)
		}
	}
	return db, nil
}

func gormConfig(cfg config.DBConfig) *gorm.Config {
	lvl := logger.Warn
	if cfg.LogQueries {
		lvl = logger.Info
	}
	return &gorm.Config{Logger: logger.Default.LogMode(lvl)}
}

// sqliteBusyTimeout bounds write-lock waits on SQLite connections outside
// booking transactions, which use the configured lock timeout instead.
const sqliteBusyTimeout = 5 * time.Second

// sqlitePragmas run on every new pooled connection.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
	fmt.Sprintf("busy_timeout(%d)", sqliteBusyTimeout.Milliseconds()),
}

// sqliteDSN prepends the per-connection PRAGMAs to the query of dsn, so any
// _pragma the caller passed still runs last and wins.
func sqliteDSN(dsn string) string {
	params := make([]string, 0, len(sqlitePragmas))
	for _, p := range sqlitePragmas {
		params = append(params, "_pragma="+p)
	}
	ours := strings.Join(params, "&")
	base, query, found := strings.Cut(dsn, "?")
	if !found || query == "" {
		return base + "?" + ours
	}
	return base + "?" + ours + "&" + query
}

// OpenSQLite opens (or creates) a SQLite database. PRAGMAs are passed in the
// DSN so the driver applies them to each connection in the pool.
func OpenSQLite(path string) (*gorm.DB, error) {
	// Fail early if parent directory does not exist (instead of sqlite "out of memory (14)" on Windows).
	if !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "." {
			if _, err := os.Stat(dir); err != nil {
				return nil, err
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(sqliteDSN(path)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	// SQLite has a single writer; a small pool keeps lock waits short.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(4)
		sqlDB.SetMaxIdleConns(4)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	return db, nil
}

// Models lists every persisted type, in migration order.
func Models() []any {
	return []any{
		&domain.AvailabilityRule{},
		&domain.BookingLink{},
		&domain.Booking{},
		&domain.RotationState{},
		&domain.RecurringBlock{},
		&domain.CalendarConnection{},
		&domain.BookingLock{},
		&domain.SideEffect{},
		&domain.Reminder{},
		&domain.Idempotency{},
	}
}

// AutoMigrate creates or updates the schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}
