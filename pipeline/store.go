package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrStoreUnavailable means the durable store cannot be reached. A run halts
// on it.
var ErrStoreUnavailable = errors.New("store unavailable")

func OpenDB(cfg DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite":
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, fmt.Errorf("database.path is required for sqlite")
		}
		dialector = sqlite.Open(cfg.Path)
	case "postgres":
		if strings.TrimSpace(cfg.DSN) == "" {
			return nil, fmt.Errorf("database.dsn is required for postgres")
		}
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(log.New(os.Stderr, "", log.LstdFlags), logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, err
	}
	if driver != "postgres" {
		// One writer at a time for SQLite.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&ProcessedFile{}, &RawActivity{}, &CanonicalActivity{}); err != nil {
		return nil, err
	}
	return db, nil
}

// OpenSQLite opens (and migrates) a SQLite database file.
func OpenSQLite(path string) (*gorm.DB, error) {
	return OpenDB(DatabaseConfig{Driver: "sqlite", Path: path})
}

// checkStore turns a failed write into ErrStoreUnavailable when the store no
// longer answers a ping. Otherwise it returns nil and the caller treats the
// failure as item-level.
func checkStore(ctx context.Context, db *gorm.DB, writeErr error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("%w: %v (after %v)", ErrStoreUnavailable, err, writeErr)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v (after %v)", ErrStoreUnavailable, err, writeErr)
	}
	return nil
}
