package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// EntryModel is the table layout of the SQL store.
type EntryModel struct {
	Key       string `gorm:"column:cache_key;primaryKey;size:512"`
	Value     []byte `gorm:"column:value"`
	ExpiresAt int64  `gorm:"column:expires_at;index"` // unix nanoseconds
}

// TableName pins the table name.
func (EntryModel) TableName() string { return "mediator_cache_entries" }

// GormStore keeps entries in a SQL table. Expired rows are ignored on read and removed
// by Purge.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

var _ Store = (*GormStore)(nil)

// NewGormStore migrates the cache table on db and returns a store over it.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&EntryModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate cache table: %w", err)
	}

	return &GormStore{db: db, now: time.Now}, nil
}

// OpenGormStore opens a database with the named driver ("postgres" or "sqlite") and
// returns a store over it. An empty sqlite DSN means an in-memory database.
func OpenGormStore(driver, dsn string) (*GormStore, error) {
	var dialector gorm.Dialector

	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		if dsn == "" {
			dsn = ":memory:"
		}

		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// every sqlite connection sees its own in-memory database
	if driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get underlying db: %w", err)
		}

		sqlDB.SetMaxOpenConns(1)
	}

	return NewGormStore(db)
}

func (s *GormStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var model EntryModel

	err := s.db.WithContext(ctx).
		Where("cache_key = ? AND expires_at > ?", key, s.now().UnixNano()).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}

	return model.Value, true, nil
}

func (s *GormStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	model := EntryModel{Key: key, Value: value, ExpiresAt: s.now().Add(ttl).UnixNano()}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "cache_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at"}),
		}).
		Create(&model).Error
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}

	return nil
}

func (s *GormStore) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Delete(&EntryModel{}, "cache_key = ?", key).Error; err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}

	return nil
}

// Purge removes expired rows and returns how many were deleted.
func (s *GormStore) Purge(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", s.now().UnixNano()).Delete(&EntryModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge cache entries: %w", res.Error)
	}

	return res.RowsAffected, nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}
