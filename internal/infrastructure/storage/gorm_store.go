package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mfshop/storefront/internal/domain/shared"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// kvEntry is one row of the key/value table
type kvEntry struct {
	Key       string    `gorm:"column:storage_key;primaryKey;type:varchar(255)"`
	Value     []byte    `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (kvEntry) TableName() string {
	return "storefront_kv"
}

// GormStore implements KeyValueStore on a relational database through GORM.
// It backs both the SQLite (local file) and Postgres drivers.
type GormStore struct {
	db     *gorm.DB
	closer func() error
}

// NewGormStore wraps an open database and creates the key/value table if
// it does not exist yet
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&kvEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate key/value table: %w", err)
	}

	store := &GormStore{db: db}
	store.closer = func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("failed to get underlying sql.DB: %w", err)
		}
		return sqlDB.Close()
	}
	return store, nil
}

// Get returns the value stored under key
func (s *GormStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var entry kvEntry
	err := s.db.WithContext(ctx).Where("storage_key = ?", key).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read key %q: %w", key, err)
	}
	return entry.Value, true, nil
}

// Set upserts value under key
func (s *GormStore) Set(ctx context.Context, key string, value []byte) error {
	entry := kvEntry{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "storage_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("failed to write key %q: %w", key, err)
	}
	return nil
}

// Remove deletes key
func (s *GormStore) Remove(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("storage_key = ?", key).Delete(&kvEntry{}).Error; err != nil {
		return fmt.Errorf("failed to remove key %q: %w", key, err)
	}
	return nil
}

// Close closes the underlying connection pool
func (s *GormStore) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

var _ shared.KeyValueStore = (*GormStore)(nil)
