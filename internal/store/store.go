package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"attendance-kiosk/internal/model"
)

// ErrNotFound is returned by LoadBlob when nothing is stored under the key.
var ErrNotFound = errors.New("blob not found")

// Store is an opaque key to blob persistence capability.
type Store interface {
	LoadBlob(ctx context.Context, key string) ([]byte, error)
	SaveBlob(ctx context.Context, key string, value []byte) error
	DeleteBlob(ctx context.Context, key string) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// LoadBlob returns the value stored under key, or ErrNotFound.
func (s *gormStore) LoadBlob(ctx context.Context, key string) ([]byte, error) {
	var blob model.Blob
	err := s.db.WithContext(ctx).
		Where(map[string]interface{}{"key": key}).
		First(&blob).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load blob %q: %w", key, err)
	}
	return blob.Value, nil
}

// SaveBlob inserts or replaces the value stored under key.
func (s *gormStore) SaveBlob(ctx context.Context, key string, value []byte) error {
	blob := model.Blob{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&blob).Error
	if err != nil {
		return fmt.Errorf("failed to save blob %q: %w", key, err)
	}
	return nil
}

// DeleteBlob removes key. Deleting a missing key is not an error.
func (s *gormStore) DeleteBlob(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Delete(&model.Blob{Key: key}).Error; err != nil {
		return fmt.Errorf("failed to delete blob %q: %w", key, err)
	}
	return nil
}

// ListKeys returns every stored key starting with prefix, sorted.
func (s *gormStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.db.WithContext(ctx).
		Model(&model.Blob{}).
		Where(clause.Like{Column: clause.Column{Name: "key"}, Value: prefix + "%"}).
		Pluck("key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs with prefix %q: %w", prefix, err)
	}

	// LIKE treats '_' as a wildcard, so filter again on the exact prefix.
	out := keys[:0]
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}
