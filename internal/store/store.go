// Package store implements persistence for the source registry, the event
// cache and sync metadata, backed by SQLite via GORM.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"kioskcal/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store wraps the database handle.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the SQLite database under dataDir and
// runs migrations.
func Open(dataDir string) (*Store, error) {
	if dataDir == "" {
		return nil, errors.New("store: data dir is required")
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dataDir, "kioskcal.db")
	db, err := gorm.Open(sqlite.Open(dbPath+"?_foreign_keys=on"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	if err := db.AutoMigrate(
		&model.CalendarSource{},
		&model.Calendar{},
		&model.Event{},
		&model.SyncMetadata{},
	); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Sources

// CreateSource inserts a new calendar source.
func (s *Store) CreateSource(ctx context.Context, src *model.CalendarSource) error {
	return s.db.WithContext(ctx).Create(src).Error
}

// GetSource retrieves a source by id, including soft-deleted ones; callers
// decide whether inactive sources are acceptable.
func (s *Store) GetSource(ctx context.Context, id string) (*model.CalendarSource, error) {
	var src model.CalendarSource
	err := s.db.WithContext(ctx).First(&src, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &src, nil
}

// UpdateSource persists changes to an existing source.
func (s *Store) UpdateSource(ctx context.Context, src *model.CalendarSource) error {
	return s.db.WithContext(ctx).Save(src).Error
}

// ListSources returns sources, excluding soft-deleted ones unless
// includeInactive is set.
func (s *Store) ListSources(ctx context.Context, includeInactive bool) ([]model.CalendarSource, error) {
	var out []model.CalendarSource
	q := s.db.WithContext(ctx).Order("created_at")
	if !includeInactive {
		q = q.Where("is_active = ?", true)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListEnabledSources returns active, enabled sources — the set eligible for
// a sync cycle.
func (s *Store) ListEnabledSources(ctx context.Context) ([]model.CalendarSource, error) {
	var out []model.CalendarSource
	err := s.db.WithContext(ctx).
		Where("is_active = ? AND enabled = ?", true, true).
		Order("created_at").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SoftDeleteSource marks a source inactive and purges its slice of the
// event cache: occurrences must only ever reference live sources. The
// source record, its calendars and its sync metadata are kept for history.
func (s *Store) SoftDeleteSource(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.CalendarSource{}).
			Where("id = ?", id).
			Updates(map[string]any{"is_active": false, "enabled": false})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Delete(&model.Event{}, "source_id = ?", id).Error
	})
}

// HardDeleteSource removes a source and everything hanging off it. Not used
// by normal flows; exists for operator cleanup.
func (s *Store) HardDeleteSource(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&model.Event{}, "source_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&model.Calendar{}, "source_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&model.SyncMetadata{}, "source_id = ?", id).Error; err != nil {
			return err
		}
		res := tx.Delete(&model.CalendarSource{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Calendars

// ReplaceCalendars swaps out a source's calendar list as one batch: all
// prior calendars for the source are deleted, the new set inserted. The
// source's cached occurrences reference the prior calendar ids, so they
// are purged in the same transaction; the next sync repopulates them.
func (s *Store) ReplaceCalendars(ctx context.Context, sourceID string, cals []model.Calendar) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&model.Event{}, "source_id = ?", sourceID).Error; err != nil {
			return err
		}
		if err := tx.Delete(&model.Calendar{}, "source_id = ?", sourceID).Error; err != nil {
			return err
		}
		for i := range cals {
			cals[i].SourceID = sourceID
		}
		if len(cals) == 0 {
			return nil
		}
		return tx.Create(&cals).Error
	})
}

// ListCalendars returns all calendars for a source.
func (s *Store) ListCalendars(ctx context.Context, sourceID string) ([]model.Calendar, error) {
	var out []model.Calendar
	err := s.db.WithContext(ctx).
		Where("source_id = ?", sourceID).
		Order("created_at").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListEnabledCalendars returns the calendars that should be fetched for a
// source.
func (s *Store) ListEnabledCalendars(ctx context.Context, sourceID string) ([]model.Calendar, error) {
	var out []model.Calendar
	err := s.db.WithContext(ctx).
		Where("source_id = ? AND enabled = ?", sourceID, true).
		Order("created_at").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Events

// ReplaceSourceEvents atomically replaces a source's slice of the event
// cache: delete every cached occurrence for sourceID, insert the new set,
// in one transaction. Bookkeeping timestamps are stamped here, not by the
// materializer.
func (s *Store) ReplaceSourceEvents(ctx context.Context, sourceID string, events []model.Event) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&model.Event{}, "source_id = ?", sourceID).Error; err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		for i := range events {
			events[i].SourceID = sourceID
			events[i].CreatedAt = now
			events[i].UpdatedAt = now
		}
		return tx.CreateInBatches(&events, 200).Error
	})
}

// EventFilter narrows QueryEvents. Nil/empty fields are not applied. The
// window is overlap-based: end_time >= Start AND start_time <= End.
type EventFilter struct {
	SourceID   string
	CalendarID string
	Start      *time.Time
	End        *time.Time
}

// QueryEvents returns cached occurrences matching the filter, ordered by
// start time ascending.
func (s *Store) QueryEvents(ctx context.Context, f EventFilter) ([]model.Event, error) {
	q := s.db.WithContext(ctx).Model(&model.Event{})
	if f.SourceID != "" {
		q = q.Where("source_id = ?", f.SourceID)
	}
	if f.CalendarID != "" {
		q = q.Where("calendar_id = ?", f.CalendarID)
	}
	if f.Start != nil {
		q = q.Where("end_time >= ?", f.Start.UTC())
	}
	if f.End != nil {
		q = q.Where("start_time <= ?", f.End.UTC())
	}

	var out []model.Event
	if err := q.Order("start_time").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// CountEvents returns the number of cached occurrences, optionally limited
// to one source.
func (s *Store) CountEvents(ctx context.Context, sourceID string) (int64, error) {
	q := s.db.WithContext(ctx).Model(&model.Event{})
	if sourceID != "" {
		q = q.Where("source_id = ?", sourceID)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

// Sync metadata

// GetSyncMetadata returns the metadata record for a source, or ErrNotFound
// if the source has never been synced.
func (s *Store) GetSyncMetadata(ctx context.Context, sourceID string) (*model.SyncMetadata, error) {
	var meta model.SyncMetadata
	err := s.db.WithContext(ctx).First(&meta, "source_id = ?", sourceID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &meta, nil
}

// ListSyncMetadata returns metadata for all sources that have attempted a
// sync.
func (s *Store) ListSyncMetadata(ctx context.Context) ([]model.SyncMetadata, error) {
	var out []model.SyncMetadata
	if err := s.db.WithContext(ctx).Order("source_id").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// SaveSyncMetadata inserts or updates a source's metadata record.
func (s *Store) SaveSyncMetadata(ctx context.Context, meta *model.SyncMetadata) error {
	return s.db.WithContext(ctx).Save(meta).Error
}

// ResetRetry clears a source's retry state so it becomes immediately
// eligible again, without requiring a successful sync.
func (s *Store) ResetRetry(ctx context.Context, sourceID string) error {
	res := s.db.WithContext(ctx).Model(&model.SyncMetadata{}).
		Where("source_id = ?", sourceID).
		Updates(map[string]any{"retry_count": 0, "next_retry_time": nil})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
