// Package store persists yield records and the run history in SQLite.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yieldforecast/forecaster/internal/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrAlreadyFinished = errors.New("already finished")

type Store struct {
	db *gorm.DB
}

// Open connects to the SQLite database at dsn, ":memory:" included.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", dsn, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers, and every :memory: connection is a new
	// database
	sqlDB.SetMaxOpenConns(1)
	return New(db), nil
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&model.YieldRecord{}, &model.Run{})
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveRecord inserts rec when its ID is zero and updates it otherwise. The
// assigned ID is written back to rec.
func (s *Store) SaveRecord(ctx context.Context, rec *model.YieldRecord) error {
	if err := s.db.WithContext(ctx).Save(rec).Error; err != nil {
		return fmt.Errorf("saving yield record: %w", err)
	}
	return nil
}

// FindRecord returns model.ErrNotFound when no record has the id.
func (s *Store) FindRecord(ctx context.Context, id uint64) (model.YieldRecord, error) {
	var rec model.YieldRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return model.YieldRecord{}, fmt.Errorf("yield record %d: %w", id, model.ErrNotFound)
	case err != nil:
		return model.YieldRecord{}, fmt.Errorf("finding yield record %d: %w", id, err)
	}
	return rec, nil
}

// ListRecords returns the newest observations first, only those of owner when it
// is not nil. A non-positive limit returns all of them.
func (s *Store) ListRecords(ctx context.Context, owner *uint64, limit int) ([]model.YieldRecord, error) {
	q := s.db.WithContext(ctx).Order("observation_date DESC, id DESC")
	if owner != nil {
		q = q.Where("owner_user_id = ?", *owner)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []model.YieldRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("listing yield records: %w", err)
	}
	return recs, nil
}

// StartRun records run as in progress. Starting a run which is still in
// progress is a no-op, a finished one yields ErrAlreadyFinished.
func (s *Store) StartRun(ctx context.Context, run model.Run) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur model.Run
		err := tx.Where("run_id = ?", run.RunID).First(&cur).Error
		switch {
		case err == nil && cur.InProgress:
			return nil
		case err == nil:
			return ErrAlreadyFinished
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("finding run %s: %w", run.RunID, err)
		}

		run.ID = 0
		run.InProgress = true
		run.Success = nil
		run.FinishedAt = nil
		if run.StartedAt.IsZero() {
			run.StartedAt = time.Now().UTC()
		}
		if err := tx.Create(&run).Error; err != nil {
			return fmt.Errorf("creating run %s: %w", run.RunID, err)
		}
		return nil
	})
}

// FinishRunOK marks the run successful and links the saved record.
func (s *Store) FinishRunOK(ctx context.Context, runID string, recordID *uint64) error {
	return s.finish(ctx, runID, map[string]any{
		"success":   true,
		"record_id": recordID,
	})
}

func (s *Store) FinishRunErr(ctx context.Context, runID, reason string) error {
	return s.finish(ctx, runID, map[string]any{
		"success":        false,
		"failure_reason": reason,
	})
}

func (s *Store) finish(ctx context.Context, runID string, updates map[string]any) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur model.Run
		err := tx.Where("run_id = ?", runID).First(&cur).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("run %s: %w", runID, model.ErrNotFound)
		case err != nil:
			return fmt.Errorf("finding run %s: %w", runID, err)
		case !cur.InProgress:
			return ErrAlreadyFinished
		}

		updates["in_progress"] = false
		updates["finished_at"] = time.Now().UTC()
		if err := tx.Model(&cur).Updates(updates).Error; err != nil {
			return fmt.Errorf("finishing run %s: %w", runID, err)
		}
		return nil
	})
}

// GetRun returns model.ErrNotFound for unknown run ids.
func (s *Store) GetRun(ctx context.Context, runID string) (model.Run, error) {
	var run model.Run
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).First(&run).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return model.Run{}, fmt.Errorf("run %s: %w", runID, model.ErrNotFound)
	case err != nil:
		return model.Run{}, fmt.Errorf("finding run %s: %w", runID, err)
	}
	return run, nil
}
