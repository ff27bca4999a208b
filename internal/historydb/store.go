package historydb

import (
	"errors"
	"strings"
	"time"

	dbmodel "penman/cli/internal/db"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Entry struct {
	Path        string
	Encoding    string
	FirstOpened time.Time
	LastOpened  time.Time
	OpenCount   int
}

type Run struct {
	ID        int64
	Line      string
	Dir       string
	Subsystem int
	ExitCode  int
	Cancelled bool
	Err       string
	Duration  time.Duration
	StartedAt time.Time
}

var errNotInitialized = errors.New("history store is not initialized")

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore uses a shared DB. Caller must not close the db through the store.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &Store{db: db, now: time.Now}, nil
}

// Upsert records an open of path, bumping its count and recency.
func (s *Store) Upsert(path, encoding string) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	p := strings.TrimSpace(path)
	if p == "" {
		return errors.New("path is required")
	}
	now := s.now().UTC().UnixNano()
	row := dbmodel.RecentFile{
		Path:          p,
		Encoding:      encoding,
		FirstOpenedAt: now,
		LastOpenedAt:  now,
		OpenCount:     1,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "path"}},
		DoUpdates: clause.Assignments(map[string]any{
			"last_opened_at": now,
			"encoding":       encoding,
			"open_count":     gorm.Expr("recent_files.open_count + 1"),
		}),
	}).Create(&row).Error
}

func (s *Store) List(limit int) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}
	if limit <= 0 {
		limit = 20
	}
	rows := make([]dbmodel.RecentFile, 0, limit)
	if err := s.db.Order("last_opened_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, Entry{
			Path:        row.Path,
			Encoding:    row.Encoding,
			FirstOpened: time.Unix(0, row.FirstOpenedAt).UTC(),
			LastOpened:  time.Unix(0, row.LastOpenedAt).UTC(),
			OpenCount:   row.OpenCount,
		})
	}
	return entries, nil
}

// Trim keeps only the keep most recent files.
func (s *Store) Trim(keep int) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	if keep <= 0 {
		return s.Clear()
	}
	return s.db.Exec(`DELETE FROM recent_files WHERE path NOT IN (
		SELECT path FROM recent_files ORDER BY last_opened_at DESC LIMIT ?)`, keep).Error
}

func (s *Store) Clear() error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	return s.db.Where("1 = 1").Delete(&dbmodel.RecentFile{}).Error
}

func (s *Store) RecordRun(run Run) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	started := run.StartedAt
	if started.IsZero() {
		started = s.now()
	}
	row := dbmodel.CommandRun{
		Line:       strings.TrimSpace(run.Line),
		Dir:        run.Dir,
		Subsystem:  run.Subsystem,
		ExitCode:   run.ExitCode,
		Cancelled:  run.Cancelled,
		ErrorText:  run.Err,
		DurationMS: run.Duration.Milliseconds(),
		StartedAt:  started.UTC().UnixNano(),
	}
	return s.db.Create(&row).Error
}

func (s *Store) ListRuns(limit int) ([]Run, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}
	if limit <= 0 {
		limit = 20
	}
	rows := make([]dbmodel.CommandRun, 0, limit)
	if err := s.db.Order("started_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	runs := make([]Run, 0, len(rows))
	for _, row := range rows {
		runs = append(runs, Run{
			ID:        row.ID,
			Line:      row.Line,
			Dir:       row.Dir,
			Subsystem: row.Subsystem,
			ExitCode:  row.ExitCode,
			Cancelled: row.Cancelled,
			Err:       row.ErrorText,
			Duration:  time.Duration(row.DurationMS) * time.Millisecond,
			StartedAt: time.Unix(0, row.StartedAt).UTC(),
		})
	}
	return runs, nil
}

// Close is a no-op; the DB belongs to the caller.
func (s *Store) Close() error {
	return nil
}
