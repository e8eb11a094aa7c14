// Package devserver is an in-process implementation of the plot sync
// service wire contract, used for local development and hermetic tests.
// It keeps full project snapshots in SQLite behind GORM, enforces the
// optimistic-concurrency contract on writes, and notifies connected
// websocket clients when a project changes.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrProjectNotFound is returned when no row exists for a project id.
var ErrProjectNotFound = errors.New("devserver: project not found")

// ConflictError reports a stale-base write. Current is the version the
// server holds; the 409 body carries it back to the client.
type ConflictError struct {
	ProjectID string
	Base      int64
	Current   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("devserver: project %s: base version %d does not match current %d",
		e.ProjectID, e.Base, e.Current)
}

// ProjectRow is one project's current snapshot.
type ProjectRow struct {
	ID        string `gorm:"primaryKey"`
	Name      string
	Version   int64
	Payload   []byte
	UpdatedAt time.Time
}

// RevisionRow is one accepted write. Revisions are append-only; they
// give the dev server a version history to inspect when debugging
// client sync behavior.
type RevisionRow struct {
	ID        uint   `gorm:"primaryKey"`
	ProjectID string `gorm:"index:idx_revisions_project"`
	Version   int64
	Payload   []byte
	CreatedAt time.Time
}

// Store persists projects and their revision history in SQLite via GORM.
type Store struct {
	db *gorm.DB
}

// NewStore opens (creating if needed) the dev server database. An empty
// path uses a private in-memory database, which suits tests. Shared
// cache keeps the database alive across the connection pool.
func NewStore(path string, lg *slog.Logger) (*Store, error) {
	if path == "" {
		path = "file:devserver-" + uuid.NewString() + "?mode=memory&cache=shared"
	} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
		Logger:  newGormLogger(lg),
	})
	if err != nil {
		return nil, fmt.Errorf("opening dev server database: %w", err)
	}

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")
	db.Exec("PRAGMA foreign_keys=ON")

	if err := db.AutoMigrate(&ProjectRow{}, &RevisionRow{}); err != nil {
		return nil, fmt.Errorf("migrating dev server schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Get returns the current snapshot row for a project.
func (s *Store) Get(ctx context.Context, id string) (*ProjectRow, error) {
	var row ProjectRow

	err := withRetry(func() error {
		return s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProjectNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("loading project %s: %w", id, err)
	}

	return &row, nil
}

// Put applies a full-snapshot write against the given base version and
// returns the new version. A project the server has never seen is
// created at version 1 regardless of base, so offline-created projects
// land on their first push. A stale base returns *ConflictError.
func (s *Store) Put(ctx context.Context, id, name string, payload []byte, base int64) (int64, error) {
	var newVersion int64

	err := withRetry(func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var row ProjectRow

			err := tx.Where("id = ?", id).First(&row).Error

			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				newVersion = 1
				row = ProjectRow{ID: id, Name: name, Version: newVersion, Payload: payload}

				if err := tx.Create(&row).Error; err != nil {
					return fmt.Errorf("creating project %s: %w", id, err)
				}

			case err != nil:
				return fmt.Errorf("loading project %s: %w", id, err)

			case row.Version != base:
				return &ConflictError{ProjectID: id, Base: base, Current: row.Version}

			default:
				newVersion = row.Version + 1

				updates := map[string]any{
					"name":    name,
					"version": newVersion,
					"payload": payload,
				}
				if err := tx.Model(&ProjectRow{}).Where("id = ?", id).Updates(updates).Error; err != nil {
					return fmt.Errorf("updating project %s: %w", id, err)
				}
			}

			rev := RevisionRow{ProjectID: id, Version: newVersion, Payload: payload}
			if err := tx.Create(&rev).Error; err != nil {
				return fmt.Errorf("recording revision for %s: %w", id, err)
			}

			return nil
		})
	})
	if err != nil {
		return 0, err
	}

	return newVersion, nil
}

// List returns every project row, most recently written first.
func (s *Store) List(ctx context.Context) ([]ProjectRow, error) {
	var rows []ProjectRow

	err := withRetry(func() error {
		return s.db.WithContext(ctx).Order("updated_at DESC").Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}

	return rows, nil
}

// Revisions returns a project's accepted writes, newest first, up to
// limit (0 means all).
func (s *Store) Revisions(ctx context.Context, projectID string, limit int) ([]RevisionRow, error) {
	var rows []RevisionRow

	err := withRetry(func() error {
		q := s.db.WithContext(ctx).
			Where("project_id = ?", projectID).
			Order("version DESC")

		if limit > 0 {
			q = q.Limit(limit)
		}

		return q.Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("listing revisions for %s: %w", projectID, err)
	}

	return rows, nil
}

// Delete removes a project and its revisions.
func (s *Store) Delete(ctx context.Context, id string) error {
	return withRetry(func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			result := tx.Where("id = ?", id).Delete(&ProjectRow{})
			if result.Error != nil {
				return fmt.Errorf("deleting project %s: %w", id, result.Error)
			}

			if result.RowsAffected == 0 {
				return ErrProjectNotFound
			}

			if err := tx.Where("project_id = ?", id).Delete(&RevisionRow{}).Error; err != nil {
				return fmt.Errorf("deleting revisions for %s: %w", id, err)
			}

			return nil
		})
	})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

// withRetry retries on SQLITE_BUSY/SQLITE_LOCKED with linear backoff.
func withRetry(fn func() error) error {
	const maxRetries = 3

	var err error

	for i := range maxRetries {
		err = fn()
		if err == nil {
			return nil
		}

		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) &&
			(sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked) {
			time.Sleep(time.Duration(50*(i+1)) * time.Millisecond)

			continue
		}

		return err
	}

	return err
}

// gormLogger adapts slog for GORM. Queries log at debug, slow queries
// and errors at warn.
type gormLogger struct {
	lg *slog.Logger
}

func newGormLogger(lg *slog.Logger) logger.Interface {
	if lg == nil {
		lg = slog.Default()
	}

	return &gormLogger{lg: lg}
}

func (l *gormLogger) LogMode(logger.LogLevel) logger.Interface { return l }

func (l *gormLogger) Info(_ context.Context, msg string, args ...any) {
	l.lg.Info(fmt.Sprintf(msg, args...))
}

func (l *gormLogger) Warn(_ context.Context, msg string, args ...any) {
	l.lg.Warn(fmt.Sprintf(msg, args...))
}

func (l *gormLogger) Error(_ context.Context, msg string, args ...any) {
	l.lg.Error(fmt.Sprintf(msg, args...))
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	sql, rows := fc()

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		l.lg.Warn("query failed", "error", err, "sql", sql, "rows", rows)
	case elapsed > 200*time.Millisecond:
		l.lg.Warn("slow query", "duration", elapsed, "sql", sql, "rows", rows)
	default:
		l.lg.Debug("query", "duration", elapsed, "sql", sql, "rows", rows)
	}
}
