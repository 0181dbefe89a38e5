// Package sqlite provides a SQLite-backed provenance store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/louisbranch/tarot.space/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/tarot.space/internal/services/reader/draw"
	"github.com/louisbranch/tarot.space/internal/services/reader/entropy"
	"github.com/louisbranch/tarot.space/internal/services/reader/storage"
	"github.com/louisbranch/tarot.space/internal/services/reader/storage/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists draw provenance in SQLite.
type Store struct {
	sqlDB *sql.DB
}

var _ storage.ProvenanceStore = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite provenance store and applies embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.Apply(ctx, sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// RecordDraw inserts one draw record.
func (s *Store) RecordDraw(ctx context.Context, rec draw.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	drawID := strings.TrimSpace(rec.Provenance.ID)
	if drawID == "" {
		return fmt.Errorf("draw id is required")
	}
	if rec.Request.N <= 0 {
		return fmt.Errorf("draw count must be greater than zero")
	}
	attempts := rec.Provenance.Attempts
	if attempts == nil {
		attempts = []draw.Attempt{}
	}
	attemptsJSON, err := json.Marshal(attempts)
	if err != nil {
		return fmt.Errorf("encode attempts: %w", err)
	}
	draws := rec.Draws
	if draws == nil {
		draws = []draw.Card{}
	}
	drawsJSON, err := json.Marshal(draws)
	if err != nil {
		return fmt.Errorf("encode draws: %w", err)
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO draw_provenance (
		   id,
		   n,
		   allow_duplicates,
		   allow_reversals,
		   method_used,
		   attempts_json,
		   draws_json,
		   error,
		   created_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		drawID,
		rec.Request.N,
		rec.Request.AllowDuplicates,
		rec.Request.AllowReversals,
		string(rec.Provenance.MethodUsed),
		string(attemptsJSON),
		string(drawsJSON),
		rec.Error,
		toMillis(createdAt),
	)
	if err != nil {
		if isPrimaryKeyViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("record draw: %w", err)
	}
	return nil
}

// GetDraw returns one draw record by provenance id.
func (s *Store) GetDraw(ctx context.Context, id string) (draw.Record, error) {
	if err := ctx.Err(); err != nil {
		return draw.Record{}, err
	}
	if s == nil || s.sqlDB == nil {
		return draw.Record{}, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return draw.Record{}, fmt.Errorf("draw id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, n, allow_duplicates, allow_reversals, method_used,
		        attempts_json, draws_json, error, created_at
		   FROM draw_provenance
		  WHERE id = ?`,
		id,
	)
	var (
		rec          draw.Record
		methodUsed   string
		attemptsJSON string
		drawsJSON    string
		createdAt    int64
	)
	err := row.Scan(
		&rec.Provenance.ID,
		&rec.Request.N,
		&rec.Request.AllowDuplicates,
		&rec.Request.AllowReversals,
		&methodUsed,
		&attemptsJSON,
		&drawsJSON,
		&rec.Error,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return draw.Record{}, storage.ErrNotFound
		}
		return draw.Record{}, fmt.Errorf("get draw: %w", err)
	}
	if err := json.Unmarshal([]byte(attemptsJSON), &rec.Provenance.Attempts); err != nil {
		return draw.Record{}, fmt.Errorf("decode attempts: %w", err)
	}
	if err := json.Unmarshal([]byte(drawsJSON), &rec.Draws); err != nil {
		return draw.Record{}, fmt.Errorf("decode draws: %w", err)
	}
	rec.Provenance.MethodUsed = entropy.Tier(methodUsed)
	rec.CreatedAt = fromMillis(createdAt)
	return rec, nil
}

func isPrimaryKeyViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
