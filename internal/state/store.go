package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Store persists script records and settings in SQLite.
//
// Every mutation is a read-modify-write inside one transaction, and the
// store additionally serializes writers with a mutex so two runs finishing
// at the same moment cannot interleave their read and write halves.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get returns the record for path, or an empty record if none exists yet.
func (s *Store) Get(ctx context.Context, path string) (ScriptRecord, error) {
	if path == "" {
		return ScriptRecord{}, fmt.Errorf("script path is empty")
	}

	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT record FROM script_records WHERE path = ?;", path).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return emptyRecord(path), nil
	}
	if err != nil {
		return ScriptRecord{}, fmt.Errorf("read script record: %w", err)
	}
	return decodeRecord(path, raw)
}

// List returns all stored records ordered by path.
func (s *Store) List(ctx context.Context) ([]ScriptRecord, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT path, record FROM script_records ORDER BY path ASC;")
	if err != nil {
		return nil, fmt.Errorf("list script records: %w", err)
	}
	defer rows.Close()

	var out []ScriptRecord
	for rows.Next() {
		var path, raw string
		if err := rows.Scan(&path, &raw); err != nil {
			return nil, fmt.Errorf("scan script record: %w", err)
		}
		rec, err := decodeRecord(path, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate script records: %w", err)
	}
	return out, nil
}

// Record prepends entry to the script's history, trims it to historyLimit
// (0 = unlimited), increments the run count and refreshes Last.
func (s *Store) Record(ctx context.Context, path string, entry ExecutionEntry, historyLimit int) (ScriptRecord, error) {
	if !entry.Mode.Valid() {
		return ScriptRecord{}, fmt.Errorf("invalid execution mode %q", entry.Mode)
	}
	if historyLimit < 0 {
		historyLimit = 0
	}
	return s.mutate(ctx, path, func(r *ScriptRecord) error {
		r.prepend(entry, historyLimit)
		return nil
	})
}

// Clear empties history and the last-run fields. RunCount is kept.
func (s *Store) Clear(ctx context.Context, path string) (ScriptRecord, error) {
	return s.mutate(ctx, path, func(r *ScriptRecord) error {
		r.History = nil
		return nil
	})
}

// UpdateMeta applies user edits (favorite, icon, overrides) to a record.
func (s *Store) UpdateMeta(ctx context.Context, path string, patch MetaPatch) (ScriptRecord, error) {
	return s.mutate(ctx, path, patch.apply)
}

// Delete removes a record entirely. It returns ErrRecordNotFound if there
// was nothing to delete.
func (s *Store) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM script_records WHERE path = ?;", path)
	if err != nil {
		return fmt.Errorf("delete script record: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, path)
	}
	return nil
}

func (s *Store) mutate(ctx context.Context, path string, fn func(*ScriptRecord) error) (ScriptRecord, error) {
	if path == "" {
		return ScriptRecord{}, fmt.Errorf("script path is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ScriptRecord{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	rec := emptyRecord(path)
	err = tx.QueryRowContext(ctx, "SELECT record FROM script_records WHERE path = ?;", path).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return ScriptRecord{}, fmt.Errorf("read script record: %w", err)
	default:
		if rec, err = decodeRecord(path, raw); err != nil {
			return ScriptRecord{}, err
		}
	}

	if err := fn(&rec); err != nil {
		return ScriptRecord{}, err
	}
	rec.syncLast()

	encoded, err := json.Marshal(rec)
	if err != nil {
		return ScriptRecord{}, fmt.Errorf("marshal script record: %w", err)
	}

	var lastRun any
	if rec.Last != nil {
		lastRun = rec.Last.At.UTC().Format(time.RFC3339Nano)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = tx.ExecContext(ctx, `
INSERT INTO script_records(path, record, run_count, last_run, updated_at)
VALUES(?, ?, ?, ?, ?)
ON CONFLICT(path) DO UPDATE SET
  record = excluded.record,
  run_count = excluded.run_count,
  last_run = excluded.last_run,
  updated_at = excluded.updated_at;
`, path, string(encoded), rec.RunCount, lastRun, now)
	if err != nil {
		return ScriptRecord{}, fmt.Errorf("upsert script record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ScriptRecord{}, fmt.Errorf("commit tx: %w", err)
	}
	return rec, nil
}

// LoadSettings returns the stored settings. On first use, seed is validated,
// stored and returned.
func (s *Store) LoadSettings(ctx context.Context, seed Settings) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM settings WHERE id = 1;").Scan(&raw)
	if err == nil {
		var out Settings
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return Settings{}, fmt.Errorf("decode stored settings: %w", err)
		}
		if err := out.Validate(); err != nil {
			return Settings{}, fmt.Errorf("stored settings: %w", err)
		}
		return out, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}

	if err := seed.Validate(); err != nil {
		return Settings{}, err
	}
	if err := s.writeSettings(ctx, s.db, seed); err != nil {
		return Settings{}, err
	}
	return seed, nil
}

// SaveSettings merges patch into the stored settings and commits the result
// before returning it. Nothing is written if the merged settings are invalid.
func (s *Store) SaveSettings(ctx context.Context, patch SettingsPatch) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Settings{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current := DefaultSettings()
	var raw string
	err = tx.QueryRowContext(ctx, "SELECT data FROM settings WHERE id = 1;").Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return Settings{}, fmt.Errorf("read settings: %w", err)
	default:
		if err := json.Unmarshal([]byte(raw), &current); err != nil {
			return Settings{}, fmt.Errorf("decode stored settings: %w", err)
		}
	}

	merged := current.Apply(patch)
	if err := merged.Validate(); err != nil {
		return Settings{}, err
	}
	if err := s.writeSettings(ctx, tx, merged); err != nil {
		return Settings{}, err
	}
	if err := tx.Commit(); err != nil {
		return Settings{}, fmt.Errorf("commit tx: %w", err)
	}
	return merged, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) writeSettings(ctx context.Context, ex execer, settings Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = ex.ExecContext(ctx, `
INSERT INTO settings(id, data, updated_at)
VALUES(1, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  data = excluded.data,
  updated_at = excluded.updated_at;
`, string(data), now)
	if err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

func emptyRecord(path string) ScriptRecord {
	return ScriptRecord{Path: path, History: []ExecutionEntry{}}
}

func decodeRecord(path, raw string) (ScriptRecord, error) {
	var rec ScriptRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return ScriptRecord{}, fmt.Errorf("stored record is invalid JSON for path=%q: %w", path, err)
	}
	rec.Path = path
	rec.syncLast()
	return rec, nil
}
