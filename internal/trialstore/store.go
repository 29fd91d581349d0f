// Package trialstore persists normalized trial records in SQLite so the API
// can serve trial metadata and eligibility checks without the raw feed.
package trialstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite" // SQLite driver

	"trialwhisperer/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS trials (
	nct_id      TEXT PRIMARY KEY,
	title       TEXT NOT NULL DEFAULT '',
	payload     TEXT NOT NULL,
	ingested_at TEXT NOT NULL
)`

// Store implements domain.TrialRepository on a single SQLite file.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

var _ domain.TrialRepository = (*Store)(nil)

// Open creates or opens the database at path, creating parent directories.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Store{db: db, path: path, now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Path() string { return s.path }

// Save upserts records in one transaction. Re-ingesting a trial replaces it.
func (s *Store) Save(ctx context.Context, records ...domain.TrialRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stamp := s.now().UTC().Format(time.RFC3339Nano)
	for _, rec := range records {
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshalling %s: %w", rec.NCTID, err)
		}
		query, args, err := sq.Insert("trials").
			Columns("nct_id", "title", "payload", "ingested_at").
			Values(rec.NCTID, rec.Title, string(payload), stamp).
			Suffix("ON CONFLICT(nct_id) DO UPDATE SET title = excluded.title, payload = excluded.payload, ingested_at = excluded.ingested_at").
			ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("saving %s: %w", rec.NCTID, err)
		}
	}
	return tx.Commit()
}

// Get returns the stored record or domain.ErrNotFound.
func (s *Store) Get(ctx context.Context, nctID string) (domain.TrialRecord, error) {
	query, args, err := sq.Select("payload").From("trials").Where(sq.Eq{"nct_id": nctID}).ToSql()
	if err != nil {
		return domain.TrialRecord{}, err
	}
	var payload string
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.TrialRecord{}, fmt.Errorf("trial %s: %w", nctID, domain.ErrNotFound)
		}
		return domain.TrialRecord{}, fmt.Errorf("loading %s: %w", nctID, err)
	}
	var rec domain.TrialRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return domain.TrialRecord{}, fmt.Errorf("decoding %s: %w", nctID, err)
	}
	return rec, nil
}

// IDs lists stored trial ids in ascending order.
func (s *Store) IDs(ctx context.Context) ([]string, error) {
	query, args, err := sq.Select("nct_id").From("trials").OrderBy("nct_id").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing trials: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) Count(ctx context.Context) (int, error) {
	query, args, err := sq.Select("COUNT(*)").From("trials").ToSql()
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting trials: %w", err)
	}
	return n, nil
}

// LastUpdated is the most recent ingestion time, zero when the store is empty.
func (s *Store) LastUpdated(ctx context.Context) (time.Time, error) {
	query, args, err := sq.Select("MAX(ingested_at)").From("trials").ToSql()
	if err != nil {
		return time.Time{}, err
	}
	var stamp sql.NullString
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&stamp); err != nil {
		return time.Time{}, fmt.Errorf("reading last update: %w", err)
	}
	if !stamp.Valid || stamp.String == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, stamp.String)
}
