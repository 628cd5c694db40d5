//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"paideia/internal/model"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS epoch_records (
			run_id TEXT NOT NULL,
			epoch INTEGER NOT NULL,
			payload TEXT NOT NULL,
			PRIMARY KEY (run_id, epoch)
		)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			epoch INTEGER NOT NULL,
			payload TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS checkpoints_run_id ON checkpoints (run_id, epoch)`,
		`CREATE TABLE IF NOT EXISTS run_summaries (
			run_id TEXT PRIMARY KEY,
			payload TEXT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("sqlite store is not initialized")
	}
	return s.db, nil
}

func (s *SQLiteStore) SaveEpochRecord(ctx context.Context, record model.EpochRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT OR REPLACE INTO epoch_records (run_id, epoch, payload) VALUES (?, ?, ?)`,
		record.RunID, record.Epoch, string(payload))
	return err
}

func (s *SQLiteStore) EpochRecords(ctx context.Context, runID string) ([]model.EpochRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT payload FROM epoch_records WHERE run_id = ? ORDER BY epoch`, runID)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var records []model.EpochRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, false, err
		}
		var record model.EpochRecord
		if err := json.Unmarshal([]byte(payload), &record); err != nil {
			return nil, false, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return records, len(records) > 0, nil
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, record model.CheckpointRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT OR REPLACE INTO checkpoints (id, run_id, epoch, payload) VALUES (?, ?, ?, ?)`,
		record.ID, record.RunID, record.Epoch, string(payload))
	return err
}

func (s *SQLiteStore) GetCheckpoint(ctx context.Context, id string) (model.CheckpointRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.CheckpointRecord{}, false, err
	}
	var payload string
	err = db.QueryRowContext(ctx, `SELECT payload FROM checkpoints WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CheckpointRecord{}, false, nil
	}
	if err != nil {
		return model.CheckpointRecord{}, false, err
	}
	var record model.CheckpointRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return model.CheckpointRecord{}, false, err
	}
	return record, true, nil
}

func (s *SQLiteStore) Checkpoints(ctx context.Context, runID string) ([]model.CheckpointRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT payload FROM checkpoints WHERE run_id = ? ORDER BY epoch`, runID)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var records []model.CheckpointRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, false, err
		}
		var record model.CheckpointRecord
		if err := json.Unmarshal([]byte(payload), &record); err != nil {
			return nil, false, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return records, len(records) > 0, nil
}

func (s *SQLiteStore) SaveRunSummary(ctx context.Context, summary model.RunSummary) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT OR REPLACE INTO run_summaries (run_id, payload) VALUES (?, ?)`,
		summary.RunID, string(payload))
	return err
}

func (s *SQLiteStore) GetRunSummary(ctx context.Context, runID string) (model.RunSummary, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.RunSummary{}, false, err
	}
	var payload string
	err = db.QueryRowContext(ctx, `SELECT payload FROM run_summaries WHERE run_id = ?`, runID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RunSummary{}, false, nil
	}
	if err != nil {
		return model.RunSummary{}, false, err
	}
	var summary model.RunSummary
	if err := json.Unmarshal([]byte(payload), &summary); err != nil {
		return model.RunSummary{}, false, err
	}
	return summary, true, nil
}

func (s *SQLiteStore) RunSummaries(ctx context.Context) ([]model.RunSummary, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT payload FROM run_summaries`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []model.RunSummary
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var summary model.RunSummary
		if err := json.Unmarshal([]byte(payload), &summary); err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return summaries, nil
}

func (s *SQLiteStore) Reset(ctx context.Context) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	for _, table := range []string{"epoch_records", "checkpoints", "run_summaries"} {
		if _, err := db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func newSQLiteStore(path string) (Store, error) {
	return NewSQLiteStore(path), nil
}
