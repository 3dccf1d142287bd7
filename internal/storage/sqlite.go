package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"dinosim/internal/model"

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
	db.SetMaxOpenConns(1)

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

func (s *SQLiteStore) SaveGenome(ctx context.Context, genome model.Genome) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeGenome(genome)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO genomes (id, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, genome.ID, genome.SchemaVersion, genome.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetGenome(ctx context.Context, id string) (model.Genome, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.Genome{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM genomes WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Genome{}, false, nil
		}
		return model.Genome{}, false, err
	}

	genome, err := DecodeGenome(payload)
	if err != nil {
		return model.Genome{}, false, fmt.Errorf("decode genome %s: %w", id, err)
	}
	return genome, true, nil
}

func (s *SQLiteStore) ListGenomes(ctx context.Context) ([]model.Genome, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT id, payload FROM genomes ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Genome
	for rows.Next() {
		var (
			id      string
			payload []byte
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		genome, err := DecodeGenome(payload)
		if err != nil {
			return nil, fmt.Errorf("decode genome %s: %w", id, err)
		}
		out = append(out, genome)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveFitnessHistory(ctx context.Context, runID string, history []float64) error {
	payload, err := EncodeFitnessHistory(history)
	if err != nil {
		return err
	}
	return s.putRunPayload(ctx, "fitness_history", runID, payload)
}

func (s *SQLiteStore) GetFitnessHistory(ctx context.Context, runID string) ([]float64, bool, error) {
	payload, ok, err := s.getRunPayload(ctx, "fitness_history", runID)
	if err != nil || !ok {
		return nil, ok, err
	}
	history, err := DecodeFitnessHistory(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode fitness history %s: %w", runID, err)
	}
	return history, true, nil
}

func (s *SQLiteStore) SaveGenerationDiagnostics(ctx context.Context, runID string, diagnostics []model.GenerationDiagnostics) error {
	payload, err := EncodeGenerationDiagnostics(diagnostics)
	if err != nil {
		return err
	}
	return s.putRunPayload(ctx, "generation_diagnostics", runID, payload)
}

func (s *SQLiteStore) GetGenerationDiagnostics(ctx context.Context, runID string) ([]model.GenerationDiagnostics, bool, error) {
	payload, ok, err := s.getRunPayload(ctx, "generation_diagnostics", runID)
	if err != nil || !ok {
		return nil, ok, err
	}
	diagnostics, err := DecodeGenerationDiagnostics(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode generation diagnostics %s: %w", runID, err)
	}
	return diagnostics, true, nil
}

func (s *SQLiteStore) SaveRunSummary(ctx context.Context, summary model.RunSummary) error {
	payload, err := EncodeRunSummary(summary)
	if err != nil {
		return err
	}
	return s.putRunPayload(ctx, "run_summaries", summary.RunID, payload)
}

func (s *SQLiteStore) GetRunSummary(ctx context.Context, runID string) (model.RunSummary, bool, error) {
	payload, ok, err := s.getRunPayload(ctx, "run_summaries", runID)
	if err != nil || !ok {
		return model.RunSummary{}, ok, err
	}
	summary, err := DecodeRunSummary(payload)
	if err != nil {
		return model.RunSummary{}, false, fmt.Errorf("decode run summary %s: %w", runID, err)
	}
	return summary, true, nil
}

func (s *SQLiteStore) ListRunSummaries(ctx context.Context) ([]model.RunSummary, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT run_id, payload FROM run_summaries`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RunSummary
	for rows.Next() {
		var (
			runID   string
			payload []byte
		)
		if err := rows.Scan(&runID, &payload); err != nil {
			return nil, err
		}
		summary, err := DecodeRunSummary(payload)
		if err != nil {
			return nil, fmt.Errorf("decode run summary %s: %w", runID, err)
		}
		out = append(out, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortRunSummaries(out)
	return out, nil
}

func (s *SQLiteStore) Reset(ctx context.Context) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, table := range []string{"genomes", "fitness_history", "generation_diagnostics", "run_summaries"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return tx.Commit()
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

// putRunPayload upserts a run-keyed payload. table is always one of the
// fixed names created by createTables.
func (s *SQLiteStore) putRunPayload(ctx context.Context, table, runID string, payload []byte) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO `+table+` (run_id, payload)
		VALUES (?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			payload = excluded.payload
	`, runID, payload)
	return err
}

func (s *SQLiteStore) getRunPayload(ctx context.Context, table, runID string) ([]byte, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM `+table+` WHERE run_id = ?`, runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return payload, true, nil
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrNotInitialized
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS genomes (
			id TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS fitness_history (
			run_id TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS generation_diagnostics (
			run_id TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS run_summaries (
			run_id TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		);
	`)
	return err
}
