package benchmark

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no stored result matches
var ErrNotFound = errors.New("benchmark result not found")

// Store provides persistence for benchmark results.
type Store struct {
	db *sql.DB
}

// NewStore creates a new benchmark store.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate benchmark tables: %w", err)
	}
	return s, nil
}

// migrate creates the benchmark tables if they don't exist.
func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS benchmark_results (
			id TEXT PRIMARY KEY,
			timestamp DATETIME NOT NULL,

			-- Run
			run_name TEXT NOT NULL,
			endpoint TEXT,
			instance_type TEXT,
			model_id TEXT,
			users INTEGER NOT NULL DEFAULT 0,

			-- Summary
			prompt_tokens REAL NOT NULL,
			generated_tokens REAL NOT NULL,
			requests_per_second REAL NOT NULL,
			ttft_seconds REAL NOT NULL,
			throughput REAL NOT NULL,

			source TEXT,

			-- Full JSON for detailed data
			full_result_json TEXT,

			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_benchmark_results_run ON benchmark_results(run_name);
		CREATE INDEX IF NOT EXISTS idx_benchmark_results_model ON benchmark_results(model_id);
		CREATE INDEX IF NOT EXISTS idx_benchmark_results_timestamp ON benchmark_results(timestamp);
	`)
	return err
}

// Save stores a benchmark result.
func (s *Store) Save(ctx context.Context, result *Result) error {
	if result.ID == "" {
		result.ID = uuid.New().String()
	}
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now()
	}
	if result.RunName == "" {
		result.RunName = result.Summary.RunName
	}

	fullJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO benchmark_results (
			id, timestamp,
			run_name, endpoint, instance_type, model_id, users,
			prompt_tokens, generated_tokens, requests_per_second, ttft_seconds, throughput,
			source, full_result_json
		) VALUES (
			?, ?,
			?, ?, ?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?
		)
	`,
		result.ID, result.Timestamp,
		result.RunName, result.Endpoint, result.InstanceType, result.ModelID, result.Users,
		result.Summary.PromptTokens, result.Summary.GeneratedTokens, result.Summary.RequestsPerSecond,
		result.Summary.TTFTSeconds, result.Summary.Throughput,
		result.Source, string(fullJSON),
	)
	return err
}

// Get retrieves a benchmark result by ID.
func (s *Store) Get(ctx context.Context, id string) (*Result, error) {
	var fullJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT full_result_json FROM benchmark_results WHERE id = ?
	`, id).Scan(&fullJSON)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var result Result
	if err := json.Unmarshal([]byte(fullJSON), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListRecent returns the most recent results.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]*Result, error) {
	return s.query(ctx, `
		SELECT full_result_json FROM benchmark_results
		ORDER BY timestamp DESC
		LIMIT ?
	`, limit)
}

// ListByRun returns all results recorded under a run name.
func (s *Store) ListByRun(ctx context.Context, runName string) ([]*Result, error) {
	return s.query(ctx, `
		SELECT full_result_json FROM benchmark_results
		WHERE run_name = ?
		ORDER BY timestamp DESC
	`, runName)
}

// BestThroughput returns the result with the highest output token
// throughput, optionally restricted to one model.
func (s *Store) BestThroughput(ctx context.Context, modelID string) (*Result, error) {
	query := `SELECT full_result_json FROM benchmark_results`
	var args []interface{}
	if modelID != "" {
		query += ` WHERE model_id = ?`
		args = append(args, modelID)
	}
	query += ` ORDER BY throughput DESC LIMIT 1`

	results, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNotFound
	}
	return results[0], nil
}

// query is a helper to run a query and parse results.
func (s *Store) query(ctx context.Context, query string, args ...interface{}) ([]*Result, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*Result
	for rows.Next() {
		var fullJSON string
		if err := rows.Scan(&fullJSON); err != nil {
			return nil, err
		}
		var result Result
		if err := json.Unmarshal([]byte(fullJSON), &result); err != nil {
			return nil, err
		}
		results = append(results, &result)
	}
	return results, rows.Err()
}
