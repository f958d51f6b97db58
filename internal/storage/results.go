package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gpubench/gpubench/internal/bench"
)

// Run is one orchestrator invocation.
type Run struct {
	ID        string
	RunDir    string
	CodeHash  string
	StartedAt time.Time
}

// Result is one task outcome with its headline metrics. Pointer fields are
// nil when the benchmark never produced that metric.
type Result struct {
	ID         string
	RunID      string
	RecipeDir  string
	Variant    string
	Model      string
	Engine     string
	GPUName    string
	GPUCount   int
	Status     string
	ResultPath string

	SuccessfulRequests    *int
	FailedRequests        *int
	BenchmarkDurationS    *float64
	RequestThroughput     *float64
	OutputTokenThroughput *float64
	TotalTokenThroughput  *float64
	MeanTTFTMs            *float64
	P99TTFTMs             *float64
	MeanTPOTMs            *float64

	CreatedAt time.Time
}

// SetMetrics copies the headline metrics from a parsed bench results table.
func (r *Result) SetMetrics(m *bench.BenchmarkMetrics) {
	if m == nil {
		return
	}
	r.SuccessfulRequests = m.SuccessfulRequests
	r.FailedRequests = m.FailedRequests
	r.BenchmarkDurationS = m.BenchmarkDurationS
	r.RequestThroughput = m.RequestThroughput
	r.OutputTokenThroughput = m.OutputTokenThroughput
	r.TotalTokenThroughput = m.TotalTokenThroughput
	r.MeanTTFTMs = m.MeanTTFTMs
	r.P99TTFTMs = m.P99TTFTMs
	r.MeanTPOTMs = m.MeanTPOTMs
}

// ResultStore persists runs and task results.
type ResultStore struct {
	db *DB
}

// NewResultStore creates a result store over an open database.
func NewResultStore(db *DB) *ResultStore {
	return &ResultStore{db: db}
}

// CreateRun records a new orchestrator run and returns it.
func (s *ResultStore) CreateRun(ctx context.Context, runDir, codeHash string) (*Run, error) {
	run := &Run{
		ID:        uuid.New().String(),
		RunDir:    runDir,
		CodeHash:  codeHash,
		StartedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, run_dir, code_hash, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.RunDir, run.CodeHash, run.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}
	return run, nil
}

// RecordResult inserts a task result. A missing ID is generated.
func (s *ResultStore) RecordResult(ctx context.Context, r *Result) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO results (
			id, run_id, recipe_dir, variant, model, engine, gpu_name, gpu_count,
			status, result_path,
			successful_requests, failed_requests, benchmark_duration_s,
			request_throughput, output_token_throughput, total_token_throughput,
			mean_ttft_ms, p99_ttft_ms, mean_tpot_ms,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.RunID, r.RecipeDir, r.Variant, r.Model, r.Engine, r.GPUName, r.GPUCount,
		r.Status, r.ResultPath,
		r.SuccessfulRequests, r.FailedRequests, r.BenchmarkDurationS,
		r.RequestThroughput, r.OutputTokenThroughput, r.TotalTokenThroughput,
		r.MeanTTFTMs, r.P99TTFTMs, r.MeanTPOTMs,
		r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert result: %w", err)
	}
	return nil
}

// GetResult fetches one result by ID.
func (s *ResultStore) GetResult(ctx context.Context, id string) (*Result, error) {
	row := s.db.QueryRowContext(ctx, selectResults+` WHERE id = ?`, id)
	result, err := scanResult(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	return result, nil
}

// ResultFilter narrows ListResults. Zero values mean no constraint.
type ResultFilter struct {
	RunID   string
	Model   string
	GPUName string
	Status  string
	Limit   int
}

// ListResults returns results matching the filter, newest first.
func (s *ResultStore) ListResults(ctx context.Context, filter ResultFilter) ([]*Result, error) {
	query := selectResults
	var conds []string
	var args []any

	if filter.RunID != "" {
		conds = append(conds, "run_id = ?")
		args = append(args, filter.RunID)
	}
	if filter.Model != "" {
		conds = append(conds, "model = ?")
		args = append(args, filter.Model)
	}
	if filter.GPUName != "" {
		conds = append(conds, "gpu_name = ?")
		args = append(args, filter.GPUName)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	var results []*Result
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// ListRuns returns the most recent runs, newest first.
func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	query := `SELECT id, run_dir, code_hash, started_at FROM runs ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		if err := rows.Scan(&run.ID, &run.RunDir, &run.CodeHash, &run.StartedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

const selectResults = `
	SELECT id, run_id, recipe_dir, variant, model, engine, gpu_name, gpu_count,
		status, result_path,
		successful_requests, failed_requests, benchmark_duration_s,
		request_throughput, output_token_throughput, total_token_throughput,
		mean_ttft_ms, p99_ttft_ms, mean_tpot_ms,
		created_at
	FROM results`

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(row scanner) (*Result, error) {
	r := &Result{}
	err := row.Scan(
		&r.ID, &r.RunID, &r.RecipeDir, &r.Variant, &r.Model, &r.Engine, &r.GPUName, &r.GPUCount,
		&r.Status, &r.ResultPath,
		&r.SuccessfulRequests, &r.FailedRequests, &r.BenchmarkDurationS,
		&r.RequestThroughput, &r.OutputTokenThroughput, &r.TotalTokenThroughput,
		&r.MeanTTFTMs, &r.P99TTFTMs, &r.MeanTPOTMs,
		&r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return r, nil
}
