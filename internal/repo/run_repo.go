package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Materia/internal/domain"
)

// RunRepo — репозиторий runs.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// Create создаёт run.
func (r *RunRepo) Create(ctx context.Context, run *domain.Run) error {
	selectionJSON, err := json.Marshal(run.Selection)
	if err != nil {
		return fmt.Errorf("marshal selection: %w", err)
	}

	query := `
		INSERT INTO runs (id, graph_id, version, status, selection, parallelism, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.pool.Exec(ctx, query,
		run.ID,
		run.GraphID,
		run.Version,
		run.Status,
		selectionJSON,
		run.Parallelism,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetByID возвращает run по ID.
func (r *RunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	query := `
		SELECT id, graph_id, version, status, selection, parallelism,
		       started_at, finished_at, error, created_at
		FROM runs
		WHERE id = $1
	`
	return scanRun(r.pool.QueryRow(ctx, query, id))
}

// List возвращает runs с фильтрацией, новые первыми.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]domain.Run, error) {
	query := `
		SELECT id, graph_id, version, status, selection, parallelism,
		       started_at, finished_at, error, created_at
		FROM runs
		WHERE ($1::uuid IS NULL OR graph_id = $1)
		  AND ($2::text IS NULL OR status = $2::run_status)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query,
		nullUUID(filter.GraphID),
		nullString(string(filter.Status)),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRunFromRows(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// Update обновляет статус и времена run.
func (r *RunRepo) Update(ctx context.Context, run *domain.Run) error {
	query := `
		UPDATE runs
		SET status = $2, started_at = $3, finished_at = $4, error = $5
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		run.ID,
		run.Status,
		run.StartedAt,
		run.FinishedAt,
		nullString(run.Error),
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveResult сохраняет итоговый отчёт run.
func (r *RunRepo) SaveResult(ctx context.Context, runID uuid.UUID, result *domain.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	query := `UPDATE runs SET result = $2 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, runID, resultJSON)
	if err != nil {
		return fmt.Errorf("save run result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetResult возвращает сохранённый отчёт run.
// ErrNotFound, если run не существует или отчёт ещё не сохранён.
func (r *RunRepo) GetResult(ctx context.Context, runID uuid.UUID) (*domain.RunResult, error) {
	query := `SELECT result FROM runs WHERE id = $1`
	var resultJSON []byte
	err := r.pool.QueryRow(ctx, query, runID).Scan(&resultJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run result: %w", err)
	}
	if resultJSON == nil {
		return nil, ErrNotFound
	}

	var result domain.RunResult
	if err := json.Unmarshal(resultJSON, &result); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return &result, nil
}

// --- Helpers ---

// RunFilter — параметры фильтрации runs.
type RunFilter struct {
	GraphID *uuid.UUID
	Status  domain.RunStatus
	Limit   int
	Offset  int
}

// scanRun сканирует одну строку в Run.
func scanRun(row pgx.Row) (*domain.Run, error) {
	var run domain.Run
	var selectionJSON []byte
	var runError *string

	err := row.Scan(
		&run.ID,
		&run.GraphID,
		&run.Version,
		&run.Status,
		&selectionJSON,
		&run.Parallelism,
		&run.StartedAt,
		&run.FinishedAt,
		&runError,
		&run.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if selectionJSON != nil {
		if err := json.Unmarshal(selectionJSON, &run.Selection); err != nil {
			return nil, fmt.Errorf("unmarshal selection: %w", err)
		}
	}
	if runError != nil {
		run.Error = *runError
	}

	return &run, nil
}

// scanRunFromRows сканирует строку из rows в Run.
func scanRunFromRows(rows pgx.Rows) (*domain.Run, error) {
	var run domain.Run
	var selectionJSON []byte
	var runError *string

	err := rows.Scan(
		&run.ID,
		&run.GraphID,
		&run.Version,
		&run.Status,
		&selectionJSON,
		&run.Parallelism,
		&run.StartedAt,
		&run.FinishedAt,
		&runError,
		&run.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if selectionJSON != nil {
		if err := json.Unmarshal(selectionJSON, &run.Selection); err != nil {
			return nil, fmt.Errorf("unmarshal selection: %w", err)
		}
	}
	if runError != nil {
		run.Error = *runError
	}

	return &run, nil
}

// nullString возвращает nil для пустой строки (NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullUUID возвращает nil для пустого UUID.
func nullUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil || *id == uuid.Nil {
		return nil
	}
	return id
}
