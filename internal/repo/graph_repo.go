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

// GraphRepo — репозиторий определений графов и их версий.
type GraphRepo struct {
	pool *pgxpool.Pool
}

// NewGraphRepo создаёт новый GraphRepo.
func NewGraphRepo(pool *pgxpool.Pool) *GraphRepo {
	return &GraphRepo{pool: pool}
}

// --- GraphDef CRUD ---

// Create создаёт определение графа.
func (r *GraphRepo) Create(ctx context.Context, def *domain.GraphDef) error {
	query := `
		INSERT INTO graphs (id, name, created_at)
		VALUES ($1, $2, $3)
	`
	_, err := r.pool.Exec(ctx, query,
		def.ID,
		def.Name,
		def.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert graph: %w", err)
	}
	return nil
}

// GetByID возвращает определение графа по ID.
func (r *GraphRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.GraphDef, error) {
	query := `
		SELECT id, name, created_at
		FROM graphs
		WHERE id = $1
	`
	var def domain.GraphDef
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&def.ID,
		&def.Name,
		&def.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get graph by id: %w", err)
	}
	return &def, nil
}

// GetByName возвращает определение графа по имени.
func (r *GraphRepo) GetByName(ctx context.Context, name string) (*domain.GraphDef, error) {
	query := `
		SELECT id, name, created_at
		FROM graphs
		WHERE name = $1
	`
	var def domain.GraphDef
	err := r.pool.QueryRow(ctx, query, name).Scan(
		&def.ID,
		&def.Name,
		&def.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get graph by name: %w", err)
	}
	return &def, nil
}

// List возвращает все определения графов.
func (r *GraphRepo) List(ctx context.Context) ([]domain.GraphDef, error) {
	query := `
		SELECT id, name, created_at
		FROM graphs
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list graphs: %w", err)
	}
	defer rows.Close()

	var defs []domain.GraphDef
	for rows.Next() {
		var def domain.GraphDef
		if err := rows.Scan(
			&def.ID,
			&def.Name,
			&def.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan graph: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// --- GraphVersion ---

// CreateVersion создаёт следующую версию набора деклараций графа.
// Номер версии инкрементируется автоматически.
func (r *GraphRepo) CreateVersion(ctx context.Context, graphID uuid.UUID, set domain.DeclarationSet) (*domain.GraphVersion, error) {
	declJSON, err := json.Marshal(set)
	if err != nil {
		return nil, fmt.Errorf("marshal declarations: %w", err)
	}

	var nextVersion int
	err = r.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(version), 0) + 1
		FROM graph_versions
		WHERE graph_id = $1
	`, graphID).Scan(&nextVersion)
	if err != nil {
		return nil, fmt.Errorf("get next version: %w", err)
	}

	var gv domain.GraphVersion
	err = r.pool.QueryRow(ctx, `
		INSERT INTO graph_versions (graph_id, version, declarations, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING graph_id, version, declarations, created_at
	`, graphID, nextVersion, declJSON).Scan(
		&gv.GraphID,
		&gv.Version,
		&declJSON,
		&gv.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert graph version: %w", err)
	}

	if err := json.Unmarshal(declJSON, &gv.Declarations); err != nil {
		return nil, fmt.Errorf("unmarshal declarations: %w", err)
	}

	return &gv, nil
}

// GetVersion возвращает конкретную версию графа.
func (r *GraphRepo) GetVersion(ctx context.Context, graphID uuid.UUID, version int) (*domain.GraphVersion, error) {
	query := `
		SELECT graph_id, version, declarations, created_at
		FROM graph_versions
		WHERE graph_id = $1 AND version = $2
	`
	var gv domain.GraphVersion
	var declJSON []byte
	err := r.pool.QueryRow(ctx, query, graphID, version).Scan(
		&gv.GraphID,
		&gv.Version,
		&declJSON,
		&gv.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get graph version: %w", err)
	}

	if err := json.Unmarshal(declJSON, &gv.Declarations); err != nil {
		return nil, fmt.Errorf("unmarshal declarations: %w", err)
	}

	return &gv, nil
}

// GetLatestVersion возвращает последнюю версию графа.
func (r *GraphRepo) GetLatestVersion(ctx context.Context, graphID uuid.UUID) (*domain.GraphVersion, error) {
	query := `
		SELECT graph_id, version, declarations, created_at
		FROM graph_versions
		WHERE graph_id = $1
		ORDER BY version DESC
		LIMIT 1
	`
	var gv domain.GraphVersion
	var declJSON []byte
	err := r.pool.QueryRow(ctx, query, graphID).Scan(
		&gv.GraphID,
		&gv.Version,
		&declJSON,
		&gv.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest graph version: %w", err)
	}

	if err := json.Unmarshal(declJSON, &gv.Declarations); err != nil {
		return nil, fmt.Errorf("unmarshal declarations: %w", err)
	}

	return &gv, nil
}

// ListVersions возвращает все версии графа, новые первыми.
func (r *GraphRepo) ListVersions(ctx context.Context, graphID uuid.UUID) ([]domain.GraphVersion, error) {
	query := `
		SELECT graph_id, version, declarations, created_at
		FROM graph_versions
		WHERE graph_id = $1
		ORDER BY version DESC
	`
	rows, err := r.pool.Query(ctx, query, graphID)
	if err != nil {
		return nil, fmt.Errorf("list graph versions: %w", err)
	}
	defer rows.Close()

	var versions []domain.GraphVersion
	for rows.Next() {
		var gv domain.GraphVersion
		var declJSON []byte
		if err := rows.Scan(
			&gv.GraphID,
			&gv.Version,
			&declJSON,
			&gv.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan graph version: %w", err)
		}

		if err := json.Unmarshal(declJSON, &gv.Declarations); err != nil {
			return nil, fmt.Errorf("unmarshal declarations: %w", err)
		}

		versions = append(versions, gv)
	}
	return versions, rows.Err()
}
