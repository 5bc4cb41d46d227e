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
	"github.com/shaiso/Materia/internal/eventlog"
)

// EventRepo — журнал событий материализации в Postgres.
//
// Реализует eventlog.Log. Seq присваивается колонкой BIGSERIAL, поэтому
// конкурентные Append получают уникальные монотонные номера без
// координации на стороне приложения. Записи никогда не изменяются
// и не удаляются.
type EventRepo struct {
	pool *pgxpool.Pool
}

// NewEventRepo создаёт новый EventRepo.
func NewEventRepo(pool *pgxpool.Pool) *EventRepo {
	return &EventRepo{pool: pool}
}

// Append добавляет событие и заполняет его Seq присвоенным номером.
func (r *EventRepo) Append(ctx context.Context, event *domain.MaterializationEvent) error {
	if event == nil {
		return errors.New("append nil event")
	}
	if event.Key.IsZero() {
		return fmt.Errorf("append event: %w", domain.ErrEmptyKey)
	}

	metadataJSON, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("marshal event metadata: %w", err)
	}

	query := `
		INSERT INTO asset_events (id, asset_key, run_id, code_version, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING seq
	`
	err = r.pool.QueryRow(ctx, query,
		event.ID,
		event.Key.String(),
		nullRunID(event.RunID),
		nullString(event.CodeVersion),
		metadataJSON,
		event.Timestamp,
	).Scan(&event.Seq)
	if err != nil {
		return fmt.Errorf("insert asset event: %w", err)
	}
	return nil
}

// Latest возвращает последнее событие ключа.
func (r *EventRepo) Latest(ctx context.Context, key domain.AssetKey) (*domain.MaterializationEvent, error) {
	query := `
		SELECT id, asset_key, run_id, code_version, metadata, seq, created_at
		FROM asset_events
		WHERE asset_key = $1
		ORDER BY seq DESC
		LIMIT 1
	`
	event, err := scanEvent(r.pool.QueryRow(ctx, query, key.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("asset %s: %w", key, eventlog.ErrNoEvents)
	}
	return event, err
}

// ListByKey возвращает события ключа по возрастанию Seq.
// При limit > 0 возвращаются последние limit событий.
func (r *EventRepo) ListByKey(ctx context.Context, key domain.AssetKey, limit int) ([]*domain.MaterializationEvent, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if limit > 0 {
		query := `
			SELECT id, asset_key, run_id, code_version, metadata, seq, created_at
			FROM (
				SELECT id, asset_key, run_id, code_version, metadata, seq, created_at
				FROM asset_events
				WHERE asset_key = $1
				ORDER BY seq DESC
				LIMIT $2
			) tail
			ORDER BY seq ASC
		`
		rows, err = r.pool.Query(ctx, query, key.String(), limit)
	} else {
		query := `
			SELECT id, asset_key, run_id, code_version, metadata, seq, created_at
			FROM asset_events
			WHERE asset_key = $1
			ORDER BY seq ASC
		`
		rows, err = r.pool.Query(ctx, query, key.String())
	}
	if err != nil {
		return nil, fmt.Errorf("list events by key: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// ListByRun возвращает события run по возрастанию Seq.
func (r *EventRepo) ListByRun(ctx context.Context, runID uuid.UUID) ([]*domain.MaterializationEvent, error) {
	query := `
		SELECT id, asset_key, run_id, code_version, metadata, seq, created_at
		FROM asset_events
		WHERE run_id = $1
		ORDER BY seq ASC
	`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list events by run: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// --- Helpers ---

// scanEvent сканирует одну строку в MaterializationEvent.
func scanEvent(row pgx.Row) (*domain.MaterializationEvent, error) {
	var event domain.MaterializationEvent
	var rawKey string
	var runID *uuid.UUID
	var codeVersion *string
	var metadataJSON []byte

	err := row.Scan(
		&event.ID,
		&rawKey,
		&runID,
		&codeVersion,
		&metadataJSON,
		&event.Seq,
		&event.Timestamp,
	)
	if err != nil {
		return nil, err
	}

	key, err := domain.ParseAssetKey(rawKey)
	if err != nil {
		return nil, fmt.Errorf("parse asset key %q: %w", rawKey, err)
	}
	event.Key = key

	if runID != nil {
		event.RunID = *runID
	}
	if codeVersion != nil {
		event.CodeVersion = *codeVersion
	}
	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal event metadata: %w", err)
		}
	}

	return &event, nil
}

// collectEvents сканирует все строки выборки.
func collectEvents(rows pgx.Rows) ([]*domain.MaterializationEvent, error) {
	var events []*domain.MaterializationEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// nullRunID возвращает nil для events, зарегистрированных вне run.
func nullRunID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
