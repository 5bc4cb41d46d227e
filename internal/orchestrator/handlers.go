package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/Materia/internal/domain"
	"github.com/shaiso/Materia/internal/mq"
	"github.com/shaiso/Materia/internal/repo"
)

// ReportRequest — внешний отчёт о материализации source-ассета.
type ReportRequest struct {
	// Key — ключ материализованного ассета.
	Key domain.AssetKey

	// CodeVersion — версия кода внешней системы (опционально).
	CodeVersion string

	// Metadata — метаданные события (опционально).
	Metadata map[string]any
}

// ReportMaterialization регистрирует материализацию, произошедшую вне
// движка: событие с нулевым RunID попадает в журнал и питает
// read-through и отчёты свежести.
//
// Отчёт допустим только для ассетов, не объявленных выходом шага ни в
// одной последней версии графа: события вычисляемых ассетов создаёт
// только выполнение шага.
func (o *Orchestrator) ReportMaterialization(ctx context.Context, req ReportRequest) (*domain.MaterializationEvent, error) {
	if req.Key.IsZero() {
		return nil, domain.ErrEmptyKey
	}

	computed, err := o.isComputedAsset(ctx, req.Key)
	if err != nil {
		return nil, err
	}
	if computed {
		return nil, fmt.Errorf("%w: %s", ErrNotSource, req.Key)
	}

	event := domain.NewMaterializationEvent(req.Key, uuid.Nil, req.CodeVersion, req.Metadata)
	if err := o.events.Append(ctx, event); err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}

	o.metrics.EventRecorded()
	o.logger.Info("external materialization recorded",
		"key", req.Key,
		"event_id", event.ID,
		"seq", event.Seq,
	)
	o.publishAssetEvent(event)

	return event, nil
}

// isComputedAsset проверяет, объявлен ли ключ выходом шага в последней
// версии какого-либо графа. Проверка идёт по декларациям без резолва:
// ключи выходов в декларациях всегда явные.
func (o *Orchestrator) isComputedAsset(ctx context.Context, key domain.AssetKey) (bool, error) {
	defs, err := o.graphs.List(ctx)
	if err != nil {
		return false, fmt.Errorf("list graphs: %w", err)
	}

	for i := range defs {
		gv, err := o.graphs.GetLatestVersion(ctx, defs[i].ID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				continue // граф без версий
			}
			return false, fmt.Errorf("get latest version of %s: %w", defs[i].ID, err)
		}

		for _, step := range gv.Declarations.Steps {
			for _, out := range step.Outputs {
				if out.Key == key {
					return true, nil
				}
			}
		}
	}

	return false, nil
}

// handleAssetReport обрабатывает внешний отчёт из очереди asset.reports.
//
// Неисправимые отчёты (нечитаемый payload, невалидный ключ, вычисляемый
// ассет) подтверждаются и отбрасываются с логом: повторная доставка их
// не исправит. Ошибка возвращается только при сбое хранилища — такие
// сообщения вернутся в очередь.
func (o *Orchestrator) handleAssetReport(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.AssetReportPayload](&delivery.Message)
	if err != nil {
		o.logger.Error("failed to parse asset.report payload", "error", err)
		return nil
	}

	key, err := domain.ParseAssetKey(payload.Key)
	if err != nil {
		o.logger.Error("asset.report with invalid key", "key", payload.Key, "error", err)
		return nil
	}

	event, err := o.ReportMaterialization(ctx, ReportRequest{
		Key:         key,
		CodeVersion: payload.CodeVersion,
		Metadata:    payload.Metadata,
	})
	if err != nil {
		if errors.Is(err, ErrNotSource) {
			o.logger.Warn("asset.report rejected", "key", key, "error", err)
			return nil
		}
		return err
	}

	o.logger.Debug("asset.report processed", "key", key, "event_id", event.ID, "seq", event.Seq)
	return nil
}

// AssetEvents возвращает историю материализаций ключа, старые первыми.
// limit > 0 оставляет только последние limit событий.
func (o *Orchestrator) AssetEvents(ctx context.Context, key domain.AssetKey, limit int) ([]*domain.MaterializationEvent, error) {
	return o.events.ListByKey(ctx, key, limit)
}

// LatestEvent возвращает последнее событие материализации ключа.
// eventlog.ErrNoEvents — ключ ни разу не материализовался.
func (o *Orchestrator) LatestEvent(ctx context.Context, key domain.AssetKey) (*domain.MaterializationEvent, error) {
	return o.events.Latest(ctx, key)
}

// RunEvents возвращает события, записанные указанным run.
func (o *Orchestrator) RunEvents(ctx context.Context, runID uuid.UUID) ([]*domain.MaterializationEvent, error) {
	return o.events.ListByRun(ctx, runID)
}

// publishAssetEvent публикует событие материализации (best-effort).
// События движка публикует подписчик executor; сюда попадают только
// внешние отчёты.
func (o *Orchestrator) publishAssetEvent(event *domain.MaterializationEvent) {
	if o.publisher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := o.publisher.PublishAssetMaterialized(ctx, event); err != nil {
		o.logger.Warn("failed to publish materialization event",
			"key", event.Key,
			"event_id", event.ID,
			"error", err,
		)
	}
}
