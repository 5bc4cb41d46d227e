package domain

import (
	"time"

	"github.com/google/uuid"
)

// InvocationResult — терминальный итог вызова одного шага.
type InvocationResult struct {
	// StepID — идентификатор шага.
	StepID string `json:"step_id"`

	// Status — терминальный статус вызова (PENDING остаётся только
	// у вызовов, не стартовавших из-за отмены run).
	Status InvocationStatus `json:"status"`

	// Attempts — сколько раз вычисление реально запускалось.
	// 0 для вызовов, пропущенных или проваленных каскадом.
	Attempts int `json:"attempts"`

	// RequestedSlots — имена слотов, запрошенных у шага в этом run.
	RequestedSlots []string `json:"requested_slots,omitempty"`

	// Error — ошибка вызова (для FAILED).
	Error string `json:"error,omitempty"`

	// BlockedBy — шаг, чей исход каскадно пропустил или провалил этот
	// вызов без выполнения. Пустой, если вызов выполнялся сам.
	BlockedBy string `json:"blocked_by,omitempty"`

	// StartedAt — время первого перехода в RUNNING.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время достижения терминального статуса.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// SlotOutcome — итог по одному запрошенному слоту.
type SlotOutcome struct {
	// Key — ключ ассета слота.
	Key AssetKey `json:"key"`

	// StepID — шаг, которому принадлежит слот.
	StepID string `json:"step_id"`

	// Status — исход: материализован, пропущен или провален.
	Status OutcomeStatus `json:"status"`

	// Event — событие материализации (только для MATERIALIZED).
	Event *MaterializationEvent `json:"event,omitempty"`

	// Error — исходная ошибка (только для FAILED).
	Error string `json:"error,omitempty"`
}

// RunResult — полный отчёт о выполнении run.
//
// Перечисляет терминальное состояние каждого вызова плана и исход каждого
// запрошенного слота. Слоты, не запрошенные из-за subsetting, в отчёт
// не входят. Ошибки выполнения никогда не поднимаются из движка —
// они фиксируются здесь.
type RunResult struct {
	// RunID — идентификатор run.
	RunID uuid.UUID `json:"run_id"`

	// Status — итоговый статус run: FAILED, если провален хотя бы один
	// вызов; CANCELLED при отмене; иначе SUCCEEDED.
	Status RunStatus `json:"status"`

	// Invocations — итоги вызовов в порядке плана.
	Invocations []InvocationResult `json:"invocations"`

	// Outcomes — итоги слотов, отсортированные по ключу.
	Outcomes []SlotOutcome `json:"outcomes"`
}

// Outcome возвращает итог по ключу ассета.
func (r *RunResult) Outcome(key AssetKey) (*SlotOutcome, bool) {
	for i := range r.Outcomes {
		if r.Outcomes[i].Key == key {
			return &r.Outcomes[i], true
		}
	}
	return nil, false
}

// Invocation возвращает итог вызова по идентификатору шага.
func (r *RunResult) Invocation(stepID string) (*InvocationResult, bool) {
	for i := range r.Invocations {
		if r.Invocations[i].StepID == stepID {
			return &r.Invocations[i], true
		}
	}
	return nil, false
}

// Materialized возвращает ключи всех материализованных слотов
// в отсортированном порядке.
func (r *RunResult) Materialized() []AssetKey {
	var keys []AssetKey
	for _, o := range r.Outcomes {
		if o.Status == OutcomeMaterialized {
			keys = append(keys, o.Key)
		}
	}
	return keys
}
