package executor

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Materia/internal/domain"
	"github.com/shaiso/Materia/internal/engine"
)

// slotOutcome — зафиксированный исход одного выходного слота.
type slotOutcome struct {
	status domain.OutcomeStatus
	event  *domain.MaterializationEvent
	err    string
}

// invocationState — изменяемое состояние одного вызова плана.
// Все поля защищены мьютексом runState.
type invocationState struct {
	inv        *engine.Invocation
	status     domain.InvocationStatus
	attempts   int
	waiting    int
	errMsg     string
	blockedBy  string
	startedAt  *time.Time
	finishedAt *time.Time
	slots      map[string]slotOutcome
	retryTimer *time.Timer
}

// runState — состояние выполнения одного run.
//
// Единственная точка синхронизации движка: воркеры, таймеры повторов и
// горутина завершения общаются только через mu и каналы ready/done.
// Инварианты отправки в ready: каждая отправка выполняется под mu и только
// при cancelled=false; канал закрывается строго после того, как cancelled
// выставлен (или все вызовы терминальны), поэтому отправка в закрытый
// канал невозможна. ID вызова занимает в буфере не более одного места,
// так что отправка никогда не блокирует.
type runState struct {
	mu         sync.Mutex
	plan       *engine.Plan
	states     map[string]*invocationState
	dependents map[string][]string
	remaining  int
	cancelled  bool

	// done закрывается, когда все вызовы достигли терминального статуса.
	done chan struct{}

	// ready — очередь вызовов, готовых к выполнению.
	ready chan string
}

func newRunState(plan *engine.Plan) *runState {
	st := &runState{
		plan:       plan,
		states:     make(map[string]*invocationState, plan.Size()),
		dependents: make(map[string][]string),
		remaining:  plan.Size(),
		done:       make(chan struct{}),
		ready:      make(chan string, plan.Size()+1),
	}
	for id, inv := range plan.Invocations {
		st.states[id] = &invocationState{
			inv:     inv,
			status:  domain.InvocationPending,
			waiting: len(inv.WaitsOn),
			slots:   make(map[string]slotOutcome, len(inv.RequestedSlots)),
		}
		for _, upstream := range inv.WaitsOn {
			st.dependents[upstream] = append(st.dependents[upstream], id)
		}
	}
	for _, ids := range st.dependents {
		sort.Strings(ids)
	}
	if st.remaining == 0 {
		close(st.done)
	}
	return st
}

// enqueueInitial ставит в очередь вызовы без зависимостей в порядке плана.
func (st *runState) enqueueInitial() {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.cancelled {
		return
	}
	for _, id := range st.plan.Order {
		if st.states[id].waiting == 0 {
			st.ready <- id
		}
	}
}

// beginAttempt переводит вызов в RUNNING и возвращает номер попытки.
// Возвращает false, если run отменён или вызов уже терминален.
func (st *runState) beginAttempt(id string) (int, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s := st.states[id]
	if st.cancelled || s.status.IsTerminal() {
		return 0, false
	}
	s.status = domain.InvocationRunning
	s.attempts++
	if s.startedAt == nil {
		now := time.Now()
		s.startedAt = &now
	}
	s.retryTimer = nil
	return s.attempts, true
}

// scheduleRetry планирует повтор вызова через delay, не занимая воркера:
// таймер вернёт ID в очередь, а воркер освобождается немедленно.
// Возвращает false, если run уже отменён.
func (st *runState) scheduleRetry(id, errMsg string, delay time.Duration) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	s := st.states[id]
	if st.cancelled || s.status.IsTerminal() {
		return false
	}
	s.errMsg = errMsg
	s.retryTimer = time.AfterFunc(delay, func() { st.requeue(id) })
	return true
}

// requeue возвращает вызов в очередь после истечения задержки повтора.
func (st *runState) requeue(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s := st.states[id]
	if st.cancelled || s.status.IsTerminal() {
		return
	}
	s.retryTimer = nil
	st.ready <- id
}

// setSlot фиксирует исход выходного слота вызова.
func (st *runState) setSlot(id, name string, out slotOutcome) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.states[id].slots[name] = out
}

// outcomeFor возвращает исход слота вызова producedBy, материализующего key.
func (st *runState) outcomeFor(producedBy string, key domain.AssetKey) (slotOutcome, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	up, ok := st.states[producedBy]
	if !ok {
		return slotOutcome{}, false
	}
	slot, ok := up.inv.Step.OutputByKey(key)
	if !ok {
		return slotOutcome{}, false
	}
	out, ok := up.slots[slot.Name]
	return out, ok
}

// finish переводит вызов в терминальный статус и распространяет исход
// на зависимые вызовы.
func (st *runState) finish(id string, status domain.InvocationStatus, errMsg, blockedBy string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.finishLocked(id, status, errMsg, blockedBy)
}

// finishLocked — ядро распространения исходов.
//
// Провал каскадируется на зависимые вызовы по рёбрам обоих типов.
// Пропуск каскадируется только туда, где завершение требует loaded-чтения
// пропущенного слота; зависимые только с explicit-рёбрами выполняются
// и видят исход upstream явно. Успех освобождает зависимые вызовы,
// у которых не осталось незавершённых upstream.
func (st *runState) finishLocked(id string, status domain.InvocationStatus, errMsg, blockedBy string) {
	s := st.states[id]
	if s.status.IsTerminal() {
		return
	}
	s.status = status
	s.errMsg = errMsg
	s.blockedBy = blockedBy
	now := time.Now()
	s.finishedAt = &now

	st.remaining--
	if st.remaining == 0 {
		close(st.done)
	}

	for _, depID := range st.dependents[id] {
		dep := st.states[depID]
		if dep.status.IsTerminal() {
			continue
		}
		dep.waiting--

		switch status {
		case domain.InvocationFailed:
			st.finishLocked(depID, domain.InvocationFailed,
				fmt.Sprintf("upstream step %s failed", id), id)
		case domain.InvocationSkipped:
			if loadsFrom(dep.inv, id) {
				st.finishLocked(depID, domain.InvocationSkipped, "", id)
			} else if dep.waiting == 0 && !st.cancelled {
				st.ready <- depID
			}
		default:
			if st.loadsSkippedSlotLocked(dep.inv, id) {
				st.finishLocked(depID, domain.InvocationSkipped, "", id)
			} else if dep.waiting == 0 && !st.cancelled {
				st.ready <- depID
			}
		}
	}
}

// loadsFrom возвращает true, если вызов читает через I/O manager хотя бы
// один слот вызова producedBy.
func loadsFrom(inv *engine.Invocation, producedBy string) bool {
	for _, b := range inv.Bindings {
		if b.Kind == domain.EdgeLoaded && b.ProducedBy == producedBy {
			return true
		}
	}
	return false
}

// loadsSkippedSlotLocked возвращает true, если вызов читает через
// I/O manager слот успешно завершённого producedBy, от выпуска которого
// вычисление отказалось.
func (st *runState) loadsSkippedSlotLocked(inv *engine.Invocation, producedBy string) bool {
	up := st.states[producedBy]
	for _, b := range inv.Bindings {
		if b.Kind != domain.EdgeLoaded || b.ProducedBy != producedBy {
			continue
		}
		slot, ok := up.inv.Step.OutputByKey(b.Key)
		if !ok {
			continue
		}
		if up.slots[slot.Name].status == domain.OutcomeSkipped {
			return true
		}
	}
	return false
}

// cancelPending останавливает планирование новых вызовов.
//
// Вызовы в ожидании повтора по таймеру завершаются FAILED с ошибкой
// последней попытки, без каскада: их нетронутые зависимые остаются
// PENDING. Уже выполняющиеся вызовы завершает воркер.
func (st *runState) cancelPending() {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.cancelled {
		return
	}
	st.cancelled = true

	now := time.Now()
	for _, s := range st.states {
		if s.retryTimer == nil {
			continue
		}
		s.retryTimer.Stop()
		s.retryTimer = nil
		s.status = domain.InvocationFailed
		if s.errMsg == "" {
			s.errMsg = "run cancelled during retry wait"
		}
		s.finishedAt = &now
		st.remaining--
	}
}

// buildResult собирает итоговый отчёт run.
//
// Вызовы перечисляются в порядке плана; вызовы, не стартовавшие из-за
// отмены, остаются PENDING и исходов по слотам не имеют. Для провалов
// слоты без зафиксированного исхода получают ошибку вызова; события,
// записанные до провала, в отчёте сохраняются.
func (st *runState) buildResult(runID uuid.UUID) *domain.RunResult {
	st.mu.Lock()
	defer st.mu.Unlock()

	result := &domain.RunResult{RunID: runID}
	failed := false
	for _, id := range st.plan.Order {
		s := st.states[id]
		if s.status == domain.InvocationFailed {
			failed = true
		}
		result.Invocations = append(result.Invocations, domain.InvocationResult{
			StepID:         id,
			Status:         s.status,
			Attempts:       s.attempts,
			RequestedSlots: s.inv.RequestedSlots,
			Error:          s.errMsg,
			BlockedBy:      s.blockedBy,
			StartedAt:      s.startedAt,
			FinishedAt:     s.finishedAt,
		})
		if !s.status.IsTerminal() {
			continue
		}
		for _, name := range s.inv.RequestedSlots {
			slot, ok := s.inv.Step.Output(name)
			if !ok {
				continue
			}
			out, ok := s.slots[name]
			if !ok {
				if s.status == domain.InvocationFailed {
					out = slotOutcome{status: domain.OutcomeFailed, err: s.errMsg}
				} else {
					out = slotOutcome{status: domain.OutcomeSkipped}
				}
			}
			result.Outcomes = append(result.Outcomes, domain.SlotOutcome{
				Key:    slot.Key,
				StepID: id,
				Status: out.status,
				Event:  out.event,
				Error:  out.err,
			})
		}
	}

	switch {
	case st.cancelled:
		result.Status = domain.RunStatusCancelled
	case failed:
		result.Status = domain.RunStatusFailed
	default:
		result.Status = domain.RunStatusSucceeded
	}

	sort.Slice(result.Outcomes, func(i, j int) bool {
		return result.Outcomes[i].Key.Less(result.Outcomes[j].Key)
	})
	return result
}
