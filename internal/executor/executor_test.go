package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Materia/internal/compute"
	"github.com/shaiso/Materia/internal/domain"
	"github.com/shaiso/Materia/internal/engine"
	"github.com/shaiso/Materia/internal/eventlog"
	"github.com/shaiso/Materia/internal/iomanager"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testHandler — вычисление с подменяемым телом.
type testHandler struct {
	kind string
	fn   func(ctx context.Context, call *compute.Call) (compute.Result, error)
}

func (h *testHandler) Kind() string { return h.kind }

func (h *testHandler) Schema() compute.ConfigSchema { return compute.ConfigSchema{} }

func (h *testHandler) Execute(ctx context.Context, call *compute.Call) (compute.Result, error) {
	return h.fn(ctx, call)
}

type testEnv struct {
	manager  *iomanager.Memory
	log      *eventlog.MemLog
	registry *compute.Registry
	exec     *Executor
}

func newTestEnv(t *testing.T, sinks ...EventSink) *testEnv {
	t.Helper()
	env := &testEnv{
		manager:  iomanager.NewMemory(),
		log:      eventlog.NewMemLog(),
		registry: compute.DefaultRegistry(),
	}
	exec, err := New(Config{
		Manager:  env.manager,
		Log:      env.log,
		Registry: env.registry,
		Sinks:    sinks,
		Logger:   testLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	env.exec = exec
	return env
}

func (env *testEnv) run(t *testing.T, plan *engine.Plan) *domain.RunResult {
	t.Helper()
	result, err := env.exec.Execute(context.Background(), plan, RunOptions{RunID: uuid.New()})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return result
}

func compilePlan(t *testing.T, set domain.DeclarationSet, keys ...string) *engine.Plan {
	t.Helper()
	g, err := engine.Resolve(set, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	selected := make([]domain.AssetKey, len(keys))
	for i, k := range keys {
		selected[i] = domain.MustAssetKey(k)
	}
	plan, err := engine.Compile(g, selected)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return plan
}

func requireInvocation(t *testing.T, result *domain.RunResult, stepID string) *domain.InvocationResult {
	t.Helper()
	inv, ok := result.Invocation(stepID)
	if !ok {
		t.Fatalf("invocation %s missing from result", stepID)
	}
	return inv
}

func requireOutcome(t *testing.T, result *domain.RunResult, key string) *domain.SlotOutcome {
	t.Helper()
	out, ok := result.Outcome(domain.MustAssetKey(key))
	if !ok {
		t.Fatalf("outcome for %s missing from result", key)
	}
	return out
}

// pipelineSet объявляет цепочку: constant выпускает список чисел,
// transform дописывает к нему элемент.
func pipelineSet() domain.DeclarationSet {
	return domain.DeclarationSet{
		Name: "pipeline",
		Steps: []domain.StepDecl{
			{
				ID:   "produce",
				Kind: compute.KindConstant,
				Config: map[string]any{
					"values": map[string]any{"numbers": []any{1.0, 2.0, 3.0}},
				},
				Outputs: []domain.OutputDecl{
					{Key: domain.MustAssetKey("numbers"), Required: true},
				},
			},
			{
				ID:   "extend",
				Kind: compute.KindTransform,
				Config: map[string]any{
					"operation": "append",
					"items":     []any{4.0},
				},
				Inputs: []domain.InputDecl{{Name: "numbers"}},
				Outputs: []domain.OutputDecl{
					{Key: domain.MustAssetKey("report"), Required: true},
				},
			},
		},
	}
}

// Lifecycle Tests

func TestNew_RequiresDependencies(t *testing.T) {
	manager := iomanager.NewMemory()
	log := eventlog.NewMemLog()
	registry := compute.DefaultRegistry()

	if _, err := New(Config{Log: log, Registry: registry}); err == nil {
		t.Error("expected error without I/O manager")
	}
	if _, err := New(Config{Manager: manager, Registry: registry}); err == nil {
		t.Error("expected error without event log")
	}
	if _, err := New(Config{Manager: manager, Log: log}); err == nil {
		t.Error("expected error without registry")
	}
	if _, err := New(Config{Manager: manager, Log: log, Registry: registry}); err != nil {
		t.Errorf("unexpected error with full config: %v", err)
	}
}

func TestExecute_ArgumentValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.exec.Execute(ctx, nil, RunOptions{RunID: uuid.New()}); err == nil {
		t.Error("expected error for nil plan")
	}

	plan := compilePlan(t, pipelineSet(), "numbers")
	if _, err := env.exec.Execute(ctx, plan, RunOptions{}); err == nil {
		t.Error("expected error for zero run ID")
	}
}

func TestExecute_EmptyPlan(t *testing.T) {
	env := newTestEnv(t)
	set := domain.DeclarationSet{
		Name:    "sources-only",
		Sources: []domain.SourceDecl{{Key: domain.MustAssetKey("raw")}},
	}
	plan := compilePlan(t, set, "raw")

	result := env.run(t, plan)
	if result.Status != domain.RunStatusSucceeded {
		t.Errorf("status = %s, want SUCCEEDED", result.Status)
	}
	if len(result.Invocations) != 0 || len(result.Outcomes) != 0 {
		t.Errorf("expected empty result, got %d invocations, %d outcomes",
			len(result.Invocations), len(result.Outcomes))
	}
}

// End-to-End Tests

func TestExecute_Pipeline(t *testing.T) {
	env := newTestEnv(t)
	plan := compilePlan(t, pipelineSet(), "numbers", "report")
	runID := uuid.New()

	result, err := env.exec.Execute(context.Background(), plan, RunOptions{RunID: runID})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if result.Status != domain.RunStatusSucceeded {
		t.Fatalf("status = %s, want SUCCEEDED", result.Status)
	}
	if result.RunID != runID {
		t.Errorf("run ID = %s, want %s", result.RunID, runID)
	}
	if len(result.Invocations) != 2 {
		t.Fatalf("got %d invocations, want 2", len(result.Invocations))
	}
	if result.Invocations[0].StepID != "produce" || result.Invocations[1].StepID != "extend" {
		t.Errorf("invocation order = [%s %s], want [produce extend]",
			result.Invocations[0].StepID, result.Invocations[1].StepID)
	}

	value, err := env.manager.Load(context.Background(), domain.MustAssetKey("report"))
	if err != nil {
		t.Fatalf("Load report: %v", err)
	}
	want := []any{1.0, 2.0, 3.0, 4.0}
	if !reflect.DeepEqual(value, want) {
		t.Errorf("report = %v, want %v", value, want)
	}

	numbers := requireOutcome(t, result, "numbers")
	report := requireOutcome(t, result, "report")
	if numbers.Status != domain.OutcomeMaterialized || report.Status != domain.OutcomeMaterialized {
		t.Errorf("outcomes = [%s %s], want both MATERIALIZED", numbers.Status, report.Status)
	}
	if numbers.Event == nil || report.Event == nil {
		t.Fatal("materialized outcomes must carry events")
	}
	if numbers.Event.RunID != runID || report.Event.RunID != runID {
		t.Error("events must carry the run ID")
	}
	if numbers.Event.Seq >= report.Event.Seq {
		t.Errorf("event seq order: numbers=%d report=%d, want numbers first",
			numbers.Event.Seq, report.Event.Seq)
	}
}

func TestExecute_ReadThroughPreviousRun(t *testing.T) {
	env := newTestEnv(t)
	set := pipelineSet()

	first := env.run(t, compilePlan(t, set, "numbers"))
	if first.Status != domain.RunStatusSucceeded {
		t.Fatalf("first run status = %s, want SUCCEEDED", first.Status)
	}

	// Второй run выбирает только report: значение numbers читается
	// сквозь план из последнего записанного события.
	plan := compilePlan(t, set, "report")
	if len(plan.Invocations) != 1 {
		t.Fatalf("second plan has %d invocations, want 1", len(plan.Invocations))
	}
	second := env.run(t, plan)
	if second.Status != domain.RunStatusSucceeded {
		t.Fatalf("second run status = %s, want SUCCEEDED", second.Status)
	}

	value, err := env.manager.Load(context.Background(), domain.MustAssetKey("report"))
	if err != nil {
		t.Fatalf("Load report: %v", err)
	}
	want := []any{1.0, 2.0, 3.0, 4.0}
	if !reflect.DeepEqual(value, want) {
		t.Errorf("report = %v, want %v", value, want)
	}
}

func TestExecute_SourceReadThrough(t *testing.T) {
	env := newTestEnv(t)
	env.manager.Seed(domain.MustAssetKey("raw"), "hello")

	set := domain.DeclarationSet{
		Name:    "ingest",
		Sources: []domain.SourceDecl{{Key: domain.MustAssetKey("raw")}},
		Steps: []domain.StepDecl{
			{
				ID:     "copy",
				Kind:   compute.KindPassthrough,
				Inputs: []domain.InputDecl{{Name: "raw"}},
				Outputs: []domain.OutputDecl{
					{Key: domain.MustAssetKey("clean"), Required: true},
				},
			},
		},
	}
	result := env.run(t, compilePlan(t, set, "clean"))

	if result.Status != domain.RunStatusSucceeded {
		t.Fatalf("status = %s, want SUCCEEDED", result.Status)
	}
	if len(result.Invocations) != 1 {
		t.Fatalf("got %d invocations, want 1: sources are not invoked", len(result.Invocations))
	}
	value, err := env.manager.Load(context.Background(), domain.MustAssetKey("clean"))
	if err != nil {
		t.Fatalf("Load clean: %v", err)
	}
	if value != "hello" {
		t.Errorf("clean = %v, want hello", value)
	}
}

func TestExecute_Diamond(t *testing.T) {
	env := newTestEnv(t)
	set := domain.DeclarationSet{
		Name: "diamond",
		Steps: []domain.StepDecl{
			{
				ID:   "root",
				Kind: compute.KindConstant,
				Config: map[string]any{
					"values": map[string]any{"base": map[string]any{"seed": 1.0}},
				},
				Outputs: []domain.OutputDecl{
					{Key: domain.MustAssetKey("base"), Required: true},
				},
			},
			{
				ID:     "left",
				Kind:   compute.KindPassthrough,
				Inputs: []domain.InputDecl{{Name: "base"}},
				Outputs: []domain.OutputDecl{
					{Key: domain.MustAssetKey("left"), Required: true},
				},
			},
			{
				ID:     "right",
				Kind:   compute.KindPassthrough,
				Inputs: []domain.InputDecl{{Name: "base"}},
				Outputs: []domain.OutputDecl{
					{Key: domain.MustAssetKey("right"), Required: true},
				},
			},
			{
				ID:   "join",
				Kind: compute.KindTransform,
				Config: map[string]any{
					"operation": "merge",
					"extra":     map[string]any{"joined": true},
				},
				Inputs: []domain.InputDecl{{Name: "left"}, {Name: "right"}},
				Outputs: []domain.OutputDecl{
					{Key: domain.MustAssetKey("combined"), Required: true},
				},
			},
		},
	}
	result := env.run(t, compilePlan(t, set, "base", "left", "right", "combined"))

	if result.Status != domain.RunStatusSucceeded {
		t.Fatalf("status = %s, want SUCCEEDED", result.Status)
	}
	value, err := env.manager.Load(context.Background(), domain.MustAssetKey("combined"))
	if err != nil {
		t.Fatalf("Load combined: %v", err)
	}
	want := map[string]any{"seed": 1.0, "joined": true}
	if !reflect.DeepEqual(value, want) {
		t.Errorf("combined = %v, want %v", value, want)
	}
	if got := len(result.Materialized()); got != 4 {
		t.Errorf("materialized %d assets, want 4", got)
	}
}

// Subsetting Tests

func TestExecute_SubsetSkipsUnselectedSlot(t *testing.T) {
	env := newTestEnv(t)
	set := domain.DeclarationSet{
		Name: "split",
		Steps: []domain.StepDecl{
			{
				ID:          "split",
				Kind:        compute.KindConstant,
				Subsettable: true,
				Config: map[string]any{
					"values": map[string]any{"left": "L", "right": "R"},
				},
				Outputs: []domain.OutputDecl{
					{Key: domain.MustAssetKey("left"), Required: true},
					{Key: domain.MustAssetKey("right"), Required: true},
				},
			},
		},
	}
	result := env.run(t, compilePlan(t, set, "left"))

	if result.Status != domain.RunStatusSucceeded {
		t.Fatalf("status = %s, want SUCCEEDED", result.Status)
	}
	inv := requireInvocation(t, result, "split")
	if !reflect.DeepEqual(inv.RequestedSlots, []string{"left"}) {
		t.Errorf("requested slots = %v, want [left]", inv.RequestedSlots)
	}
	if requireOutcome(t, result, "left").Status != domain.OutcomeMaterialized {
		t.Error("left must be materialized")
	}
	if _, ok := result.Outcome(domain.MustAssetKey("right")); ok {
		t.Error("unselected slot right must be absent from outcomes")
	}
	keys := env.manager.Keys()
	if len(keys) != 1 || keys[0] != domain.MustAssetKey("left") {
		t.Errorf("stored keys = %v, want only left", keys)
	}
}

// Skip Propagation Tests

func TestExecute_SkipCascadesThroughLoadedEdges(t *testing.T) {
	env := newTestEnv(t)
	set := domain.DeclarationSet{
		Name: "skips",
		Steps: []domain.StepDecl{
			{
				// constant без конфигурации отказывается от всех слотов
				ID:      "decline",
				Kind:    compute.KindConstant,
				Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("alpha")}},
			},
			{
				ID:      "mid",
				Kind:    compute.KindPassthrough,
				Inputs:  []domain.InputDecl{{Name: "alpha"}},
				Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("beta")}},
			},
			{
				ID:      "tail",
				Kind:    compute.KindPassthrough,
				Inputs:  []domain.InputDecl{{Name: "beta"}},
				Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("gamma")}},
			},
		},
	}
	result := env.run(t, compilePlan(t, set, "alpha", "beta", "gamma"))

	if result.Status != domain.RunStatusSucceeded {
		t.Fatalf("status = %s, want SUCCEEDED: skips are not failures", result.Status)
	}

	decline := requireInvocation(t, result, "decline")
	if decline.Status != domain.InvocationSucceeded || decline.Attempts != 1 {
		t.Errorf("decline: status=%s attempts=%d, want SUCCEEDED/1", decline.Status, decline.Attempts)
	}

	mid := requireInvocation(t, result, "mid")
	if mid.Status != domain.InvocationSkipped || mid.Attempts != 0 {
		t.Errorf("mid: status=%s attempts=%d, want SKIPPED without invocation", mid.Status, mid.Attempts)
	}
	if mid.BlockedBy != "decline" {
		t.Errorf("mid blocked by %q, want decline", mid.BlockedBy)
	}

	tail := requireInvocation(t, result, "tail")
	if tail.Status != domain.InvocationSkipped || tail.Attempts != 0 {
		t.Errorf("tail: status=%s attempts=%d, want SKIPPED without invocation", tail.Status, tail.Attempts)
	}
	if tail.BlockedBy != "mid" {
		t.Errorf("tail blocked by %q, want mid", tail.BlockedBy)
	}

	for _, key := range []string{"alpha", "beta", "gamma"} {
		if out := requireOutcome(t, result, key); out.Status != domain.OutcomeSkipped {
			t.Errorf("%s outcome = %s, want SKIPPED", key, out.Status)
		}
	}
	if env.log.Size() != 0 {
		t.Errorf("event log has %d events, want none", env.log.Size())
	}
	if len(env.manager.Keys()) != 0 {
		t.Errorf("stored keys = %v, want none", env.manager.Keys())
	}
}

func TestExecute_ExplicitEdgeStillInvokes(t *testing.T) {
	env := newTestEnv(t)

	var (
		mu  sync.Mutex
		got compute.InputValue
	)
	env.registry.Register(&testHandler{
		kind: "watch",
		fn: func(ctx context.Context, call *compute.Call) (compute.Result, error) {
			in, _ := call.Input("alpha")
			mu.Lock()
			got = in
			mu.Unlock()
			return compute.Result{"omega": compute.Produce("ran")}, nil
		},
	})

	set := domain.DeclarationSet{
		Name: "explicit",
		Steps: []domain.StepDecl{
			{
				ID:      "decline",
				Kind:    compute.KindConstant,
				Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("alpha")}},
			},
			{
				ID:   "watcher",
				Kind: "watch",
				Inputs: []domain.InputDecl{
					{Name: "alpha", Kind: domain.EdgeExplicit},
				},
				Outputs: []domain.OutputDecl{
					{Key: domain.MustAssetKey("omega"), Required: true},
				},
			},
		},
	}
	result := env.run(t, compilePlan(t, set, "alpha", "omega"))

	if result.Status != domain.RunStatusSucceeded {
		t.Fatalf("status = %s, want SUCCEEDED", result.Status)
	}
	watcher := requireInvocation(t, result, "watcher")
	if watcher.Status != domain.InvocationSucceeded || watcher.Attempts != 1 {
		t.Fatalf("watcher: status=%s attempts=%d, want invoked despite skipped upstream",
			watcher.Status, watcher.Attempts)
	}
	mu.Lock()
	defer mu.Unlock()
	if got.Produced {
		t.Error("explicit input of a declined upstream must report Produced=false")
	}
	if got.Value != nil {
		t.Errorf("explicit input value = %v, want nil", got.Value)
	}
	if requireOutcome(t, result, "omega").Status != domain.OutcomeMaterialized {
		t.Error("omega must be materialized")
	}
}

// Failure Propagation Tests

func TestExecute_FailureCascadesBothEdgeKinds(t *testing.T) {
	env := newTestEnv(t)
	env.registry.Register(&testHandler{
		kind: "explode",
		fn: func(ctx context.Context, call *compute.Call) (compute.Result, error) {
			return nil, errors.New("kaput")
		},
	})

	set := domain.DeclarationSet{
		Name: "failures",
		Steps: []domain.StepDecl{
			{
				ID:      "boom",
				Kind:    "explode",
				Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("bout"), Required: true}},
			},
			{
				ID:      "after",
				Kind:    compute.KindPassthrough,
				Inputs:  []domain.InputDecl{{Name: "bout"}},
				Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("aout"), Required: true}},
			},
			{
				ID:      "last",
				Kind:    compute.KindPassthrough,
				Inputs:  []domain.InputDecl{{Name: "aout"}},
				Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("lout"), Required: true}},
			},
			{
				ID:   "watcher",
				Kind: compute.KindConstant,
				Config: map[string]any{
					"values": map[string]any{"wout": "w"},
				},
				Inputs: []domain.InputDecl{
					{Name: "bout", Kind: domain.EdgeExplicit},
				},
				Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("wout"), Required: true}},
			},
		},
	}
	result := env.run(t, compilePlan(t, set, "bout", "aout", "lout", "wout"))

	if result.Status != domain.RunStatusFailed {
		t.Fatalf("status = %s, want FAILED", result.Status)
	}

	boom := requireInvocation(t, result, "boom")
	if boom.Status != domain.InvocationFailed || !strings.Contains(boom.Error, "kaput") {
		t.Errorf("boom: status=%s error=%q, want FAILED with original error", boom.Status, boom.Error)
	}

	// Провал каскадируется и через loaded, и через explicit рёбра.
	for _, tc := range []struct{ id, blockedBy string }{
		{"after", "boom"},
		{"last", "after"},
		{"watcher", "boom"},
	} {
		inv := requireInvocation(t, result, tc.id)
		if inv.Status != domain.InvocationFailed || inv.Attempts != 0 {
			t.Errorf("%s: status=%s attempts=%d, want cascaded FAILED", tc.id, inv.Status, inv.Attempts)
		}
		if inv.BlockedBy != tc.blockedBy {
			t.Errorf("%s blocked by %q, want %q", tc.id, inv.BlockedBy, tc.blockedBy)
		}
		if !strings.Contains(inv.Error, "upstream step "+tc.blockedBy+" failed") {
			t.Errorf("%s error = %q, want upstream failure message", tc.id, inv.Error)
		}
	}

	for _, key := range []string{"bout", "aout", "lout", "wout"} {
		if out := requireOutcome(t, result, key); out.Status != domain.OutcomeFailed {
			t.Errorf("%s outcome = %s, want FAILED", key, out.Status)
		}
	}
	if env.log.Size() != 0 {
		t.Errorf("event log has %d events, want none", env.log.Size())
	}
}

func TestExecute_MissingRequiredOutput(t *testing.T) {
	env := newTestEnv(t)
	calls := 0
	var mu sync.Mutex
	env.registry.Register(&testHandler{
		kind: "refuse",
		fn: func(ctx context.Context, call *compute.Call) (compute.Result, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			return compute.Result{}, nil
		},
	})

	set := domain.DeclarationSet{
		Name: "contract",
		Steps: []domain.StepDecl{
			{
				ID:      "strict",
				Kind:    "refuse",
				Retry:   &domain.RetryPolicy{MaxRetries: 2, InitialDelayMs: 1},
				Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("need"), Required: true}},
			},
		},
	}
	result := env.run(t, compilePlan(t, set, "need"))

	if result.Status != domain.RunStatusFailed {
		t.Fatalf("status = %s, want FAILED", result.Status)
	}
	inv := requireInvocation(t, result, "strict")
	if !strings.Contains(inv.Error, "required output slot") {
		t.Errorf("error = %q, want required output violation", inv.Error)
	}
	// Нарушение контракта детерминировано: политика повторов не применяется.
	mu.Lock()
	defer mu.Unlock()
	if inv.Attempts != 1 || calls != 1 {
		t.Errorf("attempts=%d calls=%d, want exactly one attempt", inv.Attempts, calls)
	}
	if env.log.Size() != 0 {
		t.Errorf("event log has %d events, want none", env.log.Size())
	}
}

func TestExecute_UnrequestedOutput(t *testing.T) {
	env := newTestEnv(t)
	env.registry.Register(&testHandler{
		kind: "fanout",
		fn: func(ctx context.Context, call *compute.Call) (compute.Result, error) {
			return compute.Result{
				"first":  compute.Produce(1.0),
				"second": compute.Produce(2.0),
			}, nil
		},
	})

	set := domain.DeclarationSet{
		Name: "contract",
		Steps: []domain.StepDecl{
			{
				ID:          "fan",
				Kind:        "fanout",
				Subsettable: true,
				Outputs: []domain.OutputDecl{
					{Key: domain.MustAssetKey("first")},
					{Key: domain.MustAssetKey("second")},
				},
			},
		},
	}
	result := env.run(t, compilePlan(t, set, "first"))

	if result.Status != domain.RunStatusFailed {
		t.Fatalf("status = %s, want FAILED", result.Status)
	}
	inv := requireInvocation(t, result, "fan")
	if !strings.Contains(inv.Error, "unrequested output slot") {
		t.Errorf("error = %q, want unrequested output violation", inv.Error)
	}
	// Контракт проверяется до побочных эффектов: ничего не сохранено.
	if env.log.Size() != 0 || len(env.manager.Keys()) != 0 {
		t.Errorf("contract violation left traces: %d events, keys %v",
			env.log.Size(), env.manager.Keys())
	}
}

// Retry Tests

func TestExecute_RetryExhaustion(t *testing.T) {
	env := newTestEnv(t)
	calls := 0
	var mu sync.Mutex
	env.registry.Register(&testHandler{
		kind: "broken",
		fn: func(ctx context.Context, call *compute.Call) (compute.Result, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			return nil, errors.New("boom")
		},
	})

	set := domain.DeclarationSet{
		Name: "retries",
		Steps: []domain.StepDecl{
			{
				ID:   "fragile",
				Kind: "broken",
				Retry: &domain.RetryPolicy{
					MaxRetries:     3,
					InitialDelayMs: 1,
					Backoff:        domain.BackoffExponential,
				},
				Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("fout"), Required: true}},
			},
		},
	}
	result := env.run(t, compilePlan(t, set, "fout"))

	if result.Status != domain.RunStatusFailed {
		t.Fatalf("status = %s, want FAILED", result.Status)
	}
	inv := requireInvocation(t, result, "fragile")
	// MaxRetries=3 означает ровно 4 попытки: первая плюс три повтора.
	mu.Lock()
	defer mu.Unlock()
	if inv.Attempts != 4 || calls != 4 {
		t.Errorf("attempts=%d calls=%d, want exactly 4", inv.Attempts, calls)
	}
	if !strings.Contains(inv.Error, "boom") {
		t.Errorf("error = %q, want original error", inv.Error)
	}
	if out := requireOutcome(t, result, "fout"); out.Status != domain.OutcomeFailed {
		t.Errorf("fout outcome = %s, want FAILED", out.Status)
	}
}

func TestExecute_RetryAfterStoreFailure(t *testing.T) {
	store := &flakyStore{Memory: iomanager.NewMemory(), failures: 1}
	log := eventlog.NewMemLog()
	exec, err := New(Config{
		Manager:  store,
		Log:      log,
		Registry: compute.DefaultRegistry(),
		Logger:   testLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	set := domain.DeclarationSet{
		Name: "storage",
		Steps: []domain.StepDecl{
			{
				ID:    "write",
				Kind:  compute.KindConstant,
				Retry: &domain.RetryPolicy{MaxRetries: 2, InitialDelayMs: 1},
				Config: map[string]any{
					"values": map[string]any{"wout": "payload"},
				},
				Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("wout"), Required: true}},
			},
		},
	}
	plan := compilePlan(t, set, "wout")
	result, err := exec.Execute(context.Background(), plan, RunOptions{RunID: uuid.New()})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if result.Status != domain.RunStatusSucceeded {
		t.Fatalf("status = %s, want SUCCEEDED after retry", result.Status)
	}
	if inv := requireInvocation(t, result, "write"); inv.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", inv.Attempts)
	}
	// Провалившаяся попытка события не записала.
	if log.Size() != 1 {
		t.Errorf("event log has %d events, want 1", log.Size())
	}
}

// flakyStore проваливает первые failures вызовов Store.
type flakyStore struct {
	*iomanager.Memory
	mu       sync.Mutex
	failures int
	calls    int
}

func (s *flakyStore) Store(ctx context.Context, key domain.AssetKey, value any, metadata map[string]any) error {
	s.mu.Lock()
	s.calls++
	fail := s.calls <= s.failures
	s.mu.Unlock()
	if fail {
		return &iomanager.StoreError{Key: key, Err: errors.New("disk full")}
	}
	return s.Memory.Store(ctx, key, value, metadata)
}

func TestExecute_RetryDoesNotOccupyWorker(t *testing.T) {
	env := newTestEnv(t)

	var (
		mu       sync.Mutex
		quickAt  time.Time
		secondAt time.Time
	)
	env.registry.Register(&testHandler{
		kind: "flaky-once",
		fn: func(ctx context.Context, call *compute.Call) (compute.Result, error) {
			if call.Attempt == 1 {
				return nil, errors.New("first attempt fails")
			}
			mu.Lock()
			secondAt = time.Now()
			mu.Unlock()
			return compute.Result{"fout": compute.Produce("ok")}, nil
		},
	})
	env.registry.Register(&testHandler{
		kind: "instant",
		fn: func(ctx context.Context, call *compute.Call) (compute.Result, error) {
			mu.Lock()
			quickAt = time.Now()
			mu.Unlock()
			return compute.Result{"qout": compute.Produce("ok")}, nil
		},
	})

	set := domain.DeclarationSet{
		Name: "slots",
		Steps: []domain.StepDecl{
			{
				ID:      "flaky",
				Kind:    "flaky-once",
				Retry:   &domain.RetryPolicy{MaxRetries: 1, InitialDelayMs: 200},
				Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("fout"), Required: true}},
			},
			{
				ID:      "quick",
				Kind:    "instant",
				Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("qout"), Required: true}},
			},
		},
	}
	plan := compilePlan(t, set, "fout", "qout")

	// Один воркер: flaky стартует первым, и пока он ждёт повтора,
	// воркер должен успеть выполнить quick.
	result, err := env.exec.Execute(context.Background(), plan,
		RunOptions{RunID: uuid.New(), Parallelism: 1})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if result.Status != domain.RunStatusSucceeded {
		t.Fatalf("status = %s, want SUCCEEDED", result.Status)
	}
	if inv := requireInvocation(t, result, "flaky"); inv.Attempts != 2 {
		t.Errorf("flaky attempts = %d, want 2", inv.Attempts)
	}
	mu.Lock()
	defer mu.Unlock()
	if quickAt.IsZero() || secondAt.IsZero() {
		t.Fatal("both handlers must have run")
	}
	if !quickAt.Before(secondAt) {
		t.Error("quick must run during the retry delay, not after it")
	}
}

func TestBackoffDelay_Exponential(t *testing.T) {
	policy := &domain.RetryPolicy{
		InitialDelayMs: 100,
		MaxDelayMs:     1000,
		Backoff:        domain.BackoffExponential,
	}
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1000 * time.Millisecond,
		1000 * time.Millisecond,
	}
	for i, expected := range want {
		if got := backoffDelay(i+1, policy); got != expected {
			t.Errorf("attempt %d: delay = %v, want %v", i+1, got, expected)
		}
	}
}

func TestBackoffDelay_Constant(t *testing.T) {
	policy := &domain.RetryPolicy{InitialDelayMs: 100, Backoff: domain.BackoffConstant}
	for _, attempt := range []int{1, 3, 7} {
		if got := backoffDelay(attempt, policy); got != 100*time.Millisecond {
			t.Errorf("attempt %d: delay = %v, want 100ms", attempt, got)
		}
	}
}

func TestBackoffDelay_Defaults(t *testing.T) {
	if got := backoffDelay(1, nil); got != time.Second {
		t.Errorf("nil policy: delay = %v, want 1s", got)
	}
	if got := backoffDelay(2, &domain.RetryPolicy{}); got != time.Second {
		t.Errorf("empty policy: delay = %v, want 1s", got)
	}
}

func TestBackoffDelay_Jitter(t *testing.T) {
	policy := &domain.RetryPolicy{
		InitialDelayMs: 100,
		Jitter:         domain.JitterSymmetricRandom,
	}
	for i := 0; i < 100; i++ {
		got := backoffDelay(1, policy)
		if got < 0 || got > 200*time.Millisecond {
			t.Fatalf("jittered delay = %v, want within [0, 200ms]", got)
		}
	}
}

// Cancellation Tests

func TestExecute_Cancellation(t *testing.T) {
	env := newTestEnv(t)
	started := make(chan struct{})
	env.registry.Register(&testHandler{
		kind: "block",
		fn: func(ctx context.Context, call *compute.Call) (compute.Result, error) {
			close(started)
			<-ctx.Done()
			// даём горутине отмены выставить флаг до завершения попытки
			time.Sleep(50 * time.Millisecond)
			return nil, ctx.Err()
		},
	})

	set := domain.DeclarationSet{
		Name: "cancel",
		Steps: []domain.StepDecl{
			{
				ID:      "blocker",
				Kind:    "block",
				Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("bout"), Required: true}},
			},
			{
				ID:      "child",
				Kind:    compute.KindPassthrough,
				Inputs:  []domain.InputDecl{{Name: "bout"}},
				Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("cout"), Required: true}},
			},
			{
				ID:   "idle",
				Kind: compute.KindConstant,
				Config: map[string]any{
					"values": map[string]any{"iout": "x"},
				},
				Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("iout"), Required: true}},
			},
		},
	}
	plan := compilePlan(t, set, "bout", "cout", "iout")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	resultCh := make(chan *domain.RunResult, 1)
	go func() {
		result, err := env.exec.Execute(ctx, plan, RunOptions{RunID: uuid.New(), Parallelism: 1})
		if err != nil {
			t.Errorf("Execute: %v", err)
		}
		resultCh <- result
	}()

	<-started
	cancel()
	result := <-resultCh
	if result == nil {
		t.Fatal("no result")
	}

	if result.Status != domain.RunStatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", result.Status)
	}
	blocker := requireInvocation(t, result, "blocker")
	if blocker.Status != domain.InvocationFailed || blocker.Attempts != 1 {
		t.Errorf("blocker: status=%s attempts=%d, want FAILED after one attempt",
			blocker.Status, blocker.Attempts)
	}
	child := requireInvocation(t, result, "child")
	if child.Status != domain.InvocationFailed || child.BlockedBy != "blocker" {
		t.Errorf("child: status=%s blockedBy=%q, want cascaded FAILED", child.Status, child.BlockedBy)
	}
	// Не стартовавший вызов остаётся PENDING и исходов не получает.
	idle := requireInvocation(t, result, "idle")
	if idle.Status != domain.InvocationPending || idle.Attempts != 0 {
		t.Errorf("idle: status=%s attempts=%d, want untouched PENDING", idle.Status, idle.Attempts)
	}
	if _, ok := result.Outcome(domain.MustAssetKey("iout")); ok {
		t.Error("pending invocation must not contribute outcomes")
	}
}

// Sink Tests

func TestExecute_DeliversEventsToSinks(t *testing.T) {
	var (
		mu       sync.Mutex
		received []domain.AssetKey
	)
	sink := SinkFunc(func(event *domain.MaterializationEvent) {
		mu.Lock()
		received = append(received, event.Key)
		mu.Unlock()
	})

	env := newTestEnv(t, sink)
	result := env.run(t, compilePlan(t, pipelineSet(), "numbers", "report"))
	if result.Status != domain.RunStatusSucceeded {
		t.Fatalf("status = %s, want SUCCEEDED", result.Status)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []domain.AssetKey{domain.MustAssetKey("numbers"), domain.MustAssetKey("report")}
	if !reflect.DeepEqual(received, want) {
		t.Errorf("delivered events = %v, want %v", received, want)
	}
}
