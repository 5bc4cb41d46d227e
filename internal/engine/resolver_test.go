package engine

import (
	"errors"
	"strings"
	"testing"

	"github.com/shaiso/Materia/internal/domain"
)

// fakeKinds — реестр типов вычислений для тестов резолвера.
type fakeKinds struct {
	known     map[string]bool
	configErr map[string]error
}

func (f *fakeKinds) Known(kind string) bool {
	return f.known[kind]
}

func (f *fakeKinds) ValidateConfig(kind string, config map[string]any) error {
	return f.configErr[kind]
}

func TestResolve_SimpleChain(t *testing.T) {
	set := domain.DeclarationSet{
		Name: "pipeline",
		Sources: []domain.SourceDecl{
			{Key: domain.MustAssetKey("raw/events")},
		},
		Steps: []domain.StepDecl{
			{
				ID:   "clean",
				Kind: "transform",
				Inputs: []domain.InputDecl{
					{Name: "events", Key: domain.MustAssetKey("raw/events")},
				},
				Outputs: []domain.OutputDecl{
					{Key: domain.MustAssetKey("clean/events"), Required: true, CodeVersion: "1"},
				},
			},
			{
				ID:   "report",
				Kind: "transform",
				Inputs: []domain.InputDecl{
					{Name: "events", Key: domain.MustAssetKey("clean/events")},
				},
				Outputs: []domain.OutputDecl{
					{Key: domain.MustAssetKey("reports/daily"), Group: "reporting"},
				},
			},
		},
	}

	g, err := Resolve(set, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if g.Name != "pipeline" {
		t.Errorf("expected graph name pipeline, got %s", g.Name)
	}
	if g.Size() != 3 {
		t.Errorf("expected 3 nodes, got %d", g.Size())
	}

	raw := g.GetNode(domain.MustAssetKey("raw/events"))
	if raw == nil || !raw.IsSource {
		t.Fatal("raw/events should resolve to a source node")
	}
	if raw.Group != domain.DefaultGroup {
		t.Errorf("expected default group, got %s", raw.Group)
	}
	if raw.StepID != "" {
		t.Error("source node should have no step")
	}

	clean := g.GetNode(domain.MustAssetKey("clean/events"))
	if clean == nil {
		t.Fatal("clean/events not resolved")
	}
	if clean.StepID != "clean" {
		t.Errorf("expected step clean, got %s", clean.StepID)
	}
	if clean.CodeVersion != "1" {
		t.Errorf("expected code version 1, got %s", clean.CodeVersion)
	}
	if len(clean.Deps) != 1 || clean.Deps[0].Upstream != domain.MustAssetKey("raw/events") {
		t.Fatalf("clean/events should depend on raw/events, got %v", clean.Deps)
	}
	if clean.Deps[0].Kind != domain.EdgeLoaded {
		t.Errorf("input kind defaults to loaded, got %s", clean.Deps[0].Kind)
	}

	daily := g.GetNode(domain.MustAssetKey("reports/daily"))
	if daily == nil || daily.Group != "reporting" {
		t.Error("reports/daily should carry its declared group")
	}

	// обратный индекс
	dependents := g.DependentsOf(domain.MustAssetKey("clean/events"))
	if len(dependents) != 1 || dependents[0] != domain.MustAssetKey("reports/daily") {
		t.Errorf("reports/daily should be dependent of clean/events, got %v", dependents)
	}

	// binding table шага
	step := g.GetStep("clean")
	if step == nil {
		t.Fatal("step clean not resolved")
	}
	if len(step.Inputs) != 1 || step.Inputs[0].Key != domain.MustAssetKey("raw/events") {
		t.Errorf("step clean input should bind to raw/events, got %v", step.Inputs)
	}
	out, ok := step.Output("events")
	if !ok {
		t.Fatal("output slot name should default to key leaf")
	}
	if !out.Required {
		t.Error("output slot should keep required flag")
	}
}

func TestResolve_TopoOrder(t *testing.T) {
	// root → b → d
	// root → c → d
	set := domain.DeclarationSet{
		Sources: []domain.SourceDecl{
			{Key: domain.MustAssetKey("root")},
		},
		Steps: []domain.StepDecl{
			{
				ID: "make_d", Kind: "transform",
				Inputs: []domain.InputDecl{
					{Name: "b"},
					{Name: "c"},
				},
				Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("d")}},
			},
			{
				ID: "make_b", Kind: "transform",
				Inputs:  []domain.InputDecl{{Name: "root"}},
				Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("b")}},
			},
			{
				ID: "make_c", Kind: "transform",
				Inputs:  []domain.InputDecl{{Name: "root"}},
				Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("c")}},
			},
		},
	}

	g, err := Resolve(set, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(g.Topo) != 4 {
		t.Fatalf("expected 4 keys in topo order, got %d", len(g.Topo))
	}

	pos := make(map[domain.AssetKey]int, len(g.Topo))
	for i, k := range g.Topo {
		pos[k] = i
	}

	// порядок — валидная линеаризация всех рёбер
	for key, node := range g.Nodes {
		for _, d := range node.Deps {
			if pos[d.Upstream] > pos[key] {
				t.Errorf("%s should come before %s in topo order", d.Upstream, key)
			}
		}
	}

	// при прочих равных — по возрастанию ключа
	want := []string{"root", "b", "c", "d"}
	for i, s := range want {
		if g.Topo[i] != domain.MustAssetKey(s) {
			t.Errorf("topo position %d: expected %s, got %s", i, s, g.Topo[i])
		}
	}
}

func TestResolve_CyclicDependency(t *testing.T) {
	// a → b → c → a
	set := domain.DeclarationSet{
		Steps: []domain.StepDecl{
			{
				ID: "make_a", Kind: "transform",
				Inputs:  []domain.InputDecl{{Name: "c", Key: domain.MustAssetKey("c")}},
				Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("a")}},
			},
			{
				ID: "make_b", Kind: "transform",
				Inputs:  []domain.InputDecl{{Name: "a", Key: domain.MustAssetKey("a")}},
				Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("b")}},
			},
			{
				ID: "make_c", Kind: "transform",
				Inputs:  []domain.InputDecl{{Name: "b", Key: domain.MustAssetKey("b")}},
				Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("c")}},
			},
		},
	}

	_, err := Resolve(set, nil)
	if !errors.Is(err, ErrCyclicDependency) {
		t.Fatalf("expected ErrCyclicDependency, got %v", err)
	}

	var cerr *CycleError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *CycleError, got %T", err)
	}
	if len(cerr.Keys) != 4 {
		t.Fatalf("expected full cycle sequence of 4 keys, got %v", cerr.Keys)
	}
	if cerr.Keys[0] != cerr.Keys[len(cerr.Keys)-1] {
		t.Error("cycle sequence should close on its first key")
	}
	if !strings.Contains(err.Error(), " -> ") {
		t.Errorf("cycle error should spell out the key sequence: %s", err)
	}
}

func TestResolve_DuplicateKey(t *testing.T) {
	set := domain.DeclarationSet{
		Sources: []domain.SourceDecl{
			{Key: domain.MustAssetKey("shared/data")},
		},
		Steps: []domain.StepDecl{
			{
				ID: "load", Kind: "constant",
				Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("shared/data")}},
			},
		},
	}

	_, err := Resolve(set, nil)
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}

	// сообщение называет оба места декларации
	msg := err.Error()
	if !strings.Contains(msg, "source declaration") || !strings.Contains(msg, "step load") {
		t.Errorf("error should name both declaration sites: %s", msg)
	}
}

func TestResolve_DuplicateKeyAcrossSteps(t *testing.T) {
	set := domain.DeclarationSet{
		Steps: []domain.StepDecl{
			{ID: "first", Kind: "constant", Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("x")}}},
			{ID: "second", Kind: "constant", Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("x")}}},
		},
	}

	_, err := Resolve(set, nil)
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "step first") || !strings.Contains(msg, "step second") {
		t.Errorf("error should name both steps: %s", msg)
	}
}

func TestResolve_UnknownDependency(t *testing.T) {
	set := domain.DeclarationSet{
		Steps: []domain.StepDecl{
			{
				ID: "consume", Kind: "transform",
				Inputs:  []domain.InputDecl{{Name: "data", Key: domain.MustAssetKey("missing/key")}},
				Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("out")}},
			},
		},
	}

	_, err := Resolve(set, nil)
	if !errors.Is(err, ErrUnknownDependency) {
		t.Fatalf("expected ErrUnknownDependency, got %v", err)
	}
}

func TestResolve_NameMatchBinding(t *testing.T) {
	set := domain.DeclarationSet{
		Sources: []domain.SourceDecl{
			{Key: domain.MustAssetKey("raw/users")},
			{Key: domain.MustAssetKey("raw/orders")},
		},
		Steps: []domain.StepDecl{
			{
				ID: "join", Kind: "transform",
				Inputs: []domain.InputDecl{
					{Name: "users"},
					{Name: "orders", Kind: domain.EdgeExplicit},
				},
				Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("joined")}},
			},
		},
	}

	g, err := Resolve(set, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	step := g.GetStep("join")
	users, ok := step.Input("users")
	if !ok || users.Key != domain.MustAssetKey("raw/users") {
		t.Errorf("input users should bind to raw/users by leaf match, got %v", users.Key)
	}
	orders, _ := step.Input("orders")
	if orders.Key != domain.MustAssetKey("raw/orders") {
		t.Errorf("input orders should bind to raw/orders, got %v", orders.Key)
	}
	if orders.Kind != domain.EdgeExplicit {
		t.Error("explicit kind should survive binding")
	}
}

func TestResolve_AmbiguousNameMatch(t *testing.T) {
	set := domain.DeclarationSet{
		Sources: []domain.SourceDecl{
			{Key: domain.MustAssetKey("staging/data")},
			{Key: domain.MustAssetKey("prod/data")},
		},
		Steps: []domain.StepDecl{
			{
				ID: "consume", Kind: "transform",
				Inputs:  []domain.InputDecl{{Name: "data"}},
				Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("out")}},
			},
		},
	}

	_, err := Resolve(set, nil)
	if !errors.Is(err, ErrUnknownDependency) {
		t.Fatalf("expected ErrUnknownDependency for ambiguous name, got %v", err)
	}
	if !strings.Contains(err.Error(), "multiple") {
		t.Errorf("error should mention ambiguity: %s", err)
	}
}

func TestResolve_SelfDependency(t *testing.T) {
	set := domain.DeclarationSet{
		Steps: []domain.StepDecl{
			{
				ID: "loop", Kind: "transform",
				Inputs:  []domain.InputDecl{{Name: "x", Key: domain.MustAssetKey("x")}},
				Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("x")}},
			},
		},
	}

	_, err := Resolve(set, nil)
	if !errors.Is(err, ErrSelfDependency) {
		t.Fatalf("expected ErrSelfDependency, got %v", err)
	}
}

func TestResolve_InternalDeps(t *testing.T) {
	set := domain.DeclarationSet{
		Sources: []domain.SourceDecl{
			{Key: domain.MustAssetKey("left")},
			{Key: domain.MustAssetKey("right")},
		},
		Steps: []domain.StepDecl{
			{
				ID: "split", Kind: "transform", Subsettable: true,
				Inputs: []domain.InputDecl{
					{Name: "left"},
					{Name: "right"},
				},
				Outputs: []domain.OutputDecl{
					{Name: "narrow", Key: domain.MustAssetKey("out/narrow")},
					{Name: "wide", Key: domain.MustAssetKey("out/wide")},
				},
				InternalDeps: map[string][]string{
					"narrow": {"left"},
				},
			},
		},
	}

	g, err := Resolve(set, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// narrow питается только left
	narrow := g.GetNode(domain.MustAssetKey("out/narrow"))
	if len(narrow.Deps) != 1 || narrow.Deps[0].Upstream != domain.MustAssetKey("left") {
		t.Errorf("out/narrow should depend only on left, got %v", narrow.Deps)
	}

	// wide без записи в InternalDeps — питается всеми входами
	wide := g.GetNode(domain.MustAssetKey("out/wide"))
	if len(wide.Deps) != 2 {
		t.Errorf("out/wide should depend on both inputs, got %v", wide.Deps)
	}
}

func TestResolve_InternalDepsUnknownSlot(t *testing.T) {
	set := domain.DeclarationSet{
		Sources: []domain.SourceDecl{{Key: domain.MustAssetKey("in")}},
		Steps: []domain.StepDecl{
			{
				ID: "bad", Kind: "transform",
				Inputs:       []domain.InputDecl{{Name: "in"}},
				Outputs:      []domain.OutputDecl{{Key: domain.MustAssetKey("out")}},
				InternalDeps: map[string][]string{"ghost": {"in"}},
			},
		},
	}

	_, err := Resolve(set, nil)
	if !errors.Is(err, ErrUnknownDependency) {
		t.Fatalf("expected ErrUnknownDependency for unknown slot, got %v", err)
	}
}

func TestResolve_Idempotence(t *testing.T) {
	set := domain.DeclarationSet{
		Sources: []domain.SourceDecl{{Key: domain.MustAssetKey("src")}},
		Steps: []domain.StepDecl{
			{
				ID: "a", Kind: "transform",
				Inputs:  []domain.InputDecl{{Name: "src"}},
				Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("mid")}},
			},
			{
				ID: "b", Kind: "transform",
				Inputs:  []domain.InputDecl{{Name: "mid"}},
				Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("end")}},
			},
		},
	}

	first, err := Resolve(set, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Resolve(set, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.Size() != second.Size() {
		t.Fatalf("node counts differ: %d vs %d", first.Size(), second.Size())
	}
	if len(first.Topo) != len(second.Topo) {
		t.Fatalf("topo lengths differ")
	}
	for i := range first.Topo {
		if first.Topo[i] != second.Topo[i] {
			t.Errorf("topo position %d differs: %s vs %s", i, first.Topo[i], second.Topo[i])
		}
	}
	for key, node := range first.Nodes {
		other := second.GetNode(key)
		if other == nil {
			t.Fatalf("node %s missing from second resolve", key)
		}
		if len(node.Deps) != len(other.Deps) {
			t.Errorf("node %s edge counts differ", key)
			continue
		}
		for i := range node.Deps {
			if node.Deps[i] != other.Deps[i] {
				t.Errorf("node %s edge %d differs: %v vs %v", key, i, node.Deps[i], other.Deps[i])
			}
		}
	}
}

func TestResolve_KindValidation(t *testing.T) {
	kinds := &fakeKinds{
		known:     map[string]bool{"transform": true, "broken": true},
		configErr: map[string]error{"broken": errors.New("field limit: expected int")},
	}

	set := domain.DeclarationSet{
		Steps: []domain.StepDecl{
			{ID: "bad", Kind: "no_such_kind", Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("x")}}},
		},
	}
	if _, err := Resolve(set, kinds); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}

	set = domain.DeclarationSet{
		Steps: []domain.StepDecl{
			{ID: "bad", Kind: "broken", Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("x")}}},
		},
	}
	_, err := Resolve(set, kinds)
	if err == nil || !strings.Contains(err.Error(), "field limit") {
		t.Fatalf("expected config validation error, got %v", err)
	}

	// с nil-валидатором типы не проверяются
	if _, err := Resolve(set, nil); err != nil {
		t.Fatalf("nil validator should skip kind checks, got %v", err)
	}
}

func TestResolve_InvalidRetry(t *testing.T) {
	set := domain.DeclarationSet{
		Steps: []domain.StepDecl{
			{
				ID: "flaky", Kind: "transform",
				Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("x")}},
				Retry:   &domain.RetryPolicy{MaxRetries: -1},
			},
		},
	}

	_, err := Resolve(set, nil)
	if err == nil {
		t.Fatal("expected retry validation error")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.StepID != "flaky" {
		t.Errorf("error should carry step context, got %v", err)
	}
}

func TestResolve_DuplicateStepID(t *testing.T) {
	set := domain.DeclarationSet{
		Steps: []domain.StepDecl{
			{ID: "same", Kind: "constant", Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("a")}}},
			{ID: "same", Kind: "constant", Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("b")}}},
		},
	}

	_, err := Resolve(set, nil)
	if !errors.Is(err, ErrDuplicateStepID) {
		t.Fatalf("expected ErrDuplicateStepID, got %v", err)
	}
}

func TestResolve_EmptySet(t *testing.T) {
	g, err := Resolve(domain.DeclarationSet{Name: "empty"}, nil)
	if err != nil {
		t.Fatalf("empty declaration set should resolve: %v", err)
	}
	if g.Size() != 0 || len(g.Topo) != 0 {
		t.Error("empty set should yield an empty graph")
	}
}

func TestCompose_SourceOverride(t *testing.T) {
	// граф ingest производит warehouse/users;
	// граф analytics ссылается на него как на source
	ingest, err := Resolve(domain.DeclarationSet{
		Name: "ingest",
		Steps: []domain.StepDecl{
			{
				ID: "load_users", Kind: "constant",
				Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("warehouse/users"), CodeVersion: "3"}},
			},
		},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	analytics, err := Resolve(domain.DeclarationSet{
		Name: "analytics",
		Sources: []domain.SourceDecl{
			{Key: domain.MustAssetKey("warehouse/users")},
		},
		Steps: []domain.StepDecl{
			{
				ID: "user_report", Kind: "transform",
				Inputs:  []domain.InputDecl{{Name: "users", Key: domain.MustAssetKey("warehouse/users")}},
				Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("reports/users")}},
			},
		},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	composed, err := Compose(ingest, analytics)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if composed.Size() != 2 {
		t.Fatalf("expected 2 nodes after compose, got %d", composed.Size())
	}

	// вычисляемый узел авторитетен: source-ссылка вытеснена
	users := composed.GetNode(domain.MustAssetKey("warehouse/users"))
	if users.IsSource {
		t.Error("computed node should win over source reference")
	}
	if users.StepID != "load_users" || users.CodeVersion != "3" {
		t.Errorf("computed node should keep its step and version, got %+v", users)
	}

	// lineage объединён: отчёт зависит от вычисляемого узла
	dependents := composed.DependentsOf(domain.MustAssetKey("warehouse/users"))
	if len(dependents) != 1 || dependents[0] != domain.MustAssetKey("reports/users") {
		t.Errorf("merged lineage should link report to computed node, got %v", dependents)
	}
}

func TestCompose_DuplicateComputed(t *testing.T) {
	first, err := Resolve(domain.DeclarationSet{
		Name: "one",
		Steps: []domain.StepDecl{
			{ID: "s1", Kind: "constant", Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("x")}}},
		},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Resolve(domain.DeclarationSet{
		Name: "two",
		Steps: []domain.StepDecl{
			{ID: "s2", Kind: "constant", Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("x")}}},
		},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = Compose(first, second)
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
}

func TestCompose_CycleAcrossGraphs(t *testing.T) {
	// граф a: source y → вычисляет x; граф b: source x → вычисляет y.
	// По отдельности ацикличны, вместе замыкают цикл x → y → x.
	a, err := Resolve(domain.DeclarationSet{
		Name:    "a",
		Sources: []domain.SourceDecl{{Key: domain.MustAssetKey("y")}},
		Steps: []domain.StepDecl{
			{
				ID: "make_x", Kind: "transform",
				Inputs:  []domain.InputDecl{{Name: "y"}},
				Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("x")}},
			},
		},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := Resolve(domain.DeclarationSet{
		Name:    "b",
		Sources: []domain.SourceDecl{{Key: domain.MustAssetKey("x")}},
		Steps: []domain.StepDecl{
			{
				ID: "make_y", Kind: "transform",
				Inputs:  []domain.InputDecl{{Name: "x"}},
				Outputs: []domain.OutputDecl{{Key: domain.MustAssetKey("y")}},
			},
		},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = Compose(a, b)
	if !errors.Is(err, ErrCyclicDependency) {
		t.Fatalf("expected ErrCyclicDependency after compose, got %v", err)
	}
}
