package engine

import (
	"strings"
	"testing"

	"github.com/shaiso/Materia/internal/domain"
)

func TestCompile_SingleStep(t *testing.T) {
	g := resolveTestGraph(t)

	plan, err := Compile(g, []domain.AssetKey{domain.MustAssetKey("clean/events")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if plan.Size() != 1 {
		t.Fatalf("expected 1 invocation, got %d", plan.Size())
	}
	inv := plan.Invocations["clean"]
	if inv == nil {
		t.Fatal("invocation clean missing from plan")
	}
	if len(inv.RequestedSlots) != 1 || inv.RequestedSlots[0] != "events" {
		t.Errorf("expected slot events requested, got %v", inv.RequestedSlots)
	}

	// единственный вход — source-ассет: читается из внешнего состояния
	if len(inv.Bindings) != 1 {
		t.Fatalf("expected 1 binding, got %d", len(inv.Bindings))
	}
	b := inv.Bindings[0]
	if b.Key != domain.MustAssetKey("raw/events") || b.Kind != domain.EdgeLoaded {
		t.Errorf("unexpected binding: %+v", b)
	}
	if b.ProducedBy != "" {
		t.Error("source input should not have an in-plan producer")
	}
	if len(inv.WaitsOn) != 0 {
		t.Errorf("expected no waits, got %v", inv.WaitsOn)
	}
	if len(plan.Order) != 1 || plan.Order[0] != "clean" {
		t.Errorf("expected order [clean], got %v", plan.Order)
	}
}

func TestCompile_ChainWaitsOn(t *testing.T) {
	g := resolveTestGraph(t)

	plan, err := Compile(g, []domain.AssetKey{
		domain.MustAssetKey("clean/events"),
		domain.MustAssetKey("reports/daily"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if plan.Size() != 2 {
		t.Fatalf("expected 2 invocations, got %d", plan.Size())
	}

	split := plan.Invocations["split"]
	if split == nil {
		t.Fatal("invocation split missing")
	}
	if len(split.WaitsOn) != 1 || split.WaitsOn[0] != "clean" {
		t.Errorf("split should wait on clean, got %v", split.WaitsOn)
	}
	if len(split.Bindings) != 1 || split.Bindings[0].ProducedBy != "clean" {
		t.Errorf("split input should be produced in-plan by clean, got %+v", split.Bindings)
	}

	if strings.Join(plan.Order, " ") != "clean split" {
		t.Errorf("expected order [clean split], got %v", plan.Order)
	}
}

func TestCompile_ReadThroughUnselectedUpstream(t *testing.T) {
	g := resolveTestGraph(t)

	// clean/events не выбран: split читает его последнее записанное
	// событие, ни на кого не ждёт
	plan, err := Compile(g, []domain.AssetKey{domain.MustAssetKey("reports/daily")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if plan.Size() != 1 {
		t.Fatalf("expected 1 invocation, got %d", plan.Size())
	}
	split := plan.Invocations["split"]
	if len(split.Bindings) != 1 {
		t.Fatalf("expected 1 binding, got %d", len(split.Bindings))
	}
	if split.Bindings[0].ProducedBy != "" {
		t.Error("unselected upstream should resolve to read-through")
	}
	if len(split.WaitsOn) != 0 {
		t.Errorf("expected no waits, got %v", split.WaitsOn)
	}
}

func TestCompile_NonSubsettableExpansion(t *testing.T) {
	g := resolveTestGraph(t)

	// выбран один ключ, но publish не subsettable: запрашиваются оба слота
	plan, err := Compile(g, []domain.AssetKey{domain.MustAssetKey("published/bundle")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	publish := plan.Invocations["publish"]
	if publish == nil {
		t.Fatal("invocation publish missing")
	}
	if strings.Join(publish.RequestedSlots, " ") != "bundle summary" {
		t.Errorf("non-subsettable step should request all slots, got %v", publish.RequestedSlots)
	}
}

func TestCompile_SubsetRequestsOnlySelected(t *testing.T) {
	g := resolveTestGraph(t)

	plan, err := Compile(g, []domain.AssetKey{domain.MustAssetKey("reports/daily")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	split := plan.Invocations["split"]
	if strings.Join(split.RequestedSlots, " ") != "daily" {
		t.Errorf("expected only requested slot daily, got %v", split.RequestedSlots)
	}
	keys := split.RequestedKeys()
	if len(keys) != 1 || keys[0] != domain.MustAssetKey("reports/daily") {
		t.Errorf("unexpected requested keys: %v", keys)
	}

	// невыбранный слот weekly в этом run никем не производится
	if plan.Producer(domain.MustAssetKey("reports/weekly")) != nil {
		t.Error("unrequested slot should have no producer in the plan")
	}
	if plan.Producer(domain.MustAssetKey("reports/daily")) != split {
		t.Error("requested slot should map to its invocation")
	}
}

func TestCompile_StepAppearsOnce(t *testing.T) {
	g := resolveTestGraph(t)

	plan, err := Compile(g, []domain.AssetKey{
		domain.MustAssetKey("reports/daily"),
		domain.MustAssetKey("reports/weekly"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if plan.Size() != 1 {
		t.Fatalf("both slots belong to one step, expected 1 invocation, got %d", plan.Size())
	}
	split := plan.Invocations["split"]
	if strings.Join(split.RequestedSlots, " ") != "daily weekly" {
		t.Errorf("expected both slots in one invocation, got %v", split.RequestedSlots)
	}
}

func TestCompile_SourceOnly(t *testing.T) {
	g := resolveTestGraph(t)

	plan, err := Compile(g, []domain.AssetKey{domain.MustAssetKey("raw/events")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Size() != 0 {
		t.Errorf("source assets spawn no invocations, got %d", plan.Size())
	}
	if len(plan.Selected) != 1 {
		t.Errorf("selection should be preserved, got %v", plan.Selected)
	}
}

func TestCompile_FullGraphOrder(t *testing.T) {
	g := resolveTestGraph(t)

	selected, err := Select(g, domain.Selection{
		Keys:       []domain.AssetKey{domain.MustAssetKey("raw/events")},
		Downstream: -1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	plan, err := Compile(g, selected)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if plan.Size() != 4 {
		t.Fatalf("expected 4 invocations, got %d", plan.Size())
	}

	// порядок согласован с WaitsOn
	pos := make(map[string]int, len(plan.Order))
	for i, id := range plan.Order {
		pos[id] = i
	}
	for id, inv := range plan.Invocations {
		for _, upstream := range inv.WaitsOn {
			if pos[upstream] > pos[id] {
				t.Errorf("%s should come before %s in plan order", upstream, id)
			}
		}
	}

	// и детерминирован: при равных возможностях — минимальный ID
	if strings.Join(plan.Order, " ") != "clean audit split publish" {
		t.Errorf("unexpected plan order: %v", plan.Order)
	}

	// audit ждёт clean по explicit-ребру: ожидание есть, загрузки не будет
	audit := plan.Invocations["audit"]
	if len(audit.WaitsOn) != 1 || audit.WaitsOn[0] != "clean" {
		t.Errorf("audit should wait on clean, got %v", audit.WaitsOn)
	}
	if len(audit.Bindings) != 1 || audit.Bindings[0].Kind != domain.EdgeExplicit {
		t.Errorf("audit binding should stay explicit, got %+v", audit.Bindings)
	}
}

func TestCompile_BindingsFollowInternalDeps(t *testing.T) {
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

	// запрошен только narrow: вход right его не питает и в привязки не попадает
	plan, err := Compile(g, []domain.AssetKey{domain.MustAssetKey("out/narrow")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	split := plan.Invocations["split"]
	if len(split.Bindings) != 1 || split.Bindings[0].Name != "left" {
		t.Errorf("only feeding inputs should be bound, got %+v", split.Bindings)
	}

	// запрошены оба слота: привязаны оба входа
	plan, err = Compile(g, []domain.AssetKey{
		domain.MustAssetKey("out/narrow"),
		domain.MustAssetKey("out/wide"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	split = plan.Invocations["split"]
	if len(split.Bindings) != 2 {
		t.Errorf("expected both inputs bound, got %+v", split.Bindings)
	}
}
