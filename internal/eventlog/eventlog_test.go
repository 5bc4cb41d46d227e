package eventlog

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/shaiso/Materia/internal/domain"
)

func TestMemLog_AppendAssignsSeq(t *testing.T) {
	log := NewMemLog()
	ctx := context.Background()
	key := domain.MustAssetKey("warehouse/users")
	runID := uuid.New()

	for i := 1; i <= 3; i++ {
		e := domain.NewMaterializationEvent(key, runID, "1", nil)
		if err := log.Append(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
		if e.Seq != int64(i) {
			t.Errorf("expected seq %d, got %d", i, e.Seq)
		}
	}

	if log.Size() != 3 {
		t.Errorf("expected 3 events, got %d", log.Size())
	}
}

func TestMemLog_Latest(t *testing.T) {
	log := NewMemLog()
	ctx := context.Background()
	key := domain.MustAssetKey("warehouse/users")
	other := domain.MustAssetKey("warehouse/orders")

	first := domain.NewMaterializationEvent(key, uuid.New(), "1", nil)
	second := domain.NewMaterializationEvent(key, uuid.New(), "2", nil)
	log.Append(ctx, first)
	log.Append(ctx, domain.NewMaterializationEvent(other, uuid.New(), "1", nil))
	log.Append(ctx, second)

	latest, err := log.Latest(ctx, key)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.ID != second.ID {
		t.Errorf("expected latest event %s, got %s", second.ID, latest.ID)
	}
	if latest.CodeVersion != "2" {
		t.Errorf("expected code version 2, got %s", latest.CodeVersion)
	}
}

func TestMemLog_LatestNoEvents(t *testing.T) {
	log := NewMemLog()

	_, err := log.Latest(context.Background(), domain.MustAssetKey("warehouse/empty"))
	if !errors.Is(err, ErrNoEvents) {
		t.Errorf("expected ErrNoEvents, got %v", err)
	}
}

func TestMemLog_ListByKey(t *testing.T) {
	log := NewMemLog()
	ctx := context.Background()
	key := domain.MustAssetKey("warehouse/users")

	for i := 0; i < 5; i++ {
		log.Append(ctx, domain.NewMaterializationEvent(key, uuid.New(), "1", nil))
	}

	all, err := log.ListByKey(ctx, key, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 events, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Seq <= all[i-1].Seq {
			t.Errorf("events out of order: seq %d after %d", all[i].Seq, all[i-1].Seq)
		}
	}

	// Limit возвращает последние события
	tail, err := log.ListByKey(ctx, key, 2)
	if err != nil {
		t.Fatalf("list with limit: %v", err)
	}
	if len(tail) != 2 {
		t.Fatalf("expected 2 events, got %d", len(tail))
	}
	if tail[1].Seq != all[4].Seq {
		t.Errorf("expected tail to end at seq %d, got %d", all[4].Seq, tail[1].Seq)
	}
}

func TestMemLog_ListByRun(t *testing.T) {
	log := NewMemLog()
	ctx := context.Background()
	runA := uuid.New()
	runB := uuid.New()

	log.Append(ctx, domain.NewMaterializationEvent(domain.MustAssetKey("a/one"), runA, "1", nil))
	log.Append(ctx, domain.NewMaterializationEvent(domain.MustAssetKey("a/two"), runB, "1", nil))
	log.Append(ctx, domain.NewMaterializationEvent(domain.MustAssetKey("a/three"), runA, "1", nil))

	events, err := log.ListByRun(ctx, runA)
	if err != nil {
		t.Fatalf("list by run: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events for run, got %d", len(events))
	}
	if events[0].Key.String() != "a/one" || events[1].Key.String() != "a/three" {
		t.Errorf("unexpected events: %v, %v", events[0].Key, events[1].Key)
	}
}

func TestMemLog_ConcurrentAppends(t *testing.T) {
	log := NewMemLog()
	ctx := context.Background()
	key := domain.MustAssetKey("warehouse/users")

	const goroutines = 8
	const perGoroutine = 50

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				if err := log.Append(ctx, domain.NewMaterializationEvent(key, uuid.New(), "1", nil)); err != nil {
					t.Errorf("append: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	total := goroutines * perGoroutine
	if log.Size() != total {
		t.Fatalf("expected %d events, got %d", total, log.Size())
	}

	// Seq присвоены без дыр и дублей
	events, err := log.ListByKey(ctx, key, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	seen := make(map[int64]bool, total)
	for _, e := range events {
		if e.Seq < 1 || e.Seq > int64(total) {
			t.Errorf("seq %d out of range", e.Seq)
		}
		if seen[e.Seq] {
			t.Errorf("duplicate seq %d", e.Seq)
		}
		seen[e.Seq] = true
	}
}

func TestMemLog_RejectsEmptyKey(t *testing.T) {
	log := NewMemLog()

	err := log.Append(context.Background(), &domain.MaterializationEvent{ID: uuid.New()})
	if !errors.Is(err, domain.ErrEmptyKey) {
		t.Errorf("expected ErrEmptyKey, got %v", err)
	}
}
