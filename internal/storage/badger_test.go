package storage

import (
	"context"
	"testing"

	"archsearch/internal/model"
)

func TestBadgerStoreInMemoryRoundTrip(t *testing.T) {
	store := NewBadgerStore("")
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	exerciseStore(t, store)
}

func TestBadgerStoreSamplingSequenceSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	record := func(lookBack int) model.SamplingRecord {
		return model.SamplingRecord{VersionedRecord: Versioned(), RunID: "run-1", Architecture: []int{1}, LookBack: lookBack, Metrics: map[string]float64{"mae": 1}}
	}

	store := NewBadgerStore(dir)
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := store.AppendSamplingRecords(ctx, "run-1", []model.SamplingRecord{record(1), record(2)}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened := NewBadgerStore(dir)
	if err := reopened.Init(ctx); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() {
		_ = reopened.Close()
	})
	if err := reopened.AppendSamplingRecords(ctx, "run-1", []model.SamplingRecord{record(3)}); err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	records, ok, err := reopened.GetSamplingRecords(ctx, "run-1")
	if err != nil || !ok {
		t.Fatalf("get sampling: ok=%t err=%v", ok, err)
	}
	if len(records) != 3 || records[0].LookBack != 1 || records[2].LookBack != 3 {
		t.Fatalf("unexpected records after reopen: %+v", records)
	}
}

func TestBadgerStoreRequiresInit(t *testing.T) {
	store := NewBadgerStore("")
	if _, _, err := store.GetRun(context.Background(), "r"); err == nil {
		t.Fatal("expected not initialized error")
	}
}
