package stats

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"archsearch/internal/model"
	"archsearch/internal/storage"
)

func TestCSVOutputLoggerWritesHeaderOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := NewCSVOutputLogger(&buf)
	ctx := context.Background()

	records := []model.SamplingRecord{
		{Architecture: []int{1, 4, 1}, LookBack: 1, Metrics: map[string]float64{"mae": 0.5, "mae_std": 0.1}},
		{Architecture: []int{1, 4, 1}, LookBack: 2, Metrics: map[string]float64{"mae": 0.25, "mae_std": 0.05}},
	}
	for _, record := range records {
		if err := logger.Output(ctx, record); err != nil {
			t.Fatalf("output: %v", err)
		}
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	want := "architecture,look_back,mae,mae_std\n" +
		"\"[1,4,1]\",1,0.5,0.1\n" +
		"\"[1,4,1]\",2,0.25,0.05\n"
	if buf.String() != want {
		t.Fatalf("unexpected csv:\n%s", buf.String())
	}
}

func TestCSVOutputLoggerRejectsMissingMetric(t *testing.T) {
	var buf bytes.Buffer
	logger := NewCSVOutputLogger(&buf)
	ctx := context.Background()
	if err := logger.Output(ctx, model.SamplingRecord{Metrics: map[string]float64{"mae": 1}}); err != nil {
		t.Fatalf("output: %v", err)
	}
	if err := logger.Output(ctx, model.SamplingRecord{Metrics: map[string]float64{"rmse": 1}}); err == nil {
		t.Fatal("expected missing metric error")
	}
}

func TestMultiOutputLoggerFansOut(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	var buf bytes.Buffer
	logger := MultiOutputLogger{
		StoreOutputLogger{Store: store, RunID: "run-1"},
		NewCSVOutputLogger(&buf),
	}
	record := model.SamplingRecord{VersionedRecord: storage.Versioned(), Architecture: []int{2, 3, 1}, LookBack: 3, Metrics: map[string]float64{"mae": 0.75}}
	if err := logger.Output(ctx, record); err != nil {
		t.Fatalf("output: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	stored, ok, err := store.GetSamplingRecords(ctx, "run-1")
	if err != nil || !ok || len(stored) != 1 {
		t.Fatalf("unexpected stored records: %+v ok=%t err=%v", stored, ok, err)
	}
	if stored[0].RunID != "run-1" {
		t.Fatalf("expected run id to be filled in, got=%q", stored[0].RunID)
	}
	if !strings.Contains(buf.String(), "0.75") {
		t.Fatalf("expected csv row, got=%q", buf.String())
	}
}
