package storage

import (
	"errors"
	"testing"

	"archsearch/internal/model"
)

func TestDecodeRunRejectsVersionMismatch(t *testing.T) {
	run := sampleRunForCodec()
	run.SchemaVersion = CurrentSchemaVersion + 1
	payload, err := EncodeRun(run)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeRun(payload); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got: %v", err)
	}
}

func TestDecodePopulationChecksSolutionVersions(t *testing.T) {
	population := model.Population{
		VersionedRecord: Versioned(),
		ID:              "p",
		Solutions:       []model.SolutionRecord{{ID: "s"}},
	}
	payload, err := EncodePopulation(population)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodePopulation(payload); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got: %v", err)
	}
}

func TestDecodeSamplingRecord(t *testing.T) {
	payload, err := EncodeSamplingRecord(model.SamplingRecord{
		VersionedRecord: Versioned(),
		RunID:           "r",
		Architecture:    []int{4, 2},
		LookBack:        3,
		Metrics:         map[string]float64{"mae": 0.5},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	record, err := DecodeSamplingRecord(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if record.LookBack != 3 || record.Metrics["mae"] != 0.5 {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestDecodeRejectsMalformedPayload(t *testing.T) {
	if _, err := DecodeLineage([]byte("{")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestPopulationID(t *testing.T) {
	if got := PopulationID("run-1", 12); got != "run-1/gen-000012" {
		t.Fatalf("unexpected population id: %s", got)
	}
}

func sampleRunForCodec() model.RunRecord {
	return model.RunRecord{VersionedRecord: Versioned(), ID: "run", Mode: "optimize"}
}
