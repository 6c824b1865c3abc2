package result

import (
	"context"
	"errors"
	"testing"
	"time"
)

func sampleResult(resultID, patientID, jurisdiction string) *LabResult {
	now := time.Now().UTC()
	return &LabResult{
		ResultID:     resultID,
		PatientID:    patientID,
		LabID:        "L1",
		LabName:      "Acme",
		TestType:     "glucose",
		TestDate:     "2024-01-01",
		Results:      []Entry{{Code: "GLU", Value: 95}},
		Notes:        "fasting sample",
		Status:       StatusProcessed,
		Jurisdiction: jurisdiction,
		TTLEpoch:     now.Add(7 * 365 * 24 * time.Hour).Unix(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestInMemoryStore_CreateIsIdempotent(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	created, err := store.Create(ctx, sampleResult("r1", "P1", JurisdictionUS))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !created {
		t.Error("first Create should report created=true")
	}

	// Re-delivery: same key, must not multiply records or overwrite.
	dup := sampleResult("r1", "P1", JurisdictionUS)
	dup.Notes = "different notes on redelivery"
	created, err = store.Create(ctx, dup)
	if err != nil {
		t.Fatalf("Create (dup): %v", err)
	}
	if created {
		t.Error("second Create should report created=false")
	}

	got, err := store.Get(ctx, "r1", "P1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Notes != "fasting sample" {
		t.Errorf("redelivered Create overwrote the record: %q", got.Notes)
	}
}

func TestInMemoryStore_GetByResultID(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	store.Create(ctx, sampleResult("r1", "P1", JurisdictionUS))

	got, err := store.GetByResultID(ctx, "r1")
	if err != nil {
		t.Fatalf("GetByResultID: %v", err)
	}
	if got.PatientID != "P1" {
		t.Errorf("unexpected patient: %s", got.PatientID)
	}

	if _, err := store.GetByResultID(ctx, "nope"); !errors.Is(err, ErrResultNotFound) {
		t.Errorf("expected ErrResultNotFound, got %v", err)
	}
}

func TestInMemoryStore_MarkNotifiedOnce(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	store.Create(ctx, sampleResult("r1", "P1", JurisdictionUS))

	applied, err := store.MarkNotified(ctx, "r1", "P1", time.Now())
	if err != nil {
		t.Fatalf("MarkNotified: %v", err)
	}
	if !applied {
		t.Error("first MarkNotified should apply")
	}

	applied, err = store.MarkNotified(ctx, "r1", "P1", time.Now())
	if err != nil {
		t.Fatalf("MarkNotified (second): %v", err)
	}
	if applied {
		t.Error("second MarkNotified must be a no-op")
	}
}

func TestInMemoryStore_AnonymizeEU(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	r := sampleResult("r1", "P1", JurisdictionEU)
	r.GDPRDeleteRequested = true
	store.Create(ctx, r)

	applied, err := store.AnonymizeEU(ctx, "r1", "P1")
	if err != nil {
		t.Fatalf("AnonymizeEU: %v", err)
	}
	if !applied {
		t.Fatal("expected anonymization to apply")
	}

	got, err := store.Get(ctx, "r1", AnonymizedPatientID)
	if err != nil {
		t.Fatalf("Get anonymized: %v", err)
	}
	if got.PatientID != AnonymizedPatientID {
		t.Errorf("patient_id = %s, want %s", got.PatientID, AnonymizedPatientID)
	}
	if got.Notes != "" {
		t.Errorf("notes should be cleared, got %q", got.Notes)
	}
	if got.GDPRDeleteRequested {
		t.Error("gdpr_delete_requested should be reset")
	}
	// Clinical values are retained for aggregate statistics.
	if len(got.Results) != 1 {
		t.Error("clinical entries must survive anonymization")
	}

	// Running the sweep again must be a no-op.
	applied, err = store.AnonymizeEU(ctx, "r1", "P1")
	if err != nil {
		t.Fatalf("AnonymizeEU (second): %v", err)
	}
	if applied {
		t.Error("second anonymization must not apply")
	}
}

func TestInMemoryStore_AnonymizeEU_SkipsUSRecords(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	r := sampleResult("r1", "P1", JurisdictionUS)
	r.GDPRDeleteRequested = true
	store.Create(ctx, r)

	applied, err := store.AnonymizeEU(ctx, "r1", "P1")
	if err != nil {
		t.Fatalf("AnonymizeEU: %v", err)
	}
	if applied {
		t.Error("US-jurisdiction record must not be anonymized")
	}
}

func TestInMemoryStore_ClearGDPRFlag(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	r := sampleResult("r1", "P1", JurisdictionUS)
	r.GDPRDeleteRequested = true
	store.Create(ctx, r)

	applied, err := store.ClearGDPRFlag(ctx, "r1", "P1")
	if err != nil {
		t.Fatalf("ClearGDPRFlag: %v", err)
	}
	if !applied {
		t.Error("expected flag clear to apply")
	}

	got, _ := store.Get(ctx, "r1", "P1")
	if got.GDPRDeleteRequested {
		t.Error("flag should be cleared")
	}
	if got.PatientID != "P1" || got.Notes == "" {
		t.Error("US record identifiers must be untouched")
	}

	applied, _ = store.ClearGDPRFlag(ctx, "r1", "P1")
	if applied {
		t.Error("second clear must be a no-op")
	}
}

func TestInMemoryStore_RequestGDPRDelete(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	store.Create(ctx, sampleResult("r1", "P1", JurisdictionEU))

	applied, err := store.RequestGDPRDelete(ctx, "r1", "P1")
	if err != nil {
		t.Fatalf("RequestGDPRDelete: %v", err)
	}
	if !applied {
		t.Error("expected request to apply")
	}

	list, err := store.ListGDPRRequested(ctx)
	if err != nil {
		t.Fatalf("ListGDPRRequested: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 flagged record, got %d", len(list))
	}

	if _, err := store.RequestGDPRDelete(ctx, "missing", "P1"); !errors.Is(err, ErrResultNotFound) {
		t.Errorf("expected ErrResultNotFound, got %v", err)
	}
}
