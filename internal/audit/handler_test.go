package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func seededLedger(t *testing.T) *Ledger {
	t.Helper()
	store := NewInMemoryStore()
	ctx := context.Background()
	store.Append(ctx, &Event{AuditID: "a1", Action: ActionIngestCreate, ActorID: "external_lab:LAB001"})
	store.Append(ctx, &Event{AuditID: "a2", Action: ActionResultView, ActorID: "portal_user:P1", BreakGlass: true})
	store.Append(ctx, &Event{AuditID: "a3", Action: ActionWorkerProcessed, ActorID: "processor_worker"})
	return NewLedger(store)
}

func TestHandler_ListRecent(t *testing.T) {
	h := NewHandler(seededLedger(t))

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/admin/audit?limit=2", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.handleListRecent(c); err != nil {
		t.Fatalf("handleListRecent: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp listResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Total != 2 {
		t.Errorf("expected 2 events, got %d", resp.Total)
	}
	if resp.Events[0].AuditID != "a3" {
		t.Errorf("expected newest event first, got %s", resp.Events[0].AuditID)
	}
}

func TestHandler_ComplianceReport(t *testing.T) {
	h := NewHandler(seededLedger(t))

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/admin/compliance-report", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.handleComplianceReport(c); err != nil {
		t.Fatalf("handleComplianceReport: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var summary Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if summary.TotalEvents != 3 {
		t.Errorf("expected 3 events, got %d", summary.TotalEvents)
	}
	if summary.BreakGlassCount != 1 {
		t.Errorf("expected 1 break-glass event, got %d", summary.BreakGlassCount)
	}
	if summary.ByAction["INGEST_CREATE"] != 1 {
		t.Errorf("expected 1 INGEST_CREATE, got %d", summary.ByAction["INGEST_CREATE"])
	}
}

func TestHandler_ListRecent_BadLimitFallsBack(t *testing.T) {
	h := NewHandler(seededLedger(t))

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/admin/audit?limit=bogus", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.handleListRecent(c); err != nil {
		t.Fatalf("handleListRecent: %v", err)
	}
	var resp listResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Total != 3 {
		t.Errorf("expected all 3 events with default limit, got %d", resp.Total)
	}
}
