package ingestion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/labsecure/labsecure/internal/audit"
	"github.com/labsecure/labsecure/internal/domain/result"
	"github.com/labsecure/labsecure/internal/platform/blob"
	"github.com/labsecure/labsecure/internal/platform/queue"
)

type testEnv struct {
	handler *Handler
	raw     *blob.InMemoryStore
	tasks   *queue.InMemoryQueue
	results *result.InMemoryStore
	ledger  *audit.Ledger
	audits  *audit.InMemoryStore
}

func newTestEnv() *testEnv {
	raw := blob.NewInMemoryStore()
	tasks := queue.NewInMemoryQueue(5)
	results := result.NewInMemoryStore()
	audits := audit.NewInMemoryStore()
	ledger := audit.NewLedger(audits)

	svc := NewService(raw, tasks, results, ledger, nil, zerolog.Nop())
	return &testEnv{
		handler: NewHandler(svc),
		raw:     raw,
		tasks:   tasks,
		results: results,
		ledger:  ledger,
		audits:  audits,
	}
}

func doRequest(t *testing.T, h func(echo.Context) error, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	return rec
}

const validPayload = `{
	"patient_id": "P1",
	"lab_id": "L1",
	"lab_name": "Acme Labs",
	"test_type": "glucose",
	"test_date": "2024-01-01",
	"results": [{"test_code": "GLU", "value": 95, "unit": "mg/dL", "is_abnormal": false}]
}`

func TestIngest_Accepted(t *testing.T) {
	env := newTestEnv()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", strings.NewReader(validPayload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := doRequest(t, env.handler.handleIngest, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var receipt Receipt
	if err := json.Unmarshal(rec.Body.Bytes(), &receipt); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	if receipt.ResultID == "" {
		t.Error("expected a result_id in the receipt")
	}
	if receipt.Status != result.StatusQueued {
		t.Errorf("expected status QUEUED, got %s", receipt.Status)
	}

	// Raw payload must be durable under the pointer key.
	obj, err := env.raw.Get(context.Background(), RawKey(receipt.ResultID))
	if err != nil {
		t.Fatalf("raw payload not stored: %v", err)
	}
	if !obj.Encrypted {
		t.Error("raw payload stored unencrypted")
	}

	// One task referencing the stored payload.
	msgs, err := env.tasks.Receive(context.Background(), queue.ReceiveOptions{
		MaxMessages: 10, WaitTime: 100 * time.Millisecond, VisibilityTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 queued task, got %d", len(msgs))
	}
	var task Task
	if err := json.Unmarshal(msgs[0].Body, &task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if task.ResultID != receipt.ResultID || task.RawKey != RawKey(receipt.ResultID) {
		t.Errorf("task does not reference the stored payload: %+v", task)
	}

	// Exactly one ingestion audit event, attributed to the lab.
	events, _ := env.audits.ListRecent(context.Background(), 10)
	if len(events) != 1 {
		t.Fatalf("expected 1 audit event, got %d", len(events))
	}
	if events[0].Action != audit.ActionIngestCreate {
		t.Errorf("expected INGEST_CREATE, got %s", events[0].Action)
	}
	if events[0].ActorID != "external_lab:L1" {
		t.Errorf("unexpected actor: %s", events[0].ActorID)
	}
	if events[0].PatientID != "P1" || events[0].ResultID != receipt.ResultID {
		t.Errorf("audit event not linked to record: %+v", events[0])
	}
}

func TestIngest_MissingFieldsListedTogether(t *testing.T) {
	env := newTestEnv()

	payload := `{"patient_id": "P1", "lab_id": "L1", "results": [{"test_code": "GLU", "value": 95}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := doRequest(t, env.handler.handleIngest, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	want := map[string]bool{"lab_name": true, "test_type": true, "test_date": true}
	if len(resp.Missing) != len(want) {
		t.Fatalf("expected %d missing fields, got %v", len(want), resp.Missing)
	}
	for _, f := range resp.Missing {
		if !want[f] {
			t.Errorf("unexpected missing field %q", f)
		}
	}

	// Rejected submissions leave no trace in the pipeline.
	if env.tasks.Len() != 0 {
		t.Error("rejected submission was enqueued")
	}
	events, _ := env.audits.ListRecent(context.Background(), 10)
	if len(events) != 0 {
		t.Errorf("rejected submission produced %d audit events", len(events))
	}
}

func TestIngest_EmptyResultsRejected(t *testing.T) {
	env := newTestEnv()

	payload := `{"patient_id": "P1", "lab_id": "L1", "lab_name": "Acme Labs", "test_type": "glucose", "test_date": "2024-01-01", "results": []}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := doRequest(t, env.handler.handleIngest, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var resp errorResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Missing) != 1 || resp.Missing[0] != "results" {
		t.Errorf("expected results flagged missing, got %v", resp.Missing)
	}
}

func TestIngest_MissingTestDateRejected(t *testing.T) {
	env := newTestEnv()

	payload := `{
		"patient_id": "P1",
		"lab_id": "L1",
		"lab_name": "Acme Labs",
		"test_type": "glucose",
		"results": [{"test_code": "GLU", "value": 95, "is_abnormal": false}]
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := doRequest(t, env.handler.handleIngest, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp errorResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Missing) != 1 || resp.Missing[0] != "test_date" {
		t.Errorf("expected test_date flagged missing, got %v", resp.Missing)
	}
	if env.tasks.Len() != 0 {
		t.Error("rejected submission was enqueued")
	}
}

func TestIngest_MalformedJSON(t *testing.T) {
	env := newTestEnv()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", strings.NewReader("{not json"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := doRequest(t, env.handler.handleIngest, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestStatus_PendingBeforeProcessing(t *testing.T) {
	env := newTestEnv()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/v1/status/:result_id")
	c.SetParamNames("result_id")
	c.SetParamValues("no-such-result")

	if err := env.handler.handleStatus(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var view StatusView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if view.Status != "PENDING" {
		t.Errorf("expected PENDING, got %s", view.Status)
	}
	if view.HasAbnormal != nil {
		t.Error("has_abnormal should be absent for a pending result")
	}

	events, _ := env.audits.ListRecent(context.Background(), 10)
	if len(events) != 1 || events[0].Action != audit.ActionResultStatusRead {
		t.Errorf("expected one RESULT_STATUS_READ event, got %+v", events)
	}
}

func TestStatus_Processed(t *testing.T) {
	env := newTestEnv()

	now := time.Now().UTC()
	created, err := env.results.Create(context.Background(), &result.LabResult{
		ResultID:     "R1",
		PatientID:    "P1",
		LabID:        "L1",
		LabName:      "Acme Labs",
		TestType:     "glucose",
		Status:       result.StatusProcessed,
		HasAbnormal:  true,
		Jurisdiction: result.JurisdictionUS,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil || !created {
		t.Fatalf("seed result: created=%v err=%v", created, err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/v1/status/:result_id")
	c.SetParamNames("result_id")
	c.SetParamValues("R1")

	if err := env.handler.handleStatus(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}

	var view StatusView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if view.Status != result.StatusProcessed {
		t.Errorf("expected PROCESSED, got %s", view.Status)
	}
	if view.HasAbnormal == nil || !*view.HasAbnormal {
		t.Error("expected has_abnormal true")
	}
	if view.TestType != "glucose" {
		t.Errorf("unexpected test_type: %s", view.TestType)
	}
}

func TestHealth_Audited(t *testing.T) {
	env := newTestEnv()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := doRequest(t, env.handler.handleHealth, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	events, _ := env.audits.ListRecent(context.Background(), 10)
	if len(events) != 1 || events[0].Action != audit.ActionIngestHealthCheck {
		t.Errorf("expected one INGEST_HEALTH_CHECK event, got %+v", events)
	}
}
