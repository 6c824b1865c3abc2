// Package ingestion implements the external submission gateway: it validates
// raw lab payloads, durably stores them, and enqueues a processing task. The
// gateway never writes the canonical store itself; the processing worker owns
// that transition.
package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/labsecure/labsecure/internal/audit"
	"github.com/labsecure/labsecure/internal/domain/result"
	"github.com/labsecure/labsecure/internal/platform/blob"
	"github.com/labsecure/labsecure/internal/platform/metrics"
	"github.com/labsecure/labsecure/internal/platform/queue"
)

// Task is the queue message handed from the gateway to the processing worker.
// It carries a pointer to the raw payload rather than the payload itself so
// the queue never holds patient data.
type Task struct {
	ResultID string `json:"result_id"`
	RawKey   string `json:"raw_key"`
}

// Receipt is returned to the submitting lab on acceptance.
type Receipt struct {
	ResultID string `json:"result_id"`
	Status   string `json:"status"`
}

// StatusView is the processing-status projection returned to external labs.
// Record fields are only populated once the result is processed.
type StatusView struct {
	ResultID    string `json:"result_id"`
	Status      string `json:"status"`
	PatientID   string `json:"patient_id,omitempty"`
	TestType    string `json:"test_type,omitempty"`
	TestDate    string `json:"test_date,omitempty"`
	HasAbnormal *bool  `json:"has_abnormal,omitempty"`
}

// submission mirrors the fields the gateway validates before accepting a
// payload. The full document is stored verbatim; normalization happens later.
type submission struct {
	PatientID string         `json:"patient_id"`
	LabID     string         `json:"lab_id"`
	LabName   string         `json:"lab_name"`
	TestType  string         `json:"test_type"`
	TestDate  string         `json:"test_date"`
	Results   []result.Entry `json:"results"`
}

// RawKey returns the object-store key for a result's raw payload.
func RawKey(resultID string) string {
	return fmt.Sprintf("raw/%s.json", resultID)
}

// Service is the ingestion gateway.
type Service struct {
	raw     blob.Store
	tasks   queue.Queue
	results result.Store
	ledger  *audit.Ledger
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewService creates the ingestion gateway.
func NewService(raw blob.Store, tasks queue.Queue, results result.Store, ledger *audit.Ledger, m *metrics.Metrics, log zerolog.Logger) *Service {
	return &Service{
		raw:     raw,
		tasks:   tasks,
		results: results,
		ledger:  ledger,
		metrics: m,
		log:     log.With().Str("component", "ingestion").Logger(),
	}
}

// Submit validates and accepts a raw lab payload. The raw document is stored
// before the task is enqueued so a consumer can never receive a pointer to a
// payload that is not yet durable. Acceptance does not mean processed: the
// caller gets QUEUED and polls the status endpoint.
func (s *Service) Submit(ctx context.Context, body []byte, sourceIP string) (*Receipt, error) {
	var sub submission
	if err := json.Unmarshal(body, &sub); err != nil {
		s.metrics.IncIngest(false)
		return nil, &result.ValidationError{Reason: "request body is not valid JSON"}
	}

	var missing []string
	if sub.PatientID == "" {
		missing = append(missing, "patient_id")
	}
	if sub.LabID == "" {
		missing = append(missing, "lab_id")
	}
	if sub.LabName == "" {
		missing = append(missing, "lab_name")
	}
	if sub.TestType == "" {
		missing = append(missing, "test_type")
	}
	if sub.TestDate == "" {
		missing = append(missing, "test_date")
	}
	if len(sub.Results) == 0 {
		missing = append(missing, "results")
	}
	if len(missing) > 0 {
		s.metrics.IncIngest(false)
		return nil, &result.ValidationError{Missing: missing}
	}

	resultID := uuid.New().String()
	rawKey := RawKey(resultID)

	if _, err := s.raw.Put(ctx, rawKey, body, "application/json", map[string]string{
		"result_id": resultID,
		"lab_id":    sub.LabID,
	}); err != nil {
		return nil, fmt.Errorf("store raw payload: %w", err)
	}

	task, err := json.Marshal(Task{ResultID: resultID, RawKey: rawKey})
	if err != nil {
		return nil, fmt.Errorf("encode task: %w", err)
	}
	if err := s.tasks.Send(ctx, task); err != nil {
		return nil, fmt.Errorf("enqueue task: %w", err)
	}

	s.recordAudit(ctx, &audit.Event{
		Action:    audit.ActionIngestCreate,
		ActorID:   "external_lab:" + sub.LabID,
		PatientID: sub.PatientID,
		ResultID:  resultID,
		SourceIP:  sourceIP,
		Details:   "test_type=" + sub.TestType,
		Source:    "ingest_api",
	})

	s.metrics.IncIngest(true)
	s.log.Info().
		Str("result_id", resultID).
		Str("lab_id", sub.LabID).
		Msg("submission accepted")

	return &Receipt{ResultID: resultID, Status: result.StatusQueued}, nil
}

// Status reports where a submission is in the pipeline. A result id that has
// not reached the canonical store yet reads as PENDING rather than an error,
// since acceptance and persistence are deliberately decoupled.
func (s *Service) Status(ctx context.Context, resultID, sourceIP string) (*StatusView, error) {
	r, err := s.results.GetByResultID(ctx, resultID)
	if errors.Is(err, result.ErrResultNotFound) {
		s.recordAudit(ctx, &audit.Event{
			Action:   audit.ActionResultStatusRead,
			ActorID:  "external_lab:unknown",
			ResultID: resultID,
			SourceIP: sourceIP,
			Details:  "status=PENDING",
			Source:   "ingest_api",
		})
		return &StatusView{ResultID: resultID, Status: "PENDING"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("status lookup: %w", err)
	}

	s.recordAudit(ctx, &audit.Event{
		Action:    audit.ActionResultStatusRead,
		ActorID:   "external_lab:" + r.LabID,
		PatientID: r.PatientID,
		ResultID:  r.ResultID,
		SourceIP:  sourceIP,
		Details:   "status=" + r.Status,
		Source:    "ingest_api",
	})

	hasAbnormal := r.HasAbnormal
	return &StatusView{
		ResultID:    r.ResultID,
		Status:      r.Status,
		PatientID:   r.PatientID,
		TestType:    r.TestType,
		TestDate:    r.TestDate,
		HasAbnormal: &hasAbnormal,
	}, nil
}

// Health records a liveness probe in the ledger so gateway availability is
// itself auditable.
func (s *Service) Health(ctx context.Context, sourceIP string) {
	s.recordAudit(ctx, &audit.Event{
		Action:   audit.ActionIngestHealthCheck,
		ActorID:  "system",
		SourceIP: sourceIP,
		Source:   "ingest_api",
	})
}

// recordAudit appends best-effort: an audit failure on the write path is
// logged but never rejects a submission that was already made durable.
func (s *Service) recordAudit(ctx context.Context, event *audit.Event) {
	if err := s.ledger.Record(ctx, event); err != nil {
		s.log.Warn().Err(err).Str("action", string(event.Action)).Msg("audit append failed")
	}
}
