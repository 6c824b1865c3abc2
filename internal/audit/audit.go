// Package audit provides the append-only access/lifecycle ledger required for
// HIPAA and GDPR compliance. Every disclosure of patient-identifiable data and
// every mutation of a lab result produces exactly one immutable Event here.
// The package exposes no update or delete operations: events are created once,
// read many times, and never changed.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Actions
// ---------------------------------------------------------------------------

// Action is the enumerated verb recorded with each audit event.
type Action string

const (
	ActionIngestCreate       Action = "INGEST_CREATE"
	ActionIngestHealthCheck  Action = "INGEST_HEALTH_CHECK"
	ActionResultStatusRead   Action = "RESULT_STATUS_READ"
	ActionResultView         Action = "RESULT_VIEW"
	ActionResultList         Action = "RESULT_LIST"
	ActionReportDownload     Action = "REPORT_DOWNLOAD"
	ActionWorkerProcessed    Action = "WORKER_PROCESSED"
	ActionWorkerFailed       Action = "WORKER_FAILED"
	ActionNotificationSent   Action = "NOTIFICATION_SENT"
	ActionNotificationFailed Action = "NOTIFICATION_FAILED"
	ActionDeleteRequested    Action = "DATA_DELETE_REQUESTED"
	ActionGDPRDelete         Action = "DATA_GDPR_DELETE"
	ActionHIPAADelete        Action = "DATA_HIPAA_DELETE"
)

// ---------------------------------------------------------------------------
// Event
// ---------------------------------------------------------------------------

// Event is a single immutable entry in the audit ledger. PatientID and
// ResultID are optional because some events (health checks, system actions)
// are not tied to a record. Justification is required for human disclosure
// actions and enforced by the access gateway before the event is written.
type Event struct {
	AuditID       string    `json:"audit_id" db:"audit_id"`
	Timestamp     time.Time `json:"timestamp" db:"timestamp"`
	Action        Action    `json:"action" db:"action"`
	ActorID       string    `json:"actor_id" db:"actor_id"`
	PatientID     string    `json:"patient_id,omitempty" db:"patient_id"`
	ResultID      string    `json:"result_id,omitempty" db:"result_id"`
	Justification string    `json:"justification,omitempty" db:"justification"`
	BreakGlass    bool      `json:"break_glass" db:"break_glass"`
	SourceIP      string    `json:"source_ip,omitempty" db:"source_ip"`
	Details       string    `json:"details,omitempty" db:"details"`
	Source        string    `json:"source,omitempty" db:"source"`
}

// Summary aggregates ledger contents for the external compliance dashboard.
type Summary struct {
	TotalEvents     int            `json:"total_events"`
	ByAction        map[string]int `json:"by_action"`
	ByActor         map[string]int `json:"by_actor"`
	BreakGlassCount int            `json:"break_glass_count"`
}

// ---------------------------------------------------------------------------
// Store interface
// ---------------------------------------------------------------------------

// Store is the persistence contract for the ledger. Implementations must
// treat appended events as immutable; nothing in this module ever rewrites
// or removes one.
type Store interface {
	Append(ctx context.Context, event *Event) error
	ListRecent(ctx context.Context, limit int) ([]*Event, error)
	Summarize(ctx context.Context, limit int) (*Summary, error)
}

// ---------------------------------------------------------------------------
// Ledger
// ---------------------------------------------------------------------------

// Ledger stamps and persists audit events. It fills AuditID and Timestamp
// when the caller leaves them zero so call sites stay terse.
type Ledger struct {
	store Store
}

// NewLedger creates a Ledger backed by the given store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// Record persists an event, assigning an ID and timestamp if unset.
func (l *Ledger) Record(ctx context.Context, event *Event) error {
	if event.AuditID == "" {
		event.AuditID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return l.store.Append(ctx, event)
}

// ListRecent returns the most recent events, newest first.
func (l *Ledger) ListRecent(ctx context.Context, limit int) ([]*Event, error) {
	return l.store.ListRecent(ctx, limit)
}

// Summarize aggregates the most recent events for compliance reporting.
func (l *Ledger) Summarize(ctx context.Context, limit int) (*Summary, error) {
	return l.store.Summarize(ctx, limit)
}
