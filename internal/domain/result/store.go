package result

import (
	"context"
	"errors"
	"time"
)

// ErrResultNotFound is returned when no canonical record matches a lookup.
var ErrResultNotFound = errors.New("lab result not found")

// Store is the canonical-store contract shared by the processing worker
// (writer), access gateway (reader), and retention lifecycle engine (writer).
//
// Every mutating operation is conditional and keyed by (result_id,
// patient_id) so it is safe to apply twice: a redelivered worker message and
// a concurrently running retention sweep can target the same record without
// a lock. Methods returning a bool report whether the conditional update was
// applied.
type Store interface {
	// Create inserts the record if no row exists for its (ResultID,
	// PatientID) key. It reports false without modifying anything when the
	// record already exists, making redelivered persists a safe no-op.
	Create(ctx context.Context, r *LabResult) (bool, error)

	Get(ctx context.Context, resultID, patientID string) (*LabResult, error)

	// GetByResultID looks up by result_id alone; used by the status endpoint.
	GetByResultID(ctx context.Context, resultID string) (*LabResult, error)

	ListByPatient(ctx context.Context, patientID string) ([]*LabResult, error)

	// ListGDPRRequested scans for records with gdpr_delete_requested set.
	// Full scans are acceptable at assumed volumes; only the lifecycle sweep
	// uses this.
	ListGDPRRequested(ctx context.Context) ([]*LabResult, error)

	// RequestGDPRDelete flags a record for the next lifecycle sweep.
	RequestGDPRDelete(ctx context.Context, resultID, patientID string) (bool, error)

	// MarkNotified stamps NotifiedAt only when it is not already set.
	MarkNotified(ctx context.Context, resultID, patientID string, at time.Time) (bool, error)

	// AnonymizeEU overwrites patient_id with the anonymization token, clears
	// notes, and resets the erasure flag, but only while the flag is still
	// set and the record's jurisdiction is EU.
	AnonymizeEU(ctx context.Context, resultID, patientID string) (bool, error)

	// ClearGDPRFlag resets the erasure flag without touching identifiers,
	// the HIPAA path where physical deletion is deferred to ttl_epoch.
	ClearGDPRFlag(ctx context.Context, resultID, patientID string) (bool, error)
}
