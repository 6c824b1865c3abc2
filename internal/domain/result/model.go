package result

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Status values for a LabResult. A result is created QUEUED by the ingestion
// gateway and transitions to PROCESSED exactly once.
const (
	StatusQueued    = "QUEUED"
	StatusProcessed = "PROCESSED"
)

// Jurisdiction values governing retention vs. erasure obligations.
const (
	JurisdictionUS = "US"
	JurisdictionEU = "EU"
)

// AnonymizedPatientID is the fixed token written over patient_id when a
// GDPR erasure request is honoured for an EU-jurisdiction record.
const AnonymizedPatientID = "ANONYMIZED"

// Entry is a single measured value within a lab result.
type Entry struct {
	Code           string  `json:"test_code"`
	Name           string  `json:"test_name,omitempty"`
	Value          float64 `json:"value"`
	Unit           string  `json:"unit,omitempty"`
	ReferenceRange string  `json:"reference_range,omitempty"`
	IsAbnormal     bool    `json:"is_abnormal"`
}

// LabResult is the canonical, normalized representation of an ingested lab
// result. The primary key is (ResultID, PatientID); a result belongs to
// exactly one patient and the id is never reassigned.
type LabResult struct {
	ResultID            string     `json:"result_id" db:"result_id"`
	PatientID           string     `json:"patient_id" db:"patient_id"`
	LabID               string     `json:"lab_id" db:"lab_id"`
	LabName             string     `json:"lab_name" db:"lab_name"`
	TestType            string     `json:"test_type" db:"test_type"`
	TestDate            string     `json:"test_date,omitempty" db:"test_date"`
	Results             []Entry    `json:"results" db:"results"`
	Notes               string     `json:"notes,omitempty" db:"notes"`
	Status              string     `json:"status" db:"status"`
	HasAbnormal         bool       `json:"has_abnormal" db:"has_abnormal"`
	Jurisdiction        string     `json:"jurisdiction" db:"jurisdiction"`
	GDPRDeleteRequested bool       `json:"gdpr_delete_requested" db:"gdpr_delete_requested"`
	NotifiedAt          *time.Time `json:"notified_at,omitempty" db:"notified_at"`
	TTLEpoch            int64      `json:"ttl_epoch" db:"ttl_epoch"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
}

// ValidationError reports a malformed or incomplete submission. It lists
// every missing field, not just the first, so the caller can fix them all
// in one round trip.
type ValidationError struct {
	Missing []string
	Reason  string
}

func (e *ValidationError) Error() string {
	if len(e.Missing) > 0 {
		sorted := make([]string, len(e.Missing))
		copy(sorted, e.Missing)
		sort.Strings(sorted)
		return fmt.Sprintf("missing fields: %s", strings.Join(sorted, ", "))
	}
	return e.Reason
}
