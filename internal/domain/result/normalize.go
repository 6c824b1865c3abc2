package result

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// rawPayload mirrors the ingested submission document.
type rawPayload struct {
	ResultID     string  `json:"result_id"`
	PatientID    string  `json:"patient_id"`
	LabID        string  `json:"lab_id"`
	LabName      string  `json:"lab_name"`
	TestType     string  `json:"test_type"`
	TestDate     string  `json:"test_date"`
	Results      []Entry `json:"results"`
	Notes        string  `json:"notes"`
	Jurisdiction string  `json:"jurisdiction"`
}

// Normalize transforms a raw lab payload into a canonical LabResult. It has
// no side effects and fails only with a structural error when required source
// fields are missing.
//
// The id precedence matters for retry safety: a resultID supplied by the
// caller wins, then one embedded in the payload, and only then is a fresh id
// generated, so re-processing a redelivered message preserves the id
// assigned at ingestion.
func Normalize(raw []byte, resultID string, retention time.Duration) (*LabResult, error) {
	var data rawPayload
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse raw payload: %w", err)
	}

	var missing []string
	if data.PatientID == "" {
		missing = append(missing, "patient_id")
	}
	if data.LabID == "" {
		missing = append(missing, "lab_id")
	}
	if data.LabName == "" {
		missing = append(missing, "lab_name")
	}
	if data.TestType == "" {
		missing = append(missing, "test_type")
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Missing: missing}
	}

	rid := resultID
	if rid == "" {
		rid = data.ResultID
	}
	if rid == "" {
		rid = uuid.New().String()
	}

	jurisdiction := data.Jurisdiction
	if jurisdiction != JurisdictionEU {
		jurisdiction = JurisdictionUS
	}

	hasAbnormal := false
	for _, entry := range data.Results {
		if entry.IsAbnormal {
			hasAbnormal = true
			break
		}
	}

	now := time.Now().UTC()
	return &LabResult{
		ResultID:     rid,
		PatientID:    data.PatientID,
		LabID:        data.LabID,
		LabName:      data.LabName,
		TestType:     data.TestType,
		TestDate:     data.TestDate,
		Results:      data.Results,
		Notes:        data.Notes,
		Status:       StatusProcessed,
		HasAbnormal:  hasAbnormal,
		Jurisdiction: jurisdiction,
		TTLEpoch:     now.Add(retention).Unix(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}
