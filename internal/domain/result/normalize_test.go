package result

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const retention = 7 * 365 * 24 * time.Hour

func validRaw() []byte {
	return []byte(`{
		"patient_id": "P1",
		"lab_id": "L1",
		"lab_name": "Acme",
		"test_type": "glucose",
		"test_date": "2024-01-01",
		"results": [{"test_code": "GLU", "value": 95, "is_abnormal": false}]
	}`)
}

func TestNormalize_Basic(t *testing.T) {
	r, err := Normalize(validRaw(), "r-123", retention)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	if r.ResultID != "r-123" {
		t.Errorf("expected supplied id to win, got %s", r.ResultID)
	}
	if r.Status != StatusProcessed {
		t.Errorf("expected PROCESSED, got %s", r.Status)
	}
	if r.HasAbnormal {
		t.Error("expected has_abnormal=false for all-normal entries")
	}
	if r.Jurisdiction != JurisdictionUS {
		t.Errorf("expected default jurisdiction US, got %s", r.Jurisdiction)
	}
	if !r.CreatedAt.Equal(r.UpdatedAt) {
		t.Error("created_at and updated_at must be equal on first processing")
	}
	if r.TTLEpoch <= time.Now().Unix() {
		t.Error("ttl_epoch should be in the future")
	}
}

func TestNormalize_IDPrecedence(t *testing.T) {
	embedded := []byte(`{
		"result_id": "embedded-id",
		"patient_id": "P1", "lab_id": "L1", "lab_name": "Acme", "test_type": "cbc"
	}`)

	// Supplied id wins over the embedded one.
	r, err := Normalize(embedded, "supplied-id", retention)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if r.ResultID != "supplied-id" {
		t.Errorf("supplied id should win, got %s", r.ResultID)
	}

	// Embedded id wins when none supplied.
	r, err = Normalize(embedded, "", retention)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if r.ResultID != "embedded-id" {
		t.Errorf("embedded id should win, got %s", r.ResultID)
	}

	// A fresh id is generated as the last resort.
	r, err = Normalize(validRaw(), "", retention)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if r.ResultID == "" {
		t.Error("expected generated id")
	}
}

func TestNormalize_HasAbnormal(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{
			name: "one abnormal entry",
			raw: `{"patient_id":"P1","lab_id":"L1","lab_name":"Acme","test_type":"cbc",
				"results":[{"test_code":"A","is_abnormal":false},{"test_code":"B","is_abnormal":true}]}`,
			want: true,
		},
		{
			name: "all normal",
			raw: `{"patient_id":"P1","lab_id":"L1","lab_name":"Acme","test_type":"cbc",
				"results":[{"test_code":"A","is_abnormal":false}]}`,
			want: false,
		},
		{
			name: "empty results list",
			raw:  `{"patient_id":"P1","lab_id":"L1","lab_name":"Acme","test_type":"cbc","results":[]}`,
			want: false,
		},
		{
			name: "absent results",
			raw:  `{"patient_id":"P1","lab_id":"L1","lab_name":"Acme","test_type":"cbc"}`,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Normalize([]byte(tt.raw), "", retention)
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if r.HasAbnormal != tt.want {
				t.Errorf("has_abnormal = %v, want %v", r.HasAbnormal, tt.want)
			}
		})
	}
}

func TestNormalize_MissingFieldsListedTogether(t *testing.T) {
	raw := []byte(`{"patient_id": "P1"}`)

	_, err := Normalize(raw, "", retention)
	if err == nil {
		t.Fatal("expected validation error")
	}

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(verr.Missing) != 3 {
		t.Errorf("expected 3 missing fields, got %v", verr.Missing)
	}
	for _, f := range []string{"lab_id", "lab_name", "test_type"} {
		if !strings.Contains(verr.Error(), f) {
			t.Errorf("error should list %s: %s", f, verr.Error())
		}
	}
}

func TestNormalize_EUJurisdictionPreserved(t *testing.T) {
	raw := []byte(`{"patient_id":"P1","lab_id":"L1","lab_name":"Acme","test_type":"cbc","jurisdiction":"EU"}`)

	r, err := Normalize(raw, "", retention)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if r.Jurisdiction != JurisdictionEU {
		t.Errorf("expected EU, got %s", r.Jurisdiction)
	}
}

func TestNormalize_MalformedJSON(t *testing.T) {
	if _, err := Normalize([]byte("not json"), "", retention); err == nil {
		t.Error("expected parse error")
	}
}
