package result

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore is a thread-safe in-memory Store for development and tests.
// Conditional updates are evaluated under the store lock, giving the same
// compare-and-set behaviour the Postgres implementation gets from
// conditional UPDATEs.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*LabResult
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]*LabResult)}
}

func storeKey(resultID, patientID string) string {
	return resultID + "/" + patientID
}

func copyResult(r *LabResult) *LabResult {
	cp := *r
	cp.Results = make([]Entry, len(r.Results))
	copy(cp.Results, r.Results)
	if r.NotifiedAt != nil {
		at := *r.NotifiedAt
		cp.NotifiedAt = &at
	}
	return &cp
}

func (s *InMemoryStore) Create(_ context.Context, r *LabResult) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := storeKey(r.ResultID, r.PatientID)
	if _, exists := s.records[key]; exists {
		return false, nil
	}
	s.records[key] = copyResult(r)
	return true, nil
}

func (s *InMemoryStore) Get(_ context.Context, resultID, patientID string) (*LabResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[storeKey(resultID, patientID)]
	if !ok {
		return nil, ErrResultNotFound
	}
	return copyResult(r), nil
}

func (s *InMemoryStore) GetByResultID(_ context.Context, resultID string) (*LabResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.records {
		if r.ResultID == resultID {
			return copyResult(r), nil
		}
	}
	return nil, ErrResultNotFound
}

func (s *InMemoryStore) ListByPatient(_ context.Context, patientID string) ([]*LabResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*LabResult
	for _, r := range s.records {
		if r.PatientID == patientID {
			out = append(out, copyResult(r))
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListGDPRRequested(_ context.Context) ([]*LabResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*LabResult
	for _, r := range s.records {
		if r.GDPRDeleteRequested {
			out = append(out, copyResult(r))
		}
	}
	return out, nil
}

func (s *InMemoryStore) RequestGDPRDelete(_ context.Context, resultID, patientID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[storeKey(resultID, patientID)]
	if !ok {
		return false, ErrResultNotFound
	}
	if r.GDPRDeleteRequested {
		return false, nil
	}
	r.GDPRDeleteRequested = true
	r.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *InMemoryStore) MarkNotified(_ context.Context, resultID, patientID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[storeKey(resultID, patientID)]
	if !ok {
		return false, ErrResultNotFound
	}
	if r.NotifiedAt != nil {
		return false, nil
	}
	stamp := at.UTC()
	r.NotifiedAt = &stamp
	r.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *InMemoryStore) AnonymizeEU(_ context.Context, resultID, patientID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := storeKey(resultID, patientID)
	r, ok := s.records[key]
	if !ok {
		return false, nil
	}
	if !r.GDPRDeleteRequested || r.Jurisdiction != JurisdictionEU {
		return false, nil
	}

	r.PatientID = AnonymizedPatientID
	r.Notes = ""
	r.GDPRDeleteRequested = false
	r.UpdatedAt = time.Now().UTC()

	// Re-key under the anonymized identity.
	delete(s.records, key)
	s.records[storeKey(resultID, AnonymizedPatientID)] = r
	return true, nil
}

func (s *InMemoryStore) ClearGDPRFlag(_ context.Context, resultID, patientID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[storeKey(resultID, patientID)]
	if !ok {
		return false, nil
	}
	if !r.GDPRDeleteRequested {
		return false, nil
	}
	r.GDPRDeleteRequested = false
	r.UpdatedAt = time.Now().UTC()
	return true, nil
}
