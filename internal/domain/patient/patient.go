// Package patient provides the read-only patient directory. Registration is
// owned by an external process; this core only looks patients up and ships a
// small seed set for development.
package patient

import (
	"context"
	"errors"
	"sync"
)

// ErrPatientNotFound is returned when no patient matches a lookup.
var ErrPatientNotFound = errors.New("patient not found")

// Patient holds the demographic and contact fields used for notification
// and report generation.
type Patient struct {
	PatientID    string `json:"patient_id" db:"patient_id"`
	FirstName    string `json:"first_name" db:"first_name"`
	LastName     string `json:"last_name" db:"last_name"`
	DateOfBirth  string `json:"date_of_birth" db:"date_of_birth"`
	Email        string `json:"email" db:"email"`
	Phone        string `json:"phone" db:"phone"`
}

// Store is the read-mostly directory contract. Put exists only for seeding
// and tests; nothing in the processing path registers patients.
type Store interface {
	Get(ctx context.Context, patientID string) (*Patient, error)
	Put(ctx context.Context, p *Patient) error
}

// InMemoryStore is a thread-safe in-memory Store.
type InMemoryStore struct {
	mu       sync.RWMutex
	patients map[string]*Patient
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{patients: make(map[string]*Patient)}
}

func (s *InMemoryStore) Get(_ context.Context, patientID string) (*Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.patients[patientID]
	if !ok {
		return nil, ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *InMemoryStore) Put(_ context.Context, p *Patient) error {
	cp := *p
	s.mu.Lock()
	s.patients[p.PatientID] = &cp
	s.mu.Unlock()
	return nil
}

// SeedPatients returns the demo patient directory used by the seed command
// and tests.
func SeedPatients() []Patient {
	return []Patient{
		{PatientID: "P123456", FirstName: "John", LastName: "Smith", DateOfBirth: "1985-03-15", Email: "john.smith@example.com", Phone: "+1-555-0101"},
		{PatientID: "P234567", FirstName: "Maria", LastName: "Garcia", DateOfBirth: "1990-07-22", Email: "maria.garcia@example.com", Phone: "+1-555-0102"},
		{PatientID: "P345678", FirstName: "James", LastName: "Wilson", DateOfBirth: "1978-11-08", Email: "james.wilson@example.com", Phone: "+1-555-0103"},
		{PatientID: "P456789", FirstName: "Li", LastName: "Chen", DateOfBirth: "1995-02-14", Email: "li.chen@example.com", Phone: "+1-555-0104"},
		{PatientID: "P567890", FirstName: "Sarah", LastName: "Johnson", DateOfBirth: "1982-09-30", Email: "sarah.johnson@example.com", Phone: "+1-555-0105"},
	}
}

// Seed loads the given patients into a store.
func Seed(ctx context.Context, store Store, patients []Patient) error {
	for i := range patients {
		if err := store.Put(ctx, &patients[i]); err != nil {
			return err
		}
	}
	return nil
}
