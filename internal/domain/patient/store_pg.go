package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the Postgres-backed patient directory.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a PGStore backed by the given connection pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Get(ctx context.Context, patientID string) (*Patient, error) {
	var p Patient
	err := s.pool.QueryRow(ctx, `
		SELECT patient_id, first_name, last_name, date_of_birth, email, phone
		FROM patients WHERE patient_id = $1`, patientID).
		Scan(&p.PatientID, &p.FirstName, &p.LastName, &p.DateOfBirth, &p.Email, &p.Phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return &p, nil
}

func (s *PGStore) Put(ctx context.Context, p *Patient) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO patients (patient_id, first_name, last_name, date_of_birth, email, phone)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (patient_id) DO UPDATE
		SET first_name = EXCLUDED.first_name, last_name = EXCLUDED.last_name,
			date_of_birth = EXCLUDED.date_of_birth, email = EXCLUDED.email,
			phone = EXCLUDED.phone`,
		p.PatientID, p.FirstName, p.LastName, p.DateOfBirth, p.Email, p.Phone)
	if err != nil {
		return fmt.Errorf("put patient: %w", err)
	}
	return nil
}
