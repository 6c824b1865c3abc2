package result

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the Postgres-backed Store. All mutations are conditional
// UPDATEs keyed by (result_id, patient_id) so concurrent writers (a
// redelivered worker message, the lifecycle sweep) converge on the same
// final state without a lock.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a PGStore backed by the given connection pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const resultCols = `result_id, patient_id, lab_id, lab_name, test_type, test_date,
	results, notes, status, has_abnormal, jurisdiction, gdpr_delete_requested,
	notified_at, ttl_epoch, created_at, updated_at`

func (s *PGStore) Create(ctx context.Context, r *LabResult) (bool, error) {
	entries, err := json.Marshal(r.Results)
	if err != nil {
		return false, fmt.Errorf("marshal result entries: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO lab_results (result_id, patient_id, lab_id, lab_name, test_type, test_date,
			results, notes, status, has_abnormal, jurisdiction, gdpr_delete_requested,
			notified_at, ttl_epoch, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (result_id, patient_id) DO NOTHING`,
		r.ResultID, r.PatientID, r.LabID, r.LabName, r.TestType, r.TestDate,
		entries, r.Notes, r.Status, r.HasAbnormal, r.Jurisdiction, r.GDPRDeleteRequested,
		r.NotifiedAt, r.TTLEpoch, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("create lab result: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PGStore) Get(ctx context.Context, resultID, patientID string) (*LabResult, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+resultCols+` FROM lab_results WHERE result_id = $1 AND patient_id = $2`,
		resultID, patientID)
	return scanResult(row)
}

func (s *PGStore) GetByResultID(ctx context.Context, resultID string) (*LabResult, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+resultCols+` FROM lab_results WHERE result_id = $1 LIMIT 1`, resultID)
	return scanResult(row)
}

func (s *PGStore) ListByPatient(ctx context.Context, patientID string) ([]*LabResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+resultCols+` FROM lab_results WHERE patient_id = $1 ORDER BY created_at DESC`,
		patientID)
	if err != nil {
		return nil, fmt.Errorf("list by patient: %w", err)
	}
	defer rows.Close()
	return collectResults(rows)
}

func (s *PGStore) ListGDPRRequested(ctx context.Context) ([]*LabResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+resultCols+` FROM lab_results WHERE gdpr_delete_requested = true`)
	if err != nil {
		return nil, fmt.Errorf("list gdpr requested: %w", err)
	}
	defer rows.Close()
	return collectResults(rows)
}

func (s *PGStore) RequestGDPRDelete(ctx context.Context, resultID, patientID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE lab_results
		SET gdpr_delete_requested = true, updated_at = now()
		WHERE result_id = $1 AND patient_id = $2 AND gdpr_delete_requested = false`,
		resultID, patientID)
	if err != nil {
		return false, fmt.Errorf("request gdpr delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish "already flagged" from "no such record".
		if _, err := s.Get(ctx, resultID, patientID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *PGStore) MarkNotified(ctx context.Context, resultID, patientID string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE lab_results
		SET notified_at = $3, updated_at = now()
		WHERE result_id = $1 AND patient_id = $2 AND notified_at IS NULL`,
		resultID, patientID, at.UTC())
	if err != nil {
		return false, fmt.Errorf("mark notified: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PGStore) AnonymizeEU(ctx context.Context, resultID, patientID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE lab_results
		SET patient_id = $3, notes = '', gdpr_delete_requested = false, updated_at = now()
		WHERE result_id = $1 AND patient_id = $2
		  AND gdpr_delete_requested = true AND jurisdiction = $4`,
		resultID, patientID, AnonymizedPatientID, JurisdictionEU)
	if err != nil {
		return false, fmt.Errorf("anonymize: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PGStore) ClearGDPRFlag(ctx context.Context, resultID, patientID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE lab_results
		SET gdpr_delete_requested = false, updated_at = now()
		WHERE result_id = $1 AND patient_id = $2 AND gdpr_delete_requested = true`,
		resultID, patientID)
	if err != nil {
		return false, fmt.Errorf("clear gdpr flag: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanResult(row pgx.Row) (*LabResult, error) {
	var r LabResult
	var entries []byte
	err := row.Scan(&r.ResultID, &r.PatientID, &r.LabID, &r.LabName, &r.TestType, &r.TestDate,
		&entries, &r.Notes, &r.Status, &r.HasAbnormal, &r.Jurisdiction, &r.GDPRDeleteRequested,
		&r.NotifiedAt, &r.TTLEpoch, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan lab result: %w", err)
	}
	if len(entries) > 0 {
		if err := json.Unmarshal(entries, &r.Results); err != nil {
			return nil, fmt.Errorf("unmarshal result entries: %w", err)
		}
	}
	return &r, nil
}

func collectResults(rows pgx.Rows) ([]*LabResult, error) {
	var out []*LabResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
