package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is a Postgres-backed Store. The access_audit table carries no
// UPDATE or DELETE path anywhere in this module; long-term archival and
// export are owned by an external process.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a PGStore backed by the given connection pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const eventCols = `audit_id, timestamp, action, actor_id, patient_id, result_id,
	justification, break_glass, source_ip, details, source`

func (s *PGStore) Append(ctx context.Context, event *Event) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO access_audit (audit_id, timestamp, action, actor_id, patient_id, result_id,
			justification, break_glass, source_ip, details, source)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		event.AuditID, event.Timestamp, event.Action, event.ActorID,
		nullable(event.PatientID), nullable(event.ResultID),
		nullable(event.Justification), event.BreakGlass,
		nullable(event.SourceIP), nullable(event.Details), nullable(event.Source))
	if err != nil {
		return fmt.Errorf("audit append: %w", err)
	}
	return nil
}

func (s *PGStore) ListRecent(ctx context.Context, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+eventCols+` FROM access_audit ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit list: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("audit scan: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *PGStore) Summarize(ctx context.Context, limit int) (*Summary, error) {
	events, err := s.ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		TotalEvents: len(events),
		ByAction:    make(map[string]int),
		ByActor:     make(map[string]int),
	}
	for _, e := range events {
		summary.ByAction[string(e.Action)]++
		summary.ByActor[e.ActorID]++
		if e.BreakGlass {
			summary.BreakGlassCount++
		}
	}
	return summary, nil
}

func scanEvent(row pgx.Row) (*Event, error) {
	var e Event
	var patientID, resultID, justification, sourceIP, details, source *string
	err := row.Scan(&e.AuditID, &e.Timestamp, &e.Action, &e.ActorID,
		&patientID, &resultID, &justification, &e.BreakGlass,
		&sourceIP, &details, &source)
	if err != nil {
		return nil, err
	}
	e.PatientID = strVal(patientID)
	e.ResultID = strVal(resultID)
	e.Justification = strVal(justification)
	e.SourceIP = strVal(sourceIP)
	e.Details = strVal(details)
	e.Source = strVal(source)
	return &e, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func strVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
