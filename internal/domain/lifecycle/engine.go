// Package lifecycle implements the jurisdiction-aware retention engine.
// A periodic sweep visits every record flagged for erasure and applies the
// policy its jurisdiction demands: EU records are anonymized in place to
// honour GDPR erasure, US records keep their identifiers under the HIPAA
// retention clock and expire with the record's ttl_epoch.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/labsecure/labsecure/internal/audit"
	"github.com/labsecure/labsecure/internal/domain/result"
	"github.com/labsecure/labsecure/internal/platform/metrics"
)

// ActorID is recorded on every audit event the engine writes.
const ActorID = "system_lifecycle"

// Engine runs retention sweeps over the result store.
type Engine struct {
	results result.Store
	ledger  *audit.Ledger
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewEngine creates a retention engine.
func NewEngine(results result.Store, ledger *audit.Ledger, m *metrics.Metrics, log zerolog.Logger) *Engine {
	return &Engine{
		results: results,
		ledger:  ledger,
		metrics: m,
		log:     log.With().Str("component", "lifecycle").Logger(),
	}
}

// Run sweeps immediately and then on every tick of interval until ctx is
// cancelled.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	e.log.Info().Dur("interval", interval).Msg("lifecycle engine started")

	if _, err := e.Sweep(ctx); err != nil {
		e.log.Error().Err(err).Msg("sweep failed")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.log.Info().Msg("lifecycle engine stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := e.Sweep(ctx); err != nil {
				e.log.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}

// Sweep applies retention policy to every record currently flagged for
// erasure and returns how many it handled. A record another sweep got to
// first reads as already handled and is skipped without an audit event;
// the conditional store updates make concurrent sweeps safe.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	flagged, err := e.results.ListGDPRRequested(ctx)
	if err != nil {
		return 0, fmt.Errorf("list flagged records: %w", err)
	}

	handled := 0
	for _, r := range flagged {
		if err := ctx.Err(); err != nil {
			return handled, err
		}
		if e.apply(ctx, r) {
			handled++
		}
	}

	if handled > 0 {
		e.log.Info().Int("handled", handled).Msg("retention sweep complete")
	}
	return handled, nil
}

func (e *Engine) apply(ctx context.Context, r *result.LabResult) bool {
	log := e.log.With().Str("result_id", r.ResultID).Str("jurisdiction", r.Jurisdiction).Logger()

	if r.Jurisdiction == result.JurisdictionEU {
		applied, err := e.results.AnonymizeEU(ctx, r.ResultID, r.PatientID)
		if err != nil {
			log.Error().Err(err).Msg("anonymize failed")
			return false
		}
		if !applied {
			return false
		}
		e.recordAudit(ctx, &audit.Event{
			Action:    audit.ActionGDPRDelete,
			ActorID:   ActorID,
			PatientID: r.PatientID,
			ResultID:  r.ResultID,
			Details:   "anonymized in place",
			Source:    "lifecycle",
		})
		e.metrics.IncLifecycle("gdpr")
		log.Info().Msg("record anonymized")
		return true
	}

	applied, err := e.results.ClearGDPRFlag(ctx, r.ResultID, r.PatientID)
	if err != nil {
		log.Error().Err(err).Msg("clear flag failed")
		return false
	}
	if !applied {
		return false
	}
	e.recordAudit(ctx, &audit.Event{
		Action:    audit.ActionHIPAADelete,
		ActorID:   ActorID,
		PatientID: r.PatientID,
		ResultID:  r.ResultID,
		Details:   fmt.Sprintf("retained until ttl_epoch=%d", r.TTLEpoch),
		Source:    "lifecycle",
	})
	e.metrics.IncLifecycle("hipaa")
	log.Info().Int64("ttl_epoch", r.TTLEpoch).Msg("erasure deferred to retention expiry")
	return true
}

func (e *Engine) recordAudit(ctx context.Context, event *audit.Event) {
	if err := e.ledger.Record(ctx, event); err != nil {
		e.log.Warn().Err(err).Str("action", string(event.Action)).Msg("audit append failed")
	}
}
