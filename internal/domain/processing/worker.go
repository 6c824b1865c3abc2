// Package processing implements the pipeline worker that turns raw ingested
// payloads into canonical lab results. The worker is the only writer of new
// records in the result store; everything downstream (notification,
// retention) reacts to what it persists.
package processing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/labsecure/labsecure/internal/audit"
	"github.com/labsecure/labsecure/internal/domain/ingestion"
	"github.com/labsecure/labsecure/internal/domain/notification"
	"github.com/labsecure/labsecure/internal/domain/result"
	"github.com/labsecure/labsecure/internal/platform/blob"
	"github.com/labsecure/labsecure/internal/platform/metrics"
	"github.com/labsecure/labsecure/internal/platform/queue"
)

// ActorID is recorded on every audit event the worker writes.
const ActorID = "processor_worker"

// Options tunes a Worker's consume loop.
type Options struct {
	Retention         time.Duration
	BatchSize         int
	WaitTime          time.Duration
	VisibilityTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Retention <= 0 {
		o.Retention = 7 * 365 * 24 * time.Hour
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.WaitTime <= 0 {
		o.WaitTime = 20 * time.Second
	}
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = 60 * time.Second
	}
	return o
}

// Worker consumes processing tasks, normalizes raw payloads, persists
// canonical records, and hands notify tasks to the dispatcher.
//
// Delivery is at-least-once, so every step must tolerate replay: the create
// is conditional on the record not existing, and on a duplicate delivery the
// notify task is only re-enqueued while notified_at is still unset. A failed
// step leaves the message unacknowledged; the queue redelivers it and
// eventually routes it to the dead-letter destination.
type Worker struct {
	tasks   queue.Queue
	notify  queue.Queue
	raw     blob.Store
	results result.Store
	ledger  *audit.Ledger
	metrics *metrics.Metrics
	log     zerolog.Logger
	opts    Options
}

// NewWorker creates a processing worker.
func NewWorker(tasks, notify queue.Queue, raw blob.Store, results result.Store, ledger *audit.Ledger, m *metrics.Metrics, log zerolog.Logger, opts Options) *Worker {
	return &Worker{
		tasks:   tasks,
		notify:  notify,
		raw:     raw,
		results: results,
		ledger:  ledger,
		metrics: m,
		log:     log.With().Str("component", "worker").Logger(),
		opts:    opts.withDefaults(),
	}
}

// Run consumes the processing queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Msg("processing worker started")
	for {
		if err := ctx.Err(); err != nil {
			w.log.Info().Msg("processing worker stopped")
			return err
		}

		msgs, err := w.tasks.Receive(ctx, queue.ReceiveOptions{
			MaxMessages:       w.opts.BatchSize,
			WaitTime:          w.opts.WaitTime,
			VisibilityTimeout: w.opts.VisibilityTimeout,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			w.log.Error().Err(err).Msg("receive failed")
			continue
		}

		for _, msg := range msgs {
			w.handle(ctx, msg)
		}
	}
}

// Drain processes whatever is currently queued and returns. Used by tests and
// the one-shot CLI mode.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	handled := 0
	for {
		msgs, err := w.tasks.Receive(ctx, queue.ReceiveOptions{
			MaxMessages:       w.opts.BatchSize,
			WaitTime:          50 * time.Millisecond,
			VisibilityTimeout: w.opts.VisibilityTimeout,
		})
		if err != nil {
			return handled, err
		}
		if len(msgs) == 0 {
			return handled, nil
		}
		for _, msg := range msgs {
			w.handle(ctx, msg)
			handled++
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg *queue.Message) {
	start := time.Now()

	var task ingestion.Task
	if err := json.Unmarshal(msg.Body, &task); err != nil {
		w.fail(ctx, "", "", fmt.Errorf("malformed task: %w", err), msg)
		w.metrics.ObserveWorker("failed", time.Since(start))
		return
	}

	log := w.log.With().Str("result_id", task.ResultID).Logger()

	obj, err := w.raw.Get(ctx, task.RawKey)
	if err != nil {
		w.fail(ctx, task.ResultID, "", fmt.Errorf("fetch raw payload %s: %w", task.RawKey, err), msg)
		w.metrics.ObserveWorker("failed", time.Since(start))
		return
	}

	r, err := result.Normalize(obj.Body, task.ResultID, w.opts.Retention)
	if err != nil {
		w.fail(ctx, task.ResultID, "", fmt.Errorf("normalize: %w", err), msg)
		w.metrics.ObserveWorker("failed", time.Since(start))
		return
	}

	created, err := w.results.Create(ctx, r)
	if err != nil {
		w.fail(ctx, r.ResultID, r.PatientID, fmt.Errorf("persist: %w", err), msg)
		w.metrics.ObserveWorker("failed", time.Since(start))
		return
	}

	if created {
		w.enqueueNotify(ctx, r, log)
		w.recordAudit(ctx, &audit.Event{
			Action:    audit.ActionWorkerProcessed,
			ActorID:   ActorID,
			PatientID: r.PatientID,
			ResultID:  r.ResultID,
			Details:   fmt.Sprintf("has_abnormal=%t", r.HasAbnormal),
			Source:    "processor",
		})
		w.metrics.ObserveWorker("processed", time.Since(start))
		log.Info().Bool("has_abnormal", r.HasAbnormal).Msg("result processed")
	} else {
		// Redelivered after a crash between persist and ack. The record is
		// already canonical; only re-enqueue the notice if it never went out.
		existing, err := w.results.Get(ctx, r.ResultID, r.PatientID)
		if err == nil && existing.NotifiedAt == nil {
			w.enqueueNotify(ctx, existing, log)
		}
		w.metrics.ObserveWorker("duplicate", time.Since(start))
		log.Info().Msg("duplicate delivery, record already persisted")
	}

	w.ack(ctx, msg)
}

func (w *Worker) enqueueNotify(ctx context.Context, r *result.LabResult, log zerolog.Logger) {
	task, err := json.Marshal(notification.Task{
		ResultID:    r.ResultID,
		PatientID:   r.PatientID,
		HasAbnormal: r.HasAbnormal,
		TestType:    r.TestType,
		TestDate:    r.TestDate,
	})
	if err != nil {
		log.Error().Err(err).Msg("encode notify task")
		return
	}
	// Best effort: a lost notice is recoverable, a blocked pipeline is not.
	if err := w.notify.Send(ctx, task); err != nil {
		log.Error().Err(err).Msg("enqueue notify task failed")
	}
}

// fail records a failed processing attempt. The message is deliberately not
// acknowledged: it redelivers until it succeeds or dead-letters.
func (w *Worker) fail(ctx context.Context, resultID, patientID string, cause error, msg *queue.Message) {
	w.recordAudit(ctx, &audit.Event{
		Action:    audit.ActionWorkerFailed,
		ActorID:   ActorID,
		PatientID: patientID,
		ResultID:  resultID,
		Details:   cause.Error(),
		Source:    "processor",
	})
	w.log.Error().
		Err(cause).
		Str("message_id", msg.ID).
		Int("receive_count", msg.ReceiveCount).
		Msg("processing failed")
}

func (w *Worker) ack(ctx context.Context, msg *queue.Message) {
	if err := w.tasks.Delete(ctx, msg.ReceiptHandle); err != nil {
		w.log.Warn().Err(err).Str("message_id", msg.ID).Msg("failed to delete message")
	}
}

func (w *Worker) recordAudit(ctx context.Context, event *audit.Event) {
	if err := w.ledger.Record(ctx, event); err != nil {
		w.log.Warn().Err(err).Str("action", string(event.Action)).Msg("audit append failed")
	}
}
