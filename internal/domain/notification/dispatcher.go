package notification

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/labsecure/labsecure/internal/audit"
	"github.com/labsecure/labsecure/internal/domain/patient"
	"github.com/labsecure/labsecure/internal/domain/result"
	"github.com/labsecure/labsecure/internal/platform/metrics"
	"github.com/labsecure/labsecure/internal/platform/queue"
)

// ActorID is recorded on every audit event the dispatcher writes.
const ActorID = "system_notify"

// Options tunes a Dispatcher's consume loop.
type Options struct {
	BatchSize         int
	WaitTime          time.Duration
	VisibilityTimeout time.Duration
}

func (o Options) withDefaults() Options {
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

// Dispatcher consumes notify tasks and delivers result-ready notices.
//
// Delivery failures are terminal per message: a missing patient, a render
// error, or a transport failure is audited as NOTIFICATION_FAILED and the
// task is acknowledged so it never redelivers. The dispatcher does not
// retry; the audit trail is the operational signal. Only an infrastructure
// error during patient lookup is left for queue redelivery, audited first.
// A delivered notice is acknowledged and stamps notified_at on the record.
type Dispatcher struct {
	tasks     queue.Queue
	patients  patient.Store
	results   result.Store
	sender    EmailSender
	templates *TemplateEngine
	ledger    *audit.Ledger
	metrics   *metrics.Metrics
	log       zerolog.Logger
	opts      Options
}

// NewDispatcher creates a notification dispatcher.
func NewDispatcher(tasks queue.Queue, patients patient.Store, results result.Store, sender EmailSender, ledger *audit.Ledger, m *metrics.Metrics, log zerolog.Logger, opts Options) *Dispatcher {
	return &Dispatcher{
		tasks:     tasks,
		patients:  patients,
		results:   results,
		sender:    sender,
		templates: NewTemplateEngine(),
		ledger:    ledger,
		metrics:   m,
		log:       log.With().Str("component", "notifier").Logger(),
		opts:      opts.withDefaults(),
	}
}

// Run consumes the notify queue until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info().Msg("notification dispatcher started")
	for {
		if err := ctx.Err(); err != nil {
			d.log.Info().Msg("notification dispatcher stopped")
			return err
		}

		msgs, err := d.tasks.Receive(ctx, queue.ReceiveOptions{
			MaxMessages:       d.opts.BatchSize,
			WaitTime:          d.opts.WaitTime,
			VisibilityTimeout: d.opts.VisibilityTimeout,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			d.log.Error().Err(err).Msg("receive failed")
			continue
		}

		for _, msg := range msgs {
			d.handle(ctx, msg)
		}
	}
}

// Drain processes whatever is currently queued and returns. Used by tests and
// the one-shot CLI mode.
func (d *Dispatcher) Drain(ctx context.Context) (int, error) {
	handled := 0
	for {
		msgs, err := d.tasks.Receive(ctx, queue.ReceiveOptions{
			MaxMessages:       d.opts.BatchSize,
			WaitTime:          50 * time.Millisecond,
			VisibilityTimeout: d.opts.VisibilityTimeout,
		})
		if err != nil {
			return handled, err
		}
		if len(msgs) == 0 {
			return handled, nil
		}
		for _, msg := range msgs {
			d.handle(ctx, msg)
			handled++
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, msg *queue.Message) {
	var task Task
	if err := json.Unmarshal(msg.Body, &task); err != nil {
		// Unparseable tasks redeliver until the queue dead-letters them.
		d.log.Error().Err(err).Str("message_id", msg.ID).Msg("malformed notify task")
		d.metrics.IncNotify("failed")
		return
	}

	log := d.log.With().Str("result_id", task.ResultID).Str("patient_id", task.PatientID).Logger()

	p, err := d.patients.Get(ctx, task.PatientID)
	if errors.Is(err, patient.ErrPatientNotFound) {
		// Terminal: no amount of redelivery will materialize the patient.
		d.recordFailure(ctx, task, "NO_PATIENT_RECORD")
		log.Error().Msg("no patient record for notification")
		d.ack(ctx, msg)
		return
	}
	if err != nil {
		// Infrastructure error: audit it, then leave the task for
		// redelivery since the lookup may succeed next time.
		d.recordFailure(ctx, task, "patient lookup failed: "+err.Error())
		log.Error().Err(err).Msg("patient lookup failed")
		return
	}

	templateID := "lab-result-ready"
	if task.HasAbnormal {
		templateID = "lab-result-abnormal"
	}
	subject, body, err := d.templates.Render(templateID, map[string]string{
		"patient_name": p.FirstName + " " + p.LastName,
		"test_type":    task.TestType,
		"test_date":    task.TestDate,
	})
	if err != nil {
		// Terminal: the same template renders the same way on retry.
		d.recordFailure(ctx, task, "render failed: "+err.Error())
		log.Error().Err(err).Msg("render failed")
		d.ack(ctx, msg)
		return
	}

	if err := d.sender.SendEmail(ctx, p.Email, subject, body); err != nil {
		// Terminal: failures are not retried here, the audit trail is the
		// operational signal.
		d.recordFailure(ctx, task, "send failed: "+err.Error())
		log.Error().Err(err).Msg("send failed")
		d.ack(ctx, msg)
		return
	}

	details := "template=" + templateID
	applied, err := d.results.MarkNotified(ctx, task.ResultID, task.PatientID, time.Now().UTC())
	if err != nil {
		log.Warn().Err(err).Msg("failed to stamp notified_at")
	} else if !applied {
		// A second successful delivery for the same result must be
		// tellable apart from the first in the ledger.
		details += " duplicate=true"
		log.Debug().Msg("record was already marked notified")
	}

	d.recordAudit(ctx, &audit.Event{
		Action:    audit.ActionNotificationSent,
		ActorID:   ActorID,
		PatientID: task.PatientID,
		ResultID:  task.ResultID,
		Details:   details,
		Source:    "notifier",
	})
	d.metrics.IncNotify("sent")
	log.Info().Str("template", templateID).Msg("notification sent")

	d.ack(ctx, msg)
}

func (d *Dispatcher) recordFailure(ctx context.Context, task Task, details string) {
	d.recordAudit(ctx, &audit.Event{
		Action:    audit.ActionNotificationFailed,
		ActorID:   ActorID,
		PatientID: task.PatientID,
		ResultID:  task.ResultID,
		Details:   details,
		Source:    "notifier",
	})
	d.metrics.IncNotify("failed")
}

func (d *Dispatcher) ack(ctx context.Context, msg *queue.Message) {
	if err := d.tasks.Delete(ctx, msg.ReceiptHandle); err != nil {
		d.log.Warn().Err(err).Str("message_id", msg.ID).Msg("failed to delete message")
	}
}

func (d *Dispatcher) recordAudit(ctx context.Context, event *audit.Event) {
	if err := d.ledger.Record(ctx, event); err != nil {
		d.log.Warn().Err(err).Str("action", string(event.Action)).Msg("audit append failed")
	}
}
