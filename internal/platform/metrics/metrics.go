// Package metrics provides Prometheus collectors for the lab-result pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the pipeline's Prometheus collectors. A nil *Metrics is
// safe to call, so components can be wired without observability in tests.
type Metrics struct {
	IngestAccepted   prometheus.Counter
	IngestRejected   prometheus.Counter
	WorkerOutcome    *prometheus.CounterVec
	WorkerLatency    prometheus.Histogram
	NotifyOutcome    *prometheus.CounterVec
	LifecycleSwept   *prometheus.CounterVec
	DisclosureCount  *prometheus.CounterVec
}

// New creates a Metrics instance with all collectors registered on the
// default registry.
func New() *Metrics {
	return &Metrics{
		IngestAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "labsecure_ingest_accepted_total",
			Help: "Lab submissions accepted and queued for processing",
		}),
		IngestRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "labsecure_ingest_rejected_total",
			Help: "Lab submissions rejected at validation",
		}),
		WorkerOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "labsecure_worker_messages_total",
			Help: "Processing worker outcomes by result",
		}, []string{"outcome"}), // processed, failed, duplicate
		WorkerLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "labsecure_worker_process_duration_seconds",
			Help:    "Duration of processing a single queue message",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		NotifyOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "labsecure_notifications_total",
			Help: "Notification dispatch outcomes",
		}, []string{"outcome"}), // sent, failed
		LifecycleSwept: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "labsecure_lifecycle_records_total",
			Help: "Records handled by the retention sweep by jurisdiction path",
		}, []string{"mode"}), // gdpr, hipaa
		DisclosureCount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "labsecure_disclosures_total",
			Help: "Human disclosures of patient data by kind",
		}, []string{"kind", "break_glass"}),
	}
}

// ObserveWorker records a single worker outcome and its latency.
func (m *Metrics) ObserveWorker(outcome string, d time.Duration) {
	if m != nil {
		m.WorkerOutcome.WithLabelValues(outcome).Inc()
		m.WorkerLatency.Observe(d.Seconds())
	}
}

// IncIngest records an ingestion decision.
func (m *Metrics) IncIngest(accepted bool) {
	if m == nil {
		return
	}
	if accepted {
		m.IngestAccepted.Inc()
	} else {
		m.IngestRejected.Inc()
	}
}

// IncNotify records a notification outcome.
func (m *Metrics) IncNotify(outcome string) {
	if m != nil {
		m.NotifyOutcome.WithLabelValues(outcome).Inc()
	}
}

// IncLifecycle records one record handled by the retention sweep.
func (m *Metrics) IncLifecycle(mode string) {
	if m != nil {
		m.LifecycleSwept.WithLabelValues(mode).Inc()
	}
}

// IncDisclosure records a human disclosure.
func (m *Metrics) IncDisclosure(kind string, breakGlass bool) {
	if m != nil {
		bg := "false"
		if breakGlass {
			bg = "true"
		}
		m.DisclosureCount.WithLabelValues(kind, bg).Inc()
	}
}
