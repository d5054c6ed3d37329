package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors of the ledger and the dispatchers.
type Metrics struct {
	transitions      *prometheus.CounterVec
	claims           *prometheus.CounterVec
	sendFailures     *prometheus.CounterVec
	reminders        *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	jobErrors        *prometheus.CounterVec
	eventPublishFail prometheus.Counter
}

func New(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subscription_transitions_total",
				Help: "Subscription lifecycle transitions by history action",
			},
			[]string{"action"},
		),
		claims: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notification_claims_total",
				Help: "Watermark claims by outcome",
			},
			[]string{"watermark", "outcome"},
		),
		sendFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notification_send_failures_total",
				Help: "Notifications claimed but not delivered",
			},
			[]string{"type"},
		),
		reminders: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reminders_dispatched_total",
				Help: "Due reminders by dispatch outcome",
			},
			[]string{"outcome"},
		),
		jobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scheduler_job_duration_seconds",
				Help:    "Duration of scheduled sweeps",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"job"},
		),
		jobErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scheduler_job_errors_total",
				Help: "Per-row and per-run errors of scheduled sweeps",
			},
			[]string{"job"},
		),
		eventPublishFail: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "subscription_event_publish_failures_total",
				Help: "Lifecycle events that could not be published",
			},
		),
	}
}

func (m *Metrics) IncTransition(action string) {
	m.transitions.WithLabelValues(action).Inc()
}

// IncClaim records a watermark compare-and-set; outcome is "won" or "lost".
func (m *Metrics) IncClaim(watermark, outcome string) {
	m.claims.WithLabelValues(watermark, outcome).Inc()
}

func (m *Metrics) IncSendFailure(kind string) {
	m.sendFailures.WithLabelValues(kind).Inc()
}

// IncReminder records a reminder outcome: "sent", "lost" or "failed".
func (m *Metrics) IncReminder(outcome string) {
	m.reminders.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveJob(job string, started time.Time) {
	m.jobDuration.WithLabelValues(job).Observe(time.Since(started).Seconds())
}

func (m *Metrics) IncJobError(job string) {
	m.jobErrors.WithLabelValues(job).Inc()
}

func (m *Metrics) IncEventPublishFailure() {
	m.eventPublishFail.Inc()
}

// Transitions, Claims, SendFailures and Reminders expose the vectors to tests.
func (m *Metrics) Transitions() *prometheus.CounterVec  { return m.transitions }
func (m *Metrics) Claims() *prometheus.CounterVec       { return m.claims }
func (m *Metrics) SendFailures() *prometheus.CounterVec { return m.sendFailures }
func (m *Metrics) Reminders() *prometheus.CounterVec    { return m.reminders }
