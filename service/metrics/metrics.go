package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal   *prometheus.CounterVec
	solanaRPCCallDuration *prometheus.HistogramVec

	// Chain state cache metrics
	chainStateRefreshTotal   *prometheus.CounterVec
	chainStateRefreshSkipped *prometheus.CounterVec
	chainStateAge            *prometheus.GaugeVec

	// Submission Metrics
	submissionsTotal       *prometheus.CounterVec
	submissionDuration     *prometheus.HistogramVec
	submittedLamportsTotal prometheus.Counter
	confirmationPollsTotal *prometheus.CounterVec
	flowTransitionsTotal   *prometheus.CounterVec
	submissionsInFlight    prometheus.Gauge

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Solana RPC Metrics
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),

		// Chain state cache metrics
		chainStateRefreshTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainstate_refresh_total",
				Help: "Total number of chain state refreshes by value and status",
			},
			[]string{"value", "status"},
		),
		chainStateRefreshSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainstate_refresh_skipped_total",
				Help: "Refresh ticks skipped because a refresh for the same value was still in flight",
			},
			[]string{"value"},
		),
		chainStateAge: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chainstate_last_success_timestamp_seconds",
				Help: "Unix time of the last successful refresh per value",
			},
			[]string{"value"},
		),

		// Submission Metrics
		submissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_submissions_total",
				Help: "Total number of payment submissions by terminal outcome",
			},
			[]string{"outcome"},
		),
		submissionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payment_submission_duration_seconds",
				Help:    "Duration from submit to terminal outcome in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"outcome"},
		),
		submittedLamportsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "payment_confirmed_lamports_total",
				Help: "Total lamports moved by confirmed payments",
			},
		),
		confirmationPollsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_confirmation_polls_total",
				Help: "Total number of signature status polls while awaiting confirmation",
			},
			[]string{"result"},
		),
		flowTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flow_status_transitions_total",
				Help: "Total number of payment flow status transitions",
			},
			[]string{"from", "to"},
		),
		submissionsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "payment_submissions_in_flight",
				Help: "Number of submissions currently awaiting a terminal outcome",
			},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// Chain state metric helpers

// RecordRefresh records a chain state refresh for the named value.
func (m *Metrics) RecordRefresh(value string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.chainStateRefreshTotal.WithLabelValues(value, status).Inc()
	if err == nil {
		m.chainStateAge.WithLabelValues(value).Set(float64(time.Now().Unix()))
	}
}

// RecordRefreshSkipped records a tick that found a refresh already running.
func (m *Metrics) RecordRefreshSkipped(value string) {
	m.chainStateRefreshSkipped.WithLabelValues(value).Inc()
}

// Submission metric helpers

// RecordSubmission records a terminal submission outcome.
func (m *Metrics) RecordSubmission(outcome string, lamports uint64, duration float64) {
	m.submissionsTotal.WithLabelValues(outcome).Inc()
	m.submissionDuration.WithLabelValues(outcome).Observe(duration)
	if outcome == "confirmed" {
		m.submittedLamportsTotal.Add(float64(lamports))
	}
}

// RecordConfirmationPoll records one signature status poll.
func (m *Metrics) RecordConfirmationPoll(result string) {
	m.confirmationPollsTotal.WithLabelValues(result).Inc()
}

// RecordTransition records a flow status transition.
func (m *Metrics) RecordTransition(from, to string) {
	m.flowTransitionsTotal.WithLabelValues(from, to).Inc()
}

// SubmissionStarted increments the in-flight gauge. Call SubmissionFinished when done.
func (m *Metrics) SubmissionStarted() {
	m.submissionsInFlight.Inc()
}

// SubmissionFinished decrements the in-flight gauge.
func (m *Metrics) SubmissionFinished() {
	m.submissionsInFlight.Dec()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Timer returns a func that passes the seconds elapsed since start to recordFunc.
// It is meant to be deferred.
func Timer(start time.Time, recordFunc func(float64)) func() {
	return func() {
		recordFunc(time.Since(start).Seconds())
	}
}
