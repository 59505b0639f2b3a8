// Package metrics holds the Prometheus collectors for the ledger.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grouply/internal/core"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	expensesRecorded   *prometheus.CounterVec
	paymentsRecorded   prometheus.Counter
	validationFailures *prometheus.CounterVec
	planSize           prometheus.Histogram
	readLatency        *prometheus.HistogramVec
	publishFailures    prometheus.Counter
	eventsExported     *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. Passing a fresh prometheus.Registry
// keeps tests isolated from the default registry.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		expensesRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "grouply_expenses_recorded_total",
			Help: "Expenses appended to the ledger by split mode",
		}, []string{"split_mode"}),
		paymentsRecorded: f.NewCounter(prometheus.CounterOpts{
			Name: "grouply_payments_recorded_total",
			Help: "Payments appended to the ledger",
		}),
		validationFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "grouply_validation_failures_total",
			Help: "Rejected ledger writes by error kind",
		}, []string{"kind"}),
		planSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "grouply_settlement_plan_transfers",
			Help:    "Number of transfers in suggested settlement plans",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21, 34},
		}),
		readLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grouply_ledger_read_duration_seconds",
			Help:    "Time to load and derive a group's ledger view",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"view"}),
		publishFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "grouply_event_publish_failures_total",
			Help: "Ledger events that could not be published",
		}),
		eventsExported: f.NewCounterVec(prometheus.CounterOpts{
			Name: "grouply_events_exported_total",
			Help: "Ledger events handled by the export worker by outcome",
		}, []string{"outcome"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "grouply_http_requests_total",
			Help: "HTTP requests by method and status code",
		}, []string{"method", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grouply_http_request_duration_seconds",
			Help:    "HTTP request latency by method",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		gatherer: reg,
	}
}

func (m *Metrics) ExpenseRecorded(mode core.SplitMode) {
	if m == nil {
		return
	}
	m.expensesRecorded.WithLabelValues(string(mode)).Inc()
}

func (m *Metrics) PaymentRecorded() {
	if m == nil {
		return
	}
	m.paymentsRecorded.Inc()
}

// ValidationFailed counts err under its error kind. Non-validation errors are ignored.
func (m *Metrics) ValidationFailed(err error) {
	if m == nil {
		return
	}
	if kind := ErrorKind(err); kind != "" {
		m.validationFailures.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) PlanComputed(transfers int) {
	if m == nil {
		return
	}
	m.planSize.Observe(float64(transfers))
}

func (m *Metrics) ObserveRead(view string, start time.Time) {
	if m == nil {
		return
	}
	m.readLatency.WithLabelValues(view).Observe(time.Since(start).Seconds())
}

func (m *Metrics) PublishFailed() {
	if m == nil {
		return
	}
	m.publishFailures.Inc()
}

func (m *Metrics) EventExported(outcome string) {
	if m == nil {
		return
	}
	m.eventsExported.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveHTTP(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ErrorKind names the validation sentinel wrapped by err.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, core.ErrSelfPayment):
		return "self_payment"
	case errors.Is(err, core.ErrNonPositiveAmount):
		return "non_positive_amount"
	case errors.Is(err, core.ErrUnknownParticipant):
		return "unknown_participant"
	case errors.Is(err, core.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, core.ErrInvalidSplit):
		return "invalid_split"
	}
	return ""
}
