package library

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/shopspring/decimal"
)

const metricsNamespace = "library"

// Metrics holds the circulation counters. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	loansIssued   prometheus.Counter
	loansReturned prometheus.Counter
	finesAssessed prometheus.Counter
	reservations  *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	storeRetries  prometheus.Counter
}

// NewMetrics registers the circulation counters on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		loansIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "loans_issued_total",
			Help:      "Loans issued.",
		}),
		loansReturned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "loans_returned_total",
			Help:      "Loans returned.",
		}),
		finesAssessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "fines_assessed_total",
			Help:      "Sum of overdue fines assessed on return.",
		}),
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reservations_total",
			Help:      "Reservation state changes by outcome.",
		}, []string{"outcome"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rejections_total",
			Help:      "Rejected circulation requests by reason code.",
		}, []string{"operation", "reason"}),
		storeRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "store_retries_total",
			Help:      "Units of work retried after a store conflict.",
		}),
	}
	m.registry.MustRegister(m.loansIssued, m.loansReturned, m.finesAssessed, m.reservations, m.rejections, m.storeRetries)
	return m
}

// Registry exposes the registry for scraping.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// WriteText dumps every metric in the Prometheus text format.
func (m *Metrics) WriteText(w io.Writer) error {
	if m == nil {
		return nil
	}
	families, err := m.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) loanIssued() {
	if m != nil {
		m.loansIssued.Inc()
	}
}

func (m *Metrics) loanReturned(fine decimal.Decimal) {
	if m == nil {
		return
	}
	m.loansReturned.Inc()
	if fine.IsPositive() {
		m.finesAssessed.Add(fine.InexactFloat64())
	}
}

func (m *Metrics) reservation(outcome ReservationStatus) {
	if m != nil {
		m.reservations.WithLabelValues(string(outcome)).Inc()
	}
}

// rejected counts business rejections. Store failures are not counted here.
func (m *Metrics) rejected(operation string, err error) {
	if m == nil || err == nil {
		return
	}
	reason := ReasonOf(err)
	if reason == ReasonStoreUnavailable {
		return
	}
	m.rejections.WithLabelValues(operation, string(reason)).Inc()
}

func (m *Metrics) storeRetry() {
	if m != nil {
		m.storeRetries.Inc()
	}
}
