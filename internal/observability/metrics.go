package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors for the data-access layer.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	acquires   *prometheus.CounterVec
	waiting    prometheus.Gauge
	resets     prometheus.Counter
	statements *prometheus.CounterVec
	retries    *prometheus.CounterVec
	txs        *prometheus.CounterVec
	mutations  *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them on reg when it is non-nil.
func NewMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		acquires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "acquires_total",
			Help:      "Connection acquisitions by result.",
		}, []string{"result"}),
		waiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "waiters",
			Help:      "Goroutines currently blocked waiting for a connection.",
		}),
		resets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "resets_total",
			Help:      "Pool-wide resets after connection loss.",
		}),
		statements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "statements_total",
			Help:      "Executed statements by outcome.",
		}, []string{"outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "retries_total",
			Help:      "Backoff retries by transient error class.",
		}, []string{"class"}),
		txs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "transactions_total",
			Help:      "Transactions by outcome.",
		}, []string{"outcome"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scoped",
			Name:      "mutations_total",
			Help:      "Scoped mutations by entity and outcome.",
		}, []string{"entity", "outcome"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.acquires, m.waiting, m.resets, m.statements, m.retries, m.txs, m.mutations} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// RecordAcquire counts a connection acquisition attempt.
func (m *Metrics) RecordAcquire(result string) {
	if m == nil {
		return
	}
	m.acquires.WithLabelValues(result).Inc()
}

// AddWaiters moves the waiter gauge by delta.
func (m *Metrics) AddWaiters(delta float64) {
	if m == nil {
		return
	}
	m.waiting.Add(delta)
}

// RecordReset counts a pool reset.
func (m *Metrics) RecordReset() {
	if m == nil {
		return
	}
	m.resets.Inc()
}

// RecordStatement counts an executed statement.
func (m *Metrics) RecordStatement(outcome string) {
	if m == nil {
		return
	}
	m.statements.WithLabelValues(outcome).Inc()
}

// RecordRetry counts a backoff retry for the given error class.
func (m *Metrics) RecordRetry(class string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(class).Inc()
}

// RecordTransaction counts a finished transaction.
func (m *Metrics) RecordTransaction(outcome string) {
	if m == nil {
		return
	}
	m.txs.WithLabelValues(outcome).Inc()
}

// RecordMutation counts a scoped mutation.
func (m *Metrics) RecordMutation(entity, outcome string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(entity, outcome).Inc()
}
