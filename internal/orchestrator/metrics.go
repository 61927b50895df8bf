package orchestrator

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/webbook/contactbook/pkg/models"
)

// metrics tracks façade-level operation counters, both for in-process
// MetricsSnapshot() callers and for host scraping via a registered
// Prometheus registry (spec §10 ambient stack).
type metrics struct {
	mu         sync.Mutex
	operations map[string]int
	errors     map[string]int
	updatedAt  time.Time

	opCounter  *prometheus.CounterVec
	errCounter *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		operations: make(map[string]int),
		errors:     make(map[string]int),
		opCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contactbook",
			Subsystem: "orchestrator",
			Name:      "operations_total",
			Help:      "Number of façade operations invoked, by operation name.",
		}, []string{"operation"}),
		errCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contactbook",
			Subsystem: "orchestrator",
			Name:      "operation_errors_total",
			Help:      "Number of façade operations that returned an error, by operation name.",
		}, []string{"operation"}),
	}
	if reg != nil {
		reg.MustRegister(m.opCounter, m.errCounter)
	}
	return m
}

func (m *metrics) recordOperation(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operations[name]++
	m.opCounter.WithLabelValues(name).Inc()
	if err != nil {
		m.errors[name]++
		m.errCounter.WithLabelValues(name).Inc()
	}
	m.updatedAt = time.Now().UTC()
}

func (m *metrics) snapshot(contactCount, pendingQueueSize int) models.MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	ops := make(map[string]int, len(m.operations))
	for k, v := range m.operations {
		ops[k] = v
	}
	errs := make(map[string]int, len(m.errors))
	for k, v := range m.errors {
		errs[k] = v
	}
	return models.MetricsSnapshot{
		ContactCount:     contactCount,
		PendingQueueSize: pendingQueueSize,
		OperationCounts:  ops,
		ErrorCounts:      errs,
		LastUpdatedAt:    m.updatedAt,
	}
}

// withMetrics runs fn, recording its outcome under operation name.
func withMetrics[T any](o *Orchestrator, name string, fn func() (T, error)) (T, error) {
	result, err := fn()
	o.metrics.recordOperation(name, err)
	return result, err
}

// withMetricsErr is withMetrics for operations with no result value.
func withMetricsErr(o *Orchestrator, name string, fn func() error) error {
	err := fn()
	o.metrics.recordOperation(name, err)
	return err
}
