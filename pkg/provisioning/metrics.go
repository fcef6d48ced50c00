package provisioning

import (
	"errors"
	"time"

	"github.com/illmade-knight/go-job-scheduler/pkg/jobspec"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricNamespace = "jobscheduler"
	metricSubsystem = "provisioning"
)

// Metrics records the outcome and latency of reconcile calls.
type Metrics struct {
	reconciles *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg. Registering
// twice against the same registry reuses the existing collectors.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		reconciles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Subsystem: metricSubsystem,
				Name:      "reconcile_total",
				Help:      "Count of reconcile calls by resource kind and result.",
			},
			[]string{"resource", "result"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricNamespace,
				Subsystem: metricSubsystem,
				Name:      "reconcile_duration_seconds",
				Help:      "Histogram of reconcile round-trip latencies against the scheduling authority.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"resource"},
		),
	}
	if reg == nil {
		return m, nil
	}

	if err := reg.Register(m.reconciles); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		m.reconciles = are.ExistingCollector.(*prometheus.CounterVec)
	}
	if err := reg.Register(m.latency); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		m.latency = are.ExistingCollector.(*prometheus.HistogramVec)
	}
	return m, nil
}

func (m *Metrics) observe(resource string, outcome Outcome, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.reconciles.WithLabelValues(resource, resultLabel(outcome, err)).Inc()
	if elapsed > 0 {
		m.latency.WithLabelValues(resource).Observe(elapsed.Seconds())
	}
}

func resultLabel(outcome Outcome, err error) string {
	switch {
	case err == nil:
		return string(outcome)
	case errors.Is(err, jobspec.ErrInvalidSpec):
		return "invalid"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrAuthorization):
		return "unauthorized"
	case errors.Is(err, ErrCollectionNotFound):
		return "collection_not_found"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "error"
	}
}
