package mediator

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "scg"
	subsystem = "mediator"

	resultSuccess = "success"
)

// Metrics collects request metrics for every mediator sharing it. A nil *Metrics
// records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	pending  *prometheus.GaugeVec
	late     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. Collectors already
// registered by another mediator are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "requests_total",
				Help:      "Requests sent by transport, pattern and result code",
			},
			[]string{"transport", "pattern", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "request_duration_seconds",
				Help:      "Time from Send to response",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"transport", "pattern"},
		),
		pending: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "pending_calls",
				Help:      "Requests awaiting a reply",
			},
			[]string{"transport"},
		),
		late: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "late_replies_total",
				Help:      "Replies dropped because no call was waiting for them",
			},
			[]string{"transport"},
		),
	}

	if reg == nil {
		return m, nil
	}

	var err error

	if m.requests, err = register(reg, m.requests); err != nil {
		return nil, err
	}

	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}

	if m.pending, err = register(reg, m.pending); err != nil {
		return nil, err
	}

	if m.late, err = register(reg, m.late); err != nil {
		return nil, err
	}

	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}

	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}

	return c, err
}

func (m *Metrics) observe(transport, pattern, code string, elapsed time.Duration) {
	if m == nil {
		return
	}

	result := code
	if result == "" {
		result = resultSuccess
	}

	m.requests.WithLabelValues(transport, pattern, result).Inc()
	m.duration.WithLabelValues(transport, pattern).Observe(elapsed.Seconds())
}

func (m *Metrics) lateReply(transport string) {
	if m == nil {
		return
	}

	m.late.WithLabelValues(transport).Inc()
}

func (m *Metrics) pendingGauge(transport string) prometheus.Gauge {
	if m == nil {
		return nil
	}

	return m.pending.WithLabelValues(transport)
}
