package theme

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics:
//   - hexgo_renders_total: page renders by engine and result
//   - hexgo_partial_failures_total: partials that degraded to ""
//   - hexgo_render_duration_seconds: page render latency by engine
//   - hexgo_pool_checkouts_total: fallback engine checkouts
//   - hexgo_pool_wait_seconds: time spent waiting for a fallback engine
type renderMetrics struct {
	renders         *prometheus.CounterVec
	partialFailures prometheus.Counter
	duration        *prometheus.HistogramVec
	checkouts       prometheus.Counter
	poolWait        prometheus.Histogram
}

func newRenderMetrics(reg prometheus.Registerer) (*renderMetrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &renderMetrics{
		renders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hexgo",
				Name:      "renders_total",
				Help:      "Total number of page renders",
			},
			[]string{"engine", "result"},
		),
		partialFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "hexgo",
				Name:      "partial_failures_total",
				Help:      "Total number of partials that rendered as empty after an error",
			},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "hexgo",
				Name:      "render_duration_seconds",
				Help:      "Page render latency",
				Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"engine"},
		),
		checkouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "hexgo",
				Name:      "pool_checkouts_total",
				Help:      "Total number of fallback engine checkouts",
			},
		),
		poolWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "hexgo",
				Name:      "pool_wait_seconds",
				Help:      "Time spent waiting for a fallback engine",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 10, 7),
			},
		),
	}

	var err error
	m.renders = register(reg, m.renders, &err)
	m.partialFailures = register(reg, m.partialFailures, &err)
	m.duration = register(reg, m.duration, &err)
	m.checkouts = register(reg, m.checkouts, &err)
	m.poolWait = register(reg, m.poolWait, &err)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg. When an identical collector is already
// registered, as happens when several themes share one registry, the
// existing one is returned instead.
func register[C prometheus.Collector](reg prometheus.Registerer, c C, errp *error) C {
	if *errp != nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		*errp = err
	}
	return c
}

func (m *renderMetrics) observeRender(engine string, err error, d time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.renders.WithLabelValues(engine, result).Inc()
	m.duration.WithLabelValues(engine).Observe(d.Seconds())
}

func (m *renderMetrics) observeCheckout(wait time.Duration) {
	m.checkouts.Inc()
	m.poolWait.Observe(wait.Seconds())
}
