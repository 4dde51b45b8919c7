package lazyinit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusConfig is a config of the Prometheus metrics provided by the guard.
//
// An instance can be created only by the [Prometheus] function. The zero value is invalid.
type PrometheusConfig struct {
	// Namespace of the metrics.
	Namespace string
	// Subsystem of the metrics.
	Subsystem string
	// Options for the started attempts counter.
	Attempts prometheus.CounterOpts
	// Options for the failed attempts counter.
	Failures prometheus.CounterOpts
	// Options for the initialized gauge.
	Initialized prometheus.GaugeOpts
	// Options for the attempt duration histogram.
	AttemptDuration prometheus.HistogramOpts

	registerer prometheus.Registerer
}

// Prometheus returns a [PrometheusConfig] with the provided registerer. If registerer is nil,
// metrics will not be registered. Many default parameters can be configured by passing
// configuration functions.
func Prometheus(
	registerer prometheus.Registerer,
	configFuncs ...func(c *PrometheusConfig),
) *PrometheusConfig {
	const (
		namespace = "lazyinit"
		subsystem = ""
	)

	c := PrometheusConfig{
		registerer: registerer,
		Namespace:  namespace,
		Subsystem:  subsystem,
		Attempts: prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "attempts",
			Help:      "Number of started initialization attempts",
		},
		Failures: prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "failures",
			Help:      "Number of initialization attempts that completed with an error",
		},
		Initialized: prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "initialized",
			Help:      "Whether initialization has completed successfully",
		},
		AttemptDuration: prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "attempt_duration",
			Help:      "Duration of initialization attempts",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	}

	for _, cf := range configFuncs {
		if cf != nil {
			cf(&c)
		}
	}

	return &c
}

func (c *PrometheusConfig) metrics() *metrics {
	m := metrics{
		attempts:        prometheus.NewCounter(c.Attempts),
		failures:        prometheus.NewCounter(c.Failures),
		initialized:     prometheus.NewGauge(c.Initialized),
		attemptDuration: prometheus.NewHistogram(c.AttemptDuration),
	}

	if c.registerer != nil {
		c.registerer.MustRegister(
			m.attempts,
			m.failures,
			m.initialized,
			m.attemptDuration,
		)
	}

	return &m
}

type metrics struct {
	attempts        prometheus.Counter
	failures        prometheus.Counter
	initialized     prometheus.Gauge
	attemptDuration prometheus.Histogram
}
