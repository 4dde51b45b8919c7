package lazyinit

import (
	"time"
)

// Config holds the guard configuration. Instances are built by [New] from the
// provided options.
type Config struct {
	retryWindow   time.Duration
	retryInterval time.Duration
	prom          *PrometheusConfig
}

type Option = func(*Config)

func newConfig(options ...Option) *Config {
	cfg := Config{
		prom: Prometheus(nil),
	}
	for _, option := range options {
		if option != nil {
			option(&cfg)
		}
	}
	return &cfg
}

// WithRetryWindow sets the wall-clock duration, measured from the start of an
// [Guard.EnsureInitialized] call, during which that call keeps restarting a
// failed attempt. The window bounds retries by time rather than by count
// because individual attempts can have very different latencies.
//
// The default of 0 means a call never restarts an attempt it started itself.
func WithRetryWindow(window time.Duration) Option {
	if window < 0 {
		panic("retry window can't be < 0")
	}
	return func(c *Config) {
		c.retryWindow = window
	}
}

// WithRetryInterval sets the minimum spacing between the starts of consecutive
// attempts. When an attempt fails after running for less than the interval,
// the restart is delayed by the remaining difference, so fast-failing attempts
// don't hammer the dependency in a tight loop.
//
// The default of 0 means failed attempts are restarted immediately.
func WithRetryInterval(interval time.Duration) Option {
	if interval < 0 {
		panic("retry interval can't be < 0")
	}
	return func(c *Config) {
		c.retryInterval = interval
	}
}

// WithPrometheus sets the Prometheus metrics configuration created by
// [Prometheus].
func WithPrometheus(prom *PrometheusConfig) Option {
	if prom == nil {
		panic("prometheus config can't be nil")
	}
	return func(c *Config) {
		c.prom = prom
	}
}
