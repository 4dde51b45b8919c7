package sqlstore

import (
	"time"
)

// Config holds the store configuration. Instances are built by [Open] from
// the provided options.
type Config struct {
	file          string
	durable       bool
	busyTimeout   time.Duration
	setupWindow   time.Duration
	setupInterval time.Duration
}

type Option = func(*Config)

func newConfig(options ...Option) *Config {
	cfg := Config{
		busyTimeout: 5 * time.Second,
	}
	for _, option := range options {
		if option != nil {
			option(&cfg)
		}
	}
	return &cfg
}

// WithDurable makes every transaction fsync before it is reported committed.
// Slower, but survives power loss.
func WithDurable(durable bool) Option {
	return func(c *Config) {
		c.durable = durable
	}
}

// WithBusyTimeout sets how long a statement waits for a locked database
// before failing.
func WithBusyTimeout(timeout time.Duration) Option {
	if timeout < 0 {
		panic("busy timeout can't be < 0")
	}
	return func(c *Config) {
		c.busyTimeout = timeout
	}
}

// WithSetupRetryWindow sets the retry window of the schema setup guard. See
// [lazyinit.WithRetryWindow].
func WithSetupRetryWindow(window time.Duration) Option {
	if window < 0 {
		panic("setup retry window can't be < 0")
	}
	return func(c *Config) {
		c.setupWindow = window
	}
}

// WithSetupRetryInterval sets the minimum spacing between schema setup
// attempts. See [lazyinit.WithRetryInterval].
func WithSetupRetryInterval(interval time.Duration) Option {
	if interval < 0 {
		panic("setup retry interval can't be < 0")
	}
	return func(c *Config) {
		c.setupInterval = interval
	}
}
