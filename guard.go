// Package lazyinit provides a concurrency-safe guard for a single expensive
// initialization step that may fail transiently and be retried.
package lazyinit

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

var (
	// ErrClosed is returned by guard methods after the guard has been closed.
	ErrClosed = errors.New("guard is closed")
)

// InitFunc performs the guarded initialization.
//
// It is invoked only by the guard, never concurrently with itself, and always
// runs to completion once started, even if every caller abandons its wait.
type InitFunc func() error

// Guard coordinates a lazily-triggered, one-time initialization shared by many
// concurrent callers.
//
// The wrapped [InitFunc] is started at most once per attempt: callers that
// arrive while an attempt is in flight wait on that attempt instead of starting
// duplicate work. A failed attempt can be restarted according to the configured
// timing (see [WithRetryWindow] and [WithRetryInterval]). Once an attempt
// succeeds, the guard becomes a permanent no-op pass-through.
type Guard struct {
	cfg  *Config
	init InitFunc

	// gate serializes transitions of the attempt pointer. Reads are lock-free,
	// writes happen only while holding the gate.
	gate    chan struct{}
	attempt atomic.Pointer[attempt]
	closed  atomic.Bool

	metrics *metrics
}

// attempt is the handle of one invocation of the init function, shared by all
// callers that observe it. The err and duration fields are written before done
// is closed and must be read only after done is observed closed.
type attempt struct {
	done     chan struct{}
	err      error
	started  time.Time
	duration time.Duration
}

func (a *attempt) finished() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

// New creates a guard around init.
//
// Default configuration:
//   - RetryWindow: 0 (a single failed attempt fails the call)
//   - RetryInterval: 0 (no throttling between attempts)
//   - Prometheus: unregistered metrics
//
// Returns an error if init is nil.
func New(init InitFunc, options ...Option) (*Guard, error) {
	if init == nil {
		return nil, errors.New("init func can't be nil")
	}

	cfg := newConfig(options...)

	guard := Guard{
		cfg:     cfg,
		init:    init,
		gate:    make(chan struct{}, 1),
		metrics: cfg.prom.metrics(),
	}

	return &guard, nil
}

// Initialized reports whether an attempt has already completed successfully.
//
// It is non-blocking and has no side effects. Once it returns true it returns
// true forever.
func (g *Guard) Initialized() bool {
	a := g.attempt.Load()
	return a != nil && a.finished() && a.err == nil
}

// EnsureInitialized blocks until initialization has succeeded and returns nil,
// or returns the init function's own error once the retry window is exhausted.
//
// The error of a failed attempt is propagated verbatim: every caller waiting
// on the same attempt observes the identical error value. A failed call does
// not poison the guard; a later call starts a fresh attempt (and a fresh retry
// window).
//
// The context governs only this caller's waiting. Cancelling it abandons the
// wait with ctx.Err() but never cancels a started attempt: the attempt runs to
// completion and other waiters remain attached to it.
//
// Returns [ErrClosed] after [Guard.Close], unless initialization had already
// succeeded, in which case the fast path still resolves.
func (g *Guard) EnsureInitialized(ctx context.Context) error {
	if g.Initialized() {
		return nil
	}
	if g.closed.Load() {
		return ErrClosed
	}

	a := g.attempt.Load()

	// A call that finds an attempt that already failed before the call began
	// may restart it once regardless of the retry window. This is what makes
	// a later call retry after an earlier call gave up.
	retriable := a != nil && a.finished() && a.err != nil

	if a == nil {
		if err := g.acquire(ctx); err != nil {
			return err
		}
		// Another caller may have started the first attempt while this one
		// was waiting on the gate.
		if g.attempt.Load() == nil {
			g.start()
		}
		g.release()
	}

	start := time.Now()

	for {
		a = g.attempt.Load()

		select {
		case <-a.done:
		case <-ctx.Done():
			return ctx.Err()
		}

		if a.err == nil {
			return nil
		}

		// The retry window is measured from this call's own start, so a zero
		// window means at most one attempt per call.
		if !retriable && time.Since(start) >= g.cfg.retryWindow {
			return a.err
		}
		retriable = false

		// Enforce minimum spacing between attempt starts. An attempt that
		// already ran for most of the interval is restarted sooner than one
		// that failed instantly.
		if delay := g.cfg.retryInterval - a.duration; delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := g.acquire(ctx); err != nil {
			return err
		}
		// Restart only if no other caller has replaced the failed attempt in
		// the meantime; otherwise loop and wait on the replacement.
		if g.attempt.Load() == a {
			g.start()
		}
		g.release()
	}
}

// Close releases the guard. All subsequent EnsureInitialized calls return
// [ErrClosed]. An attempt that is already in flight runs to completion.
//
// Returns [ErrClosed] if the guard was already closed.
func (g *Guard) Close() error {
	if g.closed.Swap(true) {
		return ErrClosed
	}
	return nil
}

// start begins a new attempt, replacing the current handle. The gate must be
// held by the caller.
func (g *Guard) start() {
	a := &attempt{
		done:    make(chan struct{}),
		started: time.Now(),
	}
	g.attempt.Store(a)
	g.metrics.attempts.Inc()

	go func() {
		err := g.init()

		a.duration = time.Since(a.started)
		a.err = err
		close(a.done)

		g.metrics.attemptDuration.Observe(a.duration.Seconds())
		if err != nil {
			g.metrics.failures.Inc()
		} else {
			g.metrics.initialized.Set(1)
		}
	}()
}

func (g *Guard) acquire(ctx context.Context) error {
	select {
	case g.gate <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if g.closed.Load() {
		g.release()
		return ErrClosed
	}
	return nil
}

func (g *Guard) release() {
	<-g.gate
}
