package lazyinit

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/KnicKnic/lazyinit/internal/testing/require"
)

var errInit = errors.New("init failed")

func run(t *testing.T, name string, fn func(t *testing.T)) {
	t.Run(name, func(t *testing.T) {
		t.Helper()
		t.Parallel()
		synctest.Test(t, func(t *testing.T) {
			fn(t)
		})
	})
}

// failFirst returns an init func that runs for d and fails the first n
// invocations before succeeding.
func failFirst(n int, d time.Duration, calls *atomic.Int32) InitFunc {
	return func() error {
		c := calls.Add(1)
		time.Sleep(d)
		if int(c) <= n {
			return errInit
		}
		return nil
	}
}

func TestNew(t *testing.T) {
	run(t, "With init func", func(t *testing.T) {
		guard, err := New(func() error { return nil })
		require.Nil(t, err)
		require.NotNil(t, guard)
		require.Equal(t, guard.Initialized(), false)
	})

	run(t, "Without init func", func(t *testing.T) {
		guard, err := New(nil)
		require.NotNil(t, err)
		require.Nil(t, guard)
	})
}

func TestEnsureInitializedSingleStart(t *testing.T) {
	run(t, "Concurrent callers share one attempt", func(t *testing.T) {
		var calls atomic.Int32
		guard, err := New(failFirst(0, time.Second, &calls))
		require.Nil(t, err)

		var group errgroup.Group
		for range 100 {
			group.Go(func() error {
				return guard.EnsureInitialized(t.Context())
			})
		}

		require.Nil(t, group.Wait())
		require.Equal(t, calls.Load(), int32(1))
		require.Equal(t, guard.Initialized(), true)
	})

	run(t, "Concurrent callers observe the same failure", func(t *testing.T) {
		var calls atomic.Int32
		guard, _ := New(failFirst(100, time.Second, &calls))

		const n = 10
		errs := make([]error, n)

		var group errgroup.Group
		for i := range n {
			group.Go(func() error {
				errs[i] = guard.EnsureInitialized(t.Context())
				return nil
			})
		}

		require.Nil(t, group.Wait())
		require.Equal(t, calls.Load(), int32(1))
		for i := range n {
			require.ErrorIs(t, errs[i], errInit)
		}
		require.Equal(t, guard.Initialized(), false)
	})
}

func TestEnsureInitializedSuccess(t *testing.T) {
	run(t, "Resolves immediately after success", func(t *testing.T) {
		var calls atomic.Int32
		guard, _ := New(failFirst(0, time.Second, &calls))

		require.Nil(t, guard.EnsureInitialized(t.Context()))
		require.Equal(t, guard.Initialized(), true)

		for range 5 {
			require.Nil(t, guard.EnsureInitialized(t.Context()))
		}
		require.Equal(t, calls.Load(), int32(1))
	})
}

func TestEnsureInitializedFailure(t *testing.T) {
	run(t, "Fails after a single attempt by default", func(t *testing.T) {
		var calls atomic.Int32
		guard, _ := New(failFirst(100, time.Second, &calls))

		require.ErrorIs(t, guard.EnsureInitialized(t.Context()), errInit)
		require.Equal(t, calls.Load(), int32(1))
		require.Equal(t, guard.Initialized(), false)
	})

	run(t, "Retries once on the next call", func(t *testing.T) {
		var calls atomic.Int32
		guard, _ := New(failFirst(1, time.Second, &calls))

		require.ErrorIs(t, guard.EnsureInitialized(t.Context()), errInit)
		require.Equal(t, calls.Load(), int32(1))

		require.Nil(t, guard.EnsureInitialized(t.Context()))
		require.Equal(t, calls.Load(), int32(2))
		require.Equal(t, guard.Initialized(), true)
	})
}

func TestEnsureInitializedRetryWindow(t *testing.T) {
	run(t, "Retries within the window", func(t *testing.T) {
		var calls atomic.Int32
		guard, _ := New(
			failFirst(2, time.Second, &calls),
			WithRetryWindow(time.Minute),
		)

		require.Nil(t, guard.EnsureInitialized(t.Context()))
		require.Equal(t, calls.Load(), int32(3))

		require.Nil(t, guard.EnsureInitialized(t.Context()))
		require.Equal(t, calls.Load(), int32(3))
	})

	run(t, "Stops retrying when the window is exhausted", func(t *testing.T) {
		var calls atomic.Int32
		guard, _ := New(
			failFirst(100, 3*time.Second, &calls),
			WithRetryWindow(10*time.Second),
		)

		tt := time.Now()
		require.ErrorIs(t, guard.EnsureInitialized(t.Context()), errInit)

		// Attempts end at 3s, 6s, 9s and 12s; the restart at 9s is the last
		// one inside the window.
		require.Equal(t, calls.Load(), int32(4))
		require.Equal(t, time.Since(tt), 12*time.Second)
	})
}

func TestEnsureInitializedRetryInterval(t *testing.T) {
	run(t, "Delays restart of fast failures", func(t *testing.T) {
		var calls atomic.Int32
		guard, _ := New(
			failFirst(1, 0, &calls),
			WithRetryWindow(time.Minute),
			WithRetryInterval(5*time.Second),
		)

		tt := time.Now()
		require.Nil(t, guard.EnsureInitialized(t.Context()))

		require.Equal(t, calls.Load(), int32(2))
		require.Equal(t, time.Since(tt), 5*time.Second)
	})

	run(t, "Counts attempt duration towards the interval", func(t *testing.T) {
		var calls atomic.Int32
		guard, _ := New(
			failFirst(1, 2*time.Second, &calls),
			WithRetryWindow(time.Minute),
			WithRetryInterval(5*time.Second),
		)

		tt := time.Now()
		require.Nil(t, guard.EnsureInitialized(t.Context()))

		// First attempt runs 0s-2s, restart is delayed until 5s, second
		// attempt runs 5s-7s.
		require.Equal(t, calls.Load(), int32(2))
		require.Equal(t, time.Since(tt), 7*time.Second)
	})
}

func TestEnsureInitializedAbandonedWait(t *testing.T) {
	run(t, "Attempt survives its caller", func(t *testing.T) {
		var calls atomic.Int32
		guard, _ := New(failFirst(0, 10*time.Second, &calls))

		ctx, cancel := context.WithTimeout(t.Context(), time.Second)
		defer cancel()

		require.ErrorIs(t, guard.EnsureInitialized(ctx), context.DeadlineExceeded)
		require.Equal(t, guard.Initialized(), false)

		// The attempt started by the abandoned call keeps running and a
		// later call attaches to it instead of starting a new one.
		require.Nil(t, guard.EnsureInitialized(t.Context()))
		require.Equal(t, calls.Load(), int32(1))
	})
}

func TestClose(t *testing.T) {
	run(t, "Fails fast after close", func(t *testing.T) {
		guard, _ := New(func() error { return nil })

		require.Nil(t, guard.Close())
		require.ErrorIs(t, guard.EnsureInitialized(t.Context()), ErrClosed)
	})

	run(t, "Close twice", func(t *testing.T) {
		guard, _ := New(func() error { return nil })

		require.Nil(t, guard.Close())
		require.ErrorIs(t, guard.Close(), ErrClosed)
	})

	run(t, "Success outlives close", func(t *testing.T) {
		var calls atomic.Int32
		guard, _ := New(failFirst(0, 0, &calls))

		require.Nil(t, guard.EnsureInitialized(t.Context()))
		require.Nil(t, guard.Close())

		require.Nil(t, guard.EnsureInitialized(t.Context()))
		require.Equal(t, calls.Load(), int32(1))
	})
}
