package sqlstore_test

import (
	"testing"
	"time"

	"github.com/KnicKnic/lazyinit/internal/testing/require"
	"github.com/KnicKnic/lazyinit/sqlstore"
)

func TestConfigOptions(t *testing.T) {
	require.PanicWithError(t, "busy timeout can't be < 0", func() {
		_ = sqlstore.WithBusyTimeout(-time.Second)
	})

	require.PanicWithError(t, "setup retry window can't be < 0", func() {
		_ = sqlstore.WithSetupRetryWindow(-time.Second)
	})

	require.PanicWithError(t, "setup retry interval can't be < 0", func() {
		_ = sqlstore.WithSetupRetryInterval(-time.Second)
	})
}
