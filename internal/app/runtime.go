package app

import (
	"os"
	"strconv"
	"sync/atomic"
)

// testModeEnv switches the binaries into a mode that builds nothing with
// side effects: no database, Redis or listener.
const testModeEnv = "ODYSSEY_TEST_MODE"

var testMode atomic.Pointer[bool]

// InTestMode reports whether ODYSSEY_TEST_MODE is set to a true value. The
// variable is read once; call RefreshTestMode after changing it.
func InTestMode() bool {
	if v := testMode.Load(); v != nil {
		return *v
	}
	return RefreshTestMode()
}

// RefreshTestMode re-reads ODYSSEY_TEST_MODE and returns the new value.
func RefreshTestMode() bool {
	on, err := strconv.ParseBool(os.Getenv(testModeEnv))
	on = err == nil && on
	testMode.Store(&on)
	return on
}
