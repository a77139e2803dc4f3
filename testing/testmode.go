// Package testing forces ODYSSEY_TEST_MODE for test binaries that import it
// for side effects, so entrypoints skip connecting to Postgres and Redis.
package testing

import (
	"os"
	"sync"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("ODYSSEY_TEST_MODE", "1")
	})
}

func init() {
	ensureTestMode()
}
