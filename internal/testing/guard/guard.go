// Package guard forces test mode for any test binary that imports it, so
// entrypoints return before dialing Postgres, Redis or Gotenberg.
package guard

import (
	"os"
	"sync"
)

const testModeEnv = "VALET_TEST_MODE"

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(testModeEnv) == "" {
			_ = os.Setenv(testModeEnv, "1")
		}
		if os.Getenv("GOTENBERG_URL") == "" {
			_ = os.Setenv("GOTENBERG_URL", "http://127.0.0.1:0")
		}
	})
}
