package app

import (
	"os"
	"sync/atomic"
)

const testModeEnv = "GATEHOUSE_TEST_MODE"

var testMode atomic.Pointer[bool]

// InTestMode reports whether the binary runs under the test harness and
// should skip runtime side effects such as opening listeners.
func InTestMode() bool {
	if v := testMode.Load(); v != nil {
		return *v
	}
	v := os.Getenv(testModeEnv) == "1"
	testMode.Store(&v)
	return v
}

// RefreshTestMode re-reads the flag after the environment changes.
func RefreshTestMode() {
	v := os.Getenv(testModeEnv) == "1"
	testMode.Store(&v)
}
