// Package testing flags the process as a test run so binaries entered through
// TestMain skip runtime side effects. Test packages blank-import it.
package testing

import (
	"os"
	stdtesting "testing"
)

func init() {
	_ = os.Setenv("GATEHOUSE_TEST_MODE", "1")
}

// TestMain keeps the flag set for packages that route through this helper.
func TestMain(m *stdtesting.M) {
	_ = os.Setenv("GATEHOUSE_TEST_MODE", "1")
	os.Exit(m.Run())
}
