package app

import (
	"os"
	"sync"
)

// TestModeEnv, when "1", makes the binaries return before opening stores,
// listeners or queues. The testing package sets it for every test binary.
const TestModeEnv = "ODYSSEY_TEST_MODE"

var testMode = sync.OnceValue(func() bool {
	return os.Getenv(TestModeEnv) == "1"
})

// InTestMode reports whether the binaries should skip runtime side effects.
func InTestMode() bool {
	return testMode()
}
