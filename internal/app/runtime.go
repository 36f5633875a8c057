package app

import "os"

const testModeEnv = "WARDEN_TEST_MODE"

// InTestMode reports whether WARDEN_TEST_MODE=1, in which case the binaries
// return before opening any connection.
func InTestMode() bool {
	return os.Getenv(testModeEnv) == "1"
}
