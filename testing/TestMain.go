// Package testing switches the process into test mode when imported by tests.
package testing

import "os"

const testSecret = "test-secret-test-secret-test-secret!"

func init() {
	setDefault("WARDEN_TEST_MODE", "1")
	setDefault("JWT_SECRET", testSecret)
}

func setDefault(key, value string) {
	if os.Getenv(key) == "" {
		_ = os.Setenv(key, value)
	}
}
