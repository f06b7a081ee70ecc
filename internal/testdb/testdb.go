// Package testdb locates the PostgreSQL database used by integration tests.
// Tests that need it call DatabaseURL, which skips them when no database is
// configured locally and fails them in CI, where one is always expected.
package testdb

import (
	"os"
	"testing"
)

// Environment variables checked for a test database, in order.
const (
	EnvTestDatabaseURL = "TASKQ_TEST_DATABASE_URL"
	EnvDatabaseURL     = "DATABASE_URL"
)

// ciVariables are set by common CI providers.
var ciVariables = []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "CIRCLECI"}

// IsCI reports whether the tests run under a CI provider.
func IsCI() bool {
	for _, name := range ciVariables {
		if os.Getenv(name) != "" {
			return true
		}
	}
	return false
}

// LookupURL returns the first non-empty database URL from the environment.
func LookupURL() (string, bool) {
	for _, name := range []string{EnvTestDatabaseURL, EnvDatabaseURL} {
		if v := os.Getenv(name); v != "" {
			return v, true
		}
	}
	return "", false
}

// DatabaseURL returns the test database URL or ends the test: skipped
// locally, failed in CI.
func DatabaseURL(t testing.TB) string {
	t.Helper()

	url, ok := LookupURL()
	if ok {
		return url
	}
	if IsCI() {
		t.Fatalf("%s must be set in CI", EnvTestDatabaseURL)
	}
	t.Skipf("%s not set, skipping database test", EnvTestDatabaseURL)
	return ""
}
