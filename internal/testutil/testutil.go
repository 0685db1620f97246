// Package testutil provides synthetic frames and environment helpers for
// tests across framescan.
package testutil

import (
	"os"
	"os/exec"
	"testing"
)

// RequireFile skips the test when path does not exist, for tests that
// need downloaded models or sample videos.
func RequireFile(t *testing.T, path string) {
	t.Helper()
	if !FileExists(path) {
		t.Skipf("%s not available", path)
	}
}

// RequireBinary skips the test when bin is not on the PATH.
func RequireBinary(t *testing.T, bin string) {
	t.Helper()
	if _, err := exec.LookPath(bin); err != nil {
		t.Skipf("%s not installed", bin)
	}
}

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o750)
}

// FileExists checks if a file exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}
