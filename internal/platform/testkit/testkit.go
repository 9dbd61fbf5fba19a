// Package testkit holds helpers shared by package tests: panic and output
// assertions plus archive and file fixtures
package testkit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// MustPanic fails unless fn panics and returns the recovered value rendered as text
func MustPanic(t *testing.T, fn func()) (msg string) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic, got none")
		}
		msg = fmt.Sprint(r)
	}()
	fn()
	return ""
}

// MustContain fails when needle is absent from out. The full output is kept
// under the test temp dir since log lines are often too long for the failure message
func MustContain(t *testing.T, out, needle string) {
	t.Helper()
	if strings.Contains(out, needle) {
		return
	}
	dump := filepath.Join(t.TempDir(), "output.txt")
	if err := os.WriteFile(dump, []byte(out), 0o600); err != nil {
		t.Fatalf("missing %q in output (%d bytes)", needle, len(out))
	}
	t.Fatalf("missing %q in output, full text in %s", needle, dump)
}
