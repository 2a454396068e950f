package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func TestRun_FormatterErrorsAreNotReprinted(t *testing.T) {
	var stderr bytes.Buffer

	code := run([]string{"compile", filepath.Join(t.TempDir(), "nope.cue")}, &stderr)

	if code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
	if stderr.Len() != 0 {
		t.Errorf("stderr = %q, want empty: the command already rendered its error", stderr.String())
	}
}

func TestRun_CobraErrorsReachStderrOnce(t *testing.T) {
	var stderr bytes.Buffer

	code := run([]string{"no-such-command"}, &stderr)

	if code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
	if got := strings.Count(stderr.String(), "unknown command"); got != 1 {
		t.Errorf("stderr mentions the error %d time(s), want exactly once: %q", got, stderr.String())
	}
}

func TestRun_SuccessIsExitZero(t *testing.T) {
	var stderr bytes.Buffer

	code := run([]string{"--help"}, &stderr)

	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if stderr.Len() != 0 {
		t.Errorf("stderr = %q, want empty", stderr.String())
	}
}
