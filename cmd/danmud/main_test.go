package main

import (
	"io"
	"testing"
)

func TestRunOptionsPrefersFlagOverEnv(t *testing.T) {
	t.Setenv(envLogLevel, "warn")

	if got := runOptions("", false).LogLevel; got != "warn" {
		t.Fatalf("expected env log level, got %q", got)
	}
	if got := runOptions(" debug ", true); got.LogLevel != "debug" || !got.Development {
		t.Fatalf("expected flag to win, got %+v", got)
	}
}

func TestRootCommandRejectsArgs(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"extra"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected positional args to be rejected")
	}
}
