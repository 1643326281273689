package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestContainsSentinel(t *testing.T) {
	tests := []struct {
		name       string
		transcript string
		want       bool
	}{
		{"exact line", "working...\nALL TASKS COMPLETE\n", true},
		{"surrounding whitespace trimmed", "  ALL TASKS COMPLETE  \n", true},
		{"embedded in a longer line", "note: ALL TASKS COMPLETE soon\n", false},
		{"ordinary output", "did some work\n", false},
		{"empty transcript", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "transcript")
			if err := os.WriteFile(path, []byte(tt.transcript), 0644); err != nil {
				t.Fatal(err)
			}
			got, err := ContainsSentinel(path, "ALL TASKS COMPLETE")
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExecutor_CompletionDetected(t *testing.T) {
	e := &Executor{
		Command:  "/bin/echo",
		Sentinel: "ALL TASKS COMPLETE",
	}
	path := filepath.Join(t.TempDir(), "transcript")
	res, err := e.Run(context.Background(), "ALL TASKS COMPLETE", path)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.ExitCode != 0 || !res.Complete {
		t.Errorf("result: %+v", res)
	}
}

func TestExecutor_NonZeroExitIsRecordedNotFatal(t *testing.T) {
	e := &Executor{
		Command:  "/bin/sh",
		Args:     []string{"-c", "echo partial work; exit 2; echo unused"},
		Sentinel: "ALL TASKS COMPLETE",
	}
	path := filepath.Join(t.TempDir(), "transcript")
	res, err := e.Run(context.Background(), "ignored", path)
	if err != nil {
		t.Fatalf("Run must not fail on agent non-zero exit: %v", err)
	}
	if res.ExitCode != 2 || res.Complete {
		t.Errorf("result: %+v", res)
	}
}

func TestExecutor_MissingBinaryIsAnError(t *testing.T) {
	e := &Executor{
		Command:  "/definitely/not/a/binary",
		Sentinel: "X",
	}
	path := filepath.Join(t.TempDir(), "transcript")
	if _, err := e.Run(context.Background(), "p", path); err == nil {
		t.Fatal("expected error for unstartable agent")
	}
}

func TestExecutor_PromptFlagPlacement(t *testing.T) {
	// The prompt must arrive as the final argument after the flag.
	e := &Executor{
		Command:    "/bin/sh",
		Args:       []string{"-c", `printf '%s\n' "$2"`, "sh"},
		PromptFlag: "--task",
		Sentinel:   "unused",
	}
	path := filepath.Join(t.TempDir(), "transcript")
	if _, err := e.Run(context.Background(), "the generated task", path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "the generated task\n" {
		t.Errorf("transcript: %q", data)
	}
}
