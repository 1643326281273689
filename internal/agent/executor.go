// Package agent invokes the external code-generation agent as an opaque
// subprocess. The only structured output the agent has is one literal
// completion sentinel line; everything else is log text.
package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Result is the outcome of one agent invocation.
type Result struct {
	ExitCode       int
	TranscriptPath string
	Complete       bool
	Elapsed        time.Duration
}

// Runner invokes the agent. The controller depends on this interface so
// tests can substitute a scripted agent.
type Runner interface {
	Run(ctx context.Context, prompt, transcriptPath string) (Result, error)
}

// Executor runs the configured agent command:
//
//	<command> <args...> [<prompt-flag>] <prompt>
type Executor struct {
	Command    string
	Args       []string
	PromptFlag string
	Sentinel   string
	Timeout    time.Duration
	Dir        string
}

// Run invokes the agent once, streaming the combined transcript to
// transcriptPath, then parses it for the completion sentinel. A non-zero
// agent exit is recorded, not fatal: the transcript is still scanned and
// non-completion is the verdict either way.
func (e *Executor) Run(ctx context.Context, prompt, transcriptPath string) (Result, error) {
	args := append([]string(nil), e.Args...)
	if e.PromptFlag != "" {
		args = append(args, e.PromptFlag)
	}
	args = append(args, prompt)

	runCtx := ctx
	var cancel context.CancelFunc
	if e.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	transcript, err := os.Create(transcriptPath)
	if err != nil {
		return Result{}, fmt.Errorf("create transcript: %w", err)
	}
	defer transcript.Close()

	start := time.Now()
	cmd := exec.CommandContext(runCtx, e.Command, args...)
	cmd.Dir = e.Dir
	cmd.Stdout = transcript
	cmd.Stderr = transcript

	runErr := cmd.Run()
	result := Result{
		TranscriptPath: transcriptPath,
		Elapsed:        time.Since(start),
	}
	switch {
	case runErr == nil:
		result.ExitCode = 0
	default:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			// Could not start at all: missing binary is a precondition
			// failure the caller must surface.
			return result, fmt.Errorf("run agent %s: %w", e.Command, runErr)
		}
	}

	complete, err := ContainsSentinel(transcriptPath, e.Sentinel)
	if err != nil {
		return result, err
	}
	result.Complete = complete
	return result, nil
}

// ContainsSentinel reports whether any line of the transcript, trimmed of
// surrounding whitespace, equals the sentinel exactly. No output and
// ordinary non-sentinel output are both "not complete"; nothing else in
// the transcript is interpreted.
func ContainsSentinel(transcriptPath, sentinel string) (bool, error) {
	f, err := os.Open(transcriptPath)
	if err != nil {
		return false, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == sentinel {
			return true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("scan transcript: %w", err)
	}
	return false, nil
}
