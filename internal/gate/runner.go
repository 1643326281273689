// Package gate executes bounded verification commands and schedules
// independent gates in fixed-size concurrent waves.
package gate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/msageha/overseer/internal/docstore"
	"github.com/msageha/overseer/internal/model"
)

// excerptTail is how many trailing log lines a failure excerpt carries.
const excerptTail = 40

var failurePattern = regexp.MustCompile(`(?i)(error|fail|panic|timeout)`)

// Runner executes single gates, one log and one result file per gate.
type Runner struct {
	ArtifactsDir string
}

func NewRunner(artifactsDir string) *Runner {
	return &Runner{ArtifactsDir: artifactsDir}
}

// Run executes one gate under its timeout, capturing combined output to
// <name>.log and persisting <name>.result.json. A timeout or start failure
// is recorded as exit code -1.
func (r *Runner) Run(ctx context.Context, spec model.GateSpec) model.GateResult {
	logPath := filepath.Join(r.ArtifactsDir, spec.Name+".log")
	result := model.GateResult{
		Name:      spec.Name,
		LogPath:   logPath,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	}

	if len(spec.Command) == 0 {
		result.Outcome = model.GateFailed
		result.ExitCode = -1
		result.Excerpt = "gate has no command"
		r.persist(&result)
		return result
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	logFile, err := os.Create(logPath)
	if err != nil {
		result.Outcome = model.GateFailed
		result.ExitCode = -1
		result.Excerpt = fmt.Sprintf("create gate log: %v", err)
		r.persist(&result)
		return result
	}
	defer logFile.Close()

	start := time.Now()
	cmd := exec.CommandContext(runCtx, spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	runErr := cmd.Run()
	result.Elapsed = time.Since(start)

	switch {
	case runErr == nil:
		result.Outcome = model.GatePassed
		result.ExitCode = 0
	default:
		result.Outcome = model.GateFailed
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
		if runCtx.Err() == context.DeadlineExceeded {
			fmt.Fprintf(logFile, "\ngate %q timed out after %s\n", spec.Name, spec.Timeout)
			result.ExitCode = -1
		}
		result.Excerpt = Excerpt(logPath)
	}

	r.persist(&result)
	return result
}

func (r *Runner) persist(result *model.GateResult) {
	path := filepath.Join(r.ArtifactsDir, result.Name+".result.json")
	// A result that cannot be persisted must still be reported to the
	// caller, so the write error only lands in the excerpt.
	if err := docstore.Write(path, result); err != nil && result.Excerpt == "" {
		result.Excerpt = fmt.Sprintf("persist gate result: %v", err)
	}
}

// Excerpt returns the failure excerpt for a gate log: the last excerptTail
// lines plus any earlier lines matching the failure patterns.
func Excerpt(logPath string) string {
	data, err := os.ReadFile(logPath)
	if err != nil {
		return fmt.Sprintf("read gate log: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")

	tailStart := len(lines) - excerptTail
	if tailStart < 0 {
		tailStart = 0
	}

	var out []string
	for i, line := range lines[:tailStart] {
		if failurePattern.MatchString(line) {
			out = append(out, fmt.Sprintf("%d: %s", i+1, line))
		}
	}
	if len(out) > 0 {
		out = append(out, "...")
	}
	out = append(out, lines[tailStart:]...)
	return strings.Join(out, "\n")
}
