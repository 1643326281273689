package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// EntrypointVerifier invokes the canonical verification entrypoint as a
// subprocess: <entrypoint> <quick|full>. The exit code is the whole
// contract; everything else lands in the log file.
type EntrypointVerifier struct {
	Command []string
	Dir     string
}

func (v *EntrypointVerifier) Verify(ctx context.Context, level, logPath string) (int, error) {
	if len(v.Command) == 0 {
		return 0, fmt.Errorf("no verification entrypoint configured")
	}
	logFile, err := os.Create(logPath)
	if err != nil {
		return 0, fmt.Errorf("create verify log: %w", err)
	}
	defer logFile.Close()

	args := append(append([]string(nil), v.Command[1:]...), level)
	cmd := exec.CommandContext(ctx, v.Command[0], args...)
	cmd.Dir = v.Dir
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	runErr := cmd.Run()
	if runErr == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return 0, fmt.Errorf("run %s: %w", v.Command[0], runErr)
}
