package model

import "time"

// GateSpec describes one independently executable check.
type GateSpec struct {
	Name    string        `json:"name"`
	Command []string      `json:"command"`
	Timeout time.Duration `json:"timeout"`
	Dir     string        `json:"dir,omitempty"`
	Env     []string      `json:"env,omitempty"`
}

// GateResult is the recorded outcome of one gate run, persisted as
// <name>.result.json under the run's artifact directory.
type GateResult struct {
	Name      string        `json:"name"`
	Outcome   GateOutcome   `json:"outcome"`
	ExitCode  int           `json:"exit_code"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	LogPath   string        `json:"log_path"`
	Excerpt   string        `json:"excerpt,omitempty"`
	StartedAt string        `json:"started_at,omitempty"`
}

// Failed reports whether the gate executed and exited non-zero.
func (r GateResult) Failed() bool {
	return r.Outcome == GateFailed
}
