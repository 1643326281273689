// Package verify composes the graded verification pipeline: sanity, change
// detection, lint gates, stack test gates, optional heavy gates, and the
// workflow acceptance gate. The controller consumes it through a single
// pass/fail verdict plus an artifact directory.
package verify

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/msageha/overseer/internal/gate"
	"github.com/msageha/overseer/internal/gitx"
	"github.com/msageha/overseer/internal/model"
	"github.com/msageha/overseer/internal/probe"
)

// FirstFailureSentinel is the artifact naming the first failing gate.
const FirstFailureSentinel = "FIRST_FAILURE"

// Orchestrator runs one graded verification pass over a working tree.
type Orchestrator struct {
	Workdir string
	Config  model.VerifyConfig
	Repo    gitx.Repo
	Probe   probe.Probe
	Logger  *log.Logger
	// SelfCmd is the argv prefix for internal gates (backlog lint,
	// workflow check); defaults to the running executable.
	SelfCmd []string
}

// Report is the outcome of one verification run.
type Report struct {
	Level        string
	ArtifactsDir string
	Results      []model.GateResult
	First        *model.GateResult
	Quiet        bool
}

// Passed reports whether every executed gate passed.
func (r Report) Passed() bool {
	return r.First == nil
}

// Run executes the pipeline at the given strictness level. An error return
// means the pipeline itself could not run (sanity failure); gate failures
// come back inside the report.
func (o *Orchestrator) Run(ctx context.Context, level string) (Report, error) {
	report := Report{Level: level}

	// Phase 1: sanity.
	artifacts := filepath.Join(o.Workdir, ".overseer", "artifacts",
		fmt.Sprintf("verify-%s", time.Now().UTC().Format("20060102-150405.000")))
	if err := os.MkdirAll(artifacts, 0755); err != nil {
		return report, fmt.Errorf("create artifact dir: %w", err)
	}
	report.ArtifactsDir = artifacts
	report.Quiet = o.consoleQuiet()

	if err := o.sanity(ctx, level); err != nil {
		return report, err
	}

	// Phase 2: change detection. Unresolvable base means every skip
	// decision below defaults to "run everything".
	changes, err := o.Repo.ChangedPaths(ctx, o.Config.BaseRef)
	if err != nil {
		changes = gitx.Changes{Available: false}
	}
	if !changes.Available {
		o.logf("change detection unavailable (base %q): running everything", o.Config.BaseRef)
	}

	runner := gate.NewRunner(artifacts)

	// Phase 3: lint wave.
	report.Results = append(report.Results,
		gate.RunWave(ctx, runner, o.lintSpecs(), o.Config.MaxWave)...)
	if first := gate.FirstFailure(report.Results); first != nil {
		return o.finish(report, first), nil
	}

	// Phase 4: stack test gates.
	stackResults, err := o.runStacks(ctx, runner, changes)
	if err != nil {
		return report, err
	}
	report.Results = append(report.Results, stackResults...)
	if first := gate.FirstFailure(report.Results); first != nil {
		return o.finish(report, first), nil
	}

	// Phase 5: optional heavy gates.
	report.Results = append(report.Results,
		gate.RunWave(ctx, runner, o.heavySpecs(), 1)...)
	if first := gate.FirstFailure(report.Results); first != nil {
		return o.finish(report, first), nil
	}

	// Phase 6: workflow acceptance.
	if spec, ok := o.workflowSpec(changes); ok {
		report.Results = append(report.Results, runner.Run(ctx, spec))
	} else {
		o.logf("workflow acceptance gate skipped: no workflow paths changed")
		report.Results = append(report.Results,
			model.GateResult{Name: "workflow-accept", Outcome: model.GateSkipped})
	}

	return o.finish(report, gate.FirstFailure(report.Results)), nil
}

// sanity checks tree cleanliness policy and required tools.
func (o *Orchestrator) sanity(ctx context.Context, level string) error {
	if _, err := exec.LookPath("git"); err != nil {
		return fmt.Errorf("required tool git not found: %w", err)
	}
	backlogPath := filepath.Join(o.Workdir, ".overseer", "backlog.json")
	if _, err := os.Stat(backlogPath); err != nil {
		return fmt.Errorf("required artifact %s: %w", backlogPath, err)
	}
	if level == "full" && !o.Config.AllowDirty {
		dirty, err := o.Repo.IsDirty(ctx)
		if err != nil {
			return fmt.Errorf("check working tree: %w", err)
		}
		if dirty {
			return fmt.Errorf("working tree is dirty; full verification requires a clean tree")
		}
	}
	return nil
}

func (o *Orchestrator) finish(report Report, first *model.GateResult) Report {
	report.First = first
	if first != nil {
		sentinel := filepath.Join(report.ArtifactsDir, FirstFailureSentinel)
		content := fmt.Sprintf("%s exit=%d log=%s\n", first.Name, first.ExitCode, first.LogPath)
		if err := os.WriteFile(sentinel, []byte(content), 0644); err != nil {
			o.logf("write first-failure sentinel: %v", err)
		}
		if report.Quiet && first.Outcome == model.GateFailed {
			o.logf("gate %s failed (exit %d):\n%s", first.Name, first.ExitCode, gate.Excerpt(first.LogPath))
		}
	}
	return report
}

// consoleQuiet resolves the console mode: quiet when unattended (CI or no
// terminal), verbose when interactive, either overridable by config.
func (o *Orchestrator) consoleQuiet() bool {
	switch o.Config.ConsoleMode {
	case "quiet":
		return true
	case "verbose":
		return false
	}
	if os.Getenv("CI") != "" {
		return true
	}
	fi, err := os.Stdout.Stat()
	if err != nil {
		return true
	}
	return fi.Mode()&os.ModeCharDevice == 0
}

func (o *Orchestrator) lintSpecs() []model.GateSpec {
	timeout := time.Duration(o.Config.GateTimeout) * time.Second
	specs := []model.GateSpec{
		{
			Name:    "backlog-lint",
			Command: append(o.selfCmd(), "lint"),
			Timeout: timeout,
			Dir:     o.Workdir,
		},
	}
	for _, g := range o.Config.LintGates {
		specs = append(specs, model.GateSpec{
			Name:    g.Name,
			Command: g.Command,
			Timeout: timeout,
			Dir:     o.Workdir,
		})
	}
	return specs
}

func (o *Orchestrator) heavySpecs() []model.GateSpec {
	timeout := time.Duration(o.Config.GateTimeout) * time.Second
	var specs []model.GateSpec
	add := func(name string, requested bool, command []string) {
		if !requested || len(command) == 0 {
			o.logf("heavy gate %s skipped: not requested", name)
			return
		}
		specs = append(specs, model.GateSpec{
			Name:    name,
			Command: command,
			Timeout: timeout,
			Dir:     o.Workdir,
		})
	}
	add("smoke", o.Config.RunSmoke, o.Config.SmokeCommand)
	add("e2e", o.Config.RunE2E, o.Config.E2ECommand)
	add("certify", o.Config.RunCertify, o.Config.CertifyCommand)
	return specs
}

// workflowSpec decides whether the workflow acceptance gate runs: always
// in CI, when changed paths intersect the workflow allow-list, or when
// change detection is unavailable. Strict mode applies when the
// workflow-defining files themselves changed (or might have).
func (o *Orchestrator) workflowSpec(changes gitx.Changes) (model.GateSpec, bool) {
	workflowChanged := changes.Relevant(func(p string) bool {
		for _, prefix := range o.Config.WorkflowList {
			if strings.HasPrefix(p, prefix) || p == strings.TrimSuffix(prefix, "/") {
				return true
			}
		}
		return false
	})
	inCI := os.Getenv("CI") != ""
	if !inCI && !workflowChanged {
		return model.GateSpec{}, false
	}

	cmd := append(o.selfCmd(), "workflow-check")
	if workflowChanged {
		cmd = append(cmd, "--strict")
	}
	return model.GateSpec{
		Name:    "workflow-accept",
		Command: cmd,
		Timeout: time.Duration(o.Config.GateTimeout) * time.Second,
		Dir:     o.Workdir,
	}, true
}

func (o *Orchestrator) selfCmd() []string {
	if len(o.SelfCmd) > 0 {
		return append([]string(nil), o.SelfCmd...)
	}
	exe, err := os.Executable()
	if err != nil {
		exe = "overseer"
	}
	return []string{exe}
}

func (o *Orchestrator) logf(format string, args ...any) {
	if o.Logger != nil {
		o.Logger.Printf(format, args...)
	}
}
