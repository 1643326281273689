package verify

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/msageha/overseer/internal/gate"
	"github.com/msageha/overseer/internal/gitx"
	"github.com/msageha/overseer/internal/model"
	"github.com/msageha/overseer/internal/probe"
)

// stackDef describes one technology namespace: the marker file that
// enables it and the path predicate that makes a change relevant to it.
type stackDef struct {
	name     string
	markers  []string
	relevant func(path string) bool
}

var stackDefs = []stackDef{
	{
		name:    "go",
		markers: []string{"go.mod"},
		relevant: func(p string) bool {
			return strings.HasSuffix(p, ".go") || filepath.Base(p) == "go.mod" || filepath.Base(p) == "go.sum"
		},
	},
	{
		name:    "rust",
		markers: []string{"Cargo.toml"},
		relevant: func(p string) bool {
			return strings.HasSuffix(p, ".rs") || filepath.Base(p) == "Cargo.toml" || filepath.Base(p) == "Cargo.lock"
		},
	},
	{
		name:    "python",
		markers: []string{"pyproject.toml", "setup.py"},
		relevant: func(p string) bool {
			return strings.HasSuffix(p, ".py") || filepath.Base(p) == "pyproject.toml"
		},
	},
	{
		name:    "node",
		markers: []string{"package.json"},
		relevant: func(p string) bool {
			return strings.HasSuffix(p, ".js") || strings.HasSuffix(p, ".ts") || filepath.Base(p) == "package.json"
		},
	},
}

// detectStacks returns the stacks whose marker files exist under workdir.
func detectStacks(workdir string) []stackDef {
	var found []stackDef
	for _, def := range stackDefs {
		for _, marker := range def.markers {
			if _, err := os.Stat(filepath.Join(workdir, marker)); err == nil {
				found = append(found, def)
				break
			}
		}
	}
	return found
}

// runStacks executes the stack test gates. The whole phase is skipped when
// change detection is available and no changed path is relevant to any
// detected stack. With two or more enabled stacks and enough resources the
// stacks run as concurrent processes, each with a fair core share;
// otherwise they run sequentially.
func (o *Orchestrator) runStacks(ctx context.Context, runner *gate.Runner, changes gitx.Changes) ([]model.GateResult, error) {
	detected := detectStacks(o.Workdir)
	if len(detected) == 0 {
		o.logf("no stack markers detected: stack gates skipped")
		return nil, nil
	}

	var enabled []stackDef
	for _, def := range detected {
		if changes.Relevant(def.relevant) {
			enabled = append(enabled, def)
		}
	}
	if len(enabled) == 0 {
		o.logf("stack gates skipped: no changed paths relevant to %d detected stacks", len(detected))
		var skipped []model.GateResult
		for _, def := range detected {
			skipped = append(skipped, model.GateResult{
				Name:    "stack-" + def.name,
				Outcome: model.GateSkipped,
			})
		}
		return skipped, nil
	}

	decision := probe.Decide(o.Probe, len(enabled), o.Config.MinCores, o.Config.MinMemoryMB)
	concurrency := 1
	if decision.Parallel {
		concurrency = len(enabled)
	}
	o.logf("running %d stack gates (parallel=%v, workers per stack=%d)",
		len(enabled), decision.Parallel, decision.WorkersPerStack)

	timeout := time.Duration(o.Config.GateTimeout) * time.Second
	var specs []model.GateSpec
	for _, def := range enabled {
		command := o.stackCommand(def.name, decision.WorkersPerStack)
		if len(command) == 0 {
			continue
		}
		specs = append(specs, model.GateSpec{
			Name:    "stack-" + def.name,
			Command: command,
			Timeout: timeout,
			Dir:     o.Workdir,
			Env:     []string{"STACK_WORKERS=" + strconv.Itoa(decision.WorkersPerStack)},
		})
	}
	return gate.RunWave(ctx, runner, specs, concurrency), nil
}

// stackCommand resolves the configured command for one stack, expanding
// the {workers} placeholder.
func (o *Orchestrator) stackCommand(name string, workers int) []string {
	template, ok := o.Config.StackCommands[name]
	if !ok {
		return nil
	}
	out := make([]string, len(template))
	for i, arg := range template {
		out[i] = strings.ReplaceAll(arg, "{workers}", strconv.Itoa(workers))
	}
	return out
}
