package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/msageha/overseer/internal/agent"
	"github.com/msageha/overseer/internal/backlog"
	"github.com/msageha/overseer/internal/controller"
	"github.com/msageha/overseer/internal/gitx"
	"github.com/msageha/overseer/internal/lock"
	"github.com/msageha/overseer/internal/model"
	"github.com/msageha/overseer/internal/probe"
	"github.com/msageha/overseer/internal/ratelimit"
	"github.com/msageha/overseer/internal/verify"
)

const version = "0.3.0"

// Exit codes. Completed and deliberate blocks are both successful halts;
// only fatal conditions are non-zero so wrapping automation stops.
const (
	exitOK           = 0
	exitUsage        = 1
	exitPrecondition = 2
	exitVerifyFatal  = 3
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitUsage)
	}

	switch os.Args[1] {
	case "run":
		runLoop(os.Args[2:])
	case "verify":
		runVerify(os.Args[2:])
	case "lint":
		runLint()
	case "workflow-check":
		runWorkflowCheck(os.Args[2:])
	case "version":
		fmt.Printf("overseer %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(exitUsage)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `usage: overseer <command>

commands:
  run <max-iterations>     drive the agent loop for up to N iterations
  verify <quick|full>      run the verification gate pipeline
  lint                     validate the backlog document
  workflow-check [--strict] validate workflow-defining files
  version                  print version

All configuration beyond the iteration budget comes from
.overseer/config.yaml and OVERSEER_* environment variables.
`)
}

func runLoop(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: overseer run <max-iterations>")
		os.Exit(exitUsage)
	}
	budget, err := strconv.Atoi(args[0])
	if err != nil || budget < 1 {
		fmt.Fprintf(os.Stderr, "invalid iteration budget %q\n", args[0])
		os.Exit(exitUsage)
	}

	workdir, err := os.Getwd()
	if err != nil {
		fatal(exitPrecondition, "resolve working directory: %v", err)
	}
	cfg, err := model.LoadConfig(workdir)
	if err != nil {
		fatal(exitPrecondition, "load config: %v", err)
	}

	logger, closeLog := newLogger(workdir, "controller")
	defer closeLog()

	fl := lock.NewFileLock(filepath.Join(workdir, ".overseer", "locks", "run.lock"))
	if err := fl.TryLock(); err != nil {
		fatal(exitPrecondition, "%v", err)
	}
	defer func() { _ = fl.Unlock() }()

	entrypoint := entrypointCommand(cfg)
	if err := checkTools(cfg, entrypoint); err != nil {
		fatal(exitPrecondition, "%v", err)
	}

	ctrl := controller.New(controller.Deps{
		Workdir: workdir,
		Config:  cfg,
		Backlog: backlog.NewStore(filepath.Join(workdir, ".overseer", "backlog.json")),
		Repo:    gitx.New(workdir),
		Verifier: &controller.EntrypointVerifier{
			Command: entrypoint,
			Dir:     workdir,
		},
		Agent: &agent.Executor{
			Command:    cfg.Agent.Command,
			Args:       cfg.Agent.Args,
			PromptFlag: cfg.Agent.PromptFlag,
			Sentinel:   cfg.Agent.Sentinel,
			Timeout:    time.Duration(cfg.Agent.TimeoutSec) * time.Second,
			Dir:        workdir,
		},
		Limiter: ratelimit.New(
			filepath.Join(workdir, ".overseer", "state", "ratelimit.json"),
			cfg.RateLimit.PerHour),
		StatePath: filepath.Join(workdir, ".overseer", "state", "iteration.json"),
		Logger:    logger,
	})

	res, err := ctrl.Run(context.Background(), budget)
	if err != nil {
		var pre *controller.PreconditionError
		var vf *controller.VerifyFatalError
		switch {
		case errors.As(err, &pre):
			fatal(exitPrecondition, "%v", err)
		case errors.As(err, &vf):
			fatal(exitVerifyFatal, "%v", err)
		default:
			fatal(exitPrecondition, "%v", err)
		}
	}
	fmt.Printf("%s after %d iteration(s): %s\n", res.Outcome, res.Iterations, res.Message)
	os.Exit(exitOK)
}

func runVerify(args []string) {
	level := ""
	if len(args) > 0 {
		level = args[0]
	}

	workdir, err := os.Getwd()
	if err != nil {
		fatal(exitUsage, "resolve working directory: %v", err)
	}
	cfg, err := model.LoadConfig(workdir)
	if err != nil {
		fatal(exitUsage, "load config: %v", err)
	}
	if level == "" {
		level = cfg.Verify.Level
	}
	if level != "quick" && level != "full" {
		fmt.Fprintf(os.Stderr, "usage: overseer verify <quick|full>\n")
		os.Exit(exitUsage)
	}

	logger, closeLog := newLogger(workdir, "verify")
	defer closeLog()

	orch := &verify.Orchestrator{
		Workdir: workdir,
		Config:  cfg.Verify,
		Repo:    gitx.New(workdir),
		Probe:   probe.NewHost(),
		Logger:  logger,
	}
	report, err := orch.Run(context.Background(), level)
	if err != nil {
		fatal(exitUsage, "verification pipeline: %v", err)
	}
	if report.Passed() {
		fmt.Printf("PASS (%s): artifacts in %s\n", level, report.ArtifactsDir)
		os.Exit(exitOK)
	}
	fmt.Printf("FAIL (%s): first failing gate %s, artifacts in %s\n",
		level, report.First.Name, report.ArtifactsDir)
	os.Exit(1)
}

func runLint() {
	workdir, err := os.Getwd()
	if err != nil {
		fatal(exitUsage, "resolve working directory: %v", err)
	}
	store := backlog.NewStore(filepath.Join(workdir, ".overseer", "backlog.json"))
	b, err := store.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "backlog: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("backlog ok: %d items\n", len(b.Items))
}

func runWorkflowCheck(args []string) {
	strict := false
	for _, a := range args {
		if a == "--strict" {
			strict = true
		}
	}
	workdir, err := os.Getwd()
	if err != nil {
		fatal(exitUsage, "resolve working directory: %v", err)
	}
	if err := verify.CheckWorkflows(workdir, strict); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	fmt.Println("workflows ok")
}

// entrypointCommand resolves the canonical verification entrypoint argv.
// Default is this binary's own verify command.
func entrypointCommand(cfg model.Config) []string {
	if cfg.Verify.Entrypoint != "" {
		return strings.Fields(cfg.Verify.Entrypoint)
	}
	exe, err := os.Executable()
	if err != nil {
		exe = "overseer"
	}
	return []string{exe, "verify"}
}

// checkTools resolves every external command before the loop starts:
// missing tools are a fatal precondition, not a mid-iteration surprise.
func checkTools(cfg model.Config, entrypoint []string) error {
	if _, err := exec.LookPath("git"); err != nil {
		return fmt.Errorf("required tool git not found: %w", err)
	}
	if !cfg.Loop.DryRun {
		if _, err := exec.LookPath(cfg.Agent.Command); err != nil {
			return fmt.Errorf("agent command %q not found: %w", cfg.Agent.Command, err)
		}
	}
	if len(entrypoint) > 0 {
		if _, err := exec.LookPath(entrypoint[0]); err != nil {
			return fmt.Errorf("verification entrypoint %q not found: %w", entrypoint[0], err)
		}
	}
	return nil
}

func newLogger(workdir, name string) (*log.Logger, func()) {
	logDir := filepath.Join(workdir, ".overseer", "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return log.New(os.Stderr, "", log.LstdFlags), func() {}
	}
	f, err := os.OpenFile(filepath.Join(logDir, name+".log"),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return log.New(os.Stderr, "", log.LstdFlags), func() {}
	}
	return log.New(io.MultiWriter(f, os.Stderr), "", log.LstdFlags), func() { _ = f.Close() }
}

func fatal(code int, format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(code)
}
