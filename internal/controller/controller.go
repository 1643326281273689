// Package controller implements the top-level iteration loop: one work
// item per iteration, strict safety gating around the external agent, and
// fail-closed halts with a persisted explanation.
package controller

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/msageha/overseer/internal/agent"
	"github.com/msageha/overseer/internal/backlog"
	"github.com/msageha/overseer/internal/breaker"
	"github.com/msageha/overseer/internal/docstore"
	"github.com/msageha/overseer/internal/gitx"
	"github.com/msageha/overseer/internal/model"
	"github.com/msageha/overseer/internal/ratelimit"
)

// Outcome is a terminal state of the loop. Completed, Blocked, and
// Stopped are all successful halts; fatal conditions surface as errors.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeBlocked   Outcome = "blocked"
	OutcomeStopped   Outcome = "stopped"
)

// PreconditionError is fatal before any backlog mutation: missing tool,
// malformed backlog, dirty tree, held lock.
type PreconditionError struct {
	Err error
}

func (e *PreconditionError) Error() string { return "precondition: " + e.Err.Error() }
func (e *PreconditionError) Unwrap() error { return e.Err }

// VerifyFatalError is an unrecoverable verification failure: a red
// baseline that self-heal could not clear, or a red post-verify with
// healing disabled.
type VerifyFatalError struct {
	Err error
}

func (e *VerifyFatalError) Error() string { return "verification: " + e.Err.Error() }
func (e *VerifyFatalError) Unwrap() error { return e.Err }

// VerifyRunner is the orchestrator as the controller sees it: one blocking
// call whose sole contract surface is an exit code plus a log file.
type VerifyRunner interface {
	Verify(ctx context.Context, level, logPath string) (int, error)
}

// Deps wires the controller's collaborators. Tests substitute fakes.
type Deps struct {
	Workdir   string
	Config    model.Config
	Backlog   *backlog.Store
	Repo      gitx.Repo
	Verifier  VerifyRunner
	Agent     agent.Runner
	Limiter   *ratelimit.Limiter
	StatePath string
	Logger    *log.Logger
}

// Controller drives the loop. It is the sole writer of the iteration
// state document and the only component that ever mutates the backlog.
type Controller struct {
	workdir   string
	cfg       model.Config
	backlog   *backlog.Store
	repo      gitx.Repo
	verifier  VerifyRunner
	agent     agent.Runner
	limiter   *ratelimit.Limiter
	breaker   *breaker.Breaker
	statePath string
	logger    *log.Logger
}

// RunResult is the loop's terminal report.
type RunResult struct {
	Outcome    Outcome
	Message    string
	Iterations int
}

func New(deps Deps) *Controller {
	return &Controller{
		workdir:   deps.Workdir,
		cfg:       deps.Config,
		backlog:   deps.Backlog,
		repo:      deps.Repo,
		verifier:  deps.Verifier,
		agent:     deps.Agent,
		limiter:   deps.Limiter,
		breaker:   breaker.New(deps.Config.Breaker),
		statePath: deps.StatePath,
		logger:    deps.Logger,
	}
}

// canonicalVerify is the verification entrypoint every runnable work item
// must list in its verify_requirements.
func (c *Controller) canonicalVerify() string {
	if c.cfg.Verify.Entrypoint != "" {
		return c.cfg.Verify.Entrypoint
	}
	return "overseer verify"
}

// Run executes up to maxIterations iterations. Every halt path prints one
// human-readable reason through the logger before returning.
func (c *Controller) Run(ctx context.Context, maxIterations int) (RunResult, error) {
	if err := c.preflight(ctx); err != nil {
		return RunResult{}, err
	}

	sw, err := newStopWatcher(filepath.Join(c.workdir, ".overseer"))
	if err != nil {
		c.logf("stop watcher unavailable: %v", err)
		sw = nil
	} else {
		defer sw.Close()
	}

	for i := 0; i < maxIterations; i++ {
		if sw != nil && sw.Stopped() {
			return c.halt(RunResult{Outcome: OutcomeStopped, Iterations: i,
				Message: "stop requested"}), nil
		}
		if ctx.Err() != nil {
			return c.halt(RunResult{Outcome: OutcomeStopped, Iterations: i,
				Message: "context cancelled"}), nil
		}

		res, done, err := c.iterate(ctx)
		if err != nil {
			return RunResult{Iterations: i + 1}, err
		}
		if done {
			res.Iterations = i + 1
			return c.halt(res), nil
		}
	}
	return c.halt(RunResult{Outcome: OutcomeStopped, Iterations: maxIterations,
		Message: fmt.Sprintf("iteration budget (%d) exhausted", maxIterations)}), nil
}

func (c *Controller) halt(res RunResult) RunResult {
	c.logf("halt: %s after %d iteration(s): %s", res.Outcome, res.Iterations, res.Message)
	return res
}

// preflight rejects conditions under which no iteration may start. No
// backlog mutation happens on any preflight failure.
func (c *Controller) preflight(ctx context.Context) error {
	if _, err := c.backlog.Load(); err != nil {
		return &PreconditionError{Err: err}
	}
	dirty, err := c.repo.IsDirty(ctx)
	if err != nil {
		return &PreconditionError{Err: fmt.Errorf("check working tree: %w", err)}
	}
	if dirty {
		return &PreconditionError{Err: fmt.Errorf("working tree is dirty; commit or stash before running")}
	}
	return nil
}

// iterate runs one full iteration. done=true carries a terminal outcome;
// done=false means the loop continues.
func (c *Controller) iterate(ctx context.Context) (RunResult, bool, error) {
	// Step 1-2: parse backlog, compute the active slice.
	b, err := c.backlog.Load()
	if err != nil {
		return RunResult{}, false, &PreconditionError{Err: err}
	}
	activeSlice, incomplete := backlog.ActiveSlice(b)
	if !incomplete {
		return RunResult{Outcome: OutcomeCompleted, Message: "all backlog items pass"}, true, nil
	}

	headBefore, err := c.repo.Head(ctx)
	if err != nil {
		return RunResult{}, false, &PreconditionError{Err: fmt.Errorf("resolve head: %w", err)}
	}
	digestBefore, err := c.backlog.Digest()
	if err != nil {
		return RunResult{}, false, &PreconditionError{Err: err}
	}

	st, err := c.updateState(func(st *model.IterationState) error {
		st.Iteration++
		st.ActiveSlice = activeSlice
		st.SelectionMode = c.cfg.Loop.SelectionMode
		st.HeadBefore = headBefore
		st.BacklogBefore = digestBefore
		st.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
		return nil
	})
	if err != nil {
		return RunResult{}, false, err
	}
	iteration := st.Iteration

	dir, err := c.newIterationDir(iteration)
	if err != nil {
		return RunResult{}, false, err
	}
	c.copyArtifact(dir, artBacklogBefore, c.backlog.Path)
	c.writeArtifact(dir, artHeadBefore, headBefore+"\n")
	c.logf("iteration %d: active slice %d, head %.12s", iteration, activeSlice, headBefore)

	// Step 3: candidate selection.
	item, blocked, err := c.selectCandidate(ctx, b, activeSlice, iteration, dir)
	if err != nil {
		return RunResult{}, false, err
	}
	if blocked != nil {
		return *blocked, true, nil
	}
	c.writeSelected(dir, item)

	// Step 4: per-item gate checks, before any agent or verify spend.
	if item.NeedsHumanDecision {
		detail := "item requires a human decision"
		if item.Blocker != nil {
			detail = item.Blocker.Question
		}
		if err := c.writeBlockedRecord(model.BlockNeedsHumanDecision, iteration, item, detail, nil); err != nil {
			return RunResult{}, false, err
		}
		return RunResult{Outcome: OutcomeBlocked, Message: detail}, true, nil
	}
	if !containsString(item.VerifyRequirements, c.canonicalVerify()) {
		detail := fmt.Sprintf("item %s does not require the canonical verification entrypoint %q",
			item.ID, c.canonicalVerify())
		if err := c.writeBlockedRecord(model.BlockMissingVerifyRequirement, iteration, item, detail, nil); err != nil {
			return RunResult{}, false, err
		}
		return RunResult{Outcome: OutcomeBlocked, Message: detail}, true, nil
	}

	// Step 5: baseline verification. Never build on a red baseline.
	preLog := filepath.Join(dir, artVerifyPreLog)
	preExit, err := c.runVerify(ctx, preLog)
	if err != nil {
		return RunResult{}, false, err
	}
	if _, err := c.updateState(func(st *model.IterationState) error {
		st.VerifyPreExit = preExit
		st.VerifyPreLog = preLog
		return nil
	}); err != nil {
		return RunResult{}, false, err
	}
	if preExit != 0 {
		if err := c.healBaseline(ctx, st.LastGoodRevision, dir); err != nil {
			return RunResult{}, false, err
		}
	}

	// Step 6: rate-limited agent invocation.
	prompt := c.taskPrompt(item)
	c.writeArtifact(dir, artPrompt, prompt)
	if c.cfg.Loop.DryRun {
		return RunResult{Outcome: OutcomeStopped,
			Message: fmt.Sprintf("dry run: would invoke agent for %s", item.ID)}, true, nil
	}
	if err := c.limiter.Acquire(ctx); err != nil {
		return RunResult{}, false, &PreconditionError{Err: fmt.Errorf("rate limit wait: %w", err)}
	}
	agentRes, err := c.agent.Run(ctx, prompt, filepath.Join(dir, artAgentOutput))
	if err != nil {
		return RunResult{}, false, &PreconditionError{Err: err}
	}
	c.logf("iteration %d: agent exit %d, complete=%v", iteration, agentRes.ExitCode, agentRes.Complete)

	// Step 7: progress signal.
	headAfter, err := c.repo.Head(ctx)
	if err != nil {
		return RunResult{}, false, &PreconditionError{Err: fmt.Errorf("resolve head: %w", err)}
	}
	digestAfter, err := c.backlog.Digest()
	if err != nil {
		return RunResult{}, false, err
	}
	progress := headAfter != headBefore || digestAfter != digestBefore
	c.writeArtifact(dir, artHeadAfter, headAfter+"\n")
	c.copyArtifact(dir, artBacklogAfter, c.backlog.Path)
	if diff, err := c.repo.Diff(ctx, headBefore, headAfter); err == nil && diff != "" {
		c.writeArtifact(dir, artDiff, diff+"\n")
	}

	// Step 8: post verification.
	postLog := filepath.Join(dir, artVerifyPostLog)
	postExit, err := c.runVerify(ctx, postLog)
	if err != nil {
		return RunResult{}, false, err
	}
	if _, err := c.updateState(func(st *model.IterationState) error {
		st.VerifyPostExit = postExit
		st.VerifyPostLog = postLog
		st.HeadAfter = headAfter
		st.BacklogAfter = digestAfter
		return nil
	}); err != nil {
		return RunResult{}, false, err
	}

	if postExit != 0 {
		return c.handlePostFailure(ctx, iteration, item, postLog)
	}

	// Green post-verify: the passes flip is allowed, and only here.
	if progress {
		if err := c.backlog.MarkPassed(item.ID); err != nil {
			return RunResult{}, false, err
		}
		c.logf("iteration %d: %s passes", iteration, item.ID)
	}

	tripped := false
	if _, err := c.updateState(func(st *model.IterationState) error {
		tripped = c.breaker.ObserveProgress(st, progress)
		if !tripped {
			st.LastGoodRevision = headAfter
			breaker.ClearFailure(st)
		}
		return nil
	}); err != nil {
		return RunResult{}, false, err
	}
	if tripped {
		detail := fmt.Sprintf("no measurable progress for %d consecutive iterations", c.breaker.MaxNoProgress)
		if err := c.writeBlockedRecord(model.BlockNoProgress, iteration, item, detail,
			[]string{filepath.Join(dir, artAgentOutput), postLog}); err != nil {
			return RunResult{}, false, err
		}
		return RunResult{Outcome: OutcomeBlocked, Message: detail}, true, nil
	}

	// Step 9: completion check.
	if agentRes.Complete {
		return RunResult{Outcome: OutcomeCompleted, Message: "agent reported completion"}, true, nil
	}
	if b, err := c.backlog.Load(); err == nil {
		if _, anyLeft := backlog.ActiveSlice(b); !anyLeft {
			return RunResult{Outcome: OutcomeCompleted, Message: "all backlog items pass"}, true, nil
		}
	}
	return RunResult{}, false, nil
}

// selectCandidate resolves the iteration's single work item. In agent
// mode the agent names an id that is independently re-validated; any
// mismatch is a deliberate block, not an error.
func (c *Controller) selectCandidate(ctx context.Context, b model.Backlog, activeSlice, iteration int, dir string) (*model.WorkItem, *RunResult, error) {
	if c.cfg.Loop.SelectionMode != "agent" {
		return backlog.SelectDeterministic(b, activeSlice), nil, nil
	}

	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, nil, &PreconditionError{Err: fmt.Errorf("rate limit wait: %w", err)}
	}
	out := filepath.Join(dir, artSelection)
	if _, err := c.agent.Run(ctx, c.selectionPrompt(b, activeSlice), out); err != nil {
		return nil, nil, &PreconditionError{Err: err}
	}

	id, found := parseSelection(out, b)
	if found {
		if item, verr := backlog.ValidateSelection(b, id, activeSlice); verr == nil {
			return item, nil, nil
		}
	}
	detail := fmt.Sprintf("agent selection %q is not a valid candidate in slice %d", id, activeSlice)
	if err := c.writeBlockedRecord(model.BlockInvalidSelection, iteration, nil, detail, []string{out}); err != nil {
		return nil, nil, err
	}
	return nil, &RunResult{Outcome: OutcomeBlocked, Message: detail}, nil
}

// parseSelection applies the narrow selection protocol: the first
// transcript line that exactly equals a known item id is the candidate.
// Anything else (including no output) is no selection at all.
func parseSelection(transcriptPath string, b model.Backlog) (string, bool) {
	data, err := os.ReadFile(transcriptPath)
	if err != nil {
		return "", false
	}
	known := make(map[string]bool, len(b.Items))
	for _, item := range b.Items {
		known[item.ID] = true
	}
	for _, line := range strings.Split(string(data), "\n") {
		if id := strings.TrimSpace(line); known[id] {
			return id, true
		}
	}
	return "", false
}

// healBaseline handles a red baseline: one revert to the last known-good
// revision and one re-verify. A second consecutive failure is always
// fatal.
func (c *Controller) healBaseline(ctx context.Context, lastGood, dir string) error {
	if !c.cfg.Loop.SelfHeal {
		return &VerifyFatalError{Err: fmt.Errorf("baseline verification failed and self-heal is disabled")}
	}
	if lastGood == "" {
		return &VerifyFatalError{Err: fmt.Errorf("baseline verification failed with no known-good revision to revert to")}
	}
	c.logf("baseline red: reverting to last good revision %.12s", lastGood)
	if err := c.repo.ResetHard(ctx, lastGood); err != nil {
		return &VerifyFatalError{Err: fmt.Errorf("self-heal revert: %w", err)}
	}
	retryLog := filepath.Join(dir, artVerifyPreLog+".retry")
	exit, err := c.runVerify(ctx, retryLog)
	if err != nil {
		return err
	}
	if exit != 0 {
		return &VerifyFatalError{Err: fmt.Errorf("baseline verification failed again after self-heal (log %s)", retryLog)}
	}
	return nil
}

// handlePostFailure digests the failure, extends or resets the
// same-failure streak, and either trips the breaker, heals and continues,
// or stops fatally per configuration.
func (c *Controller) handlePostFailure(ctx context.Context, iteration int, item *model.WorkItem, postLog string) (RunResult, bool, error) {
	sig := breaker.FailureSignature(postLog)
	tripped := false
	st, err := c.updateState(func(st *model.IterationState) error {
		tripped = c.breaker.ObserveFailure(st, sig)
		return nil
	})
	if err != nil {
		return RunResult{}, false, err
	}
	c.logf("iteration %d: post-verify failed (signature %.12s, streak %d)", iteration, sig, st.SameFailureStreak)

	if tripped {
		detail := fmt.Sprintf("identical verification failure repeated %d times", st.SameFailureStreak)
		if err := c.writeBlockedRecord(model.BlockCircuitBreaker, iteration, item, detail, []string{postLog}); err != nil {
			return RunResult{}, false, err
		}
		return RunResult{Outcome: OutcomeBlocked, Message: detail}, true, nil
	}

	if c.cfg.Loop.SelfHeal && c.cfg.Loop.FailureAction == "heal" && st.LastGoodRevision != "" {
		c.logf("post-verify red: reverting to last good revision %.12s", st.LastGoodRevision)
		if err := c.repo.ResetHard(ctx, st.LastGoodRevision); err != nil {
			return RunResult{}, false, &VerifyFatalError{Err: fmt.Errorf("self-heal revert: %w", err)}
		}
		return RunResult{}, false, nil
	}
	return RunResult{}, false, &VerifyFatalError{Err: fmt.Errorf("post-change verification failed (log %s)", postLog)}
}

func (c *Controller) runVerify(ctx context.Context, logPath string) (int, error) {
	exit, err := c.verifier.Verify(ctx, c.cfg.Verify.Level, logPath)
	if err != nil {
		return 0, &PreconditionError{Err: fmt.Errorf("run verification entrypoint: %w", err)}
	}
	return exit, nil
}

func (c *Controller) updateState(fn func(*model.IterationState) error) (model.IterationState, error) {
	return docstore.Update(c.statePath, fn)
}

func (c *Controller) writeSelected(dir string, item *model.WorkItem) {
	if err := docstore.Write(filepath.Join(dir, artSelected), item); err != nil {
		c.logf("write selected artifact: %v", err)
	}
}

func (c *Controller) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
