// Package gitx wraps the git CLI operations the controller and the
// verification pipeline depend on: head resolution, cleanliness, changed
// paths, and hard reversion.
package gitx

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Repo is the subset of git operations the loop needs. The concrete
// implementation shells out to the git binary; tests substitute fakes.
type Repo interface {
	Head(ctx context.Context) (string, error)
	IsDirty(ctx context.Context) (bool, error)
	ChangedPaths(ctx context.Context, baseRef string) (Changes, error)
	ResetHard(ctx context.Context, rev string) error
	Diff(ctx context.Context, from, to string) (string, error)
}

// Changes is the result of change detection. When Available is false the
// base could not be resolved and every downstream skip decision must
// default to "run everything".
type Changes struct {
	Available bool
	Paths     []string
}

// Relevant reports whether any changed path satisfies match. Unavailable
// changes are always relevant.
func (c Changes) Relevant(match func(string) bool) bool {
	if !c.Available {
		return true
	}
	for _, p := range c.Paths {
		if match(p) {
			return true
		}
	}
	return false
}

// CLI runs git against a fixed working tree.
type CLI struct {
	Dir string
}

func New(dir string) *CLI {
	return &CLI{Dir: dir}
}

func (g *CLI) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.Dir
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w (%s)", strings.Join(args, " "), err, strings.TrimSpace(errb.String()))
	}
	return strings.TrimRight(out.String(), "\n"), nil
}

// Head returns the current HEAD revision.
func (g *CLI) Head(ctx context.Context) (string, error) {
	return g.run(ctx, "rev-parse", "HEAD")
}

// IsDirty reports whether the working tree has uncommitted changes,
// including untracked files.
func (g *CLI) IsDirty(ctx context.Context) (bool, error) {
	out, err := g.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// ChangedPaths returns the paths changed since the merge-base with baseRef.
// Failure to resolve the base never surfaces as an error: it returns
// Changes{Available: false} so callers fail toward running everything.
func (g *CLI) ChangedPaths(ctx context.Context, baseRef string) (Changes, error) {
	base, err := g.run(ctx, "merge-base", "HEAD", baseRef)
	if err != nil {
		return Changes{Available: false}, nil
	}
	out, err := g.run(ctx, "diff", "--name-only", base, "HEAD")
	if err != nil {
		return Changes{Available: false}, nil
	}
	ch := Changes{Available: true}
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			ch.Paths = append(ch.Paths, line)
		}
	}
	// Uncommitted edits count as changes too.
	wt, err := g.run(ctx, "diff", "--name-only", "HEAD")
	if err == nil {
		for _, line := range strings.Split(wt, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				ch.Paths = append(ch.Paths, line)
			}
		}
	}
	return ch, nil
}

// Diff returns the textual diff between two revisions, for the artifact
// trail. A failure yields an empty diff, never an error: the diff is
// diagnostic only.
func (g *CLI) Diff(ctx context.Context, from, to string) (string, error) {
	if from == "" || to == "" || from == to {
		return "", nil
	}
	out, err := g.run(ctx, "diff", from, to)
	if err != nil {
		return "", nil
	}
	return out, nil
}

// ResetHard reverts the working tree to rev, discarding all local changes
// and untracked files. This is the self-heal primitive: it always discards,
// never repairs.
func (g *CLI) ResetHard(ctx context.Context, rev string) error {
	if _, err := g.run(ctx, "reset", "--hard", rev); err != nil {
		return err
	}
	_, err := g.run(ctx, "clean", "-fd")
	return err
}
