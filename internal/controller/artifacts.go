package controller

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/msageha/overseer/internal/docstore"
	"github.com/msageha/overseer/internal/model"
)

// Well-known artifact names inside an iteration directory.
const (
	artSelected      = "selected"
	artBacklogBefore = "backlog_before"
	artBacklogAfter  = "backlog_after"
	artHeadBefore    = "head_before"
	artHeadAfter     = "head_after"
	artDiff          = "diff"
	artPrompt        = "prompt"
	artSelection     = "selection_output"
	artAgentOutput   = "agent_output"
	artVerifyPreLog  = "verify_pre_log"
	artVerifyPostLog = "verify_post_log"
)

func stamp() string {
	return time.Now().UTC().Format("20060102-150405.000")
}

// newIterationDir creates the exclusive artifact directory for one
// iteration.
func (c *Controller) newIterationDir(iteration int) (string, error) {
	dir := filepath.Join(c.workdir, ".overseer", "artifacts",
		fmt.Sprintf("iter-%03d-%s", iteration, stamp()))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create iteration artifact dir: %w", err)
	}
	return dir, nil
}

// writeArtifact writes one small artifact file; failures are logged, not
// fatal, because artifacts are diagnostic.
func (c *Controller) writeArtifact(dir, name, content string) {
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		c.logf("write artifact %s: %v", name, err)
	}
}

// copyArtifact snapshots an existing file into the artifact directory.
func (c *Controller) copyArtifact(dir, name, src string) {
	in, err := os.Open(src)
	if err != nil {
		c.logf("snapshot %s: %v", name, err)
		return
	}
	defer in.Close()
	out, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		c.logf("snapshot %s: %v", name, err)
		return
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		c.logf("snapshot %s: %v", name, err)
	}
}

// writeBlockedRecord persists the halt explanation together with a backlog
// snapshot taken at block time, under a distinct blocked-* directory.
func (c *Controller) writeBlockedRecord(reason model.BlockReason, iteration int, item *model.WorkItem, detail string, logs []string) error {
	dir := filepath.Join(c.workdir, ".overseer", "artifacts", "blocked-"+stamp())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create blocked dir: %w", err)
	}
	snapshot := filepath.Join(dir, "backlog_snapshot.json")
	c.copyArtifact(dir, "backlog_snapshot.json", c.backlog.Path)

	record := model.BlockedRecord{
		Reason:         reason,
		Iteration:      iteration,
		OffendingItem:  item,
		Detail:         detail,
		BacklogPath:    snapshot,
		DiagnosticLogs: logs,
		BlockedAt:      time.Now().UTC().Format(time.RFC3339),
	}
	if err := docstore.Write(filepath.Join(dir, "blocked.json"), record); err != nil {
		return fmt.Errorf("write blocked record: %w", err)
	}
	c.logf("blocked (%s): %s, see %s", reason, detail, dir)
	return nil
}
