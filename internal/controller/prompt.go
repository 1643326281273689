package controller

import (
	"fmt"
	"strings"

	"github.com/msageha/overseer/internal/model"
)

// taskPrompt generates the task description handed to the agent. The only
// structured signal the agent can send back is the literal sentinel line;
// the prompt spells that out.
func (c *Controller) taskPrompt(item *model.WorkItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are working on one backlog item of an automated change pipeline.\n\n")
	fmt.Fprintf(&b, "Item: %s\n", item.ID)
	if item.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", item.Title)
	}
	fmt.Fprintf(&b, "Slice: %d  Priority: %d\n", item.Slice, item.Priority)
	if len(item.Dependencies) > 0 {
		fmt.Fprintf(&b, "Dependencies (already completed): %s\n", strings.Join(item.Dependencies, ", "))
	}
	b.WriteString("\nRules:\n")
	b.WriteString("- Work on exactly this one item. Commit your changes when done.\n")
	fmt.Fprintf(&b, "- The change must pass: %s\n", strings.Join(item.VerifyRequirements, "; "))
	b.WriteString("- Do not edit the backlog except to record findings on this item.\n")
	fmt.Fprintf(&b, "\nIf, and only if, every backlog item is complete, print this exact line on its own:\n%s\n", c.cfg.Agent.Sentinel)
	return b.String()
}

// selectionPrompt asks the agent to name one candidate id. The response is
// parsed narrowly: the first line equal to a known id wins, anything else
// is an invalid selection.
func (c *Controller) selectionPrompt(b model.Backlog, activeSlice int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Select the next backlog item to work on from slice %d.\n", activeSlice)
	sb.WriteString("Incomplete items in the active slice:\n")
	for _, item := range b.Items {
		if item.Passes || item.Slice != activeSlice {
			continue
		}
		fmt.Fprintf(&sb, "- %s (priority %d): %s\n", item.ID, item.Priority, item.Title)
	}
	sb.WriteString("\nRespond with exactly one line containing only the chosen item id.\n")
	return sb.String()
}
