// Package model defines the data structures for Overseer's backlog, state,
// and verification documents.
package model

import (
	"encoding/json"
	"fmt"
)

// WorkItem is one unit of backlog work. Items are authored externally; the
// controller only ever flips Passes.
type WorkItem struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title,omitempty"`
	Slice              int      `json:"slice"`
	Priority           int      `json:"priority"`
	Dependencies       []string `json:"dependencies,omitempty"`
	Passes             bool     `json:"passes"`
	NeedsHumanDecision bool     `json:"needs_human_decision,omitempty"`
	Blocker            *Blocker `json:"blocker,omitempty"`
	VerifyRequirements []string `json:"verify_requirements,omitempty"`
}

// Blocker carries the question a human must answer before the item is
// runnable again.
type Blocker struct {
	Question string `json:"question"`
	Context  string `json:"context,omitempty"`
}

// Backlog is the on-disk backlog document: {"items": [...]}.
type Backlog struct {
	Items []WorkItem `json:"items"`
}

// BlockReason enumerates why the controller halted without completing an
// iteration. The set is closed; unknown values are rejected at decode.
type BlockReason string

const (
	BlockNeedsHumanDecision       BlockReason = "needs_human_decision"
	BlockInvalidSelection         BlockReason = "invalid_selection"
	BlockMissingVerifyRequirement BlockReason = "missing_verify_requirement"
	BlockCircuitBreaker           BlockReason = "circuit_breaker"
	BlockNoProgress               BlockReason = "no_progress"
)

var validBlockReasons = map[BlockReason]bool{
	BlockNeedsHumanDecision:       true,
	BlockInvalidSelection:         true,
	BlockMissingVerifyRequirement: true,
	BlockCircuitBreaker:           true,
	BlockNoProgress:               true,
}

// IsValid returns true if the reason is a known value.
func (r BlockReason) IsValid() bool {
	return validBlockReasons[r]
}

// UnmarshalJSON rejects unknown reasons at the deserialization boundary.
func (r *BlockReason) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	br := BlockReason(s)
	if !br.IsValid() {
		return fmt.Errorf("unknown block reason %q", s)
	}
	*r = br
	return nil
}

// BlockedRecord is the persisted explanation for a blocked halt. A backlog
// snapshot is always taken at block time.
type BlockedRecord struct {
	Reason         BlockReason `json:"reason"`
	Iteration      int         `json:"iteration"`
	OffendingItem  *WorkItem   `json:"offending_item,omitempty"`
	Detail         string      `json:"detail,omitempty"`
	BacklogPath    string      `json:"backlog_snapshot"`
	DiagnosticLogs []string    `json:"diagnostic_logs,omitempty"`
	BlockedAt      string      `json:"blocked_at"`
}

// GateOutcome enumerates the terminal states of one gate.
type GateOutcome string

const (
	GatePassed  GateOutcome = "passed"
	GateFailed  GateOutcome = "failed"
	GateSkipped GateOutcome = "skipped"
)

var validGateOutcomes = map[GateOutcome]bool{
	GatePassed:  true,
	GateFailed:  true,
	GateSkipped: true,
}

// IsValid returns true if the outcome is a known value.
func (o GateOutcome) IsValid() bool {
	return validGateOutcomes[o]
}

// UnmarshalJSON rejects unknown outcomes at the deserialization boundary.
func (o *GateOutcome) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v := GateOutcome(s)
	if !v.IsValid() {
		return fmt.Errorf("unknown gate outcome %q", s)
	}
	*o = v
	return nil
}
