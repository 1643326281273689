package model

// IterationState is the durable, restart-surviving loop record. The
// controller is its sole writer; updates are whole-document
// read-modify-write through the document store.
type IterationState struct {
	Iteration     int    `json:"iteration"`
	ActiveSlice   int    `json:"active_slice"`
	SelectionMode string `json:"selection_mode"`

	HeadBefore    string `json:"head_before,omitempty"`
	HeadAfter     string `json:"head_after,omitempty"`
	BacklogBefore string `json:"backlog_digest_before,omitempty"`
	BacklogAfter  string `json:"backlog_digest_after,omitempty"`

	VerifyPreExit  int    `json:"verify_pre_exit"`
	VerifyPostExit int    `json:"verify_post_exit"`
	VerifyPreLog   string `json:"verify_pre_log,omitempty"`
	VerifyPostLog  string `json:"verify_post_log,omitempty"`

	FailureSignature  string `json:"failure_signature,omitempty"`
	SameFailureStreak int    `json:"same_failure_streak"`
	NoProgressStreak  int    `json:"no_progress_streak"`

	LastGoodRevision string `json:"last_good_revision,omitempty"`
	UpdatedAt        string `json:"updated_at,omitempty"`
}

// RateLimitWindow is the persisted hourly agent-invocation window,
// kept in its own document so it survives restarts independently of the
// iteration state.
type RateLimitWindow struct {
	WindowStartEpoch int64 `json:"window_start_epoch"`
	Count            int   `json:"count"`
}
