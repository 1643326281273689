// Package breaker tracks repeated-identical-failure and no-progress
// streaks and converts a looping agent into a deliberate halt.
package breaker

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"

	"github.com/msageha/overseer/internal/model"
)

// signatureTail is how many trailing log lines feed the failure signature.
const signatureTail = 40

// Breaker holds the configured streak bounds. Streak counters themselves
// live in the iteration state document so they survive restarts.
type Breaker struct {
	MaxSameFailure int
	MaxNoProgress  int
}

func New(cfg model.BreakerConfig) *Breaker {
	return &Breaker{
		MaxSameFailure: cfg.MaxSameFailure,
		MaxNoProgress:  cfg.MaxNoProgress,
	}
}

// FailureSignature digests the tail of a verification failure log. Two
// byte-identical failures produce the same signature.
func FailureSignature(logPath string) string {
	data, err := os.ReadFile(logPath)
	if err != nil {
		// An unreadable log still yields a stable signature so the streak
		// logic keeps working.
		data = []byte("unreadable:" + err.Error())
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > signatureTail {
		lines = lines[len(lines)-signatureTail:]
	}
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

// ObserveFailure records a post-verify failure signature against the
// state, extending the streak when it matches the previous iteration's
// signature. It returns true when the streak reaches the bound.
func (b *Breaker) ObserveFailure(st *model.IterationState, sig string) bool {
	if sig != "" && sig == st.FailureSignature {
		st.SameFailureStreak++
	} else {
		st.FailureSignature = sig
		st.SameFailureStreak = 1
	}
	return st.SameFailureStreak >= b.MaxSameFailure
}

// ObserveProgress updates the no-progress streak after a green
// post-verify: progress resets it, stagnation extends it. It returns true
// when the streak reaches the bound.
func (b *Breaker) ObserveProgress(st *model.IterationState, progress bool) bool {
	if progress {
		st.NoProgressStreak = 0
		return false
	}
	st.NoProgressStreak++
	return st.NoProgressStreak >= b.MaxNoProgress
}

// ClearFailure resets the failure signature after a green post-verify.
func ClearFailure(st *model.IterationState) {
	st.FailureSignature = ""
	st.SameFailureStreak = 0
}
