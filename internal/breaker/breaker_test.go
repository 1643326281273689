package breaker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/msageha/overseer/internal/model"
)

func TestFailureSignature_StableForIdenticalLogs(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.log")
	b := filepath.Join(dir, "b.log")
	content := []byte("line1\nline2\nFAIL: something broke\n")
	if err := os.WriteFile(a, content, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, content, 0644); err != nil {
		t.Fatal(err)
	}

	if FailureSignature(a) != FailureSignature(b) {
		t.Error("identical logs must produce identical signatures")
	}

	if err := os.WriteFile(b, []byte("different\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if FailureSignature(a) == FailureSignature(b) {
		t.Error("different logs must produce different signatures")
	}
}

func TestFailureSignature_OnlyTailCounts(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.log")
	b := filepath.Join(dir, "b.log")

	var head string
	for i := 0; i < 100; i++ {
		head += "prefix noise A\n"
	}
	tail := ""
	for i := 0; i < signatureTail; i++ {
		tail += "identical tail line\n"
	}
	if err := os.WriteFile(a, []byte(head+tail), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("other noise\n"+tail), 0644); err != nil {
		t.Fatal(err)
	}
	if FailureSignature(a) != FailureSignature(b) {
		t.Error("signatures must depend only on the log tail")
	}
}

func TestObserveFailure_TripsAtExactBound(t *testing.T) {
	b := New(model.BreakerConfig{MaxSameFailure: 3, MaxNoProgress: 3})
	st := &model.IterationState{}

	if b.ObserveFailure(st, "sig-a") {
		t.Fatal("tripped on first failure")
	}
	if b.ObserveFailure(st, "sig-a") {
		t.Fatal("tripped on second failure")
	}
	if !b.ObserveFailure(st, "sig-a") {
		t.Fatal("did not trip on third identical failure")
	}
	if st.SameFailureStreak != 3 {
		t.Errorf("streak: got %d, want 3", st.SameFailureStreak)
	}
}

func TestObserveFailure_NewSignatureResets(t *testing.T) {
	b := New(model.BreakerConfig{MaxSameFailure: 2, MaxNoProgress: 2})
	st := &model.IterationState{}

	b.ObserveFailure(st, "sig-a")
	if b.ObserveFailure(st, "sig-b") {
		t.Fatal("different signature must reset the streak")
	}
	if st.SameFailureStreak != 1 || st.FailureSignature != "sig-b" {
		t.Errorf("state after reset: %+v", st)
	}
}

func TestObserveProgress_TripsAtExactBound(t *testing.T) {
	b := New(model.BreakerConfig{MaxSameFailure: 3, MaxNoProgress: 3})
	st := &model.IterationState{}

	if b.ObserveProgress(st, false) {
		t.Fatal("tripped after one stagnant iteration")
	}
	if b.ObserveProgress(st, false) {
		t.Fatal("tripped after two stagnant iterations")
	}
	if !b.ObserveProgress(st, false) {
		t.Fatal("did not trip after three stagnant iterations")
	}
}

func TestObserveProgress_ResetOnProgress(t *testing.T) {
	b := New(model.BreakerConfig{MaxSameFailure: 3, MaxNoProgress: 2})
	st := &model.IterationState{NoProgressStreak: 1}

	if b.ObserveProgress(st, true) {
		t.Fatal("progress must never trip")
	}
	if st.NoProgressStreak != 0 {
		t.Errorf("streak after progress: got %d, want 0", st.NoProgressStreak)
	}
}

func TestClearFailure(t *testing.T) {
	st := &model.IterationState{FailureSignature: "sig", SameFailureStreak: 2}
	ClearFailure(st)
	if st.FailureSignature != "" || st.SameFailureStreak != 0 {
		t.Errorf("state not cleared: %+v", st)
	}
}
