package arbiter

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/histoboard/backend/internal/source"
)

func testArbiter() *Arbiter {
	return &Arbiter{
		NormalSamples:  1000,
		PoissonSamples: 1000,
		PoissonRate:    2,
		Src:            source.NewSeeded(1),
	}
}

func TestNormalBranch(t *testing.T) {
	a := testArbiter()
	st := &TriggerState{}

	data, branch, err := a.Decide(Inputs{Normal: 1}, st)
	if err != nil {
		t.Fatalf("Decide() error: %v", err)
	}
	if branch != BranchNormal {
		t.Errorf("branch = %s, want normal", branch)
	}
	if len(data) != 1000 {
		t.Errorf("len = %d, want 1000", len(data))
	}
	if st.Normal != 1 {
		t.Errorf("stored normal count = %d, want 1", st.Normal)
	}
}

func TestPoissonBranch(t *testing.T) {
	a := testArbiter()
	st := &TriggerState{}

	data, branch, err := a.Decide(Inputs{Poisson: 1}, st)
	if err != nil {
		t.Fatalf("Decide() error: %v", err)
	}
	if branch != BranchPoisson {
		t.Errorf("branch = %s, want poisson", branch)
	}
	if len(data) != 1000 {
		t.Fatalf("len = %d, want 1000", len(data))
	}
	for i, v := range data {
		if v < 0 || v != math.Trunc(v) {
			t.Fatalf("sample %d = %f, want non-negative integer", i, v)
		}
	}
}

func TestFileBranch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	if err := os.WriteFile(path, []byte("1\n2\n3\n"), 0644); err != nil {
		t.Fatal(err)
	}

	a := testArbiter()
	st := &TriggerState{}

	data, branch, err := a.Decide(Inputs{
		File:     1,
		FileSpec: &source.FileSpec{Path: path},
	}, st)
	if err != nil {
		t.Fatalf("Decide() error: %v", err)
	}
	if branch != BranchFile {
		t.Errorf("branch = %s, want file", branch)
	}
	if len(data) != 3 {
		t.Errorf("len = %d, want 3", len(data))
	}
	if st.File != 1 {
		t.Errorf("stored file count = %d, want 1", st.File)
	}
}

func TestNoChange(t *testing.T) {
	a := testArbiter()
	st := &TriggerState{Normal: 2, Poisson: 3, File: 1}

	data, branch, err := a.Decide(Inputs{Normal: 2, Poisson: 3, File: 1}, st)
	if err != nil {
		t.Fatalf("Decide() error: %v", err)
	}
	if branch != BranchNone {
		t.Errorf("branch = %s, want none", branch)
	}
	if data != nil {
		t.Errorf("data = %v, want nil", data)
	}
}

func TestPriorityOrder(t *testing.T) {
	// All three counters changed in the same tick: normal must win and
	// only the normal counter advances.
	a := testArbiter()
	st := &TriggerState{}

	_, branch, err := a.Decide(Inputs{Normal: 1, Poisson: 1, File: 1}, st)
	if err != nil {
		t.Fatalf("Decide() error: %v", err)
	}
	if branch != BranchNormal {
		t.Errorf("branch = %s, want normal", branch)
	}
	if st.Normal != 1 {
		t.Errorf("normal count = %d, want 1", st.Normal)
	}
	if st.Poisson != 0 {
		t.Errorf("poisson count = %d, want 0 (stale)", st.Poisson)
	}
	if st.File != 0 {
		t.Errorf("file count = %d, want 0 (stale)", st.File)
	}
}

func TestStaleCounterFiresNextInvocation(t *testing.T) {
	a := testArbiter()
	st := &TriggerState{}

	// Simulated out-of-order delivery: both generators changed.
	_, branch, _ := a.Decide(Inputs{Normal: 1, Poisson: 1}, st)
	if branch != BranchNormal {
		t.Fatalf("first invocation branch = %s, want normal", branch)
	}

	// Same inputs again: normal is now in sync, poisson fires.
	_, branch, _ = a.Decide(Inputs{Normal: 1, Poisson: 1}, st)
	if branch != BranchPoisson {
		t.Fatalf("second invocation branch = %s, want poisson", branch)
	}

	// Third invocation: nothing left.
	_, branch, _ = a.Decide(Inputs{Normal: 1, Poisson: 1}, st)
	if branch != BranchNone {
		t.Fatalf("third invocation branch = %s, want none", branch)
	}
}

func TestExactlyOneCounterPerInvocation(t *testing.T) {
	a := testArbiter()
	st := &TriggerState{}

	a.Decide(Inputs{Normal: 5, Poisson: 7, File: 2}, st)

	updated := 0
	if st.Normal != 0 {
		updated++
	}
	if st.Poisson != 0 {
		updated++
	}
	if st.File != 0 {
		updated++
	}
	if updated != 1 {
		t.Errorf("%d counters updated, want exactly 1", updated)
	}
}

func TestFileParseErrorPropagates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	if err := os.WriteFile(path, []byte("not,numeric\n"), 0644); err != nil {
		t.Fatal(err)
	}

	a := testArbiter()
	st := &TriggerState{}

	data, branch, err := a.Decide(Inputs{
		File:     1,
		FileSpec: &source.FileSpec{Path: path},
	}, st)
	if err == nil {
		t.Fatal("Decide() should propagate parse error")
	}
	var pe *source.ParseError
	if !errors.As(err, &pe) {
		t.Errorf("error is %T, want *ParseError", err)
	}
	if branch != BranchFile {
		t.Errorf("branch = %s, want file", branch)
	}
	if data != nil {
		t.Errorf("data = %v, want nil on error", data)
	}

	// The counter still advances so the broken upload fires only once.
	if st.File != 1 {
		t.Errorf("file count = %d, want 1 after failed parse", st.File)
	}
	_, branch, _ = a.Decide(Inputs{File: 1, FileSpec: &source.FileSpec{Path: path}}, st)
	if branch != BranchNone {
		t.Errorf("re-invocation branch = %s, want none", branch)
	}
}

func TestFileBranchWithoutSpec(t *testing.T) {
	a := testArbiter()
	st := &TriggerState{}

	_, branch, err := a.Decide(Inputs{File: 1}, st)
	if branch != BranchFile {
		t.Errorf("branch = %s, want file", branch)
	}
	if err == nil {
		t.Fatal("Decide() with nil FileSpec should error")
	}
}

func TestReuploadAfterReset(t *testing.T) {
	// Reset clears the pending selection; picking the identical filename
	// bumps the presence counter again and re-fires the file branch.
	path := filepath.Join(t.TempDir(), "data.csv")
	if err := os.WriteFile(path, []byte("1\n2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	spec := &source.FileSpec{Path: path}

	a := testArbiter()
	st := &TriggerState{}

	_, branch, _ := a.Decide(Inputs{File: 1, FileSpec: spec}, st)
	if branch != BranchFile {
		t.Fatalf("first upload branch = %s, want file", branch)
	}

	// Reset: spec cleared, counter unchanged. Re-selecting the same file
	// arrives as count 2.
	_, branch, _ = a.Decide(Inputs{File: 2, FileSpec: spec}, st)
	if branch != BranchFile {
		t.Fatalf("re-upload branch = %s, want file", branch)
	}
}

func TestBranchString(t *testing.T) {
	tests := []struct {
		branch Branch
		want   string
	}{
		{BranchNone, "none"},
		{BranchNormal, "normal"},
		{BranchPoisson, "poisson"},
		{BranchFile, "file"},
		{Branch(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.branch.String(); got != tt.want {
			t.Errorf("Branch(%d).String() = %q, want %q", tt.branch, got, tt.want)
		}
	}
}
