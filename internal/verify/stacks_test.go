package verify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/msageha/overseer/internal/model"
)

func touch(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
}

func stackNames(defs []stackDef) []string {
	var names []string
	for _, d := range defs {
		names = append(names, d.name)
	}
	return names
}

func TestDetectStacks(t *testing.T) {
	dir := t.TempDir()
	if got := detectStacks(dir); len(got) != 0 {
		t.Fatalf("empty dir: %v", stackNames(got))
	}

	touch(t, dir, "go.mod")
	touch(t, dir, "setup.py")
	got := stackNames(detectStacks(dir))
	if len(got) != 2 || got[0] != "go" || got[1] != "python" {
		t.Errorf("detected: %v", got)
	}
}

func TestDetectStacks_EitherPythonMarker(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "pyproject.toml")
	got := stackNames(detectStacks(dir))
	if len(got) != 1 || got[0] != "python" {
		t.Errorf("detected: %v", got)
	}
}

func TestStackCommand_WorkersPlaceholder(t *testing.T) {
	o := &Orchestrator{Config: model.VerifyConfig{
		StackCommands: map[string][]string{
			"go": {"go", "test", "-p", "{workers}", "./..."},
		},
	}}

	cmd := o.stackCommand("go", 3)
	if len(cmd) != 5 || cmd[3] != "3" {
		t.Errorf("command: %v", cmd)
	}
	if cmd := o.stackCommand("rust", 3); cmd != nil {
		t.Errorf("unconfigured stack must resolve to nil, got %v", cmd)
	}
}

func TestStackRelevance(t *testing.T) {
	tests := []struct {
		stack string
		path  string
		want  bool
	}{
		{"go", "internal/loop/loop.go", true},
		{"go", "go.sum", true},
		{"go", "docs/readme.md", false},
		{"rust", "src/main.rs", true},
		{"rust", "Cargo.lock", true},
		{"python", "tools/gen.py", true},
		{"node", "web/app.ts", true},
		{"node", "README.md", false},
	}
	byName := map[string]stackDef{}
	for _, d := range stackDefs {
		byName[d.name] = d
	}
	for _, tt := range tests {
		if got := byName[tt.stack].relevant(tt.path); got != tt.want {
			t.Errorf("%s relevant(%q) = %v, want %v", tt.stack, tt.path, got, tt.want)
		}
	}
}
