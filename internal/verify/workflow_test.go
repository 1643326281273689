package verify

import (
	"os"
	"path/filepath"
	"testing"
)

func writeWorkflow(t *testing.T, workdir, name, content string) {
	t.Helper()
	dir := filepath.Join(workdir, ".github", "workflows")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

const validWorkflow = `name: ci
on: push
jobs:
  test:
    runs-on: ubuntu-latest
    steps:
      - run: make test
`

func TestCheckWorkflows_NoWorkflowDir(t *testing.T) {
	if err := CheckWorkflows(t.TempDir(), true); err != nil {
		t.Fatalf("missing workflow dir must pass: %v", err)
	}
}

func TestCheckWorkflows_Valid(t *testing.T) {
	dir := t.TempDir()
	writeWorkflow(t, dir, "ci.yml", validWorkflow)
	if err := CheckWorkflows(dir, false); err != nil {
		t.Fatal(err)
	}
	if err := CheckWorkflows(dir, true); err != nil {
		t.Fatal(err)
	}
}

func TestCheckWorkflows_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeWorkflow(t, dir, "broken.yml", "jobs: [unclosed\n")
	if err := CheckWorkflows(dir, false); err == nil {
		t.Fatal("invalid YAML must fail even without strict")
	}
}

func TestCheckWorkflows_StrictMissingTrigger(t *testing.T) {
	dir := t.TempDir()
	writeWorkflow(t, dir, "ci.yml", "name: ci\njobs:\n  t:\n    runs-on: x\n")
	if err := CheckWorkflows(dir, false); err != nil {
		t.Fatalf("lenient mode must accept: %v", err)
	}
	if err := CheckWorkflows(dir, true); err == nil {
		t.Fatal("strict mode must require a trigger")
	}
}

func TestCheckWorkflows_StrictMissingJobs(t *testing.T) {
	dir := t.TempDir()
	writeWorkflow(t, dir, "ci.yaml", "name: ci\non: push\n")
	if err := CheckWorkflows(dir, true); err == nil {
		t.Fatal("strict mode must require jobs")
	}
}

func TestCheckWorkflows_IgnoresNonYAML(t *testing.T) {
	dir := t.TempDir()
	writeWorkflow(t, dir, "notes.txt", "this is not yaml: [")
	if err := CheckWorkflows(dir, true); err != nil {
		t.Fatalf("non-YAML files must be ignored: %v", err)
	}
}
