package verify

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// CheckWorkflows validates the workflow-defining files under workdir.
// Every file must parse as YAML; in strict mode each workflow must also
// declare its triggers and at least one job. This backs the
// workflow-acceptance gate, which runs it as a subprocess.
func CheckWorkflows(workdir string, strict bool) error {
	dir := filepath.Join(workdir, ".github", "workflows")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read workflow dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yml" && ext != ".yaml") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read workflow %s: %w", name, err)
		}
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("workflow %s: invalid YAML: %w", name, err)
		}
		if !strict {
			continue
		}
		if _, ok := doc["on"]; !ok {
			return fmt.Errorf("workflow %s: missing trigger definition (on)", name)
		}
		jobs, ok := doc["jobs"].(map[string]any)
		if !ok || len(jobs) == 0 {
			return fmt.Errorf("workflow %s: missing jobs", name)
		}
	}
	return nil
}
