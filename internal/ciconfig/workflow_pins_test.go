package ciconfig_test

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

var pinnedSHA = regexp.MustCompile(`@[0-9a-f]{40}`)

func workflowFiles(t *testing.T) map[string]string {
	t.Helper()
	paths, err := filepath.Glob("../../.github/workflows/*.yml")
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) == 0 {
		t.Fatal("no workflow files found")
	}

	files := make(map[string]string, len(paths))
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		files[filepath.Base(path)] = string(content)
	}
	return files
}

func TestWorkflowActions_PinnedToCommitSHA(t *testing.T) {
	for name, content := range workflowFiles(t) {
		for i, line := range strings.Split(content, "\n") {
			if !strings.Contains(line, "uses:") {
				continue
			}
			if !pinnedSHA.MatchString(line) {
				t.Errorf("%s:%d: action not pinned to commit SHA: %s", name, i+1, strings.TrimSpace(line))
			}
		}
	}
}

func TestWorkflow_RunsRaceDetectorAndInjectsVersion(t *testing.T) {
	var all strings.Builder
	for _, content := range workflowFiles(t) {
		all.WriteString(content)
	}
	ci := all.String()

	if !strings.Contains(ci, "go test -race ./...") {
		t.Error("CI should run the whole module under the race detector")
	}
	if !strings.Contains(ci, "-X main.version=") {
		t.Error("CI should inject the release version at build time")
	}
}
