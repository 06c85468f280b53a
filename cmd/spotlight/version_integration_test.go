//go:build integration

package main

import (
	"os/exec"
	"strings"
	"testing"
)

// TestBinaryVersion_MatchesGitTag verifies that a binary built with the
// release ldflags reports the git tag as its version.
// This is an integration test because it interacts with git and the go tool.
// Run with: go test -tags=integration ./cmd/spotlight -v
func TestBinaryVersion_MatchesGitTag(t *testing.T) {
	output, err := exec.Command("git", "describe", "--tags", "--always", "--dirty").Output()
	if err != nil {
		t.Skipf("Skipping test: git not available or not a git repo: %v", err)
	}
	gitVersion := strings.TrimSpace(string(output))

	binary := t.TempDir() + "/spotlight"
	build := exec.Command("go", "build", "-ldflags", "-X main.version="+gitVersion, "-o", binary, ".")
	if out, err := build.CombinedOutput(); err != nil {
		t.Fatalf("failed to build binary: %v\n%s", err, out)
	}

	versionOutput, err := exec.Command(binary, "--version").Output()
	if err != nil {
		t.Fatalf("failed to run binary: %v", err)
	}
	parts := strings.Fields(strings.TrimSpace(string(versionOutput)))
	if len(parts) < 3 {
		t.Fatalf("unexpected version output format: %s", versionOutput)
	}
	binaryVersion := parts[2] // "spotlight version v0.2.0" -> "v0.2.0"

	if binaryVersion != gitVersion {
		t.Errorf("Binary version %q does not match git tag %q.\n\nVersion must be injected at build time via:\n  go build -ldflags=\"-X main.version=$(git describe --tags --always --dirty)\" ./cmd/spotlight", binaryVersion, gitVersion)
	}
}
