package main

import (
	"runtime/debug"
	"strings"
	"testing"

	"github.com/gauthierbraillon/spotlight/internal/config"
)

func TestResolveVersion(t *testing.T) {
	installed := func(v string) *debug.BuildInfo {
		return &debug.BuildInfo{
			Path: "github.com/gauthierbraillon/spotlight/cmd/spotlight",
			Main: debug.Module{Path: "github.com/gauthierbraillon/spotlight", Version: v},
		}
	}

	tests := []struct {
		name    string
		ldflags string
		info    *debug.BuildInfo
		want    string
	}{
		{"release build keeps its stamped version", "v2.0.0", installed("v1.9.0"), "v2.0.0"},
		{"go install reports the module version", "dev", installed("v1.4.1"), "v1.4.1"},
		{"pseudo-version from a commit install", "dev", installed("v0.0.0-20251001120000-abcdef123456"), "v0.0.0-20251001120000-abcdef123456"},
		{"local checkout build", "dev", installed("(devel)"), "dev"},
		{"build info without a version", "dev", installed(""), "dev"},
		{"no build info", "dev", nil, "dev"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolveVersion(tt.ldflags, tt.info); got != tt.want {
				t.Errorf("resolveVersion(%q) = %q, want %q", tt.ldflags, got, tt.want)
			}
		})
	}
}

func TestVersionFlag_PrintsVersionWithoutConfig(t *testing.T) {
	stdout, _, code := runCLI(t, map[string]string{config.EnvStore: "cassandra"}, "--version")

	if code != 0 {
		t.Fatalf("--version exited %d", code)
	}
	if !strings.HasPrefix(stdout, "spotlight version ") {
		t.Errorf("unexpected version output: %q", stdout)
	}
}
