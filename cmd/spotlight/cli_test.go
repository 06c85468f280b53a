// Package main tests document the expected behavior of the spotlight CLI.
//
// The CLI is exercised in-process through newRootCmd, checking stdout and
// stderr output.
//
// External dependencies mocked:
// - The quotes API via SPOTLIGHT_API_URL pointing at an httptest server
// - State storage via SPOTLIGHT_CONFIG_DIR pointing at a temp dir
//
// Test requirements (this file serves as documentation):
// - CLI has root command with version info
// - "mix" displays a blended, de-duplicated feed topped up from fallbacks
// - "like"/"unlike" update favorites optimistically and roll back on failure
// - "state" lists persisted like state
// - Commands validate their arguments
// - Error messages are helpful
package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/gauthierbraillon/spotlight/internal/config"
)

// runCLI executes the root command with args and environment.
func runCLI(t *testing.T, env map[string]string, args ...string) (stdout, stderr string, exitCode int) {
	t.Helper()

	for _, k := range []string{config.EnvAPIURL, config.EnvAPIToken, config.EnvStore, config.EnvStoreURL, config.EnvLogLevel} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	if _, ok := env[config.EnvConfigDir]; !ok {
		t.Setenv(config.EnvConfigDir, t.TempDir())
	}
	for k, v := range env {
		t.Setenv(k, v)
	}

	var outBuf, errBuf bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&outBuf)
	cmd.SetErr(&errBuf)

	if err := cmd.Execute(); err != nil {
		exitCode = 1
	}
	return outBuf.String(), errBuf.String(), exitCode
}

// runCLISimple runs CLI without custom environment.
func runCLISimple(t *testing.T, args ...string) (stdout, stderr string, exitCode int) {
	return runCLI(t, nil, args...)
}

// quotesAPI is a fake quotes API recording like mutations.
type quotesAPI struct {
	mu       sync.Mutex
	latest   string
	favs     string
	popular  string
	likeCode int
	likes    []string
}

func (q *quotesAPI) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/quotes/latest":
			w.Write([]byte(q.latest))
		case "/v1/quotes/favorites":
			w.Write([]byte(q.favs))
		case "/v1/quotes/popular":
			w.Write([]byte(q.popular))
		case "/v1/quotes/like":
			q.mu.Lock()
			q.likes = append(q.likes, r.Method)
			code := q.likeCode
			q.mu.Unlock()
			if code != 0 {
				w.WriteHeader(code)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"count": 42})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
		}
	})
}

func newQuotesAPI(t *testing.T, q *quotesAPI) map[string]string {
	t.Helper()
	server := httptest.NewServer(q.handler(t))
	t.Cleanup(server.Close)
	return map[string]string{
		config.EnvConfigDir: t.TempDir(),
		config.EnvAPIURL:    server.URL,
		config.EnvStore:     config.StoreSQLite,
	}
}

// TestRootCommand_Help verifies help shows available commands.
func TestRootCommand_Help(t *testing.T) {
	stdout, _, _ := runCLISimple(t, "--help")

	for _, want := range []string{"mix", "like", "unlike", "state", "config"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("help should contain %q, got:\n%s", want, stdout)
		}
	}
}

// TestRootCommand_Version verifies version flag works.
func TestRootCommand_Version(t *testing.T) {
	stdout, _, _ := runCLISimple(t, "--version")

	if !strings.Contains(stdout, "spotlight") || !strings.Contains(stdout, "version") {
		t.Errorf("version should show spotlight and version, got:\n%s", stdout)
	}
}

// TestMixCommand_Help verifies mix shows its options.
func TestMixCommand_Help(t *testing.T) {
	stdout, _, _ := runCLISimple(t, "mix", "--help")

	for _, want := range []string{"--limit", "--ratio", "--sources", "--fallback", "--reload"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("mix help should contain %q, got:\n%s", want, stdout)
		}
	}
}

// TestMixCommand_TopsUpFromFallback verifies the feed is blended from both
// primary sources and filled from the fallback chain without duplicates.
func TestMixCommand_TopsUpFromFallback(t *testing.T) {
	api := &quotesAPI{
		latest:  `[{"text":"Latest one","author":"A"},{"text":"Latest two","author":"A"}]`,
		favs:    `{"quotes":[{"quote":"Fav one","attribution":"B"},{"quote":"latest ONE","attribution":"a"}]}`,
		popular: `[{"text":"Pop one"},{"text":"Pop two"},{"text":"Pop three"},{"text":"Fav one","author":"B"}]`,
	}
	env := newQuotesAPI(t, api)

	stdout, stderr, exitCode := runCLI(t, env, "mix", "--limit", "5")

	if exitCode != 0 {
		t.Fatalf("mix should succeed, got exit code %d:\n%s", exitCode, stderr)
	}
	for _, want := range []string{"Latest one", "Latest two", "Fav one", "Pop one", "Pop two"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("output should contain %q, got:\n%s", want, stdout)
		}
	}
	if strings.Contains(stdout, "Pop three") {
		t.Errorf("feed should stop at the requested size, got:\n%s", stdout)
	}
	if strings.Count(strings.ToLower(stdout), "latest one") != 1 {
		t.Errorf("duplicates across sources should collapse, got:\n%s", stdout)
	}
	if !strings.Contains(stdout, "[FALLBACK popular]") {
		t.Errorf("fallback quotes should carry a badge, got:\n%s", stdout)
	}
}

// TestMixCommand_JSON verifies machine-readable output.
func TestMixCommand_JSON(t *testing.T) {
	api := &quotesAPI{
		latest:  `[{"text":"Only one","author":"A","favorites":3}]`,
		favs:    `[]`,
		popular: `[]`,
	}
	env := newQuotesAPI(t, api)

	stdout, stderr, exitCode := runCLI(t, env, "mix", "--json")
	if exitCode != 0 {
		t.Fatalf("mix should succeed, got exit code %d:\n%s", exitCode, stderr)
	}

	var items []map[string]any
	if err := json.Unmarshal([]byte(stdout), &items); err != nil {
		t.Fatalf("output should be JSON: %v\n%s", err, stdout)
	}
	if len(items) != 1 || items[0]["provenance"] != "primary" {
		t.Errorf("unexpected items: %v", items)
	}
}

// TestMixCommand_AvoidsRepeatsAcrossRuns verifies that quotes shown in one
// run are demoted in the next when fresher quotes exist.
func TestMixCommand_AvoidsRepeatsAcrossRuns(t *testing.T) {
	api := &quotesAPI{
		latest:  `[{"text":"Seen before","author":"A"}]`,
		favs:    `[]`,
		popular: `[{"text":"Fresh pick","author":"P"},{"text":"Seen before","author":"A"}]`,
	}
	env := newQuotesAPI(t, api)

	if _, stderr, code := runCLI(t, env, "mix", "--limit", "1"); code != 0 {
		t.Fatalf("first run should succeed:\n%s", stderr)
	}
	stdout, stderr, code := runCLI(t, env, "mix", "--limit", "1")
	if code != 0 {
		t.Fatalf("second run should succeed:\n%s", stderr)
	}

	if !strings.Contains(stdout, "Fresh pick") || strings.Contains(stdout, "Seen before") {
		t.Errorf("a recently shown quote should give way to a fresh one, got:\n%s", stdout)
	}
}

// TestMixCommand_SurvivesSourceOutage verifies a failing source degrades
// silently instead of failing the command.
func TestMixCommand_SurvivesSourceOutage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/quotes/popular" {
			w.Write([]byte(`[{"text":"Still here"}]`))
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	env := map[string]string{config.EnvAPIURL: server.URL, config.EnvStore: config.StoreMemory}
	stdout, _, exitCode := runCLI(t, env, "mix")

	if exitCode != 0 {
		t.Errorf("mix should succeed when a source is down, got exit code %d", exitCode)
	}
	if !strings.Contains(stdout, "Still here") {
		t.Errorf("output should contain the fallback quote, got:\n%s", stdout)
	}
}

// TestMixCommand_RejectsInvalidRatio verifies ratio validation.
func TestMixCommand_RejectsInvalidRatio(t *testing.T) {
	env := map[string]string{config.EnvStore: config.StoreMemory}
	_, stderr, exitCode := runCLI(t, env, "mix", "--ratio", "1:zero")

	if exitCode == 0 {
		t.Error("should fail with invalid ratio")
	}
	if !strings.Contains(stderr, "invalid ratio") {
		t.Errorf("error should mention invalid ratio, got:\n%s", stderr)
	}
}

// TestMixCommand_RejectsInvalidSource verifies source validation.
func TestMixCommand_RejectsInvalidSource(t *testing.T) {
	env := map[string]string{config.EnvStore: config.StoreMemory}
	_, stderr, exitCode := runCLI(t, env, "mix", "--sources", "trending")

	if exitCode == 0 {
		t.Error("should fail with invalid source")
	}
	if !strings.Contains(stderr, "invalid source") {
		t.Errorf("error should mention invalid source, got:\n%s", stderr)
	}
}

// TestLikeCommand_RequiresText verifies argument validation.
func TestLikeCommand_RequiresText(t *testing.T) {
	_, stderr, exitCode := runCLISimple(t, "like")

	if exitCode == 0 {
		t.Error("should fail without quote text")
	}
	if !strings.Contains(stderr, "arg") {
		t.Errorf("error should mention arguments, got:\n%s", stderr)
	}
}

// TestLikeCommand_PersistsConfirmedState verifies a confirmed like is
// stored with the server's count and reported by state.
func TestLikeCommand_PersistsConfirmedState(t *testing.T) {
	api := &quotesAPI{}
	env := newQuotesAPI(t, api)

	stdout, stderr, exitCode := runCLI(t, env, "like", "Be kind", "Anon", "--count", "41")
	if exitCode != 0 {
		t.Fatalf("like should succeed, got exit code %d:\n%s", exitCode, stderr)
	}
	if !strings.Contains(stdout, "Liked") || !strings.Contains(stdout, "42 likes") {
		t.Errorf("user should see the confirmed like and server count, got:\n%s", stdout)
	}

	stdout, _, _ = runCLI(t, env, "state")
	if !strings.Contains(stdout, "be kind") || !strings.Contains(stdout, "♥ 42 likes") {
		t.Errorf("state should list the liked quote, got:\n%s", stdout)
	}
	if !strings.Contains(stdout, "Last change") {
		t.Errorf("state should show the last confirmed change, got:\n%s", stdout)
	}

	stdout, _, _ = runCLI(t, env, "like", "be KIND", "anon")
	if !strings.Contains(stdout, "Already liked") {
		t.Errorf("liking a liked quote should be a no-op, got:\n%s", stdout)
	}
	if len(api.likes) != 1 {
		t.Errorf("expected a single like request, got %v", api.likes)
	}
}

// TestUnlikeCommand_UsesDelete verifies unlike sends the removal.
func TestUnlikeCommand_UsesDelete(t *testing.T) {
	api := &quotesAPI{}
	env := newQuotesAPI(t, api)

	runCLI(t, env, "like", "Be kind")
	stdout, stderr, exitCode := runCLI(t, env, "unlike", "Be kind")

	if exitCode != 0 {
		t.Fatalf("unlike should succeed, got exit code %d:\n%s", exitCode, stderr)
	}
	if !strings.Contains(stdout, "Unliked") {
		t.Errorf("user should see the unlike, got:\n%s", stdout)
	}
	if strings.Join(api.likes, ",") != "POST,DELETE" {
		t.Errorf("expected POST then DELETE, got %v", api.likes)
	}
}

// TestLikeCommand_RollsBackOnFailure verifies a rejected like leaves the
// previous state and shows one generic notice.
func TestLikeCommand_RollsBackOnFailure(t *testing.T) {
	api := &quotesAPI{likeCode: http.StatusServiceUnavailable}
	env := newQuotesAPI(t, api)

	_, stderr, exitCode := runCLI(t, env, "like", "Be kind", "--count", "5")

	if exitCode == 0 {
		t.Error("like should fail when the server rejects it")
	}
	if strings.Count(stderr, "Could not update your favorites") != 1 {
		t.Errorf("user should see exactly one failure notice, got:\n%s", stderr)
	}

	stdout, _, _ := runCLI(t, env, "state", "--json")
	var entries map[string]struct {
		Liked bool `json:"liked"`
		Count uint `json:"count"`
	}
	if err := json.Unmarshal([]byte(stdout), &entries); err != nil {
		t.Fatalf("state should be JSON: %v\n%s", err, stdout)
	}
	for _, e := range entries {
		if e.Liked || e.Count != 5 {
			t.Errorf("state should be rolled back to unliked/5, got %+v", e)
		}
	}
}

// TestStateCommand_Empty verifies the empty state message.
func TestStateCommand_Empty(t *testing.T) {
	stdout, _, exitCode := runCLI(t, map[string]string{config.EnvStore: config.StoreFile}, "state")

	if exitCode != 0 {
		t.Errorf("state should succeed, got exit code %d", exitCode)
	}
	if !strings.Contains(strings.ToLower(stdout), "no engagement state") {
		t.Errorf("user should see that nothing is recorded, got:\n%s", stdout)
	}
}

// TestConfigCommand_ShowsDirectory verifies config shows where state lives.
func TestConfigCommand_ShowsDirectory(t *testing.T) {
	dir := t.TempDir()
	stdout, _, exitCode := runCLI(t, map[string]string{config.EnvConfigDir: dir}, "config")

	if exitCode != 0 {
		t.Errorf("config should succeed, got exit code %d", exitCode)
	}
	if !strings.Contains(stdout, dir) {
		t.Errorf("user should see config directory, got:\n%s", stdout)
	}
}

// TestConfigCommand_RejectsBadConfig verifies config errors are surfaced.
func TestConfigCommand_RejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(config.Path(dir), []byte("store: cassandra\n"), 0600); err != nil {
		t.Fatal(err)
	}

	_, stderr, exitCode := runCLI(t, map[string]string{config.EnvConfigDir: dir}, "config")

	if exitCode == 0 {
		t.Error("config should fail on an unknown store")
	}
	if !strings.Contains(stderr, "unknown backend") {
		t.Errorf("error should mention the backend, got:\n%s", stderr)
	}
}

// TestMixCommand_UsesConfiguredRSSFeed verifies an rss feed named in the
// config can serve as a fallback source.
func TestMixCommand_UsesConfiguredRSSFeed(t *testing.T) {
	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(`<?xml version="1.0"?>
<rss version="2.0"><channel><title>Daily</title>
<item><title>Seneca</title><description>While we wait for life, life passes.</description></item>
</channel></rss>`))
	}))
	t.Cleanup(feed.Close)

	api := &quotesAPI{latest: `[{"text":"Latest one","author":"A"}]`, favs: `[]`, popular: `[]`}
	env := newQuotesAPI(t, api)
	cfg := "rss:\n  - name: daily\n    url: " + feed.URL + "\n"
	if err := os.WriteFile(config.Path(env[config.EnvConfigDir]), []byte(cfg), 0600); err != nil {
		t.Fatal(err)
	}

	stdout, stderr, exitCode := runCLI(t, env, "mix", "--limit", "2", "--fallback", "daily")

	if exitCode != 0 {
		t.Fatalf("mix should succeed, got exit code %d:\n%s", exitCode, stderr)
	}
	if !strings.Contains(stdout, "While we wait for life, life passes.") || !strings.Contains(stdout, "Seneca") {
		t.Errorf("feed quotes should fill the shortfall, got:\n%s", stdout)
	}
	if !strings.Contains(stdout, "[FALLBACK daily]") {
		t.Errorf("feed quotes should carry the feed name, got:\n%s", stdout)
	}
}
