package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets the override variables for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvAPIURL, EnvAPIToken, EnvStore, EnvStoreURL, EnvLogLevel} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, 12, cfg.Feed.Target)
	assert.Equal(t, "1:1", cfg.Feed.Ratio)
	assert.Equal(t, []string{"popular"}, cfg.Feed.Fallbacks)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTLDuration())
	assert.Equal(t, 2*time.Second, cfg.CooldownDuration())
	assert.Equal(t, 4*time.Hour, cfg.ExposureWindow())
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoadFromFileKeepsDefaultsForOmittedKeys(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeFile(t, Path(dir), `store: file
feed:
  target: 6
  ratio: "2:1"
  exposure_window_hours: 0.5
`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.Dir)
	assert.Equal(t, StoreFile, cfg.Store)
	assert.Equal(t, 6, cfg.Feed.Target)
	assert.Equal(t, "2:1", cfg.Feed.Ratio)
	assert.Equal(t, 30*time.Minute, cfg.ExposureWindow())
	assert.Equal(t, "https://api.spotlight.app", cfg.APIURL, "omitted keys keep their defaults")
	assert.Equal(t, uint(3), cfg.Feed.MaxOwnerImpressions)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeFile(t, Path(dir), "store: file\nlog_level: warn\n")
	t.Setenv(EnvStore, StoreMemory)
	t.Setenv(EnvAPIURL, "http://localhost:9999")
	t.Setenv(EnvLogLevel, "debug")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, "http://localhost:9999", cfg.APIURL)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".env"), "SPOTLIGHT_API_TOKEN=from-dotenv\n")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "from-dotenv", cfg.APIToken)
}

func TestLoadDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".env"), "SPOTLIGHT_API_TOKEN=from-dotenv\n")
	t.Setenv(EnvAPIToken, "from-env")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.APIToken)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"unknown store", "store: cassandra\n", "unknown backend"},
		{"redis without url", "store: redis\n", "store_url is required"},
		{"relative api url", "api_url: /quotes\n", "api_url must be an absolute URL"},
		{"negative rate", "requests_per_second: -1\n", "requests_per_second must not be negative"},
		{"rss without url", "rss:\n  - name: daily\n", "rss[0].url is required"},
		{"rss shadows builtin", "rss:\n  - name: popular\n    url: https://example.com/feed\n", "duplicate source name"},
		{"negative target", "feed:\n  target: -1\n", "must not be negative"},
		{"bad ttl", "feed:\n  cache_ttl: soon\n", "feed.cache_ttl"},
		{"unknown fallback", "feed:\n  fallbacks: [trending]\n", "unknown source"},
		{"malformed yaml", "feed: [", "parsing config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			dir := t.TempDir()
			writeFile(t, Path(dir), tt.content)

			_, err := Load(dir)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDefaultDirHonorsEnv(t *testing.T) {
	t.Setenv(EnvConfigDir, "/tmp/spotlight-test")
	assert.Equal(t, "/tmp/spotlight-test", DefaultDir())

	t.Setenv(EnvConfigDir, "")
	assert.Equal(t, "spotlight", filepath.Base(DefaultDir()))
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"90s", 90 * time.Second, false},
		{"2h", 2 * time.Hour, false},
		{"7d", 7 * 24 * time.Hour, false},
		{" 1d ", 24 * time.Hour, false},
		{"xd", 0, true},
		{"soon", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuration(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExposureWindowDisabled(t *testing.T) {
	cfg := &Config{}
	assert.Zero(t, cfg.ExposureWindow())
}

func TestLoadRemoteStoreWithURL(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeFile(t, Path(dir), "store: postgres\n")
	t.Setenv(EnvStoreURL, "postgres://localhost:5432/spotlight")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, "postgres://localhost:5432/spotlight", cfg.StoreURL)
}

func TestRSSFeedsBecomeSources(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeFile(t, Path(dir), `rss:
  - name: daily
    url: https://example.com/quotes.rss
feed:
  fallbacks: [popular, daily]
`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"latest", "favorites", "popular", "daily"}, cfg.SourceNames())
	assert.True(t, cfg.KnownSource("daily"))
	assert.False(t, cfg.KnownSource("weekly"))

	feed, ok := cfg.RSSFeed("daily")
	require.True(t, ok)
	assert.Equal(t, "https://example.com/quotes.rss", feed.URL)
}
