// Package config loads spotlight settings from the embedded defaults, the
// user's config.yaml, an optional .env file and the environment, in that
// order of increasing precedence.
package config

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed default_config.yaml
var defaultConfigFS embed.FS

// Environment variables that override the file.
const (
	EnvConfigDir = "SPOTLIGHT_CONFIG_DIR"
	EnvAPIURL    = "SPOTLIGHT_API_URL"
	EnvAPIToken  = "SPOTLIGHT_API_TOKEN"
	EnvStore     = "SPOTLIGHT_STORE"
	EnvStoreURL  = "SPOTLIGHT_STORE_URL"
	EnvLogLevel  = "SPOTLIGHT_LOG_LEVEL"
)

// Store backends.
const (
	StoreSQLite   = "sqlite"
	StoreFile     = "file"
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Sources the quotes API serves.
var builtinSources = []string{"latest", "favorites", "popular"}

// Feed holds the mixer settings.
type Feed struct {
	Target              int      `yaml:"target" validate:"gte=0"`
	Ratio               string   `yaml:"ratio"`
	FavoritesScope      string   `yaml:"favorites_scope"`
	Fallbacks           []string `yaml:"fallbacks"`
	CacheTTL            string   `yaml:"cache_ttl" validate:"omitempty,duration"`
	Cooldown            string   `yaml:"cooldown" validate:"omitempty,duration"`
	Overfetch           int      `yaml:"overfetch" validate:"gte=0"`
	ExposureWindowHours float64  `yaml:"exposure_window_hours" validate:"gte=0"`
	MaxOwnerImpressions uint     `yaml:"max_owner_impressions"`
}

// RSSFeed is a syndication feed of quotes usable as a named source.
type RSSFeed struct {
	Name string `yaml:"name" validate:"required"`
	URL  string `yaml:"url" validate:"required,url"`
}

// Config is the resolved configuration.
type Config struct {
	APIURL             string    `yaml:"api_url" validate:"required,url"`
	APIToken           string    `yaml:"api_token,omitempty"`
	Store              string    `yaml:"store" validate:"oneof=sqlite file memory redis postgres"`
	StoreURL           string    `yaml:"store_url,omitempty"`
	LogLevel           string    `yaml:"log_level"`
	RequestsPerSecond  float64   `yaml:"requests_per_second" validate:"gte=0"`
	EngagementCapacity int       `yaml:"engagement_capacity" validate:"gte=0"`
	Feed               Feed      `yaml:"feed"`
	RSS                []RSSFeed `yaml:"rss" validate:"dive"`

	// Dir is the directory the config was loaded from and where state lives.
	Dir string `yaml:"-"`
}

// DefaultDir returns $SPOTLIGHT_CONFIG_DIR, or the XDG config home.
func DefaultDir() string {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return dir
	}
	return filepath.Join(xdg.ConfigHome, "spotlight")
}

// Path returns the config file path inside dir.
func Path(dir string) string {
	return filepath.Join(dir, "config.yaml")
}

// CacheTTLDuration returns the feed cache TTL.
func (c *Config) CacheTTLDuration() time.Duration {
	return durationOr(c.Feed.CacheTTL, 5*time.Minute)
}

// CooldownDuration returns the build cooldown.
func (c *Config) CooldownDuration() time.Duration {
	return durationOr(c.Feed.Cooldown, 2*time.Second)
}

// ExposureWindow returns the anti-repeat window. Zero disables demotion.
func (c *Config) ExposureWindow() time.Duration {
	if c.Feed.ExposureWindowHours <= 0 {
		return 0
	}
	return time.Duration(c.Feed.ExposureWindowHours * float64(time.Hour))
}

// SlogLevel parses the configured log level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// ParseDuration accepts Go durations and a day suffix such as "7d".
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

func durationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func loadDefaults() (*Config, error) {
	data, err := defaultConfigFS.ReadFile("default_config.yaml")
	if err != nil {
		return nil, fmt.Errorf("reading embedded config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded config: %w", err)
	}
	return &cfg, nil
}

// Load resolves the configuration rooted at dir. A missing config.yaml or
// .env is not an error.
func Load(dir string) (*Config, error) {
	cfg, err := loadDefaults()
	if err != nil {
		return nil, err
	}
	if dir == "" {
		dir = DefaultDir()
	}
	cfg.Dir = dir

	data, err := os.ReadFile(Path(dir))
	switch {
	case err == nil:
		// Unmarshal over the defaults so omitted keys keep them.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", Path(dir), err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// godotenv never overrides variables already set in the environment.
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvAPIURL); v != "" {
		cfg.APIURL = v
	}
	if v := os.Getenv(EnvAPIToken); v != "" {
		cfg.APIToken = v
	}
	if v := os.Getenv(EnvStore); v != "" {
		cfg.Store = v
	}
	if v := os.Getenv(EnvStoreURL); v != "" {
		cfg.StoreURL = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		_, err := ParseDuration(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks field constraints, then the rules that span fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fieldError(verrs[0])
		}
		return err
	}

	if (c.Store == StoreRedis || c.Store == StorePostgres) && c.StoreURL == "" {
		return fmt.Errorf("store_url is required for the %s store", c.Store)
	}

	seen := make(map[string]bool)
	for _, f := range c.RSS {
		if slices.Contains(builtinSources, f.Name) || seen[f.Name] {
			return fmt.Errorf("rss: duplicate source name %q", f.Name)
		}
		seen[f.Name] = true
	}
	for _, fb := range c.Feed.Fallbacks {
		if !c.KnownSource(fb) {
			return fmt.Errorf("feed.fallbacks: unknown source %q (valid: %s)", fb, strings.Join(c.SourceNames(), ", "))
		}
	}
	return nil
}

// fieldError renders a validation failure with the yaml path of the field.
func fieldError(fe validator.FieldError) error {
	_, path, _ := strings.Cut(fe.Namespace(), ".")
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", path)
	case "oneof":
		return fmt.Errorf("%s %q: unknown backend (valid: %s)", path, fe.Value(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gte":
		return fmt.Errorf("%s must not be negative, got %v", path, fe.Value())
	case "url":
		return fmt.Errorf("%s must be an absolute URL, got %q", path, fe.Value())
	case "duration":
		return fmt.Errorf("%s: invalid duration %q", path, fe.Value())
	}
	return fmt.Errorf("%s failed %s validation", path, fe.Tag())
}

// SourceNames lists the built-in sources followed by the configured feeds.
func (c *Config) SourceNames() []string {
	names := slices.Clone(builtinSources)
	for _, f := range c.RSS {
		names = append(names, f.Name)
	}
	return names
}

// KnownSource reports whether name is a built-in source or a configured feed.
func (c *Config) KnownSource(name string) bool {
	return slices.Contains(c.SourceNames(), name)
}

// RSSFeed returns the configured feed named name.
func (c *Config) RSSFeed(name string) (RSSFeed, bool) {
	for _, f := range c.RSS {
		if f.Name == name {
			return f, true
		}
	}
	return RSSFeed{}, false
}
