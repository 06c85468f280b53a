// Package main provides the spotlight CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gauthierbraillon/spotlight/internal/config"
	"github.com/gauthierbraillon/spotlight/internal/display"
	"github.com/gauthierbraillon/spotlight/internal/engagement"
	"github.com/gauthierbraillon/spotlight/internal/identity"
	"github.com/gauthierbraillon/spotlight/internal/mixer"
	"github.com/gauthierbraillon/spotlight/internal/rss"
)

var version = "dev"

// requestTimeout bounds every command that talks to the API.
const requestTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveVersion prefers the ldflags version and falls back to the module
// version recorded by go install.
func resolveVersion(v string, info *debug.BuildInfo) string {
	if v != "dev" {
		return v
	}
	if info == nil || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return "dev"
	}
	return info.Main.Version
}

// newRootCmd creates the root command for spotlight CLI.
func newRootCmd() *cobra.Command {
	info, _ := debug.ReadBuildInfo()

	var configDir string

	rootCmd := &cobra.Command{
		Use:     "spotlight",
		Short:   "Mix quotes from several feeds and keep favorites in sync",
		Long:    "Spotlight builds a de-duplicated, anti-repeat quote feed from the latest, favorites and popular sources, and keeps like state consistent across all of them.",
		Version: resolveVersion(version, info),
	}

	rootCmd.SetVersionTemplate("spotlight version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "Configuration directory (default $SPOTLIGHT_CONFIG_DIR or the XDG config home)")

	rootCmd.AddCommand(newMixCmd(&configDir))
	rootCmd.AddCommand(newToggleCmd(&configDir, true))
	rootCmd.AddCommand(newToggleCmd(&configDir, false))
	rootCmd.AddCommand(newStateCmd(&configDir))
	rootCmd.AddCommand(newConfigCmd(&configDir))

	return rootCmd
}

// newMixCmd creates the mix subcommand.
func newMixCmd(configDir *string) *cobra.Command {
	var (
		target    int
		ratio     string
		sources   string
		fallbacks string
		reload    bool
		noMark    bool
		asJSON    bool
		showStats bool
	)

	cmd := &cobra.Command{
		Use:   "mix",
		Short: "Display the mixed spotlight feed",
		Long:  "Blend the primary sources under a ratio, top up from the fallback chain, and demote quotes shown recently.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configDir, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			if !cmd.Flags().Changed("limit") {
				target = a.cfg.Feed.Target
			}
			if !cmd.Flags().Changed("ratio") {
				ratio = a.cfg.Feed.Ratio
			}
			if !cmd.Flags().Changed("fallback") {
				fallbacks = strings.Join(a.cfg.Feed.Fallbacks, ",")
			}

			weights, err := mixer.ParseRatio(ratio)
			if err != nil {
				return err
			}
			primary, err := a.sources(splitList(sources))
			if err != nil {
				return err
			}
			chain, err := a.sources(splitList(fallbacks))
			if err != nil {
				return err
			}

			window := a.cfg.ExposureWindow()
			m := mixer.New(
				mixer.WithEngagement(a.engagement),
				mixer.WithExposure(a.exposure),
				mixer.WithTTL(a.cfg.CacheTTLDuration()),
				mixer.WithCooldown(a.cfg.CooldownDuration()),
				mixer.WithOverfetch(a.cfg.Feed.Overfetch),
				mixer.WithExposureWindow(window),
				mixer.WithMaxOwnerImpressions(a.cfg.Feed.MaxOwnerImpressions),
				mixer.WithMarkShown(!noMark),
				mixer.WithLogger(a.logger),
				mixer.WithMetrics(a.metrics),
			)

			// A mutation newer than the cache TTL means upstream caches are stale.
			if at, ok := engagement.LastMutation(a.kv); ok && time.Since(at) < a.cfg.CacheTTLDuration() {
				reload = true
			}

			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()

			items := m.Build(ctx, mixer.Request{
				Target:      target,
				Ratio:       weights,
				Sources:     primary,
				Fallbacks:   chain,
				ForceReload: reload,
			})

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(items); err != nil {
					return fmt.Errorf("failed to encode feed: %w", err)
				}
			} else {
				fmt.Fprint(cmd.OutOrStdout(), display.NewStyledFormatter(cmd.OutOrStdout()).FormatFeed(items))
			}

			if showStats {
				return a.writeMetrics(cmd.ErrOrStderr())
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&target, "limit", "l", 12, "Number of quotes to display")
	cmd.Flags().StringVarP(&ratio, "ratio", "r", "1:1", "Weights of the primary sources, e.g. 2:1")
	cmd.Flags().StringVarP(&sources, "sources", "s", "latest,favorites", "Primary sources in priority order (latest, favorites, popular or a configured rss feed)")
	cmd.Flags().StringVar(&fallbacks, "fallback", "popular", "Fallback chain used when primary sources run short")
	cmd.Flags().BoolVar(&reload, "reload", false, "Bypass every cache")
	cmd.Flags().BoolVar(&noMark, "no-mark", false, "Do not record the displayed quotes as shown")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the feed as JSON")
	cmd.Flags().BoolVar(&showStats, "metrics", false, "Print collected metrics to stderr")

	return cmd
}

// sources maps source names onto API fetchers.
func (a *app) sources(names []string) ([]mixer.Source, error) {
	out := make([]mixer.Source, 0, len(names))
	for _, name := range names {
		var fetch mixer.Fetcher
		switch name {
		case "latest":
			fetch = a.client.FetchLatest
		case "favorites":
			scope := a.cfg.Feed.FavoritesScope
			fetch = func(ctx context.Context, limit int, noCache bool) ([]identity.Item, error) {
				return a.client.FetchFavorites(ctx, scope, limit, noCache)
			}
		case "popular":
			fetch = a.client.FetchPopular
		default:
			feed, ok := a.cfg.RSSFeed(name)
			if !ok {
				return nil, fmt.Errorf("invalid source %q: must be one of %s", name, strings.Join(a.cfg.SourceNames(), ", "))
			}
			fetch = rss.NewSource(feed.URL).Fetch
		}
		out = append(out, mixer.Source{Name: name, Fetch: fetch})
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// newToggleCmd creates the like or unlike subcommand.
func newToggleCmd(configDir *string, like bool) *cobra.Command {
	var count uint

	use, verb := "unlike", "Remove a quote from your favorites"
	if like {
		use, verb = "like", "Add a quote to your favorites"
	}

	cmd := &cobra.Command{
		Use:   use + " <text> [author]",
		Short: verb,
		Long:  verb + ". The change shows immediately and is rolled back if the server rejects it.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configDir, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			item := identity.Item{Text: args[0]}
			if len(args) > 1 {
				item.Attribution = args[1]
			}
			if strings.TrimSpace(item.Text) == "" {
				return errors.New("quote text must not be empty")
			}
			item.Key = identity.Key(item.Text, item.Attribution)

			if e, ok := a.engagement.Get(item.Key); ok && e.Liked == like {
				fmt.Fprintf(cmd.OutOrStdout(), "Already %sd.\n", use)
				return nil
			}
			// What the user sees before toggling seeds an unknown entry.
			item.Liked = !like
			item.Count = count

			syncer := engagement.NewSynchronizer(a.engagement, a.client,
				engagement.WithMutationMarker(a.kv),
				engagement.WithSyncLogger(a.logger),
				engagement.WithNotifier(engagement.NotifierFunc(func(string, error) {
					fmt.Fprintln(cmd.ErrOrStderr(), "Could not update your favorites. Please try again.")
				})),
			)

			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()

			settled, err := syncer.Toggle(ctx, item)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s %q (%s)\n", pastTense(like), item.Text, pluralLikes(settled.Count))
			return nil
		},
	}

	cmd.Flags().UintVar(&count, "count", 0, "Like count currently displayed for the quote")

	return cmd
}

func pastTense(like bool) string {
	if like {
		return "Liked"
	}
	return "Unliked"
}

func pluralLikes(n uint) string {
	if n == 1 {
		return "1 like"
	}
	return fmt.Sprintf("%d likes", n)
}

// newStateCmd creates the state subcommand.
func newStateCmd(configDir *string) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show the persisted like state",
		Long:  "List every quote with local like state, and the time of the last confirmed change.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configDir, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			entries := a.engagement.Entries()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}

			fmt.Fprint(cmd.OutOrStdout(), display.NewTerminalFormatter().FormatEntries(entries))
			if at, ok := engagement.LastMutation(a.kv); ok {
				fmt.Fprintf(cmd.OutOrStdout(), "Last change: %s\n", at.Local().Format(time.RFC1123))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the state as JSON")

	return cmd
}

// newConfigCmd creates the config subcommand.
func newConfigCmd(configDir *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show configuration",
		Long:  "Show where spotlight reads its configuration and the values in effect.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configDir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config directory: %s\n", cfg.Dir)
			fmt.Fprintf(out, "Config file: %s\n", config.Path(cfg.Dir))
			fmt.Fprintf(out, "API URL: %s\n", cfg.APIURL)
			fmt.Fprintf(out, "Store: %s\n", cfg.Store)
			fmt.Fprintf(out, "Feed: %d quotes, ratio %s, fallbacks %s\n", cfg.Feed.Target, cfg.Feed.Ratio, strings.Join(cfg.Feed.Fallbacks, ","))
			fmt.Fprintf(out, "Exposure window: %s\n", cfg.ExposureWindow())
			return nil
		},
	}

	return cmd
}
