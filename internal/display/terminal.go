// Package display provides terminal output formatting for spotlight.
package display

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/gauthierbraillon/spotlight/internal/engagement"
	"github.com/gauthierbraillon/spotlight/internal/identity"
	"github.com/gauthierbraillon/spotlight/internal/mixer"
)

const separator = " • "

// anonymous is shown for quotes that carry no attribution.
const anonymous = "Anonymous"

// TerminalFormatter formats feed items for terminal display.
type TerminalFormatter struct {
	// MaxTextLen truncates quote text when positive.
	MaxTextLen int

	styled bool
	styles styles
}

type styles struct {
	primary   lipgloss.Style
	secondary lipgloss.Style
	fallback  lipgloss.Style
	meta      lipgloss.Style
	liked     lipgloss.Style
}

// NewTerminalFormatter creates a formatter producing plain text.
func NewTerminalFormatter() *TerminalFormatter {
	return &TerminalFormatter{}
}

// NewStyledFormatter creates a formatter that colors its output when w is a
// terminal. Output to anything else stays plain.
func NewStyledFormatter(w io.Writer) *TerminalFormatter {
	r := lipgloss.NewRenderer(w)
	return &TerminalFormatter{styled: true, styles: styles{
		primary:   r.NewStyle().Foreground(lipgloss.Color("6")).Bold(true),
		secondary: r.NewStyle().Foreground(lipgloss.Color("5")).Bold(true),
		fallback:  r.NewStyle().Foreground(lipgloss.Color("3")),
		meta:      r.NewStyle().Faint(true),
		liked:     r.NewStyle().Foreground(lipgloss.Color("1")),
	}}
}

func (f *TerminalFormatter) render(style lipgloss.Style, s string) string {
	if !f.styled {
		return s
	}
	return style.Render(s)
}

// FormatItem formats a single feed item for display.
func (f *TerminalFormatter) FormatItem(item mixer.FeedItem) string {
	var lines []string

	text := item.Text
	if f.MaxTextLen > 0 {
		text = f.TruncateText(text, f.MaxTextLen)
	}

	// Header: [BADGE] "quote"
	lines = append(lines, f.render(f.badgeStyle(item.Provenance), "["+badge(item)+"]")+fmt.Sprintf(" %q", text))

	author := item.Attribution
	if strings.TrimSpace(author) == "" {
		author = anonymous
	}
	meta := "  by " + author
	if !item.CreatedAt.IsZero() {
		meta += separator + f.FormatTimestamp(item.CreatedAt)
	}
	lines = append(lines, f.render(f.styles.meta, meta))

	engaged := f.formatEngagement(item.Liked, item.Count)
	if item.Liked {
		engaged = f.render(f.styles.liked, engaged)
	}
	lines = append(lines, "  "+engaged)

	return strings.Join(lines, "\n") + "\n"
}

func badge(item mixer.FeedItem) string {
	label := strings.ToUpper(string(item.Provenance))
	if item.Source != "" {
		label += " " + strings.ToLower(item.Source)
	}
	return label
}

func (f *TerminalFormatter) badgeStyle(p mixer.Provenance) lipgloss.Style {
	switch p {
	case mixer.ProvenanceSecondary:
		return f.styles.secondary
	case mixer.ProvenanceFallback:
		return f.styles.fallback
	}
	return f.styles.primary
}

// formatEngagement formats like state and count into a single line.
func (f *TerminalFormatter) formatEngagement(liked bool, count uint) string {
	heart := "♡"
	if liked {
		heart = "♥"
	}
	if count == 1 {
		return heart + " 1 like"
	}
	return fmt.Sprintf("%s %d likes", heart, count)
}

// FormatFeed formats multiple feed items for display.
func (f *TerminalFormatter) FormatFeed(items []mixer.FeedItem) string {
	if len(items) == 0 {
		return "No quotes to display.\n"
	}

	var formatted []string
	for _, item := range items {
		formatted = append(formatted, f.FormatItem(item))
	}

	return strings.Join(formatted, "\n---\n\n")
}

// FormatEntries renders engagement entries as a table sorted by key.
func (f *TerminalFormatter) FormatEntries(entries map[string]engagement.Entry) string {
	if len(entries) == 0 {
		return "No engagement state recorded.\n"
	}

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		e := entries[k]
		text, author, _ := strings.Cut(k, identity.Separator)
		if author == "" {
			author = anonymous
		}
		state := "synced"
		if e.Pending {
			state = "pending"
		}
		rows = append(rows, []string{f.TruncateText(text, 48), author, f.formatEngagement(e.Liked, e.Count), state})
	}

	var b strings.Builder
	table := tablewriter.NewTable(&b,
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Formatting: tw.CellFormatting{AutoWrap: tw.WrapNone},
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			},
			Header: tw.CellConfig{
				Formatting: tw.CellFormatting{AutoFormat: tw.On},
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			},
		}),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Separators: tw.Separators{ShowHeader: tw.Off},
			},
		}),
	)
	table.Header([]string{"quote", "author", "likes", "state"})
	table.Bulk(rows)
	table.Render()
	return b.String()
}

// FormatTimestamp formats a timestamp as relative time.
func (f *TerminalFormatter) FormatTimestamp(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return pluralize(int(diff.Minutes()), "minute")
	case diff < 24*time.Hour:
		return pluralize(int(diff.Hours()), "hour")
	case diff < 7*24*time.Hour:
		return pluralize(int(diff.Hours()/24), "day")
	default:
		return t.Format("Jan 2, 2006")
	}
}

// pluralize returns "N unit ago" or "N units ago" based on count.
func pluralize(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}

// TruncateText truncates text to maxLen runes, adding "..." if truncated.
func (f *TerminalFormatter) TruncateText(text string, maxLen int) string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	if maxLen <= 3 {
		return "..."
	}
	return string(runes[:maxLen-3]) + "..."
}
