// Package tui renders job progress and summaries for the terminal.
// Simple, streaming output: a progress bar while running, styled blocks after.
package tui

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"

	"github.com/physobj/physobj/pkg/framework"
	"github.com/physobj/physobj/pkg/inspect"
)

// Colors
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	codeStyle    = lipgloss.NewStyle().Background(lipgloss.Color("#1a1a1a")).Foreground(white).Padding(0, 1)
)

const rule = "  ─────────────────────────────────────"

// PrintHeader prints the job banner.
func PrintHeader(w io.Writer, version string, inputs []string, outputPath string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("  PHYSOBJ")+mutedStyle.Render(" "+version))
	fmt.Fprintln(w, mutedStyle.Render("  Generator-level particle extraction"))
	fmt.Fprintln(w)
	for _, in := range inputs {
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Input:"), titleStyle.Render(filepath.Base(in)))
	}
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Output:"), codeStyle.Render(outputPath))
	fmt.Fprintln(w)
}

// Progress shows processed events while a job runs.
type Progress struct {
	bar *progressbar.ProgressBar
}

// NewProgress creates a progress bar. A total below zero shows a spinner.
func NewProgress(w io.Writer, total int64) *Progress {
	bar := progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("  events"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("evt"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
	return &Progress{bar: bar}
}

// Update moves the bar to the report's event count.
func (p *Progress) Update(rep framework.Report) {
	p.bar.Set64(rep.EventsRead)
}

// Finish completes and clears the bar.
func (p *Progress) Finish() {
	p.bar.Finish()
}

// PrintReport prints results after a job.
func PrintReport(w io.Writer, rep *framework.Report) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, successStyle.Render("  ✓ JOB COMPLETE"))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s %s %s\n",
		mutedStyle.Render("Events:"),
		titleStyle.Render(formatNumber(rep.EventsProcessed)),
		mutedStyle.Render(fmt.Sprintf("(%d read, %d skipped)", rep.EventsRead, rep.EventsSkipped)))
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Runs:"),
		titleStyle.Render(fmt.Sprintf("%d runs, %d luminosity blocks", rep.Runs, rep.LuminosityBlocks)))

	for _, f := range rep.Files {
		loc := f.Result.Path
		if f.Remote != "" {
			loc = f.Remote
		}
		fmt.Fprintf(w, "  %s %s %s\n",
			mutedStyle.Render(f.Tree+":"),
			codeStyle.Render(loc),
			mutedStyle.Render(fmt.Sprintf("(%s rows, %s)", formatNumber(f.Result.RowsWritten), formatBytes(f.Result.BytesWritten))))
	}

	if rep.Duration > 0 {
		fmt.Fprintf(w, "  %s %s %s\n",
			mutedStyle.Render("Time:"),
			titleStyle.Render(formatDuration(rep.Duration)),
			mutedStyle.Render(fmt.Sprintf("(%s events/sec)", formatNumber(int64(rep.EventsPerSecond())))))
	}
	fmt.Fprintln(w)
}

// PrintSkipped reports a job that already completed.
func PrintSkipped(w io.Writer, outputPath string, completedAt time.Time) {
	fmt.Fprintf(w, "  %s %s %s\n",
		successStyle.Render("✓"),
		codeStyle.Render(outputPath),
		mutedStyle.Render("already complete at "+completedAt.Format(time.RFC3339)+" (use --force to rerun)"))
}

// PrintError prints a failed job.
func PrintError(w io.Writer, err error) {
	fmt.Fprintln(w, accentStyle.Render("  ✗ "+err.Error()))
}

// PrintSummary prints an output table summary.
func PrintSummary(w io.Writer, s *inspect.Summary) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("  "+filepath.Base(s.Path)))
	fmt.Fprintln(w, mutedStyle.Render(rule))
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Rows:"), titleStyle.Render(fmt.Sprintf("%d", s.Rows)))
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Particles:"), titleStyle.Render(fmt.Sprintf("%d", s.Particles)))
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("nGenPart:"),
		titleStyle.Render(fmt.Sprintf("min %d, max %d, mean %.2f", s.MinCount, s.MaxCount, s.MeanCount)))

	fmt.Fprintln(w)
	fmt.Fprintln(w, accentStyle.Render("▸ COLUMNS"))
	for _, c := range s.Columns {
		fmt.Fprintf(w, "  %-16s %s\n", c.Name, mutedStyle.Render(c.Type))
	}

	if len(s.TopPDG) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, accentStyle.Render("▸ TOP PDG IDS"))
		for _, p := range s.TopPDG {
			fmt.Fprintf(w, "  %8d %s\n", p.PdgID, mutedStyle.Render(fmt.Sprintf("%d", p.Count)))
		}
	}

	fmt.Fprintln(w, mutedStyle.Render(rule))
	if s.Mismatched == 0 {
		fmt.Fprintln(w, successStyle.Render("  ✓ list lengths match nGenPart"))
	} else {
		fmt.Fprintln(w, accentStyle.Render(fmt.Sprintf("  ✗ %d rows with list lengths different from nGenPart", s.Mismatched)))
	}
	fmt.Fprintln(w)
}

// PrintPlugins lists registered analyzer plugins with their declared parameters.
func PrintPlugins(w io.Writer, plugins []framework.Plugin) {
	sort.Slice(plugins, func(i, j int) bool { return plugins[i].Name < plugins[j].Name })
	for _, p := range plugins {
		fmt.Fprintln(w, titleStyle.Render("  "+p.Name))
		d := p.Description
		if d == nil || d.IsUnknown() {
			fmt.Fprintln(w, mutedStyle.Render("    accepts any parameters"))
		}
		if d == nil {
			continue
		}
		allowed := d.Allowed()
		keys := make([]string, 0, len(allowed))
		for k := range allowed {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "    %s %s\n", codeStyle.Render(k), mutedStyle.Render(allowed[k]))
		}
	}
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}
