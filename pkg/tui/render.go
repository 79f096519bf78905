// Package tui renders run output for a terminal: stage progress while the
// pipeline runs and summary tables once it is done.
package tui

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	ltable "github.com/charmbracelet/lipgloss/table"

	"github.com/storeflow/storeflow/pkg/extract"
	"github.com/storeflow/storeflow/pkg/stage"
	"github.com/storeflow/storeflow/pkg/state"
	"github.com/storeflow/storeflow/pkg/validate"
)

var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	warning = lipgloss.Color("#FFAA00")
	white   = lipgloss.Color("#FFFFFF")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(warning).Bold(true)
	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
)

// Printer writes rendered output. A quiet printer writes nothing.
type Printer struct {
	w     io.Writer
	quiet bool
}

// NewPrinter creates a printer over w.
func NewPrinter(w io.Writer, quiet bool) *Printer {
	return &Printer{w: w, quiet: quiet}
}

// Print writes a rendered block followed by a blank line.
func (p *Printer) Print(block string) {
	if p.quiet || block == "" {
		return
	}
	fmt.Fprintln(p.w, block)
	fmt.Fprintln(p.w)
}

// Writer returns the underlying writer.
func (p *Printer) Writer() io.Writer { return p.w }

// Quiet reports whether output is suppressed.
func (p *Printer) Quiet() bool { return p.quiet }

// Header renders the banner line.
func Header(version string) string {
	return titleStyle.Render("STOREFLOW") + mutedStyle.Render(" "+version) + "\n" +
		mutedStyle.Render("Batch e-commerce ETL into a star-schema warehouse")
}

func grid(headers []string, rows [][]string) string {
	return ltable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == ltable.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		String()
}

// RenderExtract renders per-source extraction counts.
func RenderExtract(s *extract.Summary) string {
	if s == nil {
		return ""
	}
	rows := make([][]string, 0, len(s.Tables))
	for _, ts := range s.Tables {
		status := ts.Format
		if ts.Missing {
			status = "missing"
		}
		rows = append(rows, []string{
			ts.Name,
			status,
			strconv.Itoa(ts.Rows),
			strconv.Itoa(ts.Columns),
			strconv.Itoa(ts.Nulls),
			strconv.Itoa(ts.FilteredRows),
		})
	}
	return accentStyle.Render("▸ EXTRACT") + "\n" +
		grid([]string{"source", "format", "rows", "columns", "nulls", "filtered"}, rows)
}

// RenderStaging renders per-source staging counts in source order.
func RenderStaging(stats stage.Stats, order []string) string {
	if len(stats) == 0 {
		return ""
	}
	rows := make([][]string, 0, len(stats))
	for _, name := range order {
		st, ok := stats[name]
		if !ok {
			continue
		}
		rows = append(rows, []string{
			name,
			strconv.Itoa(st.InputRows),
			strconv.Itoa(st.DuplicatesDropped),
			strconv.Itoa(st.NullKeys),
			strconv.Itoa(st.CoercionFailures()),
			strconv.Itoa(st.OutputRows),
		})
	}
	return accentStyle.Render("▸ STAGE") + "\n" +
		grid([]string{"source", "in", "duplicates", "null keys", "coercions", "out"}, rows)
}

// RenderReport renders validation results and the overall verdict.
func RenderReport(r *validate.Report) string {
	if r == nil {
		return ""
	}
	rows := make([][]string, 0, len(r.Results))
	for _, res := range r.Results {
		var status string
		switch {
		case res.Skipped:
			status = "skipped: " + res.Reason
		case res.Err != "":
			status = "error: " + res.Err
		case res.Violations > 0:
			status = "failed"
		default:
			status = "ok"
		}
		rows = append(rows, []string{string(res.Check), res.ID, strconv.Itoa(res.Violations), status})
	}

	var verdict string
	if r.Passed {
		verdict = successStyle.Render("✓ ALL VALIDATION CHECKS PASSED")
	} else {
		verdict = warningStyle.Render(fmt.Sprintf("⚠ %d CHECKS FAILED", len(r.Failures())))
	}
	return accentStyle.Render("▸ VALIDATE") + "\n" +
		grid([]string{"check", "rule", "violations", "status"}, rows) + "\n" + verdict
}

// RenderState renders a stored run state.
func RenderState(backend string, st *state.RunState) string {
	var b strings.Builder
	b.WriteString(accentStyle.Render("▸ RUN STATE") + " " + mutedStyle.Render("("+backend+")") + "\n")
	if st == nil || st.LastRun == nil {
		b.WriteString(mutedStyle.Render("no previous run; the next run is a full load"))
		return b.String()
	}
	fmt.Fprintf(&b, "%s %s\n", mutedStyle.Render("Last run:"), titleStyle.Render(st.LastRun.Format(time.RFC3339)))
	if st.RunID != "" {
		fmt.Fprintf(&b, "%s %s\n", mutedStyle.Render("Run id:"), st.RunID)
	}

	names := make([]string, 0, len(st.Tables))
	for name := range st.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		rows = append(rows, []string{name, st.Tables[name][state.LastDateKey]})
	}
	b.WriteString(grid([]string{"source", "last_date"}, rows))
	return b.String()
}

// RenderOutcome renders the final status line.
func RenderOutcome(status string, exitCode int, elapsed time.Duration) string {
	line := fmt.Sprintf("%s %s", status, mutedStyle.Render("in "+formatDuration(elapsed)))
	switch exitCode {
	case 0:
		if strings.Contains(status, "warning") {
			return warningStyle.Render("⚠ ") + line
		}
		return successStyle.Render("✓ ") + line
	default:
		return accentStyle.Render("✗ ") + line + mutedStyle.Render(fmt.Sprintf(" (exit %d)", exitCode))
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
