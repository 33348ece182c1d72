package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"ferroci/internal/core"
)

var (
	colorSuccess = lipgloss.Color("#2CD7C7")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
	colorMuted   = lipgloss.Color("#2C4A54")
)

type styles struct {
	title   lipgloss.Style
	muted   lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	err     lipgloss.Style
	box     lipgloss.Style
}

// newStyles binds the styles to w so colors are dropped when w is not a terminal.
func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		title:   r.NewStyle().Bold(true),
		muted:   r.NewStyle().Foreground(colorMuted),
		success: r.NewStyle().Foreground(colorSuccess),
		warning: r.NewStyle().Foreground(colorWarning),
		err:     r.NewStyle().Foreground(colorError),
		box:     r.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1),
	}
}

func (s styles) state(state core.JobState) string {
	switch state {
	case core.JobSucceeded:
		return s.success.Render("✓ succeeded")
	case core.JobFailed:
		return s.err.Render("✗ failed")
	case core.JobRunning:
		return s.warning.Render("… running")
	default:
		return s.muted.Render("○ pending")
	}
}

func (s styles) status(status core.RunStatus) lipgloss.Style {
	switch status {
	case core.RunSuccess:
		return s.success
	case core.RunCanceled:
		return s.warning
	default:
		return s.err
	}
}

// renderSummary prints one line per job and the run outcome.
func renderSummary(w io.Writer, res *core.RunResult) {
	st := newStyles(w)

	names := sortedJobNames(res)
	width := 0
	for _, name := range names {
		width = max(width, len(name))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", st.title.Render("Run"), st.muted.Render(res.ID))
	for _, name := range names {
		job := res.Jobs[name]
		line := fmt.Sprintf("%-*s  %s", width, name, st.state(job.State))
		if job.State.Finished() {
			line += st.muted.Render(fmt.Sprintf("  %s", job.FinishedAt.Sub(job.StartedAt).Round(time.Millisecond)))
		}
		if job.Err != nil {
			line += "\n" + strings.Repeat(" ", width+2) + st.err.Render(job.Err.Error())
		}
		b.WriteString(line + "\n")
	}
	fmt.Fprintf(&b, "\n%s in %s: %d succeeded, %d failed, %d pending",
		st.status(res.Status).Bold(true).Render(strings.ToUpper(string(res.Status))),
		res.Duration().Round(time.Millisecond),
		len(res.Succeeded()), len(res.Failed()), len(res.Pending()))
	if res.Status == core.RunStall {
		fmt.Fprintf(&b, "\n%s", st.err.Render("no runnable job among: "+strings.Join(res.Pending(), ", ")))
	}

	fmt.Fprintln(w, st.box.Render(b.String()))
}

// sortedJobNames orders jobs by start time; jobs that never ran come last, by name.
func sortedJobNames(res *core.RunResult) []string {
	names := make([]string, 0, len(res.Jobs))
	for name := range res.Jobs {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := res.Jobs[names[i]].StartedAt, res.Jobs[names[j]].StartedAt
		if a.IsZero() != b.IsZero() {
			return !a.IsZero()
		}
		if !a.Equal(b) {
			return a.Before(b)
		}
		return names[i] < names[j]
	})
	return names
}

// renderValid prints the jobs of a valid pipeline with their dependencies.
func renderValid(w io.Writer, path string, p *core.Pipeline) {
	st := newStyles(w)
	fmt.Fprintf(w, "%s %s: %d jobs\n", st.success.Render("✓"), path, p.Len())
	for _, name := range p.Names() {
		job := p.Jobs[name]
		deps := st.muted.Render("no dependencies")
		if len(job.DependsOn) > 0 {
			deps = "after " + strings.Join(job.DependsOn, ", ")
		}
		fmt.Fprintf(w, "  %s  %d steps, %s\n", name, len(job.Steps), deps)
	}
}
