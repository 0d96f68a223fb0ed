package output

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// PrettyFormatter formats output with colors and styling using lipgloss.
type PrettyFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PrettyFormatter) Format(w *bytes.Buffer, r *Report) error {
	w.WriteString(f.formatHeader(r))
	w.WriteString("\n")
	w.WriteString(f.formatTable(r))
	w.WriteString(f.formatFooter(r))
	w.WriteString("\n")

	if len(r.Warnings) > 0 {
		w.WriteString(f.formatWarnings(r.Warnings))
	}
	return nil
}

func (f *PrettyFormatter) formatHeader(r *Report) string {
	var lines []string

	lines = append(lines, fmt.Sprintf("%s %s  %s %s",
		LabelStyle.Render("Run:"), ValueStyle.Render(r.RunID),
		LabelStyle.Render("Kind:"), ValueStyle.Render(r.Kind)))

	info := []string{
		fmt.Sprintf("%s %s", LabelStyle.Render("Mode:"), ValueStyle.Render(r.Mode)),
		fmt.Sprintf("%s %s", LabelStyle.Render("Checkpoints:"), ValueStyle.Render(fmt.Sprint(r.Checkpoints))),
	}
	if r.Nice != nil {
		info = append(info, fmt.Sprintf("%s %s", LabelStyle.Render("Nice:"), ValueStyle.Render(fmt.Sprintf("%+d", *r.Nice))))
	}
	lines = append(lines, strings.Join(info, "  "))

	lines = append(lines, fmt.Sprintf("%s %s %s",
		LabelStyle.Render("Calibration:"),
		NumberStyle.Render(r.Calibration.HumanRate()),
		MutedStyle.Render("("+humanize.Comma(int64(r.Calibration.Loops))+" loops in "+formatDuration(r.Calibration.Elapsed.Seconds())+")")))

	if !r.Complete {
		lines = append(lines, WarningStyle.Bold(true).Render("Run incomplete"))
	}

	return HeaderBox.Render(strings.Join(lines, "\n"))
}

func (f *PrettyFormatter) formatTable(r *Report) string {
	header, rows := r.Table()
	if len(rows) == 0 {
		return MutedStyle.Render("  No results recorded\n")
	}

	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], len(cell))
		}
	}

	var sb strings.Builder
	sb.WriteString(" ")
	for i, h := range header {
		sb.WriteString(" ")
		sb.WriteString(TableHeaderStyle.Render(padLeft(h, widths[i])))
	}
	sb.WriteString("\n")

	for _, row := range rows {
		sb.WriteString(" ")
		for i, cell := range row {
			sb.WriteString(" ")
			style := ValueStyle
			if i == 0 {
				style = NumberStyle
			}
			sb.WriteString(style.Render(padLeft(cell, widths[i])))
			sb.WriteString("  ")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (f *PrettyFormatter) formatFooter(r *Report) string {
	var parts []string

	levels := len(r.Metrics)
	if levels > 0 {
		parts = append(parts, fmt.Sprintf("%s %s", LabelStyle.Render("Levels:"), ValueStyle.Render(fmt.Sprint(levels))))
	}
	parts = append(parts, fmt.Sprintf("%s %s", LabelStyle.Render("Workers:"), ValueStyle.Render(fmt.Sprint(len(r.Workers)))))

	if d := r.Duration(); d > 0 {
		parts = append(parts, fmt.Sprintf("%s %s", LabelStyle.Render("Took:"), ValueStyle.Render(formatDuration(d.Seconds()))))
	}
	if !r.StartedAt.IsZero() {
		parts = append(parts, MutedStyle.Render("started "+humanize.Time(r.StartedAt)))
	}

	status := SuccessStyle.Render("complete")
	if !r.Complete {
		status = ErrorStyle.Render("incomplete")
	}
	parts = append(parts, status)

	return FooterBox.Render(strings.Join(parts, "  "))
}

func (f *PrettyFormatter) formatWarnings(warnings []string) string {
	var sb strings.Builder
	sb.WriteString(WarningStyle.Bold(true).Render("Warnings:"))
	sb.WriteString("\n")
	for _, warning := range warnings {
		sb.WriteString(WarningStyle.Render("  " + warning))
		sb.WriteString("\n")
	}
	return sb.String()
}

// padLeft pads a string with spaces on the left to achieve the desired width.
func padLeft(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat(" ", width-len(s)) + s
}

// formatDuration formats seconds in a human-friendly way.
func formatDuration(sec float64) string {
	if sec < 1 {
		return fmt.Sprintf("%.0fms", sec*1000)
	}
	if sec < 60 {
		return fmt.Sprintf("%.1fs", sec)
	}
	minutes := int(sec) / 60
	seconds := int(sec) % 60
	if minutes < 60 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
}

func init() {
	Register("pretty", func() Formatter {
		return &PrettyFormatter{}
	})
}

var _ Formatter = (*PrettyFormatter)(nil)
