package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/schedlab/pkg/schedlab/logging"
	"github.com/jamesainslie/schedlab/pkg/schedlab/recordwatch"
	"github.com/jamesainslie/schedlab/pkg/schedlab/sweep"
	"github.com/jamesainslie/schedlab/pkg/schedlab/types"
)

// logLines is the number of log entries shown below the levels.
const logLines = 5

// tickInterval refreshes elapsed time and the log pane.
const tickInterval = 250 * time.Millisecond

// EventMsg carries an orchestrator event.
type EventMsg sweep.Event

// ArrivalMsg reports a progress record written by a worker.
type ArrivalMsg recordwatch.Arrival

// DoneMsg is sent when the experiment returns.
type DoneMsg struct {
	Err error
}

type tickMsg time.Time

// levelView is what the view knows about one level.
type levelView struct {
	nproc   int
	state   types.LevelState
	arrived int
	reaped  int
	failed  int
	metric  *types.ConcurrencyMetric
	err     error
	started time.Time
}

// Model is the live view.
type Model struct {
	title     string
	levels    []*levelView
	index     map[int]*levelView
	spinner   spinner.Model
	logs      *logging.LogBuffer
	startTime time.Time
	width     int
	height    int
	done      bool
	detached  bool
	err       error
}

// NewModel returns a view expecting the given levels in order.
func NewModel(opts Options) Model {
	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = lipgloss.NewStyle().Foreground(primaryColor)

	m := Model{
		title:     opts.Title,
		index:     make(map[int]*levelView, len(opts.Levels)),
		spinner:   s,
		logs:      opts.Logs,
		startTime: time.Now(),
		width:     80,
		height:    24,
	}
	for _, n := range opts.Levels {
		m.level(n)
	}
	return m
}

// level returns the view of nproc, adding it if it was not announced.
func (m *Model) level(nproc int) *levelView {
	if lv, ok := m.index[nproc]; ok {
		return lv
	}
	lv := &levelView{nproc: nproc}
	m.levels = append(m.levels, lv)
	m.index[nproc] = lv
	return lv
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init starts the spinner and the refresh tick.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if !m.done {
				m.detached = true
			}
			return m, tea.Quit
		}
		return m, nil

	case EventMsg:
		m.apply(sweep.Event(msg))
		return m, nil

	case ArrivalMsg:
		m.level(msg.NProc).arrived++
		return m, nil

	case DoneMsg:
		m.done = true
		m.err = msg.Err
		return m, tea.Quit

	case tickMsg:
		if m.done {
			return m, nil
		}
		return m, tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) apply(ev sweep.Event) {
	lv := m.level(ev.NProc)
	lv.state = ev.State
	if ev.State == types.LevelSpawning && lv.started.IsZero() {
		lv.started = time.Now()
	}
	if ev.Usage != nil {
		lv.reaped++
		if !ev.Usage.Exit.Success() {
			lv.failed++
		}
	}
	if ev.Metric != nil {
		lv.metric = ev.Metric
	}
	if ev.Err != nil {
		lv.err = ev.Err
	}
}

// Detached reports whether the user closed the view before the
// experiment finished.
func (m Model) Detached() bool {
	return m.detached
}

// Fraction is the share of work finished: recorded levels plus the
// reaped share of the active one, weighted by worker count.
func (m Model) Fraction() float64 {
	var total, finished int
	for _, lv := range m.levels {
		total += lv.nproc
		switch {
		case lv.state == types.LevelRecorded:
			finished += lv.nproc
		case lv.state != types.LevelIdle:
			finished += min(lv.reaped, lv.nproc)
		}
	}
	if total == 0 {
		return 0
	}
	return float64(finished) / float64(total)
}

// View renders the model.
func (m Model) View() string {
	var b strings.Builder

	contentWidth := max(m.width-4, 40)

	b.WriteString("\n")
	b.WriteString(m.renderHeader(contentWidth))
	b.WriteString("\n")
	b.WriteString(renderDivider(contentWidth))
	b.WriteString("\n")

	b.WriteString(m.renderLevels(max(m.height-18, 3)))
	b.WriteString("\n")

	b.WriteString(m.renderStatus(contentWidth))
	b.WriteString("\n\n")
	b.WriteString(m.renderProgressBar(contentWidth))
	b.WriteString("\n\n")
	b.WriteString(m.renderStats(contentWidth))
	b.WriteString("\n")
	b.WriteString(m.renderLogs(contentWidth))

	content := b.String()
	if pad := m.height - 2 - (strings.Count(content, "\n") + 1); pad > 0 {
		content += strings.Repeat("\n", pad)
	}
	return outerBoxStyle.Width(m.width - 2).Height(m.height - 2).Render(content)
}

func (m Model) renderHeader(width int) string {
	title := titleStyle.Render("  " + m.title)
	hint := mutedTextStyle.Render("[q to close]")
	spacing := max(width-lipgloss.Width(title)-lipgloss.Width(hint), 1)
	return title + strings.Repeat(" ", spacing) + hint
}

// renderLevels shows at most rows levels, scrolled to keep the active
// level visible.
func (m Model) renderLevels(rows int) string {
	var b strings.Builder
	b.WriteString(columnHeaderStyle.Render(fmt.Sprintf("  %5s  %-9s  %9s  %9s  %12s  %10s",
		"NPROC", "STATE", "RECORDS", "REAPED", "TURNAROUND", "JOBS/S")))
	b.WriteString("\n")

	first := 0
	for i, lv := range m.levels {
		if lv.state != types.LevelIdle {
			first = i
		}
	}
	first = max(min(first-rows/2, len(m.levels)-rows), 0)
	last := min(first+rows, len(m.levels))

	for _, lv := range m.levels[first:last] {
		state := fmt.Sprintf("%-9s", lv.state)
		line := fmt.Sprintf("  %5d  %s  %9s  %9s",
			lv.nproc,
			stateStyle(lv.state).Render(state),
			fmt.Sprintf("%d/%d", lv.arrived, lv.nproc),
			reapedLabel(lv),
		)
		if lv.metric != nil {
			line += metricStyle.Render(fmt.Sprintf("  %11.3fs  %10.3f", lv.metric.AvgTurnaround, lv.metric.Throughput))
		} else if lv.state != types.LevelIdle && !lv.state.Terminal() {
			line += mutedTextStyle.Render(fmt.Sprintf("  %12s", formatDuration(time.Since(lv.started))))
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	if hidden := len(m.levels) - last; hidden > 0 {
		b.WriteString(mutedTextStyle.Render(fmt.Sprintf("  ... %d more", hidden)))
		b.WriteString("\n")
	}
	return b.String()
}

func reapedLabel(lv *levelView) string {
	s := fmt.Sprintf("%d/%d", lv.reaped, lv.nproc)
	if lv.failed > 0 {
		s += fmt.Sprintf(" (%d!)", lv.failed)
	}
	return s
}

func (m Model) renderStatus(width int) string {
	if m.done {
		if m.err != nil {
			return errorTextStyle.Render("  Stopped: " + truncate(m.err.Error(), width-12))
		}
		return successTextStyle.Render("  Run complete")
	}
	for _, lv := range m.levels {
		if lv.err != nil {
			return errorTextStyle.Render(fmt.Sprintf("  Level %d aborted: %s", lv.nproc, truncate(lv.err.Error(), width-24)))
		}
	}
	return fmt.Sprintf("  %s Measuring", m.spinner.View())
}

func (m Model) renderProgressBar(width int) string {
	barWidth := max(width-12, 10)
	filled := int(m.Fraction() * float64(barWidth))

	var bar strings.Builder
	bar.WriteString("  ")
	bar.WriteString(progressFillStyle.Render(repeatChar('█', filled)))
	bar.WriteString(progressEmptyStyle.Render(repeatChar('░', barWidth-filled)))
	bar.WriteString(fmt.Sprintf(" %3.0f%%", m.Fraction()*100))
	return bar.String()
}

func (m Model) renderStats(totalWidth int) string {
	boxWidth := max((totalWidth-10)/4, 10)

	var recorded, workers, failed int
	for _, lv := range m.levels {
		if lv.state == types.LevelRecorded {
			recorded++
		}
		workers += lv.reaped
		failed += lv.failed
	}

	return lipgloss.JoinHorizontal(lipgloss.Top,
		"  ", renderStatBox("Levels", fmt.Sprintf("%d/%d", recorded, len(m.levels)), boxWidth),
		" ", renderStatBox("Workers", humanize.Comma(int64(workers)), boxWidth),
		" ", renderStatBox("Failed", humanize.Comma(int64(failed)), boxWidth),
		" ", renderStatBox("Time", formatDuration(time.Since(m.startTime)), boxWidth))
}

func renderStatBox(label, value string, width int) string {
	content := lipgloss.JoinVertical(lipgloss.Center,
		center(statsLabelStyle.Render(label), width-4),
		center(statsValueStyle.Render(value), width-4))
	return statsBoxStyle.Width(width).Render(content)
}

func (m Model) renderLogs(width int) string {
	if m.logs == nil {
		return ""
	}
	var b strings.Builder
	for _, e := range m.logs.Last(logLines) {
		line := fmt.Sprintf("  %s %-8s %s", e.Time.Format("15:04:05"), e.Component, e.Message)
		b.WriteString(logLevelStyle(e.Level).Render(truncate(line, width)))
		b.WriteString("\n")
	}
	return b.String()
}

func truncate(s string, n int) string {
	if n <= 3 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
