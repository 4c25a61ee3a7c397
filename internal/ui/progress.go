// Package ui renders live build progress in the terminal.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"polybind/internal/driver"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// unitRow is the state of one unit. lowered records the lowerings that
// finished, in order.
type unitRow struct {
	path    string
	stage   driver.Stage
	active  bool
	lowered []driver.Stage
	failed  bool
	closed  bool
	elapsed time.Duration
}

func (r *unitRow) label() string {
	switch {
	case r.closed && r.failed:
		return "error"
	case r.closed:
		return "done"
	case r.active:
		return verb(r.stage)
	default:
		return "queued"
	}
}

// fraction estimates how far the unit is: binding is a fifth of the work
// and every finished lowering another third.
func (r *unitRow) fraction() float64 {
	if r.closed {
		return 1
	}
	f := 0.0
	if r.stage != "" && r.stage != driver.StageLoad {
		f = 0.2
	}
	f += float64(len(r.lowered)) / 3
	return min(f, 0.9)
}

type progressModel struct {
	title   string
	events  <-chan driver.Event
	spinner spinner.Model
	bar     progress.Model
	rows    []*unitRow
	byPath  map[string]*unitRow
	phase   string
	width   int
	done    bool
}

type eventMsg driver.Event
type doneMsg struct{}

// NewProgressModel returns a Bubble Tea model showing one row per unit
// and the build-wide phase. It quits when events is closed.
func NewProgressModel(title string, units []string, events <-chan driver.Event) tea.Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = activeStyle

	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = 76

	m := &progressModel{
		title:   title,
		events:  events,
		spinner: sp,
		bar:     bar,
		byPath:  make(map[string]*unitRow, len(units)),
		width:   80,
	}
	for _, u := range units {
		row := &unitRow{path: u}
		m.rows = append(m.rows, row)
		m.byPath[u] = row
	}
	return m
}

func (m *progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.next())
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		return m, tea.Batch(m.applyEvent(driver.Event(msg)), m.next())
	case doneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
			m.bar.Width = max(msg.Width-4, 10)
		}
		return m, nil
	case progress.FrameMsg:
		bar, cmd := m.bar.Update(msg)
		m.bar = bar.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m *progressModel) next() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return doneMsg{}
		}
		return eventMsg(ev)
	}
}

func (m *progressModel) applyEvent(ev driver.Event) tea.Cmd {
	if ev.Unit == "" {
		if ev.Status == driver.StatusWorking {
			m.phase = verb(ev.Stage)
		} else if ev.Status == driver.StatusDone {
			m.phase = ""
		}
		return nil
	}
	row, ok := m.byPath[ev.Unit]
	if !ok {
		return nil
	}
	if ev.Elapsed > 0 {
		row.elapsed = ev.Elapsed
	}
	switch {
	case ev.Stage == driver.StageFinish:
		row.closed = true
		row.active = false
		row.failed = row.failed || ev.Status == driver.StatusError
	case ev.Status == driver.StatusWorking:
		row.stage = ev.Stage
		row.active = true
	case ev.Status == driver.StatusError:
		row.failed = true
		fallthrough
	case ev.Status == driver.StatusDone:
		row.stage = ev.Stage
		if ev.Stage == driver.StagePoly || ev.Stage == driver.StageMono {
			row.lowered = append(row.lowered, ev.Stage)
		}
	}
	total := 0.0
	for _, r := range m.rows {
		total += r.fraction()
	}
	return m.bar.SetPercent(total / float64(len(m.rows)))
}

func (m *progressModel) counts() (closed, failed int) {
	for _, r := range m.rows {
		if r.closed {
			closed++
			if r.failed {
				failed++
			}
		}
	}
	return closed, failed
}

func (m *progressModel) View() string {
	if len(m.rows) == 0 {
		return ""
	}
	closed, failed := m.counts()
	header := fmt.Sprintf("%s %d/%d units", m.title, closed, len(m.rows))
	if failed > 0 {
		header += fmt.Sprintf(", %d failed", failed)
	}
	if m.phase != "" {
		header += " (" + m.phase + ")"
	}
	if m.done {
		header = "done: " + header
	} else {
		header = m.spinner.View() + " " + header
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n\n")
	nameWidth := max(m.width-32, 20)
	for _, r := range m.rows {
		label := r.label()
		fmt.Fprintf(&b, "  %s %-*s %s", styleFor(label).Render(fmt.Sprintf("%10s", label)),
			nameWidth, truncate(r.path, nameWidth), lowerings(r.lowered))
		if r.closed && r.elapsed > 0 {
			fmt.Fprintf(&b, " %s", pendingStyle.Render(r.elapsed.Round(time.Millisecond).String()))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	if m.done {
		b.WriteString(m.bar.ViewAs(1))
	} else {
		b.WriteString(m.bar.View())
	}
	b.WriteString("\n")
	return b.String()
}

func lowerings(done []driver.Stage) string {
	parts := make([]string, 0, len(done))
	for _, st := range done {
		parts = append(parts, string(st))
	}
	return strings.Join(parts, "+")
}

func verb(stage driver.Stage) string {
	switch stage {
	case driver.StageLoad:
		return "loading"
	case driver.StageEligible:
		return "checking"
	case driver.StageBind:
		return "binding"
	case driver.StagePoly, driver.StageMono:
		return "lowering"
	case driver.StageDual:
		return "validating"
	}
	return ""
}

func styleFor(label string) lipgloss.Style {
	switch label {
	case "done":
		return okStyle
	case "error":
		return failStyle
	case "queued":
		return pendingStyle
	}
	return activeStyle
}

// truncate shortens value to width terminal cells.
func truncate(value string, width int) string {
	if width <= 0 || runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width, "...")
}
