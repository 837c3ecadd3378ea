// Package tui renders a live view of the running scheduler: per-task
// progress, cycle statistics, upcoming triggers and recent runs.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"threader/internal/app"
	"threader/internal/threader"
)

const (
	refreshInterval = 250 * time.Millisecond
	historyRows     = 5
	callTimeout     = time.Second
)

// Source is the daemon the view observes and controls.
type Source interface {
	Status(ctx context.Context, historyLimit int) (app.Status, error)
	SetPaused(ctx context.Context, name string, paused bool) (bool, error)
	RunNow(ctx context.Context, name string) error
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	pausedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801"))
	sleepStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#06B6D4"))
	selStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#4CAF50"))
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#444444")).Padding(0, 1)
)

type statusMsg struct {
	status app.Status
	err    error
}

type tickMsg struct{}

type actionMsg struct {
	text string
	err  error
}

// Model is the bubbletea model of the live view.
type Model struct {
	ctx    context.Context
	src    Source
	keys   KeyMap
	bar    progress.Model
	status app.Status
	loaded bool
	err    error
	note   string

	selected int
	width    int
}

func New(ctx context.Context, src Source) Model {
	return Model{
		ctx:   ctx,
		src:   src,
		keys:  DefaultKeyMap(),
		bar:   progress.New(progress.WithDefaultGradient(), progress.WithWidth(30)),
		width: 80,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), m.tick())
}

func (m Model) fetch() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, callTimeout)
		defer cancel()
		st, err := m.src.Status(ctx, historyRows)
		return statusMsg{status: st, err: err}
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(10, min(40, msg.Width/3))
		return m, nil
	case tickMsg:
		return m, tea.Batch(m.fetch(), m.tick())
	case statusMsg:
		m.err = msg.err
		if msg.err == nil {
			m.status = msg.status
			m.loaded = true
			if n := len(m.status.Tasks); m.selected >= n {
				m.selected = max(0, n-1)
			}
		}
		return m, nil
	case actionMsg:
		m.note = msg.text
		if msg.err != nil {
			m.note = "error: " + msg.err.Error()
		}
		return m, m.fetch()
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Up):
		if m.selected > 0 {
			m.selected--
		}
	case key.Matches(msg, m.keys.Down):
		if m.selected < len(m.status.Tasks)-1 {
			m.selected++
		}
	case key.Matches(msg, m.keys.Pause):
		if name, ok := m.selectedName(); ok {
			return m, m.togglePause(name)
		}
	case key.Matches(msg, m.keys.RunNow):
		if name, ok := m.selectedName(); ok {
			return m, m.runNow(name)
		}
	}
	return m, nil
}

func (m Model) selectedName() (string, bool) {
	if m.selected < 0 || m.selected >= len(m.status.Tasks) {
		return "", false
	}
	return m.status.Tasks[m.selected], true
}

func (m Model) togglePause(name string) tea.Cmd {
	pause := true
	if it, ok := m.item(name); ok && it.Paused {
		pause = false
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, callTimeout)
		defer cancel()
		ok, err := m.src.SetPaused(ctx, name, pause)
		switch {
		case err != nil:
			return actionMsg{err: err}
		case !ok:
			return actionMsg{text: name + " is not running"}
		case pause:
			return actionMsg{text: name + " paused"}
		default:
			return actionMsg{text: name + " resumed"}
		}
	}
}

func (m Model) runNow(name string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, callTimeout)
		defer cancel()
		if err := m.src.RunNow(ctx, name); err != nil {
			return actionMsg{err: err}
		}
		return actionMsg{text: name + " started"}
	}
}

// item returns the scheduler's view of the running instance of name.
func (m Model) item(name string) (threader.TaskInfo, bool) {
	for _, it := range m.status.Scheduler.Items {
		if it.Name == name {
			return it, true
		}
	}
	return threader.TaskInfo{}, false
}

func (m Model) View() string {
	if !m.loaded {
		if m.err != nil {
			return errorStyle.Render("status unavailable: " + m.err.Error())
		}
		return "Connecting to scheduler…"
	}

	sections := []string{m.viewHeader(), boxStyle.Render(m.viewTasks())}
	if tr := m.viewTriggers(); tr != "" {
		sections = append(sections, boxStyle.Render(tr))
	}
	if h := m.viewHistory(); h != "" {
		sections = append(sections, boxStyle.Render(h))
	}
	sections = append(sections, m.viewFooter())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) viewHeader() string {
	s := m.status.Scheduler
	state := "idle"
	if s.Armed {
		state = "running"
	} else if s.Tasks > 0 {
		state = "halted"
	}
	title := titleStyle.Render("threader") + " " + mutedStyle.Render(state)
	line := fmt.Sprintf("priority %.2f · %.0f fps (%s) · cycles %d · throttled %d · overruns %d · budget %s · last %s",
		s.Priority, s.FrameRate, s.CycleInterval.Round(time.Microsecond),
		s.Cycles, s.Throttled, s.Overruns,
		s.LastBudget.Round(time.Microsecond), s.LastElapsed.Round(time.Microsecond))
	return lipgloss.JoinVertical(lipgloss.Left, title, mutedStyle.Render(line))
}

func (m Model) viewTasks() string {
	if len(m.status.Tasks) == 0 {
		return mutedStyle.Render("no tasks configured")
	}
	lines := make([]string, 0, len(m.status.Tasks))
	for i, name := range m.status.Tasks {
		cursor := "  "
		label := fmt.Sprintf("%-14s", name)
		if i == m.selected {
			cursor = selStyle.Render("> ")
			label = selStyle.Render(label)
		}

		it, running := m.item(name)
		var state, bar string
		switch {
		case !running:
			state = mutedStyle.Render("waiting")
		case it.Paused:
			state = pausedStyle.Render("paused")
		case it.Suspended:
			state = sleepStyle.Render("sleeping")
		default:
			state = "running"
		}
		if running && it.HasProgress {
			bar = m.bar.ViewAs(it.Progress)
		}
		detail := ""
		if running {
			detail = mutedStyle.Render(fmt.Sprintf("slices %d · steps %d", it.Slices, it.Iterations))
		}
		lines = append(lines, strings.Join(nonEmpty(cursor+label, fmt.Sprintf("%-8s", state), bar, detail), " "))
	}
	return strings.Join(lines, "\n")
}

func (m Model) viewTriggers() string {
	tr := m.status.Trigger
	if len(tr.Schedules) == 0 {
		return ""
	}
	lines := []string{titleStyle.Render("Triggers") + mutedStyle.Render(fmt.Sprintf("  fired %d · started %d · skipped %d · failed %d", tr.Fired, tr.Started, tr.Skipped, tr.Failed))}
	for _, s := range tr.Schedules {
		next := "-"
		if !s.Next.IsZero() {
			next = time.Until(s.Next).Round(time.Second).String()
		}
		lines = append(lines, fmt.Sprintf("%-14s %-20s next in %s", s.Name, s.Spec, next))
	}
	return strings.Join(lines, "\n")
}

func (m Model) viewHistory() string {
	if len(m.status.History) == 0 {
		return ""
	}
	lines := []string{titleStyle.Render("Recent runs")}
	for _, r := range m.status.History {
		lines = append(lines, fmt.Sprintf("%s  %-14s %-9s %10s  slices %d",
			r.Finished.Local().Format("15:04:05"), r.Task, r.Kind, r.Elapsed.Round(time.Millisecond), r.Slices))
	}
	return strings.Join(lines, "\n")
}

func (m Model) viewFooter() string {
	hints := make([]string, 0, len(m.keys.hints()))
	for _, b := range m.keys.hints() {
		h := b.Help()
		hints = append(hints, h.Key+" "+h.Desc)
	}
	footer := mutedStyle.Render(strings.Join(hints, " · "))
	switch {
	case m.err != nil:
		footer = errorStyle.Render(m.err.Error()) + "\n" + footer
	case m.note != "":
		footer = m.note + "\n" + footer
	}
	return footer
}

func nonEmpty(parts ...string) []string {
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Run shows the live view until the user quits or ctx is done.
func Run(ctx context.Context, src Source) error {
	p := tea.NewProgram(New(ctx, src), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && (errors.Is(err, tea.ErrProgramKilled) || ctx.Err() != nil) {
		return nil
	}
	return err
}
