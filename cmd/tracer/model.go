package main

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/GriffinCanCode/steptrace/internal/domain/session"
	"github.com/GriffinCanCode/steptrace/internal/domain/trace"
	"github.com/GriffinCanCode/steptrace/internal/shared/id"
)

// debugger is the session surface the stepper drives.
type debugger interface {
	Start(code string) (id.RunID, error)
	Terminate()
	Forward() (session.Snapshot, error)
	Back() (session.Snapshot, error)
	Play() (session.Snapshot, error)
	Pause() (session.Snapshot, error)
	Reset() (session.Snapshot, error)
	Snapshot() session.Snapshot
}

// Messages
type (
	snapshotMsg session.Snapshot
	sourceMsg   string
	watchErrMsg struct{ err error }
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	gutterStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	currentStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("214"))
	nextStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("111"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	panelStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)

	statusStyles = map[session.Status]lipgloss.Style{
		session.StatusIdle:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		session.StatusLoading: lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		session.StatusReady:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		session.StatusPlaying: lipgloss.NewStyle().Foreground(lipgloss.Color("51")),
		session.StatusError:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// Model is the bubbletea model of the interactive stepper.
type Model struct {
	file    string
	source  []string
	dbg     debugger
	updates <-chan session.Snapshot
	reloads <-chan tea.Msg

	snap   session.Snapshot
	err    error
	width  int
	height int
}

// NewModel creates a stepper over dbg. updates carries coalesced snapshots and
// reloads carries sourceMsg or watchErrMsg values; either may be nil.
func NewModel(file, code string, dbg debugger, updates <-chan session.Snapshot, reloads <-chan tea.Msg) Model {
	return Model{
		file:    file,
		source:  splitLines(code),
		dbg:     dbg,
		updates: updates,
		reloads: reloads,
		snap:    dbg.Snapshot(),
	}
}

// Init starts listening for snapshots and file changes.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitFor(m.updates), listen(m.reloads))
}

// Update handles keys, snapshots and reloads.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case snapshotMsg:
		m.snap = session.Snapshot(msg)
		return m, waitFor(m.updates)

	case sourceMsg:
		// A new Start supersedes whatever run is outstanding
		m.source = splitLines(string(msg))
		m.err = nil
		if _, err := m.dbg.Start(string(msg)); err != nil {
			m.err = err
		}
		m.snap = m.dbg.Snapshot()
		return m, listen(m.reloads)

	case watchErrMsg:
		m.err = msg.err
		return m, listen(m.reloads)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var op func() (session.Snapshot, error)

	switch msg.String() {
	case "ctrl+c", "q", "esc":
		m.dbg.Terminate()
		return m, tea.Quit
	case "right", "l", "n":
		op = m.dbg.Forward
	case "left", "h", "p":
		op = m.dbg.Back
	case " ":
		if m.snap.Playing {
			op = m.dbg.Pause
		} else {
			op = m.dbg.Play
		}
	case "r", "home":
		op = m.dbg.Reset
	case "s":
		m.dbg.Terminate()
		m.snap = m.dbg.Snapshot()
		m.err = nil
		return m, nil
	default:
		return m, nil
	}

	snap, err := op()
	m.snap = snap
	m.err = err
	return m, nil
}

// View renders source, variables and output.
func (m Model) View() string {
	var b strings.Builder

	status, ok := statusStyles[m.snap.Status]
	if !ok {
		status = helpStyle
	}
	fmt.Fprintf(&b, "%s  %s", titleStyle.Render(m.file), status.Render(string(m.snap.Status)))
	if m.snap.Total > 0 {
		fmt.Fprintf(&b, "  step %d/%d", m.snap.Step, m.snap.Total)
	}
	b.WriteString("\n\n")

	b.WriteString(m.renderSource())
	b.WriteString("\n")

	if f := m.snap.Frame; f != nil {
		b.WriteString(renderFrame(*f))
		b.WriteString("\n")
	}

	if m.snap.Error != "" {
		b.WriteString(errorStyle.Render(m.snap.Error))
		b.WriteString("\n")
	}
	if m.err != nil {
		b.WriteString(errorStyle.Render(m.err.Error()))
		b.WriteString("\n")
	}

	b.WriteString(helpStyle.Render("←/h back  →/l forward  space play/pause  r reset  s stop  q quit"))
	b.WriteString("\n")
	return b.String()
}

func (m Model) renderSource() string {
	current, next := 0, 0
	if f := m.snap.Frame; f != nil && f.File == trace.UserFile {
		current = f.Highlight.Current
		if f.Highlight.Next != nil {
			next = *f.Highlight.Next
		}
	}

	width := len(fmt.Sprint(len(m.source)))
	var b strings.Builder
	for i, line := range m.source {
		n := i + 1
		marker := "  "
		text := line
		switch n {
		case current:
			marker = "▶ "
			text = currentStyle.Render(line)
		case next:
			marker = "→ "
			text = nextStyle.Render(line)
		}
		fmt.Fprintf(&b, "%s%s %s\n", marker, gutterStyle.Render(fmt.Sprintf("%*d", width, n)), text)
	}
	return b.String()
}

func renderFrame(f trace.Frame) string {
	var vars strings.Builder
	fmt.Fprintf(&vars, "%s %s:%d\n", f.Event, f.FuncName, f.Line)
	writeVars(&vars, "locals", f.Locals)
	writeVars(&vars, "globals", f.Globals)

	out := f.Stdout
	if out == "" {
		out = helpStyle.Render("(no output)")
	}
	return lipgloss.JoinHorizontal(lipgloss.Top,
		panelStyle.Render(strings.TrimRight(vars.String(), "\n")),
		panelStyle.Render("stdout\n"+strings.TrimRight(out, "\n")),
	)
}

func writeVars(b *strings.Builder, title string, vars []trace.Var) {
	if len(vars) == 0 {
		return
	}
	b.WriteString(title + "\n")
	for _, v := range vars {
		fmt.Fprintf(b, "  %s = %s\n", v.Name, v.Value)
	}
}

func splitLines(code string) []string {
	return strings.Split(strings.TrimRight(code, "\n"), "\n")
}

// waitFor delivers the next snapshot.
func waitFor(updates <-chan session.Snapshot) tea.Cmd {
	if updates == nil {
		return nil
	}
	return func() tea.Msg {
		snap, ok := <-updates
		if !ok {
			return nil
		}
		return snapshotMsg(snap)
	}
}

func listen(reloads <-chan tea.Msg) tea.Cmd {
	if reloads == nil {
		return nil
	}
	return func() tea.Msg {
		return <-reloads
	}
}
