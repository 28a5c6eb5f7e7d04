package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	bar "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/sift/pkg/sift/progress"
)

// ErrCancelled is returned by Run when the user quit before the work finished.
var ErrCancelled = errors.New("cancelled")

// EventMsg carries one progress event into the model.
type EventMsg progress.Event

// DoneMsg is sent when the work finished.
type DoneMsg struct {
	Err error
}

// eventsClosedMsg is sent when the event channel closed.
type eventsClosedMsg struct{}

// ProgressModel shows the progress of an operation on one root.
type ProgressModel struct {
	title     string
	root      string
	events    <-chan progress.Event
	event     progress.Event
	spinner   spinner.Model
	bar       bar.Model
	startTime time.Time
	width     int
	done      bool
	cancelled bool
	err       error
}

// NewProgressModel creates a model fed by events. A nil channel shows
// only the spinner and elapsed time.
func NewProgressModel(title, root string, events <-chan progress.Event) ProgressModel {
	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = fg(primaryColor)

	return ProgressModel{
		title:     title,
		root:      root,
		events:    events,
		spinner:   s,
		bar:       bar.New(bar.WithDefaultGradient(), bar.WithoutPercentage()),
		startTime: time.Now(),
		width:     80,
	}
}

// waitForEvent reads the next event from ch.
func waitForEvent(ch <-chan progress.Event) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return EventMsg(ev)
	}
}

// Init starts the spinner and the event reader.
func (m ProgressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.events))
}

// Update handles messages for the progress model.
func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.cancelled = true
			return m, tea.Quit
		}
		return m, nil

	case EventMsg:
		ev := progress.Event(msg)
		// Percent never moves backwards within one operation.
		ev.Percent = max(ev.Percent, m.event.Percent)
		m.event = ev
		return m, waitForEvent(m.events)

	case eventsClosedMsg:
		m.events = nil
		return m, nil

	case DoneMsg:
		m.done = true
		m.err = msg.Err
		if msg.Err == nil {
			m.event.Percent = 100
		}
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress model.
func (m ProgressModel) View() string {
	contentWidth := max(m.width-4, 40)

	var b strings.Builder
	b.WriteString(m.renderHeader(contentWidth))
	b.WriteString("\n")
	b.WriteString(rule(contentWidth))
	b.WriteString("\n\n")

	switch {
	case m.done && m.err != nil:
		b.WriteString(failureStyle.Render(fmt.Sprintf("  Error: %v", m.err)))
	case m.done:
		b.WriteString(doneStyle.Render("  Done"))
	default:
		current := m.event.CurrentPath
		if current == "" {
			current = m.root
		}
		b.WriteString(fmt.Sprintf("  %s %s", m.spinner.View(),
			pathStyle.Render(truncatePath(current, contentWidth-8))))
	}
	b.WriteString("\n\n")

	m.bar.Width = contentWidth - 4
	b.WriteString("  ")
	b.WriteString(m.bar.ViewAs(float64(m.event.Percent) / 100))
	b.WriteString("\n\n")

	b.WriteString(m.renderStats(contentWidth))

	return frameStyle.Width(m.width - 2).Render(b.String())
}

// renderHeader renders the title line with the quit hint.
func (m ProgressModel) renderHeader(width int) string {
	title := titleStyle.Render("  " + m.title)
	hint := hintStyle.Render("[q to stop]")
	spacing := max(width-lipgloss.Width(title)-lipgloss.Width(hint), 1)
	return title + strings.Repeat(" ", spacing) + hint
}

// renderStats renders the counter boxes.
func (m ProgressModel) renderStats(totalWidth int) string {
	// Four bordered boxes plus the separators must fit within totalWidth.
	boxWidth := max((totalWidth-14)/4, 10)

	boxes := []string{
		renderStatBox("Files", humanize.Comma(m.event.FilesFound), boxWidth),
		renderStatBox("Folders", humanize.Comma(m.event.FoldersFound), boxWidth),
		renderStatBox("Progress", fmt.Sprintf("%d%%", m.event.Percent), boxWidth),
		renderStatBox("Time", formatDuration(time.Since(m.startTime)), boxWidth),
	}
	parts := []string{"  "}
	for i, box := range boxes {
		if i > 0 {
			parts = append(parts, " ")
		}
		parts = append(parts, box)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

// renderStatBox renders a single stat box.
func renderStatBox(label, value string, width int) string {
	content := lipgloss.JoinVertical(lipgloss.Center,
		center(counterLabelStyle.Render(label), width-4),
		center(counterValueStyle.Render(value), width-4))
	return counterBoxStyle.Width(width).Render(content)
}

// formatDuration formats a duration as M:SS.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	m := d / time.Minute
	s := (d % time.Minute) / time.Second
	return fmt.Sprintf("%d:%02d", m, s)
}

// Percent returns the last reported completion percentage.
func (m ProgressModel) Percent() int {
	return m.event.Percent
}

// IsDone returns true once the work finished.
func (m ProgressModel) IsDone() bool {
	return m.done
}

// Err returns the error the work finished with.
func (m ProgressModel) Err() error {
	return m.err
}

// Run shows progress on out while work runs and returns work's error.
// Quitting early returns ErrCancelled; the caller is expected to cancel
// the context work runs under.
func Run(ctx context.Context, out io.Writer, title, root string, events <-chan progress.Event, work func() error) error {
	p := tea.NewProgram(NewProgressModel(title, root, events),
		tea.WithOutput(out),
		tea.WithContext(ctx),
	)

	go func() {
		p.Send(DoneMsg{Err: work()})
	}()

	final, err := p.Run()
	if err != nil {
		return err
	}
	m, ok := final.(ProgressModel)
	if !ok {
		return nil
	}
	if m.cancelled {
		return ErrCancelled
	}
	return m.err
}
