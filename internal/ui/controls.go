package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"cinepro/internal/config"
	"cinepro/internal/media"
	"cinepro/internal/playback"
	cpprogress "cinepro/internal/progress"
	"cinepro/internal/resolver"
)

const (
	seekStep    = 10.0
	posterSize  = "w342"
	maxWidth    = 80
	pickerLines = 8
)

// Session is the part of the playback controller the controls drive.
type Session interface {
	Snapshot() playback.Snapshot
	Updates() <-chan playback.Snapshot
	SeekBy(delta float64) error
	NextEpisode(ctx context.Context) error
	PreviousEpisode(ctx context.Context) error
	SelectSource(i int) error
	Start(ctx context.Context, key media.ContentKey) error
}

type controlKeys struct {
	back, forward, next, prev, source, episodes, quit key.Binding
	up, down, choose, close                           key.Binding
}

func newControlKeys(nextButton bool) controlKeys {
	k := controlKeys{
		back: key.NewBinding(
			key.WithKeys("left", "h"),
			key.WithHelp("←", "-10s"),
		),
		forward: key.NewBinding(
			key.WithKeys("right", "l"),
			key.WithHelp("→", "+10s"),
		),
		next: key.NewBinding(
			key.WithKeys("n"),
			key.WithHelp("n", "next episode"),
		),
		prev: key.NewBinding(
			key.WithKeys("p"),
			key.WithHelp("p", "previous episode"),
		),
		source: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "next source"),
		),
		episodes: key.NewBinding(
			key.WithKeys("e"),
			key.WithHelp("e", "episodes"),
		),
		quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑", "up"),
		),
		down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓", "down"),
		),
		choose: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "play"),
		),
		close: key.NewBinding(
			key.WithKeys("esc", "e"),
			key.WithHelp("esc", "close"),
		),
	}
	k.next.SetEnabled(nextButton)
	k.prev.SetEnabled(nextButton)
	k.episodes.SetEnabled(false)
	return k
}

func (k controlKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.back, k.forward, k.next, k.prev, k.source, k.episodes, k.quit}
}

func (k controlKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

// pickerKeys is the help shown while the episode list is open.
type pickerKeys controlKeys

func (k pickerKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.up, k.down, k.choose, k.close, k.quit}
}

func (k pickerKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

type styles struct {
	title, accent, faint, err lipgloss.Style
}

func newStyles(theme string) styles {
	accent := lipgloss.Color("#" + theme)
	return styles{
		title:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Background(accent).Padding(0, 1),
		accent: lipgloss.NewStyle().Foreground(accent),
		faint:  lipgloss.NewStyle().Faint(true),
		err:    lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F5F")).Bold(true),
	}
}

type (
	snapshotMsg  playback.Snapshot
	updatesDone  struct{}
	actionErrMsg struct{ err error }
)

// Controls is the bubbletea model shown while a session plays.
type Controls struct {
	ctx     context.Context
	session Session
	cfg     config.PlayerConfiguration

	keys   controlKeys
	styles styles
	help   help.Model
	bar    progress.Model

	snap   playback.Snapshot
	status string

	// episode picker
	picking bool
	cursor  int
}

// NewControls builds the controls for session, themed and gated by cfg.
func NewControls(ctx context.Context, session Session, cfg config.PlayerConfiguration) Controls {
	bar := progress.New(progress.WithSolidFill("#"+cfg.Theme), progress.WithoutPercentage())
	bar.Width = maxWidth - 20
	m := Controls{
		ctx:     ctx,
		session: session,
		cfg:     cfg,
		keys:    newControlKeys(cfg.NextButton),
		styles:  newStyles(cfg.Theme),
		help:    help.New(),
		bar:     bar,
	}
	return m.setSnapshot(session.Snapshot())
}

// setSnapshot stores snap and enables the episode list when it has entries.
func (m Controls) setSnapshot(snap playback.Snapshot) Controls {
	m.snap = snap
	m.keys.episodes.SetEnabled(len(m.episodes()) > 0)
	if m.picking && len(m.episodes()) == 0 {
		m.picking = false
	}
	return m
}

func (m Controls) episodes() []media.Episode {
	if !m.snap.Key.Kind.Episodic() || m.snap.Metadata == nil {
		return nil
	}
	return m.snap.Metadata.Episodes
}

func (m Controls) Init() tea.Cmd {
	return m.waitForUpdate()
}

func (m Controls) waitForUpdate() tea.Cmd {
	updates := m.session.Updates()
	return func() tea.Msg {
		snap, ok := <-updates
		if !ok {
			return updatesDone{}
		}
		return snapshotMsg(snap)
	}
}

func (m Controls) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case snapshotMsg:
		m = m.setSnapshot(playback.Snapshot(msg))
		if m.snap.State == playback.Ended {
			return m, tea.Quit
		}
		return m, m.waitForUpdate()

	case updatesDone:
		return m, tea.Quit

	case actionErrMsg:
		m.status = msg.err.Error()
		return m, nil

	case tea.WindowSizeMsg:
		m.bar.Width = min(msg.Width, maxWidth) - 20
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		m.status = ""
		if m.picking {
			return m.updatePicker(msg)
		}
		switch {
		case key.Matches(msg, m.keys.quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.episodes):
			m.picking = true
			m.cursor = 0
			for i, ep := range m.episodes() {
				if ep.Number == m.snap.Key.Episode {
					m.cursor = i
				}
			}
			return m, nil
		case key.Matches(msg, m.keys.back):
			return m, m.action(func() error { return m.session.SeekBy(-seekStep) })
		case key.Matches(msg, m.keys.forward):
			return m, m.action(func() error { return m.session.SeekBy(seekStep) })
		case key.Matches(msg, m.keys.next):
			return m, m.action(func() error { return m.session.NextEpisode(m.ctx) })
		case key.Matches(msg, m.keys.prev):
			return m, m.action(func() error { return m.session.PreviousEpisode(m.ctx) })
		case key.Matches(msg, m.keys.source):
			if n := len(m.snap.Sources); n > 0 {
				next := (m.snap.SourceIndex + 1) % n
				return m, m.action(func() error { return m.session.SelectSource(next) })
			}
		}
	}
	return m, nil
}

func (m Controls) updatePicker(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	eps := m.episodes()
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.close):
		m.picking = false
	case key.Matches(msg, m.keys.up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.down):
		if m.cursor < len(eps)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.choose):
		m.picking = false
		if m.cursor >= len(eps) {
			return m, nil
		}
		target := m.snap.Key
		target.Episode = eps[m.cursor].Number
		return m, m.action(func() error { return m.session.Start(m.ctx, target) })
	}
	return m, nil
}

// action runs f off the update loop and reports a failure in the status line.
func (m Controls) action(f func() error) tea.Cmd {
	return func() tea.Msg {
		if err := f(); err != nil {
			return actionErrMsg{err: err}
		}
		return nil
	}
}

func (m Controls) View() string {
	var b strings.Builder
	s := m.snap

	if m.cfg.ShowTitle {
		title := s.Title()
		if title == "" {
			title = s.Key.String()
		}
		if s.Key.Kind.Episodic() {
			title += fmt.Sprintf(" · S%02dE%02d", s.Key.Season, s.Key.Episode)
		}
		b.WriteString(m.styles.title.Render(title))
		b.WriteString("\n")
	}
	if m.cfg.ShowPoster && s.Metadata != nil && s.Metadata.PosterPath != "" {
		b.WriteString(m.styles.faint.Render(resolver.ImageURL(posterSize, s.Metadata.PosterPath)))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	switch s.State {
	case playback.Failed:
		b.WriteString(m.styles.err.Render(s.Message))
		b.WriteString("\n")
	case playback.Idle, playback.Resolving:
		b.WriteString(m.styles.faint.Render("Finding sources..."))
		b.WriteString("\n")
	default:
		b.WriteString(m.sourceLine())
		b.WriteString("\n")
		b.WriteString(m.positionLine())
		b.WriteString("\n")
	}

	if m.picking {
		b.WriteString("\n")
		b.WriteString(m.pickerView())
	}

	if m.status != "" {
		b.WriteString(m.styles.err.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	if m.picking {
		b.WriteString(m.help.View(pickerKeys(m.keys)))
	} else {
		b.WriteString(m.help.View(m.keys))
	}
	return b.String()
}

// pickerView renders a window of the season's episodes around the cursor.
func (m Controls) pickerView() string {
	eps := m.episodes()
	start := max(0, min(m.cursor-pickerLines/2, len(eps)-pickerLines))
	end := min(len(eps), start+pickerLines)

	var b strings.Builder
	b.WriteString(m.styles.accent.Render(fmt.Sprintf("Season %d", m.snap.Key.Season)))
	b.WriteString("\n")
	for i := start; i < end; i++ {
		ep := eps[i]
		cursor := "  "
		if i == m.cursor {
			cursor = "> "
		}
		line := fmt.Sprintf("%s%2d. %s", cursor, ep.Number, ep.Name)
		if ep.Number == m.snap.Key.Episode {
			line += " (playing)"
		}
		if i == m.cursor {
			line = m.styles.accent.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func (m Controls) sourceLine() string {
	s := m.snap
	if s.SourceIndex < 0 || s.SourceIndex >= len(s.Sources) {
		return ""
	}
	line := fmt.Sprintf("%s  %d/%d", s.Sources[s.SourceIndex].Label(s.SourceIndex), s.SourceIndex+1, len(s.Sources))
	if s.Engine != "" {
		line += " via " + s.Engine
	}
	return m.styles.accent.Render(s.State.String()) + "  " + m.styles.faint.Render(line)
}

func (m Controls) positionLine() string {
	s := m.snap
	var pct float64
	if s.Duration > 0 {
		pct = s.Time / s.Duration
	}
	return m.bar.ViewAs(pct) + " " +
		cpprogress.FormatPosition(s.Time) + " / " + cpprogress.FormatPosition(s.Duration)
}

// RunControls shows the controls until the user quits or the session ends.
func RunControls(ctx context.Context, session Session, cfg config.PlayerConfiguration) error {
	_, err := tea.NewProgram(NewControls(ctx, session, cfg), tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
