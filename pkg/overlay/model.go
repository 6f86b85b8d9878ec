package overlay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dd0wney/cluso-geoengine/pkg/geomath"
	"github.com/dd0wney/cluso-geoengine/pkg/tiles"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF00FF")).
			MarginLeft(2).
			MarginTop(1)

	contentStyle = lipgloss.NewStyle().
			MarginLeft(2).
			MarginTop(1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FF00")).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			MarginTop(1).
			MarginLeft(2)
)

// Zoom and grid radius bounds for the interactive view
const (
	DefaultRadius   = 4
	RefreshInterval = time.Second
)

type keyMap struct {
	Up      key.Binding
	Down    key.Binding
	Left    key.Binding
	Right   key.Binding
	ZoomIn  key.Binding
	ZoomOut key.Binding
	Recent  key.Binding
	Clear   key.Binding
	Quit    key.Binding
}

var keys = keyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "north"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "south"),
	),
	Left: key.NewBinding(
		key.WithKeys("left", "h"),
		key.WithHelp("←/h", "west"),
	),
	Right: key.NewBinding(
		key.WithKeys("right", "l"),
		key.WithHelp("→/l", "east"),
	),
	ZoomIn: key.NewBinding(
		key.WithKeys("+", "="),
		key.WithHelp("+", "zoom in"),
	),
	ZoomOut: key.NewBinding(
		key.WithKeys("-"),
		key.WithHelp("-", "zoom out"),
	),
	Recent: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "recentre on fix"),
	),
	Clear: key.NewBinding(
		key.WithKeys("c"),
		key.WithHelp("c", "clear live tier"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Left, k.Right, k.ZoomIn, k.ZoomOut, k.Recent, k.Clear, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Left, k.Right},
		{k.ZoomIn, k.ZoomOut, k.Recent},
		{k.Clear, k.Quit},
	}
}

// Model is the interactive overlay
type Model struct {
	source *tiles.UnifiedTileCacheSource
	meta   *tiles.MetadataStore

	center geomath.Point
	zoom   int
	radius int

	grid      Grid
	stats     tiles.Stats
	tierTable table.Model
	help      help.Model
	keys      keyMap

	width      int
	message    string
	messageErr bool
}

type tickMsg time.Time

type refreshMsg struct {
	grid  Grid
	stats tiles.Stats
	tiers []tiles.TierUsage
	err   error
}

type clearedMsg struct{ err error }

func tickCmd() tea.Cmd {
	return tea.Tick(RefreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// NewModel creates the overlay centred on center at zoom
func NewModel(source *tiles.UnifiedTileCacheSource, meta *tiles.MetadataStore, center geomath.Point, zoom, radius int) Model {
	if radius <= 0 {
		radius = DefaultRadius
	}
	columns := []table.Column{
		{Title: "Tier", Width: 24},
		{Title: "Tiles", Width: 8},
		{Title: "Size", Width: 12},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(false),
		table.WithHeight(6),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("#00FFFF")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Bold(false)
	t.SetStyles(s)

	return Model{
		source:    source,
		meta:      meta,
		center:    center,
		zoom:      clampZoom(zoom),
		radius:    radius,
		tierTable: t,
		help:      help.New(),
		keys:      keys,
	}
}

func clampZoom(z int) int {
	switch {
	case z < 0:
		return 0
	case z > tiles.MaxZoom:
		return tiles.MaxZoom
	}
	return z
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refresh(), tickCmd())
}

func (m Model) refresh() tea.Cmd {
	src, meta := m.source, m.meta
	center, zoom, radius := m.center, m.zoom, m.radius
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return Refresh(ctx, src, meta, center, zoom, radius)
	}
}

// Refresh gathers one frame of overlay data
func Refresh(ctx context.Context, src *tiles.UnifiedTileCacheSource, meta *tiles.MetadataStore, center geomath.Point, zoom, radius int) tea.Msg {
	g, err := Build(ctx, src, center, zoom, radius)
	if err != nil {
		return refreshMsg{err: err}
	}
	msg := refreshMsg{grid: g, stats: src.Stats(ctx)}
	if meta != nil {
		msg.tiers, msg.err = meta.Tiers(ctx)
	}
	return msg
}

// pan moves the centre by whole tiles
func (m *Model) pan(dx, dy int) {
	c := tiles.At(m.center, m.zoom)
	next := tiles.Coordinate{Zoom: c.Zoom, X: c.X + dx, Y: c.Y + dy}
	if next.Valid() {
		m.center = next.Center()
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width

	case tickMsg:
		return m, tea.Batch(m.refresh(), tickCmd())

	case refreshMsg:
		if msg.err != nil {
			m.message = msg.err.Error()
			m.messageErr = true
			return m, nil
		}
		m.grid = msg.grid
		m.stats = msg.stats
		m.tierTable.SetRows(tierRows(msg.tiers))
		if m.messageErr {
			m.message, m.messageErr = "", false
		}

	case clearedMsg:
		if msg.err != nil {
			m.message = fmt.Sprintf("clear failed: %v", msg.err)
			m.messageErr = true
		} else {
			m.message = "live tier cleared"
			m.messageErr = false
		}
		return m, m.refresh()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Up):
			m.pan(0, -1)
		case key.Matches(msg, m.keys.Down):
			m.pan(0, 1)
		case key.Matches(msg, m.keys.Left):
			m.pan(-1, 0)
		case key.Matches(msg, m.keys.Right):
			m.pan(1, 0)
		case key.Matches(msg, m.keys.ZoomIn):
			m.zoom = clampZoom(m.zoom + 1)
		case key.Matches(msg, m.keys.ZoomOut):
			m.zoom = clampZoom(m.zoom - 1)
		case key.Matches(msg, m.keys.Recent):
			st := m.source.Live().State()
			if !st.HasLocation {
				m.message = "no location fix yet"
				m.messageErr = false
				return m, nil
			}
			m.center = st.LastLocation
		case key.Matches(msg, m.keys.Clear):
			src := m.source
			return m, func() tea.Msg {
				return clearedMsg{err: src.ClearAll(context.Background())}
			}
		default:
			return m, nil
		}
		return m, m.refresh()
	}
	return m, nil
}

func tierRows(tiers []tiles.TierUsage) []table.Row {
	rows := make([]table.Row, 0, len(tiers))
	for _, t := range tiers {
		rows = append(rows, table.Row{
			string(t.Tier),
			fmt.Sprintf("%d", t.Tiles),
			humanBytes(t.Bytes),
		})
	}
	return rows
}

func (m Model) View() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render(fmt.Sprintf("Tile cache overlay  %.5f, %.5f", m.center.Lat, m.center.Lon)))
	s.WriteString("\n")

	body := "Loading..."
	if m.grid.Rows != nil {
		body = Render(m.grid, m.stats)
	}
	s.WriteString(contentStyle.Render(body))
	s.WriteString("\n")
	s.WriteString(contentStyle.Render(m.tierTable.View()))
	s.WriteString("\n")
	s.WriteString(contentStyle.Render(m.stats.String()))

	if m.message != "" {
		s.WriteString("\n\n")
		if m.messageErr {
			s.WriteString(errorStyle.Render("✗ " + m.message))
		} else {
			s.WriteString(successStyle.Render("✓ " + m.message))
		}
	}

	s.WriteString("\n")
	s.WriteString(helpStyle.Render(m.help.ShortHelpView(m.keys.ShortHelp())))
	return s.String()
}

// Center returns the current centre and zoom
func (m Model) Center() (geomath.Point, int) {
	return m.center, m.zoom
}
