// Package overlay renders a diagnostic view of the tile cache: a grid of
// tiles around a centre showing which tier would serve each one, and a
// statistics panel.
package overlay

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/dd0wney/cluso-geoengine/pkg/geomath"
	"github.com/dd0wney/cluso-geoengine/pkg/tiles"
)

// State is where a tile would be served from
type State string

const (
	StateLive   State = "live"
	StateTrip   State = "trip"
	StateAbsent State = "absent"
)

// Cell is one grid position
type Cell struct {
	tiles.Coordinate
	State  State
	TripID string
}

// Grid is a square of tiles centred on Center
type Grid struct {
	Center tiles.Coordinate
	Radius int
	TripID string
	Rows   [][]Cell
}

// Counts returns how many cells are in each state
func (g Grid) Counts() map[State]int {
	out := map[State]int{StateLive: 0, StateTrip: 0, StateAbsent: 0}
	for _, row := range g.Rows {
		for _, c := range row {
			out[c.State]++
		}
	}
	return out
}

// Build probes the tiers for every tile within radius of the tile under
// center. Probing checks file presence only and does not advance any LRU
// clock.
func Build(ctx context.Context, src *tiles.UnifiedTileCacheSource, center geomath.Point, zoom, radius int) (Grid, error) {
	if radius < 0 {
		radius = 0
	}
	mid := tiles.At(center, zoom)
	g := Grid{Center: mid, Radius: radius}

	var tripID string
	if trip := src.Trip(); trip != nil {
		t, ok, err := trip.ActiveTrip(ctx, center)
		if err != nil {
			return Grid{}, err
		}
		if ok {
			tripID = t.ID
		}
	}
	g.TripID = tripID

	for dy := -radius; dy <= radius; dy++ {
		row := make([]Cell, 0, 2*radius+1)
		for dx := -radius; dx <= radius; dx++ {
			c := tiles.Coordinate{Zoom: zoom, X: mid.X + dx, Y: mid.Y + dy}
			cell := Cell{Coordinate: c, State: StateAbsent}
			switch {
			case !c.Valid():
			case src.Live().Has(c):
				cell.State = StateLive
			case tripID != "" && src.Trip().Has(tripID, c):
				cell.State = StateTrip
				cell.TripID = tripID
			}
			row = append(row, cell)
		}
		g.Rows = append(g.Rows, row)
	}
	return g, nil
}

var (
	liveStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")).Bold(true)
	tripStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FFFF")).Bold(true)
	absentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	centerStyle = lipgloss.NewStyle().Background(lipgloss.Color("#FF00FF")).Foreground(lipgloss.Color("#FFFFFF"))

	gridBoxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("#FFFF00")).
			Padding(0, 1)

	statsBoxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00FF00")).
			Padding(0, 2).
			MarginLeft(1)

	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF00FF"))
)

// Glyphs per state
const (
	GlyphLive   = "L"
	GlyphTrip   = "T"
	GlyphAbsent = "."
)

func glyph(c Cell) string {
	switch c.State {
	case StateLive:
		return liveStyle.Render(GlyphLive)
	case StateTrip:
		return tripStyle.Render(GlyphTrip)
	default:
		return absentStyle.Render(GlyphAbsent)
	}
}

// RenderGrid draws the grid with the centre tile highlighted
func RenderGrid(g Grid) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", headingStyle.Render(fmt.Sprintf("z%d around %s", g.Center.Zoom, g.Center.ID())))
	for i, row := range g.Rows {
		for j, c := range row {
			s := glyph(c)
			if c.Coordinate == g.Center {
				s = centerStyle.Render(s)
			}
			if j > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(s)
		}
		if i < len(g.Rows)-1 {
			b.WriteByte('\n')
		}
	}
	return gridBoxStyle.Render(b.String())
}

// RenderStats draws the statistics panel
func RenderStats(g Grid, s tiles.Stats) string {
	counts := g.Counts()
	lines := []string{
		headingStyle.Render("Cache"),
		fmt.Sprintf("live tiles:  %d (%s / %s)", s.LiveTiles, humanBytes(s.LiveBytes), humanBytes(s.LiveCapBytes)),
		fmt.Sprintf("trip tiles:  %d (%s)", s.TripTiles, humanBytes(s.TripBytes)),
		"",
		headingStyle.Render("Lookups"),
		fmt.Sprintf("live %d  trip %d  network %d  miss %d", s.LiveHits, s.TripHits, s.NetworkDownloads, s.Misses),
		fmt.Sprintf("hit rate:    %.1f%%", s.HitRate()),
		"",
		headingStyle.Render("Grid"),
		fmt.Sprintf("%s %d  %s %d  %s %d",
			liveStyle.Render(GlyphLive), counts[StateLive],
			tripStyle.Render(GlyphTrip), counts[StateTrip],
			absentStyle.Render(GlyphAbsent), counts[StateAbsent]),
	}
	if g.TripID != "" {
		lines = append(lines, "active trip: "+g.TripID)
	}
	if p := s.LastPrefetch; p != nil {
		status := "complete"
		switch {
		case p.Skipped != tiles.SkipNone:
			status = "skipped (" + string(p.Skipped) + ")"
		case p.Cancelled:
			status = "cancelled"
		case !p.Complete:
			status = "incomplete"
		}
		lines = append(lines, "",
			headingStyle.Render("Last prefetch"),
			fmt.Sprintf("%s, %.0f%% of %d", status, p.Percent(), p.Requested))
	}
	return statsBoxStyle.Render(strings.Join(lines, "\n"))
}

// Render lays the grid and the stats panel side by side
func Render(g Grid, s tiles.Stats) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, RenderGrid(g), RenderStats(g, s))
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
