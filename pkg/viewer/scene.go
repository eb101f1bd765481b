// Package viewer renders a tracking session in an ebiten window: connection
// lines on a world map, the connection table, the host graph and the
// anomaly feed.
package viewer

import (
	"image/color"
	"sort"
	"sync"
	"time"

	geojson "github.com/paulmach/go.geojson"

	"github.com/sudorandom/visor/pkg/visor"
)

const (
	DefaultFadeDuration = 6 * time.Second
	DefaultTableRows    = 12
	DefaultFeedLines    = 8
	maxLines            = 4000
)

type line struct {
	from, to Point
	color    color.RGBA
	start    time.Time
	travel   time.Duration
}

// at reports how far the line has travelled, in [0, 1], and its opacity.
// alive is false once the line has fully faded.
func (l line) at(now time.Time, fade time.Duration) (progress, alpha float64, alive bool) {
	elapsed := now.Sub(l.start)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed < l.travel {
		return float64(elapsed) / float64(l.travel), 1, true
	}
	faded := elapsed - l.travel
	if faded >= fade {
		return 1, 0, false
	}
	return 1, 1 - float64(faded)/float64(fade), true
}

type tableRow struct {
	key     visor.ConnKey
	row     visor.Row
	updated uint64
}

type edgeKey struct{ source, target string }

// Scene is the render state a session writes into. It implements
// visor.Renderer and is safe to draw from another goroutine.
type Scene struct {
	Projection   Projection
	FadeDuration time.Duration
	TableRows    int
	FeedLines    int

	// GraphCenter and the two ring radii place the host graph on screen.
	GraphCenter Point
	InnerRing   float64
	OuterRing   float64
	Now         func() time.Time

	mu        sync.Mutex
	lines     []line
	rows      map[visor.ConnKey]*tableRow
	seq       uint64
	nodes     map[string]visor.NodeAttrs
	edges     map[edgeKey]visor.EdgeAttrs
	layout    map[string]Point
	anomalies []string
	server    *Point
}

var _ visor.Renderer = (*Scene)(nil)

func NewScene(p Projection) *Scene {
	return &Scene{
		Projection:   p,
		FadeDuration: DefaultFadeDuration,
		TableRows:    DefaultTableRows,
		FeedLines:    DefaultFeedLines,
		GraphCenter:  Point{X: float64(p.Width) * 0.85, Y: float64(p.Height) * 0.72},
		InnerRing:    float64(p.Height) * 0.06,
		OuterRing:    float64(p.Height) * 0.14,
		Now:          time.Now,
		rows:         make(map[visor.ConnKey]*tableRow),
		nodes:        make(map[string]visor.NodeAttrs),
		edges:        make(map[edgeKey]visor.EdgeAttrs),
	}
}

func (s *Scene) Draw(f *geojson.Feature, c color.RGBA, d time.Duration) {
	if f == nil || f.Geometry == nil || !f.Geometry.IsLineString() || len(f.Geometry.LineString) != 2 {
		return
	}
	a, b := f.Geometry.LineString[0], f.Geometry.LineString[1]
	if len(a) < 2 || len(b) < 2 {
		return
	}
	l := line{color: c, start: s.Now(), travel: d}
	l.from.X, l.from.Y = s.Projection.Project(a[1], a[0])
	l.to.X, l.to.Y = s.Projection.Project(b[1], b[0])

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, l)
	if over := len(s.lines) - maxLines; over > 0 {
		s.lines = append(s.lines[:0], s.lines[over:]...)
	}
}

func (s *Scene) SetServerLocation(lat, lon float64) {
	var p Point
	p.X, p.Y = s.Projection.Project(lat, lon)
	s.mu.Lock()
	s.server = &p
	s.mu.Unlock()
}

func (s *Scene) UpsertRow(key visor.ConnKey, row visor.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	if r, ok := s.rows[key]; ok {
		r.row, r.updated = row, s.seq
		return
	}
	s.rows[key] = &tableRow{key: key, row: row, updated: s.seq}
}

func (s *Scene) RemoveRow(key visor.ConnKey) {
	s.mu.Lock()
	delete(s.rows, key)
	s.mu.Unlock()
}

func (s *Scene) UpsertNode(id string, attrs visor.NodeAttrs) {
	s.mu.Lock()
	s.nodes[id] = attrs
	s.mu.Unlock()
}

func (s *Scene) RemoveNode(id string) {
	s.mu.Lock()
	delete(s.nodes, id)
	s.mu.Unlock()
}

func (s *Scene) UpsertEdge(source, target string, attrs visor.EdgeAttrs) {
	s.mu.Lock()
	s.edges[edgeKey{source, target}] = attrs
	s.mu.Unlock()
}

func (s *Scene) RemoveEdge(source, target string) {
	s.mu.Lock()
	delete(s.edges, edgeKey{source, target})
	s.mu.Unlock()
}

// GraphChanged recomputes node positions.
func (s *Scene) GraphChanged() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layout = RingLayout(s.nodes, s.GraphCenter.X, s.GraphCenter.Y, s.InnerRing, s.OuterRing)
}

func (s *Scene) AddAnomaly(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anomalies = append(s.anomalies, text)
	if over := len(s.anomalies) - s.FeedLines; s.FeedLines > 0 && over > 0 {
		s.anomalies = append(s.anomalies[:0], s.anomalies[over:]...)
	}
}

// LineFrame is one connection line as it should appear right now.
type LineFrame struct {
	From, To Point
	Color    color.RGBA
	Alpha    float64
}

type GraphNode struct {
	ID    string
	At    Point
	Attrs visor.NodeAttrs
}

type GraphEdge struct {
	From, To Point
	Attrs    visor.EdgeAttrs
}

// Frame is a copy of everything Draw needs for one frame.
type Frame struct {
	Lines     []LineFrame
	Rows      []visor.Row
	Nodes     []GraphNode
	Edges     []GraphEdge
	Anomalies []string
	Server    *Point
}

// Frame drops faded lines and snapshots the rest of the scene. Rows are most
// recently refreshed first.
func (s *Scene) Frame() Frame {
	now := s.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	var f Frame
	alive := s.lines[:0]
	for _, l := range s.lines {
		progress, alpha, ok := l.at(now, s.FadeDuration)
		if !ok {
			continue
		}
		alive = append(alive, l)
		to := Point{
			X: l.from.X + (l.to.X-l.from.X)*progress,
			Y: l.from.Y + (l.to.Y-l.from.Y)*progress,
		}
		f.Lines = append(f.Lines, LineFrame{From: l.from, To: to, Color: l.color, Alpha: alpha})
	}
	s.lines = alive

	rows := make([]*tableRow, 0, len(s.rows))
	for _, r := range s.rows {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].updated > rows[j].updated })
	if s.TableRows > 0 && len(rows) > s.TableRows {
		rows = rows[:s.TableRows]
	}
	for _, r := range rows {
		f.Rows = append(f.Rows, r.row)
	}

	for id, at := range s.layout {
		attrs, ok := s.nodes[id]
		if !ok {
			continue
		}
		f.Nodes = append(f.Nodes, GraphNode{ID: id, At: at, Attrs: attrs})
	}
	sort.Slice(f.Nodes, func(i, j int) bool { return f.Nodes[i].ID < f.Nodes[j].ID })
	for k, attrs := range s.edges {
		from, ok1 := s.layout[k.source]
		to, ok2 := s.layout[k.target]
		if ok1 && ok2 {
			f.Edges = append(f.Edges, GraphEdge{From: from, To: to, Attrs: attrs})
		}
	}

	f.Anomalies = append([]string(nil), s.anomalies...)
	if s.server != nil {
		p := *s.server
		f.Server = &p
	}
	return f
}
