package viewer

import (
	"image/color"
	"math"
	"testing"
	"time"

	geojson "github.com/paulmach/go.geojson"

	"github.com/sudorandom/visor/pkg/visor"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestScene() (*Scene, *clock) {
	c := &clock{t: time.Unix(1700000000, 0)}
	s := NewScene(Projection{Width: 1920, Height: 1080, Scale: 380})
	s.Now = c.now
	return s, c
}

func segment(fromLat, fromLon, toLat, toLon float64) *geojson.Feature {
	return geojson.NewLineStringFeature([][]float64{{fromLon, fromLat}, {toLon, toLat}})
}

func TestLineLifetime(t *testing.T) {
	s, c := newTestScene()
	red := color.RGBA{255, 0, 0, 255}
	s.Draw(segment(0, 0, 0, 180), red, time.Second)

	tests := []struct {
		name      string
		after     time.Duration
		wantLines int
		wantX     float64
		wantAlpha float64
	}{
		{"start", 0, 1, 960, 1},
		{"halfway", 500 * time.Millisecond, 1, 960 + (2034.72-960)/2, 1},
		{"arrived", 500 * time.Millisecond, 1, 2034.72, 1},
		{"half faded", 3 * time.Second, 1, 2034.72, 0.5},
		{"gone", 3 * time.Second, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c.advance(tt.after)
			f := s.Frame()
			if len(f.Lines) != tt.wantLines {
				t.Fatalf("got %d lines, want %d", len(f.Lines), tt.wantLines)
			}
			if tt.wantLines == 0 {
				return
			}
			l := f.Lines[0]
			if math.Abs(l.To.X-tt.wantX) > 1 {
				t.Errorf("head at x=%f, want %f", l.To.X, tt.wantX)
			}
			if math.Abs(l.Alpha-tt.wantAlpha) > 1e-9 {
				t.Errorf("alpha = %f, want %f", l.Alpha, tt.wantAlpha)
			}
			if l.Color != red {
				t.Errorf("color = %v", l.Color)
			}
		})
	}
}

func TestDrawIgnoresMalformedFeatures(t *testing.T) {
	s, _ := newTestScene()
	s.Draw(nil, color.RGBA{}, time.Second)
	s.Draw(geojson.NewPointFeature([]float64{0, 0}), color.RGBA{}, time.Second)
	s.Draw(geojson.NewLineStringFeature([][]float64{{0, 0}}), color.RGBA{}, time.Second)
	s.Draw(geojson.NewLineStringFeature([][]float64{{0}, {1, 1}}), color.RGBA{}, time.Second)
	if n := len(s.Frame().Lines); n != 0 {
		t.Errorf("drew %d lines from malformed features", n)
	}
}

func TestZeroDurationLineStartsFading(t *testing.T) {
	s, c := newTestScene()
	s.Draw(segment(0, 0, 0, 180), color.RGBA{}, 0)
	c.advance(time.Second)
	f := s.Frame()
	if len(f.Lines) != 1 {
		t.Fatalf("got %d lines", len(f.Lines))
	}
	if f.Lines[0].Alpha >= 1 {
		t.Errorf("alpha = %f, expected the line to be fading", f.Lines[0].Alpha)
	}
}

func TestTableRows(t *testing.T) {
	s, _ := newTestScene()
	s.TableRows = 2
	key := func(src string) visor.ConnKey { return visor.ConnKey{Src: src, Dst: "8.8.8.8", Proto: "TCP"} }

	s.UpsertRow(key("10.0.0.1"), visor.Row{Src: "10.0.0.1"})
	s.UpsertRow(key("10.0.0.2"), visor.Row{Src: "10.0.0.2"})
	s.UpsertRow(key("10.0.0.3"), visor.Row{Src: "10.0.0.3"})
	s.UpsertRow(key("10.0.0.1"), visor.Row{Src: "10.0.0.1", Type: "refreshed"})

	rows := s.Frame().Rows
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].Src != "10.0.0.1" || rows[0].Type != "refreshed" || rows[1].Src != "10.0.0.3" {
		t.Errorf("rows = %+v, want most recently refreshed first", rows)
	}

	s.RemoveRow(key("10.0.0.1"))
	rows = s.Frame().Rows
	if len(rows) != 2 || rows[0].Src != "10.0.0.3" || rows[1].Src != "10.0.0.2" {
		t.Errorf("after removal rows = %+v", rows)
	}
}

func TestGraph(t *testing.T) {
	s, _ := newTestScene()
	s.UpsertNode("10.0.0.1", visor.NodeAttrs{Scope: visor.ScopePrivate})
	s.UpsertNode("8.8.8.8", visor.NodeAttrs{Scope: visor.ScopePublic})
	s.UpsertEdge("10.0.0.1", "8.8.8.8", visor.EdgeAttrs{Type: visor.ConnLocalPublic, Count: 2})

	if f := s.Frame(); len(f.Nodes) != 0 || len(f.Edges) != 0 {
		t.Errorf("graph drawn before GraphChanged: %+v", f)
	}

	s.GraphChanged()
	f := s.Frame()
	if len(f.Nodes) != 2 || f.Nodes[0].ID != "10.0.0.1" || f.Nodes[1].ID != "8.8.8.8" {
		t.Fatalf("nodes = %+v", f.Nodes)
	}
	if len(f.Edges) != 1 || f.Edges[0].Attrs.Count != 2 {
		t.Fatalf("edges = %+v", f.Edges)
	}
	if f.Edges[0].From != f.Nodes[0].At || f.Edges[0].To != f.Nodes[1].At {
		t.Errorf("edge %+v does not join its nodes", f.Edges[0])
	}

	s.RemoveEdge("10.0.0.1", "8.8.8.8")
	s.RemoveNode("8.8.8.8")
	s.GraphChanged()
	f = s.Frame()
	if len(f.Nodes) != 1 || len(f.Edges) != 0 {
		t.Errorf("after removal nodes=%d edges=%d", len(f.Nodes), len(f.Edges))
	}
}

func TestAnomalyFeed(t *testing.T) {
	s, _ := newTestScene()
	s.FeedLines = 2
	s.AddAnomaly("a")
	s.AddAnomaly("b")
	s.AddAnomaly("c")
	got := s.Frame().Anomalies
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("anomalies = %v, want [b c]", got)
	}
}

func TestServerLocation(t *testing.T) {
	s, _ := newTestScene()
	if s.Frame().Server != nil {
		t.Fatal("server marker before location is known")
	}
	s.SetServerLocation(0, 0)
	if p := s.Frame().Server; p == nil || math.Abs(p.X-960) > 1e-9 || math.Abs(p.Y-540) > 1e-9 {
		t.Errorf("server at %v, want (960, 540)", p)
	}
}

func TestSceneDrivenBySession(t *testing.T) {
	s, _ := newTestScene()
	lat, lon := 52.5, 13.4
	dlat, dlon := 37.8, -122.4
	sess := visor.NewSession(visor.Options{Now: s.Now}, s)
	sess.HandleMessage(visor.Message{Packets: []visor.Event{{
		Src: "10.0.0.1", Dst: "93.184.216.34", Proto: "TCP", Type: visor.ConnLocalPublic,
		SrcLat: &lat, SrcLon: &lon, DstLat: &dlat, DstLon: &dlon,
	}}, Anomalies: []string{"High traffic detected from 10.0.0.1"}}, s.Now())

	f := s.Frame()
	if len(f.Rows) != 1 || len(f.Anomalies) != 1 {
		t.Errorf("rows=%d anomalies=%d, want 1 each", len(f.Rows), len(f.Anomalies))
	}
	if len(f.Nodes) != 2 || len(f.Edges) != 1 {
		t.Errorf("nodes=%d edges=%d, want 2 and 1", len(f.Nodes), len(f.Edges))
	}
}
