package visor

import (
	"fmt"
	"image/color"
	"sync"
	"time"

	geojson "github.com/paulmach/go.geojson"
)

// recorder keeps every signal it receives as a flat, comparable string.
type recorder struct {
	mu      sync.Mutex
	signals []string
	draws   []*geojson.Feature
}

func (r *recorder) add(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, fmt.Sprintf(format, args...))
}

func (r *recorder) Draw(f *geojson.Feature, c color.RGBA, d time.Duration) {
	r.mu.Lock()
	r.draws = append(r.draws, f)
	r.mu.Unlock()
	r.add("draw %v", f.Geometry.LineString)
}
func (r *recorder) SetServerLocation(lat, lon float64) { r.add("server %.1f,%.1f", lat, lon) }
func (r *recorder) UpsertRow(k ConnKey, row Row)       { r.add("upsert-row %s %s", k, row.Type) }
func (r *recorder) RemoveRow(k ConnKey)                { r.add("remove-row %s", k) }
func (r *recorder) UpsertNode(id string, a NodeAttrs)  { r.add("upsert-node %s %s", id, a.Scope) }
func (r *recorder) RemoveNode(id string)               { r.add("remove-node %s", id) }
func (r *recorder) UpsertEdge(s, t string, a EdgeAttrs) {
	r.add("upsert-edge %s %s %d", s, t, a.Count)
}
func (r *recorder) RemoveEdge(s, t string) { r.add("remove-edge %s %s", s, t) }
func (r *recorder) GraphChanged()          { r.add("graph-changed") }
func (r *recorder) AddAnomaly(text string) { r.add("anomaly %s", text) }

func (r *recorder) count(prefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.signals {
		if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = nil
	r.draws = nil
}

func intp(v int) *int             { return &v }
func floatp(v float64) *float64   { return &v }
func at(sec int) time.Time        { return time.Unix(1700000000, 0).Add(time.Duration(sec) * time.Second) }
func atMs(ms int) time.Time       { return time.Unix(1700000000, 0).Add(time.Duration(ms) * time.Millisecond) }

func event(src string, sport int, dst string, dport int) Event {
	return Event{
		Src:     src,
		Dst:     dst,
		SrcPort: intp(sport),
		DstPort: intp(dport),
		Proto:   "TCP",
		Type:    ConnPublicPublic,
	}
}

func located(ev Event) Event {
	ev.SrcLat, ev.SrcLon = floatp(52.5), floatp(13.4)
	ev.DstLat, ev.DstLon = floatp(37.8), floatp(-122.4)
	return ev
}
