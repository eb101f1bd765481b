package visor

import (
	"image/color"
	"log"
	"time"

	geojson "github.com/paulmach/go.geojson"
)

// Row is what the connection table shows for one ConnKey.
type Row struct {
	Src            string
	Dst            string
	SrcCountryCode string
	DstCountryCode string
	Proto          Proto
	Type           string
	Color          color.RGBA
}

type NodeAttrs struct {
	Scope       Scope
	CountryCode string
	LastSeen    time.Time
}

// EdgeAttrs describes the edges between one directional pair of hosts. Count
// is the number of live edges between them.
type EdgeAttrs struct {
	Type  string
	Count int
}

// MapRenderer draws connection lines on the world map. feature is always a
// LineString of [lon, lat] positions.
type MapRenderer interface {
	Draw(feature *geojson.Feature, c color.RGBA, d time.Duration)
	SetServerLocation(lat, lon float64)
}

type TableRenderer interface {
	UpsertRow(key ConnKey, row Row)
	RemoveRow(key ConnKey)
}

type GraphRenderer interface {
	UpsertNode(id string, attrs NodeAttrs)
	RemoveNode(id string)
	UpsertEdge(source, target string, attrs EdgeAttrs)
	RemoveEdge(source, target string)
	GraphChanged()
}

type FeedRenderer interface {
	AddAnomaly(text string)
}

// Renderer is the full rendering surface a Session drives.
type Renderer interface {
	MapRenderer
	TableRenderer
	GraphRenderer
	FeedRenderer
}

// NopRenderer discards every signal. Embed it to implement only part of Renderer.
type NopRenderer struct{}

func (NopRenderer) Draw(*geojson.Feature, color.RGBA, time.Duration) {}
func (NopRenderer) SetServerLocation(float64, float64)                {}
func (NopRenderer) UpsertRow(ConnKey, Row)                            {}
func (NopRenderer) RemoveRow(ConnKey)                                 {}
func (NopRenderer) UpsertNode(string, NodeAttrs)                      {}
func (NopRenderer) RemoveNode(string)                                 {}
func (NopRenderer) UpsertEdge(string, string, EdgeAttrs)              {}
func (NopRenderer) RemoveEdge(string, string)                         {}
func (NopRenderer) GraphChanged()                                     {}
func (NopRenderer) AddAnomaly(string)                                 {}

// LogRenderer writes every signal to the standard logger. Verbose also logs
// row refreshes and graph redraws, which are by far the noisiest signals.
type LogRenderer struct {
	Verbose bool
}

func (r LogRenderer) Draw(f *geojson.Feature, c color.RGBA, d time.Duration) {
	if f == nil || f.Geometry == nil || len(f.Geometry.LineString) != 2 {
		return
	}
	from, to := f.Geometry.LineString[0], f.Geometry.LineString[1]
	log.Printf("[DRAW] (%.2f,%.2f) -> (%.2f,%.2f) #%02x%02x%02x over %v", from[1], from[0], to[1], to[0], c.R, c.G, c.B, d)
}

func (r LogRenderer) SetServerLocation(lat, lon float64) {
	log.Printf("[MAP] Server located at (%.4f, %.4f)", lat, lon)
}

func (r LogRenderer) UpsertRow(key ConnKey, row Row) {
	if r.Verbose {
		log.Printf("[ROW] %s %s", key, row.Type)
	}
}

func (r LogRenderer) RemoveRow(key ConnKey) {
	log.Printf("[ROW] expired %s", key)
}

func (r LogRenderer) UpsertNode(id string, attrs NodeAttrs) {
	if r.Verbose {
		log.Printf("[NODE] %s (%s %s)", id, attrs.Scope, attrs.CountryCode)
	}
}

func (r LogRenderer) RemoveNode(id string) {
	log.Printf("[NODE] expired %s", id)
}

func (r LogRenderer) UpsertEdge(source, target string, attrs EdgeAttrs) {
	if r.Verbose {
		log.Printf("[EDGE] %s -> %s x%d", source, target, attrs.Count)
	}
}

func (r LogRenderer) RemoveEdge(source, target string) {
	if r.Verbose {
		log.Printf("[EDGE] removed %s -> %s", source, target)
	}
}

func (r LogRenderer) GraphChanged() {}

func (r LogRenderer) AddAnomaly(text string) {
	log.Printf("[ANOMALY] %s", text)
}
