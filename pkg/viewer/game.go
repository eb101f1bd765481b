package viewer

import (
	"bytes"
	"fmt"
	"image/color"
	"log"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"github.com/hajimehoshi/ebiten/v2/vector"
	geojson "github.com/paulmach/go.geojson"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/sudorandom/visor/pkg/geo"
	"github.com/sudorandom/visor/pkg/visor"
)

var (
	colorPanel  = color.RGBA{0, 0, 0, 100}
	colorBorder = color.RGBA{36, 42, 53, 255}
	colorServer = color.RGBA{255, 255, 255, 255}
	// Host graph nodes, by scope.
	colorPrivateNode = color.RGBA{120, 200, 120, 255}
	colorPublicNode  = color.RGBA{0, 191, 255, 255}

	filterKeys = []ebiten.Key{ebiten.Key1, ebiten.Key2, ebiten.Key3, ebiten.Key4}
)

// Game is the ebiten game for one Scene. Keys 1 to 4 toggle the traffic
// filters in visor.TrafficTypes order.
type Game struct {
	Scene *Scene
	// Toggles receives filter changes for the session. Sends never block.
	Toggles chan<- visor.FilterToggle
	// CaptureDir enables a PNG snapshot of the screen every CaptureInterval.
	CaptureDir      string
	CaptureInterval time.Duration
	// Quit ends the game once closed.
	Quit <-chan struct{}

	bg          *ebiten.Image
	fontSource  *text.GoTextFaceSource
	monoSource  *text.GoTextFaceSource
	filters     map[visor.TrafficType]bool
	lastCapture time.Time
}

// NewGame rasterizes world as the map background. world may be nil.
func NewGame(scene *Scene, world *geojson.FeatureCollection, toggles chan<- visor.FilterToggle) (*Game, error) {
	g := &Game{
		Scene:   scene,
		Toggles: toggles,
		filters: visor.NewFilterSet().Snapshot(),
	}
	var err error
	if g.fontSource, err = text.NewGoTextFaceSource(bytes.NewReader(goregular.TTF)); err != nil {
		return nil, fmt.Errorf("failed to load font: %w", err)
	}
	if g.monoSource, err = text.NewGoTextFaceSource(bytes.NewReader(gomono.TTF)); err != nil {
		return nil, fmt.Errorf("failed to load mono font: %w", err)
	}
	g.bg = ebiten.NewImageFromImage(RenderBackground(scene.Projection, world))
	return g, nil
}

func (g *Game) Update() error {
	select {
	case <-g.Quit:
		return ebiten.Termination
	default:
	}
	for i, t := range visor.TrafficTypes {
		if i < len(filterKeys) && inpututil.IsKeyJustPressed(filterKeys[i]) {
			g.toggle(t)
		}
	}
	return nil
}

func (g *Game) toggle(t visor.TrafficType) {
	enabled := !g.filters[t]
	g.filters[t] = enabled
	if g.Toggles == nil {
		return
	}
	select {
	case g.Toggles <- visor.FilterToggle{Label: t, Enabled: enabled}:
		log.Printf("[FILTER] %s -> %v", t, enabled)
	default:
		log.Printf("[FILTER] Dropped toggle for %s, session is busy", t)
	}
}

func (g *Game) Draw(screen *ebiten.Image) {
	if g.bg != nil {
		screen.DrawImage(g.bg, nil)
	}
	f := g.Scene.Frame()

	for _, l := range f.Lines {
		vector.StrokeLine(screen, float32(l.From.X), float32(l.From.Y), float32(l.To.X), float32(l.To.Y), 1.5, fade(l.Color, l.Alpha), true)
	}
	if f.Server != nil {
		vector.DrawFilledCircle(screen, float32(f.Server.X), float32(f.Server.Y), 4, colorServer, true)
	}

	g.drawTable(screen, f.Rows)
	g.drawGraph(screen, f.Nodes, f.Edges)
	g.drawFeed(screen, f.Anomalies)
	g.drawFilters(screen)

	if g.CaptureDir != "" && g.CaptureInterval > 0 {
		if now := time.Now(); now.Sub(g.lastCapture) >= g.CaptureInterval {
			g.lastCapture = now
			captureFrame(screen, g.CaptureDir, now)
		}
	}
}

func (g *Game) Layout(w, h int) (int, int) {
	return g.Scene.Projection.Width, g.Scene.Projection.Height
}

// fade scales a color for drawing at alpha. color.RGBA is premultiplied.
func fade(c color.RGBA, alpha float64) color.RGBA {
	return color.RGBA{
		R: uint8(float64(c.R) * alpha),
		G: uint8(float64(c.G) * alpha),
		B: uint8(float64(c.B) * alpha),
		A: uint8(float64(c.A) * alpha),
	}
}

func (g *Game) fontSize() float64 {
	if g.Scene.Projection.Width > 2000 {
		return 28
	}
	return 14
}

func (g *Game) panel(screen *ebiten.Image, x, y, w, h float64, title string, accent color.RGBA) {
	vector.DrawFilledRect(screen, float32(x), float32(y), float32(w), float32(h), colorPanel, false)
	vector.StrokeRect(screen, float32(x), float32(y), float32(w), float32(h), 1, colorBorder, false)
	vector.DrawFilledRect(screen, float32(x), float32(y), 4, float32(g.fontSize()+10), accent, false)
	g.label(screen, g.fontSource, title, x+12, y+5, g.fontSize()*0.9, color.White, 0.8)
}

func (g *Game) label(screen *ebiten.Image, src *text.GoTextFaceSource, s string, x, y, size float64, c color.Color, alpha float32) {
	if src == nil {
		return
	}
	face := &text.GoTextFace{Source: src, Size: size}
	op := &text.DrawOptions{}
	op.GeoM.Translate(x, y)
	op.ColorScale.ScaleWithColor(c)
	op.ColorScale.ScaleAlpha(alpha)
	text.Draw(screen, s, face, op)
}

func (g *Game) drawTable(screen *ebiten.Image, rows []visor.Row) {
	size := g.fontSize()
	spacing := size * 1.5
	x, y := size*2, size*2
	w, h := size*40, spacing*float64(g.Scene.TableRows+1)+size
	g.panel(screen, x, y, w, h, "CONNECTIONS", visor.ColorLocalPublic)
	for i, r := range rows {
		ty := y + spacing*float64(i+1) + size*0.5
		g.label(screen, g.monoSource, rowText(r), x+12, ty, size*0.85, r.Color, 1)
	}
}

func rowText(r visor.Row) string {
	place := func(cc string) string {
		if name := geo.CountryName(cc); name != "" {
			return name
		}
		return "?"
	}
	return fmt.Sprintf("%-15s -> %-15s %-4s %s -> %s", r.Src, r.Dst, r.Proto, place(r.SrcCountryCode), place(r.DstCountryCode))
}

func (g *Game) drawGraph(screen *ebiten.Image, nodes []GraphNode, edges []GraphEdge) {
	size := g.fontSize()
	c, pad := g.Scene.GraphCenter, g.Scene.OuterRing+size*2
	g.panel(screen, c.X-pad, c.Y-pad-size*2, pad*2, pad*2+size*2, "HOSTS", colorPublicNode)
	for _, e := range edges {
		width := float32(1 + min(e.Attrs.Count, 5))
		vector.StrokeLine(screen, float32(e.From.X), float32(e.From.Y), float32(e.To.X), float32(e.To.Y), width*0.5, fade(visor.ColorFor(e.Attrs.Type), 0.7), true)
	}
	for _, n := range nodes {
		nc := colorPublicNode
		if n.Attrs.Scope == visor.ScopePrivate {
			nc = colorPrivateNode
		}
		vector.DrawFilledCircle(screen, float32(n.At.X), float32(n.At.Y), float32(size*0.35), nc, true)
	}
}

func (g *Game) drawFeed(screen *ebiten.Image, anomalies []string) {
	size := g.fontSize()
	spacing := size * 1.5
	h := spacing*float64(g.Scene.FeedLines+1) + size
	x, y := size*2, float64(g.Scene.Projection.Height)-h-size*2
	g.panel(screen, x, y, size*40, h, "ANOMALIES", visor.ColorPublicLocal)
	for i, a := range anomalies {
		g.label(screen, g.monoSource, a, x+12, y+spacing*float64(i+1)+size*0.5, size*0.85, color.White, 0.9)
	}
}

func (g *Game) drawFilters(screen *ebiten.Image) {
	size := g.fontSize()
	x := float64(g.Scene.Projection.Width) - size*18
	y := size * 2
	for i, t := range visor.TrafficTypes {
		state, alpha := "on", float32(0.9)
		if !g.filters[t] {
			state, alpha = "off", 0.4
		}
		g.label(screen, g.fontSource, fmt.Sprintf("[%d] %s: %s", i+1, t, state), x, y+float64(i)*size*1.5, size, color.White, alpha)
	}
}
