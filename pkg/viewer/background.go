package viewer

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"os"
	"sort"

	geojson "github.com/paulmach/go.geojson"
)

var (
	ColorOcean   = color.RGBA{8, 10, 15, 255}
	ColorLand    = color.RGBA{26, 29, 35, 255}
	ColorOutline = color.RGBA{36, 42, 53, 255}
)

// LoadWorld reads a GeoJSON feature collection of country shapes.
func LoadWorld(path string) (*geojson.FeatureCollection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return fc, nil
}

// RenderBackground rasterizes the land polygons of world. A nil world gives
// plain ocean.
func RenderBackground(p Projection, world *geojson.FeatureCollection) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, p.Width, p.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{ColorOcean}, image.Point{}, draw.Src)
	if world == nil {
		return img
	}
	r := rasterizer{p: p, img: img}
	for _, f := range world.Features {
		if f.Geometry == nil {
			continue
		}
		switch {
		case f.Geometry.IsPolygon():
			r.polygon(f.Geometry.Polygon)
		case f.Geometry.IsMultiPolygon():
			for _, poly := range f.Geometry.MultiPolygon {
				r.polygon(poly)
			}
		}
	}
	return img
}

type rasterizer struct {
	p   Projection
	img *image.RGBA
}

func (r rasterizer) polygon(rings [][][]float64) {
	r.fill(rings, ColorLand)
	for _, ring := range rings {
		r.ring(ring, ColorOutline)
	}
}

func (r rasterizer) set(x, y int, c color.RGBA) {
	if x < 0 || x >= r.p.Width || y < 0 || y >= r.p.Height {
		return
	}
	off := y*r.img.Stride + x*4
	r.img.Pix[off], r.img.Pix[off+1], r.img.Pix[off+2], r.img.Pix[off+3] = c.R, c.G, c.B, 255
}

// fill is an even-odd scanline fill over every ring, so holes stay open.
func (r rasterizer) fill(rings [][][]float64, c color.RGBA) {
	if len(rings) == 0 {
		return
	}
	type point struct{ x, y float64 }
	projected := make([][]point, len(rings))
	minY, maxY := float64(r.p.Height), 0.0
	for i, ring := range rings {
		projected[i] = make([]point, 0, len(ring))
		for _, pos := range ring {
			if len(pos) < 2 {
				continue
			}
			x, y := r.p.Project(pos[1], pos[0])
			projected[i] = append(projected[i], point{x, y})
			minY, maxY = math.Min(minY, y), math.Max(maxY, y)
		}
	}
	var nodes []int
	for y := max(int(minY), 0); y <= int(maxY) && y < r.p.Height; y++ {
		nodes = nodes[:0]
		fy := float64(y)
		for _, ring := range projected {
			for i := range ring {
				a, b := ring[i], ring[(i+1)%len(ring)]
				if (a.y < fy && b.y >= fy) || (b.y < fy && a.y >= fy) {
					nodes = append(nodes, int(a.x+(fy-a.y)/(b.y-a.y)*(b.x-a.x)))
				}
			}
		}
		sort.Ints(nodes)
		for i := 0; i+1 < len(nodes); i += 2 {
			for x := max(nodes[i], 0); x < nodes[i+1] && x < r.p.Width; x++ {
				r.set(x, y, c)
			}
		}
	}
}

func (r rasterizer) ring(coords [][]float64, c color.RGBA) {
	for i := 0; i+1 < len(coords); i++ {
		if len(coords[i]) < 2 || len(coords[i+1]) < 2 {
			continue
		}
		x1, y1 := r.p.Project(coords[i][1], coords[i][0])
		x2, y2 := r.p.Project(coords[i+1][1], coords[i+1][0])
		r.line(int(x1), int(y1), int(x2), int(y2), c)
	}
}

// line is Bresenham's.
func (r rasterizer) line(x1, y1, x2, y2 int, c color.RGBA) {
	dx, dy := abs(x2-x1), abs(y2-y1)
	sx, sy := -1, -1
	if x1 < x2 {
		sx = 1
	}
	if y1 < y2 {
		sy = 1
	}
	err := dx - dy
	for {
		r.set(x1, y1, c)
		if x1 == x2 && y1 == y2 {
			return
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x1 += sx
		}
		if e2 < dx {
			err += dx
			y1 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
