package viewer

import (
	"math"
	"sort"

	"github.com/sudorandom/visor/pkg/visor"
)

type Point struct{ X, Y float64 }

// RingLayout places private hosts evenly on an inner ring and public hosts on
// an outer ring around (cx, cy). Hosts are ordered by id on each ring, starting
// at the top and going clockwise, so the layout only moves when the host set
// changes.
func RingLayout(nodes map[string]visor.NodeAttrs, cx, cy, inner, outer float64) map[string]Point {
	var private, public []string
	for id, attrs := range nodes {
		if attrs.Scope == visor.ScopePrivate {
			private = append(private, id)
		} else {
			public = append(public, id)
		}
	}
	out := make(map[string]Point, len(nodes))
	placeRing(out, private, cx, cy, inner)
	placeRing(out, public, cx, cy, outer)
	return out
}

func placeRing(out map[string]Point, ids []string, cx, cy, radius float64) {
	sort.Strings(ids)
	for i, id := range ids {
		angle := 2*math.Pi*float64(i)/float64(len(ids)) - math.Pi/2
		out[id] = Point{X: cx + radius*math.Cos(angle), Y: cy + radius*math.Sin(angle)}
	}
}
