package viewer

import (
	"math"
	"testing"

	"github.com/sudorandom/visor/pkg/visor"
)

func TestRingLayout(t *testing.T) {
	nodes := map[string]visor.NodeAttrs{
		"10.0.0.1":    {Scope: visor.ScopePrivate},
		"10.0.0.2":    {Scope: visor.ScopePrivate},
		"8.8.8.8":     {Scope: visor.ScopePublic},
		"1.1.1.1":     {Scope: visor.ScopePublic},
		"9.9.9.9":     {Scope: visor.ScopePublic},
		"192.168.1.1": {Scope: visor.ScopePrivate},
	}
	got := RingLayout(nodes, 100, 100, 20, 60)
	if len(got) != len(nodes) {
		t.Fatalf("placed %d nodes, want %d", len(got), len(nodes))
	}

	tests := []struct {
		name   string
		id     string
		radius float64
	}{
		{"private inside", "10.0.0.1", 20},
		{"private inside", "192.168.1.1", 20},
		{"public outside", "8.8.8.8", 60},
		{"public outside", "9.9.9.9", 60},
	}
	for _, tt := range tests {
		t.Run(tt.name+" "+tt.id, func(t *testing.T) {
			p := got[tt.id]
			if r := math.Hypot(p.X-100, p.Y-100); math.Abs(r-tt.radius) > 1e-9 {
				t.Errorf("radius = %f, want %f", r, tt.radius)
			}
		})
	}

	// The lowest id on each ring sits at the top.
	if p := got["1.1.1.1"]; math.Abs(p.X-100) > 1e-9 || math.Abs(p.Y-40) > 1e-9 {
		t.Errorf("1.1.1.1 at %v, want (100, 40)", p)
	}
	if p := got["10.0.0.1"]; math.Abs(p.X-100) > 1e-9 || math.Abs(p.Y-80) > 1e-9 {
		t.Errorf("10.0.0.1 at %v, want (100, 80)", p)
	}
}

func TestRingLayoutStable(t *testing.T) {
	nodes := map[string]visor.NodeAttrs{
		"8.8.8.8": {Scope: visor.ScopePublic},
		"1.1.1.1": {Scope: visor.ScopePublic},
	}
	a := RingLayout(nodes, 0, 0, 10, 20)
	b := RingLayout(nodes, 0, 0, 10, 20)
	for id := range nodes {
		if a[id] != b[id] {
			t.Errorf("%s moved between layouts: %v != %v", id, a[id], b[id])
		}
	}
	if len(RingLayout(nil, 0, 0, 10, 20)) != 0 {
		t.Error("empty graph should place nothing")
	}
}
