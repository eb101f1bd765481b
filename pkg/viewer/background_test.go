package viewer

import (
	"os"
	"path/filepath"
	"testing"
)

const squareWorld = `{"type":"FeatureCollection","features":[
 {"type":"Feature","properties":{"name":"Square"},"geometry":{"type":"Polygon",
  "coordinates":[[[-20,-20],[20,-20],[20,20],[-20,20],[-20,-20]]]}}
]}`

func TestRenderBackground(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.geo.json")
	if err := os.WriteFile(path, []byte(squareWorld), 0o644); err != nil {
		t.Fatal(err)
	}
	world, err := LoadWorld(path)
	if err != nil {
		t.Fatalf("LoadWorld: %v", err)
	}

	p := Projection{Width: 400, Height: 200, Scale: DefaultScale(400)}
	img := RenderBackground(p, world)

	if got := img.RGBAAt(200, 100); got != ColorLand {
		t.Errorf("center = %v, want land", got)
	}
	if got := img.RGBAAt(5, 5); got != ColorOcean {
		t.Errorf("corner = %v, want ocean", got)
	}
	x, y := p.Project(20, -20)
	if got := img.RGBAAt(int(x), int(y)); got != ColorOutline {
		t.Errorf("corner at (%d,%d) = %v, want outline", int(x), int(y), got)
	}
}

func TestRenderBackgroundWithoutWorld(t *testing.T) {
	img := RenderBackground(Projection{Width: 10, Height: 10, Scale: 2}, nil)
	for _, pt := range [][2]int{{0, 0}, {5, 5}, {9, 9}} {
		if got := img.RGBAAt(pt[0], pt[1]); got != ColorOcean {
			t.Errorf("pixel %v = %v, want ocean", pt, got)
		}
	}
}

func TestLoadWorldErrors(t *testing.T) {
	if _, err := LoadWorld(filepath.Join(t.TempDir(), "missing.json")); !os.IsNotExist(err) {
		t.Errorf("missing file: got %v, want not-exist", err)
	}
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadWorld(path); err == nil {
		t.Error("expected a parse error")
	}
}
