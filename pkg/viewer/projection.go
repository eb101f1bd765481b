package viewer

import "math"

// Projection maps coordinates onto a Width x Height canvas with the Mollweide
// projection. Scale is the radius of the projected globe in pixels.
type Projection struct {
	Width  int
	Height int
	Scale  float64
}

// DefaultScale fits the whole world onto a canvas of the given width.
func DefaultScale(width int) float64 {
	return float64(width) / (2 * math.Sqrt(8)) * 0.95
}

func (p Projection) Project(lat, lon float64) (x, y float64) {
	lat = math.Max(-89.5, math.Min(89.5, lat))

	latRad, lonRad := lat*math.Pi/180, lon*math.Pi/180
	theta := latRad
	for i := 0; i < 10; i++ {
		denom := 2 + 2*math.Cos(2*theta)
		if math.Abs(denom) < 1e-9 {
			break
		}
		delta := (2*theta + math.Sin(2*theta) - math.Pi*math.Sin(latRad)) / denom
		theta -= delta
		if math.Abs(delta) < 1e-7 {
			break
		}
	}
	x = float64(p.Width)/2 + p.Scale*(2*math.Sqrt(2)/math.Pi)*lonRad*math.Cos(theta)
	y = float64(p.Height)/2 - p.Scale*math.Sqrt(2)*math.Sin(theta)
	return x, y
}
