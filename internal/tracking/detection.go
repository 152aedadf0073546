package tracking

import (
	"image"
	"math"

	"gimbal-tracker/internal/frames"
)

// Detection is one object found in a frame.
type Detection struct {
	Label      string          `json:"label"`
	Confidence float64         `json:"confidence"`
	Box        image.Rectangle `json:"box"`
}

// Center returns the box centroid.
func (d Detection) Center() (float64, float64) {
	return centerOf(d.Box)
}

// Detector finds objects in a frame. Detect may be slow and must not
// retain f after returning.
type Detector interface {
	Detect(f frames.Frame) ([]Detection, error)
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(f frames.Frame) ([]Detection, error)

func (fn DetectorFunc) Detect(f frames.Frame) ([]Detection, error) {
	return fn(f)
}

// Nearest returns the index of the detection whose centroid is closest to
// (x, y) and that distance. It returns -1 for an empty slice.
func Nearest(dets []Detection, x, y float64) (int, float64) {
	best, bestDist := -1, math.Inf(1)
	for i, d := range dets {
		cx, cy := d.Center()
		if dist := math.Hypot(cx-x, cy-y); dist < bestDist {
			best, bestDist = i, dist
		}
	}
	return best, bestDist
}

// SelectAt picks the detection an operator clicked on: the first box that
// contains p, otherwise the nearest centroid within tolerance pixels.
func SelectAt(dets []Detection, p image.Point, tolerance float64) (Detection, bool) {
	for _, d := range dets {
		if contains(d.Box, p) {
			return d, true
		}
	}
	i, dist := Nearest(dets, float64(p.X), float64(p.Y))
	if i < 0 || dist > tolerance {
		return Detection{}, false
	}
	return dets[i], true
}

// contains treats the box edges as inside.
func contains(r image.Rectangle, p image.Point) bool {
	return p.X >= r.Min.X && p.X <= r.Max.X && p.Y >= r.Min.Y && p.Y <= r.Max.Y
}

func centerOf(r image.Rectangle) (float64, float64) {
	return float64(r.Min.X) + float64(r.Dx())/2, float64(r.Min.Y) + float64(r.Dy())/2
}
