// Package detector talks to the external object-detection service and holds
// the detection types shared by the rest of pestwatch.
package detector

import (
	"context"
	"image"
)

// Detection is one located, labeled, scored object.
type Detection struct {
	Box   [4]int  `json:"box"` // x1, y1, x2, y2 in image pixels
	Score float64 `json:"score"`
	Label string  `json:"label"`
}

// Detector runs inference on encoded image bytes.
type Detector interface {
	Detect(ctx context.Context, img []byte) ([]Detection, error)
	Healthy(ctx context.Context) bool
}

// PestPresent reports whether any detection's label equals label exactly.
func PestPresent(dets []Detection, label string) bool {
	for i := range dets {
		if dets[i].Label == label {
			return true
		}
	}
	return false
}

// Labels returns the label of each detection in order.
func Labels(dets []Detection) []string {
	out := make([]string, len(dets))
	for i := range dets {
		out[i] = dets[i].Label
	}
	return out
}

// Clamp limits every box to bounds and normalizes corner order. Every
// detection is kept; a box left with no area is simply not drawn.
func Clamp(dets []Detection, bounds image.Rectangle) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		x1, y1, x2, y2 := d.Box[0], d.Box[1], d.Box[2], d.Box[3]
		if x1 > x2 {
			x1, x2 = x2, x1
		}
		if y1 > y2 {
			y1, y2 = y2, y1
		}
		x1 = clampInt(x1, bounds.Min.X, bounds.Max.X)
		x2 = clampInt(x2, bounds.Min.X, bounds.Max.X)
		y1 = clampInt(y1, bounds.Min.Y, bounds.Max.Y)
		y2 = clampInt(y2, bounds.Min.Y, bounds.Max.Y)
		d.Box = [4]int{x1, y1, x2, y2}
		out = append(out, d)
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
