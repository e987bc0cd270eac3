// Package detector is the occupancy detector (C5): for a frame and a set
// of polygons, returns per-polygon {occupied, confidence} and renders an
// annotated frame.
package detector

import (
	"context"
)

// BBox is a bounding box in some coordinate frame.
type BBox struct {
	X1, Y1, X2, Y2 int
}

// SpaceInput is one ParkingSpace's bbox expressed in the reference frame
// (1920x1080 by default, spec.md §3/§4.3).
type SpaceInput struct {
	SpaceID   string
	SpaceName string
	RefBBox   BBox
}

// SpaceResult is one space's detector verdict. Occupied is tri-state: a nil
// Occupied means "unknown" (spec.md §4.3: null occupancy allowed when no
// object crosses the minimum IoU).
type SpaceResult struct {
	SpaceID    string
	Occupied   *bool
	Confidence *float64
}

// Detector runs one inference per frame over a set of spaces. The core
// stores the returned tuple verbatim — no thresholding beyond what the
// detector itself applies (spec.md §4.3).
type Detector interface {
	Infer(ctx context.Context, frame []byte, frameW, frameH int, spaces []SpaceInput) ([]SpaceResult, error)
}

// Rescale maps a bbox from the reference frame to the actual frame
// dimensions: x' = round(x * W / refW), same for y (spec.md §4.3).
func Rescale(b BBox, refW, refH, frameW, frameH int) BBox {
	return BBox{
		X1: roundScale(b.X1, refW, frameW),
		Y1: roundScale(b.Y1, refH, frameH),
		X2: roundScale(b.X2, refW, frameW),
		Y2: roundScale(b.Y2, refH, frameH),
	}
}

func roundScale(v, ref, actual int) int {
	if ref == 0 {
		return v
	}
	return int((int64(v)*int64(actual) + int64(ref)/2) / int64(ref))
}

func boolPtr(b bool) *bool        { return &b }
func floatPtr(f float64) *float64 { return &f }
