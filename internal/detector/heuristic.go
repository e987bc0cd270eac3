package detector

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg"
	"sync"
)

// HeuristicDetector is the fallback used when DETECTOR_GRPC_ADDR is unset.
// It derives occupancy from average luminance inside each rescaled bbox
// against a running per-space baseline, the same "smart mock" shape the
// reference AI service uses when no real model is loaded: analyze the
// frame that's actually there instead of returning a constant.
//
// A single instance is shared across the engine's concurrent captures
// (spec.md §5: "otherwise the engine must serialize calls"), so mu guards
// baselines against concurrent map writes.
type HeuristicDetector struct {
	mu        sync.Mutex
	baselines map[string]float64
}

func NewHeuristicDetector() *HeuristicDetector {
	return &HeuristicDetector{baselines: make(map[string]float64)}
}

func (d *HeuristicDetector) Infer(ctx context.Context, frame []byte, frameW, frameH int, spaces []SpaceInput) ([]SpaceResult, error) {
	img, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	results := make([]SpaceResult, 0, len(spaces))
	for _, sp := range spaces {
		rb := Rescale(sp.RefBBox, 1920, 1080, frameW, frameH)
		lum := avgLuminance(img, rb)

		baseline, seen := d.baselines[sp.SpaceID]
		if !seen {
			d.baselines[sp.SpaceID] = lum
			results = append(results, SpaceResult{SpaceID: sp.SpaceID, Occupied: nil, Confidence: nil})
			continue
		}

		delta := lum - baseline
		if delta < 0 {
			delta = -delta
		}
		const threshold = 18.0
		occupied := delta > threshold
		confidence := delta / 255.0
		if confidence > 1 {
			confidence = 1
		}

		results = append(results, SpaceResult{
			SpaceID:    sp.SpaceID,
			Occupied:   boolPtr(occupied),
			Confidence: floatPtr(confidence),
		})

		d.baselines[sp.SpaceID] = (baseline*4 + lum) / 5
	}
	return results, nil
}

func avgLuminance(img image.Image, b BBox) float64 {
	bounds := img.Bounds()
	x1, y1, x2, y2 := b.X1, b.Y1, b.X2, b.Y2
	if x1 < bounds.Min.X {
		x1 = bounds.Min.X
	}
	if y1 < bounds.Min.Y {
		y1 = bounds.Min.Y
	}
	if x2 > bounds.Max.X {
		x2 = bounds.Max.X
	}
	if y2 > bounds.Max.Y {
		y2 = bounds.Max.Y
	}
	if x2 <= x1 || y2 <= y1 {
		return 0
	}

	var sum uint64
	var n uint64
	for y := y1; y < y2; y++ {
		for x := x1; x < x2; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			sum += uint64((r*19 + g*38 + bl*7) / 64 >> 8)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}
