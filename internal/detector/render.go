package detector

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Annotate draws the rescaled bbox, space name, state label, and
// confidence percentage on a copy of frame for each result, writing JPEG
// bytes (spec.md §4.3: "No other drawing ... is required of the core").
func Annotate(frameJPEG []byte, spaces []SpaceInput, results []SpaceResult, refW, refH int) ([]byte, error) {
	src, err := jpeg.Decode(bytes.NewReader(frameJPEG))
	if err != nil {
		return nil, fmt.Errorf("decode frame for annotation: %w", err)
	}

	bounds := src.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, src, bounds.Min, draw.Src)

	byID := make(map[string]SpaceResult, len(results))
	for _, r := range results {
		byID[r.SpaceID] = r
	}

	for _, sp := range spaces {
		r, ok := byID[sp.SpaceID]
		if !ok {
			continue
		}
		rb := Rescale(sp.RefBBox, refW, refH, bounds.Dx(), bounds.Dy())
		c := stateColor(r.Occupied)
		drawBoxOutline(dst, rb, c)
		drawLabel(dst, rb, c, sp.SpaceName, labelFor(r))
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode annotated frame: %w", err)
	}
	return buf.Bytes(), nil
}

// labelFor renders the state word and confidence percentage, e.g.
// "occupied 87%", matching spec.md §4.3's "state label, and confidence
// percentage" requirement.
func labelFor(r SpaceResult) string {
	state := "unknown"
	switch {
	case r.Occupied == nil:
	case *r.Occupied:
		state = "occupied"
	default:
		state = "free"
	}
	if r.Confidence == nil {
		return state
	}
	return fmt.Sprintf("%s %.0f%%", state, *r.Confidence*100)
}

func stateColor(occupied *bool) color.RGBA {
	switch {
	case occupied == nil:
		return color.RGBA{R: 200, G: 200, B: 0, A: 255}
	case *occupied:
		return color.RGBA{R: 220, G: 30, B: 30, A: 255}
	default:
		return color.RGBA{R: 30, G: 200, B: 30, A: 255}
	}
}

// drawBoxOutline draws a 2px rectangle outline of c around b, clamped to
// dst's bounds.
func drawBoxOutline(dst *image.RGBA, b BBox, c color.RGBA) {
	bounds := dst.Bounds()
	x1, y1, x2, y2 := clampX(b.X1, bounds), clampY(b.Y1, bounds), clampX(b.X2, bounds), clampY(b.Y2, bounds)

	for x := x1; x <= x2; x++ {
		setThick(dst, x, y1, c)
		setThick(dst, x, y2, c)
	}
	for y := y1; y <= y2; y++ {
		setThick(dst, x1, y, c)
		setThick(dst, x2, y, c)
	}
}

// clampX/clampY bound a coordinate to dst's horizontal/vertical extent
// respectively; they must not be conflated, since a Y coordinate clamped
// against b.Max.X would silently corrupt annotations on non-square frames.
func clampX(v int, b image.Rectangle) int {
	if v < b.Min.X {
		return b.Min.X
	}
	if v > b.Max.X-1 {
		return b.Max.X - 1
	}
	return v
}

func clampY(v int, b image.Rectangle) int {
	if v < b.Min.Y {
		return b.Min.Y
	}
	if v > b.Max.Y-1 {
		return b.Max.Y - 1
	}
	return v
}

// drawLabel writes spaceName on one line and state (e.g. "occupied 87%") on
// the next, anchored just above b's top edge, falling back to just below it
// when there isn't room above.
func drawLabel(dst *image.RGBA, b BBox, c color.RGBA, spaceName, state string) {
	bounds := dst.Bounds()
	const lineHeight = 13

	x := clampX(b.X1, bounds)
	y := b.Y1 - 4
	if y-2*lineHeight < bounds.Min.Y {
		y = b.Y2 + lineHeight + 2
	}
	y = clampY(y, bounds)

	drawText(dst, x, y, c, spaceName)
	drawText(dst, x, clampY(y+lineHeight, bounds), c, state)
}

func drawText(dst *image.RGBA, x, y int, c color.RGBA, text string) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

func setThick(dst *image.RGBA, x, y int, c color.RGBA) {
	for dx := 0; dx < 2; dx++ {
		for dy := 0; dy < 2; dy++ {
			p := image.Pt(x+dx, y+dy)
			if p.In(dst.Bounds()) {
				dst.SetRGBA(p.X, p.Y, c)
			}
		}
	}
}
