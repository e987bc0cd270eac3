package rtsp

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"strings"
)

// FakeDecoder backs unit tests with deterministic frames instead of
// shelling out to ffmpeg. Opening a URL containing "refused" or
// "unreachable" fails with ErrTransient; on a URL containing "timeout",
// Open succeeds and every ReadFrame fails with ErrTransient; on a URL
// containing "corrupt", ReadFrame fails with ErrDecoderFailure.
type FakeDecoder struct {
	Width, Height int
}

func NewFakeDecoder(width, height int) *FakeDecoder {
	if width == 0 {
		width = 640
	}
	if height == 0 {
		height = 360
	}
	return &FakeDecoder{Width: width, Height: height}
}

func (d *FakeDecoder) Open(ctx context.Context, url string) (Stream, error) {
	if containsAny(url, "refused", "unreachable") {
		return nil, ErrTransient
	}
	return &fakeStream{decoder: d, url: url}, nil
}

type fakeStream struct {
	decoder *FakeDecoder
	url     string
	reads   int
}

func (s *fakeStream) ReadFrame(ctx context.Context) (Frame, error) {
	if containsAny(s.url, "timeout") {
		return Frame{}, ErrTransient
	}
	if containsAny(s.url, "corrupt") {
		return Frame{}, ErrDecoderFailure
	}
	s.reads++

	img := image.NewGray(image.Rect(0, 0, s.decoder.Width, s.decoder.Height))
	shade := uint8((s.reads * 37) % 256)
	for y := 0; y < s.decoder.Height; y++ {
		for x := 0; x < s.decoder.Width; x++ {
			img.SetGray(x, y, color.Gray{Y: shade})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		return Frame{}, err
	}
	return Frame{Width: s.decoder.Width, Height: s.decoder.Height, JPEG: buf.Bytes()}, nil
}

func (s *fakeStream) Close() error { return nil }

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
