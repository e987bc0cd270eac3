package rtsp

import (
	"bytes"
	"image"
	_ "image/jpeg"
)

// decodeJPEGDimensions reads just the JPEG header to recover width/height
// without fully decoding pixel data.
func decodeJPEGDimensions(data []byte) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}
