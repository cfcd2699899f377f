package analyzer

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const jpegQuality = 90

// Prepare returns JPEG data no wider than maxWidth and the factor that maps
// coordinates in the returned image back to the input. JPEG input within the
// width limit is passed through untouched.
func Prepare(data []byte, maxWidth int) ([]byte, float64, error) {
	if len(data) == 0 {
		return nil, 0, ErrNoImage
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("decoding image header: %w", err)
	}
	needsResize := maxWidth > 0 && cfg.Width > maxWidth
	if format == "jpeg" && !needsResize {
		return data, 1, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("decoding image: %w", err)
	}

	scale := 1.0
	if needsResize {
		ratio := float64(maxWidth) / float64(cfg.Width)
		w := maxWidth
		h := max(1, int(float64(cfg.Height)*ratio))
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
		img = dst
		scale = float64(cfg.Width) / float64(w)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, 0, fmt.Errorf("encoding image: %w", err)
	}
	return buf.Bytes(), scale, nil
}
