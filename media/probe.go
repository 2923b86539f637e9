package media

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Dimensions describes a decodable image.
type Dimensions struct {
	Format string
	Width  int
	Height int
}

// Probe reads the image header of f. It reports false for anything that is
// not an image in a registered format.
func Probe(f *File) (Dimensions, bool) {
	if !strings.HasPrefix(f.ContentType, "image/") {
		return Dimensions{}, false
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(f.Contents))
	if err != nil {
		return Dimensions{}, false
	}
	return Dimensions{Format: format, Width: cfg.Width, Height: cfg.Height}, true
}
