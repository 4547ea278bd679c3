package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif" // register GIF decoder
	_ "image/jpeg"
	"image/png"

	_ "golang.org/x/image/bmp" // register BMP decoder
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff" // register TIFF decoder
	_ "golang.org/x/image/webp" // register WEBP decoder
)

// RasterPage is one decoded bitmap: a standalone image or a rendered PDF page.
// Pixels are always stored as origin-anchored RGBA.
type RasterPage struct {
	Index int
	Image *image.RGBA
}

// Width returns the page width in pixels.
func (p RasterPage) Width() int {
	if p.Image == nil {
		return 0
	}
	return p.Image.Bounds().Dx()
}

// Height returns the page height in pixels.
func (p RasterPage) Height() int {
	if p.Image == nil {
		return 0
	}
	return p.Image.Bounds().Dy()
}

// Empty reports whether the page carries no pixels.
func (p RasterPage) Empty() bool {
	return p.Width() == 0 || p.Height() == 0
}

// NewRasterPage copies img into an origin-anchored RGBA page.
func NewRasterPage(img image.Image, index int) RasterPage {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return RasterPage{Index: index, Image: rgba}
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return RasterPage{Index: index, Image: rgba}
}

// Decode turns encoded image bytes into a raster page.
func Decode(data []byte, index int) (RasterPage, error) {
	if len(data) == 0 {
		return RasterPage{}, fmt.Errorf("%w: empty input", ErrDecodeFailure)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return RasterPage{}, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	page := NewRasterPage(img, index)
	if page.Empty() {
		return RasterPage{}, fmt.Errorf("%w: %s image has no pixels", ErrDecodeFailure, format)
	}
	return page, nil
}

var pngEncoder = png.Encoder{CompressionLevel: png.DefaultCompression}

// Encode writes img as PNG.
func Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := pngEncoder.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodeFailure, err)
	}
	return buf.Bytes(), nil
}
