package imaging

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

const (
	// OutputWidth is the width of every extracted photo.
	OutputWidth = 300
)

// Extractor turns a raster page into an encoded passport photo.
type Extractor struct {
	locator FaceLocator
	crop    CropParams
	outW    int
	outH    int
}

// NewExtractor builds an extractor around a face locator using the passport layout.
func NewExtractor(locator FaceLocator) *Extractor {
	return NewExtractorWithParams(locator, DefaultCropParams(), OutputWidth)
}

// NewExtractorWithParams builds an extractor with an explicit crop layout and
// output width; output height follows the aspect ratio (truncated).
func NewExtractorWithParams(locator FaceLocator, crop CropParams, outputWidth int) *Extractor {
	return &Extractor{
		locator: locator,
		crop:    crop,
		outW:    outputWidth,
		outH:    int(float64(outputWidth) / crop.AspectRatio),
	}
}

// OutputSize returns the dimensions of extracted photos.
func (e *Extractor) OutputSize() (int, int) {
	return e.outW, e.outH
}

// Locator returns the face locator backing the extractor.
func (e *Extractor) Locator() FaceLocator {
	return e.locator
}

// Extract locates the first face on page, crops the passport region around it,
// resizes it bilinearly to the output size and returns PNG bytes.
func (e *Extractor) Extract(page RasterPage) ([]byte, error) {
	if page.Empty() {
		return nil, fmt.Errorf("%w: page %d is empty", ErrDecodeFailure, page.Index)
	}

	faces, err := e.locator.Detect(page.Image)
	if err != nil {
		return nil, err
	}
	if len(faces) == 0 {
		return nil, ErrNoFaceDetected
	}

	rect := ComputeCropRect(faces[0], page.Width(), page.Height(), e.crop)
	if rect.Empty() {
		return nil, fmt.Errorf("%w: empty crop region %+v", ErrEncodeFailure, rect)
	}

	dst := image.NewRGBA(image.Rect(0, 0, e.outW, e.outH))
	draw.BiLinear.Scale(dst, dst.Bounds(), page.Image, rect.Rect(), draw.Src, nil)

	return Encode(dst)
}
