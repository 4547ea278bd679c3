package imaging

import "image"

// FaceBox is a detected face in the coordinate space of the page it came from.
type FaceBox struct {
	X, Y, W, H int
}

// Rect converts the box to an image.Rectangle.
func (f FaceBox) Rect() image.Rectangle {
	return image.Rect(f.X, f.Y, f.X+f.W, f.Y+f.H)
}

// CropRect is the aspect-constrained region cut out of a page.
type CropRect struct {
	X, Y, W, H int
}

// Rect converts the crop to an image.Rectangle.
func (c CropRect) Rect() image.Rectangle {
	return image.Rect(c.X, c.Y, c.X+c.W, c.Y+c.H)
}

// Empty reports whether the crop has no area.
func (c CropRect) Empty() bool {
	return c.W <= 0 || c.H <= 0
}

// CropParams controls how far the crop extends around the face.
type CropParams struct {
	PaddingW    float64
	PaddingH    float64
	AspectRatio float64 // width / height
}

// DefaultCropParams returns the passport layout: 1.4x width, 1.8x height, 3:4.
func DefaultCropParams() CropParams {
	return CropParams{PaddingW: 1.4, PaddingH: 1.8, AspectRatio: 3.0 / 4.0}
}

// ComputeCropRect expands face by the padding factors, shrinks the longer side to
// honour the aspect ratio, centres the result on the face and clamps it to the
// image. Every intermediate size is truncated, never rounded, so output is
// pixel-compatible with existing passport crops.
func ComputeCropRect(face FaceBox, imageWidth, imageHeight int, p CropParams) CropRect {
	width := int(float64(face.W) * p.PaddingW)
	height := int(float64(face.H) * p.PaddingH)

	if float64(width)/float64(height) > p.AspectRatio {
		width = int(float64(height) * p.AspectRatio)
	} else {
		height = int(float64(width) / p.AspectRatio)
	}

	x := max(0, face.X-(width-face.W)/2)
	y := max(0, face.Y-(height-face.H)/2)

	width = max(0, min(width, imageWidth-x))
	height = max(0, min(height, imageHeight-y))

	return CropRect{X: x, Y: y, W: width, H: height}
}
