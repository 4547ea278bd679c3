package imaging

import "errors"

var (
	// ErrNoFaceDetected is returned when the locator reports zero faces for a page.
	ErrNoFaceDetected = errors.New("no face detected")

	// ErrDecodeFailure is returned when input bytes cannot be turned into a raster page.
	ErrDecodeFailure = errors.New("image decode failed")

	// ErrEncodeFailure is returned when the cropped face cannot be encoded.
	ErrEncodeFailure = errors.New("image encode failed")

	// ErrDetectorUnavailable is returned when the face detector model could not be loaded.
	ErrDetectorUnavailable = errors.New("face detector unavailable")
)
