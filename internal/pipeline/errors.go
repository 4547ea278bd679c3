package pipeline

import (
	"context"
	"errors"

	"github.com/example/passport-scanner/internal/imaging"
	"github.com/example/passport-scanner/internal/rasterizer"
)

var (
	// ErrAllFailed is returned by ProcessBatch when no item succeeded.
	ErrAllFailed = errors.New("all documents failed")

	// ErrTimeout marks a document abandoned after its deadline.
	ErrTimeout = errors.New("timeout")

	// ErrEmptyDocument marks a document that produced no pages.
	ErrEmptyDocument = errors.New("document has no pages")
)

// failureReason renders err as the text stored in failure items.
func failureReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, imaging.ErrNoFaceDetected):
		return "no face detected"
	case errors.Is(err, rasterizer.ErrTooManyPages),
		errors.Is(err, rasterizer.ErrCorruptDocument),
		errors.Is(err, imaging.ErrDecodeFailure),
		errors.Is(err, imaging.ErrEncodeFailure),
		errors.Is(err, imaging.ErrDetectorUnavailable):
		return err.Error()
	default:
		return "processing error: " + err.Error()
	}
}
