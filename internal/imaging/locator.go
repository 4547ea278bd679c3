package imaging

import "image"

// FaceLocator finds candidate faces in a decoded page. Boxes are returned in
// detector order; callers must not assume any ranking.
type FaceLocator interface {
	Detect(img image.Image) ([]FaceBox, error)
}

// ConcurrencySafe is implemented by locators that may be shared between
// goroutines without external locking.
type ConcurrencySafe interface {
	SafeForConcurrentUse() bool
}

// IsConcurrencySafe reports whether l declares itself safe for concurrent use.
// Locators that say nothing are treated as unsafe.
func IsConcurrencySafe(l FaceLocator) bool {
	cs, ok := l.(ConcurrencySafe)
	return ok && cs.SafeForConcurrentUse()
}

// DetectPolicy is the detection tuning shared by all locators.
type DetectPolicy struct {
	ScaleFactor  float64
	MinNeighbors int
	MinWidth     int
	MinHeight    int
}

// DefaultDetectPolicy mirrors the passport scanner defaults.
func DefaultDetectPolicy() DetectPolicy {
	return DetectPolicy{
		ScaleFactor:  1.1,
		MinNeighbors: 10,
		MinWidth:     40,
		MinHeight:    30,
	}
}
