// Package facedetect provides the production face locator backed by the pigo
// pixel-intensity cascade classifier.
package facedetect

import (
	_ "embed"
	"fmt"
	"image"
	"os"

	pigo "github.com/esimov/pigo/core"
	"go.uber.org/zap"

	"github.com/example/passport-scanner/internal/imaging"
)

const (
	shiftFactor  = 0.1
	iouThreshold = 0.2
	angle        = 0.0

	// DefaultQualityThreshold drops weak cascade hits before neighbour counting.
	DefaultQualityThreshold = 5.0
)

// PigoLocator implements imaging.FaceLocator. The classifier is unpacked once
// and only read afterwards, so one instance serves all requests.
type PigoLocator struct {
	classifier *pigo.Pigo
	policy     imaging.DetectPolicy
	minQuality float32
	logger     *zap.Logger
}

// facefinder is the frontal face cascade shipped with pigo.
//
//go:embed cascade/facefinder
var facefinder []byte

// NewBundledPigoLocator builds a locator from the embedded facefinder cascade.
func NewBundledPigoLocator(policy imaging.DetectPolicy, logger *zap.Logger) (*PigoLocator, error) {
	return NewPigoLocator(facefinder, policy, logger)
}

// LoadPigoLocator reads a cascade file from disk and builds a locator.
func LoadPigoLocator(path string, policy imaging.DetectPolicy, logger *zap.Logger) (*PigoLocator, error) {
	cascade, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read cascade %s: %v", imaging.ErrDetectorUnavailable, path, err)
	}
	return NewPigoLocator(cascade, policy, logger)
}

// NewPigoLocator unpacks a pigo cascade. Any failure is reported as
// imaging.ErrDetectorUnavailable.
func NewPigoLocator(cascade []byte, policy imaging.DetectPolicy, logger *zap.Logger) (locator *PigoLocator, err error) {
	if len(cascade) < 16 {
		return nil, fmt.Errorf("%w: cascade is %d bytes", imaging.ErrDetectorUnavailable, len(cascade))
	}

	// pigo indexes into the packet without bounds checks
	defer func() {
		if r := recover(); r != nil {
			locator = nil
			err = fmt.Errorf("%w: malformed cascade: %v", imaging.ErrDetectorUnavailable, r)
		}
	}()

	classifier, unpackErr := pigo.NewPigo().Unpack(cascade)
	if unpackErr != nil {
		return nil, fmt.Errorf("%w: %v", imaging.ErrDetectorUnavailable, unpackErr)
	}

	logger.Info("face detector loaded",
		zap.Int("cascade_bytes", len(cascade)),
		zap.Float64("scale_factor", policy.ScaleFactor),
		zap.Int("min_neighbors", policy.MinNeighbors),
	)

	return &PigoLocator{
		classifier: classifier,
		policy:     policy,
		minQuality: DefaultQualityThreshold,
		logger:     logger.Named("pigo_locator"),
	}, nil
}

// SafeForConcurrentUse implements imaging.ConcurrencySafe.
func (l *PigoLocator) SafeForConcurrentUse() bool { return true }

// Detect runs the cascade over img and returns face boxes in cascade order.
func (l *PigoLocator) Detect(img image.Image) ([]imaging.FaceBox, error) {
	if l == nil || l.classifier == nil {
		return nil, imaging.ErrDetectorUnavailable
	}

	src := pigo.ImgToNRGBA(img)
	bounds := src.Bounds()
	cols, rows := bounds.Dx(), bounds.Dy()

	params := pigo.CascadeParams{
		MinSize:     min(l.policy.MinWidth, l.policy.MinHeight),
		MaxSize:     max(cols, rows),
		ShiftFactor: shiftFactor,
		ScaleFactor: l.policy.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: pigo.RgbToGrayscale(src),
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	raw := l.classifier.RunCascade(params, angle)
	raw = filterQuality(raw, l.minQuality)
	clusters := l.classifier.ClusterDetections(raw, iouThreshold)

	boxes := selectFaces(raw, clusters, l.policy, cols, rows)
	l.logger.Debug("cascade finished",
		zap.Int("raw_hits", len(raw)),
		zap.Int("clusters", len(clusters)),
		zap.Int("faces", len(boxes)),
	)
	return boxes, nil
}

func filterQuality(dets []pigo.Detection, minQuality float32) []pigo.Detection {
	kept := dets[:0:0]
	for _, d := range dets {
		if d.Q >= minQuality {
			kept = append(kept, d)
		}
	}
	return kept
}

// selectFaces keeps clusters backed by at least MinNeighbors raw hits and
// converts them to boxes clipped to the image.
func selectFaces(raw, clusters []pigo.Detection, policy imaging.DetectPolicy, cols, rows int) []imaging.FaceBox {
	frame := image.Rect(0, 0, cols, rows)
	var faces []imaging.FaceBox
	for _, c := range clusters {
		if neighbors(c, raw) < policy.MinNeighbors {
			continue
		}
		r := detectionRect(c).Intersect(frame)
		if r.Dx() < policy.MinWidth || r.Dy() < policy.MinHeight {
			continue
		}
		faces = append(faces, imaging.FaceBox{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()})
	}
	return faces
}

func neighbors(cluster pigo.Detection, raw []pigo.Detection) int {
	cr := detectionRect(cluster)
	n := 0
	for _, d := range raw {
		if iou(cr, detectionRect(d)) > iouThreshold {
			n++
		}
	}
	return n
}

func detectionRect(d pigo.Detection) image.Rectangle {
	half := d.Scale / 2
	return image.Rect(d.Col-half, d.Row-half, d.Col-half+d.Scale, d.Row-half+d.Scale)
}

func iou(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	ia := inter.Dx() * inter.Dy()
	union := a.Dx()*a.Dy() + b.Dx()*b.Dy() - ia
	if union == 0 {
		return 0
	}
	return float64(ia) / float64(union)
}
