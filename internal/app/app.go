// Package app assembles the extraction stack shared by the server and the CLI.
package app

import (
	"go.uber.org/zap"

	"github.com/example/passport-scanner/internal/config"
	"github.com/example/passport-scanner/internal/facedetect"
	"github.com/example/passport-scanner/internal/imaging"
	"github.com/example/passport-scanner/internal/pipeline"
	"github.com/example/passport-scanner/internal/rasterizer"
)

// DetectPolicy converts the configured detection thresholds.
func DetectPolicy(cfg *config.Config) imaging.DetectPolicy {
	return imaging.DetectPolicy{
		ScaleFactor:  cfg.ScaleFactor,
		MinNeighbors: cfg.MinNeighbors,
		MinWidth:     cfg.MinFaceW,
		MinHeight:    cfg.MinFaceH,
	}
}

// NewOrchestrator loads the face cascade and wires the document pipeline into a
// batch orchestrator. The embedded cascade is used unless cfg.CascadePath is
// set. A cascade that cannot be loaded yields imaging.ErrDetectorUnavailable.
func NewOrchestrator(cfg *config.Config, logger *zap.Logger, onDocument func(pipeline.SourceDocument, []pipeline.ProcessedItem)) (*pipeline.BatchOrchestrator, error) {
	var (
		locator *facedetect.PigoLocator
		err     error
	)
	if cfg.CascadePath == "" {
		locator, err = facedetect.NewBundledPigoLocator(DetectPolicy(cfg), logger)
	} else {
		locator, err = facedetect.LoadPigoLocator(cfg.CascadePath, DetectPolicy(cfg), logger)
	}
	if err != nil {
		return nil, err
	}
	return Assemble(locator, rasterizer.NewFitz(logger), cfg, logger, onDocument), nil
}

// Assemble wires an already constructed locator and rasterizer.
func Assemble(locator imaging.FaceLocator, r rasterizer.PageRasterizer, cfg *config.Config, logger *zap.Logger, onDocument func(pipeline.SourceDocument, []pipeline.ProcessedItem)) *pipeline.BatchOrchestrator {
	docs := pipeline.NewDocumentPipeline(
		imaging.NewExtractor(locator),
		r,
		pipeline.DocumentOptions{MaxPages: cfg.MaxPages, DPI: cfg.RenderDPI},
		logger,
	)
	return pipeline.NewBatchOrchestrator(docs, pipeline.BatchOptions{
		Workers:         cfg.Workers,
		DocumentTimeout: cfg.DocumentTimeout,
		OnDocument:      onDocument,
	}, logger)
}
