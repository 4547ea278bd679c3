package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/passport-scanner/internal/imaging"
	"github.com/example/passport-scanner/internal/logging"
	"github.com/example/passport-scanner/internal/rasterizer"
)

// DocumentOptions bounds PDF handling.
type DocumentOptions struct {
	MaxPages int
	DPI      int
}

// DefaultDocumentOptions returns a 20 page ceiling at 300 DPI.
func DefaultDocumentOptions() DocumentOptions {
	return DocumentOptions{MaxPages: rasterizer.DefaultMaxPages, DPI: rasterizer.DefaultDPI}
}

// DocumentPipeline runs the extractor over every page of one document.
type DocumentPipeline struct {
	extractor  *imaging.Extractor
	rasterizer rasterizer.PageRasterizer
	opts       DocumentOptions
	logger     *zap.Logger
}

// NewDocumentPipeline wires an extractor and a PDF rasterizer.
func NewDocumentPipeline(extractor *imaging.Extractor, r rasterizer.PageRasterizer, opts DocumentOptions, logger *zap.Logger) *DocumentPipeline {
	if opts.MaxPages <= 0 {
		opts.MaxPages = rasterizer.DefaultMaxPages
	}
	if opts.DPI <= 0 {
		opts.DPI = rasterizer.DefaultDPI
	}
	return &DocumentPipeline{
		extractor:  extractor,
		rasterizer: r,
		opts:       opts,
		logger:     logger.Named("document_pipeline"),
	}
}

// ConcurrencySafe reports whether documents may be processed in parallel.
func (p *DocumentPipeline) ConcurrencySafe() bool {
	return imaging.IsConcurrencySafe(p.extractor.Locator())
}

// Process converts doc into processed items. It never fails: every problem
// becomes a failure item. Unsupported kinds yield no items.
func (p *DocumentPipeline) Process(ctx context.Context, doc SourceDocument) []ProcessedItem {
	switch doc.Kind {
	case KindPDF:
		return p.processPDF(ctx, doc)
	case KindImage:
		return p.processImage(ctx, doc)
	default:
		return nil
	}
}

func (p *DocumentPipeline) processImage(ctx context.Context, doc SourceDocument) []ProcessedItem {
	base := baseName(doc.Name)
	opLogger := p.logger.With(zap.String("document", doc.Name), zap.String("kind", doc.Kind.String()))

	if err := ctx.Err(); err != nil {
		return []ProcessedItem{failure("error_"+base+".txt", doc.Name, err)}
	}

	page, err := imaging.Decode(doc.Data, 0)
	if err != nil {
		opLogger.Warn("image decode failed", zap.Error(err))
		return []ProcessedItem{failure("error_"+base+".txt", doc.Name, err)}
	}

	out, err := p.extractor.Extract(page)
	if err != nil {
		opLogger.Info("image extraction failed", zap.Error(err))
		return []ProcessedItem{failure("error_"+base+".txt", doc.Name, err)}
	}
	return []ProcessedItem{success("face_"+base+".png", doc.Name, out)}
}

func (p *DocumentPipeline) processPDF(ctx context.Context, doc SourceDocument) []ProcessedItem {
	base := baseName(doc.Name)
	opLogger := p.logger.With(zap.String("document", doc.Name), zap.String("kind", doc.Kind.String()))

	count, err := p.rasterizer.PageCount(doc.Data)
	if err != nil {
		opLogger.Warn("pdf page count failed", zap.Error(err))
		return []ProcessedItem{failure("error_"+base+".txt", doc.Name, err)}
	}
	if count > p.opts.MaxPages {
		err := fmt.Errorf("%w: %d pages exceeds limit of %d", rasterizer.ErrTooManyPages, count, p.opts.MaxPages)
		opLogger.Info("pdf rejected", zap.Error(err))
		return []ProcessedItem{failure("error_"+base+".txt", doc.Name, err)}
	}

	items := make([]ProcessedItem, 0, count)
	rendered := 0
	err = p.rasterizer.RenderPages(doc.Data, p.opts.DPI, func(page imaging.RasterPage) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		rendered++
		n := page.Index + 1

		out, err := p.extractor.Extract(page)
		if err != nil {
			opLogger.Info("page extraction failed", zap.Int("page", n), zap.Error(err))
			items = append(items, failure(pageName("error", base, n, ".txt"), doc.Name, err))
			return nil
		}
		items = append(items, success(pageName("face", base, n, ".png"), doc.Name, out))
		return nil
	})
	if err != nil {
		wrapped := logging.NewOperationError("pipeline.render_pages", "", err)
		opLogger.Warn("pdf rendering stopped", zap.Int("rendered", rendered), zap.Error(wrapped))
		items = append(items, failure(pageName("error", base, rendered+1, ".txt"), doc.Name, err))
	}

	opLogger.Debug("pdf processed", zap.Int("pages", count), zap.Int("items", len(items)))
	return items
}

func pageName(prefix, base string, page int, ext string) string {
	return fmt.Sprintf("%s_%s_page_%d%s", prefix, base, page, ext)
}

func success(name, document string, data []byte) ProcessedItem {
	return ProcessedItem{Name: name, Document: document, Data: data}
}

func failure(name, document string, err error) ProcessedItem {
	return ProcessedItem{Name: name, Document: document, Reason: failureReason(err), Err: err}
}
