package rasterizer

import (
	"fmt"

	"github.com/gen2brain/go-fitz"
	"go.uber.org/zap"

	"github.com/example/passport-scanner/internal/imaging"
)

// Fitz renders PDFs with MuPDF through go-fitz.
type Fitz struct {
	logger *zap.Logger
}

// NewFitz creates a MuPDF-backed rasterizer.
func NewFitz(logger *zap.Logger) *Fitz {
	return &Fitz{logger: logger.Named("fitz_rasterizer")}
}

func (f *Fitz) open(data []byte) (*fitz.Document, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrCorruptDocument)
	}
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDocument, err)
	}
	return doc, nil
}

// PageCount implements PageRasterizer.
func (f *Fitz) PageCount(data []byte) (int, error) {
	doc, err := f.open(data)
	if err != nil {
		return 0, err
	}
	defer doc.Close()
	return doc.NumPage(), nil
}

// RenderPages implements PageRasterizer.
func (f *Fitz) RenderPages(data []byte, dpi int, visit func(page imaging.RasterPage) error) error {
	doc, err := f.open(data)
	if err != nil {
		return err
	}
	defer doc.Close()

	total := doc.NumPage()
	for n := 0; n < total; n++ {
		img, err := doc.ImageDPI(n, float64(dpi))
		if err != nil {
			return fmt.Errorf("%w: render page %d: %v", ErrCorruptDocument, n+1, err)
		}
		f.logger.Debug("page rendered",
			zap.Int("page", n+1),
			zap.Int("width", img.Bounds().Dx()),
			zap.Int("height", img.Bounds().Dy()),
		)

		page := imaging.NewRasterPage(img, n)
		if err := visit(page); err != nil {
			return err
		}
	}
	return nil
}
