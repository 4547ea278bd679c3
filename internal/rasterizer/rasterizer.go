package rasterizer

import (
	"errors"

	"github.com/example/passport-scanner/internal/imaging"
)

const (
	// DefaultDPI is the resolution PDF pages are rendered at.
	DefaultDPI = 300
	// DefaultMaxPages is the page ceiling checked before rendering.
	DefaultMaxPages = 20
)

var (
	// ErrCorruptDocument is returned when a PDF cannot be parsed or rendered.
	ErrCorruptDocument = errors.New("corrupt document")

	// ErrTooManyPages is returned when a PDF exceeds the configured page ceiling.
	ErrTooManyPages = errors.New("too many pages")
)

// PageRasterizer renders PDF pages to raster images.
type PageRasterizer interface {
	// PageCount parses just enough of the document to count its pages.
	PageCount(data []byte) (int, error)

	// RenderPages renders pages in order and hands each one to visit. The page
	// must not be retained after visit returns; it is dropped before the next
	// page is rendered. A visit error stops rendering and is returned as is.
	RenderPages(data []byte, dpi int, visit func(page imaging.RasterPage) error) error
}
