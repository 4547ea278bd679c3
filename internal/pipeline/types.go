package pipeline

import (
	"mime"
	"path"
	"strings"
)

// MediaKind is the declared type of an uploaded document.
type MediaKind int

const (
	KindUnsupported MediaKind = iota
	KindImage
	KindPDF
)

func (k MediaKind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindPDF:
		return "pdf"
	default:
		return "unsupported"
	}
}

// KindFromContentType maps a declared content type to a media kind.
func KindFromContentType(contentType string) MediaKind {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch {
	case mediaType == "application/pdf":
		return KindPDF
	case strings.HasPrefix(mediaType, "image/"):
		return KindImage
	default:
		return KindUnsupported
	}
}

// SourceDocument is one uploaded file. The pipeline never modifies it.
type SourceDocument struct {
	Name string
	Kind MediaKind
	Data []byte
}

// ProcessedItem is the outcome for one page or document: Data is set on
// success, Reason on failure, never both.
type ProcessedItem struct {
	Name     string `json:"name"`
	Document string `json:"document"`
	Data     []byte `json:"-"`
	Reason   string `json:"reason,omitempty"`
	Err      error  `json:"-"`
}

// Succeeded reports whether the item carries an extracted photo.
func (i ProcessedItem) Succeeded() bool {
	return i.Reason == "" && i.Err == nil
}

// BatchResult is the ordered outcome of a batch plus its counters.
type BatchResult struct {
	Items              []ProcessedItem
	DocumentsSubmitted int
	DocumentsProcessed int
	PagesProcessed     int
	Failures           int
}

// AllFailed reports whether the batch produced no photo at all.
func (r *BatchResult) AllFailed() bool {
	return r.PagesProcessed == 0
}

// FailedItems returns only the failure entries, in order.
func (r *BatchResult) FailedItems() []ProcessedItem {
	var failed []ProcessedItem
	for _, item := range r.Items {
		if !item.Succeeded() {
			failed = append(failed, item)
		}
	}
	return failed
}

// FirstSuccess returns the first extracted photo, if any.
func (r *BatchResult) FirstSuccess() (ProcessedItem, bool) {
	for _, item := range r.Items {
		if item.Succeeded() {
			return item, true
		}
	}
	return ProcessedItem{}, false
}

// baseName strips directories and the extension from an upload name.
func baseName(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	name = strings.TrimSuffix(name, path.Ext(name))
	if name == "" || name == "." || name == "/" {
		return "document"
	}
	return name
}
