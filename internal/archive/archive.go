// Package archive packs a batch result into a zip file.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/example/passport-scanner/internal/pipeline"
)

// ReportName is the summary entry appended after every item.
const ReportName = "report.txt"

// Write streams the zip to w: one entry per item in batch order, then the report.
// Failure entries hold their reason as text.
func Write(w io.Writer, result *pipeline.BatchResult) error {
	zw := zip.NewWriter(w)
	modified := time.Now()
	taken := map[string]bool{ReportName: true}

	for _, item := range result.Items {
		// PNG data is already compressed.
		body := item.Data
		method := zip.Store
		if !item.Succeeded() {
			body = []byte(item.Reason)
			method = zip.Deflate
		}
		// Zip readers keep only one of several same-named entries.
		name := pipeline.UniqueName(taken, item.Name)
		if err := writeEntry(zw, name, method, modified, body); err != nil {
			return err
		}
	}

	if err := writeEntry(zw, ReportName, zip.Deflate, modified, []byte(Report(result))); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	return nil
}

// Report renders the plain-text processing summary.
func Report(result *pipeline.BatchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Documents submitted: %d\n", result.DocumentsSubmitted)
	fmt.Fprintf(&b, "Documents processed: %d\n", result.DocumentsProcessed)
	fmt.Fprintf(&b, "Pages processed: %d\n", result.PagesProcessed)
	fmt.Fprintf(&b, "Failures: %d\n", result.Failures)

	failed := result.FailedItems()
	if len(failed) > 0 {
		b.WriteString("\nFailed items:\n")
		for _, item := range failed {
			fmt.Fprintf(&b, "- %s (%s): %s\n", item.Name, item.Document, item.Reason)
		}
	}
	return b.String()
}

func writeEntry(zw *zip.Writer, name string, method uint16, modified time.Time, body []byte) error {
	entry, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: method, Modified: modified})
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := entry.Write(body); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
