package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/passport-scanner/internal/archive"
	"github.com/example/passport-scanner/internal/auth"
	"github.com/example/passport-scanner/internal/logging"
	"github.com/example/passport-scanner/internal/pipeline"
	"github.com/example/passport-scanner/internal/usecase"
)

// MaxUploadSize is the default request body limit.
const MaxUploadSize = 20 << 20

// Options tune the HTTP surface. Zero values fall back to defaults.
type Options struct {
	MaxUploadSize int64
	Logger        *zap.Logger
}

type handler struct {
	svc       ExtractionService
	logger    *zap.Logger
	maxUpload int64
}

// RegisterRoutes wires the HTTP handlers to the Gin router. A nil
// authMiddleware leaves the /api group open; uploads are then owned by
// auth.AnonymousUser.
func RegisterRoutes(router *gin.Engine, svc ExtractionService, authMiddleware gin.HandlerFunc, opts Options) {
	h := &handler{svc: svc, logger: opts.Logger, maxUpload: opts.MaxUploadSize}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	if h.maxUpload <= 0 {
		h.maxUpload = MaxUploadSize
	}
	h.logger = h.logger.Named("http")

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	if authMiddleware != nil {
		api.Use(authMiddleware)
	}
	api.POST("/upload-file", h.uploadFile)
	api.POST("/upload-batch", h.uploadBatch)
	api.GET("/results/:id", h.getResult)
	api.GET("/metrics", h.getMetrics)
}

func (h *handler) uploadFile(c *gin.Context) {
	files, ok := h.readUploads(c, "file")
	if !ok {
		return
	}
	doc := files[0]
	if doc.Kind == pipeline.KindUnsupported {
		textError(c, http.StatusBadRequest, "Unsupported file type", "Error: Unsupported file type - "+doc.declared)
		return
	}

	requestID, result, err := h.svc.ProcessUpload(c.Request.Context(), auth.UserIDOrAnonymous(c.Request.Context()), []pipeline.SourceDocument{doc.SourceDocument})
	if requestID != "" {
		c.Header("X-Request-ID", requestID)
	}
	if err != nil && !errors.Is(err, pipeline.ErrAllFailed) {
		h.logger.Error("upload processing failed", zap.Error(err))
		textError(c, http.StatusInternalServerError, "File processing error", "Error: "+err.Error())
		return
	}

	if result == nil || len(result.Items) == 0 {
		textError(c, http.StatusBadRequest, "No faces detected", "Error: No faces detected in the document")
		return
	}
	item, found := result.FirstSuccess()
	if !found {
		textError(c, http.StatusBadRequest, "All pages processing failed", "Error: Failed to process all pages")
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, item.Name))
	c.Data(http.StatusOK, "image/png", item.Data)
}

func (h *handler) uploadBatch(c *gin.Context) {
	files, ok := h.readUploads(c, "files")
	if !ok {
		return
	}
	docs := make([]pipeline.SourceDocument, 0, len(files))
	for _, f := range files {
		docs = append(docs, f.SourceDocument)
	}

	requestID, result, err := h.svc.ProcessUpload(c.Request.Context(), auth.UserIDOrAnonymous(c.Request.Context()), docs)
	if requestID != "" {
		c.Header("X-Request-ID", requestID)
	}
	switch {
	case err == nil:
	case errors.Is(err, pipeline.ErrAllFailed) && result != nil && result.DocumentsSubmitted == 0:
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "no supported documents in upload"})
		return
	case errors.Is(err, pipeline.ErrAllFailed) && result != nil:
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"request_id": requestID,
			"error":      "no faces could be extracted",
			"failures":   result.FailedItems(),
		})
		return
	default:
		h.logger.Error("batch processing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="faces_%s.zip"`, requestID))
	c.Status(http.StatusOK)
	if err := archive.Write(c.Writer, result); err != nil {
		// Headers are already sent; all that is left is to log.
		logging.WithOperation(h.logger, "http.write_archive", requestID).Error("failed to stream archive", zap.Error(err))
	}
}

func (h *handler) getResult(c *gin.Context) {
	requestID := c.Param("id")
	log, err := h.svc.GetResult(c.Request.Context(), auth.UserIDOrAnonymous(c.Request.Context()), requestID)
	if errors.Is(err, usecase.ErrResultNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
		return
	}
	if err != nil {
		logging.WithOperation(h.logger, "http.get_result", requestID).Error("result lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "result lookup failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"request_id":          log.RequestID,
		"documents_submitted": log.DocumentsSubmitted,
		"documents_processed": log.DocumentsProcessed,
		"pages_processed":     log.PagesProcessed,
		"failures":            log.Failures,
		"all_failed":          log.AllFailed,
		"digest":              log.Digest,
		"details":             log.Details,
		"duration_ms":         log.DurationMs,
		"created_at":          log.CreatedAt,
	})
}

func (h *handler) getMetrics(c *gin.Context) {
	summary, err := h.svc.GetMetricsSummary(c.Request.Context())
	if err != nil {
		h.logger.Error("metrics aggregation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "metrics unavailable"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

type upload struct {
	pipeline.SourceDocument
	declared string
}

// readUploads reads every part under field. It writes the error response
// itself and returns false when the request cannot be used.
func (h *handler) readUploads(c *gin.Context, field string) ([]upload, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	form, err := c.MultipartForm()
	if err != nil {
		if isTooLarge(err) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("upload exceeds %d bytes", h.maxUpload)})
			return nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form required"})
		return nil, false
	}

	headers := form.File[field]
	if len(headers) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": field + " is required"})
		return nil, false
	}

	uploads := make([]upload, 0, len(headers))
	for _, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read upload"})
			return nil, false
		}
		declared := fh.Header.Get("Content-Type")
		uploads = append(uploads, upload{
			SourceDocument: pipeline.SourceDocument{Name: fh.Filename, Kind: mediaKind(declared, data), Data: data},
			declared:       declared,
		})
	}
	return uploads, true
}

// mediaKind trusts the declared type. Only a missing or generic declaration
// is replaced by sniffing the content.
func mediaKind(declared string, data []byte) pipeline.MediaKind {
	generic := declared == "" || strings.HasPrefix(declared, "application/octet-stream")
	if !generic {
		return pipeline.KindFromContentType(declared)
	}
	return pipeline.KindFromContentType(mimetype.Detect(data).String())
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	src, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return io.ReadAll(src)
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large")
}

func textError(c *gin.Context, status int, header, body string) {
	c.Header("X-Error", header)
	c.Data(status, "text/plain; charset=utf-8", []byte(body))
}
