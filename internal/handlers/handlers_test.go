package handlers

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/example/passport-scanner/internal/auth"
	"github.com/example/passport-scanner/internal/logging"
	"github.com/example/passport-scanner/internal/pipeline"
	"github.com/example/passport-scanner/internal/repository"
	"github.com/example/passport-scanner/internal/usecase"
)

const testJWTSecret = "test-secret"

type stubService struct {
	resultErr error
	result    *pipeline.BatchResult
	err       error
	log       *repository.BatchLog
	metrics   *usecase.MetricsSummary
	gotUser   string
	gotDocs   []pipeline.SourceDocument
	callCount int
}

func (s *stubService) ProcessUpload(ctx context.Context, userID string, docs []pipeline.SourceDocument) (string, *pipeline.BatchResult, error) {
	s.callCount++
	s.gotUser = userID
	s.gotDocs = docs
	return "req-1", s.result, s.err
}

func (s *stubService) GetResult(ctx context.Context, userID, requestID string) (*repository.BatchLog, error) {
	if s.resultErr != nil {
		return nil, s.resultErr
	}
	if s.log == nil || s.log.RequestID != requestID || s.log.UserID != userID {
		return nil, usecase.ErrResultNotFound
	}
	return s.log, nil
}

func (s *stubService) GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error) {
	if s.metrics == nil {
		return nil, errors.New("db down")
	}
	return s.metrics, nil
}

type part struct {
	field       string
	filename    string
	contentType string
	payload     []byte
}

func newRouter(svc ExtractionService, middleware gin.HandlerFunc, maxUpload int64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	RegisterRoutes(router, svc, middleware, Options{MaxUploadSize: maxUpload})
	return router
}

func post(t *testing.T, router *gin.Engine, path, token string, parts ...part) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := buildMultipartBody(t, parts...)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func successResult() *pipeline.BatchResult {
	return &pipeline.BatchResult{
		Items: []pipeline.ProcessedItem{
			{Name: "error_scan_page_1.txt", Document: "scan.pdf", Reason: "no face detected"},
			{Name: "face_scan_page_2.png", Document: "scan.pdf", Data: []byte("png-bytes")},
		},
		DocumentsSubmitted: 1,
		DocumentsProcessed: 1,
		PagesProcessed:     1,
		Failures:           1,
	}
}

func TestUploadRejectsLargeBody(t *testing.T) {
	svc := &stubService{result: successResult()}
	router := newRouter(svc, auth.JWTMiddleware(testJWTSecret, ""), 1024)

	token := buildTestToken(t, "user-123")
	resp := post(t, router, "/api/upload-file", token, part{"file", "big.png", "image/png", bytes.Repeat([]byte("a"), 4096)})

	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
	if svc.callCount != 0 {
		t.Fatal("oversize upload must not be processed")
	}
}

func TestUploadFileRejectsUnsupportedContentType(t *testing.T) {
	svc := &stubService{}
	router := newRouter(svc, nil, 0)

	resp := post(t, router, "/api/upload-file", "", part{"file", "notes.txt", "text/plain", []byte("hello")})

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
	if got := resp.Header().Get("X-Error"); got != "Unsupported file type" {
		t.Fatalf("unexpected X-Error %q", got)
	}
	if svc.callCount != 0 {
		t.Fatal("unsupported upload must not be processed")
	}
}

func TestUploadFileReturnsFirstSuccess(t *testing.T) {
	svc := &stubService{result: successResult()}
	router := newRouter(svc, auth.JWTMiddleware(testJWTSecret, ""), 0)

	resp := post(t, router, "/api/upload-file", buildTestToken(t, "user-123"), part{"file", "scan.pdf", "application/pdf", []byte("%PDF-1.4")})

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if ct := resp.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if cd := resp.Header().Get("Content-Disposition"); cd != `attachment; filename="face_scan_page_2.png"` {
		t.Fatalf("unexpected disposition %q", cd)
	}
	if resp.Header().Get("X-Request-ID") != "req-1" {
		t.Fatal("missing request id header")
	}
	if resp.Body.String() != "png-bytes" {
		t.Fatalf("unexpected body %q", resp.Body.String())
	}
	if svc.gotUser != "user-123" || len(svc.gotDocs) != 1 || svc.gotDocs[0].Kind != pipeline.KindPDF {
		t.Fatalf("unexpected service call user=%q docs=%+v", svc.gotUser, svc.gotDocs)
	}
}

func TestUploadFileFailureHeaders(t *testing.T) {
	allFailed := &pipeline.BatchResult{
		Items:              []pipeline.ProcessedItem{{Name: "error_id.txt", Document: "id.png", Reason: "no face detected"}},
		DocumentsSubmitted: 1,
		Failures:           1,
	}
	cases := map[string]struct {
		result *pipeline.BatchResult
		err    error
		status int
		header string
	}{
		"all failed": {result: allFailed, err: pipeline.ErrAllFailed, status: http.StatusBadRequest, header: "All pages processing failed"},
		"no items":   {result: &pipeline.BatchResult{DocumentsSubmitted: 1}, err: pipeline.ErrAllFailed, status: http.StatusBadRequest, header: "No faces detected"},
		"internal":   {err: errors.New("db down"), status: http.StatusInternalServerError, header: "File processing error"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			router := newRouter(&stubService{result: tc.result, err: tc.err}, nil, 0)
			resp := post(t, router, "/api/upload-file", "", part{"file", "id.png", "image/png", []byte("img")})
			if resp.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, resp.Code)
			}
			if got := resp.Header().Get("X-Error"); got != tc.header {
				t.Fatalf("expected X-Error %q, got %q", tc.header, got)
			}
		})
	}
}

func TestUploadBatchStreamsArchive(t *testing.T) {
	svc := &stubService{result: successResult()}
	router := newRouter(svc, nil, 0)

	resp := post(t, router, "/api/upload-batch", "",
		part{"files", "scan.pdf", "application/pdf", []byte("%PDF-1.4")},
		part{"files", "photo.bin", "application/octet-stream", []byte("\x89PNG\r\n\x1a\n0000")},
		part{"files", "notes.txt", "text/plain", []byte("hello")},
	)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if resp.Header().Get("Content-Type") != "application/zip" {
		t.Fatalf("unexpected content type %q", resp.Header().Get("Content-Type"))
	}
	if svc.gotUser != auth.AnonymousUser {
		t.Fatalf("expected anonymous owner, got %q", svc.gotUser)
	}

	kinds := []pipeline.MediaKind{pipeline.KindPDF, pipeline.KindImage, pipeline.KindUnsupported}
	for i, doc := range svc.gotDocs {
		if doc.Kind != kinds[i] {
			t.Fatalf("document %d (%s): expected %v, got %v", i, doc.Name, kinds[i], doc.Kind)
		}
	}

	body := resp.Body.Bytes()
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		t.Fatalf("response is not a zip: %v", err)
	}
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	if len(names) != 3 || names[1] != "face_scan_page_2.png" || names[2] != "report.txt" {
		t.Fatalf("unexpected archive entries %v", names)
	}
}

func TestUploadBatchStatusMapping(t *testing.T) {
	allFailed := &pipeline.BatchResult{
		Items:              []pipeline.ProcessedItem{{Name: "error_a.txt", Document: "a.png", Reason: "no face detected"}},
		DocumentsSubmitted: 1,
		Failures:           1,
	}

	router := newRouter(&stubService{result: &pipeline.BatchResult{}, err: pipeline.ErrAllFailed}, nil, 0)
	resp := post(t, router, "/api/upload-batch", "", part{"files", "a.txt", "text/plain", []byte("x")})
	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", resp.Code)
	}

	router = newRouter(&stubService{result: allFailed, err: pipeline.ErrAllFailed}, nil, 0)
	resp = post(t, router, "/api/upload-batch", "", part{"files", "a.png", "image/png", []byte("x")})
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.Code)
	}
	var payload struct {
		RequestID string                   `json:"request_id"`
		Failures  []pipeline.ProcessedItem `json:"failures"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if payload.RequestID != "req-1" || len(payload.Failures) != 1 || payload.Failures[0].Reason != "no face detected" {
		t.Fatalf("unexpected payload %+v", payload)
	}

	resp = post(t, router, "/api/upload-batch", "", part{"other", "a.png", "image/png", []byte("x")})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without files, got %d", resp.Code)
	}
}

func TestResultsAndMetrics(t *testing.T) {
	svc := &stubService{
		log:     &repository.BatchLog{RequestID: "req-9", UserID: "user-123", PagesProcessed: 2, CreatedAt: time.Now()},
		metrics: &usecase.MetricsSummary{TotalBatches: 1},
	}
	router := newRouter(svc, auth.JWTMiddleware(testJWTSecret, ""), 0)
	token := buildTestToken(t, "user-123")

	get := func(path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		return resp
	}

	if resp := get("/api/results/req-9", token); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if resp := get("/api/results/req-9", buildTestToken(t, "intruder")); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another user, got %d", resp.Code)
	}
	if resp := get("/api/results/req-9", ""); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.Code)
	}
	if resp := get("/api/metrics", token); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if resp := get("/health", ""); resp.Code != http.StatusOK {
		t.Fatalf("health must stay public, got %d", resp.Code)
	}

	svc.metrics = nil
	if resp := get("/api/metrics", token); resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 when metrics fail, got %d", resp.Code)
	}

	svc.resultErr = logging.NewOperationError("repository.find_log", "req-9", errors.New("connection refused"))
	if resp := get("/api/results/req-9", token); resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 when the database is down, got %d", resp.Code)
	}
}

func TestMediaKind(t *testing.T) {
	cases := []struct {
		declared string
		data     []byte
		want     pipeline.MediaKind
	}{
		{"image/jpeg", nil, pipeline.KindImage},
		{"application/pdf", nil, pipeline.KindPDF},
		{"text/plain", []byte("%PDF-1.4"), pipeline.KindUnsupported},
		{"", []byte("%PDF-1.4\n"), pipeline.KindPDF},
		{"application/octet-stream", []byte("\x89PNG\r\n\x1a\n0000"), pipeline.KindImage},
		{"", []byte("plain words"), pipeline.KindUnsupported},
	}
	for _, tc := range cases {
		if got := mediaKind(tc.declared, tc.data); got != tc.want {
			t.Fatalf("mediaKind(%q, %q) = %v, want %v", tc.declared, tc.data, got, tc.want)
		}
	}
}

func buildMultipartBody(t *testing.T, parts ...part) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for _, p := range parts {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="`+p.field+`"; filename="`+p.filename+`"`)
		header.Set("Content-Type", p.contentType)

		w, err := writer.CreatePart(header)
		if err != nil {
			t.Fatalf("failed to create multipart part: %v", err)
		}
		if _, err := w.Write(p.payload); err != nil {
			t.Fatalf("failed to write payload: %v", err)
		}
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	return body, writer.FormDataContentType()
}

func buildTestToken(t *testing.T, subject string) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}
