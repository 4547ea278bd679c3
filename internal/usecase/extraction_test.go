package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/passport-scanner/internal/logging"
	"github.com/example/passport-scanner/internal/pipeline"
	"github.com/example/passport-scanner/internal/repository"
)

type stubRepository struct {
	savedLogs []*repository.BatchLog
	saveErr   error
	findLog   *repository.BatchLog
	findErr   error
	findCalls int
	agg       *repository.MetricsAggregation
}

func (s *stubRepository) SaveLog(ctx context.Context, log *repository.BatchLog) error {
	s.savedLogs = append(s.savedLogs, log)
	return s.saveErr
}

func (s *stubRepository) FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*repository.BatchLog, error) {
	s.findCalls++
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.findLog != nil {
		return s.findLog, nil
	}
	return nil, ErrResultNotFound
}

func (s *stubRepository) AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error) {
	if s.agg == nil {
		return &repository.MetricsAggregation{}, nil
	}
	return s.agg, nil
}

type stubCache struct {
	setErrs   []error
	getErrs   []error
	getValues []string
	setKeys   []string
	setValues []interface{}
	getKeys   []string
}

func (s *stubCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	s.setKeys = append(s.setKeys, key)
	s.setValues = append(s.setValues, value)
	if len(s.setErrs) == 0 {
		return nil
	}
	err := s.setErrs[0]
	s.setErrs = s.setErrs[1:]
	return err
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	s.getKeys = append(s.getKeys, key)
	var value string
	if len(s.getValues) > 0 {
		value = s.getValues[0]
		s.getValues = s.getValues[1:]
	}
	var err error
	if len(s.getErrs) > 0 {
		err = s.getErrs[0]
		s.getErrs = s.getErrs[1:]
	}
	return value, err
}

type stubBatches struct {
	result    *pipeline.BatchResult
	err       error
	requestID string
}

func (s *stubBatches) ProcessBatch(ctx context.Context, requestID string, docs []pipeline.SourceDocument) (*pipeline.BatchResult, error) {
	s.requestID = requestID
	return s.result, s.err
}

type transientRedisError struct{}

func (transientRedisError) Error() string   { return "redis transient" }
func (transientRedisError) Timeout() bool   { return true }
func (transientRedisError) Temporary() bool { return true }

func newTestUseCase(repo BatchRepository, cache Cache, batches BatchProcessor) *ExtractionUseCase {
	uc := NewExtractionUseCase(repo, cache, batches, zap.NewNop())
	uc.initialBackoff = time.Millisecond
	uc.maxBackoff = 2 * time.Millisecond
	return uc
}

func mixedResult() *pipeline.BatchResult {
	return &pipeline.BatchResult{
		Items: []pipeline.ProcessedItem{
			{Name: "face_a.png", Document: "a.png", Data: []byte("png")},
			{Name: "error_b.txt", Document: "b.png", Reason: "no face detected"},
		},
		DocumentsSubmitted: 2,
		DocumentsProcessed: 1,
		PagesProcessed:     1,
		Failures:           1,
	}
}

func uploads() []pipeline.SourceDocument {
	return []pipeline.SourceDocument{
		{Name: "a.png", Kind: pipeline.KindImage, Data: []byte("a")},
		{Name: "b.png", Kind: pipeline.KindImage, Data: []byte("b")},
	}
}

func TestProcessUploadRetriesRedisSet(t *testing.T) {
	cache := &stubCache{setErrs: []error{transientRedisError{}}}
	repo := &stubRepository{}
	batches := &stubBatches{result: mixedResult()}
	uc := newTestUseCase(repo, cache, batches)

	requestID, result, err := uc.ProcessUpload(context.Background(), "user-1", uploads())
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if requestID == "" || requestID != batches.requestID {
		t.Fatalf("expected request id to reach the orchestrator, got %q and %q", requestID, batches.requestID)
	}
	if result.PagesProcessed != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(cache.setKeys) != 3 {
		t.Fatalf("expected 3 cache set calls (retry + result), got %d", len(cache.setKeys))
	}
	if cache.setKeys[0] != cache.setKeys[1] {
		t.Fatalf("expected retry to target same key, got %s and %s", cache.setKeys[0], cache.setKeys[1])
	}
	if len(repo.savedLogs) != 1 {
		t.Fatalf("expected log to be saved, got %d entries", len(repo.savedLogs))
	}

	log := repo.savedLogs[0]
	if log.UserID != "user-1" || log.DocumentsSubmitted != 2 || log.Failures != 1 || log.AllFailed {
		t.Fatalf("unexpected batch log %+v", log)
	}
	if len(log.Digest) != 64 {
		t.Fatalf("expected hex sha256 digest, got %q", log.Digest)
	}
	if log.Details != "error_b.txt: no face detected" {
		t.Fatalf("unexpected details %q", log.Details)
	}
}

func TestProcessUploadReturnsOperationErrorOnCacheFailure(t *testing.T) {
	cache := &stubCache{setErrs: []error{errors.New("boom")}}
	repo := &stubRepository{}
	uc := newTestUseCase(repo, cache, &stubBatches{result: mixedResult()})

	_, _, err := uc.ProcessUpload(context.Background(), "user-1", uploads())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "cache.set.processing" {
		t.Fatalf("unexpected operation: %s", opErr.Operation)
	}
	if len(repo.savedLogs) != 0 {
		t.Fatal("nothing should be persisted when the batch never ran")
	}
}

func TestProcessUploadRecordsAllFailedBatch(t *testing.T) {
	result := &pipeline.BatchResult{
		Items:              []pipeline.ProcessedItem{{Name: "error_a.txt", Document: "a.png", Reason: "no face detected"}},
		DocumentsSubmitted: 1,
		Failures:           1,
	}
	repo := &stubRepository{}
	uc := newTestUseCase(repo, &stubCache{}, &stubBatches{result: result, err: pipeline.ErrAllFailed})

	requestID, got, err := uc.ProcessUpload(context.Background(), "user-1", uploads()[:1])
	if !errors.Is(err, pipeline.ErrAllFailed) {
		t.Fatalf("expected ErrAllFailed, got %v", err)
	}
	if requestID == "" || got != result {
		t.Fatal("expected request id and result alongside ErrAllFailed")
	}
	if len(repo.savedLogs) != 1 || !repo.savedLogs[0].AllFailed {
		t.Fatalf("expected all-failed batch to be recorded, got %+v", repo.savedLogs)
	}
}

func TestProcessUploadResultCacheFailureIsNotFatal(t *testing.T) {
	cache := &stubCache{setErrs: []error{nil, errors.New("down")}}
	repo := &stubRepository{}
	uc := newTestUseCase(repo, cache, &stubBatches{result: mixedResult()})

	if _, _, err := uc.ProcessUpload(context.Background(), "user-1", uploads()); err != nil {
		t.Fatalf("expected persisted batch to succeed, got %v", err)
	}
}

func TestProcessUploadPropagatesSaveFailure(t *testing.T) {
	repo := &stubRepository{saveErr: errors.New("db down")}
	uc := newTestUseCase(repo, &stubCache{}, &stubBatches{result: mixedResult()})

	_, _, err := uc.ProcessUpload(context.Background(), "user-1", uploads())
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) || opErr.Operation != "usecase.save_log" {
		t.Fatalf("expected save_log operation error, got %v", err)
	}
}

func TestGetResultFallsBackToRepositoryWhenCacheMiss(t *testing.T) {
	cache := &stubCache{getErrs: []error{redis.Nil}}
	expected := &repository.BatchLog{RequestID: "req", UserID: "user", Details: "from-db"}
	repo := &stubRepository{findLog: expected}
	uc := newTestUseCase(repo, cache, &stubBatches{})

	log, err := uc.GetResult(context.Background(), "user", "req")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if log != expected {
		t.Fatalf("expected %+v, got %+v", expected, log)
	}
	if repo.findCalls != 1 {
		t.Fatalf("expected repository to be queried once, got %d", repo.findCalls)
	}
}

func TestGetResultSeparatesMissingFromFailure(t *testing.T) {
	repo := &stubRepository{findErr: logging.NewOperationError("repository.find_log", "req", gorm.ErrRecordNotFound)}
	uc := newTestUseCase(repo, NoopCache{}, &stubBatches{})
	if _, err := uc.GetResult(context.Background(), "user", "req"); !errors.Is(err, ErrResultNotFound) {
		t.Fatalf("expected ErrResultNotFound, got %v", err)
	}

	outage := errors.New("connection refused")
	repo.findErr = logging.NewOperationError("repository.find_log", "req", outage)
	_, err := uc.GetResult(context.Background(), "user", "req")
	if !errors.Is(err, outage) || errors.Is(err, ErrResultNotFound) {
		t.Fatalf("expected database failure to surface, got %v", err)
	}
}

func TestGetResultServesCachedSummary(t *testing.T) {
	payload, _ := json.Marshal(cachedBatch{RequestID: "req", UserID: "user", PagesProcessed: 3, Details: "cached"})
	cache := &stubCache{getValues: []string{string(payload)}}
	repo := &stubRepository{}
	uc := newTestUseCase(repo, cache, &stubBatches{})

	log, err := uc.GetResult(context.Background(), "user", "req")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if log.PagesProcessed != 3 || log.Details != "cached" {
		t.Fatalf("unexpected cached log %+v", log)
	}
	if repo.findCalls != 0 {
		t.Fatal("repository should not be queried on a cache hit")
	}
}

func TestGetResultIgnoresOtherUsersCacheEntry(t *testing.T) {
	payload, _ := json.Marshal(cachedBatch{RequestID: "req", UserID: "someone-else"})
	cache := &stubCache{getValues: []string{string(payload)}}
	repo := &stubRepository{}
	uc := newTestUseCase(repo, cache, &stubBatches{})

	if _, err := uc.GetResult(context.Background(), "user", "req"); !errors.Is(err, ErrResultNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if repo.findCalls != 1 {
		t.Fatalf("expected repository lookup, got %d", repo.findCalls)
	}
}

func TestGetMetricsSummary(t *testing.T) {
	repo := &stubRepository{agg: &repository.MetricsAggregation{
		TotalBatches:      4,
		SuccessfulBatches: 3,
		PagesProcessed:    6,
		Failures:          2,
	}}
	uc := newTestUseCase(repo, NoopCache{}, &stubBatches{})

	summary, err := uc.GetMetricsSummary(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.SuccessRate != 0.75 || summary.FaceYield != 0.75 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestNoopAdapters(t *testing.T) {
	if _, err := (NoopCache{}).Get(context.Background(), "k"); !errors.Is(err, redis.Nil) {
		t.Fatalf("expected redis.Nil, got %v", err)
	}

	uc := newTestUseCase(NoopRepository{}, NoopCache{}, &stubBatches{result: mixedResult()})
	requestID, _, err := uc.ProcessUpload(context.Background(), "anonymous", uploads())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = uc.GetResult(context.Background(), "anonymous", requestID)
	if !errors.Is(err, ErrResultNotFound) {
		t.Fatalf("expected not found without storage, got %v", err)
	}
	if !strings.Contains(resultKey(requestID), requestID) {
		t.Fatal("cache key must embed the request id")
	}
}
