package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/passport-scanner/internal/logging"
	"github.com/example/passport-scanner/internal/pipeline"
	"github.com/example/passport-scanner/internal/repository"
)

const (
	processingTTL = time.Minute
	resultTTL     = 10 * time.Minute
)

// BatchProcessor runs a batch of documents through face extraction.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, requestID string, docs []pipeline.SourceDocument) (*pipeline.BatchResult, error)
}

// ExtractionUseCase wraps the batch orchestrator with request ids, history and caching.
type ExtractionUseCase struct {
	repo           BatchRepository
	cache          Cache
	batches        BatchProcessor
	logger         *zap.Logger
	now            func() time.Time
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

type cachedBatch struct {
	RequestID          string    `json:"request_id"`
	UserID             string    `json:"user_id"`
	DocumentsSubmitted int       `json:"documents_submitted"`
	DocumentsProcessed int       `json:"documents_processed"`
	PagesProcessed     int       `json:"pages_processed"`
	Failures           int       `json:"failures"`
	AllFailed          bool      `json:"all_failed"`
	Digest             string    `json:"digest"`
	Details            string    `json:"details"`
	DurationMs         int64     `json:"duration_ms"`
	CreatedAt          time.Time `json:"created_at"`
}

// NewExtractionUseCase constructs a new use case instance.
func NewExtractionUseCase(repo BatchRepository, cache Cache, batches BatchProcessor, logger *zap.Logger) *ExtractionUseCase {
	return &ExtractionUseCase{
		repo:           repo,
		cache:          cache,
		batches:        batches,
		logger:         logger.Named("extraction_usecase"),
		now:            time.Now,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// ProcessUpload extracts faces from the uploaded documents and records the batch.
// When nothing succeeds the result is still returned, together with
// pipeline.ErrAllFailed, and the batch is still recorded.
func (uc *ExtractionUseCase) ProcessUpload(ctx context.Context, userID string, docs []pipeline.SourceDocument) (string, *pipeline.BatchResult, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.process_upload", requestID)

	cacheKey := resultKey(requestID)
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.processing", func() error {
		return uc.cache.Set(ctx, cacheKey, "processing", processingTTL)
	}); err != nil {
		opLogger.Error("failed to set processing flag", zap.Error(err))
		return "", nil, err
	}

	started := uc.now()
	result, batchErr := uc.batches.ProcessBatch(ctx, requestID, docs)
	if batchErr != nil && !errors.Is(batchErr, pipeline.ErrAllFailed) {
		return "", nil, logging.NewOperationError("usecase.process_batch", requestID, batchErr)
	}

	log := &repository.BatchLog{
		RequestID:          requestID,
		UserID:             userID,
		DocumentsSubmitted: result.DocumentsSubmitted,
		DocumentsProcessed: result.DocumentsProcessed,
		PagesProcessed:     result.PagesProcessed,
		Failures:           result.Failures,
		AllFailed:          result.AllFailed(),
		Digest:             digest(docs),
		Details:            details(result),
		DurationMs:         uc.now().Sub(started).Milliseconds(),
		CreatedAt:          uc.now().UTC(),
	}
	if err := uc.repo.SaveLog(ctx, log); err != nil {
		wrapped := logging.NewOperationError("usecase.save_log", requestID, err)
		opLogger.Error("failed to persist batch log", zap.Error(wrapped))
		return "", nil, wrapped
	}

	serialized, err := json.Marshal(toCached(log))
	if err != nil {
		opLogger.Error("failed to serialize batch summary", zap.Error(err))
		return "", nil, err
	}
	// The log is already persisted; a cache miss later falls back to it.
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), resultTTL)
	}); err != nil {
		opLogger.Warn("failed to cache batch summary", zap.Error(err))
	}

	return requestID, result, batchErr
}

// GetResult returns the recorded batch summary, from the cache when possible.
// An unknown request id yields ErrResultNotFound; any other error is a lookup failure.
func (uc *ExtractionUseCase) GetResult(ctx context.Context, userID, requestID string) (*repository.BatchLog, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.get_result", requestID)
	cached, err := uc.withRedisGet(ctx, requestID, "cache.get.result", resultKey(requestID))
	switch {
	case err == nil && cached != "processing":
		var payload cachedBatch
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			opLogger.Warn("failed to decode cached result", zap.Error(err))
			break
		}
		if payload.UserID == userID {
			return fromCached(payload), nil
		}
	case err != nil && !errors.Is(err, redis.Nil):
		opLogger.Warn("failed to read cache", zap.Error(err))
	}

	log, err := uc.repo.FindByRequestIDAndUser(ctx, requestID, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrResultNotFound
	}
	return log, err
}

func (uc *ExtractionUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)

	var err error
	for attempt := 0; attempt < max(uc.retryAttempts, 1); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, uc.maxBackoff)
		}

		if err = fn(); err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if errors.Is(err, redis.Nil) {
			return err
		}
		if !isTransientError(err) {
			break
		}
		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *ExtractionUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	return result, err
}

func isTransientError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var temporary interface{ Temporary() bool }
	return errors.As(err, &temporary) && temporary.Temporary()
}

func resultKey(requestID string) string {
	return fmt.Sprintf("extraction:%s", requestID)
}

// digest fingerprints the submitted bytes so repeated uploads can be spotted.
func digest(docs []pipeline.SourceDocument) string {
	h := sha256.New()
	for _, doc := range docs {
		h.Write(doc.Data)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func details(result *pipeline.BatchResult) string {
	failed := result.FailedItems()
	if len(failed) == 0 {
		return "all items succeeded"
	}
	parts := make([]string, 0, len(failed))
	for _, item := range failed {
		parts = append(parts, item.Name+": "+item.Reason)
	}
	return strings.Join(parts, "; ")
}

func toCached(log *repository.BatchLog) cachedBatch {
	return cachedBatch{
		RequestID:          log.RequestID,
		UserID:             log.UserID,
		DocumentsSubmitted: log.DocumentsSubmitted,
		DocumentsProcessed: log.DocumentsProcessed,
		PagesProcessed:     log.PagesProcessed,
		Failures:           log.Failures,
		AllFailed:          log.AllFailed,
		Digest:             log.Digest,
		Details:            log.Details,
		DurationMs:         log.DurationMs,
		CreatedAt:          log.CreatedAt,
	}
}

func fromCached(c cachedBatch) *repository.BatchLog {
	return &repository.BatchLog{
		RequestID:          c.RequestID,
		UserID:             c.UserID,
		DocumentsSubmitted: c.DocumentsSubmitted,
		DocumentsProcessed: c.DocumentsProcessed,
		PagesProcessed:     c.PagesProcessed,
		Failures:           c.Failures,
		AllFailed:          c.AllFailed,
		Digest:             c.Digest,
		Details:            c.Details,
		DurationMs:         c.DurationMs,
		CreatedAt:          c.CreatedAt,
	}
}
