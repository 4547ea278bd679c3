package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/passport-scanner/internal/logging"
)

// BatchLog is the persisted summary of one processed batch.
type BatchLog struct {
	ID                 uint      `gorm:"primaryKey"`
	RequestID          string    `gorm:"column:request_id;uniqueIndex;size:64"`
	UserID             string    `gorm:"column:user_id;index;size:64"`
	DocumentsSubmitted int       `gorm:"column:documents_submitted"`
	DocumentsProcessed int       `gorm:"column:documents_processed"`
	PagesProcessed     int       `gorm:"column:pages_processed"`
	Failures           int       `gorm:"column:failures"`
	AllFailed          bool      `gorm:"column:all_failed"`
	Digest             string    `gorm:"column:digest;size:64;index"`
	Details            string    `gorm:"column:details;type:text"`
	DurationMs         int64     `gorm:"column:duration_ms"`
	CreatedAt          time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (BatchLog) TableName() string {
	return "batch_logs"
}

// MetricsAggregation holds the raw counters summed over all batch logs.
type MetricsAggregation struct {
	TotalBatches       int64
	SuccessfulBatches  int64
	DocumentsSubmitted int64
	DocumentsProcessed int64
	PagesProcessed     int64
	Failures           int64
	AverageDurationMs  float64
}

// BatchRepository persists batch logs through gorm.
type BatchRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewBatchRepository creates a new repository instance.
func NewBatchRepository(db *gorm.DB, logger *zap.Logger) *BatchRepository {
	return &BatchRepository{
		db:             db,
		logger:         logger.Named("batch_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *BatchRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&BatchLog{})
	})
}

// SaveLog persists a batch log entry.
func (r *BatchRepository) SaveLog(ctx context.Context, log *BatchLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestIDAndUser retrieves the batch log matching the request and owner.
func (r *BatchRepository) FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*BatchLog, error) {
	var log BatchLog
	err := r.executeWithRetry(ctx, "repository.find_log", requestID, func() error {
		return r.db.WithContext(ctx).First(&log, "request_id = ? AND user_id = ?", requestID, userID).Error
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// AggregateMetrics sums the counters of every stored batch.
func (r *BatchRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&BatchLog{}).
			Select(`COUNT(*) AS total_batches,
				COALESCE(SUM(CASE WHEN all_failed THEN 0 ELSE 1 END), 0) AS successful_batches,
				COALESCE(SUM(documents_submitted), 0) AS documents_submitted,
				COALESCE(SUM(documents_processed), 0) AS documents_processed,
				COALESCE(SUM(pages_processed), 0) AS pages_processed,
				COALESCE(SUM(failures), 0) AS failures,
				COALESCE(AVG(duration_ms), 0) AS average_duration_ms`).
			Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func (r *BatchRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)

	var err error
	for attempt := 0; attempt < max(r.retryAttempts, 1); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, r.maxBackoff)
		}

		if err = fn(); err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if errors.Is(err, gorm.ErrRecordNotFound) || !isTransientError(err) {
			break
		}
		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func isTransientError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return true
	}
	var temporary interface{ Temporary() bool }
	return errors.As(err, &temporary) && temporary.Temporary()
}
