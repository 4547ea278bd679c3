package usecase

import (
	"context"
	"errors"

	"github.com/example/passport-scanner/internal/repository"
)

// ErrResultNotFound is returned when no batch log matches a request id.
var ErrResultNotFound = errors.New("result not found")

// BatchRepository defines the persistence operations needed by the use case.
type BatchRepository interface {
	SaveLog(ctx context.Context, log *repository.BatchLog) error
	FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*repository.BatchLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// NoopRepository stands in for the database when none is configured.
// Nothing is stored, so lookups miss and metrics stay at zero.
type NoopRepository struct{}

func (NoopRepository) SaveLog(context.Context, *repository.BatchLog) error { return nil }

func (NoopRepository) FindByRequestIDAndUser(context.Context, string, string) (*repository.BatchLog, error) {
	return nil, ErrResultNotFound
}

func (NoopRepository) AggregateMetrics(context.Context) (*repository.MetricsAggregation, error) {
	return &repository.MetricsAggregation{}, nil
}
