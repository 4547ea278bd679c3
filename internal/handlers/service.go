package handlers

import (
	"context"

	"github.com/example/passport-scanner/internal/pipeline"
	"github.com/example/passport-scanner/internal/repository"
	"github.com/example/passport-scanner/internal/usecase"
)

// ExtractionService is the part of usecase.ExtractionUseCase the routes need.
type ExtractionService interface {
	ProcessUpload(ctx context.Context, userID string, docs []pipeline.SourceDocument) (string, *pipeline.BatchResult, error)
	GetResult(ctx context.Context, userID, requestID string) (*repository.BatchLog, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

var _ ExtractionService = (*usecase.ExtractionUseCase)(nil)
