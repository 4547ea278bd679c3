package usecase

import "context"

// MetricsSummary represents aggregated extraction insights.
type MetricsSummary struct {
	TotalBatches       int64   `json:"total_batches"`
	SuccessfulBatches  int64   `json:"successful_batches"`
	SuccessRate        float64 `json:"success_rate"`
	DocumentsSubmitted int64   `json:"documents_submitted"`
	DocumentsProcessed int64   `json:"documents_processed"`
	PagesProcessed     int64   `json:"pages_processed"`
	Failures           int64   `json:"failures"`
	FaceYield          float64 `json:"face_yield"`
	AverageDurationMs  float64 `json:"average_duration_ms"`
}

// GetMetricsSummary aggregates extraction metrics from persisted batch logs.
func (uc *ExtractionUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalBatches:       aggregation.TotalBatches,
		SuccessfulBatches:  aggregation.SuccessfulBatches,
		DocumentsSubmitted: aggregation.DocumentsSubmitted,
		DocumentsProcessed: aggregation.DocumentsProcessed,
		PagesProcessed:     aggregation.PagesProcessed,
		Failures:           aggregation.Failures,
		AverageDurationMs:  aggregation.AverageDurationMs,
	}

	if aggregation.TotalBatches > 0 {
		summary.SuccessRate = float64(aggregation.SuccessfulBatches) / float64(aggregation.TotalBatches)
	}
	// Share of produced items that carried a face.
	if items := aggregation.PagesProcessed + aggregation.Failures; items > 0 {
		summary.FaceYield = float64(aggregation.PagesProcessed) / float64(items)
	}

	return summary, nil
}
