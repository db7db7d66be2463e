package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cruise-scraper/metrics"
	"cruise-scraper/models"
	"cruise-scraper/storage"
	"cruise-scraper/utils"
)

// Retriever produces raw records for a query.
type Retriever interface {
	Retrieve(ctx context.Context, q models.Query, priority string) ([]models.RawRecord, error)
}

// BatchWriter commits the primary artifacts of a run.
type BatchWriter interface {
	Write(ctx context.Context, b storage.Batch) (models.Artifacts, error)
}

// Pipeline runs one acquisition: retrieve, normalize, score, dedup,
// summarize and persist.
type Pipeline struct {
	Retriever  Retriever
	Normalizer *Normalizer
	Quality    *QualityMonitor
	Insights   *InsightService
	Writer     BatchWriter
	Sinks      []storage.Sink
	Metrics    *metrics.Metrics
	Logger     *utils.Logger

	now func() time.Time
}

// Run executes the pipeline once. An empty retrieval still writes an empty
// batch. Errors come only from configuration, cancellation or I/O.
func (p *Pipeline) Run(ctx context.Context, q models.Query, priority string) (*models.RunResult, error) {
	logger := p.Logger
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	now := time.Now
	if p.now != nil {
		now = p.now
	}

	started := now()
	runID := uuid.NewString()
	result := &models.RunResult{RunID: runID, RunDate: started.Format("2006-01-02")}
	logger.Info("[pipeline] Run %s started (priority %s)", runID, priority)

	raw, err := p.Retriever.Retrieve(ctx, q, priority)
	if err != nil {
		return nil, fmt.Errorf("pipeline: retrieve: %w", err)
	}
	result.RawRecords = len(raw)
	if len(raw) == 0 {
		logger.Warn("[pipeline] No records retrieved, writing an empty batch")
	}

	listings := p.Normalizer.Normalize(raw)
	result.Quality = p.Quality.Evaluate(listings)

	kept, byID, dropped := storage.Dedup(listings)
	if dropped > 0 {
		logger.Info("[pipeline] Dropped %d duplicate listings", dropped)
	}
	result.Listings = kept
	result.Summary = p.Insights.Generate(kept, dropped, runID, started)

	batch := storage.Batch{
		RunID:    runID,
		RunDate:  result.RunDate,
		Listings: kept,
		ByID:     byID,
		Summary:  result.Summary,
	}
	result.Artifacts, err = p.Writer.Write(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("pipeline: persist: %w", err)
	}
	if p.Metrics != nil {
		p.Metrics.ListingsWritten.Add(float64(len(kept)))
	}

	for _, s := range p.Sinks {
		if err := s.WriteBatch(ctx, batch); err != nil {
			return result, fmt.Errorf("pipeline: sink %s: %w", s.Name(), err)
		}
		logger.Info("[pipeline] Copied %d listings to %s", len(kept), s.Name())
	}

	logger.Info("[pipeline] Run %s done in %s: %d raw, %d persisted",
		runID, time.Since(started).Round(time.Millisecond), len(raw), len(kept))
	return result, nil
}
