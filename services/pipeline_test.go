package services

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cruise-scraper/models"
	"cruise-scraper/ratelimit"
	"cruise-scraper/storage"
	"cruise-scraper/utils"
)

type stubRetriever struct {
	records []models.RawRecord
	err     error
}

func (s stubRetriever) Retrieve(context.Context, models.Query, string) ([]models.RawRecord, error) {
	return s.records, s.err
}

type recordingSink struct {
	batches []storage.Batch
	err     error
}

func (s *recordingSink) Name() string { return "recording" }
func (s *recordingSink) WriteBatch(_ context.Context, b storage.Batch) error {
	s.batches = append(s.batches, b)
	return s.err
}
func (s *recordingSink) Close() error { return nil }

func newTestPipeline(t *testing.T, r Retriever, sinks ...storage.Sink) *Pipeline {
	t.Helper()
	logger := utils.NewNopLogger()
	return &Pipeline{
		Retriever:  r,
		Normalizer: NewNormalizer(logger, nil),
		Quality:    NewQualityMonitor(0, nil, logger),
		Insights:   NewInsightService(logger),
		Writer:     storage.NewFileWriter(t.TempDir(), logger),
		Sinks:      sinks,
		Logger:     logger,
		now:        func() time.Time { return time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC) },
	}
}

func TestPipelineRun(t *testing.T) {
	sink := &recordingSink{}
	p := newTestPipeline(t, stubRetriever{records: []models.RawRecord{
		{"line": "NCL", "name": "Prima", "date": "2026-06-01", "price": 3100, "source": "api"},
		{"cruise_line": "Norwegian Cruise Line", "ship_name": "prima", "departure_date": "June 1, 2026", "source": "scraper"},
		{"line": "RCI", "name": "Icon", "price": "$2,000", "source": "api"},
	}}, sink)

	res, err := p.Run(context.Background(), models.Query{Destination: "Norway"}, "high")
	require.NoError(t, err)

	assert.Equal(t, 3, res.RawRecords)
	assert.Equal(t, "2025-03-14", res.RunDate)
	require.Len(t, res.Listings, 2)
	assert.Equal(t, "api", res.Listings[0].Source, "first occurrence wins")
	assert.Equal(t, 3, res.Quality.Total, "quality is scored before dedup")
	assert.Equal(t, 2, res.Summary.TotalRecords)
	assert.Equal(t, 1, res.Summary.DuplicatesDropped)
	assert.Equal(t, res.RunID, res.Summary.RunID)

	for _, path := range []string{res.Artifacts.ListingsPath, res.Artifacts.ImportPath, res.Artifacts.SummaryPath} {
		_, err := os.Stat(path)
		assert.NoError(t, err, path)
	}
	require.Len(t, sink.batches, 1)
	assert.Len(t, sink.batches[0].ByID, 2)
}

func TestPipelineEmptyRetrievalWritesEmptyBatch(t *testing.T) {
	p := newTestPipeline(t, stubRetriever{})

	res, err := p.Run(context.Background(), models.Query{}, "low")
	require.NoError(t, err)
	assert.Empty(t, res.Listings)
	assert.Equal(t, 0.0, res.Quality.QualityScore)
	assert.Nil(t, res.Summary.PriceRange)
	assert.NotEmpty(t, res.Artifacts.SummaryPath)
}

func TestPipelinePropagatesRetrievalErrors(t *testing.T) {
	p := newTestPipeline(t, stubRetriever{err: &ratelimit.UnknownPriorityError{Priority: "urgent"}})

	_, err := p.Run(context.Background(), models.Query{}, "urgent")
	assert.ErrorIs(t, err, ratelimit.ErrUnknownPriority)
}

func TestPipelineSinkFailureFailsRun(t *testing.T) {
	sink := &recordingSink{err: errors.New("connection reset")}
	p := newTestPipeline(t, stubRetriever{records: []models.RawRecord{{"name": "Icon"}}}, sink)

	res, err := p.Run(context.Background(), models.Query{}, "high")
	require.Error(t, err)
	require.NotNil(t, res)
	assert.NotEmpty(t, res.Artifacts.ListingsPath)
}
