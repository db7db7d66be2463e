package storage

import (
	"context"

	"cruise-scraper/models"
)

// Batch is one run's deduplicated output.
type Batch struct {
	RunID    string
	RunDate  string
	Listings []models.Listing
	ByID     map[string]models.Listing
	Summary  *models.Summary
}

// Sink is any secondary backend a committed batch is copied to.
type Sink interface {
	Name() string
	WriteBatch(ctx context.Context, b Batch) error
	Close() error
}
