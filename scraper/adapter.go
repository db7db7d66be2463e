//go:generate mockgen -source=$GOFILE -destination=mock/$GOFILE -package=mock
package scraper

import (
	"context"

	"cruise-scraper/models"
)

// Adapter fetches raw records from one data source.
type Adapter interface {
	// Name is the identifier decision policies refer to.
	Name() string
	// BaseURL is used to resolve relative links in this source's records.
	BaseURL() string
	Fetch(ctx context.Context, args models.AdapterArgs) ([]models.RawRecord, error)
}
