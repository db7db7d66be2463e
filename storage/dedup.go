package storage

import "cruise-scraper/models"

// Dedup keeps the first listing seen for every id. The ordered slice and the
// id map hold the same listings.
func Dedup(listings []models.Listing) ([]models.Listing, map[string]models.Listing, int) {
	byID := make(map[string]models.Listing, len(listings))
	kept := make([]models.Listing, 0, len(listings))
	for _, l := range listings {
		if _, dup := byID[l.ID]; dup {
			continue
		}
		byID[l.ID] = l
		kept = append(kept, l)
	}
	return kept, byID, len(listings) - len(kept)
}
