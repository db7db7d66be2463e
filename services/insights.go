package services

import (
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"cruise-scraper/models"
	"cruise-scraper/utils"
)

// topSources is how many sources the summary ranks.
const topSources = 5

// InsightService summarizes a written batch and prints it for the operator.
type InsightService struct {
	logger *utils.Logger
	out    io.Writer
}

// NewInsightService prints to stdout.
func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger, out: os.Stdout}
}

// Generate computes the run summary over an already deduplicated batch.
func (s *InsightService) Generate(listings []models.Listing, dropped int, runID string, now time.Time) *models.Summary {
	summary := &models.Summary{
		Timestamp:         now.UTC(),
		RunID:             runID,
		TotalRecords:      len(listings),
		DuplicatesDropped: dropped,
		Sources:           []string{},
		TopSourcesByCount: []models.SourceCount{},
	}
	if len(listings) == 0 {
		return summary
	}

	counts := make(map[string]int)
	var prices []float64
	for _, l := range listings {
		counts[l.Source]++
		if p, ok := ParsePrice(l.Price); ok {
			prices = append(prices, p)
		}
	}

	// Price stats (only listings with a parseable price)
	if len(prices) > 0 {
		pr := &models.PriceRange{Min: prices[0], Max: prices[0]}
		var total float64
		for _, p := range prices {
			total += p
			if p < pr.Min {
				pr.Min = p
			}
			if p > pr.Max {
				pr.Max = p
			}
		}
		pr.Average = round2(total / float64(len(prices)))
		pr.Min = round2(pr.Min)
		pr.Max = round2(pr.Max)
		summary.PriceRange = pr
	}

	for src, n := range counts {
		summary.Sources = append(summary.Sources, src)
		summary.TopSourcesByCount = append(summary.TopSourcesByCount, models.SourceCount{Source: src, Count: n})
	}
	sort.Strings(summary.Sources)
	sort.Slice(summary.TopSourcesByCount, func(i, j int) bool {
		a, b := summary.TopSourcesByCount[i], summary.TopSourcesByCount[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Source < b.Source
	})
	if len(summary.TopSourcesByCount) > topSources {
		summary.TopSourcesByCount = summary.TopSourcesByCount[:topSources]
	}

	s.logger.Debug("[insights] Summary over %d listings from %d sources", len(listings), len(counts))
	return summary
}

// Print renders the run summary and quality report to the console.
func (s *InsightService) Print(sum *models.Summary, q models.QualityReport) {
	w := s.out
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  🚢 CRUISE SCRAPE SUMMARY\033[0m\n")
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	fmt.Fprintf(w, "\033[1;33m  Overview\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Run                : %s\n", sum.RunID)
	fmt.Fprintf(w, "  Listings persisted : \033[1m%d\033[0m\n", sum.TotalRecords)
	fmt.Fprintf(w, "  Duplicates dropped : \033[1m%d\033[0m\n", sum.DuplicatesDropped)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Price Statistics (per person)\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if pr := sum.PriceRange; pr != nil {
		fmt.Fprintf(w, "  Average price : \033[1;32m$%s\033[0m\n", humanize.CommafWithDigits(pr.Average, 2))
		fmt.Fprintf(w, "  Minimum price : \033[1;32m$%s\033[0m\n", humanize.CommafWithDigits(pr.Min, 2))
		fmt.Fprintf(w, "  Maximum price : \033[1;32m$%s\033[0m\n", humanize.CommafWithDigits(pr.Max, 2))
	} else {
		fmt.Fprintf(w, "  No price data available\n")
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Data Quality\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Score : \033[1m%.3f\033[0m\n", q.QualityScore)
	for _, field := range []string{FieldPrice, FieldName, FieldDeparturePort, FieldItinerary} {
		fmt.Fprintf(w, "  %-18s %d/%d\n", field, q.CompletenessByField[field], q.Total)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Top Sources\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if len(sum.TopSourcesByCount) == 0 {
		fmt.Fprintf(w, "  No listings found\n")
	}
	for i, sc := range sum.TopSourcesByCount {
		bar := strings.Repeat("█", min(sc.Count, 30))
		fmt.Fprintf(w, "  \033[1m%d.\033[0m %-26s %s (%d)\n", i+1, truncate(sc.Source, 24), bar, sc.Count)
	}

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n\n", sep)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// truncate shortens s to max runes.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
