package services

import (
	"math"
	"sort"

	"cruise-scraper/metrics"
	"cruise-scraper/models"
	"cruise-scraper/utils"
)

// DefaultQualityThreshold is the score below which a batch is flagged.
const DefaultQualityThreshold = 0.5

// Completeness keys reported by QualityMonitor.
const (
	FieldPrice         = "withPrice"
	FieldName          = "withName"
	FieldDeparturePort = "withDeparturePort"
	FieldItinerary     = "withItinerary"
)

// QualityMonitor scores how complete a normalized batch is. It only
// observes; a low score never blocks persistence.
type QualityMonitor struct {
	threshold float64
	metrics   *metrics.Metrics
	logger    *utils.Logger
}

// NewQualityMonitor warns below threshold. A threshold outside (0, 1] falls
// back to DefaultQualityThreshold. m may be nil.
func NewQualityMonitor(threshold float64, m *metrics.Metrics, logger *utils.Logger) *QualityMonitor {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultQualityThreshold
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &QualityMonitor{threshold: threshold, metrics: m, logger: logger}
}

// Evaluate computes the weighted completeness of listings:
// 0.3·price + 0.3·name + 0.2·port + 0.2·itinerary, each as a fraction of the batch.
func (q *QualityMonitor) Evaluate(listings []models.Listing) models.QualityReport {
	report := models.QualityReport{
		Total: len(listings),
		CompletenessByField: map[string]int{
			FieldPrice:         0,
			FieldName:          0,
			FieldDeparturePort: 0,
			FieldItinerary:     0,
		},
		Sources: []string{},
	}

	sources := map[string]struct{}{}
	for _, l := range listings {
		if present(l.Price) {
			report.CompletenessByField[FieldPrice]++
		}
		if present(l.ShipOrItemName) {
			report.CompletenessByField[FieldName]++
		}
		if present(l.DeparturePoint) {
			report.CompletenessByField[FieldDeparturePort]++
		}
		if len(l.Itinerary) > 0 {
			report.CompletenessByField[FieldItinerary]++
		}
		if l.Source != "" {
			sources[l.Source] = struct{}{}
		}
	}
	for s := range sources {
		report.Sources = append(report.Sources, s)
	}
	sort.Strings(report.Sources)

	if report.Total > 0 {
		total := float64(report.Total)
		c := report.CompletenessByField
		score := 0.3*float64(c[FieldPrice])/total +
			0.3*float64(c[FieldName])/total +
			0.2*float64(c[FieldDeparturePort])/total +
			0.2*float64(c[FieldItinerary])/total
		report.QualityScore = math.Round(score*1e6) / 1e6
	}

	if q.metrics != nil {
		q.metrics.QualityScore.Set(report.QualityScore)
	}
	if report.QualityScore < q.threshold {
		q.logger.Warn("[quality] Low data quality: score %.3f below %.2f (%d listings)",
			report.QualityScore, q.threshold, report.Total)
		if q.metrics != nil {
			q.metrics.LowQuality.Inc()
		}
	} else {
		q.logger.Info("[quality] Quality score %.3f over %d listings", report.QualityScore, report.Total)
	}
	return report
}

func present(s string) bool {
	return s != "" && s != models.NotAvailable
}
