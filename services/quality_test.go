package services

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"cruise-scraper/metrics"
	"cruise-scraper/models"
	"cruise-scraper/utils"
)

func listing(price, name, port string, itinerary ...string) models.Listing {
	if itinerary == nil {
		itinerary = []string{}
	}
	return models.Listing{Price: price, ShipOrItemName: name, DeparturePoint: port, Itinerary: itinerary, Source: "api"}
}

func TestQualityScoreExample(t *testing.T) {
	na := models.NotAvailable
	batch := []models.Listing{
		listing("$1/person", "A", "Miami", "Nassau"),
		listing("$2/person", "B", "Miami"),
		listing("$3/person", na, "Miami"),
		listing(na, na, "Miami"),
	}

	m := metrics.NewWithRegisterer(prometheus.NewRegistry())
	report := NewQualityMonitor(0, m, utils.NewNopLogger()).Evaluate(batch)

	assert.Equal(t, 4, report.Total)
	assert.Equal(t, map[string]int{
		FieldPrice: 3, FieldName: 2, FieldDeparturePort: 4, FieldItinerary: 1,
	}, report.CompletenessByField)
	assert.InDelta(t, 0.625, report.QualityScore, 1e-9)
	assert.Equal(t, []string{"api"}, report.Sources)
	assert.InDelta(t, 0.625, testutil.ToFloat64(m.QualityScore), 1e-9)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.LowQuality))
}

func TestQualityEmptyBatch(t *testing.T) {
	m := metrics.NewWithRegisterer(prometheus.NewRegistry())
	report := NewQualityMonitor(0.5, m, utils.NewNopLogger()).Evaluate(nil)

	assert.Equal(t, 0, report.Total)
	assert.Equal(t, 0.0, report.QualityScore)
	assert.Len(t, report.CompletenessByField, 4)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LowQuality))
}

func TestQualityScoreBounds(t *testing.T) {
	q := NewQualityMonitor(0.9, nil, utils.NewNopLogger())
	full := q.Evaluate([]models.Listing{listing("$1/person", "A", "B", "C")})
	assert.Equal(t, 1.0, full.QualityScore)

	na := models.NotAvailable
	none := q.Evaluate([]models.Listing{listing(na, na, na)})
	assert.Equal(t, 0.0, none.QualityScore)
}
