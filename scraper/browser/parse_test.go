package browser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cruise-scraper/models"
)

const searchPage = `<html><body>
<div data-testid="cruise-card">
  <span data-field="line">RCI</span>
  <h3 class="ship-name">  Wonder   of the Seas </h3>
  <span class="price">From $1,299 pp</span>
  <time datetime="2025-03-14">Mar 14</time>
  <span class="nights">7 nights</span>
  <span class="departure-port">Port Canaveral, FL</span>
  <ul class="itinerary"><li>Perfect Day at CocoCay</li><li> Nassau </li><li></li></ul>
  <a href="/cruises/wonder-0314">Details</a>
</div>
<div data-testid="cruise-card">
  <span data-field="line">Norwegian Cruise Line</span>
  <h3>Norwegian Prima</h3>
  <div class="itinerary">Reykjavik, Bergen and more</div>
  <a href="https://other.example.com/prima">Details</a>
</div>
<nav><a rel="next" href="?page=2">Next</a></nav>
</body></html>`

func TestParseListings(t *testing.T) {
	records, next, err := parseListings(searchPage, "https://cruises.example.com/search?destination=caribbean")
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, "RCI", first["cruise_line"])
	assert.Equal(t, "Wonder of the Seas", first["ship_name"])
	assert.Equal(t, "From $1,299 pp", first["price"])
	assert.Equal(t, "2025-03-14", first["departure_date"])
	assert.Equal(t, "7 nights", first["duration"])
	assert.Equal(t, "Port Canaveral, FL", first["departure_port"])
	assert.Equal(t, []string{"Perfect Day at CocoCay", "Nassau"}, first["itinerary"])
	assert.Equal(t, "https://cruises.example.com/cruises/wonder-0314", first["link"])

	second := records[1]
	assert.Equal(t, "Reykjavik, Bergen and more", second["itinerary"], "free-text itinerary is not split")
	assert.Equal(t, "https://other.example.com/prima", second["link"])
	assert.NotContains(t, second, "price")

	assert.Equal(t, "https://cruises.example.com/search?page=2", next)
}

func TestParseListingsNoCards(t *testing.T) {
	records, next, err := parseListings(`<html><body><p>No sailings found</p></body></html>`, "https://cruises.example.com/")
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Empty(t, next)
}

func TestParseItinerary(t *testing.T) {
	html := `<section><ol class="port-list"><li>Miami</li><li>Cozumel</li><li>Miami</li></ol></section>`
	assert.Equal(t, []string{"Miami", "Cozumel", "Miami"}, parseItinerary(html))
}

func TestResolve(t *testing.T) {
	got, err := resolve("https://cruises.example.com/base/", "deals?x=1")
	require.NoError(t, err)
	assert.Equal(t, "https://cruises.example.com/base/deals?x=1", got)

	got, err = resolve("", "https://a.example.com/x")
	require.NoError(t, err)
	assert.Equal(t, "https://a.example.com/x", got)

	_, err = resolve("", "/relative")
	assert.Error(t, err)
}

func TestFetchRequiresURL(t *testing.T) {
	a := New(Options{BaseURL: "https://cruises.example.com"})
	_, err := a.Fetch(context.Background(), models.AdapterArgs{})
	assert.Error(t, err)
	assert.Equal(t, DefaultName, a.Name())
}

func TestHasItinerary(t *testing.T) {
	assert.True(t, hasItinerary(models.RawRecord{"itinerary": []string{"Nassau"}}))
	assert.True(t, hasItinerary(models.RawRecord{"itinerary": "Nassau and more"}))
	assert.False(t, hasItinerary(models.RawRecord{"itinerary": []string{}}))
	assert.False(t, hasItinerary(models.RawRecord{}))
}
