package browser

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"cruise-scraper/models"
)

// Card container selectors, tried in order until one matches.
var cardSelectors = []string{
	`[data-testid="cruise-card"]`,
	`[itemtype*="schema.org/Trip"]`,
	`.cruise-card`,
	`article.cruise`,
	`li.result-item`,
}

var fieldSelectors = map[string]string{
	"cruise_line":    `[data-field="line"], .cruise-line, .line-name`,
	"ship_name":      `[data-field="ship"], .ship-name, [itemprop="name"], h2, h3`,
	"price":          `[data-field="price"], .price, [itemprop="price"]`,
	"departure_date": `[data-field="date"], .sail-date, time`,
	"duration":       `[data-field="duration"], .duration, .nights`,
	"departure_port": `[data-field="departure"], .departure-port, .embark-port`,
}

const itineraryItems = `[data-field="itinerary"] li, .itinerary li, .ports li, .port-list li`
const itineraryText = `[data-field="itinerary"], .itinerary, .ports`
const nextSelector = `a[rel="next"], a[aria-label="Next"], [data-testid="pagination-next"] a, a.next`

// parseListings extracts listing cards and the next-page link from a rendered
// search page. Links are resolved against pageURL.
func parseListings(html, pageURL string) ([]models.RawRecord, string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, "", fmt.Errorf("goquery: %w", err)
	}

	var cards *goquery.Selection
	for _, sel := range cardSelectors {
		cards = doc.Find(sel)
		if cards.Length() > 0 {
			break
		}
	}

	records := make([]models.RawRecord, 0, cards.Length())
	cards.Each(func(_ int, card *goquery.Selection) {
		rec := models.RawRecord{}
		for field, sel := range fieldSelectors {
			if v := fieldText(card, sel); v != "" {
				rec[field] = v
			}
		}

		if ports := listText(card.Find(itineraryItems)); len(ports) > 0 {
			rec["itinerary"] = ports
		} else if text := collapse(card.Find(itineraryText).First().Text()); text != "" {
			// free text stays unsplit
			rec["itinerary"] = text
		}

		if href, ok := card.Find("a[href]").First().Attr("href"); ok {
			if abs, err := resolve(pageURL, href); err == nil {
				rec["link"] = abs
			}
		}

		if len(rec) > 0 {
			records = append(records, rec)
		}
	})

	next := ""
	if href, ok := doc.Find(nextSelector).First().Attr("href"); ok {
		if abs, err := resolve(pageURL, href); err == nil {
			next = abs
		}
	}
	return records, next, nil
}

// parseItinerary pulls the ordered port list from a detail page.
func parseItinerary(html string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	return listText(doc.Find(itineraryItems))
}

// fieldText prefers machine-readable attributes over visible text.
func fieldText(card *goquery.Selection, sel string) string {
	el := card.Find(sel).First()
	if el.Length() == 0 {
		return ""
	}
	for _, attr := range []string{"datetime", "content", "data-value"} {
		if v, ok := el.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return collapse(el.Text())
}

func listText(items *goquery.Selection) []string {
	var out []string
	items.Each(func(_ int, li *goquery.Selection) {
		if t := collapse(li.Text()); t != "" {
			out = append(out, t)
		}
	})
	return out
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
