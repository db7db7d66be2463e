package services

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/dustin/go-humanize"

	"cruise-scraper/models"
	"cruise-scraper/utils"
)

// DateLayout is the canonical rendering of Listing.Date.
const DateLayout = "January 2, 2006"

var (
	// priceRegexp captures the first numeric run, thousands separators included
	priceRegexp = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)
	intRegexp   = regexp.MustCompile(`\d+`)
)

var (
	lineKeys      = []string{"sourceLine", "cruise_line", "cruiseLine", "line", "operator"}
	nameKeys      = []string{"shipOrItemName", "ship_name", "shipName", "ship", "name", "title"}
	itineraryKeys = []string{"itinerary", "ports", "port_list"}
	departureKeys = []string{"departurePoint", "departure_port", "departurePort", "embarkation", "port"}
	dateKeys      = []string{"date", "departure_date", "departureDate", "sail_date", "sailDate"}
	durationKeys  = []string{"durationDays", "duration_days", "duration", "nights"}
	priceKeys     = []string{"price", "fare", "price_from", "priceFrom"}
	linkKeys      = []string{"link", "url", "href"}
)

// lineAbbreviations expands operator shorthand. Keys are upper case.
var lineAbbreviations = map[string]string{
	"RCI": "Royal Caribbean",
	"RCL": "Royal Caribbean",
	"NCL": "Norwegian Cruise Line",
	"CCL": "Carnival Cruise Line",
	"HAL": "Holland America Line",
	"CEL": "Celebrity Cruises",
	"DCL": "Disney Cruise Line",
	"PCL": "Princess Cruises",
	"MSC": "MSC Cruises",
	"VV":  "Virgin Voyages",
}

// Normalizer maps heterogeneous raw records onto models.Listing. It holds
// no mutable state and is safe for concurrent use.
type Normalizer struct {
	logger   *utils.Logger
	baseURLs map[string]string
}

// NewNormalizer creates a Normalizer. baseURLs maps an adapter name to the
// URL relative links from that adapter are resolved against. Records without
// an adapter tag are looked up by source.
func NewNormalizer(logger *utils.Logger, baseURLs map[string]string) *Normalizer {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Normalizer{logger: logger, baseURLs: baseURLs}
}

// Normalize maps every record, preserving order. Nothing is dropped here.
func (n *Normalizer) Normalize(raw []models.RawRecord) []models.Listing {
	out := make([]models.Listing, 0, len(raw))
	for _, r := range raw {
		out = append(out, n.NormalizeRecord(r))
	}
	n.logger.Info("[normalizer] Normalized %d records", len(out))
	return out
}

// NormalizeRecord maps one record. Missing text fields become "N/A".
func (n *Normalizer) NormalizeRecord(r models.RawRecord) models.Listing {
	source := orNA(collapse(str(first(r, "source"))))

	l := models.Listing{
		SourceLine:     orNA(expandLine(str(first(r, lineKeys...)))),
		ShipOrItemName: orNA(collapse(str(first(r, nameKeys...)))),
		Itinerary:      normalizeItinerary(first(r, itineraryKeys...)),
		DeparturePoint: orNA(collapse(str(first(r, departureKeys...)))),
		Date:           normalizeDate(first(r, dateKeys...)),
		DurationDays:   normalizeDuration(first(r, durationKeys...)),
		Price:          formatPrice(first(r, priceKeys...)),
		Link:           n.normalizeLink(str(first(r, linkKeys...)), n.linkBase(r, source)),
		Source:         source,
	}
	l.ID = ListingID(l.SourceLine, l.ShipOrItemName, l.Date)
	return l
}

// ListingID derives the dedup identity from the normalized line, name and date.
func ListingID(line, name, date string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(line + "|" + name + "|" + date)))
	return hex.EncodeToString(sum[:])[:16]
}

// maxPrice bounds accepted amounts so whole cents always fit an int64.
const maxPrice = 1e12

// ParsePrice reads a number out of a raw or formatted price. It reports
// false when no positive amount below maxPrice is present.
func ParsePrice(v any) (float64, bool) {
	var p float64
	switch val := v.(type) {
	case float64:
		p = val
	case float32:
		p = float64(val)
	case int:
		p = float64(val)
	case int64:
		p = float64(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return 0, false
		}
		p = f
	case string:
		match := priceRegexp.FindString(val)
		if match == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", ""), 64)
		if err != nil {
			return 0, false
		}
		p = f
	default:
		return 0, false
	}
	if !(p > 0) || p >= maxPrice {
		return 0, false
	}
	return p, true
}

func formatPrice(v any) string {
	p, ok := ParsePrice(v)
	if !ok {
		return models.NotAvailable
	}
	cents := int64(math.Round(p * 100))
	whole := humanize.Comma(cents / 100)
	if frac := cents % 100; frac != 0 {
		return fmt.Sprintf("$%s.%02d/person", whole, frac)
	}
	return fmt.Sprintf("$%s/person", whole)
}

func normalizeDate(v any) string {
	if t, ok := v.(time.Time); ok {
		if t.IsZero() {
			return models.NotAvailable
		}
		return t.Format(DateLayout)
	}
	s := collapse(str(v))
	if s == "" || s == models.NotAvailable {
		return models.NotAvailable
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t.Format(DateLayout)
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return models.NotAvailable
	}
	return t.Format(DateLayout)
}

// normalizeItinerary keeps list order and never splits free text.
func normalizeItinerary(v any) []string {
	out := []string{}
	add := func(s string) {
		if s = collapse(s); s != "" && s != models.NotAvailable {
			out = append(out, s)
		}
	}
	switch val := v.(type) {
	case []string:
		for _, s := range val {
			add(s)
		}
	case []any:
		for _, s := range val {
			add(str(s))
		}
	case string:
		add(val)
	}
	return out
}

func normalizeDuration(v any) *int {
	var d int
	switch val := v.(type) {
	case int:
		d = val
	case int64:
		d = int(val)
	case float64:
		d = int(val)
	case json.Number:
		i, err := val.Int64()
		if err != nil {
			f, ferr := val.Float64()
			if ferr != nil {
				return nil
			}
			i = int64(f)
		}
		d = int(i)
	case string:
		m := intRegexp.FindString(val)
		if m == "" {
			return nil
		}
		i, err := strconv.Atoi(m)
		if err != nil {
			return nil
		}
		d = i
	default:
		return nil
	}
	if d <= 0 {
		return nil
	}
	return &d
}

func (n *Normalizer) linkBase(r models.RawRecord, source string) string {
	if name, _ := r[models.AdapterField].(string); name != "" {
		if base, ok := n.baseURLs[name]; ok {
			return base
		}
	}
	return n.baseURLs[source]
}

func (n *Normalizer) normalizeLink(raw, baseURL string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == models.NotAvailable {
		return models.NotAvailable
	}
	ref, err := url.Parse(raw)
	if err != nil {
		n.logger.Debug("[normalizer] Unparseable link %q", raw)
		return raw
	}
	if ref.IsAbs() {
		return ref.String()
	}
	base, err := url.Parse(baseURL)
	if err != nil || !base.IsAbs() {
		return raw
	}
	return base.ResolveReference(ref).String()
}

func expandLine(s string) string {
	s = collapse(s)
	if full, ok := lineAbbreviations[strings.ToUpper(s)]; ok {
		return full
	}
	return s
}

// first returns the first present, non-empty value among keys.
func first(r models.RawRecord, keys ...string) any {
	for _, k := range keys {
		v, ok := r[k]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			if s := strings.TrimSpace(val); s == "" || s == models.NotAvailable {
				continue
			}
		case []any:
			if len(val) == 0 {
				continue
			}
		case []string:
			if len(val) == 0 {
				continue
			}
		}
		return v
	}
	return nil
}

func str(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

func orNA(s string) string {
	if s == "" {
		return models.NotAvailable
	}
	return s
}

// collapse strips leading/trailing whitespace and collapses internal whitespace.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
