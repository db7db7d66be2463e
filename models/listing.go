package models

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// NotAvailable marks a field that could not be recovered from the source.
const NotAvailable = "N/A"

// RawRecord holds unprocessed data exactly as an adapter returned it.
// There is no shared schema and any field may be missing.
type RawRecord map[string]any

// AdapterField is the RawRecord key naming the adapter that produced the
// record. It is set on every record, unlike "source", which an adapter may
// fill with an upstream partner name.
const AdapterField = "_adapter"

// AdapterArgs are the arguments handed to an adapter's Fetch.
type AdapterArgs map[string]any

// Query describes one structured search.
type Query struct {
	Destination string    `json:"destination,omitempty"`
	CruiseLine  string    `json:"cruiseLine,omitempty"`
	DateFrom    time.Time `json:"dateFrom"`
	DateTo      time.Time `json:"dateTo"`
	Tags        []string  `json:"tags,omitempty"`
	MaxResults  int       `json:"maxResults,omitempty"`
}

// Args renders the query as adapter arguments. Empty fields are omitted.
func (q Query) Args() AdapterArgs {
	args := AdapterArgs{}
	if q.Destination != "" {
		args["destination"] = q.Destination
	}
	if q.CruiseLine != "" {
		args["line"] = q.CruiseLine
	}
	if !q.DateFrom.IsZero() {
		args["from"] = q.DateFrom.Format("2006-01-02")
	}
	if !q.DateTo.IsZero() {
		args["to"] = q.DateTo.Format("2006-01-02")
	}
	if len(q.Tags) > 0 {
		args["tags"] = append([]string(nil), q.Tags...)
	}
	if q.MaxResults > 0 {
		args["limit"] = q.MaxResults
	}
	return args
}

// Values renders the query as URL parameters.
func (q Query) Values() url.Values {
	v := url.Values{}
	for k, a := range q.Args() {
		switch val := a.(type) {
		case []string:
			v.Set(k, strings.Join(val, ","))
		case int:
			v.Set(k, strconv.Itoa(val))
		case string:
			v.Set(k, val)
		}
	}
	return v
}

// Key is a stable identity for caching.
func (q Query) Key() string {
	tags := append([]string(nil), q.Tags...)
	sort.Strings(tags)
	parts := []string{
		strings.ToLower(strings.TrimSpace(q.Destination)),
		strings.ToLower(strings.TrimSpace(q.CruiseLine)),
		dateKey(q.DateFrom),
		dateKey(q.DateTo),
		strings.ToLower(strings.Join(tags, ",")),
		strconv.Itoa(q.MaxResults),
	}
	return strings.Join(parts, "|")
}

func dateKey(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

// Decision names the adapter to try and the arguments to call it with.
type Decision struct {
	AdapterName string      `json:"adapterName"`
	AdapterArgs AdapterArgs `json:"adapterArgs"`
}

// Listing is the canonical, schema-conformant listing. Field names are the
// document-store import contract.
type Listing struct {
	ID             string   `json:"id"`
	SourceLine     string   `json:"sourceLine"`
	ShipOrItemName string   `json:"shipOrItemName"`
	Itinerary      []string `json:"itinerary"`
	DeparturePoint string   `json:"departurePoint"`
	Date           string   `json:"date"`
	DurationDays   *int     `json:"durationDays"`
	Price          string   `json:"price"`
	Link           string   `json:"link"`
	Source         string   `json:"source"`
}

// Raw turns a canonical listing back into a RawRecord keyed by the canonical
// field names.
func (l Listing) Raw() RawRecord {
	itinerary := make([]any, len(l.Itinerary))
	for i, port := range l.Itinerary {
		itinerary[i] = port
	}
	r := RawRecord{
		"id":             l.ID,
		"sourceLine":     l.SourceLine,
		"shipOrItemName": l.ShipOrItemName,
		"itinerary":      itinerary,
		"departurePoint": l.DeparturePoint,
		"date":           l.Date,
		"price":          l.Price,
		"link":           l.Link,
		"source":         l.Source,
	}
	if l.DurationDays != nil {
		r["durationDays"] = *l.DurationDays
	}
	return r
}

// QualityReport scores the completeness of one batch.
type QualityReport struct {
	Total               int            `json:"total"`
	CompletenessByField map[string]int `json:"completenessByField"`
	QualityScore        float64        `json:"qualityScore"`
	Sources             []string       `json:"sources"`
}

// PriceRange holds price statistics over listings with a parseable price.
type PriceRange struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Average float64 `json:"average"`
}

// SourceCount is one entry of the top-sources ranking.
type SourceCount struct {
	Source string `json:"source"`
	Count  int    `json:"count"`
}

// Summary holds the computed statistics over one persisted batch.
type Summary struct {
	Timestamp         time.Time     `json:"timestamp"`
	RunID             string        `json:"runId"`
	TotalRecords      int           `json:"totalRecords"`
	DuplicatesDropped int           `json:"duplicatesDropped"`
	Sources           []string      `json:"sources"`
	PriceRange        *PriceRange   `json:"priceRange"`
	TopSourcesByCount []SourceCount `json:"topSourcesByCount"`
}

// Artifacts lists where a run's outputs were committed.
type Artifacts struct {
	ListingsPath string `json:"listingsPath"`
	ImportPath   string `json:"importPath"`
	SummaryPath  string `json:"summaryPath"`
}

// RunResult describes one completed pipeline run.
type RunResult struct {
	RunID      string
	RunDate    string
	RawRecords int
	Listings   []Listing
	Quality    QualityReport
	Summary    *Summary
	Artifacts  Artifacts
}
