package services

import (
	"context"
	"strings"

	"cruise-scraper/models"
	"cruise-scraper/scraper/api"
	"cruise-scraper/scraper/browser"
)

// Policy decides which adapter serves a query and what to try when it
// comes back empty.
type Policy interface {
	Decide(ctx context.Context, q models.Query) (models.Decision, error)
	Fallback(ctx context.Context, q models.Query, tried models.Decision) (models.Decision, bool)
}

// RulePolicy always tries the structured API first and falls back to the
// rendered search page.
type RulePolicy struct {
	PrimaryAdapter  string
	FallbackAdapter string
	SearchURL       string
}

// NewRulePolicy returns the default api → scraper policy.
func NewRulePolicy(searchURL string) RulePolicy {
	return RulePolicy{
		PrimaryAdapter:  api.DefaultName,
		FallbackAdapter: browser.DefaultName,
		SearchURL:       searchURL,
	}
}

func (p RulePolicy) primary() string {
	if p.PrimaryAdapter == "" {
		return api.DefaultName
	}
	return p.PrimaryAdapter
}

func (p RulePolicy) fallback() string {
	if p.FallbackAdapter == "" {
		return browser.DefaultName
	}
	return p.FallbackAdapter
}

// Decide never fails.
func (p RulePolicy) Decide(_ context.Context, q models.Query) (models.Decision, error) {
	return models.Decision{AdapterName: p.primary(), AdapterArgs: q.Args()}, nil
}

// Fallback is the other adapter of the pair. After the fallback adapter came
// back empty the primary gets the query; after anything else the scraper is
// pointed at the search page for q.
func (p RulePolicy) Fallback(_ context.Context, q models.Query, tried models.Decision) (models.Decision, bool) {
	name := p.fallback()
	if tried.AdapterName == name {
		return models.Decision{AdapterName: p.primary(), AdapterArgs: q.Args()}, true
	}
	return models.Decision{AdapterName: name, AdapterArgs: models.AdapterArgs{"url": p.searchURL(q)}}, true
}

func (p RulePolicy) searchURL(q models.Query) string {
	base := p.SearchURL
	if base == "" {
		base = "/search"
	}
	params := q.Values().Encode()
	if params == "" {
		return base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + params
}
