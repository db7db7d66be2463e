package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"cruise-scraper/models"
	"cruise-scraper/utils"
)

const DefaultName = "scraper"

// Options configures an Adapter.
type Options struct {
	Name            string
	BaseURL         string
	ChromeBin       string
	PagesToScrape   int
	MaxConcurrency  int
	RequestInterval time.Duration
	MaxRetries      int
	PageTimeout     time.Duration
	Logger          *utils.Logger
}

// Adapter renders search result pages in headless Chrome and extracts
// listing cards from the resulting DOM.
type Adapter struct {
	name      string
	baseURL   string
	chromeBin string
	pages     int
	timeout   time.Duration
	interval  time.Duration
	workers   int
	logger    *utils.Logger
	retry     *utils.RetryConfig
}

// New creates a ready-to-use browser Adapter.
func New(opts Options) *Adapter {
	name := opts.Name
	if name == "" {
		name = DefaultName
	}
	pages := opts.PagesToScrape
	if pages < 1 {
		pages = 1
	}
	timeout := opts.PageTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Adapter{
		name:      name,
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		chromeBin: opts.ChromeBin,
		pages:     pages,
		timeout:   timeout,
		interval:  opts.RequestInterval,
		workers:   opts.MaxConcurrency,
		logger:    logger,
		retry: &utils.RetryConfig{
			MaxAttempts: opts.MaxRetries,
			BaseDelay:   2 * time.Second,
			Logger:      logger,
		},
	}
}

func (a *Adapter) Name() string    { return a.name }
func (a *Adapter) BaseURL() string { return a.baseURL }

// Fetch scrapes args["url"] and up to PagesToScrape-1 following pages.
func (a *Adapter) Fetch(ctx context.Context, args models.AdapterArgs) ([]models.RawRecord, error) {
	target, _ := args["url"].(string)
	if strings.TrimSpace(target) == "" {
		return nil, errors.New("browser: adapter args need a url")
	}
	startURL, err := resolve(a.baseURL, target)
	if err != nil {
		return nil, fmt.Errorf("browser: bad url %q: %w", target, err)
	}

	chromeBin := a.chromeBin
	if chromeBin == "" {
		chromeBin = findChromeBinary()
	}
	a.logger.Debug("[%s] Using browser binary: %q", a.name, chromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	// Suppress chromedp log noise
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelBrowser()

	visited := utils.NewURLSet()
	var records []models.RawRecord
	pageURL := startURL

	for page := 1; page <= a.pages; page++ {
		a.logger.Info("[%s] Scraping page %d: %s", a.name, page, pageURL)

		html, err := a.renderPage(browserCtx, pageURL, fmt.Sprintf("page-%d", page))
		if err != nil {
			if page == 1 {
				return nil, err
			}
			a.logger.Error("[%s] Page %d failed: %v", a.name, page, err)
			break
		}

		cards, next, err := parseListings(html, pageURL)
		if err != nil {
			return records, fmt.Errorf("browser: parse page %d: %w", page, err)
		}

		fresh := make([]models.RawRecord, 0, len(cards))
		for _, c := range cards {
			link, _ := c["link"].(string)
			if link != "" && !visited.Add(link) {
				a.logger.Debug("[%s] Skipping duplicate: %s", a.name, link)
				continue
			}
			c["source"] = a.name
			fresh = append(fresh, c)
		}
		if len(fresh) == 0 {
			a.logger.Warn("[%s] Page %d returned 0 listings, stopping", a.name, page)
			break
		}

		a.enrichListings(browserCtx, fresh)
		records = append(records, fresh...)

		if next == "" || visited.Contains(next) {
			break
		}
		visited.Add(next)
		pageURL = next
	}

	a.logger.Info("[%s] Scrape complete, %d raw records", a.name, len(records))
	return records, nil
}

// renderPage loads a page in a new tab and returns the rendered HTML.
func (a *Adapter) renderPage(browserCtx context.Context, pageURL, op string) (string, error) {
	var html string
	err := a.retry.Do(browserCtx, a.name+"-"+op, func(ctx context.Context) error {
		tabCtx, cancel := chromedp.NewContext(ctx)
		defer cancel()

		tabCtx, cancelTimeout := context.WithTimeout(tabCtx, a.timeout)
		defer cancelTimeout()

		err := chromedp.Run(tabCtx,
			chromedp.Navigate(pageURL),
			chromedp.WaitReady("body", chromedp.ByQuery),
			chromedp.Sleep(2*time.Second),
			// Scroll to trigger lazy-loaded cards
			chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
			chromedp.Sleep(time.Second),
			chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		)
		if err != nil {
			return fmt.Errorf("chromedp render: %w", err)
		}
		return nil
	})
	return html, err
}

// enrichListings visits detail pages for cards that came without an itinerary.
func (a *Adapter) enrichListings(browserCtx context.Context, records []models.RawRecord) {
	pool := utils.NewWorkerPool(a.workers, a.interval)
	for _, rec := range records {
		r := rec
		if hasItinerary(r) {
			continue
		}
		link, _ := r["link"].(string)
		if link == "" {
			continue
		}

		pool.Submit(browserCtx, func(ctx context.Context) {
			html, err := a.renderPage(ctx, link, "detail")
			if err != nil {
				a.logger.Warn("[%s] Detail page failed for %s: %v", a.name, link, err)
				return
			}
			if ports := parseItinerary(html); len(ports) > 0 {
				r["itinerary"] = ports
				a.logger.Debug("[%s] Enriched %s with %d ports", a.name, link, len(ports))
			}
		})
	}
	pool.Wait()
}

func hasItinerary(r models.RawRecord) bool {
	switch v := r["itinerary"].(type) {
	case []string:
		return len(v) > 0
	case string:
		return strings.TrimSpace(v) != ""
	}
	return false
}

func resolve(base, ref string) (string, error) {
	refURL, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", err
	}
	if refURL.IsAbs() {
		return refURL.String(), nil
	}
	baseURL, err := url.Parse(base)
	if err != nil || !baseURL.IsAbs() {
		return "", fmt.Errorf("cannot resolve %q without an absolute base", ref)
	}
	return baseURL.ResolveReference(refURL).String(), nil
}

// findChromeBinary locates Chrome/Chromium binary.
func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
