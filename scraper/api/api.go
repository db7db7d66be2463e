package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cruise-scraper/models"
	"cruise-scraper/utils"
)

const DefaultName = "api"

// wrapperKeys are the envelope fields a search response may carry its
// results under.
var wrapperKeys = []string{"results", "cruises", "listings", "data", "items"}

// Options configures an Adapter.
type Options struct {
	Name       string
	BaseURL    string
	SearchPath string
	APIKey     string
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	Logger     *utils.Logger
}

// Adapter queries a structured JSON search endpoint.
type Adapter struct {
	name       string
	baseURL    string
	searchPath string
	apiKey     string
	userAgent  string
	client     *http.Client
	retry      *utils.RetryConfig
	logger     *utils.Logger
}

// New validates opts and returns a ready-to-use Adapter.
func New(opts Options) (*Adapter, error) {
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		return nil, errors.New("api: BaseURL is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("api: invalid BaseURL: %w", err)
	}
	name := opts.Name
	if name == "" {
		name = DefaultName
	}
	path := opts.SearchPath
	if path == "" {
		path = "/search"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = "cruise-scraper/1.0"
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	return &Adapter{
		name:       name,
		baseURL:    strings.TrimRight(base, "/"),
		searchPath: "/" + strings.TrimLeft(path, "/"),
		apiKey:     opts.APIKey,
		userAgent:  ua,
		client:     &http.Client{Timeout: timeout},
		retry:      &utils.RetryConfig{MaxAttempts: opts.MaxRetries, BaseDelay: delay, Logger: logger},
		logger:     logger,
	}, nil
}

func (a *Adapter) Name() string    { return a.name }
func (a *Adapter) BaseURL() string { return a.baseURL }

// Fetch runs one search. Every argument becomes a query parameter.
func (a *Adapter) Fetch(ctx context.Context, args models.AdapterArgs) ([]models.RawRecord, error) {
	u, err := url.Parse(a.baseURL + a.searchPath)
	if err != nil {
		return nil, fmt.Errorf("api: build url: %w", err)
	}
	u.RawQuery = encodeArgs(args).Encode()

	var records []models.RawRecord
	err = a.retry.Do(ctx, a.name+"-search", func(ctx context.Context) error {
		body, err := a.doGET(ctx, u.String())
		if err != nil {
			return err
		}
		records, err = parsePayload(body)
		return err
	})
	if err != nil {
		return nil, err
	}

	a.logger.Debug("[%s] %s returned %d records", a.name, u.Path, len(records))
	return records, nil
}

func (a *Adapter) doGET(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("api: new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", a.userAgent)
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("api: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("api: http status %d", resp.StatusCode)
		// client errors will not improve on retry, except throttling
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: %w", err, utils.ErrPermanent)
		}
		return nil, err
	}
	return body, nil
}

func encodeArgs(args models.AdapterArgs) url.Values {
	v := url.Values{}
	for k, a := range args {
		switch val := a.(type) {
		case nil:
		case string:
			if val != "" {
				v.Set(k, val)
			}
		case []string:
			if len(val) > 0 {
				v.Set(k, strings.Join(val, ","))
			}
		case []any:
			parts := make([]string, 0, len(val))
			for _, p := range val {
				parts = append(parts, fmt.Sprint(p))
			}
			if len(parts) > 0 {
				v.Set(k, strings.Join(parts, ","))
			}
		default:
			v.Set(k, fmt.Sprint(val))
		}
	}
	return v
}

// parsePayload accepts both envelope-wrapped and bare-array payloads.
func parsePayload(body []byte) ([]models.RawRecord, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}

	if body[0] == '[' {
		return decodeRecords(body)
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("api: search payload parse: %w", err)
	}
	for _, key := range wrapperKeys {
		if raw, ok := envelope[key]; ok {
			return decodeRecords(raw)
		}
	}
	return nil, fmt.Errorf("api: search payload has none of %v: %w", wrapperKeys, utils.ErrPermanent)
}

func decodeRecords(raw json.RawMessage) ([]models.RawRecord, error) {
	if string(bytes.TrimSpace(raw)) == "null" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var records []models.RawRecord
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("api: decode records: %w", err)
	}
	return records, nil
}
