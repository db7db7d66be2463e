package services

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"cruise-scraper/metrics"
	"cruise-scraper/models"
	"cruise-scraper/ratelimit"
	"cruise-scraper/scraper"
	"cruise-scraper/utils"
)

// RecordCache holds recent retrieval results.
type RecordCache = expirable.LRU[string, []models.RawRecord]

// NewRecordCache creates a cache whose entries expire after ttl. Once size
// entries are held the least recently used one is evicted; size <= 0 means
// unbounded.
func NewRecordCache(ttl time.Duration, size int) *RecordCache {
	if size < 0 {
		size = 0
	}
	return expirable.NewLRU[string, []models.RawRecord](size, nil, ttl)
}

// Coordinator retrieves raw records for a query. Every adapter call is
// admitted by the limiter first, the primary adapter always runs before the
// fallback, and adapter failures never escape.
type Coordinator struct {
	limiter  *ratelimit.PriorityLimiter
	policy   Policy
	rule     RulePolicy
	adapters map[string]scraper.Adapter
	cache    *RecordCache
	metrics  *metrics.Metrics
	logger   *utils.Logger
}

// CoordinatorOption customises a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithPolicy replaces the rule policy used to pick adapters.
func WithPolicy(p Policy) CoordinatorOption {
	return func(c *Coordinator) { c.policy = p }
}

// WithCache serves repeated queries from cache without touching the limiter.
func WithCache(cache *RecordCache) CoordinatorOption {
	return func(c *Coordinator) { c.cache = cache }
}

// WithCoordinatorMetrics records adapter calls and fallbacks on m.
func WithCoordinatorMetrics(m *metrics.Metrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

// NewCoordinator registers adapters by name. rule is the policy used when no
// other policy is set, and the one consulted when that policy fails.
func NewCoordinator(limiter *ratelimit.PriorityLimiter, rule RulePolicy, adapters []scraper.Adapter, logger *utils.Logger, opts ...CoordinatorOption) *Coordinator {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	c := &Coordinator{
		limiter:  limiter,
		policy:   rule,
		rule:     rule,
		adapters: make(map[string]scraper.Adapter, len(adapters)),
		logger:   logger,
	}
	for _, a := range adapters {
		c.adapters[a.Name()] = a
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Adapter returns the registered adapter with the given name.
func (c *Coordinator) Adapter(name string) (scraper.Adapter, bool) {
	a, ok := c.adapters[name]
	return a, ok
}

// Retrieve runs the primary decision and, when it yields nothing, the
// fallback. An empty result is not an error. Errors are returned only for
// an unknown priority or a cancelled context.
func (c *Coordinator) Retrieve(ctx context.Context, q models.Query, priority string) ([]models.RawRecord, error) {
	key := priority + "|" + q.Key()
	if c.cache != nil {
		if recs, ok := c.cache.Get(key); ok {
			c.logger.Debug("[coordinator] Cache hit for %q", key)
			return recs, nil
		}
	}

	if err := c.limiter.WaitForToken(ctx, priority); err != nil {
		return nil, err
	}
	decision, err := c.policy.Decide(ctx, q)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("[coordinator] Policy failed, using rule: %v", err)
		decision, _ = c.rule.Decide(ctx, q)
	}

	records, err := c.invoke(ctx, decision)
	if err != nil {
		return nil, err
	}

	if len(records) == 0 {
		fb, ok := c.policy.Fallback(ctx, q, decision)
		if ok && fb.AdapterName != decision.AdapterName {
			c.logger.Info("[coordinator] %s returned nothing, falling back to %s", decision.AdapterName, fb.AdapterName)
			if c.metrics != nil {
				c.metrics.Fallbacks.Inc()
			}
			if err := c.limiter.WaitForToken(ctx, priority); err != nil {
				return nil, err
			}
			more, err := c.invoke(ctx, fb)
			if err != nil {
				return nil, err
			}
			records = append(records, more...)
		}
	}

	if records == nil {
		records = []models.RawRecord{}
	}
	if c.cache != nil && len(records) > 0 {
		c.cache.Add(key, records)
	}
	return records, nil
}

// invoke calls one adapter. The caller already holds a token.
func (c *Coordinator) invoke(ctx context.Context, d models.Decision) ([]models.RawRecord, error) {
	a, ok := c.adapters[d.AdapterName]
	if !ok {
		c.logger.Warn("[coordinator] No adapter named %q", d.AdapterName)
		c.observe(d.AdapterName, "unknown", 0)
		return nil, nil
	}

	records, err := safeFetch(ctx, a, d.AdapterArgs)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Error("[coordinator] %s failed: %v", d.AdapterName, err)
		c.observe(d.AdapterName, "error", 0)
		return nil, nil
	}

	for _, r := range records {
		r[models.AdapterField] = a.Name()
		if s, _ := r["source"].(string); s == "" {
			r["source"] = a.Name()
		}
	}
	outcome := "ok"
	if len(records) == 0 {
		outcome = "empty"
	}
	c.observe(d.AdapterName, outcome, len(records))
	c.logger.Info("[coordinator] %s returned %d records", d.AdapterName, len(records))
	return records, nil
}

func (c *Coordinator) observe(adapter, outcome string, n int) {
	if c.metrics == nil {
		return
	}
	c.metrics.AdapterCalls.WithLabelValues(adapter, outcome).Inc()
	if n > 0 {
		c.metrics.RecordsFetched.WithLabelValues(adapter).Add(float64(n))
	}
}

func safeFetch(ctx context.Context, a scraper.Adapter, args models.AdapterArgs) (recs []models.RawRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("adapter %s panicked: %v", a.Name(), r)
		}
	}()
	return a.Fetch(ctx, args)
}
