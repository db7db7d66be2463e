package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cruise-scraper/metrics"
)

// ErrUnknownPriority is matched by every UnknownPriorityError.
var ErrUnknownPriority = errors.New("ratelimit: unknown priority")

// UnknownPriorityError is returned when a caller names a priority class the
// limiter was not built with.
type UnknownPriorityError struct {
	Priority string
}

func (e *UnknownPriorityError) Error() string {
	return fmt.Sprintf("ratelimit: unknown priority %q", e.Priority)
}

func (e *UnknownPriorityError) Is(target error) bool {
	return target == ErrUnknownPriority
}

// DefaultPriorities is the stock high/medium/low split.
func DefaultPriorities() map[string]Config {
	return map[string]Config{
		"high":   {RequestsPerSecond: 10, BurstSize: 20, Enabled: true},
		"medium": {RequestsPerSecond: 5, BurstSize: 10, Enabled: true},
		"low":    {RequestsPerSecond: 1, BurstSize: 5, Enabled: true},
	}
}

// PriorityLimiter routes admission decisions to one Limiter per priority
// class. The set of classes is fixed at construction.
type PriorityLimiter struct {
	limiters map[string]*Limiter
	metrics  *metrics.Metrics
}

// NewPriority builds one Limiter per entry of cfgs.
func NewPriority(cfgs map[string]Config, opts ...Option) *PriorityLimiter {
	p := &PriorityLimiter{limiters: make(map[string]*Limiter, len(cfgs))}
	for name, cfg := range cfgs {
		p.limiters[name] = New(cfg, opts...)
	}
	return p
}

// WithMetrics records decisions and wait latency on m.
func (p *PriorityLimiter) WithMetrics(m *metrics.Metrics) *PriorityLimiter {
	p.metrics = m
	return p
}

func (p *PriorityLimiter) lookup(priority string) (*Limiter, error) {
	l, ok := p.limiters[priority]
	if !ok {
		return nil, &UnknownPriorityError{Priority: priority}
	}
	return l, nil
}

// AllowRequest is Limiter.AllowRequest for the named class.
func (p *PriorityLimiter) AllowRequest(priority string) (bool, error) {
	l, err := p.lookup(priority)
	if err != nil {
		return false, err
	}
	ok := l.AllowRequest()
	if p.metrics != nil {
		decision := "allowed"
		if !ok {
			decision = "denied"
		}
		p.metrics.LimiterDecisions.WithLabelValues(priority, decision).Inc()
	}
	return ok, nil
}

// WaitForToken is Limiter.WaitForToken for the named class.
func (p *PriorityLimiter) WaitForToken(ctx context.Context, priority string) error {
	l, err := p.lookup(priority)
	if err != nil {
		return err
	}
	start := time.Now()
	err = l.WaitForToken(ctx)
	if p.metrics != nil {
		p.metrics.LimiterWait.WithLabelValues(priority).Observe(time.Since(start).Seconds())
		decision := "waited"
		if err != nil {
			decision = "abandoned"
		}
		p.metrics.LimiterDecisions.WithLabelValues(priority, decision).Inc()
	}
	return err
}

// UpdateConfig is Limiter.UpdateConfig for the named class.
func (p *PriorityLimiter) UpdateConfig(priority string, u ConfigUpdate) error {
	l, err := p.lookup(priority)
	if err != nil {
		return err
	}
	l.UpdateConfig(u)
	return nil
}

// Reset refills every bucket.
func (p *PriorityLimiter) Reset() {
	for _, l := range p.limiters {
		l.Reset()
	}
}

// Status reports every bucket by priority.
func (p *PriorityLimiter) Status() map[string]Status {
	out := make(map[string]Status, len(p.limiters))
	for name, l := range p.limiters {
		out[name] = l.Status()
	}
	return out
}

// Priorities lists the configured classes in sorted order.
func (p *PriorityLimiter) Priorities() []string {
	names := make([]string, 0, len(p.limiters))
	for name := range p.limiters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
