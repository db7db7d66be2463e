// Package ratelimit implements token-bucket admission control for outbound
// data-source calls, one bucket per traffic class.
package ratelimit

import (
	"container/list"
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// Config describes one token bucket.
type Config struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requestsPerSecond"`
	BurstSize         int     `yaml:"burst_size" json:"burstSize"`
	Enabled           bool    `yaml:"enabled" json:"enabled"`
}

// Validate reports whether the config can drive a bucket.
func (c Config) Validate() error {
	if c.RequestsPerSecond <= 0 || math.IsNaN(c.RequestsPerSecond) || math.IsInf(c.RequestsPerSecond, 0) {
		return fmt.Errorf("ratelimit: requests_per_second must be positive, got %v", c.RequestsPerSecond)
	}
	if c.BurstSize < 1 {
		return fmt.Errorf("ratelimit: burst_size must be at least 1, got %d", c.BurstSize)
	}
	return nil
}

// ConfigUpdate carries the fields to merge into a Config. Nil fields are left
// untouched; non-positive rates and bursts are ignored.
type ConfigUpdate struct {
	RequestsPerSecond *float64
	BurstSize         *int
	Enabled           *bool
}

// Status is a point-in-time view of a bucket.
type Status struct {
	AvailableTokens int     `json:"availableTokens"`
	MaxTokens       int     `json:"maxTokens"`
	RefillRate      float64 `json:"refillRate"`
	IsEnabled       bool    `json:"isEnabled"`
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock used for refill arithmetic. Waiter wake-ups
// still run on real timers.
func WithClock(c Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

type waiter struct {
	ready    chan struct{}
	elem     *list.Element
	granted  bool
	consumed bool
}

// Limiter is a continuously refilled token bucket. Blocked callers queue in
// arrival order and are woken by a single timer when the next token is due.
type Limiter struct {
	mu         sync.Mutex
	cfg        Config
	tokens     float64
	lastRefill time.Time
	clock      Clock
	waiters    *list.List
	timer      *time.Timer
}

// New creates a full bucket. A burst below 1 becomes 1 and a rate that is
// not a positive finite number becomes one request per second.
func New(cfg Config, opts ...Option) *Limiter {
	l := &Limiter{clock: realClock{}, waiters: list.New()}
	for _, opt := range opts {
		opt(l)
	}
	if cfg.BurstSize < 1 {
		cfg.BurstSize = 1
	}
	if !(cfg.RequestsPerSecond > 0) || math.IsInf(cfg.RequestsPerSecond, 0) {
		cfg.RequestsPerSecond = 1
	}
	l.cfg = cfg
	l.tokens = float64(cfg.BurstSize)
	l.lastRefill = l.clock.Now()
	return l
}

// AllowRequest consumes one token if available. A disabled limiter always
// admits. While callers are queued in WaitForToken new requests are denied so
// the queue is served first.
func (l *Limiter) AllowRequest() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.cfg.Enabled {
		return true
	}
	l.refillLocked()
	if l.waiters.Len() > 0 {
		return false
	}
	if l.tokens >= 1 {
		l.tokens--
		return true
	}
	return false
}

// WaitForToken blocks until a token is granted or ctx is done. A token granted
// to a caller that has already given up is returned to the bucket.
func (l *Limiter) WaitForToken(ctx context.Context) error {
	l.mu.Lock()
	if !l.cfg.Enabled {
		l.mu.Unlock()
		return nil
	}
	l.refillLocked()
	if l.waiters.Len() == 0 && l.tokens >= 1 {
		l.tokens--
		l.mu.Unlock()
		return nil
	}
	if err := ctx.Err(); err != nil {
		l.mu.Unlock()
		return err
	}

	w := &waiter{ready: make(chan struct{})}
	w.elem = l.waiters.PushBack(w)
	l.scheduleLocked()
	l.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w.granted {
		if w.consumed {
			l.tokens = math.Min(float64(l.cfg.BurstSize), l.tokens+1)
		}
		l.grantLocked()
		return ctx.Err()
	}
	l.waiters.Remove(w.elem)
	l.scheduleLocked()
	return ctx.Err()
}

// Status refills and reports the bucket.
func (l *Limiter) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillLocked()
	return Status{
		AvailableTokens: int(math.Floor(l.tokens)),
		MaxTokens:       l.cfg.BurstSize,
		RefillRate:      l.cfg.RequestsPerSecond,
		IsEnabled:       l.cfg.Enabled,
	}
}

// Config returns the current configuration.
func (l *Limiter) Config() Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg
}

// Reset fills the bucket and restarts the refill clock.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.tokens = float64(l.cfg.BurstSize)
	l.lastRefill = l.clock.Now()
	l.grantLocked()
}

// UpdateConfig merges u into the configuration. Shrinking the burst clamps the
// current tokens down; growing it never adds tokens.
func (l *Limiter) UpdateConfig(u ConfigUpdate) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// settle tokens earned under the old rate first
	l.refillLocked()

	if u.RequestsPerSecond != nil && *u.RequestsPerSecond > 0 {
		l.cfg.RequestsPerSecond = *u.RequestsPerSecond
	}
	if u.BurstSize != nil && *u.BurstSize >= 1 {
		l.cfg.BurstSize = *u.BurstSize
		if l.tokens > float64(l.cfg.BurstSize) {
			l.tokens = float64(l.cfg.BurstSize)
		}
	}
	if u.Enabled != nil {
		l.cfg.Enabled = *u.Enabled
	}
	l.grantLocked()
}

func (l *Limiter) refillLocked() {
	now := l.clock.Now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	if l.cfg.RequestsPerSecond > 0 {
		l.tokens = math.Min(float64(l.cfg.BurstSize), l.tokens+elapsed*l.cfg.RequestsPerSecond)
	}
	l.lastRefill = now
}

// grantLocked hands tokens to queued waiters in FIFO order, then re-arms the
// timer for whoever is left.
func (l *Limiter) grantLocked() {
	l.refillLocked()
	for l.waiters.Len() > 0 {
		front := l.waiters.Front()
		w := front.Value.(*waiter)
		if l.cfg.Enabled {
			if l.tokens < 1 {
				break
			}
			l.tokens--
			w.consumed = true
		}
		l.waiters.Remove(front)
		w.granted = true
		close(w.ready)
	}
	l.scheduleLocked()
}

func (l *Limiter) scheduleLocked() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	if l.waiters.Len() == 0 || l.cfg.RequestsPerSecond <= 0 {
		return
	}
	need := 1 - l.tokens
	wait := time.Duration(need / l.cfg.RequestsPerSecond * float64(time.Second))
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	l.timer = time.AfterFunc(wait, l.onTimer)
}

func (l *Limiter) onTimer() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.grantLocked()
}
