package ratelimit

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (l *Limiter) rawTokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tokens
}

func (l *Limiter) queued() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waiters.Len()
}

func waitQueued(t *testing.T, l *Limiter, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return l.queued() == n }, time.Second, time.Millisecond)
}

var tenPerSecond = Config{RequestsPerSecond: 10, BurstSize: 5, Enabled: true}

func TestBurstThenEmpty(t *testing.T) {
	l := New(tenPerSecond, WithClock(newFakeClock()))

	for i := 0; i < 5; i++ {
		require.True(t, l.AllowRequest(), "request %d should be admitted", i+1)
	}
	assert.False(t, l.AllowRequest(), "6th request should be denied")
}

func TestRefillArithmetic(t *testing.T) {
	clock := newFakeClock()
	l := New(tenPerSecond, WithClock(clock))
	for i := 0; i < 5; i++ {
		l.AllowRequest()
	}
	require.False(t, l.AllowRequest())

	clock.Advance(250 * time.Millisecond)
	assert.Equal(t, 2, l.Status().AvailableTokens, "2.5 tokens floor to 2")

	clock.Advance(250 * time.Millisecond)
	st := l.Status()
	assert.Equal(t, 5, st.AvailableTokens)
	assert.Equal(t, 5, st.MaxTokens)
	assert.Equal(t, 10.0, st.RefillRate)
	assert.True(t, st.IsEnabled)

	clock.Advance(time.Hour)
	assert.Equal(t, 5, l.Status().AvailableTokens, "refill is capped at burst")
}

func TestDisabledBypass(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1, BurstSize: 1, Enabled: false}, WithClock(newFakeClock()))
	for i := 0; i < 100; i++ {
		require.True(t, l.AllowRequest())
	}
	require.NoError(t, l.WaitForToken(context.Background()))
	assert.False(t, l.Status().IsEnabled)
}

func TestTokensStayWithinBounds(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{RequestsPerSecond: 3, BurstSize: 4, Enabled: true}, WithClock(clock))
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 2000; i++ {
		switch rng.Intn(4) {
		case 0:
			clock.Advance(time.Duration(rng.Intn(800)) * time.Millisecond)
		case 1:
			burst := 1 + rng.Intn(6)
			l.UpdateConfig(ConfigUpdate{BurstSize: &burst})
		default:
			l.AllowRequest()
		}
		tokens := l.rawTokens()
		require.GreaterOrEqual(t, tokens, 0.0)
		require.LessOrEqual(t, tokens, float64(l.Config().BurstSize))
	}
}

func TestUpdateConfigClampsDownOnly(t *testing.T) {
	clock := newFakeClock()
	l := New(tenPerSecond, WithClock(clock))

	two := 2
	l.UpdateConfig(ConfigUpdate{BurstSize: &two})
	assert.Equal(t, 2, l.Status().AvailableTokens)

	ten := 10
	l.UpdateConfig(ConfigUpdate{BurstSize: &ten})
	st := l.Status()
	assert.Equal(t, 2, st.AvailableTokens, "growing the burst never adds tokens")
	assert.Equal(t, 10, st.MaxTokens)

	zero := 0
	negative := -4.0
	l.UpdateConfig(ConfigUpdate{BurstSize: &zero, RequestsPerSecond: &negative})
	assert.Equal(t, Config{RequestsPerSecond: 10, BurstSize: 10, Enabled: true}, l.Config())
}

func TestReset(t *testing.T) {
	l := New(tenPerSecond, WithClock(newFakeClock()))
	for l.AllowRequest() {
	}
	l.Reset()
	assert.Equal(t, 5, l.Status().AvailableTokens)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, tenPerSecond.Validate())
	assert.Error(t, Config{RequestsPerSecond: 0, BurstSize: 1}.Validate())
	assert.Error(t, Config{RequestsPerSecond: 1, BurstSize: 0}.Validate())
}

func TestNewDefaultsInvalidRate(t *testing.T) {
	for name, rps := range map[string]float64{"zero": 0, "negative": -2, "nan": math.NaN(), "inf": math.Inf(1)} {
		l := New(Config{RequestsPerSecond: rps, BurstSize: 1, Enabled: true})
		assert.Equal(t, 1.0, l.Status().RefillRate, name)
	}

	// a zero rate used to leave waiters queued forever
	l := New(Config{RequestsPerSecond: 0, BurstSize: 1, Enabled: true})
	require.NoError(t, l.WaitForToken(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	assert.NoError(t, l.WaitForToken(ctx))
}

func TestWaitForTokenBlocksUntilRefill(t *testing.T) {
	l := New(Config{RequestsPerSecond: 50, BurstSize: 1, Enabled: true})
	require.NoError(t, l.WaitForToken(context.Background()))

	start := time.Now()
	require.NoError(t, l.WaitForToken(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestWaitForTokenIsFIFO(t *testing.T) {
	// slow enough that nobody is served while the queue is being built
	l := New(Config{RequestsPerSecond: 0.2, BurstSize: 1, Enabled: true})
	require.True(t, l.AllowRequest())

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := l.WaitForToken(context.Background()); err == nil {
				mu.Lock()
				order = append(order, id)
				mu.Unlock()
			}
		}(i)
		waitQueued(t, l, i+1)
	}

	assert.False(t, l.AllowRequest(), "queued waiters are served before new arrivals")

	fast := 100.0
	l.UpdateConfig(ConfigUpdate{RequestsPerSecond: &fast})
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestWaitForTokenCancellation(t *testing.T) {
	l := New(Config{RequestsPerSecond: 0.1, BurstSize: 1, Enabled: true})
	require.True(t, l.AllowRequest())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.WaitForToken(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 0, l.queued(), "abandoned waiter leaves the queue")
}

func TestDisablingReleasesWaiters(t *testing.T) {
	l := New(Config{RequestsPerSecond: 0.01, BurstSize: 1, Enabled: true})
	require.True(t, l.AllowRequest())

	done := make(chan error, 1)
	go func() { done <- l.WaitForToken(context.Background()) }()
	waitQueued(t, l, 1)

	off := false
	l.UpdateConfig(ConfigUpdate{Enabled: &off})

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter was not released")
	}
}
