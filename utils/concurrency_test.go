package utils

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestURLSetNoDuplicates(t *testing.T) {
	s := NewURLSet()

	require.True(t, s.Add("https://example.com/1"), "first Add should return true")
	require.False(t, s.Add("https://example.com/1"), "second Add of same URL should return false")
	assert.True(t, s.Contains("https://example.com/1"))
	assert.Equal(t, 1, s.Size())
}

func TestURLSetConcurrency(t *testing.T) {
	s := NewURLSet()
	var added int64

	pool := NewWorkerPool(10, 0)
	for i := 0; i < 100; i++ {
		url := "https://example.com/same"
		pool.Submit(context.Background(), func(context.Context) {
			if s.Add(url) {
				atomic.AddInt64(&added, 1)
			}
		})
	}
	pool.Wait()

	assert.Equal(t, int64(1), added)
}

func TestWorkerPoolRateLimit(t *testing.T) {
	interval := 100 * time.Millisecond
	pool := NewWorkerPool(1, interval)

	var mu sync.Mutex
	var timestamps []time.Time

	for i := 0; i < 3; i++ {
		pool.Submit(context.Background(), func(context.Context) {
			mu.Lock()
			timestamps = append(timestamps, time.Now())
			mu.Unlock()
		})
	}
	pool.Wait()

	require.Len(t, timestamps, 3)
	for i := 1; i < len(timestamps); i++ {
		gap := timestamps[i].Sub(timestamps[i-1])
		// rate.Limiter reserves ahead, allow a little scheduling slack
		assert.GreaterOrEqual(t, gap, interval-10*time.Millisecond, "gap between job %d and %d", i-1, i)
	}
}

func TestWorkerPoolSkipsCancelledJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran int64
	pool := NewWorkerPool(2, time.Hour)
	for i := 0; i < 3; i++ {
		pool.Submit(ctx, func(context.Context) { atomic.AddInt64(&ran, 1) })
	}
	pool.Wait()

	assert.Equal(t, int64(0), ran)
}
