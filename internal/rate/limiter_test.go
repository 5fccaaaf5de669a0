package rate

import (
	"context"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func TestLimiter_Allow(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	lim := newWithClock(Config{RequestsPerSecond: 10, Burst: 5}, clk.now)

	// Should allow up to burst count immediately
	allowed := 0
	for i := 0; i < 10; i++ {
		if lim.Allow() {
			allowed++
		}
	}

	if allowed != 5 {
		t.Errorf("expected 5 allowed from burst, got %d", allowed)
	}
}

func TestLimiter_Refill(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	lim := newWithClock(Config{RequestsPerSecond: 10, Burst: 2}, clk.now)

	// Drain the bucket
	for lim.Allow() {
	}

	clk.advance(100 * time.Millisecond)
	if !lim.Allow() {
		t.Error("expected token to be available after refill period")
	}
	if lim.Allow() {
		t.Error("expected exactly one token after 100ms at 10/s")
	}
}

func TestLimiter_BurstCap(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	lim := newWithClock(Config{RequestsPerSecond: 1000, Burst: 3}, clk.now)

	// Even after a long pause, tokens should not exceed burst
	clk.advance(time.Hour)

	allowed := 0
	for i := 0; i < 10; i++ {
		if lim.Allow() {
			allowed++
		}
	}
	if allowed != 3 {
		t.Errorf("expected burst cap of 3, got %d", allowed)
	}
}

func TestLimiter_WaitCanceled(t *testing.T) {
	lim := New(Config{RequestsPerSecond: 0.001, Burst: 1})
	require.True(t, lim.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, lim.Wait(ctx), context.DeadlineExceeded)
}

func TestManager_PerKeyIsolation(t *testing.T) {
	m := NewManager(Config{RequestsPerSecond: 0.001, Burst: 1})

	assert.True(t, m.Allow("alice"))
	assert.False(t, m.Allow("alice"))
	assert.True(t, m.Allow("bob"))
	assert.Same(t, m.GetLimiter("alice"), m.GetLimiter("alice"))
}

func TestManager_ConcurrentGetLimiter(t *testing.T) {
	m := NewManager(Config{RequestsPerSecond: 1, Burst: 1})

	var wg sync.WaitGroup
	got := make([]*Limiter, 16)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = m.GetLimiter("shared")
		}(i)
	}
	wg.Wait()
	for _, l := range got {
		assert.Same(t, got[0], l)
	}
}

func TestMiddleware(t *testing.T) {
	m := NewManager(Config{RequestsPerSecond: 0.001, Burst: 2})
	app := fiber.New()
	app.Post("/bid", Middleware(m, "bid", func(c *fiber.Ctx) string { return c.Get("X-Caller-Identity") }),
		func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusAccepted) })

	send := func(caller string) int {
		req := httptest.NewRequest("POST", "/bid", nil)
		if caller != "" {
			req.Header.Set("X-Caller-Identity", caller)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode
	}

	assert.Equal(t, fiber.StatusAccepted, send("alice"))
	assert.Equal(t, fiber.StatusAccepted, send("alice"))
	assert.Equal(t, fiber.StatusTooManyRequests, send("alice"))
	assert.Equal(t, fiber.StatusAccepted, send("bob"))
	assert.Equal(t, fiber.StatusAccepted, send(""))
}
