package decision

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"Willowmere/server/internal/config"
	"Willowmere/server/internal/interfaces"
	"Willowmere/server/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

type stubProvider struct {
	mu      sync.Mutex
	calls   atomic.Int64
	delay   time.Duration
	err     error
	results []*models.DecisionResult
}

func (p *stubProvider) Decide(ctx context.Context, req *models.DecisionRequest) (*models.DecisionResult, error) {
	p.calls.Inc()
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.results) > 0 {
		res := p.results[0]
		p.results = p.results[1:]
		return res, nil
	}
	return &models.DecisionResult{Action: "work", Emotion: "neutral"}, nil
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]*models.DecisionResult
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string]*models.DecisionResult)}
}

func (c *memoryCache) Get(ctx context.Context, req *models.DecisionRequest) (*models.DecisionResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key, _ := req.Fingerprint()
	res, ok := c.entries[key]
	return res, ok
}

func (c *memoryCache) Put(ctx context.Context, req *models.DecisionRequest, res *models.DecisionResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key, _ := req.Fingerprint()
	c.entries[key] = res
	return nil
}

func (c *memoryCache) Invalidate(ctx context.Context, agentName string, changedFields []string) (int, error) {
	return 0, nil
}

func (c *memoryCache) Stats(ctx context.Context) interfaces.CacheStats { return interfaces.CacheStats{} }
func (c *memoryCache) Close() error                                    { return nil }

func testDispatcherConfig() config.DispatcherConfig {
	return config.DispatcherConfig{
		MaxConcurrent:  4,
		RequestTimeout: time.Second,
	}
}

func decisionRequest(agent string) *models.DecisionRequest {
	return &models.DecisionRequest{
		Snapshot: models.AgentSnapshot{
			Name:  agent,
			Needs: map[string]float64{"hunger": 0.9, "sleep": 0.9, "social": 0.9, "fun": 0.9},
		},
		Context: models.SituationContext{Situation: "wandering", Hour: 12},
	}
}

func TestDecideSyncUsesProvider(t *testing.T) {
	provider := &stubProvider{}
	d := NewDispatcher(testDispatcherConfig(), provider, nil)
	defer d.Close()

	res := d.DecideSync(context.Background(), decisionRequest("Alice"))
	require.NotNil(t, res)
	assert.Equal(t, "work", res.Action)
	assert.False(t, res.Fallback)
}

func TestProviderErrorYieldsFallback(t *testing.T) {
	provider := &stubProvider{err: errors.New("model unavailable")}
	d := NewDispatcher(testDispatcherConfig(), provider, nil)
	defer d.Close()

	res := d.DecideSync(context.Background(), decisionRequest("Alice"))
	require.NotNil(t, res)
	assert.True(t, res.Fallback)
	assert.Equal(t, "wander", res.Action)
}

func TestProviderTimeoutYieldsFallback(t *testing.T) {
	cfg := testDispatcherConfig()
	cfg.RequestTimeout = 20 * time.Millisecond
	provider := &stubProvider{delay: time.Second}
	d := NewDispatcher(cfg, provider, nil)
	defer d.Close()

	res := d.DecideSync(context.Background(), decisionRequest("Alice"))
	require.NotNil(t, res)
	assert.True(t, res.Fallback)
}

func TestFallbackAddressesUrgentNeed(t *testing.T) {
	provider := &stubProvider{err: errors.New("down")}
	d := NewDispatcher(testDispatcherConfig(), provider, nil)
	defer d.Close()

	req := decisionRequest("Alice")
	req.Snapshot.Needs["hunger"] = 0.1
	res := d.DecideSync(context.Background(), req)
	assert.Equal(t, "eat", res.Action)
	assert.Equal(t, "restaurant", res.Target)

	req = decisionRequest("Alice")
	req.Snapshot.Needs["social"] = 0.1
	req.Context.NearbyAgents = []string{"Bob"}
	res = d.DecideSync(context.Background(), req)
	assert.Equal(t, "talk_to", res.Action)
	assert.Equal(t, "Bob", res.Target)
}

func TestCacheHitSkipsProvider(t *testing.T) {
	provider := &stubProvider{}
	d := NewDispatcher(testDispatcherConfig(), provider, newMemoryCache())
	defer d.Close()

	req := decisionRequest("Alice")
	first := d.DecideSync(context.Background(), req)
	second := d.DecideSync(context.Background(), req)

	assert.Equal(t, first.Action, second.Action)
	assert.Equal(t, int64(1), provider.calls.Load())
	assert.Equal(t, int64(1), d.Stats().CacheHits)
}

func TestFallbackResultsAreNotCached(t *testing.T) {
	provider := &stubProvider{err: errors.New("down")}
	d := NewDispatcher(testDispatcherConfig(), provider, newMemoryCache())
	defer d.Close()

	req := decisionRequest("Alice")
	d.DecideSync(context.Background(), req)
	d.DecideSync(context.Background(), req)

	// Both calls hit the provider: the fallback never entered the cache.
	assert.Equal(t, int64(2), provider.calls.Load())
}

func TestAsyncCallbackOrderPerAgent(t *testing.T) {
	provider := &stubProvider{
		results: []*models.DecisionResult{
			{Action: "first"},
			{Action: "second"},
			{Action: "third"},
		},
	}
	d := NewDispatcher(testDispatcherConfig(), provider, nil)

	var mu sync.Mutex
	var order []string
	done := make(chan struct{})

	// Three distinct requests so caching cannot coalesce them.
	for i, hour := range []int{1, 2, 3} {
		req := decisionRequest("Alice")
		req.Context.Hour = hour
		last := i == 2
		d.DecideAsync(req, func(res *models.DecisionResult) {
			mu.Lock()
			order = append(order, res.Action)
			mu.Unlock()
			if last {
				close(done)
			}
		})
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("callbacks did not complete")
	}
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestSetProviderSwapsBackend(t *testing.T) {
	d := NewDispatcher(testDispatcherConfig(), &stubProvider{err: errors.New("down")}, nil)
	defer d.Close()

	res := d.DecideSync(context.Background(), decisionRequest("Alice"))
	assert.True(t, res.Fallback)

	d.SetProvider(&stubProvider{})
	res = d.DecideSync(context.Background(), decisionRequest("Alice"))
	assert.False(t, res.Fallback)
}

func TestNilProviderFallsBack(t *testing.T) {
	d := NewDispatcher(testDispatcherConfig(), nil, nil)
	defer d.Close()

	res := d.DecideSync(context.Background(), decisionRequest("Alice"))
	require.NotNil(t, res)
	assert.True(t, res.Fallback)
}

func TestDecideAsyncDuringCloseDoesNotPanic(t *testing.T) {
	provider := &stubProvider{}
	d := NewDispatcher(testDispatcherConfig(), provider, nil)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for _, agent := range []string{"Alice", "Bob", "Carol", "Dave"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			<-start
			for i := 0; i < 100; i++ {
				d.DecideAsync(decisionRequest(name), nil)
			}
		}(agent)
	}

	close(start)
	require.NoError(t, d.Close())
	wg.Wait()

	// Requests after close are dropped quietly.
	d.DecideAsync(decisionRequest("Alice"), func(*models.DecisionResult) {
		t.Error("callback fired after close")
	})
}

func TestCloseAllowsQueuedCallbacks(t *testing.T) {
	provider := &stubProvider{delay: 10 * time.Millisecond}
	d := NewDispatcher(testDispatcherConfig(), provider, nil)

	fired := make(chan struct{})
	d.DecideAsync(decisionRequest("Alice"), func(*models.DecisionResult) {
		close(fired)
	})
	d.Close()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("queued callback dropped on close")
	}
}
