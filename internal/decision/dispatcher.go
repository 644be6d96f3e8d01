package decision

import (
	"context"
	"log"
	"sync"
	"time"

	"Willowmere/server/internal/config"
	"Willowmere/server/internal/interfaces"
	"Willowmere/server/internal/models"

	"go.uber.org/atomic"
	"golang.org/x/sync/semaphore"
)

type asyncJob struct {
	req        *models.DecisionRequest
	onComplete func(*models.DecisionResult)
}

// Dispatcher turns decision requests into results through the cache and the
// external provider. Provider failures never escape: every path produces a
// usable DecisionResult, falling back to the local policy when the provider
// cannot answer.
//
// Async requests for one agent run on that agent's own ordered queue, so
// callbacks fire in issue order. A global semaphore caps concurrent provider
// calls across all agents.
type Dispatcher struct {
	cfg      config.DispatcherConfig
	cache    interfaces.DecisionCache
	fallback *FallbackPolicy
	sem      *semaphore.Weighted

	providerMu sync.RWMutex
	provider   interfaces.DecisionProvider

	queueMu sync.Mutex
	queues  map[string]chan asyncJob
	wg      sync.WaitGroup
	closed  bool

	requests  atomic.Int64
	failures  atomic.Int64
	cacheHits atomic.Int64
}

func NewDispatcher(cfg config.DispatcherConfig, provider interfaces.DecisionProvider, cache interfaces.DecisionCache) *Dispatcher {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Dispatcher{
		cfg:      cfg,
		cache:    cache,
		fallback: NewFallbackPolicy(),
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		provider: provider,
		queues:   make(map[string]chan asyncJob),
	}
}

// SetProvider swaps the decision backend at runtime.
func (d *Dispatcher) SetProvider(provider interfaces.DecisionProvider) {
	d.providerMu.Lock()
	defer d.providerMu.Unlock()
	d.provider = provider
}

func (d *Dispatcher) currentProvider() interfaces.DecisionProvider {
	d.providerMu.RLock()
	defer d.providerMu.RUnlock()
	return d.provider
}

// DecideSync resolves a request, blocking until a result exists. The error
// path is internal: a provider failure yields the fallback decision.
func (d *Dispatcher) DecideSync(ctx context.Context, req *models.DecisionRequest) *models.DecisionResult {
	d.requests.Inc()

	if d.cache != nil {
		if res, ok := d.cache.Get(ctx, req); ok {
			d.cacheHits.Inc()
			return res
		}
	}

	res := d.callProvider(ctx, req)
	if !res.Fallback && d.cache != nil {
		if err := d.cache.Put(ctx, req, res); err != nil {
			log.Printf("[Dispatcher] cache store failed for %s: %v", req.Snapshot.Name, err)
		}
	}
	return res
}

// DecideAsync queues the request on the agent's ordered queue and returns
// immediately. onComplete runs on the queue goroutine.
func (d *Dispatcher) DecideAsync(req *models.DecisionRequest, onComplete func(*models.DecisionResult)) {
	// The send happens under queueMu so Close cannot close the channel
	// between the closed check and the send.
	d.queueMu.Lock()
	defer d.queueMu.Unlock()

	if d.closed {
		log.Printf("[Dispatcher] dropped request for %s: dispatcher closed", req.Snapshot.Name)
		return
	}
	queue, ok := d.queues[req.Snapshot.Name]
	if !ok {
		queue = make(chan asyncJob, 16)
		d.queues[req.Snapshot.Name] = queue
		d.wg.Add(1)
		go d.runQueue(queue)
	}

	select {
	case queue <- asyncJob{req: req, onComplete: onComplete}:
	default:
		// At most one request per agent is ever in flight, so a full queue
		// means something upstream is broken; shed rather than block.
		log.Printf("[Dispatcher] dropped request for %s: queue full", req.Snapshot.Name)
	}
}

func (d *Dispatcher) runQueue(queue chan asyncJob) {
	defer d.wg.Done()
	for job := range queue {
		res := d.DecideSync(context.Background(), job.req)
		if job.onComplete != nil {
			job.onComplete(res)
		}
	}
}

func (d *Dispatcher) callProvider(ctx context.Context, req *models.DecisionRequest) *models.DecisionResult {
	provider := d.currentProvider()
	if provider == nil {
		return d.fallbackResult(req)
	}

	if err := d.sem.Acquire(ctx, 1); err != nil {
		d.failures.Inc()
		return d.fallbackResult(req)
	}
	defer d.sem.Release(1)

	callCtx := ctx
	if d.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.cfg.RequestTimeout)
		defer cancel()
	}

	res, err := provider.Decide(callCtx, req)
	if err != nil || res == nil {
		d.failures.Inc()
		if callCtx.Err() == context.DeadlineExceeded {
			err = interfaces.ErrProviderTimeout
		}
		log.Printf("[Dispatcher] provider failed for %s, using fallback: %v", req.Snapshot.Name, err)
		return d.fallbackResult(req)
	}
	return res
}

func (d *Dispatcher) fallbackResult(req *models.DecisionRequest) *models.DecisionResult {
	return d.fallback.Decide(req)
}

// Stats reports dispatch counters since startup.
type DispatchStats struct {
	Requests  int64 `json:"requests"`
	Failures  int64 `json:"failures"`
	CacheHits int64 `json:"cache_hits"`
}

func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{
		Requests:  d.requests.Load(),
		Failures:  d.failures.Load(),
		CacheHits: d.cacheHits.Load(),
	}
}

// Close drains the per-agent queues and waits for in-flight work. Queued
// callbacks still fire; new requests are dropped.
func (d *Dispatcher) Close() error {
	d.queueMu.Lock()
	if d.closed {
		d.queueMu.Unlock()
		return nil
	}
	d.closed = true
	for _, queue := range d.queues {
		close(queue)
	}
	d.queueMu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		log.Printf("[Dispatcher] close timed out waiting for queues")
	}
	return nil
}
