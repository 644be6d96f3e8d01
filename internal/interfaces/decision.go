package interfaces

import (
	"context"

	"Willowmere/server/internal/models"
)

// DecisionProvider is the external brain: given a snapshot and context it
// produces a structured decision. Concrete providers (LLM backends, prompt
// construction, credentials) live outside the core and are injected.
type DecisionProvider interface {
	Decide(ctx context.Context, req *models.DecisionRequest) (*models.DecisionResult, error)
}

// DecisionDispatcher turns requests into results, optionally through a cache,
// optionally asynchronously. Provider failures never escape: both paths
// always yield a usable result.
type DecisionDispatcher interface {
	// DecideSync blocks until a result is available. On provider error or
	// timeout the deterministic fallback result is returned.
	DecideSync(ctx context.Context, req *models.DecisionRequest) *models.DecisionResult

	// DecideAsync queues the request off the simulation thread and invokes
	// onComplete with the result. For a single agent, callbacks fire in the
	// order requests were issued.
	DecideAsync(req *models.DecisionRequest, onComplete func(*models.DecisionResult))
}

// CacheStats is a point-in-time view of decision cache performance.
type CacheStats struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Invalidations int64   `json:"invalidations"`
	HitRate       float64 `json:"hit_rate"`
	Entries       int64   `json:"entries"`
}

// DecisionCache stores decisions by input fingerprint and supports partial
// invalidation: dropping only the entries whose fingerprint depended on the
// fields that changed.
type DecisionCache interface {
	Get(ctx context.Context, req *models.DecisionRequest) (*models.DecisionResult, bool)
	Put(ctx context.Context, req *models.DecisionRequest, res *models.DecisionResult) error

	// Invalidate removes entries for the agent whose fingerprint used any of
	// changedFields. Returns the number of entries removed.
	Invalidate(ctx context.Context, agentName string, changedFields []string) (int, error)

	Stats(ctx context.Context) CacheStats
	Close() error
}
