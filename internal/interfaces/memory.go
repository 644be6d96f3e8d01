package interfaces

import (
	"context"
	"time"

	"Willowmere/server/internal/models"
)

// RecordStore is durable structured storage for memory records and
// relationship edges. Absence of data is never an error here: empty result
// sets and the neutral relationship default are normal answers.
type RecordStore interface {
	// StoreMemory inserts a record and returns its generated id.
	StoreMemory(ctx context.Context, rec *models.MemoryRecord) (uint, error)

	// SetEmbeddingID assigns the semantic cross-reference after indexing.
	SetEmbeddingID(ctx context.Context, recordID uint, embeddingID string) error

	// RecentMemories returns up to limit records, most recent first.
	RecentMemories(ctx context.Context, agentName string, limit int) ([]models.MemoryRecord, error)

	// MemoriesByID fetches records by id; missing ids are simply absent
	// from the result.
	MemoriesByID(ctx context.Context, ids []uint) ([]models.MemoryRecord, error)

	// UpdateRelationship applies a delta to the canonical pair row,
	// creating it at 0.5+delta (clamped) on first contact.
	UpdateRelationship(ctx context.Context, agentA, agentB string, delta float64) error

	// Relationship returns the stored value or the neutral default.
	Relationship(ctx context.Context, agentA, agentB string) (float64, error)

	// AllRelationships maps every known counterpart of an agent to its value.
	AllRelationships(ctx context.Context, agentName string) (map[string]float64, error)

	// Summarize counts memories by type over a trailing window.
	Summarize(ctx context.Context, agentName string, window time.Duration) (string, error)

	// PruneMemories evicts lowest-importance, then oldest, records past the
	// per-agent cap. Returns the number evicted.
	PruneMemories(ctx context.Context, agentName string, keep int) (int, error)

	Close() error
}

// SemanticIndex is similarity search over memory content, scoped per agent.
type SemanticIndex interface {
	// Index embeds and stores one record. Idempotent under retry: indexing
	// the same record twice overwrites rather than duplicates. Returns the
	// embedding id assigned to the entry.
	Index(ctx context.Context, rec *models.MemoryRecord) (string, error)

	// Query returns record ids ordered most-similar-first. An agent with no
	// indexed memories yields an empty result, not an error.
	Query(ctx context.Context, agentName, queryText string, limit int) ([]uint, error)

	Close() error
}

// Embedder converts text to a vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// EmotionAware is the single capability every agent variant implements for
// reading its displayed emotion, replacing per-variant attribute probing.
type EmotionAware interface {
	CurrentEmotion() string
}
