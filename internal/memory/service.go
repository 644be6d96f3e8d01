package memory

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"Willowmere/server/internal/interfaces"
	"Willowmere/server/internal/models"
)

// Service is the single entry point for everything agents remember. Writes
// go to the record store first, then the semantic index; a failed index write
// degrades the record to structured-only instead of failing the whole write.
type Service struct {
	store     interfaces.RecordStore
	index     interfaces.SemanticIndex
	retention int

	mu             sync.Mutex
	pendingReindex map[uint]string // record id -> agent name, awaiting index repair
}

func NewService(store interfaces.RecordStore, index interfaces.SemanticIndex, retention int) *Service {
	return &Service{
		store:          store,
		index:          index,
		retention:      retention,
		pendingReindex: make(map[uint]string),
	}
}

// Remember stores an experience. The returned record carries its generated
// id; EmbeddingID is empty when the record is structured-only.
func (s *Service) Remember(ctx context.Context, rec *models.MemoryRecord) (*models.MemoryRecord, error) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if rec.Importance == nil {
		rec.Importance = models.Float(0.5)
	}
	if rec.MemoryType == "" {
		rec.MemoryType = models.MemoryObservation
	}

	id, err := s.store.StoreMemory(ctx, rec)
	if err != nil {
		return nil, err
	}
	rec.ID = id

	embeddingID, err := s.index.Index(ctx, rec)
	if err != nil {
		// Structured record stands; the index catches up on repair.
		log.Printf("[Memory] index write failed for record %d (%s), keeping structured-only: %v",
			id, rec.AgentName, err)
		s.mu.Lock()
		s.pendingReindex[id] = rec.AgentName
		s.mu.Unlock()
		s.enforceRetention(ctx, rec.AgentName)
		return rec, nil
	}

	if err := s.store.SetEmbeddingID(ctx, id, embeddingID); err != nil {
		log.Printf("[Memory] failed to record embedding id for %d: %v", id, err)
	}
	rec.EmbeddingID = embeddingID

	s.enforceRetention(ctx, rec.AgentName)
	return rec, nil
}

// RecallRecent returns the agent's latest memories, newest first.
func (s *Service) RecallRecent(ctx context.Context, agentName string, limit int) ([]models.MemoryRecord, error) {
	return s.store.RecentMemories(ctx, agentName, limit)
}

// RecallSimilar searches the agent's memories by meaning. Results preserve
// the index's similarity order; ids the store no longer has are skipped.
func (s *Service) RecallSimilar(ctx context.Context, agentName, query string, limit int) ([]models.MemoryRecord, error) {
	ids, err := s.index.Query(ctx, agentName, query, limit)
	if err != nil {
		return nil, fmt.Errorf("semantic recall for %s: %w", agentName, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return s.store.MemoriesByID(ctx, ids)
}

// AdjustRelationship shifts how two agents feel about each other.
func (s *Service) AdjustRelationship(ctx context.Context, agentA, agentB string, delta float64) error {
	return s.store.UpdateRelationship(ctx, agentA, agentB, delta)
}

// RelationshipOf reports the pair's value, neutral if they never met.
func (s *Service) RelationshipOf(ctx context.Context, agentA, agentB string) (float64, error) {
	return s.store.Relationship(ctx, agentA, agentB)
}

// RelationshipsOf maps every counterpart the agent has a history with.
func (s *Service) RelationshipsOf(ctx context.Context, agentName string) (map[string]float64, error) {
	return s.store.AllRelationships(ctx, agentName)
}

// RecordInteraction stores a conversation memory for both participants and
// applies the relationship delta once. Memory importance scales with how
// strongly the exchange moved the relationship.
func (s *Service) RecordInteraction(ctx context.Context, agentA, agentB, content, emotion string, delta float64) error {
	importance := 0.5 + math.Abs(delta)
	if importance > 1 {
		importance = 1
	}
	now := time.Now()

	for _, pair := range [][2]string{{agentA, agentB}, {agentB, agentA}} {
		rec := &models.MemoryRecord{
			AgentName:    pair[0],
			MemoryType:   models.MemoryInteraction,
			Content:      content,
			Timestamp:    now,
			Participants: models.Participants{pair[1]},
			Emotion:      emotion,
			Importance:   models.Float(importance),
		}
		if _, err := s.Remember(ctx, rec); err != nil {
			return fmt.Errorf("record interaction for %s: %w", pair[0], err)
		}
	}

	return s.store.UpdateRelationship(ctx, agentA, agentB, delta)
}

// PeriodicSummary condenses the agent's recent activity into one line.
func (s *Service) PeriodicSummary(ctx context.Context, agentName string, window time.Duration) (string, error) {
	return s.store.Summarize(ctx, agentName, window)
}

// RepairIndex retries semantic indexing for records that degraded to
// structured-only. Returns how many were repaired.
func (s *Service) RepairIndex(ctx context.Context) (int, error) {
	s.mu.Lock()
	pending := make([]uint, 0, len(s.pendingReindex))
	for id := range s.pendingReindex {
		pending = append(pending, id)
	}
	s.mu.Unlock()

	if len(pending) == 0 {
		return 0, nil
	}

	records, err := s.store.MemoriesByID(ctx, pending)
	if err != nil {
		return 0, err
	}

	repaired := 0
	for i := range records {
		rec := &records[i]
		embeddingID, err := s.index.Index(ctx, rec)
		if err != nil {
			log.Printf("[Memory] reindex of record %d still failing: %v", rec.ID, err)
			continue
		}
		if err := s.store.SetEmbeddingID(ctx, rec.ID, embeddingID); err != nil {
			log.Printf("[Memory] failed to record embedding id for %d: %v", rec.ID, err)
			continue
		}
		s.mu.Lock()
		delete(s.pendingReindex, rec.ID)
		s.mu.Unlock()
		repaired++
	}

	// Pruned records can never be repaired; drop their tickets.
	s.mu.Lock()
	known := make(map[uint]bool, len(records))
	for _, rec := range records {
		known[rec.ID] = true
	}
	for _, id := range pending {
		if !known[id] {
			delete(s.pendingReindex, id)
		}
	}
	s.mu.Unlock()

	return repaired, nil
}

// PendingReindex reports how many records are waiting on index repair.
func (s *Service) PendingReindex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pendingReindex)
}

func (s *Service) enforceRetention(ctx context.Context, agentName string) {
	if s.retention <= 0 {
		return
	}
	evicted, err := s.store.PruneMemories(ctx, agentName, s.retention)
	if err != nil {
		log.Printf("[Memory] retention prune failed for %s: %v", agentName, err)
		return
	}
	if evicted > 0 {
		log.Printf("[Memory] pruned %d memories for %s", evicted, agentName)
	}
}

func (s *Service) Close() error {
	if err := s.index.Close(); err != nil {
		log.Printf("[Memory] index close: %v", err)
	}
	return s.store.Close()
}
