package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"Willowmere/server/internal/config"
	"Willowmere/server/internal/interfaces"
	"Willowmere/server/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SQLiteStore is the durable structured side of the memory system. One
// database file per save.
type SQLiteStore struct {
	db *gorm.DB
}

func NewSQLiteStore(cfg config.SQLiteConfig) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, interfaces.NewStorageError("open", err)
	}

	if err := db.AutoMigrate(&models.MemoryRecord{}, &models.RelationshipEdge{}); err != nil {
		return nil, interfaces.NewStorageError("migrate", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) StoreMemory(ctx context.Context, rec *models.MemoryRecord) (uint, error) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return 0, interfaces.NewStorageError("store memory", err)
	}
	return rec.ID, nil
}

func (s *SQLiteStore) SetEmbeddingID(ctx context.Context, recordID uint, embeddingID string) error {
	err := s.db.WithContext(ctx).
		Model(&models.MemoryRecord{}).
		Where("id = ?", recordID).
		Update("embedding_id", embeddingID).Error
	if err != nil {
		return interfaces.NewStorageError("set embedding id", err)
	}
	return nil
}

func (s *SQLiteStore) RecentMemories(ctx context.Context, agentName string, limit int) ([]models.MemoryRecord, error) {
	var records []models.MemoryRecord
	err := s.db.WithContext(ctx).
		Where("agent_name = ?", agentName).
		Order("timestamp DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, interfaces.NewStorageError("recent memories", err)
	}
	return records, nil
}

func (s *SQLiteStore) MemoriesByID(ctx context.Context, ids []uint) ([]models.MemoryRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var records []models.MemoryRecord
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&records).Error; err != nil {
		return nil, interfaces.NewStorageError("memories by id", err)
	}

	// Preserve the caller's ordering; absent ids are simply skipped.
	byID := make(map[uint]models.MemoryRecord, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}
	ordered := make([]models.MemoryRecord, 0, len(records))
	for _, id := range ids {
		if rec, ok := byID[id]; ok {
			ordered = append(ordered, rec)
		}
	}
	return ordered, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (s *SQLiteStore) UpdateRelationship(ctx context.Context, agentA, agentB string, delta float64) error {
	a, b := models.CanonicalPair(agentA, agentB)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var edge models.RelationshipEdge
		err := tx.Where("agent_a = ? AND agent_b = ?", a, b).First(&edge).Error
		if err == gorm.ErrRecordNotFound {
			edge = models.RelationshipEdge{
				AgentA:           a,
				AgentB:           b,
				Value:            clamp01(models.NeutralRelationship + delta),
				LastInteraction:  time.Now(),
				InteractionCount: 1,
			}
			return tx.Create(&edge).Error
		}
		if err != nil {
			return err
		}

		edge.Value = clamp01(edge.Value + delta)
		edge.LastInteraction = time.Now()
		edge.InteractionCount++
		return tx.Save(&edge).Error
	})
	if err != nil {
		return interfaces.NewStorageError("update relationship", err)
	}
	return nil
}

func (s *SQLiteStore) Relationship(ctx context.Context, agentA, agentB string) (float64, error) {
	a, b := models.CanonicalPair(agentA, agentB)

	var edge models.RelationshipEdge
	err := s.db.WithContext(ctx).Where("agent_a = ? AND agent_b = ?", a, b).First(&edge).Error
	if err == gorm.ErrRecordNotFound {
		return models.NeutralRelationship, nil
	}
	if err != nil {
		return models.NeutralRelationship, interfaces.NewStorageError("get relationship", err)
	}
	return edge.Value, nil
}

func (s *SQLiteStore) AllRelationships(ctx context.Context, agentName string) (map[string]float64, error) {
	var edges []models.RelationshipEdge
	err := s.db.WithContext(ctx).
		Where("agent_a = ? OR agent_b = ?", agentName, agentName).
		Find(&edges).Error
	if err != nil {
		return nil, interfaces.NewStorageError("all relationships", err)
	}

	result := make(map[string]float64, len(edges))
	for _, edge := range edges {
		other := edge.AgentA
		if other == agentName {
			other = edge.AgentB
		}
		result[other] = edge.Value
	}
	return result, nil
}

func (s *SQLiteStore) Summarize(ctx context.Context, agentName string, window time.Duration) (string, error) {
	since := time.Now().Add(-window)

	type typeCount struct {
		MemoryType string
		Count      int
	}
	var counts []typeCount
	err := s.db.WithContext(ctx).
		Model(&models.MemoryRecord{}).
		Select("memory_type, count(*) as count").
		Where("agent_name = ? AND timestamp >= ?", agentName, since).
		Group("memory_type").
		Order("memory_type").
		Find(&counts).Error
	if err != nil {
		return "", interfaces.NewStorageError("summarize", err)
	}

	if len(counts) == 0 {
		return "No recent memories", nil
	}

	parts := make([]string, 0, len(counts))
	total := 0
	for _, c := range counts {
		parts = append(parts, fmt.Sprintf("%d %s", c.Count, c.MemoryType))
		total += c.Count
	}
	return fmt.Sprintf("%d memories in the last %s: %s",
		total, window, strings.Join(parts, ", ")), nil
}

func (s *SQLiteStore) PruneMemories(ctx context.Context, agentName string, keep int) (int, error) {
	var total int64
	err := s.db.WithContext(ctx).
		Model(&models.MemoryRecord{}).
		Where("agent_name = ?", agentName).
		Count(&total).Error
	if err != nil {
		return 0, interfaces.NewStorageError("prune count", err)
	}
	excess := int(total) - keep
	if excess <= 0 {
		return 0, nil
	}

	// Least important first, oldest breaking ties.
	var ids []uint
	err = s.db.WithContext(ctx).
		Model(&models.MemoryRecord{}).
		Where("agent_name = ?", agentName).
		Order("importance ASC, timestamp ASC").
		Limit(excess).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, interfaces.NewStorageError("prune select", err)
	}

	if err := s.db.WithContext(ctx).Delete(&models.MemoryRecord{}, ids).Error; err != nil {
		return 0, interfaces.NewStorageError("prune delete", err)
	}
	return len(ids), nil
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
