package rag

import (
	"context"
	"fmt"
	"log"
	"time"

	"Willowmere/server/internal/config"
	"Willowmere/server/internal/interfaces"
	"Willowmere/server/internal/models"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// embeddingNamespace seeds deterministic point ids. Re-indexing a record
// always produces the same id, so retries overwrite instead of duplicating.
var embeddingNamespace = uuid.MustParse("8f3c1d2a-5b7e-4a91-b0c4-d6e8f0a2c4e6")

// QdrantIndex is the semantic half of the memory system: one collection,
// points filtered per agent on query.
type QdrantIndex struct {
	client     *qdrant.Client
	embedder   interfaces.Embedder
	collection string
}

func NewQdrantIndex(cfg config.QdrantConfig, embedder interfaces.Embedder) (*QdrantIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connect qdrant: %w", err)
	}

	idx := &QdrantIndex{
		client:     client,
		embedder:   embedder,
		collection: cfg.Collection,
	}
	if err := idx.ensureCollection(context.Background(), uint64(cfg.VectorSize)); err != nil {
		client.Close()
		return nil, err
	}
	return idx, nil
}

func (q *QdrantIndex) ensureCollection(ctx context.Context, vectorSize uint64) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if exists {
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	log.Printf("[QdrantIndex] created collection %s (dim=%d)", q.collection, vectorSize)
	return nil
}

// EmbeddingID derives the deterministic point id for a record.
func EmbeddingID(agentName string, recordID uint) string {
	seed := fmt.Sprintf("%s_%d", agentName, recordID)
	return uuid.NewSHA1(embeddingNamespace, []byte(seed)).String()
}

func (q *QdrantIndex) Index(ctx context.Context, rec *models.MemoryRecord) (string, error) {
	vec, err := q.embedder.Embed(ctx, rec.Content)
	if err != nil {
		return "", fmt.Errorf("embed memory %d: %w", rec.ID, err)
	}

	pointID := EmbeddingID(rec.AgentName, rec.ID)
	_, err = q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewID(pointID),
				Vectors: qdrant.NewVectors(vec...),
				Payload: qdrant.NewValueMap(map[string]any{
					"agent_name":  rec.AgentName,
					"record_id":   int64(rec.ID),
					"memory_type": string(rec.MemoryType),
					"timestamp":   rec.Timestamp.Unix(),
					"emotion":     rec.Emotion,
					"importance":  rec.ImportanceValue(),
				}),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("upsert memory %d: %w", rec.ID, err)
	}
	return pointID, nil
}

func (q *QdrantIndex) Query(ctx context.Context, agentName, queryText string, limit int) ([]uint, error) {
	vec, err := q.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("agent_name", agentName),
			},
		},
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}

	ids := make([]uint, 0, len(points))
	for _, point := range points {
		recordID, ok := point.Payload["record_id"]
		if !ok {
			continue
		}
		ids = append(ids, uint(recordID.GetIntegerValue()))
	}
	return ids, nil
}

func (q *QdrantIndex) Close() error {
	return q.client.Close()
}
