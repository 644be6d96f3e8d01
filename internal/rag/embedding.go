package rag

import (
	"context"
	"fmt"
	"sync"
	"time"

	"Willowmere/server/internal/config"

	openai "github.com/sashabaranov/go-openai"
)

const (
	embeddingCacheTTL = 24 * time.Hour
	defaultDimensions = 1536
)

type cachedEmbedding struct {
	vector    []float32
	createdAt time.Time
}

// EmbeddingService converts memory text to vectors through an OpenAI-style
// embeddings endpoint, with an in-process cache so re-indexing the same
// content does not repeat API calls.
type EmbeddingService struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int

	mu    sync.RWMutex
	cache map[string]*cachedEmbedding
}

func NewEmbeddingService(cfg config.EmbeddingConfig, dimensions int) *EmbeddingService {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if dimensions <= 0 {
		dimensions = defaultDimensions
	}

	return &EmbeddingService{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      openai.EmbeddingModel(cfg.Model),
		dimensions: dimensions,
		cache:      make(map[string]*cachedEmbedding),
	}
}

func (s *EmbeddingService) Dimensions() int {
	return s.dimensions
}

func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := s.getFromCache(text); ok {
		return vec, nil
	}

	resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: []string{text},
		Model: s.model,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding API returned no vectors")
	}

	vec := resp.Data[0].Embedding
	s.putInCache(text, vec)
	return vec, nil
}

func (s *EmbeddingService) getFromCache(text string) ([]float32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cached, ok := s.cache[text]
	if !ok || time.Since(cached.createdAt) > embeddingCacheTTL {
		return nil, false
	}
	return cached.vector, true
}

func (s *EmbeddingService) putInCache(text string, vec []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache[text] = &cachedEmbedding{vector: vec, createdAt: time.Now()}
}

// CacheSize reports the number of cached embeddings.
func (s *EmbeddingService) CacheSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}
