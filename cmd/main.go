package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"Willowmere/server/internal/config"
	"Willowmere/server/internal/decision"
	"Willowmere/server/internal/memory"
	"Willowmere/server/internal/models"
	"Willowmere/server/internal/rag"
	"Willowmere/server/internal/sim"
	"Willowmere/server/internal/storage"
	"Willowmere/server/internal/web"
)

var defaultVillagers = map[string]string{
	"Alice":  "Warm and curious, loves gossip and gardening.",
	"Bob":    "Quiet craftsman who opens up over a shared meal.",
	"Clara":  "Restless dreamer, always planning the next festival.",
	"Dmitri": "Gruff but loyal, keeps the tavern running.",
}

func main() {
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if dir := filepath.Dir(cfg.Database.SQLite.Path); dir != "." {
		_ = os.MkdirAll(dir, 0755)
	}

	// Structured store is mandatory; nothing works without it.
	store, err := storage.NewSQLiteStore(cfg.Database.SQLite)
	if err != nil {
		log.Fatalf("Failed to open SQLite store: %v", err)
	}

	embedder := rag.NewEmbeddingService(cfg.AI.Embedding, cfg.Database.Qdrant.VectorSize)
	index, err := rag.NewQdrantIndex(cfg.Database.Qdrant, embedder)
	if err != nil {
		log.Fatalf("Failed to connect to Qdrant: %v", err)
	}
	log.Println("Qdrant connected successfully")

	memories := memory.NewService(store, index, cfg.Memory.RetentionPerAgent)
	defer memories.Close()

	cache, err := storage.NewRedisDecisionCache(cfg.Database.Redis, cfg.Dispatcher.CacheTTL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer cache.Close()
	log.Println("Redis connected successfully")

	provider := decision.NewOpenAIProvider(cfg.AI.Provider)
	dispatcher := decision.NewDispatcher(cfg.Dispatcher, provider, cache)
	defer dispatcher.Close()

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	scheduler := decision.NewScheduler(cfg.Scheduler, nil, func(agentName string, changedFields []string) {
		if _, err := cache.Invalidate(rootCtx, agentName, changedFields); err != nil {
			log.Printf("Cache invalidation failed for %s: %v", agentName, err)
		}
	})

	hub := web.NewEventHub()
	go hub.Run()

	world := sim.NewWorld(memories)
	for name, personality := range defaultVillagers {
		agent := sim.NewAgent(name, personality, scheduler, dispatcher, memories, nil)
		agent.SetDecisionObserver(func(res *models.DecisionResult) {
			hub.Broadcast(web.DecisionEvent{
				AgentName: agent.Name,
				Result:    res,
				Emotion:   agent.CurrentEmotion(),
			})
		})
		world.AddAgent(agent)
	}
	go world.Run(rootCtx)

	r := web.NewRouter(cfg, hub, memories, cache, world)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Printf("Server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	// Stop the simulation before closing stores so the last tick's writes
	// land in a still-open database.
	world.Stop()
	rootCancel()

	log.Println("Server stopped")
}
