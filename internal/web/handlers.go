package web

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"Willowmere/server/internal/config"
	"Willowmere/server/internal/interfaces"
	"Willowmere/server/internal/memory"
	"Willowmere/server/internal/sim"
)

// WebSocket upgrader configuration
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

type Handlers struct {
	config   *config.Config
	hub      *EventHub
	memories *memory.Service
	cache    interfaces.DecisionCache
	world    *sim.World
}

func NewHandlers(cfg *config.Config, hub *EventHub, memories *memory.Service, cache interfaces.DecisionCache, world *sim.World) *Handlers {
	return &Handlers{
		config:   cfg,
		hub:      hub,
		memories: memories,
		cache:    cache,
		world:    world,
	}
}

func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "willowmere",
	})
}

// CORS middleware
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Max-Age", "300")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func NewRouter(cfg *config.Config, hub *EventHub, memories *memory.Service, cache interfaces.DecisionCache, world *sim.World) *chi.Mux {
	r := chi.NewRouter()

	// Request logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("REQUEST: %s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	})

	r.Use(corsMiddleware)

	handlers := NewHandlers(cfg, hub, memories, cache, world)

	r.Get("/health", handlers.HealthCheck)
	r.Get("/ws", handlers.EventStream)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/agents", func(r chi.Router) {
			r.Get("/", handlers.ListAgents)
			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", handlers.GetAgent)
				r.Get("/memories", handlers.GetRecentMemories)
				r.Get("/memories/search", handlers.SearchMemories)
				r.Get("/relationships", handlers.GetRelationships)
				r.Get("/summary", handlers.GetSummary)
				r.Post("/interact", handlers.PlayerInteract)
			})
		})
		r.Get("/cache/stats", handlers.GetCacheStats)
	})

	return r
}

func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agents": h.world.AgentNames(),
	})
}

func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	agent, ok := h.world.Agent(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}

	action, target := agent.CurrentAction()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":        agent.Name,
		"personality": agent.Personality,
		"needs":       agent.Needs(),
		"emotion":     agent.CurrentEmotion(),
		"action":      action,
		"target":      target,
	})
}

func (h *Handlers) GetRecentMemories(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	limit := queryInt(r, "limit", h.config.Memory.SearchLimit)

	records, err := h.memories.RecallRecent(r.Context(), name, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"memories": records})
}

func (h *Handlers) SearchMemories(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	query := r.URL.Query().Get("q")
	if query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "q parameter required"})
		return
	}
	limit := queryInt(r, "limit", h.config.Memory.SearchLimit)

	records, err := h.memories.RecallSimilar(r.Context(), name, query, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"memories": records})
}

func (h *Handlers) GetRelationships(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	relationships, err := h.memories.RelationshipsOf(r.Context(), name)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"relationships": relationships})
}

func (h *Handlers) GetSummary(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	window := h.config.Memory.SummaryWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil {
			window = parsed
		}
	}

	summary, err := h.memories.PeriodicSummary(r.Context(), name, window)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"summary": summary})
}

// PlayerInteract delivers a player message to an agent; the agent's next
// decision bypasses its cooldown.
func (h *Handlers) PlayerInteract(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	agent, ok := h.world.Agent(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}

	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message required"})
		return
	}

	agent.OnPlayerInteract(r.Context(), req.Message, nil, nil)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *Handlers) GetCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cache.Stats(r.Context()))
}

// EventStream upgrades to a WebSocket and streams decision events.
func (h *Handlers) EventStream(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Hub not initialized"})
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &Client{
		ID:   generateClientID(),
		Conn: conn,
		Send: make(chan []byte, 256),
		Hub:  h.hub,
	}

	h.hub.register <- client

	welcome, _ := json.Marshal(map[string]interface{}{
		"type": "connected",
		"id":   client.ID,
		"time": time.Now().Unix(),
	})
	select {
	case client.Send <- welcome:
	default:
	}

	go client.readPump()
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

// generateClientID generates a unique client ID
func generateClientID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return hex.EncodeToString([]byte(time.Now().String()))[:16]
	}
	return hex.EncodeToString(b)
}
