package sim

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"Willowmere/server/internal/memory"
)

const (
	tickInterval   = 500 * time.Millisecond
	hearingRange   = 120.0 // world units within which agents notice each other
	repairInterval = time.Minute
)

// World owns the agents and drives the simulation tick. All agent mutation
// happens on the tick goroutine; readers go through snapshot accessors.
type World struct {
	memories *memory.Service

	mu     sync.RWMutex
	agents map[string]*Agent
	events []string

	stop chan struct{}
	done chan struct{}
}

func NewWorld(memories *memory.Service) *World {
	return &World{
		memories: memories,
		agents:   make(map[string]*Agent),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (w *World) AddAgent(agent *Agent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.agents[agent.Name] = agent
}

// RemoveAgent retires an agent; pending decision callbacks become no-ops.
func (w *World) RemoveAgent(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if agent, ok := w.agents[name]; ok {
		agent.Retire()
		delete(w.agents, name)
	}
}

func (w *World) Agent(name string) (*Agent, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	agent, ok := w.agents[name]
	return agent, ok
}

func (w *World) AgentNames() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	names := make([]string, 0, len(w.agents))
	for name := range w.agents {
		names = append(names, name)
	}
	return names
}

// SetEvents replaces the active world events seen by every agent.
func (w *World) SetEvents(events []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = events
}

// Run drives the tick loop until Stop or ctx cancellation.
func (w *World) Run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	repair := time.NewTicker(repairInterval)
	defer repair.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-repair.C:
			if repaired, err := w.memories.RepairIndex(ctx); err != nil {
				log.Printf("[World] index repair failed: %v", err)
			} else if repaired > 0 {
				log.Printf("[World] repaired %d semantic index entries", repaired)
			}
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			w.tick(ctx, dt)
		}
	}
}

func (w *World) Stop() {
	close(w.stop)
	<-w.done
}

func (w *World) tick(ctx context.Context, dt time.Duration) {
	w.mu.RLock()
	agents := make([]*Agent, 0, len(w.agents))
	for _, agent := range w.agents {
		agents = append(agents, agent)
	}
	events := w.events
	w.mu.RUnlock()

	for _, agent := range agents {
		agent.Update(ctx, dt, nearbyNames(agent, agents), events)
	}
}

func nearbyNames(agent *Agent, all []*Agent) []string {
	var nearby []string
	for _, other := range all {
		if other.Name == agent.Name {
			continue
		}
		dx, dy := other.X-agent.X, other.Y-agent.Y
		if math.Hypot(dx, dy) <= hearingRange {
			nearby = append(nearby, other.Name)
		}
	}
	return nearby
}
