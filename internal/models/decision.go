package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
)

// AgentSnapshot captures the requesting agent's internal state at the moment
// a decision is asked for. Results computed from a snapshot are perishable;
// they are never retro-corrected when the agent moves on.
type AgentSnapshot struct {
	Name           string             `json:"name"`
	Personality    string             `json:"personality"`
	Needs          map[string]float64 `json:"needs"`
	Emotion        string             `json:"emotion"`
	RecentMemories []MemoryRecord     `json:"recent_memories,omitempty"`
	Relationships  map[string]float64 `json:"relationships,omitempty"`
}

// SituationContext is what the agent can currently perceive.
type SituationContext struct {
	Situation     string   `json:"situation"`
	NearbyAgents  []string `json:"nearby_agents,omitempty"`
	ActiveEvents  []string `json:"active_events,omitempty"`
	Hour          int      `json:"hour"`
	PlayerMessage string   `json:"player_message,omitempty"` // set on a direct player interaction
}

// DecisionRequest is a fresh snapshot+context pair built each scheduling tick.
type DecisionRequest struct {
	Snapshot AgentSnapshot    `json:"snapshot"`
	Context  SituationContext `json:"context"`
}

// DecisionResult is the structured behavior decision for one agent.
type DecisionResult struct {
	Action    string `json:"action"`
	Target    string `json:"target,omitempty"`
	Dialogue  string `json:"dialogue,omitempty"`
	Emotion   string `json:"emotion,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
	Fallback  bool   `json:"fallback,omitempty"` // produced locally, not by the provider
}

// needBucket quantizes a continuous need into 0.1-wide buckets so continuous
// drift does not defeat cache hits.
func needBucket(v float64) int {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return int(v * 10)
}

// Fingerprint digests the reduced decision inputs into a stable cache key and
// reports which field names contributed to it. Only fields actually present
// participate, so cache entries record exactly the state they depend on and
// partial invalidation can leave unrelated entries alone.
func (r *DecisionRequest) Fingerprint() (string, []string) {
	h := sha256.New()
	var fields []string

	io.WriteString(h, "agent:"+r.Snapshot.Name+"\n")

	for _, need := range SortedNeeds(r.Snapshot.Needs) {
		field := "need_" + need
		fields = append(fields, field)
		fmt.Fprintf(h, "%s:%d\n", field, needBucket(r.Snapshot.Needs[need]))
	}
	if r.Snapshot.Emotion != "" {
		fields = append(fields, "emotion")
		io.WriteString(h, "emotion:"+r.Snapshot.Emotion+"\n")
	}
	if r.Context.Situation != "" {
		fields = append(fields, "situation")
		io.WriteString(h, "situation:"+r.Context.Situation+"\n")
	}
	if len(r.Context.NearbyAgents) > 0 {
		fields = append(fields, "nearby_agents")
		nearby := append([]string(nil), r.Context.NearbyAgents...)
		sort.Strings(nearby)
		for _, name := range nearby {
			io.WriteString(h, "nearby:"+name+"\n")
		}
	}
	if len(r.Context.ActiveEvents) > 0 {
		fields = append(fields, "active_events")
		events := append([]string(nil), r.Context.ActiveEvents...)
		sort.Strings(events)
		for _, ev := range events {
			io.WriteString(h, "event:"+ev+"\n")
		}
	}
	if r.Context.PlayerMessage != "" {
		fields = append(fields, "player_message")
		io.WriteString(h, "player:"+r.Context.PlayerMessage+"\n")
	}
	fmt.Fprintf(h, "hour:%d\n", r.Context.Hour)

	return hex.EncodeToString(h.Sum(nil))[:32], fields
}
