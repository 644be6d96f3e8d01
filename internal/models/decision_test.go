package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func baseRequest() *DecisionRequest {
	return &DecisionRequest{
		Snapshot: AgentSnapshot{
			Name:    "Alice",
			Needs:   map[string]float64{"hunger": 0.8, "sleep": 0.6},
			Emotion: "happy",
		},
		Context: SituationContext{
			Situation:    "wandering",
			NearbyAgents: []string{"Bob", "Clara"},
			Hour:         14,
		},
	}
}

func TestFingerprintStable(t *testing.T) {
	a, _ := baseRequest().Fingerprint()
	b, _ := baseRequest().Fingerprint()
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
}

func TestFingerprintIgnoresNearbyOrder(t *testing.T) {
	req := baseRequest()
	a, _ := req.Fingerprint()

	req.Context.NearbyAgents = []string{"Clara", "Bob"}
	b, _ := req.Fingerprint()
	assert.Equal(t, a, b)
}

func TestFingerprintQuantizesNeeds(t *testing.T) {
	req := baseRequest()
	a, _ := req.Fingerprint()

	// Drift within the same 0.1 bucket keeps the key.
	req.Snapshot.Needs["hunger"] = 0.84
	b, _ := req.Fingerprint()
	assert.Equal(t, a, b)

	// Crossing a bucket boundary changes it.
	req.Snapshot.Needs["hunger"] = 0.75
	c, _ := req.Fingerprint()
	assert.NotEqual(t, a, c)
}

func TestFingerprintReportsOnlyPresentFields(t *testing.T) {
	req := &DecisionRequest{
		Snapshot: AgentSnapshot{
			Name:  "Bob",
			Needs: map[string]float64{"hunger": 0.5},
		},
		Context: SituationContext{Hour: 9},
	}
	_, fields := req.Fingerprint()
	assert.Equal(t, []string{"need_hunger"}, fields)

	req.Snapshot.Emotion = "sad"
	req.Context.NearbyAgents = []string{"Alice"}
	_, fields = req.Fingerprint()
	assert.ElementsMatch(t, []string{"need_hunger", "emotion", "nearby_agents"}, fields)
}

func TestFingerprintDistinguishesAgents(t *testing.T) {
	req := baseRequest()
	a, _ := req.Fingerprint()

	req.Snapshot.Name = "Bob"
	b, _ := req.Fingerprint()
	assert.NotEqual(t, a, b)
}

func TestCanonicalPair(t *testing.T) {
	a, b := CanonicalPair("Bob", "Alice")
	assert.Equal(t, "Alice", a)
	assert.Equal(t, "Bob", b)

	a, b = CanonicalPair("Alice", "Bob")
	assert.Equal(t, "Alice", a)
	assert.Equal(t, "Bob", b)
}
