package sim

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"Willowmere/server/internal/config"
	"Willowmere/server/internal/decision"
	"Willowmere/server/internal/memory"
	"Willowmere/server/internal/models"
	"Willowmere/server/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noopIndex satisfies interfaces.SemanticIndex for tests that never query.
type noopIndex struct{}

func (noopIndex) Index(ctx context.Context, rec *models.MemoryRecord) (string, error) {
	return "noop", nil
}

func (noopIndex) Query(ctx context.Context, agentName, queryText string, limit int) ([]uint, error) {
	return nil, nil
}

func (noopIndex) Close() error { return nil }

// immediateDispatcher resolves every request inline with a canned result.
type immediateDispatcher struct {
	result   *models.DecisionResult
	requests []*models.DecisionRequest
}

func (d *immediateDispatcher) DecideSync(ctx context.Context, req *models.DecisionRequest) *models.DecisionResult {
	d.requests = append(d.requests, req)
	return d.result
}

func (d *immediateDispatcher) DecideAsync(req *models.DecisionRequest, onComplete func(*models.DecisionResult)) {
	d.requests = append(d.requests, req)
	onComplete(d.result)
}

func newTestAgent(t *testing.T, dispatcher *immediateDispatcher) (*Agent, *decision.Scheduler) {
	t.Helper()

	store, err := storage.NewSQLiteStore(config.SQLiteConfig{Path: t.TempDir() + "/sim.db"})
	require.NoError(t, err)
	memories := memory.NewService(store, noopIndex{}, 100)
	t.Cleanup(func() { memories.Close() })

	scheduler := decision.NewScheduler(config.SchedulerConfig{
		CooldownMin:      10 * time.Second,
		CooldownMax:      20 * time.Second,
		PriorityCooldown: 2 * time.Second,
		ChangeThreshold:  0.15,
	}, rand.New(rand.NewSource(7)), nil)

	agent := NewAgent("Alice", "curious gardener", scheduler, dispatcher, memories, rand.New(rand.NewSource(7)))
	return agent, scheduler
}

func TestNeedsDecayOverTime(t *testing.T) {
	dispatcher := &immediateDispatcher{result: &models.DecisionResult{Action: "wander"}}
	agent, _ := newTestAgent(t, dispatcher)

	before := agent.Needs()
	agent.Update(context.Background(), 10*time.Second, nil, nil)
	// Drain the decision the first update triggers.
	agent.Update(context.Background(), time.Millisecond, nil, nil)
	after := agent.Needs()

	assert.InDelta(t, before["hunger"]-0.1, after["hunger"], 0.01)
	assert.InDelta(t, before["social"]-0.12, after["social"], 0.01)
	assert.Less(t, after["sleep"], before["sleep"])
	assert.Less(t, after["fun"], before["fun"])
}

func TestFirstUpdateRequestsDecision(t *testing.T) {
	dispatcher := &immediateDispatcher{
		result: &models.DecisionResult{Action: "work", Target: "farm", Emotion: "focused"},
	}
	agent, scheduler := newTestAgent(t, dispatcher)
	ctx := context.Background()

	agent.Update(ctx, time.Second, []string{"Bob"}, []string{"market day"})
	require.Len(t, dispatcher.requests, 1)
	req := dispatcher.requests[0]
	assert.Equal(t, "Alice", req.Snapshot.Name)
	assert.Equal(t, []string{"Bob"}, req.Context.NearbyAgents)
	assert.Equal(t, []string{"market day"}, req.Context.ActiveEvents)

	// The result applies on the following tick and arms a cooldown.
	agent.Update(ctx, time.Millisecond, nil, nil)
	action, target := agent.CurrentAction()
	assert.Equal(t, "work", action)
	assert.Equal(t, "farm", target)
	assert.Equal(t, "focused", agent.CurrentEmotion())
	assert.Equal(t, decision.StateIdle, scheduler.State("Alice"))

	// Cooldown holds: no second request right away.
	agent.Update(ctx, time.Second, nil, nil)
	assert.Len(t, dispatcher.requests, 1)
}

func TestActionRestoresNeeds(t *testing.T) {
	dispatcher := &immediateDispatcher{result: &models.DecisionResult{Action: "eat", Target: "restaurant"}}
	agent, _ := newTestAgent(t, dispatcher)
	ctx := context.Background()

	agent.needs["hunger"] = 0.2
	agent.Update(ctx, time.Millisecond, nil, nil)
	agent.Update(ctx, time.Millisecond, nil, nil)

	assert.InDelta(t, 0.6, agent.Needs()["hunger"], 0.01)
}

// Simulation ticks write needs, emotion, and action while HTTP handlers
// read them through the accessors; this must stay safe under the race
// detector.
func TestConcurrentStateAccess(t *testing.T) {
	dispatcher := &immediateDispatcher{
		result: &models.DecisionResult{Action: "work", Target: "farm", Emotion: "focused"},
	}
	agent, _ := newTestAgent(t, dispatcher)
	ctx := context.Background()

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				agent.Needs()
				agent.CurrentEmotion()
				agent.CurrentAction()
			}
		}
	}()

	for i := 0; i < 200; i++ {
		agent.Update(ctx, 50*time.Millisecond, nil, nil)
	}
	close(done)
	wg.Wait()

	assert.Equal(t, "focused", agent.CurrentEmotion())
}

func TestFallbackDecisionArmsRetryCooldown(t *testing.T) {
	dispatcher := &immediateDispatcher{
		result: &models.DecisionResult{Action: "eat", Target: "restaurant", Fallback: true},
	}
	agent, scheduler := newTestAgent(t, dispatcher)
	ctx := context.Background()

	agent.Update(ctx, time.Second, nil, nil)
	require.Len(t, dispatcher.requests, 1)

	// Applying the fallback arms a cooldown so the agent retries later
	// instead of hammering the provider.
	agent.Update(ctx, time.Millisecond, nil, nil)
	assert.Equal(t, decision.StateIdle, scheduler.State("Alice"))

	agent.Update(ctx, time.Second, nil, nil)
	assert.Len(t, dispatcher.requests, 1)
}

func TestPlayerInteractCarriesMessage(t *testing.T) {
	dispatcher := &immediateDispatcher{result: &models.DecisionResult{Action: "talk_to", Target: "player"}}
	agent, _ := newTestAgent(t, dispatcher)

	agent.OnPlayerInteract(context.Background(), "Hello Alice!", nil, nil)
	require.Len(t, dispatcher.requests, 1)
	assert.Equal(t, "Hello Alice!", dispatcher.requests[0].Context.PlayerMessage)
}

func TestRetiredAgentIgnoresResults(t *testing.T) {
	dispatcher := &immediateDispatcher{result: &models.DecisionResult{Action: "work"}}
	agent, _ := newTestAgent(t, dispatcher)
	ctx := context.Background()

	agent.Update(ctx, time.Second, nil, nil)
	require.Len(t, dispatcher.requests, 1)

	agent.Retire()
	before, _ := agent.CurrentAction()
	agent.Update(ctx, time.Second, nil, nil)
	after, _ := agent.CurrentAction()
	assert.Equal(t, before, after)
}

func TestInteractRecordsMemoryForBoth(t *testing.T) {
	dispatcher := &immediateDispatcher{result: &models.DecisionResult{Action: "wander"}}
	alice, scheduler := newTestAgent(t, dispatcher)
	bob := NewAgent("Bob", "quiet craftsman", scheduler, dispatcher, alice.memories, rand.New(rand.NewSource(9)))
	ctx := context.Background()

	alice.Interact(ctx, bob, "Talked about the weather")

	for _, agent := range []*Agent{alice, bob} {
		records, err := agent.memories.RecallRecent(ctx, agent.Name, 5)
		require.NoError(t, err)
		require.Len(t, records, 1, agent.Name)
		assert.Equal(t, models.MemoryInteraction, records[0].MemoryType)
	}

	value, err := alice.memories.RelationshipOf(ctx, "Alice", "Bob")
	require.NoError(t, err)
	assert.NotEqual(t, models.NeutralRelationship, value)
}
