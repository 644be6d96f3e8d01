package sim

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"Willowmere/server/internal/decision"
	"Willowmere/server/internal/interfaces"
	"Willowmere/server/internal/memory"
	"Willowmere/server/internal/models"
)

// Need decay per second of simulated time.
var needDecayRates = map[string]float64{
	"hunger": 0.01,
	"sleep":  0.008,
	"social": 0.012,
	"fun":    0.006,
}

// Agent is one simulated NPC. Mutable state is written on the simulation
// tick but read from HTTP handler goroutines, so it sits behind mu; async
// decision results cross back in through results and are applied at the
// start of the next Update.
type Agent struct {
	Name        string
	Personality string
	X, Y        float64

	mu       sync.Mutex
	needs    map[string]float64
	emotion  string
	action   string
	target   string
	alive    bool
	observer func(*models.DecisionResult)

	scheduler  *decision.Scheduler
	dispatcher interfaces.DecisionDispatcher
	memories   *memory.Service
	rng        *rand.Rand

	resultMu sync.Mutex
	results  []*models.DecisionResult
}

func NewAgent(name, personality string, scheduler *decision.Scheduler, dispatcher interfaces.DecisionDispatcher, memories *memory.Service, rng *rand.Rand) *Agent {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Agent{
		Name:        name,
		Personality: personality,
		needs: map[string]float64{
			"hunger": 1.0,
			"sleep":  1.0,
			"social": 1.0,
			"fun":    1.0,
		},
		emotion:    "neutral",
		action:     "wander",
		alive:      true,
		scheduler:  scheduler,
		dispatcher: dispatcher,
		memories:   memories,
		rng:        rng,
	}
}

// CurrentEmotion satisfies interfaces.EmotionAware.
func (a *Agent) CurrentEmotion() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.emotion
}

// SetDecisionObserver registers a callback fired on the simulation thread
// each time a decision result is applied.
func (a *Agent) SetDecisionObserver(fn func(*models.DecisionResult)) {
	a.mu.Lock()
	a.observer = fn
	a.mu.Unlock()
}

// Needs returns a copy of the agent's need levels.
func (a *Agent) Needs() map[string]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]float64, len(a.needs))
	for k, v := range a.needs {
		out[k] = v
	}
	return out
}

// CurrentAction reports what the agent is doing and at what.
func (a *Agent) CurrentAction() (string, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.action, a.target
}

func (a *Agent) isAlive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.alive
}

// Update advances the agent by dt on the simulation thread: applies any
// decision results that arrived since the last tick, decays needs, and asks
// the scheduler whether a new decision should be requested.
func (a *Agent) Update(ctx context.Context, dt time.Duration, nearby []string, activeEvents []string) {
	if !a.isAlive() {
		return
	}

	a.applyPendingResults()
	a.decayNeeds(dt.Seconds())

	directive := a.scheduler.Tick(a.Name, dt, a.Needs(), a.CurrentEmotion())
	if directive != decision.DirectiveRequest {
		return
	}
	if !a.scheduler.MarkRequested(a.Name) {
		return
	}

	req := a.buildRequest(ctx, nearby, activeEvents, "")
	a.dispatcher.DecideAsync(req, a.enqueueResult)
}

// OnPlayerInteract handles a direct player interaction: the cooldown is
// bypassed and the request carries the player's message.
func (a *Agent) OnPlayerInteract(ctx context.Context, message string, nearby []string, activeEvents []string) {
	if !a.isAlive() {
		return
	}

	a.scheduler.PriorityTrigger(a.Name)
	if !a.scheduler.MarkRequested(a.Name) {
		return
	}
	req := a.buildRequest(ctx, nearby, activeEvents, message)
	a.dispatcher.DecideAsync(req, a.enqueueResult)
}

// Interact records a conversation with another agent. The relationship shift
// is random, scaled into the same range the decision provider expects.
func (a *Agent) Interact(ctx context.Context, other *Agent, content string) {
	a.bumpNeed("social", 0.2)
	other.bumpNeed("social", 0.2)

	delta := -0.1 + a.rng.Float64()*0.3
	if err := a.memories.RecordInteraction(ctx, a.Name, other.Name, content, a.CurrentEmotion(), delta); err != nil {
		log.Printf("[Agent] %s failed to record interaction with %s: %v", a.Name, other.Name, err)
	}
}

// Retire removes the agent from the simulation. In-flight decision
// callbacks become no-ops.
func (a *Agent) Retire() {
	a.mu.Lock()
	a.alive = false
	a.mu.Unlock()
	a.scheduler.Retire(a.Name)
}

func (a *Agent) buildRequest(ctx context.Context, nearby, activeEvents []string, playerMessage string) *models.DecisionRequest {
	recent, err := a.memories.RecallRecent(ctx, a.Name, 5)
	if err != nil {
		log.Printf("[Agent] %s failed to recall memories: %v", a.Name, err)
	}
	relationships, err := a.memories.RelationshipsOf(ctx, a.Name)
	if err != nil {
		log.Printf("[Agent] %s failed to load relationships: %v", a.Name, err)
	}

	a.mu.Lock()
	emotion := a.emotion
	situation := a.action
	a.mu.Unlock()

	return &models.DecisionRequest{
		Snapshot: models.AgentSnapshot{
			Name:           a.Name,
			Personality:    a.Personality,
			Needs:          a.Needs(),
			Emotion:        emotion,
			RecentMemories: recent,
			Relationships:  relationships,
		},
		Context: models.SituationContext{
			Situation:     situation,
			NearbyAgents:  nearby,
			ActiveEvents:  activeEvents,
			Hour:          time.Now().Hour(),
			PlayerMessage: playerMessage,
		},
	}
}

// enqueueResult runs on a dispatcher goroutine; it only queues the result
// for the next simulation tick.
func (a *Agent) enqueueResult(res *models.DecisionResult) {
	a.resultMu.Lock()
	a.results = append(a.results, res)
	a.resultMu.Unlock()
}

func (a *Agent) applyPendingResults() {
	a.resultMu.Lock()
	pending := a.results
	a.results = nil
	a.resultMu.Unlock()

	for _, res := range pending {
		if !a.isAlive() {
			return
		}
		a.applyResult(res)
	}
}

func (a *Agent) applyResult(res *models.DecisionResult) {
	a.mu.Lock()
	a.action = res.Action
	a.target = res.Target
	if res.Emotion != "" {
		a.emotion = res.Emotion
	}
	observer := a.observer
	a.mu.Unlock()

	switch res.Action {
	case "rest", "sleep":
		a.bumpNeed("sleep", 0.3)
	case "eat":
		a.bumpNeed("hunger", 0.4)
	case "play":
		a.bumpNeed("fun", 0.3)
	}

	if observer != nil {
		observer(res)
	}

	if res.Fallback {
		log.Printf("[Agent] %s fell back to %s", a.Name, res.Action)
		a.scheduler.Fail(a.Name)
		return
	}
	a.scheduler.Complete(a.Name, a.Needs(), a.CurrentEmotion())
}

func (a *Agent) decayNeeds(seconds float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for need, rate := range needDecayRates {
		a.needs[need] = clamp01(a.needs[need] - rate*seconds)
	}
}

func (a *Agent) bumpNeed(need string, delta float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.needs[need] = clamp01(a.needs[need] + delta)
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
