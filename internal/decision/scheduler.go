package decision

import (
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"Willowmere/server/internal/config"
)

// AgentState is the scheduling phase of one agent.
type AgentState int

const (
	StateIdle       AgentState = iota // cooldown counting down
	StateReady                        // cooldown expired, nothing in flight
	StateRequesting                   // a request is out, sync or async
)

func (s AgentState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReady:
		return "ready"
	case StateRequesting:
		return "requesting"
	default:
		return "unknown"
	}
}

// Directive tells the caller what this tick's scheduling outcome is.
type Directive int

const (
	DirectiveNone    Directive = iota // stay as-is
	DirectiveRequest                  // issue a decision request now
)

type agentEntry struct {
	state    AgentState
	cooldown time.Duration
	priority bool

	// state at the time of the last completed decision, the baseline for
	// significant-change detection
	baselineNeeds   map[string]float64
	baselineEmotion string
	hasBaseline     bool
}

// InvalidateFunc receives the names of the state fields that changed enough
// to make previously cached decisions stale.
type InvalidateFunc func(agentName string, changedFields []string)

// Scheduler is the per-agent cooldown state machine. It decides when an
// agent may ask for a new decision and watches agent state for changes large
// enough to invalidate cached ones.
type Scheduler struct {
	cfg          config.SchedulerConfig
	rng          *rand.Rand
	onInvalidate InvalidateFunc

	mu     sync.Mutex
	agents map[string]*agentEntry
}

// NewScheduler builds a scheduler. rng may be nil, in which case a
// time-seeded source is used; tests pass a fixed seed.
func NewScheduler(cfg config.SchedulerConfig, rng *rand.Rand, onInvalidate InvalidateFunc) *Scheduler {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if onInvalidate == nil {
		onInvalidate = func(string, []string) {}
	}
	return &Scheduler{
		cfg:          cfg,
		rng:          rng,
		onInvalidate: onInvalidate,
		agents:       make(map[string]*agentEntry),
	}
}

func (s *Scheduler) entry(agentName string) *agentEntry {
	e, ok := s.agents[agentName]
	if !ok {
		// New agents start ready so they decide something on their first tick.
		e = &agentEntry{state: StateReady}
		s.agents[agentName] = e
	}
	return e
}

// Tick advances one agent by dt and reports whether a request should be
// issued now. Needs and emotion are the agent's current values, used for
// significant-change detection against the last-decision baseline.
func (s *Scheduler) Tick(agentName string, dt time.Duration, needs map[string]float64, emotion string) Directive {
	s.mu.Lock()
	e := s.entry(agentName)

	if changed := s.detectChanges(agentName, e, needs, emotion); len(changed) > 0 {
		// Fire outside the lock; the cache may do I/O.
		s.mu.Unlock()
		s.onInvalidate(agentName, changed)
		s.mu.Lock()
		e = s.entry(agentName)
	}

	switch e.state {
	case StateRequesting:
		s.mu.Unlock()
		return DirectiveNone

	case StateIdle:
		e.cooldown -= dt
		if e.cooldown > 0 {
			s.mu.Unlock()
			return DirectiveNone
		}
		e.cooldown = 0
		e.state = StateReady
		fallthrough

	case StateReady:
		s.mu.Unlock()
		return DirectiveRequest
	}

	s.mu.Unlock()
	return DirectiveNone
}

// PriorityTrigger cuts the cooldown short for a direct player interaction.
// The agent becomes ready on its next tick unless a request is already out.
func (s *Scheduler) PriorityTrigger(agentName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(agentName)
	if e.state == StateRequesting {
		return
	}
	e.state = StateReady
	e.cooldown = 0
	e.priority = true
}

// MarkRequested transitions the agent into the requesting state. Returns
// false when a request is already in flight, enforcing at-most-one.
func (s *Scheduler) MarkRequested(agentName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(agentName)
	if e.state == StateRequesting {
		return false
	}
	e.state = StateRequesting
	return true
}

// Complete records that a decision was applied and arms the next cooldown.
// The current needs and emotion become the new invalidation baseline.
func (s *Scheduler) Complete(agentName string, needs map[string]float64, emotion string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(agentName)
	e.state = StateIdle
	e.cooldown = s.drawCooldown(e.priority)
	e.priority = false
	e.baselineNeeds = copyNeeds(needs)
	e.baselineEmotion = emotion
	e.hasBaseline = true
}

// Fail arms a cooldown after a failed request so the agent retries later
// instead of spinning. The baseline is left untouched.
func (s *Scheduler) Fail(agentName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(agentName)
	e.state = StateIdle
	e.cooldown = s.drawCooldown(false)
	e.priority = false
}

// State reports the agent's current scheduling state.
func (s *Scheduler) State(agentName string) AgentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry(agentName).state
}

// Retire forgets a removed agent.
func (s *Scheduler) Retire(agentName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.agents, agentName)
}

func (s *Scheduler) drawCooldown(priority bool) time.Duration {
	if priority && s.cfg.PriorityCooldown > 0 {
		return s.cfg.PriorityCooldown
	}
	min, max := s.cfg.CooldownMin, s.cfg.CooldownMax
	if max <= min {
		return min
	}
	return min + time.Duration(s.rng.Int63n(int64(max-min)))
}

// detectChanges compares current state to the last-decision baseline and
// returns the changed field names. The baseline moves forward once a change
// is reported so the same drift is not re-emitted every tick.
func (s *Scheduler) detectChanges(agentName string, e *agentEntry, needs map[string]float64, emotion string) []string {
	if !e.hasBaseline {
		return nil
	}

	var changed []string
	for need, current := range needs {
		threshold := s.cfg.ChangeThreshold
		if override, ok := s.cfg.NeedThresholds[need]; ok {
			threshold = override
		}
		if math.Abs(current-e.baselineNeeds[need]) > threshold {
			changed = append(changed, "need_"+need)
		}
	}
	if emotion != e.baselineEmotion {
		changed = append(changed, "emotion")
	}

	if len(changed) > 0 {
		e.baselineNeeds = copyNeeds(needs)
		e.baselineEmotion = emotion
		log.Printf("[Scheduler] significant change for %s, invalidating fields %v", agentName, changed)
	}
	return changed
}

func copyNeeds(needs map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(needs))
	for k, v := range needs {
		out[k] = v
	}
	return out
}
