package decision

import (
	"Willowmere/server/internal/models"
)

const urgentNeedLevel = 0.3

// FallbackPolicy is the deterministic local brain used whenever the external
// provider is unavailable. It addresses the most urgent need directly and
// wanders otherwise, so a provider outage degrades behavior without ever
// freezing an agent.
type FallbackPolicy struct{}

func NewFallbackPolicy() *FallbackPolicy {
	return &FallbackPolicy{}
}

func (p *FallbackPolicy) Decide(req *models.DecisionRequest) *models.DecisionResult {
	needs := req.Snapshot.Needs

	if needs["hunger"] < urgentNeedLevel {
		return &models.DecisionResult{
			Action:    "eat",
			Target:    "restaurant",
			Reasoning: "hungry",
			Fallback:  true,
		}
	}
	if needs["sleep"] < urgentNeedLevel {
		return &models.DecisionResult{
			Action:    "rest",
			Target:    "home",
			Reasoning: "tired",
			Fallback:  true,
		}
	}
	if needs["social"] < urgentNeedLevel && len(req.Context.NearbyAgents) > 0 {
		return &models.DecisionResult{
			Action:    "talk_to",
			Target:    req.Context.NearbyAgents[0],
			Reasoning: "lonely",
			Fallback:  true,
		}
	}

	return &models.DecisionResult{
		Action:    "wander",
		Reasoning: "nothing urgent",
		Fallback:  true,
	}
}
