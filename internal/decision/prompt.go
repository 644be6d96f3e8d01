package decision

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"Willowmere/server/internal/models"
)

// BuildPrompt renders a decision request into the instruction the language
// model sees. Needs, memories, and relationships are formatted in a stable
// order so identical requests produce identical prompts.
func BuildPrompt(req *models.DecisionRequest) string {
	snap := &req.Snapshot
	ctx := &req.Context

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, an NPC in a life simulation game.\n", snap.Name)
	fmt.Fprintf(&b, "Your personality: %s\n\n", snap.Personality)

	b.WriteString("Current needs:\n")
	for _, need := range models.SortedNeeds(snap.Needs) {
		fmt.Fprintf(&b, "- %s: %.2f\n", capitalize(need), snap.Needs[need])
	}
	b.WriteString("\n")

	situation := ctx.Situation
	if situation == "" {
		situation = "wandering around"
	}
	fmt.Fprintf(&b, "Current situation: %s\n", situation)
	fmt.Fprintf(&b, "Nearby NPCs: %s\n", strings.Join(ctx.NearbyAgents, ", "))
	fmt.Fprintf(&b, "Current emotion: %s\n", emotionOrNeutral(snap.Emotion))
	fmt.Fprintf(&b, "Active events: %s\n\n", formatEvents(ctx.ActiveEvents))

	if ctx.PlayerMessage != "" {
		fmt.Fprintf(&b, "The player just said to you: %q\n\n", ctx.PlayerMessage)
	}

	b.WriteString("Recent memories:\n")
	b.WriteString(formatMemories(snap.RecentMemories))
	b.WriteString("\n\nRelationships:\n")
	b.WriteString(formatRelationships(snap.Relationships))

	b.WriteString("\n\nDecide your next action. Respond in JSON format:\n")
	b.WriteString(`{
    "action": "move_to/talk_to/work/rest/eat/play/attend_event",
    "target": "location or person name or event name",
    "dialogue": "what you want to say (if talking)",
    "emotion": "happy/sad/angry/neutral/excited",
    "reasoning": "brief explanation"
}`)

	return b.String()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func emotionOrNeutral(emotion string) string {
	if emotion == "" {
		return "neutral"
	}
	return emotion
}

func formatEvents(events []string) string {
	if len(events) == 0 {
		return "None"
	}
	if len(events) > 3 {
		events = events[:3]
	}
	return strings.Join(events, "; ")
}

func formatMemories(memories []models.MemoryRecord) string {
	if len(memories) == 0 {
		return "- No recent memories"
	}
	if len(memories) > 5 {
		memories = memories[:5]
	}

	lines := make([]string, 0, len(memories))
	for _, mem := range memories {
		switch mem.MemoryType {
		case models.MemoryInteraction:
			if len(mem.Participants) > 0 {
				lines = append(lines, fmt.Sprintf("- Talked with %s: %s",
					strings.Join(mem.Participants, ", "), mem.Content))
			} else {
				lines = append(lines, "- Interaction: "+mem.Content)
			}
		default:
			lines = append(lines, fmt.Sprintf("- %s: %s", mem.MemoryType, mem.Content))
		}
	}
	return strings.Join(lines, "\n")
}

func formatRelationships(relationships map[string]float64) string {
	if len(relationships) == 0 {
		return "- No established relationships"
	}

	names := make([]string, 0, len(relationships))
	for name := range relationships {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > 5 {
		names = names[:5]
	}

	lines := make([]string, 0, len(names))
	for _, name := range names {
		value := relationships[name]
		var label string
		switch {
		case value > 0.7:
			label = "close friend"
		case value > 0.5:
			label = "friendly"
		case value < 0.3:
			label = "not friendly"
		default:
			label = "neutral"
		}
		lines = append(lines, fmt.Sprintf("- %s: %s (%.2f)", name, label, value))
	}
	return strings.Join(lines, "\n")
}

// ParseDecision extracts a DecisionResult from raw model output, tolerating
// markdown code fences around the JSON payload.
func ParseDecision(raw string) (*models.DecisionResult, error) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var res models.DecisionResult
	if err := json.Unmarshal([]byte(text), &res); err != nil {
		return nil, fmt.Errorf("parse decision: %w", err)
	}
	if res.Action == "" {
		res.Action = "wander"
	}
	if res.Emotion == "" {
		res.Emotion = "neutral"
	}
	return &res, nil
}
