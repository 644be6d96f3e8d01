package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// MemoryType tags what kind of experience a record describes.
type MemoryType string

const (
	MemoryInteraction MemoryType = "interaction" // conversation with another agent
	MemoryEvent       MemoryType = "event"       // attended a world event
	MemoryObservation MemoryType = "observation" // saw something notable
)

// Participants is a JSON-serialized name list column.
type Participants []string

func (p Participants) Value() (driver.Value, error) {
	if p == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]string(p))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (p *Participants) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*p = nil
		return nil
	case []byte:
		return json.Unmarshal(v, (*[]string)(p))
	case string:
		return json.Unmarshal([]byte(v), (*[]string)(p))
	default:
		return fmt.Errorf("participants: unsupported column type %T", src)
	}
}

// Location is an optional 2D world coordinate, stored as JSON.
type Location struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (l Location) Value() (driver.Value, error) {
	data, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (l *Location) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("location: unsupported column type %T", src)
	}
}

// MemoryRecord is one remembered experience, the database model for the
// memories table. Records are immutable after creation except for
// EmbeddingID, which is assigned once the semantic index accepts the record.
type MemoryRecord struct {
	ID           uint         `gorm:"primaryKey" json:"id"`
	AgentName    string       `gorm:"index;not null" json:"agent_name"`
	MemoryType   MemoryType   `gorm:"not null" json:"memory_type"`
	Content      string       `gorm:"not null" json:"content"`
	Timestamp    time.Time    `gorm:"index;not null" json:"timestamp"`
	Participants Participants `gorm:"type:text" json:"participants"`
	Emotion      string       `json:"emotion"`
	Location     *Location    `gorm:"type:text" json:"location,omitempty"`
	Importance   *float64     `gorm:"default:0.5" json:"importance,omitempty"`
	EmbeddingID  string       `json:"embedding_id,omitempty"`
}

func (MemoryRecord) TableName() string { return "memories" }

// ImportanceValue returns the record's importance, or the neutral default
// when the caller left it unset. A pointer distinguishes an unset field from
// a deliberate 0.0.
func (m *MemoryRecord) ImportanceValue() float64 {
	if m.Importance == nil {
		return 0.5
	}
	return *m.Importance
}

// Float returns a pointer to v, for optional fields like Importance.
func Float(v float64) *float64 { return &v }

// RelationshipEdge is the single canonical row for an unordered agent pair.
// AgentA sorts lexically before AgentB.
type RelationshipEdge struct {
	ID               uint      `gorm:"primaryKey" json:"-"`
	AgentA           string    `gorm:"uniqueIndex:idx_rel_pair;not null" json:"agent_a"`
	AgentB           string    `gorm:"uniqueIndex:idx_rel_pair;not null" json:"agent_b"`
	Value            float64   `gorm:"default:0.5" json:"value"`
	LastInteraction  time.Time `json:"last_interaction"`
	InteractionCount int       `json:"interaction_count"`
}

func (RelationshipEdge) TableName() string { return "relationships" }

// NeutralRelationship is the value reported for pairs with no stored edge.
const NeutralRelationship = 0.5

// CanonicalPair orders two agent names so every unordered pair maps to one row.
func CanonicalPair(a, b string) (string, string) {
	if a <= b {
		return a, b
	}
	return b, a
}

// SortedNeeds returns need names in deterministic order.
func SortedNeeds(needs map[string]float64) []string {
	keys := make([]string, 0, len(needs))
	for k := range needs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
