package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event kinds emitted by the engine. Detector kinds match one of the six
// anomaly rules; lifecycle kinds record registry transitions.
const (
	EventGhostAncestry         = "ghost_ancestry"
	EventExcessChildren        = "excess_children"
	EventDeepChain             = "deep_chain"
	EventHighSpawnRate         = "high_spawn_rate"
	EventUnauthorizedElevation = "unauthorized_elevation"
	EventPriorityChange        = "priority_change"
	EventOwnerChange           = "owner_change"

	EventProcessCreated  = "process_created"
	EventProcessEnded    = "process_ended"
	EventRegistryWarning = "registry_warning"
)

// Event is one structured alert or lifecycle record, serialized as a
// single NDJSON line by the structured sink.
type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Kind      string                 `json:"kind"`
	PID       int32                  `json:"pid"`
	Name      string                 `json:"name"`
	Attrs     map[string]interface{} `json:"attrs,omitempty"`
}

// NewEvent creates an event with a fresh ID and an empty attribute map.
func NewEvent(kind string, ts time.Time, pid int32, name string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: ts,
		Kind:      kind,
		PID:       pid,
		Name:      name,
		Attrs:     make(map[string]interface{}),
	}
}

// AddAttr attaches a kind-specific attribute to the event.
func (e *Event) AddAttr(key string, value interface{}) *Event {
	e.Attrs[key] = value
	return e
}
