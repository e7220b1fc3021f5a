package domain

import "encoding/json"

const (
	OrderCreated     = "order-created"
	OrderUpdated     = "order-updated"
	OrderDeleted     = "order-deleted"
	StageChanged     = "stage-changed"
	AggregateChanged = "aggregate-changed"
)

// Event is a change notification published after the order pool mutates.
// Consumers treat every event type as a re-synchronization trigger and do
// not patch state from the payload: the payload is narrower than the full
// order shape and would leave derived fields stale.
type Event struct {
	EntityID   string          `json:"EntityId"`
	EntityType string          `json:"EntityType"`
	Type       string          `json:"Type"`
	Data       json.RawMessage `json:"Data,omitempty"`
	Timestamp  int64           `json:"Timestamp"`
}

// StageChangedEventData is the payload carried by stage-changed events.
type StageChangedEventData struct {
	From Stage `json:"from"`
	To   Stage `json:"to"`
}
