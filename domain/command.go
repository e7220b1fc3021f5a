package domain

// Command represents a stage-change request for the order service.
type Command struct {
	// ID carries the idempotency key when enqueued to the transition queue.
	ID             string `json:"id,omitempty"`
	IdempotencyKey string `json:"idempotencyKey"`
	OrderID        string `json:"orderId"`
	FromStage      Stage  `json:"fromStage"`
	ToStage        Stage  `json:"toStage"`
	Timestamp      int64  `json:"timestamp"`
}

// CommandEnvelope wraps a command with the user performing it.
type CommandEnvelope struct {
	UserID  string  `json:"userId"`
	Command Command `json:"command"`
}
