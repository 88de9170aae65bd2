// Package dispatch implements the Lifecycle Dispatcher (C9): fan-out of
// execution and tool-call lifecycle events to observability subscribers.
// Dispatch is fire-and-forget and can never affect an execution's outcome.
package dispatch

import (
	"encoding/json"
	"time"
)

// Event kinds, matching the Sandbox Orchestrator's lifecycle points.
const (
	KindExecutionStarted   = "execution.started"
	KindExecutionCompleted = "execution.completed"
	KindExecutionFailed    = "execution.failed"
	KindToolCallRequested  = "tool_call.requested"
	KindToolCallCompleted  = "tool_call.completed"
	KindToolCallFailed     = "tool_call.failed"
)

// LifecycleEvent is the envelope dispatched to every subscriber.
type LifecycleEvent struct {
	EventID     string          `json:"eventId"`
	ExecutionID string          `json:"executionId"`
	OccurredAt  time.Time       `json:"occurredAt"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}
