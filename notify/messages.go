// Package notify defines the broadcast message vocabulary shared by the
// workflow engine and the WebSocket hub. Phases publish through the
// Publisher interface; the hub fans messages out to connected sessions.
package notify

import (
	"encoding/json"
	"time"
)

// Message types sent from server to clients.
const (
	TypePong            = "pong"
	TypeError           = "error"
	TypeTriggerResponse = "trigger_response"
	TypeStatusUpdate    = "status_update"
	TypeWorkflowLog     = "workflow_log"
	TypeStateChange     = "state_change"
	TypeWorktreeDeleted = "worktree_deleted"
)

// Message types received from clients.
const (
	TypePing            = "ping"
	TypeTriggerWorkflow = "trigger_workflow"
	TypeDeleteADW       = "delete_adw"
)

// Log levels carried by workflow_log messages.
const (
	LevelDebug   = "debug"
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelWarn    = "warn"
	LevelError   = "error"
)

// Message is the wire envelope for every frame in both directions.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewMessage marshals data into a Message envelope. Marshal failures are
// programming errors (all payloads are plain structs) and yield an empty
// data field rather than a panic.
func NewMessage(msgType string, data any) Message {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = nil
	}
	return Message{Type: msgType, Data: raw}
}

// StatusUpdate reports phase progress for one run.
type StatusUpdate struct {
	RunID       string `json:"run_id"`
	Phase       string `json:"phase"`
	Status      string `json:"status"` // started, running, completed, failed
	Progress    int    `json:"progress"`
	CurrentStep string `json:"current_step,omitempty"`
	Message     string `json:"message,omitempty"`
	Timestamp   string `json:"timestamp"`
}

// Statuses carried by StatusUpdate.
const (
	StatusStarted   = "started"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// WorkflowLog is one log line from a run, forwarded live to subscribers.
type WorkflowLog struct {
	RunID           string          `json:"run_id"`
	Phase           string          `json:"phase"`
	Timestamp       string          `json:"timestamp"`
	Level           string          `json:"level"`
	Message         string          `json:"message"`
	CurrentStep     string          `json:"current_step,omitempty"`
	ProgressPercent *int            `json:"progress_percent,omitempty"`
	Raw             json.RawMessage `json:"raw,omitempty"`
}

// StateChange carries a full state snapshot plus the names of the fields
// that changed since the previous persist.
type StateChange struct {
	RunID         string          `json:"run_id"`
	PhaseMarker   string          `json:"phase_marker,omitempty"`
	ChangedFields []string        `json:"changed_fields"`
	Snapshot      json.RawMessage `json:"snapshot"`
	Timestamp     string          `json:"timestamp"`
}

// TriggerResponse acknowledges a trigger_workflow request.
type TriggerResponse struct {
	RunID        string `json:"run_id"`
	WorkflowType string `json:"workflow_type"`
	Accepted     bool   `json:"accepted"`
	Message      string `json:"message,omitempty"`
}

// WorktreeDeleted announces that a run was fully torn down.
type WorktreeDeleted struct {
	RunID     string `json:"run_id"`
	Timestamp string `json:"timestamp"`
}

// Pong answers a client ping.
type Pong struct {
	Timestamp string `json:"timestamp"`
}

// ErrorData reports a malformed or rejected client request.
type ErrorData struct {
	Message string `json:"message"`
}

// TriggerRequest is the payload of a trigger_workflow message.
type TriggerRequest struct {
	WorkflowType  string          `json:"workflow_type"`
	RunID         string          `json:"run_id,omitempty"`
	IssueNumber   string          `json:"issue_number,omitempty"`
	ModelSet      string          `json:"model_set,omitempty"`
	TriggerReason string          `json:"trigger_reason,omitempty"`
	BoardData     json.RawMessage `json:"board_data,omitempty"`
}

// DeleteRequest is the payload of a delete_adw control message.
type DeleteRequest struct {
	RunID string `json:"run_id"`
}

// Publisher is the outbound half of the hub as seen by the engine.
// Implementations must not block the caller; slow consumers are the
// hub's problem, not the publisher's.
type Publisher interface {
	Publish(msg Message)
}

// NopPublisher discards everything. Used when running phases from the
// CLI without a hub attached.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(Message) {}

// Now returns the wall clock formatted the way every broadcast expects.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
