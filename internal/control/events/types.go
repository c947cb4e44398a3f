// Package events defines the event types, constants and payload structures
// published by the control plane.
package events

import "time"

// Provisioning task lifecycle events
const (
	EventTaskStarted   = "task.started"
	EventTaskProgress  = "task.progress"
	EventTaskCompleted = "task.completed"
	EventTaskFailed    = "task.failed"
)

// Server lifecycle events
const (
	EventServerStatusChanged = "server.status.changed"
	EventServerRegistered    = "server.registered"
)

// Certificate lifecycle events
const (
	EventClientCreated = "client.created"
	EventClientRevoked = "client.revoked"
)

// TaskStartedEvent marks the beginning of a provisioning task
type TaskStartedEvent struct {
	TaskID    string    `json:"task_id"`
	ServerID  int64     `json:"server_id"`
	Command   string    `json:"command"`
	Timestamp time.Time `json:"timestamp"`
}

// TaskProgressEvent carries a progress checkpoint from a running task
type TaskProgressEvent struct {
	TaskID    string    `json:"task_id"`
	ServerID  int64     `json:"server_id"`
	Command   string    `json:"command"`
	Progress  int       `json:"progress"` // 0 to 100
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// TaskCompletedEvent marks successful completion of a task
type TaskCompletedEvent struct {
	TaskID    string        `json:"task_id"`
	ServerID  int64         `json:"server_id"`
	Command   string        `json:"command"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// TaskFailedEvent marks a failed task
type TaskFailedEvent struct {
	TaskID    string    `json:"task_id"`
	ServerID  int64     `json:"server_id"`
	Command   string    `json:"command"`
	Error     string    `json:"error"`
	Progress  int       `json:"progress"`
	Timestamp time.Time `json:"timestamp"`
}

// ServerStatusChangedEvent represents a server status transition
type ServerStatusChangedEvent struct {
	ServerID       int64     `json:"server_id"`
	PreviousStatus string    `json:"previous_status"`
	NewStatus      string    `json:"new_status"`
	Reason         string    `json:"reason,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// ServerRegisteredEvent marks a newly registered server
type ServerRegisteredEvent struct {
	ServerID  int64     `json:"server_id"`
	Name      string    `json:"name"`
	Host      string    `json:"host"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientCreatedEvent marks a newly issued client certificate
type ClientCreatedEvent struct {
	ServerID  int64     `json:"server_id"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientRevokedEvent marks a revoked client certificate
type ClientRevokedEvent struct {
	ServerID  int64     `json:"server_id"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
}
