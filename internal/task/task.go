// Package task defines the central records the worker pipeline operates on:
// tasks, the worker nodes that execute them, and the append-only log.
package task

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Task. Completed and Failed are
// terminal: once reached, a task never transitions again.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether s is a terminal status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// MaxAttempts caps the attempt count: the failed execution that brings
// Attempts to MaxAttempts forces the task into StatusFailed.
const MaxAttempts = 5

// DefaultPriority is used when a submission omits a priority.
const DefaultPriority = 5

// Task is the central record of the queue: what was requested, how far
// along it is, and how many times it has been attempted.
type Task struct {
	ID        uuid.UUID
	TaskType  string // "email" | "image" | "video"
	Payload   json.RawMessage
	Status    Status
	Priority  int // 0-255, higher dispatches earlier
	Progress  int // 0-100, monotonically non-decreasing within one execution
	Attempts  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WorkerNode is an external worker process identified by a string ID. It
// owns at most one executing task at a time from the store's perspective.
type WorkerNode struct {
	NodeID          string
	Status          string
	LastHealthCheck time.Time
	CurrentTaskID   *uuid.UUID
}

// LogEntry is an append-only record written by a worker. Never mutated.
type LogEntry struct {
	Timestamp    time.Time
	WorkerNodeID string
	Message      string
}

// Message is the wire shape of a task as carried by the broker: the
// minimal fields a worker needs to decide how and whether to run it.
type Message struct {
	TaskID   string          `json:"task_id"`
	TaskType string          `json:"task_type"`
	Payload  json.RawMessage `json:"payload"`
	Priority *int            `json:"priority,omitempty"`
}

// UnmarshalJSON decodes a broker message with a lenient priority field: a
// priority that is present but not a non-negative whole JSON integer is
// treated as absent, so a bad priority never turns an otherwise valid
// message into a poison pill. Only malformed JSON bodies return an error.
func (m *Message) UnmarshalJSON(b []byte) error {
	var raw struct {
		TaskID   string          `json:"task_id"`
		TaskType string          `json:"task_type"`
		Payload  json.RawMessage `json:"payload"`
		Priority json.RawMessage `json:"priority"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	m.TaskID = raw.TaskID
	m.TaskType = raw.TaskType
	m.Payload = raw.Payload
	m.Priority = nil
	if len(raw.Priority) > 0 && string(raw.Priority) != "null" {
		var p int
		if err := json.Unmarshal(raw.Priority, &p); err == nil && p >= 0 {
			m.Priority = &p
		}
	}
	return nil
}

// PriorityOrDefault returns the message's declared priority, or
// DefaultPriority when absent.
func (m Message) PriorityOrDefault() int {
	if m.Priority == nil {
		return DefaultPriority
	}
	return *m.Priority
}
